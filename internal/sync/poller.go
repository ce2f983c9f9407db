package sync

import (
	"context"
	"errors"
	"log/slog"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mondzorg/inbox/internal/logger"
)

const defaultInterval = 5 * time.Minute

// ErrSyncInProgress is returned when a sync is requested while another
// one started by the poller is still running.
var ErrSyncInProgress = errors.New("sync already in progress")

// Status reports what the poller has done so far.
type Status struct {
	Scheduled  bool      `json:"scheduled"`
	InProgress bool      `json:"inProgress"`
	Interval   string    `json:"interval"`
	LastRun    time.Time `json:"lastRun,omitzero"`
	LastCount  int       `json:"lastCount"`
	LastError  string    `json:"lastError,omitempty"`
}

// PollerOptions configures a Poller.
type PollerOptions struct {
	Interval time.Duration
	Query    string
	UseAI    bool
}

// Poller runs the Syncer on a fixed interval and on demand. Every tick
// re-checks authentication and does nothing while the mailbox is not
// connected. A tick that would overlap a running sync is skipped.
type Poller struct {
	syncer   *Syncer
	auth     Authenticator
	interval time.Duration
	query    string
	useAI    bool

	inProgress atomic.Bool
	wg         gosync.WaitGroup

	mu     gosync.Mutex
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	status Status
}

// NewPoller creates a stopped poller.
func NewPoller(syncer *Syncer, auth Authenticator, opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	return &Poller{
		syncer:   syncer,
		auth:     auth,
		interval: opts.Interval,
		query:    opts.Query,
		useAI:    opts.UseAI,
		status:   Status{Interval: opts.Interval.String()},
	}
}

// Start schedules the interval sync. Calling Start twice is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cron != nil {
		return
	}

	p.ctx, p.cancel = context.WithCancel(
		logger.WithLogFields(ctx, logger.LogFields{Component: "sync.poller"}))

	cl := cronLogger{}
	p.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	p.cron.Schedule(cron.Every(p.interval), cron.FuncJob(p.tick))
	p.cron.Start()
	p.status.Scheduled = true

	slog.InfoContext(p.ctx, "poller started", "interval", p.interval)
}

// Stop removes the schedule, waits for running syncs to finish and then
// cancels the poller context.
func (p *Poller) Stop() {
	p.mu.Lock()
	c := p.cron
	cancel := p.cancel
	p.cron = nil
	p.status.Scheduled = false
	p.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	p.wg.Wait()
	cancel()
	slog.Info("poller stopped")
}

// Trigger starts a one-shot background sync, used right after the
// mailbox has been connected.
func (p *Poller) Trigger() {
	p.mu.Lock()
	ctx := p.ctx
	p.mu.Unlock()
	if ctx == nil {
		ctx = logger.WithLogFields(context.Background(), logger.LogFields{Component: "sync.poller"})
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if _, err := p.run(ctx, p.query, p.useAI); err != nil && !errors.Is(err, ErrSyncInProgress) {
			slog.WarnContext(ctx, "triggered sync failed", "error", err)
		}
	}()
}

// SyncNow runs a sync in the caller's goroutine and records its outcome.
// Unlike ticks it does not wait for or skip around a running sync; the
// store's per-message upsert keeps overlapping runs consistent.
func (p *Poller) SyncNow(ctx context.Context, query string, useAI bool) (*Result, error) {
	result, err := p.syncer.Sync(ctx, query, useAI)
	p.record(result, err)
	return result, err
}

// Status returns a snapshot of the poller state.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.status
	st.InProgress = p.inProgress.Load()
	return st
}

func (p *Poller) tick() {
	p.mu.Lock()
	ctx := p.ctx
	p.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	if !p.auth.IsAuthenticated() {
		slog.DebugContext(ctx, "skipping scheduled sync, mailbox not connected")
		return
	}

	if _, err := p.run(ctx, p.query, p.useAI); err != nil && !errors.Is(err, ErrSyncInProgress) {
		slog.WarnContext(ctx, "scheduled sync failed", "error", err)
	}
}

// run executes one guarded sync.
func (p *Poller) run(ctx context.Context, query string, useAI bool) (*Result, error) {
	if !p.inProgress.CompareAndSwap(false, true) {
		slog.DebugContext(ctx, "sync already running, skipping")
		return nil, ErrSyncInProgress
	}
	defer p.inProgress.Store(false)

	result, err := p.syncer.Sync(ctx, query, useAI)
	p.record(result, err)
	return result, err
}

func (p *Poller) record(result *Result, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status.LastRun = time.Now()
	if err != nil {
		p.status.LastError = err.Error()
		p.status.LastCount = 0
		return
	}
	p.status.LastError = ""
	p.status.LastCount = result.Count
}

// cronLogger routes cron's own logging through slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
