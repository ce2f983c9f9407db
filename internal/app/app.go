// Package app wires the configured components into a running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mondzorg/inbox/internal/classify"
	"github.com/mondzorg/inbox/internal/credential"
	"github.com/mondzorg/inbox/internal/http/handler"
	"github.com/mondzorg/inbox/internal/http/middleware"
	"github.com/mondzorg/inbox/internal/http/router"
	"github.com/mondzorg/inbox/internal/inbox"
	"github.com/mondzorg/inbox/internal/model"
	"github.com/mondzorg/inbox/internal/source"
	"github.com/mondzorg/inbox/internal/store"
	inboxsync "github.com/mondzorg/inbox/internal/sync"
)

// App holds the long-lived components of the service.
type App struct {
	Config     *model.AppConfig
	Store      *store.SQLiteStore
	Auth       *credential.Manager
	Provider   source.Provider
	Classifier *classify.Classifier
	Syncer     *inboxsync.Syncer
	Poller     *inboxsync.Poller
	Inbox      *inbox.Service
}

// New opens the store, loads OAuth state and builds every component. A
// missing OAuth client descriptor is logged, not fatal: the API still
// serves stored messages and reports the mailbox as unconfigured.
func New(ctx context.Context, cfg *model.AppConfig) (*App, error) {
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	tokens, err := newTokenStore(cfg.Mailbox)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	auth := credential.NewManager(cfg.Mailbox.CredentialsPath, tokens)
	if ok, err := auth.Initialize(ctx); !ok {
		slog.WarnContext(ctx, "mailbox not configured", "error", err)
	}

	provider, err := newProvider(ctx, cfg.Mailbox, auth)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	classifier := newClassifier(cfg.AI)
	syncer := inboxsync.NewSyncer(auth, provider, st, classifier, inboxsync.Options{
		Query:      cfg.Mailbox.Query,
		MaxResults: cfg.Mailbox.MaxResults,
	})

	return &App{
		Config:     cfg,
		Store:      st,
		Auth:       auth,
		Provider:   provider,
		Classifier: classifier,
		Syncer:     syncer,
		Poller: inboxsync.NewPoller(syncer, auth, inboxsync.PollerOptions{
			Interval: cfg.Sync.Interval,
			Query:    cfg.Mailbox.Query,
			UseAI:    cfg.Sync.UseAI,
		}),
		Inbox: inbox.NewService(auth, provider, st, classifier, cfg.Mailbox.Address),
	}, nil
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}

// Router builds the gin engine with every API route.
func (a *App) Router() *gin.Engine {
	if a.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())

	router.SetupRoutes(r, router.Handlers{
		Mailbox:     handler.NewMailboxHandler(a.Auth, a.Poller, a.Inbox),
		Submissions: handler.NewSubmissionHandler(a.Inbox, a.Store),
	})
	return r
}

// Serve starts the poller and the HTTP server and blocks until ctx is
// cancelled, then shuts both down.
func (a *App) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Config.HTTP.Port),
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	a.Poller.Start(ctx)
	if a.Auth.IsAuthenticated() {
		a.Poller.Trigger()
	} else {
		slog.InfoContext(ctx, "mailbox not connected, use /api/mailbox/auth-url to connect")
	}

	errCh := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "http server starting", "port", a.Config.HTTP.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	slog.InfoContext(ctx, "shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}
	a.Poller.Stop()

	slog.InfoContext(shutdownCtx, "shutdown complete")
	return serveErr
}

func newTokenStore(cfg model.MailboxConfig) (credential.TokenStore, error) {
	switch cfg.TokenBackend {
	case "", "file":
		return credential.NewFileTokenStore(cfg.TokenPath), nil
	case "keyring":
		ks, err := credential.NewKeyringTokenStore(filepath.Dir(cfg.TokenPath))
		if err != nil {
			return nil, fmt.Errorf("opening keyring: %w", err)
		}
		return ks, nil
	default:
		return nil, &source.ConfigError{
			Setting: "mailbox.token_backend",
			Err:     fmt.Errorf("unknown backend %q", cfg.TokenBackend),
		}
	}
}
