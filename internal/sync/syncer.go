// Package sync pulls messages from the mailbox provider, classifies them
// and stores them, on demand and on a fixed interval.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mondzorg/inbox/internal/classify"
	"github.com/mondzorg/inbox/internal/logger"
	"github.com/mondzorg/inbox/internal/model"
	"github.com/mondzorg/inbox/internal/source"
	"github.com/mondzorg/inbox/internal/source/email"
	"github.com/mondzorg/inbox/internal/store"
)

const (
	defaultMaxResults = 100

	// fetchTimeout bounds one provider call for a single message.
	fetchTimeout = 30 * time.Second
)

// Authenticator is the part of the token manager the orchestrator needs.
type Authenticator interface {
	EnsureFresh(ctx context.Context)
	IsAuthenticated() bool
}

// Classifier assigns a category to message text. It never fails.
type Classifier interface {
	Classify(ctx context.Context, in classify.Input, useAI bool) classify.Result
}

// ItemResult describes one successfully stored message.
type ItemResult struct {
	ProviderID string          `json:"providerId"`
	ID         int64           `json:"id"`
	WasUpdate  bool            `json:"wasUpdate"`
	Category   model.Category  `json:"category"`
	Urgency    model.Urgency   `json:"urgency"`
	Method     classify.Method `json:"method"`
}

// Result summarises one sync run. Count only includes messages that were
// stored; Skipped counts per-message failures.
type Result struct {
	RunID      string       `json:"runId"`
	Count      int          `json:"count"`
	Skipped    int          `json:"skipped"`
	Items      []ItemResult `json:"items"`
	DurationMS int64        `json:"durationMs"`
}

// Options configures a Syncer.
type Options struct {
	// Query is used when Sync is called with an empty query.
	Query      string
	MaxResults int
}

// Syncer runs one ingestion pass. Messages within a pass are processed
// sequentially in listing order.
type Syncer struct {
	auth       Authenticator
	provider   source.Provider
	store      store.Store
	classifier Classifier
	query      string
	maxResults int
}

// NewSyncer wires the orchestrator to its collaborators.
func NewSyncer(
	auth Authenticator,
	provider source.Provider,
	s store.Store,
	classifier Classifier,
	opts Options,
) *Syncer {
	if opts.Query == "" {
		opts.Query = model.DefaultSyncQuery
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = defaultMaxResults
	}
	return &Syncer{
		auth:       auth,
		provider:   provider,
		store:      s,
		classifier: classifier,
		query:      opts.Query,
		maxResults: opts.MaxResults,
	}
}

// Sync lists messages matching query and ingests each one. It fails only
// when the mailbox is not authenticated or listing fails; per-message
// errors are logged and skipped.
func (s *Syncer) Sync(ctx context.Context, query string, useAI bool) (*Result, error) {
	if query == "" {
		query = s.query
	}

	runID := uuid.NewString()
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "sync", SyncRun: &runID})

	span := logger.StartSpan(ctx, "sync.run")
	defer span.End()
	ctx = span.Context()

	s.auth.EnsureFresh(ctx)
	if !s.auth.IsAuthenticated() {
		err := &source.AuthError{
			Provider: s.provider.Type(),
			Message:  "mailbox is not connected",
		}
		span.RecordError(err)
		return nil, err
	}

	start := time.Now()
	ids, err := s.provider.List(ctx, query, s.maxResults)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	slog.InfoContext(ctx, "sync started",
		"query", query, "candidates", len(ids), "use_ai", useAI)

	result := &Result{RunID: runID, Items: make([]ItemResult, 0, len(ids))}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			slog.WarnContext(ctx, "sync interrupted", "error", err)
			break
		}

		item, err := s.Ingest(ctx, id, useAI)
		if err != nil {
			result.Skipped++
			slog.ErrorContext(ctx, "skipping message",
				"provider_id", id, "error", err)
			continue
		}
		result.Items = append(result.Items, *item)
	}

	result.Count = len(result.Items)
	result.DurationMS = time.Since(start).Milliseconds()
	slog.InfoContext(ctx, "sync finished",
		"count", result.Count,
		"skipped", result.Skipped,
		"duration_ms", result.DurationMS)
	return result, nil
}

// Ingest fetches, extracts, classifies and stores one provider message.
func (s *Syncer) Ingest(ctx context.Context, providerID string, useAI bool) (*ItemResult, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{ProviderID: &providerID})

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	msg, err := s.provider.Get(fetchCtx, providerID)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", providerID, err)
	}

	rec := email.NewRecord(msg)
	verdict := s.classifier.Classify(ctx, classify.Input{
		Sender:  rec.Sender,
		Subject: rec.Subject,
		Body:    rec.PlainText,
	}, useAI)
	ApplyClassification(rec, verdict)
	rec.Normalize(email.HTMLToText)

	res, err := s.store.Upsert(ctx, rec)
	if err != nil {
		return nil, err
	}

	slog.DebugContext(ctx, "message stored",
		"id", res.ID,
		"was_update", res.WasUpdate,
		"category", rec.Category,
		"method", verdict.Method)

	return &ItemResult{
		ProviderID: providerID,
		ID:         res.ID,
		WasUpdate:  res.WasUpdate,
		Category:   rec.Category,
		Urgency:    rec.Urgency,
		Method:     verdict.Method,
	}, nil
}

// ApplyClassification copies a classifier verdict onto a record.
func ApplyClassification(rec *model.Message, r classify.Result) {
	rec.Category = r.Category
	rec.Urgency = r.Urgency
	rec.Priority = r.Urgency
	rec.ExtractedInfo = r.ExtractedInfo
	rec.SuggestedResponse = r.SuggestedResponse
}
