// Package testutil holds shared helpers for package tests.
package testutil

import (
	"testing"
	"time"

	"github.com/mondzorg/inbox/internal/model"
	"github.com/mondzorg/inbox/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// ProviderMessage returns a minimal unread provider message for seeding.
func ProviderMessage(providerID, subject string) *model.Message {
	return &model.Message{
		ProviderID: &providerID,
		Sender:     "patient@example.nl",
		Subject:    subject,
		Timestamp:  time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
		PlainText:  "Goedemorgen, " + subject,
		Category:   model.CategoryGeneral,
		Urgency:    model.UrgencyMedium,
		Source:     model.SourceEmail,
	}
}
