package store

import (
	"context"
	"errors"

	"github.com/mondzorg/inbox/internal/model"
)

var (
	// ErrNotFound is returned when no message has the requested id.
	ErrNotFound = errors.New("message not found")

	// ErrEmptyPatch is returned when a patch sets no fields.
	ErrEmptyPatch = errors.New("patch has no fields")

	// ErrNoProviderID is returned by Upsert for records without a
	// provider id; those go through CreateSubmission instead.
	ErrNoProviderID = errors.New("message has no provider id")
)

// UpsertResult reports which row an Upsert touched.
type UpsertResult struct {
	ID        int64
	WasUpdate bool
}

// Store defines the persistence interface for message records.
type Store interface {
	// Upsert inserts a provider message or refreshes the existing record
	// with the same provider id, keeping its id and UI-owned fields.
	Upsert(ctx context.Context, msg *model.Message) (UpsertResult, error)

	// CreateSubmission inserts a record that did not come from the
	// mailbox provider, such as a contact form entry.
	CreateSubmission(ctx context.Context, msg *model.Message) (int64, error)

	Get(ctx context.Context, id int64) (*model.Message, error)
	GetByProviderID(ctx context.Context, providerID string) (*model.Message, error)
	List(ctx context.Context, filter model.MessageFilter) ([]model.Message, error)

	Patch(ctx context.Context, id int64, patch model.MessagePatch) error
	BulkPatch(ctx context.Context, ids []int64, patch model.MessagePatch) (int64, error)

	Stats(ctx context.Context) (*model.MessageStats, error)
}
