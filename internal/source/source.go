package source

import (
	"context"
	"errors"
	"fmt"
)

// ProviderType identifies the kind of mailbox backend.
type ProviderType string

const (
	ProviderTypeGmail ProviderType = "gmail"
	ProviderTypeIMAP  ProviderType = "imap"
)

// Well-known label identifiers. IMAP providers translate them to flags
// and folders.
const (
	LabelUnread  = "UNREAD"
	LabelInbox   = "INBOX"
	LabelStarred = "STARRED"
)

// AuthError indicates that the mailbox is not authenticated or that the
// provider rejected the credentials.
type AuthError struct {
	Provider ProviderType
	Message  string
}

func (e *AuthError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("auth error: %s", e.Message)
	}
	return fmt.Sprintf("auth error (%s): %s", e.Provider, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// ConfigError indicates that the OAuth client descriptor or another
// required setting is missing or malformed.
type ConfigError struct {
	Setting string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("config error: %s", e.Setting)
	}
	return fmt.Sprintf("config error (%s): %v", e.Setting, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err (or any error in its chain) is a
// ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

// ErrMessageNotFound is returned by providers when a message or attachment
// id is unknown.
var ErrMessageNotFound = errors.New("message not found")

// Provider is the contract every mailbox backend implements. All calls
// block on network I/O and honor ctx cancellation.
type Provider interface {
	// Type returns the provider type identifier.
	Type() ProviderType

	// List returns the ids of messages matching query, newest first,
	// at most maxResults of them.
	List(ctx context.Context, query string, maxResults int) ([]string, error)

	// Get retrieves the full message, including its part tree.
	Get(ctx context.Context, id string) (*Message, error)

	// Modify adds and removes labels on a message.
	Modify(
		ctx context.Context,
		id string,
		add []string,
		remove []string,
	) error

	// Send transmits a raw RFC 5322 message, optionally in threadID,
	// and returns the provider id of the sent message.
	Send(ctx context.Context, raw []byte, threadID string) (string, error)

	// GetAttachment returns the decoded bytes of one attachment.
	GetAttachment(
		ctx context.Context,
		messageID string,
		attachmentID string,
	) ([]byte, error)
}
