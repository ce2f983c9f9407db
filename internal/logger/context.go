package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields are attached to every record logged with a context that
// carries them.
type LogFields struct {
	Component  string  // e.g. "sync.poller"
	SyncRun    *string // identifier of the sync run in progress
	ProviderID *string // mailbox provider message id
	MessageID  *int64  // local store id
}

// WithLogFields enriches ctx with fields. Newer non-empty values win over
// values already present.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	merged := mergeFields(GetLogFields(ctx), fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields returns the fields carried by ctx, or the zero value.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing
	if next.Component != "" {
		result.Component = next.Component
	}
	if next.SyncRun != nil {
		result.SyncRun = next.SyncRun
	}
	if next.ProviderID != nil {
		result.ProviderID = next.ProviderID
	}
	if next.MessageID != nil {
		result.MessageID = next.MessageID
	}
	return result
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// Truncate shortens s to at most maxLen characters, appending "..." when
// cut. Multi-byte characters are never split.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	count := 0
	for i := range s {
		if count == maxLen {
			return s[:i] + "..."
		}
		count++
	}
	return s
}
