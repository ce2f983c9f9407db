// Package gmail implements source.Provider on the Gmail REST API.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/mondzorg/inbox/internal/source"
)

const user = "me"

// maxDepth bounds the copied part tree.
const maxDepth = 64

// Scopes are the OAuth scopes the provider needs: read, label changes
// and sending.
var Scopes = []string{
	gmail.GmailReadonlyScope,
	gmail.GmailModifyScope,
	gmail.GmailSendScope,
}

// Provider talks to one Gmail mailbox. Calls go through a circuit
// breaker that opens on repeated server-side failures.
type Provider struct {
	svc *gmail.Service
	cb  *gobreaker.CircuitBreaker
}

// New creates a provider authenticating with ts. Extra client options
// (endpoint, HTTP client) are passed through to the API client.
func New(
	ctx context.Context,
	ts oauth2.TokenSource,
	opts ...option.ClientOption,
) (*Provider, error) {
	opts = append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}

	settings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	}

	return &Provider{svc: svc, cb: gobreaker.NewCircuitBreaker(settings)}, nil
}

// Type returns ProviderTypeGmail.
func (p *Provider) Type() source.ProviderType {
	return source.ProviderTypeGmail
}

// List returns the ids of messages matching query.
func (p *Provider) List(
	ctx context.Context, query string, maxResults int,
) ([]string, error) {
	var resp *gmail.ListMessagesResponse
	err := p.execute(ctx, "list", func() error {
		call := p.svc.Users.Messages.List(user).Q(query).Context(ctx)
		if maxResults > 0 {
			call = call.MaxResults(int64(maxResults))
		}
		var err error
		resp, err = call.Do()
		return err
	})
	if err != nil {
		return nil, p.wrapError(err, "listing messages")
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

// Get retrieves the full message and its part tree.
func (p *Provider) Get(
	ctx context.Context, id string,
) (*source.Message, error) {
	var msg *gmail.Message
	err := p.execute(ctx, "get", func() error {
		var err error
		msg, err = p.svc.Users.Messages.Get(user, id).Format("full").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, p.wrapError(err, "getting message "+id)
	}

	return &source.Message{
		ID:           msg.Id,
		ThreadID:     msg.ThreadId,
		LabelIDs:     msg.LabelIds,
		Payload:      convertPart(msg.Payload, 0),
		InternalDate: time.UnixMilli(msg.InternalDate).UTC(),
	}, nil
}

// Modify adds and removes labels on a message.
func (p *Provider) Modify(
	ctx context.Context,
	id string,
	add []string,
	remove []string,
) error {
	req := &gmail.ModifyMessageRequest{
		AddLabelIds:    add,
		RemoveLabelIds: remove,
	}
	err := p.execute(ctx, "modify", func() error {
		_, err := p.svc.Users.Messages.Modify(user, id, req).Context(ctx).Do()
		return err
	})
	if err != nil {
		return p.wrapError(err, "modifying labels of "+id)
	}
	return nil
}

// Send transmits a raw RFC 5322 message in threadID.
func (p *Provider) Send(
	ctx context.Context, raw []byte, threadID string,
) (string, error) {
	msg := &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		ThreadId: threadID,
	}

	var sent *gmail.Message
	err := p.execute(ctx, "send", func() error {
		var err error
		sent, err = p.svc.Users.Messages.Send(user, msg).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", p.wrapError(err, "sending message")
	}
	return sent.Id, nil
}

// GetAttachment fetches and decodes one attachment.
func (p *Provider) GetAttachment(
	ctx context.Context, messageID, attachmentID string,
) ([]byte, error) {
	var att *gmail.MessagePartBody
	err := p.execute(ctx, "attachment", func() error {
		var err error
		att, err = p.svc.Users.Messages.Attachments.Get(user, messageID, attachmentID).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, p.wrapError(err, "getting attachment "+attachmentID)
	}

	data, err := base64.URLEncoding.DecodeString(att.Data)
	if err != nil {
		data, err = base64.RawURLEncoding.DecodeString(att.Data)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding attachment %s: %w", attachmentID, err)
	}
	return data, nil
}

// BreakerState reports the circuit breaker state for status output.
func (p *Provider) BreakerState() string {
	return p.cb.State().String()
}

// execute runs fn through the circuit breaker. Client errors are passed
// through without counting as breaker failures.
func (p *Provider) execute(
	ctx context.Context, operation string, fn func() error,
) error {
	_, err := p.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) {
				switch apiErr.Code {
				case http.StatusBadRequest, http.StatusUnauthorized,
					http.StatusForbidden, http.StatusNotFound:
					return nil, &nonCircuitError{err: err}
				}
			}
			return nil, err
		}
		return nil, nil
	})

	var nce *nonCircuitError
	if errors.As(err, &nce) {
		return nce.err
	}

	if err != nil {
		slog.WarnContext(ctx, "gmail call failed",
			"operation", operation, "breaker", p.cb.State().String(), "error", err)
	}
	return err
}

// nonCircuitError wraps errors that should not trip the circuit breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}

func (p *Provider) wrapError(err error, op string) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized:
			return &source.AuthError{
				Provider: source.ProviderTypeGmail,
				Message:  fmt.Sprintf("%s: %s", op, apiErr.Message),
			}
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w", op, source.ErrMessageNotFound)
		}
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return &source.AuthError{
			Provider: source.ProviderTypeGmail,
			Message:  fmt.Sprintf("%s: token refresh rejected: %v", op, retrieveErr),
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}

// convertPart copies a Gmail payload into the provider part tree.
func convertPart(p *gmail.MessagePart, depth int) *source.Part {
	if p == nil {
		return nil
	}

	part := &source.Part{
		PartID:   p.PartId,
		MIMEType: p.MimeType,
		Filename: p.Filename,
		Headers:  make([]source.Header, 0, len(p.Headers)),
	}
	for _, h := range p.Headers {
		part.Headers = append(part.Headers, source.Header{Name: h.Name, Value: h.Value})
	}
	if p.Body != nil {
		part.Body = &source.PartBody{
			AttachmentID: p.Body.AttachmentId,
			Size:         p.Body.Size,
			Data:         p.Body.Data,
		}
	}

	if depth >= maxDepth {
		return part
	}
	for _, child := range p.Parts {
		part.Parts = append(part.Parts, convertPart(child, depth+1))
	}
	return part
}
