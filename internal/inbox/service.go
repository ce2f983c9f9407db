// Package inbox implements the mailbox actions the dashboard triggers on
// single messages: replying, marking read, archiving, downloading
// attachments and re-running classification. It also accepts web form
// submissions.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mondzorg/inbox/internal/classify"
	"github.com/mondzorg/inbox/internal/logger"
	"github.com/mondzorg/inbox/internal/model"
	"github.com/mondzorg/inbox/internal/source"
	"github.com/mondzorg/inbox/internal/source/email"
	"github.com/mondzorg/inbox/internal/store"
	inboxsync "github.com/mondzorg/inbox/internal/sync"
)

// ErrInvalidRequest marks caller input that failed validation.
var ErrInvalidRequest = errors.New("invalid request")

// validate reads the same binding tags gin checks on request bodies.
var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.SetTagName("binding")
	return v
}()

// Classifier is the part of the classifier the service uses.
type Classifier interface {
	Classify(ctx context.Context, in classify.Input, useAI bool) classify.Result
	SuggestResponse(ctx context.Context, in classify.Input, category model.Category) (string, error)
}

// ReplyRequest is an outgoing reply composed in the dashboard.
type ReplyRequest struct {
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Message   string `json:"message"`
	ThreadID  string `json:"threadId"`
	InReplyTo string `json:"inReplyTo"`
}

// ReplyResult identifies a sent reply on the provider and in the store.
// ID is zero when the sent copy could not be recorded locally.
type ReplyResult struct {
	ProviderID string `json:"messageId"`
	ID         int64  `json:"id,omitempty"`
}

// Submission is a message entered through the practice web form.
type Submission struct {
	Email    string `json:"email" binding:"required,email"`
	Name     string `json:"name"`
	Category string `json:"category" binding:"required"`
	Subject  string `json:"subject"`
	Message  string `json:"message" binding:"required"`
}

// Service performs point mutations against the mailbox provider and
// mirrors them into the local store.
type Service struct {
	auth       inboxsync.Authenticator
	provider   source.Provider
	store      store.Store
	classifier Classifier

	// from is the mailbox address; its domain is used for Message-IDs.
	from string
	now  func() time.Time
}

// NewService wires the service to its collaborators.
func NewService(
	auth inboxsync.Authenticator,
	provider source.Provider,
	s store.Store,
	classifier Classifier,
	from string,
) *Service {
	return &Service{
		auth:       auth,
		provider:   provider,
		store:      s,
		classifier: classifier,
		from:       from,
		now:        time.Now,
	}
}

// ready refreshes the token and fails fast when the mailbox is not
// connected, before any provider call is attempted.
func (s *Service) ready(ctx context.Context) error {
	s.auth.EnsureFresh(ctx)
	if !s.auth.IsAuthenticated() {
		return &source.AuthError{
			Provider: s.provider.Type(),
			Message:  "mailbox is not connected",
		}
	}
	return nil
}

// Reply sends a plain-text reply and records the sent message as a read
// email record.
func (s *Service) Reply(ctx context.Context, req ReplyRequest) (*ReplyResult, error) {
	if strings.TrimSpace(req.To) == "" ||
		strings.TrimSpace(req.Subject) == "" ||
		strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w: to, subject and message are required", ErrInvalidRequest)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "inbox"})
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	now := s.now()
	raw, messageID, err := email.BuildReply(email.ReplyDraft{
		From:      s.from,
		To:        req.To,
		Subject:   req.Subject,
		Body:      req.Message,
		InReplyTo: req.InReplyTo,
		Domain:    s.domain(),
		Date:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	sentID, err := s.provider.Send(ctx, raw, req.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("sending reply: %w", err)
	}
	slog.InfoContext(ctx, "reply sent", "provider_id", sentID, "thread_id", req.ThreadID)

	result := &ReplyResult{ProviderID: sentID}
	if sentID == "" {
		return result, nil
	}

	sent := &model.Message{
		ProviderID:        &sentID,
		Sender:            req.To,
		Subject:           req.Subject,
		Timestamp:         now.UTC(),
		ThreadID:          req.ThreadID,
		ProviderMessageID: messageID,
		InReplyTo:         req.InReplyTo,
		PlainText:         req.Message,
		ReadStatus:        true,
		ResponseStatus:    "sent",
		Source:            model.SourceEmail,
	}
	res, err := s.store.Upsert(ctx, sent)
	if err != nil {
		// The mail is already out; losing the local copy is not fatal.
		slog.ErrorContext(ctx, "recording sent reply failed", "provider_id", sentID, "error", err)
		return result, nil
	}
	result.ID = res.ID
	return result, nil
}

// MarkRead clears the unread label on the provider and marks the local
// record read when one exists.
func (s *Service) MarkRead(ctx context.Context, providerID string) error {
	if strings.TrimSpace(providerID) == "" {
		return fmt.Errorf("%w: message id is required", ErrInvalidRequest)
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "inbox", ProviderID: &providerID})
	if err := s.ready(ctx); err != nil {
		return err
	}

	if err := s.provider.Modify(ctx, providerID, nil, []string{source.LabelUnread}); err != nil {
		return fmt.Errorf("marking %s read: %w", providerID, err)
	}
	return s.patchLocal(ctx, providerID, model.MessagePatch{ReadStatus: logger.Ptr(true)})
}

// Archive removes the message from the provider inbox and hides the local
// record from the active list.
func (s *Service) Archive(ctx context.Context, providerID string) error {
	if strings.TrimSpace(providerID) == "" {
		return fmt.Errorf("%w: message id is required", ErrInvalidRequest)
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "inbox", ProviderID: &providerID})
	if err := s.ready(ctx); err != nil {
		return err
	}

	if err := s.provider.Modify(ctx, providerID, nil, []string{source.LabelInbox}); err != nil {
		return fmt.Errorf("archiving %s: %w", providerID, err)
	}
	return s.patchLocal(ctx, providerID, model.MessagePatch{Archived: logger.Ptr(true)})
}

// patchLocal applies patch to the record for providerID. A message that
// was never synced has no local record, which is fine.
func (s *Service) patchLocal(ctx context.Context, providerID string, patch model.MessagePatch) error {
	rec, err := s.store.GetByProviderID(ctx, providerID)
	if errors.Is(err, store.ErrNotFound) {
		slog.DebugContext(ctx, "no local record to update")
		return nil
	}
	if err != nil {
		return err
	}
	return s.store.Patch(ctx, rec.ID, patch)
}

// AttachmentContent is a downloaded attachment with the metadata recorded
// at ingestion. Filename is empty and MIMEType is application/octet-stream
// when the message was never synced.
type AttachmentContent struct {
	Data     []byte
	Filename string
	MIMEType string
}

// Attachment downloads one attachment of a provider message.
func (s *Service) Attachment(ctx context.Context, providerID, attachmentID string) (*AttachmentContent, error) {
	if providerID == "" || attachmentID == "" {
		return nil, fmt.Errorf("%w: message and attachment id are required", ErrInvalidRequest)
	}
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	data, err := s.provider.GetAttachment(ctx, providerID, attachmentID)
	if err != nil {
		return nil, fmt.Errorf("fetching attachment %s of %s: %w", attachmentID, providerID, err)
	}

	out := &AttachmentContent{Data: data, MIMEType: "application/octet-stream"}
	rec, err := s.store.GetByProviderID(ctx, providerID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		for _, att := range rec.Attachments {
			if att.AttachmentRef != attachmentID {
				continue
			}
			out.Filename = att.Filename
			if att.MIMEType != "" {
				out.MIMEType = att.MIMEType
			}
			break
		}
	}
	return out, nil
}

// Recategorize classifies a stored record again and updates its category
// and priority. No provider call is involved.
func (s *Service) Recategorize(ctx context.Context, id int64, useAI bool) (*classify.Result, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	body := rec.PlainText
	if body == "" {
		body = email.HTMLToText(rec.HTML())
	}
	verdict := s.classifier.Classify(ctx, classify.Input{
		Sender:  rec.Sender,
		Subject: rec.Subject,
		Body:    body,
	}, useAI)

	if err := s.store.Patch(ctx, id, model.MessagePatch{
		Category: &verdict.Category,
		Priority: &verdict.Urgency,
	}); err != nil {
		return nil, err
	}
	return &verdict, nil
}

// SuggestReply drafts a reply for a stored record. A suggestion saved at
// classification time is returned as is; otherwise the AI backend is
// asked for one.
func (s *Service) SuggestReply(ctx context.Context, id int64) (string, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if rec.SuggestedResponse != "" {
		return rec.SuggestedResponse, nil
	}

	return s.classifier.SuggestResponse(ctx, classify.Input{
		Sender:  rec.Sender,
		Subject: rec.Subject,
		Body:    rec.PlainText,
	}, rec.Category)
}

// Categorize classifies free text without storing anything.
func (s *Service) Categorize(ctx context.Context, in classify.Input, useAI bool) (*classify.Result, error) {
	if strings.TrimSpace(in.Sender) == "" || strings.TrimSpace(in.Body) == "" {
		return nil, fmt.Errorf("%w: email and message are required", ErrInvalidRequest)
	}
	verdict := s.classifier.Classify(ctx, in, useAI)
	return &verdict, nil
}

// Submit validates and stores a web form submission.
func (s *Service) Submit(ctx context.Context, sub Submission) (int64, error) {
	sub.Email = strings.TrimSpace(sub.Email)
	sub.Category = strings.TrimSpace(sub.Category)
	sub.Message = strings.TrimSpace(sub.Message)
	if err := validate.Struct(sub); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	rec := &model.Message{
		Sender:     sub.Email,
		SenderName: strings.TrimSpace(sub.Name),
		Subject:    sub.Subject,
		Timestamp:  s.now().UTC(),
		PlainText:  sub.Message,
		Category:   model.Category(sub.Category),
		Source:     model.SourceForm,
	}
	id, err := s.store.CreateSubmission(ctx, rec)
	if err != nil {
		return 0, err
	}
	slog.InfoContext(ctx, "form submission stored", "id", id, "category", rec.Category)
	return id, nil
}

func (s *Service) domain() string {
	if _, domain, ok := strings.Cut(s.from, "@"); ok {
		return strings.TrimSuffix(domain, ">")
	}
	return ""
}
