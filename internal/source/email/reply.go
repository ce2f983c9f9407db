package email

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

// ReplyDraft describes an outgoing plain-text reply.
type ReplyDraft struct {
	From    string // optional; providers that authenticate the sender fill it in
	To      string
	Subject string
	Body    string

	// InReplyTo is the Message-ID of the message being answered. It is
	// used for both In-Reply-To and References.
	InReplyTo string

	// Domain is used for the generated Message-ID.
	Domain string

	Date time.Time
}

// ReplySubject prefixes subject with "Re: " unless it already is a reply.
func ReplySubject(subject string) string {
	trimmed := strings.TrimSpace(subject)
	if strings.HasPrefix(strings.ToLower(trimmed), "re:") {
		return trimmed
	}
	return "Re: " + trimmed
}

// BuildReply composes d as an RFC 5322 text/plain message and returns
// the raw bytes, CRLF line endings included. It also returns the
// generated Message-ID.
func BuildReply(d ReplyDraft) ([]byte, string, error) {
	if strings.TrimSpace(d.To) == "" {
		return nil, "", fmt.Errorf("reply has no recipient")
	}

	to, err := mail.ParseAddressList(d.To)
	if err != nil {
		return nil, "", fmt.Errorf("parsing recipient %q: %w", d.To, err)
	}

	var h mail.Header
	date := d.Date
	if date.IsZero() {
		date = time.Now()
	}
	h.SetDate(date)
	h.SetAddressList("To", to)
	if d.From != "" {
		from, err := mail.ParseAddressList(d.From)
		if err != nil {
			return nil, "", fmt.Errorf("parsing sender %q: %w", d.From, err)
		}
		h.SetAddressList("From", from)
	}
	h.SetSubject(d.Subject)

	domain := d.Domain
	if domain == "" {
		domain = "localhost"
	}
	messageID := uuid.NewString() + "@" + domain
	h.SetMessageID(messageID)

	if ref := strings.TrimSpace(d.InReplyTo); ref != "" {
		h.Set("In-Reply-To", ref)
		h.Set("References", ref)
	}
	h.SetContentType("text/plain", map[string]string{"charset": "UTF-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, "", fmt.Errorf("creating reply writer: %w", err)
	}
	if _, err := io.WriteString(w, d.Body); err != nil {
		return nil, "", fmt.Errorf("writing reply body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing reply writer: %w", err)
	}

	return buf.Bytes(), "<" + messageID + ">", nil
}
