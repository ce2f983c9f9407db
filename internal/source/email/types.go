package email

import (
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/mondzorg/inbox/internal/model"
	"github.com/mondzorg/inbox/internal/source"
)

// Envelope holds the decoded top-level headers of a provider message.
type Envelope struct {
	FromName  string
	FromAddr  string
	To        []string
	Subject   string
	Date      time.Time
	MessageID string // raw Message-ID header, angle brackets kept
	InReplyTo string
}

var angleAddrPattern = regexp.MustCompile(`<(.+)>`)

// ParseEnvelope decodes the envelope headers of msg. Encoded words are
// decoded; a missing or unparsable Date falls back to the provider's
// internal date.
func ParseEnvelope(msg *source.Message) Envelope {
	h := headerOf(msg.Payload)

	env := Envelope{
		MessageID: strings.TrimSpace(h.Get("Message-Id")),
		InReplyTo: strings.TrimSpace(h.Get("In-Reply-To")),
	}

	if subject, err := h.Subject(); err == nil {
		env.Subject = subject
	} else {
		env.Subject = h.Get("Subject")
	}

	env.FromName, env.FromAddr = ParseAddress(h.Get("From"))

	if to, err := h.AddressList("To"); err == nil {
		for _, addr := range to {
			env.To = append(env.To, addr.Address)
		}
	}

	if date, err := h.Date(); err == nil && !date.IsZero() {
		env.Date = date.UTC()
	} else {
		env.Date = msg.InternalDate.UTC()
	}

	return env
}

// ParseAddress splits a From-style header value into display name and
// address. Values that do not parse as RFC 5322 fall back to the text
// between angle brackets, or the whole value.
func ParseAddress(value string) (name, addr string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", ""
	}
	if parsed, err := mail.ParseAddress(value); err == nil {
		return parsed.Name, parsed.Address
	}
	if m := angleAddrPattern.FindStringSubmatch(value); m != nil {
		name = strings.TrimSpace(angleAddrPattern.ReplaceAllString(value, ""))
		return strings.Trim(name, `"`), strings.TrimSpace(m[1])
	}
	return "", value
}

func headerOf(p *source.Part) mail.Header {
	var h mail.Header
	if p == nil {
		return h
	}
	for _, hdr := range p.Headers {
		h.Add(hdr.Name, hdr.Value)
	}
	return h
}

// NewRecord converts a provider message into an unclassified store
// record: envelope, reconstructed content and the provider read state.
func NewRecord(msg *source.Message) *model.Message {
	env := ParseEnvelope(msg)
	content := Extract(msg.Payload)

	providerID := msg.ID
	rec := &model.Message{
		ProviderID:        &providerID,
		Sender:            env.FromAddr,
		SenderName:        env.FromName,
		Subject:           env.Subject,
		Timestamp:         env.Date,
		ThreadID:          msg.ThreadID,
		ProviderMessageID: env.MessageID,
		InReplyTo:         env.InReplyTo,
		PlainText:         content.PlainText,
		Attachments:       content.Attachments,
		ReadStatus:        !msg.HasLabel(source.LabelUnread),
		Source:            model.SourceEmail,
	}
	if content.HTMLText != "" {
		html := content.HTMLText
		rec.HTMLText = &html
	}
	return rec
}
