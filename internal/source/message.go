package source

import (
	"strings"
	"time"
)

// Header is a single name/value message header.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PartBody carries either inline data or a reference to an attachment
// stored on the provider.
type PartBody struct {
	// AttachmentID is set when the content must be fetched separately.
	AttachmentID string `json:"attachmentId,omitempty"`

	Size int64 `json:"size"`

	// Data is the base64url-encoded content, possibly empty.
	Data string `json:"data,omitempty"`
}

// Part is one node of a message's MIME part tree.
type Part struct {
	PartID   string    `json:"partId"`
	MIMEType string    `json:"mimeType"`
	Filename string    `json:"filename"`
	Headers  []Header  `json:"headers"`
	Body     *PartBody `json:"body,omitempty"`
	Parts    []*Part   `json:"parts,omitempty"`
}

// Header returns the first header named name (case-insensitive), or "".
func (p *Part) Header(name string) string {
	if p == nil {
		return ""
	}
	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// Message is a provider message with its labels and part tree.
type Message struct {
	ID       string
	ThreadID string
	LabelIDs []string
	Payload  *Part

	// InternalDate is the provider's receive time, used when the Date
	// header is missing or unparsable.
	InternalDate time.Time
}

// HasLabel reports whether the message carries label.
func (m *Message) HasLabel(label string) bool {
	for _, l := range m.LabelIDs {
		if l == label {
			return true
		}
	}
	return false
}

// Header returns a top-level header of the message, or "".
func (m *Message) Header(name string) string {
	return m.Payload.Header(name)
}
