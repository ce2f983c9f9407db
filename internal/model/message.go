package model

import (
	"time"
)

// Category is one of the fixed inquiry labels a message is classified into.
type Category string

const (
	CategoryAppointment Category = "Afspraak maken"
	CategoryTreatment   Category = "Behandeling informatie"
	CategoryEmergency   Category = "Spoedzorg"
	CategoryPricing     Category = "Tarieven"
	CategoryInsurance   Category = "Verzekering"
	CategoryComplaint   Category = "Klacht"
	CategoryGeneral     Category = "Algemene vraag"
)

// Categories lists every valid category in display order.
var Categories = []Category{
	CategoryAppointment,
	CategoryTreatment,
	CategoryEmergency,
	CategoryPricing,
	CategoryInsurance,
	CategoryComplaint,
	CategoryGeneral,
}

// Valid reports whether c is one of the fixed categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Urgency is the priority signal attached to a classified message.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// Valid reports whether u is low, medium or high.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh:
		return true
	}
	return false
}

// Source identifies how a message record entered the system.
type Source string

const (
	SourceForm  Source = "form"
	SourceEmail Source = "email"
)

// Default workflow tag for a message nobody has answered yet.
const ResponseStatusPending = "pending"

// Attachment describes a file attached to a provider message. The content
// itself stays on the provider and is fetched on demand by AttachmentRef.
type Attachment struct {
	Filename      string `json:"filename"`
	MIMEType      string `json:"mimeType"`
	SizeBytes     int64  `json:"size"`
	AttachmentRef string `json:"attachmentId"`
}

// ExtractedInfo holds structured hints pulled out of a message by the AI
// classifier.
type ExtractedInfo struct {
	Name      string   `json:"name"`
	Phone     string   `json:"phone"`
	KeyPoints []string `json:"key_points"`
}

// Message is the canonical persisted record for an inbound (or sent)
// message, whether it came from the mailbox provider or a web form.
type Message struct {
	// ID is assigned by the store and never changes.
	ID int64 `json:"id"`

	// ProviderID is the mailbox provider's message identifier. It is nil
	// for records that did not originate from the provider.
	ProviderID *string `json:"providerId,omitempty"`

	Sender            string    `json:"email"`
	SenderName        string    `json:"fromName,omitempty"`
	Subject           string    `json:"subject"`
	Timestamp         time.Time `json:"timestamp"`
	ThreadID          string    `json:"threadId,omitempty"`
	ProviderMessageID string    `json:"messageId,omitempty"`
	InReplyTo         string    `json:"inReplyTo,omitempty"`

	PlainText   string       `json:"message"`
	HTMLText    *string      `json:"htmlMessage,omitempty"`
	Attachments []Attachment `json:"attachments"`

	Category          Category       `json:"category"`
	Urgency           Urgency        `json:"urgency"`
	ExtractedInfo     *ExtractedInfo `json:"extractedInfo,omitempty"`
	SuggestedResponse string         `json:"suggestedResponse,omitempty"`

	ReadStatus     bool    `json:"readStatus"`
	Starred        bool    `json:"starred"`
	ResponseStatus string  `json:"responseStatus"`
	Priority       Urgency `json:"priority"`
	Notes          string  `json:"notes,omitempty"`
	Archived       bool    `json:"archived"`
	Source         Source  `json:"source"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Normalize enforces the record invariants before persistence: a valid
// category and urgency, a non-nil attachment list, a plain-text view for
// HTML-only content and default workflow fields.
//
// htmlToText derives plain text from HTML; it is passed in so the model
// package stays free of content-processing dependencies.
func (m *Message) Normalize(htmlToText func(string) string) {
	if !m.Category.Valid() {
		m.Category = CategoryGeneral
	}
	if !m.Urgency.Valid() {
		m.Urgency = UrgencyMedium
	}
	if !m.Priority.Valid() {
		m.Priority = m.Urgency
	}
	if m.Attachments == nil {
		m.Attachments = []Attachment{}
	}
	if m.HTMLText != nil && *m.HTMLText == "" {
		m.HTMLText = nil
	}
	if m.PlainText == "" && m.HTMLText != nil && htmlToText != nil {
		m.PlainText = htmlToText(*m.HTMLText)
	}
	if m.ResponseStatus == "" {
		m.ResponseStatus = ResponseStatusPending
	}
	if m.Source == "" {
		if m.ProviderID != nil {
			m.Source = SourceEmail
		} else {
			m.Source = SourceForm
		}
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
}

// HTML returns the HTML body or an empty string.
func (m *Message) HTML() string {
	if m.HTMLText == nil {
		return ""
	}
	return *m.HTMLText
}

// MessageFilter controls filtering and pagination for message listings.
// Nil fields do not constrain the result.
type MessageFilter struct {
	ReadStatus *bool
	Starred    *bool
	Category   *Category
	Source     *Source

	// Archived selects archived records; nil hides them, matching the
	// active list view.
	Archived *bool

	// Query matches subject, sender or plain text.
	Query *string

	Limit  int
	Offset int
}

// MessagePatch lists the mutable fields of a message that the dashboard
// may change. Nil fields are left untouched.
type MessagePatch struct {
	ReadStatus     *bool     `json:"read_status,omitempty"`
	Starred        *bool     `json:"starred,omitempty"`
	Priority       *Urgency  `json:"priority,omitempty"`
	ResponseStatus *string   `json:"response_status,omitempty"`
	Notes          *string   `json:"notes,omitempty"`
	Category       *Category `json:"category,omitempty"`
	Archived       *bool     `json:"archived,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p MessagePatch) Empty() bool {
	return p.ReadStatus == nil && p.Starred == nil && p.Priority == nil &&
		p.ResponseStatus == nil && p.Notes == nil && p.Category == nil &&
		p.Archived == nil
}

// CategoryCount is one row of the per-category statistics.
type CategoryCount struct {
	Category Category `json:"category" db:"category"`
	Count    int      `json:"count" db:"count"`
}

// MessageStats summarises the stored messages.
type MessageStats struct {
	Total      int             `json:"total"`
	Today      int             `json:"today"`
	ByCategory []CategoryCount `json:"byCategory"`
}
