package email

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplySubject(t *testing.T) {
	assert.Equal(t, "Re: Afspraak", ReplySubject("Afspraak"))
	assert.Equal(t, "RE: Afspraak", ReplySubject("RE: Afspraak"))
	assert.Equal(t, "Re: ", ReplySubject(""))
}

func TestBuildReply(t *testing.T) {
	raw, messageID, err := BuildReply(ReplyDraft{
		To:        "Jan de Vries <jan@example.nl>",
		Subject:   "Re: Pijn in mijn kies",
		Body:      "Beste Jan,\n\nU kunt morgen om 9:00 terecht.",
		InReplyTo: "<abc@mail.example.nl>",
		Domain:    "mondzorg.example",
		Date:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Contains(t, messageID, "@mondzorg.example>")

	r, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer r.Close()

	to, err := r.Header.AddressList("To")
	require.NoError(t, err)
	require.Len(t, to, 1)
	assert.Equal(t, "jan@example.nl", to[0].Address)

	subject, err := r.Header.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Re: Pijn in mijn kies", subject)
	assert.Equal(t, "<abc@mail.example.nl>", r.Header.Get("In-Reply-To"))
	assert.Equal(t, "<abc@mail.example.nl>", r.Header.Get("References"))
	assert.Equal(t, messageID, r.Header.Get("Message-Id"))

	part, err := r.NextPart()
	require.NoError(t, err)
	body, err := io.ReadAll(part.Body)
	require.NoError(t, err)
	assert.Equal(t, "Beste Jan,\n\nU kunt morgen om 9:00 terecht.", string(bytes.ReplaceAll(body, []byte("\r\n"), []byte("\n"))))
}

func TestBuildReplyWithoutThreading(t *testing.T) {
	raw, _, err := BuildReply(ReplyDraft{To: "jan@example.nl", Subject: "Hallo", Body: "x"})
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "In-Reply-To")
}

func TestBuildReplyRequiresRecipient(t *testing.T) {
	_, _, err := BuildReply(ReplyDraft{Subject: "x"})
	require.Error(t, err)

	_, _, err = BuildReply(ReplyDraft{To: "not an address <"})
	require.Error(t, err)
}
