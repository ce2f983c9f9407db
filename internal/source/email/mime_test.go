package email

import (
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mondzorg/inbox/internal/source"
)

const multipartFixture = "From: Jan <jan@example.nl>\r\n" +
	"To: praktijk@example.nl\r\n" +
	"Subject: Vraag over tarieven\r\n" +
	"Message-ID: <m1@example.nl>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"outer\"\r\n" +
	"\r\n" +
	"--outer\r\n" +
	"Content-Type: multipart/alternative; boundary=\"inner\"\r\n" +
	"\r\n" +
	"--inner\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"Content-Transfer-Encoding: quoted-printable\r\n" +
	"\r\n" +
	"Wat kost een kroon? =E2=82=AC\r\n" +
	"--inner\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Wat kost een kroon?</p>\r\n" +
	"--inner--\r\n" +
	"--outer\r\n" +
	"Content-Type: application/pdf; name=\"offerte.pdf\"\r\n" +
	"Content-Disposition: attachment; filename=\"offerte.pdf\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"JVBERi0xLjQK\r\n" +
	"--outer--\r\n"

func TestParseMIMEFeedsExtract(t *testing.T) {
	root, err := ParseMIME([]byte(multipartFixture), false)
	require.NoError(t, err)

	assert.Equal(t, "multipart/mixed", root.MIMEType)
	assert.Equal(t, "Vraag over tarieven", root.Header("subject"))
	require.Len(t, root.Parts, 2)
	assert.Equal(t, "0", root.Parts[0].PartID)
	assert.Equal(t, "0.1", root.Parts[0].Parts[1].PartID)

	att := root.Parts[1]
	assert.Equal(t, "offerte.pdf", att.Filename)
	require.NotNil(t, att.Body)
	assert.Equal(t, "1", att.Body.AttachmentID)
	assert.Equal(t, int64(9), att.Body.Size)
	assert.Empty(t, att.Body.Data)

	c := Extract(root)
	assert.Equal(t, "Wat kost een kroon? €", c.PlainText)
	assert.Equal(t, "<p>Wat kost een kroon?</p>", c.HTMLText)
	require.Len(t, c.Attachments, 1)
	assert.Equal(t, "1", c.Attachments[0].AttachmentRef)
}

func TestParseMIMEKeepsAttachmentData(t *testing.T) {
	root, err := ParseMIME([]byte(multipartFixture), true)
	require.NoError(t, err)

	part := findAttachment(root, "1", 0)
	require.NotNil(t, part)
	data, ok := decodeBody(part.Body.Data)
	require.True(t, ok)
	assert.Equal(t, "%PDF-1.4\n", data)

	assert.Nil(t, findAttachment(root, "7", 0))
}

func TestParseMIMESinglePart(t *testing.T) {
	raw := "From: a@example.nl\r\nSubject: x\r\n\r\nalleen tekst\r\n"
	root, err := ParseMIME([]byte(raw), false)
	require.NoError(t, err)
	assert.Equal(t, "text/plain", root.MIMEType)
	assert.Empty(t, root.Parts)
	assert.Equal(t, "alleen tekst", Extract(root).PlainText)
}

func TestThreadID(t *testing.T) {
	p := &source.Part{Headers: []source.Header{
		{Name: "Message-ID", Value: "<self@x>"},
		{Name: "References", Value: "<root@x> <mid@x>"},
	}}
	assert.Equal(t, "root@x", threadID(p))

	p = &source.Part{Headers: []source.Header{{Name: "Message-ID", Value: "<self@x>"}}}
	assert.Equal(t, "self@x", threadID(p))
}

func TestSearchCriteria(t *testing.T) {
	now := time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC)

	c := searchCriteria("is:unread OR (in:inbox newer_than:7d)", now)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), c.Since)
	assert.Empty(t, c.Text)

	c = searchCriteria("afspraak (spoed) from:jan", now)
	assert.Equal(t, []string{"afspraak", "spoed"}, c.Text)
}

func TestLabelsFromFlags(t *testing.T) {
	assert.ElementsMatch(t,
		[]string{source.LabelInbox, source.LabelUnread},
		labelsFromFlags(nil))
	assert.ElementsMatch(t,
		[]string{source.LabelInbox, source.LabelStarred},
		labelsFromFlags([]imap.Flag{imap.FlagSeen, imap.FlagFlagged}))
}

func TestParseUID(t *testing.T) {
	uid, err := parseUID("42")
	require.NoError(t, err)
	assert.Equal(t, imap.UID(42), uid)

	for _, bad := range []string{"", "0", "abc", strings.Repeat("9", 12)} {
		_, err := parseUID(bad)
		assert.ErrorIs(t, err, errInvalidUID, bad)
	}
}
