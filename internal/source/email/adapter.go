package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"

	"github.com/mondzorg/inbox/internal/source"
)

// SMTPConfig holds the SMTP server settings for sending replies.
type SMTPConfig struct {
	Host string
	Port int
}

// IMAPProvider implements source.Provider on top of IMAP for reading and
// SMTP for sending, both authenticated with the mailbox OAuth token.
type IMAPProvider struct {
	client   *IMAPClient
	smtp     SMTPConfig
	username string
	token    TokenFunc
	now      func() time.Time
}

// NewIMAPProvider creates a provider for the mailbox username.
func NewIMAPProvider(
	imapHost string,
	imapPort int,
	smtpCfg SMTPConfig,
	username string,
	token TokenFunc,
) *IMAPProvider {
	return &IMAPProvider{
		client:   NewIMAPClient(imapHost, imapPort, username, token),
		smtp:     smtpCfg,
		username: username,
		token:    token,
		now:      time.Now,
	}
}

// Type returns ProviderTypeIMAP.
func (p *IMAPProvider) Type() source.ProviderType {
	return source.ProviderTypeIMAP
}

// List returns the UIDs of matching INBOX messages as strings.
func (p *IMAPProvider) List(
	ctx context.Context, query string, maxResults int,
) ([]string, error) {
	uids, err := p.client.SearchUIDs(ctx, searchCriteria(query, p.now()), maxResults)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(uids))
	for _, uid := range uids {
		ids = append(ids, strconv.FormatUint(uint64(uid), 10))
	}
	return ids, nil
}

// Get fetches a message and converts it into the provider part tree.
func (p *IMAPProvider) Get(
	ctx context.Context, id string,
) (*source.Message, error) {
	uid, err := parseUID(id)
	if err != nil {
		return nil, err
	}

	raw, err := p.client.FetchRaw(ctx, uid)
	if err != nil {
		return nil, err
	}

	payload, err := ParseMIME(raw.Body, false)
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", id, err)
	}

	msg := &source.Message{
		ID:           id,
		LabelIDs:     labelsFromFlags(raw.Flags),
		Payload:      payload,
		InternalDate: raw.InternalDate,
	}
	msg.ThreadID = threadID(payload)
	return msg, nil
}

// Modify maps label changes onto IMAP: UNREAD toggles \Seen, STARRED
// toggles \Flagged and removing INBOX archives the message.
func (p *IMAPProvider) Modify(
	ctx context.Context,
	id string,
	add []string,
	remove []string,
) error {
	uid, err := parseUID(id)
	if err != nil {
		return err
	}

	var setFlags, clearFlags []imap.Flag
	archive := false

	for _, label := range add {
		switch label {
		case source.LabelUnread:
			clearFlags = append(clearFlags, imap.FlagSeen)
		case source.LabelStarred:
			setFlags = append(setFlags, imap.FlagFlagged)
		}
	}
	for _, label := range remove {
		switch label {
		case source.LabelUnread:
			setFlags = append(setFlags, imap.FlagSeen)
		case source.LabelStarred:
			clearFlags = append(clearFlags, imap.FlagFlagged)
		case source.LabelInbox:
			archive = true
		}
	}

	if err := p.client.SetFlags(ctx, uid, setFlags, true); err != nil {
		return fmt.Errorf("setting flags on %s: %w", id, err)
	}
	if err := p.client.SetFlags(ctx, uid, clearFlags, false); err != nil {
		return fmt.Errorf("clearing flags on %s: %w", id, err)
	}
	if archive {
		if err := p.client.MoveToArchive(ctx, uid); err != nil {
			return fmt.Errorf("archiving %s: %w", id, err)
		}
	}
	return nil
}

// GetAttachment refetches the message and returns the decoded content of
// the part with the given attachment id.
func (p *IMAPProvider) GetAttachment(
	ctx context.Context, messageID, attachmentID string,
) ([]byte, error) {
	uid, err := parseUID(messageID)
	if err != nil {
		return nil, err
	}

	raw, err := p.client.FetchRaw(ctx, uid)
	if err != nil {
		return nil, err
	}

	payload, err := ParseMIME(raw.Body, true)
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", messageID, err)
	}

	part := findAttachment(payload, attachmentID, 0)
	if part == nil {
		return nil, fmt.Errorf(
			"attachment %s of %s: %w",
			attachmentID, messageID, source.ErrMessageNotFound,
		)
	}

	data, ok := decodeBody(part.Body.Data)
	if !ok {
		return nil, fmt.Errorf("decoding attachment %s", attachmentID)
	}
	return []byte(data), nil
}

// Send submits raw over SMTP. IMAP has no thread ids, so the thread
// argument is ignored and threading relies on the In-Reply-To header. The
// returned id is the Message-ID of the sent message.
func (p *IMAPProvider) Send(
	ctx context.Context, raw []byte, _ string,
) (string, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return "", fmt.Errorf("parsing outgoing message: %w", err)
	}
	h := mail.Header{Header: entity.Header}

	to, err := h.AddressList("To")
	if err != nil || len(to) == 0 {
		return "", fmt.Errorf("outgoing message has no recipient")
	}
	recipients := make([]string, 0, len(to))
	for _, addr := range to {
		recipients = append(recipients, addr.Address)
	}

	if h.Get("From") == "" {
		raw = append([]byte("From: "+p.username+"\r\n"), raw...)
	}

	accessToken, err := p.token(ctx)
	if err != nil {
		return "", &source.AuthError{
			Provider: source.ProviderTypeIMAP,
			Message:  fmt.Sprintf("no access token: %v", err),
		}
	}

	auth := &oauthBearerAuth{client: sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
		Username: p.username,
		Token:    accessToken,
		Host:     p.smtp.Host,
		Port:     p.smtp.Port,
	})}

	addr := fmt.Sprintf("%s:%d", p.smtp.Host, p.smtp.Port)
	if p.smtp.Port == 465 {
		err = sendSMTPWithTLS(addr, p.smtp.Host, auth, p.username, recipients, raw)
	} else {
		err = sendSMTPWithStartTLS(addr, p.smtp.Host, auth, p.username, recipients, raw)
	}
	if err != nil {
		return "", err
	}

	sentID, _ := h.MessageID()
	slog.DebugContext(ctx, "reply sent over smtp",
		"message_id", sentID, "recipients", len(recipients))
	return sentID, nil
}

// threadID uses the first References entry (or In-Reply-To, or the
// message's own Message-ID) as a stable conversation key.
func threadID(payload *source.Part) string {
	for _, name := range []string{"References", "In-Reply-To", "Message-Id"} {
		if v := strings.Fields(payload.Header(name)); len(v) > 0 {
			return strings.Trim(v[0], "<>")
		}
	}
	return ""
}

// oauthBearerAuth adapts a SASL client to net/smtp.
type oauthBearerAuth struct {
	client sasl.Client
}

func (a *oauthBearerAuth) Start(
	_ *smtp.ServerInfo,
) (string, []byte, error) {
	return a.client.Start()
}

func (a *oauthBearerAuth) Next(
	fromServer []byte, more bool,
) ([]byte, error) {
	if !more {
		return nil, nil
	}
	return a.client.Next(fromServer)
}

// sendSMTPWithTLS sends an email over an implicit TLS connection.
func sendSMTPWithTLS(
	addr, host string, auth smtp.Auth,
	from string, to []string, body []byte,
) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: host})
	if err != nil {
		return fmt.Errorf("TLS dial to %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	if err := client.Auth(auth); err != nil {
		return &source.AuthError{
			Provider: source.ProviderTypeIMAP,
			Message:  fmt.Sprintf("SMTP auth: %v", err),
		}
	}

	return sendMailViaSMTPClient(client, from, to, body)
}

// sendSMTPWithStartTLS sends an email using STARTTLS.
func sendSMTPWithStartTLS(
	addr, host string, auth smtp.Auth,
	from string, to []string, body []byte,
) error {
	conn, err := net.DialTimeout("tcp", addr, 30*time.Second)
	if err != nil {
		return fmt.Errorf("dial to %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
		return fmt.Errorf("SMTP STARTTLS: %w", err)
	}

	if err := client.Auth(auth); err != nil {
		return &source.AuthError{
			Provider: source.ProviderTypeIMAP,
			Message:  fmt.Sprintf("SMTP auth: %v", err),
		}
	}

	return sendMailViaSMTPClient(client, from, to, body)
}

// sendMailViaSMTPClient sends a message using an already-authenticated
// SMTP client.
func sendMailViaSMTPClient(
	client *smtp.Client, from string, to []string, body []byte,
) error {
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("SMTP MAIL FROM: %w", err)
	}

	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("SMTP RCPT TO %s: %w", rcpt, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA: %w", err)
	}

	if _, err := writer.Write(body); err != nil {
		return fmt.Errorf("writing email body: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing email body: %w", err)
	}

	return client.Quit()
}

var errInvalidUID = errors.New("invalid message uid")

// parseUID converts a provider message id to an IMAP UID.
func parseUID(id string) (imap.UID, error) {
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil || uid == 0 {
		return 0, fmt.Errorf("%w %q", errInvalidUID, id)
	}
	return imap.UID(uid), nil
}
