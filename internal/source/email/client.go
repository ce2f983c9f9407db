package email

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"

	"github.com/mondzorg/inbox/internal/source"
)

// TokenFunc returns a current OAuth access token for the mailbox.
type TokenFunc func(ctx context.Context) (string, error)

// archiveFolders are tried in order when a message leaves the inbox.
var archiveFolders = []string{
	"Archive", "[Gmail]/All Mail", "Archives", "INBOX.Archive",
}

// ErrNotArchivable is returned when no archive folder accepted a message
// and the server cannot expunge a single UID either.
var ErrNotArchivable = errors.New("no archive folder and no UID EXPUNGE support")

// IMAPClient wraps go-imap v2 for connecting to and querying an IMAP
// server with OAUTHBEARER authentication.
type IMAPClient struct {
	host     string
	port     int
	username string
	token    TokenFunc
	tls      bool
}

// NewIMAPClient creates a new IMAP client configuration. Port 993 uses
// implicit TLS, anything else STARTTLS.
func NewIMAPClient(
	host string, port int, username string, token TokenFunc,
) *IMAPClient {
	return &IMAPClient{
		host:     host,
		port:     port,
		username: username,
		token:    token,
		tls:      port == 993,
	}
}

// Connect establishes a connection to the IMAP server, authenticates,
// and returns the connected client. The caller is responsible for
// calling Logout on the returned client.
func (c *IMAPClient) Connect(
	ctx context.Context,
) (*imapclient.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	accessToken, err := c.token(ctx)
	if err != nil {
		return nil, &source.AuthError{
			Provider: source.ProviderTypeIMAP,
			Message:  fmt.Sprintf("no access token: %v", err),
		}
	}

	addr := fmt.Sprintf("%s:%d", c.host, c.port)

	var client *imapclient.Client
	if c.tls {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	saslClient := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
		Username: c.username,
		Token:    accessToken,
		Host:     c.host,
		Port:     c.port,
	})
	if err := client.Authenticate(saslClient); err != nil {
		_ = client.Logout().Wait()
		return nil, &source.AuthError{
			Provider: source.ProviderTypeIMAP,
			Message: fmt.Sprintf(
				"authentication failed for %s: %v",
				c.username, err,
			),
		}
	}

	return client, nil
}

// withInbox connects, selects INBOX and runs fn.
func (c *IMAPClient) withInbox(
	ctx context.Context,
	fn func(client *imapclient.Client) error,
) error {
	client, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return fmt.Errorf("selecting INBOX: %w", err)
	}

	return fn(client)
}

// SearchUIDs returns the UIDs of INBOX messages matching criteria,
// newest first and at most limit of them.
func (c *IMAPClient) SearchUIDs(
	ctx context.Context,
	criteria *imap.SearchCriteria,
	limit int,
) ([]imap.UID, error) {
	var uids []imap.UID
	err := c.withInbox(ctx, func(client *imapclient.Client) error {
		searchData, err := client.UIDSearch(criteria, nil).Wait()
		if err != nil {
			return fmt.Errorf("searching messages: %w", err)
		}
		uids = searchData.AllUIDs()
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Reverse(uids)
	if limit > 0 && len(uids) > limit {
		uids = uids[:limit]
	}
	return uids, nil
}

// RawMessage is a fetched message with its IMAP metadata.
type RawMessage struct {
	UID          imap.UID
	Flags        []imap.Flag
	InternalDate time.Time
	Body         []byte
}

// FetchRaw fetches the full RFC 822 content of the message with uid
// without setting \Seen.
func (c *IMAPClient) FetchRaw(
	ctx context.Context, uid imap.UID,
) (*RawMessage, error) {
	var raw *RawMessage
	err := c.withInbox(ctx, func(client *imapclient.Client) error {
		bodySection := &imap.FetchItemBodySection{Peek: true}
		fetchOpts := &imap.FetchOptions{
			Flags:        true,
			UID:          true,
			InternalDate: true,
			BodySection:  []*imap.FetchItemBodySection{bodySection},
		}

		fetchCmd := client.Fetch(imap.UIDSetNum(uid), fetchOpts)
		defer fetchCmd.Close()

		msg := fetchCmd.Next()
		if msg == nil {
			return fmt.Errorf("UID %d: %w", uid, source.ErrMessageNotFound)
		}

		buf, err := msg.Collect()
		if err != nil {
			return fmt.Errorf("collecting message data: %w", err)
		}

		raw = &RawMessage{
			UID:          buf.UID,
			Flags:        buf.Flags,
			InternalDate: buf.InternalDate,
			Body:         buf.FindBodySection(bodySection),
		}

		if err := fetchCmd.Close(); err != nil {
			return fmt.Errorf("closing fetch: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// SetFlags adds or removes flags on a message.
func (c *IMAPClient) SetFlags(
	ctx context.Context,
	uid imap.UID,
	flags []imap.Flag,
	add bool,
) error {
	if len(flags) == 0 {
		return nil
	}
	return c.withInbox(ctx, func(client *imapclient.Client) error {
		op := imap.StoreFlagsAdd
		if !add {
			op = imap.StoreFlagsDel
		}

		storeCmd := client.Store(imap.UIDSetNum(uid), &imap.StoreFlags{
			Op:     op,
			Silent: true,
			Flags:  flags,
		}, nil)

		return storeCmd.Close()
	})
}

// MoveToArchive moves the message out of INBOX. It tries the common
// archive folder names, falling back to deleting and expunging that one
// message when the server supports UID EXPUNGE.
func (c *IMAPClient) MoveToArchive(
	ctx context.Context, uid imap.UID,
) error {
	return c.withInbox(ctx, func(client *imapclient.Client) error {
		uidSet := imap.UIDSetNum(uid)

		for _, folder := range archiveFolders {
			if _, err := client.Move(uidSet, folder).Wait(); err == nil {
				return nil
			}
		}

		if !canExpungeUID(client.Caps()) {
			return ErrNotArchivable
		}

		storeCmd := client.Store(uidSet, &imap.StoreFlags{
			Op:     imap.StoreFlagsAdd,
			Silent: true,
			Flags:  []imap.Flag{imap.FlagDeleted},
		}, nil)
		if err := storeCmd.Close(); err != nil {
			return fmt.Errorf("flagging message deleted: %w", err)
		}

		if err := client.UIDExpunge(uidSet).Close(); err != nil {
			return fmt.Errorf("expunging message: %w", err)
		}
		return nil
	})
}

// canExpungeUID reports whether UID EXPUNGE is available, so a plain
// EXPUNGE never removes messages other clients flagged.
func canExpungeUID(caps imap.CapSet) bool {
	return caps.Has(imap.CapUIDPlus)
}

// searchCriteria translates a provider query into IMAP search criteria.
// Search operators (words containing ':' and the OR keyword) have no
// IMAP equivalent and are ignored; every remaining word must occur in
// the message text. Only messages from the last week are considered.
func searchCriteria(query string, now time.Time) *imap.SearchCriteria {
	criteria := &imap.SearchCriteria{
		Since: now.AddDate(0, 0, -7),
	}

	replacer := strings.NewReplacer("(", " ", ")", " ")
	for _, word := range strings.Fields(replacer.Replace(query)) {
		if strings.Contains(word, ":") || strings.EqualFold(word, "OR") {
			continue
		}
		criteria.Text = append(criteria.Text, word)
	}

	return criteria
}

// labelsFromFlags derives provider labels from IMAP flags for a message
// found in INBOX.
func labelsFromFlags(flags []imap.Flag) []string {
	labels := []string{source.LabelInbox}
	if !slices.Contains(flags, imap.FlagSeen) {
		labels = append(labels, source.LabelUnread)
	}
	if slices.Contains(flags, imap.FlagFlagged) {
		labels = append(labels, source.LabelStarred)
	}
	return labels
}
