// Package credential owns the mailbox OAuth client configuration and the
// current token: loading, refreshing, exchanging and revoking it.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/mondzorg/inbox/internal/source"
)

// DefaultRedirectURL is used when the client descriptor lists no
// redirect URIs.
const DefaultRedirectURL = "http://localhost:4000/oauth2callback"

// Scopes requested for the practice mailbox.
var Scopes = []string{
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/gmail.modify",
	"https://www.googleapis.com/auth/gmail.send",
	"https://mail.google.com/",
}

// State describes how far the manager got in the OAuth lifecycle.
type State string

const (
	StateUnconfigured  State = "unconfigured"
	StateConfigured    State = "configured"
	StateAuthenticated State = "authenticated"
)

// Manager is safe for concurrent use.
type Manager struct {
	descriptorPath string
	store          TokenStore
	now            func() time.Time

	mu     sync.Mutex
	config *oauth2.Config
	token  *oauth2.Token
}

// NewManager creates an unconfigured manager. Call Initialize before use.
func NewManager(descriptorPath string, store TokenStore) *Manager {
	return &Manager{
		descriptorPath: descriptorPath,
		store:          store,
		now:            time.Now,
	}
}

// Initialize reads the OAuth client descriptor and loads any persisted
// token. It returns false with a *source.ConfigError when the
// descriptor is missing or malformed. A missing token is not an error.
func (m *Manager) Initialize(ctx context.Context) (bool, error) {
	data, err := os.ReadFile(m.descriptorPath)
	if err != nil {
		return false, &source.ConfigError{Setting: "oauth client descriptor", Err: err}
	}

	data, err = withDefaultRedirect(data)
	if err != nil {
		return false, &source.ConfigError{Setting: "oauth client descriptor", Err: err}
	}
	cfg, err := google.ConfigFromJSON(data, Scopes...)
	if err != nil {
		return false, &source.ConfigError{Setting: "oauth client descriptor", Err: err}
	}
	if cfg.ClientID == "" {
		return false, &source.ConfigError{
			Setting: "oauth client descriptor",
			Err:     errors.New("client_id is empty"),
		}
	}

	tok, err := m.store.Load()
	if err != nil {
		slog.WarnContext(ctx, "ignoring unreadable stored token", "error", err)
		tok = nil
	}

	m.mu.Lock()
	m.config = cfg
	m.token = tok
	m.mu.Unlock()

	slog.InfoContext(ctx, "oauth client configured",
		"authenticated", tok != nil && tok.AccessToken != "")
	return true, nil
}

// withDefaultRedirect fills an empty or absent redirect_uris list of the
// installed or web client with DefaultRedirectURL. google.ConfigFromJSON
// rejects descriptors without one.
func withDefaultRedirect(data []byte) ([]byte, error) {
	var desc map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("parsing descriptor: %w", err)
	}

	changed := false
	for _, kind := range []string{"installed", "web"} {
		client, ok := desc[kind]
		if !ok || client == nil {
			continue
		}
		var uris []string
		if raw, ok := client["redirect_uris"]; ok {
			if err := json.Unmarshal(raw, &uris); err != nil {
				return nil, fmt.Errorf("parsing %s.redirect_uris: %w", kind, err)
			}
		}
		if len(uris) > 0 {
			continue
		}
		raw, err := json.Marshal([]string{DefaultRedirectURL})
		if err != nil {
			return nil, err
		}
		client["redirect_uris"] = raw
		changed = true
	}
	if !changed {
		return data, nil
	}
	return json.Marshal(desc)
}

// State reports the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.config == nil:
		return StateUnconfigured
	case m.token == nil || m.token.AccessToken == "":
		return StateConfigured
	default:
		return StateAuthenticated
	}
}

// IsAuthenticated reports whether a token with an access token is held.
func (m *Manager) IsAuthenticated() bool {
	return m.State() == StateAuthenticated
}

// EnsureFresh refreshes an expired token and persists the result. Refresh
// failures are logged and leave the current token in place.
func (m *Manager) EnsureFresh(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config == nil || m.token == nil || m.token.Expiry.IsZero() {
		return
	}
	if m.token.Expiry.After(m.now()) {
		return
	}

	if err := m.refreshLocked(ctx); err != nil {
		slog.ErrorContext(ctx, "refreshing oauth token", "error", err)
	}
}

// refreshLocked must be called with m.mu held.
func (m *Manager) refreshLocked(ctx context.Context) error {
	if m.token.RefreshToken == "" {
		return errors.New("token expired and no refresh token is stored")
	}

	expired := *m.token
	expired.Expiry = m.now().Add(-time.Minute)

	fresh, err := m.config.TokenSource(ctx, &expired).Token()
	if err != nil {
		return err
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = m.token.RefreshToken
	}
	m.token = fresh

	if err := m.store.Save(fresh); err != nil {
		slog.WarnContext(ctx, "persisting refreshed token", "error", err)
	}
	slog.InfoContext(ctx, "oauth token refreshed", "expiry", fresh.Expiry)
	return nil
}

// AuthCodeURL returns the consent URL the operator opens to connect the
// mailbox. Offline access with a forced consent prompt yields a refresh
// token every time.
func (m *Manager) AuthCodeURL(state string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config == nil {
		return "", &source.ConfigError{Setting: "oauth client descriptor"}
	}
	return m.config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	), nil
}

// ExchangeCode trades an authorization code for a token and persists it.
func (m *Manager) ExchangeCode(ctx context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config == nil {
		return &source.ConfigError{Setting: "oauth client descriptor"}
	}

	tok, err := m.config.Exchange(ctx, code)
	if err != nil {
		return &source.AuthError{Message: fmt.Sprintf("exchanging code: %v", err)}
	}
	if tok.RefreshToken == "" && m.token != nil {
		tok.RefreshToken = m.token.RefreshToken
	}
	m.token = tok

	if err := m.store.Save(tok); err != nil {
		return fmt.Errorf("persisting token: %w", err)
	}
	slog.InfoContext(ctx, "mailbox connected", "expiry", tok.Expiry)
	return nil
}

// Disconnect forgets the token in memory and in the token store.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	m.token = nil
	m.mu.Unlock()

	if err := m.store.Delete(); err != nil {
		return err
	}
	slog.InfoContext(ctx, "mailbox disconnected")
	return nil
}

// TokenSource returns a source that always reflects the manager's current
// token, refreshing it when expired. It fails with *source.AuthError after
// Disconnect.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &managerTokenSource{ctx: ctx, m: m}
}

// HTTPClient returns a client that authorizes every request with the
// current token. Unlike oauth2.NewClient it does not cache the token, so
// Disconnect takes effect immediately.
func (m *Manager) HTTPClient(ctx context.Context) *http.Client {
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: m.TokenSource(ctx),
			Base:   http.DefaultTransport,
		},
	}
}

// AccessToken returns a valid access token, refreshing first if needed.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	tok, err := m.current(ctx)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

func (m *Manager) current(ctx context.Context) (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config == nil || m.token == nil || m.token.AccessToken == "" {
		return nil, &source.AuthError{Message: "mailbox is not connected"}
	}

	if !m.token.Expiry.IsZero() && !m.token.Expiry.After(m.now().Add(10*time.Second)) {
		if err := m.refreshLocked(ctx); err != nil {
			return nil, &source.AuthError{Message: fmt.Sprintf("refreshing token: %v", err)}
		}
	}

	tok := *m.token
	return &tok, nil
}

type managerTokenSource struct {
	ctx context.Context
	m   *Manager
}

func (s *managerTokenSource) Token() (*oauth2.Token, error) {
	return s.m.current(s.ctx)
}
