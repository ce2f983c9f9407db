package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/mondzorg/inbox/internal/source"
)

type tokenServer struct {
	mu     sync.Mutex
	grants []url.Values
	fail   bool
}

func (ts *tokenServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	ts.mu.Lock()
	ts.grants = append(ts.grants, r.PostForm)
	fail := ts.fail
	ts.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if fail {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
		return
	}

	resp := map[string]any{
		"token_type": "Bearer",
		"expires_in": 3600,
	}
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		resp["access_token"] = "access-from-code"
		resp["refresh_token"] = "refresh-1"
	case "refresh_token":
		resp["access_token"] = "access-refreshed"
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (ts *tokenServer) grantTypes() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	var out []string
	for _, g := range ts.grants {
		out = append(out, g.Get("grant_type"))
	}
	return out
}

func writeDescriptor(t *testing.T, dir, kind, tokenURL string, redirects []string) string {
	t.Helper()
	desc := map[string]any{
		kind: map[string]any{
			"client_id":     "client-123.apps.googleusercontent.com",
			"client_secret": "secret",
			"auth_uri":      "https://accounts.example.com/o/oauth2/auth",
			"token_uri":     tokenURL,
			"redirect_uris": redirects,
		},
	}
	data, err := json.Marshal(desc)
	require.NoError(t, err)

	path := filepath.Join(dir, "credentials.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func newTestManager(t *testing.T) (*Manager, *tokenServer, *FileTokenStore) {
	t.Helper()
	ts := &tokenServer{}
	srv := httptest.NewServer(ts)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	descPath := writeDescriptor(t, dir, "installed", srv.URL+"/token", nil)
	store := NewFileTokenStore(filepath.Join(dir, "token.json"))

	m := NewManager(descPath, store)
	ok, err := m.Initialize(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	return m, ts, store
}

func TestInitializeMissingDescriptor(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "absent.json"), NewFileTokenStore(filepath.Join(t.TempDir(), "t.json")))

	ok, err := m.Initialize(context.Background())
	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, source.IsConfigError(err))
	assert.Equal(t, StateUnconfigured, m.State())
	assert.False(t, m.IsAuthenticated())

	_, err = m.AuthCodeURL("x")
	assert.True(t, source.IsConfigError(err))
}

func TestInitializeMalformedDescriptor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"other":{}}`), 0o600))

	ok, err := NewManager(path, NewFileTokenStore(filepath.Join(dir, "t.json"))).Initialize(context.Background())
	assert.False(t, ok)
	assert.True(t, source.IsConfigError(err))
}

func TestInitializeDescriptorKinds(t *testing.T) {
	for _, kind := range []string{"installed", "web"} {
		t.Run(kind, func(t *testing.T) {
			dir := t.TempDir()
			path := writeDescriptor(t, dir, kind, "https://oauth2.example.com/token",
				[]string{"https://inbox.example.nl/oauth2callback"})
			m := NewManager(path, NewFileTokenStore(filepath.Join(dir, "t.json")))

			ok, err := m.Initialize(context.Background())
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, StateConfigured, m.State())

			u, err := m.AuthCodeURL("state-1")
			require.NoError(t, err)
			parsed, err := url.Parse(u)
			require.NoError(t, err)
			q := parsed.Query()
			assert.Equal(t, "offline", q.Get("access_type"))
			assert.Equal(t, "consent", q.Get("prompt"))
			assert.Equal(t, "state-1", q.Get("state"))
			assert.Equal(t, "https://inbox.example.nl/oauth2callback", q.Get("redirect_uri"))
		})
	}
}

func TestDefaultRedirectURL(t *testing.T) {
	m, _, _ := newTestManager(t)

	u, err := m.AuthCodeURL("s")
	require.NoError(t, err)
	parsed, err := url.Parse(u)
	require.NoError(t, err)
	assert.Equal(t, DefaultRedirectURL, parsed.Query().Get("redirect_uri"))
}

func TestDefaultRedirectURLWithoutRedirectKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.json")
	desc := `{"web":{"client_id":"client-123","client_secret":"secret",` +
		`"auth_uri":"https://accounts.example.com/o/oauth2/auth",` +
		`"token_uri":"https://oauth2.example.com/token"}}`
	require.NoError(t, os.WriteFile(path, []byte(desc), 0o600))

	m := NewManager(path, NewFileTokenStore(filepath.Join(dir, "t.json")))
	ok, err := m.Initialize(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	u, err := m.AuthCodeURL("s")
	require.NoError(t, err)
	parsed, err := url.Parse(u)
	require.NoError(t, err)
	assert.Equal(t, DefaultRedirectURL, parsed.Query().Get("redirect_uri"))
	assert.Equal(t, "client-123", parsed.Query().Get("client_id"))
}

func TestExchangeCodePersists(t *testing.T) {
	m, ts, store := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.ExchangeCode(ctx, "code-abc"))
	assert.True(t, m.IsAuthenticated())
	assert.Equal(t, []string{"authorization_code"}, ts.grantTypes())

	saved, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "access-from-code", saved.AccessToken)
	assert.Equal(t, "refresh-1", saved.RefreshToken)

	info, err := os.Stat(store.path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	tok, err := m.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-from-code", tok)
}

func TestEnsureFreshRefreshesExpired(t *testing.T) {
	m, ts, store := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, store.Save(&oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(-time.Hour),
	}))
	_, err := m.Initialize(ctx)
	require.NoError(t, err)
	require.True(t, m.IsAuthenticated())

	m.EnsureFresh(ctx)

	assert.Equal(t, []string{"refresh_token"}, ts.grantTypes())
	tok, err := m.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-refreshed", tok)

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "access-refreshed", saved.AccessToken)
	assert.Equal(t, "refresh-1", saved.RefreshToken)
}

func TestEnsureFreshLeavesValidToken(t *testing.T) {
	m, ts, store := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, store.Save(&oauth2.Token{
		AccessToken:  "still-good",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(time.Hour),
	}))
	_, err := m.Initialize(ctx)
	require.NoError(t, err)

	m.EnsureFresh(ctx)
	assert.Empty(t, ts.grantTypes())
}

func TestEnsureFreshFailureIsSwallowed(t *testing.T) {
	m, ts, store := newTestManager(t)
	ctx := context.Background()
	ts.mu.Lock()
	ts.fail = true
	ts.mu.Unlock()

	require.NoError(t, store.Save(&oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "revoked",
		Expiry:       time.Now().Add(-time.Hour),
	}))
	_, err := m.Initialize(ctx)
	require.NoError(t, err)

	m.EnsureFresh(ctx)
	assert.True(t, m.IsAuthenticated())

	_, err = m.AccessToken(ctx)
	require.Error(t, err)
	assert.True(t, source.IsAuthError(err))
}

func TestDisconnect(t *testing.T) {
	m, _, store := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.ExchangeCode(ctx, "code"))

	require.NoError(t, m.Disconnect(ctx))
	assert.False(t, m.IsAuthenticated())
	assert.Equal(t, StateConfigured, m.State())

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, saved)

	_, err = m.TokenSource(ctx).Token()
	assert.True(t, source.IsAuthError(err))

	// Disconnecting twice is harmless.
	require.NoError(t, m.Disconnect(ctx))
}

func TestHTTPClientAuthorizes(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.ExchangeCode(ctx, "code"))

	var auth string
	var mu sync.Mutex
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auth = r.Header.Get("Authorization")
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(api.Close)

	resp, err := m.HTTPClient(ctx).Get(api.URL)
	require.NoError(t, err)
	resp.Body.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Bearer access-from-code", auth)
}

func TestFileTokenStoreLegacyExpiry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	expiry := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	legacy := fmt.Sprintf(`{"access_token":"a","refresh_token":"r","scope":"https://mail.google.com/","token_type":"Bearer","expiry_date":%d}`, expiry.UnixMilli())
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o600))

	tok, err := NewFileTokenStore(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "a", tok.AccessToken)
	assert.True(t, expiry.Equal(tok.Expiry))
	assert.Equal(t, "https://mail.google.com/", tok.Extra("scope"))
}

func TestFileTokenStoreRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))

	_, err := NewFileTokenStore(path).Load()
	require.Error(t, err)
}

func TestKeyringTokenStore(t *testing.T) {
	s := &KeyringTokenStore{ring: keyring.NewArrayKeyring(nil), key: tokenKey}

	tok, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, tok)

	require.NoError(t, s.Save(&oauth2.Token{AccessToken: "a", RefreshToken: "r"}))
	tok, err = s.Load()
	require.NoError(t, err)
	assert.Equal(t, "a", tok.AccessToken)
	assert.Equal(t, "r", tok.RefreshToken)

	require.NoError(t, s.Delete())
	tok, err = s.Load()
	require.NoError(t, err)
	assert.Nil(t, tok)
	require.NoError(t, s.Delete())
}
