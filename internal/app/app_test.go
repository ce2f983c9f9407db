package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mondzorg/inbox/internal/credential"
	"github.com/mondzorg/inbox/internal/model"
	"github.com/mondzorg/inbox/internal/source"
)

func testConfig(t *testing.T) *model.AppConfig {
	t.Helper()
	dir := t.TempDir()
	return &model.AppConfig{
		Env:      "development",
		Database: model.DatabaseConfig{Path: ":memory:"},
		Mailbox: model.MailboxConfig{
			Provider:        "gmail",
			CredentialsPath: filepath.Join(dir, "missing.json"),
			TokenPath:       filepath.Join(dir, "token.json"),
			TokenBackend:    "file",
		},
	}
}

func TestNewWithoutDescriptor(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.Equal(t, credential.StateUnconfigured, a.Auth.State())
	assert.False(t, a.Classifier.AIEnabled())

	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	a.Router().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/mailbox/sync", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestNewRejectsUnknownSettings(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mailbox.Provider = "pop3"
	_, err := New(context.Background(), cfg)
	assert.True(t, source.IsConfigError(err))

	cfg = testConfig(t)
	cfg.Mailbox.Provider = "imap"
	_, err = New(context.Background(), cfg)
	assert.True(t, source.IsConfigError(err), "imap needs a mailbox address")

	cfg = testConfig(t)
	cfg.Mailbox.TokenBackend = "vault"
	_, err = New(context.Background(), cfg)
	assert.True(t, source.IsConfigError(err))
}

func TestNewIMAPProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mailbox.Provider = "imap"
	cfg.Mailbox.Address = "praktijk@example.nl"
	cfg.AI.APIKey = "test-key"

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.Equal(t, source.ProviderTypeIMAP, a.Provider.Type())
	assert.True(t, a.Classifier.AIEnabled())
}
