package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mondzorg/inbox/internal/classify"
	"github.com/mondzorg/inbox/internal/credential"
	"github.com/mondzorg/inbox/internal/model"
	"github.com/mondzorg/inbox/internal/source"
	"github.com/mondzorg/inbox/internal/source/email"
	"github.com/mondzorg/inbox/internal/source/gmail"
)

// newProvider builds the configured mailbox backend. Both backends take
// their credentials from the token manager on every call, so a token
// obtained after startup is picked up without a restart.
func newProvider(ctx context.Context, cfg model.MailboxConfig, auth *credential.Manager) (source.Provider, error) {
	switch source.ProviderType(cfg.Provider) {
	case "", source.ProviderTypeGmail:
		p, err := gmail.New(ctx, auth.TokenSource(ctx))
		if err != nil {
			return nil, err
		}
		return p, nil

	case source.ProviderTypeIMAP:
		if cfg.Address == "" {
			return nil, &source.ConfigError{
				Setting: "mailbox.address",
				Err:     errors.New("required for the imap provider"),
			}
		}
		return email.NewIMAPProvider(
			cfg.IMAPHost,
			cfg.IMAPPort,
			email.SMTPConfig{Host: cfg.SMTPHost, Port: cfg.SMTPPort},
			cfg.Address,
			auth.AccessToken,
		), nil

	default:
		return nil, &source.ConfigError{
			Setting: "mailbox.provider",
			Err:     fmt.Errorf("unknown provider %q", cfg.Provider),
		}
	}
}

// newClassifier enables the AI path only when an API key is configured.
func newClassifier(cfg model.AIConfig) *classify.Classifier {
	opts := classify.Options{
		Timeout:           cfg.Timeout,
		RequestsPerMinute: cfg.RequestsPerMinute,
	}
	if !cfg.Enabled() {
		slog.Info("no AI key configured, classifying with keywords only")
		return classify.New(nil, opts)
	}

	completer := classify.NewOpenAICompleter(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.MaxTokens)
	return classify.New(completer, opts)
}
