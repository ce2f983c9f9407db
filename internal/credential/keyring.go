package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
	"golang.org/x/oauth2"
)

const (
	serviceName = "mondzorg-inbox"
	tokenKey    = "mailbox-oauth-token"
)

// openKeyring returns the system keyring, falling back to an encrypted
// file under dir when no native backend is available.
func openKeyring(dir string) (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  dir,
		FilePasswordFunc:         keyring.FixedStringPrompt("mondzorg-inbox-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// KeyringTokenStore keeps the token in the OS credential store.
type KeyringTokenStore struct {
	ring keyring.Keyring
	key  string
}

// NewKeyringTokenStore opens the keyring; fileDir is only used by the
// encrypted-file fallback backend.
func NewKeyringTokenStore(fileDir string) (*KeyringTokenStore, error) {
	ring, err := openKeyring(fileDir)
	if err != nil {
		return nil, err
	}
	return &KeyringTokenStore{ring: ring, key: tokenKey}, nil
}

func (s *KeyringTokenStore) Load() (*oauth2.Token, error) {
	item, err := s.ring.Get(s.key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting credential %q: %w", s.key, err)
	}
	return decodeToken(item.Data)
}

func (s *KeyringTokenStore) Save(tok *oauth2.Token) error {
	data, err := encodeToken(tok)
	if err != nil {
		return err
	}

	err = s.ring.Set(keyring.Item{
		Key:         s.key,
		Data:        data,
		Label:       "Mondzorg inbox mailbox token",
		Description: "OAuth token for the practice mailbox",
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", s.key, err)
	}
	return nil
}

func (s *KeyringTokenStore) Delete() error {
	err := s.ring.Remove(s.key)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", s.key, err)
	}
	return nil
}
