// Package tokenstore persists OAuth tokens on platforms without an OS
// keychain: an encrypted file under the data dir, sealed with NaCl
// secretbox using a locally generated key. The macOS keychain path is
// the GUI host's concern; this file store is the fallback the daemon
// owns (service com.dailyos.desktop.google-auth, account
// oauth-token-v1).
package tokenstore

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/secretbox"
)

// Service and account names under which the Google OAuth token lives.
const (
	ServiceGoogleAuth = "com.dailyos.desktop.google-auth"
	AccountOAuthToken = "oauth-token-v1"
)

const (
	keySize   = 32
	nonceSize = 24
)

// Store seals and unseals tokens under a directory.
type Store struct {
	dir string
}

// New creates a token store rooted at dir (typically the data dir's
// tokens/ subfolder). The sealing key is created on first use.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Save seals and writes a token for (service, account).
func (s *Store) Save(service, account string, token []byte) error {
	key, err := s.loadOrCreateKey()
	if err != nil {
		return err
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], token, &nonce, key)

	path := s.tokenPath(service, account)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit token: %w", err)
	}
	return nil
}

// Load unseals the token for (service, account). A missing token
// returns (nil, nil).
func (s *Store) Load(service, account string) ([]byte, error) {
	sealed, err := os.ReadFile(s.tokenPath(service, account))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read token: %w", err)
	}
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("token file truncated")
	}

	key, err := s.loadOrCreateKey()
	if err != nil {
		return nil, err
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	token, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, key)
	if !ok {
		return nil, fmt.Errorf("token unseal failed (key changed?)")
	}
	return token, nil
}

// Delete removes a stored token.
func (s *Store) Delete(service, account string) error {
	err := os.Remove(s.tokenPath(service, account))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *Store) tokenPath(service, account string) string {
	return filepath.Join(s.dir, service, account+".sealed")
}

func (s *Store) loadOrCreateKey() (*[keySize]byte, error) {
	keyPath := filepath.Join(s.dir, "key")
	data, err := os.ReadFile(keyPath)
	if err == nil {
		raw, err := hex.DecodeString(string(data))
		if err != nil || len(raw) != keySize {
			return nil, fmt.Errorf("corrupt key file %s", keyPath)
		}
		var key [keySize]byte
		copy(key[:], raw)
		return &key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read key: %w", err)
	}

	var key [keySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return nil, fmt.Errorf("create token dir: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(key[:])), 0o600); err != nil {
		return nil, fmt.Errorf("write key: %w", err)
	}
	return &key, nil
}
