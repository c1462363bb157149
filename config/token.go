package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const tokenFileName = "access_token"

// TokenStore persists the RAG.OS access token under the data directory and
// hands it to the transport layer. The RAGOS_ACCESS_TOKEN environment variable
// overrides the stored token, which keeps scripted use possible without
// touching the store. Token refresh is the server operator's problem, not ours.
type TokenStore struct {
	dataDir    string
	encryption *EncryptionManager
}

// NewTokenStore creates a token store rooted at dataDir. The encryption
// manager may be nil, in which case the token is stored in plaintext (0600).
func NewTokenStore(dataDir string, encryption *EncryptionManager) *TokenStore {
	return &TokenStore{
		dataDir:    dataDir,
		encryption: encryption,
	}
}

func (t *TokenStore) tokenPath() string {
	return filepath.Join(t.dataDir, tokenFileName)
}

// Token returns the current access token, or "" when none is available.
// Implements the transport layer's token provider.
func (t *TokenStore) Token() string {
	if tok := os.Getenv("RAGOS_ACCESS_TOKEN"); tok != "" {
		return tok
	}

	data, err := os.ReadFile(t.tokenPath())
	if err != nil {
		return ""
	}

	if t.encryption != nil {
		plain, err := t.encryption.Decrypt(data)
		if err != nil {
			if DebugLog != nil {
				DebugLog.Printf("[TokenStore] Failed to decrypt stored token: %v", err)
			}
			return ""
		}
		data = plain
	}

	return strings.TrimSpace(string(data))
}

// Save persists the access token (encrypted when an encryption manager is set).
func (t *TokenStore) Save(token string) error {
	if err := EnsureDir(t.dataDir); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data := []byte(token)
	if t.encryption != nil {
		sealed, err := t.encryption.Encrypt(data)
		if err != nil {
			return fmt.Errorf("failed to encrypt token: %w", err)
		}
		data = sealed
	}

	// 0600 - the token grants full account access
	if err := os.WriteFile(t.tokenPath(), data, 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}

	return nil
}

// Clear removes the stored token. Missing files are not an error.
func (t *TokenStore) Clear() error {
	err := os.Remove(t.tokenPath())
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
