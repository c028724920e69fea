package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// FileStore keeps per-provider tokens in a JSON file. Tokens written by an
// external refresher (or SetToken) are picked up on the next read, so the
// store re-reads the file on every Token call instead of caching.
type FileStore struct {
	path string
	mu   sync.Mutex
}

type storedToken struct {
	AccessToken string     `json:"access_token"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

type tokenFile struct {
	Tokens map[string]storedToken `json:"tokens"`
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Source returns a TokenSource view scoped to one provider.
func (s *FileStore) Source(provider string) TokenSource {
	return &fileSource{store: s, provider: provider}
}

// Token returns the stored token for a provider, rejecting expired entries.
func (s *FileStore) Token(ctx context.Context, provider string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tf, err := s.read()
	if err != nil {
		return "", err
	}

	tok, ok := tf.Tokens[provider]
	if !ok || tok.AccessToken == "" {
		return "", fmt.Errorf("no token stored for provider %s", provider)
	}
	if tok.ExpiresAt != nil && time.Now().After(*tok.ExpiresAt) {
		return "", fmt.Errorf("token for provider %s expired at %s", provider, tok.ExpiresAt.Format(time.RFC3339))
	}
	return tok.AccessToken, nil
}

// SetToken stores or replaces a provider's token. A nil expiry means the
// token does not expire.
func (s *FileStore) SetToken(ctx context.Context, provider, token string, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tf, err := s.read()
	if err != nil {
		return err
	}
	if tf.Tokens == nil {
		tf.Tokens = make(map[string]storedToken)
	}
	tf.Tokens[provider] = storedToken{AccessToken: token, ExpiresAt: expiresAt}

	if err := s.write(tf); err != nil {
		return err
	}

	log.WithField("provider", provider).Debug("Stored provider token")
	return nil
}

// DeleteToken removes a provider's token. Deleting a missing token is a no-op.
func (s *FileStore) DeleteToken(ctx context.Context, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tf, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := tf.Tokens[provider]; !ok {
		return nil
	}
	delete(tf.Tokens, provider)
	return s.write(tf)
}

// read loads the token file, treating a missing file as empty.
func (s *FileStore) read() (*tokenFile, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &tokenFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	return &tf, nil
}

// write persists the token file with owner-only permissions, replacing it
// atomically so concurrent readers never see a partial write.
func (s *FileStore) write(tf *tokenFile) error {
	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token file: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tokens-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp token file: %w", err)
	}
	tmpName := tmp.Name()

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to set token file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close token file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}

type fileSource struct {
	store    *FileStore
	provider string
}

func (f *fileSource) Token(ctx context.Context) (string, error) {
	return f.store.Token(ctx, f.provider)
}
