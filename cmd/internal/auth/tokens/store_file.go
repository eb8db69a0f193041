package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"blogdesk/cmd/security/seal"
)

// ErrSealedNoPassphrase is returned when the token file is sealed but no passphrase is configured.
var ErrSealedNoPassphrase = errors.New("tokens: file is sealed but no passphrase is configured")

// Sealer encrypts the file body at rest. *seal.Sealer satisfies it.
type Sealer interface {
	Seal(plaintext []byte) (string, error)
	Open(blob string) ([]byte, error)
}

// FileStore persists the pair as a JSON object {"token": ..., "refresh_token": ...}.
//
// Writes are atomic (temp file + rename) with mode 0600. When a Sealer is set
// the body is sealed; plain files written before sealing was enabled are still
// readable and get sealed on the next Save.
type FileStore struct {
	path   string
	sealer Sealer

	mu sync.Mutex
}

// FileOption configures FileStore behavior.
type FileOption func(*FileStore)

// WithSealer enables sealing of the file body.
func WithSealer(s Sealer) FileOption {
	return func(fs *FileStore) {
		if s != nil {
			fs.sealer = s
		}
	}
}

// NewFileStore constructs a FileStore for path.
func NewFileStore(path string, opts ...FileOption) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("tokens: empty file path")
	}
	fs := &FileStore{path: filepath.Clean(path)}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(fs)
	}
	return fs, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Load reads the pair; a missing file yields an empty pair.
func (s *FileStore) Load(ctx context.Context) (Pair, error) {
	if s == nil {
		return Pair{}, ErrNilStore
	}
	if err := ctx.Err(); err != nil {
		return Pair{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Pair{}, nil
	}
	if err != nil {
		return Pair{}, fmt.Errorf("tokens: read %s: %w", s.path, err)
	}

	if seal.IsSealed(raw) {
		if s.sealer == nil {
			return Pair{}, ErrSealedNoPassphrase
		}
		raw, err = s.sealer.Open(string(raw))
		if err != nil {
			return Pair{}, fmt.Errorf("tokens: open %s: %w", s.path, err)
		}
	}

	kv := map[string]string{}
	if len(strings.TrimSpace(string(raw))) > 0 {
		if err := json.Unmarshal(raw, &kv); err != nil {
			return Pair{}, fmt.Errorf("tokens: decode %s: %w", s.path, err)
		}
	}

	return Pair{
		AccessToken:  strings.TrimSpace(kv[KeyAccessToken]),
		RefreshToken: strings.TrimSpace(kv[KeyRefreshToken]),
	}, nil
}

// Save writes the pair atomically.
func (s *FileStore) Save(ctx context.Context, p Pair) error {
	if s == nil {
		return ErrNilStore
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := normalizePair(p)
	if err != nil {
		return err
	}

	body, err := json.Marshal(map[string]string{
		KeyAccessToken:  p.AccessToken,
		KeyRefreshToken: p.RefreshToken,
	})
	if err != nil {
		return err
	}
	if s.sealer != nil {
		blob, err := s.sealer.Seal(body)
		if err != nil {
			return fmt.Errorf("tokens: seal: %w", err)
		}
		body = []byte(blob)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(s.path, body)
}

// Clear removes the file. Missing files are not an error.
func (s *FileStore) Clear(ctx context.Context) error {
	if s == nil {
		return ErrNilStore
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("tokens: remove %s: %w", s.path, err)
	}
	return nil
}

func writeFileAtomic(path string, body []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("tokens: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tokens-*")
	if err != nil {
		return fmt.Errorf("tokens: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
