package seal

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	formatVersion = 1
	keyLen        = 32
	nonceLen      = 24
)

// Sealer seals and opens blobs with a passphrase-derived key.
type Sealer struct {
	passphrase []byte
	params     Params
}

// New returns a Sealer. The passphrase is used as raw bytes.
func New(passphrase string, params Params) (*Sealer, error) {
	if strings.TrimSpace(passphrase) == "" {
		return nil, ErrEmptyPassphrase
	}
	if params.SaltLength == 0 {
		params = DefaultParams()
	}
	return &Sealer{passphrase: []byte(passphrase), params: params}, nil
}

// Seal encrypts plaintext and returns the encoded blob.
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	salt := make([]byte, s.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}
	var nonce [nonceLen]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}

	key := s.derive(salt, s.params)
	box := secretbox.Seal(nonce[:], plaintext, &nonce, &key)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf(
		"$seal$v=%d$m=%d,t=%d,p=%d$%s$%s",
		formatVersion,
		s.params.MemoryKiB,
		s.params.Iterations,
		s.params.Parallelism,
		b64.EncodeToString(salt),
		b64.EncodeToString(box),
	), nil
}

// Open decrypts a blob produced by Seal.
func (s *Sealer) Open(blob string) ([]byte, error) {
	params, salt, box, err := decode(blob)
	if err != nil {
		return nil, err
	}
	if !withinBounds(params, s.params) {
		return nil, ErrMalformed
	}
	if len(box) < nonceLen+secretbox.Overhead {
		return nil, ErrMalformed
	}

	var nonce [nonceLen]byte
	copy(nonce[:], box[:nonceLen])

	key := s.derive(salt, params)
	out, ok := secretbox.Open(nil, box[nonceLen:], &nonce, &key)
	if !ok {
		return nil, ErrOpenFailed
	}
	return out, nil
}

// IsSealed reports whether data looks like a sealed blob.
func IsSealed(data []byte) bool {
	return strings.HasPrefix(strings.TrimSpace(string(data)), "$seal$")
}

func (s *Sealer) derive(salt []byte, p Params) [keyLen]byte {
	var key [keyLen]byte
	copy(key[:], argon2.IDKey(s.passphrase, salt, p.Iterations, p.MemoryKiB, p.Parallelism, keyLen))
	return key
}

func decode(blob string) (Params, []byte, []byte, error) {
	// "", "seal", "v=1", "m=..,t=..,p=..", salt, box
	parts := strings.Split(strings.TrimSpace(blob), "$")
	if len(parts) != 6 || parts[1] != "seal" {
		return Params{}, nil, nil, ErrMalformed
	}

	var v int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &v); err != nil || v != formatVersion {
		return Params{}, nil, nil, ErrMalformed
	}

	var p Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.MemoryKiB, &p.Iterations, &p.Parallelism); err != nil {
		return Params{}, nil, nil, ErrMalformed
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return Params{}, nil, nil, ErrMalformed
	}
	box, err := b64.DecodeString(parts[5])
	if err != nil {
		return Params{}, nil, nil, ErrMalformed
	}
	p.SaltLength = uint32(len(salt)) // #nosec G115 -- bounded by blob size.
	return p, salt, box, nil
}
