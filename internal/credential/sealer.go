package credential

import (
	"crypto/rand"
	"encoding/base64"
	"io"

	"github.com/jobs/integration-engine/pkg/errors"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

// Sealer 使用 secretbox 加密密文, 输出格式为 nonce || box
type Sealer struct {
	key [keySize]byte
}

func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != keySize {
		return nil, errors.Newf("secret key must be %d bytes, got %d", keySize, len(key))
	}
	s := &Sealer{}
	copy(s.key[:], key)
	return s, nil
}

// NewSealerFromBase64 decodes a base64 key. An empty key yields a random
// process-local key, so sealed values do not survive a restart.
func NewSealerFromBase64(encoded string) (*Sealer, bool, error) {
	if encoded == "" {
		key := make([]byte, keySize)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return nil, false, errors.Wrap(err, "generate secret key")
		}
		s, err := NewSealer(key)
		return s, true, err
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false, errors.Wrap(err, "decode secret key")
	}
	s, err := NewSealer(key)
	return s, false, err
}

func (s *Sealer) Seal(plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, errors.Wrap(err, "generate nonce")
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &s.key), nil
}

func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, errors.New("sealed secret is too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, errors.New("secret cannot be opened with the configured key")
	}
	return plain, nil
}
