package auth

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrStateCorrupt indicates a sealed value could not be opened with the configured secret.
var ErrStateCorrupt = errors.New("sealed state cannot be opened")

const (
	saltKey  = "__salt"
	saltSize = 16

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// SealedStore encrypts values before handing them to an underlying StateStore.
// The key is derived from a secret with Argon2id; the salt lives next to the data.
type SealedStore struct {
	inner  StateStore
	secret []byte

	mu   sync.Mutex
	aead cipher.AEAD
}

// NewSealedStore wraps inner so values are sealed with a key derived from secret.
func NewSealedStore(inner StateStore, secret string) (*SealedStore, error) {
	if inner == nil {
		return nil, errors.New("sealed store requires an underlying store")
	}
	if secret == "" {
		return nil, errors.New("sealed store requires a secret")
	}
	return &SealedStore{inner: inner, secret: []byte(secret)}, nil
}

func (s *SealedStore) sealer(ctx context.Context) (cipher.AEAD, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.aead != nil {
		return s.aead, nil
	}

	salt, err := s.loadSalt(ctx)
	if err != nil {
		return nil, err
	}

	key := argon2.IDKey(s.secret, salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	s.aead = aead
	return aead, nil
}

func (s *SealedStore) loadSalt(ctx context.Context) ([]byte, error) {
	encoded, err := s.inner.Get(ctx, saltKey)
	switch {
	case err == nil:
		salt, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil || len(salt) != saltSize {
			return nil, fmt.Errorf("%w: malformed salt", ErrStateCorrupt)
		}
		return salt, nil
	case errors.Is(err, ErrStateNotFound):
		salt := make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("generate salt: %w", err)
		}
		if err := s.inner.Set(ctx, saltKey, base64.StdEncoding.EncodeToString(salt)); err != nil {
			return nil, fmt.Errorf("store salt: %w", err)
		}
		return salt, nil
	default:
		return nil, fmt.Errorf("load salt: %w", err)
	}
}

// Get opens the value stored under key.
func (s *SealedStore) Get(ctx context.Context, key string) (string, error) {
	sealed, err := s.inner.Get(ctx, key)
	if err != nil {
		return "", err
	}

	aead, err := s.sealer(ctx)
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil || len(raw) < aead.NonceSize() {
		return "", ErrStateCorrupt
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]

	plain, err := aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return "", ErrStateCorrupt
	}
	return string(plain), nil
}

// Set seals value and stores it under key. The key is bound as additional data.
func (s *SealedStore) Set(ctx context.Context, key, value string) error {
	aead, err := s.sealer(ctx)
	if err != nil {
		return err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(value)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(value), []byte(key))

	return s.inner.Set(ctx, key, base64.StdEncoding.EncodeToString(sealed))
}

// Clear removes key from the underlying store.
func (s *SealedStore) Clear(ctx context.Context, key string) error {
	return s.inner.Clear(ctx, key)
}
