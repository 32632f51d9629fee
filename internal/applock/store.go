package applock

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// SecureStore holds small secrets by key. Missing keys report
// storage.ErrNotFound.
type SecureStore interface {
	GetSecret(ctx context.Context, key string) (string, error)
	SetSecret(ctx context.Context, key, value string) error
	DeleteSecret(ctx context.Context, key string) error
}

// EncryptedStore seals values with AES-256-GCM before handing them to the
// underlying store. The key name is bound as additional data, so a value
// copied under another key fails to open.
type EncryptedStore struct {
	inner SecureStore
	aead  cipher.AEAD
}

var _ SecureStore = (*EncryptedStore)(nil)

var ErrKeySize = errors.New("secure store key must be 32 bytes")

func NewEncryptedStore(inner SecureStore, key []byte) (*EncryptedStore, error) {
	if len(key) != 32 {
		return nil, ErrKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &EncryptedStore{inner: inner, aead: aead}, nil
}

func (s *EncryptedStore) SetSecret(ctx context.Context, key, value string) error {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(value), []byte(key))
	return s.inner.SetSecret(ctx, key, base64.StdEncoding.EncodeToString(sealed))
}

func (s *EncryptedStore) GetSecret(ctx context.Context, key string) (string, error) {
	encoded, err := s.inner.GetSecret(ctx, key)
	if err != nil {
		return "", err
	}
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode secret %s: %w", key, err)
	}
	n := s.aead.NonceSize()
	if len(sealed) < n {
		return "", fmt.Errorf("secret %s is truncated", key)
	}
	plain, err := s.aead.Open(nil, sealed[:n], sealed[n:], []byte(key))
	if err != nil {
		return "", fmt.Errorf("open secret %s: %w", key, err)
	}
	return string(plain), nil
}

func (s *EncryptedStore) DeleteSecret(ctx context.Context, key string) error {
	return s.inner.DeleteSecret(ctx, key)
}
