// Package store provides the agent's app-scoped durable storage: a small
// key-value store whose values are encrypted at rest with AES-256-GCM.
// Only the baseline snapshot and the anonymous device token live here.
package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/hkdf"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("store: key not found")

// Store is the durable KV interface the agent components depend on.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

// DeriveKey stretches an app-provided secret into the 32-byte store key.
// The salt binds the key to this store so the same secret can be reused
// elsewhere without key reuse.
func DeriveKey(secret []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, []byte("securus-store-v1"), []byte("data-at-rest"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("store: derive key: %w", err)
	}
	return key, nil
}

// FileStore keeps one encrypted file per key under a private directory.
type FileStore struct {
	mu   sync.Mutex
	dir  string
	aead cipher.AEAD
}

// NewFileStore opens (creating if needed) the store directory and prepares
// the AEAD from a 32-byte key; use DeriveKey to produce one.
func NewFileStore(dir string, key []byte) (*FileStore, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("store: key must be 32 bytes, got %d", len(key))
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", dir, err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &FileStore{dir: dir, aead: aead}, nil
}

func (s *FileStore) path(key string) string {
	// Keys are fixed identifiers; hash them anyway so no semantic name
	// lands on disk.
	sum := sha256.Sum256([]byte(key))
	name := strings.ToLower(base64.RawURLEncoding.EncodeToString(sum[:12]))
	return filepath.Join(s.dir, name+".bin")
}

// Get decrypts and returns the value for key.
func (s *FileStore) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: read %s: %w", key, err)
	}
	if len(raw) < s.aead.NonceSize() {
		return nil, fmt.Errorf("store: value for %s truncated", key)
	}
	nonce, ct := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("store: decrypt %s: %w", key, err)
	}
	return plain, nil
}

// Set encrypts and persists value under key. Writes go through a temp file
// and rename so a crash never leaves a half-written record readable.
func (s *FileStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("store: nonce: %w", err)
	}
	blob := append(nonce, s.aead.Seal(nil, nonce, value, nil)...)
	dst := s.path(key)
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return fmt.Errorf("store: write %s: %w", key, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("store: commit %s: %w", key, err)
	}
	return nil
}

// Delete removes the value for key; deleting a missing key is not an error.
func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	return nil
}

// MemStore is an in-memory Store for tests and hosts without durable storage.
type MemStore struct {
	mu sync.RWMutex
	m  map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{m: make(map[string][]byte)}
}

func (s *MemStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (s *MemStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.m[key] = cp
	return nil
}

func (s *MemStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}
