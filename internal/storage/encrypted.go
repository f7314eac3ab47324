package storage

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Argon2id parameters for deriving the sealing key from the passphrase.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	saltSize     = 16
)

// EncryptedFileStore is a Store persisted as a single sealed blob:
// argon2id-derived key, XChaCha20-Poly1305 encryption. The on-disk
// layout is salt || nonce || ciphertext.
type EncryptedFileStore struct {
	mu         sync.RWMutex
	data       map[string]string
	filePath   string
	passphrase []byte
}

// NewEncryptedFileStore creates an encrypted store backed by the given
// path and loads any existing contents. A missing file is not an error.
// A file that fails to decrypt (wrong passphrase, corruption) is treated
// as corrupt and discarded.
func NewEncryptedFileStore(filePath string, passphrase []byte) (*EncryptedFileStore, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("passphrase must not be empty")
	}

	s := &EncryptedFileStore{
		data:       make(map[string]string),
		filePath:   filePath,
		passphrase: passphrase,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *EncryptedFileStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (s *EncryptedFileStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = value
	return s.saveLocked()
}

func (s *EncryptedFileStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return s.saveLocked()
}

func (s *EncryptedFileStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// deriveKey derives the sealing key for the given salt
func (s *EncryptedFileStore) deriveKey(salt []byte) []byte {
	return argon2.IDKey(s.passphrase, salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
}

func (s *EncryptedFileStore) load() error {
	blob, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read store file: %w", err)
	}

	if len(blob) < saltSize+chacha20poly1305.NonceSizeX {
		// Too short to be a valid sealed blob - start fresh
		return nil
	}

	salt := blob[:saltSize]
	nonce := blob[saltSize : saltSize+chacha20poly1305.NonceSizeX]
	ciphertext := blob[saltSize+chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(s.deriveKey(salt))
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		// Undecryptable - start fresh rather than failing
		return nil
	}

	var contents map[string]string
	if err := json.Unmarshal(plaintext, &contents); err != nil {
		return nil
	}

	s.data = contents
	return nil
}

// saveLocked seals and persists the store. Caller must hold mu.
func (s *EncryptedFileStore) saveLocked() error {
	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	plaintext, err := json.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	aead, err := chacha20poly1305.NewX(s.deriveKey(salt))
	if err != nil {
		return fmt.Errorf("failed to create cipher: %w", err)
	}

	blob := make([]byte, 0, saltSize+chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = aead.Seal(blob, nonce, plaintext, nil)

	// Write to temp file then rename (atomic)
	tempFile := s.filePath + ".tmp"
	if err := os.WriteFile(tempFile, blob, 0600); err != nil {
		return fmt.Errorf("failed to write store: %w", err)
	}

	if err := os.Rename(tempFile, s.filePath); err != nil {
		return fmt.Errorf("failed to rename store file: %w", err)
	}

	return nil
}
