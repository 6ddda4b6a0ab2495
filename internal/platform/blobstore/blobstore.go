// Package blobstore stores document content for the e-signature service:
// the consent forms and agreements put in front of clients, keyed by an
// opaque storage key. It defines the Store interface and an in-memory
// implementation used in development and tests.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

var (
	ErrBlobNotFound = errors.New("blob not found")
	ErrBlobTooLarge = errors.New("blob exceeds maximum allowed size")
	ErrMissingKey   = errors.New("storage key is required")
)

// MaxBlobSize is the maximum allowed blob size in bytes (25 MB).
const MaxBlobSize = 25 * 1024 * 1024

// BlobInfo describes stored content.
type BlobInfo struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	// Hash is the hex SHA-256 of the content. Document version checks
	// compare against this value.
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the contract for blob storage backends.
type Store interface {
	Put(ctx context.Context, key, contentType string, content io.Reader) (*BlobInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, *BlobInfo, error)
	Stat(ctx context.Context, key string) (*BlobInfo, error)
	Delete(ctx context.Context, key string) error
}

type storedBlob struct {
	info    BlobInfo
	content []byte
}

// InMemoryStore is a thread-safe, in-memory Store for testing/dev.
type InMemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]*storedBlob
}

// NewInMemoryStore returns a ready-to-use InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		blobs: make(map[string]*storedBlob),
	}
}

// Put validates the key, reads the content, computes a SHA-256 hash, and
// stores the blob. Writing to an existing key replaces its content.
func (s *InMemoryStore) Put(_ context.Context, key, contentType string, content io.Reader) (*BlobInfo, error) {
	if key == "" {
		return nil, ErrMissingKey
	}

	// Read content into memory so we can measure size and compute hash.
	data, err := io.ReadAll(io.LimitReader(content, MaxBlobSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxBlobSize {
		return nil, ErrBlobTooLarge
	}

	h := sha256.Sum256(data)

	info := BlobInfo{
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(data)),
		Hash:        fmt.Sprintf("%x", h),
		CreatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	s.blobs[key] = &storedBlob{info: info, content: data}
	s.mu.Unlock()

	out := info // copy
	return &out, nil
}

// Get returns an io.ReadCloser over the blob content and its info.
func (s *InMemoryStore) Get(_ context.Context, key string) (io.ReadCloser, *BlobInfo, error) {
	s.mu.RLock()
	blob, ok := s.blobs[key]
	s.mu.RUnlock()

	if !ok {
		return nil, nil, ErrBlobNotFound
	}

	info := blob.info // copy
	return io.NopCloser(bytes.NewReader(blob.content)), &info, nil
}

// Stat returns blob info without content.
func (s *InMemoryStore) Stat(_ context.Context, key string) (*BlobInfo, error) {
	s.mu.RLock()
	blob, ok := s.blobs[key]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrBlobNotFound
	}

	info := blob.info // copy
	return &info, nil
}

// Delete removes a blob by key.
func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[key]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, key)
	return nil
}
