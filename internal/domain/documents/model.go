// Package documents holds the clinical documents that signature requests
// reference: consent forms, treatment agreements, intake packets. Content
// lives in the blob store; this package keeps the reference rows and the
// content hash used to detect document drift between create and sign.
package documents

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("document not found")
	ErrEmptyTitle   = errors.New("document title is required")
	ErrEmptyContent = errors.New("document content is required")
)

// Document is a reference to stored content.
type Document struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Title       string    `json:"title" db:"title"`
	ContentType string    `json:"content_type" db:"content_type"`
	StorageKey  string    `json:"-" db:"storage_key"`
	// ContentHash is the hex SHA-256 of the stored content at upload time.
	ContentHash string    `json:"content_hash" db:"content_hash"`
	SizeBytes   int64     `json:"size_bytes" db:"size_bytes"`
	CreatedByID uuid.UUID `json:"created_by_id" db:"created_by_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
