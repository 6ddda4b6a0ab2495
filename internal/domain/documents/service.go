package documents

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MentalSpaceTherapy/V2-MentalSpace-EHR-sub006/internal/platform/blobstore"
)

// Service manages document references and their stored content.
type Service struct {
	repo  Repository
	blobs blobstore.Store
	log   zerolog.Logger
}

func NewService(repo Repository, blobs blobstore.Store, log zerolog.Logger) *Service {
	return &Service{
		repo:  repo,
		blobs: blobs,
		log:   log.With().Str("component", "documents").Logger(),
	}
}

// CreateInput describes a document upload.
type CreateInput struct {
	Title       string
	ContentType string
	Content     []byte
	CreatedByID uuid.UUID
}

// Create stores the content in the blob store and records a reference row.
// The content hash captured here is what signature requests pin against.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Document, error) {
	if in.Title == "" {
		return nil, ErrEmptyTitle
	}
	if len(in.Content) == 0 {
		return nil, ErrEmptyContent
	}
	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/pdf"
	}

	id := uuid.New()
	key := "documents/" + id.String()

	info, err := s.blobs.Put(ctx, key, contentType, bytes.NewReader(in.Content))
	if err != nil {
		return nil, fmt.Errorf("store document content: %w", err)
	}

	now := time.Now().UTC()
	doc := &Document{
		ID:          id,
		Title:       in.Title,
		ContentType: contentType,
		StorageKey:  key,
		ContentHash: info.Hash,
		SizeBytes:   info.Size,
		CreatedByID: in.CreatedByID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.Create(ctx, doc); err != nil {
		// Content without a reference row is unreachable; clean it up.
		if delErr := s.blobs.Delete(ctx, key); delErr != nil {
			s.log.Warn().Err(delErr).Str("key", key).Msg("orphaned blob cleanup failed")
		}
		return nil, err
	}

	s.log.Info().Str("document_id", id.String()).Str("hash", info.Hash).Msg("document created")
	return doc, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Document, error) {
	return s.repo.GetByID(ctx, id)
}

// Content streams the stored content for a document.
func (s *Service) Content(ctx context.Context, id uuid.UUID) (io.ReadCloser, *Document, error) {
	doc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, _, err := s.blobs.Get(ctx, doc.StorageKey)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch document content: %w", err)
	}
	return rc, doc, nil
}

// Replace swaps the stored content for a document, updating its hash. Any
// signature request pinned to the previous hash will refuse completion.
func (s *Service) Replace(ctx context.Context, id uuid.UUID, contentType string, content []byte) (*Document, error) {
	if len(content) == 0 {
		return nil, ErrEmptyContent
	}
	doc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = doc.ContentType
	}

	info, err := s.blobs.Put(ctx, doc.StorageKey, contentType, bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("store document content: %w", err)
	}

	doc.ContentType = contentType
	doc.ContentHash = info.Hash
	doc.SizeBytes = info.Size
	doc.UpdatedAt = time.Now().UTC()

	if err := s.repo.Update(ctx, doc); err != nil {
		return nil, err
	}
	s.log.Info().Str("document_id", id.String()).Str("hash", info.Hash).Msg("document content replaced")
	return doc, nil
}

func (s *Service) ListByCreator(ctx context.Context, createdByID uuid.UUID, limit, offset int) ([]*Document, int, error) {
	return s.repo.ListByCreator(ctx, createdByID, limit, offset)
}
