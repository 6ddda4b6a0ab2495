package documents

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, d *Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*Document, error)
	Update(ctx context.Context, d *Document) error
	ListByCreator(ctx context.Context, createdByID uuid.UUID, limit, offset int) ([]*Document, int, error)
}
