package documents

import (
	"context"

	"github.com/google/uuid"

	"github.com/MentalSpaceTherapy/V2-MentalSpace-EHR-sub006/internal/domain/esign"
)

// Resolver adapts the document service to the summary lookup the signature
// workflow depends on.
type Resolver struct {
	svc *Service
}

func NewResolver(svc *Service) *Resolver {
	return &Resolver{svc: svc}
}

func (r *Resolver) Resolve(ctx context.Context, documentID uuid.UUID) (*esign.DocumentSummary, error) {
	doc, err := r.svc.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return &esign.DocumentSummary{
		ID:          doc.ID,
		Title:       doc.Title,
		ContentType: doc.ContentType,
		ContentHash: doc.ContentHash,
	}, nil
}
