package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MentalSpaceTherapy/V2-MentalSpace-EHR-sub006/internal/domain/esign"
)

// Service exposes person lookups and registration.
type Service struct {
	repo Repository
	log  zerolog.Logger
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With().Str("component", "identity").Logger(),
	}
}

type RegisterInput struct {
	Kind      Kind
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*Person, error) {
	now := time.Now().UTC()
	p := &Person{
		ID:        uuid.New(),
		Kind:      in.Kind,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Email:     in.Email,
		Phone:     in.Phone,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	s.log.Info().Str("person_id", p.ID.String()).Str("kind", string(p.Kind)).Msg("person registered")
	return p, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Person, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByEmail(ctx context.Context, email string) (*Person, error) {
	return s.repo.GetByEmail(ctx, email)
}

func (s *Service) ListByKind(ctx context.Context, kind Kind, limit, offset int) ([]*Person, int, error) {
	return s.repo.ListByKind(ctx, kind, limit, offset)
}

// Lookup satisfies the signature workflow's party resolver.
func (s *Service) Lookup(ctx context.Context, id uuid.UUID) (*esign.Party, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &esign.Party{
		ID:    p.ID,
		Name:  p.DisplayName(),
		Email: p.Email,
	}, nil
}
