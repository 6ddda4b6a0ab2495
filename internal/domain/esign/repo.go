package esign

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicateToken is returned by RequestRepository.Create when the minted
// access token collides with an existing one. The service retries with a
// fresh token.
var ErrDuplicateToken = errors.New("access token already exists")

// RequestRepository persists signature requests and their fields. Status is
// only ever changed through UpdateStatus so every transition is a
// compare-and-swap against the caller's expected source states.
type RequestRepository interface {
	Create(ctx context.Context, req *SignatureRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*SignatureRequest, error)
	GetByToken(ctx context.Context, accessToken string) (*SignatureRequest, error)
	ListByRequester(ctx context.Context, requesterID uuid.UUID, limit, offset int) ([]*SignatureRequest, int, error)

	// UpdateStatus atomically moves the request to `to` if its current
	// status is one of `from`. It reports whether the swap won.
	UpdateStatus(ctx context.Context, id uuid.UUID, from []Status, to Status) (bool, error)

	// ExtendExpiry pushes expires_at forward for a resend.
	ExtendExpiry(ctx context.Context, id uuid.UUID, expiresAt time.Time) error

	// SetFieldValues writes captured values onto the request's fields.
	// Only called inside the signed commit transaction.
	SetFieldValues(ctx context.Context, requestID uuid.UUID, values map[string]string) error

	// ListExpiryCandidates returns still-signable requests whose expiry has
	// passed, for the reporting sweep.
	ListExpiryCandidates(ctx context.Context, now time.Time, limit int) ([]*SignatureRequest, error)
}

// EventRepository is the audit log. Append-only: there is no update or delete.
type EventRepository interface {
	Append(ctx context.Context, ev *SignatureEvent) error
	ListByRequest(ctx context.Context, requestID uuid.UUID, limit, offset int) ([]*SignatureEvent, int, error)
}

// ArtifactRepository persists signed artifacts. Write-once.
type ArtifactRepository interface {
	Create(ctx context.Context, a *SignedArtifact) error
	GetByRequest(ctx context.Context, requestID uuid.UUID) (*SignedArtifact, error)
}

// TxRunner runs fn inside a storage transaction. Repositories participating
// in the same call see the transaction through the context.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// DocumentResolver is the document store collaborator: documentId to current
// content identity.
type DocumentResolver interface {
	Resolve(ctx context.Context, documentID uuid.UUID) (*DocumentSummary, error)
}

// IdentityResolver is the identity store collaborator: requester/signer id to
// display info.
type IdentityResolver interface {
	Lookup(ctx context.Context, id uuid.UUID) (*Party, error)
}

// Notifier dispatches notifications about request lifecycle changes. Delivery
// is owned by the notifier: at-least-once, independently retried, and never
// allowed to block or roll back a signing transaction, so implementations
// must return immediately.
type Notifier interface {
	Notify(templateID, recipient string, data map[string]string)
}
