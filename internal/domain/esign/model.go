package esign

import (
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Status is the lifecycle state of a signature request. The lifecycle is
// monotonic: pending -> viewed -> one of the terminal states, and pending may
// jump straight to any terminal state. Nothing leaves a terminal state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusViewed   Status = "viewed"
	StatusSigned   Status = "signed"
	StatusDeclined Status = "declined"
	StatusExpired  Status = "expired"
	StatusRevoked  Status = "revoked"
)

var validStatuses = map[Status]bool{
	StatusPending: true, StatusViewed: true, StatusSigned: true,
	StatusDeclined: true, StatusExpired: true, StatusRevoked: true,
}

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusSigned, StatusDeclined, StatusExpired, StatusRevoked:
		return true
	}
	return false
}

// Signable reports whether a request in state s can still be signed or declined.
func (s Status) Signable() bool {
	return s == StatusPending || s == StatusViewed
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to Status) bool {
	if !validStatuses[from] || !validStatuses[to] || from == to {
		return false
	}
	if from.Terminal() {
		return false
	}
	switch from {
	case StatusPending:
		return true
	case StatusViewed:
		return to.Terminal()
	}
	return false
}

// signableStatuses is the CAS guard set for every writer: a transition only
// commits if the current status is still one of these.
var signableStatuses = []Status{StatusPending, StatusViewed}

// FieldType classifies a signature field placeholder.
type FieldType string

const (
	FieldSignature FieldType = "signature"
	FieldDate      FieldType = "date"
	FieldText      FieldType = "text"
)

var validFieldTypes = map[FieldType]bool{
	FieldSignature: true, FieldDate: true, FieldText: true,
}

// SignatureRequest maps to the signature_request table.
type SignatureRequest struct {
	ID                  uuid.UUID         `db:"id" json:"id"`
	DocumentID          uuid.UUID         `db:"document_id" json:"document_id"`
	RequestedByID       uuid.UUID         `db:"requested_by_id" json:"requested_by_id"`
	RequestedForID      uuid.UUID         `db:"requested_for_id" json:"requested_for_id"`
	AccessToken         string            `db:"access_token" json:"-"`
	Status              Status            `db:"status" json:"status"`
	Message             string            `db:"message" json:"message,omitempty"`
	DocumentVersionHash string            `db:"document_version_hash" json:"document_version_hash"`
	ExpiresAt           time.Time         `db:"expires_at" json:"expires_at"`
	CreatedAt           time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time         `db:"updated_at" json:"updated_at"`
	Fields              []*SignatureField `db:"-" json:"fields"`
}

// SignatureField maps to the signature_field table. Position values are
// layout metadata for the signing page, not a correctness constraint.
type SignatureField struct {
	ID        uuid.UUID `db:"id" json:"id"`
	RequestID uuid.UUID `db:"request_id" json:"request_id"`
	FieldType FieldType `db:"field_type" json:"field_type"`
	Label     string    `db:"label" json:"label"`
	Required  bool      `db:"required" json:"required"`
	SortOrder int       `db:"sort_order" json:"sort_order"`
	X         float64   `db:"pos_x" json:"x"`
	Y         float64   `db:"pos_y" json:"y"`
	Width     float64   `db:"pos_w" json:"width"`
	Height    float64   `db:"pos_h" json:"height"`
	Value     *string   `db:"value" json:"value,omitempty"`
}

// SignedArtifact maps to the signed_artifact table. Exactly one is created,
// on the transition to signed, and it is never mutated afterwards.
type SignedArtifact struct {
	RequestID           uuid.UUID         `db:"request_id" json:"request_id"`
	SignatureImage      []byte            `db:"signature_image" json:"signature_image"`
	FieldValues         map[string]string `db:"field_values" json:"field_values"`
	DocumentVersionHash string            `db:"document_version_hash" json:"document_version_hash"`
	SignedAt            time.Time         `db:"signed_at" json:"signed_at"`
}

// EventType classifies an audit trail entry.
type EventType string

const (
	EventCreated         EventType = "created"
	EventViewed          EventType = "viewed"
	EventSigned          EventType = "signed"
	EventDeclined        EventType = "declined"
	EventExpired         EventType = "expired"
	EventRevoked         EventType = "revoked"
	EventResent          EventType = "resent"
	EventRejectedAttempt EventType = "rejected_attempt"
)

// Actor identifies who caused an audit event.
type Actor string

const (
	ActorRequester Actor = "requester"
	ActorSigner    Actor = "signer"
	ActorSystem    Actor = "system"
)

// SignatureEvent maps to the signature_event table. Events are append-only;
// they are never edited or deleted. IDs are ULIDs so the id order agrees with
// the timestamp order of the trail.
type SignatureEvent struct {
	ID        string    `db:"id" json:"id"`
	RequestID uuid.UUID `db:"request_id" json:"request_id"`
	Type      EventType `db:"event_type" json:"event_type"`
	Actor     Actor     `db:"actor" json:"actor"`
	Detail    string    `db:"detail" json:"detail,omitempty"`
	Timestamp time.Time `db:"occurred_at" json:"occurred_at"`
}

// NewEvent builds an audit event for a request with a fresh ULID and timestamp.
func NewEvent(requestID uuid.UUID, typ EventType, actor Actor, detail string, at time.Time) *SignatureEvent {
	return &SignatureEvent{
		ID:        ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String(),
		RequestID: requestID,
		Type:      typ,
		Actor:     actor,
		Detail:    detail,
		Timestamp: at,
	}
}

// DocumentSummary is the document collaborator's view of a document: enough
// for the signing page plus the content identity used for drift detection.
type DocumentSummary struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	ContentType string    `json:"content_type,omitempty"`
	ContentHash string    `json:"content_hash"`
}

// Party is the identity collaborator's view of a requester or signer.
type Party struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email,omitempty"`
}

// RequestView is what the public signing gateway returns for a resolved token.
type RequestView struct {
	Status          Status            `json:"status"`
	Message         string            `json:"message,omitempty"`
	ExpiresAt       time.Time         `json:"expires_at"`
	Fields          []*SignatureField `json:"fields"`
	DocumentSummary *DocumentSummary  `json:"document_summary,omitempty"`
	RequestedBy     string            `json:"requested_by,omitempty"`
}
