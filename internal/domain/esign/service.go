package esign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultExpiryDays applies when a create request does not set one.
	DefaultExpiryDays = 14
	// MaxExpiryDays bounds how far out a signing link may stay valid.
	MaxExpiryDays = 365
	// ResendExtensionDays is how far a resend pushes the expiry from now.
	ResendExtensionDays = 7

	maxTextValueLen = 4096
	maxMessageLen   = 2048

	tokenMintAttempts = 3
)

// errLostRace signals a compare-and-swap loss inside a commit transaction.
var errLostRace = errors.New("status swap lost")

// Service owns the signature request lifecycle. It is the only writer of
// request status, and every transition it performs is paired with exactly one
// audit event appended in the same transaction.
type Service struct {
	requests  RequestRepository
	events    EventRepository
	artifacts ArtifactRepository
	tx        TxRunner
	docs      DocumentResolver
	idents    IdentityResolver
	notifier  Notifier
	log       zerolog.Logger
	linkBase  string
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the service clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLinkBase sets the public URL prefix used to build signing links.
func WithLinkBase(base string) Option {
	return func(s *Service) { s.linkBase = base }
}

func NewService(
	requests RequestRepository,
	events EventRepository,
	artifacts ArtifactRepository,
	tx TxRunner,
	docs DocumentResolver,
	idents IdentityResolver,
	notifier Notifier,
	log zerolog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		requests:  requests,
		events:    events,
		artifacts: artifacts,
		tx:        tx,
		docs:      docs,
		idents:    idents,
		notifier:  notifier,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// -- Create --

// FieldInput describes one requested field in a create call.
type FieldInput struct {
	FieldType FieldType `json:"field_type"`
	Label     string    `json:"label"`
	Required  bool      `json:"required"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Width     float64   `json:"width"`
	Height    float64   `json:"height"`
}

// CreateRequestInput is the payload for CreateRequest.
type CreateRequestInput struct {
	DocumentID     uuid.UUID    `json:"document_id"`
	RequestedByID  uuid.UUID    `json:"requested_by_id"`
	RequestedForID uuid.UUID    `json:"requested_for_id"`
	ExpiresInDays  int          `json:"expires_in_days"`
	Message        string       `json:"message"`
	Fields         []FieldInput `json:"fields"`
}

// CreateRequest validates the layout, resolves the document, mints an access
// token and persists the request as pending together with its created event.
func (s *Service) CreateRequest(ctx context.Context, in CreateRequestInput) (*SignatureRequest, error) {
	if err := validateCreateInput(in); err != nil {
		return nil, err
	}

	doc, err := s.docs.Resolve(ctx, in.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDocument, in.DocumentID)
	}

	days := in.ExpiresInDays
	if days == 0 {
		days = DefaultExpiryDays
	}

	now := s.now().UTC()
	req := &SignatureRequest{
		ID:                  uuid.New(),
		DocumentID:          in.DocumentID,
		RequestedByID:       in.RequestedByID,
		RequestedForID:      in.RequestedForID,
		Status:              StatusPending,
		Message:             in.Message,
		DocumentVersionHash: doc.ContentHash,
		ExpiresAt:           now.AddDate(0, 0, days),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	for i, f := range in.Fields {
		req.Fields = append(req.Fields, &SignatureField{
			ID:        uuid.New(),
			RequestID: req.ID,
			FieldType: f.FieldType,
			Label:     f.Label,
			Required:  f.Required,
			SortOrder: i,
			X:         f.X,
			Y:         f.Y,
			Width:     f.Width,
			Height:    f.Height,
		})
	}

	// Token collisions are astronomically rare but cheap to survive.
	var created bool
	for attempt := 0; attempt < tokenMintAttempts && !created; attempt++ {
		token, err := NewAccessToken(in.DocumentID)
		if err != nil {
			return nil, err
		}
		req.AccessToken = token

		err = s.tx.WithTx(ctx, func(ctx context.Context) error {
			if err := s.requests.Create(ctx, req); err != nil {
				return err
			}
			return s.events.Append(ctx, NewEvent(req.ID, EventCreated, ActorRequester, "", now))
		})
		switch {
		case err == nil:
			created = true
		case errors.Is(err, ErrDuplicateToken):
			continue
		default:
			return nil, err
		}
	}
	if !created {
		return nil, fmt.Errorf("mint access token: exhausted %d attempts", tokenMintAttempts)
	}

	s.notifySigner(ctx, req, doc, "signature-request")

	s.log.Info().
		Str("request_id", req.ID.String()).
		Str("document_id", req.DocumentID.String()).
		Time("expires_at", req.ExpiresAt).
		Msg("signature request created")
	return req, nil
}

func validateCreateInput(in CreateRequestInput) error {
	problems := map[string]string{}
	if in.DocumentID == uuid.Nil {
		problems["document_id"] = "required"
	}
	if in.RequestedByID == uuid.Nil {
		problems["requested_by_id"] = "required"
	}
	if in.RequestedForID == uuid.Nil {
		problems["requested_for_id"] = "required"
	}
	if in.ExpiresInDays < 0 || in.ExpiresInDays > MaxExpiryDays {
		problems["expires_in_days"] = fmt.Sprintf("must be between 1 and %d", MaxExpiryDays)
	}
	if len(in.Message) > maxMessageLen {
		problems["message"] = "too long"
	}
	if len(problems) > 0 {
		return &ValidationError{Fields: problems}
	}

	if len(in.Fields) == 0 {
		return fmt.Errorf("%w: at least one field is required", ErrInvalidFieldLayout)
	}
	for i, f := range in.Fields {
		if !validFieldTypes[f.FieldType] {
			return fmt.Errorf("%w: field %d has unknown type %q", ErrInvalidFieldLayout, i, f.FieldType)
		}
		if f.Label == "" {
			return fmt.Errorf("%w: field %d has no label", ErrInvalidFieldLayout, i)
		}
	}
	return nil
}

// -- Resolve (public gateway) --

// Resolve maps an access token to a request view for the signing page. The
// first resolve of a pending request flips it to viewed exactly once; later
// resolves are idempotent reads. Revoked and unknown tokens are
// indistinguishable.
func (s *Service) Resolve(ctx context.Context, accessToken string) (*RequestView, error) {
	req, err := s.requests.GetByToken(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if req.Status == StatusRevoked {
		return nil, ErrNotFound
	}

	if err := s.expireIfDue(ctx, req); err != nil {
		return nil, err
	}

	if req.Status == StatusPending {
		var won bool
		err := s.tx.WithTx(ctx, func(ctx context.Context) error {
			var err error
			won, err = s.requests.UpdateStatus(ctx, req.ID, []Status{StatusPending}, StatusViewed)
			if err != nil || !won {
				return err
			}
			return s.events.Append(ctx, NewEvent(req.ID, EventViewed, ActorSigner, "", s.now().UTC()))
		})
		if err != nil {
			return nil, err
		}
		if won {
			req.Status = StatusViewed
		} else {
			// Lost a race with another writer; re-read and apply the same
			// visibility rules to whatever it became.
			req, err = s.requests.GetByID(ctx, req.ID)
			if err != nil {
				return nil, err
			}
			if req.Status == StatusRevoked {
				return nil, ErrNotFound
			}
			if req.Status == StatusExpired {
				return nil, stateErr(StatusExpired, ErrExpired)
			}
		}
	}

	view := &RequestView{
		Status:    req.Status,
		Message:   req.Message,
		ExpiresAt: req.ExpiresAt,
		Fields:    req.Fields,
	}
	if doc, err := s.docs.Resolve(ctx, req.DocumentID); err == nil {
		view.DocumentSummary = doc
	} else {
		s.log.Warn().Err(err).Str("request_id", req.ID.String()).Msg("document summary unavailable")
	}
	if party, err := s.idents.Lookup(ctx, req.RequestedByID); err == nil {
		view.RequestedBy = party.Name
	}
	return view, nil
}

// expireIfDue applies the lazy expiration check: a still-signable request
// whose expiry has passed is flipped to expired with its event, and the
// caller gets an Expired error. Already-expired requests error without a new
// event, keeping the transition/event pairing one-to-one.
func (s *Service) expireIfDue(ctx context.Context, req *SignatureRequest) error {
	if req.Status == StatusExpired {
		return stateErr(StatusExpired, ErrExpired)
	}
	if !req.Status.Signable() || !s.now().After(req.ExpiresAt) {
		return nil
	}

	var won bool
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		won, err = s.requests.UpdateStatus(ctx, req.ID, signableStatuses, StatusExpired)
		if err != nil || !won {
			return err
		}
		return s.events.Append(ctx, NewEvent(req.ID, EventExpired, ActorSystem, "", s.now().UTC()))
	})
	if err != nil {
		return err
	}
	if !won {
		// Another writer got there first; reflect whatever it did.
		cur, err := s.requests.GetByID(ctx, req.ID)
		if err != nil {
			return err
		}
		req.Status = cur.Status
		if cur.Status == StatusExpired {
			return stateErr(StatusExpired, ErrExpired)
		}
		return nil
	}
	req.Status = StatusExpired
	return stateErr(StatusExpired, ErrExpired)
}

// -- Submit / Decline --

// SubmitSignature validates the captured values against the request's field
// layout and commits the completion. Artifact insert, status swap and the
// signed event land in one transaction; a racing submit loses the
// compare-and-swap, writes nothing, and gets RequestNotSignable.
func (s *Service) SubmitSignature(ctx context.Context, accessToken string, fieldValues map[string]string, signatureImage []byte) (*SignedArtifact, error) {
	req, err := s.signableByToken(ctx, accessToken, "submit")
	if err != nil {
		return nil, err
	}

	if err := validateFieldValues(req.Fields, fieldValues, signatureImage); err != nil {
		return nil, err
	}

	doc, err := s.docs.Resolve(ctx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDocument, req.DocumentID)
	}
	if doc.ContentHash != req.DocumentVersionHash {
		s.appendRejection(ctx, req.ID, "document content changed since request creation")
		return nil, ErrDocumentChanged
	}

	now := s.now().UTC()
	artifact := &SignedArtifact{
		RequestID:           req.ID,
		SignatureImage:      signatureImage,
		FieldValues:         fieldValues,
		DocumentVersionHash: req.DocumentVersionHash,
		SignedAt:            now,
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		won, err := s.requests.UpdateStatus(ctx, req.ID, signableStatuses, StatusSigned)
		if err != nil {
			return err
		}
		if !won {
			return errLostRace
		}
		if err := s.requests.SetFieldValues(ctx, req.ID, fieldValues); err != nil {
			return err
		}
		if err := s.artifacts.Create(ctx, artifact); err != nil {
			return err
		}
		return s.events.Append(ctx, NewEvent(req.ID, EventSigned, ActorSigner, "", now))
	})
	if err != nil {
		if errors.Is(err, errLostRace) {
			return nil, s.notSignable(ctx, req.ID, "submit")
		}
		return nil, err
	}

	s.notifyRequester(ctx, req, doc, "signature-completed", map[string]string{
		"signed_at": now.Format(time.RFC3339),
	})

	s.log.Info().Str("request_id", req.ID.String()).Msg("signature request signed")
	return artifact, nil
}

// DeclineSignature records the signer's refusal with the given reason.
func (s *Service) DeclineSignature(ctx context.Context, accessToken, reason string) error {
	req, err := s.signableByToken(ctx, accessToken, "decline")
	if err != nil {
		return err
	}

	now := s.now().UTC()
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		won, err := s.requests.UpdateStatus(ctx, req.ID, signableStatuses, StatusDeclined)
		if err != nil {
			return err
		}
		if !won {
			return errLostRace
		}
		return s.events.Append(ctx, NewEvent(req.ID, EventDeclined, ActorSigner, reason, now))
	})
	if err != nil {
		if errors.Is(err, errLostRace) {
			return s.notSignable(ctx, req.ID, "decline")
		}
		return err
	}

	var doc *DocumentSummary
	if d, derr := s.docs.Resolve(ctx, req.DocumentID); derr == nil {
		doc = d
	}
	s.notifyRequester(ctx, req, doc, "signature-declined", map[string]string{"reason": reason})

	s.log.Info().Str("request_id", req.ID.String()).Msg("signature request declined")
	return nil
}

// signableByToken runs preconditions (1)-(3) shared by submit and decline.
func (s *Service) signableByToken(ctx context.Context, accessToken, op string) (*SignatureRequest, error) {
	req, err := s.requests.GetByToken(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if req.Status == StatusRevoked {
		return nil, ErrNotFound
	}
	if err := s.expireIfDue(ctx, req); err != nil {
		return nil, err
	}
	if !req.Status.Signable() {
		return nil, s.notSignable(ctx, req.ID, op)
	}
	return req, nil
}

// notSignable re-reads the current status, records the refused attempt in the
// audit trail and returns the caller-facing error for a conflict loser.
func (s *Service) notSignable(ctx context.Context, id uuid.UUID, op string) error {
	current := Status("")
	if cur, err := s.requests.GetByID(ctx, id); err == nil {
		current = cur.Status
	}
	s.appendRejection(ctx, id, fmt.Sprintf("%s refused: request is %s", op, current))
	return stateErr(current, ErrRequestNotSignable)
}

func (s *Service) appendRejection(ctx context.Context, id uuid.UUID, detail string) {
	ev := NewEvent(id, EventRejectedAttempt, ActorSigner, detail, s.now().UTC())
	if err := s.events.Append(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("request_id", id.String()).Msg("append rejected_attempt event")
	}
}

func validateFieldValues(fields []*SignatureField, values map[string]string, signatureImage []byte) error {
	problems := map[string]string{}

	known := make(map[string]*SignatureField, len(fields))
	for _, f := range fields {
		known[f.ID.String()] = f
	}
	for id := range values {
		if _, ok := known[id]; !ok {
			problems[id] = "unknown field"
		}
	}

	for _, f := range fields {
		key := f.ID.String()
		v, present := values[key]
		present = present && v != ""

		switch f.FieldType {
		case FieldSignature:
			if !f.Required && len(signatureImage) == 0 {
				continue
			}
			if err := ValidateSignatureImage(signatureImage); err != nil {
				problems[key] = err.Error()
			}
		case FieldDate:
			if !present {
				if f.Required {
					problems[key] = "required"
				}
				continue
			}
			if !parseableDate(v) {
				problems[key] = "not a parseable date"
			}
		case FieldText:
			if !present {
				if f.Required {
					problems[key] = "required"
				}
				continue
			}
			if len(v) > maxTextValueLen {
				problems[key] = "too long"
			}
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Fields: problems}
	}
	return nil
}

func parseableDate(v string) bool {
	if _, err := time.Parse("2006-01-02", v); err == nil {
		return true
	}
	if _, err := time.Parse(time.RFC3339, v); err == nil {
		return true
	}
	return false
}

// -- Revoke / Resend --

// Revoke withdraws a still-signable request. Its token afterwards resolves
// as NotFound.
func (s *Service) Revoke(ctx context.Context, id uuid.UUID) error {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if req.Status.Terminal() {
		return stateErr(req.Status, ErrInvalidStateTransition)
	}

	now := s.now().UTC()
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		won, err := s.requests.UpdateStatus(ctx, id, signableStatuses, StatusRevoked)
		if err != nil {
			return err
		}
		if !won {
			return errLostRace
		}
		return s.events.Append(ctx, NewEvent(id, EventRevoked, ActorRequester, "", now))
	})
	if errors.Is(err, errLostRace) {
		cur, gerr := s.requests.GetByID(ctx, id)
		if gerr != nil {
			return gerr
		}
		return stateErr(cur.Status, ErrInvalidStateTransition)
	}
	if err == nil {
		s.log.Info().Str("request_id", id.String()).Msg("signature request revoked")
	}
	return err
}

// Resend extends the expiry and re-dispatches the signing link.
func (s *Service) Resend(ctx context.Context, id uuid.UUID) (*SignatureRequest, error) {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		return nil, stateErr(req.Status, ErrInvalidStateTransition)
	}

	now := s.now().UTC()
	newExpiry := now.AddDate(0, 0, ResendExtensionDays)
	if newExpiry.Before(req.ExpiresAt) {
		newExpiry = req.ExpiresAt
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.requests.ExtendExpiry(ctx, id, newExpiry); err != nil {
			return err
		}
		return s.events.Append(ctx, NewEvent(id, EventResent, ActorRequester, "", now))
	})
	if err != nil {
		return nil, err
	}
	req.ExpiresAt = newExpiry

	var doc *DocumentSummary
	if d, derr := s.docs.Resolve(ctx, req.DocumentID); derr == nil {
		doc = d
	}
	s.notifySigner(ctx, req, doc, "signature-request")

	s.log.Info().Str("request_id", id.String()).Time("expires_at", newExpiry).Msg("signature request resent")
	return req, nil
}

// -- Reads --

func (s *Service) GetRequest(ctx context.Context, id uuid.UUID) (*SignatureRequest, error) {
	return s.requests.GetByID(ctx, id)
}

func (s *Service) ListRequests(ctx context.Context, requesterID uuid.UUID, limit, offset int) ([]*SignatureRequest, int, error) {
	return s.requests.ListByRequester(ctx, requesterID, limit, offset)
}

// Events returns the ordered audit trail for a request.
func (s *Service) Events(ctx context.Context, requestID uuid.UUID, limit, offset int) ([]*SignatureEvent, int, error) {
	if _, err := s.requests.GetByID(ctx, requestID); err != nil {
		return nil, 0, err
	}
	return s.events.ListByRequest(ctx, requestID, limit, offset)
}

// GetArtifact returns the signed artifact for a completed request.
func (s *Service) GetArtifact(ctx context.Context, requestID uuid.UUID) (*SignedArtifact, error) {
	return s.artifacts.GetByRequest(ctx, requestID)
}

// SigningLink builds the public URL for a request's access token.
func (s *Service) SigningLink(req *SignatureRequest) string {
	return s.linkBase + "/sign/" + req.AccessToken
}

// -- Sweep --

// SweepExpired flips overdue requests for reporting freshness. Enforcement
// never depends on it: the lazy check inside resolve/submit/decline is the
// authority.
func (s *Service) SweepExpired(ctx context.Context, limit int) (int, error) {
	candidates, err := s.requests.ListExpiryCandidates(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}
	flipped := 0
	for _, req := range candidates {
		err := s.expireIfDue(ctx, req)
		if errors.Is(err, ErrExpired) {
			flipped++
			continue
		}
		if err != nil {
			return flipped, err
		}
	}
	return flipped, nil
}

// -- Notifications --

func (s *Service) notifySigner(ctx context.Context, req *SignatureRequest, doc *DocumentSummary, template string) {
	party, err := s.idents.Lookup(ctx, req.RequestedForID)
	if err != nil || party.Email == "" {
		s.log.Warn().Str("request_id", req.ID.String()).Msg("signer has no reachable address")
		return
	}
	data := map[string]string{
		"recipient_name": party.Name,
		"signing_link":   s.SigningLink(req),
		"message":        req.Message,
		"expires_at":     req.ExpiresAt.Format(time.RFC3339),
	}
	if doc != nil {
		data["document_title"] = doc.Title
	}
	if by, err := s.idents.Lookup(ctx, req.RequestedByID); err == nil {
		data["requested_by"] = by.Name
	}
	s.notifier.Notify(template, party.Email, data)
}

func (s *Service) notifyRequester(ctx context.Context, req *SignatureRequest, doc *DocumentSummary, template string, extra map[string]string) {
	party, err := s.idents.Lookup(ctx, req.RequestedByID)
	if err != nil || party.Email == "" {
		return
	}
	data := map[string]string{
		"recipient_name": party.Name,
		"request_id":     req.ID.String(),
	}
	if doc != nil {
		data["document_title"] = doc.Title
	}
	if signer, err := s.idents.Lookup(ctx, req.RequestedForID); err == nil {
		data["signer_name"] = signer.Name
	}
	for k, v := range extra {
		data[k] = v
	}
	s.notifier.Notify(template, party.Email, data)
}
