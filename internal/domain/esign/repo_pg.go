package esign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MentalSpaceTherapy/V2-MentalSpace-EHR-sub006/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// uniqueViolation is the Postgres error code for a unique constraint breach.
const uniqueViolation = "23505"

// -- RequestRepoPG --

type RequestRepoPG struct {
	pool *pgxpool.Pool
}

func NewRequestRepoPG(pool *pgxpool.Pool) *RequestRepoPG {
	return &RequestRepoPG{pool: pool}
}

const requestCols = `id, document_id, requested_by_id, requested_for_id, access_token,
	status, message, document_version_hash, expires_at, created_at, updated_at`

func scanRequest(row pgx.Row) (*SignatureRequest, error) {
	var r SignatureRequest
	err := row.Scan(
		&r.ID, &r.DocumentID, &r.RequestedByID, &r.RequestedForID, &r.AccessToken,
		&r.Status, &r.Message, &r.DocumentVersionHash, &r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (p *RequestRepoPG) Create(ctx context.Context, req *SignatureRequest) error {
	q := fmt.Sprintf(`INSERT INTO signature_request (%s) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`, requestCols)
	_, err := conn(ctx, p.pool).Exec(ctx, q,
		req.ID, req.DocumentID, req.RequestedByID, req.RequestedForID, req.AccessToken,
		req.Status, req.Message, req.DocumentVersionHash, req.ExpiresAt, req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateToken
		}
		return fmt.Errorf("insert signature request: %w", err)
	}

	for _, f := range req.Fields {
		_, err := conn(ctx, p.pool).Exec(ctx,
			`INSERT INTO signature_field (id, request_id, field_type, label, required, sort_order, pos_x, pos_y, pos_w, pos_h)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			f.ID, req.ID, f.FieldType, f.Label, f.Required, f.SortOrder, f.X, f.Y, f.Width, f.Height,
		)
		if err != nil {
			return fmt.Errorf("insert signature field: %w", err)
		}
	}
	return nil
}

func (p *RequestRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*SignatureRequest, error) {
	q := fmt.Sprintf(`SELECT %s FROM signature_request WHERE id = $1`, requestCols)
	r, err := scanRequest(conn(ctx, p.pool).QueryRow(ctx, q, id))
	if err != nil {
		return nil, err
	}
	return p.withFields(ctx, r)
}

func (p *RequestRepoPG) GetByToken(ctx context.Context, accessToken string) (*SignatureRequest, error) {
	q := fmt.Sprintf(`SELECT %s FROM signature_request WHERE access_token = $1`, requestCols)
	r, err := scanRequest(conn(ctx, p.pool).QueryRow(ctx, q, accessToken))
	if err != nil {
		return nil, err
	}
	return p.withFields(ctx, r)
}

func (p *RequestRepoPG) withFields(ctx context.Context, r *SignatureRequest) (*SignatureRequest, error) {
	rows, err := conn(ctx, p.pool).Query(ctx,
		`SELECT id, request_id, field_type, label, required, sort_order, pos_x, pos_y, pos_w, pos_h, value
		 FROM signature_field WHERE request_id = $1 ORDER BY sort_order, id`, r.ID)
	if err != nil {
		return nil, fmt.Errorf("load signature fields: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f SignatureField
		if err := rows.Scan(&f.ID, &f.RequestID, &f.FieldType, &f.Label, &f.Required,
			&f.SortOrder, &f.X, &f.Y, &f.Width, &f.Height, &f.Value); err != nil {
			return nil, err
		}
		r.Fields = append(r.Fields, &f)
	}
	return r, rows.Err()
}

func (p *RequestRepoPG) ListByRequester(ctx context.Context, requesterID uuid.UUID, limit, offset int) ([]*SignatureRequest, int, error) {
	var total int
	if err := conn(ctx, p.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM signature_request WHERE requested_by_id = $1`, requesterID).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf(`SELECT %s FROM signature_request WHERE requested_by_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, requestCols)
	rows, err := conn(ctx, p.pool).Query(ctx, q, requesterID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*SignatureRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, r)
	}
	return items, total, rows.Err()
}

func (p *RequestRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from []Status, to Status) (bool, error) {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	tag, err := conn(ctx, p.pool).Exec(ctx,
		`UPDATE signature_request SET status = $2, updated_at = NOW()
		 WHERE id = $1 AND status = ANY($3)`, id, to, states)
	if err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *RequestRepoPG) ExtendExpiry(ctx context.Context, id uuid.UUID, expiresAt time.Time) error {
	tag, err := conn(ctx, p.pool).Exec(ctx,
		`UPDATE signature_request SET expires_at = $2, updated_at = NOW() WHERE id = $1`, id, expiresAt)
	if err != nil {
		return fmt.Errorf("extend expiry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *RequestRepoPG) SetFieldValues(ctx context.Context, requestID uuid.UUID, values map[string]string) error {
	for fieldID, value := range values {
		id, err := uuid.Parse(fieldID)
		if err != nil {
			return fmt.Errorf("parse field id %q: %w", fieldID, err)
		}
		_, err = conn(ctx, p.pool).Exec(ctx,
			`UPDATE signature_field SET value = $3 WHERE request_id = $1 AND id = $2`, requestID, id, value)
		if err != nil {
			return fmt.Errorf("set field value: %w", err)
		}
	}
	return nil
}

func (p *RequestRepoPG) ListExpiryCandidates(ctx context.Context, now time.Time, limit int) ([]*SignatureRequest, error) {
	q := fmt.Sprintf(`SELECT %s FROM signature_request
		WHERE expires_at < $1 AND status = ANY($2) ORDER BY expires_at LIMIT $3`, requestCols)
	rows, err := conn(ctx, p.pool).Query(ctx, q, now, []string{string(StatusPending), string(StatusViewed)}, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*SignatureRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

// -- EventRepoPG --

type EventRepoPG struct {
	pool *pgxpool.Pool
}

func NewEventRepoPG(pool *pgxpool.Pool) *EventRepoPG {
	return &EventRepoPG{pool: pool}
}

func (p *EventRepoPG) Append(ctx context.Context, ev *SignatureEvent) error {
	_, err := conn(ctx, p.pool).Exec(ctx,
		`INSERT INTO signature_event (id, request_id, event_type, actor, detail, occurred_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		ev.ID, ev.RequestID, ev.Type, ev.Actor, ev.Detail, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("append signature event: %w", err)
	}
	return nil
}

func (p *EventRepoPG) ListByRequest(ctx context.Context, requestID uuid.UUID, limit, offset int) ([]*SignatureEvent, int, error) {
	var total int
	if err := conn(ctx, p.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM signature_event WHERE request_id = $1`, requestID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := conn(ctx, p.pool).Query(ctx,
		`SELECT id, request_id, event_type, actor, detail, occurred_at
		 FROM signature_event WHERE request_id = $1 ORDER BY occurred_at, id LIMIT $2 OFFSET $3`,
		requestID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*SignatureEvent
	for rows.Next() {
		var ev SignatureEvent
		if err := rows.Scan(&ev.ID, &ev.RequestID, &ev.Type, &ev.Actor, &ev.Detail, &ev.Timestamp); err != nil {
			return nil, 0, err
		}
		items = append(items, &ev)
	}
	return items, total, rows.Err()
}

// -- ArtifactRepoPG --

type ArtifactRepoPG struct {
	pool *pgxpool.Pool
}

func NewArtifactRepoPG(pool *pgxpool.Pool) *ArtifactRepoPG {
	return &ArtifactRepoPG{pool: pool}
}

func (p *ArtifactRepoPG) Create(ctx context.Context, a *SignedArtifact) error {
	_, err := conn(ctx, p.pool).Exec(ctx,
		`INSERT INTO signed_artifact (request_id, signature_image, field_values, document_version_hash, signed_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		a.RequestID, a.SignatureImage, a.FieldValues, a.DocumentVersionHash, a.SignedAt)
	if err != nil {
		return fmt.Errorf("insert signed artifact: %w", err)
	}
	return nil
}

func (p *ArtifactRepoPG) GetByRequest(ctx context.Context, requestID uuid.UUID) (*SignedArtifact, error) {
	var a SignedArtifact
	err := conn(ctx, p.pool).QueryRow(ctx,
		`SELECT request_id, signature_image, field_values, document_version_hash, signed_at
		 FROM signed_artifact WHERE request_id = $1`, requestID).
		Scan(&a.RequestID, &a.SignatureImage, &a.FieldValues, &a.DocumentVersionHash, &a.SignedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// -- PGTxRunner --

// PGTxRunner runs a function inside a single database transaction. The
// transaction rides the context so every repository call inside fn joins it.
type PGTxRunner struct {
	pool *pgxpool.Pool
}

func NewPGTxRunner(pool *pgxpool.Pool) *PGTxRunner {
	return &PGTxRunner{pool: pool}
}

func (r *PGTxRunner) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(db.ContextWithTx(ctx, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
