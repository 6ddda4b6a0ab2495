package documents

import (
	"context"
	"errors"
	"fmt"

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

type RepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) *RepoPG {
	return &RepoPG{pool: pool}
}

const documentCols = `id, title, content_type, storage_key, content_hash, size_bytes,
	created_by_id, created_at, updated_at`

func scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	err := row.Scan(
		&d.ID, &d.Title, &d.ContentType, &d.StorageKey, &d.ContentHash, &d.SizeBytes,
		&d.CreatedByID, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (p *RepoPG) Create(ctx context.Context, d *Document) error {
	q := fmt.Sprintf(`INSERT INTO document (%s) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, documentCols)
	_, err := conn(ctx, p.pool).Exec(ctx, q,
		d.ID, d.Title, d.ContentType, d.StorageKey, d.ContentHash, d.SizeBytes,
		d.CreatedByID, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (p *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Document, error) {
	q := fmt.Sprintf(`SELECT %s FROM document WHERE id = $1`, documentCols)
	return scanDocument(conn(ctx, p.pool).QueryRow(ctx, q, id))
}

func (p *RepoPG) Update(ctx context.Context, d *Document) error {
	tag, err := conn(ctx, p.pool).Exec(ctx,
		`UPDATE document
		 SET title=$2, content_type=$3, storage_key=$4, content_hash=$5, size_bytes=$6, updated_at=$7
		 WHERE id=$1`,
		d.ID, d.Title, d.ContentType, d.StorageKey, d.ContentHash, d.SizeBytes, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *RepoPG) ListByCreator(ctx context.Context, createdByID uuid.UUID, limit, offset int) ([]*Document, int, error) {
	var total int
	err := conn(ctx, p.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM document WHERE created_by_id = $1`, createdByID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	q := fmt.Sprintf(`SELECT %s FROM document WHERE created_by_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, documentCols)
	rows, err := conn(ctx, p.pool).Query(ctx, q, createdByID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}
