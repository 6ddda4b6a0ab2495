package identity

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

const personCols = `id, kind, first_name, last_name, email, phone, active, created_at, updated_at`

func scanPerson(row pgx.Row) (*Person, error) {
	var p Person
	err := row.Scan(
		&p.ID, &p.Kind, &p.FirstName, &p.LastName, &p.Email, &p.Phone, &p.Active,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *RepoPG) Create(ctx context.Context, p *Person) error {
	q := fmt.Sprintf(`INSERT INTO person (%s) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, personCols)
	_, err := conn(ctx, r.pool).Exec(ctx, q,
		p.ID, p.Kind, p.FirstName, p.LastName, p.Email, p.Phone, p.Active,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert person: %w", err)
	}
	return nil
}

func (r *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Person, error) {
	q := fmt.Sprintf(`SELECT %s FROM person WHERE id = $1`, personCols)
	return scanPerson(conn(ctx, r.pool).QueryRow(ctx, q, id))
}

func (r *RepoPG) GetByEmail(ctx context.Context, email string) (*Person, error) {
	q := fmt.Sprintf(`SELECT %s FROM person WHERE lower(email) = lower($1)`, personCols)
	return scanPerson(conn(ctx, r.pool).QueryRow(ctx, q, email))
}

func (r *RepoPG) Update(ctx context.Context, p *Person) error {
	tag, err := conn(ctx, r.pool).Exec(ctx,
		`UPDATE person
		 SET kind=$2, first_name=$3, last_name=$4, email=$5, phone=$6, active=$7, updated_at=$8
		 WHERE id=$1`,
		p.ID, p.Kind, p.FirstName, p.LastName, p.Email, p.Phone, p.Active, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update person: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RepoPG) ListByKind(ctx context.Context, kind Kind, limit, offset int) ([]*Person, int, error) {
	var total int
	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM person WHERE kind = $1`, kind,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count persons: %w", err)
	}

	q := fmt.Sprintf(`SELECT %s FROM person WHERE kind = $1
		ORDER BY last_name, first_name LIMIT $2 OFFSET $3`, personCols)
	rows, err := conn(ctx, r.pool).Query(ctx, q, kind, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list persons: %w", err)
	}
	defer rows.Close()

	var out []*Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}
