package term

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusledger/campusledger/internal/shared"
)

// Repository provides PostgreSQL backed persistence for terms.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const termColumns = `id, name, academic_year, start_date, end_date, fee_due_date,
	is_current, status, created_at, updated_at`

// Create inserts a term.
func (r *Repository) Create(ctx context.Context, input CreateTermInput, status Status) (*Term, error) {
	var t Term
	err := r.pool.QueryRow(ctx, `
		INSERT INTO academic_terms (
			name, academic_year, start_date, end_date, fee_due_date,
			is_current, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, FALSE, $6, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		input.Name, input.AcademicYear, input.StartDate, input.EndDate, input.FeeDueDate, string(status),
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Name = input.Name
	t.AcademicYear = input.AcademicYear
	t.StartDate = input.StartDate
	t.EndDate = input.EndDate
	t.FeeDueDate = input.FeeDueDate
	t.Status = status
	return &t, nil
}

// Get loads one term by id.
func (r *Repository) Get(ctx context.Context, id int64) (*Term, error) {
	query := fmt.Sprintf(`SELECT %s FROM academic_terms WHERE id = $1`, termColumns)
	t, err := scanTerm(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	return t, err
}

// FindCurrent returns the current term, or ErrNotFound when none is promoted.
func (r *Repository) FindCurrent(ctx context.Context) (*Term, error) {
	query := fmt.Sprintf(`SELECT %s FROM academic_terms WHERE is_current LIMIT 1`, termColumns)
	t, err := scanTerm(r.pool.QueryRow(ctx, query))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	return t, err
}

// ListUpcoming returns terms starting after the given date, earliest first.
func (r *Repository) ListUpcoming(ctx context.Context, after time.Time) ([]Term, error) {
	query := fmt.Sprintf(`SELECT %s FROM academic_terms WHERE start_date > $1 ORDER BY start_date`, termColumns)
	return r.queryTerms(ctx, query, after)
}

// List returns all terms, most recent start first.
func (r *Repository) List(ctx context.Context) ([]Term, error) {
	query := fmt.Sprintf(`SELECT %s FROM academic_terms ORDER BY start_date DESC`, termColumns)
	return r.queryTerms(ctx, query)
}

// PromoteCurrent atomically demotes any previously current term and promotes
// the given one. The single transaction keeps the at-most-one invariant even
// under concurrent promotions.
func (r *Repository) PromoteCurrent(ctx context.Context, id int64) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE academic_terms SET is_current = FALSE, updated_at = NOW() WHERE is_current`); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `UPDATE academic_terms SET is_current = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return tx.Commit(ctx)
}

// UpdateStatus persists a lifecycle transition.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, status Status) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE academic_terms SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, string(status),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *Repository) queryTerms(ctx context.Context, query string, args ...any) ([]Term, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var terms []Term
	for rows.Next() {
		t, err := scanTerm(rows)
		if err != nil {
			return nil, err
		}
		terms = append(terms, *t)
	}
	return terms, rows.Err()
}

func scanTerm(row pgx.Row) (*Term, error) {
	var t Term
	var feeDue pgtype.Timestamptz
	var status string
	err := row.Scan(
		&t.ID, &t.Name, &t.AcademicYear, &t.StartDate, &t.EndDate,
		&feeDue, &t.IsCurrent, &status, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if feeDue.Valid {
		t.FeeDueDate = &feeDue.Time
	}
	t.Status = Status(status)
	return &t, nil
}
