package feeplan

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusledger/campusledger/internal/shared"
)

// Repository provides PostgreSQL backed persistence for fee templates.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const templateColumns = `id, term_id, grade_label, grade_key, tuition, basic,
	examination, transport, library, sports, activity, hostel, uniform, book,
	other, created_at, updated_at`

// Create inserts a template. The (term_id, grade_key) unique index rejects a
// second template for the same canonical grade.
func (r *Repository) Create(ctx context.Context, t Template) (*Template, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO grade_fee_templates (
			term_id, grade_label, grade_key, tuition, basic, examination,
			transport, library, sports, activity, hostel, uniform, book, other,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		t.TermID, t.GradeLabel, t.GradeKey,
		t.Tuition.String(), t.Basic.String(), t.Examination.String(),
		t.Transport.String(), t.Library.String(), t.Sports.String(),
		t.Activity.String(), t.Hostel.String(), t.Uniform.String(),
		t.Book.String(), t.Other.String(),
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// FindByLabel returns the template matching the raw label exactly
// (case-insensitive).
func (r *Repository) FindByLabel(ctx context.Context, termID int64, gradeLabel string) (*Template, error) {
	query := fmt.Sprintf(`SELECT %s FROM grade_fee_templates WHERE term_id = $1 AND LOWER(grade_label) = LOWER($2)`, templateColumns)
	t, err := scanTemplate(r.pool.QueryRow(ctx, query, termID, gradeLabel))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	return t, err
}

// FindByKey returns the template stored under a canonical grade key.
func (r *Repository) FindByKey(ctx context.Context, termID int64, gradeKey string) (*Template, error) {
	query := fmt.Sprintf(`SELECT %s FROM grade_fee_templates WHERE term_id = $1 AND grade_key = $2`, templateColumns)
	t, err := scanTemplate(r.pool.QueryRow(ctx, query, termID, gradeKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	return t, err
}

// ListByTerm returns every template of a term, used by the resolver's full
// collection fallback and by the admin listing.
func (r *Repository) ListByTerm(ctx context.Context, termID int64) ([]Template, error) {
	query := fmt.Sprintf(`SELECT %s FROM grade_fee_templates WHERE term_id = $1 ORDER BY grade_key`, templateColumns)
	rows, err := r.pool.Query(ctx, query, termID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// Get loads one template by id.
func (r *Repository) Get(ctx context.Context, id int64) (*Template, error) {
	query := fmt.Sprintf(`SELECT %s FROM grade_fee_templates WHERE id = $1`, templateColumns)
	t, err := scanTemplate(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	return t, err
}

// Delete removes a template.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM grade_fee_templates WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ListAssignedGradeLabels returns the grade labels of students already billed
// in a term. The service compares canonical keys to refuse deleting templates
// that are in use.
func (r *Repository) ListAssignedGradeLabels(ctx context.Context, termID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT s.grade_label
		FROM term_assignments a
		JOIN students s ON s.id = a.student_id
		WHERE a.term_id = $1`, termID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, err
		}
		labels = append(labels, label)
	}
	return labels, rows.Err()
}

func scanTemplate(row pgx.Row) (*Template, error) {
	var t Template
	var amounts [11]pgtype.Numeric
	err := row.Scan(
		&t.ID, &t.TermID, &t.GradeLabel, &t.GradeKey,
		&amounts[0], &amounts[1], &amounts[2], &amounts[3], &amounts[4],
		&amounts[5], &amounts[6], &amounts[7], &amounts[8], &amounts[9],
		&amounts[10], &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Tuition = shared.NumericToDecimal(amounts[0])
	t.Basic = shared.NumericToDecimal(amounts[1])
	t.Examination = shared.NumericToDecimal(amounts[2])
	t.Transport = shared.NumericToDecimal(amounts[3])
	t.Library = shared.NumericToDecimal(amounts[4])
	t.Sports = shared.NumericToDecimal(amounts[5])
	t.Activity = shared.NumericToDecimal(amounts[6])
	t.Hostel = shared.NumericToDecimal(amounts[7])
	t.Uniform = shared.NumericToDecimal(amounts[8])
	t.Book = shared.NumericToDecimal(amounts[9])
	t.Other = shared.NumericToDecimal(amounts[10])
	return &t, nil
}
