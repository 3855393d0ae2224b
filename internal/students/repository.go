package students

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusledger/campusledger/internal/shared"
)

// Repository provides PostgreSQL backed access to the student directory.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const studentColumns = `id, admission_no, full_name, grade_label, status,
	transport_mode, guardian_phone, created_at, updated_at`

// FindActive returns every ACTIVE student, the auto-billing population.
func (r *Repository) FindActive(ctx context.Context) ([]Student, error) {
	query := fmt.Sprintf(`SELECT %s FROM students WHERE status = $1 ORDER BY id`, studentColumns)
	rows, err := r.pool.Query(ctx, query, string(StatusActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// FindByID returns one student.
func (r *Repository) FindByID(ctx context.Context, id int64) (*Student, error) {
	query := fmt.Sprintf(`SELECT %s FROM students WHERE id = $1`, studentColumns)
	s, err := scanStudent(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	return s, err
}

func scanStudent(row pgx.Row) (*Student, error) {
	var s Student
	var status, transport string
	var phone pgtype.Text
	err := row.Scan(
		&s.ID, &s.AdmissionNo, &s.FullName, &s.GradeLabel,
		&status, &transport, &phone, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Status = Status(status)
	s.Transport = TransportMode(transport)
	if phone.Valid {
		s.GuardianSMS = phone.String
	}
	return &s, nil
}
