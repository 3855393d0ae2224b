package billing

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusledger/campusledger/internal/shared"
)

// Repository provides the SQL aggregates behind term statistics.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// StatusStats groups a term's assignments by status.
func (r *Repository) StatusStats(ctx context.Context, termID int64) ([]StatusStat, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*),
			COALESCE(SUM(total_fee), 0),
			COALESCE(SUM(paid_amount), 0),
			COALESCE(SUM(pending_amount), 0)
		FROM term_assignments
		WHERE term_id = $1
		GROUP BY status
		ORDER BY status`, termID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusStat
	for rows.Next() {
		var stat StatusStat
		var total, paid, pending pgtype.Numeric
		if err := rows.Scan(&stat.Status, &stat.Count, &total, &paid, &pending); err != nil {
			return nil, err
		}
		stat.Total = shared.NumericToDecimal(total)
		stat.Paid = shared.NumericToDecimal(paid)
		stat.Pending = shared.NumericToDecimal(pending)
		out = append(out, stat)
	}
	return out, rows.Err()
}

// MarkOverdueAsOf flips pending items and assignments whose due date has
// passed to OVERDUE. Partially paid rows keep their PARTIAL status. Returns
// the number of items flipped.
func (r *Repository) MarkOverdueAsOf(ctx context.Context, today time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE fee_line_items
		SET status = 'OVERDUE', updated_at = NOW()
		WHERE status = 'PENDING' AND pending_amount > 0 AND due_date < $1`, today)
	if err != nil {
		return 0, err
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE term_assignments
		SET status = 'OVERDUE', updated_at = NOW()
		WHERE status = 'PENDING' AND pending_amount > 0 AND due_date < $1`, today)
	if err != nil {
		return tag.RowsAffected(), err
	}
	return tag.RowsAffected(), nil
}

// OverdueStudents lists active students holding overdue items, with the
// total overdue amount and item count per student.
func (r *Repository) OverdueStudents(ctx context.Context) ([]OverdueRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.id, s.full_name, COALESCE(s.guardian_phone, ''),
			COALESCE(SUM(i.pending_amount), 0), COUNT(i.id)
		FROM students s
		JOIN term_assignments a ON a.student_id = s.id
		JOIN fee_line_items i ON i.assignment_id = a.id
		WHERE s.status = 'ACTIVE' AND i.status = 'OVERDUE'
		GROUP BY s.id, s.full_name, s.guardian_phone
		ORDER BY s.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OverdueRow
	for rows.Next() {
		var row OverdueRow
		var overdue pgtype.Numeric
		if err := rows.Scan(&row.StudentID, &row.FullName, &row.GuardianSMS, &overdue, &row.ItemCount); err != nil {
			return nil, err
		}
		row.Overdue = shared.NumericToDecimal(overdue)
		out = append(out, row)
	}
	return out, rows.Err()
}

// GradeRows groups a term's assignments by the students' raw grade labels.
// The service folds label variants into canonical grades.
func (r *Repository) GradeRows(ctx context.Context, termID int64) ([]GradeStat, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.grade_label, COUNT(*),
			COALESCE(SUM(a.total_fee), 0),
			COALESCE(SUM(a.paid_amount), 0),
			COALESCE(SUM(a.pending_amount), 0)
		FROM term_assignments a
		JOIN students s ON s.id = a.student_id
		WHERE a.term_id = $1
		GROUP BY s.grade_label
		ORDER BY s.grade_label`, termID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GradeStat
	for rows.Next() {
		var stat GradeStat
		var total, paid, pending pgtype.Numeric
		if err := rows.Scan(&stat.Grade, &stat.Count, &total, &paid, &pending); err != nil {
			return nil, err
		}
		stat.Total = shared.NumericToDecimal(total)
		stat.Paid = shared.NumericToDecimal(paid)
		stat.Pending = shared.NumericToDecimal(pending)
		out = append(out, stat)
	}
	return out, rows.Err()
}
