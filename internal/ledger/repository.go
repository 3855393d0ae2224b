package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusledger/campusledger/internal/platform/db"
	"github.com/campusledger/campusledger/internal/shared"
)

// Repository provides PostgreSQL backed persistence for assignments, line
// items, annual aggregates and student snapshots.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// q resolves the active querier, joining the caller's transaction if any.
func (r *Repository) q(ctx context.Context) db.Querier {
	return db.Active(ctx, r.pool)
}

const itemColumns = `id, assignment_id, name, fee_type, original_amount, paid_amount,
	pending_amount, due_date, is_mandatory, is_auto_generated, sequence_order,
	status, created_at, updated_at`

const assignmentColumns = `id, student_id, term_id, academic_year, total_fee,
	paid_amount, pending_amount, status, due_date, created_at, updated_at`

// AssignmentExists reports whether a (student, term) assignment exists.
// Existence means the student is already billed for that term.
func (r *Repository) AssignmentExists(ctx context.Context, studentID, termID int64) (bool, error) {
	var exists bool
	err := r.q(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM term_assignments WHERE student_id = $1 AND term_id = $2)`,
		studentID, termID,
	).Scan(&exists)
	return exists, err
}

// GetAssignment loads one (student, term) assignment with its items.
func (r *Repository) GetAssignment(ctx context.Context, studentID, termID int64) (*TermAssignment, error) {
	query := fmt.Sprintf(`SELECT %s FROM term_assignments WHERE student_id = $1 AND term_id = $2`, assignmentColumns)
	a, err := scanAssignment(r.q(ctx).QueryRow(ctx, query, studentID, termID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	items, err := r.listItems(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	a.Items = items
	return a, nil
}

// GetAssignmentByID loads one assignment with its items.
func (r *Repository) GetAssignmentByID(ctx context.Context, id int64) (*TermAssignment, error) {
	query := fmt.Sprintf(`SELECT %s FROM term_assignments WHERE id = $1`, assignmentColumns)
	a, err := scanAssignment(r.q(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	items, err := r.listItems(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	a.Items = items
	return a, nil
}

// ListAssignmentsByStudent loads every assignment of a student, items included.
func (r *Repository) ListAssignmentsByStudent(ctx context.Context, studentID int64) ([]TermAssignment, error) {
	query := fmt.Sprintf(`SELECT %s FROM term_assignments WHERE student_id = $1 ORDER BY due_date, id`, assignmentColumns)
	rows, err := r.q(ctx).Query(ctx, query, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []TermAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for idx := range assignments {
		items, err := r.listItems(ctx, assignments[idx].ID)
		if err != nil {
			return nil, err
		}
		assignments[idx].Items = items
	}
	return assignments, nil
}

// CreateAssignment inserts an assignment and its items in one transaction.
// The unique (student_id, term_id) index backs the billing idempotency check
// against concurrent duplicate billing.
func (r *Repository) CreateAssignment(ctx context.Context, a TermAssignment) (*TermAssignment, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO term_assignments (
			student_id, term_id, academic_year, total_fee, paid_amount,
			pending_amount, status, due_date, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		a.StudentID, a.TermID, a.AcademicYear,
		a.TotalFee.String(), a.PaidAmount.String(), a.PendingAmount.String(),
		string(a.Status), a.DueDate,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	for idx := range a.Items {
		item := &a.Items[idx]
		item.AssignmentID = a.ID
		err = tx.QueryRow(ctx, `
			INSERT INTO fee_line_items (
				assignment_id, name, fee_type, original_amount, paid_amount,
				pending_amount, due_date, is_mandatory, is_auto_generated,
				sequence_order, status, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
			RETURNING id, created_at, updated_at`,
			a.ID, item.Name, string(item.Type),
			item.Original.String(), item.Paid.String(), item.Pending.String(),
			item.DueDate, item.Mandatory, item.AutoGenerated,
			item.Sequence, string(item.Status),
		).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &a, nil
}

// DeleteAssignment removes an assignment and its items (owned, cascade).
func (r *Repository) DeleteAssignment(ctx context.Context, studentID, termID int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var assignmentID int64
	err = tx.QueryRow(ctx,
		`SELECT id FROM term_assignments WHERE student_id = $1 AND term_id = $2`,
		studentID, termID,
	).Scan(&assignmentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.ErrNotFound
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM fee_line_items WHERE assignment_id = $1`, assignmentID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM term_assignments WHERE id = $1`, assignmentID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SaveAssignmentAggregates persists recomputed derived fields.
func (r *Repository) SaveAssignmentAggregates(ctx context.Context, a TermAssignment) error {
	tag, err := r.q(ctx).Exec(ctx, `
		UPDATE term_assignments
		SET total_fee = $2, paid_amount = $3, pending_amount = $4, status = $5, updated_at = NOW()
		WHERE id = $1`,
		a.ID, a.TotalFee.String(), a.PaidAmount.String(), a.PendingAmount.String(), string(a.Status),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// GetItem loads one line item.
func (r *Repository) GetItem(ctx context.Context, itemID int64) (*FeeLineItem, error) {
	query := fmt.Sprintf(`SELECT %s FROM fee_line_items WHERE id = $1`, itemColumns)
	item, err := scanItem(r.q(ctx).QueryRow(ctx, query, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// AddItem appends a manually added item (surcharge or negative credit) to an
// existing assignment.
func (r *Repository) AddItem(ctx context.Context, item FeeLineItem) (*FeeLineItem, error) {
	err := r.q(ctx).QueryRow(ctx, `
		INSERT INTO fee_line_items (
			assignment_id, name, fee_type, original_amount, paid_amount,
			pending_amount, due_date, is_mandatory, is_auto_generated,
			sequence_order, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9,
			COALESCE((SELECT MAX(sequence_order) FROM fee_line_items WHERE assignment_id = $1), 0) + 1,
			$10, NOW(), NOW())
		RETURNING id, sequence_order, created_at, updated_at`,
		item.AssignmentID, item.Name, string(item.Type),
		item.Original.String(), item.Paid.String(), item.Pending.String(),
		item.DueDate, item.Mandatory, item.AutoGenerated, string(item.Status),
	).Scan(&item.ID, &item.Sequence, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// RemoveItem deletes a manually added item. Auto generated items are billing
// artifacts and can only go away with their assignment.
func (r *Repository) RemoveItem(ctx context.Context, itemID int64) error {
	tag, err := r.q(ctx).Exec(ctx,
		`DELETE FROM fee_line_items WHERE id = $1 AND is_auto_generated = FALSE`, itemID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// UpdateItemPayment persists a payment application against one item. The
// pending_amount guard makes the write conditional on the amounts the
// allocator read, so a lost per-student lock can never double apply.
func (r *Repository) UpdateItemPayment(ctx context.Context, item FeeLineItem, expectedPending string) error {
	tag, err := r.q(ctx).Exec(ctx, `
		UPDATE fee_line_items
		SET paid_amount = $2, pending_amount = $3, status = $4, updated_at = NOW()
		WHERE id = $1 AND pending_amount = $5`,
		item.ID, item.Paid.String(), item.Pending.String(), string(item.Status), expectedPending,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: item %d changed concurrently", shared.ErrStateConflict, item.ID)
	}
	return nil
}

// UpsertAnnual stores the recomputed annual aggregate for (student, year).
func (r *Repository) UpsertAnnual(ctx context.Context, a AnnualFeeAssignment) error {
	_, err := r.q(ctx).Exec(ctx, `
		INSERT INTO annual_fee_assignments (
			student_id, academic_year, total_fee, paid_amount, pending_amount, status, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (student_id, academic_year) DO UPDATE
		SET total_fee = EXCLUDED.total_fee,
			paid_amount = EXCLUDED.paid_amount,
			pending_amount = EXCLUDED.pending_amount,
			status = EXCLUDED.status,
			updated_at = NOW()`,
		a.StudentID, a.AcademicYear,
		a.TotalFee.String(), a.PaidAmount.String(), a.PendingAmount.String(), string(a.Status),
	)
	return err
}

// DeleteAnnualsNotIn removes annual aggregates for years the student no
// longer has assignments in (after a bill regeneration).
func (r *Repository) DeleteAnnualsNotIn(ctx context.Context, studentID int64, years []string) error {
	_, err := r.q(ctx).Exec(ctx,
		`DELETE FROM annual_fee_assignments WHERE student_id = $1 AND NOT (academic_year = ANY($2))`,
		studentID, years,
	)
	return err
}

// SaveSnapshot stores the denormalized per-student fee view.
func (r *Repository) SaveSnapshot(ctx context.Context, s StudentFeeSnapshot) error {
	_, err := r.q(ctx).Exec(ctx, `
		INSERT INTO student_fee_snapshots (
			student_id, total_fee, paid_amount, pending_amount, status, updated_at
		) VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (student_id) DO UPDATE
		SET total_fee = EXCLUDED.total_fee,
			paid_amount = EXCLUDED.paid_amount,
			pending_amount = EXCLUDED.pending_amount,
			status = EXCLUDED.status,
			updated_at = NOW()`,
		s.StudentID,
		s.TotalFee.String(), s.PaidAmount.String(), s.PendingAmount.String(), string(s.Status),
	)
	return err
}

// --- helpers ---

func (r *Repository) listItems(ctx context.Context, assignmentID int64) ([]FeeLineItem, error) {
	query := fmt.Sprintf(`SELECT %s FROM fee_line_items WHERE assignment_id = $1 ORDER BY sequence_order, id`, itemColumns)
	return r.queryItems(ctx, query, assignmentID)
}

func (r *Repository) queryItems(ctx context.Context, query string, args ...any) ([]FeeLineItem, error) {
	rows, err := r.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []FeeLineItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func scanAssignment(row pgx.Row) (*TermAssignment, error) {
	var a TermAssignment
	var total, paid, pending pgtype.Numeric
	var due pgtype.Timestamptz
	var status string
	err := row.Scan(
		&a.ID, &a.StudentID, &a.TermID, &a.AcademicYear,
		&total, &paid, &pending, &status, &due, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.TotalFee = shared.NumericToDecimal(total)
	a.PaidAmount = shared.NumericToDecimal(paid)
	a.PendingAmount = shared.NumericToDecimal(pending)
	a.Status = AssignmentStatus(status)
	if due.Valid {
		a.DueDate = due.Time
	}
	return &a, nil
}

func scanItem(row pgx.Row) (*FeeLineItem, error) {
	var item FeeLineItem
	var original, paid, pending pgtype.Numeric
	var due pgtype.Timestamptz
	var feeType, status string
	err := row.Scan(
		&item.ID, &item.AssignmentID, &item.Name, &feeType,
		&original, &paid, &pending, &due,
		&item.Mandatory, &item.AutoGenerated, &item.Sequence,
		&status, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	item.Type = FeeType(feeType)
	item.Original = shared.NumericToDecimal(original)
	item.Paid = shared.NumericToDecimal(paid)
	item.Pending = shared.NumericToDecimal(pending)
	item.Status = ItemStatus(status)
	if due.Valid {
		item.DueDate = due.Time
	}
	return &item, nil
}
