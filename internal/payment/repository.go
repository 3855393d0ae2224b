package payment

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campusledger/campusledger/internal/ledger"
	"github.com/campusledger/campusledger/internal/platform/db"
	"github.com/campusledger/campusledger/internal/shared"
)

// Repository provides PostgreSQL backed persistence for payments and their
// per-item allocations, plus the unpaid-item read model.
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

// ListUnpaidItems loads a student's outstanding items across every term,
// annotated with term dates, in allocation order.
func (r *Repository) ListUnpaidItems(ctx context.Context, studentID int64) ([]UnpaidItem, error) {
	rows, err := r.q(ctx).Query(ctx, `
		SELECT i.id, i.assignment_id, a.term_id, t.start_date, i.name, i.fee_type,
			i.original_amount, i.paid_amount, i.pending_amount, i.due_date,
			i.is_mandatory, i.sequence_order, i.status
		FROM fee_line_items i
		JOIN term_assignments a ON a.id = i.assignment_id
		JOIN academic_terms t ON t.id = a.term_id
		WHERE a.student_id = $1 AND i.pending_amount > 0
		ORDER BY i.due_date ASC, i.is_mandatory DESC, i.sequence_order ASC, i.id ASC`,
		studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []UnpaidItem
	for rows.Next() {
		var item UnpaidItem
		var original, paid, pending pgtype.Numeric
		var feeType, status string
		err := rows.Scan(
			&item.ItemID, &item.AssignmentID, &item.TermID, &item.TermStart,
			&item.Name, &feeType, &original, &paid, &pending,
			&item.DueDate, &item.Mandatory, &item.Sequence, &status,
		)
		if err != nil {
			return nil, err
		}
		item.Type = ledger.FeeType(feeType)
		item.Original = shared.NumericToDecimal(original)
		item.Paid = shared.NumericToDecimal(paid)
		item.Pending = shared.NumericToDecimal(pending)
		item.Status = ledger.ItemStatus(status)
		items = append(items, item)
	}
	return items, rows.Err()
}

// CreatePayment inserts a payment row.
func (r *Repository) CreatePayment(ctx context.Context, p Payment) (*Payment, error) {
	err := r.q(ctx).QueryRow(ctx, `
		INSERT INTO payments (reference, student_id, amount, method, note, received_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, created_at`,
		p.Reference, p.StudentID, p.Amount.String(), p.Method, p.Note, p.ReceivedAt,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateAllocation records how much of a payment one item absorbed.
func (r *Repository) CreateAllocation(ctx context.Context, paymentID, itemID int64, amount string) error {
	_, err := r.q(ctx).Exec(ctx, `
		INSERT INTO payment_allocations (payment_id, item_id, amount, created_at)
		VALUES ($1, $2, $3, NOW())`,
		paymentID, itemID, amount)
	return err
}
