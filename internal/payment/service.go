package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/campusledger/campusledger/internal/ledger"
	"github.com/campusledger/campusledger/internal/observability"
	"github.com/campusledger/campusledger/internal/shared"
	"github.com/campusledger/campusledger/internal/students"
	"github.com/campusledger/campusledger/internal/term"
)

// RepositoryPort is the payment-side persistence the engine needs.
type RepositoryPort interface {
	ListUnpaidItems(ctx context.Context, studentID int64) ([]UnpaidItem, error)
	CreatePayment(ctx context.Context, p Payment) (*Payment, error)
	CreateAllocation(ctx context.Context, paymentID, itemID int64, amount string) error
}

// LedgerPort is the slice of item persistence the engine mutates.
type LedgerPort interface {
	UpdateItemPayment(ctx context.Context, item ledger.FeeLineItem, expectedPending string) error
	AddItem(ctx context.Context, item ledger.FeeLineItem) (*ledger.FeeLineItem, error)
}

// StudentDirectory resolves the paying student.
type StudentDirectory interface {
	FindByID(ctx context.Context, id int64) (*students.Student, error)
}

// TermCalendar supplies the current term, which splits a student's items
// into due-now obligations and future-term ones.
type TermCalendar interface {
	Current(ctx context.Context) (*term.Term, error)
}

// Recalculator runs the aggregate cascade after mutations.
type Recalculator interface {
	Recalculate(ctx context.Context, studentID int64) (*ledger.Recalculation, error)
}

// TxRunner executes one unit of persistence atomically. The database-backed
// runner lives in platform/db; the fallback used when none is configured
// runs fn directly.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(context.Context) error) error
}

type nopTx struct{}

func (nopTx) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

// ServiceParams groups dependencies for the payment service.
type ServiceParams struct {
	Logger   *slog.Logger
	Repo     RepositoryPort
	Ledger   LedgerPort
	Students StudentDirectory
	Terms    TermCalendar
	Cascade  Recalculator
	Tx       TxRunner
	Cache    UnpaidCache
	Locks    *shared.StudentLocks
	Metrics  *observability.Metrics
}

// Service applies payments to outstanding items in a fixed allocation order
// and settles overpayments into future terms or a credit.
type Service struct {
	logger   *slog.Logger
	repo     RepositoryPort
	ledger   LedgerPort
	students StudentDirectory
	terms    TermCalendar
	cascade  Recalculator
	tx       TxRunner
	cache    UnpaidCache
	locks    *shared.StudentLocks
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewService builds Service instance.
func NewService(p ServiceParams) *Service {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	locks := p.Locks
	if locks == nil {
		locks = shared.NewStudentLocks()
	}
	cache := p.Cache
	if cache == nil {
		cache = NoopCache{}
	}
	tx := p.Tx
	if tx == nil {
		tx = nopTx{}
	}
	return &Service{
		logger:   logger,
		repo:     p.Repo,
		ledger:   p.Ledger,
		students: p.Students,
		terms:    p.Terms,
		cascade:  p.Cascade,
		tx:       tx,
		cache:    cache,
		locks:    locks,
		metrics:  p.Metrics,
		now:      time.Now,
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Apply allocates one payment across the student's outstanding items. The
// whole application is serialized per student, so two concurrent payments
// against the same balance never both settle the same item.
func (s *Service) Apply(ctx context.Context, input ApplyInput) (*AllocationResult, error) {
	amount := shared.RoundMoney(input.Amount)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: payment amount must be positive", shared.ErrValidation)
	}
	if _, err := s.students.FindByID(ctx, input.StudentID); err != nil {
		return nil, fmt.Errorf("payment: load student %d: %w", input.StudentID, err)
	}

	release := s.locks.Lock(input.StudentID)
	defer release()

	items, err := s.unpaidItems(ctx, input.StudentID)
	if err != nil {
		return nil, err
	}
	dueNow, future := s.splitByCurrentTerm(ctx, items)
	if len(dueNow) == 0 && (!input.ApplyToFutureTerms || len(future) == 0) {
		return nil, fmt.Errorf("%w: student %d has no outstanding items due", shared.ErrStateConflict, input.StudentID)
	}

	applications, remaining := allocate(dueNow, amount)
	if remaining.IsPositive() && input.ApplyToFutureTerms {
		swept, left := allocate(future, remaining)
		applications = append(applications, swept...)
		remaining = left
	}

	// The residue stays on a current-or-past term. Future assignments are a
	// credit target only when the caller asked for forward application and
	// holds nothing billable sooner.
	creditTarget := creditAssignment(dueNow)
	if creditTarget == 0 && input.ApplyToFutureTerms {
		creditTarget = creditAssignment(future)
	}

	receivedAt := input.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = s.now()
	}

	// Payment row, item updates, allocations, credit and the cascade commit
	// together or not at all.
	var result *AllocationResult
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		payment, err := s.repo.CreatePayment(ctx, Payment{
			Reference:  uuid.NewString(),
			StudentID:  input.StudentID,
			Amount:     amount,
			Method:     input.Method,
			Note:       input.Note,
			ReceivedAt: receivedAt,
		})
		if err != nil {
			return fmt.Errorf("payment: create payment: %w", err)
		}

		result = &AllocationResult{
			PaymentID: payment.ID,
			Reference: payment.Reference,
			Remaining: decimal.Zero,
		}
		for _, app := range applications {
			updated := ledger.FeeLineItem{
				ID:       app.item.ItemID,
				Paid:     app.newPaid,
				Pending:  app.item.Original.Sub(app.newPaid),
				Status:   app.newStatus,
				Original: app.item.Original,
			}
			if err := s.ledger.UpdateItemPayment(ctx, updated, app.item.Pending.String()); err != nil {
				return fmt.Errorf("payment %s: apply to item %d: %w", payment.Reference, app.item.ItemID, err)
			}
			if err := s.repo.CreateAllocation(ctx, payment.ID, app.item.ItemID, app.applied.String()); err != nil {
				return fmt.Errorf("payment %s: record allocation: %w", payment.Reference, err)
			}
			result.AppliedItems = append(result.AppliedItems, AppliedItem{
				ItemID:        app.item.ItemID,
				Name:          app.item.Name,
				AmountApplied: app.applied,
				NewStatus:     app.newStatus,
			})
		}

		if remaining.IsPositive() {
			creditID, err := s.recordCredit(ctx, payment, creditTarget, remaining, receivedAt)
			if err != nil {
				return err
			}
			result.CreditItemID = creditID
		}

		if _, err := s.cascade.Recalculate(ctx, input.StudentID); err != nil {
			return fmt.Errorf("payment %s: recalculate: %w", payment.Reference, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.cache.Invalidate(ctx, input.StudentID); err != nil {
		s.logger.Warn("unpaid cache invalidation failed", "studentId", input.StudentID, "error", err)
	}
	s.metrics.CountPaymentApplied()
	s.logger.Info("payment applied",
		"reference", result.Reference,
		"studentId", input.StudentID,
		"amount", amount.String(),
		"items", len(result.AppliedItems),
		"creditItemId", result.CreditItemID,
	)
	return result, nil
}

// UnpaidItems serves the read model behind the student balance endpoint,
// going through the cache.
func (s *Service) UnpaidItems(ctx context.Context, studentID int64) ([]UnpaidItem, error) {
	if _, err := s.students.FindByID(ctx, studentID); err != nil {
		return nil, fmt.Errorf("payment: load student %d: %w", studentID, err)
	}
	return s.unpaidItems(ctx, studentID)
}

func (s *Service) unpaidItems(ctx context.Context, studentID int64) ([]UnpaidItem, error) {
	cached, hit, err := s.cache.Get(ctx, studentID)
	if err != nil {
		s.logger.Warn("unpaid cache read failed", "studentId", studentID, "error", err)
	}
	s.metrics.CountCacheLookup(hit)
	if hit {
		return cached, nil
	}

	items, err := s.repo.ListUnpaidItems(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("payment: list unpaid items: %w", err)
	}
	if err := s.cache.Put(ctx, studentID, items); err != nil {
		s.logger.Warn("unpaid cache write failed", "studentId", studentID, "error", err)
	}
	return items, nil
}

// splitByCurrentTerm partitions items into due-now (current or past terms)
// and future-term obligations. Without a current term everything is due now.
func (s *Service) splitByCurrentTerm(ctx context.Context, items []UnpaidItem) (dueNow, future []UnpaidItem) {
	current, err := s.terms.Current(ctx)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			s.logger.Warn("current term lookup failed, treating all items as due", "error", err)
		}
		return items, nil
	}
	for _, item := range items {
		if item.TermStart.After(current.StartDate) {
			future = append(future, item)
			continue
		}
		dueNow = append(dueNow, item)
	}
	return dueNow, future
}

// recordCredit stores the unabsorbed residue as a negative line item on the
// given assignment, so aggregates reflect the prepayment.
func (s *Service) recordCredit(ctx context.Context, p *Payment, assignmentID int64, residue decimal.Decimal, receivedAt time.Time) (int64, error) {
	if assignmentID == 0 {
		return 0, fmt.Errorf("%w: no assignment to attach credit to", shared.ErrStateConflict)
	}
	credit := ledger.FeeLineItem{
		AssignmentID:  assignmentID,
		Name:          "Overpayment credit",
		Type:          ledger.FeeCredit,
		Original:      residue.Neg(),
		Paid:          decimal.Zero,
		Pending:       residue.Neg(),
		DueDate:       receivedAt,
		Mandatory:     false,
		AutoGenerated: true,
		Status:        ledger.ItemPaid,
	}
	created, err := s.ledger.AddItem(ctx, credit)
	if err != nil {
		return 0, fmt.Errorf("payment %s: record credit: %w", p.Reference, err)
	}
	if err := s.repo.CreateAllocation(ctx, p.ID, created.ID, residue.String()); err != nil {
		return 0, fmt.Errorf("payment %s: record credit allocation: %w", p.Reference, err)
	}
	return created.ID, nil
}

// creditAssignment picks the assignment of the latest-starting term among
// the given items.
func creditAssignment(items []UnpaidItem) int64 {
	var id int64
	var latest time.Time
	for _, item := range items {
		if id == 0 || item.TermStart.After(latest) {
			id = item.AssignmentID
			latest = item.TermStart
		}
	}
	return id
}
