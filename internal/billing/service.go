package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/campusledger/campusledger/internal/feeplan"
	"github.com/campusledger/campusledger/internal/ledger"
	"github.com/campusledger/campusledger/internal/observability"
	"github.com/campusledger/campusledger/internal/shared"
	"github.com/campusledger/campusledger/internal/students"
	"github.com/campusledger/campusledger/internal/term"
)

// StudentDirectory lists the billable population.
type StudentDirectory interface {
	FindActive(ctx context.Context) ([]students.Student, error)
	FindByID(ctx context.Context, id int64) (*students.Student, error)
}

// TermCalendar resolves terms.
type TermCalendar interface {
	Get(ctx context.Context, id int64) (*term.Term, error)
}

// TemplateResolver maps (term, grade label) to a fee template.
type TemplateResolver interface {
	Resolve(ctx context.Context, termID int64, gradeLabel string) (*feeplan.Template, error)
}

// LedgerPort is the slice of assignment persistence billing needs.
type LedgerPort interface {
	AssignmentExists(ctx context.Context, studentID, termID int64) (bool, error)
	CreateAssignment(ctx context.Context, a ledger.TermAssignment) (*ledger.TermAssignment, error)
	DeleteAssignment(ctx context.Context, studentID, termID int64) error
	GetAssignment(ctx context.Context, studentID, termID int64) (*ledger.TermAssignment, error)
	GetAssignmentByID(ctx context.Context, id int64) (*ledger.TermAssignment, error)
	GetItem(ctx context.Context, itemID int64) (*ledger.FeeLineItem, error)
	AddItem(ctx context.Context, item ledger.FeeLineItem) (*ledger.FeeLineItem, error)
	RemoveItem(ctx context.Context, itemID int64) error
}

// Recalculator runs the aggregate cascade after mutations.
type Recalculator interface {
	Recalculate(ctx context.Context, studentID int64) (*ledger.Recalculation, error)
}

// CacheInvalidator evicts a student's unpaid-item cache entry.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, studentID int64) error
}

// StatsPort supplies the aggregate rows behind term statistics.
type StatsPort interface {
	StatusStats(ctx context.Context, termID int64) ([]StatusStat, error)
	GradeRows(ctx context.Context, termID int64) ([]GradeStat, error)
}

// AuditPort records destructive overrides.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceParams groups dependencies for the billing service.
type ServiceParams struct {
	Logger    *slog.Logger
	Students  StudentDirectory
	Terms     TermCalendar
	Templates TemplateResolver
	Ledger    LedgerPort
	Cascade   Recalculator
	Cache     CacheInvalidator
	Stats     StatsPort
	Audit     AuditPort
	Locks     *shared.StudentLocks
	Metrics   *observability.Metrics
	// Workers bounds parallel billing across students. Zero means sequential.
	Workers int
}

// Service orchestrates auto-billing, bill regeneration, manual item edits and
// term statistics.
type Service struct {
	logger    *slog.Logger
	students  StudentDirectory
	terms     TermCalendar
	templates TemplateResolver
	ledger    LedgerPort
	cascade   Recalculator
	cache     CacheInvalidator
	stats     StatsPort
	audit     AuditPort
	locks     *shared.StudentLocks
	metrics   *observability.Metrics
	workers   int
	now       func() time.Time
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
	workers := p.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Service{
		logger:    logger,
		students:  p.Students,
		terms:     p.Terms,
		templates: p.Templates,
		ledger:    p.Ledger,
		cascade:   p.Cascade,
		cache:     p.Cache,
		stats:     p.Stats,
		audit:     p.Audit,
		locks:     locks,
		metrics:   p.Metrics,
		workers:   workers,
		now:       time.Now,
	}
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type outcome int

const (
	outcomeBilled outcome = iota
	outcomeSkipped
	outcomeFailed
)

// BillTerm runs auto-billing for every active student of the term. Students
// may be billed in parallel since their state is independent; one student's
// failure never aborts the batch.
func (s *Service) BillTerm(ctx context.Context, termID int64) (*Result, error) {
	t, err := s.terms.Get(ctx, termID)
	if err != nil {
		return nil, fmt.Errorf("billing: term %d: %w", termID, err)
	}

	population, err := s.students.FindActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("billing: list active students: %w", err)
	}

	result := &Result{TermID: t.ID, Errors: []string{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, st := range population {
		student := st
		g.Go(func() error {
			oc, err := s.billOne(gctx, *t, student)
			mu.Lock()
			defer mu.Unlock()
			switch oc {
			case outcomeBilled:
				result.Billed++
				s.metrics.CountBillingOutcome("billed")
			case outcomeSkipped:
				result.Skipped++
				s.metrics.CountBillingOutcome("skipped")
			case outcomeFailed:
				result.Errors = append(result.Errors,
					fmt.Sprintf("student %d (%s): %v", student.ID, student.AdmissionNo, err))
				s.metrics.CountBillingOutcome("failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(result.Errors)
	s.logger.Info("term billing run finished",
		slog.Int64("term_id", t.ID),
		slog.Int("billed", result.Billed),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", len(result.Errors)))
	return result, nil
}

// billOne bills a single student, converting panics into failures so a batch
// survives any per-student fault.
func (s *Service) billOne(ctx context.Context, t term.Term, student students.Student) (oc outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			oc = outcomeFailed
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	release := s.locks.Lock(student.ID)
	defer release()

	// Precondition order matters: first failure short-circuits.
	if student.Status != students.StatusActive {
		return outcomeSkipped, nil
	}
	if student.GradeLabel == "" {
		s.logger.Warn("student has no grade, skipping",
			slog.Int64("student_id", student.ID))
		return outcomeSkipped, nil
	}
	billed, err := s.ledger.AssignmentExists(ctx, student.ID, t.ID)
	if err != nil {
		return outcomeFailed, err
	}
	if billed {
		return outcomeSkipped, nil
	}
	tpl, err := s.templates.Resolve(ctx, t.ID, student.GradeLabel)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			s.logger.Warn("no fee template for grade, skipping",
				slog.Int64("student_id", student.ID),
				slog.String("grade", student.GradeLabel))
			return outcomeSkipped, nil
		}
		return outcomeFailed, err
	}

	if _, err := s.createAssignment(ctx, t, student, *tpl); err != nil {
		return outcomeFailed, err
	}
	return outcomeBilled, nil
}

// createAssignment generates items, persists the assignment and runs the
// cascade plus cache invalidation. Caller holds the student lock.
func (s *Service) createAssignment(ctx context.Context, t term.Term, student students.Student, tpl feeplan.Template) (*ledger.TermAssignment, error) {
	today := s.now()
	dueDate := t.BillingDueDate()
	items := GenerateItems(tpl, student, dueDate, today)

	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Original)
	}
	assignment := ledger.TermAssignment{
		StudentID:     student.ID,
		TermID:        t.ID,
		AcademicYear:  t.AcademicYear,
		TotalFee:      total,
		PaidAmount:    decimal.Zero,
		PendingAmount: total,
		Status:        ledger.DeriveAssignmentStatus(decimal.Zero, total, dueDate, today),
		DueDate:       dueDate,
		Items:         items,
	}

	created, err := s.ledger.CreateAssignment(ctx, assignment)
	if err != nil {
		return nil, fmt.Errorf("persist assignment: %w", err)
	}
	if _, err := s.cascade.Recalculate(ctx, student.ID); err != nil {
		return nil, fmt.Errorf("recalculate: %w", err)
	}
	if err := s.cache.Invalidate(ctx, student.ID); err != nil {
		s.logger.Warn("cache invalidation failed",
			slog.Int64("student_id", student.ID), slog.Any("error", err))
	}
	return created, nil
}

// BillStudent bills one student for one term. Unlike the batch path this
// surfaces precondition failures as errors.
func (s *Service) BillStudent(ctx context.Context, studentID, termID int64) (*ledger.TermAssignment, error) {
	t, err := s.terms.Get(ctx, termID)
	if err != nil {
		return nil, err
	}
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		return nil, err
	}

	release := s.locks.Lock(studentID)
	defer release()

	if student.Status != students.StatusActive {
		return nil, fmt.Errorf("%w: student %d is not active", shared.ErrValidation, studentID)
	}
	if student.GradeLabel == "" {
		return nil, fmt.Errorf("%w: student %d has no grade", shared.ErrValidation, studentID)
	}
	billed, err := s.ledger.AssignmentExists(ctx, studentID, termID)
	if err != nil {
		return nil, err
	}
	if billed {
		return nil, fmt.Errorf("%w: student %d already billed for term %d", shared.ErrStateConflict, studentID, termID)
	}
	tpl, err := s.templates.Resolve(ctx, termID, student.GradeLabel)
	if err != nil {
		return nil, err
	}
	return s.createAssignment(ctx, *t, *student, *tpl)
}

// RegenerateBill deletes the existing assignment and re-runs billing for one
// student. This is the explicit, audited override of the billing idempotency
// invariant.
func (s *Service) RegenerateBill(ctx context.Context, studentID, termID, actorID int64) (*ledger.TermAssignment, error) {
	t, err := s.terms.Get(ctx, termID)
	if err != nil {
		return nil, err
	}
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		return nil, err
	}
	tpl, err := s.templates.Resolve(ctx, termID, student.GradeLabel)
	if err != nil {
		return nil, err
	}

	release := s.locks.Lock(studentID)
	defer release()

	previous, err := s.ledger.GetAssignment(ctx, studentID, termID)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.DeleteAssignment(ctx, studentID, termID); err != nil {
		return nil, err
	}

	created, err := s.createAssignment(ctx, *t, *student, *tpl)
	if err != nil {
		return nil, err
	}

	if s.audit != nil {
		auditErr := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   shared.AuditActionRegenerateBill,
			Entity:   "term_assignment",
			EntityID: strconv.FormatInt(created.ID, 10),
			Meta: map[string]any{
				"student_id":    studentID,
				"term_id":       termID,
				"previous_id":   previous.ID,
				"previous_paid": previous.PaidAmount.String(),
			},
		})
		if auditErr != nil {
			s.logger.Error("audit record failed", slog.Any("error", auditErr))
		}
	}
	return created, nil
}

// ManualItemInput carries fields for a manually added surcharge or discount.
type ManualItemInput struct {
	StudentID int64
	TermID    int64
	Name      string
	Type      ledger.FeeType
	Amount    decimal.Decimal
	Mandatory bool
	ActorID   int64
}

// AddManualItem appends a non-auto-generated item to an existing assignment.
// Negative amounts record discounts and credits.
func (s *Service) AddManualItem(ctx context.Context, input ManualItemInput) (*ledger.FeeLineItem, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("%w: item name required", shared.ErrValidation)
	}
	if input.Amount.IsZero() {
		return nil, fmt.Errorf("%w: amount must be non-zero", shared.ErrValidation)
	}
	feeType := input.Type
	if feeType == "" {
		feeType = ledger.FeeOther
		if input.Amount.IsNegative() {
			feeType = ledger.FeeCredit
		}
	}

	release := s.locks.Lock(input.StudentID)
	defer release()

	assignment, err := s.ledger.GetAssignment(ctx, input.StudentID, input.TermID)
	if err != nil {
		return nil, err
	}

	today := s.now()
	amount := shared.RoundMoney(input.Amount)
	item := ledger.FeeLineItem{
		AssignmentID: assignment.ID,
		Name:         input.Name,
		Type:         feeType,
		Original:     amount,
		Paid:         decimal.Zero,
		Pending:      amount,
		DueDate:      assignment.DueDate,
		Mandatory:    input.Mandatory,
		Status:       ledger.DeriveItemStatus(decimal.Zero, amount, assignment.DueDate, today),
	}
	created, err := s.ledger.AddItem(ctx, item)
	if err != nil {
		return nil, err
	}
	if _, err := s.cascade.Recalculate(ctx, input.StudentID); err != nil {
		return nil, err
	}
	if err := s.cache.Invalidate(ctx, input.StudentID); err != nil {
		s.logger.Warn("cache invalidation failed",
			slog.Int64("student_id", input.StudentID), slog.Any("error", err))
	}
	if s.audit != nil && input.ActorID != 0 {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   shared.AuditActionManualItem,
			Entity:   "fee_line_item",
			EntityID: strconv.FormatInt(created.ID, 10),
			Meta:     map[string]any{"amount": amount.String(), "name": input.Name},
		})
	}
	return created, nil
}

// RemoveManualItem deletes a manually added item and reruns the cascade.
func (s *Service) RemoveManualItem(ctx context.Context, itemID int64) error {
	item, err := s.ledger.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item.AutoGenerated {
		return fmt.Errorf("%w: item %d is auto generated", shared.ErrStateConflict, itemID)
	}
	assignment, err := s.ledger.GetAssignmentByID(ctx, item.AssignmentID)
	if err != nil {
		return err
	}

	release := s.locks.Lock(assignment.StudentID)
	defer release()

	if err := s.ledger.RemoveItem(ctx, itemID); err != nil {
		return err
	}
	if _, err := s.cascade.Recalculate(ctx, assignment.StudentID); err != nil {
		return err
	}
	if err := s.cache.Invalidate(ctx, assignment.StudentID); err != nil {
		s.logger.Warn("cache invalidation failed",
			slog.Int64("student_id", assignment.StudentID), slog.Any("error", err))
	}
	return nil
}

// TermStatistics aggregates counts and sums per status and per grade.
func (s *Service) TermStatistics(ctx context.Context, termID int64) (*TermStatistics, error) {
	if _, err := s.terms.Get(ctx, termID); err != nil {
		return nil, err
	}
	byStatus, err := s.stats.StatusStats(ctx, termID)
	if err != nil {
		return nil, err
	}
	rows, err := s.stats.GradeRows(ctx, termID)
	if err != nil {
		return nil, err
	}

	// Raw grade labels vary ("5-A", "Grade 5"); fold them by canonical key.
	merged := make(map[string]*GradeStat)
	for _, row := range rows {
		key := shared.GradeKey(row.Grade)
		stat, ok := merged[key]
		if !ok {
			merged[key] = &GradeStat{
				Grade: key, Count: row.Count,
				Total: row.Total, Paid: row.Paid, Pending: row.Pending,
			}
			continue
		}
		stat.Count += row.Count
		stat.Total = stat.Total.Add(row.Total)
		stat.Paid = stat.Paid.Add(row.Paid)
		stat.Pending = stat.Pending.Add(row.Pending)
	}
	byGrade := make([]GradeStat, 0, len(merged))
	for _, stat := range merged {
		byGrade = append(byGrade, *stat)
	}
	sort.Slice(byGrade, func(i, j int) bool { return byGrade[i].Grade < byGrade[j].Grade })

	return &TermStatistics{TermID: termID, ByStatus: byStatus, ByGrade: byGrade}, nil
}
