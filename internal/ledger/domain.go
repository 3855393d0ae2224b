package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/campusledger/campusledger/internal/shared"
)

// FeeType enumerates billable fee components.
type FeeType string

const (
	FeeTuition     FeeType = "TUITION"
	FeeBasic       FeeType = "BASIC"
	FeeExamination FeeType = "EXAMINATION"
	FeeTransport   FeeType = "TRANSPORT"
	FeeLibrary     FeeType = "LIBRARY"
	FeeSports      FeeType = "SPORTS"
	FeeActivity    FeeType = "ACTIVITY"
	FeeHostel      FeeType = "HOSTEL"
	FeeUniform     FeeType = "UNIFORM"
	FeeBook        FeeType = "BOOK"
	FeeOther       FeeType = "OTHER"
	// FeeCredit marks negative-amount items. Manual discounts carry the
	// type with is_auto_generated false; overpayment credits are written by
	// the payment engine with is_auto_generated true, which keeps them out
	// of manual item removal.
	FeeCredit FeeType = "CREDIT"
)

// ItemStatus enumerates fee line item statuses. The status is always derived
// from the amounts and the due date, never stored independently of them.
type ItemStatus string

const (
	ItemPending ItemStatus = "PENDING"
	ItemPartial ItemStatus = "PARTIAL"
	ItemPaid    ItemStatus = "PAID"
	ItemOverdue ItemStatus = "OVERDUE"
)

// AssignmentStatus enumerates term/annual assignment statuses.
type AssignmentStatus string

const (
	AssignmentPending AssignmentStatus = "PENDING"
	AssignmentPartial AssignmentStatus = "PARTIAL"
	AssignmentPaid    AssignmentStatus = "PAID"
	AssignmentOverdue AssignmentStatus = "OVERDUE"
)

// FeeLineItem is one billable component of a student's term fee. It belongs
// to exactly one TermAssignment. Invariant: Paid + Pending == Original.
type FeeLineItem struct {
	ID            int64
	AssignmentID  int64
	Name          string
	Type          FeeType
	Original      decimal.Decimal
	Paid          decimal.Decimal
	Pending       decimal.Decimal
	DueDate       time.Time
	Mandatory     bool
	AutoGenerated bool
	Sequence      int
	Status        ItemStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Outstanding reports whether the item can still absorb payment.
func (i FeeLineItem) Outstanding() bool {
	return i.Pending.IsPositive()
}

// TermAssignment aggregates a student's line items for one term.
// TotalFee, PaidAmount, PendingAmount and Status are derived from the items.
type TermAssignment struct {
	ID            int64
	StudentID     int64
	TermID        int64
	AcademicYear  string
	TotalFee      decimal.Decimal
	PaidAmount    decimal.Decimal
	PendingAmount decimal.Decimal
	Status        AssignmentStatus
	DueDate       time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Items []FeeLineItem
}

// AnnualFeeAssignment aggregates all term assignments of one academic year.
// Recomputed from the term assignments, never independently mutated.
type AnnualFeeAssignment struct {
	ID            int64
	StudentID     int64
	AcademicYear  string
	TotalFee      decimal.Decimal
	PaidAmount    decimal.Decimal
	PendingAmount decimal.Decimal
	Status        AssignmentStatus
	UpdatedAt     time.Time
}

// StudentFeeSnapshot is the denormalized per-student view used for fast
// listing. Eventually consistent with the assignments, never authoritative.
type StudentFeeSnapshot struct {
	StudentID     int64
	TotalFee      decimal.Decimal
	PaidAmount    decimal.Decimal
	PendingAmount decimal.Decimal
	Status        AssignmentStatus
	UpdatedAt     time.Time
}

// DeriveItemStatus derives a line item status from its amounts and due date.
// Evaluation order: settled, then partially paid, then overdue, then pending.
// Negative-amount credits settle immediately since nothing remains pending.
func DeriveItemStatus(paid, original decimal.Decimal, dueDate, today time.Time) ItemStatus {
	pending := original.Sub(paid)
	switch {
	case !pending.IsPositive():
		return ItemPaid
	case paid.IsPositive():
		return ItemPartial
	case !dueDate.IsZero() && dueDate.Before(today):
		return ItemOverdue
	default:
		return ItemPending
	}
}

// DeriveAssignmentStatus derives an assignment status from its aggregates.
// First match wins: fully paid, then partial, then overdue, then pending.
func DeriveAssignmentStatus(paid, pending decimal.Decimal, dueDate, today time.Time) AssignmentStatus {
	switch {
	case !pending.IsPositive():
		return AssignmentPaid
	case paid.IsPositive():
		return AssignmentPartial
	case !dueDate.IsZero() && dueDate.Before(today):
		return AssignmentOverdue
	default:
		return AssignmentPending
	}
}

// RecomputeAssignment rebuilds the derived fields of an assignment from its
// current items. Returns the assignment with TotalFee == Σ item.Original,
// PaidAmount == Σ item.Paid and PendingAmount == TotalFee − PaidAmount.
func RecomputeAssignment(a TermAssignment, today time.Time) TermAssignment {
	total := decimal.Zero
	paid := decimal.Zero
	for _, item := range a.Items {
		total = total.Add(item.Original)
		paid = paid.Add(item.Paid)
	}
	a.TotalFee = shared.RoundMoney(total)
	a.PaidAmount = shared.RoundMoney(paid)
	a.PendingAmount = a.TotalFee.Sub(a.PaidAmount)
	a.Status = DeriveAssignmentStatus(a.PaidAmount, a.PendingAmount, a.DueDate, today)
	return a
}

// RecomputeAnnual folds term assignments of one academic year into the annual
// aggregate. The latest due date among the terms drives overdue derivation.
func RecomputeAnnual(studentID int64, year string, assignments []TermAssignment, today time.Time) AnnualFeeAssignment {
	total := decimal.Zero
	paid := decimal.Zero
	var latestDue time.Time
	for _, a := range assignments {
		total = total.Add(a.TotalFee)
		paid = paid.Add(a.PaidAmount)
		if a.DueDate.After(latestDue) {
			latestDue = a.DueDate
		}
	}
	pending := total.Sub(paid)
	return AnnualFeeAssignment{
		StudentID:     studentID,
		AcademicYear:  year,
		TotalFee:      total,
		PaidAmount:    paid,
		PendingAmount: pending,
		Status:        DeriveAssignmentStatus(paid, pending, latestDue, today),
	}
}

// RecomputeSnapshot folds every term assignment of a student into the
// denormalized snapshot.
func RecomputeSnapshot(studentID int64, assignments []TermAssignment, today time.Time) StudentFeeSnapshot {
	total := decimal.Zero
	paid := decimal.Zero
	var latestDue time.Time
	for _, a := range assignments {
		total = total.Add(a.TotalFee)
		paid = paid.Add(a.PaidAmount)
		if a.DueDate.After(latestDue) {
			latestDue = a.DueDate
		}
	}
	pending := total.Sub(paid)
	return StudentFeeSnapshot{
		StudentID:     studentID,
		TotalFee:      total,
		PaidAmount:    paid,
		PendingAmount: pending,
		Status:        DeriveAssignmentStatus(paid, pending, latestDue, today),
	}
}
