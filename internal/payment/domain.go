package payment

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/campusledger/campusledger/internal/ledger"
)

// Payment is one received cash payment.
type Payment struct {
	ID         int64
	Reference  string
	StudentID  int64
	Amount     decimal.Decimal
	Method     string
	Note       string
	ReceivedAt time.Time
	CreatedAt  time.Time
}

// UnpaidItem is the allocation engine's read model: a line item that can
// still absorb payment, annotated with its term so the engine can tell
// current-or-past obligations from future ones.
type UnpaidItem struct {
	ItemID       int64             `json:"itemId"`
	AssignmentID int64             `json:"assignmentId"`
	TermID       int64             `json:"termId"`
	TermStart    time.Time         `json:"termStart"`
	Name         string            `json:"name"`
	Type         ledger.FeeType    `json:"type"`
	Original     decimal.Decimal   `json:"original"`
	Paid         decimal.Decimal   `json:"paid"`
	Pending      decimal.Decimal   `json:"pending"`
	DueDate      time.Time         `json:"dueDate"`
	Mandatory    bool              `json:"mandatory"`
	Sequence     int               `json:"sequence"`
	Status       ledger.ItemStatus `json:"status"`
}

// SortForAllocation fixes the allocation total order: due date ascending,
// mandatory before optional, then sequence, then item id. Due dates sort
// overdue items first without a separate overdue pass.
func SortForAllocation(items []UnpaidItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		if a.Mandatory != b.Mandatory {
			return a.Mandatory
		}
		if a.Sequence != b.Sequence {
			return a.Sequence < b.Sequence
		}
		return a.ItemID < b.ItemID
	})
}

// AppliedItem reports what one item absorbed.
type AppliedItem struct {
	ItemID        int64             `json:"itemId"`
	Name          string            `json:"name"`
	AmountApplied decimal.Decimal   `json:"amountApplied"`
	NewStatus     ledger.ItemStatus `json:"newStatus"`
}

// AllocationResult is the outcome of one payment application. Remaining is
// zero whenever the amount was fully absorbed, including through a credit.
type AllocationResult struct {
	PaymentID    int64           `json:"paymentId"`
	Reference    string          `json:"reference"`
	AppliedItems []AppliedItem   `json:"appliedItems"`
	Remaining    decimal.Decimal `json:"remaining"`
	CreditItemID int64           `json:"creditItemId,omitempty"`
}

// ApplyInput carries fields for a payment application. ApplyToFutureTerms is
// deliberately required: the caller decides whether an overpayment sweeps
// into future terms or becomes a credit.
type ApplyInput struct {
	StudentID          int64
	Amount             decimal.Decimal
	Method             string
	Note               string
	ReceivedAt         time.Time
	ApplyToFutureTerms bool
}
