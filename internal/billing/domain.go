package billing

import (
	"github.com/shopspring/decimal"
)

// Result summarises one batch billing run. A batch never aborts on a single
// student: failures are itemized and the rest of the population proceeds.
type Result struct {
	TermID  int64    `json:"termId"`
	Billed  int      `json:"billedCount"`
	Skipped int      `json:"skippedCount"`
	Errors  []string `json:"errors"`
}

// StatusStat aggregates assignments sharing one status.
type StatusStat struct {
	Status  string          `json:"status"`
	Count   int             `json:"count"`
	Total   decimal.Decimal `json:"total"`
	Paid    decimal.Decimal `json:"paid"`
	Pending decimal.Decimal `json:"pending"`
}

// GradeStat aggregates assignments of students sharing one canonical grade.
type GradeStat struct {
	Grade   string          `json:"grade"`
	Count   int             `json:"count"`
	Total   decimal.Decimal `json:"total"`
	Paid    decimal.Decimal `json:"paid"`
	Pending decimal.Decimal `json:"pending"`
}

// OverdueRow is one student's overdue position, input to the reminder sweep.
type OverdueRow struct {
	StudentID   int64
	FullName    string
	GuardianSMS string
	Overdue     decimal.Decimal
	ItemCount   int
}

// TermStatistics is the aggregate view of one term's billing state.
type TermStatistics struct {
	TermID   int64        `json:"termId"`
	ByStatus []StatusStat `json:"byStatus"`
	ByGrade  []GradeStat  `json:"byGrade"`
}
