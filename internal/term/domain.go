package term

import "time"

// Status enumerates term lifecycle states.
type Status string

const (
	StatusUpcoming  Status = "UPCOMING"
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
)

// Term is a billing period within an academic year. At most one term
// system-wide carries IsCurrent at any time.
type Term struct {
	ID           int64
	Name         string
	AcademicYear string
	StartDate    time.Time
	EndDate      time.Time
	FeeDueDate   *time.Time
	IsCurrent    bool
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BillingDueDate is the fee due date, falling back to start + 30 days when
// no explicit due date was set.
func (t Term) BillingDueDate() time.Time {
	if t.FeeDueDate != nil && !t.FeeDueDate.IsZero() {
		return *t.FeeDueDate
	}
	return t.StartDate.AddDate(0, 0, 30)
}

// StatusFor derives the lifecycle status from the calendar dates.
func (t Term) StatusFor(today time.Time) Status {
	switch {
	case today.Before(t.StartDate):
		return StatusUpcoming
	case today.After(t.EndDate):
		return StatusCompleted
	default:
		return StatusActive
	}
}

// CreateTermInput carries fields for creating a term.
type CreateTermInput struct {
	Name         string
	AcademicYear string
	StartDate    time.Time
	EndDate      time.Time
	FeeDueDate   *time.Time
}
