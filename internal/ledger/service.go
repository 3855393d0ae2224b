package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// RepositoryPort defines the data access the recalculation cascade needs.
type RepositoryPort interface {
	ListAssignmentsByStudent(ctx context.Context, studentID int64) ([]TermAssignment, error)
	SaveAssignmentAggregates(ctx context.Context, a TermAssignment) error
	UpsertAnnual(ctx context.Context, a AnnualFeeAssignment) error
	DeleteAnnualsNotIn(ctx context.Context, studentID int64, years []string) error
	SaveSnapshot(ctx context.Context, s StudentFeeSnapshot) error
}

// Service owns the aggregate recalculation cascade. Every billing event,
// payment application, manual item edit or bulk status override must be
// followed by a Recalculate call for the affected student.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithClock overrides the time source, used by tests and the overdue sweep.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Recalculation is the result of one cascade run.
type Recalculation struct {
	TermAssignments   []TermAssignment
	AnnualAssignments []AnnualFeeAssignment
	Snapshot          StudentFeeSnapshot
}

// Recalculate recomputes, in order, every term assignment of the student from
// its current items, every annual aggregate from the term assignments, and
// finally the student snapshot. Idempotent: rerunning without intervening
// mutations persists identical values.
func (s *Service) Recalculate(ctx context.Context, studentID int64) (*Recalculation, error) {
	today := s.now()

	assignments, err := s.repo.ListAssignmentsByStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list assignments: %w", err)
	}

	for idx := range assignments {
		assignments[idx] = RecomputeAssignment(assignments[idx], today)
		if err := s.repo.SaveAssignmentAggregates(ctx, assignments[idx]); err != nil {
			return nil, fmt.Errorf("ledger: save assignment %d: %w", assignments[idx].ID, err)
		}
	}

	byYear := make(map[string][]TermAssignment)
	for _, a := range assignments {
		byYear[a.AcademicYear] = append(byYear[a.AcademicYear], a)
	}
	years := make([]string, 0, len(byYear))
	for year := range byYear {
		years = append(years, year)
	}
	sort.Strings(years)

	annuals := make([]AnnualFeeAssignment, 0, len(years))
	for _, year := range years {
		annual := RecomputeAnnual(studentID, year, byYear[year], today)
		if err := s.repo.UpsertAnnual(ctx, annual); err != nil {
			return nil, fmt.Errorf("ledger: upsert annual %s: %w", year, err)
		}
		annuals = append(annuals, annual)
	}
	if err := s.repo.DeleteAnnualsNotIn(ctx, studentID, years); err != nil {
		return nil, fmt.Errorf("ledger: prune annuals: %w", err)
	}

	snapshot := RecomputeSnapshot(studentID, assignments, today)
	if err := s.repo.SaveSnapshot(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("ledger: save snapshot: %w", err)
	}

	return &Recalculation{
		TermAssignments:   assignments,
		AnnualAssignments: annuals,
		Snapshot:          snapshot,
	}, nil
}
