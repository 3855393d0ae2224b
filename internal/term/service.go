package term

import (
	"context"
	"fmt"
	"time"

	"github.com/campusledger/campusledger/internal/shared"
)

// RepositoryPort defines data access methods for terms.
type RepositoryPort interface {
	Create(ctx context.Context, input CreateTermInput, status Status) (*Term, error)
	Get(ctx context.Context, id int64) (*Term, error)
	FindCurrent(ctx context.Context) (*Term, error)
	ListUpcoming(ctx context.Context, after time.Time) ([]Term, error)
	List(ctx context.Context) ([]Term, error)
	PromoteCurrent(ctx context.Context, id int64) error
	UpdateStatus(ctx context.Context, id int64, status Status) error
}

// Service handles term calendar business logic.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create validates the date range and inserts a term with its derived
// lifecycle status.
func (s *Service) Create(ctx context.Context, input CreateTermInput) (*Term, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("%w: term name required", shared.ErrValidation)
	}
	if input.AcademicYear == "" {
		return nil, fmt.Errorf("%w: academic year required", shared.ErrValidation)
	}
	if input.StartDate.IsZero() || input.EndDate.IsZero() || !input.EndDate.After(input.StartDate) {
		return nil, fmt.Errorf("%w: end date must be after start date", shared.ErrValidation)
	}
	if input.FeeDueDate != nil && input.FeeDueDate.Before(input.StartDate) {
		return nil, fmt.Errorf("%w: fee due date before term start", shared.ErrValidation)
	}
	status := Term{StartDate: input.StartDate, EndDate: input.EndDate}.StatusFor(s.now())
	return s.repo.Create(ctx, input, status)
}

// Get returns one term.
func (s *Service) Get(ctx context.Context, id int64) (*Term, error) {
	return s.repo.Get(ctx, id)
}

// Current returns the promoted term.
func (s *Service) Current(ctx context.Context) (*Term, error) {
	return s.repo.FindCurrent(ctx)
}

// Upcoming returns terms starting after today, earliest first.
func (s *Service) Upcoming(ctx context.Context) ([]Term, error) {
	return s.repo.ListUpcoming(ctx, s.now())
}

// List returns all terms.
func (s *Service) List(ctx context.Context) ([]Term, error) {
	return s.repo.List(ctx)
}

// PromoteCurrent makes the given term the single current one.
func (s *Service) PromoteCurrent(ctx context.Context, id int64) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	return s.repo.PromoteCurrent(ctx, id)
}

// TransitionStatuses walks every term and flips its lifecycle status when the
// calendar has moved past it. Run on a schedule; safe to rerun.
func (s *Service) TransitionStatuses(ctx context.Context) (int, error) {
	terms, err := s.repo.List(ctx)
	if err != nil {
		return 0, err
	}
	today := s.now()
	changed := 0
	for _, t := range terms {
		next := t.StatusFor(today)
		if next == t.Status {
			continue
		}
		if err := s.repo.UpdateStatus(ctx, t.ID, next); err != nil {
			return changed, fmt.Errorf("term: transition %d: %w", t.ID, err)
		}
		changed++
	}
	return changed, nil
}
