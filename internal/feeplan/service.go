package feeplan

import (
	"context"
	"errors"
	"fmt"

	"github.com/campusledger/campusledger/internal/shared"
)

// RepositoryPort defines data access methods for fee templates.
type RepositoryPort interface {
	Create(ctx context.Context, t Template) (*Template, error)
	FindByLabel(ctx context.Context, termID int64, gradeLabel string) (*Template, error)
	FindByKey(ctx context.Context, termID int64, gradeKey string) (*Template, error)
	ListByTerm(ctx context.Context, termID int64) ([]Template, error)
	Get(ctx context.Context, id int64) (*Template, error)
	Delete(ctx context.Context, id int64) error
	ListAssignedGradeLabels(ctx context.Context, termID int64) ([]string, error)
}

// Service handles fee template business logic, including the grade label
// resolver used by auto-billing.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Create normalizes the grade label and stores the template. Normalizing at
// write time keeps resolution a single indexed lookup instead of repeated
// fallback scans.
func (s *Service) Create(ctx context.Context, input CreateTemplateInput) (*Template, error) {
	if input.TermID == 0 {
		return nil, fmt.Errorf("%w: term ID required", shared.ErrValidation)
	}
	key := shared.GradeKey(input.GradeLabel)
	if key == "" {
		return nil, fmt.Errorf("%w: grade label required", shared.ErrValidation)
	}
	if existing, err := s.repo.FindByKey(ctx, input.TermID, key); err == nil && existing != nil {
		return nil, fmt.Errorf("%w: template for grade %q already exists", shared.ErrStateConflict, input.GradeLabel)
	}
	return s.repo.Create(ctx, Template{
		TermID:      input.TermID,
		GradeLabel:  input.GradeLabel,
		GradeKey:    key,
		Tuition:     input.Tuition,
		Basic:       input.Basic,
		Examination: input.Examination,
		Transport:   input.Transport,
		Library:     input.Library,
		Sports:      input.Sports,
		Activity:    input.Activity,
		Hostel:      input.Hostel,
		Uniform:     input.Uniform,
		Book:        input.Book,
		Other:       input.Other,
	})
}

// Resolve maps (term, grade label) to a template. Exact raw label match
// first, then the canonical key index, then a full scan over the term's
// templates comparing canonical keys. ErrNotFound means billing for the
// student is skipped, never defaulted to zero fees.
func (s *Service) Resolve(ctx context.Context, termID int64, gradeLabel string) (*Template, error) {
	if t, err := s.repo.FindByLabel(ctx, termID, gradeLabel); err == nil {
		return t, nil
	} else if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	key := shared.GradeKey(gradeLabel)
	if key == "" {
		return nil, fmt.Errorf("%w: no template for grade %q", shared.ErrNotFound, gradeLabel)
	}
	if t, err := s.repo.FindByKey(ctx, termID, key); err == nil {
		return t, nil
	} else if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	// Legacy rows created before key normalization may carry a raw label
	// whose key never made it into the index.
	all, err := s.repo.ListByTerm(ctx, termID)
	if err != nil {
		return nil, err
	}
	for idx := range all {
		if shared.SameGrade(all[idx].GradeLabel, gradeLabel) {
			return &all[idx], nil
		}
	}
	return nil, fmt.Errorf("%w: no template for grade %q", shared.ErrNotFound, gradeLabel)
}

// ListByTerm returns a term's templates.
func (s *Service) ListByTerm(ctx context.Context, termID int64) ([]Template, error) {
	return s.repo.ListByTerm(ctx, termID)
}

// Delete refuses to remove a template while students of its grade hold
// assignments in the term.
func (s *Service) Delete(ctx context.Context, id int64) error {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	labels, err := s.repo.ListAssignedGradeLabels(ctx, t.TermID)
	if err != nil {
		return err
	}
	for _, label := range labels {
		if shared.SameGrade(label, t.GradeLabel) {
			return fmt.Errorf("%w: template %d has active assignments", shared.ErrStateConflict, id)
		}
	}
	return s.repo.Delete(ctx, id)
}
