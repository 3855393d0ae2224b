package feeplan

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/campusledger/campusledger/internal/shared"
)

type memoryTemplateRepo struct {
	templates      map[int64]*Template
	assignedGrades map[int64][]string
	nextID         int64
}

func newMemoryTemplateRepo() *memoryTemplateRepo {
	return &memoryTemplateRepo{
		templates:      make(map[int64]*Template),
		assignedGrades: make(map[int64][]string),
	}
}

func (r *memoryTemplateRepo) Create(ctx context.Context, t Template) (*Template, error) {
	r.nextID++
	t.ID = r.nextID
	t.CreatedAt = time.Now()
	r.templates[t.ID] = &t
	return &t, nil
}

func (r *memoryTemplateRepo) FindByLabel(ctx context.Context, termID int64, gradeLabel string) (*Template, error) {
	for _, t := range r.templates {
		if t.TermID == termID && strings.EqualFold(t.GradeLabel, gradeLabel) {
			return t, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memoryTemplateRepo) FindByKey(ctx context.Context, termID int64, gradeKey string) (*Template, error) {
	for _, t := range r.templates {
		if t.TermID == termID && t.GradeKey == gradeKey {
			return t, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memoryTemplateRepo) ListByTerm(ctx context.Context, termID int64) ([]Template, error) {
	var out []Template
	for _, t := range r.templates {
		if t.TermID == termID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (r *memoryTemplateRepo) Get(ctx context.Context, id int64) (*Template, error) {
	t, ok := r.templates[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return t, nil
}

func (r *memoryTemplateRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := r.templates[id]; !ok {
		return shared.ErrNotFound
	}
	delete(r.templates, id)
	return nil
}

func (r *memoryTemplateRepo) ListAssignedGradeLabels(ctx context.Context, termID int64) ([]string, error) {
	return r.assignedGrades[termID], nil
}

func TestResolveMatchesLabelVariants(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryTemplateRepo()
	svc := NewService(repo)

	_, err := svc.Create(ctx, CreateTemplateInput{
		TermID:     1,
		GradeLabel: "5",
		Tuition:    decimal.NewFromInt(3000),
	})
	require.NoError(t, err)

	for _, label := range []string{"5", "5-A", "5 - Section B", "Grade 5"} {
		got, err := svc.Resolve(ctx, 1, label)
		require.NoError(t, err, "label %q", label)
		require.Equal(t, "5", got.GradeKey)
	}
}

func TestResolveFallsBackToScan(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryTemplateRepo()
	svc := NewService(repo)

	// legacy row stored without a canonical key
	repo.nextID++
	repo.templates[repo.nextID] = &Template{
		ID: repo.nextID, TermID: 1, GradeLabel: "Grade 7", GradeKey: "",
		Tuition: decimal.NewFromInt(2500),
	}

	got, err := svc.Resolve(ctx, 1, "7-B")
	require.NoError(t, err)
	require.Equal(t, "Grade 7", got.GradeLabel)
}

func TestResolveMissReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryTemplateRepo())

	_, err := svc.Resolve(ctx, 1, "9-A")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreateRejectsDuplicateGradeKey(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMemoryTemplateRepo())

	_, err := svc.Create(ctx, CreateTemplateInput{TermID: 1, GradeLabel: "Grade 5"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateTemplateInput{TermID: 1, GradeLabel: "5-A"})
	require.ErrorIs(t, err, shared.ErrStateConflict)
}

func TestDeleteRefusedWithActiveAssignments(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryTemplateRepo()
	svc := NewService(repo)

	created, err := svc.Create(ctx, CreateTemplateInput{TermID: 1, GradeLabel: "5"})
	require.NoError(t, err)

	repo.assignedGrades[1] = []string{"5-A"}
	err = svc.Delete(ctx, created.ID)
	require.ErrorIs(t, err, shared.ErrStateConflict)

	repo.assignedGrades[1] = []string{"6-A"}
	require.NoError(t, svc.Delete(ctx, created.ID))
}
