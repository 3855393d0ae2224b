package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/campusledger/campusledger/internal/notify"
)

// OverduePort refreshes and lists overdue billing state.
type OverduePort interface {
	MarkOverdueAsOf(ctx context.Context, today time.Time) (int64, error)
	OverdueStudents(ctx context.Context) ([]OverdueRow, error)
}

// Sweeper drives the periodic overdue reminder run.
type Sweeper struct {
	logger *slog.Logger
	repo   OverduePort
	sender notify.Sender
	now    func() time.Time
}

// NewSweeper builds Sweeper instance.
func NewSweeper(logger *slog.Logger, repo OverduePort, sender notify.Sender) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{logger: logger, repo: repo, sender: sender, now: time.Now}
}

// WithClock overrides the time source.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Run flips newly overdue items, then sends one reminder per student with
// overdue items and returns the number sent. A failed or unaddressable
// reminder is logged and skipped; the sweep itself only fails when overdue
// state cannot be refreshed or loaded.
func (s *Sweeper) Run(ctx context.Context) (int, error) {
	flipped, err := s.repo.MarkOverdueAsOf(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("billing: mark overdue items: %w", err)
	}
	if flipped > 0 {
		s.logger.Info("marked items overdue", slog.Int64("items", flipped))
	}

	overdue, err := s.repo.OverdueStudents(ctx)
	if err != nil {
		return 0, fmt.Errorf("billing: list overdue students: %w", err)
	}

	sent := 0
	for _, row := range overdue {
		if row.GuardianSMS == "" {
			s.logger.Warn("no guardian contact, skipping reminder",
				slog.Int64("student_id", row.StudentID))
			continue
		}
		reminder := notify.Reminder{
			StudentID:   row.StudentID,
			StudentName: row.FullName,
			GuardianSMS: row.GuardianSMS,
			Overdue:     row.Overdue,
			ItemCount:   row.ItemCount,
		}
		if err := s.sender.Send(ctx, reminder); err != nil {
			s.logger.Warn("reminder delivery failed",
				slog.Int64("student_id", row.StudentID), slog.Any("error", err))
			continue
		}
		sent++
	}
	s.logger.Info("overdue sweep finished",
		slog.Int("students", len(overdue)), slog.Int("sent", sent))
	return sent, nil
}
