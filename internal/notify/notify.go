// Package notify delivers fee reminders to guardians. Delivery failures are
// logged and never fail the operation that triggered them.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
)

// Reminder is one guardian-facing overdue notice.
type Reminder struct {
	StudentID   int64           `json:"studentId"`
	StudentName string          `json:"studentName"`
	GuardianSMS string          `json:"guardianSms"`
	Overdue     decimal.Decimal `json:"overdue"`
	ItemCount   int             `json:"itemCount"`
}

// Message renders the SMS body.
func (r Reminder) Message() string {
	return fmt.Sprintf("Fee reminder for %s: %s outstanding across %d item(s). Please pay at the school office or online.",
		r.StudentName, r.Overdue.StringFixed(2), r.ItemCount)
}

// Sender delivers one reminder.
type Sender interface {
	Send(ctx context.Context, r Reminder) error
}

// LogSender logs reminders instead of delivering them. Stands in until an
// SMS gateway account is provisioned.
type LogSender struct {
	Logger *slog.Logger
}

// Send logs the reminder.
func (s LogSender) Send(ctx context.Context, r Reminder) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("fee reminder",
		slog.Int64("student_id", r.StudentID),
		slog.String("to", r.GuardianSMS),
		slog.String("message", r.Message()))
	return nil
}

// Enqueuer hands a reminder to the background queue.
type Enqueuer interface {
	EnqueueReminder(ctx context.Context, r Reminder) error
}

// QueueSender defers delivery to the worker via the job queue, so a slow
// gateway never blocks the overdue sweep.
type QueueSender struct {
	Queue Enqueuer
}

// Send enqueues the reminder.
func (s QueueSender) Send(ctx context.Context, r Reminder) error {
	if err := s.Queue.EnqueueReminder(ctx, r); err != nil {
		return fmt.Errorf("notify: enqueue reminder for student %d: %w", r.StudentID, err)
	}
	return nil
}
