package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/campusledger/campusledger/internal/billing"
	jobmetrics "github.com/campusledger/campusledger/internal/jobs"
	"github.com/campusledger/campusledger/internal/notify"
	"github.com/campusledger/campusledger/internal/shared"
	"github.com/campusledger/campusledger/internal/term"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTermBilling runs auto-billing for one term.
	TaskTermBilling = "billing:run_term"
	// TaskTermTransition advances term statuses past their date boundaries.
	TaskTermTransition = "term:transition"
	// TaskOverdueSweep sends reminders for overdue items.
	TaskOverdueSweep = "billing:overdue_sweep"
	// TaskSendReminder delivers one guardian reminder.
	TaskSendReminder = "reminder:send"
)

// TermBillingPayload identifies the term to bill. A zero TermID means the
// current term, which lets the scheduled run carry a static payload.
type TermBillingPayload struct {
	TermID int64 `json:"termId"`
}

// TermBiller runs the auto-billing orchestrator for one term.
type TermBiller interface {
	BillTerm(ctx context.Context, termID int64) (*billing.Result, error)
}

// TermCalendar resolves the current term for scheduled billing runs.
type TermCalendar interface {
	Current(ctx context.Context) (*term.Term, error)
}

// NewTermBillingTask constructs an Asynq task.
func NewTermBillingTask(payload TermBillingPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTermBilling, data), nil
}

// NewTermTransitionTask constructs the status transition task.
func NewTermTransitionTask() *asynq.Task {
	return asynq.NewTask(TaskTermTransition, nil)
}

// NewOverdueSweepTask constructs the overdue reminder sweep task.
func NewOverdueSweepTask() *asynq.Task {
	return asynq.NewTask(TaskOverdueSweep, nil)
}

// NewSendReminderTask constructs a single reminder delivery task.
func NewSendReminderTask(r notify.Reminder) (*asynq.Task, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSendReminder, data), nil
}

// HandleTermBilling returns the handler for TaskTermBilling. Billing is
// idempotent, so Asynq retries after partial failure are safe. A payload
// without a term id bills the current term; outside any term the run is a
// no-op rather than a retryable failure.
func HandleTermBilling(svc TermBiller, terms TermCalendar, logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload TermBillingPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		termID := payload.TermID
		if termID == 0 {
			current, err := terms.Current(ctx)
			if err != nil {
				if errors.Is(err, shared.ErrNotFound) {
					logger.Info("no current term, skipping scheduled billing")
					return nil
				}
				return err
			}
			termID = current.ID
		}
		tracker := metrics.Track("term_billing")
		result, err := svc.BillTerm(ctx, termID)
		if err != nil {
			return tracker.End(err)
		}
		logger.Info("scheduled billing run finished",
			slog.Int64("term_id", termID),
			slog.Int("billed", result.Billed),
			slog.Int("skipped", result.Skipped),
			slog.Int("failed", len(result.Errors)))
		return tracker.End(nil)
	}
}

// HandleTermTransition returns the handler for TaskTermTransition.
func HandleTermTransition(svc *term.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("term_transition")
		changed, err := svc.TransitionStatuses(ctx)
		if err != nil {
			return tracker.End(err)
		}
		if changed > 0 {
			logger.Info("term statuses advanced", slog.Int("changed", changed))
		}
		return tracker.End(nil)
	}
}

// HandleOverdueSweep returns the handler for TaskOverdueSweep.
func HandleOverdueSweep(sweeper *billing.Sweeper, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("overdue_sweep")
		_, err := sweeper.Run(ctx)
		return tracker.End(err)
	}
}

// HandleSendReminder returns the handler for TaskSendReminder.
func HandleSendReminder(sender notify.Sender, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var reminder notify.Reminder
		if err := json.Unmarshal(t.Payload(), &reminder); err != nil {
			return asynq.SkipRetry
		}
		tracker := metrics.Track("send_reminder")
		return tracker.End(sender.Send(ctx, reminder))
	}
}
