package billing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campusledger/campusledger/internal/notify"
)

type stubOverdue struct {
	rows    []OverdueRow
	flipped int64
	err     error
}

func (s *stubOverdue) MarkOverdueAsOf(ctx context.Context, today time.Time) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.flipped, nil
}

func (s *stubOverdue) OverdueStudents(ctx context.Context) ([]OverdueRow, error) {
	return s.rows, s.err
}

type recordingSender struct {
	sent    []notify.Reminder
	failFor int64
}

func (s *recordingSender) Send(ctx context.Context, r notify.Reminder) error {
	if r.StudentID == s.failFor {
		return fmt.Errorf("gateway timeout")
	}
	s.sent = append(s.sent, r)
	return nil
}

func TestOverdueSweepSendsPerStudent(t *testing.T) {
	repo := &stubOverdue{rows: []OverdueRow{
		{StudentID: 1, FullName: "Asha Rao", GuardianSMS: "+91900000001", Overdue: money("1200"), ItemCount: 2},
		{StudentID: 2, FullName: "Ravi Iyer", GuardianSMS: "", Overdue: money("500"), ItemCount: 1},
		{StudentID: 3, FullName: "Meera Nair", GuardianSMS: "+91900000003", Overdue: money("800"), ItemCount: 1},
	}}
	sender := &recordingSender{}

	sent, err := NewSweeper(nil, repo, sender).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, sent, "students without guardian contact are skipped")
	require.Len(t, sender.sent, 2)
	require.Contains(t, sender.sent[0].Message(), "1200.00")
}

func TestOverdueSweepSurvivesDeliveryFailures(t *testing.T) {
	repo := &stubOverdue{rows: []OverdueRow{
		{StudentID: 1, FullName: "Asha Rao", GuardianSMS: "+91900000001", Overdue: money("100"), ItemCount: 1},
		{StudentID: 2, FullName: "Ravi Iyer", GuardianSMS: "+91900000002", Overdue: money("200"), ItemCount: 1},
	}}
	sender := &recordingSender{failFor: 1}

	sent, err := NewSweeper(nil, repo, sender).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, sent)
}

func TestOverdueSweepPropagatesListFailure(t *testing.T) {
	repo := &stubOverdue{err: fmt.Errorf("connection refused")}

	_, err := NewSweeper(nil, repo, &recordingSender{}).Run(context.Background())
	require.Error(t, err)
}
