package billing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/campusledger/campusledger/internal/feeplan"
	"github.com/campusledger/campusledger/internal/ledger"
	"github.com/campusledger/campusledger/internal/shared"
	"github.com/campusledger/campusledger/internal/students"
	"github.com/campusledger/campusledger/internal/term"
)

func money(v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		panic(err)
	}
	return d
}

func fixedNow() time.Time {
	return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
}

func testTerm() *term.Term {
	due := time.Date(2024, 7, 10, 0, 0, 0, 0, time.UTC)
	return &term.Term{
		ID:           1,
		Name:         "Term 1",
		AcademicYear: "2024-25",
		StartDate:    time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		EndDate:      time.Date(2024, 9, 30, 0, 0, 0, 0, time.UTC),
		FeeDueDate:   &due,
		IsCurrent:    true,
		Status:       term.StatusActive,
	}
}

type stubDirectory struct {
	students []students.Student
}

func (d *stubDirectory) FindActive(ctx context.Context) ([]students.Student, error) {
	var out []students.Student
	for _, s := range d.students {
		if s.Status == students.StatusActive {
			out = append(out, s)
		}
	}
	return out, nil
}

func (d *stubDirectory) FindByID(ctx context.Context, id int64) (*students.Student, error) {
	for _, s := range d.students {
		if s.ID == id {
			st := s
			return &st, nil
		}
	}
	return nil, shared.ErrNotFound
}

type stubCalendar struct{ term *term.Term }

func (c stubCalendar) Get(ctx context.Context, id int64) (*term.Term, error) {
	if c.term == nil || c.term.ID != id {
		return nil, shared.ErrNotFound
	}
	return c.term, nil
}

type stubResolver struct {
	templates map[string]*feeplan.Template
	failFor   map[string]error
}

func (r *stubResolver) Resolve(ctx context.Context, termID int64, gradeLabel string) (*feeplan.Template, error) {
	key := shared.GradeKey(gradeLabel)
	if err, ok := r.failFor[key]; ok {
		return nil, err
	}
	tpl, ok := r.templates[key]
	if !ok {
		return nil, fmt.Errorf("%w: no template for grade %q", shared.ErrNotFound, gradeLabel)
	}
	return tpl, nil
}

type memoryLedger struct {
	mu          sync.Mutex
	assignments map[int64]*ledger.TermAssignment
	nextID      int64
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{assignments: make(map[int64]*ledger.TermAssignment)}
}

func (m *memoryLedger) find(studentID, termID int64) *ledger.TermAssignment {
	for _, a := range m.assignments {
		if a.StudentID == studentID && a.TermID == termID {
			return a
		}
	}
	return nil
}

func (m *memoryLedger) AssignmentExists(ctx context.Context, studentID, termID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(studentID, termID) != nil, nil
}

func (m *memoryLedger) CreateAssignment(ctx context.Context, a ledger.TermAssignment) (*ledger.TermAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.find(a.StudentID, a.TermID) != nil {
		return nil, fmt.Errorf("%w: assignment exists", shared.ErrStateConflict)
	}
	m.nextID++
	a.ID = m.nextID
	for i := range a.Items {
		m.nextID++
		a.Items[i].ID = m.nextID
		a.Items[i].AssignmentID = a.ID
	}
	m.assignments[a.ID] = &a
	return &a, nil
}

func (m *memoryLedger) DeleteAssignment(ctx context.Context, studentID, termID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.find(studentID, termID)
	if a == nil {
		return shared.ErrNotFound
	}
	delete(m.assignments, a.ID)
	return nil
}

func (m *memoryLedger) GetAssignment(ctx context.Context, studentID, termID int64) (*ledger.TermAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.find(studentID, termID)
	if a == nil {
		return nil, shared.ErrNotFound
	}
	return a, nil
}

func (m *memoryLedger) GetAssignmentByID(ctx context.Context, id int64) (*ledger.TermAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return a, nil
}

func (m *memoryLedger) GetItem(ctx context.Context, itemID int64) (*ledger.FeeLineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assignments {
		for i := range a.Items {
			if a.Items[i].ID == itemID {
				return &a.Items[i], nil
			}
		}
	}
	return nil, shared.ErrNotFound
}

func (m *memoryLedger) AddItem(ctx context.Context, item ledger.FeeLineItem) (*ledger.FeeLineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[item.AssignmentID]
	if !ok {
		return nil, shared.ErrNotFound
	}
	m.nextID++
	item.ID = m.nextID
	item.Sequence = len(a.Items) + 1
	a.Items = append(a.Items, item)
	return &item, nil
}

func (m *memoryLedger) RemoveItem(ctx context.Context, itemID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assignments {
		for i := range a.Items {
			if a.Items[i].ID == itemID {
				if a.Items[i].AutoGenerated {
					return shared.ErrStateConflict
				}
				a.Items = append(a.Items[:i], a.Items[i+1:]...)
				return nil
			}
		}
	}
	return shared.ErrNotFound
}

type stubCascade struct {
	mu   sync.Mutex
	runs map[int64]int
}

func newStubCascade() *stubCascade { return &stubCascade{runs: make(map[int64]int)} }

func (c *stubCascade) Recalculate(ctx context.Context, studentID int64) (*ledger.Recalculation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs[studentID]++
	return &ledger.Recalculation{}, nil
}

type stubInvalidator struct {
	mu  sync.Mutex
	ids []int64
}

func (c *stubInvalidator) Invalidate(ctx context.Context, studentID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, studentID)
	return nil
}

type stubStats struct {
	status []StatusStat
	grades []GradeStat
}

func (s stubStats) StatusStats(ctx context.Context, termID int64) ([]StatusStat, error) {
	return s.status, nil
}

func (s stubStats) GradeRows(ctx context.Context, termID int64) ([]GradeStat, error) {
	return s.grades, nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

type fixture struct {
	svc       *Service
	ledger    *memoryLedger
	cascade   *stubCascade
	cache     *stubInvalidator
	audit     *recordingAudit
	directory *stubDirectory
	resolver  *stubResolver
}

func newFixture(t *testing.T, population []students.Student, resolver *stubResolver) *fixture {
	t.Helper()
	f := &fixture{
		ledger:    newMemoryLedger(),
		cascade:   newStubCascade(),
		cache:     &stubInvalidator{},
		audit:     &recordingAudit{},
		directory: &stubDirectory{students: population},
		resolver:  resolver,
	}
	f.svc = NewService(ServiceParams{
		Students:  f.directory,
		Terms:     stubCalendar{term: testTerm()},
		Templates: resolver,
		Ledger:    f.ledger,
		Cascade:   f.cascade,
		Cache:     f.cache,
		Stats:     stubStats{},
		Audit:     f.audit,
		Workers:   4,
	}).WithClock(fixedNow)
	return f
}

func grade5Template() *feeplan.Template {
	return &feeplan.Template{
		ID:         1,
		TermID:     1,
		GradeLabel: "5-A",
		GradeKey:   "5",
		Tuition:    money("3000"),
		Transport:  money("800"),
		Library:    money("200"),
	}
}

func grade5Resolver() *stubResolver {
	return &stubResolver{templates: map[string]*feeplan.Template{"5": grade5Template()}}
}

func TestBillTermBillsActivePopulation(t *testing.T) {
	population := []students.Student{
		{ID: 1, AdmissionNo: "S-001", FullName: "Asha Rao", GradeLabel: "5-A", Status: students.StatusActive, Transport: students.TransportBus},
		{ID: 2, AdmissionNo: "S-002", FullName: "Ravi Iyer", GradeLabel: "Grade 5", Status: students.StatusActive, Transport: students.TransportWalking},
		{ID: 3, AdmissionNo: "S-003", FullName: "Meera Nair", GradeLabel: "5-B", Status: students.StatusGraduated},
	}
	f := newFixture(t, population, grade5Resolver())

	res, err := f.svc.BillTerm(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 2, res.Billed)
	require.Equal(t, 0, res.Skipped)
	require.Empty(t, res.Errors)

	// Bus rider gets transport, walker does not.
	busRider, err := f.ledger.GetAssignment(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Len(t, busRider.Items, 3)
	require.True(t, busRider.TotalFee.Equal(money("4000")))

	walker, err := f.ledger.GetAssignment(context.Background(), 2, 1)
	require.NoError(t, err)
	require.Len(t, walker.Items, 2)
	require.True(t, walker.TotalFee.Equal(money("3200")))

	require.Equal(t, 1, f.cascade.runs[1])
	require.Equal(t, 1, f.cascade.runs[2])
}

func TestBillTermIsIdempotent(t *testing.T) {
	population := []students.Student{
		{ID: 1, AdmissionNo: "S-001", GradeLabel: "5-A", Status: students.StatusActive},
	}
	f := newFixture(t, population, grade5Resolver())

	first, err := f.svc.BillTerm(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 1, first.Billed)

	second, err := f.svc.BillTerm(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 0, second.Billed)
	require.Equal(t, 1, second.Skipped)
	require.Len(t, f.ledger.assignments, 1)
}

func TestBillTermSkipsGradesWithoutTemplate(t *testing.T) {
	population := []students.Student{
		{ID: 1, AdmissionNo: "S-001", GradeLabel: "5-A", Status: students.StatusActive},
		{ID: 2, AdmissionNo: "S-002", GradeLabel: "9-C", Status: students.StatusActive},
		{ID: 3, AdmissionNo: "S-003", GradeLabel: "", Status: students.StatusActive},
	}
	f := newFixture(t, population, grade5Resolver())

	res, err := f.svc.BillTerm(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 1, res.Billed)
	require.Equal(t, 2, res.Skipped, "missing template and missing grade both skip")
	require.Empty(t, res.Errors)
}

func TestBillTermCollectsPartialFailures(t *testing.T) {
	population := []students.Student{
		{ID: 1, AdmissionNo: "S-001", GradeLabel: "5-A", Status: students.StatusActive},
		{ID: 2, AdmissionNo: "S-002", GradeLabel: "9-C", Status: students.StatusActive},
	}
	resolver := grade5Resolver()
	resolver.failFor = map[string]error{"9": fmt.Errorf("template store unavailable")}
	f := newFixture(t, population, resolver)

	res, err := f.svc.BillTerm(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 1, res.Billed)
	require.Len(t, res.Errors, 1)
	require.Contains(t, res.Errors[0], "student 2")
}

func TestBillTermUnknownTerm(t *testing.T) {
	f := newFixture(t, nil, grade5Resolver())

	_, err := f.svc.BillTerm(context.Background(), 42)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestBillStudentRejectsDouble(t *testing.T) {
	population := []students.Student{
		{ID: 1, AdmissionNo: "S-001", GradeLabel: "5-A", Status: students.StatusActive},
	}
	f := newFixture(t, population, grade5Resolver())

	_, err := f.svc.BillStudent(context.Background(), 1, 1)
	require.NoError(t, err)

	_, err = f.svc.BillStudent(context.Background(), 1, 1)
	require.ErrorIs(t, err, shared.ErrStateConflict)
}

func TestBillStudentRejectsInactive(t *testing.T) {
	population := []students.Student{
		{ID: 1, AdmissionNo: "S-001", GradeLabel: "5-A", Status: students.StatusTransferred},
	}
	f := newFixture(t, population, grade5Resolver())

	_, err := f.svc.BillStudent(context.Background(), 1, 1)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRegenerateBillReplacesAssignmentAndAudits(t *testing.T) {
	population := []students.Student{
		{ID: 1, AdmissionNo: "S-001", GradeLabel: "5-A", Status: students.StatusActive},
	}
	f := newFixture(t, population, grade5Resolver())

	first, err := f.svc.BillStudent(context.Background(), 1, 1)
	require.NoError(t, err)

	regenerated, err := f.svc.RegenerateBill(context.Background(), 1, 1, 900)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, regenerated.ID)
	require.Len(t, f.ledger.assignments, 1)

	require.Len(t, f.audit.logs, 1)
	log := f.audit.logs[0]
	require.Equal(t, shared.AuditActionRegenerateBill, log.Action)
	require.Equal(t, int64(900), log.ActorID)
	require.Equal(t, first.ID, log.Meta["previous_id"])
}

func TestRegenerateBillWithoutExistingAssignment(t *testing.T) {
	population := []students.Student{
		{ID: 1, AdmissionNo: "S-001", GradeLabel: "5-A", Status: students.StatusActive},
	}
	f := newFixture(t, population, grade5Resolver())

	_, err := f.svc.RegenerateBill(context.Background(), 1, 1, 900)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAddManualItemDiscount(t *testing.T) {
	population := []students.Student{
		{ID: 1, AdmissionNo: "S-001", GradeLabel: "5-A", Status: students.StatusActive},
	}
	f := newFixture(t, population, grade5Resolver())

	_, err := f.svc.BillStudent(context.Background(), 1, 1)
	require.NoError(t, err)

	item, err := f.svc.AddManualItem(context.Background(), ManualItemInput{
		StudentID: 1,
		TermID:    1,
		Name:      "Sibling discount",
		Amount:    money("-500"),
		ActorID:   900,
	})
	require.NoError(t, err)
	require.Equal(t, ledger.FeeCredit, item.Type)
	require.Equal(t, ledger.ItemPaid, item.Status)
	require.False(t, item.AutoGenerated)
}

func TestAddManualItemValidation(t *testing.T) {
	f := newFixture(t, nil, grade5Resolver())

	_, err := f.svc.AddManualItem(context.Background(), ManualItemInput{StudentID: 1, TermID: 1, Amount: money("10")})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.AddManualItem(context.Background(), ManualItemInput{StudentID: 1, TermID: 1, Name: "Fine"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRemoveManualItemRefusesAutoGenerated(t *testing.T) {
	population := []students.Student{
		{ID: 1, AdmissionNo: "S-001", GradeLabel: "5-A", Status: students.StatusActive},
	}
	f := newFixture(t, population, grade5Resolver())

	created, err := f.svc.BillStudent(context.Background(), 1, 1)
	require.NoError(t, err)
	require.NotEmpty(t, created.Items)

	err = f.svc.RemoveManualItem(context.Background(), created.Items[0].ID)
	require.ErrorIs(t, err, shared.ErrStateConflict)
}

func TestRemoveManualItemRunsCascade(t *testing.T) {
	population := []students.Student{
		{ID: 1, AdmissionNo: "S-001", GradeLabel: "5-A", Status: students.StatusActive},
	}
	f := newFixture(t, population, grade5Resolver())

	_, err := f.svc.BillStudent(context.Background(), 1, 1)
	require.NoError(t, err)

	item, err := f.svc.AddManualItem(context.Background(), ManualItemInput{
		StudentID: 1, TermID: 1, Name: "Late fine", Amount: money("100"),
	})
	require.NoError(t, err)

	before := f.cascade.runs[1]
	require.NoError(t, f.svc.RemoveManualItem(context.Background(), item.ID))
	require.Equal(t, before+1, f.cascade.runs[1])
}

func TestTermStatisticsFoldsGradeVariants(t *testing.T) {
	f := newFixture(t, nil, grade5Resolver())
	f.svc = NewService(ServiceParams{
		Students:  f.directory,
		Terms:     stubCalendar{term: testTerm()},
		Templates: f.resolver,
		Ledger:    f.ledger,
		Cascade:   f.cascade,
		Cache:     f.cache,
		Audit:     f.audit,
		Stats: stubStats{
			status: []StatusStat{{Status: "PENDING", Count: 3, Total: money("9000"), Pending: money("9000"), Paid: decimal.Zero}},
			grades: []GradeStat{
				{Grade: "5-A", Count: 2, Total: money("6000"), Paid: money("1000"), Pending: money("5000")},
				{Grade: "Grade 5", Count: 1, Total: money("3000"), Paid: decimal.Zero, Pending: money("3000")},
				{Grade: "6-B", Count: 1, Total: money("3500"), Paid: decimal.Zero, Pending: money("3500")},
			},
		},
	}).WithClock(fixedNow)

	stats, err := f.svc.TermStatistics(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, stats.ByStatus, 1)
	require.Len(t, stats.ByGrade, 2)

	require.Equal(t, "5", stats.ByGrade[0].Grade)
	require.Equal(t, 3, stats.ByGrade[0].Count)
	require.True(t, stats.ByGrade[0].Total.Equal(money("9000")))
	require.Equal(t, "6", stats.ByGrade[1].Grade)
}
