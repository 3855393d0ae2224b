package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

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

var (
	termOneStart = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	termTwoStart = time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)
	dueJune      = time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	dueJuly      = time.Date(2024, 7, 10, 0, 0, 0, 0, time.UTC)
	dueOctober   = time.Date(2024, 10, 10, 0, 0, 0, 0, time.UTC)
)

// memoryStore backs RepositoryPort and LedgerPort in one place so the
// conditional update can see the items the repository lists.
type memoryStore struct {
	mu          sync.Mutex
	items       map[int64]*UnpaidItem
	payments    []Payment
	allocations map[int64][]string
	nextID      int64
	failUpdate  int64
	added       []ledger.FeeLineItem
}

func newMemoryStore(items ...UnpaidItem) *memoryStore {
	s := &memoryStore{
		items:       make(map[int64]*UnpaidItem),
		allocations: make(map[int64][]string),
	}
	for i := range items {
		item := items[i]
		if item.ItemID > s.nextID {
			s.nextID = item.ItemID
		}
		s.items[item.ItemID] = &item
	}
	return s
}

func (s *memoryStore) ListUnpaidItems(ctx context.Context, studentID int64) ([]UnpaidItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []UnpaidItem
	for _, item := range s.items {
		if item.Pending.IsPositive() {
			out = append(out, *item)
		}
	}
	SortForAllocation(out)
	return out, nil
}

func (s *memoryStore) CreatePayment(ctx context.Context, p Payment) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	p.ID = s.nextID
	p.CreatedAt = time.Now()
	s.payments = append(s.payments, p)
	return &p, nil
}

func (s *memoryStore) CreateAllocation(ctx context.Context, paymentID, itemID int64, amount string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allocations[paymentID] = append(s.allocations[paymentID], amount)
	return nil
}

func (s *memoryStore) UpdateItemPayment(ctx context.Context, item ledger.FeeLineItem, expectedPending string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdate != 0 && item.ID == s.failUpdate {
		return errors.New("write timeout")
	}
	existing, ok := s.items[item.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if existing.Pending.String() != expectedPending {
		return shared.ErrStateConflict
	}
	existing.Paid = item.Paid
	existing.Pending = item.Pending
	existing.Status = item.Status
	return nil
}

func (s *memoryStore) AddItem(ctx context.Context, item ledger.FeeLineItem) (*ledger.FeeLineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	item.ID = s.nextID
	s.added = append(s.added, item)
	s.items[item.ID] = &UnpaidItem{
		ItemID:       item.ID,
		AssignmentID: item.AssignmentID,
		Name:         item.Name,
		Type:         item.Type,
		Original:     item.Original,
		Paid:         item.Paid,
		Pending:      item.Pending,
		DueDate:      item.DueDate,
		Status:       item.Status,
	}
	return &item, nil
}

type storeState struct {
	items       map[int64]UnpaidItem
	payments    []Payment
	allocations map[int64][]string
	nextID      int64
}

func (s *memoryStore) snapshot() storeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := storeState{
		items:       make(map[int64]UnpaidItem, len(s.items)),
		payments:    append([]Payment(nil), s.payments...),
		allocations: make(map[int64][]string, len(s.allocations)),
		nextID:      s.nextID,
	}
	for id, item := range s.items {
		state.items[id] = *item
	}
	for id, allocs := range s.allocations {
		state.allocations[id] = append([]string(nil), allocs...)
	}
	return state
}

func (s *memoryStore) restore(state storeState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[int64]*UnpaidItem, len(state.items))
	for id, item := range state.items {
		copied := item
		s.items[id] = &copied
	}
	s.payments = state.payments
	s.allocations = state.allocations
	s.nextID = state.nextID
}

// memoryTx mirrors the rollback semantics of the database runner: every
// mutation inside a failed unit of work is undone.
type memoryTx struct{ store *memoryStore }

func (t memoryTx) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	state := t.store.snapshot()
	if err := fn(ctx); err != nil {
		t.store.restore(state)
		return err
	}
	return nil
}

func (s *memoryStore) item(t *testing.T, id int64) UnpaidItem {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	require.True(t, ok, "item %d", id)
	return *item
}

type stubDirectory struct{ missing bool }

func (d stubDirectory) FindByID(ctx context.Context, id int64) (*students.Student, error) {
	if d.missing {
		return nil, shared.ErrNotFound
	}
	return &students.Student{ID: id, FullName: "Asha Rao", GradeLabel: "5-A", Status: students.StatusActive}, nil
}

type stubCalendar struct{ current *term.Term }

func (c stubCalendar) Current(ctx context.Context) (*term.Term, error) {
	if c.current == nil {
		return nil, shared.ErrNotFound
	}
	return c.current, nil
}

type stubCascade struct {
	mu   sync.Mutex
	runs int
}

func (c *stubCascade) Recalculate(ctx context.Context, studentID int64) (*ledger.Recalculation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs++
	return &ledger.Recalculation{}, nil
}

type recordingCache struct {
	NoopCache
	mu          sync.Mutex
	invalidated []int64
}

func (c *recordingCache) Invalidate(ctx context.Context, studentID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, studentID)
	return nil
}

func item(id int64, name string, pending string, due time.Time, mandatory bool, seq int) UnpaidItem {
	return UnpaidItem{
		ItemID:       id,
		AssignmentID: 100,
		TermID:       1,
		TermStart:    termOneStart,
		Name:         name,
		Type:         ledger.FeeTuition,
		Original:     money(pending),
		Paid:         decimal.Zero,
		Pending:      money(pending),
		DueDate:      due,
		Mandatory:    mandatory,
		Sequence:     seq,
		Status:       ledger.ItemPending,
	}
}

func newTestService(store *memoryStore, calendar TermCalendar) (*Service, *stubCascade, *recordingCache) {
	cascade := &stubCascade{}
	cache := &recordingCache{}
	svc := NewService(ServiceParams{
		Repo:     store,
		Ledger:   store,
		Students: stubDirectory{},
		Terms:    calendar,
		Cascade:  cascade,
		Tx:       memoryTx{store: store},
		Cache:    cache,
	}).WithClock(func() time.Time {
		return time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	})
	return svc, cascade, cache
}

func TestApplyAllocatesByDueDateOrder(t *testing.T) {
	store := newMemoryStore(
		item(1, "Tuition Fee", "1000", dueJune, true, 1),
		item(2, "Examination Fee", "500", dueJune, true, 3),
		item(3, "Library Fee", "500", dueJuly, false, 4),
	)
	svc, cascade, cache := newTestService(store, stubCalendar{})

	res, err := svc.Apply(context.Background(), ApplyInput{StudentID: 7, Amount: money("1500")})
	require.NoError(t, err)
	require.Len(t, res.AppliedItems, 2)
	require.Equal(t, "Tuition Fee", res.AppliedItems[0].Name)
	require.Equal(t, "Examination Fee", res.AppliedItems[1].Name)
	require.Zero(t, res.CreditItemID)

	require.Equal(t, ledger.ItemPaid, store.item(t, 1).Status)
	require.Equal(t, ledger.ItemPaid, store.item(t, 2).Status)
	require.True(t, store.item(t, 3).Pending.Equal(money("500")), "library stays unpaid")
	require.Equal(t, 1, cascade.runs)
	require.Equal(t, []int64{7}, cache.invalidated)
}

func TestApplyPartialPayment(t *testing.T) {
	store := newMemoryStore(
		item(1, "Tuition Fee", "1000", dueJune, true, 1),
		item(2, "Library Fee", "500", dueJuly, false, 2),
	)
	svc, _, _ := newTestService(store, stubCalendar{})

	res, err := svc.Apply(context.Background(), ApplyInput{StudentID: 7, Amount: money("600")})
	require.NoError(t, err)
	require.Len(t, res.AppliedItems, 1)
	require.Equal(t, ledger.ItemPartial, res.AppliedItems[0].NewStatus)

	updated := store.item(t, 1)
	require.True(t, updated.Paid.Equal(money("600")))
	require.True(t, updated.Pending.Equal(money("400")))
}

func TestApplyOverpaymentBecomesCredit(t *testing.T) {
	store := newMemoryStore(item(1, "Tuition Fee", "1000", dueJune, true, 1))
	svc, _, _ := newTestService(store, stubCalendar{})

	res, err := svc.Apply(context.Background(), ApplyInput{StudentID: 7, Amount: money("1250")})
	require.NoError(t, err)
	require.NotZero(t, res.CreditItemID)

	credit := store.item(t, res.CreditItemID)
	require.Equal(t, ledger.FeeCredit, credit.Type)
	require.True(t, credit.Original.Equal(money("-250")))
	require.Equal(t, ledger.ItemPaid, credit.Status)

	require.Len(t, store.added, 1)
	require.True(t, store.added[0].AutoGenerated, "overpayment credits are engine artifacts, shielded from manual removal")
}

func TestApplyOverpaymentSweepsFutureTerms(t *testing.T) {
	future := item(2, "Tuition Fee", "800", dueOctober, true, 1)
	future.TermID = 2
	future.TermStart = termTwoStart
	future.AssignmentID = 200
	store := newMemoryStore(item(1, "Tuition Fee", "1000", dueJune, true, 1), future)
	calendar := stubCalendar{current: &term.Term{ID: 1, StartDate: termOneStart}}
	svc, _, _ := newTestService(store, calendar)

	res, err := svc.Apply(context.Background(), ApplyInput{
		StudentID:          7,
		Amount:             money("1300"),
		ApplyToFutureTerms: true,
	})
	require.NoError(t, err)
	require.Len(t, res.AppliedItems, 2)
	require.Zero(t, res.CreditItemID)

	swept := store.item(t, 2)
	require.True(t, swept.Paid.Equal(money("300")))
	require.Equal(t, ledger.ItemPartial, swept.Status)
}

func TestApplyWithoutFlagIgnoresFutureTerms(t *testing.T) {
	future := item(2, "Tuition Fee", "800", dueOctober, true, 1)
	future.TermID = 2
	future.TermStart = termTwoStart
	future.AssignmentID = 200
	store := newMemoryStore(item(1, "Tuition Fee", "1000", dueJune, true, 1), future)
	calendar := stubCalendar{current: &term.Term{ID: 1, StartDate: termOneStart}}
	svc, _, _ := newTestService(store, calendar)

	res, err := svc.Apply(context.Background(), ApplyInput{StudentID: 7, Amount: money("1300")})
	require.NoError(t, err)
	require.NotZero(t, res.CreditItemID, "residue must become a credit, not touch next term")
	require.True(t, store.item(t, 2).Pending.Equal(money("800")))

	credit := store.item(t, res.CreditItemID)
	require.Equal(t, int64(100), credit.AssignmentID, "credit belongs to the current term assignment")
}

func TestApplyRollsBackWhenItemUpdateFails(t *testing.T) {
	store := newMemoryStore(
		item(1, "Tuition Fee", "1000", dueJune, true, 1),
		item(2, "Examination Fee", "500", dueJune, true, 2),
	)
	store.failUpdate = 2
	svc, cascade, _ := newTestService(store, stubCalendar{})

	_, err := svc.Apply(context.Background(), ApplyInput{StudentID: 7, Amount: money("1500")})
	require.Error(t, err)

	require.True(t, store.item(t, 1).Paid.IsZero(), "earlier item keeps no partial application")
	require.Equal(t, ledger.ItemPending, store.item(t, 1).Status)
	require.Empty(t, store.payments, "payment row must not survive a failed application")
	require.Empty(t, store.allocations)
	require.Zero(t, cascade.runs)
}

func TestApplyRejectsWhenNothingOutstanding(t *testing.T) {
	paid := item(1, "Tuition Fee", "1000", dueJune, true, 1)
	paid.Paid = money("1000")
	paid.Pending = decimal.Zero
	paid.Status = ledger.ItemPaid
	store := newMemoryStore(paid)
	svc, _, _ := newTestService(store, stubCalendar{})

	_, err := svc.Apply(context.Background(), ApplyInput{StudentID: 7, Amount: money("100")})
	require.ErrorIs(t, err, shared.ErrStateConflict)
}

func TestApplyRejectsNonPositiveAmount(t *testing.T) {
	svc, _, _ := newTestService(newMemoryStore(), stubCalendar{})

	_, err := svc.Apply(context.Background(), ApplyInput{StudentID: 7, Amount: decimal.Zero})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Apply(context.Background(), ApplyInput{StudentID: 7, Amount: money("-5")})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestApplyUnknownStudent(t *testing.T) {
	store := newMemoryStore(item(1, "Tuition Fee", "1000", dueJune, true, 1))
	cascade := &stubCascade{}
	svc := NewService(ServiceParams{
		Repo:     store,
		Ledger:   store,
		Students: stubDirectory{missing: true},
		Terms:    stubCalendar{},
		Cascade:  cascade,
	})

	_, err := svc.Apply(context.Background(), ApplyInput{StudentID: 99, Amount: money("100")})
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Zero(t, cascade.runs)
}

func TestConcurrentPaymentsSettleExactlyOnce(t *testing.T) {
	store := newMemoryStore(item(1, "Tuition Fee", "1000", dueJune, true, 1))
	svc, _, _ := newTestService(store, stubCalendar{})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Apply(context.Background(), ApplyInput{StudentID: 7, Amount: money("1000")})
		}(i)
	}
	wg.Wait()

	var ok, conflict int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, shared.ErrStateConflict):
			conflict++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, conflict)
	require.Equal(t, ledger.ItemPaid, store.item(t, 1).Status)
	require.True(t, store.item(t, 1).Paid.Equal(money("1000")))
}

func TestAllocationOrderBreaksTies(t *testing.T) {
	items := []UnpaidItem{
		{ItemID: 4, DueDate: dueJune, Mandatory: false, Sequence: 1, Pending: money("10"), Original: money("10")},
		{ItemID: 3, DueDate: dueJune, Mandatory: true, Sequence: 2, Pending: money("10"), Original: money("10")},
		{ItemID: 2, DueDate: dueJune, Mandatory: true, Sequence: 1, Pending: money("10"), Original: money("10")},
		{ItemID: 1, DueDate: dueJuly, Mandatory: true, Sequence: 1, Pending: money("10"), Original: money("10")},
	}
	SortForAllocation(items)

	got := []int64{items[0].ItemID, items[1].ItemID, items[2].ItemID, items[3].ItemID}
	require.Equal(t, []int64{2, 3, 4, 1}, got)
}

func TestAllocateSkipsSettledItems(t *testing.T) {
	settled := item(1, "Tuition Fee", "0", dueJune, true, 1)
	settled.Pending = decimal.Zero
	apps, remaining := allocate([]UnpaidItem{settled, item(2, "Library Fee", "50", dueJuly, false, 2)}, money("50"))
	require.Len(t, apps, 1)
	require.Equal(t, int64(2), apps[0].item.ItemID)
	require.True(t, remaining.IsZero())
}
