package shared

import (
	"sync"
)

// StudentLocks serializes read-modify-write sequences per student within a
// single process. Payments and billing for the same student must not
// interleave; different students proceed independently. Across instances
// the conditional pending_amount guard on item updates keeps applications
// from double settling.
type StudentLocks struct {
	mu    sync.Mutex
	locks map[int64]*studentLock
}

type studentLock struct {
	mu   sync.Mutex
	refs int
}

// NewStudentLocks constructs an empty lock table.
func NewStudentLocks() *StudentLocks {
	return &StudentLocks{locks: make(map[int64]*studentLock)}
}

// Lock acquires the lock for a student and returns the release function.
// Entries are reference counted and removed once the last holder releases,
// so the table does not grow with the student population.
func (l *StudentLocks) Lock(studentID int64) func() {
	l.mu.Lock()
	entry, ok := l.locks[studentID]
	if !ok {
		entry = &studentLock{}
		l.locks[studentID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, studentID)
		}
		l.mu.Unlock()
	}
}
