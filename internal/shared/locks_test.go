package shared

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStudentLocksSerializeSameStudent(t *testing.T) {
	locks := NewStudentLocks()

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := locks.Lock(7)
			defer release()
			counter++
		}()
	}
	wg.Wait()

	require.Equal(t, 50, counter)
}

func TestStudentLocksReleaseCleansTable(t *testing.T) {
	locks := NewStudentLocks()
	release := locks.Lock(1)
	release()

	locks.mu.Lock()
	defer locks.mu.Unlock()
	require.Empty(t, locks.locks)
}
