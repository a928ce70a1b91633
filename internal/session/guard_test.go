package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardRejectsOverlap(t *testing.T) {
	guard := NewGuard()

	require.NoError(t, guard.Acquire("thread-1"))
	assert.ErrorIs(t, guard.Acquire("thread-1"), ErrThreadBusy)

	// a different thread is unaffected
	require.NoError(t, guard.Acquire("thread-2"))

	guard.Release("thread-1")
	assert.NoError(t, guard.Acquire("thread-1"))
}

func TestGuardConcurrentAcquire(t *testing.T) {
	guard := NewGuard()

	const workers = 16
	var wg sync.WaitGroup
	acquired := make(chan struct{}, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if guard.Acquire("thread-1") == nil {
				acquired <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(acquired)

	assert.Len(t, acquired, 1, "exactly one worker should win the thread")
}
