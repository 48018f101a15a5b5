package investigation

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCaseLockTable_ExcludesConcurrentAccessPerCase(t *testing.T) {
	table := NewCaseLockTable()
	var active int32
	var maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := table.Lock("case-1")
			defer unlock()

			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive)
}

func TestCaseLockTable_DifferentCasesRunConcurrently(t *testing.T) {
	table := NewCaseLockTable()
	start := time.Now()
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		caseID := "case"
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			unlock := table.Lock(caseID + string(rune('a'+id)))
			defer unlock()
			time.Sleep(20 * time.Millisecond)
		}(i)
	}
	wg.Wait()

	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestCaseLockTable_ReleasesMapEntryAfterUnlock(t *testing.T) {
	table := NewCaseLockTable()
	unlock := table.Lock("case-1")
	unlock()

	table.mu.Lock()
	_, exists := table.locks["case-1"]
	table.mu.Unlock()

	assert.False(t, exists)
}
