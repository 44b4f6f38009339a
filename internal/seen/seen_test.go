package seen

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet_AddReportsNewKeys(t *testing.T) {
	s := New(4)
	assert.True(t, s.Add("a"))
	assert.False(t, s.Add("a"))
	assert.True(t, s.Contains("a"))
	assert.Equal(t, 1, s.Len())
}

func TestSet_EvictsLeastRecentlyUsed(t *testing.T) {
	s := New(3)
	s.Add("a")
	s.Add("b")
	s.Add("c")

	// Touch a so b becomes the oldest.
	assert.False(t, s.Add("a"))
	s.Add("d")

	assert.True(t, s.Contains("a"))
	assert.False(t, s.Contains("b"))
	assert.True(t, s.Contains("c"))
	assert.True(t, s.Contains("d"))
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, int64(1), s.Evicted())
}

func TestSet_Remove(t *testing.T) {
	s := New(2)
	s.Add("a")
	s.Remove("a")
	s.Remove("missing")
	assert.False(t, s.Contains("a"))
	assert.True(t, s.Add("a"))
}

func TestSet_NonPositiveCapacity(t *testing.T) {
	s := New(0)
	s.Add("a")
	s.Add("b")
	assert.Equal(t, 1, s.Len())
	assert.True(t, s.Contains("b"))
}

func TestSet_ConcurrentAdds(t *testing.T) {
	s := New(1000)
	var wg sync.WaitGroup
	var mu sync.Mutex
	fresh := 0

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if s.Add(fmt.Sprintf("k%d", i)) {
					mu.Lock()
					fresh++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, fresh, "each key is new exactly once")
	assert.Equal(t, 100, s.Len())
}

func TestSet_RemoveIsNotEviction(t *testing.T) {
	s := New(2)
	s.Add("a")
	s.Add("b")
	s.Remove("a")
	s.Add("c")
	assert.Equal(t, int64(0), s.Evicted())

	s.Add("d")
	assert.Equal(t, int64(1), s.Evicted())
	assert.False(t, s.Contains("b"))
}
