// ABOUTME: Tests for the replay cache
// ABOUTME: Validates window expiry, eviction at capacity, sweeping and concurrency

package replay

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func TestCheckAndMark_SecondUseRejected(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	c := New(300*time.Second, 100, WithClock(clock.Now))
	defer c.Close()

	assert.False(t, c.CheckAndMark("sig-a"))
	assert.True(t, c.CheckAndMark("sig-a"))
	assert.False(t, c.CheckAndMark("sig-b"))

	clock.Advance(299 * time.Second)
	assert.True(t, c.CheckAndMark("sig-a"))

	clock.Advance(2 * time.Second)
	assert.False(t, c.CheckAndMark("sig-a"), "expired entries may be reused")
}

func TestCheckAndMark_EvictsOldestAtCapacity(t *testing.T) {
	c := New(time.Hour, 3)
	defer c.Close()

	for _, k := range []string{"a", "b", "c", "d"} {
		assert.False(t, c.CheckAndMark(k))
	}

	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Seen("a"))
	assert.True(t, c.Seen("d"))
}

func TestSweep_RemovesExpired(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	c := New(time.Minute, 10, WithClock(clock.Now))
	defer c.Close()

	c.CheckAndMark("old")
	clock.Advance(45 * time.Second)
	c.CheckAndMark("new")
	clock.Advance(30 * time.Second)

	c.Sweep()
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Seen("new"))
}

func TestCheckAndMark_Concurrent(t *testing.T) {
	c := New(time.Hour, 1000)
	defer c.Close()

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.CheckAndMark("same") {
				accepted.Add(1)
			}
			c.CheckAndMark(fmt.Sprintf("k-%d", i))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
}

func TestClose_Idempotent(t *testing.T) {
	c := New(time.Minute, 10)
	c.Close()
	c.Close()
}
