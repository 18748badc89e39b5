// ABOUTME: Tests for the cooldown cache used to throttle verification codes.
// ABOUTME: Validates window expiry, release, eviction, cleanup, and concurrent acquire.

package cooldown

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(ttl time.Duration, maxSize int) (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(ttl, maxSize, WithClock(clock.Now)), clock
}

func TestCache_AcquireWindow(t *testing.T) {
	cache, clock := newTestCache(time.Minute, 100)
	defer cache.Close()

	ok, _ := cache.Acquire("+15550001")
	assert.True(t, ok)

	clock.Advance(20 * time.Second)
	ok, wait := cache.Acquire("+15550001")
	assert.False(t, ok)
	assert.Equal(t, 40*time.Second, wait)

	// Other keys are independent
	ok, _ = cache.Acquire("+15550002")
	assert.True(t, ok)

	clock.Advance(40 * time.Second)
	ok, _ = cache.Acquire("+15550001")
	assert.True(t, ok, "window elapsed")
}

func TestCache_Release(t *testing.T) {
	cache, _ := newTestCache(time.Minute, 100)
	defer cache.Close()

	ok, _ := cache.Acquire("k")
	assert.True(t, ok)
	assert.True(t, cache.Active("k"))

	cache.Release("k")
	assert.False(t, cache.Active("k"))

	ok, _ = cache.Acquire("k")
	assert.True(t, ok)

	// Releasing an unknown key is harmless
	cache.Release("missing")
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	cache, _ := newTestCache(time.Minute, 2)
	defer cache.Close()

	cache.Acquire("a")
	cache.Acquire("b")
	cache.Acquire("c")

	assert.Equal(t, 2, cache.Len())
	assert.False(t, cache.Active("a"))
	assert.True(t, cache.Active("b"))
	assert.True(t, cache.Active("c"))
}

func TestCache_RunCleanup(t *testing.T) {
	cache, clock := newTestCache(time.Minute, 100)
	defer cache.Close()

	cache.Acquire("old")
	clock.Advance(30 * time.Second)
	cache.Acquire("new")
	clock.Advance(30 * time.Second)

	cache.runCleanup()
	assert.Equal(t, 1, cache.Len())
	assert.True(t, cache.Active("new"))
}

func TestCache_ConcurrentAcquireAdmitsOne(t *testing.T) {
	cache, _ := newTestCache(time.Minute, 100)
	defer cache.Close()

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := cache.Acquire("same-phone"); ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), admitted.Load())
}

func TestCache_CloseTwice(t *testing.T) {
	cache := New(time.Minute, 10)
	cache.Close()
	cache.Close()
}
