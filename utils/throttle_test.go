package utils

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedTime(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// Tuesday 10:00 UTC, inside a standard working window.
var tuesdayMorning = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

func newTestThrottler(shared bool) *Throttler {
	th := NewThrottler(NewMemoryCounterStore(), shared, newTestLogger())
	th.now = fixedTime(tuesdayMorning)
	return th
}

func TestAdmitEnforcesDailyCap(t *testing.T) {
	th := newTestThrottler(true)
	policy := ThrottlePolicy{DailyLimit: 50}

	admitted := 0
	for i := 0; i < 60; i++ {
		ok, err := th.Admit(context.Background(), 1, "campaign", policy)
		require.NoError(t, err)
		if ok {
			admitted++
		}
	}
	assert.Equal(t, 50, admitted)
}

// slowCounterStore injects latency so concurrent admitters overlap in
// the window between reading and writing a counter.
type slowCounterStore struct {
	inner *MemoryCounterStore
}

func (s *slowCounterStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	time.Sleep(time.Millisecond)
	return s.inner.Incr(ctx, key, ttl)
}

func (s *slowCounterStore) Decr(ctx context.Context, key string) error {
	time.Sleep(time.Millisecond)
	return s.inner.Decr(ctx, key)
}

func (s *slowCounterStore) Get(ctx context.Context, key string) (int64, error) {
	time.Sleep(time.Millisecond)
	return s.inner.Get(ctx, key)
}

func TestAdmitDailyCapHoldsUnderConcurrency(t *testing.T) {
	th := NewThrottler(&slowCounterStore{inner: NewMemoryCounterStore()}, true, newTestLogger())
	th.now = fixedTime(tuesdayMorning)
	policy := ThrottlePolicy{DailyLimit: 50}

	var admitted, failed int64
	var wg sync.WaitGroup
	for i := 0; i < 80; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := th.Admit(context.Background(), 1, "campaign", policy)
			if err != nil {
				atomic.AddInt64(&failed, 1)
				return
			}
			if ok {
				atomic.AddInt64(&admitted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(0), failed)
	assert.Equal(t, int64(50), admitted)
}

func TestAdmitHourlyRejectRefundsDailyBudget(t *testing.T) {
	store := NewMemoryCounterStore()
	th := NewThrottler(store, true, newTestLogger())
	th.now = fixedTime(tuesdayMorning)
	policy := ThrottlePolicy{DailyLimit: 10, HourlyLimit: 2}

	for i := 0; i < 2; i++ {
		ok, err := th.Admit(context.Background(), 1, "campaign", policy)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := th.Admit(context.Background(), 1, "campaign", policy)
	require.NoError(t, err)
	assert.False(t, ok)

	// The rejected attempt must not have charged the day counter.
	base := th.poolKey(1, "campaign")
	n, err := store.Get(context.Background(), th.dayKey(base, tuesdayMorning))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Next hour the day budget still has the full remainder.
	th.now = fixedTime(tuesdayMorning.Add(time.Hour))
	admitted := 0
	for i := 0; i < 10; i++ {
		ok, err := th.Admit(context.Background(), 1, "campaign", policy)
		require.NoError(t, err)
		if ok {
			admitted++
		}
	}
	assert.Equal(t, 2, admitted)
}

func TestAdmitEnforcesHourlyCap(t *testing.T) {
	th := newTestThrottler(true)
	policy := ThrottlePolicy{DailyLimit: 100, HourlyLimit: 10}

	admitted := 0
	for i := 0; i < 30; i++ {
		ok, err := th.Admit(context.Background(), 1, "campaign", policy)
		require.NoError(t, err)
		if ok {
			admitted++
		}
	}
	assert.Equal(t, 10, admitted)
}

func TestAdmitOutsideWorkingHours(t *testing.T) {
	th := newTestThrottler(true)
	th.now = fixedTime(time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC))
	policy := ThrottlePolicy{
		DailyLimit: 50,
		StartTime:  "09:00",
		EndTime:    "17:00",
	}

	ok, err := th.Admit(context.Background(), 1, "campaign", policy)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAdmitOutsideWorkingDays(t *testing.T) {
	th := newTestThrottler(true)
	// Saturday.
	th.now = fixedTime(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	policy := ThrottlePolicy{
		DailyLimit:  50,
		WorkingDays: []int{1, 2, 3, 4, 5},
		StartTime:   "09:00",
		EndTime:     "17:00",
	}

	ok, err := th.Admit(context.Background(), 1, "campaign", policy)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAdmitEnforcesDelayBetweenSends(t *testing.T) {
	th := newTestThrottler(true)
	policy := ThrottlePolicy{DailyLimit: 50, DelayBetween: 5 * time.Minute}

	ok, err := th.Admit(context.Background(), 1, "campaign", policy)
	require.NoError(t, err)
	require.True(t, ok)

	// Same instant: still inside the delay.
	ok, err = th.Admit(context.Background(), 1, "campaign", policy)
	require.NoError(t, err)
	assert.False(t, ok)

	// After the delay has elapsed.
	th.now = fixedTime(tuesdayMorning.Add(6 * time.Minute))
	ok, err = th.Admit(context.Background(), 1, "campaign", policy)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSharedPoolsDrawFromOneBudget(t *testing.T) {
	th := newTestThrottler(true)
	policy := ThrottlePolicy{DailyLimit: 10}

	for i := 0; i < 10; i++ {
		ok, err := th.Admit(context.Background(), 1, "campaign", policy)
		require.NoError(t, err)
		require.True(t, ok)
	}
	// Warmup traffic shares the exhausted budget.
	ok, err := th.Admit(context.Background(), 1, "warmup", policy)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSeparatePoolsCountIndependently(t *testing.T) {
	th := newTestThrottler(false)
	policy := ThrottlePolicy{DailyLimit: 10}

	for i := 0; i < 10; i++ {
		ok, err := th.Admit(context.Background(), 1, "campaign", policy)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := th.Admit(context.Background(), 1, "warmup", policy)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAccountsAreIsolated(t *testing.T) {
	th := newTestThrottler(true)
	policy := ThrottlePolicy{DailyLimit: 5}

	for i := 0; i < 5; i++ {
		ok, err := th.Admit(context.Background(), 1, "campaign", policy)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := th.Admit(context.Background(), 2, "campaign", policy)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNextAvailableSlotOutsideWindow(t *testing.T) {
	th := newTestThrottler(true)
	th.now = fixedTime(time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC))
	policy := ThrottlePolicy{
		WorkingDays: []int{1, 2, 3, 4, 5},
		StartTime:   "09:00",
		EndTime:     "17:00",
	}

	slot := th.NextAvailableSlot(context.Background(), 1, "campaign", policy)
	assert.Equal(t, time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC), slot)
}

func TestNextAvailableSlotSkipsWeekend(t *testing.T) {
	th := newTestThrottler(true)
	// Friday evening.
	th.now = fixedTime(time.Date(2026, 3, 13, 20, 0, 0, 0, time.UTC))
	policy := ThrottlePolicy{
		WorkingDays: []int{1, 2, 3, 4, 5},
		StartTime:   "09:00",
		EndTime:     "17:00",
	}

	slot := th.NextAvailableSlot(context.Background(), 1, "campaign", policy)
	assert.Equal(t, time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC), slot)
}

func TestMemoryCounterStoreExpiry(t *testing.T) {
	store := NewMemoryCounterStore()
	base := tuesdayMorning
	store.now = fixedTime(base)

	n, err := store.Incr(context.Background(), "k", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	store.now = fixedTime(base.Add(2 * time.Hour))
	n, err = store.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
