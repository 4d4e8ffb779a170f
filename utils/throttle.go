package utils

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// ThrottlePolicy is the send-rate contract for one account within one
// traffic pool. Zero limits mean unlimited.
type ThrottlePolicy struct {
	DailyLimit   int
	HourlyLimit  int
	DelayBetween time.Duration
	Jitter       bool

	Timezone    string
	WorkingDays []int // 0=Sunday .. 6=Saturday; empty means every day
	StartTime   string
	EndTime     string
}

// CounterStore counts sends per key with expiry. The in-memory store is
// the default; the Redis store shares counters across processes.
type CounterStore interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Decr(ctx context.Context, key string) error
	Get(ctx context.Context, key string) (int64, error)
}

type memoryCounter struct {
	value     int64
	expiresAt time.Time
}

// MemoryCounterStore is a mutex-protected in-process counter store.
type MemoryCounterStore struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
	now      func() time.Time
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		counters: make(map[string]*memoryCounter),
		now:      time.Now,
	}
}

func (s *MemoryCounterStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counters[key]
	if c == nil || s.now().After(c.expiresAt) {
		c = &memoryCounter{expiresAt: s.now().Add(ttl)}
		s.counters[key] = c
	}
	c.value++
	return c.value, nil
}

func (s *MemoryCounterStore) Decr(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counters[key]
	if c != nil && !s.now().After(c.expiresAt) && c.value > 0 {
		c.value--
	}
	return nil
}

func (s *MemoryCounterStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counters[key]
	if c == nil || s.now().After(c.expiresAt) {
		return 0, nil
	}
	return c.value, nil
}

// RedisCounterStore shares throttle counters across processes.
type RedisCounterStore struct {
	client *redis.Client
}

func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

func (s *RedisCounterStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		s.client.Expire(ctx, key, ttl)
	}
	return n, nil
}

func (s *RedisCounterStore) Decr(ctx context.Context, key string) error {
	return s.client.Decr(ctx, key).Err()
}

func (s *RedisCounterStore) Get(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

type accountSendState struct {
	lastSend  time.Time
	nextDelay time.Duration
}

// Throttler enforces per-account hourly/daily caps, working windows and
// inter-send delays. When SharedPools is true, warmup and campaign
// traffic draw from a single budget per account; otherwise each pool
// counts separately.
type Throttler struct {
	store       CounterStore
	sharedPools bool

	mu    sync.Mutex
	state map[string]*accountSendState

	rng    *rand.Rand
	now    func() time.Time
	logger *logrus.Entry
}

func NewThrottler(store CounterStore, sharedPools bool, logger *logrus.Logger) *Throttler {
	return &Throttler{
		store:       store,
		sharedPools: sharedPools,
		state:       make(map[string]*accountSendState),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		now:         time.Now,
		logger:      logger.WithField("component", "throttler"),
	}
}

// poolKey collapses all pools into one budget when sharing is on.
func (t *Throttler) poolKey(accountID uint, pool string) string {
	if t.sharedPools {
		pool = "all"
	}
	return fmt.Sprintf("send:%s:%d", pool, accountID)
}

func (t *Throttler) dayKey(base string, now time.Time) string {
	return base + ":d:" + now.Format("2006-01-02")
}

func (t *Throttler) hourKey(base string, now time.Time) string {
	return base + ":h:" + now.Format("2006-01-02T15")
}

// Admit decides whether one more send may leave the account now under
// the given policy. On true the counters are already incremented, so
// the caller must follow through with the send.
func (t *Throttler) Admit(ctx context.Context, accountID uint, pool string, policy ThrottlePolicy) (bool, error) {
	now := t.nowIn(policy)

	if !withinWindow(now, policy) {
		return false, nil
	}

	base := t.poolKey(accountID, pool)

	t.mu.Lock()
	if st := t.state[base]; st != nil && policy.DelayBetween > 0 {
		if now.Sub(st.lastSend) < st.nextDelay {
			t.mu.Unlock()
			return false, nil
		}
	}
	t.mu.Unlock()

	// Increment first, then compare against the limit. Checking the
	// counter before incrementing would let concurrent admitters all
	// read a value below the cap and overshoot it together.
	if policy.DailyLimit > 0 {
		n, err := t.store.Incr(ctx, t.dayKey(base, now), 36*time.Hour)
		if err != nil {
			return false, err
		}
		if n > int64(policy.DailyLimit) {
			return false, nil
		}
	}
	if policy.HourlyLimit > 0 {
		n, err := t.store.Incr(ctx, t.hourKey(base, now), 2*time.Hour)
		if err != nil {
			return false, err
		}
		if n > int64(policy.HourlyLimit) {
			// The hourly cap rejected a slot the daily counter already
			// charged; give it back so the day budget stays exact.
			if policy.DailyLimit > 0 {
				if derr := t.store.Decr(ctx, t.dayKey(base, now)); derr != nil {
					t.logger.WithError(derr).Warn("Failed to refund daily counter")
				}
			}
			return false, nil
		}
	}

	t.mu.Lock()
	st := t.state[base]
	if st == nil {
		st = &accountSendState{}
		t.state[base] = st
	}
	st.lastSend = now
	st.nextDelay = t.delayFor(policy)
	t.mu.Unlock()
	return true, nil
}

// delayFor is the base inter-send delay, plus up to 50% jitter when
// randomization is on.
func (t *Throttler) delayFor(policy ThrottlePolicy) time.Duration {
	d := policy.DelayBetween
	if d > 0 && policy.Jitter {
		d += time.Duration(t.rng.Float64() * 0.5 * float64(d))
	}
	return d
}

// NextAvailableSlot estimates when Admit could next return true.
func (t *Throttler) NextAvailableSlot(ctx context.Context, accountID uint, pool string, policy ThrottlePolicy) time.Time {
	now := t.nowIn(policy)
	if !withinWindow(now, policy) {
		return nextWindowStart(now, policy)
	}

	base := t.poolKey(accountID, pool)
	if policy.DailyLimit > 0 {
		if n, err := t.store.Get(ctx, t.dayKey(base, now)); err == nil && n >= int64(policy.DailyLimit) {
			tomorrow := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
			return nextWindowStart(tomorrow, policy)
		}
	}
	if policy.HourlyLimit > 0 {
		if n, err := t.store.Get(ctx, t.hourKey(base, now)); err == nil && n >= int64(policy.HourlyLimit) {
			return now.Truncate(time.Hour).Add(time.Hour)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if st := t.state[base]; st != nil && policy.DelayBetween > 0 {
		if slot := st.lastSend.Add(st.nextDelay); slot.After(now) {
			return slot
		}
	}
	return now
}

func (t *Throttler) nowIn(policy ThrottlePolicy) time.Time {
	now := t.now()
	if policy.Timezone != "" {
		if loc, err := time.LoadLocation(policy.Timezone); err == nil {
			return now.In(loc)
		}
	}
	return now
}

func withinWindow(now time.Time, policy ThrottlePolicy) bool {
	if len(policy.WorkingDays) > 0 {
		ok := false
		for _, d := range policy.WorkingDays {
			if int(now.Weekday()) == d {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	start, serr := parseClock(policy.StartTime)
	end, eerr := parseClock(policy.EndTime)
	if serr != nil || eerr != nil {
		return true
	}
	minutes := now.Hour()*60 + now.Minute()
	return minutes >= start && minutes < end
}

// nextWindowStart walks forward to the next working-day window open.
func nextWindowStart(from time.Time, policy ThrottlePolicy) time.Time {
	start, err := parseClock(policy.StartTime)
	if err != nil {
		start = 0
	}
	day := time.Date(from.Year(), from.Month(), from.Day(), start/60, start%60, 0, 0, from.Location())
	if !day.After(from) {
		day = day.AddDate(0, 0, 1)
	}
	for i := 0; i < 8; i++ {
		candidate := day.AddDate(0, 0, i)
		if withinWindow(candidate, policy) {
			return candidate
		}
	}
	return day
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
