package quota

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryCounterStore is an in-process CounterStore. It backs unit tests and
// single-box deployments; multi-instance deployments need the Postgres store
// so all replicas share one ledger.
type MemoryCounterStore struct {
	mu       sync.Mutex
	counters map[string]*memCounter
}

type memCounter struct {
	day   string
	count int
}

// NewMemoryCounterStore creates an empty in-memory counter store.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{counters: make(map[string]*memCounter)}
}

// ConsumeIfBelow implements CounterStore. The mutex gives the same
// atomicity the SQL store gets from its conditional UPDATE.
func (s *MemoryCounterStore) ConsumeIfBelow(_ context.Context, userID, day string, limit int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[userID]
	if !ok || c.day != day {
		c = &memCounter{day: day}
		s.counters[userID] = c
	}
	if limit > 0 && c.count >= limit {
		return c.count, false, nil
	}
	c.count++
	return c.count, true, nil
}

// Peek implements CounterStore.
func (s *MemoryCounterStore) Peek(_ context.Context, userID, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.counters[userID]; ok && c.day == day {
		return c.count, nil
	}
	return 0, nil
}

// MemoryEventStore is an in-process EventStore for the sliding-window
// throttle. Same deployment caveats as MemoryCounterStore.
type MemoryEventStore struct {
	mu     sync.Mutex
	events map[string][]time.Time
}

// NewMemoryEventStore creates an empty in-memory event store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{events: make(map[string][]time.Time)}
}

// Hit implements EventStore. Events at or before windowStart are pruned;
// the window is half-open, (windowStart, now].
func (s *MemoryEventStore) Hit(_ context.Context, key string, windowStart, now time.Time, max int) (bool, int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[key][:0]
	for _, t := range s.events[key] {
		if t.After(windowStart) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= max {
		s.events[key] = kept
		return false, len(kept), oldestOf(kept), nil
	}

	kept = append(kept, now)
	s.events[key] = kept
	return true, len(kept), oldestOf(kept), nil
}

// Sweep implements EventSweeper. Hit only prunes the key it touches, so
// keys that stop sending requests would otherwise hold their events
// forever; Sweep drops expired events across all keys and removes map
// entries that end up empty.
func (s *MemoryEventStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, events := range s.events {
		kept := events[:0]
		for _, t := range events {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		removed += len(events) - len(kept)
		if len(kept) == 0 {
			delete(s.events, key)
			continue
		}
		s.events[key] = kept
	}
	return removed, nil
}

func oldestOf(events []time.Time) time.Time {
	if len(events) == 0 {
		return time.Time{}
	}
	// Events arrive in order under RealClock; fixed test clocks may not.
	if !sort.SliceIsSorted(events, func(i, j int) bool { return events[i].Before(events[j]) }) {
		sorted := append([]time.Time(nil), events...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
		return sorted[0]
	}
	return events[0]
}
