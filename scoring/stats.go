package scoring

import (
	"sync"
	"time"
)

// Stats accumulates the running counters design §4.2 exposes for
// diagnosing whether the engine is keeping up: how many times each
// recompute path ran and how long it spent there in total.
type Stats struct {
	mu sync.Mutex

	IncrementalCount    int64
	IncrementalDuration time.Duration
	FullRecomputeCount  int64
	FullRecomputeDuration time.Duration
}

func (s *Stats) recordIncremental(d time.Duration) {
	s.mu.Lock()
	s.IncrementalCount++
	s.IncrementalDuration += d
	s.mu.Unlock()
}

func (s *Stats) recordFullRecompute(d time.Duration) {
	s.mu.Lock()
	s.FullRecomputeCount++
	s.FullRecomputeDuration += d
	s.mu.Unlock()
}

// Snapshot returns a copy safe to read without racing the engine.
func (s *Stats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		IncrementalCount:      s.IncrementalCount,
		IncrementalDuration:   s.IncrementalDuration,
		FullRecomputeCount:    s.FullRecomputeCount,
		FullRecomputeDuration: s.FullRecomputeDuration,
	}
}
