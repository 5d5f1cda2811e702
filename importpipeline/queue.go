package importpipeline

import (
	"sync"
	"time"

	"github.com/sasha-s/go-deadlock"

	"trustgraph/engine/library"
	"trustgraph/store"
)

// FetchJob names one identity worth fetching, at or after its current
// edition hint.
type FetchJob struct {
	ID           store.IdentityID
	SinceEdition int64
	QueuedAt     time.Time
}

// QueueStats tracks the counters design §4.3 names for the import
// queue: how much work it has taken on, turned away as redundant, or
// finished, plus a running rate.
type QueueStats struct {
	mu sync.Mutex

	Queued        int64
	Deduplicated  int64
	Failed        int64
	Finished      int64
	firstQueuedAt time.Time
	lastQueuedAt  time.Time
}

func (s *QueueStats) onQueued(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Queued++
	if s.firstQueuedAt.IsZero() {
		s.firstQueuedAt = now
	}
	s.lastQueuedAt = now
}

func (s *QueueStats) onDeduplicated() {
	s.mu.Lock()
	s.Deduplicated++
	s.mu.Unlock()
}

func (s *QueueStats) onFailed() {
	s.mu.Lock()
	s.Failed++
	s.mu.Unlock()
}

func (s *QueueStats) onFinished() {
	s.mu.Lock()
	s.Finished++
	s.mu.Unlock()
}

// AveragePerHour is Finished divided by the hours between the first
// and the most recent enqueue; 0 until enqueues at two different times
// have been seen.
func (s *QueueStats) AveragePerHour() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firstQueuedAt.IsZero() || s.lastQueuedAt.Equal(s.firstQueuedAt) {
		return 0
	}
	elapsed := s.lastQueuedAt.Sub(s.firstQueuedAt).Hours()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.Finished) / elapsed
}

// Queue is the import queue (design §4.3): a FIFO of FetchJobs that
// deduplicates by identity, keeping only the job asking for the
// highest edition for any one identity still pending.
type Queue struct {
	mu      deadlock.Mutex
	fifo    *library.FIFO
	pending map[store.IdentityID]*FetchJob
	Stats   QueueStats
}

// NewQueue returns an empty import queue.
func NewQueue() *Queue {
	return &Queue{
		fifo:    library.NewFIFO(64),
		pending: make(map[store.IdentityID]*FetchJob),
	}
}

// Enqueue adds a fetch job for id, or — if id already has a pending
// job — raises that job's SinceEdition if the new request asks for a
// later edition, without creating a second entry (§4.3's "deduplicates
// by identity id, keeping the newest requested edition").
func (q *Queue) Enqueue(id store.IdentityID, sinceEdition int64, now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if existing, ok := q.pending[id]; ok {
		if sinceEdition > existing.SinceEdition {
			existing.SinceEdition = sinceEdition
		}
		q.Stats.onDeduplicated()
		return
	}
	job := &FetchJob{ID: id, SinceEdition: sinceEdition, QueuedAt: now}
	q.pending[id] = job
	q.fifo.Push(job)
	q.Stats.onQueued(now)
}

// Dequeue pops the oldest still-pending job. Enqueue folds a repeat
// request into the job already queued rather than pushing a second
// entry, so every FIFO entry is normally still pending; any entry that
// is not the identity's current pending job is dropped here rather
// than processed twice.
func (q *Queue) Dequeue() (*FetchJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		v, ok := q.fifo.Pop()
		if !ok {
			return nil, false
		}
		job := v.(*FetchJob)
		if current, stillPending := q.pending[job.ID]; stillPending && current == job {
			delete(q.pending, job.ID)
			return job, true
		}
	}
}

// Len reports how many distinct identities are currently pending.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) markFailed()   { q.Stats.onFailed() }
func (q *Queue) markFinished() { q.Stats.onFinished() }
