package importpipeline

import (
	"time"

	"trustgraph/engine/actors"
	"trustgraph/store"
)

// Scheduler decides which identities are worth fetching right now and
// feeds them to Queue. It is driven by its own DelayedJob, separate
// from the Importer's, so picking candidates never blocks on an
// in-flight fetch.
type Scheduler struct {
	store *store.Store
	queue *Queue
	// MinRefetchInterval bounds how often an identity already fetched
	// once gets re-queued, so a slow relay round trip does not turn
	// into a busy loop re-requesting the same edition.
	MinRefetchInterval time.Duration
}

// NewScheduler returns a Scheduler with a 15 minute refetch floor.
func NewScheduler(s *store.Store, q *Queue) *Scheduler {
	return &Scheduler{store: s, queue: q, MinRefetchInterval: 15 * time.Minute}
}

// Run enqueues every identity worth fetching (§4.3(a)): one with a
// positive score under some owner, that is either never fetched,
// whose edition hint has moved past what was last fetched, or simply
// due for a refresh. Meant to be handed to actors.NewTickerJob as its
// Work.
func (sc *Scheduler) Run(stop <-chan struct{}) {
	now := time.Now()
	for _, ident := range sc.store.AllIdentities() {
		select {
		case <-stop:
			return
		default:
		}
		if !sc.worthFetching(ident, now) {
			continue
		}
		sc.queue.Enqueue(ident.ID, nextEdition(ident), now)
	}
}

// worthFetching is §4.3(a)'s literal definition: an identity with no
// positive score under any owner is never fetched, regardless of how
// stale its last fetch is.
func (sc *Scheduler) worthFetching(ident *store.Identity, now time.Time) bool {
	if !sc.hasPositiveScore(ident.ID) {
		return false
	}
	if ident.FetchState == store.NotFetched {
		return true
	}
	if ident.EditionHint > ident.Edition {
		return true
	}
	return now.Sub(ident.LastFetched) >= sc.MinRefetchInterval
}

func (sc *Scheduler) hasPositiveScore(target store.IdentityID) bool {
	for _, s := range sc.store.ScoresByTarget(target) {
		if s.Value > 0 {
			return true
		}
	}
	return false
}

// nextEdition is the edition §4.3(a) says to request: one past
// whichever of the identity's last-fetched edition or its edition
// hint is higher, so a hint that has already outpaced what was
// fetched is not re-requested at a stale edition.
func nextEdition(ident *store.Identity) int64 {
	next := ident.Edition
	if ident.EditionHint > next {
		next = ident.EditionHint
	}
	return next + 1
}

// TriggerOnWake re-arms j to run immediately, used after the process
// observes the machine coming back from sleep — a long suspend leaves
// every identity's "last fetched" stale at once.
func TriggerOnWake(j actors.DelayedJob) {
	j.TriggerAfter(0)
}
