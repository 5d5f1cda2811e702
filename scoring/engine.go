package scoring

import (
	"time"

	"trustgraph/engine/library"
	"trustgraph/store"
)

// Config tunes the engine away from its defaults; the zero Config is
// invalid, use NewConfig.
type Config struct {
	Capacity CapacityTable
}

// NewConfig returns a Config with the reference capacity table.
func NewConfig() Config {
	return Config{Capacity: DefaultCapacityTable()}
}

// Engine owns score recomputation for a Store: every public method
// opens its own transaction, and its unexported *Locked helpers run
// inside that same transaction, so a trust change and the score rows
// it produces commit or roll back together.
type Engine struct {
	store  *store.Store
	config Config
	stats  Stats

	maxOuterIterations     int
	maxFixpointIterations  int
}

// NewEngine wires an Engine to s using cfg.
func NewEngine(s *store.Store, cfg Config) *Engine {
	return &Engine{
		store:                 s,
		config:                cfg,
		maxOuterIterations:    cfg.Capacity.ceiling() + 2,
		maxFixpointIterations: cfg.Capacity.ceiling() + 2,
	}
}

// Stats returns a snapshot of the engine's running counters.
func (e *Engine) Stats() Stats {
	return e.stats.Snapshot()
}

// CreateOwnIdentity mints a fresh key pair, inserts the resulting
// OwnIdentity, and materializes its own Score(O, O) row (rank 0,
// capacity 100, the "infinite" self-trust sentinel — §8 Invariant 2).
func (e *Engine) CreateOwnIdentity(requestURI, insertURI string) (*store.OwnIdentity, error) {
	kp, err := library.NewKeyPair()
	if err != nil {
		return nil, store.NewInternalError("generating key pair", err)
	}
	now := time.Now()
	tx := e.store.Begin()
	own, err := tx.CreateOwnIdentity(kp.Account, requestURI, insertURI, now)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if _, err := tx.UpsertScore(own.ID, own.ID, store.OwnerScoreSentinel, 0, 100, now); err != nil {
		tx.Rollback()
		return nil, err
	}
	tx.Commit()
	return own, nil
}

// DeleteOwnIdentity removes O and every trust/score row it owned or
// participated in, then recomputes every remaining owner's tree (a
// rare maintenance operation, not worth a narrower incremental path).
func (e *Engine) DeleteOwnIdentity(id store.IdentityID) error {
	tx := e.store.Begin()
	if _, err := tx.DeleteOwnIdentity(id); err != nil {
		tx.Rollback()
		return err
	}
	owners := tx.AllOwnIdentityIDs()
	for _, owner := range owners {
		if err := e.recomputeLocked(tx, owner); err != nil {
			tx.Rollback()
			return err
		}
	}
	tx.Commit()
	return nil
}

// SetTrust creates or updates Trust(truster, trustee) and recomputes
// every OwnIdentity tree the change could have affected, atomically.
func (e *Engine) SetTrust(truster, trustee store.IdentityID, value int, comment string, trusterEdition int64) (*store.Trust, error) {
	now := time.Now()
	tx := e.store.Begin()
	t, err := tx.UpsertTrust(truster, trustee, value, comment, trusterEdition, now)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := e.applyTrustChangeLocked(tx, truster, []store.IdentityID{trustee}); err != nil {
		tx.Rollback()
		return nil, err
	}
	tx.Commit()
	return t, nil
}

// RemoveTrust deletes Trust(truster, trustee) and recomputes every
// OwnIdentity tree that could have reached trustee through it.
func (e *Engine) RemoveTrust(truster, trustee store.IdentityID) error {
	tx := e.store.Begin()
	if err := tx.DeleteTrust(truster, trustee); err != nil {
		tx.Rollback()
		return err
	}
	if err := e.applyTrustChangeLocked(tx, truster, []store.IdentityID{trustee}); err != nil {
		tx.Rollback()
		return err
	}
	tx.Commit()
	return nil
}

// IdentityUpdate carries the attributes a freshly fetched identity
// edition published, decoupled from any particular wire format.
type IdentityUpdate struct {
	RequestURI         string
	Nickname           *string
	PublishesTrustList bool
	Contexts           map[string]struct{}
	Properties         map[string]string
}

// TrustListEntry is one trust this edition's list names.
type TrustListEntry struct {
	Trustee store.IdentityID
	Value   int
	Comment string
}

// ImportResult reports what ImportEdition actually did, for logging
// and for the importer's own statistics.
type ImportResult struct {
	Created int
	Updated int
	Deleted int
}

// ImportEdition applies one freshly fetched edition of id: advances
// its fetch state, applies its published attributes (if any), and
// reconciles its trust list against S, the set of trustees the new
// edition names (design §4.3(iii)): any existing Trust(id, *) not in S
// is deleted, entries in S matching an existing edge are updated in
// place, and entries with no existing edge are created, implicitly
// stubbing in any trustee id has not seen before. Every trust touched
// and any affected OwnIdentity tree recompute happen in the same
// transaction as the edition advance, so a mid-reconciliation error
// rolls the whole import back (§4.2's failure semantics).
func (e *Engine) ImportEdition(id store.IdentityID, edition int64, ok bool, identity *IdentityUpdate, trustList []TrustListEntry) (*ImportResult, error) {
	now := time.Now()
	tx := e.store.Begin()

	state := store.Fetched
	if !ok {
		state = store.ParsingFailed
	}
	if err := tx.SetIdentityEdition(id, edition, state, now); err != nil {
		tx.Rollback()
		return nil, err
	}

	result := &ImportResult{}

	if identity != nil {
		if err := tx.SetIdentityAttributes(id, identity.Nickname, identity.PublishesTrustList, identity.Contexts, identity.Properties, now); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	var touched []store.IdentityID

	if ok && trustList != nil {
		wanted := make(map[store.IdentityID]TrustListEntry, len(trustList))
		for _, t := range trustList {
			wanted[t.Trustee] = t
		}

		for _, existing := range tx.TrustsOut(id) {
			if _, stillWanted := wanted[existing.Trustee]; !stillWanted {
				if err := tx.DeleteTrust(id, existing.Trustee); err != nil {
					tx.Rollback()
					return nil, err
				}
				result.Deleted++
				touched = append(touched, existing.Trustee)
			}
		}

		for trustee, entry := range wanted {
			existing, hadEdge := tx.GetTrust(id, trustee)
			if hadEdge && existing.Value == entry.Value && existing.Comment == entry.Comment && existing.TrusterEdition == edition {
				continue
			}
			if _, err := tx.UpsertTrust(id, trustee, entry.Value, entry.Comment, edition, now); err != nil {
				tx.Rollback()
				return nil, err
			}
			if hadEdge {
				result.Updated++
			} else {
				result.Created++
			}
			touched = append(touched, trustee)
		}
	}

	if err := e.applyTrustChangeLocked(tx, id, touched); err != nil {
		tx.Rollback()
		return nil, err
	}

	tx.Commit()
	return result, nil
}

// FullRecompute rebuilds every OwnIdentity's tree from scratch,
// ignoring whatever Score rows are currently stored. Used as the
// fallback when an incremental update finds the tree inconsistent,
// and available as a standalone maintenance operation.
func (e *Engine) FullRecompute() error {
	tx := e.store.Begin()
	for _, owner := range tx.AllOwnIdentityIDs() {
		if err := e.recomputeLocked(tx, owner); err != nil {
			tx.Rollback()
			return err
		}
	}
	tx.Commit()
	return nil
}

// applyTrustChangeLocked recomputes every OwnIdentity tree that could
// be affected by a change to truster's outgoing trust, running inside
// tx. Owners for whom truster is not reachable (and who are not
// truster themselves) are skipped, since such a tree cannot have used
// the changed edge (§4.2's "bounded by the set reachable" scoping).
// touched is the set of trustees whose Trust(truster, *) edge actually
// changed; each affected owner first gets a scoped incremental pass
// from those trustees, falling back to a full recompute only if that
// pass detects an inconsistency it cannot resolve locally (§4.2).
func (e *Engine) applyTrustChangeLocked(tx *store.Tx, truster store.IdentityID, touched []store.IdentityID) error {
	for _, owner := range tx.AllOwnIdentityIDs() {
		if owner != truster {
			if _, reachable := scoreLookup(tx, owner, truster); !reachable {
				continue
			}
		}
		err := e.recomputeIncrementalLocked(tx, owner, truster, touched)
		if err == nil {
			continue
		}
		if err != errIncrementalInconsistent {
			return err
		}
		if err := e.recomputeLocked(tx, owner); err != nil {
			return err
		}
	}
	return nil
}

func scoreLookup(tx *store.Tx, owner, target store.IdentityID) (int, bool) {
	for _, sc := range tx.ScoresByOwner(owner) {
		if sc.Target == target {
			return sc.Capacity, true
		}
	}
	return 0, false
}

// recomputeIncrementalLocked updates owner's tree without rebuilding it
// from scratch: it seeds from owner's currently stored Score rows,
// re-derives value/capacity/rank only for truster's changed trustees
// and whatever those changes propagate to, and writes back just the
// nodes it actually touched. Any condition it cannot resolve with this
// local view — a rank that would need to shrink below its stored
// value, a node's capacity collapsing to zero (which may orphan nodes
// reachable only through it), an unreachable seed, or a pass that
// outgrows its iteration budget — returns errIncrementalInconsistent
// so the caller can fall back to a full recompute (§4.2).
func (e *Engine) recomputeIncrementalLocked(tx *store.Tx, owner, truster store.IdentityID, touched []store.IdentityID) error {
	if len(touched) == 0 {
		return nil
	}

	start := time.Now()

	rank := map[store.IdentityID]int{owner: 0}
	capacity := map[store.IdentityID]int{owner: 100}
	value := map[store.IdentityID]int{owner: store.OwnerScoreSentinel}
	for _, sc := range tx.ScoresByOwner(owner) {
		rank[sc.Target] = sc.Rank
		capacity[sc.Target] = sc.Capacity
		value[sc.Target] = sc.Value
	}

	if truster != owner {
		if _, known := rank[truster]; !known {
			return errIncrementalInconsistent
		}
	}

	type queued struct {
		id   store.IdentityID
		from store.IdentityID
	}
	var queue []queued
	for _, t := range touched {
		if t == owner {
			continue
		}
		queue = append(queue, queued{id: t, from: truster})
	}

	seen := map[store.IdentityID]bool{}
	budget := len(rank) + e.maxFixpointIterations + len(touched)
	processed := 0

	for len(queue) > 0 {
		processed++
		if processed > budget {
			return errIncrementalInconsistent
		}
		cur := queue[0]
		queue = queue[1:]
		id := cur.id

		fromRank, fromKnown := rank[cur.from]
		if !fromKnown {
			return errIncrementalInconsistent
		}
		r, known := rank[id]
		if !known {
			r = fromRank + 1
			rank[id] = r
		} else if fromRank+1 < r {
			return errIncrementalInconsistent
		}

		prevCapacity, hadScore := capacity[id]
		prevValue := value[id]

		v, c := e.computeValueAndCapacity(tx, owner, id, r, capacity)

		if hadScore && prevCapacity > 0 && c == 0 {
			return errIncrementalInconsistent
		}

		value[id] = v
		capacity[id] = c

		if hadScore && prevValue == v && prevCapacity == c {
			continue
		}
		seen[id] = true

		if c <= 0 {
			continue
		}
		for _, t := range tx.TrustsOut(id) {
			if r > 0 && t.Value < 0 {
				continue
			}
			queue = append(queue, queued{id: t.Trustee, from: id})
		}
	}

	now := time.Now()
	for id := range seen {
		if _, err := tx.UpsertScore(owner, id, value[id], rank[id], capacity[id], now); err != nil {
			return err
		}
	}
	if len(seen) > 0 {
		e.stats.recordIncremental(time.Since(start))
	}
	return nil
}

// recomputeLocked rebuilds owner's whole tree from scratch and diffs
// it against the stored Score rows, applying creates/updates/deletes
// inside tx. It is the full-recompute primitive: a rare fallback for
// when recomputeIncrementalLocked finds the tree inconsistent, and a
// standalone maintenance operation (§4.2), never the everyday path.
func (e *Engine) recomputeLocked(tx *store.Tx, owner store.IdentityID) error {
	start := time.Now()
	computed, err := e.computeTree(tx, owner)
	if err != nil {
		return store.NewInternalError("score tree for "+string(owner)+" did not converge", err)
	}
	now := time.Now()

	existing := map[store.IdentityID]*store.Score{}
	for _, sc := range tx.ScoresByOwner(owner) {
		existing[sc.Target] = sc
	}

	for target, want := range computed {
		if have, ok := existing[target]; ok && have.Value == want.value && have.Rank == want.rank && have.Capacity == want.capacity {
			continue
		}
		if _, err := tx.UpsertScore(owner, target, want.value, want.rank, want.capacity, now); err != nil {
			return err
		}
	}
	for target := range existing {
		if _, stillThere := computed[target]; !stillThere {
			if err := tx.DeleteScore(owner, target); err != nil {
				return err
			}
		}
	}

	e.stats.recordFullRecompute(time.Since(start))
	return nil
}

type nodeScore struct {
	value    int
	rank     int
	capacity int
}

// computeTree computes owner's complete score tree via a BFS/fixpoint
// relaxation (documented in full in the design notes): an outer loop
// re-derives reachability by rank, excluding any node whose capacity
// turns out to be forced to zero, until the excluded set stabilizes.
func (e *Engine) computeTree(tx *store.Tx, owner store.IdentityID) (map[store.IdentityID]nodeScore, error) {
	excluded := map[store.IdentityID]bool{}

	for outer := 0; outer < e.maxOuterIterations; outer++ {
		rank := map[store.IdentityID]int{owner: 0}
		order := []store.IdentityID{owner}
		visited := map[store.IdentityID]bool{owner: true}
		queue := []store.IdentityID{owner}

		for len(queue) > 0 {
			u := queue[0]
			queue = queue[1:]
			if u != owner && excluded[u] {
				continue
			}
			for _, t := range tx.TrustsOut(u) {
				v := t.Trustee
				if rank[u] > 0 && t.Value < 0 {
					// Negative trust from a non-owner identity does not
					// forward reachability beyond the owner's own edges.
					continue
				}
				if visited[v] {
					continue
				}
				visited[v] = true
				rank[v] = rank[u] + 1
				order = append(order, v)
				queue = append(queue, v)
			}
		}

		capacity := map[store.IdentityID]int{owner: 100}
		value := map[store.IdentityID]int{owner: store.OwnerScoreSentinel}

		for iter := 0; iter < e.maxFixpointIterations; iter++ {
			changed := false
			for _, id := range order {
				if id == owner {
					continue
				}
				v, c := e.computeValueAndCapacity(tx, owner, id, rank[id], capacity)
				if capacity[id] != c || value[id] != v {
					changed = true
				}
				value[id] = v
				capacity[id] = c
			}
			if !changed {
				break
			}
		}

		newlyExcluded := false
		for _, id := range order {
			if id == owner {
				continue
			}
			if capacity[id] == 0 && !excluded[id] {
				excluded[id] = true
				newlyExcluded = true
			}
		}
		if !newlyExcluded {
			out := make(map[store.IdentityID]nodeScore, len(order))
			for _, id := range order {
				out[id] = nodeScore{value: value[id], rank: rank[id], capacity: capacity[id]}
			}
			return out, nil
		}
	}
	return nil, errNotConverged
}

// computeValueAndCapacity derives value(O, target) and capacity(O,
// target) from target's incoming trust. A direct Trust(O, target) is
// the owner's absolute opinion: it overrides every other truster's
// contribution, for both value and capacity. Otherwise capacity is
// forced to 0 whenever the resulting value is not positive — "distrust
// overrides transitivity" (§8 scenario 2).
func (e *Engine) computeValueAndCapacity(tx *store.Tx, owner, target store.IdentityID, rank int, capacitySoFar map[store.IdentityID]int) (int, int) {
	if direct, ok := tx.GetTrust(owner, target); ok {
		if direct.Value > 0 {
			return direct.Value * 100, e.config.Capacity.lookup(rank)
		}
		return direct.Value * 100, 0
	}

	sum := 0
	for _, t := range tx.TrustsIn(target) {
		c, known := capacitySoFar[t.Truster]
		if !known || c <= 0 {
			continue
		}
		sum += (t.Value * c) / 100
	}
	if sum <= 0 {
		return sum, 0
	}
	return sum, e.config.Capacity.lookup(rank)
}
