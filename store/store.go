// Package store implements the trust graph kernel's storage layer: typed
// Identity/Trust/Score entities, lookup indices, and transactional
// mutation, following the teacher's per-mind db{data map, mutex} shape
// (state/identity/identityDb.go) generalized to three entity kinds
// sharing one transaction boundary.
package store

import (
	"github.com/sasha-s/go-deadlock"
	"golang.org/x/exp/slices"
)

type trustKey struct {
	truster, trustee IdentityID
}

type scoreKey struct {
	owner, target IdentityID
}

// Store is the graph store (§4.1). A single global transaction lock
// serializes writers; readers see the last committed state, taking the
// same lock only for the duration of their own copy.
type Store struct {
	mu deadlock.Mutex

	identities    map[IdentityID]*Identity
	ownIdentities map[IdentityID]*OwnIdentity
	trusts        map[trustKey]*Trust
	scores        map[scoreKey]*Score

	trustsOut      map[IdentityID]map[IdentityID]struct{}
	trustsIn       map[IdentityID]map[IdentityID]struct{}
	scoresByOwner  map[IdentityID]map[IdentityID]struct{}
	scoresByTarget map[IdentityID]map[IdentityID]struct{}

	hooks []CommitHook
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		identities:     make(map[IdentityID]*Identity),
		ownIdentities:  make(map[IdentityID]*OwnIdentity),
		trusts:         make(map[trustKey]*Trust),
		scores:         make(map[scoreKey]*Score),
		trustsOut:      make(map[IdentityID]map[IdentityID]struct{}),
		trustsIn:       make(map[IdentityID]map[IdentityID]struct{}),
		scoresByOwner:  make(map[IdentityID]map[IdentityID]struct{}),
		scoresByTarget: make(map[IdentityID]map[IdentityID]struct{}),
	}
}

// OnCommit registers a hook invoked after every committed transaction
// with the changes it produced. Returns an unregister function.
func (s *Store) OnCommit(hook CommitHook) func() {
	s.mu.Lock()
	s.hooks = append(s.hooks, hook)
	idx := len(s.hooks) - 1
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.hooks[idx] = nil
		s.mu.Unlock()
	}
}

func (s *Store) runHooks(changes []EntityChange) {
	if len(changes) == 0 {
		return
	}
	s.mu.Lock()
	hooks := make([]CommitHook, 0, len(s.hooks))
	for _, h := range s.hooks {
		if h != nil {
			hooks = append(hooks, h)
		}
	}
	s.mu.Unlock()
	for _, h := range hooks {
		h(changes)
	}
}

// ---- read side ----

// lookupIdentity returns the live (non-cloned) identity, checking own
// identities first. Caller must hold s.mu.
func (s *Store) lookupIdentity(id IdentityID) *Identity {
	if own, ok := s.ownIdentities[id]; ok {
		return &own.Identity
	}
	if ident, ok := s.identities[id]; ok {
		return ident
	}
	return nil
}

// GetIdentity returns a clone of the identity, or UnknownIdentityError.
func (s *Store) GetIdentity(id IdentityID) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ident := s.lookupIdentity(id)
	if ident == nil {
		return nil, &UnknownIdentityError{ID: id}
	}
	return ident.Clone(), nil
}

// GetOwnIdentity returns a clone of the OwnIdentity, or
// UnknownIdentityError if id is unknown or not locally owned.
func (s *Store) GetOwnIdentity(id IdentityID) (*OwnIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	own, ok := s.ownIdentities[id]
	if !ok {
		return nil, &UnknownIdentityError{ID: id}
	}
	clone := own.Identity.Clone().AsOwnIdentity()
	return clone, nil
}

// GetTrust returns a clone of the Trust(truster, trustee), or
// UnknownTrustError.
func (s *Store) GetTrust(truster, trustee IdentityID) (*Trust, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trusts[trustKey{truster, trustee}]
	if !ok {
		return nil, &UnknownTrustError{Truster: truster, Trustee: trustee}
	}
	return t.Clone(), nil
}

// GetScore returns a clone of Score(owner, target), or
// NotInTrustTreeError.
func (s *Store) GetScore(owner, target IdentityID) (*Score, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scores[scoreKey{owner, target}]
	if !ok {
		return nil, &NotInTrustTreeError{Owner: owner, Target: target}
	}
	return sc.Clone(), nil
}

// AllIdentities returns a clone of every Identity, own and remote,
// ordered by id for determinism.
func (s *Store) AllIdentities() []*Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Identity, 0, len(s.identities)+len(s.ownIdentities))
	for _, i := range s.identities {
		out = append(out, i.Clone())
	}
	for _, o := range s.ownIdentities {
		out = append(out, o.Identity.Clone())
	}
	sortIdentities(out)
	return out
}

// AllOwnIdentities returns a clone of every locally owned identity.
func (s *Store) AllOwnIdentities() []*OwnIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*OwnIdentity, 0, len(s.ownIdentities))
	for _, o := range s.ownIdentities {
		out = append(out, o.Identity.Clone().AsOwnIdentity())
	}
	slices.SortFunc(out, func(a, b *OwnIdentity) bool { return a.ID < b.ID })
	return out
}

// AllTrusts returns a clone of every Trust edge.
func (s *Store) AllTrusts() []*Trust {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Trust, 0, len(s.trusts))
	for _, t := range s.trusts {
		out = append(out, t.Clone())
	}
	sortTrusts(out)
	return out
}

// AllScores returns a clone of every Score row.
func (s *Store) AllScores() []*Score {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Score, 0, len(s.scores))
	for _, sc := range s.scores {
		out = append(out, sc.Clone())
	}
	sortScores(out)
	return out
}

// TrustsOut returns truster's outgoing trust edges, lex-ordered by
// trustee id (the tie-break order §4.2 requires for determinism).
func (s *Store) TrustsOut(truster IdentityID) []*Trust {
	s.mu.Lock()
	defer s.mu.Unlock()
	trustees := make([]IdentityID, 0, len(s.trustsOut[truster]))
	for t := range s.trustsOut[truster] {
		trustees = append(trustees, t)
	}
	slices.Sort(trustees)
	out := make([]*Trust, 0, len(trustees))
	for _, trustee := range trustees {
		out = append(out, s.trusts[trustKey{truster, trustee}].Clone())
	}
	return out
}

// TrustsIn returns trustee's incoming trust edges, lex-ordered by
// truster id.
func (s *Store) TrustsIn(trustee IdentityID) []*Trust {
	s.mu.Lock()
	defer s.mu.Unlock()
	trusters := make([]IdentityID, 0, len(s.trustsIn[trustee]))
	for t := range s.trustsIn[trustee] {
		trusters = append(trusters, t)
	}
	slices.Sort(trusters)
	out := make([]*Trust, 0, len(trusters))
	for _, truster := range trusters {
		out = append(out, s.trusts[trustKey{truster, trustee}].Clone())
	}
	return out
}

// ScoresByOwner returns every Score rooted at owner.
func (s *Store) ScoresByOwner(owner IdentityID) []*Score {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Score, 0, len(s.scoresByOwner[owner]))
	for target := range s.scoresByOwner[owner] {
		out = append(out, s.scores[scoreKey{owner, target}].Clone())
	}
	sortScores(out)
	return out
}

// ScoresByTarget returns every Score whose target is target.
func (s *Store) ScoresByTarget(target IdentityID) []*Score {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Score, 0, len(s.scoresByTarget[target]))
	for owner := range s.scoresByTarget[target] {
		out = append(out, s.scores[scoreKey{owner, target}].Clone())
	}
	sortScores(out)
	return out
}

func sortIdentities(in []*Identity) {
	slices.SortFunc(in, func(a, b *Identity) bool { return a.ID < b.ID })
}

func sortTrusts(in []*Trust) {
	slices.SortFunc(in, func(a, b *Trust) bool {
		if a.Truster != b.Truster {
			return a.Truster < b.Truster
		}
		return a.Trustee < b.Trustee
	})
}

func sortScores(in []*Score) {
	slices.SortFunc(in, func(a, b *Score) bool {
		if a.Owner != b.Owner {
			return a.Owner < b.Owner
		}
		return a.Target < b.Target
	})
}
