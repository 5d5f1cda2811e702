package store

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"
)

// Tx is one transactional mutation of the store. Begin acquires the
// store's single write lock for the transaction's whole lifetime, so a
// score recompute triggered by a trust change lives in the same
// transaction as the trust change itself (design §4.2's "same
// transaction" failure-atomicity requirement). A Tx must be either
// Committed or Rolled back exactly once.
type Tx struct {
	store   *Store
	done    bool
	changes []EntityChange
	undo    []func()
}

// Begin opens a transaction, blocking until any other transaction has
// finished.
func (s *Store) Begin() *Tx {
	s.mu.Lock()
	return &Tx{store: s}
}

func (tx *Tx) requireOpen() {
	if tx.done {
		panic("store: use of a Tx after Commit/Rollback")
	}
}

// Commit releases the write lock and fires commit hooks with every
// change the transaction produced, in application order.
func (tx *Tx) Commit() {
	tx.requireOpen()
	tx.done = true
	changes := tx.changes
	tx.store.mu.Unlock()
	tx.store.runHooks(changes)
}

// Rollback undoes every mutation the transaction made, in reverse
// order, then releases the write lock. No commit hook runs.
func (tx *Tx) Rollback() {
	tx.requireOpen()
	tx.done = true
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.store.mu.Unlock()
}

func (tx *Tx) record(kind EventSourceKind, old, new interface{}) {
	tx.changes = append(tx.changes, EntityChange{Kind: kind, Old: old, New: new})
}

// ---- unlocked read helpers: safe to call while a Tx holds s.mu ----

func (tx *Tx) lookupIdentity(id IdentityID) *Identity {
	return tx.store.lookupIdentity(id)
}

// GetIdentity returns a live-state clone, usable while the transaction
// is still open.
func (tx *Tx) GetIdentity(id IdentityID) (*Identity, error) {
	ident := tx.lookupIdentity(id)
	if ident == nil {
		return nil, &UnknownIdentityError{ID: id}
	}
	return ident.Clone(), nil
}

func (tx *Tx) IdentityExists(id IdentityID) bool {
	return tx.lookupIdentity(id) != nil
}

// GetTrust returns the live Trust's clone, or nil with ok=false.
func (tx *Tx) GetTrust(truster, trustee IdentityID) (*Trust, bool) {
	t, ok := tx.store.trusts[trustKey{truster, trustee}]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// TrustsOut mirrors Store.TrustsOut without re-taking the lock.
func (tx *Tx) TrustsOut(truster IdentityID) []*Trust {
	s := tx.store
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

// TrustsIn mirrors Store.TrustsIn without re-taking the lock.
func (tx *Tx) TrustsIn(trustee IdentityID) []*Trust {
	s := tx.store
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

// ScoresByOwner mirrors Store.ScoresByOwner without re-taking the lock.
func (tx *Tx) ScoresByOwner(owner IdentityID) []*Score {
	s := tx.store
	out := make([]*Score, 0, len(s.scoresByOwner[owner]))
	for target := range s.scoresByOwner[owner] {
		out = append(out, s.scores[scoreKey{owner, target}].Clone())
	}
	sortScores(out)
	return out
}

// AllOwnIdentityIDs returns every locally owned identity's id, sorted.
func (tx *Tx) AllOwnIdentityIDs() []IdentityID {
	s := tx.store
	out := make([]IdentityID, 0, len(s.ownIdentities))
	for id := range s.ownIdentities {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// ---- mutations ----

// CreateOwnIdentity inserts a brand-new locally owned identity. id must
// already be validated by the caller (it is derived from a freshly
// generated key pair, never user input).
func (tx *Tx) CreateOwnIdentity(id IdentityID, requestURI, insertURI string, now time.Time) (*OwnIdentity, error) {
	tx.requireOpen()
	if tx.IdentityExists(id) {
		return nil, &DuplicateEntityError{Kind: "Identity", ID: id}
	}
	ident := &Identity{
		ID:                 id,
		RequestURI:         requestURI,
		Edition:            0,
		FetchState:         Fetched,
		PublishesTrustList: true,
		Contexts:           make(map[string]struct{}),
		Properties:         make(map[string]string),
		CreatedAt:          now,
		LastChanged:        now,
		VersionID:          uuid.New(),
		Own: &OwnExtra{
			InsertURI:  insertURI,
			LastInsert: now,
		},
	}
	tx.store.ownIdentities[id] = &OwnIdentity{Identity: *ident}
	tx.undo = append(tx.undo, func() { delete(tx.store.ownIdentities, id) })
	tx.record(Identities, nil, ident.Clone())
	return ident.Clone().AsOwnIdentity(), nil
}

// EnsureStubIdentity returns the existing Identity for id, or creates an
// unfetched stub (§4.3(iii): referencing an unknown identity via a
// trust edge implicitly creates it).
func (tx *Tx) EnsureStubIdentity(id IdentityID, requestURI string, now time.Time) (*Identity, error) {
	tx.requireOpen()
	if ident := tx.lookupIdentity(id); ident != nil {
		return ident.Clone(), nil
	}
	stub := &Identity{
		ID:          id,
		RequestURI:  requestURI,
		Edition:     0,
		EditionHint: 0,
		FetchState:  NotFetched,
		Contexts:    make(map[string]struct{}),
		Properties:  make(map[string]string),
		CreatedAt:   now,
		LastChanged: now,
		VersionID:   uuid.New(),
	}
	tx.store.identities[id] = stub
	tx.undo = append(tx.undo, func() { delete(tx.store.identities, id) })
	tx.record(Identities, nil, stub.Clone())
	return stub.Clone(), nil
}

// SetEditionHint records a higher edition claimed for id by some other
// identity's trust list, without fetching it.
func (tx *Tx) SetEditionHint(id IdentityID, hint int64, now time.Time) error {
	tx.requireOpen()
	ident := tx.lookupIdentity(id)
	if ident == nil {
		return &UnknownIdentityError{ID: id}
	}
	if hint <= ident.EditionHint {
		return nil
	}
	before := ident.Clone()
	prevHint := ident.EditionHint
	ident.EditionHint = hint
	ident.LastChanged = now
	ident.VersionID = uuid.New()
	tx.undo = append(tx.undo, func() {
		ident.EditionHint = prevHint
		ident.LastChanged = before.LastChanged
		ident.VersionID = before.VersionID
	})
	tx.record(Identities, before, ident.Clone())
	return nil
}

// SetIdentityEdition advances id's fetched edition and fetch state,
// after an attempted retrieval (successful or parse-failed). Edition
// may never decrease: a fetch result below the current edition is
// rejected rather than silently ignored, since the importer decides
// whether a re-fetch was even worth attempting. Re-applying the current
// edition is accepted.
func (tx *Tx) SetIdentityEdition(id IdentityID, edition int64, state FetchState, now time.Time) error {
	tx.requireOpen()
	ident := tx.lookupIdentity(id)
	if ident == nil {
		return &UnknownIdentityError{ID: id}
	}
	if ident.FetchState != NotFetched && edition < ident.Edition {
		return NewValidationError("identity %s edition %d is not newer than current edition %d", id, edition, ident.Edition)
	}
	before := ident.Clone()
	prev := *ident
	ident.Edition = edition
	ident.FetchState = state
	ident.LastFetched = now
	if edition > ident.EditionHint {
		ident.EditionHint = edition
	}
	ident.VersionID = uuid.New()
	tx.undo = append(tx.undo, func() { *ident = prev })
	tx.record(Identities, before, ident.Clone())
	return nil
}

// SetIdentityAttributes applies a freshly fetched edition's published
// attributes. Once a non-nil nickname has been set it is immutable:
// a later edition claiming a different nickname is rejected.
func (tx *Tx) SetIdentityAttributes(id IdentityID, nickname *string, publishesTrustList bool,
	contexts map[string]struct{}, properties map[string]string, now time.Time) error {
	tx.requireOpen()
	ident := tx.lookupIdentity(id)
	if ident == nil {
		return &UnknownIdentityError{ID: id}
	}
	if nickname != nil {
		if err := ValidateNickname(*nickname); err != nil {
			return err
		}
	}
	if ident.Nickname != nil && nickname != nil && *ident.Nickname != *nickname {
		return NewValidationError("identity %s already has nickname %q, rejecting new nickname %q", id, *ident.Nickname, *nickname)
	}
	if err := ValidateContexts(contexts); err != nil {
		return err
	}
	if err := ValidateProperties(properties); err != nil {
		return err
	}
	before := ident.Clone()
	prev := ident.Clone()
	if ident.Nickname == nil {
		ident.Nickname = nickname
	}
	ident.PublishesTrustList = publishesTrustList
	ident.Contexts = contexts
	ident.Properties = properties
	ident.LastChanged = now
	ident.VersionID = uuid.New()
	tx.undo = append(tx.undo, func() {
		ident.Nickname = prev.Nickname
		ident.PublishesTrustList = prev.PublishesTrustList
		ident.Contexts = prev.Contexts
		ident.Properties = prev.Properties
		ident.LastChanged = prev.LastChanged
		ident.VersionID = prev.VersionID
	})
	tx.record(Identities, before, ident.Clone())
	return nil
}

// DeleteOwnIdentity removes a locally owned identity and cascades to
// every Trust edge touching it and every Score rooted at it. Returns
// the trust edges removed, so the caller's score engine can recompute
// any other owner whose tree reached through this identity.
func (tx *Tx) DeleteOwnIdentity(id IdentityID) ([]*Trust, error) {
	tx.requireOpen()
	own, ok := tx.store.ownIdentities[id]
	if !ok {
		return nil, &UnknownIdentityError{ID: id}
	}
	beforeIdent := own.Identity.Clone()

	var removed []*Trust
	for _, t := range tx.TrustsOut(id) {
		removed = append(removed, t)
		mustNoErr(tx.DeleteTrust(t.Truster, t.Trustee))
	}
	for _, t := range tx.TrustsIn(id) {
		removed = append(removed, t)
		mustNoErr(tx.DeleteTrust(t.Truster, t.Trustee))
	}
	for _, sc := range tx.ScoresByOwner(id) {
		mustNoErr(tx.DeleteScore(sc.Owner, sc.Target))
	}

	delete(tx.store.ownIdentities, id)
	tx.undo = append(tx.undo, func() { tx.store.ownIdentities[id] = own })
	tx.record(Identities, beforeIdent.AsOwnIdentity(), nil)
	return removed, nil
}

func mustNoErr(err error) {
	if err != nil {
		panic(err)
	}
}

// UpsertTrust creates or updates Trust(truster, trustee). trustee is
// stubbed into existence if unknown (§4.3(iii)).
func (tx *Tx) UpsertTrust(truster, trustee IdentityID, value int, comment string, trusterEdition int64, now time.Time) (*Trust, error) {
	tx.requireOpen()
	if truster == trustee {
		return nil, NewValidationError("identity %s cannot trust itself", truster)
	}
	if err := ValidateTrustValue(value); err != nil {
		return nil, err
	}
	if err := ValidateTrustComment(comment); err != nil {
		return nil, err
	}
	if !tx.IdentityExists(truster) {
		return nil, &UnknownIdentityError{ID: truster}
	}
	if _, err := tx.EnsureStubIdentity(trustee, "", now); err != nil {
		return nil, err
	}

	key := trustKey{truster, trustee}
	existing, existed := tx.store.trusts[key]
	var before *Trust
	if existed {
		before = existing.Clone()
	}

	t := &Trust{
		Truster:        truster,
		Trustee:        trustee,
		Value:          value,
		Comment:        comment,
		TrusterEdition: trusterEdition,
		LastChanged:    now,
		VersionID:      uuid.New(),
	}
	tx.store.trusts[key] = t
	if tx.store.trustsOut[truster] == nil {
		tx.store.trustsOut[truster] = make(map[IdentityID]struct{})
	}
	tx.store.trustsOut[truster][trustee] = struct{}{}
	if tx.store.trustsIn[trustee] == nil {
		tx.store.trustsIn[trustee] = make(map[IdentityID]struct{})
	}
	tx.store.trustsIn[trustee][truster] = struct{}{}

	tx.undo = append(tx.undo, func() {
		if existed {
			tx.store.trusts[key] = existing
		} else {
			delete(tx.store.trusts, key)
			delete(tx.store.trustsOut[truster], trustee)
			delete(tx.store.trustsIn[trustee], truster)
		}
	})
	tx.record(Trusts, before, t.Clone())
	return t.Clone(), nil
}

// DeleteTrust removes Trust(truster, trustee). Identities and existing
// Score rows are left untouched; the score engine is responsible for
// recomputing any tree this edge participated in.
func (tx *Tx) DeleteTrust(truster, trustee IdentityID) error {
	tx.requireOpen()
	key := trustKey{truster, trustee}
	t, ok := tx.store.trusts[key]
	if !ok {
		return &UnknownTrustError{Truster: truster, Trustee: trustee}
	}
	before := t.Clone()
	delete(tx.store.trusts, key)
	delete(tx.store.trustsOut[truster], trustee)
	delete(tx.store.trustsIn[trustee], truster)
	tx.undo = append(tx.undo, func() {
		tx.store.trusts[key] = t
		if tx.store.trustsOut[truster] == nil {
			tx.store.trustsOut[truster] = make(map[IdentityID]struct{})
		}
		tx.store.trustsOut[truster][trustee] = struct{}{}
		if tx.store.trustsIn[trustee] == nil {
			tx.store.trustsIn[trustee] = make(map[IdentityID]struct{})
		}
		tx.store.trustsIn[trustee][truster] = struct{}{}
	})
	tx.record(Trusts, before, nil)
	return nil
}

// UpsertScore creates or overwrites Score(owner, target). Called only
// by the score engine, inside the same transaction as the trust change
// that produced the new value.
func (tx *Tx) UpsertScore(owner, target IdentityID, value, rank, capacity int, now time.Time) (*Score, error) {
	tx.requireOpen()
	key := scoreKey{owner, target}
	existing, existed := tx.store.scores[key]
	var before *Score
	if existed {
		before = existing.Clone()
	}
	sc := &Score{
		Owner:       owner,
		Target:      target,
		Value:       value,
		Rank:        rank,
		Capacity:    capacity,
		LastChanged: now,
		VersionID:   uuid.New(),
	}
	tx.store.scores[key] = sc
	if tx.store.scoresByOwner[owner] == nil {
		tx.store.scoresByOwner[owner] = make(map[IdentityID]struct{})
	}
	tx.store.scoresByOwner[owner][target] = struct{}{}
	if tx.store.scoresByTarget[target] == nil {
		tx.store.scoresByTarget[target] = make(map[IdentityID]struct{})
	}
	tx.store.scoresByTarget[target][owner] = struct{}{}

	tx.undo = append(tx.undo, func() {
		if existed {
			tx.store.scores[key] = existing
		} else {
			delete(tx.store.scores, key)
			delete(tx.store.scoresByOwner[owner], target)
			delete(tx.store.scoresByTarget[target], owner)
		}
	})
	tx.record(Scores, before, sc.Clone())
	return sc.Clone(), nil
}

// DeleteScore removes Score(owner, target), because target is no
// longer reachable in owner's trust tree.
func (tx *Tx) DeleteScore(owner, target IdentityID) error {
	tx.requireOpen()
	key := scoreKey{owner, target}
	sc, ok := tx.store.scores[key]
	if !ok {
		return &NotInTrustTreeError{Owner: owner, Target: target}
	}
	before := sc.Clone()
	delete(tx.store.scores, key)
	delete(tx.store.scoresByOwner[owner], target)
	delete(tx.store.scoresByTarget[target], owner)
	tx.undo = append(tx.undo, func() {
		tx.store.scores[key] = sc
		if tx.store.scoresByOwner[owner] == nil {
			tx.store.scoresByOwner[owner] = make(map[IdentityID]struct{})
		}
		tx.store.scoresByOwner[owner][target] = struct{}{}
		if tx.store.scoresByTarget[target] == nil {
			tx.store.scoresByTarget[target] = make(map[IdentityID]struct{})
		}
		tx.store.scoresByTarget[target][owner] = struct{}{}
	})
	tx.record(Scores, before, nil)
	return nil
}
