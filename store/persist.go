package store

import (
	"encoding/json"

	"trustgraph/engine/actors"
)

// snapshot is the on-disk shape of the whole store: every Identity,
// OwnIdentity, Trust and Score row, restored verbatim on the next
// start rather than recomputed (only scores are ever derived; this
// snapshot still carries them, since recomputing from a cold store
// with no capacity-forcing history would not reproduce excluded nodes
// correctly without replaying every trust edge in its original
// order).
type snapshot struct {
	Identities    []*Identity    `json:"identities"`
	OwnIdentities []*OwnIdentity `json:"ownIdentities"`
	Trusts        []*Trust       `json:"trusts"`
	Scores        []*Score       `json:"scores"`
}

const persistComponent = "store"
const persistName = "snapshot"

// Persist writes the whole store to its single on-disk database file,
// the design's "persisted state" concern (§ ambient stack), via the
// same remove-then-recreate flat file mechanism the rest of the
// engine uses.
func (s *Store) Persist() error {
	snap := snapshot{
		Identities:    s.AllIdentities(),
		OwnIdentities: s.AllOwnIdentities(),
		Trusts:        s.AllTrusts(),
		Scores:        s.AllScores(),
	}
	// AllIdentities merges own and remote; keep only the remote half
	// here, since OwnIdentities already carries the own half in its
	// fuller shape.
	remote := snap.Identities[:0]
	ownIDs := make(map[IdentityID]struct{}, len(snap.OwnIdentities))
	for _, o := range snap.OwnIdentities {
		ownIDs[o.ID] = struct{}{}
	}
	for _, ident := range snap.Identities {
		if _, isOwn := ownIDs[ident.ID]; !isOwn {
			remote = append(remote, ident)
		}
	}
	snap.Identities = remote

	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	actors.Write(persistComponent, persistName, b)
	return nil
}

// Load replaces s's contents with whatever was last persisted, or
// leaves s empty if nothing has been persisted yet. Meant to be
// called once, right after New(), before any other goroutine can see
// s.
func (s *Store) Load() error {
	f, ok := actors.Open(persistComponent, persistName)
	if !ok {
		return nil
	}
	defer f.Close()

	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ident := range snap.Identities {
		s.identities[ident.ID] = ident
	}
	for _, own := range snap.OwnIdentities {
		s.ownIdentities[own.ID] = own
	}
	for _, t := range snap.Trusts {
		key := trustKey{t.Truster, t.Trustee}
		s.trusts[key] = t
		if s.trustsOut[t.Truster] == nil {
			s.trustsOut[t.Truster] = make(map[IdentityID]struct{})
		}
		s.trustsOut[t.Truster][t.Trustee] = struct{}{}
		if s.trustsIn[t.Trustee] == nil {
			s.trustsIn[t.Trustee] = make(map[IdentityID]struct{})
		}
		s.trustsIn[t.Trustee][t.Truster] = struct{}{}
	}
	for _, sc := range snap.Scores {
		key := scoreKey{sc.Owner, sc.Target}
		s.scores[key] = sc
		if s.scoresByOwner[sc.Owner] == nil {
			s.scoresByOwner[sc.Owner] = make(map[IdentityID]struct{})
		}
		s.scoresByOwner[sc.Owner][sc.Target] = struct{}{}
		if s.scoresByTarget[sc.Target] == nil {
			s.scoresByTarget[sc.Target] = make(map[IdentityID]struct{})
		}
		s.scoresByTarget[sc.Target][sc.Owner] = struct{}{}
	}
	return nil
}
