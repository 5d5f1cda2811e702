package scoring

import (
	"encoding/base64"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"trustgraph/store"
)

func id(b byte) store.IdentityID {
	var raw [32]byte
	raw[0] = b
	return base64.RawURLEncoding.EncodeToString(raw[:])
}

func newEngine() (*store.Store, *Engine) {
	s := store.New()
	e := NewEngine(s, NewConfig())
	return s, e
}

// TestTwoHopPropagation is spec scenario 1: O -> A (+100) -> B (+50)
// yields rank(O,A)=1 capacity(O,A)=40, rank(O,B)=2 capacity(O,B)=16,
// value(O,B)=20.
func TestTwoHopPropagation(t *testing.T) {
	s, e := newEngine()
	own, err := e.CreateOwnIdentity("o-req", "o-insert")
	require.NoError(t, err)
	o := own.ID
	a := id(10)
	b := id(20)

	_, err = e.SetTrust(o, a, 100, "", 0)
	require.NoError(t, err)
	_, err = e.ImportEdition(a, 1, true, nil, []TrustListEntry{{Trustee: b, Value: 50}})
	require.NoError(t, err)

	scoreA, err := s.GetScore(o, a)
	require.NoError(t, err)
	require.Equal(t, 1, scoreA.Rank)
	require.Equal(t, 40, scoreA.Capacity)

	scoreB, err := s.GetScore(o, b)
	require.NoError(t, err)
	require.Equal(t, 2, scoreB.Rank)
	require.Equal(t, 16, scoreB.Capacity)
	require.Equal(t, 20, scoreB.Value)
}

// TestDistrustOverridesTransitivity is spec scenario 2: after scenario
// 1, O directly distrusts B; the owner override replaces B's value and
// forces its outgoing capacity to zero.
func TestDistrustOverridesTransitivity(t *testing.T) {
	s, e := newEngine()
	own, err := e.CreateOwnIdentity("o-req", "o-insert")
	require.NoError(t, err)
	o := own.ID
	a := id(10)
	b := id(20)
	c := id(30)

	_, err = e.SetTrust(o, a, 100, "", 0)
	require.NoError(t, err)
	_, err = e.ImportEdition(a, 1, true, nil, []TrustListEntry{{Trustee: b, Value: 50}})
	require.NoError(t, err)
	_, err = e.ImportEdition(b, 1, true, nil, []TrustListEntry{{Trustee: c, Value: 80}})
	require.NoError(t, err)

	_, err = e.SetTrust(o, b, -30, "", 0)
	require.NoError(t, err)

	scoreB, err := s.GetScore(o, b)
	require.NoError(t, err)
	require.Equal(t, -3000, scoreB.Value)
	require.Equal(t, 1, scoreB.Rank)
	require.Equal(t, 0, scoreB.Capacity)

	// B's outgoing trust to C no longer contributes to O's tree: C is
	// only reachable through B, whose capacity is now forced to zero.
	_, err = s.GetScore(o, c)
	require.Error(t, err)
}

func TestOwnScoreIsSelfSentinel(t *testing.T) {
	s, e := newEngine()
	own, err := e.CreateOwnIdentity("req", "insert")
	require.NoError(t, err)

	sc, err := s.GetScore(own.ID, own.ID)
	require.NoError(t, err)
	require.Equal(t, 0, sc.Rank)
	require.Equal(t, 100, sc.Capacity)
	require.Equal(t, store.OwnerScoreSentinel, sc.Value)
}

func TestRemoveTrustPrunesUnreachableScores(t *testing.T) {
	s, e := newEngine()
	own, err := e.CreateOwnIdentity("req", "insert")
	require.NoError(t, err)
	o := own.ID
	a := id(10)

	_, err = e.SetTrust(o, a, 60, "", 0)
	require.NoError(t, err)
	_, err = s.GetScore(o, a)
	require.NoError(t, err)

	require.NoError(t, e.RemoveTrust(o, a))
	_, err = s.GetScore(o, a)
	require.Error(t, err)
}

// TestFullRecomputeEquivalence is spec scenario 6: a fresh full
// recompute on a randomly built graph must agree exactly with what the
// incremental path already maintained.
func TestFullRecomputeEquivalence(t *testing.T) {
	s, e := newEngine()
	own, err := e.CreateOwnIdentity("req", "insert")
	require.NoError(t, err)
	o := own.ID

	rng := rand.New(rand.NewSource(42))
	const nIdentities = 40
	const nEdges = 150

	ids := make([]store.IdentityID, 0, nIdentities)
	ids = append(ids, o)
	for i := 1; i < nIdentities; i++ {
		ids = append(ids, id(byte(i)))
	}

	// Seed identities via stub-creating trust edges from the owner so
	// everyone exists before random edges are added between them.
	for i := 1; i < nIdentities; i++ {
		_, err := e.SetTrust(o, ids[i], 10, "", 0)
		require.NoError(t, err)
	}

	for i := 0; i < nEdges; i++ {
		truster := ids[rng.Intn(nIdentities)]
		trustee := ids[rng.Intn(nIdentities)]
		if truster == trustee {
			continue
		}
		value := rng.Intn(201) - 100
		if value == 0 {
			value = 1
		}
		_, err := e.SetTrust(truster, trustee, value, "", 0)
		require.NoError(t, err)
	}

	before := s.ScoresByOwner(o)

	require.NoError(t, e.FullRecompute())
	after := s.ScoresByOwner(o)

	require.Equal(t, len(before), len(after))
	for i := range before {
		require.True(t, before[i].Equal(after[i]), "score for %s diverged between incremental and full recompute", before[i].Target)
	}
}

func TestImportEditionIsNoopOnIdenticalTrustList(t *testing.T) {
	s, e := newEngine()
	own, err := e.CreateOwnIdentity("req", "insert")
	require.NoError(t, err)
	o := own.ID
	a := id(10)

	entries := []TrustListEntry{{Trustee: a, Value: 40, Comment: "x"}}
	res, err := e.ImportEdition(o, 1, true, nil, entries)
	require.NoError(t, err)
	require.Equal(t, 1, res.Created)

	res2, err := e.ImportEdition(o, 1, true, nil, entries)
	require.NoError(t, err)
	require.Equal(t, 0, res2.Created)
	require.Equal(t, 0, res2.Updated)
	require.Equal(t, 0, res2.Deleted)

	trust, err := s.GetTrust(o, a)
	require.NoError(t, err)
	require.Equal(t, 40, trust.Value)
}
