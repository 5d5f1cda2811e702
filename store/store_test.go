package store

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"trustgraph/engine/actors"
)

func validID(b byte) IdentityID {
	var raw [32]byte
	raw[0] = b
	return base64.RawURLEncoding.EncodeToString(raw[:])
}

func TestValidateIdentityID(t *testing.T) {
	require.NoError(t, ValidateIdentityID(validID(1)))
	require.Error(t, ValidateIdentityID("too-short"))
	require.Error(t, ValidateIdentityID("not@valid@base64!!!!!!!!!!!!!!!!!!!!!!!!!!!"))
}

func TestValidateTrustValueBoundaries(t *testing.T) {
	require.NoError(t, ValidateTrustValue(-100))
	require.NoError(t, ValidateTrustValue(100))
	require.NoError(t, ValidateTrustValue(0))
	require.Error(t, ValidateTrustValue(-101))
	require.Error(t, ValidateTrustValue(101))
}

func TestValidateNicknameBoundaries(t *testing.T) {
	require.Error(t, ValidateNickname(""))
	ok30 := "abcdefghij0123456789abcdefghij"[:30]
	require.NoError(t, ValidateNickname(ok30))
	require.Error(t, ValidateNickname(ok30+"x"))
	require.Error(t, ValidateNickname("has space!"))
}

func TestValidateContextsBoundaries(t *testing.T) {
	thirtyTwo := map[string]struct{}{}
	for i := 0; i < 32; i++ {
		thirtyTwo[string(rune('a'+i%26))+string(rune('A'+i/26))] = struct{}{}
	}
	require.NoError(t, ValidateContexts(thirtyTwo))
	thirtyThree := map[string]struct{}{}
	for k := range thirtyTwo {
		thirtyThree[k] = struct{}{}
	}
	thirtyThree["oneMore"] = struct{}{}
	require.Error(t, ValidateContexts(thirtyThree))
}

func TestIdentityEqualIgnoresTimestampsAndVersionID(t *testing.T) {
	a := &Identity{ID: validID(1), RequestURI: "uri", Edition: 1, Contexts: map[string]struct{}{}, Properties: map[string]string{}}
	b := a.Clone()
	b.CreatedAt = time.Now()
	b.LastChanged = time.Now().Add(time.Hour)
	b.VersionID = [16]byte{1}
	require.True(t, a.Equal(b))
}

func TestScoreEqualIgnoresTimestamps(t *testing.T) {
	a := &Score{Owner: validID(1), Target: validID(2), Value: 50, Rank: 1, Capacity: 40}
	b := a.Clone()
	b.LastChanged = time.Now()
	b.VersionID = [16]byte{9}
	require.True(t, a.Equal(b))
	b.Value = 51
	require.False(t, a.Equal(b))
}

func TestCloneSeversSharedState(t *testing.T) {
	orig := &Identity{
		ID:         validID(1),
		Contexts:   map[string]struct{}{"foo": {}},
		Properties: map[string]string{"k": "v"},
	}
	clone := orig.Clone()
	clone.Contexts["bar"] = struct{}{}
	clone.Properties["k"] = "changed"
	require.Len(t, orig.Contexts, 1)
	require.Equal(t, "v", orig.Properties["k"])
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New()
}

func TestCreateOwnIdentityAndGet(t *testing.T) {
	s := newTestStore(t)
	id := validID(1)
	tx := s.Begin()
	own, err := tx.CreateOwnIdentity(id, "req", "insert", time.Now())
	require.NoError(t, err)
	require.Equal(t, id, own.ID)
	tx.Commit()

	got, err := s.GetOwnIdentity(id)
	require.NoError(t, err)
	require.Equal(t, "insert", got.InsertURI)

	_, err = s.GetOwnIdentity(validID(2))
	require.Error(t, err)
	var unknown *UnknownIdentityError
	require.ErrorAs(t, err, &unknown)
}

func TestUpsertTrustRejectsSelfTrust(t *testing.T) {
	s := newTestStore(t)
	id := validID(1)
	tx := s.Begin()
	_, err := tx.CreateOwnIdentity(id, "", "", time.Now())
	require.NoError(t, err)
	_, err = tx.UpsertTrust(id, id, 50, "", 0, time.Now())
	require.Error(t, err)
	tx.Commit()
}

func TestUpsertTrustRejectsOutOfRangeValue(t *testing.T) {
	s := newTestStore(t)
	a := validID(1)
	tx := s.Begin()
	_, err := tx.CreateOwnIdentity(a, "", "", time.Now())
	require.NoError(t, err)
	_, err = tx.UpsertTrust(a, validID(2), 101, "", 0, time.Now())
	require.Error(t, err)
	tx.Commit()
}

func TestUpsertTrustStubsTrustee(t *testing.T) {
	s := newTestStore(t)
	a, b := validID(1), validID(2)
	tx := s.Begin()
	_, err := tx.CreateOwnIdentity(a, "", "", time.Now())
	require.NoError(t, err)
	_, err = tx.UpsertTrust(a, b, 50, "hello", 0, time.Now())
	require.NoError(t, err)
	tx.Commit()

	ident, err := s.GetIdentity(b)
	require.NoError(t, err)
	require.Equal(t, NotFetched, ident.FetchState)
}

func TestUpsertTrustRequiresExistingTruster(t *testing.T) {
	s := newTestStore(t)
	tx := s.Begin()
	_, err := tx.UpsertTrust(validID(1), validID(2), 10, "", 0, time.Now())
	require.Error(t, err)
	tx.Rollback()
}

func TestRollbackUndoesEveryMutation(t *testing.T) {
	s := newTestStore(t)
	a, b := validID(1), validID(2)
	tx := s.Begin()
	_, err := tx.CreateOwnIdentity(a, "", "", time.Now())
	require.NoError(t, err)
	_, err = tx.UpsertTrust(a, b, 30, "", 0, time.Now())
	require.NoError(t, err)
	tx.Rollback()

	_, err = s.GetOwnIdentity(a)
	require.Error(t, err)
	_, err = s.GetIdentity(b)
	require.Error(t, err)
}

func TestNicknameImmutableOnceSet(t *testing.T) {
	s := newTestStore(t)
	a := validID(1)
	tx := s.Begin()
	_, err := tx.EnsureStubIdentity(a, "", time.Now())
	require.NoError(t, err)
	first := "alice"
	require.NoError(t, tx.SetIdentityAttributes(a, &first, true, nil, nil, time.Now()))
	second := "mallory"
	err = tx.SetIdentityAttributes(a, &second, true, nil, nil, time.Now())
	require.Error(t, err)
	tx.Commit()

	ident, err := s.GetIdentity(a)
	require.NoError(t, err)
	require.Equal(t, "alice", *ident.Nickname)
}

func TestDeleteOwnIdentityCascades(t *testing.T) {
	s := newTestStore(t)
	a, b := validID(1), validID(2)
	tx := s.Begin()
	_, err := tx.CreateOwnIdentity(a, "", "", time.Now())
	require.NoError(t, err)
	_, err = tx.UpsertTrust(a, b, 20, "", 0, time.Now())
	require.NoError(t, err)
	_, err = tx.UpsertScore(a, b, 20, 1, 40, time.Now())
	require.NoError(t, err)
	tx.Commit()

	tx2 := s.Begin()
	removed, err := tx2.DeleteOwnIdentity(a)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	tx2.Commit()

	_, err = s.GetTrust(a, b)
	require.Error(t, err)
	_, err = s.GetScore(a, b)
	require.Error(t, err)
}

func TestEditionMayOnlyIncrease(t *testing.T) {
	s := newTestStore(t)
	a := validID(1)
	tx := s.Begin()
	_, err := tx.EnsureStubIdentity(a, "", time.Now())
	require.NoError(t, err)
	require.NoError(t, tx.SetIdentityEdition(a, 0, Fetched, time.Now()))
	require.NoError(t, tx.SetIdentityEdition(a, 5, Fetched, time.Now()))
	require.NoError(t, tx.SetIdentityEdition(a, 5, Fetched, time.Now()))
	err = tx.SetIdentityEdition(a, 4, Fetched, time.Now())
	require.Error(t, err)
	tx.Commit()

	ident, err := s.GetIdentity(a)
	require.NoError(t, err)
	require.EqualValues(t, 5, ident.Edition)
}

func TestTrustsOutOrderedLexicographically(t *testing.T) {
	s := newTestStore(t)
	a := validID(1)
	tx := s.Begin()
	_, err := tx.CreateOwnIdentity(a, "", "", time.Now())
	require.NoError(t, err)
	ids := []IdentityID{validID(5), validID(3), validID(9), validID(1)}
	for _, id := range ids {
		if id == a {
			continue
		}
		_, err := tx.UpsertTrust(a, id, 10, "", 0, time.Now())
		require.NoError(t, err)
	}
	tx.Commit()

	out := s.TrustsOut(a)
	for i := 1; i < len(out); i++ {
		require.True(t, out[i-1].Trustee < out[i].Trustee)
	}
}

func TestCommitHookFiresInApplicationOrder(t *testing.T) {
	s := newTestStore(t)
	var kinds []EventSourceKind
	unregister := s.OnCommit(func(changes []EntityChange) {
		for _, c := range changes {
			kinds = append(kinds, c.Kind)
		}
	})
	defer unregister()

	a, b := validID(1), validID(2)
	tx := s.Begin()
	_, err := tx.CreateOwnIdentity(a, "", "", time.Now())
	require.NoError(t, err)
	_, err = tx.UpsertTrust(a, b, 10, "", 0, time.Now())
	require.NoError(t, err)
	_, err = tx.UpsertScore(a, b, 10, 1, 40, time.Now())
	require.NoError(t, err)
	tx.Commit()

	require.Equal(t, []EventSourceKind{Identities, Identities, Trusts, Scores}, kinds)
}

func TestCommitHookDoesNotFireOnRollback(t *testing.T) {
	s := newTestStore(t)
	fired := false
	s.OnCommit(func(changes []EntityChange) { fired = true })

	tx := s.Begin()
	_, err := tx.CreateOwnIdentity(validID(1), "", "", time.Now())
	require.NoError(t, err)
	tx.Rollback()

	require.False(t, fired)
}

func TestPersistLoadRoundTrip(t *testing.T) {
	conf := viper.New()
	conf.SetDefault("rootDir", t.TempDir()+"/")
	actors.SetConfig(conf)

	s := newTestStore(t)
	a, b := validID(1), validID(2)
	tx := s.Begin()
	_, err := tx.CreateOwnIdentity(a, "req", "insert", time.Now())
	require.NoError(t, err)
	_, err = tx.UpsertTrust(a, b, 30, "hi", 1, time.Now())
	require.NoError(t, err)
	_, err = tx.UpsertScore(a, b, 30, 1, 40, time.Now())
	require.NoError(t, err)
	tx.Commit()

	require.NoError(t, s.Persist())

	reloaded := New()
	require.NoError(t, reloaded.Load())

	idents := reloaded.AllIdentities()
	require.Len(t, idents, 2)
	trusts := reloaded.AllTrusts()
	require.Len(t, trusts, 1)
	require.True(t, trusts[0].Equal(s.AllTrusts()[0]))
	scores := reloaded.AllScores()
	require.Len(t, scores, 1)
	require.True(t, scores[0].Equal(s.AllScores()[0]))
}
