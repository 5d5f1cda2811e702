package rpc

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"trustgraph/scoring"
	"trustgraph/store"
	"trustgraph/subscription"
)

func dispID(b byte) store.IdentityID {
	var raw [32]byte
	raw[0] = b
	return base64.RawURLEncoding.EncodeToString(raw[:])
}

func newTestDispatcher(t *testing.T, deliver DeliverFunc) (*Dispatcher, *store.Store, *subscription.Manager) {
	t.Helper()
	s := store.New()
	engine := scoring.NewEngine(s, scoring.NewConfig())
	manager := subscription.NewManager(s, 5)
	t.Cleanup(manager.Close)
	d := NewDispatcher(s, engine, manager, deliver)
	return d, s, manager
}

func TestDispatcherCreateIdentityAndSetTrust(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil)

	createResp, err := d.CreateIdentity(CreateIdentityRequest{RequestURI: "req", InsertURI: "insert"})
	require.NoError(t, err)
	require.NotNil(t, createResp.OwnIdentity)

	a := dispID(10)
	setResp, err := d.SetTrust(SetTrustRequest{Truster: createResp.OwnIdentity.ID, Trustee: a, Value: 60})
	require.NoError(t, err)
	require.Equal(t, 60, setResp.Trust.Value)

	scoreResp, err := d.GetScore(GetScoreRequest{Owner: createResp.OwnIdentity.ID, Target: a})
	require.NoError(t, err)
	require.Equal(t, 40, scoreResp.Score.Capacity)
}

func TestDispatcherGetTrustAndIdentityMisses(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil)

	_, err := d.GetTrust(GetTrustRequest{Truster: dispID(1), Trustee: dispID(2)})
	require.Error(t, err)

	_, err = d.GetIdentity(GetIdentityRequest{ID: dispID(1)})
	require.Error(t, err)
}

func TestDispatcherRemoveTrust(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil)
	createResp, err := d.CreateIdentity(CreateIdentityRequest{RequestURI: "req", InsertURI: "insert"})
	require.NoError(t, err)
	a := dispID(10)
	_, err = d.SetTrust(SetTrustRequest{Truster: createResp.OwnIdentity.ID, Trustee: a, Value: 10})
	require.NoError(t, err)

	require.NoError(t, d.RemoveTrust(RemoveTrustRequest{Truster: createResp.OwnIdentity.ID, Trustee: a}))
	_, err = d.GetTrust(GetTrustRequest{Truster: createResp.OwnIdentity.ID, Trustee: a})
	require.Error(t, err)
}

// TestDispatcherSubscribeDeliversThroughHandle exercises the full loop
// a real caller takes: Subscribe under an opaque client handle, commit
// a change, run the deployer, and see it arrive via DeliverFunc keyed
// by that same handle rather than the subscription engine's internal
// uuid.
func TestDispatcherSubscribeDeliversThroughHandle(t *testing.T) {
	var delivered []NotificationMessage
	deliver := func(handle string, msg NotificationMessage) error {
		require.Equal(t, "caller-handle", handle)
		delivered = append(delivered, msg)
		return nil
	}
	d, _, manager := newTestDispatcher(t, deliver)

	_, err := d.Subscribe(SubscribeRequest{ClientID: "caller-handle", Kind: store.Identities})
	require.NoError(t, err)

	_, err = d.CreateIdentity(CreateIdentityRequest{RequestURI: "req", InsertURI: "insert"})
	require.NoError(t, err)

	deployer := subscription.NewDeployer(manager, d)
	deployer.Run(make(chan struct{}))

	require.NotEmpty(t, delivered)
	var sawIdentityChanged bool
	for _, msg := range delivered {
		if msg.Notification.Type == subscription.IdentityChanged {
			sawIdentityChanged = true
		}
	}
	require.True(t, sawIdentityChanged)
}

func TestDispatcherDeliverErrorsWithoutTransport(t *testing.T) {
	d, _, manager := newTestDispatcher(t, nil)
	clientID := manager.RegisterClient()
	err := d.Deliver(clientID, &subscription.Notification{Type: subscription.BeginSync})
	require.Error(t, err)
}

func TestDispatcherAckIsIdempotentForUnknownClient(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil)
	d.Ack(AckRequest{ClientID: "never-subscribed", Index: 5})
}
