package rpc

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"trustgraph/scoring"
	"trustgraph/store"
	"trustgraph/subscription"
)

// DeliverFunc is how a Dispatcher actually gets a notification to a
// caller-chosen client handle; cmd/wotctl wires this to its own
// transport (stdout, a websocket, whatever the caller needs).
type DeliverFunc func(clientHandle string, msg NotificationMessage) error

// Dispatcher is the single entry point external callers use: every
// exported method here is one RPC message, translating between the
// wire-facing request/response DTOs and the store/scoring/subscription
// packages' own types.
type Dispatcher struct {
	store   *store.Store
	engine  *scoring.Engine
	manager *subscription.Manager
	deliver DeliverFunc

	mu      sync.Mutex
	clients map[string]uuid.UUID
}

// NewDispatcher wires a Dispatcher to its dependencies. deliver may be
// nil until the caller's transport is ready; Deliver then reports a
// transient error, which the subscription deployer retries on its next
// run without counting it toward eviction.
func NewDispatcher(s *store.Store, engine *scoring.Engine, manager *subscription.Manager, deliver DeliverFunc) *Dispatcher {
	return &Dispatcher{
		store:   s,
		engine:  engine,
		manager: manager,
		deliver: deliver,
		clients: make(map[string]uuid.UUID),
	}
}

// Deliver implements subscription.Transport by resolving the
// subscription engine's internal client uuid back to the caller's
// handle and dispatching through DeliverFunc. A missing handle or an
// unconfigured transport says nothing about whether the client itself
// rejected the notification, so both are reported as transient
// (design §4.4: only an explicit failure response counts toward
// eviction); DeliverFunc's own error is passed through as-is, since a
// concrete transport is expected to return subscription.NewTransientError
// for I/O failures and a plain error for an explicit client rejection.
func (d *Dispatcher) Deliver(clientID uuid.UUID, n *subscription.Notification) error {
	d.mu.Lock()
	var handle string
	for h, id := range d.clients {
		if id == clientID {
			handle = h
			break
		}
	}
	d.mu.Unlock()
	if handle == "" {
		return subscription.NewTransientError(fmt.Errorf("rpc: no client handle registered for %s", clientID))
	}
	if d.deliver == nil {
		return subscription.NewTransientError(fmt.Errorf("rpc: no transport configured"))
	}
	return d.deliver(handle, NotificationMessage{Notification: n})
}

func (d *Dispatcher) resolveClient(handle string) uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.clients[handle]; ok {
		return id
	}
	id := d.manager.RegisterClient()
	d.clients[handle] = id
	return id
}

func (d *Dispatcher) CreateIdentity(req CreateIdentityRequest) (*CreateIdentityResponse, error) {
	own, err := d.engine.CreateOwnIdentity(req.RequestURI, req.InsertURI)
	if err != nil {
		return nil, err
	}
	return &CreateIdentityResponse{OwnIdentity: own}, nil
}

func (d *Dispatcher) SetTrust(req SetTrustRequest) (*SetTrustResponse, error) {
	t, err := d.engine.SetTrust(req.Truster, req.Trustee, req.Value, req.Comment, req.TrusterEdition)
	if err != nil {
		return nil, err
	}
	return &SetTrustResponse{Trust: t}, nil
}

func (d *Dispatcher) RemoveTrust(req RemoveTrustRequest) error {
	return d.engine.RemoveTrust(req.Truster, req.Trustee)
}

func (d *Dispatcher) GetIdentity(req GetIdentityRequest) (*GetIdentityResponse, error) {
	ident, err := d.store.GetIdentity(req.ID)
	if err != nil {
		return nil, err
	}
	return &GetIdentityResponse{Identity: ident}, nil
}

func (d *Dispatcher) GetScore(req GetScoreRequest) (*GetScoreResponse, error) {
	sc, err := d.store.GetScore(req.Owner, req.Target)
	if err != nil {
		return nil, err
	}
	return &GetScoreResponse{Score: sc}, nil
}

func (d *Dispatcher) GetTrust(req GetTrustRequest) (*GetTrustResponse, error) {
	t, err := d.store.GetTrust(req.Truster, req.Trustee)
	if err != nil {
		return nil, err
	}
	return &GetTrustResponse{Trust: t}, nil
}

func (d *Dispatcher) Subscribe(req SubscribeRequest) (uuid.UUID, error) {
	clientID := d.resolveClient(string(req.ClientID))
	return d.manager.Subscribe(clientID, req.Kind)
}

func (d *Dispatcher) Unsubscribe(req UnsubscribeRequest) error {
	clientID := d.resolveClient(string(req.ClientID))
	return d.manager.Unsubscribe(clientID, req.Kind)
}

func (d *Dispatcher) Ack(req AckRequest) {
	clientID := d.resolveClient(string(req.ClientID))
	d.manager.Ack(clientID, req.Index)
}
