package subscription

import (
	"errors"

	"github.com/google/uuid"

	"trustgraph/engine/library"
)

// Deployer drives delivery: each run walks every client's pending
// queue in index order and hands each notification to Transport,
// stopping at a client's first failure (delivery must stay in order)
// and counting failures toward eviction. Meant to be handed to
// actors.NewTickerJob as its Work, at the configured
// subscription-delay-ms interval.
type Deployer struct {
	manager   *Manager
	transport Transport
}

// NewDeployer wires a Deployer to manager and transport.
func NewDeployer(manager *Manager, transport Transport) *Deployer {
	return &Deployer{manager: manager, transport: transport}
}

func (d *Deployer) Run(stop <-chan struct{}) {
	d.manager.mu.Lock()
	clientIDs := make([]uuid.UUID, 0, len(d.manager.clients))
	for id := range d.manager.clients {
		clientIDs = append(clientIDs, id)
	}
	d.manager.mu.Unlock()

	for _, id := range clientIDs {
		select {
		case <-stop:
			return
		default:
		}
		d.deliverTo(id)
	}
}

func (d *Deployer) deliverTo(clientID uuid.UUID) {
	d.manager.mu.Lock()
	cs, ok := d.manager.clients[clientID]
	if !ok {
		d.manager.mu.Unlock()
		return
	}
	toSend := pendingSince(cs)
	lastAck := cs.lastAckIndex
	d.manager.mu.Unlock()

	for _, n := range toSend {
		if n.Index <= lastAck {
			continue
		}
		if err := d.transport.Deliver(clientID, n); err != nil {
			d.onFailure(clientID, err)
			return
		}
	}
}

// onFailure stops delivery to clientID for this run. A TransientError —
// a transport disconnect rather than the client actually rejecting the
// notification — just retries on the next run and does not count
// toward eviction (design §4.4: the 5-strike limit is for explicit
// failure responses only).
func (d *Deployer) onFailure(clientID uuid.UUID, err error) {
	d.manager.mu.Lock()
	defer d.manager.mu.Unlock()
	cs, ok := d.manager.clients[clientID]
	if !ok {
		return
	}

	var transient *TransientError
	if errors.As(err, &transient) {
		library.Log("delivery to client "+clientID.String()+" deferred: "+err.Error(), 2)
		return
	}

	cs.FailureCount++
	library.Log("delivery to client "+clientID.String()+" failed: "+err.Error(), 2)
	if cs.FailureCount >= d.manager.FailureLimit {
		library.Log("client "+clientID.String()+" exceeded failure limit, dropping", 2)
		delete(d.manager.clients, clientID)
		delete(d.manager.nextIdx, clientID)
	}
}
