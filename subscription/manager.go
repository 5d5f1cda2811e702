package subscription

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sasha-s/go-deadlock"

	"trustgraph/store"
)

// Transport is how the deployer actually gets a notification to a
// client; the rpc package's dispatcher implements it over whatever
// wire protocol the caller is using.
type Transport interface {
	Deliver(clientID uuid.UUID, n *Notification) error
}

type clientState struct {
	Client
	subscriptions map[store.EventSourceKind]uuid.UUID
	pending       []*Notification
	lastAckIndex  int64
}

// Manager owns every Client, Subscription and pending Notification,
// and the single monotonic index counter each client's stream is
// numbered from. It registers a commit hook on the store so every
// committed change is queued for delivery before the hook returns.
type Manager struct {
	mu deadlock.Mutex

	store          *store.Store
	unregisterHook func()

	clients map[uuid.UUID]*clientState
	nextIdx map[uuid.UUID]int64

	FailureLimit int
}

// NewManager wires a Manager to s, with failureLimit consecutive
// delivery failures before a client is dropped.
func NewManager(s *store.Store, failureLimit int) *Manager {
	m := &Manager{
		store:        s,
		clients:      make(map[uuid.UUID]*clientState),
		nextIdx:      make(map[uuid.UUID]int64),
		FailureLimit: failureLimit,
	}
	m.unregisterHook = s.OnCommit(m.onCommit)
	return m
}

// Close unregisters the store commit hook.
func (m *Manager) Close() {
	m.unregisterHook()
}

// RegisterClient creates a new Client with an empty subscription set.
func (m *Manager) RegisterClient() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.clients[id] = &clientState{
		Client:        Client{ID: id, CreatedAt: time.Now()},
		subscriptions: make(map[store.EventSourceKind]uuid.UUID),
	}
	return id
}

// Subscribe opens a Subscription for clientID on kind and enqueues a
// BeginSync/ObjectChanged*/EndSync snapshot of every entity of that
// kind currently in the store (design §4.4 step 1-3): the snapshot is
// one copy taken under the store's lock, so a concurrent write either
// lands entirely before or entirely after it, never straddling it; its
// entries are then stamped with one sync version as they are queued.
func (m *Manager) Subscribe(clientID uuid.UUID, kind store.EventSourceKind) (uuid.UUID, error) {
	m.mu.Lock()
	cs, ok := m.clients[clientID]
	if !ok {
		m.mu.Unlock()
		return uuid.Nil, fmt.Errorf("subscription: unknown client %s", clientID)
	}
	if existing, already := cs.subscriptions[kind]; already {
		m.mu.Unlock()
		return existing, nil
	}
	subID := uuid.New()
	cs.subscriptions[kind] = subID
	m.mu.Unlock()

	syncVersion := uuid.New()
	snapshot := m.snapshot(kind)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueueLocked(cs, subID, &Notification{Type: BeginSync, VersionID: syncVersion})
	for _, n := range snapshot {
		n.VersionID = syncVersion
		m.enqueueLocked(cs, subID, n)
	}
	m.enqueueLocked(cs, subID, &Notification{Type: EndSync, VersionID: syncVersion})
	return subID, nil
}

// Unsubscribe cancels clientID's subscription to kind; further commits
// to that kind stop being queued for it.
func (m *Manager) Unsubscribe(clientID uuid.UUID, kind store.EventSourceKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs, ok := m.clients[clientID]
	if !ok {
		return fmt.Errorf("subscription: unknown client %s", clientID)
	}
	delete(cs.subscriptions, kind)
	return nil
}

// Ack records that clientID has durably received every notification up
// to and including index, and resets its failure count — a successful
// round trip is evidence the client is alive.
func (m *Manager) Ack(clientID uuid.UUID, index int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs, ok := m.clients[clientID]
	if !ok {
		return
	}
	if index > cs.lastAckIndex {
		cs.lastAckIndex = index
	}
	cs.FailureCount = 0
	pruned := cs.pending[:0]
	for _, n := range cs.pending {
		if n.Index > cs.lastAckIndex {
			pruned = append(pruned, n)
		}
	}
	cs.pending = pruned
}

func (m *Manager) snapshot(kind store.EventSourceKind) []*Notification {
	var out []*Notification
	switch kind {
	case store.Identities:
		for _, ident := range m.store.AllIdentities() {
			out = append(out, &Notification{Type: IdentityChanged, IdentityNew: ident})
		}
	case store.Trusts:
		for _, t := range m.store.AllTrusts() {
			out = append(out, &Notification{Type: TrustChanged, TrustNew: t})
		}
	case store.Scores:
		for _, sc := range m.store.AllScores() {
			out = append(out, &Notification{Type: ScoreChanged, ScoreNew: sc})
		}
	}
	return out
}

// onCommit is the store's CommitHook: every change from a committed
// transaction is turned into a notification for every client
// subscribed to its kind, in the transaction's own application order
// (preserving the cross-kind ordering guarantee).
func (m *Manager) onCommit(changes []store.EntityChange) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range changes {
		for _, cs := range m.clients {
			subID, subscribed := cs.subscriptions[ch.Kind]
			if !subscribed {
				continue
			}
			m.enqueueLocked(cs, subID, changeToNotification(ch))
		}
	}
}

// changeToNotification carries both ch.Old and ch.New through to the
// Notification (design §4.4's ObjectChanged(old, new), §6's "serialized
// old/new"): a create leaves Old nil, a delete leaves New nil, and a
// modify populates both.
func changeToNotification(ch store.EntityChange) *Notification {
	switch ch.Kind {
	case store.Identities:
		n := &Notification{Type: IdentityChanged}
		if ch.Old != nil {
			n.IdentityOld = ch.Old.(*store.Identity)
		}
		if ch.New != nil {
			n.IdentityNew = ch.New.(*store.Identity)
		}
		return n
	case store.Trusts:
		n := &Notification{Type: TrustChanged}
		if ch.Old != nil {
			n.TrustOld = ch.Old.(*store.Trust)
		}
		if ch.New != nil {
			n.TrustNew = ch.New.(*store.Trust)
		}
		return n
	default:
		n := &Notification{Type: ScoreChanged}
		if ch.Old != nil {
			n.ScoreOld = ch.Old.(*store.Score)
		}
		if ch.New != nil {
			n.ScoreNew = ch.New.(*store.Score)
		}
		return n
	}
}

func (m *Manager) enqueueLocked(cs *clientState, subID uuid.UUID, n *Notification) {
	idx := m.nextIdx[cs.ID] + 1
	m.nextIdx[cs.ID] = idx
	n.ClientID = cs.ID
	n.SubscriptionID = subID
	n.Index = idx
	n.CreatedAt = time.Now()
	cs.pending = append(cs.pending, n)
}

// pendingSince returns cs's pending notifications with index greater
// than lastAckIndex, in ascending index order.
func pendingSince(cs *clientState) []*Notification {
	out := make([]*Notification, len(cs.pending))
	copy(out, cs.pending)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
