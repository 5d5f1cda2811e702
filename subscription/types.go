// Package subscription implements the notification engine (design
// §4.4): clients subscribe to one entity kind at a time, receive a
// BeginSync/ObjectChanged*/EndSync snapshot up front, and then a
// strictly increasing, at-least-once stream of further changes until
// they fail delivery too many times in a row.
package subscription

import (
	"time"

	"github.com/google/uuid"

	"trustgraph/store"
)

// NotificationType distinguishes a sync-bracket marker from an actual
// entity change.
type NotificationType int

const (
	BeginSync NotificationType = iota
	IdentityChanged
	TrustChanged
	ScoreChanged
	EndSync
)

func (t NotificationType) String() string {
	switch t {
	case BeginSync:
		return "BeginSync"
	case IdentityChanged:
		return "IdentityChanged"
	case TrustChanged:
		return "TrustChanged"
	case ScoreChanged:
		return "ScoreChanged"
	case EndSync:
		return "EndSync"
	default:
		return "Unknown"
	}
}

// Notification is one entry in a client's delivery stream. Index is
// strictly increasing per client across every Subscription that
// client holds (design §4.4's cross-kind ordering guarantee): a client
// subscribed to both Trusts and Scores never sees a Score notification
// for a change before the Trust notification that caused it.
//
// ObjectChanged carries both the prior and current state of the
// changed entity (design §4.4, §6): Old is nil on a create, New is nil
// on a delete, and both are present on a modify. Only the pair for
// this notification's Type is populated.
type Notification struct {
	ClientID       uuid.UUID
	SubscriptionID uuid.UUID
	Index          int64
	Type           NotificationType
	VersionID      uuid.UUID
	CreatedAt      time.Time

	IdentityOld *store.Identity
	IdentityNew *store.Identity
	TrustOld    *store.Trust
	TrustNew    *store.Trust
	ScoreOld    *store.Score
	ScoreNew    *store.Score
}

// Subscription is one client's standing interest in one entity kind.
type Subscription struct {
	ID       uuid.UUID
	ClientID uuid.UUID
	Kind     store.EventSourceKind
}

// Client is a subscriber. State is held entirely in memory: design
// §4.4's lifecycle wipes every Client, Subscription and Notification
// on process start, so nothing here is ever persisted to disk.
type Client struct {
	ID           uuid.UUID
	CreatedAt    time.Time
	FailureCount int
}
