// Package rpc is the message-based interface external callers use to
// query and mutate the trust graph and to manage subscriptions,
// grounded on the original plugin's FCP command dispatch
// (original_source's FCPInterface.java): one message name, one typed
// request, one typed response or error.
package rpc

import (
	"trustgraph/store"
	"trustgraph/subscription"
)

// CreateIdentity mints a fresh OwnIdentity.
type CreateIdentityRequest struct {
	RequestURI string
	InsertURI  string
}

type CreateIdentityResponse struct {
	OwnIdentity *store.OwnIdentity
}

// SetTrust creates or updates a Trust edge.
type SetTrustRequest struct {
	Truster        store.IdentityID
	Trustee        store.IdentityID
	Value          int
	Comment        string
	TrusterEdition int64
}

type SetTrustResponse struct {
	Trust *store.Trust
}

// RemoveTrust deletes a Trust edge.
type RemoveTrustRequest struct {
	Truster store.IdentityID
	Trustee store.IdentityID
}

// GetIdentity looks up one Identity by id.
type GetIdentityRequest struct {
	ID store.IdentityID
}

type GetIdentityResponse struct {
	Identity *store.Identity
}

// GetScore looks up Score(owner, target); a miss returns
// store.NotInTrustTreeError.
type GetScoreRequest struct {
	Owner  store.IdentityID
	Target store.IdentityID
}

type GetScoreResponse struct {
	Score *store.Score
}

// GetTrust looks up Trust(truster, trustee); a miss returns
// store.UnknownTrustError, which the original plugin's FCP interface
// called NotTrusted when the caller asked specifically whether a
// direct trust exists.
type GetTrustRequest struct {
	Truster store.IdentityID
	Trustee store.IdentityID
}

type GetTrustResponse struct {
	Trust *store.Trust
}

// Subscribe opens a subscription for one entity kind.
type SubscribeRequest struct {
	ClientID store.IdentityID // opaque client handle, reused across requests
	Kind     store.EventSourceKind
}

// UnsubscribeRequest cancels a subscription.
type UnsubscribeRequest struct {
	ClientID store.IdentityID
	Kind     store.EventSourceKind
}

// Ack acknowledges delivered notifications up to Index.
type AckRequest struct {
	ClientID store.IdentityID
	Index    int64
}

// NotificationMessage is what the transport actually pushes to a
// subscribed client.
type NotificationMessage struct {
	Notification *subscription.Notification
}
