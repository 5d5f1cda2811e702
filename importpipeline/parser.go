package importpipeline

import (
	"encoding/json"
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"trustgraph/store"
)

// ParsedIdentity is the decoded content of an IdentityKind event.
type ParsedIdentity struct {
	RequestURI         string            `json:"requestURI"`
	Edition            int64             `json:"edition"`
	Nickname           *string           `json:"nickname,omitempty"`
	PublishesTrustList bool              `json:"publishesTrustList"`
	Contexts           []string          `json:"contexts,omitempty"`
	Properties         map[string]string `json:"properties,omitempty"`
}

// ParsedTrust is one line of a trust list: who it trusts, how much,
// and the optional human-readable comment.
type ParsedTrust struct {
	Trustee store.IdentityID `json:"trustee"`
	Value   int              `json:"value"`
	Comment string           `json:"comment,omitempty"`
}

// ParsedTrustList is the decoded content of a TrustListKind event.
type ParsedTrustList struct {
	Edition int64         `json:"edition"`
	Trusts  []ParsedTrust `json:"trusts"`
}

// Parser turns a fetched nostr event into the typed shape the importer
// reconciles against the store. Kept separate from Fetcher so a
// future on-disk or FCP-fed import path can reuse it without a relay
// round trip.
type Parser interface {
	ParseIdentity(event *nostr.Event) (ParsedIdentity, error)
	ParseTrustList(event *nostr.Event) (ParsedTrustList, error)
}

// JSONParser decodes event content as JSON, the encoding RelayFetcher
// publishes under.
type JSONParser struct{}

func (JSONParser) ParseIdentity(event *nostr.Event) (ParsedIdentity, error) {
	var p ParsedIdentity
	if event == nil {
		return p, nil
	}
	if err := json.Unmarshal([]byte(event.Content), &p); err != nil {
		return p, fmt.Errorf("parsing identity event %s: %w", event.ID, err)
	}
	return p, nil
}

func (JSONParser) ParseTrustList(event *nostr.Event) (ParsedTrustList, error) {
	var p ParsedTrustList
	if event == nil {
		return p, nil
	}
	if err := json.Unmarshal([]byte(event.Content), &p); err != nil {
		return p, fmt.Errorf("parsing trust list event %s: %w", event.ID, err)
	}
	return p, nil
}

func contextSet(contexts []string) map[string]struct{} {
	out := make(map[string]struct{}, len(contexts))
	for _, c := range contexts {
		out[c] = struct{}{}
	}
	return out
}
