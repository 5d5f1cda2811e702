// Package importpipeline implements the fetch/import pipeline (design
// §4.3): an opaque Fetcher retrieves published editions, a dedicating
// queue orders the work, and a single-threaded Importer drains it
// under a coalescing background job, reconciling each fetched trust
// list against the store inside one transaction.
package importpipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sasha-s/go-deadlock"
	"golang.org/x/sync/errgroup"

	"trustgraph/engine/library"
	"trustgraph/store"
)

// IdentityKind is the nostr event kind an identity publishes its
// attributes under; TrustListKind carries its trust list. Both live in
// the application-reserved range, well clear of nostr's own kinds.
const (
	IdentityKind  = 30400
	TrustListKind = 30401
)

// FetchResult is what a Fetcher hands the importer for one identity:
// the identity event and the trust-list event it managed to retrieve.
// A failed fetch is reported through Fetch's error return instead.
type FetchResult struct {
	IdentityEvent  *nostr.Event
	TrustListEvent *nostr.Event
}

// Fetcher is the retrieval port the importer drives; design §4.3
// deliberately treats it as opaque so the reconciliation algorithm
// does not depend on any particular transport.
type Fetcher interface {
	// Fetch retrieves the identity and trust-list events published by
	// id; sinceEdition is the edition the caller is asking for. A nil
	// *nostr.Event in the result means that half was not found.
	Fetch(ctx context.Context, id store.IdentityID, sinceEdition int64) (FetchResult, error)
	// Publish announces a locally authored identity or trust-list
	// event, signed under kp.
	Publish(ctx context.Context, kp library.KeyPair, kind int, content []byte) error
}

var defaultRelays = []string{
	"wss://relay.damus.io",
	"wss://nos.lol",
	"wss://nostr.mutinywallet.com",
}

// RelayFetcher is the production Fetcher: it treats a handful of
// nostr relays as the anonymous network's retrieval substrate,
// fanning a subscription out to all of them and keeping the
// highest-timestamp event of each kind it sees within a short window
// (grounded on messaging/relays.FetchLatestProfile's relay fan-out and
// highest-CreatedAt-wins selection). It does not filter on
// sinceEdition: the newest event of each kind is returned whatever its
// edition.
type RelayFetcher struct {
	Relays      []string
	FetchWindow time.Duration
}

// NewRelayFetcher returns a RelayFetcher using the built-in relay list
// and a 6 second fetch window, matching the window the teacher's own
// profile fetch uses.
func NewRelayFetcher() *RelayFetcher {
	return &RelayFetcher{Relays: defaultRelays, FetchWindow: 6 * time.Second}
}

func (f *RelayFetcher) Fetch(ctx context.Context, id store.IdentityID, sinceEdition int64) (FetchResult, error) {
	identity, err := f.fetchLatest(ctx, id, IdentityKind)
	if err != nil {
		return FetchResult{}, err
	}
	trustList, err := f.fetchLatest(ctx, id, TrustListKind)
	if err != nil {
		return FetchResult{}, err
	}
	return FetchResult{IdentityEvent: identity, TrustListEvent: trustList}, nil
}

func (f *RelayFetcher) fetchLatest(ctx context.Context, id store.IdentityID, kind int) (*nostr.Event, error) {
	events := make(map[string]nostr.Event)
	mu := &deadlock.Mutex{}
	filters := nostr.Filters{{
		Kinds:   []int{kind},
		Authors: []string{string(id)},
	}}
	// Every relay is fetched independently and failures are just
	// missing votes toward "best", never a fatal error for the whole
	// lookup, so the worker pool never needs to short-circuit the
	// others — errgroup here is purely for the join, not for
	// cancellation-on-first-error.
	group, groupCtx := errgroup.WithContext(ctx)
	for _, url := range f.Relays {
		url := url
		group.Go(func() error {
			relay, err := nostr.RelayConnect(groupCtx, url)
			if err != nil {
				return nil
			}
			subCtx, cancel := context.WithTimeout(groupCtx, f.FetchWindow)
			defer cancel()
			sub, err := relay.Subscribe(subCtx, filters)
			if err != nil {
				return nil
			}
			for {
				select {
				case ev, ok := <-sub.Events:
					if !ok {
						return nil
					}
					mu.Lock()
					events[ev.ID] = *ev
					mu.Unlock()
				case <-subCtx.Done():
					sub.Close()
					relay.Close()
					return nil
				}
			}
		})
	}
	_ = group.Wait()

	var best *nostr.Event
	var bestTs nostr.Timestamp
	for _, ev := range events {
		if best == nil || ev.CreatedAt > bestTs {
			e := ev
			best = &e
			bestTs = ev.CreatedAt
		}
	}
	return best, nil
}

func (f *RelayFetcher) Publish(ctx context.Context, kp library.KeyPair, kind int, content []byte) error {
	event := nostr.Event{
		PubKey:    kp.PubKeyHex,
		CreatedAt: nostr.Now(),
		Kind:      kind,
		Content:   string(content),
	}
	if err := event.Sign(kp.PrivateKey); err != nil {
		return fmt.Errorf("signing event: %w", err)
	}
	var lastErr error
	for _, url := range f.Relays {
		relay, err := nostr.RelayConnect(ctx, url)
		if err != nil {
			lastErr = err
			continue
		}
		if _, err := relay.Publish(ctx, event); err != nil {
			lastErr = err
		}
		relay.Close()
	}
	return lastErr
}

// marshalIdentity and marshalTrustList are the wire encodings the
// parser on the other end expects; kept next to the fetcher since
// they are this transport's concern, not the store's.
func marshalIdentity(p ParsedIdentity) ([]byte, error) { return json.Marshal(p) }
func marshalTrustList(p ParsedTrustList) ([]byte, error) { return json.Marshal(p) }
