package importpipeline

import (
	"context"
	"time"

	"trustgraph/engine/library"
	"trustgraph/scoring"
	"trustgraph/store"
)

// Importer is the single-threaded worker that drains Queue, fetching
// and reconciling one identity's edition at a time (design §4.3: "a
// single importer thread drains the queue; imports never run
// concurrently with each other"). It is driven externally by a
// DelayedJob so its pace follows the configured import delay.
type Importer struct {
	store   *store.Store
	engine  *scoring.Engine
	queue   *Queue
	fetcher Fetcher
	parser  Parser
}

// NewImporter wires an Importer to its dependencies.
func NewImporter(s *store.Store, engine *scoring.Engine, q *Queue, fetcher Fetcher, parser Parser) *Importer {
	return &Importer{store: s, engine: engine, queue: q, fetcher: fetcher, parser: parser}
}

// Run drains every job currently on the queue, stopping early if stop
// is closed. It is meant to be handed straight to actors.NewTickerJob
// as its Work.
func (im *Importer) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		job, ok := im.queue.Dequeue()
		if !ok {
			return
		}
		if err := im.importOne(job); err != nil {
			im.queue.markFailed()
			library.Log("import of "+string(job.ID)+" failed: "+err.Error(), 1)
			continue
		}
		im.queue.markFinished()
	}
}

func (im *Importer) importOne(job *FetchJob) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := im.fetcher.Fetch(ctx, job.ID, job.SinceEdition)
	if err != nil {
		return err
	}

	if result.IdentityEvent == nil && result.TrustListEvent == nil {
		// Nothing new published; leave the identity's fetch state as
		// it was rather than marking a spurious parse failure.
		return nil
	}

	parsedIdentity, identityErr := im.parser.ParseIdentity(result.IdentityEvent)
	parsedTrustList, trustListErr := im.parser.ParseTrustList(result.TrustListEvent)

	ok := identityErr == nil && trustListErr == nil
	edition := job.SinceEdition
	if ok {
		if result.IdentityEvent != nil && parsedIdentity.Edition > edition {
			edition = parsedIdentity.Edition
		}
		if result.TrustListEvent != nil && parsedTrustList.Edition > edition {
			edition = parsedTrustList.Edition
		}
	}

	var update *scoring.IdentityUpdate
	var trusts []scoring.TrustListEntry
	if ok {
		if result.IdentityEvent != nil {
			update = &scoring.IdentityUpdate{
				RequestURI:         parsedIdentity.RequestURI,
				Nickname:           parsedIdentity.Nickname,
				PublishesTrustList: parsedIdentity.PublishesTrustList,
				Contexts:           contextSet(parsedIdentity.Contexts),
				Properties:         parsedIdentity.Properties,
			}
		}
		if result.TrustListEvent != nil {
			trusts = make([]scoring.TrustListEntry, 0, len(parsedTrustList.Trusts))
			for _, t := range parsedTrustList.Trusts {
				trusts = append(trusts, scoring.TrustListEntry{
					Trustee: t.Trustee,
					Value:   t.Value,
					Comment: t.Comment,
				})
			}
		}
	}

	_, err = im.engine.ImportEdition(job.ID, edition, ok, update, trusts)
	return err
}
