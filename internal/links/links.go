// Package links resolves chunk download links. Links are short lived,
// so the resolver caches them only until the expiry safety margin and
// batches concurrent requests: one backend call fetches a contiguous
// run of links and satisfies every waiter it covers.
package links

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mistlake/mistlake-sql-go/internal/chunks"
	"github.com/mistlake/mistlake-sql-go/internal/config"
	dbsqlerrint "github.com/mistlake/mistlake-sql-go/internal/errors"
	"github.com/mistlake/mistlake-sql-go/logger"
)

var errLinkFetchFailed = "mistlake: fetching chunk download links failed"
var errLinkNotReturned = "mistlake: backend did not return a link for the requested chunk"

// ResultLink pairs a download link with the chunk it belongs to.
type ResultLink struct {
	ChunkIndex int64
	Link       chunks.ChunkLink
}

// Backend is the protocol layer that actually produces links. A call
// returns links for one or more chunks starting at startChunkIndex.
type Backend interface {
	FetchLinks(ctx context.Context, startChunkIndex int64) ([]ResultLink, error)
}

// Resolver implements chunks.LinkResolver on top of a Backend, caching
// fetched links and collapsing concurrent requests for the same chunk
// into a single backend call.
type Resolver struct {
	backend         Backend
	clock           clockwork.Clock
	minTimeToExpiry time.Duration
	lgr             *logger.Logger

	mu       sync.Mutex
	cache    map[int64]*chunks.ChunkLink
	inflight map[int64]*fetchWait
}

func NewResolver(backend Backend, cfg *config.Config) *Resolver {
	if cfg == nil {
		cfg = config.WithDefaults()
	}

	return &Resolver{
		backend:         backend,
		clock:           clockwork.NewRealClock(),
		minTimeToExpiry: cfg.MinTimeToExpiry,
		lgr:             logger.Log,
		cache:           make(map[int64]*chunks.ChunkLink),
		inflight:        make(map[int64]*fetchWait),
	}
}

var _ chunks.LinkResolver = (*Resolver)(nil)

// setClock swaps the expiry clock. Test use only.
func (r *Resolver) setClock(c clockwork.Clock) {
	r.clock = c
}

type fetchWait struct {
	done chan struct{}
	err  error
}

// ResolveLink blocks until a valid link for the chunk is available. If
// another caller is already fetching a batch that may cover this chunk,
// the call waits for that fetch instead of issuing its own.
func (r *Resolver) ResolveLink(ctx context.Context, chunkIndex int64) (*chunks.ChunkLink, error) {
	fetchedOurselves := false

	for {
		r.mu.Lock()

		if link, ok := r.cache[chunkIndex]; ok && !link.IsExpired(r.clock.Now(), r.minTimeToExpiry) {
			out := *link
			r.mu.Unlock()
			return &out, nil
		}

		if fetchedOurselves {
			r.mu.Unlock()
			return nil, dbsqlerrint.NewRequestError(ctx, errLinkNotReturned, nil)
		}

		if w, ok := r.inflight[chunkIndex]; ok {
			r.mu.Unlock()
			select {
			case <-w.done:
				if w.err != nil {
					return nil, w.err
				}
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		w := &fetchWait{done: make(chan struct{})}
		r.inflight[chunkIndex] = w
		r.mu.Unlock()

		batch, err := r.backend.FetchLinks(ctx, chunkIndex)
		if err != nil {
			err = dbsqlerrint.NewRequestError(ctx, errLinkFetchFailed, err)
		}

		r.mu.Lock()
		delete(r.inflight, chunkIndex)
		if err == nil {
			for i := range batch {
				link := batch[i].Link
				r.cache[batch[i].ChunkIndex] = &link
			}
			r.lgr.Debug().Msgf("mistlake: fetched %d link(s) starting at chunk %d", len(batch), chunkIndex)
		}
		w.err = err
		close(w.done)
		r.mu.Unlock()

		if err != nil {
			return nil, err
		}

		fetchedOurselves = true
	}
}

// Invalidate drops a cached link, forcing the next ResolveLink for that
// chunk to hit the backend.
func (r *Resolver) Invalidate(chunkIndex int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, chunkIndex)
}
