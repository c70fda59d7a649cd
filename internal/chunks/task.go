package chunks

import (
	"context"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"

	"github.com/mistlake/mistlake-sql-go/driverctx"
	mlerr "github.com/mistlake/mistlake-sql-go/errors"
	"github.com/mistlake/mistlake-sql-go/internal/compress"
	"github.com/mistlake/mistlake-sql-go/internal/config"
	dbsqlerrint "github.com/mistlake/mistlake-sql-go/internal/errors"
	"github.com/mistlake/mistlake-sql-go/logger"
	"github.com/mistlake/mistlake-sql-go/telemetry"
)

// LinkResolver hands out a fresh download link for a chunk index. The
// implementation may batch several chunks' requests into one backend
// call; ResolveLink blocks until the link for the requested chunk is
// available.
type LinkResolver interface {
	ResolveLink(ctx context.Context, chunkIndex int64) (*ChunkLink, error)
}

// ChunkDownloadTask drives one chunk from "link known" to "data ready".
// It resolves the link when missing or expired, downloads and decodes
// the chunk, and retries recoverable failures with a fixed backoff up to
// the configured attempt budget. Completion is reported exactly once
// whatever the outcome.
type ChunkDownloadTask struct {
	chunk      *Chunk
	httpClient *http.Client
	codec      compress.Codec
	resolver   LinkResolver
	cfg        *config.Config
	clock      clockwork.Clock
	sink       telemetry.Sink

	// invoked exactly once per run, success and failure alike; used by
	// the orchestrator for pool bookkeeping
	downloadProcessed func(chunkIndex int64)

	connectionId  string
	correlationId string
}

func NewChunkDownloadTask(
	chunk *Chunk,
	httpClient *http.Client,
	codec compress.Codec,
	resolver LinkResolver,
	cfg *config.Config,
	sink telemetry.Sink,
	downloadProcessed func(chunkIndex int64),
	connectionId string,
	correlationId string,
) *ChunkDownloadTask {

	if cfg == nil {
		cfg = config.WithDefaults()
	}

	return &ChunkDownloadTask{
		chunk:             chunk,
		httpClient:        httpClient,
		codec:             codec,
		resolver:          resolver,
		cfg:               cfg,
		clock:             clockwork.NewRealClock(),
		sink:              telemetry.Guard(sink),
		downloadProcessed: downloadProcessed,
		connectionId:      connectionId,
		correlationId:     correlationId,
	}
}

// setClock swaps the clock used for retry backoff. Test use only.
func (t *ChunkDownloadTask) setClock(clock clockwork.Clock) {
	t.clock = clock
}

// Fetch lets download tasks run on the concurrent fetcher pool.
func (t *ChunkDownloadTask) Fetch(ctx context.Context) (*Chunk, error) {
	return t.chunk, t.Run(ctx)
}

// Run executes the download. Recoverable failures (link resolution,
// transport, decode) are retried with a fixed delay between attempts.
// Interruption during the backoff wait aborts immediately with a
// distinct error; exhausting the attempt budget surfaces the last
// underlying cause. Driver faults are never retried.
func (t *ChunkDownloadTask) Run(ctx context.Context) error {
	chunkIndex := t.chunk.Index()

	ctx = driverctx.NewContextWithConnId(ctx, t.connectionId)
	ctx = driverctx.NewContextWithCorrelationId(ctx, t.correlationId)
	ctx = driverctx.NewContextWithQueryId(ctx, t.chunk.QueryId())
	ctx = driverctx.NewContextWithChunkIndex(ctx, chunkIndex)

	lgr := logger.FromContext(ctx).WithChunk(chunkIndex)

	start := t.clock.Now()
	succeeded := false

	defer func() {
		if !succeeded {
			t.chunk.MarkDownloadFailed("")
		}
		t.sink.RecordDownloadLatency(t.clock.Since(start), chunkIndex, t.chunk.QueryId())
		if t.downloadProcessed != nil {
			t.downloadProcessed(chunkIndex)
		}
	}()

	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = t.attempt(ctx)
		if lastErr == nil {
			succeeded = true
			lgr.Debug().Msgf("mistlake: chunk %d downloaded after %d attempt(s)", chunkIndex, attempt)
			return nil
		}

		// programming faults are not retryable
		if errors.Is(lastErr, mlerr.DriverError) {
			return lastErr
		}

		if attempt >= t.cfg.MaxDownloadRetries {
			t.chunk.MarkDownloadFailed("")
			return dbsqlerrint.NewRetriesExhaustedError(ctx, chunkIndex, attempt, lastErr)
		}

		if t.chunk.Status() == StatusDownloadFailed {
			_ = t.chunk.MarkRetry()
		}
		lgr.Warn().Err(lastErr).Msgf("mistlake: chunk %d download attempt %d failed, retrying in %s", chunkIndex, attempt, t.cfg.DownloadRetryDelay)

		select {
		case <-t.clock.After(t.cfg.DownloadRetryDelay):
		case <-ctx.Done():
			t.chunk.MarkDownloadFailed(errChunkInterrupted)
			return dbsqlerrint.NewDownloadInterruptedError(ctx, chunkIndex, ctx.Err())
		}
	}
}

// attempt performs one link-resolution plus download cycle.
func (t *ChunkDownloadTask) attempt(ctx context.Context) error {
	if t.chunk.IsLinkInvalid() {
		link, err := t.resolver.ResolveLink(ctx, t.chunk.Index())
		if err != nil {
			return dbsqlerrint.WrapErr(err, errChunkLinkResolution)
		}

		if err := t.chunk.SetLink(*link); err != nil {
			return err
		}
	}

	return t.chunk.Download(ctx, t.httpClient, t.codec)
}
