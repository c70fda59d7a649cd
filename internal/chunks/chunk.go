package chunks

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/jonboulle/clockwork"

	"github.com/mistlake/mistlake-sql-go/internal/compress"
	"github.com/mistlake/mistlake-sql-go/internal/config"
	dbsqlerrint "github.com/mistlake/mistlake-sql-go/internal/errors"
	"github.com/mistlake/mistlake-sql-go/logger"
)

// Chunk is one server assigned partition of a query result. It owns the
// native buffers behind its decoded record batches and is responsible
// for freeing them exactly once when released.
//
// The orchestrator guarantees at most one download task is ever active
// against a chunk, so Download is not internally serialized. Release is
// safe under concurrent invocation.
type Chunk struct {
	index     int64
	rowOffset int64
	numRows   int64
	queryId   string

	cfg   *config.Config
	clock clockwork.Clock
	lgr   *logger.Logger

	mu         sync.Mutex
	status     Status
	link       *ChunkLink
	batches    []arrow.Record
	typeHints  []*string
	errMessage string
	arena      *arena
}

// NewChunk creates a chunk in StatusPending: its download link is not
// yet known.
func NewChunk(index int64, rowOffset int64, numRows int64, queryId string, cfg *config.Config, lgr *logger.Logger) *Chunk {
	if cfg == nil {
		cfg = config.WithDefaults()
	}
	if lgr == nil {
		lgr = logger.Log
	}

	return &Chunk{
		index:     index,
		rowOffset: rowOffset,
		numRows:   numRows,
		queryId:   queryId,
		cfg:       cfg,
		clock:     clockwork.NewRealClock(),
		lgr:       lgr.WithChunk(index),
		status:    StatusPending,
	}
}

// NewChunkWithLink creates a chunk whose link was supplied up front by
// the protocol layer. It starts in StatusURLFetched.
func NewChunkWithLink(index int64, rowOffset int64, numRows int64, queryId string, link ChunkLink, cfg *config.Config, lgr *logger.Logger) *Chunk {
	c := NewChunk(index, rowOffset, numRows, queryId, cfg, lgr)
	c.link = &link
	c.status = StatusURLFetched
	return c
}

// NewInlineChunk creates a chunk whose data arrived inline with the
// statement response instead of behind a download link. The batch bytes
// are decoded immediately; the chunk starts in StatusExtractSucceeded or
// StatusExtractFailed and never visits StatusURLFetched.
func NewInlineChunk(index int64, rowOffset int64, numRows int64, queryId string, arrowSchemaBytes []byte, batchBytes []byte, codec compress.Codec, cfg *config.Config, lgr *logger.Logger) (*Chunk, error) {
	c := NewChunk(index, rowOffset, numRows, queryId, cfg, lgr)

	body, err := codec.NewReader(bytes.NewReader(batchBytes))
	if err != nil {
		c.status = StatusExtractFailed
		c.errMessage = err.Error()
		return c, dbsqlerrint.NewRequestError(context.Background(), errChunkDecodeFailed, err)
	}
	defer body.Close()

	c.arena = newArena()
	decoder := newArrowStreamDecoder(c.arena.Allocator(), index, c.lgr)
	records, hints, err := decoder.decode(context.Background(), io.MultiReader(bytes.NewReader(arrowSchemaBytes), body))
	if err != nil {
		c.status = StatusExtractFailed
		c.errMessage = err.Error()
		return c, err
	}

	c.batches = records
	c.typeHints = hints
	c.status = StatusExtractSucceeded
	return c, nil
}

// setClock swaps the clock used for link expiry checks. Test use only.
func (c *Chunk) setClock(clock clockwork.Clock) {
	c.clock = clock
}

func (c *Chunk) Index() int64     { return c.index }
func (c *Chunk) RowOffset() int64 { return c.rowOffset }
func (c *Chunk) NumRows() int64   { return c.numRows }
func (c *Chunk) QueryId() string  { return c.queryId }

func (c *Chunk) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// URL returns the current download link URL, empty if no link is set.
func (c *Chunk) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link == nil {
		return ""
	}
	return c.link.URL
}

func (c *Chunk) ErrorMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errMessage
}

// RecordBatchCount returns the number of decoded record batches, zero
// before decoding and after release.
func (c *Chunk) RecordBatchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

// SetLink installs a fresh download link and moves the chunk to
// StatusURLFetched. A chunk already holding a link stays in
// StatusURLFetched and just has the link replaced, which is how an
// expired link gets refreshed before a retry.
func (c *Chunk) SetLink(link ChunkLink) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusURLFetched {
		if err := c.transitionLocked(context.Background(), StatusURLFetched); err != nil {
			return err
		}
	}

	c.link = &link
	return nil
}

// IsLinkInvalid reports whether the chunk needs a (new) link before it
// can be downloaded: true while pending and once the current link is
// within the expiry safety margin.
func (c *Chunk) IsLinkInvalid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == StatusPending || c.link == nil {
		return true
	}

	if c.cfg.TestOverrides != nil && c.cfg.TestOverrides.DisableExpiryCheck {
		return false
	}

	return c.link.IsExpired(c.clock.Now(), c.cfg.MinTimeToExpiry)
}

// Download fetches the chunk's bytes over HTTP, decompresses them with
// codec and decodes the arrow stream into record batches owned by the
// chunk's arena. On success the chunk moves to StatusDownloadSucceeded;
// any failure moves it to StatusDownloadFailed and records a diagnostic
// message with the chunk index and query id.
func (c *Chunk) Download(ctx context.Context, httpClient *http.Client, codec compress.Codec) error {
	if c.cfg.TestOverrides != nil && c.cfg.TestOverrides.InjectDownloadFailure != nil {
		return c.failDownload(ctx, dbsqlerrint.WrapErr(c.cfg.TestOverrides.InjectDownloadFailure, errChunkInjectedFailure))
	}

	c.mu.Lock()
	if c.link == nil {
		c.errMessage = errChunkNoLink
		_ = c.transitionLocked(ctx, StatusDownloadFailed)
		c.mu.Unlock()
		return dbsqlerrint.NewRequestError(ctx, errChunkNoLink, nil)
	}
	link := *c.link
	if err := c.transitionLocked(ctx, StatusDownloadInProgress); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	start := c.lgr.Track("chunk download")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link.URL, nil)
	if err != nil {
		return c.failDownload(ctx, err)
	}
	for k, v := range link.Headers {
		req.Header.Set(k, v)
	}

	res, err := httpClient.Do(req)
	if err != nil {
		return c.failDownload(ctx, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return c.failDownload(ctx, dbsqlerrint.WrapErr(dbsqlerrint.NewRequestError(ctx, errChunkBadHTTPStatus(res.Status), nil), errChunkDownloadFailed))
	}

	body, err := codec.NewReader(res.Body)
	if err != nil {
		return c.failDownload(ctx, err)
	}
	defer body.Close()

	arena := newArena()
	decoder := newArrowStreamDecoder(arena.Allocator(), c.index, c.lgr)
	records, hints, err := decoder.decode(ctx, body)
	if err != nil {
		return c.failDownload(ctx, err)
	}

	c.mu.Lock()
	if err := c.transitionLocked(ctx, StatusDownloadSucceeded); err != nil {
		c.mu.Unlock()
		// chunk was released or cancelled while downloading; don't leak
		// the freshly decoded buffers
		releaseRecords(records)
		return err
	}
	c.arena = arena
	c.batches = records
	c.typeHints = hints
	c.mu.Unlock()

	c.lgr.Duration("chunk download", start)
	c.lgr.Debug().Msgf("mistlake: chunk %d of query %s downloaded, %d batches", c.index, c.queryId, len(records))

	return nil
}

// failDownload records the failure on the chunk and returns a request
// error wrapping the cause.
func (c *Chunk) failDownload(ctx context.Context, cause error) error {
	err := dbsqlerrint.NewRequestError(ctx, errChunkFailureMessage(c.index, c.queryId), cause)

	c.mu.Lock()
	c.errMessage = err.Error()
	_ = c.transitionLocked(ctx, StatusDownloadFailed)
	c.mu.Unlock()

	c.lgr.Err(cause).Msgf("mistlake: chunk %d of query %s download failed", c.index, c.queryId)
	return err
}

// MarkRetry moves a failed chunk into StatusDownloadRetry before the
// next attempt.
func (c *Chunk) MarkRetry() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitionLocked(context.Background(), StatusDownloadRetry)
}

// MarkDownloadFailed forces the chunk into StatusDownloadFailed if its
// current state allows it. Used by the download task when giving up for
// reasons outside Download itself, e.g. interruption during backoff.
func (c *Chunk) MarkDownloadFailed(msg string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == StatusDownloadFailed {
		if msg != "" {
			c.errMessage = msg
		}
		return true
	}

	if !CanTransitionTo(c.status, StatusDownloadFailed) {
		return false
	}

	c.status = StatusDownloadFailed
	if msg != "" {
		c.errMessage = msg
	}
	return true
}

// Cancel moves the chunk into StatusCancelled. Only legal while a
// download could still run.
func (c *Chunk) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitionLocked(context.Background(), StatusCancelled)
}

// Release frees every decoded buffer and moves the chunk to its terminal
// state. Returns false if the chunk was already released. Safe to call
// concurrently; the buffers are freed exactly once.
func (c *Chunk) Release() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == StatusReleased {
		return false
	}

	releaseRecords(c.batches)
	c.batches = nil
	c.typeHints = nil

	if c.arena != nil {
		if n := c.arena.OutstandingBytes(); n > 0 {
			c.lgr.Warn().Msgf("mistlake: chunk %d released with %d bytes still allocated", c.index, n)
		}
		c.arena = nil
	}

	c.status = StatusReleased
	c.lgr.Debug().Msgf("mistlake: chunk %d of query %s released", c.index, c.queryId)

	return true
}

// transitionLocked advances the status, rejecting anything outside the
// legal transition graph. Callers hold c.mu.
func (c *Chunk) transitionLocked(ctx context.Context, to Status) error {
	if !CanTransitionTo(c.status, to) {
		return dbsqlerrint.NewDriverError(ctx, errChunkIllegalTransition(c.status, to), nil)
	}
	c.status = to
	return nil
}

// batch returns the decoded record at the given index, nil when out of
// range. Used by the row iterator; callers must not release it.
func (c *Chunk) batch(i int) arrow.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.batches) {
		return nil
	}
	return c.batches[i]
}

// TypeHint returns the semantic type annotation captured for the given
// column, nil if the server supplied none.
func (c *Chunk) TypeHint(columnIndex int) *string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.typeHints == nil || columnIndex < 0 || columnIndex >= len(c.typeHints) {
		return nil
	}
	return c.typeHints[columnIndex]
}
