package chunks

import (
	"context"
	"database/sql/driver"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mistlake/mistlake-sql-go/driverctx"
	"github.com/mistlake/mistlake-sql-go/internal/client"
	"github.com/mistlake/mistlake-sql-go/internal/compress"
	"github.com/mistlake/mistlake-sql-go/internal/config"
	"github.com/mistlake/mistlake-sql-go/internal/fetcher"
	"github.com/mistlake/mistlake-sql-go/logger"
	"github.com/mistlake/mistlake-sql-go/telemetry"
)

// ChunkDownloader owns a statement's chunks and runs their download
// tasks over a bounded worker pool. It guarantees at most one active
// task per chunk, records each chunk's completion exactly once and
// releases every chunk on Close.
type ChunkDownloader struct {
	cfg        *config.Config
	codec      compress.Codec
	httpClient *http.Client
	resolver   LinkResolver
	sink       telemetry.Sink
	lgr        *logger.Logger

	connectionId  string
	correlationId string

	ctx         context.Context
	chunks      []*Chunk
	fetcher     fetcher.Fetcher[*Chunk]
	cancelFetch context.CancelFunc
	chunkChan   <-chan *Chunk

	mu        sync.Mutex
	processed map[int64]int
	closed    bool
}

// NewChunkDownloader builds a downloader for the given chunks. The
// compression codec comes from cfg. A nil httpClient gets the default
// retrying download client; a non-nil pinger starts a keep-alive
// heartbeat for the duration of the downloads.
func NewChunkDownloader(
	ctx context.Context,
	chks []*Chunk,
	resolver LinkResolver,
	httpClient *http.Client,
	cfg *config.Config,
	pinger driver.Pinger,
	sink telemetry.Sink,
) (*ChunkDownloader, error) {

	if cfg == nil {
		cfg = config.WithDefaults()
	}

	codec, err := compress.Lookup(cfg.CompressionCodec)
	if err != nil {
		return nil, err
	}

	connectionId := driverctx.ConnIdFromContext(ctx)
	if connectionId == "" {
		connectionId = uuid.NewString()
	}
	correlationId := driverctx.CorrelationIdFromContext(ctx)

	lgr := logger.FromContext(ctx)

	if httpClient == nil {
		httpClient = client.NewDownloadClient(lgr)
	}

	d := &ChunkDownloader{
		cfg:           cfg,
		codec:         codec,
		httpClient:    httpClient,
		resolver:      resolver,
		sink:          telemetry.Guard(sink),
		lgr:           lgr,
		connectionId:  connectionId,
		correlationId: correlationId,
		ctx:           ctx,
		chunks:        chks,
		processed:     make(map[int64]int),
	}

	// one task per chunk; the input channel is fully loaded up front and
	// closed so the fetcher drains it and stops
	inputChan := make(chan fetcher.FetchableItems[*Chunk], len(chks))
	for i := range chks {
		task := NewChunkDownloadTask(
			chks[i],
			httpClient,
			codec,
			resolver,
			cfg,
			sink,
			d.downloadProcessed,
			connectionId,
			correlationId,
		)
		inputChan <- task
	}
	close(inputChan)

	var hb *heartBeat
	if pinger != nil {
		hb = &heartBeat{pinger: pinger, interval: cfg.HeartbeatInterval, lgr: lgr}
	}

	f, err := fetcher.NewConcurrentFetcher[*ChunkDownloadTask](ctx, cfg.MaxDownloadThreads, cfg.MaxFilesInMemory, inputChan, overwatchOrNil(hb))
	if err != nil {
		return nil, err
	}
	d.fetcher = f

	return d, nil
}

// overwatchOrNil avoids handing the fetcher a typed nil.
func overwatchOrNil(hb *heartBeat) fetcher.Overwatch {
	if hb == nil {
		return nil
	}
	return hb
}

// Start kicks off the downloads and returns the channel on which chunks
// arrive as their data becomes ready. The channel closes once every
// chunk has been processed or a task has failed terminally; Err()
// reports the failure.
func (d *ChunkDownloader) Start() (<-chan *Chunk, context.CancelFunc, error) {
	chunkChan, cancel, err := d.fetcher.Start()
	d.chunkChan = chunkChan
	d.cancelFetch = cancel
	return chunkChan, cancel, err
}

// Err returns the first terminal task error, nil while downloads are
// still healthy.
func (d *ChunkDownloader) Err() error {
	return d.fetcher.Err()
}

// downloadProcessed records the completion callback for one chunk.
func (d *ChunkDownloader) downloadProcessed(chunkIndex int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.processed[chunkIndex]++
}

// ProcessedCount returns how many chunks have reported completion,
// success and failure alike.
func (d *ChunkDownloader) ProcessedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.processed)
}

// Chunks returns the downloader's chunks in index order.
func (d *ChunkDownloader) Chunks() []*Chunk {
	return d.chunks
}

// Close cancels any in-flight downloads, marks still-pending chunks
// cancelled and releases every chunk. Safe to call more than once.
func (d *ChunkDownloader) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	if d.cancelFetch != nil {
		d.cancelFetch()
	}

	// drain whatever the fetcher already produced
	if d.chunkChan != nil {
		for range d.chunkChan {
		}
	}

	for _, c := range d.chunks {
		if CanTransitionTo(c.Status(), StatusCancelled) {
			_ = c.Cancel()
		}
		c.Release()
	}
}

// Once started heartBeat pings the connection at a regular interval
// until it is stopped, keeping the session alive while large chunk sets
// download.
type heartBeat struct {
	pinger    driver.Pinger
	stopChan  chan bool
	interval  time.Duration
	running   bool
	lgr       *logger.Logger
	err       error
	beatCount int
}

var _ fetcher.Overwatch = (*heartBeat)(nil)

func (hb *heartBeat) Start() {
	hb.lgr.Debug().Msg("heartbeat: starting")
	hb.running = true
	if hb.stopChan == nil {
		hb.stopChan = make(chan bool)
	}

	go func() {
		it := time.NewTimer(hb.interval)
		defer it.Stop()

		for {
			select {
			case <-it.C:
				hb.beatCount += 1
				err := hb.pinger.Ping(context.Background())
				if err != nil {
					hb.lgr.Debug().Msg("heartbeat: ping failed")
					hb.running = false
					hb.err = err
					return
				}
				hb.lgr.Debug().Msg("heartbeat: ping success")
				it.Reset(hb.interval)

			case <-hb.stopChan:
				hb.running = false
				hb.lgr.Debug().Msg("heartbeat: stopping")
				return
			}
		}
	}()
}

func (hb *heartBeat) Stop() {
	if hb.stopChan == nil {
		hb.stopChan = make(chan bool)
	}

	close(hb.stopChan)
}
