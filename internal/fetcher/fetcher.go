package fetcher

import (
	"context"
	"sync"

	"github.com/mistlake/mistlake-sql-go/logger"
)

// FetchableItems is the unit of work the concurrent fetcher runs: given
// a context it produces one output or an error.
type FetchableItems[OutputType any] interface {
	Fetch(ctx context.Context) (OutputType, error)
}

// Fetcher runs a set of fetchable items over a bounded pool of workers
// and streams the outputs over a channel.
type Fetcher[OutputType any] interface {
	Err() error
	Start() (<-chan OutputType, context.CancelFunc, error)
}

// Overwatch is started when fetching begins and stopped when it ends,
// e.g. a connection keep-alive heartbeat.
type Overwatch interface {
	Start()
	Stop()
}

func NewConcurrentFetcher[I FetchableItems[O], O any](
	ctx context.Context,
	maxWorkers int,
	maxItemsInMemory int,
	inputChan <-chan FetchableItems[O],
	overwatch Overwatch,
) (Fetcher[O], error) {

	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if maxItemsInMemory < 1 {
		maxItemsInMemory = 1
	}

	fetcher := &concurrentFetcher[I, O]{
		inputChan:  inputChan,
		maxWorkers: maxWorkers,
		// channel capacity bounds the number of fetched items sitting
		// in memory waiting for the consumer
		outChan:   make(chan O, maxItemsInMemory),
		ctx:       ctx,
		overwatch: overwatch,
	}

	return fetcher, nil
}

type concurrentFetcher[I FetchableItems[O], O any] struct {
	inputChan  <-chan FetchableItems[O]
	outChan    chan O
	maxWorkers int
	ctx        context.Context
	cancelFunc context.CancelFunc
	overwatch  Overwatch

	start sync.Once

	mu  sync.Mutex
	err error
}

var _ Fetcher[any] = (*concurrentFetcher[FetchableItems[any], any])(nil)

func (f *concurrentFetcher[I, O]) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *concurrentFetcher[I, O]) Start() (<-chan O, context.CancelFunc, error) {
	f.start.Do(func() {
		var ctx context.Context
		ctx, f.cancelFunc = context.WithCancel(f.ctx)

		if f.overwatch != nil {
			f.overwatch.Start()
		}

		var wg sync.WaitGroup
		for i := 0; i < f.maxWorkers; i++ {
			wg.Add(1)
			go func(workerIndex int) {
				defer wg.Done()
				f.worker(ctx, workerIndex)
			}(i)
		}

		go func() {
			wg.Wait()
			close(f.outChan)
			if f.overwatch != nil {
				f.overwatch.Stop()
			}
		}()
	})

	return f.outChan, f.cancelFunc, nil
}

func (f *concurrentFetcher[I, O]) worker(ctx context.Context, workerIndex int) {
	logger.Debug().Msgf("concurrent fetcher worker %d starting", workerIndex)

	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-f.inputChan:
			if !ok {
				return
			}

			result, err := item.Fetch(ctx)
			if err != nil {
				f.setErr(err)
				f.cancelFunc()
				return
			}

			select {
			case f.outChan <- result:
			case <-ctx.Done():
				return
			}
		}
	}
}

// setErr records the first error encountered by any worker.
func (f *concurrentFetcher[I, O]) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil {
		f.err = err
	}
}
