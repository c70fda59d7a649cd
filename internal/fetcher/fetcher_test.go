package fetcher

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockFetchableItem struct {
	item int
	wait time.Duration
	err  error
}

func (m *mockFetchableItem) Fetch(ctx context.Context) (int, error) {
	select {
	case <-time.After(m.wait):
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	if m.err != nil {
		return 0, m.err
	}
	return m.item, nil
}

var _ FetchableItems[int] = (*mockFetchableItem)(nil)

type mockOverwatch struct {
	started atomic.Int32
	stopped atomic.Int32
}

func (o *mockOverwatch) Start() { o.started.Add(1) }
func (o *mockOverwatch) Stop()  { o.stopped.Add(1) }

func loadedInputChan(items ...*mockFetchableItem) chan FetchableItems[int] {
	inputChan := make(chan FetchableItems[int], len(items))
	for _, item := range items {
		inputChan <- item
	}
	close(inputChan)
	return inputChan
}

func TestConcurrentFetcherFetchesAllItems(t *testing.T) {
	var items []*mockFetchableItem
	for i := 0; i < 10; i++ {
		items = append(items, &mockFetchableItem{item: i, wait: time.Millisecond})
	}

	f, err := NewConcurrentFetcher[*mockFetchableItem](context.Background(), 3, 10, loadedInputChan(items...), nil)
	require.NoError(t, err)

	outChan, _, err := f.Start()
	require.NoError(t, err)

	var results []int
	for result := range outChan {
		results = append(results, result)
	}

	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, results)
	assert.NoError(t, f.Err())
}

func TestConcurrentFetcherFirstErrorStopsFetching(t *testing.T) {
	items := []*mockFetchableItem{
		{item: 1, wait: time.Millisecond},
		{item: 2, wait: time.Millisecond, err: errors.New("fetch failed")},
		{item: 3, wait: 50 * time.Millisecond},
		{item: 4, wait: 50 * time.Millisecond},
	}

	f, err := NewConcurrentFetcher[*mockFetchableItem](context.Background(), 1, 4, loadedInputChan(items...), nil)
	require.NoError(t, err)

	outChan, _, err := f.Start()
	require.NoError(t, err)

	var results []int
	for result := range outChan {
		results = append(results, result)
	}

	require.Error(t, f.Err())
	assert.Contains(t, f.Err().Error(), "fetch failed")
	assert.Less(t, len(results), len(items))
}

func TestConcurrentFetcherCancel(t *testing.T) {
	var items []*mockFetchableItem
	for i := 0; i < 20; i++ {
		items = append(items, &mockFetchableItem{item: i, wait: 20 * time.Millisecond})
	}

	f, err := NewConcurrentFetcher[*mockFetchableItem](context.Background(), 2, 20, loadedInputChan(items...), nil)
	require.NoError(t, err)

	outChan, cancel, err := f.Start()
	require.NoError(t, err)

	var results []int
	for result := range outChan {
		results = append(results, result)
		if len(results) == 2 {
			cancel()
		}
	}

	assert.Less(t, len(results), len(items))
}

func TestConcurrentFetcherStartIsIdempotent(t *testing.T) {
	f, err := NewConcurrentFetcher[*mockFetchableItem](context.Background(), 2, 2, loadedInputChan(&mockFetchableItem{item: 7}), nil)
	require.NoError(t, err)

	outChan1, _, err := f.Start()
	require.NoError(t, err)
	outChan2, _, err := f.Start()
	require.NoError(t, err)
	assert.Equal(t, outChan1, outChan2)

	var results []int
	for result := range outChan1 {
		results = append(results, result)
	}
	assert.Equal(t, []int{7}, results)
}

func TestConcurrentFetcherOverwatch(t *testing.T) {
	ow := &mockOverwatch{}

	f, err := NewConcurrentFetcher[*mockFetchableItem](context.Background(), 2, 2, loadedInputChan(&mockFetchableItem{item: 1}), ow)
	require.NoError(t, err)

	outChan, _, err := f.Start()
	require.NoError(t, err)

	for range outChan {
	}

	// the stop call happens right after the output channel closes
	assert.Eventually(t, func() bool { return ow.stopped.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), ow.started.Load())
}
