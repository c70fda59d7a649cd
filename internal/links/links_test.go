package links

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mlerr "github.com/mistlake/mistlake-sql-go/errors"
	"github.com/mistlake/mistlake-sql-go/internal/chunks"
	"github.com/mistlake/mistlake-sql-go/internal/config"
)

// fakeBackend serves batchSize sequential links per call.
type fakeBackend struct {
	mu        sync.Mutex
	batchSize int
	expiry    time.Time
	delay     time.Duration
	err       error
	calls     int
}

func (b *fakeBackend) FetchLinks(ctx context.Context, startChunkIndex int64) ([]ResultLink, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()

	if b.delay > 0 {
		time.Sleep(b.delay)
	}

	if b.err != nil {
		return nil, b.err
	}

	var out []ResultLink
	for i := int64(0); i < int64(b.batchSize); i++ {
		idx := startChunkIndex + i
		out = append(out, ResultLink{
			ChunkIndex: idx,
			Link: chunks.ChunkLink{
				URL:    fmt.Sprintf("https://signed.example/chunk/%d", idx),
				Expiry: b.expiry,
			},
		})
	}
	return out, nil
}

func (b *fakeBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func TestResolverServesWholeBatchFromOneCall(t *testing.T) {
	backend := &fakeBackend{batchSize: 3, expiry: time.Now().Add(time.Hour)}
	r := NewResolver(backend, nil)

	for idx := int64(0); idx < 3; idx++ {
		link, err := r.ResolveLink(context.Background(), idx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("https://signed.example/chunk/%d", idx), link.URL)
	}

	assert.Equal(t, 1, backend.callCount())
}

func TestResolverCollapsesConcurrentRequests(t *testing.T) {
	backend := &fakeBackend{batchSize: 1, expiry: time.Now().Add(time.Hour), delay: 50 * time.Millisecond}
	r := NewResolver(backend, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			link, err := r.ResolveLink(context.Background(), 0)
			assert.NoError(t, err)
			assert.NotNil(t, link)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, backend.callCount())
}

func TestResolverRefetchesExpiredLink(t *testing.T) {
	now := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	fc := clockwork.NewFakeClockAt(now)

	backend := &fakeBackend{batchSize: 1, expiry: now.Add(2 * time.Hour)}
	r := NewResolver(backend, config.WithDefaults())
	r.setClock(fc)

	_, err := r.ResolveLink(context.Background(), 0)
	require.NoError(t, err)
	_, err = r.ResolveLink(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, backend.callCount())

	fc.Advance(3 * time.Hour)
	backend.expiry = now.Add(5 * time.Hour)

	_, err = r.ResolveLink(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, backend.callCount())
}

func TestResolverBackendError(t *testing.T) {
	backend := &fakeBackend{err: pkgerrors.New("backend down")}
	r := NewResolver(backend, nil)

	_, err := r.ResolveLink(context.Background(), 0)
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, mlerr.RequestError))
	assert.Contains(t, err.Error(), "backend down")
}

func TestResolverMissingIndex(t *testing.T) {
	// backend answers, but never with the requested chunk
	backend := &fakeBackend{batchSize: 0, expiry: time.Now().Add(time.Hour)}
	r := NewResolver(backend, nil)

	_, err := r.ResolveLink(context.Background(), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not return a link")
}

func TestResolverInvalidate(t *testing.T) {
	backend := &fakeBackend{batchSize: 1, expiry: time.Now().Add(time.Hour)}
	r := NewResolver(backend, nil)

	_, err := r.ResolveLink(context.Background(), 0)
	require.NoError(t, err)

	r.Invalidate(0)

	_, err = r.ResolveLink(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, backend.callCount())
}
