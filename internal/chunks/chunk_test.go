package chunks

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pierrec/lz4/v4"
	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mlerr "github.com/mistlake/mistlake-sql-go/errors"
	"github.com/mistlake/mistlake-sql-go/internal/compress"
	"github.com/mistlake/mistlake-sql-go/internal/config"
)

func futureLink(url string) ChunkLink {
	return ChunkLink{URL: url, Expiry: time.Now().Add(time.Hour)}
}

func TestChunkDownloadSuccess(t *testing.T) {
	stream := makeArrowStream(t, 60, 40)

	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("x-signed-token")
		_, _ = w.Write(stream)
	}))
	defer srv.Close()

	link := futureLink(srv.URL)
	link.Headers = map[string]string{"x-signed-token": "tok-123"}

	chunk := NewChunkWithLink(3, 0, totalRows(60, 40), "query-1", link, nil, nil)

	err := chunk.Download(context.Background(), srv.Client(), compress.None)
	require.NoError(t, err)

	assert.Equal(t, "tok-123", gotHeader)
	assert.Equal(t, StatusDownloadSucceeded, chunk.Status())
	assert.Equal(t, 2, chunk.RecordBatchCount())
	assert.Empty(t, chunk.ErrorMessage())
}

func TestChunkDownloadLz4(t *testing.T) {
	stream := makeArrowStream(t, 10)

	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	_, err := zw.Write(stream)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	chunk := NewChunkWithLink(0, 0, 10, "query-1", futureLink(srv.URL), nil, nil)

	require.NoError(t, chunk.Download(context.Background(), srv.Client(), compress.Lz4))
	assert.Equal(t, 1, chunk.RecordBatchCount())
}

func TestChunkDownloadHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	chunk := NewChunkWithLink(3, 0, 100, "query-1", futureLink(srv.URL), nil, nil)

	err := chunk.Download(context.Background(), srv.Client(), compress.None)
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, mlerr.RequestError))
	assert.Equal(t, StatusDownloadFailed, chunk.Status())
	assert.Contains(t, chunk.ErrorMessage(), "chunk 3")
	assert.Contains(t, chunk.ErrorMessage(), "query-1")
}

func TestChunkDownloadWithoutLink(t *testing.T) {
	chunk := NewChunk(0, 0, 100, "query-1", nil, nil)

	err := chunk.Download(context.Background(), http.DefaultClient, compress.None)
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, mlerr.RequestError))
	assert.Equal(t, StatusDownloadFailed, chunk.Status())
	assert.Equal(t, errChunkNoLink, chunk.ErrorMessage())
}

func TestChunkDownloadInjectedFailure(t *testing.T) {
	cfg := config.WithDefaults()
	cfg.TestOverrides = &config.TestOverrides{InjectDownloadFailure: pkgerrors.New("boom")}

	chunk := NewChunkWithLink(0, 0, 100, "query-1", futureLink("http://127.0.0.1:1"), cfg, nil)

	err := chunk.Download(context.Background(), http.DefaultClient, compress.None)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, StatusDownloadFailed, chunk.Status())
}

func TestChunkDownloadAfterReleaseIsDriverFault(t *testing.T) {
	chunk := NewChunkWithLink(0, 0, 100, "query-1", futureLink("http://127.0.0.1:1"), nil, nil)
	require.True(t, chunk.Release())

	err := chunk.Download(context.Background(), http.DefaultClient, compress.None)
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, mlerr.DriverError))
	assert.Equal(t, StatusReleased, chunk.Status())
}

func TestChunkReleaseIdempotent(t *testing.T) {
	stream := makeArrowStream(t, 5)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(stream)
	}))
	defer srv.Close()

	chunk := NewChunkWithLink(0, 0, 5, "query-1", futureLink(srv.URL), nil, nil)
	require.NoError(t, chunk.Download(context.Background(), srv.Client(), compress.None))
	require.Equal(t, 1, chunk.RecordBatchCount())

	assert.True(t, chunk.Release())
	assert.False(t, chunk.Release())
	assert.Equal(t, StatusReleased, chunk.Status())
	assert.Equal(t, 0, chunk.RecordBatchCount())
}

func TestChunkReleaseConcurrent(t *testing.T) {
	stream := makeArrowStream(t, 5)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(stream)
	}))
	defer srv.Close()

	chunk := NewChunkWithLink(0, 0, 5, "query-1", futureLink(srv.URL), nil, nil)
	require.NoError(t, chunk.Download(context.Background(), srv.Client(), compress.None))

	var wg sync.WaitGroup
	var released sync.Map
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			released.Store(i, chunk.Release())
		}(i)
	}
	wg.Wait()

	freed := 0
	released.Range(func(_, v any) bool {
		if v.(bool) {
			freed++
		}
		return true
	})
	assert.Equal(t, 1, freed)
}

func TestChunkLinkValidity(t *testing.T) {
	now := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	fc := clockwork.NewFakeClockAt(now)

	t.Run("pending chunk has no valid link", func(t *testing.T) {
		chunk := NewChunk(0, 0, 10, "query-1", nil, nil)
		chunk.setClock(fc)
		assert.True(t, chunk.IsLinkInvalid())
	})

	t.Run("fresh link is valid", func(t *testing.T) {
		chunk := NewChunkWithLink(0, 0, 10, "query-1", ChunkLink{URL: "u", Expiry: now.Add(2 * time.Hour)}, nil, nil)
		chunk.setClock(fc)
		assert.False(t, chunk.IsLinkInvalid())
	})

	t.Run("link inside safety margin is invalid", func(t *testing.T) {
		chunk := NewChunkWithLink(0, 0, 10, "query-1", ChunkLink{URL: "u", Expiry: now.Add(30 * time.Second)}, nil, nil)
		chunk.setClock(fc)
		assert.True(t, chunk.IsLinkInvalid())
	})

	t.Run("expiry check can be disabled for fake backends", func(t *testing.T) {
		cfg := config.WithDefaults()
		cfg.TestOverrides = &config.TestOverrides{DisableExpiryCheck: true}

		chunk := NewChunkWithLink(0, 0, 10, "query-1", ChunkLink{URL: "u", Expiry: now.Add(-time.Hour)}, cfg, nil)
		chunk.setClock(fc)
		assert.False(t, chunk.IsLinkInvalid())
	})
}

func TestChunkSetLinkRefresh(t *testing.T) {
	chunk := NewChunk(0, 0, 10, "query-1", nil, nil)
	require.NoError(t, chunk.SetLink(futureLink("http://first")))
	assert.Equal(t, StatusURLFetched, chunk.Status())
	assert.Equal(t, "http://first", chunk.URL())

	require.True(t, chunk.MarkDownloadFailed(""))
	require.NoError(t, chunk.MarkRetry())
	require.NoError(t, chunk.SetLink(futureLink("http://second")))
	assert.Equal(t, "http://second", chunk.URL())
}

func TestChunkSetLinkAfterReleaseFails(t *testing.T) {
	chunk := NewChunk(0, 0, 10, "query-1", nil, nil)
	require.True(t, chunk.Release())

	err := chunk.SetLink(futureLink("http://late"))
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, mlerr.DriverError))
	assert.Contains(t, err.Error(), "CHUNK_RELEASED")
}

func TestChunkMarkDownloadFailedAfterSuccessIsRejected(t *testing.T) {
	stream := makeArrowStream(t, 5)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(stream)
	}))
	defer srv.Close()

	chunk := NewChunkWithLink(0, 0, 5, "query-1", futureLink(srv.URL), nil, nil)
	require.NoError(t, chunk.Download(context.Background(), srv.Client(), compress.None))

	assert.False(t, chunk.MarkDownloadFailed("too late"))
	assert.Equal(t, StatusDownloadSucceeded, chunk.Status())
}

func TestChunkCancelThenRelease(t *testing.T) {
	chunk := NewChunkWithLink(0, 0, 10, "query-1", futureLink("http://u"), nil, nil)
	require.NoError(t, chunk.Cancel())
	assert.Equal(t, StatusCancelled, chunk.Status())
	assert.True(t, chunk.Release())
}

func TestInlineChunk(t *testing.T) {
	stream := makeArrowStream(t, 5)

	chunk, err := NewInlineChunk(0, 0, 5, "query-1", nil, stream, compress.None, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusExtractSucceeded, chunk.Status())
	assert.Equal(t, 1, chunk.RecordBatchCount())

	hint := chunk.TypeHint(0)
	require.NotNil(t, hint)
	assert.Equal(t, "BIGINT", *hint)

	assert.True(t, chunk.Release())
}

func TestInlineChunkBadBytes(t *testing.T) {
	chunk, err := NewInlineChunk(0, 0, 5, "query-1", nil, []byte("garbage"), compress.None, nil, nil)
	require.Error(t, err)
	assert.Equal(t, StatusExtractFailed, chunk.Status())
	assert.NotEmpty(t, chunk.ErrorMessage())
}
