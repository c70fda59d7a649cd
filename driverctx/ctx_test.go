package driverctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextIdRoundTrips(t *testing.T) {
	ctx := context.Background()

	assert.Empty(t, CorrelationIdFromContext(ctx))
	assert.Empty(t, ConnIdFromContext(ctx))
	assert.Empty(t, QueryIdFromContext(ctx))

	ctx = NewContextWithCorrelationId(ctx, "corr-1")
	ctx = NewContextWithConnId(ctx, "conn-1")
	ctx = NewContextWithQueryId(ctx, "query-1")

	assert.Equal(t, "corr-1", CorrelationIdFromContext(ctx))
	assert.Equal(t, "conn-1", ConnIdFromContext(ctx))
	assert.Equal(t, "query-1", QueryIdFromContext(ctx))
}

func TestChunkIndexFromContext(t *testing.T) {
	_, ok := ChunkIndexFromContext(context.Background())
	assert.False(t, ok)

	ctx := NewContextWithChunkIndex(context.Background(), 42)
	idx, ok := ChunkIndexFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, int64(42), idx)
}

func TestNilContext(t *testing.T) {
	assert.Empty(t, CorrelationIdFromContext(nil))
	assert.Empty(t, ConnIdFromContext(nil))
	assert.Empty(t, QueryIdFromContext(nil))

	_, ok := ChunkIndexFromContext(nil)
	assert.False(t, ok)
}

func TestNewContextFromBackground(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = NewContextWithConnId(ctx, "conn-1")
	ctx = NewContextWithQueryId(ctx, "query-1")
	ctx = NewContextWithChunkIndex(ctx, 7)
	cancel()

	fresh := NewContextFromBackground(ctx)
	assert.NoError(t, fresh.Err())
	assert.Equal(t, "conn-1", ConnIdFromContext(fresh))
	assert.Equal(t, "query-1", QueryIdFromContext(fresh))

	idx, ok := ChunkIndexFromContext(fresh)
	assert.True(t, ok)
	assert.Equal(t, int64(7), idx)
}
