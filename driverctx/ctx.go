// Package driverctx carries request scoped identifiers through a
// context.Context so that log messages and errors produced anywhere in
// the result retrieval path can be correlated with the originating
// connection, query and chunk.
package driverctx

import (
	"context"
)

// custom key type to prevent collisions with other context values
type contextKey int

const (
	correlationIdContextKey contextKey = iota
	connIdContextKey
	queryIdContextKey
	chunkIndexContextKey
)

// NewContextWithCorrelationId creates a new context with a user provided
// correlationId value. Appears in log messages as field corrId.
func NewContextWithCorrelationId(ctx context.Context, correlationId string) context.Context {
	return context.WithValue(ctx, correlationIdContextKey, correlationId)
}

// CorrelationIdFromContext retrieves the correlationId stored in context.
func CorrelationIdFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	corrId, ok := ctx.Value(correlationIdContextKey).(string)
	if !ok {
		return ""
	}
	return corrId
}

// NewContextWithConnId creates a new context with a connectionId value.
// The connection id will be displayed in log messages and other
// diagnostic information.
func NewContextWithConnId(ctx context.Context, connId string) context.Context {
	return context.WithValue(ctx, connIdContextKey, connId)
}

// ConnIdFromContext retrieves the connectionId stored in context.
func ConnIdFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	connId, ok := ctx.Value(connIdContextKey).(string)
	if !ok {
		return ""
	}
	return connId
}

// NewContextWithQueryId creates a new context with a queryId value.
// The query id will be displayed in log messages and other diagnostic
// information.
func NewContextWithQueryId(ctx context.Context, queryId string) context.Context {
	return context.WithValue(ctx, queryIdContextKey, queryId)
}

// QueryIdFromContext retrieves the queryId stored in context.
func QueryIdFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	queryId, ok := ctx.Value(queryIdContextKey).(string)
	if !ok {
		return ""
	}
	return queryId
}

// NewContextWithChunkIndex creates a new context carrying the index of
// the chunk currently being downloaded.
func NewContextWithChunkIndex(ctx context.Context, chunkIndex int64) context.Context {
	return context.WithValue(ctx, chunkIndexContextKey, chunkIndex)
}

// ChunkIndexFromContext retrieves the chunk index stored in context.
// The second return value is false if no chunk index was set.
func ChunkIndexFromContext(ctx context.Context) (int64, bool) {
	if ctx == nil {
		return 0, false
	}

	chunkIndex, ok := ctx.Value(chunkIndexContextKey).(int64)
	return chunkIndex, ok
}

// NewContextFromBackground copies the identifiers from ctx onto a fresh
// background context. Used when kicking off work that must outlive the
// caller's deadline but should keep its diagnostic identity.
func NewContextFromBackground(ctx context.Context) context.Context {
	newCtx := NewContextWithConnId(context.Background(), ConnIdFromContext(ctx))
	newCtx = NewContextWithCorrelationId(newCtx, CorrelationIdFromContext(ctx))
	newCtx = NewContextWithQueryId(newCtx, QueryIdFromContext(ctx))

	if chunkIndex, ok := ChunkIndexFromContext(ctx); ok {
		newCtx = NewContextWithChunkIndex(newCtx, chunkIndex)
	}

	return newCtx
}
