package chunks

import (
	"context"
	"database/sql/driver"

	dbsqlerrint "github.com/mistlake/mistlake-sql-go/internal/errors"
	"github.com/mistlake/mistlake-sql-go/telemetry"
)

// ChunkRowIterator is a forward only, non restartable cursor over the
// rows of one decoded chunk. It walks record batch boundaries
// transparently, skipping batches with zero rows, and never yields more
// than the chunk's declared row count.
type ChunkRowIterator struct {
	chunk     *Chunk
	converter ValueConverter
	sink      telemetry.Sink

	// index of the record batch the cursor is on, -1 before iteration
	// has started
	batchIndex int

	// row position within the current batch, -1 before the first row
	rowIndex int

	// cached row count of the current batch
	batchRowCount int64

	rowsConsumed int64
	closed       bool
}

// NewChunkRowIterator returns an iterator over the chunk's rows. The
// chunk must hold decoded data. A nil converter falls back to the
// default converter with UTC rendering; a nil sink discards telemetry.
func NewChunkRowIterator(chunk *Chunk, converter ValueConverter, sink telemetry.Sink) (*ChunkRowIterator, error) {
	status := chunk.Status()
	if status != StatusDownloadSucceeded && status != StatusProcessingSucceeded {
		return nil, dbsqlerrint.NewDriverError(context.Background(), errChunkNotDecoded, nil)
	}

	if converter == nil {
		converter = NewValueConverter(nil)
	}

	return &ChunkRowIterator{
		chunk:      chunk,
		converter:  converter,
		sink:       telemetry.Guard(sink),
		batchIndex: -1,
		rowIndex:   -1,
	}, nil
}

// HasNext returns false once all declared rows have been consumed or no
// non-empty batch remains.
func (it *ChunkRowIterator) HasNext() bool {
	if it.rowsConsumed >= it.chunk.NumRows() {
		return false
	}

	if it.batchIndex >= 0 && int64(it.rowIndex+1) < it.batchRowCount {
		return true
	}

	for i := it.batchIndex + 1; ; i++ {
		record := it.chunk.batch(i)
		if record == nil {
			return false
		}
		if record.NumRows() > 0 {
			return true
		}
	}
}

// Next advances the cursor one row, moving across record batches and
// skipping empty ones. Returns false when no rows remain; further calls
// keep returning false.
func (it *ChunkRowIterator) Next() bool {
	if it.rowsConsumed >= it.chunk.NumRows() {
		return false
	}

	if it.batchIndex < 0 || int64(it.rowIndex+1) >= it.batchRowCount {
		i := it.batchIndex + 1
		for {
			record := it.chunk.batch(i)
			if record == nil {
				return false
			}
			if record.NumRows() > 0 {
				it.batchIndex = i
				it.batchRowCount = record.NumRows()
				it.rowIndex = -1
				break
			}
			i++
		}
	}

	it.rowIndex++
	it.rowsConsumed++
	return true
}

// ColumnValue converts the value in the given column of the current row.
func (it *ChunkRowIterator) ColumnValue(columnIndex int) (driver.Value, error) {
	if it.batchIndex < 0 || it.rowIndex < 0 {
		return nil, dbsqlerrint.NewDriverError(context.Background(), errChunkIteratorNotStarted, nil)
	}

	record := it.chunk.batch(it.batchIndex)
	if record == nil {
		return nil, dbsqlerrint.NewDriverError(context.Background(), errChunkNotDecoded, nil)
	}

	if columnIndex < 0 || columnIndex >= int(record.NumCols()) {
		return nil, dbsqlerrint.NewDriverError(context.Background(), errChunkInvalidColumnIndex(columnIndex), nil)
	}

	return it.converter.Convert(record.Column(columnIndex), it.rowIndex, it.chunk.TypeHint(columnIndex))
}

// ColumnTypeHint returns the semantic type annotation for the given
// column, nil if the server supplied none.
func (it *ChunkRowIterator) ColumnTypeHint(columnIndex int) *string {
	return it.chunk.TypeHint(columnIndex)
}

// RowsConsumed returns how many rows the cursor has yielded so far.
func (it *ChunkRowIterator) RowsConsumed() int64 {
	return it.rowsConsumed
}

// Close reports the iteration to telemetry. It does not release the
// chunk; that remains the orchestrator's job.
func (it *ChunkRowIterator) Close() {
	if it.closed {
		return
	}
	it.closed = true
	it.sink.RecordChunkIteration(it.rowsConsumed, it.chunk.Index(), it.chunk.QueryId())
}
