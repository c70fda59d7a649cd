package chunks

import (
	"context"
	"io"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/ipc"
	"github.com/apache/arrow/go/v12/arrow/memory"

	dbsqlerrint "github.com/mistlake/mistlake-sql-go/internal/errors"
	"github.com/mistlake/mistlake-sql-go/logger"
)

// ColumnTypeHintKey is the schema metadata key under which the server
// annotates each column with its semantic type name. The wire level
// arrow type alone cannot distinguish e.g. a STRING column from an
// ARRAY column serialized as JSON text.
const ColumnTypeHintKey = "mistlake:typeName"

// arrowStreamDecoder parses a decompressed arrow IPC stream into record
// batches whose buffers are owned by a caller supplied arena. The
// decoder never frees the arena itself; that is the chunk's job.
type arrowStreamDecoder struct {
	alloc      memory.Allocator
	chunkIndex int64
	lgr        *logger.Logger
}

func newArrowStreamDecoder(alloc memory.Allocator, chunkIndex int64, lgr *logger.Logger) *arrowStreamDecoder {
	if lgr == nil {
		lgr = logger.Log
	}
	return &arrowStreamDecoder{alloc: alloc, chunkIndex: chunkIndex, lgr: lgr}
}

// decode reads every record batch from r. Column type hints are captured
// once, from the first batch; subsequent batches are assumed to share
// the schema. Each returned record has been retained and must be
// released by the caller exactly once.
//
// If ctx is cancelled mid stream the batches accumulated so far are
// released and an empty result is returned without an error. A short or
// empty chunk is what the consumer sees in that case.
func (d *arrowStreamDecoder) decode(ctx context.Context, r io.Reader) ([]arrow.Record, []*string, error) {
	ipcReader, err := ipc.NewReader(r, ipc.WithAllocator(d.alloc))
	if err != nil {
		return nil, nil, dbsqlerrint.WrapErr(err, errChunkDecodeFailed)
	}

	defer ipcReader.Release()

	var records []arrow.Record
	var typeHints []*string

	for ipcReader.Next() {
		if ctx.Err() != nil {
			releaseRecords(records)
			d.lgr.Warn().Msgf("mistlake: chunk %d decode interrupted, dropping %d batches", d.chunkIndex, len(records))
			return nil, nil, nil
		}

		record := ipcReader.Record()
		record.Retain()
		records = append(records, record)

		if typeHints == nil {
			typeHints = columnTypeHints(record.Schema())
		}
	}

	if err := ipcReader.Err(); err != nil && err != io.EOF {
		releaseRecords(records)
		return nil, nil, dbsqlerrint.WrapErrf(err, "%s: chunk %d", errChunkDecodeFailed, d.chunkIndex)
	}

	if ctx.Err() != nil {
		releaseRecords(records)
		d.lgr.Warn().Msgf("mistlake: chunk %d decode interrupted, dropping %d batches", d.chunkIndex, len(records))
		return nil, nil, nil
	}

	return records, typeHints, nil
}

// columnTypeHints pulls the semantic type annotation for each column
// from the schema, nil for columns without one.
func columnTypeHints(schema *arrow.Schema) []*string {
	fields := schema.Fields()
	hints := make([]*string, len(fields))

	for i := range fields {
		md := fields[i].Metadata
		if idx := md.FindKey(ColumnTypeHintKey); idx >= 0 {
			hint := md.Values()[idx]
			hints[i] = &hint
		}
	}

	return hints
}

func releaseRecords(records []arrow.Record) {
	for i := range records {
		records[i].Release()
	}
}
