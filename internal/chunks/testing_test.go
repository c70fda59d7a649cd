package chunks

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/ipc"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/stretchr/testify/require"
)

// testSchema returns a two column schema annotated with the semantic
// type hints the server attaches to chunk streams.
func testSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{
			Name:     "id",
			Type:     arrow.PrimitiveTypes.Int64,
			Nullable: true,
			Metadata: arrow.NewMetadata([]string{ColumnTypeHintKey}, []string{"BIGINT"}),
		},
		{
			Name:     "name",
			Type:     arrow.BinaryTypes.String,
			Nullable: true,
			Metadata: arrow.NewMetadata([]string{ColumnTypeHintKey}, []string{"STRING"}),
		},
	}, nil)
}

// makeArrowStream serializes one record batch per row count, zero row
// batches included. Row values are sequential across batches: id n and
// name "row-n" for the n-th row of the stream, with every 7th name null.
func makeArrowStream(t *testing.T, rowCounts ...int) []byte {
	t.Helper()

	pool := memory.NewGoAllocator()
	schema := testSchema()

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema), ipc.WithAllocator(pool))

	builder := array.NewRecordBuilder(pool, schema)
	defer builder.Release()

	row := 0
	for _, n := range rowCounts {
		for i := 0; i < n; i++ {
			builder.Field(0).(*array.Int64Builder).Append(int64(row))
			if row%7 == 6 {
				builder.Field(1).(*array.StringBuilder).AppendNull()
			} else {
				builder.Field(1).(*array.StringBuilder).Append(fmt.Sprintf("row-%d", row))
			}
			row++
		}

		record := builder.NewRecord()
		err := w.Write(record)
		record.Release()
		require.NoError(t, err)
	}

	require.NoError(t, w.Close())

	return buf.Bytes()
}

func totalRows(rowCounts ...int) int64 {
	var n int64
	for _, c := range rowCounts {
		n += int64(c)
	}
	return n
}
