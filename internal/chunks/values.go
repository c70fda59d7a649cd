package chunks

import (
	"database/sql/driver"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/decimal128"
	"github.com/pkg/errors"
)

// ValueConverter turns one cell of a decoded column vector into a
// client visible value. The default implementation handles the wire
// types this engine decodes; richer client type systems plug in their
// own converter.
type ValueConverter interface {
	Convert(col arrow.Array, rowIndex int, typeHint *string) (driver.Value, error)
}

// columnValues is the accessor for the values of one column vector.
type columnValues interface {
	Value(int) any
	IsNull(int) bool
	Release()
}

// a type constraint for the value types we handle that are returned in
// the decoded records
type valueTypes interface {
	bool |
		int8 |
		int16 |
		int32 |
		int64 |
		float32 |
		float64 |
		string |
		arrow.Date32 |
		[]byte |
		decimal128.Num |
		arrow.Timestamp
}

// a type constraint for the arrow array types we handle that are
// returned in the decoded records
type arrowArrayTypes interface {
	*array.Boolean |
		*array.Int8 |
		*array.Int16 |
		*array.Int32 |
		*array.Int64 |
		*array.Float32 |
		*array.Float64 |
		*array.String |
		*array.Date32 |
		*array.Binary |
		*array.Decimal128 |
		*array.Timestamp
}

// type constraint for wrapping arrow arrays
type columnValuesHolder[T valueTypes] interface {
	arrowArrayTypes
	Value(int) T
	IsNull(int) bool
	Retain()
	Release()
}

// a generic container pairing an arrow array type with its value type
type columnValuesTyped[ValueHolderType columnValuesHolder[ValueType], ValueType valueTypes] struct {
	holder ValueHolderType
}

func (cv *columnValuesTyped[X, T]) Value(rowNum int) any {
	return cv.holder.Value(rowNum)
}

func (cv *columnValuesTyped[X, T]) IsNull(rowNum int) bool {
	return cv.holder.IsNull(rowNum)
}

func (cv *columnValuesTyped[X, T]) Release() {
	cv.holder.Release()
}

var _ columnValues = (*columnValuesTyped[*array.Int16, int16])(nil)

// newColumnValues produces the accessor for a column vector with a
// single exhaustive dispatch over the wire types we decode. The
// underlying array is retained; callers release the accessor when done.
func newColumnValues(col arrow.Array) (columnValues, error) {
	var cv columnValues

	switch a := col.(type) {
	case *array.Boolean:
		cv = &columnValuesTyped[*array.Boolean, bool]{holder: a}
	case *array.Int8:
		cv = &columnValuesTyped[*array.Int8, int8]{holder: a}
	case *array.Int16:
		cv = &columnValuesTyped[*array.Int16, int16]{holder: a}
	case *array.Int32:
		cv = &columnValuesTyped[*array.Int32, int32]{holder: a}
	case *array.Int64:
		cv = &columnValuesTyped[*array.Int64, int64]{holder: a}
	case *array.Float32:
		cv = &columnValuesTyped[*array.Float32, float32]{holder: a}
	case *array.Float64:
		cv = &columnValuesTyped[*array.Float64, float64]{holder: a}
	case *array.String:
		cv = &columnValuesTyped[*array.String, string]{holder: a}
	case *array.Date32:
		cv = &columnValuesTyped[*array.Date32, arrow.Date32]{holder: a}
	case *array.Binary:
		cv = &columnValuesTyped[*array.Binary, []byte]{holder: a}
	case *array.Decimal128:
		cv = &columnValuesTyped[*array.Decimal128, decimal128.Num]{holder: a}
	case *array.Timestamp:
		cv = &columnValuesTyped[*array.Timestamp, arrow.Timestamp]{holder: a}
	default:
		return nil, errors.Errorf("mistlake: unsupported column type %s", col.DataType().Name())
	}

	col.Retain()
	return cv, nil
}

// defaultConverter converts decoded values to driver values, rendering
// dates and timestamps in the given location.
type defaultConverter struct {
	loc *time.Location
}

// NewValueConverter returns the default value converter. A nil location
// means UTC.
func NewValueConverter(loc *time.Location) ValueConverter {
	if loc == nil {
		loc = time.UTC
	}
	return &defaultConverter{loc: loc}
}

var _ ValueConverter = (*defaultConverter)(nil)

func (c *defaultConverter) Convert(col arrow.Array, rowIndex int, typeHint *string) (driver.Value, error) {
	if col.IsNull(rowIndex) {
		return nil, nil
	}

	cv, err := newColumnValues(col)
	if err != nil {
		return nil, err
	}
	defer cv.Release()

	val := cv.Value(rowIndex)

	switch dt := col.DataType().(type) {
	case *arrow.Date32Type:
		return val.(arrow.Date32).ToTime().In(c.loc), nil

	case *arrow.TimestampType:
		toTime, err := dt.GetToTimeFunc()
		if err != nil {
			return nil, err
		}
		return toTime(val.(arrow.Timestamp)).In(c.loc), nil

	case *arrow.Decimal128Type:
		return val.(decimal128.Num).ToFloat64(dt.Scale), nil
	}

	return val, nil
}
