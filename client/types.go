package client

import (
	"fmt"

	"github.com/nimbusdb/goclient/internal/wire"
)

// Response is the completed outcome of a procedure execution, parameterized
// by the decoded result shape T (spec.md §9 "Dynamic result typing").
type Response[T any] struct {
	Result         T
	ServerDuration int64 // milliseconds, as reported by the server
	BytesReceived  int64
}

// Decoder converts the codec's decoded-but-untyped result into the concrete
// T a Handle[T] promises its callers, implementing spec.md §9's
// tagged-variant decoding (table of rows, single row, array of scalars, or
// scalar). Tag tells the ValueCodec which shape to produce; Decode then
// narrows that shape to T.
type Decoder[T any] interface {
	Tag() wire.ResultTypeTag
	Decode(raw interface{}) (T, error)
}

// TableDecoder decodes the full result table, unmodified.
type TableDecoder struct{}

func (TableDecoder) Tag() wire.ResultTypeTag { return wire.ResultTable }

func (TableDecoder) Decode(raw interface{}) (wire.Table, error) {
	t, ok := raw.(wire.Table)
	if !ok {
		return wire.Table{}, fmt.Errorf("client: expected wire.Table, got %T", raw)
	}
	return t, nil
}

// RowDecoder decodes a single-row result into its raw column values.
type RowDecoder struct{}

func (RowDecoder) Tag() wire.ResultTypeTag { return wire.ResultRow }

func (RowDecoder) Decode(raw interface{}) ([]interface{}, error) {
	t, ok := raw.(wire.Table)
	if !ok {
		return nil, fmt.Errorf("client: expected wire.Table, got %T", raw)
	}
	if len(t.Rows) == 0 {
		return nil, nil
	}
	return t.Rows[0], nil
}

// ScalarDecoder decodes a single scalar value.
type ScalarDecoder struct{}

func (ScalarDecoder) Tag() wire.ResultTypeTag { return wire.ResultScalar }

func (ScalarDecoder) Decode(raw interface{}) (interface{}, error) {
	return raw, nil
}

// ScalarArrayDecoder decodes an array of scalars.
type ScalarArrayDecoder struct{}

func (ScalarArrayDecoder) Tag() wire.ResultTypeTag { return wire.ResultScalarArray }

func (ScalarArrayDecoder) Decode(raw interface{}) ([]interface{}, error) {
	arr, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("client: expected []interface{}, got %T", raw)
	}
	return arr, nil
}
