package wire

import "encoding/json"

// ResultTypeTag selects the shape of a decoded result, matching spec.md's
// dynamic result typing: table of rows, single row, array of scalars, or a
// single scalar. The wire layer only threads the tag through to the codec;
// it never inspects the decoded value itself.
type ResultTypeTag uint8

const (
	ResultTable ResultTypeTag = iota
	ResultRow
	ResultScalarArray
	ResultScalar
)

func (t ResultTypeTag) String() string {
	switch t {
	case ResultTable:
		return "table"
	case ResultRow:
		return "row"
	case ResultScalarArray:
		return "scalar_array"
	case ResultScalar:
		return "scalar"
	default:
		return "unknown"
	}
}

// Table is the tabular shape produced by ResultTable/ResultRow decodes.
type Table struct {
	Columns []string
	Rows    [][]interface{}
}

// ValueCodec is the external collaborator spec.md §4.1/§6 delegates
// parameter and result (de)serialization to. The wire and cache packages
// never look inside the bytes it produces or consumes; they only move them
// across the frame and the execution-id envelope.
//
// A real deployment supplies a codec matching the server's actual wire
// format. JSONCodec below is a minimal default so the rest of the core is
// exercisable without that external component.
type ValueCodec interface {
	// EncodeParams serializes an ordered parameter list into the bytes
	// that follow the procedure name in a request frame.
	EncodeParams(params []interface{}) ([]byte, error)
	// DecodeResult deserializes the bytes that follow the envelope in a
	// response frame into the shape indicated by tag.
	DecodeResult(tag ResultTypeTag, payload []byte) (interface{}, error)
}

// JSONCodec is a default ValueCodec implementation backed by encoding/json.
// It exists purely so this repository's core is testable without a real
// server-side value codec; production use is expected to supply one
// matching the actual wire format (spec.md explicitly treats value codecs
// as out of scope for the driver core).
type JSONCodec struct{}

func (JSONCodec) EncodeParams(params []interface{}) ([]byte, error) {
	if params == nil {
		params = []interface{}{}
	}
	return json.Marshal(params)
}

func (JSONCodec) DecodeResult(tag ResultTypeTag, payload []byte) (interface{}, error) {
	switch tag {
	case ResultTable, ResultRow:
		var t Table
		if len(payload) == 0 {
			return t, nil
		}
		if err := json.Unmarshal(payload, &t); err != nil {
			return nil, err
		}
		return t, nil
	case ResultScalarArray:
		var arr []interface{}
		if len(payload) == 0 {
			return arr, nil
		}
		if err := json.Unmarshal(payload, &arr); err != nil {
			return nil, err
		}
		return arr, nil
	default: // ResultScalar
		var v interface{}
		if len(payload) == 0 {
			return nil, nil
		}
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}
