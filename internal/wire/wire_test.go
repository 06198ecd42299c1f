package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, []byte("hello")))
	require.NoError(t, WriteMessage(&buf, []byte{}))
	require.NoError(t, WriteMessage(&buf, []byte("world")))

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)

	got, err = ReadMessage(&buf)
	require.NoError(t, err)
	require.Equal(t, []byte{}, got)

	got, err = ReadMessage(&buf)
	require.NoError(t, err)
	require.Equal(t, []byte("world"), got)
}

func TestReadMessageTransportLost(t *testing.T) {
	r := bytes.NewReader([]byte{0, 0})
	_, err := ReadMessage(r)
	require.Error(t, err)
	var lost *ErrTransportLost
	require.ErrorAs(t, err, &lost)
	require.Equal(t, "read", lost.Op)
}

func TestReadMessageRejectsOversizedFrame(t *testing.T) {
	var header [4]byte
	header[0] = 0xFF
	header[1] = 0xFF
	header[2] = 0xFF
	header[3] = 0xFF
	_, err := ReadMessage(bytes.NewReader(header[:]))
	require.Error(t, err)
}

func TestWriteMessageRejectsOversizedPayload(t *testing.T) {
	err := WriteMessage(io.Discard, make([]byte, MaxFrameSize+1))
	require.Error(t, err)
}

func TestJSONCodecEncodeParams(t *testing.T) {
	c := JSONCodec{}
	payload, err := c.EncodeParams([]interface{}{1, "two", 3.0})
	require.NoError(t, err)
	require.JSONEq(t, `[1,"two",3.0]`, string(payload))

	payload, err = c.EncodeParams(nil)
	require.NoError(t, err)
	require.JSONEq(t, `[]`, string(payload))
}

func TestJSONCodecDecodeResultTable(t *testing.T) {
	c := JSONCodec{}
	payload := []byte(`{"Columns":["id","name"],"Rows":[[1,"a"],[2,"b"]]}`)

	got, err := c.DecodeResult(ResultTable, payload)
	require.NoError(t, err)
	table, ok := got.(Table)
	require.True(t, ok)
	require.Equal(t, []string{"id", "name"}, table.Columns)
	require.Len(t, table.Rows, 2)

	got, err = c.DecodeResult(ResultRow, payload)
	require.NoError(t, err)
	_, ok = got.(Table)
	require.True(t, ok)

	got, err = c.DecodeResult(ResultTable, nil)
	require.NoError(t, err)
	require.Equal(t, Table{}, got)
}

func TestJSONCodecDecodeResultScalarArray(t *testing.T) {
	c := JSONCodec{}
	got, err := c.DecodeResult(ResultScalarArray, []byte(`[1,2,3]`))
	require.NoError(t, err)
	arr, ok := got.([]interface{})
	require.True(t, ok)
	require.Len(t, arr, 3)

	got, err = c.DecodeResult(ResultScalarArray, nil)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestJSONCodecDecodeResultScalar(t *testing.T) {
	c := JSONCodec{}
	got, err := c.DecodeResult(ResultScalar, []byte(`"ok"`))
	require.NoError(t, err)
	require.Equal(t, "ok", got)

	got, err = c.DecodeResult(ResultScalar, nil)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestResultTypeTagString(t *testing.T) {
	require.Equal(t, "table", ResultTable.String())
	require.Equal(t, "row", ResultRow.String())
	require.Equal(t, "scalar_array", ResultScalarArray.String())
	require.Equal(t, "scalar", ResultScalar.String())
	require.Equal(t, "unknown", ResultTypeTag(99).String())
}

func TestLoginRequestRoundTrip(t *testing.T) {
	req := LoginRequest{User: "alice"}
	for i := range req.PasswordHash {
		req.PasswordHash[i] = byte(i)
	}
	got, err := DecodeLoginRequest(EncodeLoginRequest(req))
	require.NoError(t, err)
	require.Equal(t, req, got)
}

func TestLoginResponseRoundTrip(t *testing.T) {
	resp := LoginResponse{
		Authenticated:         true,
		HostID:                7,
		ConnectionID:          42,
		BuildString:           "build-9",
		ClusterStartTimestamp: 1700000000000,
		LeaderEndpoint:        "10.0.0.1:21212",
		FailureMessage:        "",
	}
	got, err := DecodeLoginResponse(EncodeLoginResponse(resp))
	require.NoError(t, err)
	require.Equal(t, resp, got)
}

func TestLoginResponseRoundTripFailure(t *testing.T) {
	resp := LoginResponse{Authenticated: false, FailureMessage: "bad password"}
	got, err := DecodeLoginResponse(EncodeLoginResponse(resp))
	require.NoError(t, err)
	require.False(t, got.Authenticated)
	require.Equal(t, "bad password", got.FailureMessage)
}

func TestExecuteRequestRoundTrip(t *testing.T) {
	req := ExecuteRequest{ExecutionID: 123, Procedure: "get_account", ParamBlock: []byte(`[1]`)}
	got, err := DecodeExecuteRequest(EncodeExecuteRequest(req))
	require.NoError(t, err)
	require.Equal(t, req, got)
}

func TestExecuteResponseRoundTrip(t *testing.T) {
	resp := ExecuteResponse{
		ExecutionID:    123,
		Success:        true,
		DurationMillis: 17,
		ServerError:    "",
		ResultPayload:  []byte(`"ok"`),
	}
	got, err := DecodeExecuteResponse(EncodeExecuteResponse(resp))
	require.NoError(t, err)
	require.Equal(t, resp, got)
}

func TestExecuteResponseRoundTripFailure(t *testing.T) {
	resp := ExecuteResponse{ExecutionID: 9, Success: false, ServerError: "procedure not found"}
	got, err := DecodeExecuteResponse(EncodeExecuteResponse(resp))
	require.NoError(t, err)
	require.False(t, got.Success)
	require.Equal(t, "procedure not found", got.ServerError)
}

func TestPeekExecutionID(t *testing.T) {
	resp := ExecuteResponse{ExecutionID: 0xDEADBEEF, Success: true, ResultPayload: []byte(`1`)}
	payload := EncodeExecuteResponse(resp)

	id, err := PeekExecutionID(payload)
	require.NoError(t, err)
	require.Equal(t, uint64(0xDEADBEEF), id)
}

func TestPeekExecutionIDRejectsShortOrWrongKind(t *testing.T) {
	_, err := PeekExecutionID([]byte{1, 2, 3})
	require.Error(t, err)

	loginPayload := EncodeLoginRequest(LoginRequest{User: "x"})
	_, err = PeekExecutionID(loginPayload)
	require.Error(t, err)
}

func TestDecodeRejectsWrongKind(t *testing.T) {
	loginPayload := EncodeLoginRequest(LoginRequest{User: "x"})
	_, err := DecodeExecuteRequest(loginPayload)
	require.Error(t, err)

	_, err = DecodeLoginResponse(loginPayload)
	require.Error(t, err)
}
