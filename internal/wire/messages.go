package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Message kinds occupy the first byte of every frame payload. Only the
// driver core's own envelope fields live at this layer; parameter and
// result bytes are opaque to it.
const (
	KindLogin byte = iota + 1
	KindLoginResponse
	KindExecute
	KindExecuteResponse
)

// LoginRequest is the handshake frame a node connection sends immediately
// after the byte stream opens.
type LoginRequest struct {
	User         string
	PasswordHash [32]byte // sha256 of the plaintext password
}

func EncodeLoginRequest(req LoginRequest) []byte {
	var buf bytes.Buffer
	buf.WriteByte(KindLogin)
	writeString(&buf, req.User)
	buf.Write(req.PasswordHash[:])
	return buf.Bytes()
}

func DecodeLoginRequest(payload []byte) (LoginRequest, error) {
	r := bytes.NewReader(payload)
	kind, err := r.ReadByte()
	if err != nil || kind != KindLogin {
		return LoginRequest{}, fmt.Errorf("wire: not a login request")
	}
	user, err := readString(r)
	if err != nil {
		return LoginRequest{}, err
	}
	var hash [32]byte
	if _, err := io.ReadFull(r, hash[:]); err != nil {
		return LoginRequest{}, fmt.Errorf("wire: truncated login request: %w", err)
	}
	return LoginRequest{User: user, PasswordHash: hash}, nil
}

// LoginResponse carries the server-reported identity spec.md §4.5 requires
// a node connection to record on a successful handshake.
type LoginResponse struct {
	Authenticated          bool
	HostID                 uint64
	ConnectionID           uint64
	BuildString            string
	ClusterStartTimestamp  int64 // unix millis
	LeaderEndpoint         string
	FailureMessage         string
}

func EncodeLoginResponse(resp LoginResponse) []byte {
	var buf bytes.Buffer
	buf.WriteByte(KindLoginResponse)
	if resp.Authenticated {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	writeUint64(&buf, resp.HostID)
	writeUint64(&buf, resp.ConnectionID)
	writeString(&buf, resp.BuildString)
	writeInt64(&buf, resp.ClusterStartTimestamp)
	writeString(&buf, resp.LeaderEndpoint)
	writeString(&buf, resp.FailureMessage)
	return buf.Bytes()
}

func DecodeLoginResponse(payload []byte) (LoginResponse, error) {
	r := bytes.NewReader(payload)
	kind, err := r.ReadByte()
	if err != nil || kind != KindLoginResponse {
		return LoginResponse{}, fmt.Errorf("wire: not a login response")
	}
	okByte, err := r.ReadByte()
	if err != nil {
		return LoginResponse{}, err
	}
	resp := LoginResponse{Authenticated: okByte == 1}
	if resp.HostID, err = readUint64(r); err != nil {
		return LoginResponse{}, err
	}
	if resp.ConnectionID, err = readUint64(r); err != nil {
		return LoginResponse{}, err
	}
	if resp.BuildString, err = readString(r); err != nil {
		return LoginResponse{}, err
	}
	if resp.ClusterStartTimestamp, err = readInt64(r); err != nil {
		return LoginResponse{}, err
	}
	if resp.LeaderEndpoint, err = readString(r); err != nil {
		return LoginResponse{}, err
	}
	if resp.FailureMessage, err = readString(r); err != nil {
		return LoginResponse{}, err
	}
	return resp, nil
}

// ExecuteRequest is a procedure-call request frame. ParamBlock is opaque
// bytes produced by a ValueCodec.
type ExecuteRequest struct {
	ExecutionID uint64
	Procedure   string
	ParamBlock  []byte
}

func EncodeExecuteRequest(req ExecuteRequest) []byte {
	var buf bytes.Buffer
	buf.WriteByte(KindExecute)
	writeUint64(&buf, req.ExecutionID)
	writeString(&buf, req.Procedure)
	buf.Write(req.ParamBlock)
	return buf.Bytes()
}

func DecodeExecuteRequest(payload []byte) (ExecuteRequest, error) {
	r := bytes.NewReader(payload)
	kind, err := r.ReadByte()
	if err != nil || kind != KindExecute {
		return ExecuteRequest{}, fmt.Errorf("wire: not an execute request")
	}
	req := ExecuteRequest{}
	if req.ExecutionID, err = readUint64(r); err != nil {
		return ExecuteRequest{}, err
	}
	if req.Procedure, err = readString(r); err != nil {
		return ExecuteRequest{}, err
	}
	req.ParamBlock = make([]byte, r.Len())
	if _, err := io.ReadFull(r, req.ParamBlock); err != nil {
		return ExecuteRequest{}, err
	}
	return req, nil
}

// ExecuteResponse is a procedure-call response frame. ResultPayload is
// opaque bytes for the ValueCodec to decode once the caller supplies the
// ResultTypeTag it expects.
type ExecuteResponse struct {
	ExecutionID    uint64
	Success        bool
	DurationMillis int32
	ServerError    string
	ResultPayload  []byte
}

func EncodeExecuteResponse(resp ExecuteResponse) []byte {
	var buf bytes.Buffer
	buf.WriteByte(KindExecuteResponse)
	writeUint64(&buf, resp.ExecutionID)
	if resp.Success {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	writeInt32(&buf, resp.DurationMillis)
	writeString(&buf, resp.ServerError)
	buf.Write(resp.ResultPayload)
	return buf.Bytes()
}

func DecodeExecuteResponse(payload []byte) (ExecuteResponse, error) {
	r := bytes.NewReader(payload)
	kind, err := r.ReadByte()
	if err != nil || kind != KindExecuteResponse {
		return ExecuteResponse{}, fmt.Errorf("wire: not an execute response")
	}
	resp := ExecuteResponse{}
	if resp.ExecutionID, err = readUint64(r); err != nil {
		return ExecuteResponse{}, err
	}
	okByte, err := r.ReadByte()
	if err != nil {
		return ExecuteResponse{}, err
	}
	resp.Success = okByte == 1
	if resp.DurationMillis, err = readInt32(r); err != nil {
		return ExecuteResponse{}, err
	}
	if resp.ServerError, err = readString(r); err != nil {
		return ExecuteResponse{}, err
	}
	resp.ResultPayload = make([]byte, r.Len())
	if _, err := io.ReadFull(r, resp.ResultPayload); err != nil {
		return ExecuteResponse{}, err
	}
	return resp, nil
}

// PeekExecutionID reads just enough of a response payload to recover the
// execution id that correlates it to a pending request, without decoding
// the rest of the envelope. The receive loop uses this for the cache
// lookup before doing the (potentially larger) full decode.
func PeekExecutionID(payload []byte) (uint64, error) {
	if len(payload) < 9 {
		return 0, fmt.Errorf("wire: response frame too short")
	}
	if payload[0] != KindExecuteResponse {
		return 0, fmt.Errorf("wire: not an execute response")
	}
	return binary.BigEndian.Uint64(payload[1:9]), nil
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	if uint32(r.Len()) < n {
		return "", fmt.Errorf("wire: truncated string field")
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func writeInt64(buf *bytes.Buffer, v int64) { writeUint64(buf, uint64(v)) }

func readInt64(r *bytes.Reader) (int64, error) {
	v, err := readUint64(r)
	return int64(v), err
}

func writeInt32(buf *bytes.Buffer, v int32) { writeUint32(buf, uint32(v)) }

func readInt32(r *bytes.Reader) (int32, error) {
	v, err := readUint32(r)
	return int32(v), err
}
