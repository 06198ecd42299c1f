// Package wire implements the length-prefixed framing that carries request
// and response envelopes between a node connection and its byte stream, and
// defines the seam (ValueCodec) through which individual parameter values
// and result tables are serialized by an external collaborator.
//
// The wire package is oblivious to procedure semantics: it only knows how
// to move whole frames across an io.Reader/io.Writer and how to lay out the
// envelope fields (execution id, status, duration, error string) around
// whatever bytes the codec produces.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame so a corrupt length prefix can't make
// the reader allocate unbounded memory.
const MaxFrameSize = 64 * 1024 * 1024

// ErrTransportLost is returned by ReadMessage/WriteMessage when the
// underlying stream failed (EOF, reset, or any I/O error).
type ErrTransportLost struct {
	Op    string
	Cause error
}

func (e *ErrTransportLost) Error() string {
	return fmt.Sprintf("wire: transport lost during %s: %v", e.Op, e.Cause)
}

func (e *ErrTransportLost) Unwrap() error { return e.Cause }

// WriteMessage writes one length-prefixed frame. It does not synchronize
// with other writers; callers that share a single stream across goroutines
// (a NodeConnection does) must serialize calls themselves.
func WriteMessage(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("wire: payload of %d bytes exceeds max frame size", len(payload))
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return &ErrTransportLost{Op: "write", Cause: err}
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return &ErrTransportLost{Op: "write", Cause: err}
	}
	return nil
}

// ReadMessage reads the next complete frame from r, blocking until it is
// fully available or the stream fails.
func ReadMessage(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, &ErrTransportLost{Op: "read", Cause: err}
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("wire: frame of %d bytes exceeds max frame size", n)
	}
	if n == 0 {
		return []byte{}, nil
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, &ErrTransportLost{Op: "read", Cause: err}
	}
	return payload, nil
}
