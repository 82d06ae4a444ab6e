// Package ipc defines the wire format exchanged between a Worker Instance
// (parent) and its Worker Process (child): a closed set of frame types over
// a length-prefixed JSON encoding, safe to multiplex by request id on a
// single persistent connection.
package ipc

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// FrameType is the closed tagged-union discriminant for every frame that
// crosses the parent/child boundary.
type FrameType string

const (
	// FrameRequest carries an inbound HTTP request for the child to handle.
	FrameRequest FrameType = "REQUEST"
	// FrameResponse carries the child's completed HTTP response.
	FrameResponse FrameType = "RESPONSE"
	// FrameError carries a handler failure for a specific request id.
	FrameError FrameType = "ERROR"
	// FrameReady signals the child finished startup and can serve requests.
	FrameReady FrameType = "READY"
	// FrameIdle tells the child it has crossed the idle threshold.
	FrameIdle FrameType = "IDLE"
	// FrameTerminate tells the child to run its shutdown hook and exit.
	FrameTerminate FrameType = "TERMINATE"
)

// maxFrameBytes bounds a single frame's encoded size to guard against a
// runaway child wedging the parent's decoder on a corrupt length prefix.
const maxFrameBytes = 64 << 20 // 64 MiB

// RequestPayload is the body of a REQUEST frame.
type RequestPayload struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    []byte            `json:"body"`
}

// ResponsePayload is the body of a RESPONSE frame.
type ResponsePayload struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    []byte            `json:"body"`
}

// Frame is the single wire type every parent/child message is encoded as.
// Req is populated only for REQUEST frames and Res only for RESPONSE frames;
// the other frame types carry neither.
type Frame struct {
	Type  FrameType        `json:"type"`
	ReqID string           `json:"reqId,omitempty"`
	Req   *RequestPayload  `json:"req,omitempty"`
	Res   *ResponsePayload `json:"res,omitempty"`
	Error string           `json:"error,omitempty"`
	Stack string           `json:"stack,omitempty"`
}

// Encoder writes frames to an underlying writer with a 4-byte big-endian
// length prefix. It is safe for concurrent use: writes from overlapping
// in-flight requests on one persistent worker are serialized so frame
// bytes never interleave on the pipe.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder wraps w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes a single frame, blocking until the whole frame (length
// prefix + payload) has been written.
func (e *Encoder) Encode(f Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("ipc: marshal frame: %w", err)
	}
	if len(payload) > maxFrameBytes {
		return fmt.Errorf("ipc: frame too large (%d bytes)", len(payload))
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(header[:]); err != nil {
		return fmt.Errorf("ipc: write header: %w", err)
	}
	if _, err := e.w.Write(payload); err != nil {
		return fmt.Errorf("ipc: write payload: %w", err)
	}
	return nil
}

// Decoder reads length-prefixed frames from an underlying reader. Decoders
// are not safe for concurrent use — each connection should have exactly one
// reader goroutine pumping frames into a dispatch table keyed by ReqID.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder wraps r in buffered reads.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Decode blocks until a full frame has been read, or returns the underlying
// read error (io.EOF when the peer closed the connection).
func (d *Decoder) Decode() (Frame, error) {
	var header [4]byte
	if _, err := io.ReadFull(d.r, header[:]); err != nil {
		return Frame{}, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameBytes {
		return Frame{}, fmt.Errorf("ipc: frame too large (%d bytes)", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return Frame{}, fmt.Errorf("ipc: read payload: %w", err)
	}

	var f Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return Frame{}, fmt.Errorf("ipc: unmarshal frame: %w", err)
	}
	return f, nil
}
