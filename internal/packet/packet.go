// Package packet implements the MySQL client/server wire format: frame
// framing with sequence tracking, the client command encoders, and the
// server packet decoders.
package packet

import (
	"fmt"
	"io"
	"sync/atomic"
)

// SequenceError reports a frame that arrived with an unexpected sequence
// number. It is always fatal for the connection.
type SequenceError struct {
	Expected uint8
	Got      uint8
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("mysql packet out of sequence: expected %d, got %d", e.Expected, e.Got)
}

// BufferNotFullyConsumedError reports a decoded packet that left bytes
// unread in its frame. It guards against silent protocol drift.
type BufferNotFullyConsumedError struct {
	Remaining int
}

func (e *BufferNotFullyConsumedError) Error() string {
	return fmt.Sprintf("mysql packet decoded with %d bytes left unread", e.Remaining)
}

// Conn frames payloads over an io.ReadWriter. The sequence counter is
// shared between reads and writes per MySQL rules; ResetSequence must be
// called before each new command. The protocol is half-duplex per
// command, so an atomic counter is enough to let the read loop and the
// command writer share it.
type Conn struct {
	rw  io.ReadWriter
	seq atomic.Uint32
}

// NewConn wraps rw for MySQL framing.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{rw: rw}
}

// ResetSequence resets the packet sequence at a command boundary.
func (c *Conn) ResetSequence() {
	c.seq.Store(0)
}

// ReadFrame reads one logical payload, joining continuation frames when
// the payload spans the 16MB frame limit. Sequence numbers are verified
// against the shared counter.
func (c *Conn) ReadFrame() ([]byte, error) {
	var payload []byte
	for {
		var header [4]byte
		if _, err := io.ReadFull(c.rw, header[:]); err != nil {
			return nil, err
		}
		length := int(header[0]) | int(header[1])<<8 | int(header[2])<<16
		want := uint8(c.seq.Load())
		if header[3] != want {
			return nil, &SequenceError{Expected: want, Got: header[3]}
		}
		c.seq.Store(uint32(header[3]) + 1)

		chunk := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(c.rw, chunk); err != nil {
				return nil, err
			}
		}
		if payload == nil && length < MaxPayload {
			return chunk, nil
		}
		payload = append(payload, chunk...)
		if length < MaxPayload {
			return payload, nil
		}
	}
}

// WriteFrame writes payload as one or more frames, splitting at the
// 16MB frame limit.
func (c *Conn) WriteFrame(payload []byte) error {
	for {
		chunk := payload
		if len(chunk) > MaxPayload {
			chunk = chunk[:MaxPayload]
		}
		payload = payload[len(chunk):]

		seq := uint8(c.seq.Load())
		buf := make([]byte, 4+len(chunk))
		buf[0] = byte(len(chunk))
		buf[1] = byte(len(chunk) >> 8)
		buf[2] = byte(len(chunk) >> 16)
		buf[3] = seq
		copy(buf[4:], chunk)
		if _, err := c.rw.Write(buf); err != nil {
			return err
		}
		c.seq.Store(uint32(seq) + 1)

		if len(chunk) < MaxPayload {
			return nil
		}
	}
}
