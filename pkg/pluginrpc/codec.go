package pluginrpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// maxFrameSize bounds a single wire frame; a plugin emitting more than
// this in one message is misbehaving.
const maxFrameSize = 8 * 1024 * 1024

// Encoder writes protocol frames, one JSON object per line. Writes are
// serialised so concurrent invokes never interleave frames.
type Encoder struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewEncoder wraps w in a frame encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode frames and flushes one message.
func (e *Encoder) Encode(msgType MessageType, data interface{}) error {
	if err := msgType.Validate(); err != nil {
		return err
	}

	var payload json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encoding %s payload: %w", msgType, err)
		}
		payload = b
	}

	frame, err := json.Marshal(Message{Type: msgType, Timestamp: time.Now().UTC(), Data: payload})
	if err != nil {
		return fmt.Errorf("encoding %s frame: %w", msgType, err)
	}
	if len(frame) > maxFrameSize {
		return fmt.Errorf("%s frame exceeds %d bytes", msgType, maxFrameSize)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(frame); err != nil {
		return fmt.Errorf("writing %s frame: %w", msgType, err)
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("terminating %s frame: %w", msgType, err)
	}
	return e.w.Flush()
}

// Decoder reads protocol frames, one JSON object per line.
type Decoder struct {
	s *bufio.Scanner
}

// NewDecoder wraps r in a frame decoder.
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), maxFrameSize)
	return &Decoder{s: s}
}

// Decode reads the next frame, returning io.EOF at end of stream.
func (d *Decoder) Decode() (*Message, error) {
	for {
		if !d.s.Scan() {
			if err := d.s.Err(); err != nil {
				return nil, fmt.Errorf("reading frame: %w", err)
			}
			return nil, io.EOF
		}
		line := d.s.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, fmt.Errorf("decoding frame: %w", err)
		}
		if err := msg.Type.Validate(); err != nil {
			return nil, err
		}
		return &msg, nil
	}
}

// DecodeHello reads the stream's first frame and requires it to be a valid
// HELLO.
func (d *Decoder) DecodeHello() (*HelloMessage, error) {
	msg, err := d.Decode()
	if err != nil {
		return nil, err
	}
	if msg.Type != MessageTypeHello {
		return nil, fmt.Errorf("expected HELLO, got %s", msg.Type)
	}
	var hello HelloMessage
	if err := ParseData(msg.Data, &hello); err != nil {
		return nil, err
	}
	if err := hello.Validate(); err != nil {
		return nil, err
	}
	return &hello, nil
}
