package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Delimiter terminates every message on the wire. One JSON record per line.
const Delimiter byte = '\n'

// Encoder writes delimiter-terminated JSON records. It serializes writes so
// a connection can carry both responses and broadcast events.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode marshals v and writes it as one framed message.
func (e *Encoder) Encode(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return e.WriteFrame(data)
}

// WriteFrame writes pre-marshaled bytes followed by the delimiter. The
// payload is not copied or mutated, so one encoding may be shared across
// many encoders.
func (e *Encoder) WriteFrame(data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(data); err != nil {
		return err
	}
	_, err := e.w.Write([]byte{Delimiter})
	return err
}

// Decoder reads delimiter-terminated JSON records. Used by clients and
// tests; the daemon side keeps its own per-connection accumulator.
type Decoder struct {
	scanner *bufio.Scanner
}

func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return &Decoder{scanner: scanner}
}

// Decode reads the next framed message into v. Returns io.EOF when the
// stream ends cleanly.
func (d *Decoder) Decode(v any) error {
	for d.scanner.Scan() {
		line := d.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := json.Unmarshal(line, v); err != nil {
			return fmt.Errorf("unmarshal message: %w", err)
		}
		return nil
	}
	if err := d.scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}
