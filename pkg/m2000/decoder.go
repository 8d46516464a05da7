// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package m2000

import "fmt"

// Decoder states (internal)
const (
	stateIdle = iota
	stateLine
)

// Decoder reassembles terminated replies from a byte stream. Any of LF, CR,
// FF or NUL ends a reply; runs of terminators (CR+LF) end it only once.
type Decoder struct {
	state     int
	buffer    []byte
	rawBuffer []byte // every byte since the last reply, terminators included
}

// NewDecoder creates a new reply decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:     stateIdle,
		buffer:    make([]byte, 0, 256),
		rawBuffer: make([]byte, 0, 256),
	}
}

// Reset discards any partial reply
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.buffer = d.buffer[:0]
	d.rawBuffer = d.rawBuffer[:0]
}

// Partial returns the reply text accumulated so far
func (d *Decoder) Partial() string {
	return string(d.buffer)
}

// GetRawBytes returns the raw bytes accumulated since the last reply
func (d *Decoder) GetRawBytes() []byte {
	return d.rawBuffer
}

// DecodeByte feeds one byte. It returns the reply text and true when a
// terminator completes a non-empty reply.
func (d *Decoder) DecodeByte(b byte) (string, bool, error) {
	d.rawBuffer = append(d.rawBuffer, b)

	if isTerminator(b) {
		if d.state == stateIdle {
			// Leading terminator, or the LF of a CR+LF pair
			d.rawBuffer = d.rawBuffer[:0]
			return "", false, nil
		}
		line := string(d.buffer)
		d.Reset()
		return line, true, nil
	}

	if len(d.buffer) >= MaxResponseLength {
		d.Reset()
		return "", false, fmt.Errorf("reply exceeds %d bytes without terminator", MaxResponseLength)
	}
	if b > 0x7E {
		d.Reset()
		return "", false, fmt.Errorf("non-ASCII byte 0x%02X in reply", b)
	}

	d.state = stateLine
	d.buffer = append(d.buffer, b)
	return "", false, nil
}

// Decode feeds a chunk and returns every reply it completes along with the
// number of bytes consumed before the first error.
func (d *Decoder) Decode(p []byte) ([]string, int, error) {
	var lines []string
	for i, b := range p {
		line, ok, err := d.DecodeByte(b)
		if err != nil {
			return lines, i + 1, err
		}
		if ok {
			lines = append(lines, line)
		}
	}
	return lines, len(p), nil
}
