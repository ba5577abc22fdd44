package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	ErrMalformedPacket = errors.New("malformed packet")
	ErrUnknownKind     = errors.New("unknown packet kind")
	ErrFrameTooLong    = errors.New("frame exceeds maximum size")
)

// MaxFrameSize bounds a single encoded frame. Video frames are the largest
// legitimate payload; 16 MiB leaves generous headroom after base64 expansion.
const MaxFrameSize = 16 << 20

// Encode serializes a packet to a single newline-terminated frame. Binary
// fields are embedded as base64 by the JSON encoder, so a literal newline
// never occurs inside the frame.
func Encode(p *Packet) ([]byte, error) {
	if !p.Kind.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(p.Kind))
	}

	buf, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}

	return append(buf, '\n'), nil
}

// Decode parses one frame (with or without the trailing newline) into a
// Packet. A frame that is not valid JSON, has fields of the wrong type, or
// carries a kind outside the closed set fails with ErrMalformedPacket or
// ErrUnknownKind.
func Decode(line []byte) (*Packet, error) {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) == 0 {
		return nil, ErrMalformedPacket
	}

	p := &Packet{}
	if err := json.Unmarshal(line, p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}

	if !p.Kind.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(p.Kind))
	}

	return p, nil
}

// ReadPacket reads exactly one frame from r and decodes it. io.EOF is
// returned unchanged so callers can tell a clean disconnect from a decode
// failure.
func ReadPacket(r *bufio.Reader) (*Packet, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		if err == io.EOF && len(bytes.TrimSpace(line)) > 0 {
			// Peer closed mid-frame; treat the partial line as malformed.
			return nil, ErrMalformedPacket
		}
		return nil, err
	}

	if len(line) > MaxFrameSize {
		return nil, ErrFrameTooLong
	}

	return Decode(line)
}

// WritePacket encodes p and writes the frame to w.
func WritePacket(w io.Writer, p *Packet) error {
	frame, err := Encode(p)
	if err != nil {
		return err
	}

	_, err = w.Write(frame)
	return err
}
