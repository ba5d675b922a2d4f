// Package eventstream implements the AWS Event Stream binary framing used by
// the Kiro upstream: length-prefixed frames with typed headers, JSON payloads
// and two CRC32 checksums.
package eventstream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

var (
	// ErrFrameCorrupt means a CRC mismatch or a structurally broken frame.
	ErrFrameCorrupt = errors.New("event stream frame corrupt")
	// ErrFrameTooLarge means the declared frame length is outside [16, 16 MiB].
	ErrFrameTooLarge = errors.New("event stream frame length out of range")
	// ErrHeaderUnknownType means a header carried an unrecognized type tag.
	ErrHeaderUnknownType = errors.New("event stream header type unknown")
)

const (
	minFrameSize = 16
	maxFrameSize = 16 * 1024 * 1024
	preludeSize  = 12
)

// Message is one decoded frame: its header block and raw payload.
type Message struct {
	Headers Headers
	Payload []byte
}

// MessageType returns the ":message-type" header, defaulting to "event".
func (m *Message) MessageType() string {
	if t := m.Headers.GetString(":message-type"); t != "" {
		return t
	}
	return "event"
}

// EventType returns the ":event-type" header.
func (m *Message) EventType() string {
	return m.Headers.GetString(":event-type")
}

// ContentType returns the ":content-type" header, defaulting to JSON.
func (m *Message) ContentType() string {
	if t := m.Headers.GetString(":content-type"); t != "" {
		return t
	}
	return "application/json"
}

// Decoder splits a byte stream into frames. It is incremental: Feed may be
// called with arbitrarily sized chunks and frames are emitted as soon as they
// complete, regardless of where chunk boundaries fall.
type Decoder struct {
	buf bytes.Buffer
}

// NewDecoder returns an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Reset discards any buffered partial frame.
func (d *Decoder) Reset() {
	d.buf.Reset()
}

// Buffered returns the number of bytes held for an incomplete frame.
func (d *Decoder) Buffered() int {
	return d.buf.Len()
}

// Feed appends p to the internal buffer and returns every frame that is now
// complete. On a corrupt or oversized frame it returns the messages decoded
// so far together with the error; the offending bytes stay buffered so the
// caller decides whether to abandon the stream.
func (d *Decoder) Feed(p []byte) ([]*Message, error) {
	d.buf.Write(p)

	var msgs []*Message
	for {
		data := d.buf.Bytes()
		if len(data) < preludeSize {
			return msgs, nil
		}

		total := binary.BigEndian.Uint32(data[:4])
		if total < minFrameSize || total > maxFrameSize {
			return msgs, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, total)
		}
		if len(data) < int(total) {
			return msgs, nil
		}

		msg, err := decodeFrame(data[:total])
		if err != nil {
			return msgs, err
		}

		d.buf.Next(int(total))
		msgs = append(msgs, msg)
	}
}

// decodeFrame validates and parses one complete frame:
//
//	[total u32 BE][headers u32 BE][prelude crc u32 BE][headers...][payload...][message crc u32 BE]
func decodeFrame(frame []byte) (*Message, error) {
	total := binary.BigEndian.Uint32(frame[:4])
	headerLen := binary.BigEndian.Uint32(frame[4:8])

	preludeCRC := binary.BigEndian.Uint32(frame[8:12])
	if crc32.ChecksumIEEE(frame[:8]) != preludeCRC {
		return nil, fmt.Errorf("%w: prelude crc mismatch", ErrFrameCorrupt)
	}

	messageCRC := binary.BigEndian.Uint32(frame[total-4:])
	if crc32.ChecksumIEEE(frame[:total-4]) != messageCRC {
		return nil, fmt.Errorf("%w: message crc mismatch", ErrFrameCorrupt)
	}

	if preludeSize+headerLen > total-4 {
		return nil, fmt.Errorf("%w: header block overruns frame", ErrFrameCorrupt)
	}

	headers, err := decodeHeaders(frame[preludeSize : preludeSize+headerLen])
	if err != nil {
		return nil, err
	}

	payload := make([]byte, total-4-preludeSize-headerLen)
	copy(payload, frame[preludeSize+headerLen:total-4])

	return &Message{Headers: headers, Payload: payload}, nil
}

// Encode builds one wire frame from headers and payload. The south-side mock
// server and the codec tests use it; the proxy itself only decodes.
func Encode(headers []Header, payload []byte) ([]byte, error) {
	hdr, err := encodeHeaders(headers)
	if err != nil {
		return nil, err
	}

	total := preludeSize + len(hdr) + len(payload) + 4
	if total > maxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, total)
	}

	frame := make([]byte, 0, total)
	frame = binary.BigEndian.AppendUint32(frame, uint32(total))
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(hdr)))
	frame = binary.BigEndian.AppendUint32(frame, crc32.ChecksumIEEE(frame[:8]))
	frame = append(frame, hdr...)
	frame = append(frame, payload...)
	frame = binary.BigEndian.AppendUint32(frame, crc32.ChecksumIEEE(frame))
	return frame, nil
}
