package eventstream

import (
	"encoding/binary"
	"fmt"
	"time"
)

// ValueType is the wire tag of a header value.
type ValueType byte

const (
	ValueTypeBoolTrue  ValueType = 0
	ValueTypeBoolFalse ValueType = 1
	ValueTypeInt8      ValueType = 2
	ValueTypeInt16     ValueType = 3
	ValueTypeInt32     ValueType = 4
	ValueTypeInt64     ValueType = 5
	ValueTypeByteArray ValueType = 6
	ValueTypeString    ValueType = 7
	ValueTypeTimestamp ValueType = 8
	ValueTypeUUID      ValueType = 9
)

// HeaderValue is one decoded header value. Value holds bool, int8/16/32/64,
// []byte, string, time.Time (timestamp, millisecond precision) or [16]byte
// (uuid) depending on Type.
type HeaderValue struct {
	Type  ValueType
	Value any
}

// String returns the value as a string when the header carries one.
func (h HeaderValue) String() (string, bool) {
	s, ok := h.Value.(string)
	return s, ok
}

// Headers is a decoded header block. Duplicate names keep the last
// occurrence, matching the wire behavior.
type Headers map[string]HeaderValue

// GetString returns the named header's string value, or "" when absent or
// not a string.
func (h Headers) GetString(name string) string {
	if v, ok := h[name]; ok {
		if s, ok := v.Value.(string); ok {
			return s
		}
	}
	return ""
}

// decodeHeaders parses a header block: a sequence of
// (name_len u8, name, type u8, value) tuples until data is consumed.
func decodeHeaders(data []byte) (Headers, error) {
	headers := make(Headers)
	off := 0
	for off < len(data) {
		nameLen := int(data[off])
		off++
		if off+nameLen > len(data) {
			return nil, fmt.Errorf("%w: truncated header name", ErrFrameCorrupt)
		}
		name := string(data[off : off+nameLen])
		off += nameLen

		if off >= len(data) {
			return nil, fmt.Errorf("%w: missing header type", ErrFrameCorrupt)
		}
		tag := ValueType(data[off])
		off++

		value, n, err := decodeHeaderValue(tag, data[off:])
		if err != nil {
			return nil, err
		}
		off += n
		headers[name] = HeaderValue{Type: tag, Value: value}
	}
	return headers, nil
}

func decodeHeaderValue(tag ValueType, data []byte) (any, int, error) {
	need := func(n int) error {
		if len(data) < n {
			return fmt.Errorf("%w: truncated header value", ErrFrameCorrupt)
		}
		return nil
	}

	switch tag {
	case ValueTypeBoolTrue:
		return true, 0, nil
	case ValueTypeBoolFalse:
		return false, 0, nil
	case ValueTypeInt8:
		if err := need(1); err != nil {
			return nil, 0, err
		}
		return int8(data[0]), 1, nil
	case ValueTypeInt16:
		if err := need(2); err != nil {
			return nil, 0, err
		}
		return int16(binary.BigEndian.Uint16(data)), 2, nil
	case ValueTypeInt32:
		if err := need(4); err != nil {
			return nil, 0, err
		}
		return int32(binary.BigEndian.Uint32(data)), 4, nil
	case ValueTypeInt64:
		if err := need(8); err != nil {
			return nil, 0, err
		}
		return int64(binary.BigEndian.Uint64(data)), 8, nil
	case ValueTypeByteArray, ValueTypeString:
		if err := need(2); err != nil {
			return nil, 0, err
		}
		n := int(binary.BigEndian.Uint16(data))
		if err := need(2 + n); err != nil {
			return nil, 0, err
		}
		if tag == ValueTypeString {
			return string(data[2 : 2+n]), 2 + n, nil
		}
		b := make([]byte, n)
		copy(b, data[2:2+n])
		return b, 2 + n, nil
	case ValueTypeTimestamp:
		if err := need(8); err != nil {
			return nil, 0, err
		}
		ms := int64(binary.BigEndian.Uint64(data))
		return time.UnixMilli(ms).UTC(), 8, nil
	case ValueTypeUUID:
		if err := need(16); err != nil {
			return nil, 0, err
		}
		var u [16]byte
		copy(u[:], data[:16])
		return u, 16, nil
	default:
		return nil, 0, fmt.Errorf("%w: tag %d", ErrHeaderUnknownType, tag)
	}
}

// encodeHeaders serializes a header block in a deterministic order. The
// encoder backs the round-trip tests and the event-stream mock server.
func encodeHeaders(headers []Header) ([]byte, error) {
	var out []byte
	for _, h := range headers {
		if len(h.Name) > 255 {
			return nil, fmt.Errorf("header name too long: %d bytes", len(h.Name))
		}
		out = append(out, byte(len(h.Name)))
		out = append(out, h.Name...)
		out = append(out, byte(h.Value.Type))

		v, err := encodeHeaderValue(h.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, v...)
	}
	return out, nil
}

// Header is a named header value used on the encode path, where ordering
// matters on the wire.
type Header struct {
	Name  string
	Value HeaderValue
}

// StringHeader builds a utf8-string header.
func StringHeader(name, value string) Header {
	return Header{Name: name, Value: HeaderValue{Type: ValueTypeString, Value: value}}
}

func encodeHeaderValue(v HeaderValue) ([]byte, error) {
	switch v.Type {
	case ValueTypeBoolTrue, ValueTypeBoolFalse:
		return nil, nil
	case ValueTypeInt8:
		i, ok := v.Value.(int8)
		if !ok {
			return nil, fmt.Errorf("int8 header holds %T", v.Value)
		}
		return []byte{byte(i)}, nil
	case ValueTypeInt16:
		i, ok := v.Value.(int16)
		if !ok {
			return nil, fmt.Errorf("int16 header holds %T", v.Value)
		}
		return binary.BigEndian.AppendUint16(nil, uint16(i)), nil
	case ValueTypeInt32:
		i, ok := v.Value.(int32)
		if !ok {
			return nil, fmt.Errorf("int32 header holds %T", v.Value)
		}
		return binary.BigEndian.AppendUint32(nil, uint32(i)), nil
	case ValueTypeInt64:
		i, ok := v.Value.(int64)
		if !ok {
			return nil, fmt.Errorf("int64 header holds %T", v.Value)
		}
		return binary.BigEndian.AppendUint64(nil, uint64(i)), nil
	case ValueTypeByteArray:
		b, ok := v.Value.([]byte)
		if !ok {
			return nil, fmt.Errorf("byte-array header holds %T", v.Value)
		}
		out := binary.BigEndian.AppendUint16(nil, uint16(len(b)))
		return append(out, b...), nil
	case ValueTypeString:
		s, ok := v.Value.(string)
		if !ok {
			return nil, fmt.Errorf("string header holds %T", v.Value)
		}
		out := binary.BigEndian.AppendUint16(nil, uint16(len(s)))
		return append(out, s...), nil
	case ValueTypeTimestamp:
		t, ok := v.Value.(time.Time)
		if !ok {
			return nil, fmt.Errorf("timestamp header holds %T", v.Value)
		}
		return binary.BigEndian.AppendUint64(nil, uint64(t.UnixMilli())), nil
	case ValueTypeUUID:
		u, ok := v.Value.([16]byte)
		if !ok {
			return nil, fmt.Errorf("uuid header holds %T", v.Value)
		}
		return u[:], nil
	default:
		return nil, fmt.Errorf("%w: tag %d", ErrHeaderUnknownType, v.Type)
	}
}
