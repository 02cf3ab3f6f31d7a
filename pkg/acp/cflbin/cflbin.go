// Package cflbin implements the CFLBinaryPList payload format: a compact
// self-describing typed value stream framed by "CFB0" and "END!" magics.
package cflbin

import (
	"encoding/binary"
	"errors"
	"math"
	"sort"
)

var (
	ErrUnsupportedType = errors.New("cflbin: unsupported type")
	ErrMaxDepth        = errors.New("cflbin: max depth exceeded")
	ErrBadFooter       = errors.New("cflbin: bad footer")
	ErrTrailingGarbage = errors.New("cflbin: trailing garbage")
	ErrBadMagic        = errors.New("cflbin: bad magic")
	ErrUnexpectedEnd   = errors.New("cflbin: unexpected end of data")
)

const maxDepth = 10

var (
	header = []byte("CFB0")
	footer = []byte("END!")
)

// Marshal composes v into a framed CFLBinaryPList. Supported values:
// nil, bool, unsigned and signed integers, float32/float64, []byte,
// string, []any and map[string]any.
func Marshal(v any) ([]byte, error) {
	b := append([]byte(nil), header...)
	b, err := marshalValue(b, v, 0)
	if err != nil {
		return nil, err
	}
	return append(b, footer...), nil
}

func marshalValue(b []byte, v any, depth int) ([]byte, error) {
	if depth > maxDepth {
		return nil, ErrMaxDepth
	}

	switch v := v.(type) {
	case nil:
		return append(b, 0x00), nil
	case bool:
		if v {
			return append(b, 0x09), nil
		}
		return append(b, 0x08), nil
	case uint64:
		return marshalUint(b, v), nil
	case uint:
		return marshalUint(b, uint64(v)), nil
	case uint32:
		return marshalUint(b, uint64(v)), nil
	case uint16:
		return marshalUint(b, uint64(v)), nil
	case uint8:
		return marshalUint(b, uint64(v)), nil
	case int64:
		return marshalUint(b, uint64(v)), nil
	case int32:
		return marshalUint(b, uint64(v)), nil
	case int:
		return marshalUint(b, uint64(v)), nil
	case float32:
		b = append(b, 0x22)
		return binary.BigEndian.AppendUint32(b, math.Float32bits(v)), nil
	case float64:
		// smallest exact representation wins
		if f32 := float32(v); float64(f32) == v {
			b = append(b, 0x22)
			return binary.BigEndian.AppendUint32(b, math.Float32bits(f32)), nil
		}
		b = append(b, 0x23)
		return binary.BigEndian.AppendUint64(b, math.Float64bits(v)), nil
	case []byte:
		if len(v) < 0xF {
			b = append(b, 0x40|byte(len(v)))
		} else {
			b = append(b, 0x4F)
			b = marshalUint(b, uint64(len(v)))
		}
		return append(b, v...), nil
	case string:
		b = append(b, 0x70)
		b = append(b, v...)
		return append(b, 0x00), nil
	case []any:
		b = append(b, 0xA0)
		for _, item := range v {
			var err error
			if b, err = marshalValue(b, item, depth+1); err != nil {
				return nil, err
			}
		}
		return append(b, 0x00), nil
	case map[string]any:
		b = append(b, 0xD0)
		for _, key := range sortedKeys(v) {
			var err error
			if b, err = marshalValue(b, key, depth+1); err != nil {
				return nil, err
			}
			if b, err = marshalValue(b, v[key], depth+1); err != nil {
				return nil, err
			}
		}
		return append(b, 0x00), nil
	}

	return nil, ErrUnsupportedType
}

func marshalUint(b []byte, v uint64) []byte {
	switch {
	case v <= 0xFF:
		return append(b, 0x10, byte(v))
	case v <= 0xFFFF:
		b = append(b, 0x11)
		return binary.BigEndian.AppendUint16(b, uint16(v))
	case v <= 0xFFFFFFFF:
		b = append(b, 0x12)
		return binary.BigEndian.AppendUint32(b, uint32(v))
	}
	b = append(b, 0x13)
	return binary.BigEndian.AppendUint64(b, v)
}

// dict keys sort so the composed form is deterministic
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Unmarshal parses a framed CFLBinaryPList. Integers decode as uint64,
// floats as float64, data as []byte, containers as []any / map[string]any.
func Unmarshal(b []byte) (any, error) {
	if len(b) < len(header)+len(footer) {
		return nil, ErrUnexpectedEnd
	}
	if string(b[:4]) != string(header) {
		return nil, ErrBadMagic
	}

	v, rest, err := parseValue(b[4:], 0)
	if err != nil {
		return nil, err
	}

	if len(rest) < 4 || string(rest[:4]) != string(footer) {
		return nil, ErrBadFooter
	}
	if len(rest) > 4 {
		return nil, ErrTrailingGarbage
	}

	return v, nil
}

func parseValue(b []byte, depth int) (any, []byte, error) {
	if depth > maxDepth {
		return nil, nil, ErrMaxDepth
	}
	if len(b) == 0 {
		return nil, nil, ErrUnexpectedEnd
	}

	marker := b[0]
	b = b[1:]

	switch marker >> 4 {
	case 0x0:
		switch marker {
		case 0x00:
			return nil, b, nil
		case 0x08:
			return false, b, nil
		case 0x09:
			return true, b, nil
		}
		return nil, nil, ErrUnsupportedType

	case 0x1:
		size := 1 << (marker & 0xF)
		if len(b) < size || size > 8 {
			return nil, nil, ErrUnexpectedEnd
		}
		var v uint64
		for _, c := range b[:size] {
			v = v<<8 | uint64(c)
		}
		return v, b[size:], nil

	case 0x2:
		size := 1 << (marker & 0xF)
		if len(b) < size {
			return nil, nil, ErrUnexpectedEnd
		}
		switch size {
		case 4:
			v := math.Float32frombits(binary.BigEndian.Uint32(b))
			return float64(v), b[4:], nil
		case 8:
			return math.Float64frombits(binary.BigEndian.Uint64(b)), b[8:], nil
		}
		return nil, nil, ErrUnsupportedType

	case 0x4:
		size := int(marker & 0xF)
		if size == 0xF {
			v, rest, err := parseValue(b, depth+1)
			if err != nil {
				return nil, nil, err
			}
			n, ok := v.(uint64)
			if !ok {
				return nil, nil, ErrUnsupportedType
			}
			size, b = int(n), rest
		}
		if len(b) < size {
			return nil, nil, ErrUnexpectedEnd
		}
		return append([]byte{}, b[:size]...), b[size:], nil

	case 0x7:
		for i := 0; i < len(b); i++ {
			if b[i] == 0 {
				return string(b[:i]), b[i+1:], nil
			}
		}
		return nil, nil, ErrUnexpectedEnd

	case 0xA:
		items := []any{}
		for {
			if len(b) == 0 {
				return nil, nil, ErrUnexpectedEnd
			}
			if b[0] == 0x00 {
				return items, b[1:], nil
			}
			v, rest, err := parseValue(b, depth+1)
			if err != nil {
				return nil, nil, err
			}
			items, b = append(items, v), rest
		}

	case 0xD:
		dict := map[string]any{}
		for {
			if len(b) == 0 {
				return nil, nil, ErrUnexpectedEnd
			}
			if b[0] == 0x00 {
				return dict, b[1:], nil
			}
			k, rest, err := parseValue(b, depth+1)
			if err != nil {
				return nil, nil, err
			}
			key, ok := k.(string)
			if !ok {
				return nil, nil, ErrUnsupportedType
			}
			v, rest, err := parseValue(rest, depth+1)
			if err != nil {
				return nil, nil, err
			}
			dict[key], b = v, rest
		}
	}

	return nil, nil, ErrUnsupportedType
}
