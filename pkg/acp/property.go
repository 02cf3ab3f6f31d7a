package acp

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"strings"

	"github.com/AlexxIT/go-acp/pkg/acp/cflbin"
)

// ElementHeaderSize is the wire size of a property element header.
const ElementHeaderSize = 12

// SentinelSize is the wire size of the end-of-list marker (16 zero bytes).
const SentinelSize = 16

// FlagError marks an element whose value is a 4-byte signed error code.
const FlagError = 1

var sentinel = make([]byte, SentinelSize)

// Property is a named typed value. Name is always 4 ASCII bytes, Value is
// the raw wire bytes. The zero Property is the list sentinel.
type Property struct {
	Name  string
	Value []byte
}

// NewProperty coerces a native value through the registry kind for name.
func NewProperty(name string, v any) (*Property, error) {
	info := Lookup(name)
	if info == nil {
		return nil, ErrUnknownProperty
	}
	if info.Validate != nil {
		if err := info.Validate(v); err != nil {
			return nil, err
		}
	}
	value, err := InitValue(info.Kind, v)
	if err != nil {
		return nil, err
	}
	return &Property{Name: name, Value: value}, nil
}

// Format decodes the raw value through the registry kind for the name.
func (p *Property) Format() (any, error) {
	info := Lookup(p.Name)
	if info == nil {
		return nil, ErrUnknownProperty
	}
	return FormatValue(info.Kind, p.Value)
}

func (p *Property) String() string {
	return fmt.Sprintf("%s=%s", p.Name, hex.EncodeToString(p.Value))
}

// ComposeRawElement packs one element: 12-byte header then value bytes.
// The zero property packs as the fixed 16-byte sentinel block.
func ComposeRawElement(flags uint32, p *Property) []byte {
	if p == nil || (p.Name == "" && len(p.Value) == 0) {
		return append([]byte(nil), sentinel...)
	}

	b := make([]byte, ElementHeaderSize+len(p.Value))
	copy(b, p.Name)
	binary.BigEndian.PutUint32(b[4:], flags)
	binary.BigEndian.PutUint32(b[8:], uint32(len(p.Value)))
	copy(b[12:], p.Value)
	return b
}

// ParseRawElement unpacks one element from the head of b and returns the
// remaining bytes. A sentinel parses as a zero Property.
func ParseRawElement(b []byte) (p *Property, flags uint32, rest []byte, err error) {
	if len(b) < ElementHeaderSize {
		return nil, 0, nil, ErrBodyLength
	}

	if isZero(b[:ElementHeaderSize]) {
		if len(b) < SentinelSize || !isZero(b[:SentinelSize]) {
			return nil, 0, nil, ErrBodyLength
		}
		return &Property{}, 0, b[SentinelSize:], nil
	}

	name := string(b[:4])
	flags = binary.BigEndian.Uint32(b[4:])
	size := binary.BigEndian.Uint32(b[8:])
	if int(size) < 0 || len(b) < ElementHeaderSize+int(size) {
		return nil, 0, nil, ErrBodyLength
	}

	value := append([]byte(nil), b[12:12+size]...)
	return &Property{Name: name, Value: value}, flags, b[12+size:], nil
}

// ErrorCode returns the signed code carried by an error element.
func (p *Property) ErrorCode() int32 {
	if len(p.Value) != 4 {
		return 0
	}
	return int32(binary.BigEndian.Uint32(p.Value))
}

// IsSentinel reports whether p terminates a property list.
func (p *Property) IsSentinel() bool {
	return p.Name == "" && len(p.Value) == 0
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// InitValue coerces a native value to wire bytes for the given kind.
func InitValue(kind ValueKind, v any) ([]byte, error) {
	if b, ok := v.([]byte); ok && kind != KindCfb {
		return b, nil
	}

	switch kind {
	case KindStr, KindLog:
		if s, ok := v.(string); ok {
			return []byte(s), nil
		}
	case KindBool:
		if b, ok := v.(bool); ok {
			if b {
				return []byte{1}, nil
			}
			return []byte{0}, nil
		}
	case KindU8:
		if n, ok := toUint(v); ok && n <= 0xFF {
			return []byte{byte(n)}, nil
		}
	case KindU16:
		if n, ok := toUint(v); ok && n <= 0xFFFF {
			return binary.BigEndian.AppendUint16(nil, uint16(n)), nil
		}
	case KindU32, KindDec, KindHex:
		if n, ok := toUint(v); ok && n <= 0xFFFFFFFF {
			return binary.BigEndian.AppendUint32(nil, uint32(n)), nil
		}
	case KindU64:
		if n, ok := toUint(v); ok {
			return binary.BigEndian.AppendUint64(nil, n), nil
		}
	case KindMac:
		if s, ok := v.(string); ok {
			if mac, err := net.ParseMAC(s); err == nil && len(mac) == 6 {
				return mac, nil
			}
		}
	case KindIP4:
		if s, ok := v.(string); ok {
			if ip := net.ParseIP(s); ip != nil && ip.To4() != nil {
				return ip.To4(), nil
			}
		}
	case KindIP6:
		if s, ok := v.(string); ok {
			if ip := net.ParseIP(s); ip != nil {
				return ip.To16(), nil
			}
		}
	case KindCfb:
		return cflbin.Marshal(v)
	case KindBin, KindBpl, KindUID:
		// raw bytes only, handled above
	}

	return nil, &InvalidValueError{Kind: kind, Value: v}
}

// FormatValue decodes wire bytes back to a native value for the kind.
func FormatValue(kind ValueKind, b []byte) (any, error) {
	switch kind {
	case KindStr:
		return string(bytes.TrimRight(b, "\x00")), nil
	case KindLog:
		s := string(bytes.TrimRight(b, "\x00"))
		return strings.ReplaceAll(s, "\x00", "\n"), nil
	case KindBool:
		if len(b) != 1 {
			return nil, &InvalidValueError{Kind: kind, Value: b}
		}
		return b[0] != 0, nil
	case KindU8:
		if len(b) != 1 {
			return nil, &InvalidValueError{Kind: kind, Value: b}
		}
		return uint64(b[0]), nil
	case KindU16:
		if len(b) != 2 {
			return nil, &InvalidValueError{Kind: kind, Value: b}
		}
		return uint64(binary.BigEndian.Uint16(b)), nil
	case KindU32, KindDec, KindHex:
		if len(b) != 4 {
			return nil, &InvalidValueError{Kind: kind, Value: b}
		}
		return uint64(binary.BigEndian.Uint32(b)), nil
	case KindU64:
		if len(b) != 8 {
			return nil, &InvalidValueError{Kind: kind, Value: b}
		}
		return binary.BigEndian.Uint64(b), nil
	case KindMac:
		if len(b) != 6 {
			return nil, &InvalidValueError{Kind: kind, Value: b}
		}
		return net.HardwareAddr(b).String(), nil
	case KindIP4:
		if len(b) != 4 {
			return nil, &InvalidValueError{Kind: kind, Value: b}
		}
		return net.IP(b).String(), nil
	case KindIP6:
		if len(b) != 16 {
			return nil, &InvalidValueError{Kind: kind, Value: b}
		}
		return net.IP(b).String(), nil
	case KindCfb:
		return cflbin.Unmarshal(b)
	}

	return append([]byte(nil), b...), nil
}

func toUint(v any) (uint64, bool) {
	switch v := v.(type) {
	case uint64:
		return v, true
	case uint32:
		return uint64(v), true
	case uint16:
		return uint64(v), true
	case uint8:
		return uint64(v), true
	case uint:
		return uint64(v), true
	case int64:
		if v >= 0 {
			return uint64(v), true
		}
	case int32:
		if v >= 0 {
			return uint64(v), true
		}
	case int:
		if v >= 0 {
			return uint64(v), true
		}
	}
	return 0, false
}
