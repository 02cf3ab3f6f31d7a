package acp

import (
	"encoding/binary"
	"hash/adler32"
)

const (
	Version1 = 0x00000001
	Version3 = 0x00030001
)

const (
	CmdEcho            = 1
	CmdFlashPrimary    = 3
	CmdFlashAux        = 4 // accepted on the wire, semantics unknown
	CmdFlashSecondary  = 5
	CmdFlashBootloader = 6
	CmdGetProp         = 0x14
	CmdSetProp         = 0x15
	CmdPerform         = 0x16
	CmdAux17           = 0x17 // accepted on the wire, semantics unknown
	CmdMonitor         = 0x18
	CmdRPC             = 0x19
	CmdAuth            = 0x1a
	CmdFeatures        = 0x1b
)

// HeaderSize is the fixed wire size of a message header.
const HeaderSize = 128

var magic = []byte("acpp")

// ZeroKey is the header key used once session encryption is active.
var ZeroKey = make([]byte, 32)

// Message is one unit of protocol exchange. BodySize -1 marks a streaming
// body with no precomputed length (and no Body bytes attached).
type Message struct {
	Version      int32
	Flags        int32
	Unused       int32
	Command      int32
	ErrorCode    int32
	Key          []byte // always 32 bytes
	Body         []byte // nil when absent
	BodySize     int32
	BodyChecksum uint32
}

// NewMessage builds a version 0x00030001 message. Key must be 32 bytes,
// usually from GenerateHeaderKey or ZeroKey.
func NewMessage(cmd, flags int32, key, body []byte) *Message {
	m := &Message{
		Version: Version3,
		Flags:   flags,
		Command: cmd,
		Key:     key,
	}
	if body != nil {
		m.Body = body
		m.BodySize = int32(len(body))
		m.BodyChecksum = adler32.Checksum(body)
	} else {
		m.BodySize = -1
		m.BodyChecksum = 1
	}
	return m
}

func NewEchoMessage(key, body []byte) *Message {
	return NewMessage(CmdEcho, 0, key, body)
}

func NewGetPropMessage(key, payload []byte) *Message {
	return NewMessage(CmdGetProp, 0, key, payload)
}

func NewSetPropMessage(key, payload []byte) *Message {
	return NewMessage(CmdSetProp, 0, key, payload)
}

func NewPerformMessage(key, payload []byte) *Message {
	return NewMessage(CmdPerform, 0, key, payload)
}

func NewMonitorMessage(key, payload []byte) *Message {
	return NewMessage(CmdMonitor, 0, key, payload)
}

func NewRPCMessage(key, payload []byte) *Message {
	return NewMessage(CmdRPC, 0, key, payload)
}

// NewAuthMessage always uses the empty password key. Authentication runs
// before session encryption and before the password is proven.
func NewAuthMessage(body []byte) *Message {
	return NewMessage(CmdAuth, 0, GenerateHeaderKey(""), body)
}

// NewFeaturesMessage always uses the empty password key, same as auth.
func NewFeaturesMessage() *Message {
	return NewMessage(CmdFeatures, 0, GenerateHeaderKey(""), nil)
}

func NewFlashPrimaryMessage(key, firmware []byte) *Message {
	return NewMessage(CmdFlashPrimary, 0, key, firmware)
}

func NewFlashSecondaryMessage(key, firmware []byte) *Message {
	return NewMessage(CmdFlashSecondary, 0, key, firmware)
}

func NewFlashBootloaderMessage(key, firmware []byte) *Message {
	return NewMessage(CmdFlashBootloader, 0, key, firmware)
}

func knownCommand(cmd int32) bool {
	switch cmd {
	case CmdEcho, CmdFlashPrimary, CmdFlashAux, CmdFlashSecondary,
		CmdFlashBootloader, CmdGetProp, CmdSetProp, CmdPerform, CmdAux17,
		CmdMonitor, CmdRPC, CmdAuth, CmdFeatures:
		return true
	}
	return false
}

// Marshal returns the wire form: 128-byte header followed by the body.
// The header checksum is Adler-32 over the header with its field zeroed.
func (m *Message) Marshal() []byte {
	b := make([]byte, HeaderSize+len(m.Body))
	copy(b, magic)
	binary.BigEndian.PutUint32(b[4:], uint32(m.Version))
	// header checksum at 8 stays zero for now
	binary.BigEndian.PutUint32(b[12:], m.BodyChecksum)
	binary.BigEndian.PutUint32(b[16:], uint32(m.BodySize))
	binary.BigEndian.PutUint32(b[20:], uint32(m.Flags))
	binary.BigEndian.PutUint32(b[24:], uint32(m.Unused))
	binary.BigEndian.PutUint32(b[28:], uint32(m.Command))
	binary.BigEndian.PutUint32(b[32:], uint32(m.ErrorCode))
	copy(b[48:80], m.Key)
	binary.BigEndian.PutUint32(b[8:], adler32.Checksum(b[:HeaderSize]))
	copy(b[HeaderSize:], m.Body)
	return b
}

// ParseHeader unpacks and validates a 128-byte header. Body bytes are not
// consumed; the caller reads BodySize bytes and attaches them.
func ParseHeader(b []byte) (*Message, error) {
	if len(b) < HeaderSize {
		return nil, ErrBodyLength
	}
	if string(b[:4]) != string(magic) {
		return nil, ErrBadMagic
	}

	m := &Message{
		Version:      int32(binary.BigEndian.Uint32(b[4:])),
		BodyChecksum: binary.BigEndian.Uint32(b[12:]),
		BodySize:     int32(binary.BigEndian.Uint32(b[16:])),
		Flags:        int32(binary.BigEndian.Uint32(b[20:])),
		Unused:       int32(binary.BigEndian.Uint32(b[24:])),
		Command:      int32(binary.BigEndian.Uint32(b[28:])),
		ErrorCode:    int32(binary.BigEndian.Uint32(b[32:])),
		Key:          append([]byte(nil), b[48:80]...),
	}

	if m.Version != Version1 && m.Version != Version3 {
		return nil, ErrUnknownVersion
	}

	sum := binary.BigEndian.Uint32(b[8:])
	hdr := make([]byte, HeaderSize)
	copy(hdr, b[:HeaderSize])
	binary.BigEndian.PutUint32(hdr[8:], 0)
	if adler32.Checksum(hdr) != sum {
		return nil, ErrHeaderChecksum
	}

	if !knownCommand(m.Command) {
		return nil, ErrUnknownCommand
	}

	return m, nil
}

// ParseMessage parses a header plus body from b and returns unconsumed bytes.
func ParseMessage(b []byte) (*Message, []byte, error) {
	m, err := ParseHeader(b)
	if err != nil {
		return nil, nil, err
	}

	rest := b[HeaderSize:]

	if m.BodySize == -1 {
		if len(rest) > 0 {
			return nil, nil, ErrStreamHeaderWithBody
		}
		return m, rest, nil
	}

	if len(rest) < int(m.BodySize) {
		return nil, nil, ErrBodyLength
	}

	m.Body = append([]byte(nil), rest[:m.BodySize]...)
	if adler32.Checksum(m.Body) != m.BodyChecksum {
		return nil, nil, ErrBodyChecksum
	}

	return m, rest[m.BodySize:], nil
}
