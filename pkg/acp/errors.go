package acp

import (
	"errors"
	"fmt"
)

// framing
var (
	ErrBadMagic             = errors.New("acp: bad magic")
	ErrUnknownVersion       = errors.New("acp: unknown version")
	ErrHeaderChecksum       = errors.New("acp: wrong header checksum")
	ErrBodyChecksum         = errors.New("acp: wrong body checksum")
	ErrBodyLength           = errors.New("acp: body length mismatch")
	ErrUnknownCommand       = errors.New("acp: unknown command")
	ErrStreamHeaderWithBody = errors.New("acp: stream header with body")
)

// session
var (
	ErrNotConnected = errors.New("acp: not connected")
	ErrTimeout      = errors.New("acp: timeout")
	ErrCanceled     = errors.New("acp: canceled")
)

// auth
var (
	ErrProofMismatch     = errors.New("acp: srp proof mismatch")
	ErrIncorrectPassword = errors.New("acp: incorrect password")
	ErrEncryptionEnabled = errors.New("acp: encryption already enabled")
)

// rpc
var ErrInvalidResponse = errors.New("acp: invalid response")

var ErrUnknownProperty = errors.New("acp: unknown property")

// Error codes carried inside messages and property elements.
const (
	ErrorCodeNotAvailable      int32 = -10
	ErrorCodeInvalidKey        int32 = -16
	ErrorCodeIncorrectPassword int32 = -6754
	ErrorCodeUnknown6772       int32 = -6772
)

// PropertyError is a per-element error code from the server.
type PropertyError struct {
	Name string
	Code int32
}

func (e *PropertyError) Error() string {
	return fmt.Sprintf("acp: property %q: server error %d", e.Name, e.Code)
}

// RPCError is a non-zero status from an RPC response.
type RPCError struct {
	Status int64
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("acp: rpc failed with status %d", e.Status)
}

// InvalidValueError means a native value can't be coerced to a property kind.
type InvalidValueError struct {
	Kind  ValueKind
	Value any
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("acp: invalid %s value: %v", e.Kind, e.Value)
}
