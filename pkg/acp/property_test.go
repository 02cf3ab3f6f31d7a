package acp

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRawElement(t *testing.T) {
	b, err := hex.DecodeString("64627567" + "00000000" + "00000004" + "00003000")
	require.NoError(t, err)

	p, flags, rest, err := ParseRawElement(b)
	require.NoError(t, err)
	require.Empty(t, rest)
	require.Zero(t, flags)
	require.Equal(t, "dbug", p.Name)

	v, err := FormatValue(KindHex, p.Value)
	require.NoError(t, err)
	require.Equal(t, uint64(0x3000), v)
}

func TestElementRoundTrip(t *testing.T) {
	src := &Property{Name: "syNm", Value: []byte("Base Station")}

	p, flags, rest, err := ParseRawElement(ComposeRawElement(0, src))
	require.NoError(t, err)
	require.Empty(t, rest)
	require.Zero(t, flags)
	require.Equal(t, src, p)
}

func TestSentinel(t *testing.T) {
	b := ComposeRawElement(0, nil)
	require.Equal(t, make([]byte, 16), b)

	p, _, rest, err := ParseRawElement(b)
	require.NoError(t, err)
	require.Empty(t, rest)
	require.True(t, p.IsSentinel())
}

func TestErrorElement(t *testing.T) {
	b := errorElement("dbug", ErrUnknownProperty)

	p, flags, _, err := ParseRawElement(b)
	require.NoError(t, err)
	require.Equal(t, uint32(FlagError), flags)
	require.Equal(t, ErrorCodeInvalidKey, p.ErrorCode())
}

func TestInitFormatValue(t *testing.T) {
	tests := []struct {
		kind  ValueKind
		value any
		wire  string
	}{
		{KindBool, true, "01"},
		{KindU8, uint64(7), "07"},
		{KindU16, uint64(0x1234), "1234"},
		{KindU32, uint64(0x3000), "00003000"},
		{KindDec, uint64(42), "0000002a"},
		{KindU64, uint64(1) << 40, "0000010000000000"},
		{KindMac, "aa:bb:cc:dd:ee:ff", "aabbccddeeff"},
		{KindIP4, "10.0.1.1", "0a000101"},
		{KindStr, "hello", "68656c6c6f"},
	}

	for _, test := range tests {
		b, err := InitValue(test.kind, test.value)
		require.NoError(t, err, test.kind)
		require.Equal(t, test.wire, hex.EncodeToString(b), test.kind)

		v, err := FormatValue(test.kind, b)
		require.NoError(t, err, test.kind)
		require.Equal(t, test.value, v, test.kind)
	}
}

func TestInitValueInvalid(t *testing.T) {
	_, err := InitValue(KindU8, uint64(300))
	require.Error(t, err)

	_, err = InitValue(KindMac, "not-a-mac")
	require.Error(t, err)

	_, err = InitValue(KindIP4, "fe80::1")
	require.Error(t, err)
}

func TestNewProperty(t *testing.T) {
	p, err := NewProperty("acRB", uint32(0))
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0, 0}, p.Value)

	_, err = NewProperty("zzzz", 1)
	require.ErrorIs(t, err, ErrUnknownProperty)

	// raCh carries a channel validator
	_, err = NewProperty("raCh", uint64(15))
	require.Error(t, err)

	p, err = NewProperty("raCh", uint64(11))
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0, 11}, p.Value)
}

func TestFormatLog(t *testing.T) {
	v, err := FormatValue(KindLog, []byte("line1\x00line2\x00"))
	require.NoError(t, err)
	require.Equal(t, "line1\nline2", v)
}
