package acp

// staticKey obfuscates the password field of unencrypted message headers.
// Not cryptographically secure.
var staticKey = [16]byte{
	0x5b, 0x6f, 0xaf, 0x5d, 0x9d, 0x5b, 0x0e, 0x13,
	0x51, 0xf2, 0xda, 0x1d, 0xe7, 0xe8, 0xd6, 0x73,
}

// Keystream returns n bytes of the header obfuscation stream.
func Keystream(n int) []byte {
	b := make([]byte, n)
	for i := 0; i < n; i++ {
		b[i] = byte(i+0x55) ^ staticKey[i%16]
	}
	return b
}

// GenerateHeaderKey obfuscates password into the 32-byte header key field.
// The password is truncated to 32 bytes and zero-padded.
func GenerateHeaderKey(password string) []byte {
	key := Keystream(32)
	for i := 0; i < len(password) && i < 32; i++ {
		key[i] ^= password[i]
	}
	return key
}
