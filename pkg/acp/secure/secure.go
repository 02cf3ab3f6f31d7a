// Package secure implements the post-auth session encryption: two
// independent AES-128-CTR streams, one per direction, derived from the SRP
// session key and the IVs exchanged during authentication.
package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"

	"golang.org/x/crypto/pbkdf2"
)

var (
	clientSalt = []byte{
		0xf0, 0x72, 0xfa, 0x3f, 0x66, 0xb4, 0x10, 0xa1,
		0x35, 0xfa, 0xe8, 0xe6, 0xd1, 0xd4, 0x3d, 0x5f,
	}
	serverSalt = []byte{
		0xbd, 0x06, 0x82, 0xc9, 0xfe, 0x79, 0x32, 0x5b,
		0xc7, 0x36, 0x55, 0xf4, 0x17, 0x4b, 0x99, 0x6c,
	}
)

// Context holds both cipher streams for one session. Install once, drop on
// close. Counters advance per byte; replaying aligned bytes desynchronises
// both ends.
type Context struct {
	enc cipher.Stream
	dec cipher.Stream
}

// NewContext derives the directional keys and creates both streams.
// A client encrypts with the client-to-server stream and decrypts with the
// server-to-client stream; pass client=false for the reverse.
func NewContext(key, clientIV, serverIV []byte, client bool) (*Context, error) {
	clientKey := pbkdf2.Key(key, clientSalt, 5, 16, sha1.New)
	serverKey := pbkdf2.Key(key, serverSalt, 7, 16, sha1.New)

	c2s, err := newCTR(clientKey, clientIV)
	if err != nil {
		return nil, err
	}
	s2c, err := newCTR(serverKey, serverIV)
	if err != nil {
		return nil, err
	}

	if client {
		return &Context{enc: c2s, dec: s2c}, nil
	}
	return &Context{enc: s2c, dec: c2s}, nil
}

func newCTR(key, iv []byte) (cipher.Stream, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewCTR(block, iv), nil
}

// Encrypt transforms outbound bytes in place.
func (c *Context) Encrypt(b []byte) {
	c.enc.XORKeyStream(b, b)
}

// Decrypt transforms inbound bytes in place.
func (c *Context) Decrypt(b []byte) {
	c.dec.XORKeyStream(b, b)
}
