// Package firmware decodes signed base station firmware images: a fixed
// header, an optionally encrypted body (per-chunk AES-128-CBC) and a
// trailing Adler-32 over header plus decrypted body. The decrypted body
// carries a gzip stream with the actual payload.
package firmware

import (
	"bytes"
	"compress/gzip"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"hash"
	"hash/adler32"
	"io"
)

var (
	ErrBadMagic      = errors.New("firmware: bad magic")
	ErrUnknownModel  = errors.New("firmware: unknown model")
	ErrBadChecksum   = errors.New("firmware: bad checksum")
	ErrNotEnoughData = errors.New("firmware: not enough data")
)

// HeaderSize is the fixed image header size.
const HeaderSize = 32

// ChunkSize is the CBC restart interval. Every chunk begins again at the
// same IV; this is observed device behaviour, not a mistake here.
const ChunkSize = 32768

const flagEncrypted = 0x02

var magic = []byte("APPLE-FIRMWARE\x00")

var gzipSignature = []byte{0x1F, 0x8B, 0x08}

// rootKeys are the per-model AES root keys.
var rootKeys = map[uint32][16]byte{
	107: {0x8b, 0x21, 0xf6, 0x69, 0x0e, 0x86, 0x69, 0x70, 0x56, 0xe1, 0xcd, 0x3a, 0x53, 0xf3, 0xac, 0xa9},
	108: {0xf4, 0x69, 0x94, 0x96, 0x0e, 0x2f, 0x5a, 0x3d, 0x81, 0x07, 0xc4, 0x5e, 0xb6, 0x3f, 0xa4, 0x90},
	115: {0x25, 0xd1, 0x8c, 0x27, 0x40, 0xbb, 0x9f, 0x62, 0x13, 0x76, 0x0a, 0xdc, 0xe2, 0x5b, 0x9e, 0x07},
	120: {0x91, 0x09, 0x5e, 0xe0, 0xc1, 0x3f, 0x4a, 0xf9, 0x78, 0x22, 0xde, 0x5c, 0x0e, 0xbf, 0x46, 0x8d},
}

// ModelKey derives the AES key for a model from its root key.
func ModelKey(model uint32) ([]byte, error) {
	root, ok := rootKeys[model]
	if !ok {
		return nil, ErrUnknownModel
	}
	key := make([]byte, 16)
	for i := range key {
		key[i] = root[i] ^ byte(i+0x19)
	}
	return key, nil
}

// Header is the fixed 32-byte image header.
type Header struct {
	IVByte  byte // header byte 0x0f, last byte of the CBC IV
	Model   uint32
	Version uint32
	Flags   byte

	raw [HeaderSize]byte
}

func (h *Header) Encrypted() bool {
	return h.Flags&flagEncrypted != 0
}

// IV is "APPLE-FIRMWARE\0" plus the header byte at 0x0f.
func (h *Header) IV() []byte {
	return append(append([]byte(nil), magic...), h.IVByte)
}

func parseHeader(b []byte) (*Header, error) {
	if len(b) < HeaderSize {
		return nil, ErrNotEnoughData
	}
	if !bytes.Equal(b[:15], magic) {
		return nil, ErrBadMagic
	}

	h := &Header{
		IVByte:  b[15],
		Model:   binary.BigEndian.Uint32(b[16:]),
		Version: binary.BigEndian.Uint32(b[20:]),
		Flags:   b[27],
	}
	copy(h.raw[:], b[:HeaderSize])
	return h, nil
}

// Image is a parsed firmware image with the body already decrypted.
type Image struct {
	Header *Header
	Body   []byte
}

// Decode parses and verifies a whole image held in memory.
func Decode(b []byte) (*Image, error) {
	if len(b) < HeaderSize+4 {
		return nil, ErrNotEnoughData
	}

	h, err := parseHeader(b)
	if err != nil {
		return nil, err
	}

	body := append([]byte(nil), b[HeaderSize:len(b)-4]...)
	sum := binary.BigEndian.Uint32(b[len(b)-4:])

	if h.Encrypted() {
		if err = decryptBody(h, body); err != nil {
			return nil, err
		}
	}

	d := adler32.New()
	d.Write(h.raw[:])
	d.Write(body)
	if d.Sum32() != sum {
		return nil, ErrBadChecksum
	}

	return &Image{Header: h, Body: body}, nil
}

func decryptBody(h *Header, body []byte) error {
	key, err := ModelKey(h.Model)
	if err != nil {
		return err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}

	iv := h.IV()
	for off := 0; off < len(body); off += ChunkSize {
		chunk := body[off:]
		if len(chunk) > ChunkSize {
			chunk = chunk[:ChunkSize]
		}
		decryptChunk(block, iv, chunk)
	}
	return nil
}

// decryptChunk runs CBC over the 16-byte blocks of one chunk, restarting
// at the chunk IV. A trailing sub-block remainder passes through as is.
func decryptChunk(block cipher.Block, iv, chunk []byte) {
	n := len(chunk) &^ 15
	if n == 0 {
		return
	}
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(chunk[:n], chunk[:n])
}

// Extract inflates the gzip payload of a decoded image.
func (img *Image) Extract() ([]byte, error) {
	i := bytes.Index(img.Body, gzipSignature)
	if i < 0 {
		return nil, ErrNotEnoughData
	}

	gz, err := gzip.NewReader(bytes.NewReader(img.Body[i:]))
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	return io.ReadAll(gz)
}

// Decryptor is the push-style shape of Decode for large files: feed raw
// image bytes with Write, decrypted body bytes come out on w, Close
// verifies the trailing checksum.
type Decryptor struct {
	w io.Writer

	header  *Header
	block   cipher.Block
	iv      []byte
	digest  hash.Hash32
	pending []byte
}

func NewDecryptor(w io.Writer) *Decryptor {
	return &Decryptor{w: w, digest: adler32.New()}
}

func (d *Decryptor) Header() *Header {
	return d.header
}

func (d *Decryptor) Write(p []byte) (int, error) {
	d.pending = append(d.pending, p...)

	if d.header == nil {
		if len(d.pending) < HeaderSize {
			return len(p), nil
		}
		h, err := parseHeader(d.pending)
		if err != nil {
			return 0, err
		}
		if h.Encrypted() {
			key, err := ModelKey(h.Model)
			if err != nil {
				return 0, err
			}
			if d.block, err = aes.NewCipher(key); err != nil {
				return 0, err
			}
			d.iv = h.IV()
		}
		d.header = h
		d.digest.Write(h.raw[:])
		d.pending = d.pending[HeaderSize:]
	}

	// the last 4 bytes are the checksum, hold them back
	for len(d.pending) >= ChunkSize+4 {
		if err := d.flushChunk(d.pending[:ChunkSize]); err != nil {
			return 0, err
		}
		d.pending = d.pending[ChunkSize:]
	}

	return len(p), nil
}

func (d *Decryptor) flushChunk(chunk []byte) error {
	if d.block != nil {
		decryptChunk(d.block, d.iv, chunk)
	}
	d.digest.Write(chunk)
	_, err := d.w.Write(chunk)
	return err
}

// Close flushes the final partial chunk and verifies the checksum.
func (d *Decryptor) Close() error {
	if d.header == nil || len(d.pending) < 4 {
		return ErrNotEnoughData
	}

	tail := d.pending[:len(d.pending)-4]
	sum := binary.BigEndian.Uint32(d.pending[len(d.pending)-4:])

	if len(tail) > 0 {
		if err := d.flushChunk(tail); err != nil {
			return err
		}
	}

	if d.digest.Sum32() != sum {
		return ErrBadChecksum
	}
	return nil
}

// Extractor is the push-style shape of Extract: feed decrypted body
// bytes, decompressed payload bytes come out on w. The gzip signature is
// searched across write boundaries with a 3-byte lookbehind.
type Extractor struct {
	w io.Writer

	pw      *io.PipeWriter
	done    chan error
	look    []byte
	started bool
}

func NewExtractor(w io.Writer) *Extractor {
	return &Extractor{w: w}
}

func (e *Extractor) Write(p []byte) (int, error) {
	if !e.started {
		buf := append(e.look, p...)
		i := bytes.Index(buf, gzipSignature)
		if i < 0 {
			if len(buf) > len(gzipSignature) {
				buf = buf[len(buf)-len(gzipSignature):]
			}
			e.look = append([]byte(nil), buf...)
			return len(p), nil
		}

		e.started = true
		e.start()
		if _, err := e.pw.Write(buf[i:]); err != nil {
			return 0, err
		}
		return len(p), nil
	}

	if _, err := e.pw.Write(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (e *Extractor) start() {
	var pr *io.PipeReader
	pr, e.pw = io.Pipe()
	e.done = make(chan error, 1)

	go func() {
		gz, err := gzip.NewReader(pr)
		if err == nil {
			_, err = io.Copy(e.w, gz)
		}
		pr.CloseWithError(err)
		e.done <- err
	}()
}

// Close finishes the inflate stream and reports its error, if any.
func (e *Extractor) Close() error {
	if !e.started {
		return ErrNotEnoughData
	}
	e.pw.Close()
	return <-e.done
}
