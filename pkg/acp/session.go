package acp

import (
	"errors"
	"hash/adler32"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/AlexxIT/go-acp/pkg/acp/secure"
)

// DefaultTimeout bounds a single Receive call.
const DefaultTimeout = time.Second * 10

// NoTimeout makes Receive wait forever (server idle, monitor push mode).
const NoTimeout = time.Duration(-1)

var errMonitoring = errors.New("acp: session is in monitor mode")

// Session owns one TCP connection and serialises request/response
// exchanges over it. At most one exchange is in flight; encryption, once
// installed, transparently wraps every following byte in both directions.
type Session struct {
	conn net.Conn

	mu     sync.Mutex
	buf    []byte
	crypto *secure.Context

	sem        chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
	monitoring bool
}

// NewSession wraps an established connection.
func NewSession(conn net.Conn) *Session {
	return &Session{
		conn: conn,
		sem:  make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Dial connects to an ACP endpoint (default port 5009).
func Dial(address string, timeout time.Duration) (*Session, error) {
	if !strings.Contains(address, ":") {
		address += ":" + DefaultPort
	}
	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, err
	}
	return NewSession(conn), nil
}

// Close aborts every pending queue job and read with ErrCanceled and drops
// the encryption context.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()

		s.mu.Lock()
		s.buf = nil
		s.crypto = nil
		s.mu.Unlock()
	})
	return err
}

func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Queue runs job with exclusive access to the session. Jobs run in FIFO
// order; waiters are aborted with ErrCanceled when the session closes.
func (s *Session) Queue(job func() error) error {
	select {
	case s.sem <- struct{}{}:
	case <-s.done:
		return ErrCanceled
	}
	defer func() { <-s.sem }()

	if s.Closed() {
		return ErrCanceled
	}
	if s.monitoring {
		return errMonitoring
	}
	return job()
}

// EnableEncryption installs the client-role context: writes use the
// client-to-server stream, reads the server-to-client stream.
func (s *Session) EnableEncryption(key, clientIV, serverIV []byte) error {
	return s.enableEncryption(key, clientIV, serverIV, true)
}

// EnableServerEncryption installs the server-role context.
func (s *Session) EnableServerEncryption(key, clientIV, serverIV []byte) error {
	return s.enableEncryption(key, clientIV, serverIV, false)
}

func (s *Session) enableEncryption(key, clientIV, serverIV []byte, client bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.crypto != nil {
		return ErrEncryptionEnabled
	}

	crypto, err := secure.NewContext(key, clientIV, serverIV, client)
	if err != nil {
		return err
	}
	s.crypto = crypto
	return nil
}

func (s *Session) Encrypted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.crypto != nil
}

// Send serialises and writes one message.
func (s *Session) Send(msg *Message) error {
	return s.Write(msg.Marshal())
}

// Write encrypts (when installed) and writes raw bytes.
func (s *Session) Write(b []byte) error {
	if s.Closed() {
		return ErrCanceled
	}

	s.mu.Lock()
	if s.crypto != nil {
		b = append([]byte(nil), b...)
		s.crypto.Encrypt(b)
	}
	s.mu.Unlock()

	_, err := s.conn.Write(b)
	return err
}

// Receive returns exactly n bytes from the inbound stream, waiting up to
// timeout (DefaultTimeout when zero). The deadline is refreshed whenever
// new bytes arrive. Inbound chunks are decrypted as they arrive.
func (s *Session) Receive(n int, timeout time.Duration) ([]byte, error) {
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	for {
		s.mu.Lock()
		if len(s.buf) >= n {
			b := s.buf[:n:n]
			s.buf = s.buf[n:]
			s.mu.Unlock()
			return b, nil
		}
		s.mu.Unlock()

		if s.Closed() {
			return nil, ErrCanceled
		}

		deadline := time.Time{}
		if timeout > 0 {
			deadline = time.Now().Add(timeout)
		}
		if err := s.conn.SetReadDeadline(deadline); err != nil {
			return nil, err
		}

		chunk := make([]byte, 4096)
		size, err := s.conn.Read(chunk)
		if size > 0 {
			s.mu.Lock()
			if s.crypto != nil {
				s.crypto.Decrypt(chunk[:size])
			}
			s.buf = append(s.buf, chunk[:size]...)
			buffered := len(s.buf)
			s.mu.Unlock()

			if err != nil && buffered >= n {
				continue // serve what already arrived
			}
		}
		if err != nil {
			if s.Closed() {
				return nil, ErrCanceled
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() || errors.Is(err, os.ErrDeadlineExceeded) {
				return nil, ErrTimeout
			}
			return nil, err
		}
	}
}

// ReceiveMessage reads one framed message: 128 header bytes, then the
// body. Framing and checksum failures drop the receive buffer, since the
// stream position is assumed lost.
func (s *Session) ReceiveMessage() (*Message, error) {
	return s.ReceiveMessageTimeout(0)
}

func (s *Session) ReceiveMessageTimeout(timeout time.Duration) (*Message, error) {
	hdr, err := s.Receive(HeaderSize, timeout)
	if err != nil {
		return nil, err
	}

	msg, err := ParseHeader(hdr)
	if err != nil {
		s.dropBuffer()
		return nil, err
	}

	if msg.BodySize > 0 {
		body, err := s.Receive(int(msg.BodySize), timeout)
		if err != nil {
			return nil, err
		}
		if adler32.Checksum(body) != msg.BodyChecksum {
			s.dropBuffer()
			return nil, ErrBodyChecksum
		}
		msg.Body = body
	} else if msg.BodySize == 0 {
		msg.Body = []byte{}
	}

	return msg, nil
}

func (s *Session) dropBuffer() {
	s.mu.Lock()
	s.buf = nil
	s.mu.Unlock()
}

// setMonitoring switches the session into push mode. Further Queue jobs
// are refused; only the monitor reader touches the socket.
func (s *Session) setMonitoring() {
	s.monitoring = true
}
