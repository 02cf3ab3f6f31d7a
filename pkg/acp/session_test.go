package acp

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSessionReceiveMessage(t *testing.T) {
	c1, c2 := net.Pipe()
	s1 := NewSession(c1)
	s2 := NewSession(c2)
	defer s1.Close()
	defer s2.Close()

	src := NewEchoMessage(ZeroKey, []byte("ping"))
	go func() { _ = s1.Send(src) }()

	dst, err := s2.ReceiveMessage()
	require.NoError(t, err)
	require.Equal(t, src, dst)
}

func TestSessionReceiveTimeout(t *testing.T) {
	c1, c2 := net.Pipe()
	s := NewSession(c1)
	defer s.Close()
	defer c2.Close()

	_, err := s.Receive(1, time.Millisecond*50)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestSessionCloseAbortsQueue(t *testing.T) {
	c1, c2 := net.Pipe()
	s := NewSession(c1)
	defer c2.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.Queue(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	errs := make(chan error, 1)
	go func() {
		errs <- s.Queue(func() error { return nil })
	}()

	time.Sleep(time.Millisecond * 10)
	require.NoError(t, s.Close())
	close(release)

	require.ErrorIs(t, <-errs, ErrCanceled)
	require.ErrorIs(t, s.Queue(func() error { return nil }), ErrCanceled)
}

func TestSessionEncryptedExchange(t *testing.T) {
	c1, c2 := net.Pipe()
	client := NewSession(c1)
	server := NewSession(c2)
	defer client.Close()
	defer server.Close()

	key := []byte("srp session key")
	clientIV := Keystream(16)
	serverIV := Keystream(16)

	require.NoError(t, client.EnableEncryption(key, clientIV, serverIV))
	require.NoError(t, server.EnableServerEncryption(key, clientIV, serverIV))
	require.ErrorIs(t, client.EnableEncryption(key, clientIV, serverIV), ErrEncryptionEnabled)

	src := NewGetPropMessage(ZeroKey, ComposeRawElement(0, nil))
	go func() { _ = client.Send(src) }()

	dst, err := server.ReceiveMessage()
	require.NoError(t, err)
	require.Equal(t, src, dst)

	// and the reverse direction
	reply := NewSetPropMessage(ZeroKey, []byte("ok"))
	go func() { _ = server.Send(reply) }()

	dst, err = client.ReceiveMessage()
	require.NoError(t, err)
	require.Equal(t, reply, dst)
}

func TestSessionBadFrameDropsBuffer(t *testing.T) {
	c1, c2 := net.Pipe()
	s := NewSession(c1)
	defer s.Close()

	go func() {
		// a junk header plus trailing bytes arriving in the same read
		junk := make([]byte, HeaderSize+16)
		copy(junk, "junk")
		_, _ = c2.Write(junk)
	}()

	_, err := s.ReceiveMessage()
	require.ErrorIs(t, err, ErrBadMagic)
	require.Empty(t, s.buf)
}
