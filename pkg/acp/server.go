package acp

import (
	"encoding/binary"
	"errors"
	"net"
	"sync"

	"github.com/AlexxIT/go-acp/pkg/acp/cflbin"
	"github.com/rs/zerolog"
)

// Storage is the property store behind the server. Implementations decide
// persistence; the server only moves bytes.
type Storage interface {
	GetProperty(name string) ([]byte, error)
	SetProperty(name string, value []byte) error
}

// RPCHandler serves one remote call. A non-zero status is sent back to
// the client as a failure.
type RPCHandler func(function string, inputs map[string]any) (outputs map[string]any, status int64)

// Server accepts ACP connections and dispatches messages. One message is
// handled at a time per connection; inbound bytes accumulate meanwhile.
// Log must be set; use zerolog.Nop() to silence.
type Server struct {
	Password string
	Storage  Storage
	Handler  RPCHandler
	Features []any
	Log      zerolog.Logger

	ln net.Listener

	mu       sync.Mutex
	monitors map[*Session]struct{}
}

// ListenAndServe listens on address (":5009" style) and serves until the
// listener is closed.
func (s *Server) ListenAndServe(address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

func (s *Server) Serve(ln net.Listener) error {
	s.ln = ln
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) handleConn(conn net.Conn) {
	sess := NewSession(conn)
	auth := &serverAuth{}

	defer func() {
		s.mu.Lock()
		delete(s.monitors, sess)
		s.mu.Unlock()
		_ = sess.Close()
	}()

	for {
		msg, err := sess.ReceiveMessageTimeout(NoTimeout)
		if err != nil {
			switch {
			case errors.Is(err, ErrCanceled):
				return
			case errors.Is(err, ErrBadMagic), errors.Is(err, ErrHeaderChecksum),
				errors.Is(err, ErrBodyChecksum), errors.Is(err, ErrUnknownVersion),
				errors.Is(err, ErrUnknownCommand):
				// desynchronised stream was dropped, wait for a clean frame
				s.Log.Warn().Err(err).Msg("[acp] bad frame")
				continue
			default:
				s.Log.Debug().Err(err).Msg("[acp] connection closed")
				return
			}
		}

		if err = s.handleMessage(sess, auth, msg); err != nil {
			s.Log.Warn().Err(err).Int32("cmd", msg.Command).Msg("[acp] handler")
			return
		}
	}
}

func (s *Server) handleMessage(sess *Session, auth *serverAuth, msg *Message) error {
	switch msg.Command {
	case CmdAuth:
		reply, key, serverIV, err := auth.handleAuth(msg, s.Password)
		if err != nil {
			return err
		}
		if err = sess.Send(reply); err != nil {
			return err
		}
		if key != nil {
			return sess.EnableServerEncryption(key, auth.clientIV, serverIV)
		}
		return nil

	case CmdGetProp:
		return s.handleGetProp(sess, msg)

	case CmdSetProp:
		return s.handleSetProp(sess, msg)

	case CmdMonitor:
		if err := sess.Send(NewMessage(CmdMonitor, 0, ZeroKey, nil)); err != nil {
			return err
		}
		s.mu.Lock()
		if s.monitors == nil {
			s.monitors = map[*Session]struct{}{}
		}
		s.monitors[sess] = struct{}{}
		s.mu.Unlock()
		return nil

	case CmdRPC:
		return s.handleRPC(sess, msg)

	case CmdEcho:
		return sess.Send(NewEchoMessage(ZeroKey, msg.Body))

	case CmdFeatures:
		features := s.Features
		if features == nil {
			features = []any{}
		}
		body, err := cflbin.Marshal(features)
		if err != nil {
			return err
		}
		return sess.Send(NewMessage(CmdFeatures, 0, ZeroKey, body))

	case CmdFlashPrimary, CmdFlashSecondary, CmdFlashBootloader:
		if msg.BodySize == -1 {
			// streaming upload, not supported: terminate
			return ErrStreamHeaderWithBody
		}
		s.Log.Info().Int("size", len(msg.Body)).Int32("cmd", msg.Command).
			Msg("[acp] flash received")
		return sess.Send(NewMessage(msg.Command, 0, ZeroKey, make([]byte, 4)))
	}

	s.Log.Debug().Int32("cmd", msg.Command).Msg("[acp] ignoring command")
	return nil
}

func (s *Server) handleGetProp(sess *Session, msg *Message) error {
	var body []byte

	b := msg.Body
	for len(b) > 0 {
		p, _, rest, err := ParseRawElement(b)
		if err != nil {
			return err
		}
		if p.IsSentinel() {
			break
		}
		b = rest

		value, err := s.getProperty(p.Name)
		if err != nil {
			body = append(body, errorElement(p.Name, err)...)
			continue
		}
		body = append(body, ComposeRawElement(0, &Property{Name: p.Name, Value: value})...)
	}

	body = append(body, ComposeRawElement(0, nil)...)
	return sess.Send(NewGetPropMessage(ZeroKey, body))
}

func (s *Server) getProperty(name string) ([]byte, error) {
	if s.Storage == nil {
		return nil, ErrUnknownProperty
	}
	return s.Storage.GetProperty(name)
}

func (s *Server) handleSetProp(sess *Session, msg *Message) error {
	var body []byte
	changed := map[string]any{}

	b := msg.Body
	for len(b) > 0 {
		p, _, rest, err := ParseRawElement(b)
		if err != nil {
			return err
		}
		if p.IsSentinel() {
			break
		}
		b = rest

		if s.Storage == nil {
			body = append(body, errorElement(p.Name, ErrUnknownProperty)...)
			continue
		}
		if err = s.Storage.SetProperty(p.Name, p.Value); err != nil {
			body = append(body, errorElement(p.Name, err)...)
			continue
		}
		changed[p.Name] = append([]byte(nil), p.Value...)
		body = append(body, ComposeRawElement(0, &Property{Name: p.Name, Value: make([]byte, 4)})...)
	}

	body = append(body, ComposeRawElement(0, nil)...)
	if err := sess.Send(NewSetPropMessage(ZeroKey, body)); err != nil {
		return err
	}

	if len(changed) > 0 {
		s.Announce(changed)
	}
	return nil
}

func errorElement(name string, err error) []byte {
	code := ErrorCodeNotAvailable
	if errors.Is(err, ErrUnknownProperty) {
		code = ErrorCodeInvalidKey
	}
	value := binary.BigEndian.AppendUint32(nil, uint32(code))
	return ComposeRawElement(FlagError, &Property{Name: name, Value: value})
}

func (s *Server) handleRPC(sess *Session, msg *Message) error {
	payload, err := authPayload(msg.Body)
	if err != nil {
		return err
	}

	function, _ := payload["function"].(string)
	inputs, _ := payload["inputs"].(map[string]any)

	var outputs map[string]any
	var status int64
	if s.Handler != nil {
		outputs, status = s.Handler(function, inputs)
	}
	if outputs == nil {
		outputs = map[string]any{}
	}

	body, err := cflbin.Marshal(map[string]any{
		"status":  uint64(status),
		"outputs": outputs,
	})
	if err != nil {
		return err
	}
	return sess.Send(NewRPCMessage(ZeroKey, body))
}

// Announce pushes a change event to every monitoring session as an
// unsolicited "XE" frame.
func (s *Server) Announce(event any) {
	body, err := cflbin.Marshal(event)
	if err != nil {
		s.Log.Warn().Err(err).Msg("[acp] announce")
		return
	}

	frame := make([]byte, 8+len(body))
	frame[0], frame[1] = 'X', 'E'
	binary.BigEndian.PutUint32(frame[4:], uint32(len(body)))
	copy(frame[8:], body)

	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.monitors))
	for sess := range s.monitors {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		if err = sess.Write(frame); err != nil {
			s.Log.Debug().Err(err).Msg("[acp] monitor push")
		}
	}
}
