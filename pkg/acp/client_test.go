package acp

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type testStorage struct {
	mu    sync.Mutex
	props map[string][]byte
}

func (s *testStorage) GetProperty(name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value, ok := s.props[name]; ok {
		return value, nil
	}
	return nil, ErrUnknownProperty
}

func (s *testStorage) SetProperty(name string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.props[name] = value
	return nil
}

func startServer(t *testing.T, password string) (*Server, string) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := &Server{
		Password: password,
		Storage: &testStorage{props: map[string][]byte{
			"dbug": {0x00, 0x00, 0x30, 0x00},
			"syNm": []byte("Base Station"),
		}},
		Features: []any{"acp", "monitor", "rpc"},
		Log:      zerolog.Nop(),
	}
	go func() { _ = server.Serve(ln) }()
	t.Cleanup(func() { _ = server.Close() })

	return server, ln.Addr().String()
}

func connect(t *testing.T, address, password string) *Client {
	client := NewClient(address, password)
	require.NoError(t, client.Connect(time.Second*3))
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestClientGetSetProperties(t *testing.T) {
	_, address := startServer(t, "testing")
	client := connect(t, address, "testing")

	props, err := client.GetProperties([]string{"dbug", "syNm"})
	require.NoError(t, err)
	require.Len(t, props, 2)
	require.Equal(t, "dbug", props[0].Name)
	require.Equal(t, []byte{0x00, 0x00, 0x30, 0x00}, props[0].Value)
	require.Equal(t, "syNm", props[1].Name)
	require.Equal(t, []byte("Base Station"), props[1].Value)

	// unknown name fails the plain call...
	_, err = client.GetProperties([]string{"dbug", "zzzz"})
	var perr *PropertyError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, ErrorCodeInvalidKey, perr.Code)

	// ...but the mixed call returns entries in request order
	results, err := client.GetPropertiesWithErrors([]string{"zzzz", "dbug"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Error(t, results[0].Err)
	require.Equal(t, "dbug", results[1].Property.Name)

	// and the session stayed aligned for the next exchange
	p, err := NewProperty("syNm", "AirPort of Theseus")
	require.NoError(t, err)
	set, err := client.SetProperties([]*Property{p})
	require.NoError(t, err)
	require.Len(t, set, 1)
	require.NoError(t, set[0].Err)

	got, err := client.GetProperty("syNm")
	require.NoError(t, err)
	require.Equal(t, []byte("AirPort of Theseus"), got.Value)
}

func TestClientAuthenticate(t *testing.T) {
	_, address := startServer(t, "testing")
	client := connect(t, address, "testing")

	require.NoError(t, client.Authenticate())
	require.True(t, client.Session().Encrypted())

	// every following exchange runs through the encrypted streams
	props, err := client.GetProperties([]string{"dbug"})
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0x00, 0x30, 0x00}, props[0].Value)

	require.NoError(t, client.Ping([]byte("still alive")))
}

func TestClientAuthenticateWrongPassword(t *testing.T) {
	_, address := startServer(t, "testing")

	client := connect(t, address, "wrong")
	require.ErrorIs(t, client.Authenticate(), ErrIncorrectPassword)

	// the socket survives a wrong password, retry in place
	client.Password = "testing"
	require.NoError(t, client.Authenticate())
	require.True(t, client.Session().Encrypted())
}

func TestClientEcho(t *testing.T) {
	_, address := startServer(t, "testing")
	client := connect(t, address, "testing")

	require.NoError(t, client.Ping([]byte("hello?")))
}

func TestClientFeatures(t *testing.T) {
	_, address := startServer(t, "testing")
	client := connect(t, address, "testing")

	features, err := client.GetFeatures()
	require.NoError(t, err)
	require.Equal(t, []any{"acp", "monitor", "rpc"}, features)
}

func TestClientRPC(t *testing.T) {
	server, address := startServer(t, "testing")
	server.Handler = func(function string, inputs map[string]any) (map[string]any, int64) {
		switch function {
		case "acp.echo":
			return inputs, 0
		default:
			return nil, 2
		}
	}

	client := connect(t, address, "testing")

	outputs, err := client.RPC("acp.echo", map[string]any{"value": uint64(7)})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"value": uint64(7)}, outputs)

	_, err = client.RPC("acp.nope", nil)
	var rerr *RPCError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, int64(2), rerr.Status)
}

func TestClientMonitor(t *testing.T) {
	server, address := startServer(t, "testing")
	client := connect(t, address, "testing")

	events := make(chan any, 8)
	go func() {
		_ = client.Monitor(map[string]any{}, func(event any) {
			events <- event
		})
	}()

	var event any
	require.Eventually(t, func() bool {
		server.Announce(map[string]any{"name": "dbug"})
		select {
		case event = <-events:
			return true
		default:
			return false
		}
	}, time.Second*3, time.Millisecond*20)

	require.Equal(t, map[string]any{"name": "dbug"}, event)

	// push mode excludes further exchanges on this session
	_, err := client.GetProperties([]string{"dbug"})
	require.ErrorIs(t, err, errMonitoring)
}

func TestClientFlash(t *testing.T) {
	_, address := startServer(t, "testing")
	client := connect(t, address, "testing")

	response, err := client.FlashPrimary([]byte("not-a-real-image"))
	require.NoError(t, err)
	require.Equal(t, make([]byte, 4), response)
}

func TestClientReboot(t *testing.T) {
	server, address := startServer(t, "testing")
	client := connect(t, address, "testing")

	require.NoError(t, client.Reboot())

	value, err := server.Storage.GetProperty("acRB")
	require.NoError(t, err)
	require.Equal(t, make([]byte, 4), value)
}
