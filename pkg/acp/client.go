package acp

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/AlexxIT/go-acp/pkg/acp/cflbin"
)

// DefaultPort is the ACP management port.
const DefaultPort = "5009"

// Client is the high-level facade: one session, one exchange at a time.
type Client struct {
	Address  string
	Password string
	Timeout  time.Duration

	session *Session
}

// NewClient prepares a client for address (host or host:port).
func NewClient(address, password string) *Client {
	if !strings.Contains(address, ":") {
		address += ":" + DefaultPort
	}
	return &Client{Address: address, Password: password, Timeout: DefaultTimeout}
}

func (c *Client) Connect(timeout time.Duration) (err error) {
	c.session, err = Dial(c.Address, timeout)
	return
}

func (c *Client) Close() error {
	if c.session == nil {
		return nil
	}
	return c.session.Close()
}

// Session exposes the underlying session, mostly for tests.
func (c *Client) Session() *Session {
	return c.session
}

// headerKey is the obfuscated password, or garbage-free zeros once the
// session itself is encrypted.
func (c *Client) headerKey() []byte {
	if c.session != nil && c.session.Encrypted() {
		return ZeroKey
	}
	return GenerateHeaderKey(c.Password)
}

// Authenticate runs SRP and installs session encryption.
func (c *Client) Authenticate() error {
	if c.session == nil {
		return ErrNotConnected
	}
	return c.session.Queue(func() error {
		return Authenticate(c.session, c.Password)
	})
}

// PropertyResult is one entry of a mixed success/error response.
type PropertyResult struct {
	Property *Property
	Err      error
}

// GetProperty fetches a single property value.
func (c *Client) GetProperty(name string) (*Property, error) {
	props, err := c.GetProperties([]string{name})
	if err != nil {
		return nil, err
	}
	if len(props) != 1 {
		return nil, ErrInvalidResponse
	}
	return props[0], nil
}

// GetProperties fetches the named properties in request order. The first
// error element fails the call, but the stream is drained either way so
// the session stays aligned.
func (c *Client) GetProperties(names []string) ([]*Property, error) {
	results, err := c.getProperties(names)
	if err != nil {
		return nil, err
	}

	props := make([]*Property, 0, len(results))
	var firstErr error
	for _, r := range results {
		if r.Err != nil {
			if firstErr == nil {
				firstErr = r.Err
			}
			continue
		}
		props = append(props, r.Property)
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return props, nil
}

// GetPropertiesWithErrors returns mixed success/error entries in request
// order instead of failing on the first error element.
func (c *Client) GetPropertiesWithErrors(names []string) ([]*PropertyResult, error) {
	return c.getProperties(names)
}

func (c *Client) getProperties(names []string) (results []*PropertyResult, err error) {
	if c.session == nil {
		return nil, ErrNotConnected
	}

	err = c.session.Queue(func() error {
		var payload []byte
		for _, name := range names {
			p := &Property{Name: name, Value: make([]byte, 4)}
			payload = append(payload, ComposeRawElement(0, p)...)
		}
		payload = append(payload, ComposeRawElement(0, nil)...)

		if err := c.session.Send(NewGetPropMessage(c.headerKey(), payload)); err != nil {
			return err
		}

		msg, err := c.session.ReceiveMessageTimeout(c.Timeout)
		if err != nil {
			return err
		}
		if msg.ErrorCode != 0 {
			return &PropertyError{Code: msg.ErrorCode}
		}

		results, err = c.readElements(msg)
		return err
	})
	return
}

// readElements consumes the element list either from the response body
// (coalesced form) or raw from the stream (legacy multi-frame form).
func (c *Client) readElements(msg *Message) ([]*PropertyResult, error) {
	var results []*PropertyResult

	add := func(p *Property, flags uint32) {
		if flags&FlagError != 0 {
			results = append(results, &PropertyResult{
				Err: &PropertyError{Name: p.Name, Code: p.ErrorCode()},
			})
		} else {
			results = append(results, &PropertyResult{Property: p})
		}
	}

	if len(msg.Body) > 0 {
		b := msg.Body
		for {
			p, flags, rest, err := ParseRawElement(b)
			if err != nil {
				return nil, err
			}
			if p.IsSentinel() {
				return results, nil
			}
			add(p, flags)
			b = rest
		}
	}

	for {
		hdr, err := c.session.Receive(ElementHeaderSize, c.Timeout)
		if err != nil {
			return nil, err
		}
		if isZero(hdr) {
			// sentinel: 4 trailing zero bytes follow the zero header
			if _, err = c.session.Receive(SentinelSize-ElementHeaderSize, c.Timeout); err != nil {
				return nil, err
			}
			return results, nil
		}

		size := binary.BigEndian.Uint32(hdr[8:])
		value, err := c.session.Receive(int(size), c.Timeout)
		if err != nil {
			return nil, err
		}

		p := &Property{Name: string(hdr[:4]), Value: value}
		add(p, binary.BigEndian.Uint32(hdr[4:]))
	}
}

// SetProperties writes properties and collects per-property results.
func (c *Client) SetProperties(props []*Property) (results []*PropertyResult, err error) {
	if c.session == nil {
		return nil, ErrNotConnected
	}

	err = c.session.Queue(func() error {
		var payload []byte
		for _, p := range props {
			payload = append(payload, ComposeRawElement(0, p)...)
		}
		payload = append(payload, ComposeRawElement(0, nil)...)

		if err := c.session.Send(NewSetPropMessage(c.headerKey(), payload)); err != nil {
			return err
		}

		msg, err := c.session.ReceiveMessageTimeout(c.Timeout)
		if err != nil {
			return err
		}
		if msg.ErrorCode != 0 {
			return &PropertyError{Code: msg.ErrorCode}
		}

		results, err = c.readElements(msg)
		return err
	})
	return
}

// Monitor subscribes to change events and blocks, delivering each pushed
// frame body to handler in arrival order. No further exchanges may run on
// this session; cancel by closing the client.
func (c *Client) Monitor(filters map[string]any, handler func(event any)) error {
	if c.session == nil {
		return ErrNotConnected
	}

	err := c.session.Queue(func() error {
		payload, err := cflbin.Marshal(map[string]any{"filters": filters})
		if err != nil {
			return err
		}
		body := append(make([]byte, 4), payload...)

		if err = c.session.Send(NewMonitorMessage(c.headerKey(), body)); err != nil {
			return err
		}

		msg, err := c.session.ReceiveMessageTimeout(c.Timeout)
		if err != nil {
			return err
		}
		if msg.ErrorCode != 0 {
			return &PropertyError{Code: msg.ErrorCode}
		}

		c.session.setMonitoring()
		return nil
	})
	if err != nil {
		return err
	}

	for {
		event, err := c.receiveEvent()
		if err != nil {
			return err
		}
		handler(event)
	}
}

// receiveEvent reads one unsolicited "XE" frame. No deadline: monitor
// sessions stay quiet for as long as nothing changes.
func (c *Client) receiveEvent() (any, error) {
	hdr, err := c.session.Receive(8, NoTimeout)
	if err != nil {
		return nil, err
	}
	if hdr[0] != 'X' || hdr[1] != 'E' {
		return nil, ErrBadMagic
	}

	size := binary.BigEndian.Uint32(hdr[4:])
	body, err := c.session.Receive(int(size), c.Timeout)
	if err != nil {
		return nil, err
	}

	return cflbin.Unmarshal(body)
}

// RPC invokes a remote function and returns its outputs.
func (c *Client) RPC(function string, inputs map[string]any) (outputs map[string]any, err error) {
	if c.session == nil {
		return nil, ErrNotConnected
	}

	err = c.session.Queue(func() error {
		if inputs == nil {
			inputs = map[string]any{}
		}
		body, err := cflbin.Marshal(map[string]any{
			"function": function,
			"inputs":   inputs,
		})
		if err != nil {
			return err
		}

		if err = c.session.Send(NewRPCMessage(c.headerKey(), body)); err != nil {
			return err
		}

		msg, err := c.session.ReceiveMessageTimeout(c.Timeout)
		if err != nil {
			return err
		}

		dict, err := authPayload(msg.Body)
		if err != nil {
			return ErrInvalidResponse
		}

		status, ok := dict["status"]
		if !ok {
			return ErrInvalidResponse
		}
		if n, _ := toUint(status); n != 0 {
			return &RPCError{Status: int64(n)}
		}

		outputs, ok = dict["outputs"].(map[string]any)
		if !ok {
			return ErrInvalidResponse
		}
		return nil
	})
	return
}

// GetFeatures fetches the device feature list.
func (c *Client) GetFeatures() (features any, err error) {
	if c.session == nil {
		return nil, ErrNotConnected
	}

	err = c.session.Queue(func() error {
		if err := c.session.Send(NewFeaturesMessage()); err != nil {
			return err
		}
		msg, err := c.session.ReceiveMessageTimeout(c.Timeout)
		if err != nil {
			return err
		}
		features, err = cflbin.Unmarshal(msg.Body)
		return err
	})
	return
}

// GetLogs fetches the syslog ring buffer as text.
func (c *Client) GetLogs() (string, error) {
	p, err := c.GetProperty("logm")
	if err != nil {
		return "", err
	}
	v, err := FormatValue(KindLog, p.Value)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Ping round-trips an echo message.
func (c *Client) Ping(data []byte) error {
	if c.session == nil {
		return ErrNotConnected
	}
	return c.session.Queue(func() error {
		if err := c.session.Send(NewEchoMessage(c.headerKey(), data)); err != nil {
			return err
		}
		msg, err := c.session.ReceiveMessageTimeout(c.Timeout)
		if err != nil {
			return err
		}
		if string(msg.Body) != string(data) {
			return ErrInvalidResponse
		}
		return nil
	})
}

// Reboot triggers a restart via the acRB property.
func (c *Client) Reboot() error {
	p, err := NewProperty("acRB", uint32(0))
	if err != nil {
		return err
	}
	_, err = c.SetProperties([]*Property{p})
	return err
}

func (c *Client) FlashPrimary(firmware []byte) ([]byte, error) {
	return c.flash(NewFlashPrimaryMessage(c.headerKey(), firmware))
}

func (c *Client) FlashSecondary(firmware []byte) ([]byte, error) {
	return c.flash(NewFlashSecondaryMessage(c.headerKey(), firmware))
}

func (c *Client) FlashBootloader(firmware []byte) ([]byte, error) {
	return c.flash(NewFlashBootloaderMessage(c.headerKey(), firmware))
}

// flash writes a firmware image and returns the opaque response body.
// Flashing erases and rewrites NOR, so the read deadline is generous.
func (c *Client) flash(msg *Message) (response []byte, err error) {
	if c.session == nil {
		return nil, ErrNotConnected
	}

	err = c.session.Queue(func() error {
		if err := c.session.Send(msg); err != nil {
			return err
		}
		res, err := c.session.ReceiveMessageTimeout(time.Minute * 5)
		if err != nil {
			return err
		}
		if res.ErrorCode != 0 {
			return &PropertyError{Code: res.ErrorCode}
		}
		response = res.Body
		return nil
	})
	return
}
