package acp

import (
	"math/big"

	"github.com/AlexxIT/go-acp/pkg/acp/cflbin"
	"github.com/tadglines/go-pkgs/crypto/srp"
)

// RFC 5054 1536-bit group, sent to the client alongside the SRP params.
// Always emitted in trimmed big-endian form.
const srpModulus1536 = "9DEF3CAFB939277AB1F12A8617A47BBBDBA51DF499AC4C80" +
	"BEEEA9614B19CC4D5F4F5F556E27CBDE51C6A94BE4607A291558903BA0D0F843" +
	"80B655BB9A22E8DCDF028A7CEC67F0D08134B1C8B97989149B609E0BE3BAB63D" +
	"47548381DBC5B1FC764E3F4B53DD9DA1158BFD3E2B9C8CF56EDF019539349627" +
	"DB2FD53D24B7C48665772E437D6C7F8CE442734AF7CCB7AE837C264AE3A9BEB8" +
	"7F8A2FE9B8B5292E5A021FFF5E91479E8CE7A28C2442C6F315180F93499A234D" +
	"CF76E3FED135F9BB"

func srpGroupParams() (modulus, generator []byte) {
	n, _ := new(big.Int).SetString(srpModulus1536, 16)
	return n.Bytes(), []byte{2}
}

// serverAuth keeps the SRP exchange state of one connection between the
// state 1 and state 3 messages.
type serverAuth struct {
	session  *srp.ServerSession
	clientIV []byte
}

// handleAuth advances the server side of the SRP state machine by one
// message and returns the reply. When key != nil the exchange succeeded
// and encryption must be installed after the reply is written.
func (a *serverAuth) handleAuth(msg *Message, password string) (reply *Message, key, serverIV []byte, err error) {
	payload, err := authPayload(msg.Body)
	if err != nil {
		return nil, nil, nil, err
	}

	state, _ := toUint(payload["state"])
	switch state {
	case 1:
		if username, _ := payload["username"].(string); username != srpUsername {
			return errorReply(ErrorCodeIncorrectPassword), nil, nil, nil
		}

		sr, err := newSRP()
		if err != nil {
			return nil, nil, nil, err
		}
		salt, verifier, err := sr.ComputeVerifier([]byte(password))
		if err != nil {
			return nil, nil, nil, err
		}
		a.session = sr.NewServerSession([]byte(srpUsername), salt, verifier)

		modulus, generator := srpGroupParams()
		body, err := cflbin.Marshal(map[string]any{
			"salt":      salt,
			"generator": generator,
			"publicKey": a.session.GetB(),
			"modulus":   modulus,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return NewAuthMessage(body), nil, nil, nil

	case 3:
		if a.session == nil {
			return errorReply(ErrorCodeIncorrectPassword), nil, nil, nil
		}

		clientPublic, _ := payload["publicKey"].([]byte)
		clientProof, _ := payload["response"].([]byte)
		a.clientIV, _ = payload["iv"].([]byte)
		if clientPublic == nil || clientProof == nil || len(a.clientIV) != 16 {
			return nil, nil, nil, ErrInvalidResponse
		}

		key, err = a.session.ComputeKey(clientPublic)
		if err != nil {
			return nil, nil, nil, err
		}

		if !a.session.VerifyClientAuthenticator(clientProof) {
			// wrong password: report and let the client retry from state 1
			a.session = nil
			return errorReply(ErrorCodeIncorrectPassword), nil, nil, nil
		}

		serverProof := a.session.ComputeAuthenticator(clientProof)
		if serverIV, err = randomIV(); err != nil {
			return nil, nil, nil, err
		}

		body, err := cflbin.Marshal(map[string]any{
			"response": serverProof,
			"iv":       serverIV,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return NewAuthMessage(body), key, serverIV, nil
	}

	return nil, nil, nil, ErrInvalidResponse
}

func errorReply(code int32) *Message {
	m := NewAuthMessage(nil)
	m.ErrorCode = code
	return m
}
