package acp

import (
	"crypto/rand"
	"crypto/sha1"

	"github.com/AlexxIT/go-acp/pkg/acp/cflbin"
	"github.com/tadglines/go-pkgs/crypto/srp"
)

// SRP-6a over the well-known 1536-bit group with SHA-1. The username is
// fixed by the protocol.
const (
	srpGroup    = "rfc5054.1536"
	srpUsername = "admin"
)

func newSRP() (*srp.SRP, error) {
	s, err := srp.NewSRP(srpGroup, sha1.New, keyDerivativeFuncRFC2945([]byte(srpUsername)))
	if err != nil {
		return nil, err
	}
	s.SaltLength = 16
	return s, nil
}

// x = H(salt | H(username ":" password)) per RFC 2945
func keyDerivativeFuncRFC2945(username []byte) srp.KeyDerivationFunc {
	return func(salt, password []byte) []byte {
		h := sha1.New()
		h.Write(username)
		h.Write([]byte(":"))
		h.Write(password)
		t := h.Sum(nil)
		h.Reset()
		h.Write(salt)
		h.Write(t)
		return h.Sum(nil)
	}
}

func randomIV() ([]byte, error) {
	iv := make([]byte, 16)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}
	return iv, nil
}

// Authenticate runs the five-step SRP exchange on an open session and, on
// success, installs the client-role encryption context. ErrProofMismatch
// is fatal for the session; ErrIncorrectPassword allows a retry on the
// same socket.
func Authenticate(s *Session, password string) error {
	body, err := cflbin.Marshal(map[string]any{
		"state":    uint64(1),
		"username": srpUsername,
	})
	if err != nil {
		return err
	}
	if err = s.Send(NewAuthMessage(body)); err != nil {
		return err
	}

	msg, err := s.ReceiveMessage()
	if err != nil {
		return err
	}
	if msg.ErrorCode != 0 {
		return &PropertyError{Code: msg.ErrorCode}
	}

	params, err := authPayload(msg.Body)
	if err != nil {
		return err
	}
	salt, _ := params["salt"].([]byte)
	serverPublic, _ := params["publicKey"].([]byte)
	if salt == nil || serverPublic == nil {
		return ErrInvalidResponse
	}

	// generator and modulus arrive alongside, possibly with leading
	// zeros; the group is pinned so they only document the server's view

	sr, err := newSRP()
	if err != nil {
		return err
	}
	client := sr.NewClientSession([]byte(srpUsername), []byte(password))

	key, err := client.ComputeKey(salt, serverPublic)
	if err != nil {
		return err
	}

	clientIV, err := randomIV()
	if err != nil {
		return err
	}

	body, err = cflbin.Marshal(map[string]any{
		"state":     uint64(3),
		"publicKey": client.GetA(),
		"response":  client.ComputeAuthenticator(),
		"iv":        clientIV,
	})
	if err != nil {
		return err
	}
	if err = s.Send(NewAuthMessage(body)); err != nil {
		return err
	}

	if msg, err = s.ReceiveMessage(); err != nil {
		return err
	}
	if msg.ErrorCode == ErrorCodeIncorrectPassword {
		return ErrIncorrectPassword
	}
	if msg.ErrorCode != 0 {
		return &PropertyError{Code: msg.ErrorCode}
	}

	proof, err := authPayload(msg.Body)
	if err != nil {
		return err
	}
	serverProof, _ := proof["response"].([]byte)
	serverIV, _ := proof["iv"].([]byte)
	if serverProof == nil || serverIV == nil {
		return ErrInvalidResponse
	}

	if !client.VerifyServerAuthenticator(serverProof) {
		return ErrProofMismatch
	}

	return s.EnableEncryption(key, clientIV, serverIV)
}

func authPayload(body []byte) (map[string]any, error) {
	v, err := cflbin.Unmarshal(body)
	if err != nil {
		return nil, err
	}
	dict, ok := v.(map[string]any)
	if !ok {
		return nil, ErrInvalidResponse
	}
	return dict, nil
}
