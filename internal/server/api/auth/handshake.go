package auth

import (
	"bufio"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/Alia5/VIIPMI/apitypes"
)

// Client: magic | nonce[32] | hmac[32]. Server: "OK\0" | nonce[32].
const (
	HandshakeMagic = "eVM1\x00"
	NonceSize      = 32
	okPrefix       = "OK\x00"
	authContext    = "VIIPMI-Auth-v1"
)

// ErrUnauthorized is returned by ServerHandshake when the client proved the wrong key.
var ErrUnauthorized = errors.New("invalid password")

func clientMAC(key, nonce []byte) []byte {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(authContext))
	_, _ = mac.Write(nonce)
	return mac.Sum(nil)
}

func newNonce() ([]byte, error) {
	n := make([]byte, NonceSize)
	if _, err := rand.Read(n); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return n, nil
}

// IsHandshake reports whether the buffered input starts with HandshakeMagic.
// It peeks one byte at a time so short plain requests never block on it.
func IsHandshake(r *bufio.Reader) (bool, error) {
	for n := 1; n <= len(HandshakeMagic); n++ {
		b, err := r.Peek(n)
		if err != nil {
			return false, err
		}
		if b[n-1] != HandshakeMagic[n-1] {
			return false, nil
		}
	}
	return true, nil
}

// ServerHandshake consumes a client handshake from r, answers on conn and
// returns the encrypted session. r must be the reader that saw IsHandshake.
func ServerHandshake(conn net.Conn, r *bufio.Reader, key []byte) (net.Conn, error) {
	if len(key) == 0 {
		return nil, errors.New("handshake: missing key")
	}
	if _, err := r.Discard(len(HandshakeMagic)); err != nil {
		return nil, fmt.Errorf("discard handshake magic: %w", err)
	}
	msg := make([]byte, NonceSize+sha256.Size)
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, fmt.Errorf("read client handshake: %w", err)
	}
	clientNonce, clientAuth := msg[:NonceSize], msg[NonceSize:]
	if !hmac.Equal(clientAuth, clientMAC(key, clientNonce)) {
		return nil, ErrUnauthorized
	}

	serverNonce, err := newNonce()
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(append([]byte(okPrefix), serverNonce...)); err != nil {
		return nil, fmt.Errorf("write handshake response: %w", err)
	}
	session, err := DeriveSessionKey(key, serverNonce, clientNonce)
	if err != nil {
		return nil, err
	}
	return Wrap(conn, r, session)
}

// ClientHandshake authenticates conn with key and returns the encrypted
// session. A problem+json reply from the server is returned as *apitypes.ApiError.
func ClientHandshake(conn net.Conn, key []byte) (net.Conn, error) {
	if len(key) == 0 {
		return nil, errors.New("handshake: missing key")
	}
	clientNonce, err := newNonce()
	if err != nil {
		return nil, err
	}
	msg := append([]byte(HandshakeMagic), clientNonce...)
	msg = append(msg, clientMAC(key, clientNonce)...)
	if _, err := conn.Write(msg); err != nil {
		return nil, fmt.Errorf("write handshake: %w", err)
	}

	r := bufio.NewReader(conn)
	prefix := make([]byte, len(okPrefix))
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, fmt.Errorf("read handshake response: %w", err)
	}
	if string(prefix) != okPrefix {
		rest, _ := io.ReadAll(r)
		line := strings.TrimSuffix(string(append(prefix, rest...)), "\n")
		var apiErr apitypes.ApiError
		if err := json.Unmarshal([]byte(line), &apiErr); err == nil && (apiErr.Status != 0 || apiErr.Title != "") {
			return nil, &apiErr
		}
		return nil, fmt.Errorf("invalid handshake response from server: %q", line)
	}
	serverNonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(r, serverNonce); err != nil {
		return nil, fmt.Errorf("read server nonce: %w", err)
	}
	session, err := DeriveSessionKey(key, serverNonce, clientNonce)
	if err != nil {
		return nil, err
	}
	return Wrap(conn, r, session)
}
