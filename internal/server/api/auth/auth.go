// Package auth implements the optional password protection of the API:
// an HMAC challenge handshake followed by a ChaCha20-Poly1305 framed session.
package auth

import (
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	AutoGenKeyLength = 16
	Base62Chars      = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	PBKDF2Iterations = 100000
	PBKDF2Salt       = "VIIPMI-Key-v1"
	KeySize          = 32

	sessionInfo = "VIIPMI-Session-v1"
)

// ErrEmptyPassword is returned by DeriveKey for an empty password.
var ErrEmptyPassword = errors.New("password cannot be empty")

// GenerateKey creates a random base62 password of AutoGenKeyLength characters.
func GenerateKey() (string, error) {
	randomBytes := make([]byte, AutoGenKeyLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", err
	}
	key := make([]byte, AutoGenKeyLength)
	for i, b := range randomBytes {
		key[i] = Base62Chars[int(b)%len(Base62Chars)]
	}
	return string(key), nil
}

// DeriveKey stretches a password to KeySize bytes with PBKDF2-SHA256.
func DeriveKey(password string) ([]byte, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}
	return pbkdf2.Key(sha256.New, password, []byte(PBKDF2Salt), PBKDF2Iterations, KeySize)
}

// DeriveSessionKey expands the long-term key and both handshake nonces into
// a per-connection key with HKDF-SHA256.
func DeriveSessionKey(key, serverNonce, clientNonce []byte) ([]byte, error) {
	salt := make([]byte, 0, len(serverNonce)+len(clientNonce))
	salt = append(salt, serverNonce...)
	salt = append(salt, clientNonce...)
	out := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key, salt, []byte(sessionInfo)), out); err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	return out, nil
}
