package auth

import (
	"bytes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// Frame: length[4] (big endian, nonce+ciphertext) | nonce[12] | ciphertext.
const maxPacketSize = 2 * 1024 * 1024

// ErrPacketTooLarge is returned when a peer announces a frame above the limit.
var ErrPacketTooLarge = errors.New("auth: packet too large")

// Conn encrypts every Write as one frame and decrypts frames on Read.
type Conn struct {
	net.Conn
	r    io.Reader
	aead cipher.AEAD

	wmu     sync.Mutex
	sendCtr uint64

	rmu     sync.Mutex
	recvBuf bytes.Buffer
}

// Wrap returns an encrypted view of conn. Frames are read from r, which may
// be a buffered reader that already consumed part of conn; nil reads conn.
func Wrap(conn net.Conn, r io.Reader, sessionKey []byte) (net.Conn, error) {
	aead, err := chacha20poly1305.New(sessionKey)
	if err != nil {
		return nil, err
	}
	if r == nil {
		r = conn
	}
	return &Conn{Conn: conn, r: r, aead: aead}, nil
}

func (s *Conn) Write(p []byte) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	frame := make([]byte, 4+chacha20poly1305.NonceSize, 4+chacha20poly1305.NonceSize+len(p)+s.aead.Overhead())
	nonce := frame[4:]
	binary.BigEndian.PutUint64(nonce[4:], s.sendCtr)
	s.sendCtr++
	frame = s.aead.Seal(frame, nonce, p, nil)
	binary.BigEndian.PutUint32(frame[:4], uint32(len(frame)-4))

	if _, err := s.Conn.Write(frame); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *Conn) Read(p []byte) (int, error) {
	s.rmu.Lock()
	defer s.rmu.Unlock()

	for s.recvBuf.Len() == 0 {
		var hdr [4]byte
		if _, err := io.ReadFull(s.r, hdr[:]); err != nil {
			return 0, err
		}
		length := binary.BigEndian.Uint32(hdr[:])
		if length > maxPacketSize {
			return 0, ErrPacketTooLarge
		}
		if length < chacha20poly1305.NonceSize {
			return 0, io.ErrUnexpectedEOF
		}
		pkt := make([]byte, length)
		if _, err := io.ReadFull(s.r, pkt); err != nil {
			return 0, err
		}
		pt, err := s.aead.Open(nil, pkt[:chacha20poly1305.NonceSize], pkt[chacha20poly1305.NonceSize:], nil)
		if err != nil {
			return 0, err
		}
		s.recvBuf.Write(pt)
	}
	return s.recvBuf.Read(p)
}
