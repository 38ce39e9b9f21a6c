package chardev

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// ErrConnectionClosed is returned when reading from a closed WebSocket link.
var ErrConnectionClosed = errors.New("chardev: websocket connection closed")

type wsDialer struct {
	url string
}

func (d *wsDialer) open(ctx context.Context) (io.ReadWriteCloser, error) {
	u, err := url.Parse(d.url)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connection failed: %w", err)
	}
	return &wsConn{conn: conn}, nil
}

func (d *wsDialer) close() error { return nil }

// wsConn carries the stream as binary messages. Message boundaries carry no
// meaning; text messages are skipped.
type wsConn struct {
	conn   *websocket.Conn
	buf    []byte
	closed bool
}

func (w *wsConn) Read(p []byte) (int, error) {
	if w.closed {
		return 0, ErrConnectionClosed
	}
	for len(w.buf) == 0 {
		mt, data, err := w.conn.ReadMessage()
		if err != nil {
			w.closed = true
			return 0, err
		}
		if mt == websocket.BinaryMessage {
			w.buf = data
		}
	}
	n := copy(p, w.buf)
	w.buf = w.buf[n:]
	return n, nil
}

// Write sends p as one binary message. A websocket connection is unusable
// after any failed write, a missed deadline included, so the connection is
// closed and the error reports the link as gone.
func (w *wsConn) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		_ = w.conn.Close()
		return 0, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return len(p), nil
}

func (w *wsConn) SetWriteDeadline(t time.Time) error { return w.conn.SetWriteDeadline(t) }

func (w *wsConn) Close() error { return w.conn.Close() }
