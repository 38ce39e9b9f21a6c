// Package chardev provides the byte-stream links an external BMC is reached
// over. A Chardev keeps its link open until its context is cancelled,
// reconnecting after failures, and reports link events to a Handler.
package chardev

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/Alia5/VIIPMI/internal/log"
)

// Defaults for Config.
const (
	DefaultReconnect    = time.Second
	DefaultWriteTimeout = 5 * time.Millisecond
	DefaultBaudRate     = 115200
)

// Handler receives link events. Calls are made from the Run goroutine and
// never overlap.
type Handler interface {
	// Opened is called once a link is up. w stays valid until Closed.
	Opened(w io.Writer)
	// Receive delivers bytes read from the link. p is only valid during the call.
	Receive(p []byte)
	// Closed is called after the link went down.
	Closed()
}

// Config describes a link.
type Config struct {
	// Address selects the transport:
	//   tcp:host:port, unix:/path, listen:host:port,
	//   serial:/dev/ttyS0[,baud], ws://host/path, wss://host/path
	Address      string        `help:"External BMC link address (tcp:, unix:, listen:, serial:, ws://, wss://)" env:"VIIPMI_CHARDEV"`
	Reconnect    time.Duration `help:"Delay before reopening a failed link" default:"1s" env:"VIIPMI_CHARDEV_RECONNECT"`
	WriteTimeout time.Duration `help:"Write deadline for socket links; unaccepted bytes are retried later" default:"5ms" env:"VIIPMI_CHARDEV_WRITE_TIMEOUT"`
}

// Endpoint is a parsed link address.
type Endpoint struct {
	Scheme string
	Target string
	Baud   int
}

func (e Endpoint) String() string {
	switch e.Scheme {
	case "ws", "wss":
		return e.Target
	case "serial":
		return fmt.Sprintf("serial:%s,%d", e.Target, e.Baud)
	default:
		return e.Scheme + ":" + e.Target
	}
}

// ErrBadAddress is returned for addresses Parse does not understand.
var ErrBadAddress = errors.New("chardev: bad address")

// Parse splits a link address into its transport and target.
func Parse(addr string) (Endpoint, error) {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		scheme, _, _ := strings.Cut(addr, ":")
		return Endpoint{Scheme: scheme, Target: addr}, nil
	}
	scheme, target, ok := strings.Cut(addr, ":")
	if !ok || target == "" {
		return Endpoint{}, fmt.Errorf("%w: %q", ErrBadAddress, addr)
	}
	switch scheme {
	case "tcp", "listen":
		if _, _, err := net.SplitHostPort(target); err != nil {
			return Endpoint{}, fmt.Errorf("%w: %v", ErrBadAddress, err)
		}
		return Endpoint{Scheme: scheme, Target: target}, nil
	case "unix":
		return Endpoint{Scheme: scheme, Target: target}, nil
	case "serial":
		e := Endpoint{Scheme: scheme, Target: target, Baud: DefaultBaudRate}
		if dev, baud, ok := strings.Cut(target, ","); ok {
			b, err := strconv.Atoi(baud)
			if err != nil || b <= 0 {
				return Endpoint{}, fmt.Errorf("%w: baud rate %q", ErrBadAddress, baud)
			}
			e.Target, e.Baud = dev, b
		}
		return e, nil
	default:
		return Endpoint{}, fmt.Errorf("%w: unknown transport %q", ErrBadAddress, scheme)
	}
}

type opener interface {
	open(ctx context.Context) (io.ReadWriteCloser, error)
	close() error
}

// Chardev owns one link to an external BMC.
type Chardev struct {
	cfg     Config
	ep      Endpoint
	handler Handler
	logger  *slog.Logger
	raw     log.RawLogger
	op      opener
}

// New parses cfg.Address and prepares the link. Listening links bind their
// socket immediately so Addr is known before Run.
func New(cfg Config, h Handler, logger *slog.Logger, raw log.RawLogger) (*Chardev, error) {
	ep, err := Parse(cfg.Address)
	if err != nil {
		return nil, err
	}
	if cfg.Reconnect <= 0 {
		cfg.Reconnect = DefaultReconnect
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	if raw == nil {
		raw = log.NewRaw(nil)
	}
	c := &Chardev{cfg: cfg, ep: ep, handler: h, logger: logger.With("chardev", ep.String()), raw: raw}

	switch ep.Scheme {
	case "tcp", "unix":
		c.op = &dialer{network: ep.Scheme, addr: ep.Target}
	case "listen":
		ln, err := net.Listen("tcp", ep.Target)
		if err != nil {
			return nil, fmt.Errorf("listen %s: %w", ep.Target, err)
		}
		c.op = &acceptor{ln: ln}
	case "serial":
		c.op = &serialOpener{port: ep.Target, baud: ep.Baud}
	case "ws", "wss":
		c.op = &wsDialer{url: ep.Target}
	}
	return c, nil
}

// Endpoint returns the parsed address.
func (c *Chardev) Endpoint() Endpoint { return c.ep }

// Addr returns the bound address of a listening link, nil otherwise.
func (c *Chardev) Addr() net.Addr {
	if a, ok := c.op.(*acceptor); ok {
		return a.ln.Addr()
	}
	return nil
}

// Run keeps the link open until ctx is cancelled and returns nil then.
func (c *Chardev) Run(ctx context.Context) error {
	defer c.op.close()
	for {
		rwc, err := c.op.open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Debug("link open failed", "error", err)
		} else {
			c.serve(ctx, rwc)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.cfg.Reconnect):
		}
	}
}

func (c *Chardev) serve(ctx context.Context, rwc io.ReadWriteCloser) {
	c.logger.Info("link connected")
	stop := context.AfterFunc(ctx, func() { _ = rwc.Close() })
	defer stop()

	c.handler.Opened(&linkWriter{rwc: rwc, timeout: c.cfg.WriteTimeout, raw: c.raw})
	buf := make([]byte, 1024)
	for {
		n, err := rwc.Read(buf)
		if n > 0 {
			c.raw.Log(true, buf[:n])
			c.handler.Receive(buf[:n])
		}
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				c.logger.Warn("link read failed", "error", err)
			}
			break
		}
	}
	_ = rwc.Close()
	c.handler.Closed()
	c.logger.Info("link disconnected")
}

type deadlineSetter interface {
	SetWriteDeadline(t time.Time) error
}

// linkWriter bounds each write by a deadline where the transport supports
// one, so a stalled peer yields a short write instead of blocking.
type linkWriter struct {
	rwc     io.ReadWriteCloser
	timeout time.Duration
	raw     log.RawLogger
}

func (w *linkWriter) Write(p []byte) (int, error) {
	if d, ok := w.rwc.(deadlineSetter); ok {
		_ = d.SetWriteDeadline(time.Now().Add(w.timeout))
	}
	n, err := w.rwc.Write(p)
	w.raw.Log(false, p[:n])
	return n, err
}

// Close drops the connection; the read loop then reports the link closed.
func (w *linkWriter) Close() error { return w.rwc.Close() }

type dialer struct {
	network, addr string
}

func (d *dialer) open(ctx context.Context) (io.ReadWriteCloser, error) {
	var nd net.Dialer
	return nd.DialContext(ctx, d.network, d.addr)
}

func (d *dialer) close() error { return nil }

// acceptor serves one peer at a time; further peers wait in the backlog
// until the current one disconnects.
type acceptor struct {
	ln net.Listener
}

func (a *acceptor) open(ctx context.Context) (io.ReadWriteCloser, error) {
	stop := context.AfterFunc(ctx, func() { _ = a.ln.Close() })
	defer stop()
	return a.ln.Accept()
}

func (a *acceptor) close() error { return a.ln.Close() }
