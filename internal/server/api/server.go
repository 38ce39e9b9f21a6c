// Package api implements the control protocol of the server: one
// null-terminated request per connection, answered with a JSON line or a
// problem+json error, plus long-lived per-interface streams.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Alia5/VIIPMI/internal/server/api/auth"
	"github.com/Alia5/VIIPMI/internal/server/host"
)

const handshakeTimeout = 5 * time.Second

var wsRegex = regexp.MustCompile(`\s`)

// Server serves the control API for a host.Server.
type Server struct {
	host   *host.Server
	addr   string
	logger *slog.Logger
	router *Router
	config ServerConfig
	key    []byte

	mu sync.Mutex
	ln net.Listener
}

// New creates a new API server bound to a host.Server instance.
func New(h *host.Server, addr string, config ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		host:   h,
		addr:   addr,
		logger: logger,
		config: config,
		router: NewRouter(),
	}
}

// Router returns the router used by the API server so callers can register handlers.
func (a *Server) Router() *Router { return a.router }

// Host returns the underlying interface registry.
func (a *Server) Host() *host.Server { return a.host }

// Config returns the server configuration.
func (a *Server) Config() ServerConfig { return a.config }

// Addr returns the bound address once started, else the configured one.
func (a *Server) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ln != nil {
		return a.ln.Addr().String()
	}
	return a.addr
}

// Start listens on the configured address and serves incoming API commands.
func (a *Server) Start() error {
	if a.config.Password != "" {
		key, err := auth.DeriveKey(a.config.Password)
		if err != nil {
			return fmt.Errorf("derive api key: %w", err)
		}
		a.key = key
	}
	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.ln = ln
	a.mu.Unlock()
	routes, streams := a.router.Patterns()
	a.logger.Info("API listening", "addr", ln.Addr().String(), "auth", a.key != nil,
		"routes", len(routes), "streams", len(streams))
	go a.serve(ln)
	return nil
}

// Close stops accepting connections. Open streams end when their interface
// is detached or the peer hangs up.
func (a *Server) Close() {
	a.mu.Lock()
	ln := a.ln
	a.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
}

func (a *Server) serve(ln net.Listener) {
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				a.logger.Info("API server stopped")
				return
			}
			a.logger.Info("API accept error", "error", err)
			return
		}
		go a.handleConn(c)
	}
}

func (a *Server) writeError(w io.Writer, err error) {
	problemJSON, _ := json.Marshal(WrapError(err))
	fmt.Fprintf(w, "%s\n", string(problemJSON))
}

func (a *Server) writeOK(w io.Writer, rest string) {
	if rest == "" {
		fmt.Fprintln(w)
	} else {
		fmt.Fprintf(w, "%s\n", rest)
	}
}

func isLoopback(addr net.Addr) bool {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.IsLoopback()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// authenticate runs the optional handshake. It returns the connection and
// reader to continue with, or nil after answering the client itself.
func (a *Server) authenticate(conn net.Conn, r *bufio.Reader, logger *slog.Logger) (net.Conn, *bufio.Reader) {
	if a.key == nil {
		return conn, r
	}
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	ok, err := auth.IsHandshake(r)
	_ = conn.SetReadDeadline(time.Time{})
	if err != nil {
		logger.Error("api read handshake", "error", err)
		return nil, nil
	}
	if !ok {
		if isLoopback(conn.RemoteAddr()) && !a.config.RequireLocalAuth {
			return conn, r
		}
		logger.Warn("api unauthenticated request rejected")
		a.writeError(conn, ErrUnauthorized("authentication required"))
		return nil, nil
	}
	sc, err := auth.ServerHandshake(conn, r, a.key)
	if err != nil {
		logger.Warn("api handshake failed", "error", err)
		if errors.Is(err, auth.ErrUnauthorized) {
			a.writeError(conn, ErrUnauthorized(err.Error()))
		}
		return nil, nil
	}
	return sc, bufio.NewReader(sc)
}

func (a *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	connCtx, connCancel := context.WithCancel(context.Background())
	defer connCancel()

	connLogger := a.logger.With("remote", conn.RemoteAddr().String())
	conn, r := a.authenticate(conn, bufio.NewReader(conn), connLogger)
	if conn == nil {
		return
	}
	w := conn

	if a.config.ConnectionTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(a.config.ConnectionTimeout))
	}

	reqData, err := r.ReadString('\x00')
	if err != nil {
		if err == io.EOF {
			connLogger.Error("api incomplete request (no null terminator)")
		} else {
			connLogger.Error("read api data", "error", err)
		}
		return
	}
	reqData = strings.TrimSuffix(reqData, "\x00")

	if reqData == "" {
		connLogger.Error("api empty command")
		a.writeError(w, ErrBadRequest("empty request"))
		return
	}

	var path, payload string
	if loc := wsRegex.FindStringIndex(reqData); loc != nil {
		path = reqData[:loc[0]]
		payload = reqData[loc[1]:]
	} else {
		path = reqData
	}

	if path == "" {
		connLogger.Error("api empty path")
		a.writeError(w, ErrBadRequest("empty path"))
		return
	}

	path = strings.ToLower(path)
	connLogger.Info("api cmd", "path", path)

	if h, params := a.router.Match(path); h != nil {
		req := &Request{Ctx: connCtx, Params: params, Payload: payload}
		res := &Response{}
		if err := h(req, res, connLogger); err != nil {
			connLogger.Error("api handler error", "path", path, "error", err)
			a.writeError(w, err)
			return
		}
		connLogger.Debug("api handler success", "path", path)
		a.writeOK(w, res.JSON)
		return
	}

	if sh, params := a.router.MatchStream(path); sh != nil {
		iface, err := a.lookup(params)
		if err != nil {
			a.writeError(w, err)
			return
		}
		_ = conn.SetDeadline(time.Time{})
		connLogger = connLogger.With("id", iface.ID)
		connLogger.Info("api stream begin", "path", path)
		if err := sh(&bufferedConn{Conn: conn, r: r}, iface, connLogger); err != nil {
			connLogger.Error("api stream handler error", "path", path, "error", err)
		}
		connLogger.Info("api stream end", "path", path)
		return
	}

	connLogger.Error("api unknown path", "path", path)
	a.writeError(w, ErrNotFound(fmt.Sprintf("unknown path: %s", path)))
}

func (a *Server) lookup(params map[string]string) (*host.Attached, error) {
	idStr, ok := params["id"]
	if !ok {
		return nil, ErrBadRequest("missing id parameter")
	}
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return nil, ErrBadRequest(fmt.Sprintf("invalid id: %v", err))
	}
	iface, err := a.host.Get(id)
	if err != nil {
		return nil, WrapError(err)
	}
	return iface, nil
}

// bufferedConn hands stream handlers bytes the request reader already buffered.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) { return c.r.Read(p) }
