// Package proxy relays the VM protocol between an emulator and an external
// BMC, logging every decoded frame.
package proxy

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/Alia5/VIIPMI/internal/log"
)

type Server struct {
	listenAddr        string
	upstreamAddr      string
	connectionTimeout time.Duration
	logger            *slog.Logger
	rawLogger         log.RawLogger

	mu sync.Mutex
	ln net.Listener
}

// New returns a proxy accepting emulators on listenAddr and relaying each to
// upstreamAddr ("host:port", "tcp:host:port" or "unix:/path").
func New(listenAddr, upstreamAddr string, connectionTimeout time.Duration, logger *slog.Logger, rawLogger log.RawLogger) *Server {
	if rawLogger == nil {
		rawLogger = log.NewRaw(nil)
	}
	return &Server{
		listenAddr:        listenAddr,
		upstreamAddr:      upstreamAddr,
		connectionTimeout: connectionTimeout,
		logger:            logger,
		rawLogger:         rawLogger,
	}
}

// Addr returns the bound address once listening, else the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.listenAddr
}

// Listen binds the listen address. ListenAndServe calls it when needed.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.listenAddr, err)
	}
	s.ln = ln
	return nil
}

func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	s.logger.Info("VM proxy listening", "addr", ln.Addr().String(), "upstream", s.upstreamAddr)

	for {
		emuConn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.logger.Info("Proxy server stopped")
				return nil
			}
			s.logger.Error("Accept error", "error", err)
			continue
		}
		s.logger.Info("Emulator connected", "remote", emuConn.RemoteAddr())
		go s.handleProxy(emuConn)
	}
}

func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

func upstreamNetwork(addr string) (network, address string) {
	switch {
	case strings.HasPrefix(addr, "unix:"):
		return "unix", strings.TrimPrefix(addr, "unix:")
	case strings.HasPrefix(addr, "tcp:"):
		return "tcp", strings.TrimPrefix(addr, "tcp:")
	}
	return "tcp", addr
}

func (s *Server) handleProxy(emuConn net.Conn) {
	defer emuConn.Close()

	network, address := upstreamNetwork(s.upstreamAddr)
	bmcConn, err := net.DialTimeout(network, address, s.connectionTimeout)
	if err != nil {
		s.logger.Error("Failed to connect to BMC", "upstream", s.upstreamAddr, "error", err)
		return
	}
	defer bmcConn.Close()

	s.logger.Info("Proxying connection", "emulator", emuConn.RemoteAddr(), "bmc", s.upstreamAddr)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		n, err := s.copyWithLogging(bmcConn, emuConn, true)
		if err != nil && !isExpectedDisconnect(err) {
			s.logger.Debug("Emulator->BMC copy error", "error", err)
		}
		s.logger.Debug("Emulator->BMC stream ended", "bytes", n)
		halfClose(bmcConn, true)
		halfClose(emuConn, false)
	}()

	go func() {
		defer wg.Done()
		n, err := s.copyWithLogging(emuConn, bmcConn, false)
		if err != nil && !isExpectedDisconnect(err) {
			s.logger.Debug("BMC->Emulator copy error", "error", err)
		}
		s.logger.Debug("BMC->Emulator stream ended", "bytes", n)
		halfClose(emuConn, true)
		halfClose(bmcConn, false)
	}()

	wg.Wait()
	s.logger.Info("Connection closed", "emulator", emuConn.RemoteAddr())
}

func (s *Server) copyWithLogging(dst net.Conn, src net.Conn, toBMC bool) (int64, error) {
	buf := make([]byte, 4*1024)
	var total int64
	parser := NewParser(s.logger, toBMC)

	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			s.rawLogger.Log(toBMC, buf[:n])
			parser.Parse(buf[:n], toBMC)

			if s.connectionTimeout > 0 {
				_ = dst.SetWriteDeadline(time.Now().Add(s.connectionTimeout))
			}
			wn, werr := dst.Write(buf[:n])
			total += int64(wn)
			if werr != nil {
				return total, werr
			}
			if wn != n {
				return total, fmt.Errorf("short write: wrote %d of %d", wn, n)
			}
		}

		if rerr != nil {
			if rerr == io.EOF {
				return total, nil
			}
			return total, rerr
		}
	}
}

func halfClose(conn net.Conn, write bool) {
	type closeWriter interface{ CloseWrite() error }
	type closeReader interface{ CloseRead() error }
	if write {
		if c, ok := conn.(closeWriter); ok {
			_ = c.CloseWrite()
		}
		return
	}
	if c, ok := conn.(closeReader); ok {
		_ = c.CloseRead()
	}
}

func isExpectedDisconnect(err error) bool {
	if err == nil || err == io.EOF || errors.Is(err, net.ErrClosed) {
		return true
	}
	e := strings.ToLower(err.Error())
	return strings.Contains(e, "connection reset") ||
		strings.Contains(e, "broken pipe") ||
		strings.Contains(e, "forcibly closed")
}
