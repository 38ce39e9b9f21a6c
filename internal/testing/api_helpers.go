// Package testing holds helpers shared by the API tests.
package testing

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/Alia5/VIIPMI/internal/log"
	"github.com/Alia5/VIIPMI/internal/server/api"
	"github.com/Alia5/VIIPMI/internal/server/host"

	// Device types are registered by package init.
	_ "github.com/Alia5/VIIPMI/internal/registry"
)

// HostConfig returns a host configuration with short timeouts for tests.
func HostConfig() host.ServerConfig {
	return host.ServerConfig{
		Threaded:        false,
		MaxDrains:       64,
		ResponseTimeout: time.Second,
		RetryInterval:   5 * time.Millisecond,
		Reconnect:       10 * time.Millisecond,
		WriteTimeout:    50 * time.Millisecond,
		HwOps:           []string{"reset", "poweroff", "poweron", "nmi"},
	}
}

// StartAPIServer starts an API server on a free loopback port and calls
// register so the test can add the handlers it needs. The returned done
// function stops the API server and detaches every interface.
func StartAPIServer(t *testing.T, cfg api.ServerConfig, register func(r *api.Router, h *host.Server)) (addr string, h *host.Server, done func()) {
	t.Helper()
	h = host.New(HostConfig(), slog.Default(), log.NewRaw(nil))
	apiSrv := api.New(h, "127.0.0.1:0", cfg, slog.Default())
	if register != nil {
		register(apiSrv.Router(), h)
	}
	if err := apiSrv.Start(); err != nil {
		t.Fatalf("api start failed: %v", err)
	}
	done = func() {
		apiSrv.Close()
		_ = h.Close()
	}
	return apiSrv.Addr(), h, done
}

// ExecCmd dials the API server, sends cmd and reads the full response
// without the trailing newline.
func ExecCmd(t *testing.T, addr string, cmd string) string {
	t.Helper()
	c, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer c.Close()
	_ = c.SetDeadline(time.Now().Add(5 * time.Second))

	_, _ = fmt.Fprintf(c, "%s\x00", cmd)

	line, err := bufio.NewReader(c).ReadString('\n')
	if err != nil && err != io.EOF {
		t.Fatalf("read failed: %v", err)
	}
	return strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
}
