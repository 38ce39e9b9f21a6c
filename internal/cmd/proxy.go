package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Alia5/VIIPMI/internal/log"
	"github.com/Alia5/VIIPMI/internal/server/proxy"
)

type Proxy struct {
	ListenAddr        string        `help:"Address the emulator connects to" default:":9003" env:"VIIPMI_PROXY_ADDR"`
	UpstreamAddr      string        `help:"External BMC address (host:port or unix:/path)" required:"" env:"VIIPMI_PROXY_UPSTREAM"`
	ConnectionTimeout time.Duration `help:"Dial and write timeout towards either side" default:"30s" env:"VIIPMI_PROXY_TIMEOUT"`
}

// Run is called by Kong when the proxy command is executed.
func (p *Proxy) Run(logger *slog.Logger, rawLogger log.RawLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if p.UpstreamAddr == "" {
		return errors.New("upstream address is empty")
	}

	logger.Info("Starting VIIPMI VM proxy", "listen", p.ListenAddr, "upstream", p.UpstreamAddr)
	proxySrv := proxy.New(p.ListenAddr, p.UpstreamAddr, p.ConnectionTimeout, logger, rawLogger)

	proxyErrCh := make(chan error, 1)
	go func() {
		proxyErrCh <- proxySrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down proxy server")
		_ = proxySrv.Close()
		<-proxyErrCh
		return nil
	case err := <-proxyErrCh:
		return err
	}
}
