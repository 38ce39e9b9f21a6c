package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/Alia5/VIIPMI/apitypes"
	"github.com/Alia5/VIIPMI/device"
	"github.com/Alia5/VIIPMI/internal/configpaths"
	"github.com/Alia5/VIIPMI/internal/log"
	"github.com/Alia5/VIIPMI/internal/server/api"
	"github.com/Alia5/VIIPMI/internal/server/api/auth"
	"github.com/Alia5/VIIPMI/internal/server/api/handler"
	"github.com/Alia5/VIIPMI/internal/server/host"
)

const keyFileName = "viipmi.key.txt"

// Version is reported by the ping route. Set at build time.
var Version = "dev"

// InterfaceConfig describes the interface attached when the server starts.
type InterfaceConfig struct {
	Type      string `help:"Interface attached at startup (kcs, bt, ssif); empty attaches none" default:"kcs" env:"VIIPMI_IFACE_TYPE"`
	Backend   string `help:"BMC backend: sim, or tcp:host:port, unix:/path, listen:host:port, serial:/dev/ttyS0[,baud], ws://host/path" default:"sim" env:"VIIPMI_IFACE_BACKEND"`
	IOBase    string `help:"I/O base of a KCS or BT interface (e.g. 0xca2); empty keeps the type default" env:"VIIPMI_IFACE_IOBASE"`
	IRQ       int    `help:"Interrupt line; 0 disables interrupts, -1 keeps the default" default:"-1" env:"VIIPMI_IFACE_IRQ"`
	SlaveAddr string `help:"SMBus slave address of an SSIF interface (e.g. 0x20)" env:"VIIPMI_IFACE_SLAVE_ADDR"`
}

// options converts the flags into attach options.
func (c InterfaceConfig) options() (host.AttachOptions, error) {
	o := host.AttachOptions{Type: c.Type, Backend: c.Backend}
	if c.IOBase != "" {
		v, err := apitypes.ParseUint(c.IOBase, 16)
		if err != nil {
			return o, fmt.Errorf("iobase: %w", err)
		}
		base := uint16(v)
		o.Device.IOBase = &base
	}
	if c.IRQ >= 0 {
		irq := c.IRQ
		o.Device.IRQ = &irq
	}
	if c.SlaveAddr != "" {
		v, err := apitypes.ParseUint(c.SlaveAddr, 8)
		if err != nil {
			return o, fmt.Errorf("slave-addr: %w", err)
		}
		addr := uint8(v)
		o.Device.SlaveAddr = &addr
	}
	return o, nil
}

type Server struct {
	HostConfig      host.ServerConfig `embed:"" prefix:"host."`
	ApiServerConfig api.ServerConfig  `embed:"" prefix:"api."`
	Interface       InterfaceConfig   `embed:"" prefix:"iface."`
	NoAuth          bool              `help:"Serve the API without a password" env:"VIIPMI_API_NO_AUTH"`
}

// Run is called by Kong when the server command is executed.
func (s *Server) Run(logger *slog.Logger, rawLogger log.RawLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.StartServer(ctx, logger, rawLogger)
}

// loadPassword reads the API password from the key file, creating the file
// with a generated password on first start.
func loadPassword(logger *slog.Logger) (string, error) {
	keyFileDir, err := configpaths.DefaultConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve key file path: %w", err)
	}
	keyFilePath := filepath.Join(keyFileDir, keyFileName)
	if pwd, err := os.ReadFile(keyFilePath); err == nil {
		return strings.TrimSpace(string(pwd)), nil
	}

	newPwd, err := auth.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("failed to generate new API password: %w", err)
	}
	if err := os.MkdirAll(keyFileDir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create config dir for key file: %w", err)
	}
	if err := os.WriteFile(keyFilePath, []byte(newPwd), 0o600); err != nil {
		return "", fmt.Errorf("failed to write new API password to file: %w", err)
	}
	logger.Info("Generated API server password", "path", keyFilePath)
	logger.Info("-------------------------------------")
	logger.Info("Your VIIPMI API server password is:")
	logger.Info("-------------------------------------")
	logger.Info(newPwd)
	logger.Info("-------------------------------------")
	logger.Info("You can change this password at any time by editing the file")
	return newPwd, nil
}

func (s *Server) StartServer(ctx context.Context, logger *slog.Logger, rawLogger log.RawLogger) error {
	if s.ApiServerConfig.Addr == "" {
		return errors.New("API server address must be set (default :3243)")
	}
	if !s.NoAuth {
		pwd, err := loadPassword(logger)
		if err != nil {
			return err
		}
		s.ApiServerConfig.Password = pwd
	}

	h := host.New(s.HostConfig, logger, rawLogger)
	defer h.Close()

	if s.Interface.Type != "" {
		opts, err := s.Interface.options()
		if err != nil {
			return err
		}
		a, err := h.Attach(opts)
		if err != nil {
			return fmt.Errorf("attach %s interface: %w", s.Interface.Type, err)
		}
		logDescriptor(logger, a.ID, a.Device.Descriptor(), a.BackendName())
	}

	apiSrv := api.New(h, s.ApiServerConfig.Addr, s.ApiServerConfig, logger)
	handler.RegisterAll(apiSrv.Router(), h, Version)
	if err := apiSrv.Start(); err != nil {
		logger.Error("failed to start API server", "error", err)
		return err
	}

	<-ctx.Done()
	logger.Info("Shutting down")
	apiSrv.Close()
	return nil
}

func logDescriptor(logger *slog.Logger, id int, d device.Descriptor, backend string) {
	args := []any{"id", id, "type", d.Type, "smbiosType", int(d.SMBIOSType), "backend", backend}
	if d.IOBase != 0 {
		args = append(args, "ioBase", fmt.Sprintf("0x%x", d.IOBase), "ioLength", d.IOLength, "irq", d.IRQ)
	}
	if d.SlaveAddr != 0 {
		args = append(args, "slaveAddr", fmt.Sprintf("0x%02x", d.SlaveAddr))
	}
	logger.Info("Interface ready", args...)
}
