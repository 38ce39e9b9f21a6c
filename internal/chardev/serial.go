package chardev

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.bug.st/serial"
)

type serialOpener struct {
	port string
	baud int
}

func (s *serialOpener) open(context.Context) (io.ReadWriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: s.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(s.port, mode)
	if err != nil {
		if ports, lerr := SerialPorts(); lerr == nil && len(ports) > 0 {
			return nil, fmt.Errorf("open serial port %s (available: %s): %w", s.port, strings.Join(ports, ", "), err)
		}
		return nil, fmt.Errorf("open serial port %s: %w", s.port, err)
	}
	return port, nil
}

func (s *serialOpener) close() error { return nil }

// SerialPorts lists the serial ports present on the system.
func SerialPorts() ([]string, error) {
	return serial.GetPortsList()
}
