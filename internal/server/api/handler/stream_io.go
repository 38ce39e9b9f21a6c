package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/Alia5/VIIPMI/apitypes"
	"github.com/Alia5/VIIPMI/device"
	"github.com/Alia5/VIIPMI/internal/server/api"
	"github.com/Alia5/VIIPMI/internal/server/host"
)

// ErrBadOp is returned when a register stream frame carries an unknown op.
var ErrBadOp = errors.New("unknown register stream op")

// IOStream returns a stream handler giving byte-wide register access to a
// KCS or BT interface. The stream ends when the peer hangs up or the
// interface is detached.
func IOStream() api.StreamHandlerFunc {
	return func(conn net.Conn, a *host.Attached, logger *slog.Logger) error {
		rd, ok := a.Device.(device.RegisterDevice)
		if !ok {
			return fmt.Errorf("%s interface has no I/O registers", a.Device.Descriptor().Type)
		}
		stop := closeOnDetach(conn, a)
		defer stop()

		var frame [apitypes.IOFrameSize]byte
		for {
			if _, err := io.ReadFull(conn, frame[:]); err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return nil
				}
				return err
			}
			op, offset, val := frame[0], int(frame[1]), frame[2]
			switch op {
			case apitypes.IOOpRead:
				if _, err := conn.Write([]byte{rd.Read(offset)}); err != nil {
					return err
				}
			case apitypes.IOOpWrite:
				rd.Write(offset, val)
			default:
				return fmt.Errorf("%w: 0x%02x", ErrBadOp, op)
			}
		}
	}
}

// closeOnDetach closes conn when a is detached. The returned func stops watching.
func closeOnDetach(conn net.Conn, a *host.Attached) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-a.Detached():
			_ = conn.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}
