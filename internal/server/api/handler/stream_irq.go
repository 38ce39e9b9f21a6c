package handler

import (
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/Alia5/VIIPMI/internal/server/api"
	"github.com/Alia5/VIIPMI/internal/server/host"
)

func levelLine(level bool) string {
	if level {
		return "1\n"
	}
	return "0\n"
}

// IRQStream returns a stream handler writing the interrupt level of an
// interface as lines ("1" raised, "0" lowered): first the current level,
// then every edge. Edges beyond the subscriber queue are dropped.
func IRQStream() api.StreamHandlerFunc {
	return func(conn net.Conn, a *host.Attached, logger *slog.Logger) error {
		edges, cancel := a.IRQ.Subscribe()
		defer cancel()

		// The peer never sends anything; a read returning means it hung up.
		hangup := make(chan struct{})
		go func() {
			_, _ = io.Copy(io.Discard, conn)
			close(hangup)
		}()

		if _, err := io.WriteString(conn, levelLine(a.IRQ.Level())); err != nil {
			return err
		}
		for {
			select {
			case level, ok := <-edges:
				if !ok {
					return nil
				}
				if _, err := io.WriteString(conn, levelLine(level)); err != nil {
					return fmt.Errorf("write irq edge: %w", err)
				}
			case <-hangup:
				return nil
			}
		}
	}
}
