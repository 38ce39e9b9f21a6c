package apiclient

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/Alia5/VIIPMI/apitypes"
)

// IOStream is a register stream to a KCS or BT interface. It satisfies
// hostdrv.RegisterIO, so a host driver can run against a remote interface.
type IOStream struct {
	ID int

	mu   sync.Mutex
	conn net.Conn
}

// OpenIO opens the register stream of interface id.
func (c *Client) OpenIO(ctx context.Context, id int) (*IOStream, error) {
	conn, err := c.transport.OpenStream(ctx, "device/{id}/io", idParams(id))
	if err != nil {
		return nil, err
	}
	return &IOStream{ID: id, conn: conn}, nil
}

// ReadReg reads the register at offset.
func (s *IOStream) ReadReg(offset int) (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.conn.Write([]byte{apitypes.IOOpRead, byte(offset), 0}); err != nil {
		return 0, fmt.Errorf("io stream write: %w", err)
	}
	var b [1]byte
	if _, err := io.ReadFull(s.conn, b[:]); err != nil {
		return 0, fmt.Errorf("io stream read: %w", err)
	}
	return b[0], nil
}

// WriteReg writes val to the register at offset.
func (s *IOStream) WriteReg(offset int, val byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.conn.Write([]byte{apitypes.IOOpWrite, byte(offset), val}); err != nil {
		return fmt.Errorf("io stream write: %w", err)
	}
	return nil
}

// Close ends the stream.
func (s *IOStream) Close() error { return s.conn.Close() }

// IRQStream receives the interrupt level of an interface.
type IRQStream struct {
	ID int

	conn net.Conn
	r    *bufio.Reader
}

// OpenIRQ opens the interrupt stream of interface id. The first Next call
// returns the level at the time the stream opened.
func (c *Client) OpenIRQ(ctx context.Context, id int) (*IRQStream, error) {
	conn, err := c.transport.OpenStream(ctx, "device/{id}/irq", idParams(id))
	if err != nil {
		return nil, err
	}
	return &IRQStream{ID: id, conn: conn, r: bufio.NewReader(conn)}, nil
}

// Next blocks for the next level. io.EOF means the interface was detached.
func (s *IRQStream) Next() (bool, error) {
	line, err := s.r.ReadString('\n')
	if err != nil {
		return false, err
	}
	switch strings.TrimSpace(line) {
	case "1":
		return true, nil
	case "0":
		return false, nil
	}
	return false, fmt.Errorf("irq stream: unexpected line %q", line)
}

// Close ends the stream.
func (s *IRQStream) Close() error { return s.conn.Close() }

// Blocks adapts the SMBus routes of interface id to hostdrv.BlockIO.
func (c *Client) Blocks(ctx context.Context, id int) *BlockClient {
	return &BlockClient{c: c, ctx: ctx, id: id}
}

// BlockClient performs SMBus block transfers through the API.
type BlockClient struct {
	c   *Client
	ctx context.Context
	id  int
}

func (b *BlockClient) WriteBlock(cmd byte, data []byte) error {
	return b.c.SMBusWriteCtx(b.ctx, b.id, cmd, data)
}

func (b *BlockClient) ReadBlock(cmd byte) ([]byte, error) {
	return b.c.SMBusReadCtx(b.ctx, b.id, cmd)
}
