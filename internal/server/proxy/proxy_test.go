package proxy

import (
	"bytes"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alia5/VIIPMI/vmproto"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger() (*slog.Logger, *syncBuffer) {
	out := &syncBuffer{}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug})), out
}

func TestParser(t *testing.T) {
	logger, out := testLogger()

	req := NewParser(logger, true)
	stream := append(vmproto.EncodeCommand(vmproto.CmdVersion, vmproto.ProtocolVersion), vmproto.EncodeMessage(0x07, []byte{0x18, 0x01})...)
	// Split mid-frame to exercise reassembly.
	frames := req.Parse(stream[:4], true)
	frames = append(frames, req.Parse(stream[4:], true)...)
	require.Len(t, frames, 2)
	assert.Equal(t, vmproto.Command{Op: vmproto.CmdVersion, Args: []byte{vmproto.ProtocolVersion}}, frames[0])
	assert.Equal(t, vmproto.Message{ID: 0x07, Data: []byte{0x18, 0x01}}, frames[1])

	rsp := NewParser(logger, false)
	frames = rsp.Parse(vmproto.EncodeMessage(0x07, []byte{0x1c, 0x01, 0xc1}), false)
	require.Len(t, frames, 1)

	logs := out.String()
	assert.Contains(t, logs, "VM command")
	assert.Contains(t, logs, "op=version")
	assert.Contains(t, logs, "dir=emu->bmc")
	assert.Contains(t, logs, "dir=bmc->emu")
	assert.Contains(t, logs, "netfn=0x06")
	assert.Contains(t, logs, "cmd=0x01")
}

func TestParserFramingError(t *testing.T) {
	logger, out := testLogger()
	p := NewParser(logger, false)

	bad := vmproto.EncodeMessage(0x01, []byte{0x1c, 0x01, 0x00})
	bad[len(bad)-2]++ // corrupt the checksum
	assert.Empty(t, p.Parse(bad, false))
	assert.Contains(t, out.String(), "VM framing error")

	// The decoder recovers on the next frame.
	assert.Len(t, p.Parse(vmproto.EncodeMessage(0x02, []byte{0x1c, 0x01, 0x00}), false), 1)
}

func TestProxyRelaysFrames(t *testing.T) {
	bmc, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer bmc.Close()

	go func() {
		conn, err := bmc.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		dec := vmproto.NewRequestDecoder()
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			frames, _ := dec.Decode(buf[:n])
			for _, f := range frames {
				if m, ok := f.(vmproto.Message); ok {
					rsp := []byte{m.Data[0] | 0x04, m.Data[1], 0x00, 0x20}
					_, _ = conn.Write(vmproto.EncodeMessage(m.ID, rsp))
				}
			}
		}
	}()

	logger, out := testLogger()
	p := New("127.0.0.1:0", "tcp:"+bmc.Addr().String(), time.Second, logger, nil)
	require.NoError(t, p.Listen())
	errCh := make(chan error, 1)
	go func() { errCh <- p.ListenAndServe() }()

	emu, err := net.Dial("tcp", p.Addr())
	require.NoError(t, err)
	defer emu.Close()
	_, err = emu.Write(vmproto.EncodeMessage(0x05, []byte{0x18, 0x01}))
	require.NoError(t, err)

	dec := vmproto.NewDecoder()
	buf := make([]byte, 256)
	var got []vmproto.Frame
	_ = emu.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(got) == 0 {
		n, err := emu.Read(buf)
		require.NoError(t, err)
		frames, err := dec.Decode(buf[:n])
		require.NoError(t, err)
		got = append(got, frames...)
	}
	assert.Equal(t, vmproto.Message{ID: 0x05, Data: []byte{0x1c, 0x01, 0x00, 0x20}}, got[0])

	require.Eventually(t, func() bool {
		return bytes.Count([]byte(out.String()), []byte("VM message")) >= 2
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, p.Close())
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("proxy did not stop")
	}
}

func TestUpstreamNetwork(t *testing.T) {
	n, a := upstreamNetwork("unix:/tmp/bmc.sock")
	assert.Equal(t, "unix", n)
	assert.Equal(t, "/tmp/bmc.sock", a)
	n, a = upstreamNetwork("tcp:localhost:9002")
	assert.Equal(t, "tcp", n)
	assert.Equal(t, "localhost:9002", a)
	n, a = upstreamNetwork("localhost:9002")
	assert.Equal(t, "tcp", n)
	assert.Equal(t, "localhost:9002", a)
}
