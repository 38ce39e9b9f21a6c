package extern_test

import (
	"bytes"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alia5/VIIPMI/bmc/extern"
	"github.com/Alia5/VIIPMI/ipmi"
	"github.com/Alia5/VIIPMI/vmproto"
)

// link accepts at most limit bytes per write when limit is set, and fails
// every write with fail when that is set.
type link struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	limit  int
	fail   error
	closed bool
}

func (l *link) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		return 0, l.fail
	}
	if l.limit > 0 && len(p) > l.limit {
		l.buf.Write(p[:l.limit])
		return l.limit, os.ErrDeadlineExceeded
	}
	return l.buf.Write(p)
}

func (l *link) Take() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := append([]byte(nil), l.buf.Bytes()...)
	l.buf.Reset()
	return out
}

func (l *link) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Len()
}

func (l *link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *link) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *link) Fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fail = err
}

func (l *link) SetLimit(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit = n
}

type response struct {
	id  byte
	rsp []byte
}

type peer struct {
	mu        sync.Mutex
	capable   map[ipmi.HwOp]bool
	responses []response
	attention []bool
	irqs      []bool
	hwops     []ipmi.HwOp
}

func (p *peer) DeliverResponse(id byte, rsp []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, response{id, append([]byte(nil), rsp...)})
}

func (p *peer) SetAttention(val, irq bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attention = append(p.attention, val, irq)
}

func (p *peer) SetIRQEnable(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.irqs = append(p.irqs, on)
}

func (p *peer) DoHwOp(op ipmi.HwOp, checkOnly bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.capable[op] {
		return ipmi.ErrUnsupported
	}
	if !checkOnly {
		p.hwops = append(p.hwops, op)
	}
	return nil
}

func (p *peer) HardwareCapable(op ipmi.HwOp) bool { return p.DoHwOp(op, true) == nil }
func (p *peer) Type() ipmi.Type                   { return ipmi.TypeKCS }

func (p *peer) Responses() []response {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]response(nil), p.responses...)
}

// locked records responses given from inside HandleCommand.
type locked struct{ responses []response }

func (l *locked) Respond(id byte, rsp []byte) { l.responses = append(l.responses, response{id, rsp}) }
func (l *locked) SetIRQEnable(on bool)        {}
func (l *locked) ResetHandler(cold bool)      {}

func newBackend(t *testing.T, cfg extern.Config) (*extern.Backend, *peer) {
	t.Helper()
	b := extern.New(cfg)
	t.Cleanup(b.Close)
	p := &peer{}
	b.Attach(p)
	return b, p
}

func connect(t *testing.T, b *extern.Backend) *link {
	t.Helper()
	l := &link{}
	b.Opened(l)
	require.Equal(t, handshake(vmproto.CapIRQ|vmproto.CapAttn), l.Take())
	return l
}

func handshake(caps byte) []byte {
	return append(vmproto.EncodeCommand(vmproto.CmdVersion, vmproto.ProtocolVersion),
		vmproto.EncodeCommand(vmproto.CmdCapabilities, caps)...)
}

func TestHandshakeCapabilities(t *testing.T) {
	b, p := newBackend(t, extern.Config{})
	p.capable = map[ipmi.HwOp]bool{ipmi.HwOpPowerOffChassis: true, ipmi.HwOpSendNMI: true}

	l := &link{}
	b.Opened(l)
	want := handshake(vmproto.CapIRQ | vmproto.CapAttn | vmproto.CapPower | vmproto.CapNMI)
	assert.Equal(t, want, l.Take())
	assert.False(t, b.State().Waiting, "the handshake expects no response")
}

func TestRequestWhileDisconnected(t *testing.T) {
	b, _ := newBackend(t, extern.Config{})
	l := &locked{}
	b.HandleCommand(l, ipmi.Request{Data: []byte{0x18, 0x01}, ID: 7})
	require.Len(t, l.responses, 1)
	assert.Equal(t, response{7, []byte{0x1c, 0x01, byte(ipmi.CCBMCInitInProgress)}}, l.responses[0])
}

func TestRequestResponse(t *testing.T) {
	b, p := newBackend(t, extern.Config{ResponseTimeout: time.Hour})
	w := connect(t, b)

	b.HandleCommand(&locked{}, ipmi.Request{Data: []byte{0x18, 0x01}, ID: 0xa0})
	assert.Equal(t, vmproto.EncodeMessage(0xa0, []byte{0x18, 0x01}), w.Take())
	assert.True(t, b.State().Waiting)

	b.Receive(vmproto.EncodeMessage(0xa0, []byte{0x1c, 0x01, 0x00, 0x20}))
	assert.Equal(t, []response{{0xa0, []byte{0x1c, 0x01, 0x00, 0x20}}}, p.Responses())
	assert.False(t, b.State().Waiting)
}

func TestTimeout(t *testing.T) {
	b, p := newBackend(t, extern.Config{ResponseTimeout: 20 * time.Millisecond})
	connect(t, b)

	b.HandleCommand(&locked{}, ipmi.Request{Data: []byte{0x18, 0x22, 0x05}, ID: 3})
	require.Eventually(t, func() bool { return len(p.Responses()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, response{3, []byte{0x1c, 0x22, byte(ipmi.CCTimeout)}}, p.Responses()[0])
	assert.False(t, b.State().Waiting)
}

func TestMismatchedIDKeepsTimeout(t *testing.T) {
	b, p := newBackend(t, extern.Config{ResponseTimeout: 30 * time.Millisecond})
	connect(t, b)

	b.HandleCommand(&locked{}, ipmi.Request{Data: []byte{0x18, 0x01}, ID: 3})
	b.Receive(vmproto.EncodeMessage(2, []byte{0x1c, 0x01, 0x00}))
	assert.True(t, b.State().Waiting)

	require.Eventually(t, func() bool { return len(p.Responses()) == 2 }, time.Second, 5*time.Millisecond)
	rs := p.Responses()
	assert.Equal(t, byte(2), rs[0].id, "stale frame is still handed over")
	assert.Equal(t, response{3, []byte{0x1c, 0x01, byte(ipmi.CCTimeout)}}, rs[1])
}

func TestPartialWrites(t *testing.T) {
	b, _ := newBackend(t, extern.Config{RetryInterval: 20 * time.Millisecond, ResponseTimeout: time.Hour})
	w := connect(t, b)
	w.SetLimit(3)

	data := []byte{0x18, 0x01, 0xaa, 0xa0, 0x55}
	b.HandleCommand(&locked{}, ipmi.Request{Data: data, ID: 1})
	assert.True(t, b.Busy())
	assert.False(t, b.State().Waiting, "not waiting until the frame is out")

	l := &locked{}
	b.HandleCommand(l, ipmi.Request{Data: []byte{0x18, 0x02}, ID: 2})
	require.Len(t, l.responses, 1)
	assert.Equal(t, byte(ipmi.CCNodeBusy), l.responses[0].rsp[2])

	want := vmproto.EncodeMessage(1, data)
	require.Eventually(t, func() bool { return w.Len() == len(want) }, time.Second, time.Millisecond)
	assert.Equal(t, want, w.Take())
	require.Eventually(t, func() bool { return !b.Busy() }, time.Second, time.Millisecond)
	assert.True(t, b.State().Waiting)
}

func TestClosedWithOutstandingRequest(t *testing.T) {
	b, p := newBackend(t, extern.Config{ResponseTimeout: time.Hour})
	connect(t, b)

	b.HandleCommand(&locked{}, ipmi.Request{Data: []byte{0x18, 0x01}, ID: 9})
	b.Closed()
	b.Closed()

	assert.Equal(t, []response{{9, []byte{0x1c, 0x01, byte(ipmi.CCBMCInitInProgress)}}}, p.Responses())
	assert.Equal(t, extern.State{}, b.State())
}

func TestClosedMidFrame(t *testing.T) {
	b, p := newBackend(t, extern.Config{RetryInterval: time.Hour})
	w := connect(t, b)
	w.SetLimit(1)

	b.HandleCommand(&locked{}, ipmi.Request{Data: []byte{0x18, 0x01}, ID: 4})
	require.True(t, b.Busy())
	b.Closed()
	assert.Equal(t, []response{{4, []byte{0x1c, 0x01, byte(ipmi.CCBMCInitInProgress)}}}, p.Responses())
	assert.False(t, b.Busy())
}

func TestWriteFailureDropsLink(t *testing.T) {
	b, p := newBackend(t, extern.Config{RetryInterval: 5 * time.Millisecond, ResponseTimeout: time.Hour})
	w := connect(t, b)
	w.Fail(io.ErrClosedPipe)

	b.HandleCommand(&locked{}, ipmi.Request{Data: []byte{0x18, 0x01}, ID: 6})
	assert.True(t, w.Closed(), "a failed write closes the link")
	assert.True(t, b.Busy())

	// The link owner reports the closed stream.
	b.Closed()
	assert.Equal(t, []response{{6, []byte{0x1c, 0x01, byte(ipmi.CCBMCInitInProgress)}}}, p.Responses())
	assert.False(t, b.Busy())

	w2 := connect(t, b)
	b.HandleCommand(&locked{}, ipmi.Request{Data: []byte{0x18, 0x02}, ID: 7})
	assert.Equal(t, vmproto.EncodeMessage(7, []byte{0x18, 0x02}), w2.Take())
}

func TestMissedDeadlineKeepsLink(t *testing.T) {
	b, _ := newBackend(t, extern.Config{RetryInterval: 5 * time.Millisecond, ResponseTimeout: time.Hour})
	w := connect(t, b)
	w.SetLimit(2)

	b.HandleCommand(&locked{}, ipmi.Request{Data: []byte{0x18, 0x01}, ID: 8})
	assert.False(t, w.Closed())
	want := vmproto.EncodeMessage(8, []byte{0x18, 0x01})
	require.Eventually(t, func() bool { return w.Len() == len(want) }, time.Second, time.Millisecond)
	assert.False(t, w.Closed())
}

func TestResetNotification(t *testing.T) {
	b, _ := newBackend(t, extern.Config{})
	b.HandleReset()

	l := &link{}
	b.Opened(l)
	want := append(handshake(vmproto.CapIRQ|vmproto.CapAttn), vmproto.EncodeCommand(vmproto.CmdReset)...)
	assert.Equal(t, want, l.Take(), "handshake goes out before the queued reset")

	b.HandleReset()
	assert.Equal(t, vmproto.EncodeCommand(vmproto.CmdReset), l.Take())
	assert.False(t, b.State().Waiting)
}

func TestHardwareCommands(t *testing.T) {
	b, p := newBackend(t, extern.Config{})
	p.capable = map[ipmi.HwOp]bool{ipmi.HwOpPowerOffChassis: true, ipmi.HwOpResetChassis: true}
	b.Opened(&link{})

	var in []byte
	for _, op := range []byte{
		vmproto.CmdAttnIRQ, vmproto.CmdNoAttn, vmproto.CmdAttn,
		vmproto.CmdEnableIRQ, vmproto.CmdDisableIRQ,
		vmproto.CmdPowerOff, vmproto.CmdReset, vmproto.CmdSendNMI,
		vmproto.CmdCapabilities,
	} {
		in = append(in, vmproto.EncodeCommand(op)...)
	}
	in = append(in, vmproto.EncodeCommand(vmproto.CmdVersion, 1)...)
	b.Receive(in)

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, []bool{true, true, false, false, true, false}, p.attention)
	assert.Equal(t, []bool{true, false}, p.irqs)
	assert.Equal(t, []ipmi.HwOp{ipmi.HwOpPowerOffChassis, ipmi.HwOpResetChassis}, p.hwops)
}

func TestTruncatedResponse(t *testing.T) {
	b, p := newBackend(t, extern.Config{ResponseTimeout: time.Hour})
	connect(t, b)
	b.HandleCommand(&locked{}, ipmi.Request{Data: []byte{0x18, 0x01}, ID: 5})

	frame := []byte{5, 0x1c, 0x01}
	frame = append(frame, bytes.Repeat([]byte{0x00}, vmproto.MaxFrameData)...)
	frame = append(frame, vmproto.MsgChar)
	b.Receive(frame)

	assert.Equal(t, []response{{5, []byte{0x1c, 0x01, byte(ipmi.CCRequestDataTruncated)}}}, p.Responses())
	assert.False(t, b.State().Waiting)
}

func TestMalformedFramesIgnored(t *testing.T) {
	b, p := newBackend(t, extern.Config{ResponseTimeout: time.Hour})
	connect(t, b)
	b.HandleCommand(&locked{}, ipmi.Request{Data: []byte{0x18, 0x01}, ID: 6})

	bad := vmproto.EncodeMessage(6, []byte{0x1c, 0x01, 0x00})
	bad[1] ^= 0x01
	b.Receive(bad)
	assert.Empty(t, p.Responses())
	assert.True(t, b.State().Waiting)
}
