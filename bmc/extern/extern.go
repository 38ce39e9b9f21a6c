// Package extern implements a BMC backend that forwards requests to an
// external BMC process over a byte stream using the vmproto framing.
//
// The stream itself is owned by a link (see internal/chardev) which reports
// Opened, Receive and Closed events. Writes are best effort: whatever the
// link does not accept is retried on a timer.
package extern

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/Alia5/VIIPMI/ipmi"
	"github.com/Alia5/VIIPMI/vmproto"
)

// Defaults for Config.
const (
	DefaultRetryInterval   = 10 * time.Millisecond
	DefaultResponseTimeout = 4 * time.Second
)

// Config tunes the backend timers.
type Config struct {
	// RetryInterval is how long to wait before writing the rest of a frame
	// the link did not fully accept.
	RetryInterval time.Duration
	// ResponseTimeout is how long a sent request may go unanswered before a
	// timeout completion code is synthesized.
	ResponseTimeout time.Duration
	Logger          *slog.Logger
}

// State is a snapshot of the link and request state.
type State struct {
	Connected bool `json:"connected"`
	Busy      bool `json:"busy"`
	Waiting   bool `json:"waiting"`
}

type pendingRequest struct {
	id    byte
	netfn byte
	cmd   byte
}

// Backend implements ipmi.Backend over a vmproto byte stream.
//
// Lock order: the interface lock may be held when Backend methods are called,
// so the backend never calls into its peer while holding its own lock.
type Backend struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	peer      ipmi.Peer
	link      io.Writer
	connected bool

	out        []byte
	outPos     int
	sendingCmd bool
	sendReset  bool
	waitingRsp bool
	pending    pendingRequest

	timer    *time.Timer
	timerGen uint64
	closed   bool

	dec *vmproto.Decoder
}

// New returns a disconnected backend.
func New(cfg Config) *Backend {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{cfg: cfg, logger: logger, dec: vmproto.NewDecoder()}
}

// Attach implements ipmi.Backend.
func (b *Backend) Attach(p ipmi.Peer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.peer = p
}

// Busy implements ipmi.BusyReporter. The backend is busy while a frame is
// still being written.
func (b *Backend) Busy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.out) > 0
}

// State reports the link and request state.
func (b *Backend) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return State{Connected: b.connected, Busy: len(b.out) > 0, Waiting: b.waitingRsp}
}

// HandleCommand implements ipmi.Backend.
func (b *Backend) HandleCommand(l ipmi.Locked, req ipmi.Request) {
	b.mu.Lock()
	var cc ipmi.CompletionCode
	switch {
	case !b.connected:
		cc = ipmi.CCBMCInitInProgress
	case len(b.out) > 0:
		cc = ipmi.CCNodeBusy
	}
	if cc != ipmi.CCSuccess {
		b.mu.Unlock()
		l.Respond(req.ID, ipmi.ErrorResponse(req.Data, cc))
		return
	}

	b.pending = pendingRequest{id: req.ID, netfn: req.NetFn(), cmd: req.Cmd()}
	b.out = vmproto.EncodeMessage(req.ID, req.Data)
	b.outPos = 0
	b.sendingCmd = false
	b.continueSend()
	b.mu.Unlock()
}

// HandleReset implements ipmi.Backend. The reset is reported to the external
// BMC once the link is up and any frame in progress has been written.
func (b *Backend) HandleReset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendReset = true
	b.continueSend()
}

// Opened is called by the link once the stream is connected. The version and
// capabilities handshake goes out before anything else.
func (b *Backend) Opened(w io.Writer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.connected = true
	b.link = w
	b.dec.Reset()

	caps := vmproto.CapIRQ | vmproto.CapAttn
	if b.peer != nil {
		if b.peer.HardwareCapable(ipmi.HwOpPowerOffChassis) {
			caps |= vmproto.CapPower
		}
		if b.peer.HardwareCapable(ipmi.HwOpResetChassis) {
			caps |= vmproto.CapReset
		}
		if b.peer.HardwareCapable(ipmi.HwOpSendNMI) {
			caps |= vmproto.CapNMI
		}
	}
	b.out = append(vmproto.EncodeCommand(vmproto.CmdVersion, vmproto.ProtocolVersion),
		vmproto.EncodeCommand(vmproto.CmdCapabilities, caps)...)
	b.outPos = 0
	b.sendingCmd = true
	b.logger.Info("external bmc connected", "capabilities", caps)
	b.continueSend()
}

// Closed is called by the link when the stream goes away. A request that
// was sent or still being sent is answered with BMC-init-in-progress.
func (b *Backend) Closed() {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return
	}
	b.connected = false
	b.link = nil

	lost := b.waitingRsp || (len(b.out) > 0 && !b.sendingCmd)
	p, peer := b.pending, b.peer
	b.waitingRsp = false
	b.out = nil
	b.outPos = 0
	b.sendingCmd = false
	b.stopTimer()
	b.mu.Unlock()

	b.logger.Info("external bmc disconnected", "requestLost", lost)
	if lost && peer != nil {
		peer.DeliverResponse(p.id, []byte{p.netfn | 0x04, p.cmd, byte(ipmi.CCBMCInitInProgress)})
	}
}

// Receive is called by the link with inbound bytes. Every complete frame in
// p is acted on, in order.
func (b *Backend) Receive(p []byte) {
	b.mu.Lock()
	frames, err := b.dec.Decode(p)
	if err != nil {
		b.logger.Debug("dropped malformed frame", "error", err)
	}
	peer := b.peer
	var actions []func()
	for _, f := range frames {
		switch f := f.(type) {
		case vmproto.Message:
			// Only the outstanding request stops the timeout; anything else is
			// left to the interface to drop by id.
			if b.waitingRsp && f.ID == b.pending.id {
				b.waitingRsp = false
				b.stopTimer()
			}
			if f.Truncated {
				b.logger.Warn("external bmc response overflowed", "id", f.ID)
			}
			actions = append(actions, func() { peer.DeliverResponse(f.ID, f.Data) })
		case vmproto.Command:
			actions = append(actions, func() { b.handleHwOp(peer, f) })
		}
	}
	b.mu.Unlock()

	if peer == nil {
		return
	}
	for _, act := range actions {
		act()
	}
}

func (b *Backend) handleHwOp(peer ipmi.Peer, c vmproto.Command) {
	b.logger.Debug("external bmc command", "op", vmproto.CommandName(c.Op))

	var err error
	switch c.Op {
	case vmproto.CmdNoAttn:
		peer.SetAttention(false, false)
	case vmproto.CmdAttn:
		peer.SetAttention(true, false)
	case vmproto.CmdAttnIRQ:
		peer.SetAttention(true, true)
	case vmproto.CmdPowerOff:
		err = peer.DoHwOp(ipmi.HwOpPowerOffChassis, false)
	case vmproto.CmdReset:
		err = peer.DoHwOp(ipmi.HwOpResetChassis, false)
	case vmproto.CmdEnableIRQ:
		peer.SetIRQEnable(true)
	case vmproto.CmdDisableIRQ:
		peer.SetIRQEnable(false)
	case vmproto.CmdSendNMI:
		err = peer.DoHwOp(ipmi.HwOpSendNMI, false)
	}
	if err != nil {
		b.logger.Warn("hardware operation failed", "op", vmproto.CommandName(c.Op), "error", err)
	}
}

// Close stops the backend timer. The link is closed by its owner.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.stopTimer()
}

// continueSend writes what is left of the current frame, then any pending
// reset notification, and arms the response timeout once a request is fully
// out. Must be called with b.mu held.
func (b *Backend) continueSend() {
	if len(b.out) > 0 && !b.flush() {
		return
	}
	if b.connected && b.sendReset {
		b.out = vmproto.EncodeCommand(vmproto.CmdReset)
		b.outPos = 0
		b.sendReset = false
		b.sendingCmd = true
		if !b.flush() {
			return
		}
	}
	if b.waitingRsp {
		b.armTimer(b.cfg.ResponseTimeout)
	}
}

// flush writes the unsent part of b.out and reports whether it is done.
func (b *Backend) flush() bool {
	if b.link != nil {
		n, err := b.link.Write(b.out[b.outPos:])
		b.outPos += n
		if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
			// Anything but a missed deadline means the stream is gone. Closing
			// it makes the link report Closed, which answers the request.
			b.logger.Warn("link write failed, dropping link", "error", err)
			if c, ok := b.link.(io.Closer); ok {
				_ = c.Close()
			}
			b.link = nil
		}
	}
	if b.outPos < len(b.out) {
		b.armTimer(b.cfg.RetryInterval)
		return false
	}
	b.out = nil
	b.outPos = 0
	if b.sendingCmd {
		b.sendingCmd = false
	} else {
		b.waitingRsp = true
	}
	return true
}

func (b *Backend) armTimer(d time.Duration) {
	b.stopTimer()
	if b.closed {
		return
	}
	gen := b.timerGen
	b.timer = time.AfterFunc(d, func() { b.onTimer(gen) })
}

func (b *Backend) stopTimer() {
	b.timerGen++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *Backend) onTimer(gen uint64) {
	b.mu.Lock()
	if gen != b.timerGen || !b.connected {
		b.mu.Unlock()
		return
	}
	b.timer = nil
	if b.waitingRsp && len(b.out) == 0 {
		b.waitingRsp = false
		p, peer := b.pending, b.peer
		b.mu.Unlock()
		b.logger.Warn("external bmc response timed out", "id", p.id, "netfn", p.netfn>>2, "cmd", p.cmd)
		if peer != nil {
			peer.DeliverResponse(p.id, []byte{p.netfn | 0x04, p.cmd, byte(ipmi.CCTimeout)})
		}
		return
	}
	b.continueSend()
	b.mu.Unlock()
}
