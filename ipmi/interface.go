package ipmi

import (
	"errors"
	"log/slog"
	"sync"
)

// DefaultMaxDrains bounds how many queued events a synchronous interface
// handles inside one Signal call.
const DefaultMaxDrains = 64

// ErrUnsupported is returned by HostOps for operations the machine cannot perform.
var ErrUnsupported = errors.New("ipmi: hardware operation not supported")

// ErrNoHost is returned by DoHwOp when the interface has no machine attached.
var ErrNoHost = errors.New("ipmi: no host machine attached")

// IRQLine is the interrupt line an interface drives toward the host.
type IRQLine interface {
	Raise()
	Lower()
}

// HostOps performs chassis-level operations on behalf of the BMC.
// With checkOnly set it only reports whether op is possible.
type HostOps interface {
	DoHwOp(op HwOp, checkOnly bool) error
}

// Handler is the variant-specific part of an interface (KCS, BT, SSIF).
// Every method is called with the interface lock held.
type Handler interface {
	// HandleEvent reacts to host-visible state changes queued by Signal.
	HandleEvent()
	// HandleResponse stores a backend response if id matches the outstanding request.
	HandleResponse(id byte, rsp []byte)
	// SetAttention drives the SMS attention bit and optionally its interrupt.
	SetAttention(val, irq bool)
	// Reset clears variant state after a warm or cold reset.
	Reset(cold bool)
	// Type reports the SMBIOS interface type.
	Type() Type
}

// Config selects the scheduling model and collaborators of an Interface.
type Config struct {
	// Threaded runs handlers on a dedicated worker goroutine. Otherwise they run
	// inline on the goroutine that raised the event.
	Threaded bool
	// UseIRQ reports whether an interrupt line is wired at all.
	UseIRQ    bool
	MaxDrains int
	IRQ       IRQLine
	Host      HostOps
	Logger    *slog.Logger
}

// Interface holds the state shared by every system interface variant.
//
// The exported buffer and latch fields may only be touched with the lock held.
type Interface struct {
	InMsg    [MaxMsgSize]byte
	InLen    int // may exceed MaxMsgSize to record an overrun
	OutMsg   [MaxMsgSize]byte
	OutPos   int
	OutLen   int
	WriteEnd bool

	OBFIRQSet   bool
	ATNIRQSet   bool
	UseIRQ      bool
	IRQsEnabled bool

	handler Handler
	backend Backend
	irq     IRQLine
	host    HostOps
	logger  *slog.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	threaded  bool
	dirty     bool
	draining  bool
	maxDrains int
	closed    bool
	done      chan struct{}

	msgID       byte
	outstanding bool
	stats       Stats
}

// NewInterface creates the shared interface state for handler h. Threaded
// interfaces start their worker immediately; call Close to stop it.
func NewInterface(h Handler, cfg Config) *Interface {
	s := &Interface{
		handler:   h,
		irq:       cfg.IRQ,
		host:      cfg.Host,
		logger:    cfg.Logger,
		threaded:  cfg.Threaded,
		maxDrains: cfg.MaxDrains,
		UseIRQ:    cfg.UseIRQ,
		done:      make(chan struct{}),
	}
	if s.irq == nil {
		s.irq = nopIRQ{}
		s.UseIRQ = false
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.maxDrains <= 0 {
		s.maxDrains = DefaultMaxDrains
	}
	s.cond = sync.NewCond(&s.mu)
	if s.threaded {
		go s.worker()
	} else {
		close(s.done)
	}
	return s
}

// Connect attaches the BMC backend.
func (s *Interface) Connect(b Backend) {
	s.mu.Lock()
	s.backend = b
	s.mu.Unlock()
	if b != nil {
		b.Attach(s)
	}
}

// Handler returns the variant handler.
func (s *Interface) Handler() Handler { return s.handler }

// Type reports the SMBIOS interface type of the variant.
func (s *Interface) Type() Type { return s.handler.Type() }

// Threaded reports the scheduling model.
func (s *Interface) Threaded() bool { return s.threaded }

// Logger returns the interface logger.
func (s *Interface) Logger() *slog.Logger { return s.logger }

// Lock acquires the interface lock.
func (s *Interface) Lock() { s.mu.Lock() }

// Unlock releases the interface lock.
func (s *Interface) Unlock() { s.mu.Unlock() }

// Signal queues an event for the handler. Must be called with the lock held.
//
// Threaded interfaces only wake the worker. Synchronous interfaces drain the
// queue inline; a Signal raised while draining just marks more work.
func (s *Interface) Signal() {
	s.dirty = true
	if s.threaded {
		s.cond.Signal()
		return
	}
	if s.draining {
		return
	}
	s.draining = true
	for n := 0; s.dirty; n++ {
		if n == s.maxDrains {
			s.dirty = false
			s.stats.DrainOverflows++
			s.logger.Warn("ipmi event drain limit reached, dropping pending event",
				"type", s.handler.Type(), "limit", s.maxDrains)
			break
		}
		s.dirty = false
		s.handler.HandleEvent()
	}
	s.draining = false
}

func (s *Interface) worker() {
	defer close(s.done)
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		for !s.dirty && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			return
		}
		s.dirty = false
		s.handler.HandleEvent()
	}
}

// Close stops the worker of a threaded interface. Safe to call more than once.
func (s *Interface) Close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	<-s.done
}

// IRQsActive reports whether interrupts may currently be raised.
func (s *Interface) IRQsActive() bool { return s.UseIRQ && s.IRQsEnabled }

// RaiseIRQ asserts the interrupt line.
func (s *Interface) RaiseIRQ() { s.irq.Raise() }

// LowerIRQ deasserts the interrupt line.
func (s *Interface) LowerIRQ() { s.irq.Lower() }

// Respond passes a backend response to the handler. Must be called with the
// lock held; backends answering from inside HandleCommand use this path.
func (s *Interface) Respond(id byte, rsp []byte) {
	s.handler.HandleResponse(id, rsp)
}

// DeliverResponse is Respond for callers that do not hold the lock.
func (s *Interface) DeliverResponse(id byte, rsp []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Respond(id, rsp)
}

// SetAttention drives the SMS attention state on behalf of the BMC.
func (s *Interface) SetAttention(val, irq bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler.SetAttention(val, irq)
}

// SetIRQEnable enables or disables interrupts on behalf of the BMC.
func (s *Interface) SetIRQEnable(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.IRQsEnabled = on
}

// DoHwOp forwards a chassis operation to the attached machine.
func (s *Interface) DoHwOp(op HwOp, checkOnly bool) error {
	if s.host == nil {
		return ErrNoHost
	}
	return s.host.DoHwOp(op, checkOnly)
}

// HardwareCapable reports whether the machine can perform op.
func (s *Interface) HardwareCapable(op HwOp) bool {
	return s.DoHwOp(op, true) == nil
}

// Reset performs a system reset of the interface. Buffers return to empty,
// any request in flight is abandoned, the variant resets and the backend is
// notified.
func (s *Interface) Reset(cold bool) {
	s.mu.Lock()
	s.Invalidate()
	s.InLen = 0
	s.OutPos = 0
	s.OutLen = 0
	s.WriteEnd = false
	s.handler.Reset(cold)
	b := s.backend
	s.mu.Unlock()
	if b != nil {
		b.HandleReset()
	}
}

type nopIRQ struct{}

func (nopIRQ) Raise() {}
func (nopIRQ) Lower() {}
