// Package host owns the interfaces attached to the emulated machine: their
// devices, BMC backends, interrupt lines and the links to external BMCs.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/Alia5/VIIPMI/bmc/extern"
	"github.com/Alia5/VIIPMI/bmc/sim"
	"github.com/Alia5/VIIPMI/device"
	"github.com/Alia5/VIIPMI/internal/chardev"
	"github.com/Alia5/VIIPMI/internal/log"
	"github.com/Alia5/VIIPMI/ipmi"
)

// MaxInterfaces bounds interface ids to 0..MaxInterfaces-1.
const MaxInterfaces = 16

// BackendSim selects the built-in simulator.
const BackendSim = "sim"

var (
	ErrNotFound    = errors.New("interface not found")
	ErrIDInUse     = errors.New("interface id already in use")
	ErrIDRange     = fmt.Errorf("interface id out of range 0..%d", MaxInterfaces-1)
	ErrFull        = errors.New("no free interface id")
	ErrUnknownType = errors.New("unknown interface type")
)

// AttachOptions describes an interface to attach.
type AttachOptions struct {
	Type string
	// ID requests a specific id; nil picks the lowest free one.
	ID     *int
	Device device.CreateOptions
	// Backend is BackendSim (or empty) for the built-in simulator, otherwise
	// a chardev address of an external BMC.
	Backend string
}

// Attached is one interface with everything it owns.
type Attached struct {
	ID      int
	Device  device.Device
	Backend ipmi.Backend
	IRQ     *IRQLine
	Machine *Machine
	Chardev *chardev.Chardev

	backendName string
	cancel      context.CancelFunc
	done        chan struct{}
	detached    chan struct{}
}

// Detached is closed once the interface has been stopped.
func (a *Attached) Detached() <-chan struct{} { return a.detached }

// BackendName returns "sim" or the external BMC address.
func (a *Attached) BackendName() string { return a.backendName }

// LinkState reports the external link state. ok is false for the simulator.
func (a *Attached) LinkState() (state extern.State, ok bool) {
	if b, isExtern := a.Backend.(*extern.Backend); isExtern {
		return b.State(), true
	}
	return extern.State{}, false
}

// Server is the registry of attached interfaces.
type Server struct {
	config    *ServerConfig
	logger    *slog.Logger
	rawLogger log.RawLogger

	mu     sync.Mutex
	ifaces map[int]*Attached
}

// New returns an empty server.
func New(config ServerConfig, logger *slog.Logger, rawLogger log.RawLogger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:    &config,
		logger:    logger,
		rawLogger: rawLogger,
		ifaces:    make(map[int]*Attached),
	}
}

// Attach creates an interface, connects its backend and, for external
// backends, starts the link.
func (s *Server) Attach(o AttachOptions) (*Attached, error) {
	typ := strings.ToLower(o.Type)
	reg := device.GetRegistration(typ)
	if reg == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, o.Type)
	}

	s.mu.Lock()
	id, err := s.reserveID(o.ID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	// Hold the slot while the interface is built.
	s.ifaces[id] = nil
	s.mu.Unlock()

	a, err := s.build(id, typ, reg, o)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		delete(s.ifaces, id)
		return nil, err
	}
	s.ifaces[id] = a
	s.logger.Info("interface attached", "id", id, "type", typ, "backend", a.backendName)
	return a, nil
}

func (s *Server) reserveID(want *int) (int, error) {
	if want != nil {
		id := *want
		if id < 0 || id >= MaxInterfaces {
			return 0, ErrIDRange
		}
		if _, taken := s.ifaces[id]; taken {
			return 0, fmt.Errorf("%w: %d", ErrIDInUse, id)
		}
		return id, nil
	}
	for id := 0; id < MaxInterfaces; id++ {
		if _, taken := s.ifaces[id]; !taken {
			return id, nil
		}
	}
	return 0, ErrFull
}

func (s *Server) build(id int, typ string, reg device.Registration, o AttachOptions) (*Attached, error) {
	logger := s.logger.With("id", id, "type", typ)
	machine, err := NewMachine(s.config.HwOps, logger)
	if err != nil {
		return nil, err
	}
	irq := NewIRQLine()
	opts := o.Device
	dev, err := reg.CreateDevice(&opts, ipmi.Config{
		Threaded:  s.config.Threaded,
		MaxDrains: s.config.MaxDrains,
		IRQ:       irq,
		Host:      machine,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s device: %w", typ, err)
	}
	iface := dev.Interface()
	a := &Attached{
		ID:       id,
		Device:   dev,
		IRQ:      irq,
		Machine:  machine,
		done:     make(chan struct{}),
		detached: make(chan struct{}),
	}
	machine.OnReset(func() { iface.Reset(true) })

	switch o.Backend {
	case "", BackendSim:
		a.backendName = BackendSim
		a.Backend = sim.New(sim.DefaultDeviceID, logger)
		iface.Connect(a.Backend)
		close(a.done)
	default:
		b := extern.New(extern.Config{
			RetryInterval:   s.config.RetryInterval,
			ResponseTimeout: s.config.ResponseTimeout,
			Logger:          logger,
		})
		cd, err := chardev.New(chardev.Config{
			Address:      o.Backend,
			Reconnect:    s.config.Reconnect,
			WriteTimeout: s.config.WriteTimeout,
		}, b, logger, s.rawLogger)
		if err != nil {
			iface.Close()
			return nil, err
		}
		a.backendName = o.Backend
		a.Backend = b
		a.Chardev = cd
		iface.Connect(b)

		ctx, cancel := context.WithCancel(context.Background())
		a.cancel = cancel
		go func() {
			defer close(a.done)
			if err := cd.Run(ctx); err != nil {
				logger.Error("bmc link stopped", "error", err)
			}
		}()
	}
	return a, nil
}

// Detach stops an interface and releases its id.
func (s *Server) Detach(id int) error {
	s.mu.Lock()
	a, ok := s.ifaces[id]
	if !ok || a == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	delete(s.ifaces, id)
	s.mu.Unlock()

	a.stop()
	s.logger.Info("interface detached", "id", id)
	return nil
}

func (a *Attached) stop() {
	if a.cancel != nil {
		a.cancel()
	}
	<-a.done
	if b, ok := a.Backend.(*extern.Backend); ok {
		b.Close()
	}
	a.Device.Interface().Close()
	a.IRQ.Close()
	close(a.detached)
}

// Get returns an attached interface.
func (s *Server) Get(id int) (*Attached, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.ifaces[id]
	if !ok || a == nil {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return a, nil
}

// List returns the attached interfaces ordered by id.
func (s *Server) List() []*Attached {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Attached, 0, len(s.ifaces))
	for _, a := range s.ifaces {
		if a != nil {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(x, y *Attached) int { return x.ID - y.ID })
	return out
}

// Close detaches every interface.
func (s *Server) Close() error {
	for _, a := range s.List() {
		_ = s.Detach(a.ID)
	}
	return nil
}
