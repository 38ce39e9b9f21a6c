package host

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/Alia5/VIIPMI/ipmi"
)

const maxHistory = 64

// Machine is the emulated host the BMC may power or reset. It records the
// operations it performed.
type Machine struct {
	mu        sync.Mutex
	supported map[ipmi.HwOp]bool
	powered   bool
	history   []ipmi.HwOp
	onReset   func()
	logger    *slog.Logger
}

// NewMachine returns a powered machine supporting the named operations.
func NewMachine(ops []string, logger *slog.Logger) (*Machine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Machine{supported: make(map[ipmi.HwOp]bool), powered: true, logger: logger}
	for _, name := range ops {
		op, err := ipmi.ParseHwOp(name)
		if err != nil {
			return nil, err
		}
		m.supported[op] = true
	}
	return m, nil
}

// OnReset sets the function run when the machine resets.
func (m *Machine) OnReset(f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReset = f
}

// DoHwOp implements ipmi.HostOps.
func (m *Machine) DoHwOp(op ipmi.HwOp, checkOnly bool) error {
	m.mu.Lock()
	if !m.supported[op] {
		m.mu.Unlock()
		if checkOnly {
			return ipmi.ErrUnsupported
		}
		return fmt.Errorf("%w: %s", ipmi.ErrUnsupported, op)
	}
	if checkOnly {
		m.mu.Unlock()
		return nil
	}

	m.history = append(m.history, op)
	if len(m.history) > maxHistory {
		m.history = m.history[len(m.history)-maxHistory:]
	}
	var reset func()
	switch op {
	case ipmi.HwOpPowerOffChassis, ipmi.HwOpShutdownViaACPIOvertemp:
		m.powered = false
	case ipmi.HwOpPowerOnChassis:
		if !m.powered {
			m.powered = true
			reset = m.onReset
		}
	case ipmi.HwOpResetChassis, ipmi.HwOpPowerCycleChassis:
		m.powered = true
		reset = m.onReset
	}
	m.mu.Unlock()

	m.logger.Info("hardware operation", "op", op)
	if reset != nil {
		reset()
	}
	return nil
}

// Powered reports the power state.
func (m *Machine) Powered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.powered
}

// History returns the most recent operations, oldest first.
func (m *Machine) History() []ipmi.HwOp {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ipmi.HwOp(nil), m.history...)
}

// Supported lists the supported operations in declaration order.
func (m *Machine) Supported() []ipmi.HwOp {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ipmi.HwOp
	for op := ipmi.HwOpResetChassis; op <= ipmi.HwOpSendNMI; op++ {
		if m.supported[op] {
			out = append(out, op)
		}
	}
	return out
}
