// Package kcs emulates the Keyboard Controller Style IPMI system interface: a
// data register and a command/status register driven by a small state machine.
package kcs

import (
	"fmt"

	"github.com/Alia5/VIIPMI/device"
	"github.com/Alia5/VIIPMI/ipmi"
)

// KCS implements device.RegisterDevice for a KCS interface.
type KCS struct {
	s    *ipmi.Interface
	desc device.Descriptor

	status  byte
	dataOut byte
	dataIn  int16 // -1 means not written
	cmd     int16 // -1 means not written
}

// New returns a KCS interface. cfg.UseIRQ is derived from the descriptor.
func New(o *device.CreateOptions, cfg ipmi.Config) *KCS {
	k := &KCS{dataIn: -1, cmd: -1}
	k.desc = device.ISADescriptor("kcs", ipmi.TypeKCS, DefaultIOBase, IOLength, o)
	cfg.UseIRQ = k.desc.IRQ > 0
	k.s = ipmi.NewInterface(k, cfg)
	return k
}

// Interface returns the shared interface state.
func (k *KCS) Interface() *ipmi.Interface { return k.s }

// Descriptor returns the host-visible description.
func (k *KCS) Descriptor() device.Descriptor { return k.desc }

// Type implements ipmi.Handler.
func (k *KCS) Type() ipmi.Type { return ipmi.TypeKCS }

func (k *KCS) state() int { return State(k.status) }

func (k *KCS) setState(st int) {
	k.status = k.status&^stateMask | byte(st<<stateShift)
}

// setOBF marks output available and raises the interrupt if the OBF latch
// was clear.
func (k *KCS) setOBF() {
	s := k.s
	k.status |= StatusOBF
	if s.IRQsActive() && !s.OBFIRQSet {
		s.OBFIRQSet = true
		if !s.ATNIRQSet {
			s.RaiseIRQ()
		}
	}
}

// fail replaces the response with a single status byte and enters Error.
func (k *KCS) fail(code byte) {
	s := k.s
	s.OutMsg[0] = code
	s.OutLen = 1
	s.OutPos = 0
	k.setState(StateError)
}

// HandleEvent implements ipmi.Handler.
func (k *KCS) HandleEvent() {
	s := k.s

	if k.cmd == CmdAbortStatus {
		if k.state() != StateError {
			s.Invalidate()
			k.fail(StatusAbortedErr)
			k.setOBF()
		}
		k.done()
		return
	}

	switch k.state() {
	case StateIdle:
		if k.cmd == CmdWriteStart {
			k.setState(StateWrite)
			k.cmd = -1
			s.WriteEnd = false
			s.InLen = 0
			k.setOBF()
		}

	case StateRead:
		if !k.handleRead() {
			k.done()
			return
		}

	case StateWrite:
		if k.dataIn != -1 {
			if s.InLen < len(s.InMsg) {
				s.InMsg[s.InLen] = byte(k.dataIn)
			}
			s.InLen++
		}
		if s.WriteEnd {
			s.OutLen = 0
			s.WriteEnd = false
			s.OutPos = 0
			// IBF stays set until the response is ready to be read.
			s.SendRequest(s.InMsg[:], s.InLen)
			return
		}
		if k.cmd == CmdWriteEnd {
			k.cmd = -1
			s.WriteEnd = true
		}
		k.setOBF()

	case StateError:
		if k.dataIn != -1 {
			k.setState(StateRead)
			k.dataIn = CmdRead
			if !k.handleRead() {
				k.done()
				return
			}
		}
	}

	if k.cmd != -1 {
		k.fail(StatusBadCCErr)
	}
	k.done()
}

// handleRead hands out the next response byte. It returns false if the host
// broke the read protocol and the interface moved to Error.
func (k *KCS) handleRead() bool {
	s := k.s
	switch {
	case s.OutPos >= s.OutLen:
		k.setState(StateIdle)
		k.setOBF()
	case k.dataIn == CmdRead:
		k.dataOut = s.OutMsg[s.OutPos]
		s.OutPos++
		k.setOBF()
	default:
		k.fail(StatusBadCCErr)
		k.setOBF()
		return false
	}
	return true
}

func (k *KCS) done() {
	k.cmd = -1
	k.dataIn = -1
	k.status &^= StatusIBF
}

// HandleResponse implements ipmi.Handler.
func (k *KCS) HandleResponse(id byte, rsp []byte) {
	s := k.s
	if !s.AcceptResponse(id) {
		return
	}
	if len(rsp) > len(s.OutMsg) {
		s.OutMsg[0] = rsp[0]
		s.OutMsg[1] = rsp[1]
		s.OutMsg[2] = byte(ipmi.CCCannotReturnReqNumBytes)
		s.OutLen = 3
	} else {
		s.OutLen = copy(s.OutMsg[:], rsp)
	}
	k.setState(StateRead)
	k.dataIn = CmdRead
	s.Signal()
}

// SetAttention implements ipmi.Handler.
func (k *KCS) SetAttention(val, irq bool) {
	s := k.s
	if val {
		k.status |= StatusSMSATN
		if irq && !s.ATNIRQSet && s.IRQsActive() {
			s.ATNIRQSet = true
			if !s.OBFIRQSet {
				s.RaiseIRQ()
			}
		}
		return
	}
	k.status &^= StatusSMSATN
	if s.ATNIRQSet {
		s.ATNIRQSet = false
		if !s.OBFIRQSet {
			s.LowerIRQ()
		}
	}
}

// Reset implements ipmi.Handler. The state machine returns to Idle.
func (k *KCS) Reset(cold bool) {
	s := k.s
	k.status = 0
	k.dataOut = 0
	k.dataIn = -1
	k.cmd = -1
	if s.OBFIRQSet || s.ATNIRQSet {
		s.OBFIRQSet = false
		s.ATNIRQSet = false
		s.LowerIRQ()
	}
}

// Read returns the register at offset. Reading data clears OBF; reading
// status acknowledges an attention interrupt.
func (k *KCS) Read(offset int) byte {
	s := k.s
	s.Lock()
	defer s.Unlock()

	if offset&1 == RegData {
		k.status &^= StatusOBF
		if s.OBFIRQSet {
			s.OBFIRQSet = false
			if !s.ATNIRQSet {
				s.LowerIRQ()
			}
		}
		return k.dataOut
	}
	if s.ATNIRQSet {
		s.ATNIRQSet = false
		if !s.OBFIRQSet {
			s.LowerIRQ()
		}
	}
	return k.status
}

// Write stores a data or command byte and queues an event. Writes are
// ignored while the previous byte has not been consumed. ABORT_STATUS is
// accepted at any time.
func (k *KCS) Write(offset int, val byte) {
	s := k.s
	s.Lock()
	defer s.Unlock()

	abort := offset&1 == RegCommand && val == CmdAbortStatus
	if k.status&StatusIBF != 0 && !abort {
		return
	}
	if offset&1 == RegData {
		k.dataIn = int16(val)
		k.status &^= StatusCD
	} else {
		k.cmd = int16(val)
		k.status |= StatusCD
	}
	k.status |= StatusIBF
	s.Signal()
}

// SaveState implements ipmi.Stateful.
func (k *KCS) SaveState() map[string]int {
	return map[string]int{
		"status":  int(k.status),
		"dataOut": int(k.dataOut),
		"dataIn":  int(k.dataIn),
		"cmd":     int(k.cmd),
	}
}

// LoadState implements ipmi.Stateful.
func (k *KCS) LoadState(regs map[string]int) error {
	for _, name := range []string{"status", "dataOut", "dataIn", "cmd"} {
		if _, ok := regs[name]; !ok {
			return fmt.Errorf("%w: missing kcs register %q", ipmi.ErrSnapshotMismatch, name)
		}
	}
	k.status = byte(regs["status"])
	k.dataOut = byte(regs["dataOut"])
	k.dataIn = int16(regs["dataIn"])
	k.cmd = int16(regs["cmd"])
	return nil
}
