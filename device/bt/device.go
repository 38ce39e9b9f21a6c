// Package bt emulates the Block Transfer IPMI system interface. The host
// writes a length-prefixed request through a data FIFO, rings H2B_ATN and
// reads the framed response back once B2H_ATN is set.
package bt

import (
	"fmt"

	"github.com/Alia5/VIIPMI/device"
	"github.com/Alia5/VIIPMI/ipmi"
)

// BT implements device.RegisterDevice for a BT interface.
type BT struct {
	s    *ipmi.Interface
	desc device.Descriptor

	control    byte
	mask       byte
	waitingSeq byte
}

// New returns a BT interface. cfg.UseIRQ is derived from the descriptor.
func New(o *device.CreateOptions, cfg ipmi.Config) *BT {
	b := &BT{}
	b.desc = device.ISADescriptor("bt", ipmi.TypeBT, DefaultIOBase, IOLength, o)
	cfg.UseIRQ = b.desc.IRQ > 0
	b.s = ipmi.NewInterface(b, cfg)
	return b
}

// Interface returns the shared interface state.
func (b *BT) Interface() *ipmi.Interface { return b.s }

// Descriptor returns the host-visible description.
func (b *BT) Descriptor() device.Descriptor { return b.desc }

// Type implements ipmi.Handler.
func (b *BT) Type() ipmi.Type { return ipmi.TypeBT }

// responseReady clears BBUSY, sets B2H_ATN and raises the B2H interrupt if
// it is enabled and not already pending.
func (b *BT) responseReady() {
	s := b.s
	b.control &^= CtrlBBusy
	b.control |= CtrlB2HATN
	if s.IRQsActive() && b.mask&MaskB2HIRQ == 0 && b.mask&MaskB2HIRQEn != 0 {
		b.mask |= MaskB2HIRQ
		s.RaiseIRQ()
	}
}

// HandleEvent implements ipmi.Handler.
func (b *BT) HandleEvent() {
	s := b.s
	if s.InLen < 4 {
		return
	}
	if int(s.InMsg[0]) != s.InLen-1 {
		b.control |= CtrlBBusy
		s.InLen = 0
		return
	}
	if s.InMsg[1] == ipmi.NetFnApp<<2 && s.InMsg[3] == CmdGetBTInterfaceCapabilities {
		copy(s.OutMsg[:], []byte{
			9,
			s.InMsg[1] | 0x04,
			s.InMsg[2],
			s.InMsg[3],
			0,
			1, // outstanding requests
			byte(min(len(s.InMsg), 0xff)),
			byte(min(len(s.OutMsg), 0xff)),
			10, // seconds to respond
			0,  // no retries
		})
		s.OutLen = 10
		s.OutPos = 0
		b.responseReady()
		return
	}
	b.waitingSeq = s.InMsg[2]
	s.InMsg[2] = s.InMsg[1]
	s.SendRequest(s.InMsg[2:], s.InLen-2)
}

// HandleResponse implements ipmi.Handler.
func (b *BT) HandleResponse(id byte, rsp []byte) {
	s := b.s
	if !s.AcceptResponse(id) {
		return
	}
	if len(rsp) < 2 {
		rsp = append(append([]byte(nil), rsp...), make([]byte, 2-len(rsp))...)
	}
	// The length prefix is a single byte.
	if len(rsp) > min(len(s.OutMsg)-2, 0xfe) {
		s.OutMsg[0] = 4
		s.OutMsg[1] = rsp[0]
		s.OutMsg[2] = b.waitingSeq
		s.OutMsg[3] = rsp[1]
		s.OutMsg[4] = byte(ipmi.CCCannotReturnReqNumBytes)
		s.OutLen = 5
	} else {
		s.OutMsg[0] = byte(len(rsp) + 1)
		s.OutMsg[1] = rsp[0]
		s.OutMsg[2] = b.waitingSeq
		copy(s.OutMsg[3:], rsp[1:])
		s.OutLen = len(rsp) + 2
	}
	s.OutPos = 0
	b.responseReady()
}

// SetAttention implements ipmi.Handler.
func (b *BT) SetAttention(val, irq bool) {
	s := b.s
	if val == (b.control&CtrlSMSATN != 0) {
		return
	}
	if val {
		b.control |= CtrlSMSATN
		if irq && s.IRQsActive() && b.control&CtrlB2HATN == 0 && b.mask&MaskB2HIRQEn != 0 {
			b.mask |= MaskB2HIRQ
			s.RaiseIRQ()
		}
		return
	}
	b.control &^= CtrlSMSATN
	if b.control&CtrlB2HATN == 0 && b.mask&MaskB2HIRQ != 0 {
		b.mask &^= MaskB2HIRQ
		s.LowerIRQ()
	}
}

// Reset implements ipmi.Handler. A cold reset also disables the B2H interrupt.
func (b *BT) Reset(cold bool) {
	if !cold {
		return
	}
	if b.mask&MaskB2HIRQ != 0 {
		b.mask &^= MaskB2HIRQ
		b.s.LowerIRQ()
	}
	b.mask &^= MaskB2HIRQEn
}

// Read returns the register at offset. Reading the data FIFO past the end of
// the response returns 0xff.
func (b *BT) Read(offset int) byte {
	s := b.s
	s.Lock()
	defer s.Unlock()

	switch offset & 3 {
	case RegControl:
		return b.control
	case RegData:
		if s.OutPos >= s.OutLen {
			return 0xff
		}
		v := s.OutMsg[s.OutPos]
		s.OutPos++
		if s.OutPos == s.OutLen {
			s.OutPos = 0
			s.OutLen = 0
		}
		return v
	case RegMask:
		return b.mask
	}
	return 0xff
}

// Write updates the register at offset. Setting H2B_ATN in the control
// register dispatches the buffered request.
func (b *BT) Write(offset int, val byte) {
	s := b.s
	s.Lock()
	defer s.Unlock()

	switch offset & 3 {
	case RegControl:
		b.writeControl(val)
	case RegData:
		if s.InLen < len(s.InMsg) {
			s.InMsg[s.InLen] = val
		}
		s.InLen++
	case RegMask:
		b.writeMask(val)
	}
}

func (b *BT) writeControl(val byte) {
	s := b.s
	if val&CtrlClrWr != 0 {
		s.InLen = 0
	}
	if val&CtrlClrRd != 0 {
		s.OutPos = 0
	}
	if val&CtrlB2HATN != 0 {
		b.control &^= CtrlB2HATN
	}
	if val&CtrlSMSATN != 0 {
		b.control &^= CtrlSMSATN
	}
	if val&CtrlHBusy != 0 {
		b.control ^= CtrlHBusy
	}
	if val&CtrlH2BATN != 0 {
		b.control |= CtrlBBusy
		s.Signal()
	}
}

func (b *BT) writeMask(val byte) {
	s := b.s
	if val&MaskB2HIRQEn != b.mask&MaskB2HIRQEn {
		if val&MaskB2HIRQEn != 0 {
			if b.control&(CtrlB2HATN|CtrlSMSATN) != 0 {
				b.mask |= MaskB2HIRQ
				s.RaiseIRQ()
			}
			b.mask |= MaskB2HIRQEn
		} else {
			if b.mask&MaskB2HIRQ != 0 {
				b.mask &^= MaskB2HIRQ
				s.LowerIRQ()
			}
			b.mask &^= MaskB2HIRQEn
		}
	}
	if val&MaskB2HIRQ != 0 && b.mask&MaskB2HIRQ != 0 {
		b.mask &^= MaskB2HIRQ
		s.LowerIRQ()
	}
}

// SaveState implements ipmi.Stateful.
func (b *BT) SaveState() map[string]int {
	return map[string]int{
		"control":    int(b.control),
		"mask":       int(b.mask),
		"waitingSeq": int(b.waitingSeq),
	}
}

// LoadState implements ipmi.Stateful.
func (b *BT) LoadState(regs map[string]int) error {
	for _, name := range []string{"control", "mask", "waitingSeq"} {
		if _, ok := regs[name]; !ok {
			return fmt.Errorf("%w: missing bt register %q", ipmi.ErrSnapshotMismatch, name)
		}
	}
	b.control = byte(regs["control"])
	b.mask = byte(regs["mask"])
	b.waitingSeq = byte(regs["waitingSeq"])
	return nil
}
