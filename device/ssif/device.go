// Package ssif emulates the SMBus System Interface. Requests arrive as a
// single SMBus block write and responses are fetched with a block read.
package ssif

import (
	"errors"

	"github.com/Alia5/VIIPMI/device"
	"github.com/Alia5/VIIPMI/ipmi"
)

// SMBus commands.
const (
	CmdRequest                 = 0x02
	CmdResponse                = 0x03
	CmdMultiPartRequestStart   = 0x06
	CmdMultiPartRequestMiddle  = 0x07
	CmdMultiPartResponseMiddle = 0x09
)

// DefaultSlaveAddr is the SMBus address used unless overridden.
const DefaultSlaveAddr = 0x20

// MaxResponseLen is the longest response a block read can report; its
// count is a single byte.
const MaxResponseLen = 0xff

// ErrBadLength is returned for a request block whose length byte or size is invalid.
var ErrBadLength = errors.New("ssif: invalid request block length")

// SSIF implements device.BlockDevice.
type SSIF struct {
	s    *ipmi.Interface
	desc device.Descriptor
}

// New returns an SSIF interface. SSIF has no interrupt line.
func New(o *device.CreateOptions, cfg ipmi.Config) *SSIF {
	d := &SSIF{desc: device.Descriptor{
		Type:       "ssif",
		SMBIOSType: ipmi.TypeSSIF,
		SlaveAddr:  DefaultSlaveAddr,
		Version:    ipmi.SpecVersion,
	}}
	if o != nil && o.SlaveAddr != nil {
		d.desc.SlaveAddr = *o.SlaveAddr
	}
	cfg.IRQ = nil
	cfg.UseIRQ = false
	d.s = ipmi.NewInterface(d, cfg)
	return d
}

// Interface returns the shared interface state.
func (d *SSIF) Interface() *ipmi.Interface { return d.s }

// Descriptor returns the host-visible description.
func (d *SSIF) Descriptor() device.Descriptor { return d.desc }

// Type implements ipmi.Handler.
func (d *SSIF) Type() ipmi.Type { return ipmi.TypeSSIF }

// HandleEvent implements ipmi.Handler. SSIF is purely host driven.
func (d *SSIF) HandleEvent() {}

// HandleResponse implements ipmi.Handler.
func (d *SSIF) HandleResponse(id byte, rsp []byte) {
	s := d.s
	if !s.AcceptResponse(id) {
		return
	}
	if len(rsp) > MaxResponseLen {
		rsp = []byte{rsp[0], rsp[1], byte(ipmi.CCCannotReturnReqNumBytes)}
	}
	s.OutLen = copy(s.OutMsg[:], rsp)
	s.OutPos = 0
}

// SetAttention implements ipmi.Handler. SSIF signals nothing to the host.
func (d *SSIF) SetAttention(val, irq bool) {}

// Reset implements ipmi.Handler.
func (d *SSIF) Reset(cold bool) {}

// WriteBlock accepts a single-part request: data[0] is the count of the
// netfn, cmd and data bytes that follow.
func (d *SSIF) WriteBlock(cmd byte, data []byte) error {
	if cmd != CmdRequest {
		return device.ErrBadCommand
	}
	if len(data) < 3 || len(data) > ipmi.MaxMsgSize || int(data[0]) != len(data)-1 {
		return ErrBadLength
	}

	s := d.s
	s.Lock()
	defer s.Unlock()
	s.InLen = copy(s.InMsg[:], data[1:])
	s.OutLen = 0
	s.OutPos = 0
	s.WriteEnd = false
	s.SendRequest(s.InMsg[:], s.InLen)
	return nil
}

// ReadBlock returns the response length followed by the unread response
// bytes. Without a response it returns a single zero count.
func (d *SSIF) ReadBlock(cmd byte) ([]byte, error) {
	if cmd != CmdResponse {
		return nil, device.ErrBadCommand
	}

	s := d.s
	s.Lock()
	defer s.Unlock()
	out := make([]byte, 0, s.OutLen-s.OutPos+1)
	out = append(out, byte(s.OutLen))
	out = append(out, s.OutMsg[s.OutPos:s.OutLen]...)
	s.OutPos = s.OutLen
	return out, nil
}

// ReceiveByte performs an SMBus receive byte: it returns the next unread
// response byte, or 0 once the response is exhausted.
func (d *SSIF) ReceiveByte() byte {
	s := d.s
	s.Lock()
	defer s.Unlock()
	if s.OutPos >= s.OutLen {
		return 0
	}
	v := s.OutMsg[s.OutPos]
	s.OutPos++
	return v
}
