// Package device provides the descriptors, options and registry shared by the
// emulated IPMI system interfaces.
package device

import (
	"errors"

	"github.com/Alia5/VIIPMI/ipmi"
)

// DefaultIRQ is the interrupt line used by ISA interfaces unless overridden.
const DefaultIRQ = 5

// ErrBadCommand is returned by block devices for SMBus commands they do not accept.
var ErrBadCommand = errors.New("device: unsupported smbus command")

// Descriptor reports how an interface appears to the host.
type Descriptor struct {
	Type       string    `json:"type"`
	SMBIOSType ipmi.Type `json:"smbiosType"`
	IOBase     uint16    `json:"ioBase,omitempty"`
	IOLength   int       `json:"ioLength,omitempty"`
	RegSpacing int       `json:"regSpacing,omitempty"`
	IRQ        int       `json:"irq,omitempty"`
	SlaveAddr  uint8     `json:"slaveAddr,omitempty"`
	Version    byte      `json:"version"`
}

// CreateOptions overrides descriptor defaults. Nil fields keep the variant default.
type CreateOptions struct {
	IOBase    *uint16
	IRQ       *int
	SlaveAddr *uint8
}

// Device is an emulated system interface.
type Device interface {
	// Interface returns the shared interface state the variant drives.
	Interface() *ipmi.Interface
	// Descriptor returns the host-visible description.
	Descriptor() Descriptor
}

// RegisterDevice is a device accessed through byte-wide I/O registers (KCS, BT).
type RegisterDevice interface {
	Device
	Read(offset int) byte
	Write(offset int, val byte)
}

// BlockDevice is a device accessed through SMBus block transfers (SSIF).
type BlockDevice interface {
	Device
	WriteBlock(cmd byte, data []byte) error
	ReadBlock(cmd byte) ([]byte, error)
	ReceiveByte() byte
}

// ISADescriptor fills a descriptor for an I/O mapped interface, applying o.
func ISADescriptor(name string, t ipmi.Type, base uint16, length int, o *CreateOptions) Descriptor {
	d := Descriptor{
		Type:       name,
		SMBIOSType: t,
		IOBase:     base,
		IOLength:   length,
		RegSpacing: 1,
		IRQ:        DefaultIRQ,
		Version:    ipmi.SpecVersion,
	}
	if o != nil {
		if o.IOBase != nil && *o.IOBase != 0 {
			d.IOBase = *o.IOBase
		}
		if o.IRQ != nil {
			d.IRQ = max(*o.IRQ, 0)
		}
		if o.SlaveAddr != nil {
			d.SlaveAddr = *o.SlaveAddr
		}
	}
	return d
}
