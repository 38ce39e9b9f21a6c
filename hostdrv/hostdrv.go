// Package hostdrv implements the host (driver) side of the IPMI system
// interfaces. A driver exchanges one raw request [netfn<<2|lun, cmd, data...]
// for its response [netfn<<2|lun, cmd, cc, data...] by polling registers,
// either on an in-process device or through the API's register stream.
package hostdrv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Alia5/VIIPMI/device"
	"github.com/Alia5/VIIPMI/device/bt"
	"github.com/Alia5/VIIPMI/device/kcs"
	"github.com/Alia5/VIIPMI/device/ssif"
)

// DefaultPoll is the register polling interval.
const DefaultPoll = time.Millisecond

var (
	ErrShortRequest = errors.New("hostdrv: request needs netfn and cmd")
	ErrProtocol     = errors.New("hostdrv: interface protocol error")
	ErrSequence     = errors.New("hostdrv: response sequence mismatch")
	ErrUnsupported  = errors.New("hostdrv: no driver for interface")
)

// StatusError is a KCS error status read during the error exit.
type StatusError struct {
	Code byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("hostdrv: kcs error status 0x%02x", e.Code)
}

// RegisterIO accesses byte-wide interface registers.
type RegisterIO interface {
	ReadReg(offset int) (byte, error)
	WriteReg(offset int, val byte) error
}

// BlockIO accesses SMBus block transfers.
type BlockIO interface {
	WriteBlock(cmd byte, data []byte) error
	ReadBlock(cmd byte) ([]byte, error)
}

// Driver exchanges one request for its response.
type Driver interface {
	Exchange(ctx context.Context, req []byte) ([]byte, error)
}

// Registers adapts an in-process register device.
func Registers(d device.RegisterDevice) RegisterIO { return localRegs{d} }

type localRegs struct{ d device.RegisterDevice }

func (l localRegs) ReadReg(offset int) (byte, error) { return l.d.Read(offset), nil }

func (l localRegs) WriteReg(offset int, val byte) error {
	l.d.Write(offset, val)
	return nil
}

// ForDevice returns the driver matching an in-process device.
func ForDevice(d device.Device, poll time.Duration) (Driver, error) {
	switch d := d.(type) {
	case *kcs.KCS:
		return NewKCS(Registers(d), poll), nil
	case *bt.BT:
		return NewBT(Registers(d), poll), nil
	case *ssif.SSIF:
		return NewSSIF(d, poll), nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupported, d)
}

// waitFor polls cond until it reports done, ctx ends or cond fails.
func waitFor(ctx context.Context, poll time.Duration, cond func() (bool, error)) error {
	for {
		ok, err := cond()
		if err != nil || ok {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
}

func pollOrDefault(poll time.Duration) time.Duration {
	if poll <= 0 {
		return DefaultPoll
	}
	return poll
}
