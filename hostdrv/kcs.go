package hostdrv

import (
	"context"
	"fmt"
	"time"

	"github.com/Alia5/VIIPMI/device/kcs"
	"github.com/Alia5/VIIPMI/ipmi"
)

// KCS drives a KCS interface.
type KCS struct {
	io   RegisterIO
	poll time.Duration
}

// NewKCS returns a KCS driver polling every poll.
func NewKCS(io RegisterIO, poll time.Duration) *KCS {
	return &KCS{io: io, poll: pollOrDefault(poll)}
}

func (k *KCS) status() (byte, error) { return k.io.ReadReg(kcs.RegCommand) }

func (k *KCS) waitIBF(ctx context.Context) (byte, error) {
	var st byte
	err := waitFor(ctx, k.poll, func() (bool, error) {
		var err error
		st, err = k.status()
		return st&kcs.StatusIBF == 0, err
	})
	return st, err
}

func (k *KCS) waitOBF(ctx context.Context) error {
	return waitFor(ctx, k.poll, func() (bool, error) {
		st, err := k.status()
		return st&kcs.StatusOBF != 0, err
	})
}

// clearOBF reads the data register so the next byte can be told apart.
func (k *KCS) clearOBF() error {
	_, err := k.io.ReadReg(kcs.RegData)
	return err
}

// write stores val and waits for the interface to consume it, expecting
// the Write state afterwards.
func (k *KCS) write(ctx context.Context, offset int, val byte) error {
	if err := k.io.WriteReg(offset, val); err != nil {
		return err
	}
	st, err := k.waitIBF(ctx)
	if err != nil {
		return err
	}
	if kcs.State(st) != kcs.StateWrite {
		return k.fail(ctx)
	}
	return k.clearOBF()
}

// fail runs the error exit and reports the interface status.
func (k *KCS) fail(ctx context.Context) error {
	code, err := k.Abort(ctx)
	if err != nil {
		return err
	}
	return &StatusError{Code: code}
}

// Exchange implements Driver.
func (k *KCS) Exchange(ctx context.Context, req []byte) ([]byte, error) {
	if len(req) < 2 {
		return nil, ErrShortRequest
	}
	if err := k.write(ctx, kcs.RegCommand, kcs.CmdWriteStart); err != nil {
		return nil, err
	}
	for _, b := range req[:len(req)-1] {
		if err := k.write(ctx, kcs.RegData, b); err != nil {
			return nil, err
		}
	}
	if err := k.write(ctx, kcs.RegCommand, kcs.CmdWriteEnd); err != nil {
		return nil, err
	}
	if err := k.io.WriteReg(kcs.RegData, req[len(req)-1]); err != nil {
		return nil, err
	}

	var rsp []byte
	for {
		st, err := k.waitIBF(ctx)
		if err != nil {
			return nil, err
		}
		switch kcs.State(st) {
		case kcs.StateRead:
			if len(rsp) >= ipmi.MaxMsgSize {
				return nil, fmt.Errorf("%w: response exceeds %d bytes", ErrProtocol, ipmi.MaxMsgSize)
			}
			if err := k.waitOBF(ctx); err != nil {
				return nil, err
			}
			b, err := k.io.ReadReg(kcs.RegData)
			if err != nil {
				return nil, err
			}
			rsp = append(rsp, b)
			if err := k.io.WriteReg(kcs.RegData, kcs.CmdRead); err != nil {
				return nil, err
			}
		case kcs.StateIdle:
			if err := k.waitOBF(ctx); err != nil {
				return nil, err
			}
			return rsp, k.clearOBF()
		case kcs.StateError:
			return nil, k.fail(ctx)
		default:
			return nil, fmt.Errorf("%w: unexpected state %d", ErrProtocol, kcs.State(st))
		}
	}
}

// Abort runs the KCS error exit: ABORT_STATUS, then reads the one byte error
// status and returns the interface to Idle. It may be issued while a request
// is outstanding.
func (k *KCS) Abort(ctx context.Context) (byte, error) {
	if err := k.io.WriteReg(kcs.RegCommand, kcs.CmdAbortStatus); err != nil {
		return 0, err
	}
	if _, err := k.waitIBF(ctx); err != nil {
		return 0, err
	}
	if err := k.clearOBF(); err != nil {
		return 0, err
	}
	if err := k.io.WriteReg(kcs.RegData, 0x00); err != nil {
		return 0, err
	}
	st, err := k.waitIBF(ctx)
	if err != nil {
		return 0, err
	}
	if kcs.State(st) != kcs.StateRead {
		return 0, fmt.Errorf("%w: abort left state %d", ErrProtocol, kcs.State(st))
	}
	if err := k.waitOBF(ctx); err != nil {
		return 0, err
	}
	code, err := k.io.ReadReg(kcs.RegData)
	if err != nil {
		return 0, err
	}
	if err := k.io.WriteReg(kcs.RegData, kcs.CmdRead); err != nil {
		return 0, err
	}
	st, err = k.waitIBF(ctx)
	if err != nil {
		return 0, err
	}
	if kcs.State(st) != kcs.StateIdle {
		return 0, fmt.Errorf("%w: abort left state %d", ErrProtocol, kcs.State(st))
	}
	if err := k.waitOBF(ctx); err != nil {
		return 0, err
	}
	return code, k.clearOBF()
}
