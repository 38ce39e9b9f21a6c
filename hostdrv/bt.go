package hostdrv

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Alia5/VIIPMI/device/bt"
)

// BT drives a BT interface. Each request carries a fresh sequence number.
type BT struct {
	io   RegisterIO
	poll time.Duration
	seq  atomic.Uint32
}

// NewBT returns a BT driver polling every poll.
func NewBT(io RegisterIO, poll time.Duration) *BT {
	return &BT{io: io, poll: pollOrDefault(poll)}
}

func (b *BT) waitControl(ctx context.Context, done func(ctrl byte) bool) error {
	return waitFor(ctx, b.poll, func() (bool, error) {
		ctrl, err := b.io.ReadReg(bt.RegControl)
		return done(ctrl), err
	})
}

// Exchange implements Driver.
func (b *BT) Exchange(ctx context.Context, req []byte) ([]byte, error) {
	if len(req) < 2 {
		return nil, ErrShortRequest
	}
	if len(req) > 0xfe {
		return nil, fmt.Errorf("%w: request exceeds %d bytes", ErrProtocol, 0xfe)
	}
	seq := byte(b.seq.Add(1))

	if err := b.waitControl(ctx, func(c byte) bool { return c&bt.CtrlBBusy == 0 }); err != nil {
		return nil, err
	}
	if err := b.io.WriteReg(bt.RegControl, bt.CtrlClrWr); err != nil {
		return nil, err
	}
	msg := append([]byte{byte(len(req) + 1), req[0], seq}, req[1:]...)
	for _, v := range msg {
		if err := b.io.WriteReg(bt.RegData, v); err != nil {
			return nil, err
		}
	}
	if err := b.io.WriteReg(bt.RegControl, bt.CtrlH2BATN); err != nil {
		return nil, err
	}

	if err := b.waitControl(ctx, func(c byte) bool { return c&bt.CtrlB2HATN != 0 }); err != nil {
		return nil, err
	}
	for _, v := range []byte{bt.CtrlHBusy, bt.CtrlB2HATN, bt.CtrlClrRd} {
		if err := b.io.WriteReg(bt.RegControl, v); err != nil {
			return nil, err
		}
	}
	n, err := b.io.ReadReg(bt.RegData)
	if err != nil {
		return nil, err
	}
	rsp := make([]byte, n)
	for i := range rsp {
		if rsp[i], err = b.io.ReadReg(bt.RegData); err != nil {
			return nil, err
		}
	}
	if err := b.io.WriteReg(bt.RegControl, bt.CtrlHBusy); err != nil {
		return nil, err
	}

	if len(rsp) < 3 {
		return nil, fmt.Errorf("%w: short response", ErrProtocol)
	}
	if rsp[1] != seq {
		return nil, fmt.Errorf("%w: got %d want %d", ErrSequence, rsp[1], seq)
	}
	return append([]byte{rsp[0]}, rsp[2:]...), nil
}
