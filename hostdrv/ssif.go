package hostdrv

import (
	"context"
	"fmt"
	"time"

	"github.com/Alia5/VIIPMI/device/ssif"
	"github.com/Alia5/VIIPMI/ipmi"
)

// SSIF drives an SSIF interface through SMBus block transfers.
type SSIF struct {
	io   BlockIO
	poll time.Duration
}

// NewSSIF returns an SSIF driver polling every poll.
func NewSSIF(io BlockIO, poll time.Duration) *SSIF {
	return &SSIF{io: io, poll: pollOrDefault(poll)}
}

// Exchange implements Driver.
func (d *SSIF) Exchange(ctx context.Context, req []byte) ([]byte, error) {
	if len(req) < 2 {
		return nil, ErrShortRequest
	}
	if len(req) >= ipmi.MaxMsgSize {
		return nil, fmt.Errorf("%w: request exceeds %d bytes", ErrProtocol, ipmi.MaxMsgSize-1)
	}
	if err := d.io.WriteBlock(ssif.CmdRequest, append([]byte{byte(len(req))}, req...)); err != nil {
		return nil, err
	}
	var rsp []byte
	err := waitFor(ctx, d.poll, func() (bool, error) {
		blk, err := d.io.ReadBlock(ssif.CmdResponse)
		if err != nil || len(blk) == 0 || blk[0] == 0 {
			return false, err
		}
		if int(blk[0]) != len(blk)-1 {
			return false, fmt.Errorf("%w: block count %d for %d bytes", ErrProtocol, blk[0], len(blk)-1)
		}
		rsp = blk[1:]
		return true, nil
	})
	return rsp, err
}
