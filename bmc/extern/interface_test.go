package extern_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alia5/VIIPMI/bmc/extern"
	"github.com/Alia5/VIIPMI/device"
	"github.com/Alia5/VIIPMI/device/bt"
	"github.com/Alia5/VIIPMI/device/kcs"
	"github.com/Alia5/VIIPMI/hostdrv"
	"github.com/Alia5/VIIPMI/ipmi"
	"github.com/Alia5/VIIPMI/vmproto"
)

// sentRequest decodes the request frame the backend wrote after the handshake.
func sentRequest(t *testing.T, l *link) vmproto.Message {
	t.Helper()
	frames, err := vmproto.NewRequestDecoder().Decode(l.Take())
	require.NoError(t, err)
	for _, f := range frames {
		if m, ok := f.(vmproto.Message); ok {
			return m
		}
	}
	t.Fatal("no request frame was written")
	return vmproto.Message{}
}

// answer plays the external BMC for one request: it waits for the frame and
// replies with rsp under the request's id.
func answer(ctx context.Context, l *link, b *extern.Backend, rsp []byte) {
	dec := vmproto.NewRequestDecoder()
	for ctx.Err() == nil {
		frames, _ := dec.Decode(l.Take())
		for _, f := range frames {
			if m, ok := f.(vmproto.Message); ok {
				b.Receive(vmproto.EncodeMessage(m.ID, rsp))
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
}

func TestTimeoutThroughInterface(t *testing.T) {
	tests := []struct {
		name   string
		create func(cfg ipmi.Config) device.Device
	}{
		{"kcs", func(cfg ipmi.Config) device.Device { return kcs.New(nil, cfg) }},
		{"bt", func(cfg ipmi.Config) device.Device { return bt.New(nil, cfg) }},
	}
	for _, tt := range tests {
		for _, threaded := range []bool{false, true} {
			name := tt.name + "/synchronous"
			if threaded {
				name = tt.name + "/threaded"
			}
			t.Run(name, func(t *testing.T) {
				d := tt.create(ipmi.Config{Threaded: threaded})
				t.Cleanup(d.Interface().Close)
				b := extern.New(extern.Config{ResponseTimeout: 30 * time.Millisecond})
				t.Cleanup(b.Close)
				d.Interface().Connect(b)
				l := &link{}
				b.Opened(l)

				drv, err := hostdrv.ForDevice(d, time.Millisecond)
				require.NoError(t, err)
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				rsp, err := drv.Exchange(ctx, []byte{0x18, 0x22, 0x05})
				require.NoError(t, err)
				assert.Equal(t, []byte{0x1c, 0x22, byte(ipmi.CCTimeout)}, rsp)

				req := sentRequest(t, l)
				assert.Equal(t, []byte{0x18, 0x22, 0x05}, req.Data)

				// The real answer arrives after the timeout was reported.
				before := d.Interface().Stats()
				b.Receive(vmproto.EncodeMessage(req.ID, []byte{0x1c, 0x22, 0x00, 0x01}))
				after := d.Interface().Stats()
				assert.Equal(t, before.Dropped+1, after.Dropped, "late response for the timed out id")
				assert.Equal(t, before.Responses, after.Responses)

				rd := d.(device.RegisterDevice)
				switch tt.name {
				case "kcs":
					st := rd.Read(kcs.RegCommand)
					assert.Equal(t, kcs.StateIdle, kcs.State(st))
					assert.Zero(t, st&kcs.StatusOBF)
				case "bt":
					assert.Zero(t, rd.Read(bt.RegControl)&bt.CtrlB2HATN)
				}

				// The interface keeps working for the next request.
				go answer(ctx, l, b, []byte{0x1c, 0x01, 0x00, 0x20})
				rsp, err = drv.Exchange(ctx, []byte{0x18, 0x01})
				require.NoError(t, err)
				assert.Equal(t, []byte{0x1c, 0x01, 0x00, 0x20}, rsp)
			})
		}
	}
}
