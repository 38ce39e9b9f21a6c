package ssif_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alia5/VIIPMI/device"
	"github.com/Alia5/VIIPMI/device/ssif"
	"github.com/Alia5/VIIPMI/ipmi"
)

type backend struct {
	peer     ipmi.Peer
	echo     bool
	requests []ipmi.Request
}

func (b *backend) Attach(p ipmi.Peer) { b.peer = p }
func (b *backend) HandleReset()       {}

func (b *backend) HandleCommand(l ipmi.Locked, req ipmi.Request) {
	b.requests = append(b.requests, req)
	if b.echo {
		l.Respond(req.ID, append([]byte{req.NetFn() | 0x04, req.Cmd(), 0x00}, req.Data[2:]...))
	}
}

func newSSIF(t *testing.T, b ipmi.Backend) *ssif.SSIF {
	t.Helper()
	d := ssif.New(nil, ipmi.Config{})
	t.Cleanup(d.Interface().Close)
	if b != nil {
		d.Interface().Connect(b)
	}
	return d
}

func TestRequestResponse(t *testing.T) {
	b := &backend{echo: true}
	d := newSSIF(t, b)

	require.NoError(t, d.WriteBlock(ssif.CmdRequest, []byte{0x03, 0x18, 0x01, 0x42}))
	require.Len(t, b.requests, 1)
	assert.Equal(t, []byte{0x18, 0x01, 0x42}, b.requests[0].Data)

	rsp, err := d.ReadBlock(ssif.CmdResponse)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x04, 0x1c, 0x01, 0x00, 0x42}, rsp)

	rsp, err = d.ReadBlock(ssif.CmdResponse)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x04}, rsp, "response already consumed")
}

func TestWriteBlockValidation(t *testing.T) {
	tests := []struct {
		name    string
		cmd     byte
		data    []byte
		wantErr error
	}{
		{"wrong command", ssif.CmdResponse, []byte{0x02, 0x18, 0x01}, device.ErrBadCommand},
		{"multi-part start", ssif.CmdMultiPartRequestStart, []byte{0x02, 0x18, 0x01}, device.ErrBadCommand},
		{"too short", ssif.CmdRequest, []byte{0x01, 0x18}, ssif.ErrBadLength},
		{"length byte mismatch", ssif.CmdRequest, []byte{0x05, 0x18, 0x01}, ssif.ErrBadLength},
		{"too long", ssif.CmdRequest, make([]byte, ipmi.MaxMsgSize+1), ssif.ErrBadLength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &backend{}
			d := newSSIF(t, b)
			assert.ErrorIs(t, d.WriteBlock(tt.cmd, tt.data), tt.wantErr)
			assert.Empty(t, b.requests)
		})
	}
}

func TestReadBlockWrongCommand(t *testing.T) {
	d := newSSIF(t, nil)
	_, err := d.ReadBlock(ssif.CmdMultiPartResponseMiddle)
	assert.ErrorIs(t, err, device.ErrBadCommand)
}

func TestAsynchronousResponse(t *testing.T) {
	b := &backend{}
	d := newSSIF(t, b)
	require.NoError(t, d.WriteBlock(ssif.CmdRequest, []byte{0x02, 0x18, 0x01}))

	rsp, err := d.ReadBlock(ssif.CmdResponse)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00}, rsp, "nothing to read yet")

	b.peer.DeliverResponse(b.requests[0].ID, []byte{0x1c, 0x01, 0x00, 0x55})
	assert.Equal(t, byte(0x1c), d.ReceiveByte())
	assert.Equal(t, byte(0x01), d.ReceiveByte())

	rsp, err = d.ReadBlock(ssif.CmdResponse)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x04, 0x00, 0x55}, rsp)
	assert.Zero(t, d.ReceiveByte())
}

func TestRewriteDropsEarlierResponse(t *testing.T) {
	b := &backend{}
	d := newSSIF(t, b)
	require.NoError(t, d.WriteBlock(ssif.CmdRequest, []byte{0x02, 0x18, 0x01}))
	require.NoError(t, d.WriteBlock(ssif.CmdRequest, []byte{0x02, 0x18, 0x04}))
	require.Len(t, b.requests, 2)
	require.NotEqual(t, b.requests[0].ID, b.requests[1].ID)

	b.peer.DeliverResponse(b.requests[0].ID, []byte{0x1c, 0x01, 0x00, 0x20})
	rsp, err := d.ReadBlock(ssif.CmdResponse)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00}, rsp, "answer to the replaced request")

	b.peer.DeliverResponse(b.requests[1].ID, []byte{0x1c, 0x04, 0x00, 0x55, 0x00})
	rsp, err = d.ReadBlock(ssif.CmdResponse)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x05, 0x1c, 0x04, 0x00, 0x55, 0x00}, rsp)
}

func TestOversizedResponse(t *testing.T) {
	tests := []struct {
		name string
		len  int
		want []byte
	}{
		{"largest block", ssif.MaxResponseLen, nil},
		{"one byte too long", ssif.MaxResponseLen + 1, []byte{0x03, 0x1c, 0x01, byte(ipmi.CCCannotReturnReqNumBytes)}},
		{"full buffer", ipmi.MaxMsgSize, []byte{0x03, 0x1c, 0x01, byte(ipmi.CCCannotReturnReqNumBytes)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &backend{}
			d := newSSIF(t, b)
			require.NoError(t, d.WriteBlock(ssif.CmdRequest, []byte{0x02, 0x18, 0x01}))

			big := make([]byte, tt.len)
			big[0], big[1] = 0x1c, 0x01
			b.peer.DeliverResponse(b.requests[0].ID, big)

			rsp, err := d.ReadBlock(ssif.CmdResponse)
			require.NoError(t, err)
			if tt.want == nil {
				require.Len(t, rsp, tt.len+1)
				assert.Equal(t, byte(tt.len), rsp[0])
				return
			}
			assert.Equal(t, tt.want, rsp)
		})
	}
}

func TestNoBackend(t *testing.T) {
	d := newSSIF(t, nil)
	require.NoError(t, d.WriteBlock(ssif.CmdRequest, []byte{0x02, 0x18, 0x01}))
	rsp, err := d.ReadBlock(ssif.CmdResponse)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03, 0x1c, 0x01, byte(ipmi.CCBMCInitInProgress)}, rsp)
}

func TestDescriptor(t *testing.T) {
	addr := uint8(0x24)
	d := ssif.New(&device.CreateOptions{SlaveAddr: &addr}, ipmi.Config{})
	defer d.Interface().Close()

	desc := d.Descriptor()
	assert.Equal(t, ipmi.TypeSSIF, desc.SMBIOSType)
	assert.Equal(t, uint8(0x24), desc.SlaveAddr)
	assert.Zero(t, desc.IRQ)

	var _ device.BlockDevice = d
	assert.NotNil(t, device.GetRegistration("ssif"))
}
