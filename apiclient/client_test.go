package apiclient_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alia5/VIIPMI/apiclient"
	"github.com/Alia5/VIIPMI/apitypes"
)

// testClient constructs a client backed by a simple in-memory responder.
// responses maps route patterns (before path param substitution) to raw JSON.
// If err is non-nil, every request returns that error, simulating dial failures.
func testClient(responses map[string]string, err error) *apiclient.Client {
	return apiclient.WithTransport(apiclient.NewMockTransport(func(path string, _ any, _ map[string]string) (string, error) {
		if err != nil {
			return "", err
		}
		if out, ok := responses[path]; ok {
			return out, nil
		}
		return "", nil
	}))
}

func TestHighLevelClient(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(responses map[string]string) (err error)
		call       func(c *apiclient.Client) (any, error)
		wantErr    string
		assertFunc func(t *testing.T, got any)
	}{
		{
			name: "device add success",
			setup: func(responses map[string]string) error {
				responses["device/add"] = `{"id":3,"type":"kcs","smbiosType":1,"ioBase":"0xca2","ioLength":2,"irq":5,"backend":"sim"}`
				return nil
			},
			call: func(c *apiclient.Client) (any, error) {
				typ := "kcs"
				return c.DeviceAdd(apitypes.DeviceCreateRequest{Type: &typ})
			},
			assertFunc: func(t *testing.T, got any) {
				dev, ok := got.(*apitypes.Device)
				require.True(t, ok, "expected *apitypes.Device type")
				assert.Equal(t, 3, dev.ID)
				assert.Equal(t, "0xca2", dev.IOBase)
			},
		},
		{
			name:    "device add without type",
			call:    func(c *apiclient.Client) (any, error) { return c.DeviceAdd(apitypes.DeviceCreateRequest{}) },
			wantErr: "device type is required",
		},
		{
			name: "device remove error structured",
			setup: func(responses map[string]string) error {
				responses["device/{id}/remove"] = `{"status":404,"title":"Not Found","detail":"interface not found: 9"}`
				return nil
			},
			call:    func(c *apiclient.Client) (any, error) { return c.DeviceRemove(9) },
			wantErr: "404 Not Found: interface not found: 9",
		},
		{
			name: "devices list",
			setup: func(responses map[string]string) error {
				responses["device/list"] = `{"devices":[{"id":0,"type":"ssif","smbiosType":4,"slaveAddr":"0x20","backend":"sim"}]}`
				return nil
			},
			call: func(c *apiclient.Client) (any, error) { return c.DevicesList() },
			assertFunc: func(t *testing.T, got any) {
				resp := got.(*apitypes.DevicesListResponse)
				require.Len(t, resp.Devices, 1)
				assert.Equal(t, "0x20", resp.Devices[0].SlaveAddr)
			},
		},
		{
			name: "register read",
			setup: func(responses map[string]string) error {
				responses["device/{id}/read"] = `{"offset":1,"value":66}`
				return nil
			},
			call: func(c *apiclient.Client) (any, error) { return c.RegisterRead(0, 1) },
			assertFunc: func(t *testing.T, got any) {
				assert.Equal(t, byte(0x42), got)
			},
		},
		{
			name: "smbus read hex data",
			setup: func(responses map[string]string) error {
				responses["device/{id}/smbus/read"] = `{"cmd":3,"data":"041c0100"}`
				return nil
			},
			call: func(c *apiclient.Client) (any, error) { return c.SMBusRead(0, 3) },
			assertFunc: func(t *testing.T, got any) {
				assert.Equal(t, []byte{0x04, 0x1c, 0x01, 0x00}, got)
			},
		},
		{
			name: "snapshot base64 data",
			setup: func(responses map[string]string) error {
				responses["device/{id}/snapshot"] = `{"id":1,"type":"bt","data":"AQID"}`
				return nil
			},
			call: func(c *apiclient.Client) (any, error) { return c.DeviceSnapshot(1) },
			assertFunc: func(t *testing.T, got any) {
				assert.Equal(t, []byte{1, 2, 3}, got.(*apitypes.SnapshotResponse).Data)
			},
		},
		{
			name:    "transport failure",
			setup:   func(responses map[string]string) error { return errors.New("dial fail") },
			call:    func(c *apiclient.Client) (any, error) { return c.Ping() },
			wantErr: "dial fail",
		},
		{
			name:    "blank response error",
			call:    func(c *apiclient.Client) (any, error) { return c.DevicesList() },
			wantErr: "empty response",
		},
		{
			name:  "devices list empty",
			setup: func(responses map[string]string) error { responses["device/list"] = `{"devices":[]}`; return nil },
			call:  func(c *apiclient.Client) (any, error) { return c.DevicesList() },
			assertFunc: func(t *testing.T, got any) {
				resp := got.(*apitypes.DevicesListResponse)
				assert.Len(t, resp.Devices, 0)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			responses := map[string]string{}
			errInject := error(nil)
			if tt.setup != nil {
				if e := tt.setup(responses); e != nil {
					errInject = e
				}
			}
			c := testClient(responses, errInject)
			got, err := tt.call(c)
			if tt.wantErr != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			assert.NoError(t, err)
			if tt.assertFunc != nil {
				tt.assertFunc(t, got)
			}
		})
	}
}

func TestRequestsCarryParamsAndPayload(t *testing.T) {
	var gotPath string
	var gotPayload any
	var gotParams map[string]string
	c := apiclient.WithTransport(apiclient.NewMockTransport(func(path string, payload any, params map[string]string) (string, error) {
		gotPath, gotPayload, gotParams = path, payload, params
		return `{"offset":1,"value":98}`, nil
	}))

	require.NoError(t, c.RegisterWrite(7, 1, 0x62))
	assert.Equal(t, "device/{id}/write", gotPath)
	assert.Equal(t, map[string]string{"id": "7"}, gotParams)
	assert.Equal(t, apitypes.RegisterWriteRequest{Offset: 1, Value: 0x62}, gotPayload)
}

func TestContextCancellation(t *testing.T) {
	c := apiclient.WithTransport(apiclient.NewTransport("127.0.0.1:9")) // address irrelevant due to early cancel
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.DevicesListCtx(ctx)
	assert.Error(t, err)
}

func TestStrictJSONDecode(t *testing.T) {
	responses := map[string]string{}
	responses["device/list"] = `{"devices":[],"extra":true}` // extra field should cause decode error
	c := testClient(responses, nil)
	_, err := c.DevicesList()
	assert.Error(t, err)
}

func TestOpenStream_NotSupportedWithMockTransport(t *testing.T) {
	c := testClient(map[string]string{}, nil)
	_, err := c.OpenIO(context.Background(), 1)
	assert.ErrorIs(t, err, apiclient.ErrMockStream)
	_, err = c.OpenIRQ(context.Background(), 1)
	assert.ErrorIs(t, err, apiclient.ErrMockStream)
}
