// Package apiclient is the Go client of the control API. Every route has a
// plain method and a Ctx variant; interface streams are opened with OpenIO
// and OpenIRQ.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/Alia5/VIIPMI/apitypes"
)

// Client is a high-level API client.
type Client struct {
	transport *Transport
}

// New creates a client for the server at addr.
func New(addr string) *Client { return &Client{transport: NewTransport(addr)} }

// NewWithPassword creates a client that authenticates with password.
func NewWithPassword(addr, password string) *Client {
	return &Client{transport: NewTransportWithPassword(addr, password)}
}

// NewWithConfig creates a client with explicit transport settings.
func NewWithConfig(addr string, cfg *Config) *Client {
	return &Client{transport: NewTransportWithConfig(addr, cfg)}
}

// WithTransport wraps an existing transport, mostly for tests.
func WithTransport(t *Transport) *Client { return &Client{transport: t} }

// Transport returns the underlying transport.
func (c *Client) Transport() *Transport { return c.transport }

func idParams(id int) map[string]string { return map[string]string{"id": strconv.Itoa(id)} }

func call[T any](ctx context.Context, c *Client, path string, payload any, params map[string]string) (*T, error) {
	raw, err := c.transport.DoCtx(ctx, path, payload, params)
	if err != nil {
		return nil, err
	}
	return parse[T](raw)
}

// Ping identifies the server.
func (c *Client) Ping() (*apitypes.PingResponse, error) { return c.PingCtx(context.Background()) }

func (c *Client) PingCtx(ctx context.Context) (*apitypes.PingResponse, error) {
	return call[apitypes.PingResponse](ctx, c, "ping", nil, nil)
}

// DevicesList lists the attached interfaces.
func (c *Client) DevicesList() (*apitypes.DevicesListResponse, error) {
	return c.DevicesListCtx(context.Background())
}

func (c *Client) DevicesListCtx(ctx context.Context) (*apitypes.DevicesListResponse, error) {
	return call[apitypes.DevicesListResponse](ctx, c, "device/list", nil, nil)
}

// DeviceAdd attaches an interface. req.Type is required.
func (c *Client) DeviceAdd(req apitypes.DeviceCreateRequest) (*apitypes.Device, error) {
	return c.DeviceAddCtx(context.Background(), req)
}

func (c *Client) DeviceAddCtx(ctx context.Context, req apitypes.DeviceCreateRequest) (*apitypes.Device, error) {
	if req.Type == nil {
		return nil, errors.New("device type is required")
	}
	return call[apitypes.Device](ctx, c, "device/add", req, nil)
}

// DeviceRemove detaches an interface.
func (c *Client) DeviceRemove(id int) (*apitypes.DeviceRemoveResponse, error) {
	return c.DeviceRemoveCtx(context.Background(), id)
}

func (c *Client) DeviceRemoveCtx(ctx context.Context, id int) (*apitypes.DeviceRemoveResponse, error) {
	return call[apitypes.DeviceRemoveResponse](ctx, c, "device/{id}/remove", nil, idParams(id))
}

// DeviceStatus reports the runtime state of an interface.
func (c *Client) DeviceStatus(id int) (*apitypes.DeviceStatusResponse, error) {
	return c.DeviceStatusCtx(context.Background(), id)
}

func (c *Client) DeviceStatusCtx(ctx context.Context, id int) (*apitypes.DeviceStatusResponse, error) {
	return call[apitypes.DeviceStatusResponse](ctx, c, "device/{id}/status", nil, idParams(id))
}

// RegisterRead reads one I/O register of a KCS or BT interface.
func (c *Client) RegisterRead(id, offset int) (byte, error) {
	return c.RegisterReadCtx(context.Background(), id, offset)
}

func (c *Client) RegisterReadCtx(ctx context.Context, id, offset int) (byte, error) {
	out, err := call[apitypes.RegisterResponse](ctx, c, "device/{id}/read",
		apitypes.RegisterReadRequest{Offset: offset}, idParams(id))
	if err != nil {
		return 0, err
	}
	return out.Value, nil
}

// RegisterWrite writes one I/O register of a KCS or BT interface.
func (c *Client) RegisterWrite(id, offset int, val byte) error {
	return c.RegisterWriteCtx(context.Background(), id, offset, val)
}

func (c *Client) RegisterWriteCtx(ctx context.Context, id, offset int, val byte) error {
	_, err := call[apitypes.RegisterResponse](ctx, c, "device/{id}/write",
		apitypes.RegisterWriteRequest{Offset: offset, Value: val}, idParams(id))
	return err
}

// SMBusWrite performs a block write on an SSIF interface.
func (c *Client) SMBusWrite(id int, cmd byte, data []byte) error {
	return c.SMBusWriteCtx(context.Background(), id, cmd, data)
}

func (c *Client) SMBusWriteCtx(ctx context.Context, id int, cmd byte, data []byte) error {
	_, err := call[apitypes.SMBusResponse](ctx, c, "device/{id}/smbus/write",
		apitypes.SMBusWriteRequest{Cmd: cmd, Data: data}, idParams(id))
	return err
}

// SMBusRead performs a block read on an SSIF interface.
func (c *Client) SMBusRead(id int, cmd byte) ([]byte, error) {
	return c.SMBusReadCtx(context.Background(), id, cmd)
}

func (c *Client) SMBusReadCtx(ctx context.Context, id int, cmd byte) ([]byte, error) {
	out, err := call[apitypes.SMBusResponse](ctx, c, "device/{id}/smbus/read",
		apitypes.SMBusReadRequest{Cmd: cmd}, idParams(id))
	if err != nil {
		return nil, err
	}
	return out.Data, nil
}

// SMBusReceiveByte performs an SMBus receive byte on an SSIF interface.
func (c *Client) SMBusReceiveByte(id int) (byte, error) {
	return c.SMBusReceiveByteCtx(context.Background(), id)
}

func (c *Client) SMBusReceiveByteCtx(ctx context.Context, id int) (byte, error) {
	out, err := call[apitypes.SMBusResponse](ctx, c, "device/{id}/smbus/recv", nil, idParams(id))
	if err != nil {
		return 0, err
	}
	if len(out.Data) != 1 {
		return 0, fmt.Errorf("receive byte: got %d bytes", len(out.Data))
	}
	return out.Data[0], nil
}

// DeviceReset performs a warm or cold system reset of an interface.
func (c *Client) DeviceReset(id int, cold bool) (*apitypes.ResetResponse, error) {
	return c.DeviceResetCtx(context.Background(), id, cold)
}

func (c *Client) DeviceResetCtx(ctx context.Context, id int, cold bool) (*apitypes.ResetResponse, error) {
	return call[apitypes.ResetResponse](ctx, c, "device/{id}/reset", apitypes.ResetRequest{Cold: cold}, idParams(id))
}

// DeviceSnapshot fetches the encoded state of an interface.
func (c *Client) DeviceSnapshot(id int) (*apitypes.SnapshotResponse, error) {
	return c.DeviceSnapshotCtx(context.Background(), id)
}

func (c *Client) DeviceSnapshotCtx(ctx context.Context, id int) (*apitypes.SnapshotResponse, error) {
	return call[apitypes.SnapshotResponse](ctx, c, "device/{id}/snapshot", nil, idParams(id))
}

// DeviceRestore loads a snapshot into an interface of the same type.
func (c *Client) DeviceRestore(id int, data []byte) (*apitypes.RestoreResponse, error) {
	return c.DeviceRestoreCtx(context.Background(), id, data)
}

func (c *Client) DeviceRestoreCtx(ctx context.Context, id int, data []byte) (*apitypes.RestoreResponse, error) {
	return call[apitypes.RestoreResponse](ctx, c, "device/{id}/restore", apitypes.RestoreRequest{Data: data}, idParams(id))
}

func parse[T any](data string) (*T, error) {
	if data == "" {
		return nil, errors.New("empty response")
	}
	var problem apitypes.ApiError
	if err := json.Unmarshal([]byte(data), &problem); err == nil && (problem.Status != 0 || problem.Title != "") {
		return nil, &problem
	}
	var out T
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &out, nil
}
