package handler

import (
	"github.com/Alia5/VIIPMI/internal/server/api"
	"github.com/Alia5/VIIPMI/internal/server/host"
)

// RegisterAll registers every route and stream of the control API.
func RegisterAll(r *api.Router, h *host.Server, version string) {
	r.Register("ping", Ping(version))
	r.Register("device/list", DeviceList(h))
	r.Register("device/add", DeviceAdd(h))
	r.Register("device/{id}/remove", DeviceRemove(h))
	r.Register("device/{id}/status", DeviceStatus(h))
	r.Register("device/{id}/read", DeviceRead(h))
	r.Register("device/{id}/write", DeviceWrite(h))
	r.Register("device/{id}/smbus/write", SMBusWrite(h))
	r.Register("device/{id}/smbus/read", SMBusRead(h))
	r.Register("device/{id}/smbus/recv", SMBusReceive(h))
	r.Register("device/{id}/reset", DeviceReset(h))
	r.Register("device/{id}/snapshot", DeviceSnapshot(h))
	r.Register("device/{id}/restore", DeviceRestore(h))
	r.RegisterStream("device/{id}/io", IOStream())
	r.RegisterStream("device/{id}/irq", IRQStream())
}
