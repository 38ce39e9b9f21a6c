package handler

import (
	"fmt"
	"log/slog"

	"github.com/Alia5/VIIPMI/apitypes"
	"github.com/Alia5/VIIPMI/device"
	"github.com/Alia5/VIIPMI/internal/server/api"
	"github.com/Alia5/VIIPMI/internal/server/host"
)

func registerDevice(a *host.Attached, offset int) (device.RegisterDevice, error) {
	rd, ok := a.Device.(device.RegisterDevice)
	if !ok {
		return nil, api.ErrBadRequest(fmt.Sprintf("%s interface has no I/O registers", a.Device.Descriptor().Type))
	}
	if n := rd.Descriptor().IOLength; offset < 0 || (n > 0 && offset >= n) {
		return nil, api.ErrBadRequest(fmt.Sprintf("offset %d out of range", offset))
	}
	return rd, nil
}

// DeviceRead returns a handler reading one I/O register.
func DeviceRead(h *host.Server) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		a, err := lookup(h, req)
		if err != nil {
			return err
		}
		var rr apitypes.RegisterReadRequest
		if err := decode(req, &rr); err != nil {
			return err
		}
		rd, err := registerDevice(a, rr.Offset)
		if err != nil {
			return err
		}
		return respond(res, apitypes.RegisterResponse{Offset: rr.Offset, Value: rd.Read(rr.Offset)})
	}
}

// DeviceWrite returns a handler writing one I/O register.
func DeviceWrite(h *host.Server) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		a, err := lookup(h, req)
		if err != nil {
			return err
		}
		var wr apitypes.RegisterWriteRequest
		if err := decode(req, &wr); err != nil {
			return err
		}
		rd, err := registerDevice(a, wr.Offset)
		if err != nil {
			return err
		}
		rd.Write(wr.Offset, wr.Value)
		return respond(res, apitypes.RegisterResponse{Offset: wr.Offset, Value: wr.Value})
	}
}
