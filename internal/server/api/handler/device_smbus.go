package handler

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/Alia5/VIIPMI/apitypes"
	"github.com/Alia5/VIIPMI/device"
	"github.com/Alia5/VIIPMI/internal/server/api"
	"github.com/Alia5/VIIPMI/internal/server/host"
)

func blockDevice(a *host.Attached) (device.BlockDevice, error) {
	bd, ok := a.Device.(device.BlockDevice)
	if !ok {
		return nil, api.ErrBadRequest(fmt.Sprintf("%s interface is not on smbus", a.Device.Descriptor().Type))
	}
	return bd, nil
}

func smbusError(err error) error {
	if errors.Is(err, device.ErrBadCommand) {
		return api.ErrBadRequest(err.Error())
	}
	return api.ErrBadRequest(fmt.Sprintf("block transfer rejected: %v", err))
}

// SMBusWrite returns a handler performing an SMBus block write.
func SMBusWrite(h *host.Server) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		a, err := lookup(h, req)
		if err != nil {
			return err
		}
		bd, err := blockDevice(a)
		if err != nil {
			return err
		}
		var wr apitypes.SMBusWriteRequest
		if err := decode(req, &wr); err != nil {
			return err
		}
		if err := bd.WriteBlock(wr.Cmd, wr.Data); err != nil {
			return smbusError(err)
		}
		return respond(res, apitypes.SMBusResponse{Cmd: wr.Cmd, Data: wr.Data})
	}
}

// SMBusRead returns a handler performing an SMBus block read.
func SMBusRead(h *host.Server) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		a, err := lookup(h, req)
		if err != nil {
			return err
		}
		bd, err := blockDevice(a)
		if err != nil {
			return err
		}
		var rr apitypes.SMBusReadRequest
		if err := decode(req, &rr); err != nil {
			return err
		}
		data, err := bd.ReadBlock(rr.Cmd)
		if err != nil {
			return smbusError(err)
		}
		return respond(res, apitypes.SMBusResponse{Cmd: rr.Cmd, Data: data})
	}
}

// SMBusReceive returns a handler performing an SMBus receive byte.
func SMBusReceive(h *host.Server) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		a, err := lookup(h, req)
		if err != nil {
			return err
		}
		bd, err := blockDevice(a)
		if err != nil {
			return err
		}
		return respond(res, apitypes.SMBusResponse{Data: []byte{bd.ReceiveByte()}})
	}
}
