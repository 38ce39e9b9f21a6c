package handler

import (
	"log/slog"

	"github.com/Alia5/VIIPMI/apitypes"
	"github.com/Alia5/VIIPMI/device"
	"github.com/Alia5/VIIPMI/internal/server/api"
	"github.com/Alia5/VIIPMI/internal/server/host"
)

// DeviceAdd returns a handler attaching a new interface.
func DeviceAdd(h *host.Server) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		var createReq apitypes.DeviceCreateRequest
		if err := decode(req, &createReq); err != nil {
			return err
		}
		if createReq.Type == nil || *createReq.Type == "" {
			return api.ErrBadRequest("missing device type")
		}

		a, err := h.Attach(host.AttachOptions{
			Type: *createReq.Type,
			ID:   createReq.ID,
			Device: device.CreateOptions{
				IOBase:    createReq.IOBase,
				IRQ:       createReq.IRQ,
				SlaveAddr: createReq.SlaveAddr,
			},
			Backend: createReq.Backend,
		})
		if err != nil {
			return api.WrapError(err)
		}
		logger.Info("device added", "id", a.ID, "type", a.Device.Descriptor().Type)
		return respond(res, describe(a))
	}
}
