package handler

import (
	"log/slog"

	"github.com/Alia5/VIIPMI/apitypes"
	"github.com/Alia5/VIIPMI/internal/server/api"
	"github.com/Alia5/VIIPMI/internal/server/host"
)

// DeviceRemove returns a handler detaching an interface.
func DeviceRemove(h *host.Server) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		a, err := lookup(h, req)
		if err != nil {
			return err
		}
		if err := h.Detach(a.ID); err != nil {
			return api.WrapError(err)
		}
		return respond(res, apitypes.DeviceRemoveResponse{ID: a.ID})
	}
}
