package handler

import (
	"log/slog"

	"github.com/Alia5/VIIPMI/apitypes"
	"github.com/Alia5/VIIPMI/internal/server/api"
	"github.com/Alia5/VIIPMI/internal/server/host"
)

// DeviceList returns a handler that lists attached interfaces.
func DeviceList(h *host.Server) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		list := h.List()
		out := make([]apitypes.Device, 0, len(list))
		for _, a := range list {
			out = append(out, describe(a))
		}
		return respond(res, apitypes.DevicesListResponse{Devices: out})
	}
}
