package handler

import (
	"log/slog"

	"github.com/Alia5/VIIPMI/apitypes"
	"github.com/Alia5/VIIPMI/internal/server/api"
	"github.com/Alia5/VIIPMI/internal/server/host"
)

// DeviceReset returns a handler performing a system reset of an interface.
// The payload is optional; without it the reset is warm.
func DeviceReset(h *host.Server) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		a, err := lookup(h, req)
		if err != nil {
			return err
		}
		var rr apitypes.ResetRequest
		if req.Payload != "" {
			if err := decode(req, &rr); err != nil {
				return err
			}
		}
		a.Device.Interface().Reset(rr.Cold)
		logger.Info("interface reset", "id", a.ID, "cold", rr.Cold)
		return respond(res, apitypes.ResetResponse{ID: a.ID, Cold: rr.Cold})
	}
}
