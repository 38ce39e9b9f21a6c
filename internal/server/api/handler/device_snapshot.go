package handler

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/Alia5/VIIPMI/apitypes"
	"github.com/Alia5/VIIPMI/internal/server/api"
	"github.com/Alia5/VIIPMI/internal/server/host"
	"github.com/Alia5/VIIPMI/ipmi"
)

// DeviceSnapshot returns a handler encoding the interface state.
func DeviceSnapshot(h *host.Server) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		a, err := lookup(h, req)
		if err != nil {
			return err
		}
		data, err := a.Device.Interface().Snapshot()
		if err != nil {
			return api.ErrInternal(err.Error())
		}
		return respond(res, apitypes.SnapshotResponse{ID: a.ID, Type: a.Device.Descriptor().Type, Data: data})
	}
}

// DeviceRestore returns a handler loading a snapshot into an interface.
func DeviceRestore(h *host.Server) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		a, err := lookup(h, req)
		if err != nil {
			return err
		}
		var rr apitypes.RestoreRequest
		if err := decode(req, &rr); err != nil {
			return err
		}
		if len(rr.Data) == 0 {
			return api.ErrBadRequest("missing snapshot data")
		}
		if err := a.Device.Interface().Restore(rr.Data); err != nil {
			if errors.Is(err, ipmi.ErrSnapshotMismatch) {
				return api.ErrConflict(err.Error())
			}
			return api.ErrBadRequest(fmt.Sprintf("invalid snapshot: %v", err))
		}
		logger.Info("interface restored", "id", a.ID)
		return respond(res, apitypes.RestoreResponse{ID: a.ID})
	}
}
