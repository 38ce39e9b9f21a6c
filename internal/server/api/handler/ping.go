package handler

import (
	"log/slog"

	"github.com/Alia5/VIIPMI/apitypes"
	"github.com/Alia5/VIIPMI/internal/server/api"
)

// ServerName is reported by ping.
const ServerName = "viipmi"

// Ping returns a handler identifying the server.
func Ping(version string) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		return respond(res, apitypes.PingResponse{Server: ServerName, Version: version})
	}
}
