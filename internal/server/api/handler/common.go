// Package handler implements the API routes on top of the interface registry.
package handler

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Alia5/VIIPMI/apitypes"
	"github.com/Alia5/VIIPMI/internal/server/api"
	"github.com/Alia5/VIIPMI/internal/server/host"
)

func lookup(h *host.Server, req *api.Request) (*host.Attached, error) {
	idStr, ok := req.Params["id"]
	if !ok {
		return nil, api.ErrBadRequest("missing id parameter")
	}
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return nil, api.ErrBadRequest(fmt.Sprintf("invalid id: %v", err))
	}
	a, err := h.Get(id)
	if err != nil {
		return nil, api.ErrNotFound(err.Error())
	}
	return a, nil
}

func decode(req *api.Request, v any) error {
	if req.Payload == "" {
		return api.ErrBadRequest("missing payload")
	}
	if err := json.Unmarshal([]byte(req.Payload), v); err != nil {
		return api.ErrBadRequest(fmt.Sprintf("invalid JSON payload: %v", err))
	}
	return nil
}

func respond(res *api.Response, v any) error {
	out, err := json.Marshal(v)
	if err != nil {
		return api.ErrInternal(fmt.Sprintf("failed to marshal response: %v", err))
	}
	res.JSON = string(out)
	return nil
}

func describe(a *host.Attached) apitypes.Device {
	d := a.Device.Descriptor()
	out := apitypes.Device{
		ID:         a.ID,
		Type:       d.Type,
		SMBIOSType: int(d.SMBIOSType),
		IOLength:   d.IOLength,
		IRQ:        d.IRQ,
		Backend:    a.BackendName(),
	}
	if d.IOBase != 0 {
		out.IOBase = fmt.Sprintf("0x%x", d.IOBase)
	}
	if d.SlaveAddr != 0 {
		out.SlaveAddr = fmt.Sprintf("0x%02x", d.SlaveAddr)
	}
	return out
}
