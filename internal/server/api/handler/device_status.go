package handler

import (
	"log/slog"

	"github.com/Alia5/VIIPMI/apitypes"
	"github.com/Alia5/VIIPMI/internal/server/api"
	"github.com/Alia5/VIIPMI/internal/server/host"
	"github.com/Alia5/VIIPMI/ipmi"
)

func opNames(ops []ipmi.HwOp) []string {
	out := make([]string, 0, len(ops))
	for _, op := range ops {
		out = append(out, op.String())
	}
	return out
}

// DeviceStatus returns a handler reporting the runtime state of an interface.
func DeviceStatus(h *host.Server) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		a, err := lookup(h, req)
		if err != nil {
			return err
		}
		iface := a.Device.Interface()
		st := iface.Stats()
		out := apitypes.DeviceStatusResponse{
			Device:    describe(a),
			Threaded:  iface.Threaded(),
			IRQLevel:  a.IRQ.Level(),
			IRQRaises: a.IRQ.Raises(),
			Powered:   a.Machine.Powered(),
			HwOps:     opNames(a.Machine.History()),
			Supported: opNames(a.Machine.Supported()),
			Stats: apitypes.InterfaceStats{
				Requests:       st.Requests,
				Responses:      st.Responses,
				Dropped:        st.Dropped,
				LocalErrors:    st.LocalErrors,
				DrainOverflows: st.DrainOverflows,
			},
		}
		if link, ok := a.LinkState(); ok {
			out.Link = &apitypes.LinkStatus{
				Address:   a.BackendName(),
				Connected: link.Connected,
				Busy:      link.Busy,
				Waiting:   link.Waiting,
			}
		}
		return respond(res, out)
	}
}
