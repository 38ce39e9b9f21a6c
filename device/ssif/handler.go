package ssif

import (
	"github.com/Alia5/VIIPMI/device"
	"github.com/Alia5/VIIPMI/ipmi"
)

func init() {
	device.Register("ssif", &handler{})
}

type handler struct{}

func (h *handler) CreateDevice(o *device.CreateOptions, cfg ipmi.Config) (device.Device, error) {
	return New(o, cfg), nil
}
