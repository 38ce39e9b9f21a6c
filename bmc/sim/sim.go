// Package sim implements a minimal in-process BMC that answers the handful of
// App network function commands a host driver needs to come up.
package sim

import (
	"log/slog"
	"sync"

	"github.com/Alia5/VIIPMI/ipmi"
)

// App network function commands answered by the simulator.
const (
	CmdGetDeviceID          = 0x01
	CmdColdReset            = 0x02
	CmdWarmReset            = 0x03
	CmdGetSelfTestResults   = 0x04
	CmdSetBMCGlobalEnables  = 0x2e
	CmdGetBMCGlobalEnables  = 0x2f
	CmdGetMessageFlags      = 0x31
	selfTestNoError         = 0x55
	globalEnableMsgQueueIRQ = 0x01
)

// DeviceID is returned by Get Device ID.
type DeviceID struct {
	DeviceID       byte
	DeviceRevision byte
	FirmwareMajor  byte
	FirmwareMinor  byte
	Support        byte
	ManufacturerID uint32 // 20 bits
	ProductID      uint16
}

// DefaultDeviceID describes the simulator when no identity is configured.
var DefaultDeviceID = DeviceID{
	DeviceID:       0x20,
	DeviceRevision: 0x01,
	FirmwareMajor:  0x01,
	FirmwareMinor:  0x00,
	Support:        0x07, // sensor, SDR and SEL devices
}

// Simulator implements ipmi.Backend.
type Simulator struct {
	id     DeviceID
	logger *slog.Logger

	mu            sync.Mutex
	peer          ipmi.Peer
	globalEnables byte
	resets        int
}

// New returns a simulator answering with identity id.
func New(id DeviceID, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{id: id, logger: logger}
}

// Attach implements ipmi.Backend.
func (b *Simulator) Attach(p ipmi.Peer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.peer = p
}

// HandleReset implements ipmi.Backend.
func (b *Simulator) HandleReset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.globalEnables = 0
	b.resets++
}

// Resets returns how many system resets the simulator has seen.
func (b *Simulator) Resets() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resets
}

// HandleCommand implements ipmi.Backend. Every request is answered before it
// returns.
func (b *Simulator) HandleCommand(l ipmi.Locked, req ipmi.Request) {
	netfn, cmd := req.NetFn(), req.Cmd()
	rsp := []byte{netfn | 0x04, cmd, byte(ipmi.CCSuccess)}
	data := req.Data[2:]

	if netfn>>2 != ipmi.NetFnApp {
		l.Respond(req.ID, ipmi.ErrorResponse(req.Data, ipmi.CCInvalidCmd))
		return
	}

	b.mu.Lock()
	switch cmd {
	case CmdGetDeviceID:
		rsp = append(rsp,
			b.id.DeviceID,
			b.id.DeviceRevision&0x0f,
			b.id.FirmwareMajor&0x7f,
			b.id.FirmwareMinor,
			ipmi.SpecVersion>>4|ipmi.SpecVersion<<4&0xf0,
			b.id.Support,
			byte(b.id.ManufacturerID),
			byte(b.id.ManufacturerID>>8),
			byte(b.id.ManufacturerID>>16)&0x0f,
			byte(b.id.ProductID),
			byte(b.id.ProductID>>8),
		)

	case CmdColdReset, CmdWarmReset:
		b.globalEnables = 0
		b.mu.Unlock()
		l.SetIRQEnable(false)
		l.ResetHandler(cmd == CmdColdReset)
		l.Respond(req.ID, rsp)
		return

	case CmdGetSelfTestResults:
		rsp = append(rsp, selfTestNoError, 0x00)

	case CmdSetBMCGlobalEnables:
		if len(data) < 1 {
			rsp[2] = byte(ipmi.CCRequestDataLengthInvalid)
			break
		}
		b.globalEnables = data[0]
		b.mu.Unlock()
		l.SetIRQEnable(data[0]&globalEnableMsgQueueIRQ != 0)
		l.Respond(req.ID, rsp)
		return

	case CmdGetBMCGlobalEnables:
		rsp = append(rsp, b.globalEnables)

	case CmdGetMessageFlags:
		rsp = append(rsp, 0x00) // nothing queued

	default:
		rsp[2] = byte(ipmi.CCInvalidCmd)
	}
	b.mu.Unlock()

	b.logger.Debug("simulated bmc response", "netfn", netfn>>2, "cmd", cmd, "cc", ipmi.CompletionCode(rsp[2]))
	l.Respond(req.ID, rsp)
}
