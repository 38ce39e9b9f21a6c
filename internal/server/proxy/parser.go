package proxy

import (
	"fmt"
	"log/slog"

	"github.com/Alia5/VIIPMI/ipmi"
	"github.com/Alia5/VIIPMI/vmproto"
)

// Parser decodes VM protocol frames from one direction of a link for
// structured logging.
type Parser struct {
	logger *slog.Logger
	dec    *vmproto.Decoder
}

// NewParser returns a parser for frames flowing to the BMC (requests) or
// back to the emulator (responses).
func NewParser(logger *slog.Logger, toBMC bool) *Parser {
	dec := vmproto.NewDecoder()
	if toBMC {
		dec = vmproto.NewRequestDecoder()
	}
	return &Parser{logger: logger, dec: dec}
}

// Parse feeds data and logs every completed frame. The frames are returned
// for callers that want more than the log line.
func (p *Parser) Parse(data []byte, toBMC bool) []vmproto.Frame {
	frames, err := p.dec.Decode(data)
	if err != nil {
		p.logger.Warn("VM framing error", "dir", dirString(toBMC), "error", err)
	}
	for _, f := range frames {
		switch f := f.(type) {
		case vmproto.Message:
			p.logMessage(f, toBMC)
		case vmproto.Command:
			p.logger.Info("VM command",
				"dir", dirString(toBMC),
				"op", vmproto.CommandName(f.Op),
				"args", fmt.Sprintf("% x", f.Args))
		}
	}
	return frames
}

func (p *Parser) logMessage(m vmproto.Message, toBMC bool) {
	args := []any{
		"dir", dirString(toBMC),
		"seq", m.ID,
	}
	if len(m.Data) >= 2 {
		args = append(args,
			"netfn", fmt.Sprintf("0x%02x", m.Data[0]>>2),
			"lun", m.Data[0]&0x03,
			"cmd", fmt.Sprintf("0x%02x", m.Data[1]))
	}
	if toBMC {
		args = append(args, "len", len(m.Data))
	} else if len(m.Data) >= 3 {
		args = append(args, "cc", ipmi.CompletionCode(m.Data[2]).String(), "len", len(m.Data)-3)
	}
	if m.Truncated {
		args = append(args, "truncated", true)
	}
	p.logger.Info("VM message", args...)
}

func dirString(toBMC bool) string {
	if toBMC {
		return "emu->bmc"
	}
	return "bmc->emu"
}
