// Package vmproto implements the byte-stuffed serial protocol spoken between an
// emulated IPMI interface and an external BMC (the OpenIPMI "VM" protocol).
//
// A message frame is the escaped sequence id, netfn/LUN, cmd, data, checksum
// terminated by MsgChar. A command frame is an escaped opcode plus optional
// arguments terminated by CmdChar. Any of the three control characters inside
// a frame is sent as EscapeChar followed by the byte with EscapeBit set.
package vmproto

import "github.com/Alia5/VIIPMI/ipmi"

// Framing characters.
const (
	MsgChar    byte = 0xa0 // end of message
	CmdChar    byte = 0xa1 // end of command
	EscapeChar byte = 0xaa // next byte has EscapeBit set
	EscapeBit  byte = 0x10
)

// ProtocolVersion is announced in the VERSION command on connect.
const ProtocolVersion byte = 1

// Command opcodes.
const (
	CmdNoAttn       byte = 0x00
	CmdAttn         byte = 0x01
	CmdAttnIRQ      byte = 0x02
	CmdPowerOff     byte = 0x03
	CmdReset        byte = 0x04
	CmdEnableIRQ    byte = 0x05
	CmdDisableIRQ   byte = 0x06
	CmdSendNMI      byte = 0x07
	CmdCapabilities byte = 0x08
	CmdVersion      byte = 0xff
)

// Capability bits carried by CmdCapabilities.
const (
	CapPower byte = 0x01
	CapReset byte = 0x02
	CapIRQ   byte = 0x04
	CapNMI   byte = 0x08
	CapAttn  byte = 0x10
)

// MaxFrameData is the unescaped capacity of a received frame: id, a maximum
// sized message and the checksum.
const MaxFrameData = ipmi.MaxMsgSize + 2

// MinMessageLen is the shortest valid message frame: id, netfn, cmd,
// completion code and checksum.
const MinMessageLen = 5

// MinRequestLen is the shortest valid request frame: id, netfn, cmd and
// checksum.
const MinRequestLen = 4

var cmdNames = map[byte]string{
	CmdNoAttn:       "noattn",
	CmdAttn:         "attn",
	CmdAttnIRQ:      "attn-irq",
	CmdPowerOff:     "poweroff",
	CmdReset:        "reset",
	CmdEnableIRQ:    "enable-irq",
	CmdDisableIRQ:   "disable-irq",
	CmdSendNMI:      "nmi",
	CmdCapabilities: "capabilities",
	CmdVersion:      "version",
}

// CommandName returns a short name for a command opcode.
func CommandName(op byte) string {
	if n, ok := cmdNames[op]; ok {
		return n
	}
	return "unknown"
}
