// Package ipmi provides the transport core shared by the emulated IPMI system
// interfaces: message buffers, the event scheduling discipline, the command
// router that ties an interface to its BMC backend, and the wire-level
// constants both sides agree on.
package ipmi

import "fmt"

// MaxMsgSize is the largest request or response an interface buffers.
const MaxMsgSize = 300

// Network functions referenced by the interfaces and the built-in simulator.
const (
	NetFnChassis byte = 0x00
	NetFnApp     byte = 0x06
)

// Type is the SMBIOS type 38 interface type number.
type Type byte

const (
	TypeKCS  Type = 0x01
	TypeSMIC Type = 0x02
	TypeBT   Type = 0x03
	TypeSSIF Type = 0x04
)

func (t Type) String() string {
	switch t {
	case TypeKCS:
		return "kcs"
	case TypeSMIC:
		return "smic"
	case TypeBT:
		return "bt"
	case TypeSSIF:
		return "ssif"
	default:
		return fmt.Sprintf("type(%d)", byte(t))
	}
}

// SpecVersion is the IPMI revision reported in device descriptors (2.0).
const SpecVersion = 0x20

// CompletionCode is the status byte that follows netfn and cmd in a response.
type CompletionCode byte

const (
	CCSuccess                  CompletionCode = 0x00
	CCNodeBusy                 CompletionCode = 0xc0
	CCInvalidCmd               CompletionCode = 0xc1
	CCInvalidCmdForLUN         CompletionCode = 0xc2
	CCTimeout                  CompletionCode = 0xc3
	CCOutOfSpace               CompletionCode = 0xc4
	CCInvalidReservation       CompletionCode = 0xc5
	CCRequestDataTruncated     CompletionCode = 0xc6
	CCRequestDataLengthInvalid CompletionCode = 0xc7
	CCParamOutOfRange          CompletionCode = 0xc9
	CCCannotReturnReqNumBytes  CompletionCode = 0xca
	CCReqEntryNotPresent       CompletionCode = 0xcb
	CCInvalidDataField         CompletionCode = 0xcc
	CCBMCInitInProgress        CompletionCode = 0xd2
	CCCommandNotSupported      CompletionCode = 0xd5
)

var ccText = map[CompletionCode]string{
	CCSuccess:                  "command completed normally",
	CCNodeBusy:                 "node busy",
	CCInvalidCmd:               "invalid command",
	CCInvalidCmdForLUN:         "command invalid for given LUN",
	CCTimeout:                  "timeout while processing command",
	CCOutOfSpace:               "out of space",
	CCInvalidReservation:       "reservation canceled or invalid reservation ID",
	CCRequestDataTruncated:     "request data truncated",
	CCRequestDataLengthInvalid: "request data length invalid",
	CCParamOutOfRange:          "parameter out of range",
	CCCannotReturnReqNumBytes:  "cannot return number of requested data bytes",
	CCReqEntryNotPresent:       "requested sensor, data, or record not present",
	CCInvalidDataField:         "invalid data field in request",
	CCBMCInitInProgress:        "BMC initialization in progress",
	CCCommandNotSupported:      "command not supported in present state",
}

func (c CompletionCode) String() string {
	if s, ok := ccText[c]; ok {
		return s
	}
	return fmt.Sprintf("completion code 0x%02x", byte(c))
}

func (c CompletionCode) Error() string {
	return fmt.Sprintf("ipmi: %s (0x%02x)", c.String(), byte(c))
}

// ErrorResponse builds the three byte response [netfn|0x04, cmd, cc] answering req.
// Missing header bytes are taken as zero.
func ErrorResponse(req []byte, cc CompletionCode) []byte {
	var netfn, cmd byte
	if len(req) > 0 {
		netfn = req[0]
	}
	if len(req) > 1 {
		cmd = req[1]
	}
	return []byte{netfn | 0x04, cmd, byte(cc)}
}

// HwOp is a chassis-level operation the BMC may ask the host to perform.
type HwOp int

const (
	HwOpResetChassis HwOp = iota
	HwOpPowerOffChassis
	HwOpPowerOnChassis
	HwOpPowerCycleChassis
	HwOpPulseDiagIRQ
	HwOpShutdownViaACPIOvertemp
	HwOpSendNMI
)

var hwOpNames = [...]string{
	HwOpResetChassis:            "reset",
	HwOpPowerOffChassis:         "poweroff",
	HwOpPowerOnChassis:          "poweron",
	HwOpPowerCycleChassis:       "powercycle",
	HwOpPulseDiagIRQ:            "pulse-diag-irq",
	HwOpShutdownViaACPIOvertemp: "acpi-overtemp-shutdown",
	HwOpSendNMI:                 "nmi",
}

func (op HwOp) String() string {
	if op >= 0 && int(op) < len(hwOpNames) {
		return hwOpNames[op]
	}
	return fmt.Sprintf("hwop(%d)", int(op))
}

// ParseHwOp maps a name as returned by HwOp.String back to the operation.
func ParseHwOp(s string) (HwOp, error) {
	for i, n := range hwOpNames {
		if n == s {
			return HwOp(i), nil
		}
	}
	return 0, fmt.Errorf("unknown hardware operation %q", s)
}
