package kcs

// Register offsets.
const (
	RegData    = 0
	RegCommand = 1 // status on read
)

// Status register bits. The interface state lives in bits 7:6.
const (
	StatusOBF    = 0x01
	StatusIBF    = 0x02
	StatusSMSATN = 0x04
	StatusCD     = 0x08

	stateMask  = 0xc0
	stateShift = 6
)

// Interface states as reported in the status register.
const (
	StateIdle  = 0
	StateRead  = 1
	StateWrite = 2
	StateError = 3
)

// Control codes written to the command register, and READ written to data.
const (
	CmdAbortStatus = 0x60
	CmdWriteStart  = 0x61
	CmdWriteEnd    = 0x62
	CmdRead        = 0x68
)

// Status codes returned in place of a response after an error.
const (
	StatusNoErr      = 0x00
	StatusAbortedErr = 0x01
	StatusBadCCErr   = 0x02
	StatusLengthErr  = 0x06
)

// Default I/O placement.
const (
	DefaultIOBase = 0xca2
	IOLength      = 2
)

// State extracts the interface state from a status register value.
func State(status byte) int { return int(status&stateMask) >> stateShift }
