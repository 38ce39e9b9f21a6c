package bt

// Register offsets.
const (
	RegControl = 0
	RegData    = 1
	RegMask    = 2
)

// Control register bits.
const (
	CtrlClrWr  = 0x01
	CtrlClrRd  = 0x02
	CtrlH2BATN = 0x04
	CtrlB2HATN = 0x08
	CtrlSMSATN = 0x10
	CtrlHBusy  = 0x40
	CtrlBBusy  = 0x80
)

// Interrupt mask register bits.
const (
	MaskB2HIRQEn = 0x01
	MaskB2HIRQ   = 0x02
)

// CmdGetBTInterfaceCapabilities is answered by the interface itself.
const CmdGetBTInterfaceCapabilities = 0x36

// Default I/O placement.
const (
	DefaultIOBase = 0xe4
	IOLength      = 3
)
