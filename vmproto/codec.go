package vmproto

// Checksum returns start plus the mod-256 sum of data.
func Checksum(data []byte, start byte) byte {
	csum := start
	for _, b := range data {
		csum += b
	}
	return csum
}

// AppendEscaped appends b to dst, escaping it if it is a framing character.
func AppendEscaped(dst []byte, b byte) []byte {
	switch b {
	case MsgChar, CmdChar, EscapeChar:
		return append(dst, EscapeChar, b|EscapeBit)
	default:
		return append(dst, b)
	}
}

// EncodeMessage frames a request or response. The trailing checksum makes the
// sum of id, payload and checksum zero.
func EncodeMessage(id byte, payload []byte) []byte {
	out := make([]byte, 0, (len(payload)+2)*2+1)
	out = AppendEscaped(out, id)
	for _, b := range payload {
		out = AppendEscaped(out, b)
	}
	csum := Checksum([]byte{id}, 0)
	out = AppendEscaped(out, -Checksum(payload, csum))
	return append(out, MsgChar)
}

// EncodeCommand frames a command opcode with optional arguments.
func EncodeCommand(op byte, args ...byte) []byte {
	out := make([]byte, 0, (len(args)+1)*2+1)
	out = AppendEscaped(out, op)
	for _, b := range args {
		out = AppendEscaped(out, b)
	}
	return append(out, CmdChar)
}
