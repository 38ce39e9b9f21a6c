package vmproto

import (
	"errors"
	"fmt"

	"github.com/Alia5/VIIPMI/ipmi"
)

// Framing errors reported by the decoder. The offending frame is discarded.
var (
	ErrChecksum     = errors.New("vmproto: message checksum failure")
	ErrShortMessage = errors.New("vmproto: message too short")
	ErrEscape       = errors.New("vmproto: frame ended inside escape")
	ErrOverflow     = errors.New("vmproto: command frame overflow")
)

// Message is a decoded message frame. Data holds netfn/LUN, cmd, completion
// code and response data with the checksum removed.
type Message struct {
	ID   byte
	Data []byte
	// Truncated is set when the frame overflowed; Data then only carries the
	// header and a request-data-truncated completion code.
	Truncated bool
}

// Command is a decoded command frame.
type Command struct {
	Op   byte
	Args []byte
}

// Frame is either a Message or a Command.
type Frame interface {
	isFrame()
}

func (Message) isFrame() {}
func (Command) isFrame() {}

// Decoder reassembles frames from a byte stream one byte at a time.
type Decoder struct {
	buf      [MaxFrameData]byte
	pos      int
	escape   bool
	overflow bool
	minLen   int
}

// NewDecoder returns an idle decoder for the response direction.
func NewDecoder() *Decoder { return &Decoder{minLen: MinMessageLen} }

// NewRequestDecoder returns an idle decoder for the request direction, where
// frames carry no completion code.
func NewRequestDecoder() *Decoder { return &Decoder{minLen: MinRequestLen} }

// Reset discards any partial frame.
func (d *Decoder) Reset() {
	d.pos = 0
	d.escape = false
	d.overflow = false
}

// DecodeByte feeds one byte. It returns a completed frame, nil while a frame
// is still incomplete, or an error when a frame had to be dropped.
func (d *Decoder) DecodeByte(b byte) (Frame, error) {
	switch b {
	case MsgChar:
		defer d.Reset()
		return d.message()

	case CmdChar:
		defer d.Reset()
		if d.overflow {
			return nil, ErrOverflow
		}
		if d.escape {
			return nil, ErrEscape
		}
		if d.pos < 1 {
			return nil, nil
		}
		return Command{Op: d.buf[0], Args: append([]byte(nil), d.buf[1:d.pos]...)}, nil

	case EscapeChar:
		d.escape = true
		return nil, nil
	}

	if d.escape {
		b &^= EscapeBit
		d.escape = false
	}
	if d.overflow {
		return nil, nil
	}
	if d.pos >= len(d.buf) {
		d.overflow = true
		return nil, nil
	}
	d.buf[d.pos] = b
	d.pos++
	return nil, nil
}

// Decode feeds a chunk and returns every completed frame. Framing errors are
// collected with errors.Join; decoding continues past them.
func (d *Decoder) Decode(p []byte) ([]Frame, error) {
	var frames []Frame
	var errs []error
	for _, b := range p {
		f, err := d.DecodeByte(b)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if f != nil {
			frames = append(frames, f)
		}
	}
	return frames, errors.Join(errs...)
}

func (d *Decoder) message() (Frame, error) {
	if d.escape {
		return nil, ErrEscape
	}
	if d.pos < d.minLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortMessage, d.pos)
	}
	if d.overflow {
		return Message{
			ID:        d.buf[0],
			Data:      []byte{d.buf[1], d.buf[2], byte(ipmi.CCRequestDataTruncated)},
			Truncated: true,
		}, nil
	}
	if sum := Checksum(d.buf[:d.pos], 0); sum != 0 {
		return nil, fmt.Errorf("%w: residue 0x%02x", ErrChecksum, sum)
	}
	return Message{ID: d.buf[0], Data: append([]byte(nil), d.buf[1:d.pos-1]...)}, nil
}
