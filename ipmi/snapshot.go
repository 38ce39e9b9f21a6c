package ipmi

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Stateful is implemented by handlers whose registers belong in a snapshot.
type Stateful interface {
	SaveState() map[string]int
	LoadState(regs map[string]int) error
}

// ErrSnapshotMismatch is returned when a snapshot was taken from a different
// kind of interface or with an unsupported layout.
var ErrSnapshotMismatch = errors.New("ipmi: snapshot does not match interface")

const snapshotVersion = 1

type snapshot struct {
	Version     int            `cbor:"1,keyasint"`
	Type        Type           `cbor:"2,keyasint"`
	In          []byte         `cbor:"3,keyasint"`
	InLen       int            `cbor:"4,keyasint"`
	Out         []byte         `cbor:"5,keyasint"`
	OutPos      int            `cbor:"6,keyasint"`
	WriteEnd    bool           `cbor:"7,keyasint"`
	OBFIRQSet   bool           `cbor:"8,keyasint"`
	ATNIRQSet   bool           `cbor:"9,keyasint"`
	IRQsEnabled bool           `cbor:"10,keyasint"`
	MsgID       byte           `cbor:"11,keyasint"`
	Regs        map[string]int `cbor:"12,keyasint,omitempty"`
	Stats       Stats          `cbor:"13,keyasint"`
	Outstanding bool           `cbor:"14,keyasint"`
}

// Snapshot encodes the interface state, including variant registers, as CBOR.
func (s *Interface) Snapshot() ([]byte, error) {
	s.mu.Lock()
	snap := snapshot{
		Version:     snapshotVersion,
		Type:        s.handler.Type(),
		In:          append([]byte(nil), s.InMsg[:min(s.InLen, MaxMsgSize)]...),
		InLen:       s.InLen,
		Out:         append([]byte(nil), s.OutMsg[:s.OutLen]...),
		OutPos:      s.OutPos,
		WriteEnd:    s.WriteEnd,
		OBFIRQSet:   s.OBFIRQSet,
		ATNIRQSet:   s.ATNIRQSet,
		IRQsEnabled: s.IRQsEnabled,
		MsgID:       s.msgID,
		Outstanding: s.outstanding,
		Stats:       s.stats,
	}
	if st, ok := s.handler.(Stateful); ok {
		snap.Regs = st.SaveState()
	}
	s.mu.Unlock()

	data, err := cbor.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// Restore loads state produced by Snapshot. The interrupt line is not driven;
// its level is owned by whoever restores the line itself.
func (s *Interface) Restore(data []byte) error {
	var snap snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion || snap.Type != s.handler.Type() {
		return ErrSnapshotMismatch
	}
	if len(snap.In) > MaxMsgSize || len(snap.Out) > MaxMsgSize ||
		snap.InLen < len(snap.In) || snap.OutPos < 0 || snap.OutPos > len(snap.Out) {
		return fmt.Errorf("%w: buffer bounds", ErrSnapshotMismatch)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.handler.(Stateful); ok {
		if err := st.LoadState(snap.Regs); err != nil {
			return err
		}
	}
	copy(s.InMsg[:], snap.In)
	s.InLen = snap.InLen
	copy(s.OutMsg[:], snap.Out)
	s.OutLen = len(snap.Out)
	s.OutPos = snap.OutPos
	s.WriteEnd = snap.WriteEnd
	s.OBFIRQSet = snap.OBFIRQSet
	s.ATNIRQSet = snap.ATNIRQSet
	s.IRQsEnabled = snap.IRQsEnabled
	s.msgID = snap.MsgID
	s.outstanding = snap.Outstanding
	s.stats = snap.Stats
	return nil
}
