package ipmi

// Request is a complete request handed to a backend: netfn/LUN, cmd and data,
// tagged with the id the response must carry.
type Request struct {
	Data []byte
	ID   byte
}

// NetFn returns the netfn/LUN byte of the request.
func (r Request) NetFn() byte {
	if len(r.Data) == 0 {
		return 0
	}
	return r.Data[0]
}

// Cmd returns the command byte of the request.
func (r Request) Cmd() byte {
	if len(r.Data) < 2 {
		return 0
	}
	return r.Data[1]
}

// Peer is the interface as seen by a backend outside of HandleCommand.
// Every method acquires the interface lock itself.
type Peer interface {
	DeliverResponse(id byte, rsp []byte)
	SetAttention(val, irq bool)
	SetIRQEnable(on bool)
	DoHwOp(op HwOp, checkOnly bool) error
	HardwareCapable(op HwOp) bool
	Type() Type
}

// Locked is the interface as seen by a backend from inside HandleCommand,
// where the lock is already held.
type Locked interface {
	Respond(id byte, rsp []byte)
	SetIRQEnable(on bool)
	ResetHandler(cold bool)
}

// Backend is the BMC an interface forwards requests to.
type Backend interface {
	// Attach is called once when the backend is connected to an interface.
	Attach(p Peer)
	// HandleCommand accepts a validated request. It must not block; the
	// response is returned later through Peer.DeliverResponse or immediately
	// through l.Respond.
	HandleCommand(l Locked, req Request)
	// HandleReset notifies the BMC of a system reset.
	HandleReset()
}

// BusyReporter is implemented by backends that can refuse a request while a
// previous one is still being handed off.
type BusyReporter interface {
	Busy() bool
}

// Stats counts traffic through an interface.
type Stats struct {
	Requests       uint64 `json:"requests" cbor:"1,keyasint"`
	Responses      uint64 `json:"responses" cbor:"2,keyasint"`
	Dropped        uint64 `json:"dropped" cbor:"3,keyasint"`
	LocalErrors    uint64 `json:"localErrors" cbor:"4,keyasint"`
	DrainOverflows uint64 `json:"drainOverflows" cbor:"5,keyasint"`
}

// SendRequest validates an assembled request and forwards it to the backend
// tagged with a fresh message id, which becomes the only id a response is
// accepted for. length is the number of bytes the host wrote, which may
// exceed len(data) after an overrun. Must be called with the lock held.
//
// Requests that are too short, truncated, or that the backend cannot take
// right now are answered locally with an error completion code through the
// normal response path.
func (s *Interface) SendRequest(data []byte, length int) {
	s.msgID++
	s.outstanding = true
	id := s.msgID
	if length < len(data) {
		data = data[:max(length, 0)]
	}
	if len(data) > MaxMsgSize {
		data = data[:MaxMsgSize]
	}

	var cc CompletionCode
	switch {
	case length < 2:
		cc = CCRequestDataLengthInvalid
	case length > MaxMsgSize:
		cc = CCRequestDataTruncated
	case s.backend == nil:
		cc = CCBMCInitInProgress
	default:
		if b, ok := s.backend.(BusyReporter); ok && b.Busy() {
			cc = CCNodeBusy
		}
	}
	if cc != CCSuccess {
		s.stats.LocalErrors++
		s.logger.Debug("ipmi request rejected", "type", s.handler.Type(), "id", id, "len", length, "cc", cc.String())
		s.Respond(id, ErrorResponse(data, cc))
		return
	}

	s.stats.Requests++
	req := Request{Data: append([]byte(nil), data...), ID: id}
	s.logger.Debug("ipmi request", "type", s.handler.Type(), "id", id, "netfn", req.NetFn()>>2, "cmd", req.Cmd())
	s.backend.HandleCommand(locked{s}, req)
}

// AcceptResponse reports whether id matches the outstanding request. A match
// clears the outstanding request so the same response is never accepted
// twice. Must be called with the lock held.
func (s *Interface) AcceptResponse(id byte) bool {
	if !s.outstanding || id != s.msgID {
		s.stats.Dropped++
		s.logger.Debug("dropping stale ipmi response", "type", s.handler.Type(), "id", id, "want", s.msgID, "outstanding", s.outstanding)
		return false
	}
	s.outstanding = false
	s.stats.Responses++
	return true
}

// Invalidate abandons the outstanding request so its response is dropped
// when it arrives. Must be called with the lock held.
func (s *Interface) Invalidate() {
	s.msgID++
	s.outstanding = false
}

// MessageID returns the id of the most recently dispatched request. Must be
// called with the lock held.
func (s *Interface) MessageID() byte { return s.msgID }

// Outstanding reports whether a dispatched request still waits for its
// response. Must be called with the lock held.
func (s *Interface) Outstanding() bool { return s.outstanding }

// Stats returns a copy of the traffic counters.
func (s *Interface) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// locked adapts an Interface whose lock is already held to Locked.
type locked struct{ s *Interface }

func (l locked) Respond(id byte, rsp []byte) { l.s.Respond(id, rsp) }

func (l locked) SetIRQEnable(on bool) { l.s.IRQsEnabled = on }

func (l locked) ResetHandler(cold bool) { l.s.handler.Reset(cold) }
