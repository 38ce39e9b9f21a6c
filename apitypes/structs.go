package apitypes

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ApiError represents an RFC 7807 (problem+json) error response.
type ApiError struct {
	// Status is the HTTP-style status code (e.g., 400, 404, 500)
	Status int `json:"status"`
	// Title is a short, human-readable summary of the problem type
	Title string `json:"title"`
	// Detail is a human-readable explanation specific to this occurrence
	Detail string `json:"detail"`
}

func (e ApiError) Error() string {
	if e.Status == 0 && e.Title == "" {
		return "unknown error"
	}
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Title, e.Detail)
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.Title, e.Detail)
}

// --

type PingResponse struct {
	Server  string `json:"server"`
	Version string `json:"version"`
}

// Device describes an attached interface as the host sees it.
type Device struct {
	ID         int    `json:"id"`
	Type       string `json:"type"`
	SMBIOSType int    `json:"smbiosType"`
	IOBase     string `json:"ioBase,omitempty"`
	IOLength   int    `json:"ioLength,omitempty"`
	IRQ        int    `json:"irq,omitempty"`
	SlaveAddr  string `json:"slaveAddr,omitempty"`
	Backend    string `json:"backend"`
}

type DevicesListResponse struct {
	Devices []Device `json:"devices"`
}

type DeviceRemoveResponse struct {
	ID int `json:"id"`
}

// LinkStatus is the state of an external BMC link.
type LinkStatus struct {
	Address   string `json:"address"`
	Connected bool   `json:"connected"`
	Busy      bool   `json:"busy"`
	Waiting   bool   `json:"waiting"`
}

// InterfaceStats counts router activity of one interface.
type InterfaceStats struct {
	Requests       uint64 `json:"requests"`
	Responses      uint64 `json:"responses"`
	Dropped        uint64 `json:"dropped"`
	LocalErrors    uint64 `json:"localErrors"`
	DrainOverflows uint64 `json:"drainOverflows"`
}

type DeviceStatusResponse struct {
	Device
	Threaded  bool           `json:"threaded"`
	IRQLevel  bool           `json:"irqLevel"`
	IRQRaises uint64         `json:"irqRaises"`
	Powered   bool           `json:"powered"`
	HwOps     []string       `json:"hwOps"`
	Supported []string       `json:"supported"`
	Link      *LinkStatus    `json:"link,omitempty"`
	Stats     InterfaceStats `json:"stats"`
}

// DeviceCreateRequest attaches an interface. Numeric fields accept a JSON
// number or a hex string like "0xca2".
type DeviceCreateRequest struct {
	Type      *string `json:"type"`
	ID        *int    `json:"id,omitempty"`
	IOBase    *uint16 `json:"ioBase,omitempty"`
	IRQ       *int    `json:"irq,omitempty"`
	SlaveAddr *uint8  `json:"slaveAddr,omitempty"`
	Backend   string  `json:"backend,omitempty"`
}

// UnmarshalJSON accepts both numbers and hex strings for ioBase and slaveAddr.
func (d *DeviceCreateRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type      *string `json:"type"`
		ID        *int    `json:"id,omitempty"`
		IOBase    any     `json:"ioBase,omitempty"`
		IRQ       *int    `json:"irq,omitempty"`
		SlaveAddr any     `json:"slaveAddr,omitempty"`
		Backend   string  `json:"backend,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	d.Type = raw.Type
	d.ID = raw.ID
	d.IRQ = raw.IRQ
	d.Backend = raw.Backend

	if raw.IOBase != nil {
		val, err := parseUintOrHex(raw.IOBase, 16)
		if err != nil {
			return fmt.Errorf("ioBase: %w", err)
		}
		v := uint16(val)
		d.IOBase = &v
	}
	if raw.SlaveAddr != nil {
		val, err := parseUintOrHex(raw.SlaveAddr, 8)
		if err != nil {
			return fmt.Errorf("slaveAddr: %w", err)
		}
		v := uint8(val)
		d.SlaveAddr = &v
	}
	return nil
}

// ParseUint parses a decimal or hex ("0xca2", "ca2") string of at most bits bits.
func ParseUint(s string, bits int) (uint64, error) { return parseUintOrHex(s, bits) }

// parseUintOrHex accepts either a JSON number or a hex string like "0xca2".
func parseUintOrHex(v any, bits int) (uint64, error) {
	limit := uint64(1)<<bits - 1
	switch val := v.(type) {
	case float64:
		if val < 0 || val > float64(limit) || val != float64(uint64(val)) {
			return 0, fmt.Errorf("value %v out of uint%d range", val, bits)
		}
		return uint64(val), nil
	case string:
		s := strings.TrimSpace(val)
		base := 10
		if strings.HasPrefix(strings.ToLower(s), "0x") {
			s = s[2:]
			base = 16
		} else if strings.ContainsAny(s, "abcdefABCDEF") {
			base = 16
		}
		parsed, err := strconv.ParseUint(s, base, bits)
		if err != nil {
			return 0, fmt.Errorf("invalid hex/numeric string %q: %w", val, err)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("expected number or hex string, got %T", v)
	}
}

// HexBytes is a byte slice carried as a hex string ("18 01" or "1801").
type HexBytes []byte

func (h HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h))
}

func (h *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := ParseHex(s)
	if err != nil {
		return err
	}
	*h = b
	return nil
}

// ParseHex decodes hex digits, ignoring whitespace, commas and 0x prefixes.
func ParseHex(s string) ([]byte, error) {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "0x", "")
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', ',', ':':
			return -1
		}
		return r
	}, s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return b, nil
}

type RegisterReadRequest struct {
	Offset int `json:"offset"`
}

type RegisterWriteRequest struct {
	Offset int  `json:"offset"`
	Value  byte `json:"value"`
}

type RegisterResponse struct {
	Offset int  `json:"offset"`
	Value  byte `json:"value"`
}

type SMBusWriteRequest struct {
	Cmd  byte     `json:"cmd"`
	Data HexBytes `json:"data"`
}

type SMBusReadRequest struct {
	Cmd byte `json:"cmd"`
}

type SMBusResponse struct {
	Cmd  byte     `json:"cmd"`
	Data HexBytes `json:"data"`
}

type ResetRequest struct {
	Cold bool `json:"cold"`
}

type ResetResponse struct {
	ID   int  `json:"id"`
	Cold bool `json:"cold"`
}

// SnapshotResponse carries the encoded interface state (base64 in JSON).
type SnapshotResponse struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
	Data []byte `json:"data"`
}

type RestoreRequest struct {
	Data []byte `json:"data"`
}

type RestoreResponse struct {
	ID int `json:"id"`
}

// Register stream ops. Each frame is [op, offset, value]; reads are answered
// with the register byte, writes are not answered.
const (
	IOOpRead  byte = 0x00
	IOOpWrite byte = 0x01
	IOFrameSize    = 3
)
