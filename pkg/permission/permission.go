package permission

import (
	"fmt"
	"strings"
)

// Capability is a host capability the manager needs.
type Capability string

const (
	Network      Capability = "network"       // MQTT transport
	Bluetooth    Capability = "bluetooth"     // BLE operations
	StorageWrite Capability = "storage_write" // local I/O
	WakeLock     Capability = "wake_lock"     // MQTT keep-alive
	NetworkState Capability = "network_state" // MQTT reconnect decisions
)

// Required is the fixed set requested on activation.
var Required = []Capability{
	Bluetooth,
	StorageWrite,
	WakeLock,
	NetworkState,
	Network,
}

func ParseCapability(s string) (Capability, error) {
	c := Capability(strings.TrimSpace(strings.ToLower(s)))
	for _, r := range Required {
		if r == c {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown capability %q", s)
}

// ParseList parses a comma separated capability list. "all" expands to
// every required capability.
func ParseList(s string) ([]Capability, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	if strings.TrimSpace(strings.ToLower(s)) == "all" {
		return append([]Capability(nil), Required...), nil
	}

	var caps []Capability
	for _, part := range strings.Split(s, ",") {
		c, err := ParseCapability(part)
		if err != nil {
			return nil, err
		}
		caps = append(caps, c)
	}
	return caps, nil
}

// Result is delivered once a request completes.
type Result struct {
	Granted []Capability
	Denied  []Capability
}

func (r Result) AllGranted() bool {
	return len(r.Denied) == 0
}

type ResultFunc func(Result)

// Requester asks the host for capabilities. Implementations may deliver
// the result asynchronously.
type Requester interface {
	Request(caps []Capability, cb ResultFunc)
}

// HostRequester grants what the host was configured to allow and denies
// everything else. The callback runs on its own goroutine.
type HostRequester struct {
	granted map[Capability]bool
}

func NewHostRequester(granted []Capability) *HostRequester {
	h := &HostRequester{granted: make(map[Capability]bool, len(granted))}
	for _, c := range granted {
		h.granted[c] = true
	}
	return h
}

func (h *HostRequester) Request(caps []Capability, cb ResultFunc) {
	res := Result{}
	for _, c := range caps {
		if h.granted[c] {
			res.Granted = append(res.Granted, c)
		} else {
			res.Denied = append(res.Denied, c)
		}
	}
	if cb != nil {
		go cb(res)
	}
}
