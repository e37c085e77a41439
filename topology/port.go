package topology

import (
	"fmt"
	"time"
)

// Endpoint identifies one side of a link.
type Endpoint struct {
	DPID uint64 `json:"dpid" yaml:"dpid"`
	Port uint32 `json:"port" yaml:"port"`
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%d:%d", e.DPID, e.Port)
}

// PortDescriptor is the transport-neutral description of a port delivered
// with switch and port events. A zero MaxCapacity means the default.
type PortDescriptor struct {
	Number      uint32  `json:"number"`
	MaxCapacity float64 `json:"max_capacity,omitempty"`
}

// Port is one switch port. Every port starts edge-facing and becomes an
// inter-switch port once a link is reported on it.
type Port struct {
	DPID   uint64
	Number uint32

	peer *Endpoint

	// Configured upper bound, bytes/s.
	MaxCapacity float64
	// Measured available capacity, bytes/s.
	Capacity float64
	// Working copy drained by the multipath selector. Only meaningful while a
	// computation pass is running.
	Residual float64

	// Smoothed one-way latency towards the peer, seconds.
	Latency float64

	LastStatsTime time.Time
	LastBytes     uint64

	IsEdge bool
}

func newPort(dpid uint64, desc PortDescriptor, defaults Defaults) *Port {
	capacity := desc.MaxCapacity
	if capacity <= 0 {
		capacity = defaults.MaxCapacity
	}
	return &Port{
		DPID:        dpid,
		Number:      desc.Number,
		MaxCapacity: capacity,
		Capacity:    capacity,
		Residual:    capacity,
		Latency:     defaults.Latency,
		IsEdge:      true,
	}
}

// Peer returns the far end of the link attached to this port.
func (p *Port) Peer() (Endpoint, bool) {
	if p.peer == nil {
		return Endpoint{}, false
	}
	return *p.peer, true
}

func (p *Port) setPeer(e Endpoint) {
	p.peer = &e
	p.IsEdge = false
}

func (p *Port) clearPeer() {
	p.peer = nil
	p.IsEdge = true
}

// RestoreCapacity resets the residual drained by the selector.
func (p *Port) RestoreCapacity() {
	p.Residual = p.Capacity
}

// SetMaxCapacity pins the configured capacity and resets the measured and
// working values to it.
func (p *Port) SetMaxCapacity(capacity float64) {
	p.MaxCapacity = capacity
	p.Capacity = capacity
	p.Residual = capacity
}

// Traversable reports whether the search may cross this port.
func (p *Port) Traversable(minCapacity float64) bool {
	return !p.IsEdge && p.peer != nil && p.Residual > minCapacity
}

func (p *Port) String() string {
	return fmt.Sprintf("Port<no=%d residual=%f latency=%f>", p.Number, p.Residual, p.Latency)
}
