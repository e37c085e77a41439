package topology

import (
	"fmt"
	"math"
	"mpsdn/common"
	"strings"
)

// Path is an ordered sequence of switches from source to destination. egress[i]
// is the port on switches[i] leading to switches[i+1].
type Path struct {
	switches []*Switch
	egress   []*Port
}

// NewPath resolves the links between consecutive switches.
func NewPath(switches []*Switch) (*Path, error) {
	if len(switches) == 0 {
		return nil, fmt.Errorf("%w: empty path", common.ErrNotFound)
	}
	egress := make([]*Port, 0, len(switches)-1)
	for i := 0; i+1 < len(switches); i++ {
		cur, next := switches[i], switches[i+1]
		no, ok := cur.LocalPortTo(next.DPID)
		if !ok {
			return nil, fmt.Errorf("%w: no link from switch %d to %d", common.ErrNotFound, cur.DPID, next.DPID)
		}
		p, ok := cur.Ports[no]
		if !ok {
			return nil, fmt.Errorf("%w: port %d on switch %d", common.ErrNotFound, no, cur.DPID)
		}
		egress = append(egress, p)
	}
	return &Path{switches: switches, egress: egress}, nil
}

func (p *Path) Switches() []*Switch {
	return p.switches
}

func (p *Path) Source() *Switch {
	return p.switches[0]
}

func (p *Path) Destination() *Switch {
	return p.switches[len(p.switches)-1]
}

// Len is the number of switches on the path.
func (p *Path) Len() int {
	return len(p.switches)
}

// Hops is the number of links on the path.
func (p *Path) Hops() int {
	return len(p.egress)
}

// Egress returns the port on the i-th switch leading towards the next one.
func (p *Path) Egress(i int) (*Port, bool) {
	if i < 0 || i >= len(p.egress) {
		return nil, false
	}
	return p.egress[i], true
}

// Ingress returns the local port number on which the i-th switch receives
// traffic from the previous one.
func (p *Path) Ingress(i int) (uint32, bool) {
	if i <= 0 || i > len(p.egress) {
		return 0, false
	}
	peer, ok := p.egress[i-1].Peer()
	if !ok {
		return 0, false
	}
	return peer.Port, true
}

// Capacity is the smallest residual capacity along the path.
func (p *Path) Capacity() float64 {
	capacity := math.Inf(1)
	for _, port := range p.egress {
		capacity = math.Min(capacity, port.Residual)
	}
	return capacity
}

// Latency is the sum of the per-hop latencies.
func (p *Path) Latency() float64 {
	latency := 0.0
	for _, port := range p.egress {
		latency += port.Latency
	}
	return latency
}

// DecreaseCapacity drains amount from every hop's residual capacity.
func (p *Path) DecreaseCapacity(amount float64) {
	for _, port := range p.egress {
		port.Residual -= amount
	}
}

func (p *Path) DPIDs() []uint64 {
	dpids := make([]uint64, len(p.switches))
	for i, s := range p.switches {
		dpids[i] = s.DPID
	}
	return dpids
}

// SameRoute reports whether both paths visit the same switches in order.
func (p *Path) SameRoute(other *Path) bool {
	if other == nil || len(other.switches) != len(p.switches) {
		return false
	}
	for i := range p.switches {
		if p.switches[i].DPID != other.switches[i].DPID {
			return false
		}
	}
	return true
}

func (p *Path) String() string {
	parts := make([]string, len(p.switches))
	for i, s := range p.switches {
		parts[i] = fmt.Sprintf("%d", s.DPID)
	}
	return strings.Join(parts, "->")
}
