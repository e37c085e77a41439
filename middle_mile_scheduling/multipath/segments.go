package multipath

import (
	"fmt"
	"mpsdn/common"
	"mpsdn/topology"

	"golang.org/x/exp/slices"
)

// SegmentKey identifies how one switch forwards one (source, destination)
// flow: traffic entering on InPort leaves on OutPort.
type SegmentKey struct {
	Dst     uint64
	Src     uint64
	Node    uint64
	InPort  uint32
	OutPort uint32
}

// Segment accumulates capacity and path latency of every selected path that
// crosses the same segment.
type Segment struct {
	Capacity float64
	Latency  float64
}

// SegmentTable is the per-pass aggregation of selected paths.
type SegmentTable struct {
	entries map[SegmentKey]Segment
}

func NewSegmentTable() *SegmentTable {
	return &SegmentTable{entries: make(map[SegmentKey]Segment)}
}

func (t *SegmentTable) Len() int {
	return len(t.entries)
}

func (t *SegmentTable) Get(key SegmentKey) (Segment, bool) {
	s, ok := t.entries[key]
	return s, ok
}

// Add sums capacity and latency into the entry for key.
func (t *SegmentTable) Add(key SegmentKey, capacity, latency float64) {
	s := t.entries[key]
	s.Capacity += capacity
	s.Latency += latency
	t.entries[key] = s
}

// Record adds one segment per switch of p. The first and last switch use
// their edge port as inbound and outbound port respectively.
func (t *SegmentTable) Record(p *topology.Path, capacity, latency float64) error {
	src, dst := p.Source(), p.Destination()
	keys := make([]SegmentKey, 0, p.Len())
	last := p.Len() - 1

	for i, node := range p.Switches() {
		key := SegmentKey{Dst: dst.DPID, Src: src.DPID, Node: node.DPID}

		if i == 0 {
			no, ok := node.EdgePort()
			if !ok {
				return fmt.Errorf("%w: edge port of source switch %d", common.ErrNotFound, node.DPID)
			}
			key.InPort = no
		} else {
			no, ok := p.Ingress(i)
			if !ok {
				return fmt.Errorf("%w: ingress of switch %d on %s", common.ErrNotFound, node.DPID, p)
			}
			key.InPort = no
		}

		if i == last {
			no, ok := node.EdgePort()
			if !ok {
				return fmt.Errorf("%w: edge port of destination switch %d", common.ErrNotFound, node.DPID)
			}
			key.OutPort = no
		} else {
			port, _ := p.Egress(i)
			key.OutPort = port.Number
		}
		keys = append(keys, key)
	}

	for _, key := range keys {
		t.Add(key, capacity, latency)
	}
	return nil
}

// Outbound is one outbound port of an inbound port at a transit switch.
type Outbound struct {
	Port uint32
	Segment
}

// Inbound groups the outbound ports fed by one inbound port.
type Inbound struct {
	Port      uint32
	Outbounds []Outbound
}

// Latency is the largest accumulated latency among the outbound ports.
func (in Inbound) Latency() float64 {
	latency := 0.0
	for _, out := range in.Outbounds {
		if out.Latency > latency {
			latency = out.Latency
		}
	}
	return latency
}

// Transit is every segment one switch carries for a (source, destination) pair.
type Transit struct {
	DPID     uint64
	Inbounds []Inbound
}

// Transits returns the segments of the (src, dst) pair grouped by switch and
// inbound port, ordered by dpid and port numbers.
func (t *SegmentTable) Transits(src, dst uint64) []Transit {
	var keys []SegmentKey
	for key := range t.entries {
		if key.Src == src && key.Dst == dst {
			keys = append(keys, key)
		}
	}
	slices.SortFunc(keys, func(a, b SegmentKey) int {
		switch {
		case a.Node != b.Node:
			return cmpUint64(a.Node, b.Node)
		case a.InPort != b.InPort:
			return cmpUint64(uint64(a.InPort), uint64(b.InPort))
		default:
			return cmpUint64(uint64(a.OutPort), uint64(b.OutPort))
		}
	})

	var transits []Transit
	for _, key := range keys {
		if len(transits) == 0 || transits[len(transits)-1].DPID != key.Node {
			transits = append(transits, Transit{DPID: key.Node})
		}
		tr := &transits[len(transits)-1]
		if len(tr.Inbounds) == 0 || tr.Inbounds[len(tr.Inbounds)-1].Port != key.InPort {
			tr.Inbounds = append(tr.Inbounds, Inbound{Port: key.InPort})
		}
		in := &tr.Inbounds[len(tr.Inbounds)-1]
		in.Outbounds = append(in.Outbounds, Outbound{Port: key.OutPort, Segment: t.entries[key]})
	}
	return transits
}

func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
