package flow_synthesis

import (
	"context"
	"fmt"
	"math"
	"mpsdn/common"
	"mpsdn/middle_mile_scheduling/multipath"
	"mpsdn/southbound"
	"mpsdn/topology"
	"net/netip"

	log "github.com/sirupsen/logrus"
)

// Report counts the commands issued for one (source, destination) pair.
type Report struct {
	OutputRules   int
	GroupsCreated int
	GroupsUpdated int
	GroupRules    int
	Fallbacks     int
	Reorderings   int
}

func (r *Report) Add(other Report) {
	r.OutputRules += other.OutputRules
	r.GroupsCreated += other.GroupsCreated
	r.GroupsUpdated += other.GroupsUpdated
	r.GroupRules += other.GroupRules
	r.Fallbacks += other.Fallbacks
	r.Reorderings += other.Reorderings
}

// Synthesizer turns the segment table of a pass into rules and groups.
type Synthesizer struct {
	device southbound.Device
	groups *GroupTable
}

func NewSynthesizer(device southbound.Device, groups *GroupTable) *Synthesizer {
	return &Synthesizer{device: device, groups: groups}
}

func (s *Synthesizer) Groups() *GroupTable {
	return s.groups
}

// pairContext carries what every command of one pair shares.
type pairContext struct {
	src, dst       uint64
	srcNet, dstNet netip.Prefix
	report         Report
}

// Synthesize installs the forwarding state of the (src, dst) pair. Traffic
// entering a switch on an inbound port with one outbound port gets an output
// rule, several outbound ports get a weighted select group. A switch merging
// inbound ports whose latencies are too imbalanced pins TCP to one port.
func (s *Synthesizer) Synthesize(ctx context.Context, topo *topology.Topology, table *multipath.SegmentTable, src, dst uint64, reorderingThreshold float64) (Report, error) {
	pc, err := newPairContext(topo, src, dst)
	if err != nil {
		return Report{}, err
	}

	for _, transit := range table.Transits(src, dst) {
		inLatencies := make([]float64, 0, len(transit.Inbounds))
		for _, in := range transit.Inbounds {
			if err := s.forward(ctx, pc, transit.DPID, in); err != nil {
				return pc.report, err
			}
			inLatencies = append(inLatencies, in.Latency())
		}

		if len(transit.Inbounds) > 1 {
			if imbalance := multipath.MDI(inLatencies); imbalance > reorderingThreshold {
				if err := s.reorder(ctx, pc, transit); err != nil {
					return pc.report, err
				}
				log.Infof("REORDERING at %d from %d to %d, inbound mdi %f", transit.DPID, src, dst, imbalance)
			}
		}
	}
	return pc.report, nil
}

func newPairContext(topo *topology.Topology, src, dst uint64) (*pairContext, error) {
	srcSwitch, err := topo.Switch(src)
	if err != nil {
		return nil, err
	}
	dstSwitch, err := topo.Switch(dst)
	if err != nil {
		return nil, err
	}
	if !srcSwitch.HostNetwork.IsValid() {
		return nil, fmt.Errorf("%w: host network of switch %d", common.ErrNotFound, src)
	}
	if !dstSwitch.HostNetwork.IsValid() {
		return nil, fmt.Errorf("%w: host network of switch %d", common.ErrNotFound, dst)
	}
	return &pairContext{
		src:    src,
		dst:    dst,
		srcNet: srcSwitch.HostNetwork,
		dstNet: dstSwitch.HostNetwork,
	}, nil
}

func (s *Synthesizer) forward(ctx context.Context, pc *pairContext, node uint64, in multipath.Inbound) error {
	if len(in.Outbounds) == 1 {
		log.Infof("Match for %d from %d to %d port %d out %d", node, pc.src, pc.dst, in.Port, in.Outbounds[0].Port)
		pc.report.OutputRules++
		return s.installPair(ctx, pc, node, in.Port, southbound.PriorityDefault, southbound.Output(in.Outbounds[0].Port))
	}

	latencies := make([]float64, len(in.Outbounds))
	total := 0.0
	for i, out := range in.Outbounds {
		latencies[i] = out.Latency
		total += out.Capacity
	}
	imbalance := multipath.MDI(latencies)

	var buckets []southbound.Bucket
	for _, out := range in.Outbounds {
		weight := BucketWeight(total, out.Capacity, imbalance)
		if weight <= 0 {
			continue
		}
		buckets = append(buckets, southbound.OutputBucket(out.Port, uint16(min(weight, math.MaxUint16))))
	}

	if len(buckets) == 0 {
		best := widest(in.Outbounds)
		log.Warnf("every bucket of %d port %d from %d to %d weighs zero, falling back to output %d",
			node, in.Port, pc.src, pc.dst, best)
		pc.report.Fallbacks++
		pc.report.OutputRules++
		return s.installPair(ctx, pc, node, in.Port, southbound.PriorityDefault, southbound.Output(best))
	}

	key := GroupKey{Node: node, Src: pc.src, Dst: pc.dst, InPort: in.Port}
	id, command := s.groups.Acquire(key)
	mod := southbound.GroupMod{DPID: node, GroupID: id, Type: southbound.GroupSelect, Command: command, Buckets: buckets}
	if err := s.device.InstallOrUpdateGroup(ctx, mod); err != nil {
		return fmt.Errorf("group %d on switch %d: %w", id, node, err)
	}
	s.groups.Installed(key)
	if command == southbound.GroupCreate {
		pc.report.GroupsCreated++
	} else {
		pc.report.GroupsUpdated++
	}
	log.Infof("GROUP_%s for %d from %d to %d port %d GROUP_ID %d buckets %v",
		command, node, pc.src, pc.dst, in.Port, id, buckets)

	pc.report.GroupRules++
	return s.installPair(ctx, pc, node, in.Port, southbound.PriorityDefault, southbound.Group(id))
}

// installPair installs the IPv4 and the ARP rule for one inbound port.
func (s *Synthesizer) installPair(ctx context.Context, pc *pairContext, node uint64, inPort uint32, priority uint16, action southbound.Action) error {
	for _, match := range []southbound.Match{
		southbound.IPv4Match(pc.srcNet, pc.dstNet, inPort),
		southbound.ARPMatch(pc.srcNet, pc.dstNet, inPort),
	} {
		rule := southbound.Rule{DPID: node, Priority: priority, Match: match, Actions: []southbound.Action{action}}
		if err := s.device.InstallRule(ctx, rule); err != nil {
			return fmt.Errorf("rule on switch %d: %w", node, err)
		}
	}
	return nil
}

// reorder pins TCP traffic of the pair entering the merge point on any inbound
// port to the outbound port with the most capacity.
func (s *Synthesizer) reorder(ctx context.Context, pc *pairContext, transit multipath.Transit) error {
	capacity := make(map[uint32]float64)
	var outs []multipath.Outbound
	for _, in := range transit.Inbounds {
		for _, out := range in.Outbounds {
			if _, seen := capacity[out.Port]; !seen {
				outs = append(outs, multipath.Outbound{Port: out.Port})
			}
			capacity[out.Port] += out.Capacity
		}
	}
	for i := range outs {
		outs[i].Capacity = capacity[outs[i].Port]
	}
	port := widest(outs)

	key := reorderingKey(transit.DPID, pc.src, pc.dst)
	id, command := s.groups.Acquire(key)
	mod := southbound.GroupMod{
		DPID:    transit.DPID,
		GroupID: id,
		Type:    southbound.GroupIndirect,
		Command: command,
		Buckets: []southbound.Bucket{southbound.OutputBucket(port, 0)},
	}
	if err := s.device.InstallOrUpdateGroup(ctx, mod); err != nil {
		return fmt.Errorf("reordering group %d on switch %d: %w", id, transit.DPID, err)
	}
	s.groups.Installed(key)

	for _, in := range transit.Inbounds {
		rule := southbound.Rule{
			DPID:     transit.DPID,
			Priority: southbound.PriorityReordering,
			Match:    southbound.TCPMatch(pc.srcNet, pc.dstNet, in.Port),
			Actions:  []southbound.Action{southbound.Group(id)},
		}
		if err := s.device.InstallRule(ctx, rule); err != nil {
			return fmt.Errorf("reordering rule on switch %d: %w", transit.DPID, err)
		}
	}
	pc.report.Reorderings++
	return nil
}

// widest returns the port with the largest capacity, the lowest port number
// on ties.
func widest(outs []multipath.Outbound) uint32 {
	best := outs[0]
	for _, out := range outs[1:] {
		if out.Capacity > best.Capacity || (out.Capacity == best.Capacity && out.Port < best.Port) {
			best = out
		}
	}
	return best.Port
}
