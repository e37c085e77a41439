package topology

import (
	"fmt"
	"mpsdn/common"
	"net/netip"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// Defaults seeds newly discovered ports.
type Defaults struct {
	MaxCapacity float64
	Latency     float64
}

// Topology is the controller's view of the switched network. It is not safe
// for concurrent use; the controller serializes every access.
type Topology struct {
	switches   map[uint64]*Switch
	generation uint64
	defaults   Defaults
}

func New(defaults Defaults) *Topology {
	return &Topology{
		switches: make(map[uint64]*Switch),
		defaults: defaults,
	}
}

func (t *Topology) IsEmpty() bool {
	return len(t.switches) == 0
}

// Generation advances on every structural change.
func (t *Topology) Generation() uint64 {
	return t.generation
}

// Touch marks a structural change.
func (t *Topology) Touch() {
	t.generation++
}

func (t *Topology) Len() int {
	return len(t.switches)
}

// Switch returns the switch with the given dpid.
func (t *Topology) Switch(dpid uint64) (*Switch, error) {
	s, ok := t.switches[dpid]
	if !ok {
		return nil, fmt.Errorf("%w: switch %d", common.ErrNotFound, dpid)
	}
	return s, nil
}

// Port returns a port of a known switch.
func (t *Topology) Port(dpid uint64, no uint32) (*Port, error) {
	s, err := t.Switch(dpid)
	if err != nil {
		return nil, err
	}
	p, ok := s.Ports[no]
	if !ok {
		return nil, fmt.Errorf("%w: port %d on switch %d", common.ErrNotFound, no, dpid)
	}
	return p, nil
}

// Switches returns all switches ordered by dpid.
func (t *Topology) Switches() []*Switch {
	dpids := make([]uint64, 0, len(t.switches))
	for dpid := range t.switches {
		dpids = append(dpids, dpid)
	}
	slices.Sort(dpids)

	switches := make([]*Switch, 0, len(dpids))
	for _, dpid := range dpids {
		switches = append(switches, t.switches[dpid])
	}
	return switches
}

// EdgeSwitches returns the switches facing host networks ordered by dpid.
func (t *Topology) EdgeSwitches() []*Switch {
	var edges []*Switch
	for _, s := range t.Switches() {
		if s.IsEdgeSwitch() {
			edges = append(edges, s)
		}
	}
	return edges
}

// AddSwitch registers a switch with its ports. It returns false when the
// switch was already known, in which case nothing changes.
func (t *Topology) AddSwitch(dpid uint64, ports []PortDescriptor) bool {
	if _, exists := t.switches[dpid]; exists {
		return false
	}
	s := newSwitch(dpid)
	for _, desc := range ports {
		s.Ports[desc.Number] = newPort(dpid, desc, t.defaults)
	}
	s.recomputeEdgePort()
	t.switches[dpid] = s
	t.Touch()
	log.Infof("switch %d added with %d ports", dpid, len(ports))
	return true
}

// SyncPorts reconciles a known switch with the port list it reported when it
// reconnected. Ports missing from the list are removed with their links, new
// ones are added, and ports present on both sides keep their links and
// measurements. An empty list leaves the switch unchanged.
func (t *Topology) SyncPorts(dpid uint64, ports []PortDescriptor) error {
	s, err := t.Switch(dpid)
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		return nil
	}

	reported := make(map[uint32]bool, len(ports))
	for _, desc := range ports {
		reported[desc.Number] = true
	}
	var added, removed int
	for _, no := range s.PortNumbers() {
		if reported[no] {
			continue
		}
		p := s.Ports[no]
		if peer, linked := p.Peer(); linked {
			t.detach(s, p, peer)
		}
		delete(s.Ports, no)
		removed++
	}
	for _, desc := range ports {
		if _, ok := s.Ports[desc.Number]; ok {
			continue
		}
		s.Ports[desc.Number] = newPort(dpid, desc, t.defaults)
		added++
	}
	s.recomputeEdgePort()
	t.Touch()
	log.Infof("switch %d ports synced: %d added, %d removed", dpid, added, removed)
	return nil
}

// RemoveSwitch drops a switch and detaches every link pointing at it.
func (t *Topology) RemoveSwitch(dpid uint64) error {
	s, err := t.Switch(dpid)
	if err != nil {
		return err
	}
	for _, peer := range s.Peers() {
		if ps, ok := t.switches[peer]; ok {
			if no, ok := ps.peerToLocal[dpid]; ok {
				if p, ok := ps.Ports[no]; ok {
					p.clearPeer()
				}
				delete(ps.peerToLocal, dpid)
			}
		}
	}
	delete(t.switches, dpid)
	t.Touch()
	log.Infof("switch %d removed", dpid)
	return nil
}

// AddPort adds or replaces a port on a known switch.
func (t *Topology) AddPort(dpid uint64, desc PortDescriptor) error {
	s, err := t.Switch(dpid)
	if err != nil {
		return err
	}
	if old, ok := s.Ports[desc.Number]; ok {
		if peer, linked := old.Peer(); linked {
			t.detach(s, old, peer)
		}
	}
	s.Ports[desc.Number] = newPort(dpid, desc, t.defaults)
	s.recomputeEdgePort()
	t.Touch()
	return nil
}

// RemovePort deletes a port and any link attached to it.
func (t *Topology) RemovePort(dpid uint64, no uint32) error {
	p, err := t.Port(dpid, no)
	if err != nil {
		return err
	}
	s := t.switches[dpid]
	if peer, linked := p.Peer(); linked {
		t.detach(s, p, peer)
	}
	delete(s.Ports, no)
	s.recomputeEdgePort()
	t.Touch()
	return nil
}

// detach unlinks p on s from the far end.
func (t *Topology) detach(s *Switch, p *Port, peer Endpoint) {
	if no, ok := s.peerToLocal[peer.DPID]; ok && no == p.Number {
		delete(s.peerToLocal, peer.DPID)
	}
	p.clearPeer()
	if ps, ok := t.switches[peer.DPID]; ok {
		if pp, ok := ps.Ports[peer.Port]; ok {
			if back, linked := pp.Peer(); linked && back.DPID == s.DPID && back.Port == p.Number {
				pp.clearPeer()
				if no, ok := ps.peerToLocal[s.DPID]; ok && no == peer.Port {
					delete(ps.peerToLocal, s.DPID)
				}
			}
		}
	}
}

func (t *Topology) linkSide(local, remote Endpoint) {
	s := t.switches[local.DPID]
	p, ok := s.Ports[local.Port]
	if !ok {
		p = newPort(local.DPID, PortDescriptor{Number: local.Port}, t.defaults)
		s.Ports[local.Port] = p
		s.recomputeEdgePort()
	}
	p.setPeer(remote)
	s.peerToLocal[remote.DPID] = local.Port
}

// AddLink connects two ports. Missing ports on known switches are created.
func (t *Topology) AddLink(src, dst Endpoint) error {
	if _, err := t.Switch(src.DPID); err != nil {
		return err
	}
	if _, err := t.Switch(dst.DPID); err != nil {
		return err
	}
	t.linkSide(src, dst)
	t.linkSide(dst, src)
	t.Touch()
	log.Infof("link added %s <-> %s", src, dst)
	return nil
}

// RemoveLink disconnects two ports; both sides become edge-facing again. The
// ports must be linked to each other.
func (t *Topology) RemoveLink(src, dst Endpoint) error {
	sp, err := t.Port(src.DPID, src.Port)
	if err != nil {
		return err
	}
	if _, err := t.Port(dst.DPID, dst.Port); err != nil {
		return err
	}
	if peer, linked := sp.Peer(); !linked || peer != dst {
		return fmt.Errorf("%w: link %s <-> %s", common.ErrNotFound, src, dst)
	}
	t.detach(t.switches[src.DPID], sp, dst)
	t.Touch()
	log.Infof("link removed %s <-> %s", src, dst)
	return nil
}

// RestoreCapacities resets the working residual of every port.
func (t *Topology) RestoreCapacities() {
	for _, s := range t.switches {
		for _, p := range s.Ports {
			p.RestoreCapacity()
		}
	}
}

// SetPortCapacity pins a port's configured capacity.
func (t *Topology) SetPortCapacity(dpid uint64, no uint32, capacity float64) error {
	if capacity < 0 {
		return fmt.Errorf("%w: capacity %v is negative", common.ErrValidation, capacity)
	}
	p, err := t.Port(dpid, no)
	if err != nil {
		return err
	}
	p.SetMaxCapacity(capacity)
	return nil
}

// SetEdgePort overrides the edge port heuristic.
func (t *Topology) SetEdgePort(dpid uint64, no uint32) error {
	s, err := t.Switch(dpid)
	if err != nil {
		return err
	}
	if _, ok := s.Ports[no]; !ok {
		return fmt.Errorf("%w: port %d on switch %d", common.ErrNotFound, no, dpid)
	}
	s.pinEdgePort(no)
	t.Touch()
	return nil
}

// SetHostNetwork sets the network behind a switch's edge port.
func (t *Topology) SetHostNetwork(dpid uint64, cidr string) error {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return fmt.Errorf("%w: host network %q: %v", common.ErrValidation, cidr, err)
	}
	if !prefix.Addr().Is4() {
		return fmt.Errorf("%w: host network %q is not IPv4", common.ErrValidation, cidr)
	}
	s, err := t.Switch(dpid)
	if err != nil {
		return err
	}
	s.HostNetwork = prefix.Masked()
	t.Touch()
	return nil
}
