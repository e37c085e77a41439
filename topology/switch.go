package topology

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"golang.org/x/exp/slices"
)

// Switch is a forwarding device known to the controller.
type Switch struct {
	DPID  uint64
	Ports map[uint32]*Port

	// peer dpid -> local port number, kept in step with the ports' peers
	peerToLocal map[uint64]uint32

	edgePort   uint32
	edgePinned bool

	// Hosts reachable behind the edge port.
	HostNetwork netip.Prefix

	// Smoothed one-way controller delay, seconds.
	ControllerDelay float64
	// Time the pending port stats request was issued, zero when none is pending.
	StatsRequestTime time.Time
}

func newSwitch(dpid uint64) *Switch {
	return &Switch{
		DPID:        dpid,
		Ports:       make(map[uint32]*Port),
		peerToLocal: make(map[uint64]uint32),
	}
}

// PortNumbers returns the port numbers in ascending order.
func (s *Switch) PortNumbers() []uint32 {
	numbers := make([]uint32, 0, len(s.Ports))
	for no := range s.Ports {
		numbers = append(numbers, no)
	}
	slices.Sort(numbers)
	return numbers
}

// SortedPorts returns the ports ordered by number.
func (s *Switch) SortedPorts() []*Port {
	ports := make([]*Port, 0, len(s.Ports))
	for _, no := range s.PortNumbers() {
		ports = append(ports, s.Ports[no])
	}
	return ports
}

// EdgePort returns the port facing the host network.
func (s *Switch) EdgePort() (uint32, bool) {
	if s.edgePort == 0 {
		return 0, false
	}
	if _, ok := s.Ports[s.edgePort]; !ok {
		return 0, false
	}
	return s.edgePort, true
}

// EdgePortPinned reports whether the edge port was set explicitly.
func (s *Switch) EdgePortPinned() bool {
	return s.edgePinned
}

func (s *Switch) pinEdgePort(no uint32) {
	s.edgePort = no
	s.edgePinned = true
}

// recomputeEdgePort applies the highest-port-number heuristic.
func (s *Switch) recomputeEdgePort() {
	if s.edgePinned {
		return
	}
	s.edgePort = 0
	for no := range s.Ports {
		if no > s.edgePort {
			s.edgePort = no
		}
	}
}

// IsEdgeSwitch reports whether the switch terminates host traffic: it needs a
// host network and an edge port that is not attached to another switch.
func (s *Switch) IsEdgeSwitch() bool {
	if !s.HostNetwork.IsValid() {
		return false
	}
	no, ok := s.EdgePort()
	if !ok {
		return false
	}
	return s.Ports[no].IsEdge
}

// LocalPortTo returns the local port number linked to peer.
func (s *Switch) LocalPortTo(peer uint64) (uint32, bool) {
	no, ok := s.peerToLocal[peer]
	return no, ok
}

// Peers returns the dpids of the linked neighbours in ascending order.
func (s *Switch) Peers() []uint64 {
	peers := make([]uint64, 0, len(s.peerToLocal))
	for dpid := range s.peerToLocal {
		peers = append(peers, dpid)
	}
	slices.Sort(peers)
	return peers
}

// HasPeerCapacity reports whether any inter-switch port still has residual
// capacity left.
func (s *Switch) HasPeerCapacity() bool {
	for _, port := range s.Ports {
		if !port.IsEdge && port.Residual > 0 {
			return true
		}
	}
	return false
}

func (s *Switch) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Switch<dpid=%d, p=", s.DPID)
	for _, port := range s.SortedPorts() {
		b.WriteString(port.String())
		b.WriteString(",")
	}
	fmt.Fprintf(&b, " delay=%f>", s.ControllerDelay)
	return b.String()
}
