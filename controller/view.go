package controller

import (
	"mpsdn/topology"
)

type PortView struct {
	Number      uint32             `json:"number"`
	Peer        *topology.Endpoint `json:"peer,omitempty"`
	IsEdge      bool               `json:"is_edge"`
	MaxCapacity float64            `json:"max_capacity"`
	Capacity    float64            `json:"capacity"`
	Latency     float64            `json:"latency"`
}

type SwitchView struct {
	DPID            uint64     `json:"dpid"`
	EdgePort        uint32     `json:"edge_port,omitempty"`
	EdgePortPinned  bool       `json:"edge_port_pinned"`
	HostNetwork     string     `json:"host_network,omitempty"`
	IsEdgeSwitch    bool       `json:"is_edge_switch"`
	ControllerDelay float64    `json:"controller_delay"`
	Ports           []PortView `json:"ports"`
}

// TopologyView is a copy of the controller state safe to hand out.
type TopologyView struct {
	Generation uint64       `json:"generation"`
	Measured   bool         `json:"measured"`
	Computing  bool         `json:"computing"`
	Switches   []SwitchView `json:"switches"`
	LastPass   *PassReport  `json:"last_pass,omitempty"`
}

// Snapshot copies the controller state. It waits for a running pass to end,
// but reports that the pass was running when it was called.
func (c *Controller) Snapshot() TopologyView {
	computing := c.Computing()

	c.mu.Lock()
	defer c.mu.Unlock()

	view := TopologyView{
		Generation: c.topo.Generation(),
		Measured:   c.measured,
		Computing:  computing,
		Switches:   make([]SwitchView, 0, c.topo.Len()),
	}
	if c.lastPass != nil {
		last := *c.lastPass
		view.LastPass = &last
	}

	for _, s := range c.topo.Switches() {
		sv := SwitchView{
			DPID:            s.DPID,
			EdgePortPinned:  s.EdgePortPinned(),
			IsEdgeSwitch:    s.IsEdgeSwitch(),
			ControllerDelay: s.ControllerDelay,
		}
		if no, ok := s.EdgePort(); ok {
			sv.EdgePort = no
		}
		if s.HostNetwork.IsValid() {
			sv.HostNetwork = s.HostNetwork.String()
		}
		for _, p := range s.SortedPorts() {
			pv := PortView{
				Number:      p.Number,
				IsEdge:      p.IsEdge,
				MaxCapacity: p.MaxCapacity,
				Capacity:    p.Capacity,
				Latency:     p.Latency,
			}
			if peer, ok := p.Peer(); ok {
				pv.Peer = &peer
			}
			sv.Ports = append(sv.Ports, pv)
		}
		view.Switches = append(view.Switches, sv)
	}
	return view
}
