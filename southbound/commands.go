package southbound

import (
	"fmt"
	"net/netip"
	"strings"
)

const (
	PriorityTableMiss  uint16 = 0
	PriorityDefault    uint16 = 32768
	PriorityReordering uint16 = 32800
	PriorityProbe      uint16 = 65000

	EthTypeIPv4 uint16 = 0x0800
	EthTypeARP  uint16 = 0x0806
	IPProtoTCP  uint8  = 6

	// bytes of a packet sent to the controller by a bucket output action
	OutputMaxLen uint16 = 2000
)

// Match selects the packets a rule applies to. Zero-valued fields are
// wildcards.
type Match struct {
	EthType uint16       `json:"eth_type,omitempty"`
	InPort  uint32       `json:"in_port,omitempty"`
	IPProto uint8        `json:"ip_proto,omitempty"`
	IPv4Src netip.Prefix `json:"ipv4_src"`
	IPv4Dst netip.Prefix `json:"ipv4_dst"`
	ARPSpa  netip.Addr   `json:"arp_spa"`
	ARPTpa  netip.Addr   `json:"arp_tpa"`
}

// IPv4Match matches IPv4 traffic from one host network to another.
func IPv4Match(src, dst netip.Prefix, inPort uint32) Match {
	return Match{EthType: EthTypeIPv4, InPort: inPort, IPv4Src: src, IPv4Dst: dst}
}

// ARPMatch matches ARP between two host networks by their network address.
func ARPMatch(src, dst netip.Prefix, inPort uint32) Match {
	return Match{EthType: EthTypeARP, InPort: inPort, ARPSpa: src.Addr(), ARPTpa: dst.Addr()}
}

// TCPMatch matches TCP traffic from one host network to another.
func TCPMatch(src, dst netip.Prefix, inPort uint32) Match {
	m := IPv4Match(src, dst, inPort)
	m.IPProto = IPProtoTCP
	return m
}

func (m Match) String() string {
	var parts []string
	if m.EthType != 0 {
		parts = append(parts, fmt.Sprintf("eth_type=0x%04x", m.EthType))
	}
	if m.InPort != 0 {
		parts = append(parts, fmt.Sprintf("in_port=%d", m.InPort))
	}
	if m.IPProto != 0 {
		parts = append(parts, fmt.Sprintf("ip_proto=%d", m.IPProto))
	}
	if m.IPv4Src.IsValid() {
		parts = append(parts, "ipv4_src="+m.IPv4Src.String())
	}
	if m.IPv4Dst.IsValid() {
		parts = append(parts, "ipv4_dst="+m.IPv4Dst.String())
	}
	if m.ARPSpa.IsValid() {
		parts = append(parts, "arp_spa="+m.ARPSpa.String())
	}
	if m.ARPTpa.IsValid() {
		parts = append(parts, "arp_tpa="+m.ARPTpa.String())
	}
	return strings.Join(parts, ",")
}

type ActionType string

const (
	ActionOutput     ActionType = "output"
	ActionGroup      ActionType = "group"
	ActionController ActionType = "controller"
)

type Action struct {
	Type    ActionType `json:"type"`
	Port    uint32     `json:"port,omitempty"`
	MaxLen  uint16     `json:"max_len,omitempty"`
	GroupID uint32     `json:"group_id,omitempty"`
}

func Output(port uint32) Action {
	return Action{Type: ActionOutput, Port: port}
}

func Group(id uint32) Action {
	return Action{Type: ActionGroup, GroupID: id}
}

// ToController sends matching packets to the controller.
func ToController() Action {
	return Action{Type: ActionController}
}

func (a Action) String() string {
	switch a.Type {
	case ActionGroup:
		return fmt.Sprintf("group:%d", a.GroupID)
	case ActionController:
		return "controller"
	}
	return fmt.Sprintf("output:%d", a.Port)
}

// TableMissRule sends packets no other rule matches to the controller.
func TableMissRule(dpid uint64) Rule {
	return Rule{DPID: dpid, Priority: PriorityTableMiss, Actions: []Action{ToController()}}
}

// PuntRule sends every frame of ethType to the controller, ahead of any
// forwarding rule.
func PuntRule(dpid uint64, ethType uint16) Rule {
	return Rule{
		DPID:     dpid,
		Priority: PriorityProbe,
		Match:    Match{EthType: ethType},
		Actions:  []Action{ToController()},
	}
}

// Rule is a flow entry to install on one switch.
type Rule struct {
	DPID     uint64   `json:"dpid"`
	Priority uint16   `json:"priority"`
	Match    Match    `json:"match"`
	Actions  []Action `json:"actions"`
	BufferID *uint32  `json:"buffer_id,omitempty"`
}

type GroupType string

const (
	GroupSelect   GroupType = "select"
	GroupIndirect GroupType = "indirect"
)

// GroupCommand tells the device whether the group is new.
type GroupCommand string

const (
	GroupCreate GroupCommand = "CREATE"
	GroupUpdate GroupCommand = "UPDATE"
)

type Bucket struct {
	Weight  uint16   `json:"weight"`
	Actions []Action `json:"actions"`
}

// OutputBucket forwards out of port with the given weight.
func OutputBucket(port uint32, weight uint16) Bucket {
	return Bucket{
		Weight:  weight,
		Actions: []Action{{Type: ActionOutput, Port: port, MaxLen: OutputMaxLen}},
	}
}

// GroupMod creates or modifies a group on one switch.
type GroupMod struct {
	DPID    uint64       `json:"dpid"`
	GroupID uint32       `json:"group_id"`
	Type    GroupType    `json:"type"`
	Command GroupCommand `json:"command"`
	Buckets []Bucket     `json:"buckets"`
}

// Ports returns the output port of every bucket, in bucket order.
func (g GroupMod) Ports() []uint32 {
	ports := make([]uint32, 0, len(g.Buckets))
	for _, b := range g.Buckets {
		for _, a := range b.Actions {
			if a.Type == ActionOutput {
				ports = append(ports, a.Port)
			}
		}
	}
	return ports
}

// Probe is a latency probe to emit out of a switch port.
type Probe struct {
	DPID    uint64 `json:"dpid"`
	OutPort uint32 `json:"out_port"`
	Payload []byte `json:"payload"`
}
