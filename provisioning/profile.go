package provisioning

import (
	"fmt"
	"mpsdn/common"
	"net/netip"
	"os"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// SwitchProfile is the static part of a switch's setup: what hosts sit
// behind it and how much its ports can carry.
type SwitchProfile struct {
	DPID           uint64             `yaml:"dpid"`
	HostNetwork    string             `yaml:"host_network,omitempty"`
	EdgePort       uint32             `yaml:"edge_port,omitempty"`
	PortCapacities map[uint32]float64 `yaml:"port_capacities,omitempty"`
}

// Profile holds the provisioning of every switch known in advance.
type Profile struct {
	Switches []SwitchProfile `yaml:"switches"`

	byDPID map[uint64]int
}

// Target receives the provisioned settings.
type Target interface {
	SetHostNetwork(dpid uint64, cidr string) error
	SetEdgePort(dpid uint64, port uint32) error
	SetPortCapacity(dpid uint64, port uint32, capacity float64) error
}

// Load reads a YAML profile from disk.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read provisioning file %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("provisioning file %s: %w", path, err)
	}
	log.Infof("loaded provisioning for %d switches from %s", len(p.Switches), path)
	return p, nil
}

// Parse decodes and validates a YAML profile.
func Parse(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	p.byDPID = make(map[uint64]int, len(p.Switches))
	for i, sw := range p.Switches {
		if _, dup := p.byDPID[sw.DPID]; dup {
			return nil, fmt.Errorf("%w: switch %d provisioned twice", common.ErrValidation, sw.DPID)
		}
		if sw.HostNetwork != "" {
			prefix, err := netip.ParsePrefix(sw.HostNetwork)
			if err != nil || !prefix.Addr().Is4() {
				return nil, fmt.Errorf("%w: switch %d host network %q", common.ErrValidation, sw.DPID, sw.HostNetwork)
			}
		}
		for port, capacity := range sw.PortCapacities {
			if capacity < 0 {
				return nil, fmt.Errorf("%w: switch %d port %d capacity %v", common.ErrValidation, sw.DPID, port, capacity)
			}
		}
		p.byDPID[sw.DPID] = i
	}
	return &p, nil
}

// For returns the profile of dpid.
func (p *Profile) For(dpid uint64) (SwitchProfile, bool) {
	if p == nil {
		return SwitchProfile{}, false
	}
	i, ok := p.byDPID[dpid]
	if !ok {
		return SwitchProfile{}, false
	}
	return p.Switches[i], true
}

// Apply pushes the settings to t. Ports the switch does not have are
// skipped with a warning, the remaining settings still apply.
func (sp SwitchProfile) Apply(t Target) error {
	if sp.HostNetwork != "" {
		if err := t.SetHostNetwork(sp.DPID, sp.HostNetwork); err != nil {
			return err
		}
	}
	if sp.EdgePort != 0 {
		if err := t.SetEdgePort(sp.DPID, sp.EdgePort); err != nil {
			log.Warningf("provisioned edge port %d of switch %d: %v", sp.EdgePort, sp.DPID, err)
		}
	}
	for port, capacity := range sp.PortCapacities {
		if err := t.SetPortCapacity(sp.DPID, port, capacity); err != nil {
			log.Warningf("provisioned capacity of switch %d port %d: %v", sp.DPID, port, err)
		}
	}
	return nil
}
