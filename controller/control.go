package controller

import (
	"context"
	"fmt"
	"mpsdn/common"
	"mpsdn/southbound"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// SetPortCapacity sets the configured capacity of a port, bytes/s.
func (c *Controller) SetPortCapacity(dpid uint64, port uint32, capacity float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.topo.SetPortCapacity(dpid, port, capacity); err != nil {
		return err
	}
	log.Infof("capacity of switch %d port %d set to %f", dpid, port, capacity)
	return nil
}

// SetEdgePort pins the port of dpid that faces the host network.
func (c *Controller) SetEdgePort(dpid uint64, port uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.topo.SetEdgePort(dpid, port); err != nil {
		return err
	}
	log.Infof("edge port of switch %d pinned to %d", dpid, port)
	return nil
}

// SetHostNetwork sets the IPv4 network reachable behind dpid.
func (c *Controller) SetHostNetwork(dpid uint64, cidr string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.topo.SetHostNetwork(dpid, cidr); err != nil {
		return err
	}
	log.Infof("host network of switch %d set to %s", dpid, cidr)
	return nil
}

// TriggerComputation runs one computation pass now.
func (c *Controller) TriggerComputation(ctx context.Context) (PassReport, error) {
	return c.Pass(ctx)
}

// TriggerRecomputation drops cached routes and runs a pass.
func (c *Controller) TriggerRecomputation(ctx context.Context) (PassReport, error) {
	return c.run(ctx, true)
}

// SetGroupBuckets rewrites the buckets of a select group the controller
// installed on dpid, one bucket per port with the given weight.
func (c *Controller) SetGroupBuckets(ctx context.Context, dpid uint64, groupID uint32, weights map[uint32]uint16) error {
	if len(weights) == 0 {
		return fmt.Errorf("%w: group %d needs at least one bucket", common.ErrValidation, groupID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s, err := c.topo.Switch(dpid)
	if err != nil {
		return err
	}
	if !c.groups.Owns(dpid, groupID) {
		return fmt.Errorf("%w: group %d on switch %d", common.ErrNotFound, groupID, dpid)
	}

	ports := make([]uint32, 0, len(weights))
	for port := range weights {
		if _, ok := s.Ports[port]; !ok {
			return fmt.Errorf("%w: port %d on switch %d", common.ErrNotFound, port, dpid)
		}
		ports = append(ports, port)
	}
	slices.Sort(ports)

	buckets := make([]southbound.Bucket, 0, len(ports))
	for _, port := range ports {
		buckets = append(buckets, southbound.OutputBucket(port, weights[port]))
	}
	mod := southbound.GroupMod{
		DPID:    dpid,
		GroupID: groupID,
		Type:    southbound.GroupSelect,
		Command: southbound.GroupUpdate,
		Buckets: buckets,
	}
	if err := c.device.InstallOrUpdateGroup(ctx, mod); err != nil {
		return fmt.Errorf("group %d on switch %d: %w", groupID, dpid, err)
	}
	log.Infof("GROUP_MOD for %d GROUP_ID %d buckets %v", dpid, groupID, buckets)
	return nil
}
