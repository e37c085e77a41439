package controller

import (
	"context"
	"errors"
	"mpsdn/common"
	"mpsdn/metrics_processing/delay"
	"mpsdn/metrics_processing/probing"
	"mpsdn/southbound"
	"mpsdn/topology"
	"time"

	log "github.com/sirupsen/logrus"
)

// SwitchAdded registers a switch, or handles its reconnection by reconciling
// its ports. Either way the device starts from an empty flow table: stale
// group ids of the switch are dropped, rules are wiped and the table-miss and
// probe punt rules are installed before the provisioning profile is applied.
func (c *Controller) SwitchAdded(ctx context.Context, dpid uint64, ports []topology.PortDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.topo.AddSwitch(dpid, ports) {
		log.Infof("switch %d reconnected", dpid)
		if err := c.topo.SyncPorts(dpid, ports); err != nil {
			return err
		}
	}
	if forgotten := c.groups.Forget(dpid); forgotten > 0 {
		log.Infof("forgot %d groups of switch %d", forgotten, dpid)
	}
	if err := c.device.DeleteAllRules(ctx, dpid); err != nil {
		log.Errorf("failed to clear rules of switch %d: %v", dpid, err)
	}
	for _, rule := range []southbound.Rule{
		southbound.TableMissRule(dpid),
		southbound.PuntRule(dpid, probing.Ethertype),
	} {
		if err := c.device.InstallRule(ctx, rule); err != nil {
			log.Errorf("failed to install rule [%s] on switch %d: %v", rule.Match, dpid, err)
		}
	}

	if sp, ok := c.profile.For(dpid); ok {
		if err := sp.Apply(c.topo); err != nil {
			log.Warningf("provisioning of switch %d failed: %v", dpid, err)
			return err
		}
		log.Infof("switch %d provisioned", dpid)
	}
	return nil
}

func (c *Controller) SwitchRemoved(dpid uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.topo.RemoveSwitch(dpid); err != nil {
		return err
	}
	c.groups.Forget(dpid)
	return nil
}

func (c *Controller) PortAdded(dpid uint64, desc topology.PortDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topo.AddPort(dpid, desc)
}

func (c *Controller) PortRemoved(dpid uint64, port uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topo.RemovePort(dpid, port)
}

func (c *Controller) LinkAdded(src, dst topology.Endpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topo.AddLink(src, dst)
}

func (c *Controller) LinkRemoved(src, dst topology.Endpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topo.RemoveLink(src, dst)
}

// PortStatsReply folds a stats reply into the controller delay of the switch
// and the available capacity of its ports.
func (c *Controller) PortStatsReply(dpid uint64, stats []delay.PortStat, repliedAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.estimator.ControllerDelay(dpid, repliedAt); err != nil {
		return err
	}
	return c.estimator.PortStats(dpid, stats, repliedAt)
}

// ProbeEcho handles a latency probe that came back to the controller. Probes
// that cannot be parsed are logged and dropped.
func (c *Controller) ProbeEcho(raw []byte, receivedAt time.Time) error {
	probe, err := probing.Parse(raw)
	if err != nil {
		log.Errorf("Exception while handling probe packet: %v", err)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	latency, err := c.estimator.LinkLatency(probe.Sender, probe.Receiver, receivedAt.Sub(probe.SentAt).Seconds())
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			log.Warningf("probe from %d to %d dropped: %v", probe.Sender, probe.Receiver, err)
		}
		return err
	}
	if !c.measured {
		log.Infof("first link latency measured (%d -> %d: %f), network is measured", probe.Sender, probe.Receiver, latency)
	}
	c.measured = true
	return nil
}
