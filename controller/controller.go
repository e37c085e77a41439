package controller

import (
	"fmt"
	"mpsdn/common"
	"mpsdn/config"
	"mpsdn/flow_synthesis"
	"mpsdn/metrics_processing/delay"
	msc "mpsdn/middle_mile_scheduling/common"
	"mpsdn/middle_mile_scheduling/multipath"
	"mpsdn/provisioning"
	"mpsdn/southbound"
	"mpsdn/topology"
	"sync"
	"sync/atomic"
	"time"

	_ "mpsdn/middle_mile_scheduling/dijkstra"
	_ "mpsdn/middle_mile_scheduling/graph_search"

	log "github.com/sirupsen/logrus"
)

// Controller owns the topology and serializes every event, control call and
// computation pass behind one lock.
type Controller struct {
	mu sync.Mutex

	cfg         config.Config
	topo        *topology.Topology
	estimator   *delay.Estimator
	selector    *multipath.Selector
	groups      *flow_synthesis.GroupTable
	synthesizer *flow_synthesis.Synthesizer
	device      southbound.Device
	profile     *provisioning.Profile

	// set once a probe produced a link latency sample
	measured bool
	lastPass *PassReport

	computing atomic.Bool
	now       func() time.Time
}

type Options struct {
	Config config.Config
	Device southbound.Device
	// Profile may be nil.
	Profile *provisioning.Profile
}

func New(opts Options) (*Controller, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Device == nil {
		return nil, fmt.Errorf("%w: controller needs a forwarding device", common.ErrValidation)
	}
	finder, err := msc.NewGlobal(opts.Config.PathFindingAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v, available %v", common.ErrValidation, err, msc.ListGlobal())
	}

	topo := topology.New(topology.Defaults{
		MaxCapacity: opts.Config.DefaultMaxCapacity,
		Latency:     opts.Config.DefaultLatency,
	})
	groups := flow_synthesis.NewGroupTable()
	c := &Controller{
		cfg:         opts.Config,
		topo:        topo,
		estimator:   delay.NewEstimator(topo),
		selector:    multipath.NewSelector(finder),
		groups:      groups,
		synthesizer: flow_synthesis.NewSynthesizer(opts.Device, groups),
		device:      opts.Device,
		profile:     opts.Profile,
		now:         time.Now,
	}
	log.Infof("controller ready, path finding with %s", opts.Config.PathFindingAlgorithm)
	return c, nil
}

// Config returns the configuration in force.
func (c *Controller) Config() config.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// UpdateConfig applies the runtime-tunable fields. On error the previous
// configuration stays in force.
func (c *Controller) UpdateConfig(u config.Update) (config.Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, err := c.cfg.Apply(u)
	if err != nil {
		log.Warningf("configuration update rejected: %v", err)
		return c.cfg, err
	}
	c.cfg = next
	log.Infof("configuration updated: mdi_reordering %f mdi_drop %f max_hop_difference %d max_paths %d min_capacity %f monitor_interval %fs",
		next.MDIReorderingThreshold, next.MDIDropThreshold, next.MaxHopDifference,
		next.MaxPathsPerFlow, next.MinTraversalCapacity, next.MonitorIntervalSeconds)
	return next, nil
}

// Measured reports whether at least one link latency was measured.
func (c *Controller) Measured() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.measured
}

// ready tells the computation task whether a pass makes sense.
func (c *Controller) ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.topo.IsEmpty() && c.measured
}
