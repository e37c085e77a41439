package controller

import (
	"context"
	"mpsdn/common"
	"mpsdn/flow_synthesis"
	"mpsdn/metrics_processing"
	"mpsdn/middle_mile_scheduling/multipath"
	"time"

	log "github.com/sirupsen/logrus"
)

// PairResult is the outcome of one ordered edge pair.
type PairResult struct {
	Src   uint64 `json:"src"`
	Dst   uint64 `json:"dst"`
	Paths int    `json:"paths"`
	Stop  string `json:"stop,omitempty"`
	Error string `json:"error,omitempty"`
}

// PassReport summarizes one computation pass.
type PassReport struct {
	Started    time.Time             `json:"started"`
	Duration   time.Duration         `json:"duration"`
	Generation uint64                `json:"generation"`
	Pairs      int                   `json:"pairs"`
	Skipped    int                   `json:"skipped"`
	Paths      int                   `json:"paths"`
	Forwarding flow_synthesis.Report `json:"forwarding"`
	Results    []PairResult          `json:"results"`
}

// Pass computes and installs multipath forwarding for every ordered pair of
// edge switches. Only one pass runs at a time; a request arriving while one
// is running fails with ErrComputationInProgress.
func (c *Controller) Pass(ctx context.Context) (PassReport, error) {
	return c.run(ctx, false)
}

// run claims the single-flight guard before taking the lock, so a request
// never waits behind a running pass. With touch the cached routes are
// dropped before computing.
func (c *Controller) run(ctx context.Context, touch bool) (PassReport, error) {
	if !c.computing.CompareAndSwap(false, true) {
		log.Warningf("computation requested while a pass is running, ignoring")
		return PassReport{}, common.ErrComputationInProgress
	}
	defer c.computing.Store(false)

	c.mu.Lock()
	defer c.mu.Unlock()

	if touch {
		c.topo.Touch()
	}
	report, err := c.pass(ctx)
	c.lastPass = &report
	return report, err
}

// Computing reports whether a pass is running.
func (c *Controller) Computing() bool {
	return c.computing.Load()
}

func (c *Controller) pass(ctx context.Context) (PassReport, error) {
	cfg := c.cfg
	report := PassReport{Started: c.now(), Generation: c.topo.Generation()}
	log.Infof("Starting multipath computation sub-routine")

	c.topo.RestoreCapacities()
	if cfg.DrainAcrossPass {
		defer c.topo.RestoreCapacities()
	}

	table := multipath.NewSegmentTable()
	edges := c.topo.EdgeSwitches()
	var selected []int
	for _, a := range edges {
		for _, b := range edges {
			if a.DPID == b.DPID {
				continue
			}
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Pairs++
			result := PairResult{Src: a.DPID, Dst: b.DPID}

			log.Infof("Computing paths from %d to %d", a.DPID, b.DPID)
			sel, err := c.selector.Select(c.topo, a.DPID, b.DPID, cfg, table)
			if err != nil {
				log.Warningf("skipping pair %d -> %d: %v", a.DPID, b.DPID, err)
				result.Error = err.Error()
				report.Skipped++
			} else {
				result.Paths = len(sel.Paths)
				result.Stop = sel.Stop.String()
				report.Paths += len(sel.Paths)
				if len(sel.Paths) > 0 {
					selected = append(selected, len(report.Results))
				}
			}
			report.Results = append(report.Results, result)
		}
	}

	for _, i := range selected {
		result := &report.Results[i]
		if err := ctx.Err(); err != nil {
			return report, err
		}
		fwd, err := c.synthesizer.Synthesize(ctx, c.topo, table, result.Src, result.Dst, cfg.MDIReorderingThreshold)
		report.Forwarding.Add(fwd)
		if err != nil {
			log.Warningf("skipping forwarding of pair %d -> %d: %v", result.Src, result.Dst, err)
			result.Error = err.Error()
			report.Skipped++
		}
	}

	report.Duration = c.now().Sub(report.Started)
	log.Infof("Multipath computation finished in %f seconds: %d pairs, %d paths, %d skipped",
		report.Duration.Seconds(), report.Pairs, report.Paths, report.Skipped)
	return report, nil
}

// RunComputation starts the periodic computation task. It waits for the
// computation delay, then runs a pass every computation interval once the
// topology is known and measured. Without repeat it stops after the first
// successful pass.
func (c *Controller) RunComputation(ctx context.Context) {
	cfg := c.Config()
	log.Infof("Starting multipath computation sub-routine in %v", cfg.ComputationDelay())

	select {
	case <-time.After(cfg.ComputationDelay()):
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(cfg.ComputationInterval())
	defer ticker.Stop()

	for {
		if c.ready() {
			_, err := c.Pass(ctx)
			if err != nil {
				log.Warningf("computation pass failed: %v", err)
			} else if !c.Config().ComputationRepeat {
				log.Infof("computation runs once, task done")
				return
			}
		} else {
			log.Debugf("network not measured yet, computation postponed")
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			log.Infof("computation task shutting down")
			return
		}
	}
}

// StatsTargets stamps the stats request time of every switch and returns
// their dpids. It is called by the monitor right before it sends the requests.
func (c *Controller) StatsTargets(at time.Time) []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	switches := c.topo.Switches()
	dpids := make([]uint64, 0, len(switches))
	for _, s := range switches {
		if err := c.estimator.StatsRequested(s.DPID, at); err != nil {
			continue
		}
		dpids = append(dpids, s.DPID)
	}
	return dpids
}

// ProbeTargets lists every linked port a probe should leave through.
func (c *Controller) ProbeTargets() []metrics_processing.ProbeTarget {
	c.mu.Lock()
	defer c.mu.Unlock()
	var targets []metrics_processing.ProbeTarget
	for _, s := range c.topo.Switches() {
		for _, peer := range s.Peers() {
			port, ok := s.LocalPortTo(peer)
			if !ok {
				continue
			}
			targets = append(targets, metrics_processing.ProbeTarget{DPID: s.DPID, Port: port, Peer: peer})
		}
	}
	return targets
}
