package multipath

import (
	"mpsdn/config"
	"mpsdn/middle_mile_scheduling/common"
	"mpsdn/topology"

	log "github.com/sirupsen/logrus"
)

// StopReason tells why path selection for a pair ended.
type StopReason int

const (
	StopNoRoute StopReason = iota
	StopPathLimit
	StopHopDifference
	StopDelayImbalance
	StopDuplicateRoute
)

func (r StopReason) String() string {
	switch r {
	case StopNoRoute:
		return "no more paths"
	case StopPathLimit:
		return "path limit reached"
	case StopHopDifference:
		return "max hop difference reached"
	case StopDelayImbalance:
		return "mdi drop threshold reached"
	case StopDuplicateRoute:
		return "route already selected"
	}
	return "unknown"
}

// Selection is the outcome of one pair.
type Selection struct {
	Src, Dst uint64
	Paths    []*topology.Path
	Stop     StopReason
}

// Selector builds the bounded set of paths of an edge pair by repeatedly
// asking the path finder for the next best route and draining the residual
// capacity of every accepted path.
type Selector struct {
	finder common.PathFinder
}

func NewSelector(finder common.PathFinder) *Selector {
	return &Selector{finder: finder}
}

// Select runs path selection from src to dst and records every accepted path
// into table. Unless cfg.DrainAcrossPass is set, residual capacities are
// restored before returning, also when the search fails.
func (s *Selector) Select(topo *topology.Topology, src, dst uint64, cfg config.Config, table *SegmentTable) (*Selection, error) {
	if !cfg.DrainAcrossPass {
		defer topo.RestoreCapacities()
	}

	opts := common.OptionsFrom(cfg)
	sel := &Selection{Src: src, Dst: dst}
	var first *topology.Path

	for {
		p, err := s.finder.FindRoute(topo, src, dst, opts)
		if err != nil {
			return sel, err
		}
		if p == nil {
			sel.Stop = StopNoRoute
			break
		}
		if len(sel.Paths)+1 > cfg.MaxPathsPerFlow {
			sel.Stop = StopPathLimit
			break
		}
		if first == nil {
			first = p
		}
		if cfg.MaxHopDifference != -1 && p.Hops()-first.Hops() > cfg.MaxHopDifference {
			sel.Stop = StopHopDifference
			break
		}
		if MDI([]float64{p.Latency(), first.Latency()}) > cfg.MDIDropThreshold {
			sel.Stop = StopDelayImbalance
			break
		}
		if duplicate(sel.Paths, p) {
			sel.Stop = StopDuplicateRoute
			break
		}

		capacity, latency := p.Capacity(), p.Latency()
		if err := table.Record(p, capacity, latency); err != nil {
			return sel, err
		}
		log.Infof("Computed path %s capacity %f latency %f", p, capacity, latency)
		sel.Paths = append(sel.Paths, p)
		p.DecreaseCapacity(capacity)
	}

	log.Infof("path selection from %d to %d terminates with %d paths - %s", src, dst, len(sel.Paths), sel.Stop)
	return sel, nil
}

func duplicate(accepted []*topology.Path, p *topology.Path) bool {
	for _, a := range accepted {
		if a.SameRoute(p) {
			return true
		}
	}
	return false
}
