// Package graph_search finds routes with the gonum graph library. The graph is
// rebuilt from the traversable ports on every call, so exhausted switches are
// excluded from the search instead of aborting it and no routes are cached.
package graph_search

import (
	"math"
	"mpsdn/middle_mile_scheduling/common"
	"mpsdn/topology"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// Name is the registry name of the finder.
const Name = "gonum"

type Finder struct{}

func New() *Finder {
	return &Finder{}
}

func init() {
	if err := common.RegisterGlobal(Name, func() common.PathFinder { return New() }); err != nil {
		log.Warnf("Failed to register %s path finder: %v", Name, err)
	}
}

// Build converts the topology into a weighted directed graph whose edges are
// the ports that may be traversed, weighted by latency. Node ids are indexes
// into the returned switch slice.
func Build(topo *topology.Topology, minCapacity float64) (*simple.WeightedDirectedGraph, []*topology.Switch) {
	switches := topo.Switches()
	index := make(map[uint64]int64, len(switches))
	g := simple.NewWeightedDirectedGraph(0, math.Inf(1))
	for i, s := range switches {
		index[s.DPID] = int64(i)
		g.AddNode(simple.Node(i))
	}

	for _, s := range switches {
		for _, port := range s.SortedPorts() {
			if !port.Traversable(minCapacity) {
				continue
			}
			peer, _ := port.Peer()
			to, ok := index[peer.DPID]
			if !ok || peer.DPID == s.DPID {
				continue
			}
			g.SetWeightedEdge(simple.WeightedEdge{F: simple.Node(index[s.DPID]), T: simple.Node(to), W: port.Latency})
		}
	}
	return g, switches
}

// FindRoute implements common.PathFinder
func (f *Finder) FindRoute(topo *topology.Topology, src, dst uint64, opts common.Options) (*topology.Path, error) {
	if _, err := topo.Switch(src); err != nil {
		return nil, err
	}
	if _, err := topo.Switch(dst); err != nil {
		return nil, err
	}

	g, switches := Build(topo, opts.MinTraversalCapacity)
	var from, to int64 = -1, -1
	for i, s := range switches {
		switch s.DPID {
		case src:
			from = int64(i)
		case dst:
			to = int64(i)
		}
	}
	if from < 0 || to < 0 {
		return nil, nil
	}

	nodes, weight := path.DijkstraFrom(g.Node(from), g).To(to)
	if len(nodes) < 2 {
		log.Infof("no route from %d to %d", src, dst)
		return nil, nil
	}
	log.Debugf("route from %d to %d with latency %f", src, dst, weight)
	return topology.NewPath(toSwitches(nodes, switches))
}

func toSwitches(nodes []graph.Node, switches []*topology.Switch) []*topology.Switch {
	hops := make([]*topology.Switch, len(nodes))
	for i, n := range nodes {
		hops[i] = switches[n.ID()]
	}
	return hops
}
