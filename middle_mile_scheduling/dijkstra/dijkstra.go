package dijkstra

import (
	"math"
	"mpsdn/config"
	"mpsdn/middle_mile_scheduling/common"
	"mpsdn/topology"

	log "github.com/sirupsen/logrus"
)

// Name is the registry name of the engine.
const Name = "dijkstra"

type routeKey struct {
	src, dst uint64
}

// routeCache memoizes routes per (source, destination), tagged with the
// topology generation they were computed at.
type routeCache struct {
	built      bool
	generation uint64
	routes     map[routeKey]*topology.Path
}

// prepare drops every cached route unless the cache is in on_change mode and
// the topology has not moved since it was filled.
func (c *routeCache) prepare(mode config.CacheMode, generation uint64) {
	if mode == config.CacheOnChange && c.built && c.generation == generation {
		return
	}
	c.routes = make(map[routeKey]*topology.Path)
	c.generation = generation
	c.built = true
}

func (c *routeCache) get(src, dst uint64) (*topology.Path, bool) {
	p, ok := c.routes[routeKey{src, dst}]
	return p, ok
}

func (c *routeCache) put(src, dst uint64, p *topology.Path) {
	c.routes[routeKey{src, dst}] = p
}

// Engine is a latency-weighted label-setting shortest path search bounded by
// residual port capacity. It is not safe for concurrent use.
type Engine struct {
	cache routeCache
}

func New() *Engine {
	return &Engine{}
}

// FindRoute implements common.PathFinder
func (e *Engine) FindRoute(topo *topology.Topology, src, dst uint64, opts common.Options) (*topology.Path, error) {
	if _, err := topo.Switch(src); err != nil {
		return nil, err
	}
	if _, err := topo.Switch(dst); err != nil {
		return nil, err
	}
	log.Infof("searching route from %d to %d", src, dst)

	e.cache.prepare(opts.CacheMode, topo.Generation())
	if p, ok := e.cache.get(src, dst); ok {
		log.Infof("route from %d to %d pre-computed", src, dst)
		return p, nil
	}

	p, reached, err := search(topo, src, dst, opts)
	if err != nil {
		return nil, err
	}
	// residual capacity does not move the generation; aborted searches stay uncached
	if reached {
		e.cache.put(src, dst, p)
	}
	return p, nil
}

// search reports whether the destination was popped; when it was not the
// search ran dry or aborted on an exhausted switch.
func search(topo *topology.Topology, src, dst uint64, opts common.Options) (*topology.Path, bool, error) {
	switches := topo.Switches()
	distance := make(map[uint64]float64, len(switches))
	previous := make(map[uint64]*topology.Switch, len(switches))

	pq := newSwitchHeap(len(switches))
	for _, s := range switches {
		distance[s.DPID] = math.Inf(1)
		if s.DPID == src {
			distance[s.DPID] = 0
		}
		pq.insert(s, distance[s.DPID])
	}

	for {
		item, ok := pq.pop()
		if !ok {
			return nil, false, nil
		}
		s, dist := item.sw, item.dist
		log.Debugf("popping %d : %f", s.DPID, dist)

		exhausted := !s.HasPeerCapacity()
		if exhausted && opts.AbortOnExhaustedSwitch {
			log.Infof("switch %d has no peer capacity, search from %d to %d aborted", s.DPID, src, dst)
			return nil, false, nil
		}

		if s.DPID == dst {
			p, err := reconstruct(s, previous)
			return p, true, err
		}
		if exhausted || math.IsInf(dist, 1) {
			continue
		}

		for _, port := range s.SortedPorts() {
			if !port.Traversable(opts.MinTraversalCapacity) {
				log.Debugf("port %s of %d cannot be traversed", port, s.DPID)
				continue
			}
			peer, _ := port.Peer()
			if !pq.contains(peer.DPID) {
				continue
			}
			if candidate := dist + port.Latency; candidate < distance[peer.DPID] {
				distance[peer.DPID] = candidate
				previous[peer.DPID] = s
				pq.update(peer.DPID, candidate)
			}
		}
	}
}

// reconstruct walks the predecessor links back from the destination. A single
// switch path means the destination was never reached.
func reconstruct(dst *topology.Switch, previous map[uint64]*topology.Switch) (*topology.Path, error) {
	hops := []*topology.Switch{dst}
	for cur := previous[dst.DPID]; cur != nil; cur = previous[cur.DPID] {
		hops = append(hops, cur)
	}
	if len(hops) == 1 {
		return nil, nil
	}
	for i, j := 0, len(hops)-1; i < j; i, j = i+1, j-1 {
		hops[i], hops[j] = hops[j], hops[i]
	}
	return topology.NewPath(hops)
}
