package common

import (
	"mpsdn/config"
	"mpsdn/topology"
)

// Options carries the per-call tuning of a route search. They are taken from
// the controller configuration on every pass so that runtime updates apply.
type Options struct {
	// Ports whose residual capacity is not above this value are not traversed.
	MinTraversalCapacity float64
	// Abort the whole search when a popped switch has no peer capacity left,
	// instead of only skipping that switch.
	AbortOnExhaustedSwitch bool
	CacheMode              config.CacheMode
}

// OptionsFrom extracts the search options from a controller configuration.
func OptionsFrom(cfg config.Config) Options {
	return Options{
		MinTraversalCapacity:   cfg.MinTraversalCapacity,
		AbortOnExhaustedSwitch: cfg.AbortOnExhaustedSwitch,
		CacheMode:              cfg.RouteCacheMode,
	}
}

// PathFinder defines the interface for route search algorithms
type PathFinder interface {
	// FindRoute returns the lowest latency route from src to dst under the
	// current residual capacities. A nil path with a nil error means that no
	// route exists; unknown switches are reported as errors.
	FindRoute(topo *topology.Topology, src, dst uint64, opts Options) (*topology.Path, error)
}

// Factory creates a fresh PathFinder. Finders may keep per-instance state such
// as a route cache, so every controller builds its own.
type Factory func() PathFinder
