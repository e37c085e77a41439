package config

import (
	"fmt"
	"mpsdn/common"
	"time"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

// CacheMode selects when the path-finding engine drops its cached routes.
type CacheMode string

const (
	// CacheAlways resolves every route fresh.
	CacheAlways CacheMode = "always"
	// CacheOnChange keeps cached routes until the topology generation moves.
	CacheOnChange CacheMode = "on_change"
)

// Config is the controller-wide tuning consumed by the path-finding engine,
// the multipath selector, the synthesizer and the periodic tasks.
type Config struct {
	MDIReorderingThreshold float64 `toml:"mdi_reordering_threshold" json:"mdi_reordering_threshold"`
	MDIDropThreshold       float64 `toml:"mdi_drop_threshold" json:"mdi_drop_threshold"`
	MaxHopDifference       int     `toml:"max_hop_difference" json:"max_hop_difference"` // -1 disables the check
	MaxPathsPerFlow        int     `toml:"max_paths_per_flow" json:"max_paths_per_flow"`
	MinTraversalCapacity   float64 `toml:"min_traversal_capacity" json:"min_traversal_capacity"` // bytes/s

	MonitorIntervalSeconds     float64 `toml:"monitor_interval_seconds" json:"monitor_interval_seconds"`
	MonitorDelaySeconds        float64 `toml:"monitor_delay_seconds" json:"monitor_delay_seconds"`
	ProbeEveryCycles           int     `toml:"probe_every_cycles" json:"probe_every_cycles"`
	ComputationIntervalSeconds float64 `toml:"computation_interval_seconds" json:"computation_interval_seconds"`
	ComputationDelaySeconds    float64 `toml:"computation_delay_seconds" json:"computation_delay_seconds"`
	ComputationRepeat          bool    `toml:"computation_repeat" json:"computation_repeat"`

	PathFindingAlgorithm   string    `toml:"path_finding_algorithm" json:"path_finding_algorithm"`
	RouteCacheMode         CacheMode `toml:"route_cache_mode" json:"route_cache_mode"`
	DrainAcrossPass        bool      `toml:"drain_across_pass" json:"drain_across_pass"`
	AbortOnExhaustedSwitch bool      `toml:"abort_on_exhausted_switch" json:"abort_on_exhausted_switch"`

	DefaultMaxCapacity float64 `toml:"default_max_capacity" json:"default_max_capacity"` // bytes/s
	DefaultLatency     float64 `toml:"default_latency" json:"default_latency"`           // seconds
}

// Default returns the values the controller has always shipped with.
func Default() Config {
	return Config{
		MDIReorderingThreshold: 0.2,
		MDIDropThreshold:       0.25,
		MaxHopDifference:       -1,
		MaxPathsPerFlow:        2,
		MinTraversalCapacity:   1000,

		MonitorIntervalSeconds:     1,
		MonitorDelaySeconds:        3,
		ProbeEveryCycles:           10,
		ComputationIntervalSeconds: 10,
		ComputationDelaySeconds:    5,
		ComputationRepeat:          true,

		PathFindingAlgorithm:   "dijkstra",
		RouteCacheMode:         CacheAlways,
		DrainAcrossPass:        false,
		AbortOnExhaustedSwitch: true,

		// 200Mb/s
		DefaultMaxCapacity: 25000000,
		DefaultLatency:     0.001,
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (c Config) MonitorInterval() time.Duration     { return seconds(c.MonitorIntervalSeconds) }
func (c Config) MonitorDelay() time.Duration        { return seconds(c.MonitorDelaySeconds) }
func (c Config) ComputationInterval() time.Duration { return seconds(c.ComputationIntervalSeconds) }
func (c Config) ComputationDelay() time.Duration    { return seconds(c.ComputationDelaySeconds) }

// Validate checks every field and reports the first violation.
func (c Config) Validate() error {
	switch {
	case c.MDIReorderingThreshold < 0 || c.MDIReorderingThreshold > 0.5:
		return fmt.Errorf("%w: mdi_reordering_threshold %v outside [0, 0.5]", common.ErrValidation, c.MDIReorderingThreshold)
	case c.MDIDropThreshold < 0 || c.MDIDropThreshold > 0.5:
		return fmt.Errorf("%w: mdi_drop_threshold %v outside [0, 0.5]", common.ErrValidation, c.MDIDropThreshold)
	case c.MaxHopDifference < -1:
		return fmt.Errorf("%w: max_hop_difference %d below -1", common.ErrValidation, c.MaxHopDifference)
	case c.MaxPathsPerFlow < 1:
		return fmt.Errorf("%w: max_paths_per_flow %d must be at least 1", common.ErrValidation, c.MaxPathsPerFlow)
	case c.MinTraversalCapacity < 0:
		return fmt.Errorf("%w: min_traversal_capacity %v is negative", common.ErrValidation, c.MinTraversalCapacity)
	case c.MonitorIntervalSeconds <= 0:
		return fmt.Errorf("%w: monitor_interval_seconds %v must be positive", common.ErrValidation, c.MonitorIntervalSeconds)
	case c.MonitorDelaySeconds < 0 || c.ComputationDelaySeconds < 0:
		return fmt.Errorf("%w: start delays must not be negative", common.ErrValidation)
	case c.ProbeEveryCycles < 1:
		return fmt.Errorf("%w: probe_every_cycles %d must be at least 1", common.ErrValidation, c.ProbeEveryCycles)
	case c.ComputationIntervalSeconds <= 0:
		return fmt.Errorf("%w: computation_interval_seconds %v must be positive", common.ErrValidation, c.ComputationIntervalSeconds)
	case c.RouteCacheMode != CacheAlways && c.RouteCacheMode != CacheOnChange:
		return fmt.Errorf("%w: unknown route_cache_mode %q", common.ErrValidation, c.RouteCacheMode)
	case c.PathFindingAlgorithm == "":
		return fmt.Errorf("%w: path_finding_algorithm is empty", common.ErrValidation)
	case c.DefaultMaxCapacity <= 0:
		return fmt.Errorf("%w: default_max_capacity %v must be positive", common.ErrValidation, c.DefaultMaxCapacity)
	case c.DefaultLatency < 0:
		return fmt.Errorf("%w: default_latency %v is negative", common.ErrValidation, c.DefaultLatency)
	}
	return nil
}

// Update carries the fields the control surface may change at runtime.
// All of them are mandatory.
type Update struct {
	MDIReorderingThreshold *float64 `json:"mdi_reordering_threshold"`
	MDIDropThreshold       *float64 `json:"mdi_drop_threshold"`
	MaxHopDifference       *int     `json:"max_hop_difference"`
	MaxPathsPerFlow        *int     `json:"max_paths_per_flow"`
	MinTraversalCapacity   *float64 `json:"min_traversal_capacity"`
	MonitorIntervalSeconds *float64 `json:"monitor_interval_seconds"`
}

// Apply returns a copy of c with u applied. c itself is never modified, so a
// failed update leaves the previous configuration in force.
func (c Config) Apply(u Update) (Config, error) {
	missing := ""
	switch {
	case u.MDIReorderingThreshold == nil:
		missing = "mdi_reordering_threshold"
	case u.MDIDropThreshold == nil:
		missing = "mdi_drop_threshold"
	case u.MaxHopDifference == nil:
		missing = "max_hop_difference"
	case u.MaxPathsPerFlow == nil:
		missing = "max_paths_per_flow"
	case u.MinTraversalCapacity == nil:
		missing = "min_traversal_capacity"
	case u.MonitorIntervalSeconds == nil:
		missing = "monitor_interval_seconds"
	}
	if missing != "" {
		return c, fmt.Errorf("%w: missing field %s", common.ErrValidation, missing)
	}

	next := c
	next.MDIReorderingThreshold = *u.MDIReorderingThreshold
	next.MDIDropThreshold = *u.MDIDropThreshold
	next.MaxHopDifference = *u.MaxHopDifference
	next.MaxPathsPerFlow = *u.MaxPathsPerFlow
	next.MinTraversalCapacity = *u.MinTraversalCapacity
	next.MonitorIntervalSeconds = *u.MonitorIntervalSeconds
	if err := next.Validate(); err != nil {
		return c, err
	}
	return next, nil
}

type LogConfig struct {
	Dir   string `toml:"dir"`
	Level string `toml:"level"`
}

type AdminConfig struct {
	Listen string `toml:"listen"`
}

type EtcdConfig struct {
	Endpoints          []string `toml:"endpoints"`
	DialTimeoutSeconds float64  `toml:"dial_timeout_seconds"`
	CommandPrefix      string   `toml:"command_prefix"`
	EventPrefix        string   `toml:"event_prefix"`
}

func (e EtcdConfig) DialTimeout() time.Duration { return seconds(e.DialTimeoutSeconds) }

// FileConfig is the on-disk process configuration.
type FileConfig struct {
	Controller       Config      `toml:"controller"`
	Log              LogConfig   `toml:"log"`
	Admin            AdminConfig `toml:"admin"`
	Etcd             EtcdConfig  `toml:"etcd"`
	ProvisioningFile string      `toml:"provisioning_file"`
}

func DefaultFile() FileConfig {
	return FileConfig{
		Controller: Default(),
		Log:        LogConfig{Dir: "./logs", Level: "info"},
		Admin:      AdminConfig{Listen: ":8080"},
		Etcd: EtcdConfig{
			DialTimeoutSeconds: 5,
			CommandPrefix:      "/multipath/commands/",
			EventPrefix:        "/multipath/events/",
		},
	}
}

// Load decodes a TOML file on top of DefaultFile.
func Load(path string) (*FileConfig, error) {
	cfg := DefaultFile()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		log.Warningf("config file %s has unknown keys: %v", path, undecoded)
	}
	if err := cfg.Controller.Validate(); err != nil {
		return nil, fmt.Errorf("invalid controller section in %s: %w", path, err)
	}
	return &cfg, nil
}
