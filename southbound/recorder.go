package southbound

import (
	"context"
	"sync"
)

// Recorder is an in-memory Device that keeps every command it receives.
type Recorder struct {
	mu           sync.Mutex
	rules        []Rule
	groups       []GroupMod
	deletes      []uint64
	probes       []Probe
	statsRequest []uint64

	// Err, when set, is returned by every call after recording it.
	Err error
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) InstallRule(_ context.Context, rule Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule)
	return r.Err
}

func (r *Recorder) InstallOrUpdateGroup(_ context.Context, group GroupMod) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups = append(r.groups, group)
	return r.Err
}

func (r *Recorder) DeleteAllRules(_ context.Context, dpid uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletes = append(r.deletes, dpid)
	return r.Err
}

func (r *Recorder) EmitProbePacket(_ context.Context, probe Probe) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes = append(r.probes, probe)
	return r.Err
}

func (r *Recorder) RequestPortStats(_ context.Context, dpid uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statsRequest = append(r.statsRequest, dpid)
	return r.Err
}

func (r *Recorder) Rules() []Rule {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Rule(nil), r.rules...)
}

// RulesFor returns the rules installed on dpid.
func (r *Recorder) RulesFor(dpid uint64) []Rule {
	var rules []Rule
	for _, rule := range r.Rules() {
		if rule.DPID == dpid {
			rules = append(rules, rule)
		}
	}
	return rules
}

func (r *Recorder) Groups() []GroupMod {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]GroupMod(nil), r.groups...)
}

// GroupsFor returns the group mods sent to dpid.
func (r *Recorder) GroupsFor(dpid uint64) []GroupMod {
	var groups []GroupMod
	for _, g := range r.Groups() {
		if g.DPID == dpid {
			groups = append(groups, g)
		}
	}
	return groups
}

func (r *Recorder) Deletes() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.deletes...)
}

func (r *Recorder) Probes() []Probe {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Probe(nil), r.probes...)
}

func (r *Recorder) StatsRequests() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.statsRequest...)
}

// Reset forgets every recorded command.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = nil
	r.groups = nil
	r.deletes = nil
	r.probes = nil
	r.statsRequest = nil
}
