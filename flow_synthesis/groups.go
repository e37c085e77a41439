package flow_synthesis

import (
	"mpsdn/southbound"
)

// GroupKey identifies the multipath group a switch uses for one inbound port
// of one (source, destination) flow.
type GroupKey struct {
	Node   uint64
	Src    uint64
	Dst    uint64
	InPort uint32
}

// reorderingPort marks the reordering group of a (node, source, destination)
// in the key space; real inbound ports are never zero.
const reorderingPort = 0

func reorderingKey(node, src, dst uint64) GroupKey {
	return GroupKey{Node: node, Src: src, Dst: dst, InPort: reorderingPort}
}

type groupEntry struct {
	id        uint32
	installed bool
}

// GroupTable keeps group identities across computation passes so that later
// passes modify device groups in place.
type GroupTable struct {
	entries map[GroupKey]*groupEntry
	inUse   map[uint32]GroupKey
	next    uint32
}

func NewGroupTable() *GroupTable {
	return &GroupTable{
		entries: make(map[GroupKey]*groupEntry),
		inUse:   make(map[uint32]GroupKey),
		next:    1,
	}
}

// Acquire returns the id for key, allocating one the first time, and the
// command that installs it: CREATE until an install succeeded, UPDATE after.
func (t *GroupTable) Acquire(key GroupKey) (uint32, southbound.GroupCommand) {
	e, ok := t.entries[key]
	if !ok {
		e = &groupEntry{id: t.allocate(key)}
		t.entries[key] = e
	}
	if e.installed {
		return e.id, southbound.GroupUpdate
	}
	return e.id, southbound.GroupCreate
}

// Installed records that the device accepted the group for key.
func (t *GroupTable) Installed(key GroupKey) {
	if e, ok := t.entries[key]; ok {
		e.installed = true
	}
}

func (t *GroupTable) allocate(key GroupKey) uint32 {
	for {
		id := t.next
		t.next++
		if t.next == 0 {
			t.next = 1
		}
		if _, taken := t.inUse[id]; !taken {
			t.inUse[id] = key
			return id
		}
	}
}

// Lookup returns the id allocated for key.
func (t *GroupTable) Lookup(key GroupKey) (uint32, bool) {
	e, ok := t.entries[key]
	if !ok {
		return 0, false
	}
	return e.id, true
}

// Owns reports whether id is allocated to a group on switch dpid and already
// installed there.
func (t *GroupTable) Owns(dpid uint64, id uint32) bool {
	key, ok := t.inUse[id]
	if !ok || key.Node != dpid {
		return false
	}
	return t.entries[key].installed
}

// Forget drops every group on switch dpid, e.g. after the switch reconnected
// with an empty group table.
func (t *GroupTable) Forget(dpid uint64) int {
	n := 0
	for key, e := range t.entries {
		if key.Node == dpid {
			delete(t.inUse, e.id)
			delete(t.entries, key)
			n++
		}
	}
	return n
}

func (t *GroupTable) Len() int {
	return len(t.entries)
}
