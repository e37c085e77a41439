package dijkstra

import "mpsdn/topology"

type heapItem struct {
	sw   *topology.Switch
	dist float64
}

// switchHeap is a min-heap of switches keyed by tentative distance that
// supports decreasing the key of a queued switch.
type switchHeap struct {
	items    []heapItem
	position map[uint64]int // dpid -> index in items
}

func newSwitchHeap(size int) *switchHeap {
	return &switchHeap{
		items:    make([]heapItem, 0, size),
		position: make(map[uint64]int, size),
	}
}

func (h *switchHeap) Len() int {
	return len(h.items)
}

func (h *switchHeap) contains(dpid uint64) bool {
	_, ok := h.position[dpid]
	return ok
}

// insert s with the given distance
func (h *switchHeap) insert(s *topology.Switch, dist float64) {
	h.items = append(h.items, heapItem{sw: s, dist: dist})
	h.position[s.DPID] = len(h.items) - 1
	h.shiftUp(len(h.items) - 1)
}

// pop removes and returns the switch with the smallest distance
func (h *switchHeap) pop() (heapItem, bool) {
	if len(h.items) == 0 {
		return heapItem{}, false
	}
	top := h.items[0]
	last := len(h.items) - 1
	h.exchange(0, last)
	h.items = h.items[:last]
	delete(h.position, top.sw.DPID)
	h.shiftDown(0)
	return top, true
}

// update changes the distance of a queued switch and restores the heap order
func (h *switchHeap) update(dpid uint64, dist float64) {
	i, ok := h.position[dpid]
	if !ok {
		return
	}
	h.items[i].dist = dist
	h.shiftDown(i)
	h.shiftUp(h.position[dpid])
}

// adjust minHeap from down to up
func (h *switchHeap) shiftUp(son int) {
	for son > 0 {
		dad := (son - 1) / 2
		if !(h.items[son].dist < h.items[dad].dist) {
			break
		}
		h.exchange(son, dad)
		son = dad
	}
}

// adjust minHeap from up to down
func (h *switchHeap) shiftDown(dad int) {
	end := len(h.items) - 1
	son := dad*2 + 1
	for son <= end {
		if son+1 <= end && h.items[son+1].dist < h.items[son].dist { // choose the smaller son
			son++
		}
		if !(h.items[son].dist < h.items[dad].dist) {
			break
		}
		h.exchange(dad, son)
		dad = son
		son = dad*2 + 1
	}
}

func (h *switchHeap) exchange(x, y int) {
	h.items[x], h.items[y] = h.items[y], h.items[x]
	h.position[h.items[x].sw.DPID] = x
	h.position[h.items[y].sw.DPID] = y
}
