package etcd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mpsdn/common"
	"mpsdn/metrics_processing/delay"
	"mpsdn/topology"
	"time"

	log "github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	EventSwitchAdded    = "switch_added"
	EventSwitchRemoved  = "switch_removed"
	EventPortAdded      = "port_added"
	EventPortRemoved    = "port_removed"
	EventLinkAdded      = "link_added"
	EventLinkRemoved    = "link_removed"
	EventPortStatsReply = "port_stats_reply"
	EventProbeEcho      = "probe_echo"
)

// Event is a topology or telemetry event written by the transport.
type Event struct {
	Type  string                    `json:"type"`
	DPID  uint64                    `json:"dpid,omitempty"`
	Ports []topology.PortDescriptor `json:"ports,omitempty"`
	Port  topology.PortDescriptor   `json:"port"`
	Src   topology.Endpoint         `json:"src"`
	Dst   topology.Endpoint         `json:"dst"`
	Stats []delay.PortStat          `json:"stats,omitempty"`
	// Payload of a probe echo, "sender;receiver;timestamp".
	Payload string `json:"payload,omitempty"`
	// When the transport received the reply or probe. Zero means now.
	At time.Time `json:"at"`
}

// Handler consumes decoded events.
type Handler interface {
	SwitchAdded(ctx context.Context, dpid uint64, ports []topology.PortDescriptor) error
	SwitchRemoved(dpid uint64) error
	PortAdded(dpid uint64, desc topology.PortDescriptor) error
	PortRemoved(dpid uint64, port uint32) error
	LinkAdded(src, dst topology.Endpoint) error
	LinkRemoved(src, dst topology.Endpoint) error
	PortStatsReply(dpid uint64, stats []delay.PortStat, repliedAt time.Time) error
	ProbeEcho(raw []byte, receivedAt time.Time) error
}

type EventProcessor func(ctx context.Context, event Event) error

// EventWorker watches the event prefix and dispatches every event to its
// processor. Events are handled one at a time in revision order, since later
// topology events depend on earlier ones. Handled keys are deleted.
type EventWorker struct {
	watcher    clientv3.Watcher
	kv         clientv3.KV
	prefix     string
	workerID   string
	processors map[string]EventProcessor
	now        func() time.Time
}

func NewEventWorker(watcher clientv3.Watcher, kv clientv3.KV, prefix string) *EventWorker {
	return &EventWorker{
		watcher:    watcher,
		kv:         kv,
		prefix:     prefix,
		workerID:   fmt.Sprintf("worker-%d", time.Now().Unix()),
		processors: make(map[string]EventProcessor),
		now:        time.Now,
	}
}

func (w *EventWorker) RegisterProcessor(eventType string, processor EventProcessor) {
	w.processors[eventType] = processor
}

// RegisterHandler routes every event type to h.
func (w *EventWorker) RegisterHandler(h Handler) {
	w.RegisterProcessor(EventSwitchAdded, func(ctx context.Context, e Event) error {
		return h.SwitchAdded(ctx, e.DPID, e.Ports)
	})
	w.RegisterProcessor(EventSwitchRemoved, func(_ context.Context, e Event) error {
		return h.SwitchRemoved(e.DPID)
	})
	w.RegisterProcessor(EventPortAdded, func(_ context.Context, e Event) error {
		return h.PortAdded(e.DPID, e.Port)
	})
	w.RegisterProcessor(EventPortRemoved, func(_ context.Context, e Event) error {
		return h.PortRemoved(e.DPID, e.Port.Number)
	})
	w.RegisterProcessor(EventLinkAdded, func(_ context.Context, e Event) error {
		return h.LinkAdded(e.Src, e.Dst)
	})
	w.RegisterProcessor(EventLinkRemoved, func(_ context.Context, e Event) error {
		return h.LinkRemoved(e.Src, e.Dst)
	})
	w.RegisterProcessor(EventPortStatsReply, func(_ context.Context, e Event) error {
		return h.PortStatsReply(e.DPID, e.Stats, e.At)
	})
	w.RegisterProcessor(EventProbeEcho, func(_ context.Context, e Event) error {
		return h.ProbeEcho([]byte(e.Payload), e.At)
	})
}

// Dispatch decodes one event and runs its processor.
func (w *EventWorker) Dispatch(ctx context.Context, raw []byte) error {
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}
	processor, ok := w.processors[event.Type]
	if !ok {
		return fmt.Errorf("%w: no processor registered for event type %q", common.ErrNotFound, event.Type)
	}
	if event.At.IsZero() {
		event.At = w.now()
	}
	return processor(ctx, event)
}

// Start blocks until ctx is done or the watch channel closes.
func (w *EventWorker) Start(ctx context.Context) error {
	log.Infof("[%s] Worker starting, watching %s", w.workerID, w.prefix)

	watchChan := w.watcher.Watch(ctx, w.prefix, clientv3.WithPrefix())
	for {
		select {
		case <-ctx.Done():
			log.Infof("[%s] Worker shutting down...", w.workerID)
			return nil

		case resp, ok := <-watchChan:
			if !ok {
				return fmt.Errorf("watch channel closed")
			}
			if err := resp.Err(); err != nil {
				return fmt.Errorf("watch failed: %w", err)
			}
			for _, event := range resp.Events {
				if event.Type != clientv3.EventTypePut {
					continue
				}
				w.handle(ctx, string(event.Kv.Key), event.Kv.Value)
			}
		}
	}
}

func (w *EventWorker) handle(ctx context.Context, key string, value []byte) {
	if err := w.Dispatch(ctx, value); err != nil {
		if errors.Is(err, common.ErrNotFound) || errors.Is(err, common.ErrMalformedProbe) {
			log.Warningf("[%s] event %s dropped: %v", w.workerID, key, err)
		} else {
			log.Errorf("[%s] event %s failed: %v", w.workerID, key, err)
		}
	}
	if w.kv == nil {
		return
	}
	if _, err := w.kv.Delete(ctx, key); err != nil {
		log.Errorf("[%s] failed to delete handled event %s: %v", w.workerID, key, err)
	}
}
