package etcd

import (
	"context"
	"encoding/json"
	"errors"
	"mpsdn/common"
	"mpsdn/controller"
	"mpsdn/metrics_processing/delay"
	"mpsdn/southbound"
	"mpsdn/topology"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

var (
	_ southbound.Device = (*CommandPublisher)(nil)
	_ Handler           = (*controller.Controller)(nil)
)

// memKV keeps puts and deletes; every other KV method panics.
type memKV struct {
	clientv3.KV
	mu      sync.Mutex
	keys    []string
	values  map[string]string
	deleted []string
	err     error
}

func newMemKV() *memKV {
	return &memKV{values: make(map[string]string)}
}

func (m *memKV) Put(_ context.Context, key, val string, _ ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.keys = append(m.keys, key)
	m.values[key] = val
	return &clientv3.PutResponse{}, nil
}

func (m *memKV) Delete(_ context.Context, key string, _ ...clientv3.OpOption) (*clientv3.DeleteResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, key)
	return &clientv3.DeleteResponse{}, nil
}

func (m *memKV) command(t *testing.T, key string) Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cmd Command
	require.NoError(t, json.Unmarshal([]byte(m.values[key]), &cmd))
	return cmd
}

func TestPublisherKeysAndPayloads(t *testing.T) {
	kv := newMemKV()
	p := NewCommandPublisher(kv, "/multipath/commands/")
	ctx := context.Background()

	src := netip.MustParsePrefix("10.0.1.0/24")
	dst := netip.MustParsePrefix("10.0.4.0/24")
	rule := southbound.Rule{
		DPID:     3,
		Priority: southbound.PriorityDefault,
		Match:    southbound.IPv4Match(src, dst, 2),
		Actions:  []southbound.Action{southbound.Output(1)},
	}
	require.NoError(t, p.InstallRule(ctx, rule))
	require.NoError(t, p.InstallOrUpdateGroup(ctx, southbound.GroupMod{
		DPID: 3, GroupID: 7, Type: southbound.GroupSelect, Command: southbound.GroupCreate,
		Buckets: []southbound.Bucket{southbound.OutputBucket(2, 2), southbound.OutputBucket(3, 2)},
	}))
	require.NoError(t, p.DeleteAllRules(ctx, 4))
	require.NoError(t, p.EmitProbePacket(ctx, southbound.Probe{DPID: 1, OutPort: 2, Payload: []byte("1;2;3.000000")}))
	require.NoError(t, p.RequestPortStats(ctx, 1))

	require.Len(t, kv.keys, 5)
	assert.Equal(t, "/multipath/commands/3/00000000000000000001", kv.keys[0])
	assert.Equal(t, p.Key(3, 2), kv.keys[1])
	assert.Less(t, kv.keys[0], kv.keys[1])

	cmd := kv.command(t, kv.keys[0])
	assert.Equal(t, CommandInstallRule, cmd.Kind)
	assert.Equal(t, uint64(3), cmd.DPID)
	var decoded southbound.Rule
	require.NoError(t, json.Unmarshal(cmd.Payload, &decoded))
	assert.Equal(t, rule.Match.String(), decoded.Match.String())
	assert.Equal(t, rule.Actions, decoded.Actions)

	group := kv.command(t, kv.keys[1])
	assert.Equal(t, CommandGroupMod, group.Kind)
	var mod southbound.GroupMod
	require.NoError(t, json.Unmarshal(group.Payload, &mod))
	assert.Equal(t, []uint32{2, 3}, mod.Ports())

	del := kv.command(t, kv.keys[2])
	assert.Equal(t, CommandDeleteAllRules, del.Kind)
	assert.Empty(t, del.Payload)
	assert.Equal(t, CommandEmitProbe, kv.command(t, kv.keys[3]).Kind)
	assert.Equal(t, CommandPortStatsRequest, kv.command(t, kv.keys[4]).Kind)
}

func TestPublisherReportsPutErrors(t *testing.T) {
	kv := newMemKV()
	kv.err = errors.New("etcdserver: request timed out")
	p := NewCommandPublisher(kv, "/c/")
	err := p.RequestPortStats(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "switch 1")
}

type call struct {
	name string
	args []any
}

type recordingHandler struct {
	calls []call
	err   error
}

func (h *recordingHandler) record(name string, args ...any) error {
	h.calls = append(h.calls, call{name, args})
	return h.err
}

func (h *recordingHandler) SwitchAdded(_ context.Context, dpid uint64, ports []topology.PortDescriptor) error {
	return h.record("SwitchAdded", dpid, len(ports))
}
func (h *recordingHandler) SwitchRemoved(dpid uint64) error { return h.record("SwitchRemoved", dpid) }
func (h *recordingHandler) PortAdded(dpid uint64, desc topology.PortDescriptor) error {
	return h.record("PortAdded", dpid, desc.Number)
}
func (h *recordingHandler) PortRemoved(dpid uint64, port uint32) error {
	return h.record("PortRemoved", dpid, port)
}
func (h *recordingHandler) LinkAdded(src, dst topology.Endpoint) error {
	return h.record("LinkAdded", src, dst)
}
func (h *recordingHandler) LinkRemoved(src, dst topology.Endpoint) error {
	return h.record("LinkRemoved", src, dst)
}
func (h *recordingHandler) PortStatsReply(dpid uint64, stats []delay.PortStat, at time.Time) error {
	return h.record("PortStatsReply", dpid, len(stats), at)
}
func (h *recordingHandler) ProbeEcho(raw []byte, at time.Time) error {
	return h.record("ProbeEcho", string(raw), at)
}

func TestDispatch(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	at := time.Unix(1700000100, 0).UTC()

	tests := []struct {
		name string
		json string
		want call
	}{
		{"switch added", `{"type":"switch_added","dpid":1,"ports":[{"number":1},{"number":2}]}`, call{"SwitchAdded", []any{uint64(1), 2}}},
		{"switch removed", `{"type":"switch_removed","dpid":1}`, call{"SwitchRemoved", []any{uint64(1)}}},
		{"port added", `{"type":"port_added","dpid":1,"port":{"number":5}}`, call{"PortAdded", []any{uint64(1), uint32(5)}}},
		{"port removed", `{"type":"port_removed","dpid":1,"port":{"number":5}}`, call{"PortRemoved", []any{uint64(1), uint32(5)}}},
		{"link added", `{"type":"link_added","src":{"dpid":1,"port":2},"dst":{"dpid":2,"port":1}}`,
			call{"LinkAdded", []any{topology.Endpoint{DPID: 1, Port: 2}, topology.Endpoint{DPID: 2, Port: 1}}}},
		{"link removed", `{"type":"link_removed","src":{"dpid":1,"port":2},"dst":{"dpid":2,"port":1}}`,
			call{"LinkRemoved", []any{topology.Endpoint{DPID: 1, Port: 2}, topology.Endpoint{DPID: 2, Port: 1}}}},
		{"stats without time", `{"type":"port_stats_reply","dpid":1,"stats":[{"number":1,"tx_bytes":5,"rx_bytes":6}]}`,
			call{"PortStatsReply", []any{uint64(1), 1, now}}},
		{"probe with time", `{"type":"probe_echo","payload":"1;2;1700000000.000000","at":"2023-11-14T22:15:00Z"}`,
			call{"ProbeEcho", []any{"1;2;1700000000.000000", at}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &recordingHandler{}
			w := NewEventWorker(nil, nil, "/e/")
			w.now = func() time.Time { return now }
			w.RegisterHandler(h)

			require.NoError(t, w.Dispatch(context.Background(), []byte(tt.json)))
			require.Len(t, h.calls, 1)
			assert.Equal(t, tt.want.name, h.calls[0].name)
			for i, arg := range tt.want.args {
				if ts, ok := arg.(time.Time); ok {
					assert.True(t, ts.Equal(h.calls[0].args[i].(time.Time)), "%v != %v", ts, h.calls[0].args[i])
					continue
				}
				assert.Equal(t, arg, h.calls[0].args[i])
			}
		})
	}
}

func TestDispatchRejects(t *testing.T) {
	w := NewEventWorker(nil, nil, "/e/")
	w.RegisterHandler(&recordingHandler{})

	err := w.Dispatch(context.Background(), []byte(`{"type":"flow_removed"}`))
	assert.True(t, errors.Is(err, common.ErrNotFound))

	err = w.Dispatch(context.Background(), []byte(`{"type":`))
	assert.Error(t, err)
}

// chanWatcher serves one watch channel fed by the test.
type chanWatcher struct {
	clientv3.Watcher
	ch chan clientv3.WatchResponse
}

func (w *chanWatcher) Watch(context.Context, string, ...clientv3.OpOption) clientv3.WatchChan {
	return w.ch
}

func putEvent(key, value string) *clientv3.Event {
	return &clientv3.Event{Type: clientv3.EventTypePut, Kv: &mvccpb.KeyValue{Key: []byte(key), Value: []byte(value)}}
}

func TestStartDispatchesInOrderAndDeletes(t *testing.T) {
	watcher := &chanWatcher{ch: make(chan clientv3.WatchResponse, 2)}
	kv := newMemKV()
	h := &recordingHandler{}
	w := NewEventWorker(watcher, kv, "/e/")
	w.RegisterHandler(h)

	watcher.ch <- clientv3.WatchResponse{Events: []*clientv3.Event{
		putEvent("/e/1", `{"type":"switch_added","dpid":1}`),
		putEvent("/e/2", `{"type":"switch_added","dpid":2}`),
		{Type: clientv3.EventTypeDelete, Kv: &mvccpb.KeyValue{Key: []byte("/e/0")}},
	}}
	watcher.ch <- clientv3.WatchResponse{Events: []*clientv3.Event{
		putEvent("/e/3", `{"type":"link_added","src":{"dpid":1,"port":2},"dst":{"dpid":2,"port":1}}`),
		putEvent("/e/4", `garbage`),
	}}
	close(watcher.ch)

	err := w.Start(context.Background())
	assert.EqualError(t, err, "watch channel closed")

	require.Len(t, h.calls, 3)
	assert.Equal(t, "SwitchAdded", h.calls[0].name)
	assert.Equal(t, uint64(1), h.calls[0].args[0])
	assert.Equal(t, uint64(2), h.calls[1].args[0])
	assert.Equal(t, "LinkAdded", h.calls[2].name)
	assert.Equal(t, []string{"/e/1", "/e/2", "/e/3", "/e/4"}, kv.deleted)
}

func TestStartStopsWithContext(t *testing.T) {
	watcher := &chanWatcher{ch: make(chan clientv3.WatchResponse)}
	w := NewEventWorker(watcher, nil, "/e/")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, w.Start(ctx))
}
