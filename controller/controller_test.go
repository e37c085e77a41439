package controller

import (
	"context"
	"errors"
	"mpsdn/common"
	"mpsdn/config"
	"mpsdn/metrics_processing"
	"mpsdn/metrics_processing/delay"
	"mpsdn/metrics_processing/probing"
	"mpsdn/provisioning"
	"mpsdn/southbound"
	"mpsdn/topology"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetLevel(log.WarnLevel)
}

func ep(dpid uint64, port uint32) topology.Endpoint {
	return topology.Endpoint{DPID: dpid, Port: port}
}

func ports() []topology.PortDescriptor {
	return []topology.PortDescriptor{{Number: 1}, {Number: 2}, {Number: 3}}
}

func newController(t *testing.T, profile *provisioning.Profile) (*Controller, *southbound.Recorder) {
	device := southbound.NewRecorder()
	c, err := New(Options{Config: config.Default(), Device: device, Profile: profile})
	require.NoError(t, err)
	return c, device
}

// diamond wires 1 -> {2, 3} -> 4 through events; hosts sit behind port 1 of
// switches 1 and 4.
func diamond(t *testing.T, c *Controller) {
	ctx := context.Background()
	for dpid := uint64(1); dpid <= 4; dpid++ {
		require.NoError(t, c.SwitchAdded(ctx, dpid, ports()))
	}
	for _, l := range [][2]topology.Endpoint{
		{ep(1, 2), ep(2, 1)},
		{ep(2, 2), ep(4, 2)},
		{ep(1, 3), ep(3, 1)},
		{ep(3, 2), ep(4, 3)},
	} {
		require.NoError(t, c.LinkAdded(l[0], l[1]))
	}
	require.NoError(t, c.SetEdgePort(1, 1))
	require.NoError(t, c.SetEdgePort(4, 1))
	require.NoError(t, c.SetHostNetwork(1, "10.0.1.0/24"))
	require.NoError(t, c.SetHostNetwork(4, "10.0.4.0/24"))
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(Options{Config: config.Default()})
	assert.True(t, errors.Is(err, common.ErrValidation))

	cfg := config.Default()
	cfg.PathFindingAlgorithm = "bellman-ford"
	_, err = New(Options{Config: cfg, Device: southbound.NewRecorder()})
	assert.True(t, errors.Is(err, common.ErrValidation))

	cfg.PathFindingAlgorithm = "gonum"
	_, err = New(Options{Config: cfg, Device: southbound.NewRecorder()})
	assert.NoError(t, err)
}

func TestPassInstallsDiamond(t *testing.T) {
	c, device := newController(t, nil)
	diamond(t, c)

	report, err := c.Pass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Pairs)
	assert.Equal(t, 4, report.Paths)
	assert.Zero(t, report.Skipped)
	assert.Equal(t, 2, report.Forwarding.GroupsCreated)

	groups := device.GroupsFor(1)
	require.Len(t, groups, 1)
	assert.Equal(t, southbound.GroupSelect, groups[0].Type)
	assert.Equal(t, southbound.GroupCreate, groups[0].Command)
	assert.Equal(t, []uint32{2, 3}, groups[0].Ports())
	assert.Equal(t, groups[0].Buckets[0].Weight, groups[0].Buckets[1].Weight)

	// the second pass modifies the same groups in place
	device.Reset()
	report, err = c.Pass(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Forwarding.GroupsCreated)
	assert.Equal(t, 2, report.Forwarding.GroupsUpdated)
	again := device.GroupsFor(1)
	require.Len(t, again, 1)
	assert.Equal(t, groups[0].GroupID, again[0].GroupID)
	assert.Equal(t, southbound.GroupUpdate, again[0].Command)

	// residual capacity is restored after the pass
	p, err := c.topo.Port(1, 2)
	require.NoError(t, err)
	assert.Equal(t, p.Capacity, p.Residual)

	view := c.Snapshot()
	require.NotNil(t, view.LastPass)
	assert.Equal(t, 4, view.LastPass.Paths)
}

func TestPassDrainingAcrossPairsRestoresAtEnd(t *testing.T) {
	cfg := config.Default()
	cfg.DrainAcrossPass = true
	c, err := New(Options{Config: cfg, Device: southbound.NewRecorder()})
	require.NoError(t, err)
	diamond(t, c)

	report, err := c.Pass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, report.Paths)
	for _, s := range c.topo.Switches() {
		for _, p := range s.SortedPorts() {
			assert.Equal(t, p.Capacity, p.Residual, "port %s", p)
		}
	}
}

func TestPassSkipsFailingPairs(t *testing.T) {
	c, device := newController(t, nil)
	diamond(t, c)
	device.Err = assert.AnError

	report, err := c.Pass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Pairs)
	assert.Equal(t, 2, report.Skipped)
	for _, r := range report.Results {
		assert.NotEmpty(t, r.Error)
	}
}

func TestPassIsSingleFlight(t *testing.T) {
	c, _ := newController(t, nil)
	diamond(t, c)

	c.computing.Store(true)
	_, err := c.Pass(context.Background())
	assert.True(t, errors.Is(err, common.ErrComputationInProgress))

	c.computing.Store(false)
	_, err = c.TriggerComputation(context.Background())
	assert.NoError(t, err)
	assert.False(t, c.Computing())
}

// gatedDevice holds every InstallRule call while armed, until release is
// closed. entered is closed by the first held call.
type gatedDevice struct {
	*southbound.Recorder
	armed   atomic.Bool
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedDevice() *gatedDevice {
	return &gatedDevice{
		Recorder: southbound.NewRecorder(),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
}

func (d *gatedDevice) InstallRule(ctx context.Context, rule southbound.Rule) error {
	if d.armed.Load() {
		d.once.Do(func() { close(d.entered) })
		<-d.release
	}
	return d.Recorder.InstallRule(ctx, rule)
}

func TestTriggersAreRejectedWhileAPassRuns(t *testing.T) {
	device := newGatedDevice()
	c, err := New(Options{Config: config.Default(), Device: device})
	require.NoError(t, err)
	diamond(t, c)
	generation := c.Snapshot().Generation
	device.armed.Store(true)

	ctx := context.Background()
	running := make(chan error, 1)
	go func() {
		_, err := c.Pass(ctx)
		running <- err
	}()
	select {
	case <-device.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("pass never reached the device")
	}

	triggers := map[string]func(context.Context) (PassReport, error){
		"computation":   c.TriggerComputation,
		"recomputation": c.TriggerRecomputation,
	}
	rejected := make(chan error, len(triggers))
	for _, trigger := range triggers {
		trigger := trigger
		go func() {
			_, err := trigger(ctx)
			rejected <- err
		}()
	}
	for range triggers {
		select {
		case err := <-rejected:
			assert.True(t, errors.Is(err, common.ErrComputationInProgress), "got %v", err)
		case <-time.After(time.Second):
			t.Fatal("trigger waited for the running pass")
		}
	}

	views := make(chan TopologyView, 1)
	go func() { views <- c.Snapshot() }()
	time.Sleep(50 * time.Millisecond)

	close(device.release)
	require.NoError(t, <-running)
	view := <-views
	assert.True(t, view.Computing)
	assert.Equal(t, generation, view.Generation, "rejected recomputation does not touch the topology")
	require.NotNil(t, view.LastPass)
	assert.False(t, c.Computing())
}

func TestPassHonoursCancellation(t *testing.T) {
	c, _ := newController(t, nil)
	diamond(t, c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Pass(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRecomputationAdvancesGeneration(t *testing.T) {
	c, _ := newController(t, nil)
	diamond(t, c)
	before := c.Snapshot().Generation

	report, err := c.TriggerRecomputation(context.Background())
	require.NoError(t, err)
	assert.Greater(t, report.Generation, before)
}

func TestProbeEchoMeasuresLink(t *testing.T) {
	c, _ := newController(t, nil)
	diamond(t, c)
	assert.False(t, c.Measured())
	assert.False(t, c.ready())

	sent := time.Unix(1700000000, 0)
	raw := probing.Probe{Sender: 1, Receiver: 2, SentAt: sent}.Encode()
	require.NoError(t, c.ProbeEcho(raw, sent.Add(10*time.Millisecond)))

	assert.True(t, c.Measured())
	assert.True(t, c.ready())
	p, _ := c.topo.Port(1, 2)
	assert.InDelta(t, 0.875*0.001+0.125*0.01, p.Latency, 1e-9)
}

func TestProbeEchoDropsBadProbes(t *testing.T) {
	c, _ := newController(t, nil)
	diamond(t, c)

	err := c.ProbeEcho([]byte("1;two;3"), time.Now())
	assert.True(t, errors.Is(err, common.ErrMalformedProbe))

	// 1 and 4 are not linked
	raw := probing.Probe{Sender: 1, Receiver: 4, SentAt: time.Now()}.Encode()
	err = c.ProbeEcho(raw, time.Now())
	assert.True(t, errors.Is(err, common.ErrNotFound))
	assert.False(t, c.Measured())
}

func TestPortStatsReply(t *testing.T) {
	c, _ := newController(t, nil)
	diamond(t, c)

	at := time.Unix(1700000000, 0)
	assert.Equal(t, []uint64{1, 2, 3, 4}, c.StatsTargets(at))

	require.NoError(t, c.PortStatsReply(1, []delay.PortStat{{Number: 2, TxBytes: 1000}}, at.Add(20*time.Millisecond)))
	s, _ := c.topo.Switch(1)
	assert.InDelta(t, 0.01, s.ControllerDelay, 1e-9)

	c.StatsTargets(at.Add(time.Second))
	require.NoError(t, c.PortStatsReply(1, []delay.PortStat{{Number: 2, TxBytes: 1000, RxBytes: 5_000_000}}, at.Add(time.Second+20*time.Millisecond)))
	p, _ := c.topo.Port(1, 2)
	assert.InDelta(t, 25_000_000-5_000_000, p.Capacity, 1)

	err := c.PortStatsReply(9, nil, at)
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestProbeTargets(t *testing.T) {
	c, _ := newController(t, nil)
	diamond(t, c)

	targets := c.ProbeTargets()
	assert.Len(t, targets, 8)
	assert.Contains(t, targets, metrics_processing.ProbeTarget{DPID: 1, Port: 2, Peer: 2})
	assert.Contains(t, targets, metrics_processing.ProbeTarget{DPID: 4, Port: 3, Peer: 3})
}

func TestSetGroupBuckets(t *testing.T) {
	c, device := newController(t, nil)
	diamond(t, c)
	ctx := context.Background()

	err := c.SetGroupBuckets(ctx, 1, 1, map[uint32]uint16{2: 1, 3: 2})
	assert.True(t, errors.Is(err, common.ErrNotFound), "group not installed yet")

	_, err = c.Pass(ctx)
	require.NoError(t, err)
	id := device.GroupsFor(1)[0].GroupID
	device.Reset()

	require.NoError(t, c.SetGroupBuckets(ctx, 1, id, map[uint32]uint16{3: 2, 2: 1}))
	mods := device.GroupsFor(1)
	require.Len(t, mods, 1)
	assert.Equal(t, southbound.GroupUpdate, mods[0].Command)
	assert.Equal(t, []uint32{2, 3}, mods[0].Ports())
	assert.Equal(t, uint16(1), mods[0].Buckets[0].Weight)
	assert.Equal(t, uint16(2), mods[0].Buckets[1].Weight)

	assert.True(t, errors.Is(c.SetGroupBuckets(ctx, 2, id, map[uint32]uint16{1: 1}), common.ErrNotFound))
	assert.True(t, errors.Is(c.SetGroupBuckets(ctx, 1, id, map[uint32]uint16{7: 1}), common.ErrNotFound))
	assert.True(t, errors.Is(c.SetGroupBuckets(ctx, 1, id, nil), common.ErrValidation))
}

func TestSwitchReconnectForgetsGroups(t *testing.T) {
	c, device := newController(t, nil)
	diamond(t, c)
	ctx := context.Background()

	_, err := c.Pass(ctx)
	require.NoError(t, err)
	require.NoError(t, c.SwitchAdded(ctx, 1, ports()))
	assert.Equal(t, []uint64{1, 2, 3, 4, 1}, device.Deletes())

	device.Reset()
	report, err := c.Pass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Forwarding.GroupsCreated)
	assert.Equal(t, 1, report.Forwarding.GroupsUpdated)
	assert.Equal(t, southbound.GroupCreate, device.GroupsFor(1)[0].Command)
}

func TestSwitchAddedInstallsControllerRules(t *testing.T) {
	c, device := newController(t, nil)
	require.NoError(t, c.SwitchAdded(context.Background(), 7, ports()))

	assert.Equal(t, []uint64{7}, device.Deletes())
	rules := device.RulesFor(7)
	require.Len(t, rules, 2)

	miss := rules[0]
	assert.Equal(t, southbound.PriorityTableMiss, miss.Priority)
	assert.Equal(t, southbound.Match{}, miss.Match)
	assert.Equal(t, []southbound.Action{southbound.ToController()}, miss.Actions)

	punt := rules[1]
	assert.Equal(t, southbound.PriorityProbe, punt.Priority)
	assert.Equal(t, probing.Ethertype, punt.Match.EthType)
	assert.Equal(t, []southbound.Action{southbound.ToController()}, punt.Actions)

	// the rules come back after the switch reconnects
	device.Reset()
	require.NoError(t, c.SwitchAdded(context.Background(), 7, ports()))
	assert.Equal(t, []uint64{7}, device.Deletes())
	assert.Len(t, device.RulesFor(7), 2)
}

func TestSwitchReconnectSyncsPorts(t *testing.T) {
	c, _ := newController(t, nil)
	diamond(t, c)
	ctx := context.Background()

	report, err := c.Pass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Paths)

	// switch 3 comes back without port 2, its link towards 4
	require.NoError(t, c.SwitchAdded(ctx, 3, []topology.PortDescriptor{{Number: 1}, {Number: 3}}))
	view := c.Snapshot()
	require.Len(t, view.Switches[2].Ports, 2)
	assert.Equal(t, uint32(3), view.Switches[2].Ports[1].Number)
	assert.Nil(t, view.Switches[3].Ports[2].Peer, "port 3 of switch 4 is detached")

	report, err = c.Pass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Paths)
}

func TestSwitchAddedAppliesProfile(t *testing.T) {
	profile, err := provisioning.Parse([]byte(`
switches:
  - dpid: 1
    host_network: 10.0.1.0/24
    edge_port: 1
    port_capacities:
      2: 4000
`))
	require.NoError(t, err)
	c, _ := newController(t, profile)

	require.NoError(t, c.SwitchAdded(context.Background(), 1, ports()))
	view := c.Snapshot()
	require.Len(t, view.Switches, 1)
	sw := view.Switches[0]
	assert.Equal(t, "10.0.1.0/24", sw.HostNetwork)
	assert.Equal(t, uint32(1), sw.EdgePort)
	assert.True(t, sw.EdgePortPinned)
	assert.Equal(t, 4000.0, sw.Ports[1].MaxCapacity)
}

func TestTopologyEvents(t *testing.T) {
	c, _ := newController(t, nil)
	diamond(t, c)

	require.NoError(t, c.LinkRemoved(ep(1, 2), ep(2, 1)))
	require.NoError(t, c.PortRemoved(3, 2))
	require.NoError(t, c.PortAdded(3, topology.PortDescriptor{Number: 2}))
	require.NoError(t, c.SwitchRemoved(2))

	assert.True(t, errors.Is(c.SwitchRemoved(2), common.ErrNotFound))
	assert.True(t, errors.Is(c.PortAdded(2, topology.PortDescriptor{Number: 1}), common.ErrNotFound))
	assert.True(t, errors.Is(c.LinkAdded(ep(1, 2), ep(9, 1)), common.ErrNotFound))

	// no path is left between the edges
	report, err := c.Pass(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Paths)
}

func TestUpdateConfig(t *testing.T) {
	c, _ := newController(t, nil)

	reorder, drop, hops, paths, minCap, interval := 0.3, 0.4, 2, 3, 10.0, 2.0
	next, err := c.UpdateConfig(config.Update{
		MDIReorderingThreshold: &reorder,
		MDIDropThreshold:       &drop,
		MaxHopDifference:       &hops,
		MaxPathsPerFlow:        &paths,
		MinTraversalCapacity:   &minCap,
		MonitorIntervalSeconds: &interval,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, next.MaxPathsPerFlow)
	assert.Equal(t, 2*time.Second, c.Config().MonitorInterval())

	bad := 0.9
	_, err = c.UpdateConfig(config.Update{
		MDIReorderingThreshold: &bad,
		MDIDropThreshold:       &drop,
		MaxHopDifference:       &hops,
		MaxPathsPerFlow:        &paths,
		MinTraversalCapacity:   &minCap,
		MonitorIntervalSeconds: &interval,
	})
	assert.True(t, errors.Is(err, common.ErrValidation))
	assert.Equal(t, 0.3, c.Config().MDIReorderingThreshold)
}

func TestRunComputationOnce(t *testing.T) {
	c, device := newController(t, nil)
	c.cfg.ComputationDelaySeconds = 0
	c.cfg.ComputationIntervalSeconds = 0.01
	c.cfg.ComputationRepeat = false
	diamond(t, c)

	done := make(chan struct{})
	go func() {
		c.RunComputation(context.Background())
		close(done)
	}()

	// nothing happens before the network is measured
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, device.Groups())

	sent := time.Now()
	require.NoError(t, c.ProbeEcho(probing.Probe{Sender: 1, Receiver: 2, SentAt: sent}.Encode(), sent))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("computation task did not finish")
	}
	assert.Len(t, device.Groups(), 2)
}
