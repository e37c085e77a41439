package metrics_processing

import (
	"context"
	"mpsdn/common"
	"mpsdn/config"
	"mpsdn/metrics_processing/probing"
	"mpsdn/southbound"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	log "github.com/sirupsen/logrus"
)

// ProbeTarget is a linked port a latency probe leaves through.
type ProbeTarget struct {
	DPID uint64
	Port uint32
	Peer uint64
}

// Source is the state the monitor polls. Implementations serialize access to
// the topology themselves.
type Source interface {
	Config() config.Config
	// StatsTargets stamps the stats request time of every known switch and
	// returns their dpids.
	StatsTargets(at time.Time) []uint64
	ProbeTargets() []ProbeTarget
}

// Monitor periodically requests port statistics from every switch and, every
// few cycles, injects latency probes on every linked port.
type Monitor struct {
	source Source
	device southbound.Device
	pool   *ants.Pool

	cycles int
	now    func() time.Time
}

func NewMonitor(source Source, device southbound.Device, pool *ants.Pool) *Monitor {
	return &Monitor{source: source, device: device, pool: pool, now: time.Now}
}

// Cycle runs one monitoring round. It returns the number of stats requests
// and probes submitted to the device.
func (m *Monitor) Cycle(ctx context.Context) (int, int) {
	cfg := m.source.Config()
	now := m.now()
	dpids := m.source.StatsTargets(now)
	if len(dpids) == 0 {
		return 0, 0
	}

	log.Debugf("Requesting port stats to measure utilization of %d switches", len(dpids))
	var wg sync.WaitGroup
	for _, dpid := range dpids {
		dpid := dpid
		m.submit(&wg, func() {
			if err := m.device.RequestPortStats(ctx, dpid); err != nil {
				log.Errorf("port stats request to dp %d failed: %v", dpid, err)
			}
		})
	}

	probes := 0
	if m.cycles%cfg.ProbeEveryCycles == 0 {
		log.Infof("Injecting latency probe packets")
		for _, target := range m.source.ProbeTargets() {
			probe := southbound.Probe{
				DPID:    target.DPID,
				OutPort: target.Port,
				Payload: probing.Probe{Sender: target.DPID, Receiver: target.Peer, SentAt: now}.Encode(),
			}
			m.submit(&wg, func() {
				if err := m.device.EmitProbePacket(ctx, probe); err != nil {
					log.Errorf("probe from dp %d port %d failed: %v", probe.DPID, probe.OutPort, err)
				}
			})
			probes++
		}
	}
	m.cycles++

	wg.Wait()
	return len(dpids), probes
}

// submit runs task on the pool, or inline when the pool refuses it.
func (m *Monitor) submit(wg *sync.WaitGroup, task func()) {
	wg.Add(1)
	if m.pool == nil {
		defer wg.Done()
		task()
		return
	}
	if err := m.pool.Submit(func() {
		defer wg.Done()
		task()
	}); err != nil {
		log.Warningf("goroutine pool refused monitor task: %v", err)
		defer wg.Done()
		task()
	}
}

// Run starts monitoring after the configured delay and repeats every
// monitor interval until ctx is done. Interval changes apply on the next tick.
func (m *Monitor) Run(ctx context.Context) {
	cfg := m.source.Config()
	log.Infof("Starting monitoring sub-routine in %v", cfg.MonitorDelay())

	select {
	case <-time.After(cfg.MonitorDelay()):
	case <-ctx.Done():
		return
	}

	interval := cfg.MonitorInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.Cycle(ctx)

		select {
		case <-ticker.C:
			if next := m.source.Config().MonitorInterval(); next != interval {
				log.Infof("monitor interval changed from %v to %v", interval, next)
				interval = next
				ticker.Reset(interval)
			}
		case <-ctx.Done():
			log.Infof("monitor shutting down")
			return
		}
	}
}

// PoolFor sizes the goroutine pool used by the monitor.
func PoolFor(workers int) (*ants.Pool, error) {
	return common.NewPool(common.PoolConfig{MaxWorkers: workers})
}
