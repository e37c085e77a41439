package delay

import (
	"fmt"
	"math"
	"mpsdn/common"
	"mpsdn/topology"
	"time"

	log "github.com/sirupsen/logrus"
)

// Weights of the exponentially weighted moving average, as in TCP SRTT.
const (
	HistoryWeight = 0.875
	SampleWeight  = 0.125
)

// Smooth folds sample into the running estimate.
func Smooth(old, sample float64) float64 {
	return HistoryWeight*old + SampleWeight*sample
}

// PortStat is one entry of a port statistics reply.
type PortStat struct {
	Number  uint32 `json:"number"`
	TxBytes uint64 `json:"tx_bytes"`
	RxBytes uint64 `json:"rx_bytes"`
}

// Estimator turns raw timing and counter samples into the smoothed latency and
// capacity figures stored on the topology. Callers serialize access.
type Estimator struct {
	topo *topology.Topology
}

func NewEstimator(topo *topology.Topology) *Estimator {
	return &Estimator{topo: topo}
}

// StatsRequested records when a port stats request left for dpid.
func (e *Estimator) StatsRequested(dpid uint64, at time.Time) error {
	s, err := e.topo.Switch(dpid)
	if err != nil {
		return err
	}
	s.StatsRequestTime = at
	return nil
}

// ControllerDelay folds the round trip of the pending stats request into the
// switch's controller delay; half the round trip counts as one-way delay.
func (e *Estimator) ControllerDelay(dpid uint64, repliedAt time.Time) (float64, error) {
	s, err := e.topo.Switch(dpid)
	if err != nil {
		return 0, err
	}
	if s.StatsRequestTime.IsZero() {
		log.Errorf("trying to calculate switch-controller delay for %d without initial time value", dpid)
		return s.ControllerDelay, nil
	}

	sample := repliedAt.Sub(s.StatsRequestTime).Seconds() / 2
	if sample < 0 {
		sample = 0
	}
	if s.ControllerDelay == 0 {
		s.ControllerDelay = sample
	} else {
		s.ControllerDelay = Smooth(s.ControllerDelay, sample)
	}
	s.StatsRequestTime = time.Time{}
	log.Debugf("controller delay of dp %d is %f (sample %f)", dpid, s.ControllerDelay, sample)
	return s.ControllerDelay, nil
}

// LinkLatency folds a probe round into the latency of the link from sender to
// receiver. raw is receive time minus send time; both switches' controller
// delays are subtracted and negative results clamp to zero.
func (e *Estimator) LinkLatency(sender, receiver uint64, raw float64) (float64, error) {
	s, err := e.topo.Switch(sender)
	if err != nil {
		return 0, err
	}
	r, err := e.topo.Switch(receiver)
	if err != nil {
		return 0, err
	}
	no, ok := s.LocalPortTo(receiver)
	if !ok {
		return 0, fmt.Errorf("%w: no link from switch %d to %d", common.ErrNotFound, sender, receiver)
	}
	port := s.Ports[no]

	sample := raw - s.ControllerDelay - r.ControllerDelay
	// very low delays make the correction imprecise
	if sample < 0 {
		sample = 0
	}
	if math.IsInf(port.Latency, 1) {
		port.Latency = sample
	} else {
		port.Latency = Smooth(port.Latency, sample)
	}

	log.Infof("sample delay from dp %d to %d is %f, smoothed %f", sender, receiver, sample, port.Latency)
	return port.Latency, nil
}

// PortStats updates the available capacity of each reported port from the
// byte counters of two consecutive replies. Unknown port numbers are skipped.
func (e *Estimator) PortStats(dpid uint64, stats []PortStat, repliedAt time.Time) error {
	s, err := e.topo.Switch(dpid)
	if err != nil {
		return err
	}
	for _, stat := range stats {
		port, ok := s.Ports[stat.Number]
		if !ok {
			continue
		}
		total := stat.TxBytes + stat.RxBytes

		if !port.LastStatsTime.IsZero() {
			elapsed := repliedAt.Sub(port.LastStatsTime).Seconds()
			if elapsed > 0 && total >= port.LastBytes {
				rate := float64(total-port.LastBytes) / elapsed
				port.Capacity = math.Max(0, port.MaxCapacity-rate)
				log.Debugf("p %d s %d utilization %f real_capacity %f", stat.Number, dpid, rate, port.Capacity)
			}
		}
		port.LastStatsTime = repliedAt
		port.LastBytes = total
	}
	return nil
}
