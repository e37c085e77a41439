package flow_synthesis

import (
	"math"

	log "github.com/sirupsen/logrus"
)

// Coefficients of one MDI tier. Latency is not part of the weight formula
// yet; it is kept with its tier for a combined capacity/latency weighting.
type Coefficients struct {
	Capacity float64
	Latency  float64
}

// TierFor picks the coefficients for a merge point's max delay imbalance.
// Nearly balanced paths get small bursts to use the combined capacity, skewed
// paths get large bursts to limit reordering.
func TierFor(mdi float64) Coefficients {
	switch {
	case mdi < 0.15:
		return Coefficients{Capacity: 4, Latency: 0}
	case mdi < 0.25:
		return Coefficients{Capacity: 10, Latency: 8}
	default:
		return Coefficients{Capacity: 150, Latency: 50}
	}
}

// BucketWeight is the number of packets a bucket gets per round of the
// weighted round robin: floor(c * capacity / totalCapacity).
func BucketWeight(totalCapacity, capacity, mdi float64) int {
	if totalCapacity <= 0 || capacity <= 0 {
		return 0
	}
	tier := TierFor(mdi)
	weight := int(math.Floor(tier.Capacity * capacity / totalCapacity))
	log.Debugf("total_c: %f c_ratio: %f c: %f mdi: %f bucket weight -> %d",
		totalCapacity, capacity/totalCapacity, capacity, mdi, weight)
	return weight
}
