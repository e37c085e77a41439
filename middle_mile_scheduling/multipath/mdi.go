package multipath

import "math"

// MDI is the max delay imbalance of a set of latencies: the largest
// |x/(x+y) - 0.5| over every unordered pair. Equal latencies give 0, the
// value approaches 0.5 as one latency dwarfs another. Pairs summing to zero
// count as balanced.
func MDI(latencies []float64) float64 {
	imbalance := 0.0
	for i := 0; i < len(latencies); i++ {
		for j := i + 1; j < len(latencies); j++ {
			x, y := latencies[i], latencies[j]
			if x+y == 0 {
				continue
			}
			imbalance = math.Max(imbalance, math.Abs(x/(x+y)-0.5))
		}
	}
	return imbalance
}
