package safety

import (
	"math"

	"github.com/Nabil201-ctrl/Healify-sub000/internal/domain"
)

const (
	completenessWindowDays = 7
	stabilityCVScale       = 0.3
)

// DataQuality rates the daily logs in a snapshot. A nil snapshot has no
// data points and is treated as stable.
func DataQuality(snapshot *domain.HealthSnapshot) domain.DataQuality {
	n := 0
	if snapshot != nil {
		n = len(snapshot.DailyLogs)
	}
	return domain.DataQuality{
		Completeness: round2(math.Min(1, float64(n)/completenessWindowDays)),
		Stability:    round2(stability(snapshot.HeartRates())),
		DataPoints:   n,
	}
}

// stability maps the heart-rate coefficient of variation to [0,1]. Fewer than
// two readings cannot be assessed and count as stable.
func stability(readings []float64) float64 {
	if len(readings) < 2 {
		return 1.0
	}
	var sum float64
	for _, r := range readings {
		sum += r
	}
	mean := sum / float64(len(readings))
	if mean == 0 {
		return 1.0
	}
	var variance float64
	for _, r := range readings {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(readings))
	cv := math.Sqrt(variance) / mean
	return math.Max(0, 1-cv/stabilityCVScale)
}
