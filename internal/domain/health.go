package domain

import "time"

// DataQuality summarizes how much the health snapshot can be trusted.
type DataQuality struct {
	Completeness float64 `json:"completeness"`
	Stability    float64 `json:"stability"`
	DataPoints   int     `json:"dataPoints"`
}

// Vitals are the latest readings for a user.
type Vitals struct {
	HeartRate  *float64  `json:"heartRate,omitempty"`
	Steps      *int      `json:"steps,omitempty"`
	SleepHours *float64  `json:"sleepHours,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}

// DailyLog is one day of telemetry for a user.
type DailyLog struct {
	UserID     string    `json:"userId"`
	Date       time.Time `json:"date"`
	HeartRate  *float64  `json:"heartRate,omitempty"`
	Steps      *int      `json:"steps,omitempty"`
	SleepHours *float64  `json:"sleepHours,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// InsightSeverity ranks a health insight.
type InsightSeverity string

const (
	InsightInfo    InsightSeverity = "info"
	InsightWarning InsightSeverity = "warning"
)

// Insight is a short natural-language notice derived from telemetry.
type Insight struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Severity  InsightSeverity `json:"severity"`
	Kind      string          `json:"kind"`
	Message   string          `json:"message"`
	CreatedAt time.Time       `json:"createdAt"`
}

// HealthSnapshot is the per-user health context exchanged between processes.
type HealthSnapshot struct {
	UserID      string     `json:"userId"`
	Current     Vitals     `json:"current"`
	Insights    []Insight  `json:"insights"`
	DailyLogs   []DailyLog `json:"dailyLogs"`
	GeneratedAt time.Time  `json:"generatedAt"`
}

// HeartRates returns the heart-rate readings present in the daily logs.
func (s *HealthSnapshot) HeartRates() []float64 {
	if s == nil {
		return nil
	}
	out := make([]float64, 0, len(s.DailyLogs))
	for _, log := range s.DailyLogs {
		if log.HeartRate != nil {
			out = append(out, *log.HeartRate)
		}
	}
	return out
}
