package rules

import (
	"math"
	"time"

	"github.com/thebtf/inspectrisk/pkg/models"
)

// Sub-weight multipliers relative to the global temporal weight.
const (
	criticalFactor      = 1.2
	majorFactor         = 1.0
	minorFactor         = 0.8
	recentHistoryFactor = 1.1
	seasonalityFactor   = 0.9
)

// TemporalWeights is the time-dependent weighting derived from how long a
// rule set has been in effect. It is recomputed on demand, never stored.
type TemporalWeights struct {
	EffectiveDate      string  `json:"effective_date"`
	DaysSinceEffective int     `json:"days_since_effective"`
	Global             float64 `json:"global"`
	Critical           float64 `json:"critical"`
	Major              float64 `json:"major"`
	Minor              float64 `json:"minor"`
	RecentHistory      float64 `json:"recent_history"`
	Seasonality        float64 `json:"seasonality"`
}

// ApplyTimeBasedWeights computes the temporal weights of a rule set that
// became effective on effectiveDate, as seen at now.
func ApplyTimeBasedWeights(effectiveDate string, now time.Time) (TemporalWeights, error) {
	eff, err := models.ParseDate(effectiveDate)
	if err != nil {
		return TemporalWeights{}, err
	}
	days := daysBetween(eff, now)
	g := GlobalWeight(days)
	return TemporalWeights{
		EffectiveDate:      effectiveDate,
		DaysSinceEffective: days,
		Global:             g,
		Critical:           g * criticalFactor,
		Major:              g * majorFactor,
		Minor:              g * minorFactor,
		RecentHistory:      g * recentHistoryFactor,
		Seasonality:        g * seasonalityFactor,
	}, nil
}

// GlobalWeight maps days since the effective date to a weight. Future
// rules weigh 0.5 and rules up to 30 days old weigh 1.0. Between 30 and
// 90 days the weight loses 0.01 per day down to a 0.7 floor; past 90 days
// it is 1 - days/1000, never below 0.7.
func GlobalWeight(days int) float64 {
	d := float64(days)
	switch {
	case days < 0:
		return 0.5
	case days <= 30:
		return 1.0
	case days <= 90:
		return math.Max(0.7, 1.0-(d-30)*0.01)
	default:
		return math.Max(0.7, 1.0-d*0.001)
	}
}

// daysBetween counts calendar days from a to b, ignoring time of day.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(math.Round(db.Sub(da).Hours() / 24))
}
