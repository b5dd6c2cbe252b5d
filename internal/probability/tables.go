package probability

import "github.com/thebtf/inspectrisk/pkg/models"

// ThemePrior holds the per-theme probabilities.
type ThemePrior struct {
	Infraction float64 `json:"p_infraction"`
	Severe     float64 `json:"p_severe"`
	Seasonal   float64 `json:"seasonal_factor"`
}

// SizePrior holds the per-size probabilities.
type SizePrior struct {
	Infraction float64 `json:"p_infraction"`
	Multiple   float64 `json:"p_multiple"`
	Complexity float64 `json:"complexity"`
}

// HistoryPrior holds the per-history-class factors.
type HistoryPrior struct {
	Recidivism float64 `json:"p_recidivism"`
	Vigilance  float64 `json:"vigilance"`
}

// HistoryClass buckets a violation history.
type HistoryClass string

const (
	HistoryNone     HistoryClass = "aucun"
	HistoryLight    HistoryClass = "leger"
	HistoryModerate HistoryClass = "modere"
	HistoryHeavy    HistoryClass = "lourd"
)

// ThemePriors are the prior tables per theme. Themes without an entry
// fall back to restaurant.
var ThemePriors = map[models.Theme]ThemePrior{
	models.ThemeRestaurant: {Infraction: 0.35, Severe: 0.15, Seasonal: 1.2},
	models.ThemeFastFood:   {Infraction: 0.45, Severe: 0.25, Seasonal: 1.1}, // Volume and cold chain
	models.ThemeCafe:       {Infraction: 0.25, Severe: 0.08, Seasonal: 0.9},
	models.ThemeBar:        {Infraction: 0.40, Severe: 0.20, Seasonal: 1.3},
	models.ThemeHotel:      {Infraction: 0.30, Severe: 0.12, Seasonal: 1.0},
}

// SizePriors are the prior tables per size class.
var SizePriors = map[models.SizeClass]SizePrior{
	models.SizePetit:      {Infraction: 0.40, Multiple: 0.20, Complexity: 0.8},
	models.SizeMoyen:      {Infraction: 0.35, Multiple: 0.30, Complexity: 1.0},
	models.SizeGrand:      {Infraction: 0.30, Multiple: 0.45, Complexity: 1.3},
	models.SizeEnterprise: {Infraction: 0.25, Multiple: 0.55, Complexity: 1.5},
}

// HistoryPriors are the recidivism and vigilance factors per history class.
var HistoryPriors = map[HistoryClass]HistoryPrior{
	HistoryNone:     {Recidivism: 0.15, Vigilance: 1.0},
	HistoryLight:    {Recidivism: 0.35, Vigilance: 1.2},
	HistoryModerate: {Recidivism: 0.55, Vigilance: 1.5},
	HistoryHeavy:    {Recidivism: 0.75, Vigilance: 2.0},
}

// SeasonFactors scale the probability by season.
var SeasonFactors = map[models.Season]float64{
	models.SeasonWinter: 0.9, // Less activity
	models.SeasonSpring: 1.0,
	models.SeasonSummer: 1.2, // Heat and terrace service
	models.SeasonAutumn: 1.1,
}

// LocaleFactors scale the probability by location density.
var LocaleFactors = map[models.Locale]float64{
	models.LocaleUrbanDense: 1.3, // More inspections
	models.LocaleUrban:      1.1,
	models.LocalePeriurban:  1.0,
	models.LocaleRural:      0.8,
}

// ClassifyHistory buckets a record's violations by count and severity points.
func ClassifyHistory(rec *models.InspectionRecord) HistoryClass {
	n := len(rec.Violations)
	points := rec.SeverityPoints()
	switch {
	case n == 0:
		return HistoryNone
	case n <= 2 && points <= 3:
		return HistoryLight
	case n <= 5 && points <= 8:
		return HistoryModerate
	default:
		return HistoryHeavy
	}
}

// recencyFactor discounts stale data.
func recencyFactor(ageDays int) float64 {
	switch {
	case ageDays <= 30:
		return 1.0
	case ageDays <= 90:
		return 0.95
	case ageDays <= 180:
		return 0.9
	default:
		return 0.8
	}
}
