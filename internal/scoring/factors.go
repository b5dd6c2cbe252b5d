package scoring

import (
	"fmt"
	"time"

	"github.com/thebtf/inspectrisk/internal/probability"
	"github.com/thebtf/inspectrisk/pkg/models"
)

const (
	highRiskThemePrior = 0.40
	ruleShiftNotable   = 0.05
	recentDays         = 90
)

var themeSpecificActions = map[models.Theme][]string{
	models.ThemeFastFood:   {"Check cold chain temperatures"},
	models.ThemeRestaurant: {"Review HACCP plan"},
	models.ThemeBar:        {"Inspect glassware and surface sanitation"},
}

func themeActions(t models.Theme) []string {
	return themeSpecificActions[t]
}

// dominantFactors lists the signals that pushed the assessment up or down,
// strongest structural drivers first.
func dominantFactors(rec *models.InspectionRecord, c Components, now time.Time) []string {
	p := c.Probabilities
	var factors []string

	if prior := probability.ThemePriors[p.Theme]; prior.Infraction >= highRiskThemePrior {
		factors = append(factors, fmt.Sprintf("high-risk theme %s (prior %.2f)", p.Theme, prior.Infraction))
	}
	if p.Size == models.SizeGrand || p.Size == models.SizeEnterprise {
		factors = append(factors, fmt.Sprintf("large establishment (%s)", p.Size))
	}
	switch p.History {
	case probability.HistoryModerate, probability.HistoryHeavy:
		factors = append(factors, fmt.Sprintf("violation history %s (%d violations)", p.History, len(rec.Violations)))
	}
	if last, ok := rec.LastViolation(); ok && now.Sub(last) <= recentDays*24*time.Hour {
		factors = append(factors, fmt.Sprintf("recent violation on %s", last.Format(time.DateOnly)))
	}
	if models.SeasonForMonth(now.Month()) == models.SeasonSummer {
		factors = append(factors, "summer season")
	}

	shift := c.Adjusted - p.Infraction
	switch {
	case shift >= ruleShiftNotable:
		factors = append(factors, fmt.Sprintf("current rules raise probability by %.2f", shift))
	case shift <= -ruleShiftNotable:
		factors = append(factors, fmt.Sprintf("current rules lower probability by %.2f", -shift))
	}

	if len(factors) == 0 {
		factors = append(factors, "no dominant risk factor")
	}
	return factors
}
