// Package models contains domain models for inspectrisk.
package models

import (
	"maps"
)

// CategoryWeight carries the regulatory parameters of one violation severity.
type CategoryWeight struct {
	Weight              float64 `json:"weight" yaml:"weight"`
	ClosureThreshold    float64 `json:"closure_threshold" yaml:"closure_threshold"`
	CorrectionDelayDays int     `json:"correction_delay_days" yaml:"correction_delay_days"`
}

// Thresholds are the lower bounds of the moyen, eleve and critique bands.
// Faible starts at zero.
type Thresholds struct {
	Faible float64 `json:"faible" yaml:"faible"`
	Moyen  float64 `json:"moyen" yaml:"moyen"`
	Eleve  float64 `json:"eleve" yaml:"eleve"`
}

// IsZero reports whether no threshold was supplied.
func (t Thresholds) IsZero() bool {
	return t.Faible == 0 && t.Moyen == 0 && t.Eleve == 0
}

// DefaultThresholds seed the categorizer bands 0-40-60-80-100.
var DefaultThresholds = Thresholds{Faible: 40, Moyen: 60, Eleve: 80}

// RuleSet is a versioned set of regulatory parameters.
type RuleSet struct {
	CategoryWeights   map[Severity]CategoryWeight `json:"category_weights,omitempty" yaml:"category_weights,omitempty"`
	ThemeMultipliers  map[Theme]float64           `json:"theme_multipliers,omitempty" yaml:"theme_multipliers,omitempty"`
	SizeMultipliers   map[SizeClass]float64       `json:"size_multipliers,omitempty" yaml:"size_multipliers,omitempty"`
	SeasonMultipliers map[Season]float64          `json:"season_multipliers,omitempty" yaml:"season_multipliers,omitempty"`
	Version           string                      `json:"version" yaml:"version"`
	EffectiveDate     string                      `json:"effective_date" yaml:"effective_date"`
	Description       string                      `json:"description,omitempty" yaml:"description,omitempty"`
	Thresholds        Thresholds                  `json:"thresholds" yaml:"thresholds"`
}

// Clone returns a deep copy of the rule set.
func (r *RuleSet) Clone() *RuleSet {
	if r == nil {
		return nil
	}
	c := *r
	c.CategoryWeights = maps.Clone(r.CategoryWeights)
	c.ThemeMultipliers = maps.Clone(r.ThemeMultipliers)
	c.SizeMultipliers = maps.Clone(r.SizeMultipliers)
	c.SeasonMultipliers = maps.Clone(r.SeasonMultipliers)
	return &c
}

// ThemeMultiplier returns the theme multiplier, 1.0 when absent.
func (r *RuleSet) ThemeMultiplier(t Theme) float64 {
	if v, ok := r.ThemeMultipliers[t]; ok {
		return v
	}
	return 1.0
}

// SizeMultiplier returns the size multiplier, 1.0 when absent.
func (r *RuleSet) SizeMultiplier(s SizeClass) float64 {
	if v, ok := r.SizeMultipliers[s]; ok {
		return v
	}
	return 1.0
}

// SeasonMultiplier returns the season multiplier, 1.0 when absent.
func (r *RuleSet) SeasonMultiplier(s Season) float64 {
	if v, ok := r.SeasonMultipliers[s]; ok {
		return v
	}
	return 1.0
}

// DefaultCategoryWeights are the severity parameters of the baseline rules.
var DefaultCategoryWeights = map[Severity]CategoryWeight{
	SeverityCritical: {Weight: 3.0, ClosureThreshold: 1, CorrectionDelayDays: 1},  // Immediate hazard
	SeverityMajor:    {Weight: 2.0, ClosureThreshold: 3, CorrectionDelayDays: 7},  // Correct within a week
	SeverityMinor:    {Weight: 1.0, ClosureThreshold: 6, CorrectionDelayDays: 30}, // Next routine visit
}

// DefaultThemeMultipliers reflect relative handling risk per theme.
var DefaultThemeMultipliers = map[Theme]float64{
	ThemeFastFood:   1.15, // High volume, cold chain exposure
	ThemeBar:        1.10,
	ThemeRestaurant: 1.00,
	ThemeHotel:      1.00,
	ThemeCafe:       0.90,
}

// DefaultSizeMultipliers scale with operational complexity.
var DefaultSizeMultipliers = map[SizeClass]float64{
	SizePetit:      0.95,
	SizeMoyen:      1.00,
	SizeGrand:      1.10,
	SizeEnterprise: 1.15,
}

// DefaultSeasonMultipliers peak in summer.
var DefaultSeasonMultipliers = map[Season]float64{
	SeasonWinter: 0.95,
	SeasonSpring: 1.00,
	SeasonSummer: 1.10,
	SeasonAutumn: 1.05,
}

// DefaultRuleSet returns the baseline regulatory rules.
func DefaultRuleSet() *RuleSet {
	return &RuleSet{
		Version:           "2024.1",
		EffectiveDate:     "2024-01-01",
		Description:       "Baseline inspection rules",
		CategoryWeights:   maps.Clone(DefaultCategoryWeights),
		ThemeMultipliers:  maps.Clone(DefaultThemeMultipliers),
		SizeMultipliers:   maps.Clone(DefaultSizeMultipliers),
		SeasonMultipliers: maps.Clone(DefaultSeasonMultipliers),
		Thresholds:        DefaultThresholds,
	}
}
