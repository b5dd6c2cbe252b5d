// Package models contains domain models for inspectrisk.
package models

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Theme is the cuisine or establishment type of a restaurant.
type Theme string

const (
	ThemeUnknown    Theme = ""
	ThemeRestaurant Theme = "restaurant"
	ThemeFastFood   Theme = "fast_food"
	ThemeCafe       Theme = "cafe"
	ThemeBar        Theme = "bar"
	ThemeHotel      Theme = "hotel"
	ThemeGrocery    Theme = "epicerie"
	ThemeBakery     Theme = "boulangerie"
)

// themeKeywords is checked in order; the first keyword found in the
// normalized theme text wins.
var themeKeywords = []Theme{
	ThemeRestaurant,
	ThemeFastFood,
	ThemeCafe,
	ThemeBar,
	ThemeHotel,
	ThemeGrocery,
	ThemeBakery,
}

// ParseTheme classifies free-form theme text by keyword. It returns
// ThemeUnknown when no keyword matches.
func ParseTheme(s string) Theme {
	n := Normalize(s)
	if n == "" {
		return ThemeUnknown
	}
	n = strings.NewReplacer(" ", "_", "-", "_").Replace(n)
	for _, t := range themeKeywords {
		if strings.Contains(n, string(t)) {
			return t
		}
	}
	return ThemeUnknown
}

// SizeClass is the establishment size.
type SizeClass string

const (
	SizePetit      SizeClass = "petit"
	SizeMoyen      SizeClass = "moyen"
	SizeGrand      SizeClass = "grand"
	SizeEnterprise SizeClass = "enterprise"
)

var sizeAliases = map[string]SizeClass{
	"petit":      SizePetit,
	"small":      SizePetit,
	"moyen":      SizeMoyen,
	"medium":     SizeMoyen,
	"grand":      SizeGrand,
	"large":      SizeGrand,
	"enterprise": SizeEnterprise,
	"entreprise": SizeEnterprise,
}

// ParseSize maps size text to a SizeClass, defaulting to SizeMoyen.
func ParseSize(s string) SizeClass {
	if sc, ok := sizeAliases[Normalize(s)]; ok {
		return sc
	}
	return SizeMoyen
}

// Locale is the density bucket of an establishment's location.
type Locale string

const (
	LocaleUnknown     Locale = ""
	LocaleUrbanDense  Locale = "urbain_dense"
	LocaleUrban       Locale = "urbain"
	LocalePeriurban   Locale = "periurbain"
	LocaleRural       Locale = "rural"
	localeUnsupported Locale = "autre"
)

// ParseLocale maps locale text to a Locale. Empty input yields
// LocaleUnknown; unrecognized input yields a locale with no table entry.
func ParseLocale(s string) Locale {
	n := strings.NewReplacer(" ", "_", "-", "_").Replace(Normalize(s))
	switch n {
	case "":
		return LocaleUnknown
	case "urbain_dense", "urban_dense":
		return LocaleUrbanDense
	case "urbain", "urban":
		return LocaleUrban
	case "periurbain", "periurban", "suburban":
		return LocalePeriurban
	case "rural":
		return LocaleRural
	default:
		return localeUnsupported
	}
}

// Season is a calendar season.
type Season string

const (
	SeasonUnknown Season = ""
	SeasonWinter  Season = "hiver"
	SeasonSpring  Season = "printemps"
	SeasonSummer  Season = "ete"
	SeasonAutumn  Season = "automne"
)

// ParseSeason maps season text to a Season, returning SeasonUnknown for
// unrecognized input.
func ParseSeason(s string) Season {
	switch Normalize(s) {
	case "hiver", "winter":
		return SeasonWinter
	case "printemps", "spring":
		return SeasonSpring
	case "ete", "summer":
		return SeasonSummer
	case "automne", "autumn", "fall":
		return SeasonAutumn
	default:
		return SeasonUnknown
	}
}

// SeasonForMonth returns the season a calendar month falls in.
func SeasonForMonth(m time.Month) Season {
	switch m {
	case time.December, time.January, time.February:
		return SeasonWinter
	case time.March, time.April, time.May:
		return SeasonSpring
	case time.June, time.July, time.August:
		return SeasonSummer
	default:
		return SeasonAutumn
	}
}

// Severity classifies a single violation.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// AllSeverities lists severities from most to least serious.
var AllSeverities = []Severity{SeverityCritical, SeverityMajor, SeverityMinor}

// Fine tiers used for severity points.
var (
	fineTierHigh   = decimal.NewFromInt(2000)
	fineTierMedium = decimal.NewFromInt(500)
)

// Violation is one entry of an establishment's infraction history.
type Violation struct {
	Fine        decimal.Decimal `json:"fine" yaml:"fine"`
	Date        string          `json:"date" yaml:"date"`
	Severity    Severity        `json:"severity,omitempty" yaml:"severity,omitempty"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
}

// HasFine reports whether a positive fine amount was recorded.
func (v Violation) HasFine() bool {
	return v.Fine.IsPositive()
}

// Points returns the severity points of the violation by fine tier:
// above 2000 scores 3, above 500 scores 2, anything else 1.
func (v Violation) Points() int {
	switch {
	case v.Fine.GreaterThan(fineTierHigh):
		return 3
	case v.Fine.GreaterThan(fineTierMedium):
		return 2
	default:
		return 1
	}
}

// Class returns the recorded severity, or one derived from the fine tier.
func (v Violation) Class() Severity {
	switch v.Severity {
	case SeverityCritical, SeverityMajor, SeverityMinor:
		return v.Severity
	}
	switch v.Points() {
	case 3:
		return SeverityCritical
	case 2:
		return SeverityMajor
	default:
		return SeverityMinor
	}
}

// InspectionRecord is a restaurant with its inspection context and
// violation history. The core never mutates it.
type InspectionRecord struct {
	DataAgeDays    *int        `json:"data_age_days,omitempty" yaml:"data_age_days,omitempty"`
	Label          *bool       `json:"label,omitempty" yaml:"label,omitempty"`
	ID             string      `json:"id" yaml:"id"`
	Name           string      `json:"name,omitempty" yaml:"name,omitempty"`
	Theme          string      `json:"theme" yaml:"theme"`
	Size           SizeClass   `json:"size,omitempty" yaml:"size,omitempty"`
	Locale         Locale      `json:"locale,omitempty" yaml:"locale,omitempty"`
	Season         Season      `json:"season,omitempty" yaml:"season,omitempty"`
	Address        string      `json:"address,omitempty" yaml:"address,omitempty"`
	Zone           string      `json:"zone,omitempty" yaml:"zone,omitempty"`
	InspectionDate string      `json:"inspection_date,omitempty" yaml:"inspection_date,omitempty"`
	Violations     []Violation `json:"violations,omitempty" yaml:"violations,omitempty"`
}

// ThemeClass returns the classified theme of the record.
func (r *InspectionRecord) ThemeClass() Theme {
	return ParseTheme(r.Theme)
}

// SizeClass returns the normalized size, defaulting to SizeMoyen.
func (r *InspectionRecord) SizeClass() SizeClass {
	return ParseSize(string(r.Size))
}

// SeverityPoints sums the fine-tier points of every violation.
func (r *InspectionRecord) SeverityPoints() int {
	total := 0
	for _, v := range r.Violations {
		total += v.Points()
	}
	return total
}

// LastViolation returns the date of the most recent parseable violation.
func (r *InspectionRecord) LastViolation() (time.Time, bool) {
	var last time.Time
	found := false
	for _, v := range r.Violations {
		t, err := ParseDate(v.Date)
		if err != nil {
			continue
		}
		if !found || t.After(last) {
			last = t
			found = true
		}
	}
	return last, found
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006/01/02",
	"02/01/2006",
}

// ParseDate parses the date formats found in inspection exports.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// Normalize lowercases, trims and strips accents so "Café" matches "cafe".
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return s
	}
	// Chained transformers carry state, so each call builds its own.
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(fold, s)
	if err != nil {
		return s
	}
	return out
}
