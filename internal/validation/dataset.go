package validation

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/thebtf/inspectrisk/pkg/models"
)

var (
	datasetThemes  = []models.Theme{models.ThemeRestaurant, models.ThemeFastFood, models.ThemeCafe, models.ThemeBar, models.ThemeHotel}
	datasetSizes   = []models.SizeClass{models.SizePetit, models.SizeMoyen, models.SizeGrand, models.SizeEnterprise}
	datasetLocales = []models.Locale{models.LocaleUrbanDense, models.LocaleUrban, models.LocalePeriurban, models.LocaleRural}
	datasetSeasons = []models.Season{models.SeasonWinter, models.SeasonSpring, models.SeasonSummer, models.SeasonAutumn}
)

// baseInfractionRate is the chance that an establishment of the theme has
// at least one violation.
var baseInfractionRate = map[models.Theme]float64{
	models.ThemeRestaurant: 0.35,
	models.ThemeFastFood:   0.45,
	models.ThemeCafe:       0.25,
	models.ThemeBar:        0.40,
	models.ThemeHotel:      0.30,
}

var sizeRateFactor = map[models.SizeClass]float64{
	models.SizePetit:      1.1,
	models.SizeGrand:      1.2,
	models.SizeEnterprise: 1.3,
}

var localeRateFactor = map[models.Locale]float64{
	models.LocaleUrbanDense: 1.2,
	models.LocaleRural:      0.8,
}

var localeCity = map[models.Locale]string{
	models.LocaleUrbanDense: "Montreal",
	models.LocaleUrban:      "Quebec",
	models.LocalePeriurban:  "Laval",
	models.LocaleRural:      "Ville",
}

type fineRange struct{ lo, hi float64 }

var themeFines = map[models.Theme]fineRange{
	models.ThemeFastFood:   {200, 2000},
	models.ThemeRestaurant: {300, 1500},
	models.ThemeBar:        {400, 2500},
}

var defaultFines = fineRange{150, 1200}

// datasetYear anchors generated inspection dates.
const datasetYear = 2024

// generateDataset draws n labeled synthetic inspection records. The label
// is whether the establishment was drawn as an offender, before its
// violations are generated.
func generateDataset(rng *rand.Rand, n int) []models.InspectionRecord {
	title := cases.Title(language.French)
	records := make([]models.InspectionRecord, n)
	for i := range records {
		theme := pick(rng, datasetThemes)
		size := pick(rng, datasetSizes)
		locale := pick(rng, datasetLocales)
		season := pick(rng, datasetSeasons)

		rate := baseInfractionRate[theme]
		if f, ok := sizeRateFactor[size]; ok {
			rate *= f
		}
		if f, ok := localeRateFactor[locale]; ok {
			rate *= f
		}
		offender := rng.Float64() < rate

		inspected := time.Date(datasetYear, time.Month(1+rng.IntN(12)), 1+rng.IntN(28), 0, 0, 0, 0, time.UTC)
		age := 1 + rng.IntN(365)

		var violations []models.Violation
		if offender {
			violations = generateViolations(rng, theme, inspected)
		}

		records[i] = models.InspectionRecord{
			ID:             fmt.Sprintf("TEST_%05d", i),
			Name:           fmt.Sprintf("%s %d", title.String(string(theme)), i),
			Theme:          string(theme),
			Size:           size,
			Locale:         locale,
			Season:         season,
			Address:        fmt.Sprintf("%d Rue Test, %s, QC", 100+rng.IntN(9900), localeCity[locale]),
			InspectionDate: inspected.Format(time.DateOnly),
			Violations:     violations,
			DataAgeDays:    &age,
			Label:          &offender,
		}
	}
	return records
}

// violationCount draws 1 with probability 0.6, then 2, 3-5 or 6-10 from
// successively rarer draws.
func violationCount(rng *rand.Rand) int {
	switch {
	case rng.Float64() < 0.6:
		return 1
	case rng.Float64() < 0.8:
		return 2
	case rng.Float64() < 0.95:
		return 3 + rng.IntN(3)
	default:
		return 6 + rng.IntN(5)
	}
}

func generateViolations(rng *rand.Rand, theme models.Theme, inspected time.Time) []models.Violation {
	fines, ok := themeFines[theme]
	if !ok {
		fines = defaultFines
	}
	n := violationCount(rng)
	out := make([]models.Violation, n)
	for j := range out {
		amount := fines.lo + rng.Float64()*(fines.hi-fines.lo)
		severity := models.SeverityMinor
		switch {
		case amount > 1500:
			severity = models.SeverityCritical
		case amount > 500:
			severity = models.SeverityMajor
		}
		out[j] = models.Violation{
			Fine:        decimal.NewFromFloat(amount).Round(2),
			Date:        inspected.AddDate(0, 0, -rng.IntN(365)).Format(time.DateOnly),
			Severity:    severity,
			Description: fmt.Sprintf("infraction_%d", j+1),
		}
	}
	return out
}

func pick[T any](rng *rand.Rand, values []T) T {
	return values[rng.IntN(len(values))]
}
