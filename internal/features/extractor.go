// Package features turns inspection records into normalized feature vectors.
package features

import (
	"errors"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/thebtf/inspectrisk/pkg/models"
)

// Dimension is the length of every feature vector.
const Dimension = 7

// Vector is an ordered set of features, each in [0, 1].
type Vector [Dimension]float64

// Slice returns the vector as a slice for the classifiers.
func (v Vector) Slice() []float64 {
	out := make([]float64, Dimension)
	copy(out, v[:])
	return out
}

// Names are the feature names in vector order.
var Names = [Dimension]string{
	"theme",
	"violation_count",
	"mean_severity",
	"recurrence",
	"month",
	"locale",
	"age",
}

// ThemeEncoding maps a classified theme to its numeric code.
var ThemeEncoding = map[models.Theme]float64{
	models.ThemeRestaurant: 0.8,
	models.ThemeFastFood:   0.6,
	models.ThemeCafe:       0.4,
	models.ThemeBar:        0.7,
	models.ThemeHotel:      0.5,
	models.ThemeGrocery:    0.3,
	models.ThemeBakery:     0.2,
}

type localeBucket struct {
	fragments []string
	code      float64
}

// localeBuckets are matched in order against the normalized address.
var localeBuckets = []localeBucket{
	{fragments: []string{"montreal", "mtl", "downtown"}, code: 0.8},
	{fragments: []string{"laval", "longueuil", "brossard"}, code: 0.6},
	{fragments: []string{"quebec", "sherbrooke", "gatineau"}, code: 0.7},
}

const (
	defaultThemeCode   = 0.5
	emptyAddressCode   = 0.5
	otherAddressCode   = 0.4
	defaultSeverity    = 0.3
	defaultMonth       = 6
	maxViolationCount  = 10
	maxEstimatedAge    = 20
	labelPointsCeiling = 5
)

var fineScale = decimal.NewFromInt(5000)

// Extractor converts records into feature vectors. It keeps no state, so
// one value can serve concurrent folds.
type Extractor struct{}

// NewExtractor creates a new feature extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract computes the feature vector of a record. It fails with a
// *models.ExtractionError when a date or amount is malformed.
func (e *Extractor) Extract(rec *models.InspectionRecord) (Vector, error) {
	var v Vector
	if rec == nil {
		return v, &models.ExtractionError{Field: "record", Err: errors.New("nil record")}
	}
	if err := validate(rec); err != nil {
		return v, err
	}

	month, err := recordMonth(rec)
	if err != nil {
		return v, err
	}

	n := len(rec.Violations)
	v[0] = EncodeTheme(rec.Theme)
	v[1] = math.Min(float64(n), maxViolationCount) / maxViolationCount
	v[2] = meanSeverity(rec.Violations)
	v[3] = recurrence(n)
	v[4] = float64(month) / 12.0
	v[5] = EncodeAddress(rec.Address)
	v[6] = math.Min(float64(n*2+1), maxEstimatedAge) / maxEstimatedAge
	return v, nil
}

// Matrix extracts every record and its label. Records carrying their own
// label use it unless useDerived is set.
func (e *Extractor) Matrix(records []models.InspectionRecord, useDerived bool) ([][]float64, []int, error) {
	X := make([][]float64, 0, len(records))
	y := make([]int, 0, len(records))
	for i := range records {
		vec, err := e.Extract(&records[i])
		if err != nil {
			return nil, nil, err
		}
		X = append(X, vec.Slice())
		y = append(y, Label(&records[i], useDerived))
	}
	return X, y, nil
}

// EncodeTheme maps free-form theme text to its numeric code.
func EncodeTheme(theme string) float64 {
	if code, ok := ThemeEncoding[models.ParseTheme(theme)]; ok {
		return code
	}
	return defaultThemeCode
}

// EncodeAddress buckets an address by the city fragments it contains.
func EncodeAddress(address string) float64 {
	a := models.Normalize(address)
	if a == "" {
		return emptyAddressCode
	}
	for _, b := range localeBuckets {
		for _, f := range b.fragments {
			if strings.Contains(a, f) {
				return b.code
			}
		}
	}
	return otherAddressCode
}

// DeriveLabel returns 1 when the accumulated severity points exceed 5.
func DeriveLabel(rec *models.InspectionRecord) int {
	if rec.SeverityPoints() > labelPointsCeiling {
		return 1
	}
	return 0
}

// Label returns the record's ground truth when present, else the derived label.
func Label(rec *models.InspectionRecord, useDerived bool) int {
	if rec.Label != nil && !useDerived {
		if *rec.Label {
			return 1
		}
		return 0
	}
	return DeriveLabel(rec)
}

func validate(rec *models.InspectionRecord) error {
	for _, viol := range rec.Violations {
		if viol.Fine.IsNegative() {
			return &models.ExtractionError{
				RecordID: rec.ID,
				Field:    "violations.fine",
				Err:      errors.New("negative fine " + viol.Fine.String()),
			}
		}
		if viol.Date == "" {
			continue
		}
		if _, err := models.ParseDate(viol.Date); err != nil {
			return &models.ExtractionError{RecordID: rec.ID, Field: "violations.date", Err: err}
		}
	}
	return nil
}

// recordMonth reads the month of the first date-like field.
func recordMonth(rec *models.InspectionRecord) (int, error) {
	if rec.InspectionDate != "" {
		t, err := models.ParseDate(rec.InspectionDate)
		if err != nil {
			return 0, &models.ExtractionError{RecordID: rec.ID, Field: "inspection_date", Err: err}
		}
		return int(t.Month()), nil
	}
	for _, viol := range rec.Violations {
		if viol.Date == "" {
			continue
		}
		t, err := models.ParseDate(viol.Date)
		if err != nil {
			return 0, &models.ExtractionError{RecordID: rec.ID, Field: "violations.date", Err: err}
		}
		return int(t.Month()), nil
	}
	return defaultMonth, nil
}

func meanSeverity(violations []models.Violation) float64 {
	if len(violations) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range violations {
		if !v.HasFine() {
			total += defaultSeverity
			continue
		}
		total += math.Min(v.Fine.Div(fineScale).InexactFloat64(), 1.0)
	}
	return total / float64(len(violations))
}

// recurrence is a step function of the violation count.
func recurrence(n int) float64 {
	switch {
	case n == 0:
		return 0
	case n <= 2:
		return 0.3
	case n <= 5:
		return 0.6
	default:
		return 0.9
	}
}
