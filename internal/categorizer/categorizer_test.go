package categorizer

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/inspectrisk/pkg/models"
)

var (
	winterDay = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	summerDay = time.Date(2024, 7, 15, 12, 0, 0, 0, time.UTC)
)

// CategorizerSuite is a test suite for Categorizer operations.
type CategorizerSuite struct {
	suite.Suite
	c *Categorizer
}

func (s *CategorizerSuite) SetupTest() {
	s.c = New(DefaultConfig())
	s.c.SetClock(func() time.Time { return winterDay })
}

func TestCategorizerSuite(t *testing.T) {
	suite.Run(t, new(CategorizerSuite))
}

// =============================================================================
// GOOD SCENARIOS - Expected normal operations
// =============================================================================

func (s *CategorizerSuite) TestDefaultBands() {
	tests := []struct {
		score    float64
		category models.Category
	}{
		{0, models.CategoryFaible},
		{39.9, models.CategoryFaible},
		{40, models.CategoryMoyen},
		{59.99, models.CategoryMoyen},
		{60, models.CategoryEleve},
		{79.99, models.CategoryEleve},
		{80, models.CategoryCritique},
		{99, models.CategoryCritique},
	}
	for _, tt := range tests {
		a := s.c.Preview(tt.score, Context{})
		s.Equal(tt.category, a.Category, "score %.2f", tt.score)
	}
}

func (s *CategorizerSuite) TestBoundaryEightyIsCritique() {
	a := s.c.Categorize(80.0, Context{})
	s.Equal(models.CategoryCritique, a.Category)
	s.Equal(10, a.Priority)
	s.InDelta(0.5, a.Confidence, 1e-9, "on the band edge")
	s.Equal("immediate (0-3 days)", a.Delay)
	s.Len(a.Actions, 4)
}

func (s *CategorizerSuite) TestConfidence() {
	a := s.c.Preview(50, Context{})
	s.InDelta(1.0, a.Confidence, 1e-9, "band center")

	a = s.c.Preview(44, Context{})
	s.InDelta(0.5, a.Confidence, 1e-9, "floored")

	a = s.c.Preview(47.5, Context{})
	s.InDelta(0.75, a.Confidence, 1e-9)
}

func (s *CategorizerSuite) TestIdempotentWithoutRecalibration() {
	first := s.c.Categorize(55, Context{Zone: "Laval"})
	second := s.c.Categorize(55, Context{Zone: "Laval"})
	s.Equal(first.Category, second.Category)
	s.InDelta(first.Adjusted, second.Adjusted, 1e-12)

	p1 := s.c.Preview(72, Context{})
	p2 := s.c.Preview(72, Context{})
	s.Equal(p1, p2)
}

func (s *CategorizerSuite) TestPreviewLeavesHistoryAlone() {
	for range 25 {
		s.c.Preview(90, Context{})
	}
	snap := s.c.Snapshot()
	s.Zero(snap.Calls)
	s.Zero(snap.HistorySize)
	s.Zero(snap.Recalibrations)
}

func (s *CategorizerSuite) TestRecalibrationRaisesBands() {
	var got []Snapshot
	s.c.OnRecalibrate(func(snap Snapshot) { got = append(got, snap) })

	for range 9 {
		s.c.Categorize(90, Context{})
	}
	s.Empty(got, "no recalibration before the 10th call")
	s.c.Categorize(90, Context{})
	s.Require().Len(got, 1)

	snap := s.c.Snapshot()
	s.Equal(1, snap.Recalibrations)
	s.InDelta(90, snap.Calibration.Mean, 1e-9)
	s.InDelta(0, snap.Calibration.Std, 1e-9)
	s.InDelta(90, snap.Bands[0].Max, 1e-9)
	s.Equal(winterDay, snap.LastRecalibrated)

	// 85 was critique under the seed bands, now it is below every raised edge
	a := s.c.Preview(85, Context{})
	s.Equal(models.CategoryFaible, a.Category)
}

func (s *CategorizerSuite) TestRecalibrationRespectsFloors() {
	for i := 1; i <= 10; i++ {
		s.c.Categorize(float64(i), Context{})
	}
	snap := s.c.Snapshot()
	s.InDelta(3, snap.Calibration.P25, 1e-9)
	s.InDelta(8, snap.Calibration.P75, 1e-9)
	s.InDelta(10, snap.Calibration.P90, 1e-9)
	s.InDelta(5.5, snap.Calibration.Mean, 1e-9)
	s.InDelta(3.02765, snap.Calibration.Std, 1e-5)

	s.Equal([]Band{
		{Category: models.CategoryFaible, Min: 0, Max: 35},
		{Category: models.CategoryMoyen, Min: 35, Max: 55},
		{Category: models.CategoryEleve, Min: 55, Max: 75},
		{Category: models.CategoryCritique, Min: 75, Max: 100},
	}, snap.Bands)

	s.Equal(models.CategoryMoyen, s.c.Preview(38, Context{}).Category)
	s.Equal(models.CategoryCritique, s.c.Preview(76, Context{}).Category)
}

func (s *CategorizerSuite) TestContextAdjustmentsCompound() {
	s.c.SetClock(func() time.Time { return summerDay })
	a := s.c.Categorize(50, Context{
		Zone:          "Montréal",
		Theme:         models.ThemeFastFood,
		LastViolation: summerDay.AddDate(0, 0, -60),
	})
	s.InDelta(100, a.Adjusted, 1e-9, "clamped")
	s.Equal(models.CategoryCritique, a.Category)
	s.Len(a.Adjustments, 4)
}

func (s *CategorizerSuite) TestSingleAdjustments() {
	a := s.c.Preview(40, Context{Zone: "laval"})
	s.InDelta(44, a.Adjusted, 1e-9)
	s.Equal([]string{"urban zone (+5%)"}, a.Adjustments)
	s.Equal(4, a.Priority)

	a = s.c.Preview(40, Context{Theme: models.ThemeFastFood})
	s.InDelta(54, a.Adjusted, 1e-9)
	s.Equal(5, a.Priority)

	s.c.SetClock(func() time.Time { return summerDay })
	a = s.c.Preview(40, Context{})
	s.InDelta(49, a.Adjusted, 1e-9)
}

func (s *CategorizerSuite) TestBatch() {
	res := s.c.CategorizeBatch([]Item{
		{Score: 10},
		{Score: 50},
		{Score: 70, Context: Context{Name: "Chez Paul"}},
		{Score: 90},
	})
	s.Equal(4, res.Total)
	s.Equal(map[models.Category]int{
		models.CategoryFaible:   1,
		models.CategoryMoyen:    1,
		models.CategoryEleve:    1,
		models.CategoryCritique: 1,
	}, res.Distribution)
	s.InDelta(25, res.Percentages[models.CategoryEleve], 1e-9)
	s.Equal(1, res.Critical)
	s.Equal(2, res.Prioritized)
	s.InDelta(6.25, res.MeanPriority, 1e-9)
	s.Equal("restaurant_0", res.Results[0].RecordID)
	s.Equal("Chez Paul", res.Results[2].RecordID)
	s.Equal(4, res.Snapshot.Calls)
}

// =============================================================================
// BAD SCENARIOS - Invalid input
// =============================================================================

func (s *CategorizerSuite) TestSetThresholdsRejectsDisorder() {
	err := s.c.SetThresholds(models.Thresholds{Faible: 50, Moyen: 40, Eleve: 80})
	var vErr *models.ValidationError
	s.True(errors.As(err, &vErr))
	s.Equal(models.CategoryEleve, s.c.Preview(70, Context{}).Category, "bands unchanged")

	s.Error(s.c.SetThresholds(models.Thresholds{Faible: 30, Moyen: 50, Eleve: 100}))
}

func (s *CategorizerSuite) TestSetThresholds() {
	s.Require().NoError(s.c.SetThresholds(models.Thresholds{Faible: 30, Moyen: 50, Eleve: 70}))
	s.Equal(models.CategoryCritique, s.c.Preview(72, Context{}).Category)
	s.Equal(models.CategoryMoyen, s.c.Preview(30, Context{}).Category)
}

// =============================================================================
// EDGE CASES
// =============================================================================

func (s *CategorizerSuite) TestOutOfRangeScores() {
	s.Equal(models.CategoryCritique, s.c.Preview(100, Context{}).Category)
	s.Equal(models.CategoryCritique, s.c.Preview(150, Context{}).Category)
	s.Equal(models.CategoryFaible, s.c.Preview(-20, Context{}).Category)
}

func (s *CategorizerSuite) TestOldViolationIgnored() {
	a := s.c.Preview(40, Context{LastViolation: winterDay.AddDate(0, 0, -120)})
	s.Empty(a.Adjustments)
	s.InDelta(40, a.Adjusted, 1e-9)
}

func (s *CategorizerSuite) TestHistoryIsBounded() {
	for i := range 60 {
		s.c.Categorize(float64(i), Context{})
	}
	snap := s.c.Snapshot()
	s.Equal(60, snap.Calls)
	s.Equal(DefaultWindow, snap.HistorySize)
	s.Equal(6, snap.Recalibrations)
}

func TestPriority(t *testing.T) {
	tests := []struct {
		cat   models.Category
		score float64
		want  int
	}{
		{models.CategoryCritique, 80, 10},
		{models.CategoryEleve, 65, 7},
		{models.CategoryEleve, 70, 8},
		{models.CategoryMoyen, 45, 4},
		{models.CategoryMoyen, 50, 5},
		{models.CategoryFaible, 10, 2},
		{models.Category("other"), 10, 5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Priority(tt.cat, tt.score), "%s %.0f", tt.cat, tt.score)
	}
	assert.Equal(t, Delay(models.CategoryMoyen), Delay("other"))
	assert.Equal(t, Actions(models.CategoryMoyen), Actions("other"))
}

func TestConcurrentCategorize(t *testing.T) {
	c := New(Config{})
	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Categorize(float64(i%100), Context{})
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	require.Equal(t, 100, snap.Calls)
	assert.Equal(t, 10, snap.Recalibrations)
	assert.Equal(t, DefaultWindow, snap.HistorySize)
}
