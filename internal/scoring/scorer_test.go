package scoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/inspectrisk/internal/categorizer"
	"github.com/thebtf/inspectrisk/internal/classifier"
	"github.com/thebtf/inspectrisk/internal/probability"
	"github.com/thebtf/inspectrisk/internal/rules"
	"github.com/thebtf/inspectrisk/internal/stats"
	"github.com/thebtf/inspectrisk/internal/validation"
	"github.com/thebtf/inspectrisk/pkg/models"
)

var (
	summerDay = time.Date(2024, 7, 15, 10, 0, 0, 0, time.UTC)
	winterDay = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
)

func newTestScorer(now time.Time) *Scorer {
	clock := func() time.Time { return now }
	engine := probability.NewEngine(probability.DefaultConfig())
	engine.SetClock(clock)
	adapter := rules.NewAdapter(nil)
	adapter.SetClock(clock)
	cat := categorizer.New(categorizer.DefaultConfig())
	cat.SetClock(clock)

	s := NewScorer(engine, adapter, cat, Config{Validation: validation.Config{Seed: 3, Workers: 2}})
	s.SetClock(clock)
	return s
}

func fastFoodRecord(now time.Time) models.InspectionRecord {
	return models.InspectionRecord{
		ID:    "A",
		Name:  "Burger Express",
		Theme: "fast_food",
		Size:  models.SizeGrand,
		Violations: []models.Violation{{
			Fine: decimal.NewFromInt(800),
			Date: now.AddDate(0, 0, -60).Format(time.DateOnly),
		}},
	}
}

func cafeRecord() models.InspectionRecord {
	return models.InspectionRecord{ID: "B", Name: "Café du Coin", Theme: "cafe", Size: models.SizePetit}
}

// ScorerSuite is a test suite for the scoring pipeline.
type ScorerSuite struct {
	suite.Suite
	scorer *Scorer
}

func (s *ScorerSuite) SetupTest() {
	s.scorer = newTestScorer(summerDay)
}

func TestScorerSuite(t *testing.T) {
	suite.Run(t, new(ScorerSuite))
}

// =============================================================================
// GOOD SCENARIOS - Expected normal operations
// =============================================================================

func (s *ScorerSuite) TestScenarioFastFoodRecentViolation() {
	rec := fastFoodRecord(summerDay)
	res, err := s.scorer.Score(&rec)
	s.Require().NoError(err)

	s.Contains([]models.Category{models.CategoryEleve, models.CategoryCritique}, res.Category)
	s.Equal("A", res.RecordID)
	s.Equal("Burger Express", res.Name)
	s.NotEmpty(res.ID)
	s.Equal("2024.1", res.RuleVersion)
	s.Equal(summerDay, res.AssessedAt)
	s.Contains(res.Actions, "Check cold chain temperatures")
	s.Contains(res.Factors, "high-risk theme fast_food (prior 0.45)")
	s.Contains(res.Factors, "large establishment (grand)")
	s.Contains(res.Factors, "summer season")
	s.GreaterOrEqual(res.Priority, 7)
	s.Nil(res.BaselineProbability)
}

func (s *ScorerSuite) TestScenarioSmallCafeNoHistory() {
	rec := cafeRecord()
	res, err := s.scorer.Score(&rec)
	s.Require().NoError(err)

	s.Contains([]models.Category{models.CategoryFaible, models.CategoryMoyen}, res.Category)
	s.LessOrEqual(res.Priority, 5)
	s.Len(res.Actions, 4, "no theme-specific action for cafes")
}

func (s *ScorerSuite) TestComponentsCompose() {
	rec := fastFoodRecord(summerDay)
	res, c, err := s.scorer.ScoreComponents(&rec)
	s.Require().NoError(err)

	raw := c.Probabilities.Infraction
	s.InDelta(raw, res.RawProbability, 1e-12)
	s.InDelta(c.Adjusted, res.AdjustedProbability, 1e-12)
	s.InDelta(40*(c.Adjusted-raw), c.RuleShift, 1e-12)
	s.InDelta(stats.Clamp(c.Probabilities.Score+c.RuleShift, 0, 100), res.Score, 1e-12)
	s.InDelta(c.Assignment.Adjusted, res.ContextScore, 1e-12)
	s.GreaterOrEqual(res.ContextScore, res.Score, "summer, fast food and a recent violation only push up")
	for _, f := range c.Features {
		s.GreaterOrEqual(f, 0.0)
		s.LessOrEqual(f, 1.0)
	}
}

func (s *ScorerSuite) TestBaselineProbability() {
	X := [][]float64{{0.1, 0.2}, {0.9, 0.8}, {0.2, 0.1}, {0.8, 0.9}}
	y := []int{0, 1, 0, 1}
	// Seven features are extracted; train on matching dimension
	for i := range X {
		X[i] = append(X[i], 0.5, 0.5, 0.5, 0.5, 0.5)
	}
	model := classifier.NewLogisticRegression(classifier.DefaultLogisticConfig())
	s.Require().NoError(model.Fit(X, y))
	s.scorer.SetBaseline(model)

	rec := cafeRecord()
	res, err := s.scorer.Score(&rec)
	s.Require().NoError(err)
	s.Require().NotNil(res.BaselineProbability)
	s.GreaterOrEqual(*res.BaselineProbability, 0.0)
	s.LessOrEqual(*res.BaselineProbability, 1.0)

	s.scorer.SetBaseline(classifier.NewLogisticRegression(classifier.LogisticConfig{}))
	res, err = s.scorer.Score(&rec)
	s.Require().NoError(err)
	s.Nil(res.BaselineProbability, "unfitted baseline is ignored")
}

func (s *ScorerSuite) TestListenersSeeEveryAssessment() {
	var seen []string
	s.scorer.OnAssessment(func(r *models.RiskAssessmentResult) { seen = append(seen, r.RecordID) })

	batch := []models.InspectionRecord{fastFoodRecord(summerDay), cafeRecord()}
	s.scorer.ScoreBatch(batch)
	s.Equal([]string{"A", "B"}, seen)
}

func (s *ScorerSuite) TestScoreBatchStats() {
	batch := []models.InspectionRecord{fastFoodRecord(summerDay), cafeRecord(), cafeRecord()}
	out := s.scorer.ScoreBatch(batch)

	s.Require().Len(out.Results, 3)
	s.Empty(out.Errors)
	st := out.Stats
	s.Equal(3, st.Count)
	s.Len(st.Distribution, 4)

	total := 0
	scores := make([]float64, 0, 3)
	for _, r := range out.Results {
		scores = append(scores, r.Score)
	}
	for _, n := range st.Distribution {
		total += n
	}
	s.Equal(3, total)
	s.InDelta(stats.Mean(scores), st.Mean, 1e-9)
	s.InDelta(out.Results[1].Score, st.Median, 1e-9, "two identical cafes hold the middle")
	s.LessOrEqual(st.Min, st.Median)
	s.LessOrEqual(st.Median, st.Max)
	s.Equal(st.Distribution[models.CategoryCritique]+st.Distribution[models.CategoryEleve], st.PriorityEstablishments)
	s.NotEqual(out.Results[1].ID, out.Results[2].ID)
}

func (s *ScorerSuite) TestEvaluate() {
	h := validation.NewHarness(validation.Config{Seed: 5})
	report, err := s.scorer.Evaluate(context.Background(), h.GenerateDataset(90), 3)
	s.Require().NoError(err)
	s.Equal(3, report.K)
	s.Len(report.Ranking, 3)
}

// =============================================================================
// BAD SCENARIOS - Invalid input
// =============================================================================

func (s *ScorerSuite) TestMalformedRecordFails() {
	rec := cafeRecord()
	rec.Violations = []models.Violation{{Fine: decimal.NewFromInt(-5)}}

	_, err := s.scorer.Score(&rec)
	var exErr *models.ExtractionError
	s.Require().True(errors.As(err, &exErr))
	s.Equal("B", exErr.RecordID)
}

func (s *ScorerSuite) TestScoreBatchSkipsFailures() {
	bad := cafeRecord()
	bad.ID = "bad"
	bad.InspectionDate = "someday"
	out := s.scorer.ScoreBatch([]models.InspectionRecord{cafeRecord(), bad, fastFoodRecord(summerDay)})

	s.Len(out.Results, 2)
	s.Require().Len(out.Errors, 1)
	s.Equal(RecordError{Index: 1, RecordID: "bad", Error: out.Errors[0].Error}, out.Errors[0])
	s.Equal(1, out.Stats.Failed)
	s.Equal(2, out.Stats.Count)
}

func (s *ScorerSuite) TestEvaluateEmpty() {
	_, err := s.scorer.Evaluate(context.Background(), nil, 5)
	s.ErrorIs(err, ErrNoRecords)
}

// =============================================================================
// EDGE CASES
// =============================================================================

func (s *ScorerSuite) TestEmptyBatch() {
	out := s.scorer.ScoreBatch(nil)
	s.Empty(out.Results)
	s.Zero(out.Stats.Count)
	s.Zero(out.Stats.Mean)
	s.Len(out.Stats.Distribution, 4)
}

func TestDominantFactors_Quiet(t *testing.T) {
	s := newTestScorer(winterDay)
	rec := cafeRecord()
	res, err := s.Score(&rec)
	require.NoError(t, err)
	assert.Equal(t, []string{"no dominant risk factor"}, res.Factors)
}

func TestDominantFactors_RuleShift(t *testing.T) {
	s := newTestScorer(winterDay)
	require.True(t, s.rules.UpdateRules(&models.RuleSet{
		Version:          "heavy",
		EffectiveDate:    "2024-01-01",
		ThemeMultipliers: map[models.Theme]float64{models.ThemeCafe: 3},
	}))

	rec := cafeRecord()
	res, err := s.Score(&rec)
	require.NoError(t, err)
	assert.Equal(t, "heavy", res.RuleVersion)
	require.NotEmpty(t, res.Factors)
	assert.Contains(t, res.Factors[len(res.Factors)-1], "current rules raise probability")
	assert.Greater(t, res.AdjustedProbability, res.RawProbability)
}
