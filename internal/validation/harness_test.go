package validation

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/inspectrisk/internal/features"
	"github.com/thebtf/inspectrisk/pkg/models"
)

func decimalOf(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

// HarnessSuite is a test suite for cross-validation.
type HarnessSuite struct {
	suite.Suite
	h *Harness
}

func (s *HarnessSuite) SetupTest() {
	cfg := DefaultConfig()
	cfg.Seed = 7
	cfg.Workers = 2
	s.h = NewHarness(cfg)
}

func TestHarnessSuite(t *testing.T) {
	suite.Run(t, new(HarnessSuite))
}

// =============================================================================
// GOOD SCENARIOS - Expected normal operations
// =============================================================================

func (s *HarnessSuite) TestGenerateDataset() {
	records := s.h.GenerateDataset(300)
	s.Require().Len(records, 300)

	ex := features.NewExtractor()
	offenders := 0
	for i := range records {
		rec := &records[i]
		s.Require().NotNil(rec.Label)
		s.Require().NotNil(rec.DataAgeDays)
		s.GreaterOrEqual(*rec.DataAgeDays, 1)
		s.LessOrEqual(*rec.DataAgeDays, 365)
		s.NotEqual(models.ThemeUnknown, rec.ThemeClass())

		if *rec.Label {
			offenders++
			s.NotEmpty(rec.Violations, rec.ID)
			s.LessOrEqual(len(rec.Violations), 10)
		} else {
			s.Empty(rec.Violations, rec.ID)
		}
		for _, v := range rec.Violations {
			s.True(v.HasFine())
			s.True(v.Fine.LessThanOrEqual(decimalOf(2500)), v.Fine.String())
		}

		_, err := ex.Extract(rec)
		s.NoError(err)
	}
	s.Greater(offenders, 0)
	s.Less(offenders, 300)
}

func (s *HarnessSuite) TestGenerateDatasetIsSeeded() {
	cfg := DefaultConfig()
	cfg.Seed = 99
	a := NewHarness(cfg).GenerateDataset(50)
	b := NewHarness(cfg).GenerateDataset(50)
	s.Equal(a, b)
}

func (s *HarnessSuite) TestKFoldSplit() {
	records := s.h.GenerateDataset(23)
	folds, err := s.h.KFoldSplit(records)
	s.Require().NoError(err)
	s.Require().Len(folds, 5)

	seen := make(map[string]int)
	for i, f := range folds {
		s.Equal(i, f.Index)
		if i < 4 {
			s.Len(f.Test, 4)
		} else {
			s.Len(f.Test, 7, "last fold takes the remainder")
		}
		s.Len(f.Train, 23-len(f.Test))

		inTest := make(map[string]bool)
		for _, r := range f.Test {
			seen[r.ID]++
			inTest[r.ID] = true
		}
		for _, r := range f.Train {
			s.False(inTest[r.ID], "record %s leaks into train", r.ID)
		}
	}
	s.Len(seen, 23)
	for id, n := range seen {
		s.Equal(1, n, id)
	}
}

func (s *HarnessSuite) TestEvaluateFoldSubset() {
	folds, err := s.h.KFoldSplit(s.h.GenerateDataset(100))
	s.Require().NoError(err)

	m, err := s.h.EvaluateFold(folds[0], Params{Engine: s.h.Config().Engine, Models: []string{models.ModelEngine}})
	s.Require().NoError(err)
	s.Require().Len(m, 1)
	s.Equal(models.ModelEngine, m[0].Model)
	s.Equal(len(folds[0].Test), m[0].TestSize)
	s.Equal(len(folds[0].Train), m[0].TrainSize)
}

// End-to-end: five folds over 500 synthetic records.
func (s *HarnessSuite) TestRunFiveFolds() {
	records := s.h.GenerateDataset(500)
	report, err := s.h.Run(context.Background(), records)
	s.Require().NoError(err)

	s.Equal(500, report.DatasetSize)
	s.Equal(5, report.K)
	s.Len(report.Folds, 15)
	for _, f := range report.Folds {
		s.GreaterOrEqual(f.Accuracy, 0.0)
		s.LessOrEqual(f.Accuracy, 1.0)
		s.GreaterOrEqual(f.AUC, 0.0)
		s.LessOrEqual(f.AUC, 1.0)
	}

	s.Require().Len(report.Aggregates, 3)
	for _, model := range AllModels {
		agg, ok := report.Aggregate(model)
		s.Require().True(ok, model)
		s.Equal(5, agg.Folds)
		total := agg.Confusion.TP + agg.Confusion.TN + agg.Confusion.FP + agg.Confusion.FN
		s.Equal(500, total, "every record is tested exactly once")
	}

	s.Require().Len(report.Ranking, 3)
	s.Equal(1, report.Ranking[0].Rank)
	s.Len(report.Comparisons, 3)
}

// =============================================================================
// BAD SCENARIOS - Invalid input
// =============================================================================

func (s *HarnessSuite) TestKFoldSplitTooFewRecords() {
	_, err := s.h.KFoldSplit(s.h.GenerateDataset(3))
	s.True(errors.Is(err, models.ErrEmptyData))
}

func (s *HarnessSuite) TestRunSurfacesExtractionErrors() {
	records := s.h.GenerateDataset(20)
	records[3].InspectionDate = "not a date"

	_, err := s.h.Run(context.Background(), records)
	var exErr *models.ExtractionError
	s.True(errors.As(err, &exErr))
}

func (s *HarnessSuite) TestRunCancelled() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.h.Run(ctx, s.h.GenerateDataset(50))
	s.ErrorIs(err, context.Canceled)
}

// =============================================================================
// EDGE CASES
// =============================================================================

func TestNewHarnessDefaults(t *testing.T) {
	h := NewHarness(Config{})
	cfg := h.Config()
	assert.Equal(t, DefaultFolds, cfg.Folds)
	assert.Positive(t, cfg.Workers)
	assert.Equal(t, DefaultCVIterations, cfg.Logistic.Iterations)
	assert.InDelta(t, 0.5, cfg.Gaussian.Threshold, 1e-9)
	assert.NotZero(t, h.seed, "a fresh seed is drawn")
}

func TestViolationCountRange(t *testing.T) {
	rng := newRand(1)
	for range 1000 {
		n := violationCount(rng)
		require.GreaterOrEqual(t, n, 1)
		require.LessOrEqual(t, n, 10)
	}
}
