package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/inspectrisk/pkg/models"
)

func newTestTuner(t *testing.T) *Tuner {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Seed = 11
	cfg.Folds = 3
	cfg.Workers = 2
	h := NewHarness(cfg)
	tuner, err := NewTuner(h, h.GenerateDataset(150), TunerConfig{MaxLogisticTrials: 3, EngineIterations: 4})
	require.NoError(t, err)
	return tuner
}

func assertSearch(t *testing.T, res *SearchResult, model string, trials int) {
	t.Helper()
	assert.Equal(t, model, res.Model)
	require.Len(t, res.Trials, trials)

	ids := make(map[string]bool)
	for _, tr := range res.Trials {
		assert.NotEmpty(t, tr.ID)
		assert.False(t, ids[tr.ID], "trial IDs are unique")
		ids[tr.ID] = true
		assert.Empty(t, tr.Error)
		assert.GreaterOrEqual(t, tr.Score, 0.0)
		assert.LessOrEqual(t, tr.Score, 1.0)
		assert.LessOrEqual(t, tr.Score, res.BestScore)
	}
	assert.NotNil(t, res.Best)
	assert.InDelta(t, res.BestScore-res.Baseline, res.Improvement, 1e-12)
}

func TestGridSearchLogistic(t *testing.T) {
	tuner := newTestTuner(t)
	res, err := tuner.GridSearchLogistic(context.Background())
	require.NoError(t, err)

	assertSearch(t, res, models.ModelLogistic, 3)
	// Regularization is the innermost axis
	assert.Equal(t, map[string]float64{"learning_rate": 0.001, "iterations": 100, "regularization": 0.1}, res.Trials[2].Params)
}

func TestSearchGaussian(t *testing.T) {
	tuner := newTestTuner(t)
	res, err := tuner.SearchGaussian(context.Background())
	require.NoError(t, err)

	assertSearch(t, res, models.ModelGaussian, len(GaussianThresholds)*len(Smoothings))
	assert.Contains(t, GaussianThresholds, res.Best["threshold"])
}

func TestRandomSearchEngine(t *testing.T) {
	tuner := newTestTuner(t)
	res, err := tuner.RandomSearchEngine(context.Background())
	require.NoError(t, err)

	assertSearch(t, res, models.ModelEngine, 4)
	for _, tr := range res.Trials {
		assert.Contains(t, ThemeWeights, tr.Params["theme_weight"])
		assert.Contains(t, SizeWeights, tr.Params["size_weight"])
		assert.Contains(t, HistoryVigilances, tr.Params["heavy_history_vigilance"])
		assert.Contains(t, DecisionThresholds, tr.Params["decision_threshold"])
	}
}

func TestTunerRun(t *testing.T) {
	tuner := newTestTuner(t)
	report, err := tuner.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Results, 3)
	for _, model := range AllModels {
		assert.Contains(t, report.Results, model)
	}
}

func TestTunerCancelled(t *testing.T) {
	tuner := newTestTuner(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tuner.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewTunerTooFewRecords(t *testing.T) {
	h := NewHarness(Config{Seed: 1})
	_, err := NewTuner(h, h.GenerateDataset(2), TunerConfig{})
	assert.ErrorIs(t, err, models.ErrEmptyData)
}
