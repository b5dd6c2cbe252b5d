package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/inspectrisk/pkg/models"
)

func TestComputeMetrics(t *testing.T) {
	yTrue := []int{1, 1, 0, 0, 1}
	yPred := []int{1, 0, 0, 1, 1}
	yProb := []float64{0.8, 0.4, 0.2, 0.6, 0.9}

	m := ComputeMetrics(yTrue, yPred, yProb)

	assert.Equal(t, models.ConfusionCounts{TP: 2, TN: 1, FP: 1, FN: 1}, m.Confusion)
	assert.Equal(t, 5, m.TestSize)
	assert.InDelta(t, 0.6, m.Accuracy, 1e-9)
	assert.InDelta(t, 2.0/3, m.Precision, 1e-9)
	assert.InDelta(t, 2.0/3, m.Recall, 1e-9)
	assert.InDelta(t, 2.0/3, m.F1, 1e-9)
	assert.InDelta(t, 0.5, m.Specificity, 1e-9)
	assert.InDelta(t, 5.0/6, m.AUC, 1e-9)
	assert.InDelta(t, 0.162, m.Brier, 1e-9)
}

func TestComputeMetrics_EmptyDenominators(t *testing.T) {
	m := ComputeMetrics([]int{0, 0}, []int{0, 0}, []float64{0.1, 0.2})
	assert.InDelta(t, 1.0, m.Accuracy, 1e-9)
	assert.Zero(t, m.Precision)
	assert.Zero(t, m.Recall)
	assert.Zero(t, m.F1)
	assert.InDelta(t, 0.5, m.AUC, 1e-9)

	m = ComputeMetrics(nil, nil, nil)
	assert.Zero(t, m.Accuracy)
	assert.Zero(t, m.Brier)
}

func TestApproxAUC(t *testing.T) {
	tests := []struct {
		name  string
		yTrue []int
		yProb []float64
		want  float64
	}{
		{"perfect", []int{1, 1, 0, 0}, []float64{0.9, 0.8, 0.2, 0.1}, 1.0},
		{"inverted", []int{0, 0, 1, 1}, []float64{0.9, 0.8, 0.2, 0.1}, 0.0},
		{"mixed", []int{1, 0, 1, 0}, []float64{0.9, 0.8, 0.7, 0.1}, 0.75},
		{"ties keep input order", []int{1, 0}, []float64{0.5, 0.5}, 1.0},
		{"no negatives", []int{1, 1}, []float64{0.3, 0.4}, 0.5},
		{"no positives", []int{0, 0}, []float64{0.3, 0.4}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ApproxAUC(tt.yTrue, tt.yProb), 1e-9)
		})
	}
}

func TestAggregate(t *testing.T) {
	folds := []models.FoldMetrics{
		{Accuracy: 0.6, F1: 0.5, Confusion: models.ConfusionCounts{TP: 1, TN: 2}},
		{Accuracy: 0.8, F1: 0.7, Confusion: models.ConfusionCounts{TP: 3, FN: 1}},
	}
	agg := Aggregate(models.ModelEngine, folds)

	assert.Equal(t, models.ModelEngine, agg.Model)
	assert.Equal(t, 2, agg.Folds)
	assert.Equal(t, models.ConfusionCounts{TP: 4, TN: 2, FN: 1}, agg.Confusion)
	require.Len(t, agg.Metrics, len(models.AllMetrics))

	acc := agg.Metrics[models.MetricAccuracy]
	assert.InDelta(t, 0.7, acc.Mean, 1e-9)
	assert.InDelta(t, 0.1, acc.Std, 1e-9, "population deviation")
	assert.InDelta(t, 0.6, acc.Min, 1e-9)
	assert.InDelta(t, 0.8, acc.Max, 1e-9)
	assert.Equal(t, []float64{0.6, 0.8}, acc.Values)

	empty := Aggregate("none", nil)
	assert.Empty(t, empty.Metrics)
}

func summaryOf(mean float64) models.MetricSummary {
	return models.MetricSummary{Mean: mean}
}

func TestRank(t *testing.T) {
	aggs := []models.AggregateMetrics{
		{Model: "c", Metrics: map[string]models.MetricSummary{
			models.MetricAccuracy: summaryOf(0.5), models.MetricF1: summaryOf(0.2), models.MetricAUC: summaryOf(0.5),
		}},
		{Model: "a", Metrics: map[string]models.MetricSummary{
			models.MetricAccuracy: summaryOf(0.9), models.MetricF1: summaryOf(0.8), models.MetricAUC: summaryOf(0.9),
		}},
		{Model: "b", Metrics: map[string]models.MetricSummary{
			models.MetricAccuracy: summaryOf(0.7), models.MetricF1: summaryOf(0.6), models.MetricAUC: summaryOf(0.5),
		}},
	}

	ranking, comparisons := Rank(aggs)

	require.Len(t, ranking, 3)
	assert.Equal(t, models.RankedModel{Model: "a", Points: 9, Rank: 1}, ranking[0])
	// b ties c on AUC and wins the tie by name
	assert.Equal(t, models.RankedModel{Model: "b", Points: 6, Rank: 2}, ranking[1])
	assert.Equal(t, models.RankedModel{Model: "c", Points: 3, Rank: 3}, ranking[2])

	require.Len(t, comparisons, 3)
	assert.Equal(t, models.MetricAccuracy, comparisons[0].Metric)
	assert.Equal(t, "a", comparisons[0].Entries[0].Model)
}

func TestRank_RobustnessPenalizesSpread(t *testing.T) {
	aggs := []models.AggregateMetrics{{Model: "m", Metrics: map[string]models.MetricSummary{
		models.MetricAccuracy: {Mean: 0.8, Std: 0.1},
	}}}
	_, comparisons := Rank(aggs)
	require.NotEmpty(t, comparisons[0].Entries)
	assert.InDelta(t, 0.7, comparisons[0].Entries[0].Robustness, 1e-9)
	assert.Empty(t, comparisons[1].Entries, "metric missing from the aggregate")
}
