package validation

import (
	"cmp"
	"slices"

	"github.com/thebtf/inspectrisk/internal/stats"
	"github.com/thebtf/inspectrisk/pkg/models"
)

// rankingMetrics are the metrics that award ranking points.
var rankingMetrics = []string{models.MetricAccuracy, models.MetricF1, models.MetricAUC}

// ComputeMetrics scores binary predictions against ground truth. Ratios
// with an empty denominator are 0.
func ComputeMetrics(yTrue, yPred []int, yProb []float64) models.FoldMetrics {
	var c models.ConfusionCounts
	for i, t := range yTrue {
		switch {
		case t == 1 && yPred[i] == 1:
			c.TP++
		case t == 0 && yPred[i] == 0:
			c.TN++
		case t == 0 && yPred[i] == 1:
			c.FP++
		default:
			c.FN++
		}
	}

	m := models.FoldMetrics{Confusion: c, TestSize: len(yTrue)}
	m.Accuracy = ratio(c.TP+c.TN, len(yTrue))
	m.Precision = ratio(c.TP, c.TP+c.FP)
	m.Recall = ratio(c.TP, c.TP+c.FN)
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	m.Specificity = ratio(c.TN, c.TN+c.FP)
	m.AUC = ApproxAUC(yTrue, yProb)
	m.Brier = brier(yTrue, yProb)
	return m
}

// ApproxAUC counts, for every positive, the negatives ranked below it when
// rows are ordered by descending probability, and normalizes by the number
// of positive/negative pairs. Tied probabilities keep input order. It is
// 0.5 when either class is absent.
func ApproxAUC(yTrue []int, yProb []float64) float64 {
	order := make([]int, len(yProb))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(yProb[b], yProb[a])
	})

	pos := 0
	for _, t := range yTrue {
		pos += t
	}
	neg := len(yTrue) - pos
	if pos == 0 || neg == 0 {
		return 0.5
	}

	pairs := 0
	for i, idx := range order {
		if yTrue[idx] != 1 {
			continue
		}
		for _, later := range order[i+1:] {
			if yTrue[later] == 0 {
				pairs++
			}
		}
	}
	return float64(pairs) / float64(pos*neg)
}

func brier(yTrue []int, yProb []float64) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	sum := 0.0
	for i, t := range yTrue {
		d := yProb[i] - float64(t)
		sum += d * d
	}
	return sum / float64(len(yTrue))
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// Aggregate summarizes the folds of one model. The deviation is the
// population standard deviation across folds.
func Aggregate(model string, folds []models.FoldMetrics) models.AggregateMetrics {
	agg := models.AggregateMetrics{
		Model:   model,
		Folds:   len(folds),
		Metrics: make(map[string]models.MetricSummary, len(models.AllMetrics)),
	}
	for _, f := range folds {
		agg.Confusion.TP += f.Confusion.TP
		agg.Confusion.TN += f.Confusion.TN
		agg.Confusion.FP += f.Confusion.FP
		agg.Confusion.FN += f.Confusion.FN
	}
	if len(folds) == 0 {
		return agg
	}
	for _, name := range models.AllMetrics {
		values := make([]float64, len(folds))
		for i, f := range folds {
			values[i] = f.Value(name)
		}
		lo, hi := stats.MinMax(values)
		agg.Metrics[name] = models.MetricSummary{
			Values: values,
			Mean:   stats.Mean(values),
			Std:    stats.PopulationStdDev(values),
			Min:    lo,
			Max:    hi,
		}
	}
	return agg
}

// ComparisonEntry is one model's standing on one metric.
type ComparisonEntry struct {
	Model      string  `json:"model"`
	Mean       float64 `json:"mean"`
	Std        float64 `json:"std"`
	Robustness float64 `json:"robustness"`
}

// Comparison orders the models on one metric, best mean first.
type Comparison struct {
	Metric  string            `json:"metric"`
	Entries []ComparisonEntry `json:"entries"`
}

// Rank compares the models on accuracy, F1 and AUC. On each metric the
// model in position i of n earns n-i points; the global ranking orders
// models by total points. Equal values order by model name.
func Rank(aggs []models.AggregateMetrics) ([]models.RankedModel, []Comparison) {
	points := make(map[string]int, len(aggs))
	comparisons := make([]Comparison, 0, len(rankingMetrics))

	for _, metric := range rankingMetrics {
		entries := make([]ComparisonEntry, 0, len(aggs))
		for _, a := range aggs {
			s, ok := a.Metrics[metric]
			if !ok {
				continue
			}
			entries = append(entries, ComparisonEntry{
				Model:      a.Model,
				Mean:       s.Mean,
				Std:        s.Std,
				Robustness: s.Mean - s.Std,
			})
		}
		slices.SortFunc(entries, func(a, b ComparisonEntry) int {
			if c := cmp.Compare(b.Mean, a.Mean); c != 0 {
				return c
			}
			return cmp.Compare(a.Model, b.Model)
		})
		for i, e := range entries {
			points[e.Model] += len(entries) - i
		}
		comparisons = append(comparisons, Comparison{Metric: metric, Entries: entries})
	}

	ranking := make([]models.RankedModel, 0, len(aggs))
	for _, a := range aggs {
		ranking = append(ranking, models.RankedModel{Model: a.Model, Points: points[a.Model]})
	}
	slices.SortFunc(ranking, func(a, b models.RankedModel) int {
		if c := cmp.Compare(b.Points, a.Points); c != 0 {
			return c
		}
		return cmp.Compare(a.Model, b.Model)
	})
	for i := range ranking {
		ranking[i].Rank = i + 1
	}
	return ranking, comparisons
}
