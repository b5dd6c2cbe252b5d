// Package models contains domain models for inspectrisk.
package models

// Metric names reported by the validation harness.
const (
	MetricAccuracy    = "accuracy"
	MetricPrecision   = "precision"
	MetricRecall      = "recall"
	MetricF1          = "f1"
	MetricSpecificity = "specificity"
	MetricAUC         = "auc"
	MetricBrier       = "brier"
)

// AllMetrics lists every reported metric in display order.
var AllMetrics = []string{
	MetricAccuracy, MetricPrecision, MetricRecall, MetricF1,
	MetricSpecificity, MetricAUC, MetricBrier,
}

// Model names evaluated by the harness.
const (
	ModelLogistic = "logistic_regression"
	ModelGaussian = "gaussian_nb"
	ModelEngine   = "probability_engine"
)

// ConfusionCounts are raw binary confusion matrix cells.
type ConfusionCounts struct {
	TP int `json:"tp"`
	TN int `json:"tn"`
	FP int `json:"fp"`
	FN int `json:"fn"`
}

// FoldMetrics are the metrics of one model on one fold.
type FoldMetrics struct {
	Model       string          `json:"model"`
	Confusion   ConfusionCounts `json:"confusion"`
	Fold        int             `json:"fold"`
	TrainSize   int             `json:"train_size"`
	TestSize    int             `json:"test_size"`
	Accuracy    float64         `json:"accuracy"`
	Precision   float64         `json:"precision"`
	Recall      float64         `json:"recall"`
	F1          float64         `json:"f1"`
	Specificity float64         `json:"specificity"`
	AUC         float64         `json:"auc"`
	Brier       float64         `json:"brier"`
}

// Value returns the named metric, or 0 for an unknown name.
func (m FoldMetrics) Value(name string) float64 {
	switch name {
	case MetricAccuracy:
		return m.Accuracy
	case MetricPrecision:
		return m.Precision
	case MetricRecall:
		return m.Recall
	case MetricF1:
		return m.F1
	case MetricSpecificity:
		return m.Specificity
	case MetricAUC:
		return m.AUC
	case MetricBrier:
		return m.Brier
	default:
		return 0
	}
}

// MetricSummary aggregates one metric across folds.
type MetricSummary struct {
	Values []float64 `json:"values"`
	Mean   float64   `json:"mean"`
	Std    float64   `json:"std"`
	Min    float64   `json:"min"`
	Max    float64   `json:"max"`
}

// AggregateMetrics aggregates every metric of one model across folds.
type AggregateMetrics struct {
	Metrics   map[string]MetricSummary `json:"metrics"`
	Model     string                   `json:"model"`
	Confusion ConfusionCounts          `json:"confusion"`
	Folds     int                      `json:"folds"`
}

// RankedModel is one entry of the global ranking.
type RankedModel struct {
	Model  string `json:"model"`
	Points int    `json:"points"`
	Rank   int    `json:"rank"`
}
