package classifier

import (
	"math"
	"slices"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	varianceEpsilon = 1e-6
	priorFloor      = 1e-6
	smoothingScale  = 1e-6
	// Fixed pseudo-probabilities reported by PredictProba.
	confidentPositive = 0.7
	confidentNegative = 0.3
)

var logSqrt2Pi = 0.5 * math.Log(2*math.Pi)

// GaussianConfig holds the naive Bayes hyperparameters.
type GaussianConfig struct {
	// Smoothing is added to every standard deviation, scaled by 1e-6.
	Smoothing float64 `json:"smoothing"`
	// Threshold is the posterior cut-off used by PredictThreshold.
	Threshold float64 `json:"threshold"`
}

// DefaultGaussianConfig returns the unsmoothed model with a 0.5 cut-off.
func DefaultGaussianConfig() GaussianConfig {
	return GaussianConfig{Smoothing: 0, Threshold: 0.5}
}

// FeatureStats is the per-class distribution of one feature.
type FeatureStats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// GaussianState is the fitted state of a naive Bayes model. Stats is nil
// for a class with no training rows.
type GaussianState struct {
	Stats  [2][]FeatureStats `json:"stats"`
	Priors [2]float64        `json:"priors"`
}

// GaussianNB is a class-conditional Gaussian naive Bayes classifier for
// binary labels.
type GaussianNB struct {
	state  *GaussianState
	logger zerolog.Logger
	config GaussianConfig
}

// NewGaussianNB creates an unfitted classifier.
func NewGaussianNB(config GaussianConfig) *GaussianNB {
	if config.Smoothing < 0 {
		config.Smoothing = 0
	}
	if config.Threshold <= 0 || config.Threshold >= 1 {
		config.Threshold = DefaultGaussianConfig().Threshold
	}
	return &GaussianNB{
		config: config,
		logger: log.With().Str("component", "gaussian_nb").Logger(),
	}
}

// Config returns the model configuration.
func (m *GaussianNB) Config() GaussianConfig {
	return m.config
}

// Fit estimates class priors and per-feature means and deviations.
func (m *GaussianNB) Fit(X [][]float64, y []int) error {
	nFeatures, err := checkTrainingData(X, y)
	if err != nil {
		return err
	}

	state := &GaussianState{}
	var counts [2]int
	for _, label := range y {
		counts[label]++
	}

	for class := 0; class < 2; class++ {
		state.Priors[class] = float64(counts[class]) / float64(len(y))
		if counts[class] == 0 {
			continue
		}

		stats := make([]FeatureStats, nFeatures)
		for j := 0; j < nFeatures; j++ {
			sum := 0.0
			for i, row := range X {
				if y[i] == class {
					sum += row[j]
				}
			}
			mean := sum / float64(counts[class])

			ss := 0.0
			for i, row := range X {
				if y[i] == class {
					d := row[j] - mean
					ss += d * d
				}
			}
			variance := ss / float64(counts[class])
			stats[j] = FeatureStats{Mean: mean, Std: math.Sqrt(variance + varianceEpsilon)}
		}
		state.Stats[class] = stats
	}

	m.state = state
	m.logger.Debug().
		Int("samples", len(X)).
		Int("features", nFeatures).
		Float64("prior_positive", state.Priors[1]).
		Msg("Gaussian model fitted")
	return nil
}

// Fitted reports whether Fit has completed.
func (m *GaussianNB) Fitted() bool {
	return m.state != nil
}

// logScore is log P(class) + sum of log densities.
func (m *GaussianNB) logScore(class int, x []float64) float64 {
	score := math.Log(math.Max(m.state.Priors[class], priorFloor))
	stats := m.state.Stats[class]
	for j, v := range x {
		if j >= len(stats) {
			break
		}
		std := stats[j].Std + m.config.Smoothing*smoothingScale
		z := (v - stats[j].Mean) / std
		score += -0.5*z*z - math.Log(std) - logSqrt2Pi
	}
	return score
}

// Predict returns the argmax class per row; ties go to class 0.
func (m *GaussianNB) Predict(X [][]float64) []int {
	out := make([]int, len(X))
	if m.state == nil {
		return out
	}
	for i, row := range X {
		if m.logScore(1, row) > m.logScore(0, row) {
			out[i] = 1
		}
	}
	return out
}

// PredictProba returns 0.7 for rows predicted positive and 0.3 otherwise.
// It is a confidence marker, not a posterior; see Posterior.
func (m *GaussianNB) PredictProba(X [][]float64) []float64 {
	preds := m.Predict(X)
	out := make([]float64, len(preds))
	for i, p := range preds {
		if p == 1 {
			out[i] = confidentPositive
		} else {
			out[i] = confidentNegative
		}
	}
	return out
}

// Posterior returns the normalized P(y=1 | x) per row.
func (m *GaussianNB) Posterior(X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, row := range X {
		if m.state == nil {
			out[i] = 0.5
			continue
		}
		out[i] = Sigmoid(m.logScore(1, row) - m.logScore(0, row))
	}
	return out
}

// PredictThreshold labels rows positive when the posterior reaches the
// configured threshold.
func (m *GaussianNB) PredictThreshold(X [][]float64) []int {
	post := m.Posterior(X)
	out := make([]int, len(post))
	for i, p := range post {
		if p >= m.config.Threshold {
			out[i] = 1
		}
	}
	return out
}

// State returns a copy of the fitted state, or nil before Fit.
func (m *GaussianNB) State() *GaussianState {
	if m.state == nil {
		return nil
	}
	c := *m.state
	c.Stats[0] = slices.Clone(m.state.Stats[0])
	c.Stats[1] = slices.Clone(m.state.Stats[1])
	return &c
}
