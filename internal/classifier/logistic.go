// Package classifier provides the baseline binary classifiers: batch
// gradient-descent logistic regression and Gaussian naive Bayes.
package classifier

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/inspectrisk/pkg/models"
)

const (
	// predictionEpsilon keeps predictions away from 0 and 1 inside log.
	predictionEpsilon = 1e-4
	// sigmoidLimit is where the sigmoid is treated as saturated.
	sigmoidLimit = 500.0
	initRange    = 0.1
	progressStep = 100
)

// LogisticConfig holds the training hyperparameters.
type LogisticConfig struct {
	LearningRate   float64 `json:"learning_rate"`
	Iterations     int     `json:"iterations"`
	Regularization float64 `json:"regularization"` // L2 strength, 0 disables
	Seed           uint64  `json:"seed"`
}

// DefaultLogisticConfig returns the standard training parameters.
func DefaultLogisticConfig() LogisticConfig {
	return LogisticConfig{
		LearningRate:   0.01,
		Iterations:     500,
		Regularization: 0,
		Seed:           42,
	}
}

// LinearState is the fitted state of a logistic regression.
type LinearState struct {
	Weights     []float64 `json:"weights"`
	CostHistory []float64 `json:"cost_history"`
	Bias        float64   `json:"bias"`
}

// LogisticRegression is a binary classifier trained by full-batch
// gradient descent. It is not safe for concurrent Fit calls.
type LogisticRegression struct {
	state  *LinearState
	logger zerolog.Logger
	config LogisticConfig
}

// NewLogisticRegression creates an unfitted classifier.
func NewLogisticRegression(config LogisticConfig) *LogisticRegression {
	def := DefaultLogisticConfig()
	if config.LearningRate <= 0 {
		config.LearningRate = def.LearningRate
	}
	if config.Iterations <= 0 {
		config.Iterations = def.Iterations
	}
	if config.Regularization < 0 {
		config.Regularization = 0
	}
	return &LogisticRegression{
		config: config,
		logger: log.With().Str("component", "logistic").Logger(),
	}
}

// Config returns the training configuration.
func (m *LogisticRegression) Config() LogisticConfig {
	return m.config
}

// Fit trains the model, replacing any previous state. Non-convergence is
// not reported; inspect the cost history instead.
func (m *LogisticRegression) Fit(X [][]float64, y []int) error {
	nFeatures, err := checkTrainingData(X, y)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewPCG(m.config.Seed, m.config.Seed^0x9e3779b97f4a7c15))
	weights := make([]float64, nFeatures)
	for j := range weights {
		weights[j] = (rng.Float64()*2 - 1) * initRange
	}
	state := &LinearState{
		Weights:     weights,
		CostHistory: make([]float64, 0, m.config.Iterations),
	}

	n := float64(len(X))
	preds := make([]float64, len(X))
	dw := make([]float64, nFeatures)

	for iter := 0; iter < m.config.Iterations; iter++ {
		for i, row := range X {
			preds[i] = Sigmoid(linear(state.Weights, state.Bias, row))
		}

		cost := CrossEntropy(preds, y)
		if m.config.Regularization > 0 {
			cost += m.config.Regularization * sumSquares(state.Weights) / 2
		}
		state.CostHistory = append(state.CostHistory, cost)

		clear(dw)
		db := 0.0
		for i, row := range X {
			e := preds[i] - float64(y[i])
			db += e
			for j, x := range row {
				dw[j] += e * x
			}
		}

		for j := range state.Weights {
			grad := dw[j] / n
			if m.config.Regularization > 0 {
				grad += m.config.Regularization * state.Weights[j]
			}
			state.Weights[j] -= m.config.LearningRate * grad
		}
		state.Bias -= m.config.LearningRate * (db / n)

		if iter%progressStep == 0 {
			m.logger.Debug().Int("iteration", iter).Float64("cost", cost).Msg("Training progress")
		}
	}

	m.state = state
	return nil
}

// Fitted reports whether Fit has completed.
func (m *LogisticRegression) Fitted() bool {
	return m.state != nil
}

// PredictProba returns P(y=1) per row. An unfitted model returns 0.5.
func (m *LogisticRegression) PredictProba(X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, row := range X {
		if m.state == nil {
			out[i] = 0.5
			continue
		}
		out[i] = Sigmoid(linear(m.state.Weights, m.state.Bias, row))
	}
	return out
}

// Predict thresholds PredictProba at 0.5.
func (m *LogisticRegression) Predict(X [][]float64) []int {
	probs := m.PredictProba(X)
	out := make([]int, len(probs))
	for i, p := range probs {
		if p >= 0.5 {
			out[i] = 1
		}
	}
	return out
}

// State returns a copy of the fitted state, or nil before Fit.
func (m *LogisticRegression) State() *LinearState {
	if m.state == nil {
		return nil
	}
	return &LinearState{
		Weights:     slices.Clone(m.state.Weights),
		CostHistory: slices.Clone(m.state.CostHistory),
		Bias:        m.state.Bias,
	}
}

// Sigmoid is the logistic function. It saturates to exactly 0 or 1 for
// large |z| instead of overflowing.
func Sigmoid(z float64) float64 {
	switch {
	case z > sigmoidLimit:
		return 1
	case z < -sigmoidLimit:
		return 0
	case z >= 0:
		return 1 / (1 + math.Exp(-z))
	default:
		e := math.Exp(z)
		return e / (1 + e)
	}
}

// CrossEntropy is the mean negative log-likelihood of binary labels.
func CrossEntropy(preds []float64, y []int) float64 {
	if len(preds) == 0 {
		return 0
	}
	cost := 0.0
	for i, p := range preds {
		p = math.Max(predictionEpsilon, math.Min(1-predictionEpsilon, p))
		label := float64(y[i])
		cost += label*math.Log(p) + (1-label)*math.Log(1-p)
	}
	return -cost / float64(len(preds))
}

func linear(w []float64, b float64, x []float64) float64 {
	z := b
	for j, v := range x {
		if j < len(w) {
			z += w[j] * v
		}
	}
	return z
}

func sumSquares(w []float64) float64 {
	s := 0.0
	for _, v := range w {
		s += v * v
	}
	return s
}

// checkTrainingData validates X and y and returns the feature count.
func checkTrainingData(X [][]float64, y []int) (int, error) {
	if len(X) == 0 || len(y) == 0 {
		return 0, models.ErrEmptyData
	}
	if len(X) != len(y) {
		return 0, fmt.Errorf("%w: %d rows, %d labels", models.ErrDimensionMismatch, len(X), len(y))
	}
	width := len(X[0])
	if width == 0 {
		return 0, models.ErrEmptyData
	}
	for i, row := range X {
		if len(row) != width {
			return 0, fmt.Errorf("%w: row %d has %d features, want %d", models.ErrDimensionMismatch, i, len(row), width)
		}
	}
	for i, label := range y {
		if label != 0 && label != 1 {
			return 0, fmt.Errorf("%w: %d at row %d", models.ErrInvalidLabel, label, i)
		}
	}
	return width, nil
}
