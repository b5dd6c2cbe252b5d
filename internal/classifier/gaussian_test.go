package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/inspectrisk/pkg/models"
)

func TestGaussianNB_Fit(t *testing.T) {
	X := [][]float64{{0.1, 0.2}, {0.2, 0.1}, {0.15, 0.15}, {0.8, 0.9}, {0.9, 0.8}, {0.85, 0.85}}
	y := []int{0, 0, 0, 1, 1, 1}
	m := NewGaussianNB(DefaultGaussianConfig())

	require.NoError(t, m.Fit(X, y))

	state := m.State()
	require.NotNil(t, state)
	assert.InDelta(t, 0.5, state.Priors[0], 1e-12)
	assert.InDelta(t, 0.5, state.Priors[1], 1e-12)
	assert.InDelta(t, 0.15, state.Stats[0][0].Mean, 1e-12)
	assert.InDelta(t, 0.85, state.Stats[1][1].Mean, 1e-12)
	assert.Greater(t, state.Stats[0][0].Std, 0.0)

	assert.Equal(t, y, m.Predict(X))
	assert.Equal(t, []float64{0.3, 0.7}, m.PredictProba([][]float64{{0.1, 0.1}, {0.9, 0.9}}))

	post := m.Posterior([][]float64{{0.1, 0.1}, {0.9, 0.9}})
	assert.Less(t, post[0], 0.5)
	assert.Greater(t, post[1], 0.5)
}

func TestGaussianNB_ConstantFeatureDoesNotDivideByZero(t *testing.T) {
	X := [][]float64{{0.5}, {0.5}, {0.5}, {0.5}}
	y := []int{0, 0, 1, 1}
	m := NewGaussianNB(DefaultGaussianConfig())

	require.NoError(t, m.Fit(X, y))
	// Identical class densities tie and resolve to class 0
	assert.Equal(t, []int{0}, m.Predict([][]float64{{0.5}}))
}

func TestGaussianNB_SingleClass(t *testing.T) {
	X := [][]float64{{0.2}, {0.3}}
	y := []int{1, 1}
	m := NewGaussianNB(DefaultGaussianConfig())

	require.NoError(t, m.Fit(X, y))
	assert.Nil(t, m.State().Stats[0])
	assert.Equal(t, []int{1, 1}, m.Predict(X))
}

func TestGaussianNB_Threshold(t *testing.T) {
	X := [][]float64{{0.1}, {0.2}, {0.3}, {0.6}, {0.7}, {0.8}}
	y := []int{0, 0, 0, 1, 1, 1}

	strict := NewGaussianNB(GaussianConfig{Threshold: 0.99})
	loose := NewGaussianNB(GaussianConfig{Threshold: 0.01})
	require.NoError(t, strict.Fit(X, y))
	require.NoError(t, loose.Fit(X, y))

	borderline := [][]float64{{0.45}}
	assert.Equal(t, []int{0}, strict.PredictThreshold(borderline))
	assert.Equal(t, []int{1}, loose.PredictThreshold(borderline))
}

func TestGaussianNB_SmoothingWidensDeviation(t *testing.T) {
	X := [][]float64{{0.1}, {0.1}, {0.9}, {0.9}}
	y := []int{0, 0, 1, 1}
	sharp := NewGaussianNB(GaussianConfig{Smoothing: 0})
	smooth := NewGaussianNB(GaussianConfig{Smoothing: 1e6})
	require.NoError(t, sharp.Fit(X, y))
	require.NoError(t, smooth.Fit(X, y))

	far := [][]float64{{0.6}}
	// With wider deviations the posterior moves toward the prior
	assert.Less(t, smooth.Posterior(far)[0], sharp.Posterior(far)[0])
}

func TestGaussianNB_Unfitted(t *testing.T) {
	m := NewGaussianNB(GaussianConfig{Threshold: 5})

	assert.False(t, m.Fitted())
	assert.Equal(t, 0.5, m.Config().Threshold)
	assert.Equal(t, []int{0}, m.Predict([][]float64{{1}}))
	assert.Equal(t, []float64{0.5}, m.Posterior([][]float64{{1}}))
	assert.ErrorIs(t, m.Fit(nil, nil), models.ErrEmptyData)
}
