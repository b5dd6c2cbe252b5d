package scoring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/inspectrisk/internal/classifier"
	"github.com/thebtf/inspectrisk/internal/validation"
	"github.com/thebtf/inspectrisk/pkg/models"
)

// MockTrainingSource is a mock implementation of TrainingSource for testing.
type MockTrainingSource struct {
	err     error
	records []models.InspectionRecord
	limits  []int
	calls   int
	mu      sync.Mutex
}

func (m *MockTrainingSource) LabeledRecords(ctx context.Context, limit int) ([]models.InspectionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.limits = append(m.limits, limit)
	if m.err != nil {
		return nil, m.err
	}
	if limit > 0 && len(m.records) > limit {
		return m.records[:limit], nil
	}
	return m.records, nil
}

func (m *MockTrainingSource) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func trainingRecords(n int) []models.InspectionRecord {
	return validation.NewHarness(validation.Config{Seed: 21}).GenerateDataset(n)
}

func fastLogistic() classifier.LogisticConfig {
	cfg := classifier.DefaultLogisticConfig()
	cfg.Iterations = 50
	cfg.Seed = 1
	return cfg
}

func TestRetrainer_RetrainNow(t *testing.T) {
	scorer := newTestScorer(summerDay)
	source := &MockTrainingSource{records: trainingRecords(60)}
	r := NewRetrainer(source, scorer, fastLogistic(), zerolog.Nop())
	var notified []RetrainerStats
	r.OnRetrain(func(st RetrainerStats) { notified = append(notified, st) })

	require.NoError(t, r.RetrainNow(context.Background()))

	st := r.Stats()
	require.Len(t, notified, 1)
	assert.Equal(t, 1, notified[0].Trainings)
	assert.Equal(t, 1, st.Trainings)
	assert.Equal(t, 60, st.LastSize)
	assert.Zero(t, st.Failures)
	assert.False(t, st.LastTrained.IsZero())
	assert.Equal(t, []int{5000}, source.limits)

	rec := cafeRecord()
	res, err := scorer.Score(&rec)
	require.NoError(t, err)
	require.NotNil(t, res.BaselineProbability, "retrained model is installed")
}

func TestRetrainer_TooFewRecords(t *testing.T) {
	scorer := newTestScorer(summerDay)
	r := NewRetrainer(&MockTrainingSource{records: trainingRecords(5)}, scorer, fastLogistic(), zerolog.Nop())

	require.NoError(t, r.RetrainNow(context.Background()))
	assert.Zero(t, r.Stats().Trainings)

	rec := cafeRecord()
	res, err := scorer.Score(&rec)
	require.NoError(t, err)
	assert.Nil(t, res.BaselineProbability)
}

func TestRetrainer_SourceError(t *testing.T) {
	boom := errors.New("database unavailable")
	r := NewRetrainer(&MockTrainingSource{err: boom}, newTestScorer(summerDay), fastLogistic(), zerolog.Nop())

	err := r.RetrainNow(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, r.Stats().Failures)
}

func TestRetrainer_BadRecord(t *testing.T) {
	records := trainingRecords(20)
	records[4].InspectionDate = "yesterday"
	r := NewRetrainer(&MockTrainingSource{records: records}, newTestScorer(summerDay), fastLogistic(), zerolog.Nop())

	err := r.RetrainNow(context.Background())
	var exErr *models.ExtractionError
	require.True(t, errors.As(err, &exErr))
	assert.Equal(t, 1, r.Stats().Failures)
	assert.Zero(t, r.Stats().Trainings)
}

func TestRetrainer_StartStop(t *testing.T) {
	source := &MockTrainingSource{records: trainingRecords(30)}
	r := NewRetrainer(source, newTestScorer(summerDay), fastLogistic(), zerolog.Nop())
	r.SetInterval(10 * time.Millisecond)

	go r.Start(context.Background())

	require.Eventually(t, func() bool { return source.callCount() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, r.Stats().Running)

	r.Stop()
	assert.False(t, r.Stats().Running)
	assert.GreaterOrEqual(t, r.Stats().Trainings, 3)
	assert.Equal(t, 10*time.Millisecond, r.Stats().Interval)
}

func TestRetrainer_ContextCancel(t *testing.T) {
	r := NewRetrainer(&MockTrainingSource{}, newTestScorer(summerDay), fastLogistic(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return r.Stats().Running }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("retrainer did not stop on context cancellation")
	}
	assert.False(t, r.Stats().Running)
}

func TestRetrainer_StopWhenNotRunning(t *testing.T) {
	r := NewRetrainer(&MockTrainingSource{}, newTestScorer(summerDay), fastLogistic(), zerolog.Nop())
	r.Stop()
	r.SetInterval(0)
	assert.Equal(t, time.Hour, r.Stats().Interval, "non-positive interval is ignored")
}
