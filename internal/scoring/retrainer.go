package scoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/thebtf/inspectrisk/internal/classifier"
	"github.com/thebtf/inspectrisk/internal/db/gorm"
	"github.com/thebtf/inspectrisk/internal/features"
	"github.com/thebtf/inspectrisk/pkg/models"
)

// minTrainingRecords is the smallest training set worth fitting.
const minTrainingRecords = 10

// TrainingSource supplies labeled records for the baseline model.
type TrainingSource interface {
	LabeledRecords(ctx context.Context, limit int) ([]models.InspectionRecord, error)
}

// Retrainer periodically refits the scorer's baseline logistic model on
// the labeled records of a TrainingSource.
type Retrainer struct {
	lastTrained time.Time
	log         zerolog.Logger
	source      TrainingSource
	scorer      *Scorer
	extractor   *features.Extractor
	stopCh      chan struct{}
	doneCh      chan struct{}
	listeners   []func(RetrainerStats)
	config      classifier.LogisticConfig
	interval    time.Duration
	limit       int
	lastSize    int
	trainings   int
	failures    int
	mu          sync.Mutex
	running     bool
}

// NewRetrainer creates a background retrainer.
func NewRetrainer(source TrainingSource, scorer *Scorer, cfg classifier.LogisticConfig, log zerolog.Logger) *Retrainer {
	return &Retrainer{
		source:    source,
		scorer:    scorer,
		extractor: features.NewExtractor(),
		config:    cfg,
		log:       log.With().Str("component", "retrainer").Logger(),
		interval:  1 * time.Hour,
		limit:     5000,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// OnRetrain registers a listener called after each successful retraining.
func (r *Retrainer) OnRetrain(fn func(RetrainerStats)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// SetInterval changes the retraining period. It takes effect on the next
// Start.
func (r *Retrainer) SetInterval(d time.Duration) {
	r.mu.Lock()
	if d > 0 {
		r.interval = d
	}
	r.mu.Unlock()
}

// Start begins the background retraining loop.
// This should be called in a goroutine.
func (r *Retrainer) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	interval := r.interval
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		close(r.doneCh)
	}()

	r.retrainLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("retrainer shutting down due to context cancellation")
			return
		case <-r.stopCh:
			r.log.Info().Msg("retrainer stopping")
			return
		case <-ticker.C:
			r.retrainLogged(ctx)
		}
	}
}

// Stop stops the background loop and waits for it to exit.
func (r *Retrainer) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
}

func (r *Retrainer) retrainLogged(ctx context.Context) {
	if err := r.RetrainNow(ctx); err != nil {
		r.log.Error().Err(err).Msg("baseline retraining failed")
	}
}

// RetrainNow fits a fresh model on the current labeled records and
// installs it in the scorer. Too few records leave the current model.
func (r *Retrainer) RetrainNow(ctx context.Context) error {
	start := time.Now()
	r.mu.Lock()
	limit := r.limit
	r.mu.Unlock()

	records, err := r.source.LabeledRecords(ctx, limit)
	if err != nil {
		r.countFailure()
		return fmt.Errorf("load training records: %w", err)
	}
	if len(records) < minTrainingRecords {
		r.log.Debug().Int("records", len(records)).Msg("not enough labeled records to train baseline")
		return nil
	}

	X, y, err := r.extractor.Matrix(records, false)
	if err != nil {
		r.countFailure()
		return fmt.Errorf("training features: %w", err)
	}
	model := classifier.NewLogisticRegression(r.config)
	if err := model.Fit(X, y); err != nil {
		r.countFailure()
		return fmt.Errorf("fit baseline: %w", err)
	}
	r.scorer.SetBaseline(model)

	r.mu.Lock()
	r.trainings++
	r.lastSize = len(records)
	r.lastTrained = start
	listeners := r.listeners
	r.mu.Unlock()

	r.log.Info().
		Int("records", len(records)).
		Dur("elapsed", time.Since(start)).
		Msg("retrained baseline model")

	if len(listeners) > 0 {
		st := r.Stats()
		for _, fn := range listeners {
			fn(st)
		}
	}
	return nil
}

func (r *Retrainer) countFailure() {
	r.mu.Lock()
	r.failures++
	r.mu.Unlock()
}

// RetrainerStats reports the retrainer's activity.
type RetrainerStats struct {
	LastTrained time.Time     `json:"last_trained,omitempty"`
	Running     bool          `json:"running"`
	Interval    time.Duration `json:"interval"`
	Limit       int           `json:"limit"`
	LastSize    int           `json:"last_size"`
	Trainings   int           `json:"trainings"`
	Failures    int           `json:"failures"`
}

// Stats returns current retrainer statistics.
func (r *Retrainer) Stats() RetrainerStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RetrainerStats{
		LastTrained: r.lastTrained,
		Running:     r.running,
		Interval:    r.interval,
		Limit:       r.limit,
		LastSize:    r.lastSize,
		Trainings:   r.trainings,
		Failures:    r.failures,
	}
}

// Ensure RecordStore satisfies the interface
var _ TrainingSource = (*gorm.RecordStore)(nil)
