// Package validation cross-validates the classifiers and the probability
// engine on labeled records and searches their hyperparameters.
package validation

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/inspectrisk/internal/classifier"
	"github.com/thebtf/inspectrisk/internal/features"
	"github.com/thebtf/inspectrisk/internal/probability"
	"github.com/thebtf/inspectrisk/pkg/models"
)

const (
	// DefaultFolds is the number of cross-validation folds.
	DefaultFolds = 5
	// DefaultCVIterations is the logistic training length inside a fold.
	DefaultCVIterations = 300
)

// AllModels lists the evaluated models in report order.
var AllModels = []string{models.ModelLogistic, models.ModelGaussian, models.ModelEngine}

// Config holds the harness settings.
type Config struct {
	Logistic classifier.LogisticConfig `json:"logistic"`
	Gaussian classifier.GaussianConfig `json:"gaussian"`
	Engine   probability.Config        `json:"engine"`
	// Seed drives shuffling and dataset generation. Zero draws a fresh
	// seed, so repeated runs may order folds differently.
	Seed    uint64 `json:"seed"`
	Folds   int    `json:"folds"`
	Workers int    `json:"workers"`
	// UseDerivedLabels trains on the severity-point label even when
	// records carry their own.
	UseDerivedLabels bool `json:"use_derived_labels"`
}

// DefaultConfig returns a 5-fold configuration with 300 training
// iterations per fold.
func DefaultConfig() Config {
	lc := classifier.DefaultLogisticConfig()
	lc.Iterations = DefaultCVIterations
	return Config{
		Logistic: lc,
		Gaussian: classifier.DefaultGaussianConfig(),
		Engine:   probability.DefaultConfig(),
		Folds:    DefaultFolds,
		Workers:  runtime.NumCPU(),
	}
}

// Params select the models of one evaluation and their hyperparameters.
type Params struct {
	Logistic classifier.LogisticConfig `json:"logistic"`
	Gaussian classifier.GaussianConfig `json:"gaussian"`
	Engine   probability.Config        `json:"engine"`
	// Models to evaluate; empty means all.
	Models []string `json:"models,omitempty"`
	// GaussianPosterior scores naive Bayes on its posterior and threshold
	// instead of the argmax and fixed confidence markers.
	GaussianPosterior bool `json:"gaussian_posterior,omitempty"`
}

func (p Params) wants(model string) bool {
	return len(p.Models) == 0 || slices.Contains(p.Models, model)
}

// Fold is one train/test partition.
type Fold struct {
	Train []models.InspectionRecord
	Test  []models.InspectionRecord
	Index int
}

// Report is the outcome of a cross-validation run.
type Report struct {
	StartedAt   time.Time                 `json:"started_at"`
	Aggregates  []models.AggregateMetrics `json:"aggregates"`
	Folds       []models.FoldMetrics      `json:"folds"`
	Comparisons []Comparison              `json:"comparisons"`
	Ranking     []models.RankedModel      `json:"ranking"`
	Duration    time.Duration             `json:"duration"`
	DatasetSize int                       `json:"dataset_size"`
	K           int                       `json:"k"`
}

// Aggregate returns the aggregate of the named model.
func (r *Report) Aggregate(model string) (models.AggregateMetrics, bool) {
	for _, a := range r.Aggregates {
		if a.Model == model {
			return a, true
		}
	}
	return models.AggregateMetrics{}, false
}

// Harness runs k-fold cross-validation.
type Harness struct {
	extractor *features.Extractor
	rng       *rand.Rand
	log       zerolog.Logger
	config    Config
	seed      uint64
	mu        sync.Mutex
}

// NewHarness creates a harness, filling unset configuration with defaults.
func NewHarness(cfg Config) *Harness {
	def := DefaultConfig()
	if cfg.Folds < 2 {
		cfg.Folds = def.Folds
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Logistic.Iterations <= 0 {
		cfg.Logistic.Iterations = def.Logistic.Iterations
	}
	if cfg.Logistic.LearningRate <= 0 {
		cfg.Logistic.LearningRate = def.Logistic.LearningRate
	}
	if cfg.Gaussian.Threshold <= 0 || cfg.Gaussian.Threshold >= 1 {
		cfg.Gaussian.Threshold = def.Gaussian.Threshold
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Harness{
		extractor: features.NewExtractor(),
		rng:       newRand(seed),
		log:       log.With().Str("component", "validation").Logger(),
		config:    cfg,
		seed:      seed,
	}
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0xda942042e4dd58b5))
}

// Config returns the effective configuration.
func (h *Harness) Config() Config {
	return h.config
}

// DefaultParams returns the configured hyperparameters for all models.
func (h *Harness) DefaultParams() Params {
	return Params{
		Logistic: h.config.Logistic,
		Gaussian: h.config.Gaussian,
		Engine:   h.config.Engine,
	}
}

// GenerateDataset draws n labeled synthetic records.
func (h *Harness) GenerateDataset(n int) []models.InspectionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return generateDataset(h.rng, n)
}

// KFoldSplit shuffles a copy of records and cuts it into k folds of
// len/k records; the last fold takes the remainder.
func (h *Harness) KFoldSplit(records []models.InspectionRecord) ([]Fold, error) {
	k := h.config.Folds
	if len(records) < k {
		return nil, fmt.Errorf("need at least %d records for %d folds, got %d: %w", k, k, len(records), models.ErrEmptyData)
	}

	shuffled := slices.Clone(records)
	h.mu.Lock()
	h.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	h.mu.Unlock()

	size := len(shuffled) / k
	folds := make([]Fold, k)
	for i := range folds {
		start := i * size
		end := start + size
		if i == k-1 {
			end = len(shuffled)
		}
		train := make([]models.InspectionRecord, 0, len(shuffled)-(end-start))
		train = append(train, shuffled[:start]...)
		train = append(train, shuffled[end:]...)
		folds[i] = Fold{Index: i, Train: train, Test: shuffled[start:end]}
	}
	return folds, nil
}

// EvaluateFold trains fresh models on the fold's train partition and
// scores them on its test partition against the records' ground truth.
func (h *Harness) EvaluateFold(fold Fold, p Params) ([]models.FoldMetrics, error) {
	Xtr, ytr, err := h.extractor.Matrix(fold.Train, h.config.UseDerivedLabels)
	if err != nil {
		return nil, fmt.Errorf("fold %d train features: %w", fold.Index, err)
	}
	Xte, yte, err := h.extractor.Matrix(fold.Test, false)
	if err != nil {
		return nil, fmt.Errorf("fold %d test features: %w", fold.Index, err)
	}

	var out []models.FoldMetrics
	add := func(model string, pred []int, prob []float64) {
		m := ComputeMetrics(yte, pred, prob)
		m.Model = model
		m.Fold = fold.Index
		m.TrainSize = len(fold.Train)
		out = append(out, m)
	}

	if p.wants(models.ModelLogistic) {
		lr := classifier.NewLogisticRegression(p.Logistic)
		if err := lr.Fit(Xtr, ytr); err != nil {
			return nil, fmt.Errorf("fold %d logistic: %w", fold.Index, err)
		}
		add(models.ModelLogistic, lr.Predict(Xte), lr.PredictProba(Xte))
	}

	if p.wants(models.ModelGaussian) {
		nb := classifier.NewGaussianNB(p.Gaussian)
		if err := nb.Fit(Xtr, ytr); err != nil {
			return nil, fmt.Errorf("fold %d gaussian: %w", fold.Index, err)
		}
		if p.GaussianPosterior {
			add(models.ModelGaussian, nb.PredictThreshold(Xte), nb.Posterior(Xte))
		} else {
			add(models.ModelGaussian, nb.Predict(Xte), nb.PredictProba(Xte))
		}
	}

	if p.wants(models.ModelEngine) {
		cfg := p.Engine
		cfg.LogSize = 1
		pred, prob := probability.NewEngine(cfg).Predict(fold.Test)
		add(models.ModelEngine, pred, prob)
	}
	return out, nil
}

// crossValidate evaluates p on every fold, at most Workers folds at a
// time. Each fold trains with its own seed. Results are ordered by fold.
func (h *Harness) crossValidate(ctx context.Context, folds []Fold, p Params) ([][]models.FoldMetrics, error) {
	results := make([][]models.FoldMetrics, len(folds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.config.Workers)
	for i, fold := range folds {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fp := p
			fp.Logistic.Seed = h.seed + uint64(i)
			m, err := h.EvaluateFold(fold, fp)
			if err != nil {
				return err
			}
			results[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Run cross-validates every model on records, then aggregates and ranks
// them once all folds are done.
func (h *Harness) Run(ctx context.Context, records []models.InspectionRecord) (*Report, error) {
	start := time.Now()
	folds, err := h.KFoldSplit(records)
	if err != nil {
		return nil, err
	}

	perFold, err := h.crossValidate(ctx, folds, h.DefaultParams())
	if err != nil {
		return nil, err
	}

	report := &Report{StartedAt: start, DatasetSize: len(records), K: len(folds)}
	byModel := make(map[string][]models.FoldMetrics, len(AllModels))
	for i, fm := range perFold {
		for _, m := range fm {
			byModel[m.Model] = append(byModel[m.Model], m)
			report.Folds = append(report.Folds, m)
		}
		h.log.Info().Int("fold", i+1).Int("of", len(folds)).Int("test", len(folds[i].Test)).Msg("Fold evaluated")
	}
	for _, model := range AllModels {
		if fm, ok := byModel[model]; ok {
			report.Aggregates = append(report.Aggregates, Aggregate(model, fm))
		}
	}
	report.Ranking, report.Comparisons = Rank(report.Aggregates)
	report.Duration = time.Since(start)

	ev := h.log.Info().Int("records", len(records)).Int("folds", len(folds)).Dur("duration", report.Duration)
	if len(report.Ranking) > 0 {
		ev = ev.Str("best", report.Ranking[0].Model)
	}
	ev.Msg("Cross-validation complete")
	return report, nil
}
