package validation

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/thebtf/inspectrisk/internal/stats"
	"github.com/thebtf/inspectrisk/pkg/models"
)

// Search spaces.
var (
	LearningRates   = []float64{0.001, 0.01, 0.05, 0.1, 0.2}
	IterationCounts = []int{100, 300, 500, 1000, 1500}
	Regularizations = []float64{0.0, 0.01, 0.1, 0.5}

	Smoothings         = []float64{1e-9, 1e-6, 1e-3, 1.0, 2.0}
	GaussianThresholds = []float64{0.3, 0.4, 0.5, 0.6, 0.7}

	ThemeWeights       = []float64{0.4, 0.5, 0.6, 0.7, 0.8}
	SizeWeights        = []float64{0.2, 0.3, 0.4, 0.5, 0.6}
	HistoryVigilances  = []float64{1.5, 2.0, 2.5, 3.0}
	DecisionThresholds = []float64{0.4, 0.45, 0.5, 0.55, 0.6}
)

// TunerConfig bounds the searches.
type TunerConfig struct {
	MaxLogisticTrials int `json:"max_logistic_trials"`
	EngineIterations  int `json:"engine_iterations"`
}

// DefaultTunerConfig tries the first 20 logistic combinations and 25
// random engine configurations.
func DefaultTunerConfig() TunerConfig {
	return TunerConfig{MaxLogisticTrials: 20, EngineIterations: 25}
}

// Trial is one evaluated parameter combination. Score is the mean F1
// across folds.
type Trial struct {
	Params map[string]float64 `json:"params"`
	ID     string             `json:"id"`
	Error  string             `json:"error,omitempty"`
	Score  float64            `json:"f1"`
}

// SearchResult is the outcome of one model's search.
type SearchResult struct {
	Best        map[string]float64 `json:"best_params"`
	Model       string             `json:"model"`
	Trials      []Trial            `json:"trials"`
	BestScore   float64            `json:"best_score"`
	Baseline    float64            `json:"baseline_score"`
	Improvement float64            `json:"improvement"`
	// RelativeImprovement is in percent of the baseline, floored at 0.001.
	RelativeImprovement float64 `json:"relative_improvement"`
}

// TuningReport gathers the searches of every model.
type TuningReport struct {
	Results  map[string]*SearchResult `json:"results"`
	Duration time.Duration            `json:"duration"`
}

// Tuner searches hyperparameters using the harness fold evaluation as the
// objective. Every trial is scored on the same folds.
type Tuner struct {
	harness *Harness
	rng     *rand.Rand
	folds   []Fold
	config  TunerConfig
	mu      sync.Mutex
}

// NewTuner splits records into the harness folds once for all trials.
func NewTuner(h *Harness, records []models.InspectionRecord, cfg TunerConfig) (*Tuner, error) {
	def := DefaultTunerConfig()
	if cfg.MaxLogisticTrials <= 0 {
		cfg.MaxLogisticTrials = def.MaxLogisticTrials
	}
	if cfg.EngineIterations <= 0 {
		cfg.EngineIterations = def.EngineIterations
	}
	folds, err := h.KFoldSplit(records)
	if err != nil {
		return nil, err
	}
	return &Tuner{
		harness: h,
		rng:     newRand(h.seed ^ 0x5bd1e995),
		folds:   folds,
		config:  cfg,
	}, nil
}

type candidate struct {
	params Params
	values map[string]float64
}

// objective is the mean F1 of model across the folds.
func (t *Tuner) objective(ctx context.Context, model string, p Params) (float64, error) {
	p.Models = []string{model}
	perFold, err := t.harness.crossValidate(ctx, t.folds, p)
	if err != nil {
		return 0, err
	}
	f1 := make([]float64, 0, len(perFold))
	for _, fm := range perFold {
		for _, m := range fm {
			f1 = append(f1, m.F1)
		}
	}
	return stats.Mean(f1), nil
}

// search scores every candidate plus the baseline. A failing trial is
// recorded and skipped; the first strictly better score wins.
func (t *Tuner) search(ctx context.Context, model string, baseline Params, cands []candidate) (*SearchResult, error) {
	start := time.Now()
	base, err := t.objective(ctx, model, baseline)
	if err != nil {
		return nil, fmt.Errorf("%s baseline: %w", model, err)
	}

	trials := make([]Trial, len(cands))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.harness.config.Workers)
	for i, c := range cands {
		g.Go(func() error {
			trial := Trial{ID: uuid.NewString(), Params: c.values}
			score, err := t.objective(gctx, model, c.params)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				trial.Error = err.Error()
			}
			trial.Score = score
			trials[i] = trial
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &SearchResult{Model: model, Trials: trials, Baseline: base}
	for _, tr := range trials {
		if tr.Error == "" && (res.Best == nil || tr.Score > res.BestScore) {
			res.Best, res.BestScore = tr.Params, tr.Score
		}
	}
	res.Improvement = res.BestScore - base
	res.RelativeImprovement = res.Improvement / math.Max(base, 0.001) * 100

	t.harness.log.Info().
		Str("model", model).
		Int("trials", len(trials)).
		Float64("best_f1", res.BestScore).
		Float64("baseline_f1", base).
		Dur("duration", time.Since(start)).
		Msg("Hyperparameter search complete")
	return res, nil
}

// GridSearchLogistic walks learning rate, iterations and regularization
// in that nesting order, keeping the first MaxLogisticTrials combinations.
func (t *Tuner) GridSearchLogistic(ctx context.Context) (*SearchResult, error) {
	base := t.harness.DefaultParams()
	var cands []candidate
	for _, lr := range LearningRates {
		for _, iters := range IterationCounts {
			for _, reg := range Regularizations {
				if len(cands) == t.config.MaxLogisticTrials {
					break
				}
				p := base
				p.Logistic.LearningRate = lr
				p.Logistic.Iterations = iters
				p.Logistic.Regularization = reg
				cands = append(cands, candidate{params: p, values: map[string]float64{
					"learning_rate":  lr,
					"iterations":     float64(iters),
					"regularization": reg,
				}})
			}
		}
	}
	return t.search(ctx, models.ModelLogistic, base, cands)
}

// SearchGaussian tries every threshold and smoothing pair, scoring on
// the posterior.
func (t *Tuner) SearchGaussian(ctx context.Context) (*SearchResult, error) {
	base := t.harness.DefaultParams()
	base.GaussianPosterior = true
	cands := make([]candidate, 0, len(GaussianThresholds)*len(Smoothings))
	for _, th := range GaussianThresholds {
		for _, sm := range Smoothings {
			p := base
			p.Gaussian.Threshold = th
			p.Gaussian.Smoothing = sm
			cands = append(cands, candidate{params: p, values: map[string]float64{
				"threshold": th,
				"smoothing": sm,
			}})
		}
	}
	return t.search(ctx, models.ModelGaussian, base, cands)
}

// RandomSearchEngine draws EngineIterations engine configurations from the
// weighting search space.
func (t *Tuner) RandomSearchEngine(ctx context.Context) (*SearchResult, error) {
	base := t.harness.DefaultParams()
	cands := make([]candidate, 0, t.config.EngineIterations)

	t.mu.Lock()
	for range t.config.EngineIterations {
		p := base
		p.Engine.ThemeWeight = pick(t.rng, ThemeWeights)
		p.Engine.SizeWeight = pick(t.rng, SizeWeights)
		p.Engine.HeavyHistoryVigilance = pick(t.rng, HistoryVigilances)
		p.Engine.DecisionThreshold = pick(t.rng, DecisionThresholds)
		cands = append(cands, candidate{params: p, values: map[string]float64{
			"theme_weight":            p.Engine.ThemeWeight,
			"size_weight":             p.Engine.SizeWeight,
			"heavy_history_vigilance": p.Engine.HeavyHistoryVigilance,
			"decision_threshold":      p.Engine.DecisionThreshold,
		}})
	}
	t.mu.Unlock()

	return t.search(ctx, models.ModelEngine, base, cands)
}

// Run performs all three searches in turn.
func (t *Tuner) Run(ctx context.Context) (*TuningReport, error) {
	start := time.Now()
	report := &TuningReport{Results: make(map[string]*SearchResult, 3)}
	for _, s := range []func(context.Context) (*SearchResult, error){
		t.GridSearchLogistic,
		t.SearchGaussian,
		t.RandomSearchEngine,
	} {
		res, err := s(ctx)
		if err != nil {
			return nil, err
		}
		report.Results[res.Model] = res
	}
	report.Duration = time.Since(start)
	return report, nil
}
