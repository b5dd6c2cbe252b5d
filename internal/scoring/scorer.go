// Package scoring runs the end-to-end risk assessment pipeline for
// inspection records.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/inspectrisk/internal/categorizer"
	"github.com/thebtf/inspectrisk/internal/classifier"
	"github.com/thebtf/inspectrisk/internal/features"
	"github.com/thebtf/inspectrisk/internal/probability"
	"github.com/thebtf/inspectrisk/internal/rules"
	"github.com/thebtf/inspectrisk/internal/stats"
	"github.com/thebtf/inspectrisk/internal/validation"
	"github.com/thebtf/inspectrisk/pkg/models"
)

// DefaultRuleShiftWeight converts the rule adjustment of the probability
// into score points.
const DefaultRuleShiftWeight = 40.0

// Config holds the scorer settings.
type Config struct {
	// Validation configures the harness used by Evaluate.
	Validation validation.Config
	// RuleShiftWeight scales (adjusted - raw probability) into the score.
	RuleShiftWeight float64
}

// AssessmentListener is notified of every assessment produced.
type AssessmentListener func(*models.RiskAssessmentResult)

// Scorer chains feature extraction, the probability engine, rule
// adjustment and categorization.
type Scorer struct {
	now         func() time.Time
	newID       func() string
	extractor   *features.Extractor
	engine      *probability.Engine
	rules       *rules.Adapter
	categorizer *categorizer.Categorizer
	baseline    *classifier.LogisticRegression
	log         zerolog.Logger
	listeners   []AssessmentListener
	config      Config
	mu          sync.RWMutex
}

// NewScorer wires a scorer around its collaborators.
func NewScorer(engine *probability.Engine, adapter *rules.Adapter, cat *categorizer.Categorizer, cfg Config) *Scorer {
	if cfg.RuleShiftWeight <= 0 {
		cfg.RuleShiftWeight = DefaultRuleShiftWeight
	}
	return &Scorer{
		now:         time.Now,
		newID:       uuid.NewString,
		extractor:   features.NewExtractor(),
		engine:      engine,
		rules:       adapter,
		categorizer: cat,
		log:         log.With().Str("component", "scorer").Logger(),
		config:      cfg,
	}
}

// SetClock replaces the clock used for timestamps and recency factors.
func (s *Scorer) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// SetBaseline installs a fitted logistic model whose probability is
// reported alongside each assessment. A nil or unfitted model disables it.
func (s *Scorer) SetBaseline(m *classifier.LogisticRegression) {
	s.mu.Lock()
	s.baseline = m
	s.mu.Unlock()
}

// OnAssessment registers a listener called after each assessment.
func (s *Scorer) OnAssessment(fn AssessmentListener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Components is the breakdown of one assessment.
type Components struct {
	Probabilities probability.Probabilities `json:"probabilities"`
	Assignment    categorizer.Assignment    `json:"assignment"`
	Features      features.Vector           `json:"features"`
	Adjusted      float64                   `json:"adjusted_probability"`
	RuleShift     float64                   `json:"rule_shift"`
	Score         float64                   `json:"score"`
}

// Score assesses one record. It fails only when the record cannot be
// featurized; missing optional context falls back to defaults.
func (s *Scorer) Score(rec *models.InspectionRecord) (*models.RiskAssessmentResult, error) {
	res, _, err := s.ScoreComponents(rec)
	return res, err
}

// ScoreComponents assesses one record and also returns the intermediate
// values of the pipeline.
func (s *Scorer) ScoreComponents(rec *models.InspectionRecord) (*models.RiskAssessmentResult, Components, error) {
	var c Components
	vec, err := s.extractor.Extract(rec)
	if err != nil {
		return nil, c, err
	}
	c.Features = vec

	s.mu.RLock()
	now := s.now()
	baseline := s.baseline
	listeners := s.listeners
	s.mu.RUnlock()

	// 1. Conditional probabilities and composite score
	c.Probabilities = s.engine.Calculate(rec)
	raw := c.Probabilities.Infraction

	// 2. Rule adjustment; its shift moves the score
	c.Adjusted = s.rules.GetAdjustedProbability(raw, rec)
	c.RuleShift = s.config.RuleShiftWeight * (c.Adjusted - raw)
	c.Score = stats.Clamp(c.Probabilities.Score+c.RuleShift, 0, 100)

	// 3. Band assignment with context nudges
	cctx := categorizer.Context{Name: rec.ID, Zone: rec.Zone, Theme: rec.ThemeClass()}
	if last, ok := rec.LastViolation(); ok {
		cctx.LastViolation = last
	}
	c.Assignment = s.categorizer.Categorize(c.Score, cctx)
	a := c.Assignment

	res := &models.RiskAssessmentResult{
		AssessedAt:               now,
		ID:                       s.newID(),
		RecordID:                 rec.ID,
		Name:                     rec.Name,
		Category:                 a.Category,
		InspectionDelay:          a.Delay,
		RuleVersion:              s.rules.Version(),
		Factors:                  dominantFactors(rec, c, now),
		Actions:                  append(a.Actions, themeActions(c.Probabilities.Theme)...),
		RawProbability:           raw,
		AdjustedProbability:      c.Adjusted,
		Score:                    c.Score,
		ContextScore:             a.Adjusted,
		CategorizationConfidence: a.Confidence,
		PredictionConfidence:     c.Probabilities.Confidence,
		Priority:                 a.Priority,
	}
	if baseline != nil && baseline.Fitted() {
		p := baseline.PredictProba([][]float64{vec.Slice()})[0]
		res.BaselineProbability = &p
	}

	for _, fn := range listeners {
		fn(res)
	}
	return res, c, nil
}

// RecordError is a record of a batch that could not be scored.
type RecordError struct {
	RecordID string `json:"record_id"`
	Error    string `json:"error"`
	Index    int    `json:"index"`
}

// BatchResult is the outcome of scoring a batch.
type BatchResult struct {
	Results []*models.RiskAssessmentResult `json:"results"`
	Errors  []RecordError                  `json:"errors,omitempty"`
	Stats   models.BatchStats              `json:"stats"`
}

// ScoreBatch scores records in order. A record that fails extraction is
// reported and skipped; the rest of the batch still runs.
func (s *Scorer) ScoreBatch(records []models.InspectionRecord) *BatchResult {
	out := &BatchResult{Results: make([]*models.RiskAssessmentResult, 0, len(records))}
	for i := range records {
		res, err := s.Score(&records[i])
		if err != nil {
			out.Errors = append(out.Errors, RecordError{Index: i, RecordID: records[i].ID, Error: err.Error()})
			s.log.Warn().Err(err).Str("record", records[i].ID).Msg("Skipping record in batch")
			continue
		}
		out.Results = append(out.Results, res)
	}
	out.Stats = batchStats(out.Results, len(out.Errors))

	s.log.Info().
		Int("scored", out.Stats.Count).
		Int("failed", out.Stats.Failed).
		Float64("mean", out.Stats.Mean).
		Int("priority", out.Stats.PriorityEstablishments).
		Msg("Batch scored")
	return out
}

func batchStats(results []*models.RiskAssessmentResult, failed int) models.BatchStats {
	st := models.BatchStats{
		Distribution: make(map[models.Category]int, len(models.AllCategories)),
		Count:        len(results),
		Failed:       failed,
	}
	for _, cat := range models.AllCategories {
		st.Distribution[cat] = 0
	}
	if len(results) == 0 {
		return st
	}
	scores := make([]float64, len(results))
	for i, r := range results {
		scores[i] = r.Score
		st.Distribution[r.Category]++
	}
	st.PriorityEstablishments = st.Distribution[models.CategoryCritique] + st.Distribution[models.CategoryEleve]
	st.Mean = stats.Mean(scores)
	st.Median = stats.Median(scores)
	st.Min, st.Max = stats.MinMax(scores)
	st.StdDev = stats.StdDev(scores)
	return st
}

// ErrNoRecords is returned by Evaluate for an empty dataset.
var ErrNoRecords = errors.New("no records to evaluate")

// Evaluate cross-validates every model on records with k folds.
func (s *Scorer) Evaluate(ctx context.Context, records []models.InspectionRecord, k int) (*validation.Report, error) {
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	cfg := s.config.Validation
	if k > 0 {
		cfg.Folds = k
	}
	report, err := validation.NewHarness(cfg).Run(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	return report, nil
}
