// Package probability combines categorical priors through a Bayesian update
// and contextual multipliers into calibrated infraction probabilities.
package probability

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/inspectrisk/internal/stats"
	"github.com/thebtf/inspectrisk/pkg/models"
)

const (
	// DefaultLogSize is how many calculations are kept for introspection.
	DefaultLogSize = 100

	defaultDataAgeDays    = 30
	confidenceAgeFallback = 100
)

// Config holds the tunable weighting knobs of the engine.
type Config struct {
	ThemeWeight           float64 `json:"theme_weight"`
	SizeWeight            float64 `json:"size_weight"`
	HeavyHistoryVigilance float64 `json:"heavy_history_vigilance"`
	DecisionThreshold     float64 `json:"decision_threshold"`
	LogSize               int     `json:"log_size"`
}

// DefaultConfig returns the standard 60/40 theme/size weighting.
func DefaultConfig() Config {
	return Config{
		ThemeWeight:           0.6,
		SizeWeight:            0.4,
		HeavyHistoryVigilance: HistoryPriors[HistoryHeavy].Vigilance,
		DecisionThreshold:     0.5,
		LogSize:               DefaultLogSize,
	}
}

// Probabilities is the output bundle of one calculation.
type Probabilities struct {
	Theme      models.Theme     `json:"theme"`
	Size       models.SizeClass `json:"size"`
	History    HistoryClass     `json:"history"`
	Base       float64          `json:"base_probability"`
	Bayes      float64          `json:"bayes_probability"`
	Infraction float64          `json:"infraction_probability"`
	Severe     float64          `json:"severe_probability"`
	Multiple   float64          `json:"multiple_probability"`
	Recidivism float64          `json:"recidivism_probability"`
	Score      float64          `json:"score"`
	Confidence float64          `json:"confidence"`
}

// LogEntry records one calculation.
type LogEntry struct {
	At         time.Time        `json:"at"`
	RecordID   string           `json:"record_id"`
	Name       string           `json:"name,omitempty"`
	Theme      models.Theme     `json:"theme"`
	Size       models.SizeClass `json:"size"`
	Infraction float64          `json:"infraction_probability"`
	Score      float64          `json:"score"`
}

// Trends are mean infraction probabilities over the calculation log.
type Trends struct {
	ByTheme      map[models.Theme]float64     `json:"by_theme"`
	BySize       map[models.SizeClass]float64 `json:"by_size"`
	Calculations int                          `json:"calculations"`
}

// Engine computes infraction probabilities. Results depend only on the
// input record and the configuration; the calculation log is the only
// mutable state.
type Engine struct {
	now    func() time.Time
	logger zerolog.Logger
	calcs  []LogEntry
	config Config
	mu     sync.Mutex
}

// NewEngine creates an engine. Zero-valued config fields take defaults.
func NewEngine(config Config) *Engine {
	def := DefaultConfig()
	if config.ThemeWeight <= 0 && config.SizeWeight <= 0 {
		config.ThemeWeight, config.SizeWeight = def.ThemeWeight, def.SizeWeight
	}
	if config.HeavyHistoryVigilance <= 0 {
		config.HeavyHistoryVigilance = def.HeavyHistoryVigilance
	}
	if config.DecisionThreshold <= 0 || config.DecisionThreshold >= 1 {
		config.DecisionThreshold = def.DecisionThreshold
	}
	if config.LogSize <= 0 {
		config.LogSize = def.LogSize
	}
	return &Engine{
		config: config,
		now:    time.Now,
		logger: log.With().Str("component", "probability").Logger(),
	}
}

// SetClock replaces the clock used to timestamp log entries.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	e.now = now
	e.mu.Unlock()
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

func (e *Engine) themePrior(t models.Theme) ThemePrior {
	if p, ok := ThemePriors[t]; ok {
		return p
	}
	return ThemePriors[models.ThemeRestaurant]
}

func (e *Engine) sizePrior(s models.SizeClass) SizePrior {
	if p, ok := SizePriors[s]; ok {
		return p
	}
	return SizePriors[models.SizeMoyen]
}

func (e *Engine) historyPrior(h HistoryClass) HistoryPrior {
	p, ok := HistoryPriors[h]
	if !ok {
		p = HistoryPriors[HistoryNone]
	}
	if h == HistoryHeavy {
		p.Vigilance = e.config.HeavyHistoryVigilance
	}
	return p
}

// Calculate runs the full probability pipeline for one record. Unknown
// theme and size values fall back to restaurant and moyen.
func (e *Engine) Calculate(rec *models.InspectionRecord) Probabilities {
	theme := rec.ThemeClass()
	if _, ok := ThemePriors[theme]; !ok {
		theme = models.ThemeRestaurant
	}
	size := rec.SizeClass()
	history := ClassifyHistory(rec)

	tp := e.themePrior(theme)
	sp := e.sizePrior(size)
	hp := e.historyPrior(history)

	base := e.config.ThemeWeight*tp.Infraction + e.config.SizeWeight*sp.Infraction
	bayes := bayesUpdate(base, tp.Infraction, sp.Complexity, hp.Vigilance)
	adjusted := stats.Clamp(bayes*contextFactor(rec), 0.01, 0.99)

	p := Probabilities{
		Theme:      theme,
		Size:       size,
		History:    history,
		Base:       base,
		Bayes:      bayes,
		Infraction: adjusted,
		Severe:     stats.Clamp(tp.Severe*sp.Complexity*(hp.Vigilance/2.0), 0.01, 0.8),
		Multiple:   stats.Clamp(sp.Multiple*(tp.Seasonal/1.2), 0.05, 0.7),
		Recidivism: hp.Recidivism,
		Score:      compositeScore(adjusted, tp.Infraction, sp.Complexity, hp.Vigilance),
		Confidence: confidence(rec),
	}

	e.record(rec, p)
	return p
}

// Predict labels records positive when their infraction probability
// reaches the decision threshold.
func (e *Engine) Predict(records []models.InspectionRecord) ([]int, []float64) {
	labels := make([]int, len(records))
	probs := make([]float64, len(records))
	for i := range records {
		probs[i] = e.Calculate(&records[i]).Infraction
		if probs[i] >= e.config.DecisionThreshold {
			labels[i] = 1
		}
	}
	return labels, probs
}

// bayesUpdate refines the prior with the likelihood of the observed
// theme, size and history under infraction present versus absent.
func bayesUpdate(prior, themeP, complexity, vigilance float64) float64 {
	present := stats.Clamp(themeP*complexity*vigilance/3.0, 0.01, 0.99)
	absent := stats.Clamp((1-themeP)*(2-complexity)*(2-vigilance)/6.0, 0.01, 0.99)

	evidence := math.Max(present*prior+absent*(1-prior), 0.01)
	return stats.Clamp(present*prior/evidence, 0.01, 0.99)
}

// contextFactor multiplies the season, locale and data recency factors.
func contextFactor(rec *models.InspectionRecord) float64 {
	season := models.ParseSeason(string(rec.Season))
	if season == models.SeasonUnknown {
		season = models.SeasonSpring
	}
	seasonF, ok := SeasonFactors[season]
	if !ok {
		seasonF = 1.0
	}

	locale := models.ParseLocale(string(rec.Locale))
	if locale == models.LocaleUnknown {
		locale = models.LocaleUrban
	}
	localeF, ok := LocaleFactors[locale]
	if !ok {
		localeF = 1.0
	}

	age := defaultDataAgeDays
	if rec.DataAgeDays != nil {
		age = *rec.DataAgeDays
	}
	return seasonF * localeF * recencyFactor(age)
}

// compositeScore weights the refined probability (40), theme prior (25),
// size complexity (20) and history vigilance (15) into 0-100.
func compositeScore(prob, themeP, complexity, vigilance float64) float64 {
	score := prob*40 +
		themeP*25 +
		(complexity-1)*20 + 15 +
		(vigilance-1)*15
	return stats.Clamp(score, 0, 100)
}

func confidence(rec *models.InspectionRecord) float64 {
	c := 0.7
	if len(rec.Violations) > 0 {
		c += 0.15
	}
	if rec.Locale != "" {
		c += 0.05
	}
	age := confidenceAgeFallback
	if rec.DataAgeDays != nil {
		age = *rec.DataAgeDays
	}
	if age <= 30 {
		c += 0.1
	}
	return math.Min(c, 0.95)
}

func (e *Engine) record(rec *models.InspectionRecord, p Probabilities) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calcs = append(e.calcs, LogEntry{
		At:         e.now(),
		RecordID:   rec.ID,
		Name:       rec.Name,
		Theme:      p.Theme,
		Size:       p.Size,
		Infraction: p.Infraction,
		Score:      p.Score,
	})
	if over := len(e.calcs) - e.config.LogSize; over > 0 {
		e.calcs = append(e.calcs[:0], e.calcs[over:]...)
	}
}

// Log returns a copy of the calculation log, oldest first.
func (e *Engine) Log() []LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]LogEntry, len(e.calcs))
	copy(out, e.calcs)
	return out
}

// Trends averages the logged infraction probabilities per theme and size.
func (e *Engine) Trends() Trends {
	entries := e.Log()

	themeSum := make(map[models.Theme][2]float64)
	sizeSum := make(map[models.SizeClass][2]float64)
	for _, c := range entries {
		t := themeSum[c.Theme]
		themeSum[c.Theme] = [2]float64{t[0] + c.Infraction, t[1] + 1}
		s := sizeSum[c.Size]
		sizeSum[c.Size] = [2]float64{s[0] + c.Infraction, s[1] + 1}
	}

	tr := Trends{
		Calculations: len(entries),
		ByTheme:      make(map[models.Theme]float64, len(themeSum)),
		BySize:       make(map[models.SizeClass]float64, len(sizeSum)),
	}
	for k, v := range themeSum {
		tr.ByTheme[k] = v[0] / v[1]
	}
	for k, v := range sizeSum {
		tr.BySize[k] = v[0] / v[1]
	}
	e.logger.Debug().Int("calculations", tr.Calculations).Msg("Trends computed")
	return tr
}
