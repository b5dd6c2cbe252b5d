// Package categorizer maps risk scores onto ordinal bands whose boundaries
// recalibrate from a rolling score history.
package categorizer

import (
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/inspectrisk/internal/stats"
	"github.com/thebtf/inspectrisk/pkg/models"
)

const (
	// DefaultWindow is how many recent scores feed a recalibration.
	DefaultWindow = 50
	// DefaultRecalibrateEvery is the call cadence of recalibration.
	DefaultRecalibrateEvery = 10

	recentViolationDays = 90
	fallbackStd         = 20.0
)

// Config controls the rolling calibration.
type Config struct {
	Floors           models.Thresholds `json:"floors"`
	Window           int               `json:"window"`
	RecalibrateEvery int               `json:"recalibrate_every"`
}

// DefaultConfig recalibrates every 10 calls from the last 50 scores with
// band floors of 35, 55 and 75.
func DefaultConfig() Config {
	return Config{
		Floors:           models.Thresholds{Faible: 35, Moyen: 55, Eleve: 75},
		Window:           DefaultWindow,
		RecalibrateEvery: DefaultRecalibrateEvery,
	}
}

// Band is one category with its [Min, Max) score range.
type Band struct {
	Category models.Category `json:"category"`
	Min      float64         `json:"min"`
	Max      float64         `json:"max"`
}

func (b Band) contains(score float64) bool {
	return b.Min <= score && score < b.Max
}

// Calibration is the summary of the recent score window.
type Calibration struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	P25  float64 `json:"p25"`
	P50  float64 `json:"p50"`
	P75  float64 `json:"p75"`
	P90  float64 `json:"p90"`
}

var initialCalibration = Calibration{Mean: 50, Std: 20, P25: 35, P50: 50, P75: 65, P90: 80}

// Context carries the optional signals that nudge a score. Zero values
// mean the signal is absent.
type Context struct {
	LastViolation time.Time    `json:"last_violation,omitempty"`
	Name          string       `json:"name,omitempty"`
	Zone          string       `json:"zone,omitempty"`
	Theme         models.Theme `json:"theme,omitempty"`
}

// Assignment is the categorization of one score.
type Assignment struct {
	Band        Band            `json:"band"`
	RecordID    string          `json:"record_id,omitempty"`
	Category    models.Category `json:"category"`
	Delay       string          `json:"delay"`
	Adjustments []string        `json:"adjustments"`
	Actions     []string        `json:"actions"`
	Score       float64         `json:"score"`
	Adjusted    float64         `json:"adjusted_score"`
	Confidence  float64         `json:"confidence"`
	Priority    int             `json:"priority"`
}

// Snapshot is the observable calibration state.
type Snapshot struct {
	LastRecalibrated time.Time   `json:"last_recalibrated,omitempty"`
	Bands            []Band      `json:"bands"`
	Calibration      Calibration `json:"calibration"`
	Calls            int         `json:"calls"`
	HistorySize      int         `json:"history_size"`
	Recalibrations   int         `json:"recalibrations"`
}

// RecalibrationListener is notified after the bands are recomputed.
type RecalibrationListener func(Snapshot)

// Categorizer owns the bands and rolling history. It is safe for
// concurrent use; history mutation is serialized.
type Categorizer struct {
	now            func() time.Time
	log            zerolog.Logger
	lastRecal      time.Time
	history        []float64
	listeners      []RecalibrationListener
	bands          [4]Band
	calibration    Calibration
	config         Config
	calls          int
	recalibrations int
	mu             sync.Mutex
}

// New creates a categorizer seeded with the default 0-40-60-80-100 bands.
func New(cfg Config) *Categorizer {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.RecalibrateEvery <= 0 {
		cfg.RecalibrateEvery = def.RecalibrateEvery
	}
	if cfg.Floors.IsZero() {
		cfg.Floors = def.Floors
	}
	return &Categorizer{
		now:         time.Now,
		log:         log.With().Str("component", "categorizer").Logger(),
		bands:       bandsFrom(models.DefaultThresholds),
		calibration: initialCalibration,
		config:      cfg,
		history:     make([]float64, 0, cfg.Window),
	}
}

// SetClock replaces the clock used for the season and recency checks.
func (c *Categorizer) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// OnRecalibrate registers a listener called after each recalibration.
func (c *Categorizer) OnRecalibrate(fn RecalibrationListener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// SetThresholds replaces the band boundaries, typically from the thresholds
// of a new rule set. The next recalibration overrides them again.
func (c *Categorizer) SetThresholds(t models.Thresholds) error {
	if !(t.Faible > 0 && t.Faible < t.Moyen && t.Moyen < t.Eleve && t.Eleve < 100) {
		return &models.ValidationError{
			Field:  "thresholds",
			Reason: fmt.Sprintf("must satisfy 0 < %.1f < %.1f < %.1f < 100", t.Faible, t.Moyen, t.Eleve),
		}
	}
	c.mu.Lock()
	c.bands = bandsFrom(t)
	c.mu.Unlock()
	c.log.Info().
		Float64("faible", t.Faible).
		Float64("moyen", t.Moyen).
		Float64("eleve", t.Eleve).
		Msg("Band thresholds replaced")
	return nil
}

// Categorize records score in the history, recalibrates on every Nth call
// and assigns the contextually adjusted score to a band.
func (c *Categorizer) Categorize(score float64, cc Context) Assignment {
	c.mu.Lock()
	c.calls++
	c.history = append(c.history, score)
	if over := len(c.history) - c.config.Window; over > 0 {
		c.history = slices.Delete(c.history, 0, over)
	}

	var snap *Snapshot
	if c.calls%c.config.RecalibrateEvery == 0 {
		c.recalibrateLocked()
		s := c.snapshotLocked()
		snap = &s
	}
	a := c.assignLocked(score, cc)
	listeners := c.listeners
	c.mu.Unlock()

	if snap != nil {
		for _, fn := range listeners {
			fn(*snap)
		}
	}
	c.log.Debug().
		Float64("score", score).
		Str("category", string(a.Category)).
		Float64("confidence", a.Confidence).
		Msg("Categorized score")
	return a
}

// Preview categorizes score against the current bands without touching the
// history or the call count.
func (c *Categorizer) Preview(score float64, cc Context) Assignment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.assignLocked(score, cc)
}

// Snapshot returns the current bands and calibration.
func (c *Categorizer) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Categorizer) snapshotLocked() Snapshot {
	return Snapshot{
		LastRecalibrated: c.lastRecal,
		Bands:            slices.Clone(c.bands[:]),
		Calibration:      c.calibration,
		Calls:            c.calls,
		HistorySize:      len(c.history),
		Recalibrations:   c.recalibrations,
	}
}

func (c *Categorizer) assignLocked(score float64, cc Context) Assignment {
	adjusted, applied := c.adjustLocked(score, cc)
	band := c.bandForLocked(adjusted)
	return Assignment{
		Band:        band,
		RecordID:    cc.Name,
		Category:    band.Category,
		Delay:       Delay(band.Category),
		Adjustments: applied,
		Actions:     Actions(band.Category),
		Score:       score,
		Adjusted:    adjusted,
		Confidence:  confidence(adjusted, band),
		Priority:    Priority(band.Category, adjusted),
	}
}

// recalibrateLocked rederives the bands from nearest-rank percentiles of
// the window, never letting a boundary drop below its floor.
func (c *Categorizer) recalibrateLocked() {
	window := c.history
	if len(window) == 0 {
		return
	}
	p := stats.NearestRank(window, 0.25, 0.50, 0.75, 0.90)
	std := fallbackStd
	if len(window) > 1 {
		std = stats.StdDev(window)
	}
	c.calibration = Calibration{Mean: stats.Mean(window), Std: std, P25: p[0], P50: p[1], P75: p[2], P90: p[3]}

	floors := c.config.Floors
	c.bands = bandsFrom(models.Thresholds{
		Faible: math.Max(floors.Faible, p[0]),
		Moyen:  math.Max(floors.Moyen, p[2]),
		Eleve:  math.Max(floors.Eleve, p[3]),
	})
	c.recalibrations++
	c.lastRecal = c.now()

	c.log.Info().
		Float64("p25", p[0]).
		Float64("p75", p[2]).
		Float64("p90", p[3]).
		Int("window", len(window)).
		Msg("Recalibrated risk bands")
}

// bandForLocked returns the first band containing score. Scores outside
// every band fall back to critique at 80 and above, moyen otherwise.
func (c *Categorizer) bandForLocked(score float64) Band {
	for _, b := range c.bands {
		if b.contains(score) {
			return b
		}
	}
	if score >= 80 {
		return c.bands[3]
	}
	return c.bands[1]
}

type adjustment struct {
	label  string
	factor float64
	shift  float64
}

var (
	summerAdjustment = adjustment{"summer season (+10%)", 1.1, 5}
	urbanAdjustment  = adjustment{"urban zone (+5%)", 1.05, 2}
	fastFoodAdjust   = adjustment{"fast food (+15%)", 1.15, 8}
	recentAdjustment = adjustment{"recent violation (+20%)", 1.2, 10}
)

var urbanZones = map[string]bool{"montreal": true, "quebec": true, "laval": true}

// adjustLocked applies each matching nudge in turn as score*factor+shift
// and clamps the result to [0,100].
func (c *Categorizer) adjustLocked(score float64, cc Context) (float64, []string) {
	now := c.now()
	var matched []adjustment
	if m := now.Month(); m >= time.June && m <= time.August {
		matched = append(matched, summerAdjustment)
	}
	if urbanZones[models.Normalize(cc.Zone)] {
		matched = append(matched, urbanAdjustment)
	}
	if cc.Theme == models.ThemeFastFood {
		matched = append(matched, fastFoodAdjust)
	}
	if !cc.LastViolation.IsZero() && now.Sub(cc.LastViolation) <= recentViolationDays*24*time.Hour {
		matched = append(matched, recentAdjustment)
	}

	applied := make([]string, 0, len(matched))
	for _, adj := range matched {
		score = score*adj.factor + adj.shift
		applied = append(applied, adj.label)
	}
	return stats.Clamp(score, 0, 100), applied
}

// confidence is the distance to the nearer band edge relative to half the
// band width, kept within [0.5, 1].
func confidence(score float64, b Band) float64 {
	width := b.Max - b.Min
	if width == 0 {
		return 1
	}
	edge := math.Min(math.Abs(score-b.Min), math.Abs(score-b.Max))
	return stats.Clamp(edge/(width/2), 0.5, 1)
}

func bandsFrom(t models.Thresholds) [4]Band {
	return [4]Band{
		{Category: models.CategoryFaible, Min: 0, Max: t.Faible},
		{Category: models.CategoryMoyen, Min: t.Faible, Max: t.Moyen},
		{Category: models.CategoryEleve, Min: t.Moyen, Max: t.Eleve},
		{Category: models.CategoryCritique, Min: t.Eleve, Max: 100},
	}
}
