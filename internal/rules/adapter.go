// Package rules holds the versioned regulatory rule sets and applies their
// temporal weighting to engine probabilities.
package rules

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/inspectrisk/internal/stats"
	"github.com/thebtf/inspectrisk/pkg/models"
)

// Impact tags recorded with each replaced rule set.
const (
	ImpactNone = "none"
	ImpactLow  = "low"
	ImpactHigh = "high"
)

// highImpactChange is the relative multiplier change tagged as high impact.
const highImpactChange = 0.10

// HistoryEntry is a rule set that was replaced by an update.
type HistoryEntry struct {
	ReplacedAt    time.Time       `json:"replaced_at"`
	Rules         *models.RuleSet `json:"rules"`
	Version       string          `json:"version"`
	EffectiveDate string          `json:"effective_date"`
	ChangeSummary string          `json:"change_summary"`
	ImpactTag     string          `json:"impact_tag"`
}

// Store persists rule sets. Implementations must be safe for concurrent use.
type Store interface {
	// SaveRules stores the new current rule set together with the history
	// entry for the rule set it replaces, atomically.
	SaveRules(ctx context.Context, current *models.RuleSet, replaced HistoryEntry) error
	// LoadRules returns the persisted current rule set and history, oldest
	// first. A nil rule set means nothing was stored yet.
	LoadRules(ctx context.Context) (*models.RuleSet, []HistoryEntry, error)
}

// UpdateListener is notified after a successful update.
type UpdateListener func(current *models.RuleSet, entry HistoryEntry)

// Adapter owns the current rule set and its append-only history. All
// mutation goes through UpdateRules, which validates before swapping.
type Adapter struct {
	now       func() time.Time
	current   *models.RuleSet
	store     Store
	log       zerolog.Logger
	history   []HistoryEntry
	listeners []UpdateListener
	mu        sync.RWMutex
}

// NewAdapter creates an adapter starting from initial, or the default
// rules when initial is nil.
func NewAdapter(initial *models.RuleSet) *Adapter {
	if initial == nil {
		initial = models.DefaultRuleSet()
	}
	return &Adapter{
		current: initial.Clone(),
		now:     time.Now,
		log:     log.With().Str("component", "rules").Logger(),
	}
}

// SetClock replaces the clock used for temporal weights and seasons.
func (a *Adapter) SetClock(now func() time.Time) {
	a.mu.Lock()
	a.now = now
	a.mu.Unlock()
}

// SetStore attaches a persistence backend. Updates are written to the
// store before they become visible.
func (a *Adapter) SetStore(store Store) {
	a.mu.Lock()
	a.store = store
	a.mu.Unlock()
}

// Restore loads the persisted rules and history from the store, keeping
// the current rules when the store is empty.
func (a *Adapter) Restore(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.store == nil {
		return nil
	}
	current, history, err := a.store.LoadRules(ctx)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	if current == nil {
		return nil
	}
	a.current = current
	a.history = history
	a.log.Info().
		Str("version", current.Version).
		Int("history", len(history)).
		Msg("Restored rule set from store")
	return nil
}

// OnUpdate registers a listener called after each successful update.
func (a *Adapter) OnUpdate(fn UpdateListener) {
	a.mu.Lock()
	a.listeners = append(a.listeners, fn)
	a.mu.Unlock()
}

// Current returns a copy of the current rule set.
func (a *Adapter) Current() *models.RuleSet {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current.Clone()
}

// Version returns the version of the current rule set.
func (a *Adapter) Version() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current.Version
}

// History returns the replaced rule sets, oldest first.
func (a *Adapter) History() []HistoryEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]HistoryEntry, len(a.history))
	for i, h := range a.history {
		h.Rules = h.Rules.Clone()
		out[i] = h
	}
	return out
}

// Weights returns the temporal weights of the current rule set as of now.
func (a *Adapter) Weights() TemporalWeights {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.weightsLocked(a.current)
}

func (a *Adapter) weightsLocked(rs *models.RuleSet) TemporalWeights {
	w, err := ApplyTimeBasedWeights(rs.EffectiveDate, a.now())
	if err != nil {
		// Only rule sets that bypassed validation (NewAdapter, Restore) get here.
		a.log.Warn().Err(err).Str("version", rs.Version).Msg("Unparseable effective date, using neutral weight")
		return TemporalWeights{EffectiveDate: rs.EffectiveDate, Global: 1, Critical: 1, Major: 1, Minor: 1, RecentHistory: 1, Seasonality: 1}
	}
	return w
}

// GetAdjustedProbability scales a base probability by the theme, size and
// season multipliers and the global temporal weight, clamped to [0, 1].
func (a *Adapter) GetAdjustedProbability(base float64, rec *models.InspectionRecord) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.adjustLocked(a.current, base, rec)
}

func (a *Adapter) adjustLocked(rs *models.RuleSet, base float64, rec *models.InspectionRecord) float64 {
	season := models.SeasonForMonth(a.now().Month())
	p := base *
		rs.ThemeMultiplier(rec.ThemeClass()) *
		rs.SizeMultiplier(rec.SizeClass()) *
		rs.SeasonMultiplier(season) *
		a.weightsLocked(rs).Global
	return stats.Clamp(p, 0, 1)
}

// UpdateRules validates and installs a new rule set. Fields left empty
// inherit from the current rules. On failure it logs the reason and
// leaves all state unchanged.
func (a *Adapter) UpdateRules(next *models.RuleSet) bool {
	if _, err := a.Apply(context.Background(), next); err != nil {
		a.log.Warn().Err(err).Msg("Rule update rejected")
		return false
	}
	return true
}

// Apply is UpdateRules with the error and resulting rule set exposed.
func (a *Adapter) Apply(ctx context.Context, next *models.RuleSet) (*models.RuleSet, error) {
	a.mu.Lock()

	merged := merge(a.current, next)
	if err := a.validateLocked(merged); err != nil {
		a.mu.Unlock()
		return nil, err
	}

	prev := a.current
	entry := HistoryEntry{
		ReplacedAt:    a.now(),
		Rules:         prev.Clone(),
		Version:       prev.Version,
		EffectiveDate: prev.EffectiveDate,
		ChangeSummary: changeSummary(prev, merged),
		ImpactTag:     impactTag(prev, merged),
	}

	if a.store != nil {
		if err := a.store.SaveRules(ctx, merged, entry); err != nil {
			a.mu.Unlock()
			return nil, fmt.Errorf("persist rules: %w", err)
		}
	}

	a.history = append(a.history, entry)
	a.current = merged
	weights := a.weightsLocked(merged)
	listeners := slices.Clone(a.listeners)
	result := merged.Clone()
	a.mu.Unlock()

	a.log.Info().
		Str("version", merged.Version).
		Str("previous", prev.Version).
		Str("impact", entry.ImpactTag).
		Float64("temporal_weight", weights.Global).
		Msg("Rule set updated")

	for _, fn := range listeners {
		fn(result.Clone(), entry)
	}
	return result, nil
}

// ValidateRuleSet checks a candidate as UpdateRules would, without
// installing it.
func (a *Adapter) ValidateRuleSet(next *models.RuleSet) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.validateLocked(merge(a.current, next))
}

func (a *Adapter) validateLocked(rs *models.RuleSet) error {
	if rs == nil {
		return &models.ValidationError{Field: "rules", Reason: "is nil"}
	}
	if strings.TrimSpace(rs.Version) == "" {
		return &models.ValidationError{Field: "version", Reason: "is required"}
	}
	if rs.Version == a.current.Version {
		return &models.ValidationError{Field: "version", Reason: fmt.Sprintf("%q is already current", rs.Version)}
	}
	for _, h := range a.history {
		if h.Version == rs.Version {
			return &models.ValidationError{Field: "version", Reason: fmt.Sprintf("%q was already used", rs.Version)}
		}
	}
	return ValidateContent(rs)
}

// ValidateContent checks the fields of a rule set that do not depend on
// the update history.
func ValidateContent(rs *models.RuleSet) error {
	if strings.TrimSpace(rs.Version) == "" {
		return &models.ValidationError{Field: "version", Reason: "is required"}
	}
	if strings.TrimSpace(rs.EffectiveDate) == "" {
		return &models.ValidationError{Field: "effective_date", Reason: "is required"}
	}
	if _, err := models.ParseDate(rs.EffectiveDate); err != nil {
		return &models.ValidationError{Field: "effective_date", Reason: err.Error()}
	}
	for sev, w := range rs.CategoryWeights {
		if !slices.Contains(models.AllSeverities, sev) {
			return &models.ValidationError{Field: "category_weights", Reason: fmt.Sprintf("unknown severity %q", sev)}
		}
		if w.Weight < 0 || w.ClosureThreshold < 0 || w.CorrectionDelayDays < 0 {
			return &models.ValidationError{Field: "category_weights." + string(sev), Reason: "must not be negative"}
		}
	}
	if err := positiveMultipliers("theme_multipliers", rs.ThemeMultipliers); err != nil {
		return err
	}
	if err := positiveMultipliers("size_multipliers", rs.SizeMultipliers); err != nil {
		return err
	}
	if err := positiveMultipliers("season_multipliers", rs.SeasonMultipliers); err != nil {
		return err
	}
	t := rs.Thresholds
	if !(0 < t.Faible && t.Faible < t.Moyen && t.Moyen < t.Eleve && t.Eleve < 100) {
		return &models.ValidationError{Field: "thresholds", Reason: "must satisfy 0 < faible < moyen < eleve < 100"}
	}
	return nil
}

func positiveMultipliers[K ~string](field string, m map[K]float64) error {
	for k, v := range m {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return &models.ValidationError{Field: field + "." + string(k), Reason: "must be a positive number"}
		}
	}
	return nil
}

// merge overlays next on prev; empty fields of next inherit from prev.
func merge(prev, next *models.RuleSet) *models.RuleSet {
	if next == nil {
		return nil
	}
	out := next.Clone()
	if out.CategoryWeights == nil {
		out.CategoryWeights = maps.Clone(prev.CategoryWeights)
	}
	if out.ThemeMultipliers == nil {
		out.ThemeMultipliers = maps.Clone(prev.ThemeMultipliers)
	}
	if out.SizeMultipliers == nil {
		out.SizeMultipliers = maps.Clone(prev.SizeMultipliers)
	}
	if out.SeasonMultipliers == nil {
		out.SeasonMultipliers = maps.Clone(prev.SeasonMultipliers)
	}
	if out.Thresholds.IsZero() {
		out.Thresholds = prev.Thresholds
	}
	if out.Description == "" {
		out.Description = prev.Description
	}
	return out
}

// changeSummary lists the sections that differ between two rule sets.
func changeSummary(prev, next *models.RuleSet) string {
	var changed []string
	if prev.EffectiveDate != next.EffectiveDate {
		changed = append(changed, "effective_date")
	}
	if !maps.Equal(prev.CategoryWeights, next.CategoryWeights) {
		changed = append(changed, "category_weights")
	}
	if !maps.Equal(prev.ThemeMultipliers, next.ThemeMultipliers) {
		changed = append(changed, "theme_multipliers")
	}
	if !maps.Equal(prev.SizeMultipliers, next.SizeMultipliers) {
		changed = append(changed, "size_multipliers")
	}
	if !maps.Equal(prev.SeasonMultipliers, next.SeasonMultipliers) {
		changed = append(changed, "season_multipliers")
	}
	if prev.Thresholds != next.Thresholds {
		changed = append(changed, "thresholds")
	}
	if len(changed) == 0 {
		return fmt.Sprintf("%s -> %s: no parameter changes", prev.Version, next.Version)
	}
	return fmt.Sprintf("%s -> %s: %s", prev.Version, next.Version, strings.Join(changed, ", "))
}

// impactTag grades an update by its largest relative multiplier change.
func impactTag(prev, next *models.RuleSet) string {
	if prev.Thresholds != next.Thresholds {
		return ImpactHigh
	}
	largest := math.Max(
		maxRelativeChange(prev.ThemeMultipliers, next.ThemeMultipliers),
		math.Max(
			maxRelativeChange(prev.SizeMultipliers, next.SizeMultipliers),
			maxRelativeChange(prev.SeasonMultipliers, next.SeasonMultipliers),
		),
	)
	for sev, w := range next.CategoryWeights {
		if old, ok := prev.CategoryWeights[sev]; ok && old.Weight > 0 {
			largest = math.Max(largest, math.Abs(w.Weight-old.Weight)/old.Weight)
		} else if !ok {
			largest = math.Max(largest, 1)
		}
	}
	switch {
	case largest >= highImpactChange:
		return ImpactHigh
	case largest > 0 || prev.EffectiveDate != next.EffectiveDate:
		return ImpactLow
	default:
		return ImpactNone
	}
}

func maxRelativeChange[K comparable](prev, next map[K]float64) float64 {
	largest := 0.0
	keys := make(map[K]struct{}, len(prev)+len(next))
	for k := range prev {
		keys[k] = struct{}{}
	}
	for k := range next {
		keys[k] = struct{}{}
	}
	for k := range keys {
		a, okA := prev[k]
		b, okB := next[k]
		if !okA {
			a = 1
		}
		if !okB {
			b = 1
		}
		if a != 0 {
			largest = math.Max(largest, math.Abs(b-a)/math.Abs(a))
		}
	}
	return largest
}
