package rules

import (
	"context"
	"errors"
	"maps"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/inspectrisk/pkg/models"
)

// memoryStore is an in-memory Store for tests.
type memoryStore struct {
	current *models.RuleSet
	history []HistoryEntry
	fail    error
	mu      sync.Mutex
}

func (m *memoryStore) SaveRules(_ context.Context, current *models.RuleSet, replaced HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.current = current.Clone()
	m.history = append(m.history, replaced)
	return nil
}

func (m *memoryStore) LoadRules(context.Context) (*models.RuleSet, []HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.Clone(), append([]HistoryEntry(nil), m.history...), m.fail
}

// AdapterSuite is a test suite for the rule Adapter.
type AdapterSuite struct {
	suite.Suite
	adapter *Adapter
	now     time.Time
}

func (s *AdapterSuite) SetupTest() {
	s.now = time.Date(2024, 7, 15, 12, 0, 0, 0, time.UTC)
	s.adapter = NewAdapter(nil)
	s.adapter.SetClock(func() time.Time { return s.now })
}

func TestAdapterSuite(t *testing.T) {
	suite.Run(t, new(AdapterSuite))
}

// =============================================================================
// GOOD SCENARIOS - Expected normal operations
// =============================================================================

func (s *AdapterSuite) TestUpdateRules_GoodScenarios_RoundTrip() {
	next := &models.RuleSet{
		Version:           "2024.2",
		EffectiveDate:     "2024-07-01",
		Description:       "Summer amendment",
		CategoryWeights:   map[models.Severity]models.CategoryWeight{models.SeverityCritical: {Weight: 4, ClosureThreshold: 1, CorrectionDelayDays: 0}},
		ThemeMultipliers:  map[models.Theme]float64{models.ThemeFastFood: 1.3},
		SizeMultipliers:   map[models.SizeClass]float64{models.SizeGrand: 1.2},
		SeasonMultipliers: map[models.Season]float64{models.SeasonSummer: 1.25},
		Thresholds:        models.Thresholds{Faible: 35, Moyen: 55, Eleve: 75},
	}

	s.Require().True(s.adapter.UpdateRules(next))

	got := s.adapter.Current()
	s.Equal(next, got)

	history := s.adapter.History()
	s.Require().Len(history, 1)
	s.Equal("2024.1", history[0].Version)
	s.Equal("2024-01-01", history[0].EffectiveDate)
	s.Equal(ImpactHigh, history[0].ImpactTag)
	s.Contains(history[0].ChangeSummary, "thresholds")
	s.Equal(s.now, history[0].ReplacedAt)
}

func (s *AdapterSuite) TestUpdateRules_GoodScenarios_InheritsMissingFields() {
	s.Require().True(s.adapter.UpdateRules(&models.RuleSet{Version: "2024.2", EffectiveDate: "2024-06-01"}))

	got := s.adapter.Current()
	def := models.DefaultRuleSet()
	s.Equal("2024.2", got.Version)
	s.Equal(def.ThemeMultipliers, got.ThemeMultipliers)
	s.Equal(def.Thresholds, got.Thresholds)
	s.Equal(def.Description, got.Description)
	s.Equal(ImpactLow, s.adapter.History()[0].ImpactTag)
}

func (s *AdapterSuite) TestUpdateRules_GoodScenarios_RecomputesWeights() {
	s.InDelta(0.804, s.adapter.Weights().Global, 1e-9, "196 days after 2024-01-01")

	s.Require().True(s.adapter.UpdateRules(&models.RuleSet{Version: "2024.2", EffectiveDate: "2024-07-10"}))
	s.InDelta(1.0, s.adapter.Weights().Global, 1e-9)

	s.Require().True(s.adapter.UpdateRules(&models.RuleSet{Version: "2025.1", EffectiveDate: "2025-01-01"}))
	s.InDelta(0.5, s.adapter.Weights().Global, 1e-9, "future dated rules")
	s.Len(s.adapter.History(), 2)
}

func (s *AdapterSuite) TestUpdateRules_GoodScenarios_NotifiesListeners() {
	var got []string
	s.adapter.OnUpdate(func(current *models.RuleSet, entry HistoryEntry) {
		got = append(got, entry.Version+"->"+current.Version)
	})

	s.Require().True(s.adapter.UpdateRules(&models.RuleSet{Version: "2024.2", EffectiveDate: "2024-06-01"}))
	s.Equal([]string{"2024.1->2024.2"}, got)
}

func (s *AdapterSuite) TestUpdateRules_GoodScenarios_PersistsAndRestores() {
	store := &memoryStore{}
	s.adapter.SetStore(store)
	s.Require().True(s.adapter.UpdateRules(&models.RuleSet{Version: "2024.2", EffectiveDate: "2024-06-01"}))

	restored := NewAdapter(nil)
	restored.SetStore(store)
	s.Require().NoError(restored.Restore(context.Background()))

	s.Equal(s.adapter.Current(), restored.Current())
	s.Len(restored.History(), 1)
}

func (s *AdapterSuite) TestGetAdjustedProbability_GoodScenarios() {
	rec := &models.InspectionRecord{Theme: "fast_food", Size: models.SizeGrand}

	// 0.5 * 1.15 (fast food) * 1.1 (grand) * 1.1 (July) * 0.804 (temporal)
	s.InDelta(0.559383, s.adapter.GetAdjustedProbability(0.5, rec), 1e-6)

	s.InDelta(1.0, s.adapter.GetAdjustedProbability(0.99, rec), 1e-9, "clamped to 1")
	s.InDelta(0.0, s.adapter.GetAdjustedProbability(-0.2, rec), 1e-9, "clamped to 0")
}

func (s *AdapterSuite) TestGetAdjustedProbability_GoodScenarios_WinterMonth() {
	s.now = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	rec := &models.InspectionRecord{Theme: "cafe", Size: models.SizePetit}

	// 0.4 * 0.9 * 0.95 * 0.95 (winter) * 1.0 (9 days in effect)
	s.InDelta(0.4*0.9*0.95*0.95, s.adapter.GetAdjustedProbability(0.4, rec), 1e-9)
}

// =============================================================================
// BAD SCENARIOS - Rejected updates leave state unchanged
// =============================================================================

func (s *AdapterSuite) TestUpdateRules_BadScenarios_Rejected() {
	before := s.adapter.Current()

	tests := map[string]*models.RuleSet{
		"nil":             nil,
		"missing version": {EffectiveDate: "2024-06-01"},
		"missing date":    {Version: "x"},
		"bad date":        {Version: "x", EffectiveDate: "soon"},
		"current version": {Version: "2024.1", EffectiveDate: "2024-06-01"},
		"bad thresholds":  {Version: "x", EffectiveDate: "2024-06-01", Thresholds: models.Thresholds{Faible: 60, Moyen: 50, Eleve: 80}},
		"zero multiplier": {Version: "x", EffectiveDate: "2024-06-01", ThemeMultipliers: map[models.Theme]float64{models.ThemeBar: 0}},
		"unknown severity": {Version: "x", EffectiveDate: "2024-06-01",
			CategoryWeights: map[models.Severity]models.CategoryWeight{"catastrophic": {Weight: 1}}},
	}
	for name, rs := range tests {
		s.False(s.adapter.UpdateRules(rs), name)
	}

	s.Equal(before, s.adapter.Current())
	s.Empty(s.adapter.History())
}

func (s *AdapterSuite) TestUpdateRules_BadScenarios_DuplicateHistoricalVersion() {
	s.Require().True(s.adapter.UpdateRules(&models.RuleSet{Version: "2024.2", EffectiveDate: "2024-06-01"}))

	s.False(s.adapter.UpdateRules(&models.RuleSet{Version: "2024.1", EffectiveDate: "2024-06-02"}))
	s.Equal("2024.2", s.adapter.Current().Version)
}

func (s *AdapterSuite) TestApply_BadScenarios_ValidationError() {
	_, err := s.adapter.Apply(context.Background(), &models.RuleSet{Version: "x", EffectiveDate: "??"})

	var vErr *models.ValidationError
	s.Require().ErrorAs(err, &vErr)
	s.Equal("effective_date", vErr.Field)
	s.Error(s.adapter.ValidateRuleSet(&models.RuleSet{Version: "x"}))
	s.NoError(s.adapter.ValidateRuleSet(&models.RuleSet{Version: "x", EffectiveDate: "2024-02-02"}))
}

func (s *AdapterSuite) TestUpdateRules_BadScenarios_StoreFailure() {
	s.adapter.SetStore(&memoryStore{fail: errors.New("disk full")})

	s.False(s.adapter.UpdateRules(&models.RuleSet{Version: "2024.2", EffectiveDate: "2024-06-01"}))
	s.Equal("2024.1", s.adapter.Current().Version)
	s.Empty(s.adapter.History())
}

func (s *AdapterSuite) TestCurrent_BadScenarios_CallerCannotMutate() {
	got := s.adapter.Current()
	got.ThemeMultipliers[models.ThemeBar] = 99

	s.InDelta(1.10, s.adapter.Current().ThemeMultipliers[models.ThemeBar], 1e-9)
}

func TestImpactTag(t *testing.T) {
	prev := models.DefaultRuleSet()

	same := prev.Clone()
	same.Version = "b"
	assert.Equal(t, ImpactNone, impactTag(prev, same))

	small := same.Clone()
	small.SizeMultipliers = maps.Clone(prev.SizeMultipliers)
	small.SizeMultipliers[models.SizeGrand] = 1.12
	assert.Equal(t, ImpactLow, impactTag(prev, small))

	big := same.Clone()
	big.SeasonMultipliers = map[models.Season]float64{models.SeasonSummer: 1.5}
	assert.Equal(t, ImpactHigh, impactTag(prev, big))

	require.Contains(t, changeSummary(prev, big), "season_multipliers")
	assert.Contains(t, changeSummary(prev, same), "no parameter changes")
}
