package rules

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/inspectrisk/pkg/models"
)

func sampleRecords() []models.InspectionRecord {
	return []models.InspectionRecord{
		{ID: "a", Theme: "fast_food", Size: models.SizeGrand},
		{ID: "b", Theme: "cafe", Size: models.SizePetit},
		{ID: "c", Theme: "bar", Size: models.SizeMoyen},
	}
}

func constantProbability(rec *models.InspectionRecord) float64 { return 0.4 }

func newTestAdapter() *Adapter {
	a := NewAdapter(nil)
	a.SetClock(func() time.Time { return time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC) })
	return a
}

func TestSimulateRuleChangeImpact(t *testing.T) {
	a := newTestAdapter()
	before := a.Current()

	proposed := &models.RuleSet{
		Version:          "proposal",
		EffectiveDate:    "2024-01-01",
		ThemeMultipliers: map[models.Theme]float64{models.ThemeFastFood: 1.5, models.ThemeCafe: 0.9, models.ThemeBar: 1.1},
	}

	report, err := a.SimulateRuleChangeImpact(proposed, sampleRecords(), constantProbability)
	require.NoError(t, err)

	assert.Equal(t, "2024.1", report.CurrentVersion)
	assert.Equal(t, "proposal", report.ProposedVersion)
	assert.Equal(t, 3, report.SampleSize)
	require.Len(t, report.Records, 3)
	assert.Greater(t, report.Records[0].Delta, 0.0, "fast food multiplier raised")
	assert.InDelta(t, 0.0, report.Records[1].Delta, 1e-12)
	assert.InDelta(t, 0.0, report.Records[2].Delta, 1e-12)
	assert.Equal(t, 1, report.Changed)
	assert.Greater(t, report.MeanAfter, report.MeanBefore)
	assert.InDelta(t, report.Records[0].Delta, report.MaxIncrease, 1e-12)
	assert.Equal(t, ImpactHigh, report.ImpactTag)

	assert.Equal(t, before, a.Current(), "live rules are restored")
	assert.Empty(t, a.History(), "simulation is not an update")
}

func TestSimulateRuleChangeImpact_PartialProposal(t *testing.T) {
	a := newTestAdapter()
	before := a.Current()

	proposed := &models.RuleSet{
		ThemeMultipliers: map[models.Theme]float64{models.ThemeFastFood: 1.5},
	}
	report, err := a.SimulateRuleChangeImpact(proposed, sampleRecords(), constantProbability)
	require.NoError(t, err)

	assert.Equal(t, before.Version, report.ProposedVersion, "missing version comes from the current rules")
	assert.Equal(t, 3, report.SampleSize)
	assert.Greater(t, report.Records[0].Delta, 0.0)
	assert.NotContains(t, report.ChangeSummary, "effective_date")
	assert.Equal(t, before, a.Current())

	_, err = a.Apply(context.Background(), proposed)
	require.Error(t, err, "updates still need a version")
}

func TestSimulateRuleChangeImpact_RestoresOnPanic(t *testing.T) {
	a := newTestAdapter()
	before := a.Current()

	calls := 0
	boom := func(rec *models.InspectionRecord) float64 {
		calls++
		if calls > 4 {
			panic("evaluation blew up")
		}
		return 0.3
	}

	proposed := &models.RuleSet{Version: "proposal", EffectiveDate: "2024-01-01", Thresholds: models.Thresholds{Faible: 30, Moyen: 50, Eleve: 70}}
	report, err := a.SimulateRuleChangeImpact(proposed, sampleRecords(), boom)

	require.Error(t, err)
	assert.Nil(t, report)
	assert.Equal(t, before, a.Current())

	// The lock was released: updates still work
	assert.True(t, a.UpdateRules(&models.RuleSet{Version: "2024.2", EffectiveDate: "2024-06-01"}))
}

func TestSimulateRuleChangeImpact_InvalidProposal(t *testing.T) {
	a := newTestAdapter()
	before := a.Current()

	_, err := a.SimulateRuleChangeImpact(&models.RuleSet{Version: "p", EffectiveDate: "whenever"}, sampleRecords(), constantProbability)
	assert.Error(t, err)

	_, err = a.SimulateRuleChangeImpact(&models.RuleSet{Version: "p", EffectiveDate: "2024-01-01"}, sampleRecords(), nil)
	assert.Error(t, err)

	assert.Equal(t, before, a.Current())
}

func TestSimulateRuleChangeImpact_EmptySample(t *testing.T) {
	a := newTestAdapter()

	report, err := a.SimulateRuleChangeImpact(&models.RuleSet{Version: "2024.1", EffectiveDate: "2024-01-01"}, nil, constantProbability)
	require.NoError(t, err)
	assert.Zero(t, report.SampleSize)
	assert.Zero(t, report.MeanDelta)
}
