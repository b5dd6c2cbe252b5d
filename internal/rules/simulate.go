package rules

import (
	"fmt"
	"math"

	"github.com/thebtf/inspectrisk/internal/stats"
	"github.com/thebtf/inspectrisk/pkg/models"
)

// changedDelta is the probability change counted as a changed record.
const changedDelta = 0.01

// ProbabilityFunc returns the unadjusted infraction probability of a record.
type ProbabilityFunc func(rec *models.InspectionRecord) float64

// RecordImpact is the effect of a proposed rule set on one record.
type RecordImpact struct {
	RecordID string  `json:"record_id"`
	Before   float64 `json:"before"`
	After    float64 `json:"after"`
	Delta    float64 `json:"delta"`
}

// ImpactReport summarizes a what-if evaluation of proposed rules.
type ImpactReport struct {
	CurrentVersion  string         `json:"current_version"`
	ProposedVersion string         `json:"proposed_version"`
	ImpactTag       string         `json:"impact_tag"`
	ChangeSummary   string         `json:"change_summary"`
	Records         []RecordImpact `json:"records"`
	SampleSize      int            `json:"sample_size"`
	Changed         int            `json:"changed"`
	MeanBefore      float64        `json:"mean_before"`
	MeanAfter       float64        `json:"mean_after"`
	MeanDelta       float64        `json:"mean_delta"`
	MaxIncrease     float64        `json:"max_increase"`
	MaxDecrease     float64        `json:"max_decrease"`
}

// SimulateRuleChangeImpact evaluates the sample under the current rules
// and under proposed, then restores the current rules. The write lock is
// held throughout, so no reader observes the proposed rules, and the
// restore runs even if probability panics; the panic is returned as an
// error. probability must not call back into the adapter.
func (a *Adapter) SimulateRuleChangeImpact(proposed *models.RuleSet, sample []models.InspectionRecord, probability ProbabilityFunc) (report *ImpactReport, err error) {
	if probability == nil {
		return nil, fmt.Errorf("simulate: nil probability function")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	candidate := merge(a.current, proposed)
	if candidate == nil {
		return nil, &models.ValidationError{Field: "rules", Reason: "is nil"}
	}
	// A proposal is a set of changes; missing identity comes from the current rules.
	if candidate.Version == "" {
		candidate.Version = a.current.Version
	}
	if candidate.EffectiveDate == "" {
		candidate.EffectiveDate = a.current.EffectiveDate
	}
	if err := ValidateContent(candidate); err != nil {
		return nil, err
	}

	original := a.current
	defer func() {
		a.current = original
		if r := recover(); r != nil {
			report = nil
			err = fmt.Errorf("simulate: evaluation failed: %v", r)
			a.log.Error().Interface("panic", r).Msg("Simulation evaluation panicked, rules restored")
		}
	}()

	before := make([]float64, len(sample))
	for i := range sample {
		before[i] = a.adjustLocked(a.current, probability(&sample[i]), &sample[i])
	}

	a.current = candidate
	after := make([]float64, len(sample))
	for i := range sample {
		after[i] = a.adjustLocked(a.current, probability(&sample[i]), &sample[i])
	}

	report = &ImpactReport{
		CurrentVersion:  original.Version,
		ProposedVersion: candidate.Version,
		ImpactTag:       impactTag(original, candidate),
		ChangeSummary:   changeSummary(original, candidate),
		SampleSize:      len(sample),
		Records:         make([]RecordImpact, len(sample)),
		MeanBefore:      stats.Mean(before),
		MeanAfter:       stats.Mean(after),
	}
	report.MeanDelta = report.MeanAfter - report.MeanBefore
	for i := range sample {
		d := after[i] - before[i]
		report.Records[i] = RecordImpact{RecordID: sample[i].ID, Before: before[i], After: after[i], Delta: d}
		if math.Abs(d) >= changedDelta {
			report.Changed++
		}
		report.MaxIncrease = math.Max(report.MaxIncrease, d)
		report.MaxDecrease = math.Min(report.MaxDecrease, d)
	}

	a.log.Info().
		Str("current", report.CurrentVersion).
		Str("proposed", report.ProposedVersion).
		Int("sample", report.SampleSize).
		Float64("mean_delta", report.MeanDelta).
		Msg("Simulated rule change")
	return report, nil
}
