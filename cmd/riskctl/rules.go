package main

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/thebtf/inspectrisk/internal/db/gorm"
	"github.com/thebtf/inspectrisk/internal/probability"
	"github.com/thebtf/inspectrisk/internal/rules"
	"github.com/thebtf/inspectrisk/internal/validation"
	"github.com/thebtf/inspectrisk/pkg/models"
)

func newRulesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and update the regulatory rule set",
	}
	cmd.AddCommand(
		newRulesShowCmd(a),
		newRulesHistoryCmd(a),
		newRulesApplyCmd(a),
		newRulesSimulateCmd(a),
	)
	return cmd
}

func newRulesShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the current rule set and its temporal weights",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.newPipeline(cmd.Context())
			if err != nil {
				return err
			}
			current, weights := p.adapter.Current(), p.adapter.Weights()
			if a.output == "json" {
				return printJSON(a.out, map[string]any{"rules": current, "weights": weights})
			}
			printRuleSet(a, current, weights)
			return nil
		},
	}
}

func printRuleSet(a *app, rs *models.RuleSet, w rules.TemporalWeights) {
	fmt.Fprintf(a.out, "version %s, effective %s (%d days, global weight %.3f)\n",
		rs.Version, rs.EffectiveDate, w.DaysSinceEffective, w.Global)
	if rs.Description != "" {
		fmt.Fprintln(a.out, rs.Description)
	}
	fmt.Fprintln(a.out)

	t := newTable(a.out, "SEVERITY", "WEIGHT", "CLOSURE", "CORRECTION DAYS")
	for _, sev := range sortedKeys(rs.CategoryWeights) {
		cw := rs.CategoryWeights[sev]
		t.Append([]string{
			string(sev), fmt.Sprintf("%.2f", cw.Weight), fmt.Sprintf("%.2f", cw.ClosureThreshold),
			strconv.Itoa(cw.CorrectionDelayDays),
		})
	}
	t.Render()

	fmt.Fprintln(a.out)
	t = newTable(a.out, "MULTIPLIER", "KEY", "VALUE")
	appendMultipliers(t, "theme", rs.ThemeMultipliers)
	appendMultipliers(t, "size", rs.SizeMultipliers)
	appendMultipliers(t, "season", rs.SeasonMultipliers)
	t.Render()
}

func appendMultipliers[K ~string](t *tablewriter.Table, kind string, m map[K]float64) {
	for _, k := range sortedKeys(m) {
		t.Append([]string{kind, string(k), fmt.Sprintf("%.2f", m[k])})
	}
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func newRulesHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List replaced rule sets, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.newPipeline(cmd.Context())
			if err != nil {
				return err
			}
			history := p.adapter.History()
			if a.output == "json" {
				return printJSON(a.out, map[string]any{"current": p.adapter.Version(), "history": history})
			}
			t := newTable(a.out, "VERSION", "EFFECTIVE", "REPLACED", "IMPACT", "CHANGES")
			for _, h := range history {
				t.Append([]string{h.Version, h.EffectiveDate, h.ReplacedAt.Format("2006-01-02 15:04"), h.ImpactTag, h.ChangeSummary})
			}
			t.Append([]string{p.adapter.Version(), p.adapter.Current().EffectiveDate, "-", "current", ""})
			t.Render()
			return nil
		},
	}
}

func newRulesApplyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <rules-file>",
		Short: "Validate and store a new rule set",
		Long: `Apply merges the rule file over the stored rules, validates the result
and persists it together with the history entry of the replaced set.
The version must be new.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			proposal, err := readRuleSet(args[0])
			if err != nil {
				return err
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			adapter := rules.NewAdapter(nil)
			adapter.SetStore(gorm.NewRuleStore(store))
			if err := adapter.Restore(cmd.Context()); err != nil {
				return err
			}
			previous := adapter.Version()
			applied, err := adapter.Apply(cmd.Context(), proposal)
			if err != nil {
				return err
			}

			history := adapter.History()
			last := history[len(history)-1]
			if a.output == "json" {
				return printJSON(a.out, map[string]any{"rules": applied, "replaced": last})
			}
			fmt.Fprintf(a.out, "applied %s (replaced %s, impact %s): %s\n", applied.Version, previous, last.ImpactTag, last.ChangeSummary)
			return nil
		},
	}
}

func newRulesSimulateCmd(a *app) *cobra.Command {
	var sample int

	cmd := &cobra.Command{
		Use:   "simulate <rules-file> [records-file]",
		Short: "Preview the effect of a rule proposal",
		Long: `Simulate scores a sample under the current and the proposed rules and
reports the probability shifts. Nothing is stored. Without a records file
the sample comes from the database, or a synthetic dataset when there is
none.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			proposal, err := readRuleSet(args[0])
			if err != nil {
				return err
			}
			p, err := a.newPipeline(cmd.Context())
			if err != nil {
				return err
			}
			if proposal.Version == "" {
				proposal.Version = p.adapter.Version()
			}
			if proposal.EffectiveDate == "" {
				proposal.EffectiveDate = p.adapter.Current().EffectiveDate
			}

			records, err := a.simulationSample(cmd, args[1:], sample)
			if err != nil {
				return err
			}

			engine := probability.NewEngine(a.cfg.EngineConfig())
			report, err := p.adapter.SimulateRuleChangeImpact(proposal, records, func(rec *models.InspectionRecord) float64 {
				return engine.Calculate(rec).Infraction
			})
			if err != nil {
				return err
			}
			if a.output == "json" {
				return printJSON(a.out, report)
			}
			printImpact(a, report)
			return nil
		},
	}
	cmd.Flags().IntVar(&sample, "sample", 200, "Records to draw from the database or generate")
	return cmd
}

func (a *app) simulationSample(cmd *cobra.Command, args []string, n int) ([]models.InspectionRecord, error) {
	if len(args) == 1 {
		return readRecords(args[0], cmd.InOrStdin())
	}
	if a.storeAvailable() {
		store, err := a.openStore()
		if err != nil {
			return nil, err
		}
		defer store.Close()
		records, err := gorm.NewRecordStore(store).Records(cmd.Context(), n, 0)
		if err != nil {
			return nil, err
		}
		if len(records) > 0 {
			return records, nil
		}
	}
	return validation.NewHarness(a.cfg.ValidationConfig()).GenerateDataset(n), nil
}

func printImpact(a *app, r *rules.ImpactReport) {
	fmt.Fprintf(a.out, "%s -> %s (%s): %s\n", r.CurrentVersion, r.ProposedVersion, r.ImpactTag, r.ChangeSummary)
	fmt.Fprintf(a.out, "%d records, %d changed, mean %.4f -> %.4f (%+.4f), max increase %.4f, max decrease %.4f\n",
		r.SampleSize, r.Changed, r.MeanBefore, r.MeanAfter, r.MeanDelta, r.MaxIncrease, r.MaxDecrease)

	changed := make([]rules.RecordImpact, 0, len(r.Records))
	for _, ri := range r.Records {
		if ri.Delta != 0 {
			changed = append(changed, ri)
		}
	}
	if len(changed) == 0 {
		return
	}
	sort.Slice(changed, func(i, j int) bool { return math.Abs(changed[i].Delta) > math.Abs(changed[j].Delta) })
	if len(changed) > 10 {
		changed = changed[:10]
	}

	fmt.Fprintln(a.out)
	t := newTable(a.out, "RECORD", "BEFORE", "AFTER", "DELTA")
	for _, ri := range changed {
		t.Append([]string{ri.RecordID, fmt.Sprintf("%.4f", ri.Before), fmt.Sprintf("%.4f", ri.After), fmt.Sprintf("%+.4f", ri.Delta)})
	}
	t.Render()
}
