package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thebtf/inspectrisk/internal/scoring"
	"github.com/thebtf/inspectrisk/pkg/models"
)

func newScoreCmd(a *app) *cobra.Command {
	var (
		explain bool
		strict  bool
	)

	cmd := &cobra.Command{
		Use:   "score [records-file]",
		Short: "Score inspection records",
		Long: `Score reads inspection records (JSON, JSON lines or YAML; "-" for stdin)
and prints one risk assessment per record followed by batch statistics.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			records, err := readRecords(path, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if len(records) == 0 {
				return fmt.Errorf("no records in %s", path)
			}

			p, err := a.newPipeline(cmd.Context())
			if err != nil {
				return err
			}

			if explain {
				return a.explain(p, records)
			}

			result := p.scorer.ScoreBatch(records)
			if a.output == "json" {
				if err := printJSON(a.out, result); err != nil {
					return err
				}
			} else {
				a.printBatch(result, p.adapter.Version())
			}
			if strict && len(result.Errors) > 0 {
				return fmt.Errorf("%d of %d records could not be scored", len(result.Errors), len(records))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&explain, "explain", false, "Print the pipeline breakdown of every record")
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when any record fails to score")
	return cmd
}

// explain prints per-record components.
func (a *app) explain(p *pipeline, records []models.InspectionRecord) error {
	type explained struct {
		Assessment *models.RiskAssessmentResult `json:"assessment,omitempty"`
		Components *scoring.Components          `json:"components,omitempty"`
		Error      string                       `json:"error,omitempty"`
	}
	out := make([]explained, 0, len(records))
	for i := range records {
		res, comps, err := p.scorer.ScoreComponents(&records[i])
		if err != nil {
			out = append(out, explained{Error: err.Error()})
			continue
		}
		out = append(out, explained{Assessment: res, Components: &comps})
	}
	return printJSON(a.out, out)
}

func (a *app) printBatch(result *scoring.BatchResult, version string) {
	t := newTable(a.out, "ID", "NAME", "CATEGORY", "SCORE", "PRIORITY", "DELAY", "FACTORS")
	for _, r := range result.Results {
		t.Append([]string{
			r.RecordID, r.Name, string(r.Category), fmt.Sprintf("%.1f", r.Score),
			strconv.Itoa(r.Priority), r.InspectionDelay, strings.Join(r.Factors, "; "),
		})
	}
	t.Render()

	for _, e := range result.Errors {
		fmt.Fprintf(a.out, "skipped #%d %s: %s\n", e.Index, e.RecordID, e.Error)
	}

	st := result.Stats
	fmt.Fprintf(a.out, "\nrules %s: %d scored, %d failed, mean %.1f, median %.1f, min %.1f, max %.1f, sd %.1f\n",
		version, st.Count, st.Failed, st.Mean, st.Median, st.Min, st.Max, st.StdDev)
	parts := make([]string, 0, len(models.AllCategories))
	for _, c := range models.AllCategories {
		parts = append(parts, fmt.Sprintf("%s=%d", c, st.Distribution[c]))
	}
	fmt.Fprintf(a.out, "distribution: %s, priority establishments: %d\n", strings.Join(parts, " "), st.PriorityEstablishments)
}
