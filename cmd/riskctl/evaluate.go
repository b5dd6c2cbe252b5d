package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/thebtf/inspectrisk/internal/validation"
	"github.com/thebtf/inspectrisk/pkg/models"
)

// DefaultGenerated is the synthetic dataset size used when no records
// file is given.
const DefaultGenerated = 500

// datasetFlags select the records an evaluation runs on.
type datasetFlags struct {
	generate int
	seed     uint64
	folds    int
}

func (d *datasetFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&d.generate, "generate", 0, fmt.Sprintf("Generate a synthetic dataset of this size (default %d without a records file)", DefaultGenerated))
	cmd.Flags().Uint64Var(&d.seed, "seed", 0, "Seed for shuffling and generation (0 keeps the configured seed)")
	cmd.Flags().IntVar(&d.folds, "k", 0, "Number of folds (0 keeps the configured value)")
}

// harness builds the validation harness and loads or generates records.
func (d *datasetFlags) harness(a *app, cmd *cobra.Command, args []string) (*validation.Harness, []models.InspectionRecord, error) {
	if d.folds == 1 || d.folds < 0 {
		return nil, nil, fmt.Errorf("k must be at least 2, got %d", d.folds)
	}

	vc := a.cfg.ValidationConfig()
	if d.seed != 0 {
		vc.Seed = d.seed
	}
	if d.folds > 0 {
		vc.Folds = d.folds
	}
	h := validation.NewHarness(vc)

	var records []models.InspectionRecord
	if len(args) == 1 {
		var err error
		if records, err = readRecords(args[0], cmd.InOrStdin()); err != nil {
			return nil, nil, err
		}
	}
	n := d.generate
	if n == 0 && len(records) == 0 {
		n = DefaultGenerated
	}
	if n > 0 {
		records = append(records, h.GenerateDataset(n)...)
	}
	return h, records, nil
}

func newEvaluateCmd(a *app) *cobra.Command {
	var d datasetFlags

	cmd := &cobra.Command{
		Use:   "evaluate [records-file]",
		Short: "Cross-validate the risk models",
		Long: `Evaluate runs k-fold cross-validation of the logistic regression, the
Gaussian naive Bayes and the conditional probability engine, then ranks
them on accuracy, F1 and AUC. Without a records file a synthetic dataset
is generated.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, records, err := d.harness(a, cmd, args)
			if err != nil {
				return err
			}
			report, err := h.Run(cmd.Context(), records)
			if err != nil {
				return err
			}
			if a.output == "json" {
				return printJSON(a.out, report)
			}
			a.printReport(report)
			return nil
		},
	}
	d.register(cmd)
	return cmd
}

func (a *app) printReport(r *validation.Report) {
	fmt.Fprintf(a.out, "%d records, %d folds, %s\n\n", r.DatasetSize, r.K, r.Duration.Round(time.Millisecond))

	metrics := []string{
		models.MetricAccuracy, models.MetricPrecision, models.MetricRecall,
		models.MetricF1, models.MetricSpecificity, models.MetricAUC, models.MetricBrier,
	}
	header := []string{"MODEL"}
	for _, m := range metrics {
		header = append(header, strings.ToUpper(m))
	}
	t := newTable(a.out, header...)
	for _, agg := range r.Aggregates {
		row := []string{agg.Model}
		for _, m := range metrics {
			s := agg.Metrics[m]
			row = append(row, fmt.Sprintf("%.3f±%.3f", s.Mean, s.Std))
		}
		t.Append(row)
	}
	t.Render()

	fmt.Fprintln(a.out)
	t = newTable(a.out, "RANK", "MODEL", "POINTS")
	for _, rm := range r.Ranking {
		t.Append([]string{strconv.Itoa(rm.Rank), rm.Model, strconv.Itoa(rm.Points)})
	}
	t.Render()
}

func newTuneCmd(a *app) *cobra.Command {
	var (
		d              datasetFlags
		logisticTrials int
		engineTrials   int
	)

	cmd := &cobra.Command{
		Use:   "tune [records-file]",
		Short: "Search model hyperparameters",
		Long: `Tune grid-searches the logistic regression, searches the naive Bayes
decision threshold and random-searches the probability engine, scoring
every trial by mean F1 over the same folds.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, records, err := d.harness(a, cmd, args)
			if err != nil {
				return err
			}
			tuner, err := validation.NewTuner(h, records, validation.TunerConfig{
				MaxLogisticTrials: logisticTrials,
				EngineIterations:  engineTrials,
			})
			if err != nil {
				return err
			}
			report, err := tuner.Run(cmd.Context())
			if err != nil {
				return err
			}
			if a.output == "json" {
				return printJSON(a.out, report)
			}
			a.printTuning(report)
			return nil
		},
	}
	d.register(cmd)
	cmd.Flags().IntVar(&logisticTrials, "logistic-trials", 0, "Maximum logistic grid combinations (0 uses the default)")
	cmd.Flags().IntVar(&engineTrials, "engine-trials", 0, "Random engine configurations (0 uses the default)")
	return cmd
}

func (a *app) printTuning(r *validation.TuningReport) {
	names := make([]string, 0, len(r.Results))
	for name := range r.Results {
		names = append(names, name)
	}
	sort.Strings(names)

	t := newTable(a.out, "MODEL", "TRIALS", "BASELINE F1", "BEST F1", "GAIN", "BEST PARAMS")
	for _, name := range names {
		res := r.Results[name]
		t.Append([]string{
			name, strconv.Itoa(len(res.Trials)),
			fmt.Sprintf("%.4f", res.Baseline), fmt.Sprintf("%.4f", res.BestScore),
			fmt.Sprintf("%+.1f%%", res.RelativeImprovement), formatParams(res.Best),
		})
	}
	t.Render()
	fmt.Fprintf(a.out, "\ncompleted in %s\n", r.Duration.Round(time.Millisecond))
}

func formatParams(p map[string]float64) string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%g", k, p[k]))
	}
	return strings.Join(parts, " ")
}
