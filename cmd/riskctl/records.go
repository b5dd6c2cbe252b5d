package main

import (
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thebtf/inspectrisk/internal/db/gorm"
	"github.com/thebtf/inspectrisk/internal/maintenance"
)

func newRecordsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Manage stored inspection records",
	}
	cmd.AddCommand(newRecordsImportCmd(a), newRecordsListCmd(a), newRecordsPruneCmd(a))
	return cmd
}

func newRecordsImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <records-file>",
		Short: "Store inspection records for retraining and simulation",
		Long:  `Import upserts records by ID. Use "-" to read from stdin.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := readRecords(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			rs := gorm.NewRecordStore(store)
			saved, err := rs.SaveRecords(cmd.Context(), records)
			if err != nil {
				return err
			}
			total, labeled, err := rs.CountRecords(cmd.Context())
			if err != nil {
				return err
			}
			if a.output == "json" {
				return printJSON(a.out, map[string]any{"saved": saved, "total": total, "labeled": labeled})
			}
			fmt.Fprintf(a.out, "saved %d records (%d stored, %d labeled)\n", saved, total, labeled)
			return nil
		},
	}
}

func newRecordsListCmd(a *app) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored inspection records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.storeAvailable() {
				return fmt.Errorf("no database at %s", a.cfg.DatabaseDSN)
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := gorm.NewRecordStore(store).Records(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			if a.output == "json" {
				return printJSON(a.out, records)
			}
			t := newTable(a.out, "ID", "NAME", "THEME", "SIZE", "INSPECTED", "VIOLATIONS", "LABEL")
			for _, r := range records {
				label := "-"
				if r.Label != nil {
					label = strconv.FormatBool(*r.Label)
				}
				t.Append([]string{
					r.ID, r.Name, r.Theme, string(r.SizeClass()), r.InspectionDate,
					strconv.Itoa(len(r.Violations)), label,
				})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum records to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "Records to skip")
	return cmd
}

func newRecordsPruneCmd(a *app) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old assessments and optimize the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days <= 0 {
				return fmt.Errorf("--older-than must be positive, got %d", days)
			}
			if !a.storeAvailable() {
				return fmt.Errorf("no database at %s", a.cfg.DatabaseDSN)
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			svc := maintenance.NewService(gorm.NewRecordStore(store), store, maintenance.Config{RetentionDays: days}, log.Logger)
			pruned := svc.RunNow(cmd.Context())
			st := svc.Stats()
			if a.output == "json" {
				return printJSON(a.out, st)
			}
			if st.Failures > 0 {
				return fmt.Errorf("maintenance finished with %d failures after pruning %d assessments", st.Failures, pruned)
			}
			fmt.Fprintf(a.out, "pruned %d assessments older than %d days\n", pruned, days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "older-than", 90, "Age in days of the assessments to delete")
	return cmd
}
