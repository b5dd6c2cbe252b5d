package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm/logger"

	"github.com/thebtf/inspectrisk/internal/categorizer"
	"github.com/thebtf/inspectrisk/internal/config"
	"github.com/thebtf/inspectrisk/internal/db/gorm"
	"github.com/thebtf/inspectrisk/internal/probability"
	"github.com/thebtf/inspectrisk/internal/rules"
	"github.com/thebtf/inspectrisk/internal/scoring"
)

// app carries the resolved settings shared by every command.
type app struct {
	cfg        *config.Config
	out        io.Writer
	configPath string
	dsn        string
	rulesFile  string
	logLevel   string
	output     string
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "riskctl",
		Short:         "Restaurant inspection risk scoring",
		Long:          "riskctl scores inspection records, cross-validates the risk models and manages the regulatory rule sets.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Settings file (default ~/.inspectrisk/settings.json)")
	root.PersistentFlags().StringVar(&a.dsn, "db", "", "Database DSN or SQLite path (overrides INSPECTRISK_DATABASE_DSN)")
	root.PersistentFlags().StringVar(&a.rulesFile, "rules", "", "YAML rule set to score with instead of the stored rules")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVarP(&a.output, "output", "o", "table", "Output format: table or json")

	root.AddCommand(
		newScoreCmd(a),
		newEvaluateCmd(a),
		newTuneCmd(a),
		newRulesCmd(a),
		newRecordsCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup loads configuration and configures logging.
func (a *app) setup(cmd *cobra.Command) error {
	a.out = cmd.OutOrStdout()

	path := a.configPath
	if path == "" {
		path = config.SettingsPath()
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.dsn != "" {
		cfg.DatabaseDSN = a.dsn
	}
	if a.rulesFile != "" {
		cfg.RulesFile = a.rulesFile
	}
	if a.logLevel != "" {
		cfg.LogLevel = strings.ToLower(a.logLevel)
	}
	a.cfg = cfg

	switch a.output {
	case "table", "json":
	default:
		return fmt.Errorf("unknown output format %q", a.output)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	// Commands print results on stdout; keep info chatter off by default.
	if a.logLevel == "" && level < zerolog.WarnLevel {
		level = zerolog.WarnLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).Level(level).With().Timestamp().Logger()
	return nil
}

// storeAvailable reports whether the configured database can be opened
// without creating a new SQLite file.
func (a *app) storeAvailable() bool {
	dsn := a.cfg.DatabaseDSN
	if gorm.IsPostgres(dsn) {
		return true
	}
	_, err := os.Stat(dsn)
	return err == nil
}

// openStore opens the configured database, running migrations.
func (a *app) openStore() (*gorm.Store, error) {
	store, err := gorm.NewStore(gorm.Config{
		DSN:      a.cfg.DatabaseDSN,
		MaxConns: a.cfg.MaxConns,
		LogLevel: logger.Silent,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return store, nil
}

// pipeline is an in-process scoring stack.
type pipeline struct {
	engine  *probability.Engine
	adapter *rules.Adapter
	scorer  *scoring.Scorer
}

// newPipeline builds a scorer. Rules come from --rules when given,
// otherwise from the database when one exists, otherwise the defaults.
func (a *app) newPipeline(ctx context.Context) (*pipeline, error) {
	adapter := rules.NewAdapter(nil)

	switch {
	case a.cfg.RulesFile != "":
		rs, err := rules.LoadFile(a.cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		if rs.Version != adapter.Version() {
			if _, err := adapter.Apply(ctx, rs); err != nil {
				return nil, err
			}
		}
	case a.storeAvailable():
		store, err := a.openStore()
		if err != nil {
			return nil, err
		}
		defer store.Close()
		adapter.SetStore(gorm.NewRuleStore(store))
		if err := adapter.Restore(ctx); err != nil {
			return nil, err
		}
		adapter.SetStore(nil)
	}

	engine := probability.NewEngine(a.cfg.EngineConfig())
	cat := categorizer.New(a.cfg.CategorizerConfig())
	if err := cat.SetThresholds(adapter.Current().Thresholds); err != nil {
		return nil, err
	}
	return &pipeline{
		engine:  engine,
		adapter: adapter,
		scorer:  scoring.NewScorer(engine, adapter, cat, scoring.Config{Validation: a.cfg.ValidationConfig()}),
	}, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the riskctl version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}
