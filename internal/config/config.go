// Package config provides configuration management for inspectrisk.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/thebtf/inspectrisk/internal/categorizer"
	"github.com/thebtf/inspectrisk/internal/classifier"
	"github.com/thebtf/inspectrisk/internal/probability"
	"github.com/thebtf/inspectrisk/internal/validation"
)

const (
	// DefaultWorkerPort is the default HTTP port for the worker service.
	DefaultWorkerPort = 38080

	// DefaultLogLevel is used when no level is configured.
	DefaultLogLevel = "info"

	envPrefix = "INSPECTRISK_"
)

// Config holds the application configuration.
type Config struct {
	// Worker settings
	WorkerPort int    `json:"worker_port"`
	LogLevel   string `json:"log_level"`
	AuthToken  string `json:"auth_token"` // Required on mutating API calls when set

	// Database settings
	DatabaseDSN string `json:"database_dsn"`
	MaxConns    int    `json:"max_conns"`

	// Rule settings
	RulesFile  string `json:"rules_file"`  // YAML rule set loaded at startup, empty for defaults
	WatchRules bool   `json:"watch_rules"` // Reload RulesFile when it changes

	// Validation settings
	Folds   int    `json:"folds"`
	Workers int    `json:"workers"`
	Seed    uint64 `json:"seed"` // 0 draws a fresh seed per run

	// Categorizer settings
	CategorizerWindow int `json:"categorizer_window"`
	RecalibrateEvery  int `json:"recalibrate_every"`

	// Probability engine settings
	EngineLogSize     int     `json:"engine_log_size"`
	DecisionThreshold float64 `json:"decision_threshold"`

	// Logistic regression settings
	LearningRate   float64 `json:"learning_rate"`
	Iterations     int     `json:"iterations"`
	Regularization float64 `json:"regularization"`

	// Gaussian naive Bayes settings
	Smoothing         float64 `json:"smoothing"`
	GaussianThreshold float64 `json:"gaussian_threshold"`

	// Baseline retraining from stored labeled records, 0 disables
	RetrainInterval time.Duration `json:"retrain_interval"`

	// Maintenance settings
	MaintenanceInterval     time.Duration `json:"maintenance_interval"` // 0 disables
	AssessmentRetentionDays int           `json:"assessment_retention_days"`
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// DataDir returns the data directory path (~/.inspectrisk).
func DataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".inspectrisk")
}

// DBPath returns the default SQLite database path.
func DBPath() string {
	return filepath.Join(DataDir(), "inspectrisk.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// EnsureSettings creates a default settings file if it doesn't exist.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	defaultSettings := `{
  "INSPECTRISK_WORKER_PORT": 38080,
  "INSPECTRISK_LOG_LEVEL": "info",
  "INSPECTRISK_FOLDS": 5,
  "INSPECTRISK_CATEGORIZER_WINDOW": 50,
  "INSPECTRISK_RECALIBRATE_EVERY": 10
}
`
	return os.WriteFile(path, []byte(defaultSettings), 0600)
}

// EnsureAll ensures all required directories and files exist.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// Default returns a Config with default values.
func Default() *Config {
	lc := classifier.DefaultLogisticConfig()
	gc := classifier.DefaultGaussianConfig()
	ec := probability.DefaultConfig()
	return &Config{
		WorkerPort:        DefaultWorkerPort,
		LogLevel:          DefaultLogLevel,
		DatabaseDSN:       DBPath(),
		MaxConns:          4,
		Folds:             validation.DefaultFolds,
		CategorizerWindow: categorizer.DefaultWindow,
		RecalibrateEvery:  categorizer.DefaultRecalibrateEvery,
		EngineLogSize:     ec.LogSize,
		DecisionThreshold: ec.DecisionThreshold,
		LearningRate:      lc.LearningRate,
		Iterations:        validation.DefaultCVIterations,
		Regularization:    lc.Regularization,
		Smoothing:         gc.Smoothing,
		GaussianThreshold: gc.Threshold,
		RetrainInterval:   time.Hour,

		MaintenanceInterval:     24 * time.Hour,
		AssessmentRetentionDays: 90,
	}
}

// Load loads configuration from the settings file, merging with defaults,
// then applies environment overrides.
func Load() (*Config, error) {
	return LoadFrom(SettingsPath())
}

// LoadFrom is Load with an explicit settings path.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var settings map[string]interface{}
		if jsonErr := json.Unmarshal(data, &settings); jsonErr == nil {
			cfg.apply(settings)
		}
	case !os.IsNotExist(err):
		return nil, err
	}

	cfg.applyEnv(os.Getenv)
	return cfg, nil
}

// apply maps settings keys onto the config. Out-of-range values keep the
// current value.
func (c *Config) apply(settings map[string]interface{}) {
	num := func(key string) (float64, bool) {
		v, ok := settings[envPrefix+key].(float64)
		return v, ok
	}
	str := func(key string) (string, bool) {
		v, ok := settings[envPrefix+key].(string)
		return v, ok && v != ""
	}

	if v, ok := num("WORKER_PORT"); ok && v > 0 {
		c.WorkerPort = int(v)
	}
	if v, ok := str("LOG_LEVEL"); ok {
		c.LogLevel = strings.ToLower(v)
	}
	if v, ok := str("AUTH_TOKEN"); ok {
		c.AuthToken = v
	}
	if v, ok := str("DATABASE_DSN"); ok {
		c.DatabaseDSN = v
	}
	if v, ok := num("MAX_CONNS"); ok && v > 0 {
		c.MaxConns = int(v)
	}
	if v, ok := str("RULES_FILE"); ok {
		c.RulesFile = v
	}
	if v, ok := settings[envPrefix+"WATCH_RULES"].(bool); ok {
		c.WatchRules = v
	}
	if v, ok := num("FOLDS"); ok && v >= 2 {
		c.Folds = int(v)
	}
	if v, ok := num("WORKERS"); ok && v > 0 {
		c.Workers = int(v)
	}
	if v, ok := num("SEED"); ok && v >= 0 {
		c.Seed = uint64(v)
	}
	if v, ok := num("CATEGORIZER_WINDOW"); ok && v > 0 {
		c.CategorizerWindow = int(v)
	}
	if v, ok := num("RECALIBRATE_EVERY"); ok && v > 0 {
		c.RecalibrateEvery = int(v)
	}
	if v, ok := num("ENGINE_LOG_SIZE"); ok && v > 0 {
		c.EngineLogSize = int(v)
	}
	if v, ok := num("DECISION_THRESHOLD"); ok && v > 0 && v < 1 {
		c.DecisionThreshold = v
	}
	if v, ok := num("LEARNING_RATE"); ok && v > 0 {
		c.LearningRate = v
	}
	if v, ok := num("ITERATIONS"); ok && v > 0 {
		c.Iterations = int(v)
	}
	if v, ok := num("REGULARIZATION"); ok && v >= 0 {
		c.Regularization = v
	}
	if v, ok := num("SMOOTHING"); ok && v >= 0 {
		c.Smoothing = v
	}
	if v, ok := num("GAUSSIAN_THRESHOLD"); ok && v > 0 && v < 1 {
		c.GaussianThreshold = v
	}
	if v, ok := str("RETRAIN_INTERVAL"); ok {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			c.RetrainInterval = d
		}
	}
	if v, ok := str("MAINTENANCE_INTERVAL"); ok {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			c.MaintenanceInterval = d
		}
	}
	if v, ok := num("ASSESSMENT_RETENTION_DAYS"); ok && v >= 0 {
		c.AssessmentRetentionDays = int(v)
	}
}

// applyEnv applies the environment overrides.
func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(envPrefix + "WORKER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.WorkerPort = p
		}
	}
	if v := getenv(envPrefix + "DATABASE_DSN"); v != "" {
		c.DatabaseDSN = v
	}
	if v := getenv(envPrefix + "RULES_FILE"); v != "" {
		c.RulesFile = v
	}
	if v := getenv(envPrefix + "LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := getenv(envPrefix + "AUTH_TOKEN"); v != "" {
		c.AuthToken = v
	}
}

// Get returns the global configuration, loading it if necessary.
func Get() *Config {
	configOnce.Do(func() {
		var err error
		globalConfig, err = Load()
		if err != nil {
			globalConfig = Default()
		}
	})

	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// ValidationConfig returns the harness configuration.
func (c *Config) ValidationConfig() validation.Config {
	vc := validation.DefaultConfig()
	vc.Folds = c.Folds
	if c.Workers > 0 {
		vc.Workers = c.Workers
	}
	vc.Seed = c.Seed
	vc.Logistic = c.LogisticConfig()
	vc.Gaussian = classifier.GaussianConfig{Smoothing: c.Smoothing, Threshold: c.GaussianThreshold}
	vc.Engine = c.EngineConfig()
	vc.Engine.LogSize = 1
	return vc
}

// LogisticConfig returns the logistic regression hyperparameters.
func (c *Config) LogisticConfig() classifier.LogisticConfig {
	lc := classifier.DefaultLogisticConfig()
	lc.LearningRate = c.LearningRate
	lc.Iterations = c.Iterations
	lc.Regularization = c.Regularization
	return lc
}

// EngineConfig returns the probability engine configuration.
func (c *Config) EngineConfig() probability.Config {
	ec := probability.DefaultConfig()
	ec.DecisionThreshold = c.DecisionThreshold
	ec.LogSize = c.EngineLogSize
	return ec
}

// CategorizerConfig returns the categorizer configuration.
func (c *Config) CategorizerConfig() categorizer.Config {
	cc := categorizer.DefaultConfig()
	cc.Window = c.CategorizerWindow
	cc.RecalibrateEvery = c.RecalibrateEvery
	return cc
}
