// Package config provides configuration management functionality.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/aristath/swingbot/internal/domain"
	"github.com/aristath/swingbot/internal/reward"
)

// ErrMissingDatabaseURL is returned when no database connection string is configured
var ErrMissingDatabaseURL = errors.New("DATABASE_URL not set")

// Dow30 is the default trading and training universe
var Dow30 = []string{
	"AXP", "AMGN", "AAPL", "BA", "CAT", "CSCO", "CVX", "GS", "HD", "HON",
	"IBM", "INTC", "JNJ", "KO", "JPM", "MCD", "MMM", "MRK", "MSFT", "NKE",
	"PG", "TRV", "UNH", "CRM", "VZ", "V", "WMT", "DIS", "DOW",
}

// Config holds application configuration
type Config struct {
	DatabaseURL     string // SQLite path or file: URI
	ModelDir        string // Directory holding model artifacts (always absolute)
	Port            int
	LogLevel        string
	LogPretty       bool
	DevMode         bool // disables response compression
	DefaultStrategy domain.Strategy
	MarketDataURL   string
	Universe        []string
	Reward          reward.Config
	Training        TrainingConfig
	Execution       ExecutionConfig
	Artifacts       ArtifactConfig

	// MaintenanceSchedule runs the integrity and disk checks, cron spec with seconds
	MaintenanceSchedule string
}

// TrainingConfig holds retraining cadence and step budgets
type TrainingConfig struct {
	HistoryStart          time.Time
	HistoryEnd            time.Time
	StepsPerSymbol        int
	OnlineTimesteps       int
	StepsPerExperience    int
	OnlinePeriod          string
	MinHistoryRows        int
	MinOnlineRows         int
	FullRetrainInterval   time.Duration
	OnlineExperienceLimit int
	FullExperienceLimit   int
	LearningRate          float64
	Seed                  int64
	RetrainSchedule       string // cron spec with seconds
}

// ExecutionConfig holds live trading loop settings
type ExecutionConfig struct {
	CycleInterval     time.Duration
	ReloadInterval    time.Duration
	ErrorBackoff      time.Duration
	Period            string
	MinRows           int
	ReconcileSchedule string // cron spec with seconds, empty disables the sweep
}

// ArtifactConfig configures the optional S3-compatible artifact mirror
type ArtifactConfig struct {
	Bucket          string
	Prefix          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	BackupSchedule  string // cron spec with seconds for database backups to the bucket
}

// Enabled reports whether a remote mirror is configured
func (a ArtifactConfig) Enabled() bool {
	return a.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := Defaults()
	cfg.DatabaseURL = getEnv("DATABASE_URL", "")
	cfg.ModelDir = getEnv("MODEL_DIR", cfg.ModelDir)
	cfg.Port = getEnvAsInt("PORT", cfg.Port)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogPretty = getEnvAsBool("LOG_PRETTY", cfg.LogPretty)
	cfg.DevMode = getEnvAsBool("DEV_MODE", cfg.DevMode)
	cfg.MarketDataURL = getEnv("MARKET_DATA_URL", cfg.MarketDataURL)
	cfg.Execution.CycleInterval = getEnvAsDuration("CYCLE_INTERVAL", cfg.Execution.CycleInterval)
	cfg.Execution.ReloadInterval = getEnvAsDuration("RELOAD_INTERVAL", cfg.Execution.ReloadInterval)
	cfg.Execution.ReconcileSchedule = getEnv("RECONCILE_SCHEDULE", cfg.Execution.ReconcileSchedule)
	cfg.Training.RetrainSchedule = getEnv("RETRAIN_SCHEDULE", cfg.Training.RetrainSchedule)
	cfg.MaintenanceSchedule = getEnv("MAINTENANCE_SCHEDULE", cfg.MaintenanceSchedule)
	cfg.Artifacts = ArtifactConfig{
		Bucket:          getEnv("ARTIFACT_BUCKET", ""),
		Prefix:          getEnv("ARTIFACT_PREFIX", "models/"),
		Endpoint:        getEnv("ARTIFACT_ENDPOINT", ""),
		Region:          getEnv("ARTIFACT_REGION", "auto"),
		AccessKeyID:     getEnv("ARTIFACT_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("ARTIFACT_SECRET_ACCESS_KEY", ""),
	}

	if s := getEnv("DEFAULT_STRATEGY", ""); s != "" {
		strategy, err := domain.ParseStrategy(s)
		if err != nil {
			return nil, fmt.Errorf("invalid DEFAULT_STRATEGY: %w", err)
		}
		cfg.DefaultStrategy = strategy
	}

	if path := getEnv("SWINGBOT_CONFIG", ""); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return nil, err
		}
	}

	absModelDir, err := filepath.Abs(cfg.ModelDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve model directory path: %w", err)
	}
	cfg.ModelDir = absModelDir

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Defaults returns the documented defaults. DatabaseURL is left empty on purpose.
func Defaults() *Config {
	return &Config{
		ModelDir:        "./models",
		Port:            5000,
		LogLevel:        "info",
		LogPretty:       true,
		DefaultStrategy: domain.StrategySortino,
		MarketDataURL:   "https://query1.finance.yahoo.com",
		Universe:        append([]string(nil), Dow30...),
		Reward:          reward.DefaultConfig(),

		MaintenanceSchedule: "0 0 2 * * *",
		Training: TrainingConfig{
			HistoryStart:          time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC),
			HistoryEnd:            time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			StepsPerSymbol:        5000,
			OnlineTimesteps:       2000,
			StepsPerExperience:    10,
			OnlinePeriod:          "1mo",
			MinHistoryRows:        100,
			MinOnlineRows:         15,
			FullRetrainInterval:   7 * 24 * time.Hour,
			OnlineExperienceLimit: 5000,
			FullExperienceLimit:   10000,
			LearningRate:          0.01,
			Seed:                  42,
			RetrainSchedule:       "0 30 22 * * MON-FRI",
		},
		Execution: ExecutionConfig{
			CycleInterval:     60 * time.Second,
			ReloadInterval:    time.Hour,
			ErrorBackoff:      60 * time.Second,
			Period:            "1mo",
			MinRows:           15,
			ReconcileSchedule: "0 */15 * * * *",
		},
	}
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return ErrMissingDatabaseURL
	}
	if len(c.Universe) == 0 {
		return fmt.Errorf("trading universe is empty")
	}
	if err := c.Reward.Validate(); err != nil {
		return fmt.Errorf("invalid reward config: %w", err)
	}
	if !c.Training.HistoryEnd.After(c.Training.HistoryStart) {
		return fmt.Errorf("training history end must be after start")
	}
	if c.Execution.CycleInterval <= 0 {
		return fmt.Errorf("cycle interval must be positive")
	}
	return nil
}

// fileConfig is the YAML overlay. Unset fields keep their current values.
type fileConfig struct {
	Universe []string `yaml:"universe"`
	Reward   *struct {
		DownsidePenalty *float64 `yaml:"downside_penalty"`
		DownsideSquared *bool    `yaml:"downside_squared"`
		OpportunityCost *float64 `yaml:"opportunity_cost"`
		UpsideBonus     *float64 `yaml:"upside_bonus"`
	} `yaml:"reward"`
	Training *struct {
		HistoryStart        string  `yaml:"history_start"`
		HistoryEnd          string  `yaml:"history_end"`
		StepsPerSymbol      int     `yaml:"steps_per_symbol"`
		OnlineTimesteps     int     `yaml:"online_timesteps"`
		FullRetrainInterval string  `yaml:"full_retrain_interval"`
		LearningRate        float64 `yaml:"learning_rate"`
	} `yaml:"training"`
}

// ApplyFile overlays a YAML configuration file
func (c *Config) ApplyFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(content, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if len(fc.Universe) > 0 {
		universe := make([]string, 0, len(fc.Universe))
		for _, t := range fc.Universe {
			if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
				universe = append(universe, t)
			}
		}
		c.Universe = universe
	}

	if r := fc.Reward; r != nil {
		if r.DownsidePenalty != nil {
			c.Reward.DownsidePenalty = *r.DownsidePenalty
		}
		if r.DownsideSquared != nil {
			c.Reward.DownsideSquared = *r.DownsideSquared
		}
		if r.OpportunityCost != nil {
			c.Reward.OpportunityCost = *r.OpportunityCost
		}
		if r.UpsideBonus != nil {
			c.Reward.UpsideBonus = *r.UpsideBonus
		}
	}

	if t := fc.Training; t != nil {
		if t.HistoryStart != "" {
			start, err := time.Parse("2006-01-02", t.HistoryStart)
			if err != nil {
				return fmt.Errorf("invalid training.history_start: %w", err)
			}
			c.Training.HistoryStart = start
		}
		if t.HistoryEnd != "" {
			end, err := time.Parse("2006-01-02", t.HistoryEnd)
			if err != nil {
				return fmt.Errorf("invalid training.history_end: %w", err)
			}
			c.Training.HistoryEnd = end
		}
		if t.StepsPerSymbol > 0 {
			c.Training.StepsPerSymbol = t.StepsPerSymbol
		}
		if t.OnlineTimesteps > 0 {
			c.Training.OnlineTimesteps = t.OnlineTimesteps
		}
		if t.FullRetrainInterval != "" {
			d, err := time.ParseDuration(t.FullRetrainInterval)
			if err != nil {
				return fmt.Errorf("invalid training.full_retrain_interval: %w", err)
			}
			c.Training.FullRetrainInterval = d
		}
		if t.LearningRate > 0 {
			c.Training.LearningRate = t.LearningRate
		}
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
