// Package config loads the collective's tunables: defaults, then a YAML
// file, then environment overrides, validated against an embedded schema.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/talgya/collective/internal/agents"
	"github.com/talgya/collective/internal/economy"
	"github.com/talgya/collective/internal/engine"
	"github.com/talgya/collective/internal/world"
)

//go:embed schema.json
var schemaJSON string

// DefaultFile is the path checked when no config file is given.
const DefaultFile = "collective.yaml"

// LevelConfig shapes the generated home level.
type LevelConfig struct {
	Radius     int     `yaml:"radius" json:"radius"`
	CoreRadius int     `yaml:"core_radius" json:"core_radius"`
	WaterLevel float64 `yaml:"water_level" json:"water_level"`
	RockLevel  float64 `yaml:"rock_level" json:"rock_level"`
}

// SchedulerConfig holds the scheduler delays, all in ticks.
type SchedulerConfig struct {
	BuildDelay     uint64 `yaml:"build_delay" json:"build_delay"`
	TaskRetryDelay uint64 `yaml:"task_retry_delay" json:"task_retry_delay"`
	ThreatRadius   int    `yaml:"threat_radius" json:"threat_radius"`
	ThreatDuration uint64 `yaml:"threat_duration" json:"threat_duration"`
	ActivityTicks  int    `yaml:"activity_ticks" json:"activity_ticks"`
	AlarmDuration  uint64 `yaml:"alarm_duration" json:"alarm_duration"`
}

// StorageConfig locates the state database and tick log.
type StorageConfig struct {
	DBPath     string `yaml:"db_path" json:"db_path"`
	TickLogDir string `yaml:"tick_log_dir" json:"tick_log_dir"` // Empty disables the tick log
	SaveEvery  uint64 `yaml:"save_every" json:"save_every"`     // Ticks between saves; 0 = daily
}

// APIConfig configures the status server.
type APIConfig struct {
	Port      int    `yaml:"port" json:"port"` // 0 disables the server
	AdminKey  string `yaml:"admin_key" json:"admin_key,omitempty"`
	RateLimit int    `yaml:"rate_limit" json:"rate_limit"` // Order requests per minute per client
}

// Config is the complete configuration.
type Config struct {
	Seed           int64                `yaml:"seed" json:"seed"`
	LogLevel       string               `yaml:"log_level" json:"log_level"`
	TickInterval   time.Duration        `yaml:"tick_interval" json:"tick_interval"`
	Level          LevelConfig          `yaml:"level" json:"level"`
	Scheduler      SchedulerConfig      `yaml:"scheduler" json:"scheduler"`
	Recruit        economy.CostSchedule `yaml:"recruit" json:"recruit"`
	Research       economy.CostSchedule `yaml:"research" json:"research"`
	Rates          agents.Rates         `yaml:"rates" json:"rates"`
	ResourceProtos map[string]string    `yaml:"resource_protos" json:"resource_protos,omitempty"`
	StartingCredit map[string]int       `yaml:"starting_credit" json:"starting_credit,omitempty"`
	StartingAgents map[string]int       `yaml:"starting_agents" json:"starting_agents,omitempty"`
	Storage        StorageConfig        `yaml:"storage" json:"storage"`
	API            APIConfig            `yaml:"api" json:"api"`
}

// Default returns the built-in configuration.
func Default() Config {
	opts := engine.DefaultOptions()
	gen := world.DefaultGenConfig()
	return Config{
		Seed:         opts.Seed,
		LogLevel:     "info",
		TickInterval: time.Second,
		Level: LevelConfig{
			Radius:     gen.Radius,
			CoreRadius: gen.CoreRadius,
			WaterLevel: gen.WaterLevel,
			RockLevel:  gen.RockLevel,
		},
		Scheduler: SchedulerConfig{
			BuildDelay:     opts.BuildDelay,
			TaskRetryDelay: opts.TaskRetryDelay,
			ThreatRadius:   opts.ThreatRadius,
			ThreatDuration: opts.ThreatDuration,
			ActivityTicks:  opts.ActivityTicks,
			AlarmDuration:  opts.AlarmDuration,
		},
		Recruit:        opts.RecruitSchedule,
		Research:       opts.ResearchSchedule,
		Rates:          opts.Rates,
		StartingCredit: map[string]int{"gold": 100, "mana": 60},
		StartingAgents: map[string]int{"leader": 1, "worker": 4, "minion": 2},
		Storage:        StorageConfig{DBPath: "data/collective.db", TickLogDir: "data/ticklog"},
		API:            APIConfig{Port: 8080, RateLimit: 30},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if err := loadYAML(&cfg, path); err != nil {
		return Config{}, fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config validate: %w", err)
	}
	return cfg, nil
}

func loadYAML(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("no config file, using defaults", "path", path)
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("COLLECTIVE_DB"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("COLLECTIVE_ADMIN_KEY"); v != "" {
		cfg.API.AdminKey = v
	}
	if v := os.Getenv("COLLECTIVE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v, err := strconv.Atoi(os.Getenv("COLLECTIVE_PORT")); err == nil {
		cfg.API.Port = v
	}
	if v, err := strconv.ParseInt(os.Getenv("COLLECTIVE_SEED"), 10, 64); err == nil {
		cfg.Seed = v
	}
}

var schema = jsonschema.MustCompileString("schema.json", schemaJSON)

// Validate checks cfg against the embedded schema and the cross-field rules
// the schema cannot express.
func Validate(cfg Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return err
	}
	if cfg.Level.CoreRadius >= cfg.Level.Radius {
		return fmt.Errorf("level: core_radius %d must be smaller than radius %d", cfg.Level.CoreRadius, cfg.Level.Radius)
	}
	if _, err := agents.NewArchetypes(cfg.Rates); err != nil {
		return fmt.Errorf("rates: %w", err)
	}
	return nil
}

// Options maps the configuration onto the collective's tunables.
func (c Config) Options() (engine.Options, error) {
	opts := engine.DefaultOptions()
	opts.Seed = c.Seed
	opts.BuildDelay = c.Scheduler.BuildDelay
	opts.TaskRetryDelay = c.Scheduler.TaskRetryDelay
	opts.ThreatRadius = c.Scheduler.ThreatRadius
	opts.ThreatDuration = c.Scheduler.ThreatDuration
	if c.Scheduler.ActivityTicks > 0 {
		opts.ActivityTicks = c.Scheduler.ActivityTicks
	}
	opts.AlarmDuration = c.Scheduler.AlarmDuration
	opts.RecruitSchedule = c.Recruit
	opts.ResearchSchedule = c.Research
	opts.Rates = c.Rates
	for name, proto := range c.ResourceProtos {
		k, err := economy.ParseResourceKind(name)
		if err != nil {
			return engine.Options{}, fmt.Errorf("resource_protos: %w", err)
		}
		opts.Catalog[k].Proto = proto
	}
	return opts, nil
}

// GenConfig returns the level generation parameters.
func (c Config) GenConfig() world.GenConfig {
	gen := world.DefaultGenConfig()
	gen.Seed = c.Seed
	gen.Radius = c.Level.Radius
	gen.CoreRadius = c.Level.CoreRadius
	if c.Level.WaterLevel > 0 {
		gen.WaterLevel = c.Level.WaterLevel
	}
	if c.Level.RockLevel > 0 {
		gen.RockLevel = c.Level.RockLevel
	}
	return gen
}

// Credits returns the starting credit balances by kind.
func (c Config) Credits() (map[economy.ResourceKind]int, error) {
	out := make(map[economy.ResourceKind]int, len(c.StartingCredit))
	for name, n := range c.StartingCredit {
		k, err := economy.ParseResourceKind(name)
		if err != nil {
			return nil, fmt.Errorf("starting_credit: %w", err)
		}
		out[k] = n
	}
	return out, nil
}

// Population returns the starting agent counts by category.
func (c Config) Population() (map[agents.Category]int, error) {
	out := make(map[agents.Category]int, len(c.StartingAgents))
	for name, n := range c.StartingAgents {
		cat, err := agents.ParseCategory(name)
		if err != nil {
			return nil, fmt.Errorf("starting_agents: %w", err)
		}
		out[cat] = n
	}
	return out, nil
}

// SlogLevel maps LogLevel to a slog level.
func (c Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
