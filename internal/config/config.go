// Package config loads loop configuration from an optional YAML file,
// EVOLOOP_* environment variables and defaults, in increasing order of
// precedence: defaults, file, environment. CLI flags are applied by the
// caller on the returned Config.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/solosage1/amm-challenge-sub000/internal/engine"
	"github.com/solosage1/amm-challenge-sub000/internal/evolution"
	"github.com/solosage1/amm-challenge-sub000/internal/regiondiff"
	"github.com/solosage1/amm-challenge-sub000/internal/rollback"
	"github.com/solosage1/amm-challenge-sub000/internal/selector"
	"github.com/solosage1/amm-challenge-sub000/internal/store"
)

// DefaultFile is looked up in the working directory when no file is given.
const DefaultFile = "evoloop.yaml"

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "EVOLOOP_"

// Config is the complete loop configuration.
type Config struct {
	StateDir        string `yaml:"state_dir" env:"STATE_DIR" validate:"required"`
	DefinitionsFile string `yaml:"definitions_file" env:"DEFINITIONS_FILE"`
	LedgerFile      string `yaml:"ledger_file" env:"LEDGER_FILE"`
	MetricsFile     string `yaml:"metrics_file" env:"METRICS_FILE"`

	Generator Command `yaml:"generator" envPrefix:"GENERATOR_"`
	Evaluator Command `yaml:"evaluator" envPrefix:"EVALUATOR_"`

	Loop      Loop      `yaml:"loop" envPrefix:"LOOP_"`
	Rollback  Rollback  `yaml:"rollback" envPrefix:"ROLLBACK_"`
	Evolution Evolution `yaml:"evolution" envPrefix:"EVOLUTION_"`
	History   History   `yaml:"history" envPrefix:"HISTORY_"`
}

// Command configures a collaborator subprocess.
type Command struct {
	Argv    []string      `yaml:"command" env:"COMMAND" envSeparator:" "`
	Dir     string        `yaml:"dir" env:"DIR"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT" validate:"gte=0"`
}

// Loop configures the iteration runner.
type Loop struct {
	ExplorationC         float64       `yaml:"exploration_c" env:"EXPLORATION_C" validate:"gte=0"`
	MaxRetriesOnInvalid  int           `yaml:"max_retries_on_invalid" env:"MAX_RETRIES_ON_INVALID" validate:"gte=0,lte=10"`
	ImprovementThreshold float64       `yaml:"improvement_threshold" env:"IMPROVEMENT_THRESHOLD"`
	WildcardEvery        int           `yaml:"wildcard_every" env:"WILDCARD_EVERY" validate:"gte=0"`
	ValidationMode       string        `yaml:"validation_mode" env:"VALIDATION_MODE" validate:"oneof=strict lenient"`
	AutoRollback         bool          `yaml:"auto_rollback" env:"AUTO_ROLLBACK"`
	StopOnError          bool          `yaml:"stop_on_error" env:"STOP_ON_ERROR"`
	RecentAttempts       int           `yaml:"recent_attempts" env:"RECENT_ATTEMPTS" validate:"gte=0"`
	Delay                time.Duration `yaml:"delay" env:"DELAY" validate:"gte=0"`
}

// Rollback configures the governor.
type Rollback struct {
	Mode                string `yaml:"mode" env:"MODE" validate:"oneof=restore archive_only"`
	rollback.Thresholds `yaml:",inline"`
}

// Evolution configures policy evolution.
type Evolution struct {
	Frequency        int     `yaml:"frequency" env:"FREQUENCY" validate:"gte=0"`
	Window           int     `yaml:"window" env:"WINDOW" validate:"gte=1"`
	MaxNewMechanisms int     `yaml:"max_new_mechanisms" env:"MAX_NEW_MECHANISMS" validate:"gte=0"`
	MaxSpanLines     int     `yaml:"max_span_lines" env:"MAX_SPAN_LINES" validate:"gte=1"`
	MaxSpanRatio     float64 `yaml:"max_span_ratio" env:"MAX_SPAN_RATIO" validate:"gt=0,lte=1"`
	MaxExamples      int     `yaml:"max_examples" env:"MAX_EXAMPLES" validate:"gte=0"`
}

// History configures the champion archive.
type History struct {
	Dir        string `yaml:"dir" env:"DIR"`
	MaxHistory int    `yaml:"max_history" env:"MAX_HISTORY" validate:"gte=0"`
}

// Default returns the built-in configuration.
func Default() Config {
	es := evolution.DefaultSettings()
	return Config{
		StateDir:  ".",
		Generator: Command{Timeout: 10 * time.Minute},
		Evaluator: Command{Timeout: 30 * time.Minute},
		Loop: Loop{
			ExplorationC:        selector.DefaultExploration,
			MaxRetriesOnInvalid: 2,
			ValidationMode:      string(regiondiff.ModeStrict),
			AutoRollback:        true,
			RecentAttempts:      5,
		},
		Rollback: Rollback{
			Mode:       string(rollback.ModeRestore),
			Thresholds: rollback.DefaultThresholds(),
		},
		Evolution: Evolution{
			Frequency:        es.Frequency,
			Window:           es.Window,
			MaxNewMechanisms: es.MaxNewMechanisms,
			MaxSpanLines:     es.MaxSpanLines,
			MaxSpanRatio:     es.MaxSpanRatio,
			MaxExamples:      es.MaxExamples,
		},
		History: History{MaxHistory: 20},
	}
}

// Load reads the configuration from path (or DefaultFile when path is
// empty and the file exists), overlays the process environment and
// validates the result.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, envMap(os.Environ()))
}

// LoadWithEnv is Load with an explicit environment.
func LoadWithEnv(path string, environ map[string]string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decodeYAML(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true) // Reject unknown fields
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func envMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	return m
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and returns every violation.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fieldRule(fe), fe.Value())
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func fieldRule(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

// Resolve returns p relative to the state directory unless it is absolute.
func (c Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.StateDir, p)
}

// HistoryDir returns the champion archive directory.
func (c Config) HistoryDir() string {
	if c.History.Dir != "" {
		return c.Resolve(c.History.Dir)
	}
	return filepath.Join(c.StateDir, store.HistoryDir)
}

// LoopSettings converts the loop section for the runner.
func (c Config) LoopSettings() (engine.Settings, error) {
	mode, err := regiondiff.ParseMode(c.Loop.ValidationMode)
	if err != nil {
		return engine.Settings{}, err
	}
	return engine.Settings{
		ExplorationC:         c.Loop.ExplorationC,
		MaxRetriesOnInvalid:  c.Loop.MaxRetriesOnInvalid,
		ImprovementThreshold: c.Loop.ImprovementThreshold,
		WildcardEvery:        c.Loop.WildcardEvery,
		ValidationMode:       mode,
		AutoRollback:         c.Loop.AutoRollback,
		StopOnError:          c.Loop.StopOnError,
		RecentAttempts:       c.Loop.RecentAttempts,
	}, nil
}

// RollbackMode parses the rollback mode.
func (c Config) RollbackMode() (rollback.Mode, error) {
	return rollback.ParseMode(c.Rollback.Mode)
}

// EvolutionSettings converts the evolution section.
func (c Config) EvolutionSettings() evolution.Settings {
	return evolution.Settings{
		Frequency:        c.Evolution.Frequency,
		Window:           c.Evolution.Window,
		MaxNewMechanisms: c.Evolution.MaxNewMechanisms,
		MaxSpanLines:     c.Evolution.MaxSpanLines,
		MaxSpanRatio:     c.Evolution.MaxSpanRatio,
		MaxExamples:      c.Evolution.MaxExamples,
	}
}
