package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solosage1/amm-challenge-sub000/internal/regiondiff"
	"github.com/solosage1/amm-challenge-sub000/internal/rollback"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "evoloop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1.4, cfg.Loop.ExplorationC)
	assert.Equal(t, 2, cfg.Loop.MaxRetriesOnInvalid)
	assert.Equal(t, 20, cfg.History.MaxHistory)
	assert.Equal(t, 25, cfg.Evolution.Frequency)
	assert.Equal(t, rollback.DefaultThresholds(), cfg.Rollback.Thresholds)
	assert.Equal(t, 10*time.Minute, cfg.Generator.Timeout)
	assert.Equal(t, 30*time.Minute, cfg.Evaluator.Timeout)
	assert.True(t, cfg.Loop.AutoRollback)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
state_dir: /var/lib/evoloop
generator:
  command: [llm-cli, --model, big]
  timeout: 90s
evaluator:
  command: [forge, score, "{candidate}"]
loop:
  exploration_c: 2.0
  wildcard_every: 7
  validation_mode: lenient
  auto_rollback: false
rollback:
  mode: archive_only
  consecutive_invalid: 3
  window: 20
history:
  max_history: 5
`)
	cfg, err := LoadWithEnv(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/evoloop", cfg.StateDir)
	assert.Equal(t, []string{"llm-cli", "--model", "big"}, cfg.Generator.Argv)
	assert.Equal(t, 90*time.Second, cfg.Generator.Timeout)
	assert.Equal(t, 30*time.Minute, cfg.Evaluator.Timeout, "untouched fields keep defaults")
	assert.Equal(t, 7, cfg.Loop.WildcardEvery)
	assert.False(t, cfg.Loop.AutoRollback)
	assert.Equal(t, 3, cfg.Rollback.ConsecutiveInvalid)
	assert.Equal(t, -2.0, cfg.Rollback.SevereRegression)
	assert.Equal(t, 20, cfg.Rollback.Window)
	assert.Equal(t, 5, cfg.History.MaxHistory)

	settings, err := cfg.LoopSettings()
	require.NoError(t, err)
	assert.Equal(t, regiondiff.ModeLenient, settings.ValidationMode)
	assert.Equal(t, 2.0, settings.ExplorationC)

	mode, err := cfg.RollbackMode()
	require.NoError(t, err)
	assert.Equal(t, rollback.ModeArchiveOnly, mode)
	assert.Equal(t, "/var/lib/evoloop/champion_history", cfg.HistoryDir())
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "state_dir: from-file\nloop:\n  wildcard_every: 7\n")
	cfg, err := LoadWithEnv(path, map[string]string{
		"EVOLOOP_STATE_DIR":                  "from-env",
		"EVOLOOP_LOOP_WILDCARD_EVERY":        "3",
		"EVOLOOP_GENERATOR_COMMAND":          "gen --fast",
		"EVOLOOP_ROLLBACK_SEVERE_REGRESSION": "-4.5",
		"EVOLOOP_EVOLUTION_FREQUENCY":        "0",
		"EVOLOOP_EVALUATOR_TIMEOUT":          "45m",
		"UNRELATED_STATE_DIR":                "ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.StateDir)
	assert.Equal(t, 3, cfg.Loop.WildcardEvery)
	assert.Equal(t, []string{"gen", "--fast"}, cfg.Generator.Argv)
	assert.Equal(t, -4.5, cfg.Rollback.SevereRegression)
	assert.Zero(t, cfg.Evolution.Frequency)
	assert.Equal(t, 45*time.Minute, cfg.Evaluator.Timeout)
}

func TestNegativeImprovementThreshold(t *testing.T) {
	path := writeConfig(t, "loop:\n  improvement_threshold: -0.5\n")
	cfg, err := LoadWithEnv(path, nil)
	require.NoError(t, err, "small losses may count as successes")

	settings, err := cfg.LoopSettings()
	require.NoError(t, err)
	assert.Equal(t, -0.5, settings.ImprovementThreshold)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
		want string
	}{
		{"unknown field", "loop:\n  explore: 2\n", nil, "field explore not found"},
		{"bad mode", "loop:\n  validation_mode: loose\n", nil, "ValidationMode"},
		{"bad rollback mode", "rollback:\n  mode: panic\n", nil, "Rollback.Mode"},
		{"span ratio", "evolution:\n  max_span_ratio: 1.5\n", nil, "MaxSpanRatio"},
		{"negative window", "rollback:\n  window: -1\n", nil, "Window"},
		{"bad env", "", map[string]string{"EVOLOOP_LOOP_WILDCARD_EVERY": "often"}, "parse env"},
		{"empty state dir", "state_dir: \"\"\n", nil, "StateDir"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadWithEnv(writeConfig(t, tt.body), tt.env)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadWithEnv(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.Error(t, err)

	// Without an explicit path a missing default file is fine.
	t.Chdir(t.TempDir())
	cfg, err := LoadWithEnv("", nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestResolve(t *testing.T) {
	cfg := Default()
	cfg.StateDir = "/state"
	assert.Equal(t, "/state/ledger.db", cfg.Resolve("ledger.db"))
	assert.Equal(t, "/abs/ledger.db", cfg.Resolve("/abs/ledger.db"))
	assert.Empty(t, cfg.Resolve(""))

	cfg.History.Dir = "archive"
	assert.Equal(t, "/state/archive", cfg.HistoryDir())
}
