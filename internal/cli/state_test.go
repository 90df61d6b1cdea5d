package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/solosage1/amm-challenge-sub000/internal/store"
	"github.com/solosage1/amm-challenge-sub000/internal/testutil"
)

// generatorScript rewrites the requested mechanism of the champion in the
// working directory and prints it as a fenced block.
const generatorScript = "cat >/dev/null\n" +
	"case \"$EVOLOOP_MECHANISM\" in\n" +
	"spread_model) from='price \\* spreadBps / 10000'; to='price * spreadBps / 8000' ;;\n" +
	"inventory) from='inventory += delta;'; to='inventory += delta / 2;' ;;\n" +
	"*) from='amount \\* baseFee / 10000'; to='amount * baseFee / 9000' ;;\n" +
	"esac\n" +
	"echo '```solidity'\n" +
	"sed \"s|$from|$to|\" .best_strategy.sol\n" +
	"echo '```'\n"

// echoGenerator returns the champion unchanged.
const echoGenerator = "cat >/dev/null; echo '```solidity'; cat .best_strategy.sol; echo '```'"

type fixture struct {
	dir    string
	config string
	store  *store.FileStore
}

type fixtureOption func(cfg map[string]any)

func withEdge(edge string) fixtureOption {
	return func(cfg map[string]any) {
		cfg["evaluator"] = map[string]any{
			"command": []string{"/bin/sh", "-c", "echo '{\"edge\": " + edge + "}'"},
		}
	}
}

func withGenerator(script string) fixtureOption {
	return func(cfg map[string]any) {
		cfg["generator"] = map[string]any{
			"command": []string{"/bin/sh", "-c", script},
			"dir":     ".",
		}
	}
}

func withLoop(loop map[string]any) fixtureOption {
	return func(cfg map[string]any) { cfg["loop"] = loop }
}

func withoutCollaborators() fixtureOption {
	return func(cfg map[string]any) {
		delete(cfg, "generator")
		delete(cfg, "evaluator")
	}
}

// newFixture creates a state directory holding the fixture champion and
// definitions, plus a config file pointing at it.
func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	dir := t.TempDir()
	fs := store.NewFileStore(dir)
	require.NoError(t, fs.SaveChampion(testutil.Champion()))
	require.NoError(t, os.WriteFile(fs.DefinitionsPath(), []byte(testutil.DefinitionsJSON), 0o644))

	cfg := map[string]any{
		"state_dir": dir,
		"loop":      map[string]any{"max_retries_on_invalid": 0},
		"evolution": map[string]any{"frequency": 0},
	}
	withGenerator(generatorScript)(cfg)
	withEdge("101.5")(cfg)
	for _, opt := range opts {
		opt(cfg)
	}

	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "evoloop.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	return &fixture{dir: dir, config: path, store: fs}
}

// run executes the CLI and returns the exit code, stdout and stderr.
func (f *fixture) run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--config", f.config, "--log-format", "text"}, args...)
	code := Execute(context.Background(), full, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// runJSON executes the CLI with --format json and decodes the response.
func (f *fixture) runJSON(t *testing.T, data any, args ...string) (int, CLIResponse) {
	t.Helper()
	code, stdout, stderr := f.run(t, append([]string{"--format", "json"}, args...)...)
	var resp CLIResponse
	if data != nil {
		resp.Data = data
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp), "stdout: %s\nstderr: %s", stdout, stderr)
	return code, resp
}

// syncBuffer is a bytes.Buffer safe for a writer and a polling reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
