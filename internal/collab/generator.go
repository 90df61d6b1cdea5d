package collab

import (
	"context"
	"strings"
)

// Prompt kinds passed to the generator.
const (
	KindMechanism = "mechanism"
	KindWildcard  = "wildcard"
	KindRetry     = "retry"
	KindEvolution = "evolution"
)

// Environment variables set for the generator subprocess.
const (
	EnvPromptKind     = "EVOLOOP_PROMPT_KIND"
	EnvMechanism      = "EVOLOOP_MECHANISM"
	EnvArtifactPrefix = "EVOLOOP_ARTIFACT_PREFIX"
)

// Request is one generation call.
type Request struct {
	Prompt string
	Kind   string
	// Mechanism is the targeted mechanism, empty for wildcard and
	// evolution prompts.
	Mechanism string
	// ArtifactPrefix is where the caller files artifacts for this call. The
	// generator may use it for its own transcripts.
	ArtifactPrefix string
}

// Generator turns a prompt into a raw response.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// CommandGenerator runs an external command with the prompt on stdin and
// returns its stdout.
type CommandGenerator struct {
	argv []string
	s    settings
}

// NewCommandGenerator returns a generator running argv.
func NewCommandGenerator(argv []string, opts ...Option) *CommandGenerator {
	return &CommandGenerator{argv: append([]string(nil), argv...), s: newSettings(opts)}
}

// Generate implements Generator.
func (g *CommandGenerator) Generate(ctx context.Context, req Request) (string, error) {
	env := append([]string(nil), g.s.env...)
	env = append(env,
		EnvPromptKind+"="+req.Kind,
		EnvMechanism+"="+req.Mechanism,
		EnvArtifactPrefix+"="+req.ArtifactPrefix)

	res, err := run(ctx, "generate", Command{
		Argv:    g.argv,
		Dir:     g.s.dir,
		Env:     env,
		Stdin:   req.Prompt,
		Timeout: g.s.timeout,
	}, g.s.maxOutput, g.s.logger)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(res.Stdout) == "" {
		e := newError("generate", CodeEmpty, "generator produced no output", nil)
		e.Stderr = tail(res.Stderr)
		return "", e
	}
	return res.Stdout, nil
}
