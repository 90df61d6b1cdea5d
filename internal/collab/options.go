package collab

import (
	"log/slog"
	"time"
)

type settings struct {
	dir       string
	env       []string
	timeout   time.Duration
	maxOutput int
	logger    *slog.Logger
}

// Option configures a command-backed collaborator.
type Option func(*settings)

// WithDir sets the working directory of the subprocess.
func WithDir(dir string) Option {
	return func(s *settings) { s.dir = dir }
}

// WithEnv adds KEY=VALUE entries to the subprocess environment.
func WithEnv(env ...string) Option {
	return func(s *settings) { s.env = append(s.env, env...) }
}

// WithTimeout bounds each invocation. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithMaxOutput caps captured output per stream.
func WithMaxOutput(n int) Option {
	return func(s *settings) { s.maxOutput = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

func newSettings(opts []Option) settings {
	s := settings{maxOutput: DefaultMaxOutput, logger: slog.Default()}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}
