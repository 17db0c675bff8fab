package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"lamina/internal/pkg/errors"
	"lamina/internal/pkg/logger"
)

// SlicerConfig describes how to reach the external slicing engine. Command
// is the full argv prefix including any sandbox wrappers (xvfb-run,
// dbus-run-session, flatpak run ...); the pipeline treats it as opaque.
type SlicerConfig struct {
	Command          []string
	Timeout          time.Duration
	PreflightTimeout time.Duration
}

// SliceInputs names the paths one slicing run works with. All of them live
// inside the job workspace.
type SliceInputs struct {
	ModelPath   string
	BundlePath  string
	OutDir      string
	SlicesDir   string
	ProjectPath string

	// Optional named profile selectors from the preset/job.
	PrinterProfile  string
	PrintProfile    string
	MaterialProfile string
}

// strategy is one plausible way of asking the engine for output. Strategies
// run in fixed priority order: most complete export first, most degraded
// fallback last.
type strategy struct {
	name string
	args func(in SliceInputs) []string
}

// Attempt records one failed or successful strategy invocation, kept only
// long enough to compose a diagnostic error when everything fails.
type Attempt struct {
	Index    int
	Command  string
	ExitCode int
	LogTail  string
	TimedOut bool
}

// SliceOutcome is a successful (possibly degraded) slicing stage result.
type SliceOutcome struct {
	StrategyUsed   int
	FailedAttempts int
	ProjectOnly    bool
	LogTail        string
	Duration       time.Duration
}

// Slicer drives the external slicing engine through its fallback strategy
// list.
type Slicer struct {
	run Runner
	cfg SlicerConfig
	log *logger.Logger
}

func NewSlicer(run Runner, cfg SlicerConfig, log *logger.Logger) *Slicer {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Minute
	}
	if cfg.PreflightTimeout == 0 {
		cfg.PreflightTimeout = 30 * time.Second
	}
	return &Slicer{run: run, cfg: cfg, log: log.WithComponent("slicer")}
}

func profileArgs(in SliceInputs) []string {
	var args []string
	if in.PrinterProfile != "" {
		args = append(args, "--printer-profile", in.PrinterProfile)
	}
	if in.PrintProfile != "" {
		args = append(args, "--print-profile", in.PrintProfile)
	}
	if in.MaterialProfile != "" {
		args = append(args, "--material-profile", in.MaterialProfile)
	}
	return args
}

// strategies is ordered: explicit layer-export directory, engine-chosen
// layout, generic slice action, and finally a bare project export that at
// least leaves something debuggable behind.
func strategies() []strategy {
	return []strategy{
		{
			name: "export-layers-explicit",
			args: func(in SliceInputs) []string {
				args := []string{
					"--no-gui", "--export-sla", "--export-3mf",
					"--load", in.BundlePath,
					"--output", in.OutDir,
					"--sla-output", in.SlicesDir,
				}
				args = append(args, profileArgs(in)...)
				return append(args, in.ModelPath)
			},
		},
		{
			name: "export-layers-default",
			args: func(in SliceInputs) []string {
				args := []string{
					"--no-gui", "--export-sla", "--export-3mf",
					"--load", in.BundlePath,
					"--output", in.OutDir,
				}
				args = append(args, profileArgs(in)...)
				return append(args, in.ModelPath)
			},
		},
		{
			name: "slice-generic",
			args: func(in SliceInputs) []string {
				args := []string{
					"--no-gui", "--slice",
					"--load", in.BundlePath,
					"--output", in.OutDir,
				}
				args = append(args, profileArgs(in)...)
				return append(args, in.ModelPath)
			},
		},
		{
			name: "export-project-only",
			args: func(in SliceInputs) []string {
				return []string{
					"--no-gui", "--export-3mf",
					"--load", in.BundlePath,
					"--output", in.ProjectPath,
					in.ModelPath,
				}
			},
		},
	}
}

// Slice runs the strategy list in order and returns at the first success.
// If every strategy fails but the project-export target exists on disk the
// outcome is a degraded success; downstream discovery then decides whether
// anything usable was produced.
func (s *Slicer) Slice(ctx context.Context, in SliceInputs) (*SliceOutcome, error) {
	if err := s.preflight(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	var attempts []Attempt

	for i, st := range strategies() {
		argv := append(append([]string{}, s.cfg.Command...), st.args(in)...)
		s.log.Debug("slicing attempt", "strategy", st.name, "index", i)

		res, err := s.run.Run(ctx, Invocation{Argv: argv, Timeout: s.cfg.Timeout})
		if err != nil {
			// The engine started fine in preflight, so a start failure
			// here is an invocation problem, not infrastructure.
			return nil, errors.WrapWithCode(err, errors.KindEngineInvocationFailure,
				"pipeline.slice", fmt.Sprintf("strategy %q could not start", st.name))
		}

		att := Attempt{
			Index:    i,
			Command:  st.name + ": " + strings.Join(argv, " "),
			ExitCode: res.ExitCode,
			LogTail:  res.LogTail,
			TimedOut: res.TimedOut,
		}
		attempts = append(attempts, att)

		if res.TimedOut {
			// A hung engine costs the full timeout per attempt; do not
			// burn it three more times on the remaining strategies.
			return nil, errors.Newf(errors.KindEngineTimeout,
				"strategy %q exceeded %s; log tail: %s", st.name, s.cfg.Timeout, res.LogTail)
		}

		if res.ExitCode == 0 {
			return &SliceOutcome{
				StrategyUsed:   i,
				FailedAttempts: len(attempts) - 1,
				ProjectOnly:    false,
				LogTail:        res.LogTail,
				Duration:       time.Since(start),
			}, nil
		}

		s.log.Warn("slicing strategy failed",
			"strategy", st.name,
			"exit_code", res.ExitCode,
		)
	}

	// Every strategy failed. The last one only asks for a project file; if
	// that landed on disk anyway, downstream stages search harder before
	// giving up.
	if fileExists(in.ProjectPath) {
		last := attempts[len(attempts)-1]
		return &SliceOutcome{
			StrategyUsed:   last.Index,
			FailedAttempts: len(attempts) - 1,
			ProjectOnly:    true,
			LogTail:        last.LogTail,
			Duration:       time.Since(start),
		}, nil
	}

	return nil, errors.New(errors.KindEngineInvocationFailure, describeAttempts(attempts))
}

// preflight distinguishes "engine cannot start at all" from "this job's
// flags were rejected"; the two imply different remediation.
func (s *Slicer) preflight(ctx context.Context) error {
	argv := append(append([]string{}, s.cfg.Command...), "--help")
	res, err := s.run.Run(ctx, Invocation{Argv: argv, Timeout: s.cfg.PreflightTimeout})
	if err != nil {
		return errors.WrapWithCode(err, errors.KindEngineBootFailure,
			"pipeline.slice", "slicing engine did not start")
	}
	if res.TimedOut || res.ExitCode != 0 {
		return errors.Newf(errors.KindEngineBootFailure,
			"slicing engine preflight exit=%d timeout=%v; log tail: %s",
			res.ExitCode, res.TimedOut, res.LogTail)
	}
	return nil
}

func describeAttempts(attempts []Attempt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "all %d slicing strategies failed", len(attempts))
	for _, a := range attempts {
		fmt.Fprintf(&b, "; [%d] %s exit=%d", a.Index, a.Command, a.ExitCode)
		if tail := strings.TrimSpace(a.LogTail); tail != "" {
			fmt.Fprintf(&b, " tail=%q", truncate(tail, 400))
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
