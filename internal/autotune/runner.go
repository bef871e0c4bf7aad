// Package autotune runs the external tuning executable against a profile
// and a window of historical data, and parses its recommendations.
package autotune

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/nightsync/internal/domain"
)

const (
	defaultExecutablePath = "/usr/local/bin/oref0-autotune"
	defaultTimeout        = 300 * time.Second

	outputDirName  = "autotune"
	outputFileName = "autotune_recommendations.json"

	// stderr is captured for diagnostics but capped so a runaway
	// executable cannot inflate error payloads.
	maxStderrLen = 2000

	// killGraceDelay bounds how long Wait blocks after the process group
	// is killed before remaining pipe readers are abandoned.
	killGraceDelay = 2 * time.Second
)

// Runner produces a tuning recommendation from a profile and historical
// data. The subprocess implementation is ExecRunner; tests use scripted
// fakes.
type Runner interface {
	Run(ctx context.Context, profile domain.ProfileStore, data *domain.HistoricalDataset, windowDays int) (*domain.TuningRecommendation, error)
}

// Config holds runner configuration.
type Config struct {
	// ExecutablePath is the tuning executable to invoke.
	ExecutablePath string
	// Timeout bounds the subprocess wall-clock time.
	Timeout time.Duration
	// WorkspaceRoot is where scratch workspaces are created. Empty means
	// the system temp directory.
	WorkspaceRoot string
}

// ExecRunner invokes the tuning executable as a subprocess. Each run gets
// an isolated scratch workspace that is removed on every exit path.
// Failed runs are never retried here: the executable is not guaranteed
// safe to blindly re-run and its failures are structural, not transient.
type ExecRunner struct {
	path      string
	timeout   time.Duration
	workspace string
	log       zerolog.Logger
}

// NewExecRunner creates a subprocess-backed runner.
func NewExecRunner(cfg Config, log zerolog.Logger) *ExecRunner {
	if cfg.ExecutablePath == "" {
		cfg.ExecutablePath = defaultExecutablePath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &ExecRunner{
		path:      cfg.ExecutablePath,
		timeout:   cfg.Timeout,
		workspace: cfg.WorkspaceRoot,
		log:       log.With().Str("component", "autotune").Logger(),
	}
}

// Run executes one tuning run.
func (r *ExecRunner) Run(ctx context.Context, profile domain.ProfileStore, data *domain.HistoricalDataset, windowDays int) (*domain.TuningRecommendation, error) {
	dir, err := os.MkdirTemp(r.workspace, "nightsync-tune-")
	if err != nil {
		return nil, fmt.Errorf("failed to create tuning workspace: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			r.log.Warn().Err(rmErr).Str("dir", dir).Msg("Failed to remove tuning workspace")
		}
	}()

	profileFile, entriesFile, treatmentsFile, err := writeInputs(dir, profile, data)
	if err != nil {
		return nil, err
	}
	if err := os.Mkdir(filepath.Join(dir, outputDirName), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.path,
		"--dir", dir,
		"--ns-entries", entriesFile,
		"--ns-treatments", treatmentsFile,
		"--profile", profileFile,
		"--days", strconv.Itoa(windowDays),
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// The executable is a shell script that spawns children. Killing only
	// the direct child would leave grandchildren holding the output pipes
	// and Wait blocked past the deadline, so cancellation kills the whole
	// process group, with WaitDelay as a backstop for anything that
	// escapes the group.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = killGraceDelay

	r.log.Info().
		Str("executable", r.path).
		Int("days", windowDays).
		Int("entries", len(data.Entries)).
		Int("treatments", len(data.Treatments)).
		Msg("Running tuning analysis")

	runErr := cmd.Run()
	if runErr != nil {
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			return nil, domain.NewError(domain.ErrKindTunerTimeout,
				"tuning run exceeded %s and was terminated", r.timeout)
		case ctx.Err() != nil:
			return nil, domain.WrapError(domain.ErrKindCancelled, ctx.Err(), "tuning run cancelled")
		default:
			var exitErr *exec.ExitError
			if errors.As(runErr, &exitErr) {
				return nil, domain.NewError(domain.ErrKindTunerExecution,
					"tuning executable exited with code %d: %s", exitErr.ExitCode(), truncate(stderr.String(), maxStderrLen))
			}
			return nil, domain.WrapError(domain.ErrKindTunerExecution, runErr, "failed to invoke tuning executable")
		}
	}

	outputFile := filepath.Join(dir, outputDirName, outputFileName)
	content, err := os.ReadFile(outputFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.NewError(domain.ErrKindTunerOutputMissing,
				"tuning executable produced no %s; check that enough valid data was provided", outputFileName)
		}
		return nil, domain.WrapError(domain.ErrKindTunerOutputMissing, err, "failed to read tuning output")
	}

	rec, err := parseRecommendation(content, profile, windowDays)
	if err != nil {
		return nil, err
	}

	r.log.Info().
		Int("basal_entries", len(rec.Basal)).
		Bool("carb_ratio", len(rec.CarbRatio) > 0).
		Bool("sensitivity", len(rec.Sensitivity) > 0).
		Msg("Tuning analysis complete")
	return rec, nil
}

// writeInputs serializes the profile and historical data into the file
// formats the executable expects.
func writeInputs(dir string, profile domain.ProfileStore, data *domain.HistoricalDataset) (profileFile, entriesFile, treatmentsFile string, err error) {
	profileFile = filepath.Join(dir, "profile.json")
	entriesFile = filepath.Join(dir, "entries.json")
	treatmentsFile = filepath.Join(dir, "treatments.json")

	if err = writeJSON(profileFile, profile); err != nil {
		return
	}
	if err = writeJSON(entriesFile, data.Entries); err != nil {
		return
	}
	err = writeJSON(treatmentsFile, data.Treatments)
	return
}

func writeJSON(path string, v interface{}) error {
	content, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
