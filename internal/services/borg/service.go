// Package borg runs the borg backup executable.
package borg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/votesmart/undine/internal/models"
)

// ArchiveDateTemplate is expanded by borg itself, never by undine.
const ArchiveDateTemplate = "{now:%Y-%m-%d}"

// DefaultCompression is used when the configuration names none.
const DefaultCompression = "lz4"

// Service defines the interface for borg operations.
type Service interface {
	Create(ctx context.Context, cfg models.Config, unit models.Unit) models.RunResult
	Version(ctx context.Context, cfg models.Config) (string, error)
}

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	Execute(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// Execute runs a command and returns its stdout and stderr separately.
func (e *DefaultExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Impl implements the Service interface.
type Impl struct {
	executor CommandExecutor
	logger   zerolog.Logger
}

// New creates a new borg service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &DefaultExecutor{},
		logger:   logger,
	}
}

// NewWithExecutor creates a new borg service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, executor CommandExecutor) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
	}
}

// ArchiveName returns the borg archive argument for a unit, e.g.
// "ssh://host/repo::db-{now:%Y-%m-%d}".
func ArchiveName(repos, unit string) string {
	return fmt.Sprintf("%s::%s-%s", repos, unit, ArchiveDateTemplate)
}

// BuildArgs returns the argument vector for "borg create". No shell is
// involved, so unit names and paths are passed through verbatim.
func BuildArgs(cfg models.Config, unit models.Unit) []string {
	args := []string{"create"}

	if cfg.DryRun {
		args = append(args, "-n")
	}
	if cfg.RemotePath != "" {
		args = append(args, "--remote-path="+cfg.RemotePath)
	}

	compression := cfg.Compression
	if compression == "" {
		compression = DefaultCompression
	}

	return append(args, "-C", compression, ArchiveName(cfg.Repos, unit.Name), unit.Path)
}

func executable(cfg models.Config) string {
	if cfg.BorgPath == "" {
		return "borg"
	}
	return cfg.BorgPath
}

// Create archives one unit. Failures are reported in the result, never as
// an error, so the caller can move on to the next unit.
func (s *Impl) Create(ctx context.Context, cfg models.Config, unit models.Unit) models.RunResult {
	name := executable(cfg)
	args := BuildArgs(cfg, unit)

	s.logger.Debug().
		Str("command", name+" "+strings.Join(args, " ")).
		Msg("running")

	start := time.Now()
	_, stderr, err := s.executor.Execute(ctx, name, args...)

	result := models.RunResult{
		Status:   models.StatusSuccess,
		Unit:     unit.Name,
		Repos:    cfg.Repos,
		Duration: time.Since(start),
	}

	if err != nil {
		result.Status = models.StatusFail
		result.ErrText = strings.TrimRight(string(stderr), "\r\n")
		if result.ErrText == "" {
			result.ErrText = err.Error()
		}

		s.logger.Warn().
			Err(err).
			Str("archive", result.Archive()).
			Str("stderr", result.ErrText).
			Msg("error creating archive")

		return result
	}

	s.logger.Info().
		Str("archive", result.Archive()).
		Dur("duration", result.Duration).
		Msg("successfully created archive")

	return result
}

// Version returns the output of "borg --version", confirming the executable
// can be run.
func (s *Impl) Version(ctx context.Context, cfg models.Config) (string, error) {
	name := executable(cfg)
	stdout, stderr, err := s.executor.Execute(ctx, name, "--version")
	if err != nil {
		return "", fmt.Errorf("failed to run %s: %w, output: %s", name, err, strings.TrimSpace(string(stderr)))
	}
	return strings.TrimSpace(string(stdout)), nil
}
