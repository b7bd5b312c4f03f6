// Package runner orchestrates one undine run: lock, archive every unit, report.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/votesmart/undine/internal/models"
	"github.com/votesmart/undine/internal/services/borg"
	"github.com/votesmart/undine/internal/services/lock"
	"github.com/votesmart/undine/internal/services/mailer"
	"github.com/votesmart/undine/internal/services/ssh"
	"github.com/votesmart/undine/internal/services/telegram"
	"github.com/votesmart/undine/internal/services/wol"
)

// ErrUnitsFailed is returned when at least one unit failed and the
// configuration asks for failures to surface in the exit code.
var ErrUnitsFailed = errors.New("one or more units failed")

// notifyTimeout bounds report delivery once the run context is gone.
const notifyTimeout = time.Minute

// Service defines the interface for the backup runner.
type Service interface {
	Run(ctx context.Context, cfg models.Config) (*models.RunReport, error)
}

// Impl implements the runner Service interface.
type Impl struct {
	lockSvc     lock.Service
	borgSvc     borg.Service
	mailerSvc   mailer.Service
	wolSvc      wol.Service
	sshSvc      ssh.Service
	telegramSvc telegram.Service
	logger      zerolog.Logger
	newID       func() string
}

// New creates a new runner service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		lockSvc:     lock.New(logger),
		borgSvc:     borg.New(logger),
		mailerSvc:   mailer.New(logger),
		wolSvc:      wol.New(logger),
		sshSvc:      ssh.New(logger),
		telegramSvc: telegram.New(logger),
		logger:      logger,
		newID:       uuid.NewString,
	}
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	lockSvc lock.Service,
	borgSvc borg.Service,
	mailerSvc mailer.Service,
	wolSvc wol.Service,
	sshSvc ssh.Service,
	telegramSvc telegram.Service,
) *Impl {
	return &Impl{
		lockSvc:     lockSvc,
		borgSvc:     borgSvc,
		mailerSvc:   mailerSvc,
		wolSvc:      wolSvc,
		sshSvc:      sshSvc,
		telegramSvc: telegramSvc,
		logger:      logger,
		newID:       uuid.NewString,
	}
}

// Run archives every configured unit under the run lock and then delivers
// the summary. A lock failure aborts the run before any unit is touched;
// unit failures never do.
func (s *Impl) Run(ctx context.Context, cfg models.Config) (*models.RunReport, error) {
	report := &models.RunReport{
		RunID:     s.newID(),
		Hostname:  cfg.Hostname,
		Repos:     cfg.Repos,
		DryRun:    cfg.DryRun,
		StartTime: time.Now(),
	}
	logger := s.logger.With().Str("run_id", report.RunID).Logger()

	if err := s.archiveLocked(ctx, logger, cfg, report); err != nil {
		return nil, err
	}
	report.Duration = time.Since(report.StartTime)

	logger.Info().
		Int("succeeded", report.Succeeded()).
		Int("failed", report.Failed()).
		Dur("duration", report.Duration).
		Msg("Complete!")

	if err := s.notify(ctx, logger, cfg, report); err != nil {
		return report, err
	}

	if cfg.FailOnError && report.Failed() > 0 {
		return report, fmt.Errorf("%w: %d of %d", ErrUnitsFailed, report.Failed(), len(report.Results))
	}
	return report, nil
}

// archiveLocked holds the lock for the wake, the unit loop and the shutdown.
func (s *Impl) archiveLocked(ctx context.Context, logger zerolog.Logger, cfg models.Config, report *models.RunReport) error {
	release, err := s.lockSvc.Acquire(ctx, cfg.LockFile, cfg.LockTimeout)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		if err := release(); err != nil {
			logger.Warn().Err(err).Str("lockfile", cfg.LockFile).Msg("failed to release lock")
		}
	}()

	units := cfg.SortedUnits()

	logger.Info().
		Str("repos", cfg.Repos).
		Int("units", len(units)).
		Bool("dry_run", cfg.DryRun).
		Msg("Backing up system...")

	if cfg.WOL != nil && len(units) > 0 {
		if err := s.wake(ctx, logger, cfg.WOL); err != nil {
			for _, unit := range units {
				report.Add(failed(cfg, unit, err))
			}
			return nil
		}
	}

	for _, unit := range units {
		if err := ctx.Err(); err != nil {
			report.Add(failed(cfg, unit, err))
			continue
		}
		report.Add(s.borgSvc.Create(ctx, cfg, unit))
	}

	if cfg.SSHShutdown != nil && !cfg.DryRun && ctx.Err() == nil {
		s.shutdown(ctx, logger, cfg.SSHShutdown)
	}
	return nil
}

func failed(cfg models.Config, unit models.Unit, err error) models.RunResult {
	return models.RunResult{
		Status:  models.StatusFail,
		Unit:    unit.Name,
		Repos:   cfg.Repos,
		ErrText: err.Error(),
	}
}

func (s *Impl) wake(ctx context.Context, logger zerolog.Logger, cfg *models.WOLConfig) error {
	result, err := s.wolSvc.Wake(ctx, *cfg)
	if err != nil {
		return fmt.Errorf("wake repository host: %w", err)
	}
	if result.Error != nil {
		logger.Warn().Err(result.Error).Str("mac", cfg.MACAddress).Msg("repository host did not wake")
		return fmt.Errorf("wake repository host: %w", result.Error)
	}

	logger.Info().
		Bool("host_ready", result.HostReady).
		Dur("wait", result.WaitDuration).
		Msg("repository host awake")
	return nil
}

func (s *Impl) shutdown(ctx context.Context, logger zerolog.Logger, cfg *models.SSHShutdownConfig) {
	result, err := s.sshSvc.Shutdown(ctx, *cfg)
	if err == nil {
		err = result.Error
	}
	if err != nil {
		logger.Warn().Err(err).Str("host", cfg.Host).Msg("failed to shut down repository host")
		return
	}

	logger.Info().
		Str("host", cfg.Host).
		Str("output", result.Output).
		Msg("repository host shutdown scheduled")
}

// notify runs after the lock is released. An interrupted run still gets its
// report out, so delivery does not inherit the run's cancellation.
func (s *Impl) notify(ctx context.Context, logger zerolog.Logger, cfg models.Config, report *models.RunReport) error {
	if !report.ShouldNotify() {
		logger.Debug().
			Bool("dry_run", report.DryRun).
			Int("results", len(report.Results)).
			Msg("no report to send")
		return nil
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if cfg.Telegram != nil {
		result, err := s.telegramSvc.SendReport(notifyCtx, *cfg.Telegram, report)
		if err == nil {
			err = result.Error
		}
		if err != nil {
			logger.Error().Err(err).Msg("failed to send Telegram notification")
		}
	}

	result, err := s.mailerSvc.SendReport(notifyCtx, cfg, report)
	if err == nil {
		err = result.Error
	}
	if err != nil {
		return fmt.Errorf("report to %s: %w", cfg.NotifyEmail, err)
	}
	return nil
}
