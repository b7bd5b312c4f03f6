package main

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/votesmart/undine/internal/config"
	"github.com/votesmart/undine/internal/models"
)

func overrides() config.Overrides {
	return config.Overrides{
		LockFile:       lockFile,
		RemotePath:     remotePath,
		LockTimeout:    lockTimeout,
		LockTimeoutSet: lockTimeoutSet,
		DryRun:         dryRun,
		Verbose:        verbose,
		Debug:          debug,
		FailOnError:    failOnError,
	}
}

// loadConfig resolves, parses and validates the configuration. debug may
// be switched on by the file, so the log level is applied again afterwards.
func loadConfig() (*models.Config, error) {
	path := configFile
	if path == "" {
		var err error
		path, err = config.Locate(config.SearchPaths()...)
		if err != nil {
			var nf *config.NotFoundError
			if errors.As(err, &nf) {
				log.Error().Strs("searched", nf.Paths).Msg("no configuration file")
			}
			return nil, err
		}
	}

	cfg, err := config.NewParser().LoadFile(path, overrides())
	if err != nil {
		log.Error().Err(err).Str("file", path).Msg("failed to load config")
		return nil, err
	}

	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Str("file", path).Msg("invalid configuration")
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	zerolog.SetGlobalLevel(logLevel(cfg.Verbose, cfg.Debug))

	log.Debug().
		Str("config", path).
		Str("repos", cfg.Repos).
		Str("lockfile", cfg.LockFile).
		Int("units", len(cfg.Units)).
		Msg("configuration loaded")

	return cfg, nil
}
