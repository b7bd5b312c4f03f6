package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/votesmart/undine/internal/services/runner"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Archive every unit and send the summary (the default command)",
	Long: `Run the backup:
1. Take the lock file, waiting while another run holds it
2. Wake the repository host (if [wol] is configured)
3. Run "borg create" once per unit, in name order
4. Shut the repository host down (if [ssh_shutdown] is configured)
5. Release the lock and email the summary (plus Telegram, if configured)

Nothing is reported on a dry run or when no units are configured.`,
	RunE: runBackup,
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	report, err := runner.New(log.Logger).Run(ctx, *cfg)
	switch {
	case errors.Is(err, runner.ErrUnitsFailed):
		log.Warn().Err(err).Msg("backup finished with failures")
		return err
	case err != nil:
		log.Error().Err(err).Msg("backup failed")
		return err
	}

	log.Info().
		Str("run_id", report.RunID).
		Int("succeeded", report.Succeeded()).
		Int("failed", report.Failed()).
		Msg("backup finished")
	return nil
}
