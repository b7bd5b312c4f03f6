package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/votesmart/undine/internal/models"
	"github.com/votesmart/undine/internal/services/borg"
	"github.com/votesmart/undine/internal/services/ssh"
)

var probeSSH bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the configuration file and check that the borg executable runs,
without taking the lock or archiving anything.`,
	RunE: validateConfig,
}

func init() {
	validateCmd.Flags().BoolVar(&probeSSH, "probe-ssh", false, "also log in to the [ssh_shutdown] host")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	version, err := borg.New(log.Logger).Version(ctx, *cfg)
	if err != nil {
		log.Error().Err(err).Str("borg", cfg.BorgPath).Msg("borg is not runnable")
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(out, "Configuration is valid!")
	_, _ = fmt.Fprintln(out, settingsTable(*cfg, version))

	if len(cfg.Units) > 0 {
		_, _ = fmt.Fprintln(out, unitsTable(*cfg))
	} else {
		_, _ = fmt.Fprintln(out, "No units configured; a run will archive nothing and send no report.")
	}

	if probeSSH && cfg.SSHShutdown != nil {
		result, err := ssh.New(log.Logger).Probe(ctx, *cfg.SSHShutdown)
		if err == nil {
			err = result.Error
		}
		if err != nil {
			log.Error().Err(err).Str("host", cfg.SSHShutdown.Host).Msg("ssh probe failed")
			return err
		}
		_, _ = fmt.Fprintf(out, "SSH login to %s succeeded.\n", cfg.SSHShutdown.Host)
	}

	return nil
}

func settingsTable(cfg models.Config, borgVersion string) string {
	rows := [][]string{
		{"Config file", cfg.ConfigFile},
		{"Repository", cfg.Repos},
		{"Hostname", cfg.Hostname},
		{"Lock file", cfg.LockFile},
		{"Lock timeout", lockTimeoutText(cfg)},
		{"Borg", fmt.Sprintf("%s (%s)", cfg.BorgPath, borgVersion)},
		{"Compression", cfg.Compression},
		{"Remote path", orNone(cfg.RemotePath)},
		{"Notify", cfg.NotifyEmail},
		{"SMTP", fmt.Sprintf("%s:%d tls=%s", cfg.SMTP.Host, cfg.SMTP.Port, strconv.FormatBool(cfg.SMTP.TLS))},
		{"Wake-on-LAN", enabled(cfg.WOL != nil)},
		{"SSH shutdown", enabled(cfg.SSHShutdown != nil)},
		{"Telegram", enabled(cfg.Telegram != nil)},
	}
	return renderTable([]string{"Setting", "Value"}, rows)
}

func lockTimeoutText(cfg models.Config) string {
	if cfg.LockTimeout == 0 {
		return "wait forever"
	}
	return cfg.LockTimeout.String()
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func enabled(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
