package main

import (
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/votesmart/undine/internal/config"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile     string
	lockFile       string
	remotePath     string
	lockTimeout    time.Duration
	lockTimeoutSet bool // explicit --lock-timeout, zero included
	dryRun         bool
	verbose        bool
	debug          bool
	jsonOutput     bool
	failOnError    bool
)

var rootCmd = &cobra.Command{
	Use:   "undine",
	Short: "Run borg create for every configured unit and email a summary",
	Long: `undine archives each unit listed in the [units] section of its ini file
with "borg create", one archive per unit per day, then emails a summary of
the results.

Runs are serialized through a lock file, so it is safe to start from cron
or a systemd timer. The configuration is read from ~/.config/undine.ini,
falling back to /etc/undine.ini, unless --config is given.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		lockTimeoutSet = cmd.Flags().Changed("lock-timeout")
		setupLogging()
	},
	RunE:          runBackup,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       Version,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "config file (default ~/.config/undine.ini, then /etc/undine.ini)")
	flags.StringVarP(&lockFile, "lock-file", "l", config.DefaultLockFile, "lock file serializing runs; a lockfile set in the config wins")
	flags.StringVar(&remotePath, "remote-path", "", "borg executable on the remote host")
	flags.DurationVar(&lockTimeout, "lock-timeout", 0, "give up waiting for the lock after this long (0 waits forever)")
	flags.BoolVar(&dryRun, "dry-run", false, "pass -n to borg and send no report")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log progress")
	flags.BoolVarP(&debug, "debug", "d", false, "log borg commands before running them (implies --verbose)")
	flags.BoolVar(&jsonOutput, "json", false, "output logs in JSON format")
	flags.BoolVar(&failOnError, "fail-on-error", false, "exit 2 when any unit fails")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(unitsCmd)
}

func setupLogging() {
	out := os.Stderr
	if jsonOutput {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05",
			NoColor:    !isTerminal(out.Fd()),
		}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(logLevel(verbose, debug))
}

// logLevel maps the verbosity switches to a level. Debug implies verbose.
func logLevel(verbose, debug bool) zerolog.Level {
	switch {
	case debug:
		return zerolog.DebugLevel
	case verbose:
		return zerolog.InfoLevel
	default:
		return zerolog.WarnLevel
	}
}

func isTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
