// Package models contains the data structures used throughout undine.
package models

import (
	"sort"
	"time"
)

// Config holds the resolved configuration for a single run.
type Config struct {
	Debug       bool
	Verbose     bool
	DryRun      bool
	FailOnError bool // report unit failures through the exit code

	Repos       string
	NotifyEmail string
	LockFile    string
	LockTimeout time.Duration // 0 waits forever
	Hostname    string

	BorgPath    string
	RemotePath  string // passed to borg as --remote-path when set
	Compression string

	Units map[string]string // unit name -> source path

	SMTP        SMTPConfig
	WOL         *WOLConfig         // nil if not configured
	SSHShutdown *SSHShutdownConfig // nil if not configured
	Telegram    *TelegramConfig    // nil if not configured

	ConfigFile string
}

// SMTPConfig holds the outbound mail settings for the summary report.
type SMTPConfig struct {
	Host     string
	Port     int
	Login    string // optional
	Password string // optional
	TLS      bool
	From     string
}

// Unit is one named directory archived into the repository.
type Unit struct {
	Name string
	Path string
}

// SortedUnits returns the configured units ordered by name.
func (c Config) SortedUnits() []Unit {
	units := make([]Unit, 0, len(c.Units))
	for name, path := range c.Units {
		units = append(units, Unit{Name: name, Path: path})
	}
	sort.Slice(units, func(i, j int) bool {
		return units[i].Name < units[j].Name
	})
	return units
}
