// Package config locates and parses the undine ini configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/votesmart/undine/internal/models"
	"gopkg.in/ini.v1"
)

// Defaults applied when a key is absent from the configuration file.
const (
	DefaultRepos       = "ssh://rsync//data1/home/9774/file0.ia.votesmart.org"
	DefaultNotifyEmail = "root@votesmart.org"
	DefaultLockFile    = "/tmp/undine.lock"
	DefaultBorgPath    = "borg"
	DefaultCompression = "lz4"
	DefaultSMTPHost    = "localhost"
	DefaultSMTPPort    = 589
	SystemConfigPath   = "/etc/undine.ini"
	userConfigRelPath  = ".config/undine.ini"
)

// ErrConfigNotFound is returned when no configuration file exists at any
// of the searched locations.
var ErrConfigNotFound = errors.New("configuration not found")

// NotFoundError lists the locations that were searched.
type NotFoundError struct {
	Paths []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("could not find configuration ini file at %s", strings.Join(e.Paths, " or "))
}

func (e *NotFoundError) Unwrap() error {
	return ErrConfigNotFound
}

// SearchPaths returns the configuration locations in priority order: the
// user file first, then the system file.
func SearchPaths() []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		paths = append(paths, filepath.Join(home, userConfigRelPath))
	}
	return append(paths, SystemConfigPath)
}

// Locate returns the first path that names an existing regular file. Later
// paths are never consulted once one matches.
func Locate(paths ...string) (string, error) {
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if info.Mode().IsRegular() {
			return p, nil
		}
	}
	return "", &NotFoundError{Paths: paths}
}

// Overrides are the command-line values layered on top of the file.
type Overrides struct {
	LockFile       string // always set; the flag carries a default
	RemotePath     string
	LockTimeout    time.Duration
	LockTimeoutSet bool // LockTimeout was given explicitly, even as zero
	DryRun         bool
	Verbose        bool
	Debug          bool
	FailOnError    bool
}

// Parser handles configuration file parsing. Values are read through viper;
// the raw ini file answers section presence and boolean spellings.
type Parser struct {
	v   *viper.Viper
	raw *ini.File
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("ini")
	return &Parser{v: v}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string, ov Overrides) (*models.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := p.load(data); err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg, err := p.parse(ov)
	if err != nil {
		return nil, err
	}
	cfg.ConfigFile = path
	return cfg, nil
}

// LoadReader loads configuration from a string (useful for testing).
func (p *Parser) LoadReader(content string, ov Overrides) (*models.Config, error) {
	if err := p.load([]byte(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse(ov)
}

func (p *Parser) load(data []byte) error {
	raw, err := ini.LoadSources(ini.LoadOptions{Insensitive: true}, data)
	if err != nil {
		return err
	}
	if err := p.v.ReadConfig(bytes.NewReader(data)); err != nil {
		return err
	}
	p.raw = raw
	return nil
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse(ov Overrides) (*models.Config, error) {
	cfg := &models.Config{}

	fileDebug, err := p.boolValue("default.debug", false)
	if err != nil {
		return nil, err
	}
	cfg.Debug = fileDebug || ov.Debug
	cfg.Verbose = ov.Verbose || cfg.Debug
	cfg.DryRun = ov.DryRun
	cfg.FailOnError = ov.FailOnError

	cfg.Repos = p.expandEnv(p.stringValue("default.repos", DefaultRepos))
	cfg.NotifyEmail = p.stringValue("default.notify_email", DefaultNotifyEmail)

	// A lockfile set in the file beats the flag, whose default is always present.
	cfg.LockFile = p.stringValue("default.lockfile", ov.LockFile)
	if cfg.LockFile == "" {
		cfg.LockFile = DefaultLockFile
	}

	cfg.Hostname = p.stringValue("default.hostname", "")
	if cfg.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			cfg.Hostname = "unknown"
		} else {
			cfg.Hostname = hostname
		}
	}

	cfg.BorgPath = p.stringValue("default.borg", DefaultBorgPath)
	cfg.Compression = p.stringValue("default.compression", DefaultCompression)

	cfg.RemotePath = ov.RemotePath
	if cfg.RemotePath == "" {
		cfg.RemotePath = p.stringValue("default.remote_path", "")
	}

	cfg.LockTimeout = ov.LockTimeout
	if !ov.LockTimeoutSet {
		if cfg.LockTimeout, err = p.durationValue("default.lock_timeout", 0); err != nil {
			return nil, err
		}
	}

	cfg.Units = map[string]string{}
	for name, path := range p.v.GetStringMapString("units") {
		cfg.Units[name] = path
	}

	// Parse SMTP settings; every key is optional.
	cfg.SMTP = models.SMTPConfig{
		Host:     p.stringValue("smtp.host", DefaultSMTPHost),
		Login:    p.expandEnv(p.stringValue("smtp.login", "")),
		Password: p.expandEnv(p.stringValue("smtp.password", "")),
		From:     p.stringValue("smtp.from", cfg.NotifyEmail),
	}
	if cfg.SMTP.Port, err = p.intValue("smtp.port", DefaultSMTPPort); err != nil {
		return nil, err
	}
	if cfg.SMTP.TLS, err = p.boolValue("smtp.tls", true); err != nil {
		return nil, err
	}

	// Parse optional WOL config.
	if p.raw.HasSection("wol") { //nolint:nestif // config parsing with defaults
		cfg.WOL = &models.WOLConfig{
			MACAddress:  p.stringValue("wol.mac_address", ""),
			BroadcastIP: p.stringValue("wol.broadcast_ip", "255.255.255.255"),
			PollURL:     p.stringValue("wol.poll_url", ""),
			PollAddress: p.stringValue("wol.poll_address", ""),
		}

		if cfg.WOL.MACAddress == "" {
			return nil, fmt.Errorf("wol.mac_address is required when wol is configured")
		}
		if cfg.WOL.Timeout, err = p.durationValue("wol.timeout", 5*time.Minute); err != nil {
			return nil, err
		}
		if cfg.WOL.PollInterval, err = p.durationValue("wol.poll_interval", 10*time.Second); err != nil {
			return nil, err
		}
		if cfg.WOL.StabilizeWait, err = p.durationValue("wol.stabilize_wait", 10*time.Second); err != nil {
			return nil, err
		}
	}

	// Parse optional SSH shutdown config.
	if p.raw.HasSection("ssh_shutdown") { //nolint:nestif // config parsing with defaults
		cfg.SSHShutdown = &models.SSHShutdownConfig{
			Host:     p.stringValue("ssh_shutdown.host", ""),
			Username: p.stringValue("ssh_shutdown.username", "root"),
			KeyPath:  p.expandEnv(p.stringValue("ssh_shutdown.key_path", "")),
			OS:       p.stringValue("ssh_shutdown.os", "linux"),
		}

		if cfg.SSHShutdown.Host == "" {
			return nil, fmt.Errorf("ssh_shutdown.host is required when ssh_shutdown is configured")
		}
		if cfg.SSHShutdown.KeyPath == "" {
			return nil, fmt.Errorf("ssh_shutdown.key_path is required when ssh_shutdown is configured")
		}
		if cfg.SSHShutdown.Port, err = p.intValue("ssh_shutdown.port", 22); err != nil {
			return nil, err
		}
		if cfg.SSHShutdown.ShutdownDelay, err = p.intValue("ssh_shutdown.shutdown_delay", 1); err != nil {
			return nil, err
		}
		validOS := map[string]bool{"linux": true, "windows": true}
		if !validOS[cfg.SSHShutdown.OS] {
			return nil, fmt.Errorf("ssh_shutdown.os must be one of: linux, windows")
		}
	}

	// Parse optional Telegram config.
	if p.raw.HasSection("telegram") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.stringValue("telegram.bot_token", "")),
			ChatID:   p.expandEnv(p.stringValue("telegram.chat_id", "")),
		}

		if cfg.Telegram.BotToken == "" {
			return nil, fmt.Errorf("telegram.bot_token is required when telegram is configured")
		}
		if cfg.Telegram.ChatID == "" {
			return nil, fmt.Errorf("telegram.chat_id is required when telegram is configured")
		}
	}

	return cfg, nil
}

// stringValue returns the trimmed value of key, or def when the key is
// absent or empty.
func (p *Parser) stringValue(key, def string) string {
	if !p.v.IsSet(key) {
		return def
	}
	s := strings.TrimSpace(p.v.GetString(key))
	if s == "" {
		return def
	}
	return s
}

func (p *Parser) intValue(key string, def int) (int, error) {
	s := p.stringValue(key, "")
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, s)
	}
	return n, nil
}

func (p *Parser) durationValue(key string, def time.Duration) (time.Duration, error) {
	s := p.stringValue(key, "")
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		// Bare numbers are seconds.
		secs, convErr := strconv.Atoi(s)
		if convErr != nil {
			return 0, fmt.Errorf("%s: invalid duration %q", key, s)
		}
		d = time.Duration(secs) * time.Second
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must not be negative", key)
	}
	return d, nil
}

func (p *Parser) boolValue(key string, def bool) (bool, error) {
	s := p.stringValue(key, "")
	if s == "" {
		return def, nil
	}
	section, name, _ := strings.Cut(key, ".")
	b, err := p.raw.Section(section).Key(name).Bool()
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q", key, s)
	}
	return b, nil
}

var envRef = regexp.MustCompile(`\$?\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} with the value of a set variable. Any other
// dollar sign is literal, unset references are left alone and $${VAR}
// yields ${VAR}.
func (p *Parser) expandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		if strings.HasPrefix(ref, "$$") {
			return ref[1:]
		}
		if val, ok := os.LookupEnv(ref[2 : len(ref)-1]); ok {
			return val
		}
		return ref
	})
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if cfg.Repos == "" {
		return fmt.Errorf("default.repos is required")
	}

	if cfg.LockFile == "" {
		return fmt.Errorf("default.lockfile is required")
	}

	if cfg.SMTP.Port < 1 || cfg.SMTP.Port > 65535 {
		return fmt.Errorf("smtp.port must be between 1 and 65535")
	}

	for name, path := range cfg.Units {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("units: empty unit name")
		}
		if strings.TrimSpace(path) == "" {
			return fmt.Errorf("units.%s: source path is required", name)
		}
	}

	return nil
}
