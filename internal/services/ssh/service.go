// Package ssh powers off the repository host once every unit has been archived.
package ssh

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/votesmart/undine/internal/models"
	"golang.org/x/crypto/ssh"
)

const (
	dialTimeout = 30 * time.Second
	probeCmd    = "true"
)

// Service powers off or probes the repository host.
type Service interface {
	Shutdown(ctx context.Context, cfg models.SSHShutdownConfig) (*models.SSHResult, error)
	Probe(ctx context.Context, cfg models.SSHShutdownConfig) (*models.SSHResult, error)
}

// SSHClient wraps ssh.Client for mocking.
type SSHClient interface {
	NewSession() (SSHSession, error)
	Close() error
}

// SSHSession wraps ssh.Session for mocking.
type SSHSession interface {
	CombinedOutput(cmd string) ([]byte, error)
	Close() error
}

// ClientFactory dials SSH clients.
type ClientFactory interface {
	NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

// DefaultClientFactory dials with golang.org/x/crypto/ssh.
type DefaultClientFactory struct{}

// NewClient dials addr and completes the handshake.
func (f *DefaultClientFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	client, err := ssh.Dial(network, addr, config)
	if err != nil {
		return nil, err
	}
	return &defaultSSHClient{client: client}, nil
}

type defaultSSHClient struct {
	client *ssh.Client
}

func (c *defaultSSHClient) NewSession() (SSHSession, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (c *defaultSSHClient) Close() error {
	return c.client.Close()
}

// Impl implements Service.
type Impl struct {
	clientFactory ClientFactory
	logger        zerolog.Logger
}

// New creates a new SSH service.
func New(logger zerolog.Logger) *Impl {
	return NewWithClientFactory(logger, &DefaultClientFactory{})
}

// NewWithClientFactory creates a new SSH service with a custom client factory (for testing).
func NewWithClientFactory(logger zerolog.Logger, factory ClientFactory) *Impl {
	return &Impl{
		clientFactory: factory,
		logger:        logger.With().Str("component", "ssh").Logger(),
	}
}

// ShutdownCommand returns the remote command that powers off a host running
// cfg.OS after cfg.ShutdownDelay minutes.
func ShutdownCommand(cfg models.SSHShutdownConfig) string {
	if cfg.OS == "windows" {
		secs := cfg.ShutdownDelay * 60
		if secs == 0 {
			secs = 60
		}
		return fmt.Sprintf("shutdown /s /t %d", secs)
	}
	if cfg.ShutdownDelay == 0 {
		return "sudo shutdown -h now"
	}
	return fmt.Sprintf("sudo shutdown -h +%d", cfg.ShutdownDelay)
}

// Shutdown schedules a power-off of the repository host. A command error is
// logged but not reported: the host often drops the connection while
// shutting down.
func (s *Impl) Shutdown(ctx context.Context, cfg models.SSHShutdownConfig) (*models.SSHResult, error) {
	cmd := ShutdownCommand(cfg)

	s.logger.Info().
		Str("host", cfg.Host).
		Int("delay_min", cfg.ShutdownDelay).
		Msg("shutting down repository host")
	s.logger.Debug().Str("command", cmd).Msg("remote command")

	result, err := s.exec(ctx, cfg, cmd)
	if err != nil {
		if ctx.Err() != nil {
			result.Error = ctx.Err()
		} else {
			s.logger.Warn().Err(err).Str("output", result.Output).Msg("shutdown command returned error")
		}
	}
	return result, nil
}

// Probe opens a session and runs a no-op to confirm the credentials work.
func (s *Impl) Probe(ctx context.Context, cfg models.SSHShutdownConfig) (*models.SSHResult, error) {
	s.logger.Debug().Str("host", cfg.Host).Int("port", cfg.Port).Msg("probing ssh")

	result, err := s.exec(ctx, cfg, probeCmd)
	if err != nil && result.Error == nil {
		result.Error = fmt.Errorf("probe command failed: %w", err)
	}
	return result, nil
}

// exec runs cmd on the host. Connection problems land in result.Error; the
// returned error is the remote command's own failure.
func (s *Impl) exec(ctx context.Context, cfg models.SSHShutdownConfig, cmd string) (*models.SSHResult, error) {
	result := &models.SSHResult{}

	client, err := s.connect(ctx, cfg)
	if err != nil {
		result.Error = err
		return result, nil
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		result.Error = fmt.Errorf("failed to create session: %w", err)
		return result, nil
	}
	defer session.Close()

	output, err := session.CombinedOutput(cmd)
	result.Output = string(output)
	result.CommandRun = true
	return result, err
}

// connect dials in the background so ctx can abandon a hanging handshake.
func (s *Impl) connect(ctx context.Context, cfg models.SSHShutdownConfig) (SSHClient, error) {
	clientCfg, err := s.buildConfig(cfg)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	type dialed struct {
		client SSHClient
		err    error
	}
	ch := make(chan dialed, 1)
	go func() {
		client, err := s.clientFactory.NewClient("tcp", addr, clientCfg)
		ch <- dialed{client, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if d := <-ch; d.client != nil {
				_ = d.client.Close()
			}
		}()
		return nil, ctx.Err()
	case d := <-ch:
		if d.err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", addr, d.err)
		}
		return d.client, nil
	}
}

func (s *Impl) buildConfig(cfg models.SSHShutdownConfig) (*ssh.ClientConfig, error) {
	key := cfg.PrivateKey
	if len(key) == 0 {
		if cfg.KeyPath == "" {
			return nil, fmt.Errorf("no private key provided")
		}
		var err error
		key, err = os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key from %s: %w", cfg.KeyPath, err)
		}
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // repository host is on the backup LAN
		Timeout:         dialTimeout,
	}, nil
}
