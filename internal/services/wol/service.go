// Package wol wakes the repository host before archiving starts.
package wol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/mdlayher/wol"
	"github.com/rs/zerolog"
	"github.com/votesmart/undine/internal/models"
)

// Service defines the interface for Wake-on-LAN operations.
type Service interface {
	Wake(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error)
}

// Client wraps the wol library for mocking.
type Client interface {
	Wake(addr string, mac net.HardwareAddr) error
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Dialer allows mocking TCP probes.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// DefaultClient sends magic packets with mdlayher/wol.
type DefaultClient struct{}

// Wake sends a magic packet for mac to the UDP address addr.
func (c *DefaultClient) Wake(addr string, mac net.HardwareAddr) error {
	client, err := wol.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create WOL client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if err := client.Wake(addr, mac); err != nil {
		return fmt.Errorf("failed to send WOL packet: %w", err)
	}
	return nil
}

// Impl implements the WOL Service interface.
type Impl struct {
	wolClient  Client
	httpClient HTTPClient
	dialer     Dialer
	logger     zerolog.Logger
}

// New creates a new WOL service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		wolClient:  &DefaultClient{},
		httpClient: &http.Client{Timeout: 5 * time.Second},
		dialer:     &net.Dialer{Timeout: 5 * time.Second},
		logger:     logger,
	}
}

// NewWithClients creates a new WOL service with custom clients (for testing).
func NewWithClients(logger zerolog.Logger, wolClient Client, httpClient HTTPClient, dialer Dialer) *Impl {
	return &Impl{
		wolClient:  wolClient,
		httpClient: httpClient,
		dialer:     dialer,
		logger:     logger,
	}
}

// Wake sends the magic packet and, when a poll target is configured, waits
// until the repository host answers.
func (s *Impl) Wake(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error) {
	result := &models.WOLResult{}
	start := time.Now()

	mac, err := net.ParseMAC(cfg.MACAddress)
	if err != nil {
		result.Error = fmt.Errorf("invalid MAC address %q: %w", cfg.MACAddress, err)
		return result, nil
	}

	ip := net.ParseIP(cfg.BroadcastIP)
	if ip == nil {
		result.Error = fmt.Errorf("invalid broadcast IP %q", cfg.BroadcastIP)
		return result, nil
	}

	s.logger.Info().
		Str("mac", cfg.MACAddress).
		Str("broadcast", cfg.BroadcastIP).
		Msg("waking repository host")

	if err := s.wolClient.Wake(net.JoinHostPort(ip.String(), "9"), mac); err != nil {
		result.Error = err
		return result, nil //nolint:nilerr // reported through result.Error
	}
	result.PacketSent = true

	target := cfg.PollURL
	if target == "" {
		target = cfg.PollAddress
	}
	if target == "" {
		result.HostReady = true
		result.WaitDuration = time.Since(start)
		return result, nil
	}

	s.logger.Info().
		Str("target", target).
		Dur("timeout", cfg.Timeout).
		Msg("waiting for repository host")

	if err := s.waitForHost(ctx, cfg); err != nil {
		result.WaitDuration = time.Since(start)
		result.Error = err
		return result, nil //nolint:nilerr // reported through result.Error
	}

	if cfg.StabilizeWait > 0 {
		s.logger.Debug().Dur("wait", cfg.StabilizeWait).Msg("letting repository host settle")
		select {
		case <-ctx.Done():
			result.WaitDuration = time.Since(start)
			result.Error = ctx.Err()
			return result, nil
		case <-time.After(cfg.StabilizeWait):
		}
	}

	result.HostReady = true
	result.WaitDuration = time.Since(start)

	s.logger.Info().
		Dur("duration", result.WaitDuration).
		Msg("repository host is up")

	return result, nil
}

func (s *Impl) waitForHost(ctx context.Context, cfg models.WOLConfig) error {
	waitCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		err := s.probe(waitCtx, cfg)
		if err == nil {
			return nil
		}
		s.logger.Debug().Err(err).Msg("repository host not reachable yet")

		select {
		case <-waitCtx.Done():
			if errors.Is(waitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return fmt.Errorf("repository host did not come up within %s", cfg.Timeout)
			}
			return waitCtx.Err()
		case <-ticker.C:
		}
	}
}

// probe treats any HTTP response, or any accepted TCP connection, as the
// host being up.
func (s *Impl) probe(ctx context.Context, cfg models.WOLConfig) error {
	if cfg.PollURL != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.PollURL, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		resp, err := s.httpClient.Do(req)
		if err != nil {
			return err
		}
		_ = resp.Body.Close()
		return nil
	}

	conn, err := s.dialer.DialContext(ctx, "tcp", cfg.PollAddress)
	if err != nil {
		return err
	}
	_ = conn.Close()
	return nil
}
