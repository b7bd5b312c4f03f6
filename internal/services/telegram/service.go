// Package telegram posts the run summary to a Telegram chat.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/votesmart/undine/internal/models"
)

// Service defines the interface for Telegram notification operations.
type Service interface {
	SendReport(ctx context.Context, cfg models.TelegramConfig, report *models.RunReport) (*models.NotifyResult, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the Telegram Service interface.
type Impl struct {
	httpClient HTTPClient
	logger     zerolog.Logger
	baseURL    string
}

// New creates a new Telegram service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:  logger,
		baseURL: "https://api.telegram.org",
	}
}

// NewWithClient creates a new Telegram service with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient, baseURL string) *Impl {
	return &Impl{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
	}
}

// sendMessageRequest is the request body for Telegram sendMessage API.
type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendReport posts the run summary to the configured chat.
func (s *Impl) SendReport(ctx context.Context, cfg models.TelegramConfig, report *models.RunReport) (*models.NotifyResult, error) {
	result := &models.NotifyResult{}

	s.logger.Info().
		Str("chat_id", cfg.ChatID).
		Int("failed", report.Failed()).
		Msg("sending Telegram notification")

	reqBody := sendMessageRequest{
		ChatID:    cfg.ChatID,
		Text:      formatReport(report),
		ParseMode: "HTML",
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		result.Error = fmt.Errorf("failed to marshal request: %w", err)
		return result, nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, cfg.BotToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		result.Error = fmt.Errorf("failed to create request: %w", err)
		return result, nil
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		result.Error = fmt.Errorf("failed to send request: %w", err)
		return result, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Errorf("telegram API returned status %d", resp.StatusCode)
		return result, nil
	}

	result.MessageSent = true
	s.logger.Info().Msg("Telegram notification sent successfully")

	return result, nil
}

func formatReport(report *models.RunReport) string {
	var b bytes.Buffer

	if report.Failed() == 0 {
		b.WriteString("✅ <b>Backup Successful</b>\n\n")
	} else {
		b.WriteString("❌ <b>Backup Failed</b>\n\n")
	}

	fmt.Fprintf(&b, "🖥 <b>Host:</b> %s\n", escapeHTML(report.Hostname))
	fmt.Fprintf(&b, "📁 <b>Repository:</b> %s\n", escapeHTML(report.Repos))
	if !report.StartTime.IsZero() {
		fmt.Fprintf(&b, "⏰ <b>Started:</b> %s\n", report.StartTime.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(&b, "⏱ <b>Duration:</b> %s\n", report.Duration.Round(time.Second))
	fmt.Fprintf(&b, "📊 <b>Units:</b> %d ok, %d failed\n", report.Succeeded(), report.Failed())

	b.WriteString("\n")
	for _, res := range report.Results {
		if res.Failed() {
			fmt.Fprintf(&b, "  • ❌ %s\n", escapeHTML(res.Unit))
			fmt.Fprintf(&b, "    <code>%s</code>\n", escapeHTML(res.ErrText))
		} else {
			fmt.Fprintf(&b, "  • ✅ %s\n", escapeHTML(res.Unit))
		}
	}

	if report.RunID != "" {
		fmt.Fprintf(&b, "\n<i>run %s</i>\n", escapeHTML(report.RunID))
	}

	return b.String()
}

// escapeHTML escapes HTML special characters.
func escapeHTML(s string) string {
	var b bytes.Buffer
	for _, r := range s {
		switch r {
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '&':
			b.WriteString("&amp;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
