//go:build e2e

package e2e

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/votesmart/undine/internal/models"
	"github.com/votesmart/undine/internal/services/telegram"
)

func getTelegramConfig(t *testing.T) models.TelegramConfig {
	t.Helper()

	botToken := os.Getenv("TEST_TELEGRAM_BOT_TOKEN")
	if botToken == "" {
		t.Skip("TEST_TELEGRAM_BOT_TOKEN not set")
	}

	chatID := os.Getenv("TEST_TELEGRAM_CHAT_ID")
	if chatID == "" {
		t.Skip("TEST_TELEGRAM_CHAT_ID not set")
	}

	return models.TelegramConfig{
		BotToken: botToken,
		ChatID:   chatID,
	}
}

func TestTelegramSendReport_E2E(t *testing.T) {
	cfg := getTelegramConfig(t)

	result, err := telegram.New(testLogger()).SendReport(context.Background(), cfg, sampleReport())

	require.NoError(t, err)
	assert.True(t, result.MessageSent)
	assert.Nil(t, result.Error)
}

func TestTelegramSendAllSucceeded_E2E(t *testing.T) {
	cfg := getTelegramConfig(t)

	report := sampleReport()
	report.Results = report.Results[:1]

	result, err := telegram.New(testLogger()).SendReport(context.Background(), cfg, report)

	require.NoError(t, err)
	assert.True(t, result.MessageSent)
}

func TestTelegramInvalidToken_E2E(t *testing.T) {
	cfg := models.TelegramConfig{
		BotToken: "invalid:token",
		ChatID:   "-100123456789",
	}

	result, err := telegram.New(testLogger()).SendReport(context.Background(), cfg, sampleReport())

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	assert.NotNil(t, result.Error)
}
