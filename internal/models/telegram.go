package models

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// NotifyResult holds the result of delivering a report.
type NotifyResult struct {
	MessageSent bool
	Error       error
}
