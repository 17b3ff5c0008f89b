package notifications

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const telegramAPIURL = "https://api.telegram.org/bot%s/%s"

// TelegramSender delivers alert messages through the Telegram Bot API.
// With no token or chat id configured it runs in dry-run mode: messages
// are logged instead of sent, and delivery still counts as success so
// the alert cursor advances.
type TelegramSender struct {
	logger   *zap.Logger
	botToken string
	chatID   string
	dryRun   bool
	client   *http.Client
}

// NewTelegramSender creates the alert sender.
func NewTelegramSender(botToken, chatID string, dryRun bool, logger *zap.Logger) *TelegramSender {
	if botToken == "" || chatID == "" {
		if !dryRun {
			logger.Warn("telegram credentials missing, falling back to dry-run")
		}
		dryRun = true
	}
	return &TelegramSender{
		logger:   logger,
		botToken: botToken,
		chatID:   chatID,
		dryRun:   dryRun,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// DryRun reports whether the sender only logs messages.
func (t *TelegramSender) DryRun() bool {
	return t.dryRun
}

// Send delivers one alert message.
func (t *TelegramSender) Send(text string) error {
	if t.dryRun {
		t.logger.Info("dry-run alert", zap.String("message", text))
		return nil
	}

	url := fmt.Sprintf(telegramAPIURL, t.botToken, "sendMessage")
	payload := map[string]interface{}{
		"chat_id": t.chatID,
		"text":    text,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("Send: %w", err)
	}

	resp, err := t.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("Send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Send: telegram API returned status %d", resp.StatusCode)
	}
	return nil
}
