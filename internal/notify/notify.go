// Package notify delivers short operator messages.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"insta_spider/internal/config"
)

// Notifier never returns errors; delivery problems are logged and dropped.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

type Noop struct{}

func (Noop) Notify(context.Context, string) {}

// Telegram posts messages to one chat through the Bot API.
type Telegram struct {
	client *resty.Client
	token  string
	chatID string
	logger *slog.Logger
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func NewTelegram(cfg config.NotifyConfig, logger *slog.Logger) *Telegram {
	client := resty.New().
		SetBaseURL(cfg.APIURL).
		SetTimeout(10 * time.Second)
	return &Telegram{client: client, token: cfg.TelegramToken, chatID: cfg.ChatID, logger: logger}
}

// New returns a Telegram notifier when a token is configured and Noop otherwise.
func New(cfg config.NotifyConfig, logger *slog.Logger) Notifier {
	if cfg.TelegramToken == "" || cfg.ChatID == "" {
		return Noop{}
	}
	return NewTelegram(cfg, logger)
}

func (t *Telegram) Notify(ctx context.Context, text string) {
	if err := t.send(ctx, text); err != nil {
		t.logger.Warn("notification not delivered", "err", err)
	}
}

func (t *Telegram) send(ctx context.Context, text string) error {
	var out telegramResponse
	res, err := t.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"chat_id": t.chatID, "text": text}).
		SetResult(&out).
		SetError(&out).
		Post(fmt.Sprintf("/bot%s/sendMessage", t.token))
	if err != nil {
		return err
	}
	if res.IsError() || !out.OK {
		return fmt.Errorf("telegram responded %d: %s", res.StatusCode(), out.Description)
	}
	return nil
}
