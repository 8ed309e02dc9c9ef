package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nimbusworks/aviary/internal/apperr"
	"github.com/nimbusworks/aviary/internal/lifecycle"
)

// TelegramChannel connects to Telegram via the Bot API using long polling.
type TelegramChannel struct {
	bot    *telego.Bot
	router Router
	botID  string

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// NewTelegram creates a Telegram channel.
func NewTelegram(botToken string, router Router) (*TelegramChannel, error) {
	bot, err := telego.NewBot(botToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramChannel{bot: bot, router: router}, nil
}

func (c *TelegramChannel) Name() string { return lifecycle.PlatformTelegram }

// Start begins long polling for updates.
func (c *TelegramChannel) Start(ctx context.Context) error {
	me, err := c.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("fetch telegram bot identity: %w", err)
	}
	c.botID = strconv.FormatInt(me.ID, 10)

	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	slog.Info("channels.telegram.connected", "username", me.Username, "bot_id", c.botID)

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("channels.telegram.updates_closed")
					return
				}
				if update.Message != nil {
					c.handleMessage(pollCtx, update.Message)
				}
			}
		}
	}()

	return nil
}

// Stop cancels the long polling context and waits for the polling goroutine
// to exit so Telegram releases the getUpdates lock.
func (c *TelegramChannel) Stop(_ context.Context) error {
	slog.Info("channels.telegram.stopping")
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("channels.telegram.poll_exit_timeout")
		}
	}
	return nil
}

func (c *TelegramChannel) handleMessage(ctx context.Context, m *telego.Message) {
	if m.From == nil || m.From.IsBot {
		return
	}
	if strings.TrimSpace(m.Text) == "" {
		return
	}

	inst, err := c.router.RoutePlatform(lifecycle.PlatformTelegram, c.botID)
	if err != nil {
		if !apperr.IsKind(err, apperr.NotFound) {
			slog.Warn("channels.telegram.route_failed", "error", err)
		}
		return
	}

	reply := runTurn(ctx, inst, m.Text)
	if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(m.Chat.ID), reply)); err != nil {
		slog.Error("channels.telegram.send_failed", "chat_id", m.Chat.ID, "error", err)
	}
}
