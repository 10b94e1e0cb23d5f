// Package telegram connects the Telegram Bot API to the turn pipeline via
// long polling. Replies are sent inline from the update handler; Telegram
// does not redeliver updates after getUpdates acknowledges them, so the
// delivery contract is best-effort with dispatcher retries.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/sawitlab/tanya/internal/bus"
	"github.com/sawitlab/tanya/internal/channels"
	"github.com/sawitlab/tanya/internal/config"
)

const turnBudget = 30 * time.Second

// Dispatcher is the outbound delivery contract.
type Dispatcher interface {
	Dispatch(ctx context.Context, reply bus.OutboundReply) (bus.DeliveryResult, error)
}

// Channel runs the Telegram bot in long-polling mode.
type Channel struct {
	bot        *telego.Bot
	cfg        config.TelegramConfig
	processor  channels.Processor
	dispatcher Dispatcher
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates the Telegram channel. The dispatcher must have this channel's
// Sender registered.
func New(cfg config.TelegramConfig, processor channels.Processor, dispatcher Dispatcher) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Channel{
		bot:        bot,
		cfg:        cfg,
		processor:  processor,
		dispatcher: dispatcher,
	}, nil
}

func (c *Channel) Name() string { return bus.ChannelTelegram }

// Bot exposes the underlying client for Sender construction.
func (c *Channel) Bot() *telego.Bot { return c.bot }

// Start begins long polling for updates.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting telegram bot (polling mode)")

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

	slog.Info("telegram bot connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
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

// Stop cancels long polling and waits for the polling goroutine so Telegram
// releases the getUpdates lock before a new instance starts.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping telegram bot")
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
			slog.Info("telegram bot stopped")
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	return nil
}

func (c *Channel) handleMessage(ctx context.Context, message *telego.Message) {
	user := message.From
	if user == nil {
		return
	}
	if message.Text == "" {
		// Media-only messages carry nothing the pipeline can answer.
		slog.Debug("telegram message without text skipped", "chat_id", message.Chat.ID)
		return
	}

	userID := fmt.Sprintf("%d", user.ID)
	if !channels.AllowedSender(c.cfg.AllowFrom, userID) && !channels.AllowedSender(c.cfg.AllowFrom, user.Username) {
		slog.Debug("telegram message rejected by allowlist", "user_id", userID, "username", user.Username)
		return
	}

	slog.Debug("telegram message received",
		"chat_id", message.Chat.ID,
		"user_id", user.ID,
		"text_preview", channels.Truncate(message.Text, 60),
	)

	msg := bus.InboundMessage{
		Channel:        bus.ChannelTelegram,
		ExternalUserID: userID,
		MessageID:      fmt.Sprintf("%d:%d", message.Chat.ID, message.MessageID),
		Text:           message.Text,
		ReceivedAt:     time.Unix(message.Date, 0).UTC(),
		ReplyTarget:    fmt.Sprintf("%d", message.Chat.ID),
	}

	turnCtx, cancel := context.WithTimeout(ctx, turnBudget)
	defer cancel()

	reply := c.processor.Process(turnCtx, msg)
	if _, err := c.dispatcher.Dispatch(turnCtx, reply); err != nil {
		slog.Error("telegram delivery failed", "chat_id", message.Chat.ID, "error", err)
	}
}

// Sender delivers replies through the Bot API.
type Sender struct {
	bot *telego.Bot
}

// NewSender wraps a bot client for the dispatcher.
func NewSender(bot *telego.Bot) *Sender {
	return &Sender{bot: bot}
}

func (s *Sender) Channel() string { return bus.ChannelTelegram }

// Send posts the reply text to the target chat. Returns the sent message id.
func (s *Sender) Send(ctx context.Context, reply bus.OutboundReply) (string, error) {
	chatID, err := parseChatID(reply.Target)
	if err != nil {
		return "", fmt.Errorf("invalid chat id %q: %w", reply.Target, err)
	}
	sent, err := s.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), reply.Text))
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return fmt.Sprintf("%d", sent.MessageID), nil
}

func parseChatID(s string) (int64, error) {
	var id int64
	_, err := fmt.Sscanf(s, "%d", &id)
	return id, err
}
