package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/inboxd/internal/bus"
	"github.com/nextlevelbuilder/inboxd/internal/channels"
)

// maxMessageLen is Telegram's hard limit for one text message.
const maxMessageLen = 4096

// Channel connects to Telegram via the Bot API using long polling.
type Channel struct {
	*channels.BaseChannel
	bot        *telego.Bot
	pollCancel context.CancelFunc // cancels the long polling context
	pollDone   chan struct{}      // closed when polling goroutine exits
}

// New creates a new Telegram channel for one bot token.
func New(inst channels.Instance, router bus.InboundRouter) (*Channel, error) {
	bot, err := telego.NewBot(inst.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	tenantChannelID := inst.TenantChannelID
	if tenantChannelID == "" {
		tenantChannelID = botIDFromToken(inst.Token)
	}

	return &Channel{
		BaseChannel: channels.NewBaseChannel(inst.Name, tenantChannelID, router, inst.AllowFrom),
		bot:         bot,
	}, nil
}

// Factory creates a Telegram channel from a configured instance.
func Factory(inst channels.Instance, router bus.InboundRouter) (channels.Channel, error) {
	if inst.Token == "" {
		return nil, nil
	}
	return New(inst, router)
}

// Start begins long polling for Telegram updates.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting telegram bot (polling mode)", "channel", c.Name())

	// Stop() cancels this context to cleanly shut down long polling.
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

	c.SetRunning(true)
	slog.Info("telegram bot connected", "channel", c.Name(), "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed", "channel", c.Name())
					return
				}
				if update.Message == nil {
					slog.Debug("telegram update skipped (no message)", "update_id", update.UpdateID)
					continue
				}
				if env, ok := envelopeFromMessage(update.Message); ok {
					c.HandleEnvelope(env)
				}
			}
		}
	}()

	return nil
}

// Stop shuts down the Telegram bot by cancelling the long polling context
// and waiting for the polling goroutine to exit.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping telegram bot", "channel", c.Name())
	c.SetRunning(false)

	if c.pollCancel != nil {
		c.pollCancel()
	}

	// Telegram releases the getUpdates lock only once polling has stopped.
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
			slog.Info("telegram bot stopped", "channel", c.Name())
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout", "channel", c.Name())
		}
	}
	return nil
}

// Send delivers text to a chat, split into Telegram-sized chunks.
func (c *Channel) Send(ctx context.Context, recipient, text string) error {
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", recipient, err)
	}
	for _, chunk := range chunkText(text, maxMessageLen) {
		if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), chunk)); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

// MarkRead shows the typing indicator: bots cannot send read receipts, and
// "typing" is how Telegram users see that a message was picked up.
func (c *Channel) MarkRead(ctx context.Context, env bus.Envelope) error {
	chatID, err := strconv.ParseInt(env.SenderAddress, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", env.SenderAddress, err)
	}
	return c.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping))
}

// React sets an emoji reaction on the inbound message.
func (c *Channel) React(ctx context.Context, env bus.Envelope, emoji string) error {
	chatID, err := strconv.ParseInt(env.SenderAddress, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", env.SenderAddress, err)
	}
	messageID, err := strconv.Atoi(env.Meta(channels.MetaMessageID))
	if err != nil {
		return fmt.Errorf("telegram message id %q: %w", env.Meta(channels.MetaMessageID), err)
	}
	return c.bot.SetMessageReaction(ctx, &telego.SetMessageReactionParams{
		ChatID:    tu.ID(chatID),
		MessageID: messageID,
		Reaction: []telego.ReactionType{
			&telego.ReactionTypeEmoji{Type: telego.ReactionEmoji, Emoji: emoji},
		},
	})
}
