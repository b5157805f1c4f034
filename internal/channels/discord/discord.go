package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/inboxd/internal/bus"
	"github.com/nextlevelbuilder/inboxd/internal/channels"
)

// maxMessageLen is Discord's limit for one message.
const maxMessageLen = 2000

// Channel connects to Discord via the Bot API using gateway events.
type Channel struct {
	*channels.BaseChannel
	session   *discordgo.Session
	botUserID string // populated on start
}

// New creates a new Discord channel for one bot token.
func New(inst channels.Instance, router bus.InboundRouter) (*Channel, error) {
	session, err := discordgo.New("Bot " + inst.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	// Request necessary intents
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Channel{
		BaseChannel: channels.NewBaseChannel(inst.Name, inst.TenantChannelID, router, inst.AllowFrom),
		session:     session,
	}, nil
}

// Factory creates a Discord channel from a configured instance.
func Factory(inst channels.Instance, router bus.InboundRouter) (channels.Channel, error) {
	if inst.Token == "" {
		return nil, nil
	}
	return New(inst, router)
}

// Start opens the Discord gateway connection and begins receiving events.
func (c *Channel) Start(_ context.Context) error {
	slog.Info("starting discord bot", "channel", c.Name())

	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	// Fetch bot identity
	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID

	c.SetRunning(true)
	slog.Info("discord bot connected", "channel", c.Name(), "username", user.Username, "id", user.ID)
	return nil
}

// Stop closes the Discord gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping discord bot", "channel", c.Name())
	c.SetRunning(false)
	return c.session.Close()
}

// Send delivers text to a Discord channel, split into 2000-char messages.
func (c *Channel) Send(_ context.Context, recipient, text string) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}
	if recipient == "" {
		return fmt.Errorf("empty channel ID for discord send")
	}
	for _, chunk := range splitMessage(text, maxMessageLen) {
		if _, err := c.session.ChannelMessageSend(recipient, chunk); err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
	}
	return nil
}

// MarkRead shows the typing indicator in the message's channel.
func (c *Channel) MarkRead(_ context.Context, env bus.Envelope) error {
	return c.session.ChannelTyping(env.SenderAddress)
}

// React adds an emoji reaction to the inbound message.
func (c *Channel) React(_ context.Context, env bus.Envelope, emoji string) error {
	return c.session.MessageReactionAdd(env.SenderAddress, env.Meta(channels.MetaMessageID), emoji)
}

// handleMessage processes incoming Discord messages.
func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil {
		return
	}
	env, ok := envelopeFromMessage(m.Message, c.botUserID)
	if !ok {
		return
	}

	slog.Debug("discord message received",
		"channel", c.Name(),
		"channel_id", m.ChannelID,
		"user_id", env.Meta(channels.MetaUserID),
		"preview", channels.Truncate(env.ContentRef, 50),
	)
	c.HandleEnvelope(env)
}

// envelopeFromMessage normalizes a Discord message. The Discord channel id is
// the sender address so replies land where the user wrote. In guilds only
// messages that mention the bot are taken; DMs are always taken.
func envelopeFromMessage(m *discordgo.Message, botUserID string) (bus.Envelope, bool) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == botUserID {
		return bus.Envelope{}, false
	}

	isDM := m.GuildID == ""
	if !isDM && !mentions(m, botUserID) {
		return bus.Envelope{}, false
	}

	content := strings.TrimSpace(stripMention(m.Content, botUserID))
	msgType := bus.TypeText
	meta := map[string]string{
		channels.MetaMessageID: m.ID,
		channels.MetaUserID:    m.Author.ID,
		channels.MetaUserName:  displayName(m),
	}
	if content == "" && len(m.Attachments) > 0 {
		att := m.Attachments[0]
		msgType = attachmentType(att.ContentType)
		content = att.URL
	}
	if content == "" {
		return bus.Envelope{}, false
	}
	if m.GuildID != "" {
		meta["guild_id"] = m.GuildID
	}

	return bus.Envelope{
		ExternalID:    "dc:" + m.ID, // snowflakes are globally unique
		SenderAddress: m.ChannelID,
		Type:          msgType,
		ContentRef:    content,
		ArrivalTime:   m.Timestamp,
		Metadata:      meta,
	}, true
}

func mentions(m *discordgo.Message, botUserID string) bool {
	for _, u := range m.Mentions {
		if u != nil && u.ID == botUserID {
			return true
		}
	}
	return false
}

func stripMention(content, botUserID string) string {
	if botUserID == "" {
		return content
	}
	content = strings.ReplaceAll(content, "<@"+botUserID+">", "")
	return strings.ReplaceAll(content, "<@!"+botUserID+">", "")
}

func attachmentType(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return bus.TypeImage
	case strings.HasPrefix(contentType, "audio/"):
		return bus.TypeAudio
	case strings.HasPrefix(contentType, "video/"):
		return bus.TypeVideo
	}
	return bus.TypeDocument
}

// displayName returns the best available display name for a Discord message author.
// Priority: server nickname > global display name > username.
func displayName(m *discordgo.Message) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

// splitMessage splits content into chunks of at most maxLen characters,
// breaking at a newline in the second half of a chunk when there is one.
func splitMessage(content string, maxLen int) []string {
	var chunks []string
	runes := []rune(content)
	for len(runes) > 0 {
		if len(runes) <= maxLen {
			chunks = append(chunks, string(runes))
			break
		}
		cutAt := maxLen
		for i := maxLen - 1; i > maxLen/2; i-- {
			if runes[i] == '\n' {
				cutAt = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cutAt]))
		runes = runes[cutAt:]
	}
	return chunks
}
