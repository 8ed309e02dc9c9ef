package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/nimbusworks/aviary/internal/apperr"
	"github.com/nimbusworks/aviary/internal/lifecycle"
)

// discordMaxMessageLen is Discord's hard message length limit.
const discordMaxMessageLen = 2000

// DiscordChannel connects to Discord via the Bot API using gateway events.
type DiscordChannel struct {
	session   *discordgo.Session
	router    Router
	botUserID string
}

// NewDiscord creates a Discord channel.
func NewDiscord(botToken string, router Router) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &DiscordChannel{session: session, router: router}, nil
}

func (c *DiscordChannel) Name() string { return lifecycle.PlatformDiscord }

// Start opens the gateway connection and begins receiving events.
func (c *DiscordChannel) Start(_ context.Context) error {
	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	user, err := c.session.User("@me")
	if err != nil {
		_ = c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID

	slog.Info("channels.discord.connected", "username", user.Username, "bot_id", user.ID)
	return nil
}

// Stop closes the gateway connection.
func (c *DiscordChannel) Stop(_ context.Context) error {
	slog.Info("channels.discord.stopping")
	return c.session.Close()
}

func (c *DiscordChannel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.botUserID || m.Author.Bot {
		return
	}

	content := m.Content
	for _, att := range m.Attachments {
		if content != "" {
			content += "\n"
		}
		content += fmt.Sprintf("[attachment: %s]", att.URL)
	}
	if strings.TrimSpace(content) == "" {
		return
	}

	inst, err := c.router.RoutePlatform(lifecycle.PlatformDiscord, c.botUserID)
	if err != nil {
		if !apperr.IsKind(err, apperr.NotFound) {
			slog.Warn("channels.discord.route_failed", "error", err)
		}
		return
	}

	reply := runTurn(context.Background(), inst, fmt.Sprintf("%s: %s", m.Author.Username, content))
	if err := c.sendChunked(m.ChannelID, reply); err != nil {
		slog.Error("channels.discord.send_failed", "channel_id", m.ChannelID, "error", err)
	}
}

// sendChunked sends a message, splitting at newlines when over the Discord
// length limit.
func (c *DiscordChannel) sendChunked(channelID, content string) error {
	for len(content) > 0 {
		chunk := content
		if len(chunk) > discordMaxMessageLen {
			cutAt := discordMaxMessageLen
			if idx := strings.LastIndexByte(content[:discordMaxMessageLen], '\n'); idx > discordMaxMessageLen/2 {
				cutAt = idx + 1
			}
			chunk = content[:cutAt]
			content = content[cutAt:]
		} else {
			content = ""
		}

		if _, err := c.session.ChannelMessageSend(channelID, chunk); err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
	}
	return nil
}
