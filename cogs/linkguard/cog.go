package linkguard

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/kanaridev/KanariBot-Go/bot"
	"github.com/kanaridev/KanariBot-Go/bot/cogs"
	"github.com/kanaridev/KanariBot-Go/bot/config"
	"github.com/kanaridev/KanariBot-Go/bot/discord"
	"github.com/kanaridev/KanariBot-Go/bot/redirect"
)

const (
	cogName        = "linkguard"
	kindOwnMessage = "own_message"
	kindNonLink    = "non_link"

	deleteTimeout    = 10 * time.Second
	detailMaxRunes   = 120
	channelsCogKey   = "channels"
	channelsTopLevel = "LinkOnlyChannels"
)

var urlPattern = regexp.MustCompile(`(?i)https?://\S+`)

func init() {
	if err := cogs.Register(cogName, New); err != nil {
		panic(err)
	}
}

// gateway is the slice of the session this cog talks to.
type gateway interface {
	SelfID() string
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

// Cog keeps configured channels link-only: posts without a URL are removed,
// and the bot's own messages there are always removed.
type Cog struct {
	logger   bot.Logger
	repo     bot.EventRecorder
	channels redirect.GuardSet
	gw       gateway
}

// New creates the cog from shared dependencies. The channel list comes from
// the cog section first, then the top-level key.
func New(deps *cogs.Deps) (cogs.Cog, error) {
	if deps == nil || deps.Config == nil {
		return nil, fmt.Errorf("config required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}

	raw := deps.Config.GetCogString(cogName, channelsCogKey)
	if raw == "" {
		raw = deps.Config.GetString(channelsTopLevel)
	}

	c := &Cog{
		logger:   deps.Logger,
		channels: redirect.NewGuardSet(config.ParseIDList(raw)...),
	}
	if deps.Repo != nil {
		c.repo = deps.Repo
	}
	return c, nil
}

// Name returns the cog identifier.
func (c *Cog) Name() string {
	return cogName
}

// Register wires the cog into the gateway session.
func (c *Cog) Register(s *discord.Session) error {
	if s == nil {
		return fmt.Errorf("session required")
	}
	c.gw = s
	s.AddHandler(c.handleMessageCreate)
	s.AddHandler(c.handleMessageUpdate)

	if c.channels.Empty() {
		c.logger.Warn("link guard inert, no channels configured")
	} else {
		c.logger.Info("link guard active", "channels", c.channels.IDs())
	}
	return nil
}

func (c *Cog) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil {
		return
	}
	c.inspect(m.Message)
}

// handleMessageUpdate re-checks edited messages. Partial update events carry
// no author or content and are ignored.
func (c *Cog) handleMessageUpdate(_ *discordgo.Session, m *discordgo.MessageUpdate) {
	if m == nil || m.Message == nil || m.Author == nil || m.Content == "" {
		return
	}
	c.inspect(m.Message)
}

func (c *Cog) inspect(msg *discordgo.Message) {
	if msg.Author == nil || c.channels.Empty() {
		return
	}
	chID, ok := discord.ParseSnowflake(msg.ChannelID)
	if !ok || !c.channels.Contains(chID) {
		return
	}

	selfID := c.gw.SelfID()
	switch {
	case selfID != "" && msg.Author.ID == selfID:
		c.remove(msg, kindOwnMessage)
	case msg.Author.Bot:
		return
	case !urlPattern.MatchString(msg.Content):
		c.remove(msg, kindNonLink)
	}
}

func (c *Cog) remove(msg *discordgo.Message, kind string) {
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
	defer cancel()

	if err := c.gw.DeleteMessage(ctx, msg.ChannelID, msg.ID); err != nil {
		switch {
		case discord.IsUnknownMessage(err):
			c.logger.Debug("message already gone",
				"channel_id", msg.ChannelID, "message_id", msg.ID)
		case discord.IsMissingPermissions(err):
			c.logger.Warn("cannot delete in link-only channel, missing permissions",
				"channel_id", msg.ChannelID, "message_id", msg.ID)
		default:
			c.logger.Warn("link guard delete failed",
				"channel_id", msg.ChannelID, "message_id", msg.ID, "error", err)
		}
		return
	}

	c.logger.Debug("link-only delete",
		"channel_id", msg.ChannelID, "message_id", msg.ID, "kind", kind)

	if c.repo == nil {
		return
	}
	event := discord.NewGuardEvent(cogName, kind, msg)
	event.Detail = snippet(msg.Content, detailMaxRunes)
	if err := c.repo.RecordGuardEvent(ctx, event); err != nil {
		c.logger.Warn("guard event not recorded",
			"channel_id", msg.ChannelID, "message_id", msg.ID, "error", err)
	}
}

func snippet(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
