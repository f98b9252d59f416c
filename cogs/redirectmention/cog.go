package redirectmention

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/kanaridev/KanariBot-Go/bot"
	"github.com/kanaridev/KanariBot-Go/bot/cogs"
	"github.com/kanaridev/KanariBot-Go/bot/config"
	"github.com/kanaridev/KanariBot-Go/bot/discord"
	"github.com/kanaridev/KanariBot-Go/bot/redirect"
)

const (
	counterEditsApplied = "edits_applied"

	refreshTimeout = 15 * time.Second
	editTimeout    = 10 * time.Second
)

func init() {
	if err := cogs.Register("redirectmention", New); err != nil {
		panic(err)
	}
}

// gateway is the slice of the session this cog talks to.
type gateway interface {
	SelfID() string
	EditMessage(ctx context.Context, channelID, messageID, content string) error
}

// snapshot is one consistent view of the redirect configuration. A refresh
// replaces the whole snapshot instead of mutating fields in place.
type snapshot struct {
	target redirect.Target
	guards redirect.GuardSet
	norm   *redirect.Normalizer
}

// Cog rewrites the bot's own messages in guarded channels so that chat
// references always point at the configured redirect channel.
type Cog struct {
	cfg    *config.Config
	logger bot.Logger
	repo   bot.EventRecorder

	gw       gateway
	resolver *redirect.Resolver
	snap     atomic.Pointer[snapshot]
}

// New creates the cog from shared dependencies.
func New(deps *cogs.Deps) (cogs.Cog, error) {
	if deps == nil || deps.Config == nil {
		return nil, fmt.Errorf("config required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	c := &Cog{cfg: deps.Config, logger: deps.Logger}
	if deps.Repo != nil {
		c.repo = deps.Repo
	}
	return c, nil
}

// Name returns the cog identifier.
func (c *Cog) Name() string {
	return "redirectmention"
}

// Register wires the cog into the gateway session.
func (c *Cog) Register(s *discord.Session) error {
	if s == nil {
		return fmt.Errorf("session required")
	}
	c.gw = s
	c.resolver = redirect.NewResolver(s, s, c.logger)
	s.AddHandler(c.handleReady)
	s.AddHandler(c.handleMessageCreate)
	return nil
}

func (c *Cog) handleReady(_ *discordgo.Session, _ *discordgo.Ready) {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	c.refresh(ctx)
}

// refresh rebuilds the snapshot from configuration and the channel directory.
// It always installs a snapshot; an unresolved target or empty guard list
// leaves the cog inert rather than failing.
func (c *Cog) refresh(ctx context.Context) {
	marker := c.cfg.GetString("MarkerWord")
	norm, err := redirect.NewNormalizer(marker)
	if err != nil {
		c.logger.Error("marker word rejected", "marker", marker, "error", err)
		return
	}

	var target redirect.Target
	if id, ok := c.cfg.FirstChannelID(config.RedirectChannelKeys...); ok {
		target = c.resolver.Resolve(ctx, id)
	}
	guards := redirect.NewGuardSet(c.cfg.FirstIDSet(config.GuardChannelKeys...)...)

	if err := norm.CheckFixedPoint(target); err != nil {
		c.logger.Error("redirect mention re-triggers its own pattern, keeping previous snapshot",
			"mention", target.Mention, "error", err)
		return
	}

	c.snap.Store(&snapshot{target: target, guards: guards, norm: norm})

	if !target.Resolved() || guards.Empty() {
		c.logger.Warn("redirect mention inert",
			"redirect_resolved", target.Resolved(), "guard_channels", len(guards))
		return
	}
	c.logger.Info("redirect mention active",
		"marker", norm.Marker(),
		"redirect_channel", target.ID,
		"mention", target.Mention,
		"source", target.Source.String(),
		"guard_channels", guards.IDs())
}

func (c *Cog) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil {
		return
	}
	c.maybeNormalize(m.Message)
}

func (c *Cog) maybeNormalize(msg *discordgo.Message) {
	snap := c.snap.Load()
	if snap == nil {
		return
	}
	if !eligible(snap, c.gw.SelfID(), msg) {
		return
	}

	newText, changed := snap.norm.Normalize(msg.Content, snap.target)
	if !changed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), editTimeout)
	defer cancel()

	if err := c.gw.EditMessage(ctx, msg.ChannelID, msg.ID, newText); err != nil {
		if discord.IsUnknownMessage(err) {
			c.logger.Debug("message vanished before edit",
				"channel_id", msg.ChannelID, "message_id", msg.ID)
		} else {
			c.logger.Warn("mention edit failed",
				"channel_id", msg.ChannelID, "message_id", msg.ID, "error", err)
		}
		return
	}

	c.logger.Debug("mention normalized",
		"channel_id", msg.ChannelID, "message_id", msg.ID, "redirect_channel", snap.target.ID)
	if c.repo != nil {
		if err := c.repo.IncrementCounter(ctx, counterEditsApplied); err != nil {
			c.logger.Debug("counter update failed", "key", counterEditsApplied, "error", err)
		}
	}
}

// eligible reports whether msg is one of the bot's own messages in a guarded
// channel while a redirect target is resolved.
func eligible(snap *snapshot, selfID string, msg *discordgo.Message) bool {
	if msg == nil || msg.Author == nil || selfID == "" || msg.Author.ID != selfID {
		return false
	}
	if !snap.target.Resolved() || snap.guards.Empty() {
		return false
	}
	chID, ok := discord.ParseSnowflake(msg.ChannelID)
	if !ok {
		return false
	}
	return snap.guards.Contains(chID)
}
