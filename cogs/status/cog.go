package status

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/kanaridev/KanariBot-Go/bot"
	"github.com/kanaridev/KanariBot-Go/bot/cogs"
	"github.com/kanaridev/KanariBot-Go/bot/config"
	"github.com/kanaridev/KanariBot-Go/bot/discord"
	"github.com/kanaridev/KanariBot-Go/bot/redirect"
)

const (
	cogName = "status"

	replyTTL       = 30 * time.Second
	gatherTimeout  = 10 * time.Second
	releaseTimeout = 5 * time.Second
)

func init() {
	if err := cogs.Register(cogName, New); err != nil {
		panic(err)
	}
}

// gateway is the slice of the session this cog talks to.
type gateway interface {
	SendNotice(ctx context.Context, channelID, content string, ttl time.Duration) (*discordgo.Message, error)
}

// Cog answers the status command from configured admins with a fenced
// snapshot of the bot's guard state.
type Cog struct {
	cfg     *config.Config
	logger  bot.Logger
	repo    bot.EventRecorder
	updater bot.ReleaseChecker
	build   bot.BuildInfo

	prefix string
	admins redirect.GuardSet

	gw       gateway
	resolver *redirect.Resolver
}

// New creates the cog from shared dependencies.
func New(deps *cogs.Deps) (cogs.Cog, error) {
	if deps == nil || deps.Config == nil {
		return nil, fmt.Errorf("config required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	cfg := deps.Config

	c := &Cog{
		cfg:    cfg,
		logger: deps.Logger,
		build:  deps.Build,
		prefix: strings.TrimSpace(cfg.GetString("CommandPrefix")),
		admins: redirect.NewGuardSet(config.ParseIDList(cfg.GetString("AdminUserIDs"))...),
	}
	if deps.Repo != nil {
		c.repo = deps.Repo
	}
	if deps.Updater != nil {
		c.updater = deps.Updater
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
	c.resolver = redirect.NewResolver(s, s, c.logger)
	s.AddHandler(c.handleMessageCreate)

	if c.admins.Empty() {
		c.logger.Warn("status command inert, no admin user ids configured")
	}
	return nil
}

func (c *Cog) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil || m.Author.Bot {
		return
	}
	if !c.isStatusCommand(m.Content) {
		return
	}
	userID, ok := discord.ParseSnowflake(m.Author.ID)
	if !ok || !c.admins.Contains(userID) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), gatherTimeout)
	defer cancel()

	report := c.report(ctx)
	if _, err := c.gw.SendNotice(ctx, m.ChannelID, report, replyTTL); err != nil {
		c.logger.Warn("status reply failed", "channel_id", m.ChannelID, "error", err)
	}
}

func (c *Cog) isStatusCommand(content string) bool {
	fields := strings.Fields(content)
	return len(fields) >= 2 && fields[0] == c.prefix && strings.EqualFold(fields[1], "status")
}

// report renders the fenced status snapshot.
func (c *Cog) report(ctx context.Context) string {
	var b strings.Builder
	b.WriteString("```\nKanariBot status\n")

	fmt.Fprintf(&b, "  version   : %s (%s) built %s\n",
		orUnknown(c.build.BinVersion), orUnknown(c.build.CommitSHA), orUnknown(c.build.BuildTime))
	fmt.Fprintf(&b, "  runtime   : %s %s\n", c.build.RuntimeVer, c.build.Platform)

	marker := c.cfg.GetString("MarkerWord")
	fmt.Fprintf(&b, "  marker    : %s\n", marker)

	var target redirect.Target
	if id, ok := c.cfg.FirstChannelID(config.RedirectChannelKeys...); ok {
		target = c.resolver.Resolve(ctx, id)
	}
	if target.Resolved() {
		fmt.Fprintf(&b, "  redirect  : %d (%s, via %s)\n", target.ID, target.Mention, target.Source)
	} else {
		b.WriteString("  redirect  : not configured\n")
	}

	guards := redirect.NewGuardSet(c.cfg.FirstIDSet(config.GuardChannelKeys...)...)
	if guards.Empty() {
		b.WriteString("  guards    : none\n")
	} else {
		fmt.Fprintf(&b, "  guards    : %v\n", guards.IDs())
	}

	fmt.Fprintf(&b, "  cogs      : %s\n", strings.Join(cogs.Names(), ", "))

	b.WriteString(c.eventLines(ctx))
	b.WriteString(c.releaseLine(ctx))
	b.WriteString("```")
	return b.String()
}

func (c *Cog) eventLines(ctx context.Context) string {
	if c.repo == nil {
		return ""
	}
	var b strings.Builder

	if byCog, err := c.repo.CountGuardEventsByCog(ctx); err == nil && len(byCog) > 0 {
		names := make([]string, 0, len(byCog))
		for name := range byCog {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		var total int64
		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%d", name, byCog[name]))
			total += byCog[name]
		}
		fmt.Fprintf(&b, "  events    : %s (total %d)\n", strings.Join(parts, " "), total)
	}

	edits, _ := c.repo.GetCounter(ctx, "edits_applied")
	notices, _ := c.repo.GetCounter(ctx, "notices_sent")
	fmt.Fprintf(&b, "  counters  : edits_applied=%d notices_sent=%d\n", edits, notices)
	return b.String()
}

func (c *Cog) releaseLine(ctx context.Context) string {
	if c.updater == nil {
		return "  release   : check disabled\n"
	}

	checkCtx, cancel := context.WithTimeout(ctx, releaseTimeout)
	defer cancel()

	rel, err := c.updater.CheckUpdate(checkCtx)
	switch {
	case err != nil:
		return "  release   : unknown\n"
	case rel.Newer:
		return fmt.Sprintf("  release   : %s available, %s\n", rel.TagName, rel.URL)
	default:
		return "  release   : up to date\n"
	}
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}
