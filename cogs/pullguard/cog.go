package pullguard

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/kanaridev/KanariBot-Go/bot"
	"github.com/kanaridev/KanariBot-Go/bot/cogs"
	"github.com/kanaridev/KanariBot-Go/bot/config"
	"github.com/kanaridev/KanariBot-Go/bot/discord"
	"github.com/kanaridev/KanariBot-Go/bot/imaging"
	"github.com/kanaridev/KanariBot-Go/bot/persona"
	"github.com/kanaridev/KanariBot-Go/bot/redirect"
)

const (
	cogName            = "pullguard"
	counterNoticesSent = "notices_sent"
	kindImageRedirect  = "image_redirect"

	refreshTimeout  = 15 * time.Second
	handleTimeout   = 30 * time.Second
	minNoticeTTL    = 3 * time.Second
	maxEvidenceSize = 8 << 20
)

func init() {
	if err := cogs.Register(cogName, New); err != nil {
		panic(err)
	}
}

// gateway is the slice of the session this cog talks to.
type gateway interface {
	ChannelName(id int64) (string, bool)
	SendNotice(ctx context.Context, channelID, content string, ttl time.Duration) (*discordgo.Message, error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

// snapshot is one consistent view of the redirect configuration.
type snapshot struct {
	target redirect.Target
	guards redirect.GuardSet
	norm   *redirect.Normalizer
}

// Cog redirects gacha-pull image posts out of guarded channels: the author
// gets a short-lived persona notice pointing at the redirect channel, the
// post is optionally deleted, and a guard event is recorded.
type Cog struct {
	cfg    *config.Config
	logger bot.Logger
	repo   bot.EventRecorder
	pool   bot.WorkerPool
	lines  *persona.Store

	tone        string
	noticeTTL   time.Duration
	mentionUser bool
	deleteOn    bool
	evidenceDir string
	maxSide     int
	jpegQuality int

	httpClient *retryablehttp.Client

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
	cfg := deps.Config

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = nil

	c := &Cog{
		cfg:         cfg,
		logger:      deps.Logger,
		lines:       deps.Persona,
		tone:        cfg.GetString("PersonaTone"),
		noticeTTL:   time.Duration(cfg.GetInt("NoticeTTLSeconds")) * time.Second,
		mentionUser: cfg.GetBool("MentionUser"),
		deleteOn:    cfg.GetBool("DeleteOnGuard"),
		evidenceDir: strings.TrimSpace(cfg.GetString("EvidenceDir")),
		maxSide:     cfg.GetInt("EvidenceMaxSide"),
		jpegQuality: cfg.GetInt("EvidenceJPEGQuality"),
		httpClient:  client,
	}
	if deps.Repo != nil {
		c.repo = deps.Repo
	}
	if deps.Pool != nil {
		c.pool = deps.Pool
	}
	if c.lines == nil {
		c.lines = persona.Default()
	}
	if c.noticeTTL < minNoticeTTL {
		c.noticeTTL = minNoticeTTL
	}

	// Cog section overrides.
	if tone := cfg.GetCogString(cogName, "tone"); tone != "" {
		c.tone = tone
	}
	if section, ok := cfg.GetCogConfig(cogName); ok {
		if _, exists := section["delete_on_guard"]; exists {
			c.deleteOn = cfg.GetCogBool(cogName, "delete_on_guard")
		}
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
	s.AddHandler(c.handleReady)
	s.AddHandler(c.handleMessageCreate)
	return nil
}

func (c *Cog) handleReady(_ *discordgo.Session, _ *discordgo.Ready) {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	c.refresh(ctx)
}

func (c *Cog) refresh(ctx context.Context) {
	norm, err := redirect.NewNormalizer(c.cfg.GetString("MarkerWord"))
	if err != nil {
		c.logger.Error("marker word rejected", "error", err)
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
		c.logger.Warn("pull guard inert",
			"redirect_resolved", target.Resolved(), "guard_channels", len(guards))
		return
	}
	c.logger.Info("pull guard active",
		"redirect_channel", target.ID,
		"source", target.Source.String(),
		"guard_channels", guards.IDs(),
		"tone", c.tone,
		"delete_on_guard", c.deleteOn,
		"evidence", c.evidenceDir != "")
}

func (c *Cog) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil {
		return
	}
	snap := c.snap.Load()
	if snap == nil || !eligible(snap, m.Message) {
		return
	}

	msg := m.Message
	task := func() {
		ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
		defer cancel()
		c.handle(ctx, snap, msg)
	}

	if c.pool != nil {
		if !c.pool.TrySubmit(task) {
			c.logger.Warn("worker queue full, dropping guard notice",
				"channel_id", msg.ChannelID, "message_id", msg.ID)
		}
		return
	}
	task()
}

// handle runs the full guard sequence for one eligible message. Evidence is
// captured before the original message can be deleted.
func (c *Cog) handle(ctx context.Context, snap *snapshot, msg *discordgo.Message) {
	evidencePath := c.captureEvidence(ctx, msg)

	notice := c.noticeFor(snap, msg)
	if _, err := c.gw.SendNotice(ctx, msg.ChannelID, notice, c.noticeTTL); err != nil {
		c.logger.Warn("guard notice failed",
			"channel_id", msg.ChannelID, "message_id", msg.ID, "error", err)
	} else if c.repo != nil {
		if err := c.repo.IncrementCounter(ctx, counterNoticesSent); err != nil {
			c.logger.Debug("counter update failed", "key", counterNoticesSent, "error", err)
		}
	}

	if c.deleteOn {
		if err := c.gw.DeleteMessage(ctx, msg.ChannelID, msg.ID); err != nil {
			if discord.IsUnknownMessage(err) {
				c.logger.Debug("message already gone",
					"channel_id", msg.ChannelID, "message_id", msg.ID)
			} else {
				c.logger.Warn("guard delete failed",
					"channel_id", msg.ChannelID, "message_id", msg.ID, "error", err)
			}
		}
	}

	c.record(ctx, msg, evidencePath)
}

// noticeFor renders the persona line for msg's author. The rendered line runs
// through the normalizer so stale tokens in hand-written templates land on
// the canonical mention.
func (c *Cog) noticeFor(snap *snapshot, msg *discordgo.Message) string {
	user := msg.Author.Username
	if c.mentionUser {
		user = msg.Author.Mention()
	}
	channelName := "channel"
	if name, ok := c.gw.ChannelName(snap.target.ID); ok {
		channelName = name
	}

	line := c.lines.PickLine(c.tone)
	line = persona.Expand(line, persona.Vars{
		User:        user,
		Channel:     snap.target.Mention,
		ChannelName: channelName,
	})
	line, _ = snap.norm.Normalize(line, snap.target)
	return line
}

func (c *Cog) record(ctx context.Context, msg *discordgo.Message, evidencePath string) {
	if c.repo == nil {
		return
	}
	event := discord.NewGuardEvent(cogName, kindImageRedirect, msg)
	if att := firstImage(msg); att != nil {
		event.Detail = att.Filename
	}
	event.EvidencePath = evidencePath
	if err := c.repo.RecordGuardEvent(ctx, event); err != nil {
		c.logger.Warn("guard event not recorded",
			"channel_id", msg.ChannelID, "message_id", msg.ID, "error", err)
	}
}

// captureEvidence downloads the first image attachment and stores a compact
// JPEG under the evidence directory. Best effort; "" means nothing stored.
func (c *Cog) captureEvidence(ctx context.Context, msg *discordgo.Message) string {
	if c.evidenceDir == "" {
		return ""
	}
	att := firstImage(msg)
	if att == nil || att.URL == "" {
		return ""
	}
	if att.Size > maxEvidenceSize {
		c.logger.Debug("attachment too large for evidence",
			"message_id", msg.ID, "size", att.Size)
		return ""
	}

	data, err := c.downloadAttachment(ctx, att.URL)
	if err != nil {
		c.logger.Warn("evidence download failed",
			"message_id", msg.ID, "url", att.URL, "error", err)
		return ""
	}

	compacted, err := imaging.Compact(data, imaging.Options{
		MaxSide: c.maxSide,
		Quality: c.jpegQuality,
	})
	if err != nil {
		c.logger.Warn("evidence compact failed", "message_id", msg.ID, "error", err)
		return ""
	}

	if err := os.MkdirAll(c.evidenceDir, 0755); err != nil {
		c.logger.Warn("evidence dir not writable", "dir", c.evidenceDir, "error", err)
		return ""
	}
	path := filepath.Join(c.evidenceDir, msg.ID+".jpg")
	if err := os.WriteFile(path, compacted, 0644); err != nil {
		c.logger.Warn("evidence write failed", "path", path, "error", err)
		return ""
	}

	c.logger.Debug("evidence stored", "message_id", msg.ID, "path", path, "bytes", len(compacted))
	return path
}

func (c *Cog) downloadAttachment(ctx context.Context, url string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("attachment fetch status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxEvidenceSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxEvidenceSize {
		return nil, fmt.Errorf("attachment exceeds %d bytes", maxEvidenceSize)
	}
	return data, nil
}

// eligible reports whether msg is a non-bot guild message with an image
// attachment in a guarded channel while a redirect target is resolved.
func eligible(snap *snapshot, msg *discordgo.Message) bool {
	if msg == nil || msg.Author == nil || msg.Author.Bot {
		return false
	}
	if msg.GuildID == "" {
		return false
	}
	if !snap.target.Resolved() || snap.guards.Empty() {
		return false
	}
	chID, ok := discord.ParseSnowflake(msg.ChannelID)
	if !ok || !snap.guards.Contains(chID) {
		return false
	}
	return firstImage(msg) != nil
}

func firstImage(msg *discordgo.Message) *discordgo.Attachment {
	for _, att := range msg.Attachments {
		if att == nil {
			continue
		}
		if strings.HasPrefix(strings.ToLower(att.ContentType), "image/") {
			return att
		}
	}
	return nil
}
