package discord

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/kanaridev/KanariBot-Go/bot"
)

// Options configures the gateway session.
type Options struct {
	Token              string
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// Session wraps the gateway connection and the small REST surface the cogs
// use. It also serves as the channel directory and fetcher for redirect
// resolution.
type Session struct {
	dg      *discordgo.Session
	limiter *RateLimiter
	logger  bot.Logger
}

// New builds a Session. The connection is not opened yet.
func New(opts Options, logger bot.Logger) (*Session, error) {
	token := strings.TrimSpace(opts.Token)
	if token == "" {
		return nil, errors.New("bot token required")
	}

	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
	dg.StateEnabled = true

	return &Session{
		dg:      dg,
		limiter: NewRateLimiter(opts.RateLimitPerSecond, opts.RateLimitBurst),
		logger:  logger,
	}, nil
}

// Raw exposes the underlying library session.
func (s *Session) Raw() *discordgo.Session {
	return s.dg
}

// AddHandler registers a gateway event handler and returns its remover.
func (s *Session) AddHandler(handler interface{}) func() {
	return s.dg.AddHandler(handler)
}

// Open connects to the gateway.
func (s *Session) Open() error {
	if err := s.dg.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	return nil
}

// Close disconnects from the gateway.
func (s *Session) Close() error {
	return s.dg.Close()
}

// SelfID returns the bot's own user id, or "" before the session is ready.
func (s *Session) SelfID() string {
	if s == nil || s.dg == nil || s.dg.State == nil || s.dg.State.User == nil {
		return ""
	}
	return s.dg.State.User.ID
}

// ChannelMention looks a channel up in the local state cache. A miss is not
// an error.
func (s *Session) ChannelMention(id int64) (string, bool) {
	ch, err := s.dg.State.Channel(FormatSnowflake(id))
	if err != nil || ch == nil {
		return "", false
	}
	return ch.Mention(), true
}

// ChannelName returns the channel's display name from the state cache.
func (s *Session) ChannelName(id int64) (string, bool) {
	ch, err := s.dg.State.Channel(FormatSnowflake(id))
	if err != nil || ch == nil || ch.Name == "" {
		return "", false
	}
	return ch.Name, true
}

// FetchChannelMention retrieves a channel over REST.
func (s *Session) FetchChannelMention(ctx context.Context, id int64) (string, error) {
	ch, err := s.dg.Channel(FormatSnowflake(id), discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("fetch channel %d: %w", id, err)
	}
	return ch.Mention(), nil
}

// SendNotice sends content to a channel and, when ttl is positive, schedules
// the notice's deletion once the ttl passes.
func (s *Session) SendNotice(ctx context.Context, channelID, content string, ttl time.Duration) (*discordgo.Message, error) {
	chID, _ := ParseSnowflake(channelID)

	var msg *discordgo.Message
	err := WithRetry(ctx, s.limiter, chID, func() error {
		m, sendErr := s.dg.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
		if sendErr != nil {
			return sendErr
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	if ttl > 0 && msg != nil {
		msgID := msg.ID
		time.AfterFunc(ttl, func() {
			if delErr := s.dg.ChannelMessageDelete(channelID, msgID); delErr != nil && s.logger != nil {
				s.logger.Debug("notice cleanup failed", "channel_id", channelID, "message_id", msgID, "error", delErr)
			}
		})
	}

	return msg, nil
}

// EditMessage rewrites a message's content.
func (s *Session) EditMessage(ctx context.Context, channelID, messageID, content string) error {
	chID, _ := ParseSnowflake(channelID)
	return WithRetry(ctx, s.limiter, chID, func() error {
		_, err := s.dg.ChannelMessageEdit(channelID, messageID, content, discordgo.WithContext(ctx))
		return err
	})
}

// DeleteMessage removes a message.
func (s *Session) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	chID, _ := ParseSnowflake(channelID)
	return WithRetry(ctx, s.limiter, chID, func() error {
		return s.dg.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx))
	})
}

// ParseSnowflake converts a platform id string to the numeric form used in
// configuration. Non-digit strings report false.
func ParseSnowflake(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// FormatSnowflake converts a numeric id back to the platform's string form.
func FormatSnowflake(id int64) string {
	return strconv.FormatInt(id, 10)
}

// NewGuardEvent builds the audit record for a moderation action on msg. Ids
// that fail to parse are stored as zero rather than dropping the record.
func NewGuardEvent(cog, kind string, msg *discordgo.Message) *bot.GuardEvent {
	event := &bot.GuardEvent{Cog: cog, Kind: kind}
	if msg == nil {
		return event
	}
	event.GuildID, _ = ParseSnowflake(msg.GuildID)
	event.ChannelID, _ = ParseSnowflake(msg.ChannelID)
	event.MessageID, _ = ParseSnowflake(msg.ID)
	if msg.Author != nil {
		event.AuthorID, _ = ParseSnowflake(msg.Author.ID)
	}
	return event
}
