package dyncog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/kanaridev/KanariBot-Go/bot"
	"github.com/kanaridev/KanariBot-Go/bot/discord"
)

const handleTimeout = 15 * time.Second

// gateway is the slice of the session script cogs act through.
type gateway interface {
	SendNotice(ctx context.Context, channelID, content string, ttl time.Duration) (*discordgo.Message, error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

// Info describes one loaded script cog.
type Info struct {
	Name     string
	Version  string
	Disabled bool
}

// Manager loads interpreted script cogs from a directory and feeds them
// guild messages. Script load failures are logged and skipped; a reload
// rebinds changed scripts and disables the ones that disappeared.
type Manager struct {
	mu      sync.RWMutex
	scripts map[string]*scriptCog

	dir    string
	ttl    time.Duration
	logger bot.Logger
	pool   bot.WorkerPool
	gw     gateway
}

// NewManager creates a manager for dir. Replies sent on behalf of scripts
// use ttl for self-deletion.
func NewManager(dir string, ttl time.Duration, logger bot.Logger, pool bot.WorkerPool) *Manager {
	m := &Manager{
		scripts: make(map[string]*scriptCog),
		dir:     strings.TrimSpace(dir),
		ttl:     ttl,
		logger:  logger,
	}
	if pool != nil {
		m.pool = pool
	}
	return m
}

// Load scans the script directory and (re)binds every loadable script. A
// missing directory simply means no scripts.
func (m *Manager) Load() error {
	if m.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			m.logger.Debug("no script cog directory", "dir", m.dir)
			return nil
		}
		return fmt.Errorf("read script dir: %w", err)
	}

	loaded := make(map[string]struct{})
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}

		script, err := loadScript(filepath.Join(m.dir, name))
		if err != nil {
			m.logger.Warn("script cog load failed", "file", name, "error", err)
			continue
		}

		key := script.meta.Name
		loaded[key] = struct{}{}
		m.mu.Lock()
		if existing, ok := m.scripts[key]; ok {
			existing.update(script)
		} else {
			m.scripts[key] = script
		}
		m.mu.Unlock()
		m.logger.Info("script cog loaded",
			"name", key, "version", script.meta.Version, "file", name)
	}

	m.mu.Lock()
	for name, script := range m.scripts {
		if _, ok := loaded[name]; !ok && script.active() {
			script.disable()
			m.logger.Info("script cog disabled", "name", name)
		}
	}
	m.mu.Unlock()
	return nil
}

// Reload rescans the directory, replacing bindings wholesale.
func (m *Manager) Reload() error {
	return m.Load()
}

// Infos returns metadata for known script cogs, sorted by name.
func (m *Manager) Infos() []Info {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	infos := make([]Info, 0, len(m.scripts))
	for _, script := range m.scripts {
		infos = append(infos, Info{
			Name:     script.meta.Name,
			Version:  script.meta.Version,
			Disabled: !script.active(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Register wires the manager into the gateway session.
func (m *Manager) Register(s *discord.Session) error {
	if s == nil {
		return fmt.Errorf("session required")
	}
	m.gw = s
	s.AddHandler(m.handleMessageCreate)
	return nil
}

func (m *Manager) handleMessageCreate(_ *discordgo.Session, event *discordgo.MessageCreate) {
	if event == nil || event.Message == nil {
		return
	}
	msg := event.Message
	if msg.Author == nil || msg.Author.Bot || msg.GuildID == "" || msg.Content == "" {
		return
	}

	m.mu.RLock()
	active := make([]*scriptCog, 0, len(m.scripts))
	for _, script := range m.scripts {
		if script.active() {
			active = append(active, script)
		}
	}
	m.mu.RUnlock()
	if len(active) == 0 {
		return
	}

	payload := map[string]interface{}{
		"content":    msg.Content,
		"author_id":  msg.Author.ID,
		"author":     msg.Author.Username,
		"channel_id": msg.ChannelID,
		"guild_id":   msg.GuildID,
		"message_id": msg.ID,
	}

	task := func() {
		ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
		defer cancel()
		for _, script := range active {
			m.dispatch(ctx, script, msg, payload)
		}
	}

	if m.pool != nil {
		if !m.pool.TrySubmit(task) {
			m.logger.Warn("worker queue full, dropping script dispatch",
				"channel_id", msg.ChannelID, "message_id", msg.ID)
		}
		return
	}
	task()
}

func (m *Manager) dispatch(ctx context.Context, script *scriptCog, msg *discordgo.Message, payload map[string]interface{}) {
	action, err := script.onMessage(payload)
	if err != nil {
		m.logger.Warn("script cog handler failed",
			"script", script.meta.Name, "message_id", msg.ID, "error", err)
		return
	}
	if action == nil {
		return
	}

	if action.Reply != "" {
		if _, err := m.gw.SendNotice(ctx, msg.ChannelID, action.Reply, m.ttl); err != nil {
			m.logger.Warn("script reply failed",
				"script", script.meta.Name, "channel_id", msg.ChannelID, "error", err)
		}
	}
	if action.Delete {
		if err := m.gw.DeleteMessage(ctx, msg.ChannelID, msg.ID); err != nil && !discord.IsUnknownMessage(err) {
			m.logger.Warn("script delete failed",
				"script", script.meta.Name, "message_id", msg.ID, "error", err)
		}
	}
}
