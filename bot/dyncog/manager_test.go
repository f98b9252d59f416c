package dyncog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	logpkg "github.com/kanaridev/KanariBot-Go/bot/logger"
)

const pingScript = `package pingpong

import "strings"

func Meta() map[string]interface{} {
	return map[string]interface{}{"name": "pingpong", "version": "0.1.0"}
}

func OnMessage(payload map[string]interface{}) map[string]interface{} {
	content, _ := payload["content"].(string)
	if strings.EqualFold(strings.TrimSpace(content), "kanari ping") {
		return map[string]interface{}{"reply": "pong 🏓"}
	}
	return nil
}
`

const sweeperScript = `package sweeper

func Meta() map[string]interface{} {
	return map[string]interface{}{"name": "sweeper", "version": "0.0.1"}
}

func OnMessage(payload map[string]interface{}) map[string]interface{} {
	content, _ := payload["content"].(string)
	if content == "spam" {
		return map[string]interface{}{"delete": true}
	}
	return nil
}
`

type notice struct {
	channelID string
	content   string
	ttl       time.Duration
}

type deletion struct {
	channelID string
	messageID string
}

type fakeGateway struct {
	notices []notice
	deletes []deletion
}

func (g *fakeGateway) SendNotice(_ context.Context, channelID, content string, ttl time.Duration) (*discordgo.Message, error) {
	g.notices = append(g.notices, notice{channelID, content, ttl})
	return &discordgo.Message{ID: "n1"}, nil
}

func (g *fakeGateway) DeleteMessage(_ context.Context, channelID, messageID string) error {
	g.deletes = append(g.deletes, deletion{channelID, messageID})
	return nil
}

func newTestManager(t *testing.T, dir string, gw *fakeGateway) *Manager {
	t.Helper()
	log, err := logpkg.New("error", "text", t.TempDir(), false)
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	t.Cleanup(func() { _ = log.Close() })

	m := NewManager(dir, 5*time.Second, log, nil)
	m.gw = gw
	return m
}

func writeScript(t *testing.T, dir, name, source string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(source), 0644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func guildMessage(author, content string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "700",
		GuildID:   "9",
		ChannelID: "100",
		Content:   content,
		Author:    &discordgo.User{ID: author},
	}}
}

func TestLoadAndDispatch(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "pingpong.go", pingScript)

	gw := &fakeGateway{}
	m := newTestManager(t, dir, gw)
	if err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	infos := m.Infos()
	if len(infos) != 1 || infos[0].Name != "pingpong" || infos[0].Version != "0.1.0" || infos[0].Disabled {
		t.Fatalf("infos = %+v", infos)
	}

	m.handleMessageCreate(nil, guildMessage("77", "kanari ping"))
	if len(gw.notices) != 1 {
		t.Fatalf("expected one reply, got %d", len(gw.notices))
	}
	reply := gw.notices[0]
	if reply.content != "pong 🏓" || reply.channelID != "100" || reply.ttl != 5*time.Second {
		t.Errorf("reply = %+v", reply)
	}

	m.handleMessageCreate(nil, guildMessage("77", "unrelated chatter"))
	if len(gw.notices) != 1 {
		t.Errorf("unrelated message answered: %v", gw.notices)
	}
}

func TestDispatchIgnoresBotsAndDMs(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "pingpong.go", pingScript)

	gw := &fakeGateway{}
	m := newTestManager(t, dir, gw)
	if err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	m.handleMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "1", GuildID: "9", ChannelID: "100", Content: "kanari ping",
		Author: &discordgo.User{ID: "88", Bot: true},
	}})
	m.handleMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "2", ChannelID: "100", Content: "kanari ping",
		Author: &discordgo.User{ID: "77"},
	}})

	if len(gw.notices) != 0 {
		t.Errorf("bot or DM message answered: %v", gw.notices)
	}
}

func TestDeleteAction(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "sweeper.go", sweeperScript)

	gw := &fakeGateway{}
	m := newTestManager(t, dir, gw)
	if err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	m.handleMessageCreate(nil, guildMessage("77", "spam"))

	if len(gw.deletes) != 1 || gw.deletes[0].messageID != "700" {
		t.Errorf("deletes = %v", gw.deletes)
	}
	if len(gw.notices) != 0 {
		t.Errorf("unexpected replies: %v", gw.notices)
	}
}

func TestLoadSkipsBrokenScripts(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "broken.go", "package broken\n\nfunc Meta() {") // syntax error
	writeScript(t, dir, "nometa.go", "package nometa\n\nfunc OnMessage(p map[string]interface{}) map[string]interface{} { return nil }\n")
	writeScript(t, dir, "mismatch.go", pingScript) // package name != file base
	writeScript(t, dir, "pingpong.go", pingScript)

	gw := &fakeGateway{}
	m := newTestManager(t, dir, gw)
	if err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	infos := m.Infos()
	if len(infos) != 1 || infos[0].Name != "pingpong" {
		t.Errorf("only the valid script should load, got %+v", infos)
	}
}

func TestReloadDisablesVanishedScripts(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "pingpong.go", pingScript)

	gw := &fakeGateway{}
	m := newTestManager(t, dir, gw)
	if err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove script: %v", err)
	}
	if err := m.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	infos := m.Infos()
	if len(infos) != 1 || !infos[0].Disabled {
		t.Fatalf("vanished script not disabled: %+v", infos)
	}

	m.handleMessageCreate(nil, guildMessage("77", "kanari ping"))
	if len(gw.notices) != 0 {
		t.Errorf("disabled script still replied: %v", gw.notices)
	}
}

func TestReloadRebindsChangedScript(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "pingpong.go", pingScript)

	gw := &fakeGateway{}
	m := newTestManager(t, dir, gw)
	if err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	updated := `package pingpong

func Meta() map[string]interface{} {
	return map[string]interface{}{"name": "pingpong", "version": "0.2.0"}
}

func OnMessage(payload map[string]interface{}) map[string]interface{} {
	content, _ := payload["content"].(string)
	if content == "kanari ping" {
		return map[string]interface{}{"reply": "pong v2"}
	}
	return nil
}
`
	writeScript(t, dir, "pingpong.go", updated)
	if err := m.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	infos := m.Infos()
	if len(infos) != 1 || infos[0].Version != "0.2.0" || infos[0].Disabled {
		t.Fatalf("rebind missing: %+v", infos)
	}

	m.handleMessageCreate(nil, guildMessage("77", "kanari ping"))
	if len(gw.notices) != 1 || gw.notices[0].content != "pong v2" {
		t.Errorf("notices = %v", gw.notices)
	}
}

func TestLoadMissingDirectory(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestManager(t, filepath.Join(t.TempDir(), "absent"), gw)
	if err := m.Load(); err != nil {
		t.Fatalf("missing dir must not fail: %v", err)
	}
	if len(m.Infos()) != 0 {
		t.Errorf("infos = %+v", m.Infos())
	}
}
