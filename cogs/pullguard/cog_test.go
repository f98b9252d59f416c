package pullguard

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/kanaridev/KanariBot-Go/bot"
	"github.com/kanaridev/KanariBot-Go/bot/cogs"
	"github.com/kanaridev/KanariBot-Go/bot/config"
	logpkg "github.com/kanaridev/KanariBot-Go/bot/logger"
	"github.com/kanaridev/KanariBot-Go/bot/persona"
	"github.com/kanaridev/KanariBot-Go/bot/redirect"
)

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
	channelNames map[int64]string
	notices      []notice
	deletes      []deletion
}

func (g *fakeGateway) ChannelName(id int64) (string, bool) {
	name, ok := g.channelNames[id]
	return name, ok
}

func (g *fakeGateway) SendNotice(_ context.Context, channelID, content string, ttl time.Duration) (*discordgo.Message, error) {
	g.notices = append(g.notices, notice{channelID, content, ttl})
	return &discordgo.Message{ID: "n1", ChannelID: channelID}, nil
}

func (g *fakeGateway) DeleteMessage(_ context.Context, channelID, messageID string) error {
	g.deletes = append(g.deletes, deletion{channelID, messageID})
	return nil
}

type fakeDirectory map[int64]string

func (d fakeDirectory) ChannelMention(id int64) (string, bool) {
	mention, ok := d[id]
	return mention, ok
}

type fakeRecorder struct {
	events   []*bot.GuardEvent
	counters map[string]int64
}

func (r *fakeRecorder) RecordGuardEvent(_ context.Context, event *bot.GuardEvent) error {
	r.events = append(r.events, event)
	return nil
}
func (r *fakeRecorder) CountGuardEvents(context.Context) (int64, error) { return 0, nil }
func (r *fakeRecorder) CountGuardEventsByCog(context.Context) (map[string]int64, error) {
	return nil, nil
}
func (r *fakeRecorder) RecentGuardEvents(context.Context, int) ([]*bot.GuardEvent, error) {
	return nil, nil
}
func (r *fakeRecorder) IncrementCounter(_ context.Context, key string) error {
	if r.counters == nil {
		r.counters = make(map[string]int64)
	}
	r.counters[key]++
	return nil
}
func (r *fakeRecorder) GetCounter(_ context.Context, key string) (int64, error) {
	return r.counters[key], nil
}

func loadTestConfig(t *testing.T, content string) *config.Config {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "pullguard_*.ini")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatalf("write config: %v", err)
	}
	tmpFile.Close()

	conf, err := config.Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return conf
}

func newTestLogger(t *testing.T) *logpkg.Logger {
	t.Helper()
	log, err := logpkg.New("error", "text", t.TempDir(), false)
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func newTestCog(t *testing.T, iniContent string, store *persona.Store, gw *fakeGateway) (*Cog, *fakeRecorder) {
	t.Helper()
	log := newTestLogger(t)
	deps := &cogs.Deps{
		Config:  loadTestConfig(t, iniContent),
		Logger:  log,
		Persona: store,
	}
	created, err := New(deps)
	if err != nil {
		t.Fatalf("new cog: %v", err)
	}
	c := created.(*Cog)
	rec := &fakeRecorder{}
	c.repo = rec
	c.gw = gw
	c.resolver = redirect.NewResolver(fakeDirectory{555: "<#555>"}, nil, log)
	return c, rec
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func imagePost(channelID, url string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "800123",
		GuildID:   "9",
		ChannelID: channelID,
		Content:   "lihat hasil gacha!",
		Author:    &discordgo.User{ID: "77", Username: "rin"},
		Attachments: []*discordgo.Attachment{{
			URL:         url,
			Filename:    "pull.png",
			ContentType: "image/png",
			Size:        1024,
		}},
	}}
}

func TestGuardHandlesImagePost(t *testing.T) {
	data := pngBytes(t, 320, 200)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	evidenceDir := filepath.Join(t.TempDir(), "evidence")
	gw := &fakeGateway{channelNames: map[int64]string{555: "gacha-dump"}}
	c, rec := newTestCog(t,
		"PullRedirectChannelID = 555\nPullGuardChannels = 111\nEvidenceDir = "+evidenceDir+"\n",
		nil, gw)

	c.refresh(context.Background())
	c.handleMessageCreate(nil, imagePost("111", srv.URL+"/pull.png"))

	if len(gw.notices) != 1 {
		t.Fatalf("expected one notice, got %d", len(gw.notices))
	}
	sent := gw.notices[0]
	if sent.channelID != "111" {
		t.Errorf("notice went to %q", sent.channelID)
	}
	if sent.ttl != 10*time.Second {
		t.Errorf("notice ttl = %v, want 10s", sent.ttl)
	}
	want := "psst <@77>… lanjutkan di <#555> ya, biar rapi 💖"
	if sent.content != want {
		t.Errorf("notice content = %q, want %q", sent.content, want)
	}

	if len(gw.deletes) != 1 || gw.deletes[0].messageID != "800123" {
		t.Errorf("deletes = %v", gw.deletes)
	}
	if rec.counters[counterNoticesSent] != 1 {
		t.Errorf("notices_sent counter = %d", rec.counters[counterNoticesSent])
	}

	if len(rec.events) != 1 {
		t.Fatalf("expected one guard event, got %d", len(rec.events))
	}
	event := rec.events[0]
	if event.Cog != "pullguard" || event.Kind != "image_redirect" {
		t.Errorf("event = %+v", event)
	}
	if event.GuildID != 9 || event.ChannelID != 111 {
		t.Errorf("event ids = %+v", event)
	}
	if event.AuthorID != 77 || event.MessageID != 800123 || event.Detail != "pull.png" {
		t.Errorf("event fields = %+v", event)
	}
	if event.EvidencePath == "" {
		t.Fatal("evidence path missing from event")
	}
	if info, err := os.Stat(event.EvidencePath); err != nil || info.Size() == 0 {
		t.Errorf("evidence file not written: %v", err)
	}
}

func TestGuardSkipsIneligibleMessages(t *testing.T) {
	gw := &fakeGateway{}
	c, rec := newTestCog(t, "PullRedirectChannelID = 555\nPullGuardChannels = 111\n", nil, gw)
	c.refresh(context.Background())

	attachment := &discordgo.Attachment{URL: "http://invalid/x.png", ContentType: "image/png"}
	tests := []struct {
		name string
		msg  *discordgo.Message
	}{
		{"bot author", &discordgo.Message{
			ID: "1", GuildID: "9", ChannelID: "111",
			Author:      &discordgo.User{ID: "5", Bot: true},
			Attachments: []*discordgo.Attachment{attachment},
		}},
		{"no attachments", &discordgo.Message{
			ID: "2", GuildID: "9", ChannelID: "111",
			Author: &discordgo.User{ID: "77"},
		}},
		{"non image attachment", &discordgo.Message{
			ID: "3", GuildID: "9", ChannelID: "111",
			Author:      &discordgo.User{ID: "77"},
			Attachments: []*discordgo.Attachment{{URL: "http://invalid/a.txt", ContentType: "text/plain"}},
		}},
		{"direct message", &discordgo.Message{
			ID: "4", ChannelID: "111",
			Author:      &discordgo.User{ID: "77"},
			Attachments: []*discordgo.Attachment{attachment},
		}},
		{"unguarded channel", &discordgo.Message{
			ID: "5", GuildID: "9", ChannelID: "222",
			Author:      &discordgo.User{ID: "77"},
			Attachments: []*discordgo.Attachment{attachment},
		}},
		{"nil author", &discordgo.Message{
			ID: "6", GuildID: "9", ChannelID: "111",
			Attachments: []*discordgo.Attachment{attachment},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.handleMessageCreate(nil, &discordgo.MessageCreate{Message: tt.msg})
		})
	}

	if len(gw.notices) != 0 || len(gw.deletes) != 0 || len(rec.events) != 0 {
		t.Errorf("ineligible messages acted on: notices=%d deletes=%d events=%d",
			len(gw.notices), len(gw.deletes), len(rec.events))
	}
}

func TestGuardInertWithoutRedirect(t *testing.T) {
	gw := &fakeGateway{}
	c, rec := newTestCog(t, "PullGuardChannels = 111\n", nil, gw)
	c.refresh(context.Background())

	c.handleMessageCreate(nil, imagePost("111", "http://invalid/x.png"))

	if len(gw.notices) != 0 || len(gw.deletes) != 0 || len(rec.events) != 0 {
		t.Error("cog must stay inert without a redirect target")
	}
}

func TestNoticeNormalizesStaleTemplateTokens(t *testing.T) {
	personaPath := filepath.Join(t.TempDir(), "persona.json")
	if err := os.WriteFile(personaPath, []byte(`{"soft": ["yuk pindah ke #ngobrol ya {user}"]}`), 0644); err != nil {
		t.Fatalf("write persona: %v", err)
	}
	store := persona.Load(personaPath)

	gw := &fakeGateway{}
	c, _ := newTestCog(t, "PullRedirectChannelID = 555\nPullGuardChannels = 111\nDeleteOnGuard = false\n", store, gw)
	c.refresh(context.Background())

	c.handleMessageCreate(nil, imagePost("111", "http://invalid/x.png"))

	if len(gw.notices) != 1 {
		t.Fatalf("expected one notice, got %d", len(gw.notices))
	}
	want := "yuk pindah ke <#555> ya <@77>"
	if gw.notices[0].content != want {
		t.Errorf("notice = %q, want %q", gw.notices[0].content, want)
	}
}

func TestGuardDeleteDisabled(t *testing.T) {
	gw := &fakeGateway{}
	c, rec := newTestCog(t, "PullRedirectChannelID = 555\nPullGuardChannels = 111\nDeleteOnGuard = false\n", nil, gw)
	c.refresh(context.Background())

	c.handleMessageCreate(nil, imagePost("111", "http://invalid/x.png"))

	if len(gw.deletes) != 0 {
		t.Errorf("delete disabled but deletes = %v", gw.deletes)
	}
	if len(gw.notices) != 1 {
		t.Errorf("notice still expected, got %d", len(gw.notices))
	}
	if len(rec.events) != 1 {
		t.Errorf("event still expected, got %d", len(rec.events))
	}
}

func TestGuardEvidenceFailureDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	gw := &fakeGateway{}
	c, rec := newTestCog(t,
		"PullRedirectChannelID = 555\nPullGuardChannels = 111\nEvidenceDir = "+filepath.Join(t.TempDir(), "ev")+"\n",
		nil, gw)
	c.refresh(context.Background())

	c.handleMessageCreate(nil, imagePost("111", srv.URL+"/gone.png"))

	if len(gw.notices) != 1 {
		t.Fatalf("notice expected despite evidence failure, got %d", len(gw.notices))
	}
	if len(rec.events) != 1 {
		t.Fatalf("event expected despite evidence failure, got %d", len(rec.events))
	}
	if rec.events[0].EvidencePath != "" {
		t.Errorf("evidence path should be empty, got %q", rec.events[0].EvidencePath)
	}
}

func TestConfigKnobs(t *testing.T) {
	gw := &fakeGateway{}
	c, _ := newTestCog(t, `PullRedirectChannelID = 555
PullGuardChannels = 111
NoticeTTLSeconds = 1
PersonaTone = soft

[cogs.pullguard]
tone = agro
delete_on_guard = false
`, nil, gw)

	if c.noticeTTL != minNoticeTTL {
		t.Errorf("ttl = %v, want floor %v", c.noticeTTL, minNoticeTTL)
	}
	if c.tone != "agro" {
		t.Errorf("tone = %q, want cog override agro", c.tone)
	}
	if c.deleteOn {
		t.Error("delete_on_guard override not applied")
	}
}
