package bot

import (
	"runtime"
	"time"
)

// GuardEvent is one recorded moderation action taken by a cog.
type GuardEvent struct {
	ID           uint
	CreatedAt    time.Time
	Cog          string // cog that acted (e.g. "pullguard", "linkguard")
	Kind         string // action kind (e.g. "image_redirect", "non_link")
	GuildID      int64
	ChannelID    int64
	AuthorID     int64
	MessageID    int64
	Detail       string
	EvidencePath string // local thumbnail path, empty when capture is off
}

// Release describes the latest published build of the bot.
type Release struct {
	TagName string
	URL     string
	Newer   bool
}

// BuildInfo carries version metadata injected at build time.
type BuildInfo struct {
	BinVersion string
	CommitSHA  string
	BuildTime  string
	RuntimeVer string
	Platform   string
}

// NewBuildInfo fills the runtime fields around the ldflags-injected values.
func NewBuildInfo(version, commit, buildTime string) BuildInfo {
	return BuildInfo{
		BinVersion: version,
		CommitSHA:  commit,
		BuildTime:  buildTime,
		RuntimeVer: runtime.Version(),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
	}
}
