package redirect

import (
	"context"
	"strconv"

	"golang.org/x/sync/singleflight"
)

// Directory looks up a channel mention from a local cache. A miss is not an
// error.
type Directory interface {
	ChannelMention(id int64) (string, bool)
}

// Fetcher retrieves a channel mention from the platform. It may fail.
type Fetcher interface {
	FetchChannelMention(ctx context.Context, id int64) (string, error)
}

// Logger is the subset of the application logger the resolver needs.
type Logger interface {
	Warn(msg string, args ...any)
}

// Resolver produces a usable Target for a channel id: local directory first,
// then a remote fetch, then a synthetic mention built from the id alone.
// Resolution never returns an error to its caller.
type Resolver struct {
	dir     Directory
	fetcher Fetcher
	group   singleflight.Group
	logger  Logger
}

// NewResolver builds a Resolver. Both dir and fetcher may be nil; a nil tier
// is skipped.
func NewResolver(dir Directory, fetcher Fetcher, logger Logger) *Resolver {
	return &Resolver{dir: dir, fetcher: fetcher, logger: logger}
}

// Resolve returns the Target for id. A non-positive id yields an unresolved
// zero Target. Concurrent fetches for the same id share one platform call.
func (r *Resolver) Resolve(ctx context.Context, id int64) Target {
	if id <= 0 {
		return Target{}
	}

	if r.dir != nil {
		if mention, ok := r.dir.ChannelMention(id); ok && mention != "" {
			return Target{ID: id, Mention: mention, Source: SourceDirectory}
		}
	}

	if r.fetcher != nil {
		key := strconv.FormatInt(id, 10)
		mention, err, _ := r.group.Do(key, func() (interface{}, error) {
			return r.fetcher.FetchChannelMention(ctx, id)
		})
		if err == nil {
			if s, ok := mention.(string); ok && s != "" {
				return Target{ID: id, Mention: s, Source: SourceFetch}
			}
		} else if r.logger != nil {
			r.logger.Warn("channel fetch failed, using synthetic mention", "channel_id", id, "error", err)
		}
	}

	return Target{ID: id, Mention: SyntheticMention(id), Source: SourceFallback}
}
