package redirect

import (
	"context"
	"errors"
	"testing"
)

type fakeDirectory map[int64]string

func (d fakeDirectory) ChannelMention(id int64) (string, bool) {
	mention, ok := d[id]
	return mention, ok
}

type fakeFetcher struct {
	mention string
	err     error
	calls   int
}

func (f *fakeFetcher) FetchChannelMention(ctx context.Context, id int64) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.mention, nil
}

func TestResolveDirectoryHit(t *testing.T) {
	fetcher := &fakeFetcher{mention: "<#555>"}
	r := NewResolver(fakeDirectory{555: "<#555>"}, fetcher, nil)

	target := r.Resolve(context.Background(), 555)
	if !target.Resolved() {
		t.Fatal("expected resolved target")
	}
	if target.Mention != "<#555>" || target.Source != SourceDirectory {
		t.Errorf("got mention=%q source=%v", target.Mention, target.Source)
	}
	if fetcher.calls != 0 {
		t.Errorf("directory hit must not fetch, got %d calls", fetcher.calls)
	}
}

func TestResolveFetchFallback(t *testing.T) {
	fetcher := &fakeFetcher{mention: "<#777>"}
	r := NewResolver(fakeDirectory{}, fetcher, nil)

	target := r.Resolve(context.Background(), 777)
	if target.Mention != "<#777>" || target.Source != SourceFetch {
		t.Errorf("got mention=%q source=%v", target.Mention, target.Source)
	}
	if fetcher.calls != 1 {
		t.Errorf("expected one fetch, got %d", fetcher.calls)
	}
}

func TestResolveFetchFailureSynthesizes(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("api down")}
	r := NewResolver(fakeDirectory{}, fetcher, nil)

	target := r.Resolve(context.Background(), 888)
	if !target.Resolved() {
		t.Fatal("failed fetch must still produce a usable target")
	}
	if target.Mention != "<#888>" || target.Source != SourceFallback {
		t.Errorf("got mention=%q source=%v", target.Mention, target.Source)
	}
}

func TestResolveNilTiers(t *testing.T) {
	r := NewResolver(nil, nil, nil)

	target := r.Resolve(context.Background(), 123)
	if target.Mention != "<#123>" || target.Source != SourceFallback {
		t.Errorf("got mention=%q source=%v", target.Mention, target.Source)
	}
}

func TestResolveInvalidID(t *testing.T) {
	r := NewResolver(fakeDirectory{}, &fakeFetcher{mention: "<#1>"}, nil)

	for _, id := range []int64{0, -5} {
		target := r.Resolve(context.Background(), id)
		if target.Resolved() {
			t.Errorf("id %d must stay unresolved, got %+v", id, target)
		}
	}
}

func TestSourceString(t *testing.T) {
	tests := []struct {
		source Source
		want   string
	}{
		{SourceNone, "none"},
		{SourceDirectory, "directory"},
		{SourceFetch, "fetch"},
		{SourceFallback, "fallback"},
		{Source(99), "none"},
	}

	for _, tt := range tests {
		if got := tt.source.String(); got != tt.want {
			t.Errorf("Source(%d).String() = %q, want %q", tt.source, got, tt.want)
		}
	}
}
