package redirect

import "fmt"

// Source identifies how a Target's mention form was produced.
type Source int

const (
	SourceNone Source = iota
	SourceDirectory
	SourceFetch
	SourceFallback
)

func (s Source) String() string {
	switch s {
	case SourceDirectory:
		return "directory"
	case SourceFetch:
		return "fetch"
	case SourceFallback:
		return "fallback"
	default:
		return "none"
	}
}

// Target is a resolved redirect channel: the numeric id plus the display
// form messages should carry.
type Target struct {
	ID      int64
	Mention string
	Source  Source
}

// Resolved reports whether the target carries a usable mention form.
// Unresolved targets make the normalizer inert.
func (t Target) Resolved() bool {
	return t.ID > 0 && t.Mention != ""
}

// SyntheticMention builds the generic channel reference form for an id. It
// is the fallback display form when the channel cannot be looked up.
func SyntheticMention(id int64) string {
	return fmt.Sprintf("<#%d>", id)
}
