package redirect

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultMarker is the placeholder word hand-written notice lines use where
// the redirect channel belongs.
const DefaultMarker = "ngobrol"

// Normalizer owns the compiled trigger pattern for one marker word. It
// rewrites stale redirect references in bot-authored text to the canonical
// mention of the current redirect channel: old channel markup (<#123>),
// decorated hash forms (#・ngobrol), and the bare marker word.
type Normalizer struct {
	marker  string
	pattern *regexp.Regexp
}

// NewNormalizer compiles the trigger pattern for marker. The marker matches
// case-insensitively, bare or embedded in a hash token with arbitrary
// non-space decoration around it.
func NewNormalizer(marker string) (*Normalizer, error) {
	marker = strings.TrimSpace(marker)
	if marker == "" {
		return nil, fmt.Errorf("marker word required")
	}

	quoted := regexp.QuoteMeta(marker)
	pattern, err := regexp.Compile(`(?i)(?:<#\d+>|#\s*[^\s#]*` + quoted + `[^\s#]*|\b` + quoted + `\b)`)
	if err != nil {
		return nil, fmt.Errorf("compile trigger pattern: %w", err)
	}

	return &Normalizer{marker: marker, pattern: pattern}, nil
}

// Marker returns the marker word this normalizer was built for.
func (n *Normalizer) Marker() string {
	return n.marker
}

// Normalize replaces every trigger token in text with target's mention form.
// It reports changed=false and returns text untouched when the target is
// unresolved, nothing matches, or the rewrite comes out byte-identical.
func (n *Normalizer) Normalize(text string, target Target) (string, bool) {
	if text == "" || !target.Resolved() {
		return text, false
	}

	out := n.pattern.ReplaceAllLiteralString(text, target.Mention)
	if out == text {
		return text, false
	}
	return out, true
}

// CheckFixedPoint verifies that target's mention form is a fixed point of
// the substitution: normalizing the mention itself must leave it untouched,
// otherwise repeated passes over the same message would keep editing it.
func (n *Normalizer) CheckFixedPoint(target Target) error {
	if !target.Resolved() {
		return nil
	}
	if out, changed := n.Normalize(target.Mention, target); changed {
		return fmt.Errorf("mention %q is not a fixed point, rewrites to %q", target.Mention, out)
	}
	return nil
}
