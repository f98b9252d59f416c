package persona

import (
	"encoding/json"
	"errors"
	"math/rand"
	"os"
	"regexp"
	"sort"
	"strings"
)

// Tone buckets a persona file can carry.
const (
	ToneSoft  = "soft"
	ToneAgro  = "agro"
	ToneSharp = "sharp"
)

var defaultLines = map[string][]string{
	ToneSoft:  {"psst {user}… lanjutkan di {channel} ya, biar rapi 💖"},
	ToneAgro:  {"{user}! gambar gacha ke {channel}, sekarang."},
	ToneSharp: {"{user}, salah kamar. pindah ke {channel}."},
}

// Store holds the loaded persona lines grouped by tone.
type Store struct {
	mode  string
	path  string
	tones map[string][]string
}

// fileSchema covers both layouts in the wild: the flat tone map and the
// grouped v3 form.
type fileSchema struct {
	Version int                 `json:"version"`
	Mode    string              `json:"mode"`
	Groups  map[string][]string `json:"groups"`
	Soft    []string            `json:"soft"`
	Agro    []string            `json:"agro"`
	Sharp   []string            `json:"sharp"`
}

// Load tries each candidate path in order and returns a store built from the
// first readable, valid file. When none loads, the built-in lines are used;
// loading never fails.
func Load(candidates ...string) *Store {
	for _, path := range candidates {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		store, err := loadFile(path)
		if err != nil {
			continue
		}
		return store
	}
	return Default()
}

// Default returns a store backed by the built-in lines.
func Default() *Store {
	return &Store{mode: "default", tones: defaultLines}
}

func loadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var schema fileSchema
	if err := json.Unmarshal(data, &schema); err == nil {
		if tones := schema.toneMap(); tones != nil {
			mode := schema.Mode
			if mode == "" {
				mode = "file"
			}
			return &Store{mode: mode, path: path, tones: tones}, nil
		}
	}

	// Legacy layout: a single mode name wrapping the tone map.
	var wrapped map[string]fileSchema
	if err := json.Unmarshal(data, &wrapped); err == nil {
		names := make([]string, 0, len(wrapped))
		for name := range wrapped {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			inner := wrapped[name]
			if tones := inner.toneMap(); tones != nil {
				return &Store{mode: name, path: path, tones: tones}, nil
			}
		}
	}

	return nil, errInvalidPersona
}

var errInvalidPersona = errors.New("persona file has no usable tone lines")

func (s fileSchema) toneMap() map[string][]string {
	if len(s.Groups) > 0 {
		return normalizeTones(s.Groups)
	}
	if s.Soft != nil || s.Agro != nil || s.Sharp != nil {
		return normalizeTones(map[string][]string{
			ToneSoft:  s.Soft,
			ToneAgro:  s.Agro,
			ToneSharp: s.Sharp,
		})
	}
	return nil
}

func normalizeTones(raw map[string][]string) map[string][]string {
	tones := make(map[string][]string, len(raw))
	for tone, lines := range raw {
		cleaned := make([]string, 0, len(lines))
		for _, line := range lines {
			if strings.TrimSpace(line) == "" {
				continue
			}
			cleaned = append(cleaned, line)
		}
		if len(cleaned) > 0 {
			tones[strings.ToLower(strings.TrimSpace(tone))] = cleaned
		}
	}
	if len(tones) == 0 {
		return nil
	}
	return tones
}

// Mode returns the persona mode name.
func (s *Store) Mode() string {
	return s.mode
}

// Path returns the file the store was loaded from, "" for built-in lines.
func (s *Store) Path() string {
	return s.path
}

// Tones returns the tone names with at least one line, sorted.
func (s *Store) Tones() []string {
	names := make([]string, 0, len(s.tones))
	for tone := range s.tones {
		names = append(names, tone)
	}
	sort.Strings(names)
	return names
}

// PickLine returns a random line for tone. An unknown or empty tone falls
// back to soft, then to the built-in soft line.
func (s *Store) PickLine(tone string) string {
	if s == nil {
		return defaultLines[ToneSoft][0]
	}

	tone = strings.ToLower(strings.TrimSpace(tone))
	lines := s.tones[tone]
	if len(lines) == 0 {
		lines = s.tones[ToneSoft]
	}
	if len(lines) == 0 {
		lines = defaultLines[ToneSoft]
	}
	return lines[rand.Intn(len(lines))]
}

// Vars carries the values substituted into persona lines.
type Vars struct {
	User        string
	Channel     string
	ChannelName string
	Parent      string
}

// Placeholder families accepted in hand-written lines. Every spelling of a
// family maps to the same value.
var (
	userPattern        = regexp.MustCompile(`(?i)\{\{\s*user\s*\}\}|\{\s*user\s*\}|<\s*user\s*>|\$user`)
	channelPattern     = regexp.MustCompile(`(?i)\{\{\s*channel\s*\}\}|\{\s*channel\s*\}|<\s*channel\s*>|\$channel\b`)
	channelNamePattern = regexp.MustCompile(`(?i)\{\{\s*channel_name\s*\}\}|\{\s*channel_name\s*\}|<\s*channel_name\s*>|\$channel_name`)
	parentPattern      = regexp.MustCompile(`(?i)\{\{\s*parent\s*\}\}|\{\s*parent\s*\}|<\s*parent\s*>|\$parent`)
)

// Expand substitutes every placeholder spelling with its value. Placeholders
// with an empty value are left in place so the gap stays visible in logs.
func Expand(line string, vars Vars) string {
	if line == "" {
		return line
	}
	if vars.ChannelName != "" {
		line = channelNamePattern.ReplaceAllLiteralString(line, vars.ChannelName)
	}
	if vars.Parent != "" {
		line = parentPattern.ReplaceAllLiteralString(line, vars.Parent)
	}
	if vars.Channel != "" {
		line = channelPattern.ReplaceAllLiteralString(line, vars.Channel)
	}
	if vars.User != "" {
		line = userPattern.ReplaceAllLiteralString(line, vars.User)
	}
	return line
}
