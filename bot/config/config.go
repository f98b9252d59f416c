package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/ini.v1"
)

// Candidate key lists for values that kept their historical names across
// renames. Keys are probed in order and the first usable value wins; later
// keys are ignored entirely, never merged.
var (
	TokenKeys           = []string{"DiscordToken", "BotToken"}
	RedirectChannelKeys = []string{"PullRedirectChannelID", "GachaRedirectChannelID", "RedirectChannelID"}
	GuardChannelKeys    = []string{"PullGuardChannels", "GachaGuardChannels"}
)

// CogConfig stores cog-specific configuration as key-value pairs.
type CogConfig map[string]interface{}

// Config wraps viper and provides typed accessors.
type Config struct {
	v    *viper.Viper
	cogs map[string]CogConfig
}

// Load reads an INI config file and prepares defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("KANARIBOT")
	v.AutomaticEnv()

	setDefaults(v)

	if strings.EqualFold(filepath.Ext(path), ".ini") {
		cfg, err := loadINI(v, path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		c := &Config{
			v:    v,
			cogs: make(map[string]CogConfig),
		}

		loadCogs(cfg, c)
		return c, nil
	} else {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return &Config{
		v:    v,
		cogs: make(map[string]CogConfig),
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Database", "kanari.db")
	v.SetDefault("DBMaxOpenConns", 1)
	v.SetDefault("DBMaxIdleConns", 1)
	v.SetDefault("DBConnMaxLifetimeSec", 3600)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFormat", "text")
	v.SetDefault("LogDir", "./log")
	v.SetDefault("LogSource", false)
	v.SetDefault("GormLogLevel", "warn")
	v.SetDefault("WorkerPoolSize", 4)
	v.SetDefault("RateLimitPerSecond", 1.0)
	v.SetDefault("RateLimitBurst", 3)
	v.SetDefault("MarkerWord", "ngobrol")
	v.SetDefault("NoticeTTLSeconds", 10)
	v.SetDefault("MentionUser", true)
	v.SetDefault("DeleteOnGuard", true)
	v.SetDefault("PersonaPath", "")
	v.SetDefault("PersonaTone", "soft")
	v.SetDefault("EvidenceDir", "")
	v.SetDefault("EvidenceMaxSide", 1280)
	v.SetDefault("EvidenceJPEGQuality", 85)
	v.SetDefault("LinkOnlyChannels", "")
	v.SetDefault("AdminUserIDs", "")
	v.SetDefault("CommandPrefix", "!kanari")
	v.SetDefault("CogScriptDir", "./scripts/cogs")
	v.SetDefault("UpdateCheck", true)
	v.SetDefault("UpdateRepo", "kanaridev/KanariBot-Go")
}

// GetString returns a string value.
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt returns an int value.
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetFloat64 returns a float64 value.
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool returns a bool value.
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// FirstString returns the value of the first candidate key that is non-empty
// after trimming, or "" when none is set.
func (c *Config) FirstString(keys ...string) string {
	for _, key := range keys {
		if val := strings.TrimSpace(c.v.GetString(key)); val != "" {
			return val
		}
	}
	return ""
}

// FirstChannelID returns the parsed id of the first candidate key whose value
// is an all-digit string. Malformed values fall through to later candidates.
func (c *Config) FirstChannelID(keys ...string) (int64, bool) {
	for _, key := range keys {
		val := strings.TrimSpace(c.v.GetString(key))
		if val == "" || !allDigits(val) {
			continue
		}
		id, err := strconv.ParseInt(val, 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		return id, true
	}
	return 0, false
}

// FirstIDSet returns the parsed list of the first candidate key that yields
// at least one id. Lists from later keys are never merged in.
func (c *Config) FirstIDSet(keys ...string) []int64 {
	for _, key := range keys {
		if ids := ParseIDList(c.v.GetString(key)); len(ids) > 0 {
			return ids
		}
	}
	return nil
}

// ParseIDList parses a comma-separated id list. Spaces are stripped first and
// tokens that are not all digits are dropped.
func ParseIDList(raw string) []int64 {
	raw = strings.ReplaceAll(raw, " ", "")
	if raw == "" {
		return nil
	}
	var ids []int64
	for _, tok := range strings.Split(raw, ",") {
		if tok == "" || !allDigits(tok) {
			continue
		}
		id, err := strconv.ParseInt(tok, 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// GetCogConfig retrieves cog-specific configuration by cog name.
// Returns the configuration map and true if found, or nil and false if not found.
func (c *Config) GetCogConfig(name string) (CogConfig, bool) {
	cfg, ok := c.cogs[name]
	return cfg, ok
}

// CogNames returns the configured cog names.
func (c *Config) CogNames() []string {
	if len(c.cogs) == 0 {
		return nil
	}
	nameList := make([]string, 0, len(c.cogs))
	for name := range c.cogs {
		nameList = append(nameList, name)
	}
	sort.Strings(nameList)
	return nameList
}

// GetCogString returns a string value from cog configuration.
// Returns empty string if cog or key not found.
func (c *Config) GetCogString(cog, key string) string {
	cfg, ok := c.cogs[cog]
	if !ok {
		return ""
	}
	val, ok := cfg[key]
	if !ok {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return fmt.Sprintf("%v", val)
}

// GetCogInt returns an int value from cog configuration.
// Returns 0 if cog or key not found, or value cannot be converted to int.
func (c *Config) GetCogInt(cog, key string) int {
	cfg, ok := c.cogs[cog]
	if !ok {
		return 0
	}
	val, ok := cfg[key]
	if !ok {
		return 0
	}
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case string:
		num, _ := strconv.Atoi(v)
		return num
	default:
		return 0
	}
}

// GetCogBool returns a bool value from cog configuration.
// Returns false if cog or key not found, or value cannot be converted to bool.
func (c *Config) GetCogBool(cog, key string) bool {
	cfg, ok := c.cogs[cog]
	if !ok {
		return false
	}
	val, ok := cfg[key]
	if !ok {
		return false
	}
	switch v := val.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true") || v == "1"
	case int, int64:
		return v != 0
	default:
		return false
	}
}

func loadINI(v *viper.Viper, path string) (*ini.File, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}

	for _, key := range cfg.Section("").Keys() {
		v.Set(key.Name(), key.Value())
	}

	return cfg, nil
}

func loadCogs(cfg *ini.File, c *Config) {
	const cogPrefix = "cogs."

	for _, section := range cfg.Sections() {
		sectionName := section.Name()
		if sectionName == "" || sectionName == "DEFAULT" {
			continue
		}

		if strings.HasPrefix(sectionName, cogPrefix) {
			cogName := strings.TrimPrefix(sectionName, cogPrefix)
			cogCfg := make(CogConfig)

			for _, key := range section.Keys() {
				cogCfg[key.Name()] = key.Value()
			}

			c.cogs[cogName] = cogCfg
		}
	}
}
