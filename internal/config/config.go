package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultOsuTokenURL          = "https://osu.ppy.sh/oauth/token"
	DefaultOsuAPIBaseURL        = "https://osu.ppy.sh/api/v2"
	DefaultOsuMode              = "osu"
	DefaultOsuScope             = "public"
	DefaultOsuRequestsPerMinute = 60
	DefaultHost                 = "0.0.0.0"
	DefaultPort                 = 18791
	DefaultPresenceSchedule     = "@every 10m"
	DefaultLogLevel             = "info"
	DefaultStoreFile            = "linked_users.json"
)

var validModes = map[string]bool{"osu": true, "taiko": true, "fruits": true, "mania": true}

type Config struct {
	Discord  DiscordConfig  `json:"discord"`
	Osu      OsuConfig      `json:"osu"`
	Store    StoreConfig    `json:"store"`
	Gateway  GatewayConfig  `json:"gateway"`
	Presence PresenceConfig `json:"presence"`
	Log      LogConfig      `json:"log"`
}

type DiscordConfig struct {
	Token     string   `json:"token"`
	AppID     string   `json:"appId,omitempty"`
	GuildID   string   `json:"guildId,omitempty"` // empty registers global commands
	AllowFrom []string `json:"allowFrom"`
}

type OsuConfig struct {
	ClientID          string `json:"clientId"`
	ClientSecret      string `json:"clientSecret"`
	TokenURL          string `json:"tokenUrl,omitempty"`
	APIBaseURL        string `json:"apiBaseUrl,omitempty"`
	Mode              string `json:"mode,omitempty"`
	Scope             string `json:"scope,omitempty"`
	RequestsPerMinute int    `json:"requestsPerMinute"`
	RequestTimeout    string `json:"requestTimeout,omitempty"` // empty means no timeout
}

// Timeout parses RequestTimeout. Unparseable or empty values mean no timeout.
func (o OsuConfig) Timeout() time.Duration {
	if o.RequestTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(o.RequestTimeout)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

type StoreConfig struct {
	Path string `json:"path"`
}

type GatewayConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

type PresenceConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"`
}

type LogConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

func DefaultConfig() *Config {
	return &Config{
		Osu: OsuConfig{
			TokenURL:          DefaultOsuTokenURL,
			APIBaseURL:        DefaultOsuAPIBaseURL,
			Mode:              DefaultOsuMode,
			Scope:             DefaultOsuScope,
			RequestsPerMinute: DefaultOsuRequestsPerMinute,
		},
		Store: StoreConfig{
			Path: filepath.Join(ConfigDir(), "data", DefaultStoreFile),
		},
		Gateway: GatewayConfig{
			Enabled: false,
			Host:    DefaultHost,
			Port:    DefaultPort,
		},
		Presence: PresenceConfig{
			Enabled:  true,
			Schedule: DefaultPresenceSchedule,
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".osulink")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides. The unprefixed names are the ones plain
	// .env files use.
	if token := firstEnv("OSULINK_DISCORD_TOKEN", "DISCORD_TOKEN", "TOKEN"); token != "" {
		cfg.Discord.Token = token
	}
	if appID := firstEnv("OSULINK_DISCORD_APP_ID", "DISCORD_APP_ID"); appID != "" {
		cfg.Discord.AppID = appID
	}
	if guildID := firstEnv("OSULINK_DISCORD_GUILD_ID", "DISCORD_GUILD_ID"); guildID != "" {
		cfg.Discord.GuildID = guildID
	}
	if allow := os.Getenv("OSULINK_ALLOW_FROM"); allow != "" {
		cfg.Discord.AllowFrom = splitList(allow)
	}
	if id := firstEnv("OSULINK_OSU_CLIENT_ID", "OSU_CLIENT_ID"); id != "" {
		cfg.Osu.ClientID = id
	}
	if secret := firstEnv("OSULINK_OSU_CLIENT_SECRET", "OSU_CLIENT_SECRET"); secret != "" {
		cfg.Osu.ClientSecret = secret
	}
	if mode := os.Getenv("OSULINK_OSU_MODE"); mode != "" {
		cfg.Osu.Mode = mode
	}
	if rpm := os.Getenv("OSULINK_OSU_REQUESTS_PER_MINUTE"); rpm != "" {
		if parsed, err := strconv.Atoi(rpm); err == nil {
			cfg.Osu.RequestsPerMinute = parsed
		}
	}
	if timeout := os.Getenv("OSULINK_OSU_REQUEST_TIMEOUT"); timeout != "" {
		cfg.Osu.RequestTimeout = timeout
	}
	if path := os.Getenv("OSULINK_STORE_PATH"); path != "" {
		cfg.Store.Path = path
	}
	if enabled := os.Getenv("OSULINK_GATEWAY_ENABLED"); enabled != "" {
		if parsed, err := strconv.ParseBool(enabled); err == nil {
			cfg.Gateway.Enabled = parsed
		}
	}
	if port := os.Getenv("OSULINK_GATEWAY_PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			cfg.Gateway.Port = parsed
		}
	}
	if level := os.Getenv("OSULINK_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}

	defaults := DefaultConfig()
	if cfg.Osu.TokenURL == "" {
		cfg.Osu.TokenURL = defaults.Osu.TokenURL
	}
	if cfg.Osu.APIBaseURL == "" {
		cfg.Osu.APIBaseURL = defaults.Osu.APIBaseURL
	}
	if cfg.Osu.Mode == "" {
		cfg.Osu.Mode = defaults.Osu.Mode
	}
	if cfg.Osu.Scope == "" {
		cfg.Osu.Scope = defaults.Osu.Scope
	}
	if cfg.Osu.RequestsPerMinute < 0 {
		cfg.Osu.RequestsPerMinute = defaults.Osu.RequestsPerMinute
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = defaults.Store.Path
	}
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = defaults.Gateway.Host
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = defaults.Gateway.Port
	}
	if cfg.Presence.Schedule == "" {
		cfg.Presence.Schedule = defaults.Presence.Schedule
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}

	return cfg, nil
}

// Validate reports every missing secret or bad value at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Discord.Token == "" {
		errs = append(errs, errors.New("discord token not set (TOKEN / DISCORD_TOKEN)"))
	}
	if c.Osu.ClientID == "" {
		errs = append(errs, errors.New("osu client id not set (OSU_CLIENT_ID)"))
	}
	if c.Osu.ClientSecret == "" {
		errs = append(errs, errors.New("osu client secret not set (OSU_CLIENT_SECRET)"))
	}
	if !validModes[c.Osu.Mode] {
		errs = append(errs, fmt.Errorf("unknown osu mode %q", c.Osu.Mode))
	}
	if c.Osu.RequestTimeout != "" {
		if d, err := time.ParseDuration(c.Osu.RequestTimeout); err != nil {
			errs = append(errs, fmt.Errorf("osu request timeout %q: %w", c.Osu.RequestTimeout, err))
		} else if d < 0 {
			errs = append(errs, fmt.Errorf("osu request timeout %q is negative", c.Osu.RequestTimeout))
		}
	}
	return errors.Join(errs...)
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0600)
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
