package main

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/samber/lo"
	"github.com/samber/oops"
)

//go:generate go run github.com/abice/go-enum --file=$GOFILE --names --nocase

// AppEnv represents the application environment
// ENUM(local,production,development,testing)
type AppEnv string

type Config struct {
	DiscordToken           string            `koanf:"discord_token"`
	MerchantsHubURL        string            `koanf:"merchants_hub_url"`
	Servers                []string          `koanf:"servers"`
	CardRarityThreshold    int               `koanf:"card_rarity_threshold"`
	RapportRarityThreshold int               `koanf:"rapport_rarity_threshold"`
	CardRarityMention      int               `koanf:"card_rarity_mention"`
	CardWhitelist          []string          `koanf:"card_whitelist"`
	ServerRoles            map[string]string `koanf:"-"`
	AdminID                string            `koanf:"admin_id"`
	StoragePath            string            `koanf:"storage_path"`
	AssetsPath             string            `koanf:"assets_path"`
	HTTPPort               string            `koanf:"http_port"`
	BaseIntervalSeconds    int               `koanf:"base_interval"`
	AppEnv                 AppEnv            `koanf:"app_env"`
}

// BaseInterval is the five-minute base unit every timer is derived from.
func (c *Config) BaseInterval() time.Duration {
	return time.Duration(c.BaseIntervalSeconds) * time.Second
}

// PollInterval is how often the active-merchants list is polled.
func (c *Config) PollInterval() time.Duration { return c.BaseInterval() }

// HeartbeatInterval is how often the hub keep-alive call is invoked.
func (c *Config) HeartbeatInterval() time.Duration { return c.BaseInterval() / 6 }

// HubRetryDelay is how long the supervisor waits before reinitializing a
// failed hub connection, with Discord left logged in.
func (c *Config) HubRetryDelay() time.Duration { return c.BaseInterval() }

// RestartDelay is how long the supervisor waits before a full restart
// after a bootstrap failure.
func (c *Config) RestartDelay() time.Duration { return c.BaseInterval() / 10 }

// ReconnectBackoff is the fixed ordered delay list the hub connection
// walks while trying to re-establish a dropped connection.
func (c *Config) ReconnectBackoff() []time.Duration {
	base := c.BaseInterval()
	return []time.Duration{base / 10, base * 2 / 5, base, base, base}
}

// IsWhitelisted reports whether a card name is on the allow-list,
// case-insensitively.
func (c *Config) IsWhitelisted(cardName string) bool {
	return lo.ContainsBy(c.CardWhitelist, func(name string) bool {
		return strings.EqualFold(name, cardName)
	})
}

func LoadConfig() (*Config, error) {
	k := koanf.New(".")

	configFiles := []string{
		"config.yaml",
		"config.yml",
		"config.json",
		"config.toml",
	}

	configFile, found := lo.Find(configFiles, func(file string) bool {
		_, err := os.Stat(file)
		return err == nil
	})

	if found {
		var parser koanf.Parser
		ext := filepath.Ext(configFile)

		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		case ".toml":
			parser = toml.Parser()
		default:
			return nil, oops.Errorf("unsupported config file extension: %s", ext)
		}

		if err := k.Load(file.Provider(configFile), parser); err != nil {
			return nil, oops.With("config_file", configFile).Wrap(err)
		}
	}

	// Environment variables override config file values.
	// DISCORD_TOKEN -> discord_token
	if err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(s)
	}), nil); err != nil {
		return nil, oops.With("context", "loading environment variables").Wrap(err)
	}

	// Set defaults
	if !k.Exists("servers") {
		k.Set("servers", []string{"Yorn"})
	}
	if !k.Exists("card_rarity_threshold") {
		k.Set("card_rarity_threshold", 3)
	}
	if !k.Exists("rapport_rarity_threshold") {
		k.Set("rapport_rarity_threshold", 4)
	}
	if !k.Exists("card_rarity_mention") {
		k.Set("card_rarity_mention", 5)
	}
	if !k.Exists("storage_path") {
		k.Set("storage_path", "./data/bot.db")
	}
	if !k.Exists("assets_path") {
		k.Set("assets_path", "./assets")
	}
	if !k.Exists("http_port") {
		k.Set("http_port", "8080")
	}
	if !k.Exists("base_interval") {
		k.Set("base_interval", 300)
	}
	if !k.Exists("app_env") {
		k.Set("app_env", "production")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.With("context", "unmarshaling config").Wrap(err)
	}

	// Env vars deliver lists and maps as single strings, config files as
	// native structures. Normalize both.
	if servers := k.Get("servers"); servers != nil {
		if s, ok := servers.(string); ok {
			cfg.Servers = ParseList(s)
		}
	}
	if whitelist := k.Get("card_whitelist"); whitelist != nil {
		if s, ok := whitelist.(string); ok {
			cfg.CardWhitelist = ParseList(s)
		}
	}
	switch roles := k.Get("server_roles").(type) {
	case string:
		cfg.ServerRoles = ParseRoleMap(roles)
	case map[string]any:
		cfg.ServerRoles = map[string]string{}
		for server, role := range roles {
			if r, ok := role.(string); ok {
				cfg.ServerRoles[server] = r
			}
		}
	}

	if appEnvStr := k.String("app_env"); appEnvStr != "" {
		if env, err := ParseAppEnv(appEnvStr); err == nil {
			cfg.AppEnv = env
		} else {
			cfg.AppEnv = AppEnvProduction
		}
	} else {
		cfg.AppEnv = AppEnvProduction
	}

	if cfg.DiscordToken == "" {
		return nil, ErrMissingDiscordToken
	}
	if cfg.MerchantsHubURL == "" {
		return nil, ErrMissingHubURL
	}

	return &cfg, nil
}

// ParseList parses a comma-separated string into trimmed non-empty items.
func ParseList(s string) []string {
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	return lo.FilterMap(parts, func(part string, _ int) (string, bool) {
		part = strings.TrimSpace(part)
		return part, part != ""
	})
}

// ParseRoleMap parses "Server:roleID,Server:roleID" into a lookup map.
func ParseRoleMap(s string) map[string]string {
	result := map[string]string{}
	for _, part := range ParseList(s) {
		server, role, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		result[strings.TrimSpace(server)] = strings.TrimSpace(role)
	}
	return result
}
