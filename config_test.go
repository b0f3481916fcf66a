package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "test-token")
	t.Setenv("MERCHANTS_HUB_URL", "wss://hub.example.test/MerchantsHub")
	t.Setenv("SERVERS", "Yorn, Kadan")
	t.Setenv("CARD_WHITELIST", "Wei,Seria")
	t.Setenv("SERVER_ROLES", "Yorn:123, Kadan:456")
	t.Setenv("ADMIN_ID", "admin-1")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "test-token", cfg.DiscordToken)
	assert.Equal(t, "wss://hub.example.test/MerchantsHub", cfg.MerchantsHubURL)
	assert.Equal(t, []string{"Yorn", "Kadan"}, cfg.Servers)
	assert.Equal(t, []string{"Wei", "Seria"}, cfg.CardWhitelist)
	assert.Equal(t, map[string]string{"Yorn": "123", "Kadan": "456"}, cfg.ServerRoles)
	assert.Equal(t, "admin-1", cfg.AdminID)

	// Defaults.
	assert.Equal(t, 3, cfg.CardRarityThreshold)
	assert.Equal(t, 4, cfg.RapportRarityThreshold)
	assert.Equal(t, 5, cfg.CardRarityMention)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, AppEnvProduction, cfg.AppEnv)
	assert.Equal(t, 5*time.Minute, cfg.BaseInterval())
}

func TestLoadConfigMissingToken(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "")
	t.Setenv("MERCHANTS_HUB_URL", "wss://hub.example.test/MerchantsHub")

	_, err := LoadConfig()
	assert.ErrorIs(t, err, ErrMissingDiscordToken)
}

func TestLoadConfigMissingHubURL(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "test-token")
	t.Setenv("MERCHANTS_HUB_URL", "")

	_, err := LoadConfig()
	assert.ErrorIs(t, err, ErrMissingHubURL)
}

func TestDerivedIntervals(t *testing.T) {
	cfg := &Config{BaseIntervalSeconds: 300}

	assert.Equal(t, 5*time.Minute, cfg.PollInterval())
	assert.Equal(t, 50*time.Second, cfg.HeartbeatInterval())
	assert.Equal(t, 5*time.Minute, cfg.HubRetryDelay())
	assert.Equal(t, 30*time.Second, cfg.RestartDelay())

	assert.Equal(t, []time.Duration{
		30 * time.Second,
		2 * time.Minute,
		5 * time.Minute,
		5 * time.Minute,
		5 * time.Minute,
	}, cfg.ReconnectBackoff())
}

func TestParseList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, ParseList("a, b ,c"))
	assert.Equal(t, []string{"a"}, ParseList("a,,"))
	assert.Empty(t, ParseList(""))
}

func TestParseRoleMap(t *testing.T) {
	assert.Equal(t, map[string]string{"Yorn": "123", "Kadan": "456"}, ParseRoleMap("Yorn:123, Kadan : 456"))
	assert.Empty(t, ParseRoleMap("no-separator"))
	assert.Empty(t, ParseRoleMap(""))
}

func TestIsWhitelisted(t *testing.T) {
	cfg := &Config{CardWhitelist: []string{"Wei", "Seria"}}

	assert.True(t, cfg.IsWhitelisted("wei"))
	assert.True(t, cfg.IsWhitelisted("SERIA"))
	assert.False(t, cfg.IsWhitelisted("Azena"))
}
