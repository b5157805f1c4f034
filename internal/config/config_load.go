package config

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/adhocore/gronx"
	"github.com/titanous/json5"
)

const (
	defaultTaskTimeoutSec   = 120
	defaultMarkerTTLSec     = 300
	defaultMarkerMax        = 5000
	defaultHistoryLimit     = 20
	defaultCacheTTLSec      = 300
	defaultSweepIntervalSec = 60
	defaultPurgeSchedule    = "0 3 * * *"
	defaultRetentionDays    = 30
	defaultSQLitePath       = "~/.inboxd/inboxd.db"

	// PurgeOff disables the error-record purge.
	PurgeOff = "off"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:         "0.0.0.0",
			Port:         18790,
			RateLimitRPM: 120,
			MaxBodyBytes: 1 << 20,
		},
		Processor: ProcessorConfig{
			TaskTimeoutSec: defaultTaskTimeoutSec,
			MarkerTTLSec:   defaultMarkerTTLSec,
			MarkerMax:      defaultMarkerMax,
			HistoryLimit:   defaultHistoryLimit,
		},
		Cache: CacheConfig{
			TTLSec:           defaultCacheTTLSec,
			SweepIntervalSec: defaultSweepIntervalSec,
		},
		Database: DatabaseConfig{
			Mode:       "standalone",
			SQLitePath: defaultSQLitePath,
		},
		Channels: ChannelsConfig{
			SendRatePerSec: 5,
			SendBurst:      10,
		},
		Provider: ProviderConfig{
			Name:        "openai",
			Model:       "gpt-4o-mini",
			MaxTokens:   512,
			Temperature: 0.3,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "inboxd",
		},
		Maintenance: MaintenanceConfig{
			PurgeSchedule:      defaultPurgeSchedule,
			ErrorRetentionDays: defaultRetentionDays,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults plus env are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyInstanceNames()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	// Gateway
	envStr("INBOXD_HOST", &c.Gateway.Host)
	envInt("INBOXD_PORT", &c.Gateway.Port)
	envStr("INBOXD_GATEWAY_TOKEN", &c.Gateway.Token)

	// Database
	envStr("INBOXD_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("INBOXD_MODE", &c.Database.Mode)
	envStr("INBOXD_SQLITE_PATH", &c.Database.SQLitePath)

	// Processor
	envInt("INBOXD_TASK_TIMEOUT_SEC", &c.Processor.TaskTimeoutSec)

	// Provider
	envStr("INBOXD_PROVIDER", &c.Provider.Name)
	envStr("INBOXD_PROVIDER_API_KEY", &c.Provider.APIKey)
	envStr("INBOXD_PROVIDER_API_BASE", &c.Provider.APIBase)
	envStr("INBOXD_MODEL", &c.Provider.Model)

	// Channel secrets. INBOXD_TELEGRAM_TOKEN feeds the first (or an implicit)
	// instance; INBOXD_TELEGRAM_TOKEN_<NAME> targets a named one.
	c.Channels.Telegram = applyTokens("INBOXD_TELEGRAM_TOKEN", c.Channels.Telegram,
		func(t *TelegramConfig) (*string, string, *bool) { return &t.Token, t.Name, &t.Enabled },
		TelegramConfig{Name: "telegram"})
	c.Channels.Discord = applyTokens("INBOXD_DISCORD_TOKEN", c.Channels.Discord,
		func(d *DiscordConfig) (*string, string, *bool) { return &d.Token, d.Name, &d.Enabled },
		DiscordConfig{Name: "discord"})

	// Telemetry
	envStr("INBOXD_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("INBOXD_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("INBOXD_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	envBool("INBOXD_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envBool("INBOXD_TELEMETRY_INSECURE", &c.Telemetry.Insecure)

	// Maintenance
	envStr("INBOXD_PURGE_SCHEDULE", &c.Maintenance.PurgeSchedule)
}

// applyInstanceNames names the first unnamed instance of each platform after
// the platform, so single-instance configs need no name.
func (c *Config) applyInstanceNames() {
	if len(c.Channels.WhatsApp) > 0 && c.Channels.WhatsApp[0].Name == "" {
		c.Channels.WhatsApp[0].Name = "whatsapp"
	}
	if len(c.Channels.Telegram) > 0 && c.Channels.Telegram[0].Name == "" {
		c.Channels.Telegram[0].Name = "telegram"
	}
	if len(c.Channels.Discord) > 0 && c.Channels.Discord[0].Name == "" {
		c.Channels.Discord[0].Name = "discord"
	}
	if len(c.Channels.Webhook) > 0 && c.Channels.Webhook[0].Name == "" {
		c.Channels.Webhook[0].Name = "webhook"
	}
}

// applyTokens sets bot tokens from env on a channel instance list and
// auto-enables instances whose token was provided.
func applyTokens[T any](prefix string, list []T, fields func(*T) (token *string, name string, enabled *bool), implicit T) []T {
	if v := os.Getenv(prefix); v != "" {
		if len(list) == 0 {
			list = append(list, implicit)
		}
		token, _, enabled := fields(&list[0])
		*token = v
		*enabled = true
	}
	for i := range list {
		token, name, enabled := fields(&list[i])
		if name == "" {
			continue
		}
		if v := os.Getenv(prefix + "_" + envSuffix(name)); v != "" {
			*token = v
			*enabled = true
		}
	}
	return list
}

func envSuffix(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(name))
}

// Validate rejects configurations the gateway cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Mode {
	case "", "standalone":
	case "managed":
		if c.Database.PostgresDSN == "" {
			errs = append(errs, errors.New("database.mode=managed requires INBOXD_POSTGRES_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.mode %q: want standalone or managed", c.Database.Mode))
	}

	if s := c.Maintenance.PurgeSchedule; s != "" && s != PurgeOff && !gronx.New().IsValid(s) {
		errs = append(errs, fmt.Errorf("maintenance.purge_schedule %q is not a valid cron expression", s))
	}

	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		errs = append(errs, fmt.Errorf("telemetry.protocol %q: want grpc or http", c.Telemetry.Protocol))
	}

	seen := make(map[string]string)
	claim := func(kind, name string) {
		if name == "" {
			errs = append(errs, fmt.Errorf("channels.%s: instance without name", kind))
			return
		}
		if prev, ok := seen[name]; ok {
			errs = append(errs, fmt.Errorf("channels.%s: name %q already used by %s", kind, name, prev))
			return
		}
		seen[name] = kind
	}
	for _, w := range c.Channels.WhatsApp {
		claim("whatsapp", w.Name)
	}
	for _, t := range c.Channels.Telegram {
		claim("telegram", t.Name)
	}
	for _, d := range c.Channels.Discord {
		claim("discord", d.Name)
	}
	for _, w := range c.Channels.Webhook {
		claim("webhook", w.Name)
	}

	return errors.Join(errs...)
}

// Hash returns a short SHA-256 of the file-backed config, used to skip no-op reloads.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// SQLitePath returns the expanded standalone database path.
func (c *Config) SQLitePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Database.SQLitePath == "" {
		return ExpandHome(defaultSQLitePath)
	}
	return ExpandHome(c.Database.SQLitePath)
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
