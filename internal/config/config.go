package config

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
// Phone numbers and numeric chat ids are often written without quotes.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for inboxd.
type Config struct {
	Gateway     GatewayConfig     `json:"gateway"`
	Processor   ProcessorConfig   `json:"processor"`
	Cache       CacheConfig       `json:"cache"`
	Database    DatabaseConfig    `json:"database,omitempty"`
	Channels    ChannelsConfig    `json:"channels"`
	Provider    ProviderConfig    `json:"provider"`
	Telemetry   TelemetryConfig   `json:"telemetry,omitempty"`
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
	Seed        SeedConfig        `json:"seed,omitempty"`
	mu          sync.RWMutex
}

// GatewayConfig configures the HTTP surface.
type GatewayConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Token        string `json:"-"`                        // from env INBOXD_GATEWAY_TOKEN only
	RateLimitRPM int    `json:"rate_limit_rpm,omitempty"` // webhook requests per minute per remote (default 120, 0 = disabled)
	MaxBodyBytes int64  `json:"max_body_bytes,omitempty"` // webhook body cap (default 1 MiB)
}

// ProcessorConfig tunes acceptance and background execution.
type ProcessorConfig struct {
	TaskTimeoutSec int    `json:"task_timeout_sec,omitempty"` // per-pipeline bound (default 120)
	MarkerTTLSec   int    `json:"marker_ttl_sec,omitempty"`   // acceptance marker lifetime (default 300)
	MarkerMax      int    `json:"marker_max,omitempty"`       // tracked ids cap (default 5000)
	HistoryLimit   int    `json:"history_limit,omitempty"`    // rows of history given to the responder (default 20)
	AckReaction    string `json:"ack_reaction,omitempty"`     // emoji reacted on accepted messages ("" = off)
	FailureMessage string `json:"failure_message,omitempty"`  // sent when a tenant has none
}

// CacheConfig configures the config cache.
type CacheConfig struct {
	TTLSec              int `json:"ttl_sec,omitempty"`                // default entry lifetime (default 300)
	ChannelConfigTTLSec int `json:"channel_config_ttl_sec,omitempty"` // override for channel configs
	TenantTTLSec        int `json:"tenant_ttl_sec,omitempty"`         // override for tenants
	SweepIntervalSec    int `json:"sweep_interval_sec,omitempty"`     // expired-entry sweep (default 60)
}

// DatabaseConfig selects the storage backend.
// PostgresDSN is NEVER read from the config file (secret), only from env INBOXD_POSTGRES_DSN.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
	Mode        string `json:"mode,omitempty"`        // "standalone" (default) or "managed"
	SQLitePath  string `json:"sqlite_path,omitempty"` // standalone database file (default ~/.inboxd/inboxd.db)
}

// IsManagedMode returns true if the gateway stores data in Postgres.
func (c *Config) IsManagedMode() bool {
	return c.Database.Mode == "managed" && c.Database.PostgresDSN != ""
}

// ProviderConfig configures the OpenAI-compatible LLM used for free-form chat.
// An empty APIKey and APIBase disables the LLM; the responder then sends a fallback reply.
type ProviderConfig struct {
	Name        string  `json:"name,omitempty"` // "openai" (default), "openrouter", "groq", ...
	APIKey      string  `json:"-"`              // from env INBOXD_PROVIDER_API_KEY only
	APIBase     string  `json:"api_base,omitempty"`
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Fallback    string  `json:"fallback,omitempty"` // reply when no provider is configured
}

// Enabled reports whether a provider endpoint is configured.
func (p ProviderConfig) Enabled() bool {
	return p.APIKey != "" || p.APIBase != ""
}

// TelemetryConfig configures OpenTelemetry export for traces.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`      // enable OTLP export (default false)
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // plaintext transport for local collectors
	ServiceName string            `json:"service_name,omitempty"` // default "inboxd"
	Headers     map[string]string `json:"headers,omitempty"`      // extra headers (e.g. auth tokens for cloud backends)
}

// MaintenanceConfig schedules housekeeping.
type MaintenanceConfig struct {
	PurgeSchedule      string `json:"purge_schedule,omitempty"`       // cron expression (default "0 3 * * *", "off" disables)
	ErrorRetentionDays int    `json:"error_retention_days,omitempty"` // error records older than this are purged (default 30)
}

// SeedConfig declares tenants and channel configs that are upserted into the
// store at startup and on every config reload.
type SeedConfig struct {
	Tenants  []SeedTenant  `json:"tenants,omitempty"`
	Channels []SeedChannel `json:"channels,omitempty"`
}

type SeedTenant struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Locale         string `json:"locale,omitempty"`
	FailureMessage string `json:"failure_message,omitempty"`
}

type SeedChannel struct {
	ID           string              `json:"id"` // tenant_channel_id
	TenantID     string              `json:"tenant_id"`
	ChannelType  string              `json:"channel_type"`
	DisplayName  string              `json:"display_name,omitempty"`
	SystemPrompt string              `json:"system_prompt,omitempty"`
	AllowFrom    FlexibleStringSlice `json:"allow_from,omitempty"`
	Enabled      *bool               `json:"enabled,omitempty"` // default true
}

// IsEnabled returns the seed's enabled flag, defaulting to true.
func (s SeedChannel) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Duration helpers. Zero or negative values fall back to the defaults.

func (p ProcessorConfig) TaskTimeout() time.Duration {
	return seconds(p.TaskTimeoutSec, defaultTaskTimeoutSec)
}

func (p ProcessorConfig) MarkerTTL() time.Duration {
	return seconds(p.MarkerTTLSec, defaultMarkerTTLSec)
}

func (c CacheConfig) TTL() time.Duration {
	return seconds(c.TTLSec, defaultCacheTTLSec)
}

func (c CacheConfig) SweepInterval() time.Duration {
	return seconds(c.SweepIntervalSec, defaultSweepIntervalSec)
}

// ChannelConfigTTL returns the channel config override, or 0 to use TTL.
func (c CacheConfig) ChannelConfigTTL() time.Duration {
	return time.Duration(max(c.ChannelConfigTTLSec, 0)) * time.Second
}

// TenantTTL returns the tenant override, or 0 to use TTL.
func (c CacheConfig) TenantTTL() time.Duration {
	return time.Duration(max(c.TenantTTLSec, 0)) * time.Second
}

func seconds(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Gateway = src.Gateway
	c.Processor = src.Processor
	c.Cache = src.Cache
	c.Database = src.Database
	c.Channels = src.Channels
	c.Provider = src.Provider
	c.Telemetry = src.Telemetry
	c.Maintenance = src.Maintenance
	c.Seed = src.Seed
}

// SeedSnapshot returns a copy of the seed section under the read lock.
func (c *Config) SeedSnapshot() SeedConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return SeedConfig{
		Tenants:  append([]SeedTenant(nil), c.Seed.Tenants...),
		Channels: append([]SeedChannel(nil), c.Seed.Channels...),
	}
}
