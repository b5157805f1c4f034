package config

// ChannelsConfig lists the chat platform connections. Each instance is bound to
// one tenant channel; replies for envelopes from that instance go back through it.
type ChannelsConfig struct {
	WhatsApp []WhatsAppConfig `json:"whatsapp,omitempty"`
	Telegram []TelegramConfig `json:"telegram,omitempty"`
	Discord  []DiscordConfig  `json:"discord,omitempty"`
	Webhook  []WebhookConfig  `json:"webhook,omitempty"`

	SendRatePerSec float64 `json:"send_rate_per_sec,omitempty"` // outbound pacing per instance (default 5)
	SendBurst      int     `json:"send_burst,omitempty"`        // default 10
}

// WhatsAppConfig connects to a WhatsApp bridge over WebSocket.
type WhatsAppConfig struct {
	Name            string              `json:"name"` // instance name, default "whatsapp"
	Enabled         bool                `json:"enabled"`
	TenantChannelID string              `json:"tenant_channel_id"`
	BridgeURL       string              `json:"bridge_url"`
	AllowFrom       FlexibleStringSlice `json:"allow_from,omitempty"`
}

// TelegramConfig runs a Telegram bot with long polling.
type TelegramConfig struct {
	Name            string              `json:"name"` // default "telegram"
	Enabled         bool                `json:"enabled"`
	TenantChannelID string              `json:"tenant_channel_id"`
	Token           string              `json:"-"` // from env INBOXD_TELEGRAM_TOKEN only
	AllowFrom       FlexibleStringSlice `json:"allow_from,omitempty"`
}

// DiscordConfig runs a Discord bot over the gateway websocket.
type DiscordConfig struct {
	Name            string              `json:"name"` // default "discord"
	Enabled         bool                `json:"enabled"`
	TenantChannelID string              `json:"tenant_channel_id"`
	Token           string              `json:"-"` // from env INBOXD_DISCORD_TOKEN only
	AllowFrom       FlexibleStringSlice `json:"allow_from,omitempty"`
}

// WebhookConfig receives envelopes on POST /v1/webhook/{name} and posts
// replies to CallbackURL.
type WebhookConfig struct {
	Name            string              `json:"name"`
	Enabled         bool                `json:"enabled"`
	TenantChannelID string              `json:"tenant_channel_id,omitempty"` // default when the body omits it
	CallbackURL     string              `json:"callback_url,omitempty"`
	AllowFrom       FlexibleStringSlice `json:"allow_from,omitempty"`
}
