package responder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/inboxd/internal/bus"
	"github.com/nextlevelbuilder/inboxd/internal/providers"
	"github.com/nextlevelbuilder/inboxd/internal/store"
)

// FallbackReply is sent for free-form chat when no provider is configured.
const FallbackReply = "Thanks, we received your message."

const defaultSystemPrompt = "You are a helpful customer support assistant. Answer briefly and politely."

// RouterConfig tunes a Router.
type RouterConfig struct {
	Model       string
	MaxTokens   int
	Temperature float64
	// Fallback replaces FallbackReply when set.
	Fallback string
}

// Router answers greetings, help, stop and media locally and sends
// everything else to the LLM provider.
type Router struct {
	provider providers.Provider // nil: fallback reply only
	cfg      RouterConfig
}

// NewRouter creates a Router. provider may be nil.
func NewRouter(provider providers.Provider, cfg RouterConfig) *Router {
	if cfg.Fallback == "" {
		cfg.Fallback = FallbackReply
	}
	return &Router{provider: provider, cfg: cfg}
}

func (r *Router) Respond(ctx context.Context, env bus.Envelope, rc Context) (string, error) {
	intent := IntentMedia
	if env.IsText() {
		intent = Classify(env.ContentRef)
	}
	slog.Debug("responder: classified", "external_id", env.ExternalID, "intent", intent)

	switch intent {
	case IntentGreeting:
		if name := tenantName(rc); name != "" {
			return fmt.Sprintf("Hi! You're chatting with %s. How can we help you today?", name), nil
		}
		return "Hi! How can we help you today?", nil
	case IntentHelp:
		return "Just send us your question and we'll reply right here. Send STOP to pause automatic replies.", nil
	case IntentStop:
		return "Automatic replies are paused. A member of our team will follow up if needed.", nil
	case IntentMedia:
		return fmt.Sprintf("Thanks, we received your %s. A member of our team will take a look.", mediaNoun(env.Type)), nil
	}

	if r.provider == nil {
		return r.cfg.Fallback, nil
	}
	return r.chat(ctx, env, rc)
}

func (r *Router) chat(ctx context.Context, env bus.Envelope, rc Context) (string, error) {
	system := defaultSystemPrompt
	if rc.Channel != nil && strings.TrimSpace(rc.Channel.SystemPrompt) != "" {
		system = rc.Channel.SystemPrompt
	}
	if name := tenantName(rc); name != "" {
		system += "\nYou represent " + name + "."
	}
	if rc.Tenant != nil && rc.Tenant.Locale != "" {
		system += "\nReply in the language of locale " + rc.Tenant.Locale + " unless the user writes in another language."
	}

	msgs := make([]providers.Message, 0, len(rc.History)+2)
	msgs = append(msgs, providers.Message{Role: "system", Content: system})
	for _, row := range rc.History {
		role := "user"
		if row.Direction == store.DirectionOutbound {
			role = "assistant"
		}
		if row.Type != "" && row.Type != bus.TypeText {
			msgs = append(msgs, providers.Message{Role: role, Content: "[" + row.Type + "]"})
			continue
		}
		msgs = append(msgs, providers.Message{Role: role, Content: row.Content})
	}
	msgs = append(msgs, providers.Message{Role: "user", Content: env.ContentRef})

	opts := map[string]interface{}{}
	if r.cfg.MaxTokens > 0 {
		opts[providers.OptMaxTokens] = r.cfg.MaxTokens
	}
	if r.cfg.Temperature > 0 {
		opts[providers.OptTemperature] = r.cfg.Temperature
	}

	resp, err := r.provider.Chat(ctx, providers.ChatRequest{
		Messages: msgs,
		Model:    r.cfg.Model,
		Options:  opts,
	})
	if err != nil {
		return "", fmt.Errorf("%s chat: %w", r.provider.Name(), err)
	}
	if resp.Usage != nil {
		slog.Debug("responder: llm usage",
			"external_id", env.ExternalID,
			"prompt_tokens", resp.Usage.PromptTokens,
			"completion_tokens", resp.Usage.CompletionTokens,
		)
	}
	return resp.Content, nil
}

func tenantName(rc Context) string {
	if rc.Tenant != nil && rc.Tenant.Name != "" {
		return rc.Tenant.Name
	}
	if rc.Channel != nil {
		return rc.Channel.DisplayName
	}
	return ""
}

func mediaNoun(t string) string {
	switch t {
	case bus.TypeImage:
		return "image"
	case bus.TypeAudio:
		return "voice message"
	case bus.TypeVideo:
		return "video"
	case bus.TypeDocument:
		return "document"
	case bus.TypeSticker:
		return "sticker"
	}
	return "attachment"
}
