package cmd

import (
	"log/slog"

	"github.com/nextlevelbuilder/inboxd/internal/config"
	"github.com/nextlevelbuilder/inboxd/internal/providers"
	"github.com/nextlevelbuilder/inboxd/internal/responder"
)

// knownAPIBases maps provider names to their OpenAI-compatible endpoints.
var knownAPIBases = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"openrouter": "https://openrouter.ai/api/v1",
	"groq":       "https://api.groq.com/openai/v1",
	"deepseek":   "https://api.deepseek.com/v1",
	"gemini":     "https://generativelanguage.googleapis.com/v1beta/openai",
	"mistral":    "https://api.mistral.ai/v1",
	"xai":        "https://api.x.ai/v1",
}

// buildProvider returns the configured LLM provider, or nil when none is set up.
func buildProvider(cfg config.ProviderConfig) providers.Provider {
	if !cfg.Enabled() {
		slog.Info("no LLM provider configured; free-form messages get the fallback reply")
		return nil
	}
	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = knownAPIBases[cfg.Name]
	}
	p := providers.NewOpenAIProvider(cfg.Name, cfg.APIKey, apiBase, cfg.Model)
	slog.Info("registered provider", "name", cfg.Name, "model", cfg.Model)
	return p
}

func buildResponder(cfg config.ProviderConfig) responder.Responder {
	return responder.NewRouter(buildProvider(cfg), responder.RouterConfig{
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Fallback:    cfg.Fallback,
	})
}
