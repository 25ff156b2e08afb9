package providers

import (
	"github.com/dotsetgreg/nanobot/pkg/config"
)

const openRouterDefaultBase = "https://openrouter.ai/api/v1"

func init() {
	RegisterFactory("openrouter", func(cfg *config.Config) (LLMProvider, error) {
		pc := cfg.Providers.OpenRouter
		apiBase := pc.APIBase
		if apiBase == "" {
			apiBase = openRouterDefaultBase
		}
		return newChatCompletionsProvider(
			"openrouter",
			apiBase,
			pc.APIKey,
			cfg.Agents.Defaults.Model,
			pc.Proxy,
			map[string]string{
				"HTTP-Referer": "https://github.com/dotsetgreg/nanobot",
				"X-Title":      "nanobot",
			},
		)
	})
}
