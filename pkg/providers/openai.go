package providers

import (
	"github.com/dotsetgreg/nanobot/pkg/config"
)

const openAIDefaultBase = "https://api.openai.com/v1"

func init() {
	RegisterFactory("openai", func(cfg *config.Config) (LLMProvider, error) {
		pc := cfg.Providers.OpenAI
		apiBase := pc.APIBase
		if apiBase == "" {
			apiBase = openAIDefaultBase
		}
		return newChatCompletionsProvider(
			"openai",
			apiBase,
			pc.APIKey,
			cfg.Agents.Defaults.Model,
			pc.Proxy,
			nil,
		)
	})
}
