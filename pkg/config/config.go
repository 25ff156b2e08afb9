package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
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

type Config struct {
	Agents    AgentsConfig    `json:"agents"`
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	Gateway   GatewayConfig   `json:"gateway"`
	Memory    MemoryConfig    `json:"memory"`
	Cron      CronConfig      `json:"cron"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
	mu        sync.RWMutex
}

type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults"`
}

type AgentDefaults struct {
	Workspace           string  `json:"workspace" env:"NANOBOT_AGENTS_DEFAULTS_WORKSPACE"`
	RestrictToWorkspace bool    `json:"restrict_to_workspace" env:"NANOBOT_AGENTS_DEFAULTS_RESTRICT_TO_WORKSPACE"`
	Provider            string  `json:"provider" env:"NANOBOT_AGENTS_DEFAULTS_PROVIDER"`
	Model               string  `json:"model" env:"NANOBOT_AGENTS_DEFAULTS_MODEL"`
	MaxTokens           int     `json:"max_tokens" env:"NANOBOT_AGENTS_DEFAULTS_MAX_TOKENS"`
	Temperature         float64 `json:"temperature" env:"NANOBOT_AGENTS_DEFAULTS_TEMPERATURE"`
	MaxToolIterations   int     `json:"max_tool_iterations" env:"NANOBOT_AGENTS_DEFAULTS_MAX_TOOL_ITERATIONS"`
	MaxContextTokens    int     `json:"max_context_tokens" env:"NANOBOT_AGENTS_DEFAULTS_MAX_CONTEXT_TOKENS"`
	MaxHistoryShare     float64 `json:"max_history_share" env:"NANOBOT_AGENTS_DEFAULTS_MAX_HISTORY_SHARE"`
}

type ChannelsConfig struct {
	Discord DiscordConfig `json:"discord"`
}

type DiscordConfig struct {
	Token     string              `json:"token" env:"NANOBOT_CHANNELS_DISCORD_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"NANOBOT_CHANNELS_DISCORD_ALLOW_FROM"`
}

type ProvidersConfig struct {
	OpenRouter ProviderConfig `json:"openrouter"`
	OpenAI     ProviderConfig `json:"openai"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key"`
	APIBase string `json:"api_base"`
	Proxy   string `json:"proxy,omitempty"`
}

type GatewayConfig struct {
	Host string `json:"host" env:"NANOBOT_GATEWAY_HOST"`
	Port int    `json:"port" env:"NANOBOT_GATEWAY_PORT"`
}

type MemoryConfig struct {
	Backend      string  `json:"backend" env:"NANOBOT_MEMORY_BACKEND"` // file | vector
	MaxResults   int     `json:"max_results" env:"NANOBOT_MEMORY_MAX_RESULTS"`
	MinScore     float64 `json:"min_score" env:"NANOBOT_MEMORY_MIN_SCORE"`
	IndexEnabled bool    `json:"index_enabled" env:"NANOBOT_MEMORY_INDEX_ENABLED"`
}

type CronConfig struct {
	PollIntervalSeconds int `json:"poll_interval_seconds" env:"NANOBOT_CRON_POLL_INTERVAL_SECONDS"`
}

type HeartbeatConfig struct {
	Enabled  bool `json:"enabled" env:"NANOBOT_HEARTBEAT_ENABLED"`
	Interval int  `json:"interval" env:"NANOBOT_HEARTBEAT_INTERVAL"` // minutes, min 5
}

func DefaultConfig() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Workspace:           "~/.nanobot/workspace",
				RestrictToWorkspace: true,
				Provider:            "openrouter",
				Model:               "openai/gpt-5.2",
				MaxTokens:           8192,
				Temperature:         0.7,
				MaxToolIterations:   25,
				MaxContextTokens:    128000,
				MaxHistoryShare:     0.5,
			},
		},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{
				Token:     "",
				AllowFrom: FlexibleStringSlice{},
			},
		},
		Providers: ProvidersConfig{
			OpenRouter: ProviderConfig{},
			OpenAI:     ProviderConfig{},
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 18790,
		},
		Memory: MemoryConfig{
			Backend:      "file",
			MaxResults:   8,
			MinScore:     0.35,
			IndexEnabled: true,
		},
		Cron: CronConfig{
			PollIntervalSeconds: 2,
		},
		Heartbeat: HeartbeatConfig{
			Enabled:  false,
			Interval: 30,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Agents.Defaults.Workspace)
}

// DataDir is the per-user state directory holding sessions and runtime files.
// It sits outside the workspace so file tools cannot clobber it.
func (c *Config) DataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".nanobot")
}

func (c *Config) SessionsPath() string {
	return filepath.Join(c.DataDir(), "sessions")
}

// GetAPIKey returns the key for the configured default provider, falling back
// to whichever provider has one set.
func (c *Config) GetAPIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch c.Agents.Defaults.Provider {
	case "openai":
		if c.Providers.OpenAI.APIKey != "" {
			return c.Providers.OpenAI.APIKey
		}
	default:
		if c.Providers.OpenRouter.APIKey != "" {
			return c.Providers.OpenRouter.APIKey
		}
	}
	if c.Providers.OpenRouter.APIKey != "" {
		return c.Providers.OpenRouter.APIKey
	}
	return c.Providers.OpenAI.APIKey
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
