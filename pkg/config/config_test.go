package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Agents.Defaults.MaxToolIterations != DefaultConfig().Agents.Defaults.MaxToolIterations {
		t.Fatalf("missing file must yield defaults")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := DefaultConfig()
	cfg.Agents.Defaults.Model = "some/model"
	cfg.Channels.Discord.Token = "tok"
	cfg.Channels.Discord.AllowFrom = []string{"123", "alice"}
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.Agents.Defaults.Model != "some/model" {
		t.Fatalf("model = %q", loaded.Agents.Defaults.Model)
	}
	if len(loaded.Channels.Discord.AllowFrom) != 2 {
		t.Fatalf("allow_from = %v", loaded.Channels.Discord.AllowFrom)
	}
}

func TestEnvOverlayWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := DefaultConfig()
	cfg.Agents.Defaults.Model = "file/model"
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	t.Setenv("NANOBOT_AGENTS_DEFAULTS_MODEL", "env/model")

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.Agents.Defaults.Model != "env/model" {
		t.Fatalf("env must override file, got %q", loaded.Agents.Defaults.Model)
	}
}

func TestLoadConfigCorruptJSONErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{nope"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("corrupt config must error")
	}
}

func TestGetAPIKeyFollowsProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers.OpenRouter.APIKey = "or-key"
	cfg.Providers.OpenAI.APIKey = "oa-key"

	cfg.Agents.Defaults.Provider = "openrouter"
	if got := cfg.GetAPIKey(); got != "or-key" {
		t.Fatalf("openrouter key = %q", got)
	}

	cfg.Agents.Defaults.Provider = "openai"
	if got := cfg.GetAPIKey(); got != "oa-key" {
		t.Fatalf("openai key = %q", got)
	}

	cfg.Providers.OpenAI.APIKey = ""
	if got := cfg.GetAPIKey(); got != "or-key" {
		t.Fatalf("fallback key = %q", got)
	}
}

func TestWorkspacePathExpandsHome(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Agents.Defaults.Workspace = "~/nanobot-ws"

	home, _ := os.UserHomeDir()
	if got := cfg.WorkspacePath(); got != filepath.Join(home, "nanobot-ws") {
		t.Fatalf("WorkspacePath = %q", got)
	}
}
