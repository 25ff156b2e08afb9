package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dotsetgreg/nanobot/pkg/config"
)

const soulTemplate = `# Soul

You are nanobot, a personal assistant living in your user's workspace.

Guidelines:
- Be direct and concise. Skip filler.
- Use your tools instead of guessing. Read files before claiming what is in them.
- Save durable facts and preferences to memory when you learn them.
- Ask before doing anything destructive.
`

const userTemplate = `# User

Describe yourself here so the assistant has context:

- Name:
- Timezone:
- What you usually want help with:
`

const heartbeatTemplate = `# Heartbeat

This prompt runs on a timer without any conversation history.

Check for anything that needs the user's attention (overdue todos, scheduled
follow-ups). If there is nothing to report, reply with exactly:

HEARTBEAT_OK
`

const memoryTemplate = `# Memory

Curated long-term memory. The assistant appends dated entries below.
`

var workspaceTemplates = map[string]string{
	"SOUL.md":          soulTemplate,
	"USER.md":          userTemplate,
	"HEARTBEAT.md":     heartbeatTemplate,
	"memory/MEMORY.md": memoryTemplate,
}

func runOnboard() error {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists at %s\n", configPath)
		fmt.Print("Overwrite? (y/n): ")
		reader := bufio.NewReader(os.Stdin)
		response, readErr := reader.ReadString('\n')
		if readErr != nil {
			fmt.Println("Aborted.")
			return nil
		}
		response = strings.ToLower(strings.TrimSpace(response))
		if response != "y" && response != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	cfg := config.DefaultConfig()
	if err := config.SaveConfig(configPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	if err := createWorkspaceTemplates(cfg.WorkspacePath()); err != nil {
		return fmt.Errorf("create workspace templates: %w", err)
	}

	fmt.Printf("%s is ready!\n", appName)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Add your API key to", configPath)
	fmt.Println("  2. (Gateway mode) Add your Discord bot token to channels.discord.token")
	fmt.Printf("  3. Chat locally: %s agent -m \"Hello!\"\n", appName)
	fmt.Printf("  4. Run gateway: %s gateway\n", appName)
	fmt.Printf("  5. Check readiness: %s status\n", appName)
	return nil
}

// createWorkspaceTemplates writes the starter files. Existing files are left
// alone so re-onboarding never clobbers a customised workspace.
func createWorkspaceTemplates(workspace string) error {
	for name, content := range workspaceTemplates {
		target := filepath.Join(workspace, name)
		if _, err := os.Stat(target); err == nil {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", filepath.Dir(target), err)
		}
		if err := os.WriteFile(target, []byte(content), 0644); err != nil {
			return fmt.Errorf("write %s: %w", target, err)
		}
	}
	return nil
}
