package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/dotsetgreg/nanobot/pkg/agent"
	"github.com/dotsetgreg/nanobot/pkg/bus"
	"github.com/dotsetgreg/nanobot/pkg/channels"
	"github.com/dotsetgreg/nanobot/pkg/config"
	"github.com/dotsetgreg/nanobot/pkg/cron"
	"github.com/dotsetgreg/nanobot/pkg/health"
	"github.com/dotsetgreg/nanobot/pkg/heartbeat"
	"github.com/dotsetgreg/nanobot/pkg/logger"
	"github.com/dotsetgreg/nanobot/pkg/memory"
	"github.com/dotsetgreg/nanobot/pkg/providers"
	"github.com/dotsetgreg/nanobot/pkg/session"
	"github.com/dotsetgreg/nanobot/pkg/tools"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const appName = "nanobot"

func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func formatBuildInfo() (build string, goVer string) {
	build = buildTime
	goVer = goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return
}

func printVersion(out io.Writer) {
	fmt.Fprintf(out, "%s %s\n", appName, formatVersion())
	build, goVer := formatBuildInfo()
	if build != "" {
		fmt.Fprintf(out, "  Build: %s\n", build)
	}
	if goVer != "" {
		fmt.Fprintf(out, "  Go: %s\n", goVer)
	}
}

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func getConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".nanobot", "config.json")
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(getConfigPath())
}

func validateRuntimeConfig(cfg *config.Config, requireDiscord bool) error {
	configPath := getConfigPath()
	if strings.TrimSpace(cfg.GetAPIKey()) == "" {
		return fmt.Errorf("a provider api_key is required in %s or via environment", configPath)
	}
	if requireDiscord && strings.TrimSpace(cfg.Channels.Discord.Token) == "" {
		return fmt.Errorf("channels.discord.token is required in %s or NANOBOT_CHANNELS_DISCORD_TOKEN", configPath)
	}
	return nil
}

// buildRuntime assembles the provider, bus, stores, and agent loop shared by
// agent and gateway modes.
func buildRuntime(cfg *config.Config) (*agent.AgentLoop, *bus.MessageBus, error) {
	provider, err := providers.CreateProvider(cfg.Agents.Defaults.Provider, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create provider: %w", err)
	}

	sessions, err := session.NewStore(cfg.SessionsPath())
	if err != nil {
		return nil, nil, fmt.Errorf("open session store: %w", err)
	}

	workspace := cfg.WorkspacePath()
	memStore, fileStore, err := buildMemoryStore(cfg, provider, workspace)
	if err != nil {
		return nil, nil, fmt.Errorf("open memory store: %w", err)
	}

	msgBus := bus.NewMessageBus()
	agentLoop, err := agent.NewAgentLoop(cfg, msgBus, provider, sessions, memStore)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize agent loop: %w", err)
	}

	if fileStore != nil {
		agentLoop.RegisterTool(tools.NewMemorySaveTool(fileStore))
	}
	agentLoop.RegisterTool(tools.NewMemorySearchTool(memStore))
	agentLoop.RegisterTool(tools.NewMemoryForgetTool(memStore))

	return agentLoop, msgBus, nil
}

// buildMemoryStore picks the configured backend. The file store is also
// returned concretely so memory_save can use its daily/long-term split.
func buildMemoryStore(cfg *config.Config, provider providers.LLMProvider, workspace string) (memory.Store, *memory.FileStore, error) {
	switch cfg.Memory.Backend {
	case "", "file":
		fs, err := memory.NewFileStore(filepath.Join(workspace, "memory"), cfg.Memory.IndexEnabled)
		if err != nil {
			return nil, nil, err
		}
		return fs, fs, nil
	case "vector":
		vs, err := memory.NewVectorStore(
			filepath.Join(workspace, "state", "memory.db"),
			provider,
			cfg.Agents.Defaults.Model,
			cfg.Memory.MinScore,
		)
		if err != nil {
			return nil, nil, err
		}
		return vs, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown memory backend %q (supported: file, vector)", cfg.Memory.Backend)
	}
}

func setupCron(agentLoop *agent.AgentLoop, msgBus *bus.MessageBus, cfg *config.Config) *cron.CronService {
	cronService := cron.NewCronService(cronStorePath(cfg), msgBus)
	if cfg.Cron.PollIntervalSeconds > 0 {
		cronService.SetPollInterval(time.Duration(cfg.Cron.PollIntervalSeconds) * time.Second)
	}

	agentLoop.RegisterTool(tools.NewCronTool(cronService))

	cronService.SetOnJob(func(job *cron.CronJob) (string, error) {
		channel := job.Payload.Channel
		if channel == "" {
			channel = "cron"
		}
		return agentLoop.ProcessMessage(context.Background(), bus.InboundMessage{
			Channel:    channel,
			SenderID:   "cron",
			ChatID:     job.Payload.To,
			Content:    job.Payload.Message,
			SessionKey: "cron:" + job.ID,
		})
	})

	return cronService
}

func cronStorePath(cfg *config.Config) string {
	return filepath.Join(cfg.WorkspacePath(), "cron", "jobs.json")
}

func runAgent(message, sessionKey string, debug bool) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := validateRuntimeConfig(cfg, false); err != nil {
		return err
	}

	agentLoop, _, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer agentLoop.Stop()

	info := agentLoop.StartupInfo()
	logger.InfoCF("agent", "Agent initialized", info)

	if message != "" {
		response, err := agentLoop.ProcessDirect(context.Background(), message, sessionKey)
		if err != nil {
			return err
		}
		fmt.Printf("\n%s %s\n", appName, response)
		return nil
	}

	fmt.Printf("%s Interactive mode (Ctrl+C to exit)\n\n", appName)
	interactiveMode(agentLoop, sessionKey)
	return nil
}

func interactiveMode(agentLoop *agent.AgentLoop, sessionKey string) {
	prompt := fmt.Sprintf("%s You: ", appName)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(os.TempDir(), ".nanobot_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		fmt.Println("Falling back to simple input mode...")
		simpleInteractiveMode(agentLoop, sessionKey)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		if !handleREPLInput(agentLoop, sessionKey, line) {
			return
		}
	}
}

func simpleInteractiveMode(agentLoop *agent.AgentLoop, sessionKey string) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Printf("%s You: ", appName)
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		if !handleREPLInput(agentLoop, sessionKey, line) {
			return
		}
	}
}

// handleREPLInput processes one line of user input. Returns false when the
// REPL should exit.
func handleREPLInput(agentLoop *agent.AgentLoop, sessionKey, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return true
	}
	if input == "exit" || input == "quit" {
		fmt.Println("Goodbye!")
		return false
	}

	response, err := agentLoop.ProcessDirect(context.Background(), input, sessionKey)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return true
	}

	fmt.Printf("\n%s %s\n\n", appName, response)
	return true
}

func runGateway(debug bool) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := validateRuntimeConfig(cfg, true); err != nil {
		return err
	}

	agentLoop, msgBus, err := buildRuntime(cfg)
	if err != nil {
		return err
	}

	info := agentLoop.StartupInfo()
	logger.InfoCF("agent", "Agent initialized", info)

	cronService := setupCron(agentLoop, msgBus, cfg)

	heartbeatService := heartbeat.NewHeartbeatService(
		cfg.WorkspacePath(),
		cfg.Heartbeat.Interval,
		cfg.Heartbeat.Enabled,
	)
	heartbeatService.SetBus(msgBus)
	heartbeatService.SetTargetResolver(agentLoop.LastTarget)
	heartbeatService.SetHandler(func(prompt, channel, chatID string) *tools.ToolResult {
		if channel == "" || chatID == "" {
			channel, chatID = "cli", "direct"
		}
		response, err := agentLoop.ProcessHeartbeat(context.Background(), prompt, channel, chatID)
		if err != nil {
			return tools.ErrorResult(fmt.Sprintf("Heartbeat error: %v", err))
		}
		return tools.UserResult(response)
	})

	channelManager, err := channels.NewManager(cfg, msgBus)
	if err != nil {
		return fmt.Errorf("create channel manager: %w", err)
	}

	fmt.Printf("✓ Channels enabled: %s\n", strings.Join(channelManager.GetEnabledChannels(), ", "))
	fmt.Println("Press Ctrl+C to stop")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cronService.Start(ctx)
	fmt.Println("✓ Cron service started")

	if err := heartbeatService.Start(); err != nil {
		fmt.Printf("Error starting heartbeat service: %v\n", err)
	}

	if err := channelManager.StartAll(ctx); err != nil {
		cancel()
		heartbeatService.Stop()
		cronService.Stop()
		agentLoop.Stop()
		return fmt.Errorf("start channels: %w", err)
	}

	healthServer := health.NewServer(cfg.Gateway.Host, cfg.Gateway.Port)
	go func() {
		if err := healthServer.Start(); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("health", "Health server error", map[string]interface{}{"error": err.Error()})
		}
	}()
	fmt.Printf("✓ Health endpoints at http://%s:%d/health and /ready\n", cfg.Gateway.Host, cfg.Gateway.Port)

	go func() {
		if err := agentLoop.Run(ctx); err != nil {
			logger.ErrorCF("agent", "Agent loop stopped", map[string]interface{}{"error": err.Error()})
		}
	}()
	healthServer.SetReady(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	<-sigChan

	fmt.Println("\nShutting down...")
	healthServer.SetReady(false)
	cancel()
	healthServer.Stop(context.Background())
	heartbeatService.Stop()
	cronService.Stop()
	agentLoop.Stop()
	if err := channelManager.StopAll(context.Background()); err != nil {
		logger.WarnCF("channels", "Error stopping channels", map[string]interface{}{"error": err.Error()})
	}
	fmt.Println("✓ Gateway stopped")
	return nil
}

func runStatus(out io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	configPath := getConfigPath()

	fmt.Fprintf(out, "%s Status\n", appName)
	fmt.Fprintf(out, "Version: %s\n", formatVersion())
	fmt.Fprintln(out)

	mark := func(ok bool) string {
		if ok {
			return "✓"
		}
		return "✗"
	}

	_, cfgErr := os.Stat(configPath)
	fmt.Fprintln(out, "Config:", configPath, mark(cfgErr == nil))

	workspace := cfg.WorkspacePath()
	_, wsErr := os.Stat(workspace)
	fmt.Fprintln(out, "Workspace:", workspace, mark(wsErr == nil))

	memoryDB := filepath.Join(workspace, "state", "memory.db")
	if _, err := os.Stat(memoryDB); err == nil {
		fmt.Fprintln(out, "Memory DB:", memoryDB, "✓")
	} else {
		fmt.Fprintln(out, "Memory DB:", memoryDB, "not initialized")
	}

	if cfgErr == nil {
		fmt.Fprintf(out, "Model: %s\n", cfg.Agents.Defaults.Model)

		set := func(ok bool) string {
			if ok {
				return "✓"
			}
			return "not set"
		}
		apiReady := strings.TrimSpace(cfg.GetAPIKey()) != ""
		discordReady := strings.TrimSpace(cfg.Channels.Discord.Token) != ""

		fmt.Fprintln(out, "API key:", set(apiReady))
		fmt.Fprintln(out, "Discord token:", set(discordReady))
		fmt.Fprintln(out, "Agent ready:", set(apiReady))
		fmt.Fprintln(out, "Gateway ready:", set(apiReady && discordReady))
	}
	return nil
}
