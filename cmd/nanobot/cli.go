package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dotsetgreg/nanobot/pkg/cron"
	"github.com/dotsetgreg/nanobot/pkg/skills"
	"github.com/spf13/cobra"
)

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   appName,
		Short: "Personal AI assistant with Discord gateway, tools, memory, and scheduling",
		Long: strings.TrimSpace(`nanobot is a lean personal assistant runtime.

Use CLI commands to onboard, run local agent sessions, run the Discord
gateway, and manage scheduled jobs and skills.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion(cmd.OutOrStdout())
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newOnboardCommand())
	root.AddCommand(newAgentCommand())
	root.AddCommand(newGatewayCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newCronCommand())
	root.AddCommand(newSkillsCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func newOnboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "onboard",
		Short:   "Initialize ~/.nanobot config and workspace templates",
		Example: "  nanobot onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard()
		},
	}
}

func newAgentCommand() *cobra.Command {
	var (
		message string
		session string
		debug   bool
	)

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run direct local chat with the agent (CLI mode)",
		Example: strings.Join([]string{
			"  nanobot agent",
			"  nanobot agent --session cli:workspace",
			"  nanobot agent --message \"summarize my TODOs\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(message, session, debug)
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "One-shot prompt to send to the agent")
	cmd.Flags().StringVarP(&session, "session", "s", "cli:default", "Session key for continuity")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func newGatewayCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "gateway",
		Short:   "Run the Discord gateway with cron, heartbeat, and health endpoints",
		Example: "  nanobot gateway --debug",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(debug)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration and runtime readiness",
		Example: "  nanobot status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.OutOrStdout())
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show build/version metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion(cmd.OutOrStdout())
			return nil
		},
	}
}

func openCronService() (*cron.CronService, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cron.NewCronService(cronStorePath(cfg), nil), nil
}

func newCronCommand() *cobra.Command {
	cronRoot := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled jobs",
		Long:  "Create and manage recurring or cron-expression based jobs for the agent.",
	}

	cronRoot.AddCommand(&cobra.Command{
		Use:     "list",
		Short:   "List scheduled jobs",
		Example: "  nanobot cron list",
		RunE: func(cmd *cobra.Command, args []string) error {
			cs, err := openCronService()
			if err != nil {
				return err
			}
			jobs := cs.ListJobs(true)
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No scheduled jobs.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Scheduled jobs:")
			for _, job := range jobs {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s (%s)\n", job.Name, job.ID)
				fmt.Fprintf(cmd.OutOrStdout(), "    Schedule: %s\n", describeSchedule(job.Schedule))
				fmt.Fprintf(cmd.OutOrStdout(), "    Status: %s\n", describeStatus(job))
				fmt.Fprintf(cmd.OutOrStdout(), "    Next run: %s\n", describeNextRun(job))
			}
			return nil
		},
	})

	var (
		name    string
		message string
		every   int64
		expr    string
		deliver bool
		to      string
		channel string
	)

	add := &cobra.Command{
		Use:   "add",
		Short: "Add a scheduled job",
		Long:  "Add a recurring job with either --every (seconds) or --cron expression.",
		Example: strings.Join([]string{
			"  nanobot cron add --name backup --message \"run backup\" --every 3600",
			"  nanobot cron add --name digest --message \"send daily digest\" --cron '0 9 * * *' --deliver --channel discord --to 1234",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("--name is required")
			}
			if strings.TrimSpace(message) == "" {
				return fmt.Errorf("--message is required")
			}
			if every <= 0 && strings.TrimSpace(expr) == "" {
				return fmt.Errorf("either --every or --cron must be provided")
			}
			if every > 0 && strings.TrimSpace(expr) != "" {
				return fmt.Errorf("--every and --cron are mutually exclusive")
			}

			var schedule cron.CronSchedule
			if every > 0 {
				everyMS := every * 1000
				schedule = cron.CronSchedule{Kind: "every", EveryMS: &everyMS}
			} else {
				schedule = cron.CronSchedule{Kind: "cron", Expr: expr}
			}

			cs, err := openCronService()
			if err != nil {
				return err
			}
			job, err := cs.AddJob(name, schedule, message, deliver, channel, to)
			if err != nil {
				return fmt.Errorf("add job: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Added job '%s' (%s)\n", job.Name, job.ID)
			return nil
		},
	}

	add.Flags().StringVarP(&name, "name", "n", "", "Job name")
	add.Flags().StringVarP(&message, "message", "m", "", "Message payload for the job")
	add.Flags().Int64VarP(&every, "every", "e", 0, "Run every N seconds")
	add.Flags().StringVarP(&expr, "cron", "c", "", "Cron expression (e.g. '0 9 * * *')")
	add.Flags().BoolVarP(&deliver, "deliver", "d", false, "Deliver result back to a channel target")
	add.Flags().StringVar(&to, "to", "", "Recipient/chat target")
	add.Flags().StringVar(&channel, "channel", "", "Channel name for delivery")
	cronRoot.AddCommand(add)

	cronRoot.AddCommand(&cobra.Command{
		Use:     "remove <job_id>",
		Aliases: []string{"rm", "delete"},
		Short:   "Remove a scheduled job",
		Args:    cobra.ExactArgs(1),
		Example: "  nanobot cron remove job_abc123",
		RunE: func(cmd *cobra.Command, args []string) error {
			cs, err := openCronService()
			if err != nil {
				return err
			}
			if !cs.RemoveJob(args[0]) {
				return fmt.Errorf("job %s not found", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed job %s\n", args[0])
			return nil
		},
	})

	cronRoot.AddCommand(newCronEnableCommand(true))
	cronRoot.AddCommand(newCronEnableCommand(false))

	return cronRoot
}

func newCronEnableCommand(enable bool) *cobra.Command {
	use, short := "enable <job_id>", "Enable a disabled job"
	if !enable {
		use, short = "disable <job_id>", "Disable a job"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cs, err := openCronService()
			if err != nil {
				return err
			}
			job := cs.EnableJob(args[0], enable)
			if job == nil {
				return fmt.Errorf("job %s not found", args[0])
			}
			state := "enabled"
			if !enable {
				state = "disabled"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Job '%s' %s\n", job.Name, state)
			return nil
		},
	}
}

func describeSchedule(s cron.CronSchedule) string {
	switch {
	case s.Kind == "every" && s.EveryMS != nil:
		return fmt.Sprintf("every %ds", *s.EveryMS/1000)
	case s.Kind == "cron":
		return s.Expr
	default:
		return "one-time"
	}
}

func describeStatus(job *cron.CronJob) string {
	if job.Enabled {
		return "enabled"
	}
	return "disabled"
}

func describeNextRun(job *cron.CronJob) string {
	if job.State.NextRunAtMS == nil {
		return "scheduled"
	}
	return time.UnixMilli(*job.State.NextRunAtMS).Format("2006-01-02 15:04")
}

func openSkillsLoader() (*skills.SkillsLoader, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	globalDir := filepath.Dir(getConfigPath())
	return skills.NewSkillsLoader(
		cfg.WorkspacePath(),
		filepath.Join(globalDir, "skills"),
		filepath.Join(globalDir, appName, "skills"),
	), nil
}

func newSkillsCommand() *cobra.Command {
	skillsRoot := &cobra.Command{
		Use:   "skills",
		Short: "List and inspect workspace skills",
	}

	skillsRoot.AddCommand(&cobra.Command{
		Use:     "list",
		Short:   "List available skills",
		Example: "  nanobot skills list",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := openSkillsLoader()
			if err != nil {
				return err
			}
			allSkills := loader.ListSkills()
			if len(allSkills) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No skills installed.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Skills:")
			for _, skill := range allSkills {
				fmt.Fprintf(cmd.OutOrStdout(), "  ✓ %s (%s)\n", skill.Name, skill.Source)
				if skill.Description != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "    %s\n", skill.Description)
				}
			}
			return nil
		},
	})

	skillsRoot.AddCommand(&cobra.Command{
		Use:     "show <skill>",
		Short:   "Show full SKILL.md content",
		Args:    cobra.ExactArgs(1),
		Example: "  nanobot skills show weather",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := openSkillsLoader()
			if err != nil {
				return err
			}
			content, ok := loader.LoadSkill(args[0])
			if !ok {
				return fmt.Errorf("skill %q not found", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Skill: %s\n\n%s\n", args[0], content)
			return nil
		},
	})

	return skillsRoot
}
