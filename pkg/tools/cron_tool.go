package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dotsetgreg/nanobot/pkg/cron"
)

// CronTool lets the model manage scheduled jobs.
type CronTool struct {
	service *cron.CronService
}

func NewCronTool(service *cron.CronService) *CronTool {
	return &CronTool{service: service}
}

func (t *CronTool) Name() string {
	return "cron"
}

func (t *CronTool) Description() string {
	return "Manage scheduled jobs. Actions: add (with at/every/cron schedule), list, remove, enable, disable."
}

func (t *CronTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"add", "list", "remove", "enable", "disable"},
				"description": "Job action",
			},
			"name": map[string]interface{}{
				"type":        "string",
				"description": "Display name for action=add",
			},
			"message": map[string]interface{}{
				"type":        "string",
				"description": "Message the agent receives when the job fires (action=add)",
			},
			"schedule_kind": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"at", "every", "cron"},
				"description": "Schedule type for action=add",
			},
			"at_ms": map[string]interface{}{
				"type":        "integer",
				"description": "Absolute fire time in unix milliseconds (schedule_kind=at)",
			},
			"every_ms": map[string]interface{}{
				"type":        "integer",
				"description": "Repeat period in milliseconds (schedule_kind=every)",
				"minimum":     1000.0,
			},
			"expr": map[string]interface{}{
				"type":        "string",
				"description": "Cron expression (schedule_kind=cron)",
			},
			"tz": map[string]interface{}{
				"type":        "string",
				"description": "IANA timezone for cron expressions",
			},
			"deliver": map[string]interface{}{
				"type":        "boolean",
				"description": "Deliver the agent's reply back to the channel",
			},
			"job_id": map[string]interface{}{
				"type":        "string",
				"description": "Job id for remove/enable/disable",
			},
		},
		"required": []string{"action"},
	}
}

func (t *CronTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	if t.service == nil {
		return ErrorResult("scheduler is not available")
	}

	action, _ := args["action"].(string)
	switch action {
	case "add":
		return t.add(ctx, args)
	case "list":
		return t.list()
	case "remove":
		id, _ := args["job_id"].(string)
		if id == "" {
			return ErrorResult("job_id is required for action=remove")
		}
		if !t.service.RemoveJob(id) {
			return ErrorResult(fmt.Sprintf("job %s not found", id))
		}
		return UserResult("Removed job " + id)
	case "enable", "disable":
		id, _ := args["job_id"].(string)
		if id == "" {
			return ErrorResult("job_id is required for enable/disable")
		}
		job := t.service.EnableJob(id, action == "enable")
		if job == nil {
			return ErrorResult(fmt.Sprintf("job %s not found", id))
		}
		return UserResult(fmt.Sprintf("Job %s is now %s", id, map[bool]string{true: "enabled", false: "disabled"}[job.Enabled]))
	default:
		return ErrorResult("action must be one of: add, list, remove, enable, disable")
	}
}

func (t *CronTool) add(ctx context.Context, args map[string]interface{}) *ToolResult {
	name, _ := args["name"].(string)
	message, _ := args["message"].(string)
	if strings.TrimSpace(message) == "" {
		return ErrorResult("message is required for action=add")
	}

	scheduleKind, _ := args["schedule_kind"].(string)
	schedule := cron.CronSchedule{Kind: scheduleKind}
	if raw, ok := args["at_ms"].(float64); ok {
		at := int64(raw)
		schedule.AtMS = &at
	}
	if raw, ok := args["every_ms"].(float64); ok {
		every := int64(raw)
		schedule.EveryMS = &every
	}
	if expr, ok := args["expr"].(string); ok {
		schedule.Expr = expr
	}
	if tz, ok := args["tz"].(string); ok {
		schedule.TZ = tz
	}

	deliver, _ := args["deliver"].(bool)
	channel, chatID := channelChatFromContext(ctx)

	job, err := t.service.AddJob(name, schedule, message, deliver, channel, chatID)
	if err != nil {
		return ErrorResult(fmt.Sprintf("adding job: %v", err)).WithError(err)
	}

	desc := describeSchedule(job.Schedule)
	return UserResult(fmt.Sprintf("Scheduled job %s (%s): %s", job.ID, desc, message))
}

func (t *CronTool) list() *ToolResult {
	jobs := t.service.ListJobs(true)
	if len(jobs) == 0 {
		return UserResult("No scheduled jobs.")
	}

	lines := []string{"Scheduled jobs:"}
	for _, job := range jobs {
		status := "enabled"
		if !job.Enabled {
			status = "disabled"
		}
		next := "n/a"
		if job.State.NextRunAtMS != nil {
			next = time.UnixMilli(*job.State.NextRunAtMS).Format(time.RFC3339)
		}
		lines = append(lines, fmt.Sprintf("- %s [%s] %s (%s, next %s)", job.ID, status, job.Name, describeSchedule(job.Schedule), next))
	}
	return UserResult(strings.Join(lines, "\n"))
}

func describeSchedule(s cron.CronSchedule) string {
	switch s.Kind {
	case "at":
		if s.AtMS != nil {
			return "once at " + time.UnixMilli(*s.AtMS).Format(time.RFC3339)
		}
		return "once"
	case "every":
		if s.EveryMS != nil {
			return "every " + (time.Duration(*s.EveryMS) * time.Millisecond).String()
		}
		return "every"
	case "cron":
		if s.TZ != "" {
			return "cron " + s.Expr + " (" + s.TZ + ")"
		}
		return "cron " + s.Expr
	default:
		return s.Kind
	}
}
