package cron

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/dotsetgreg/nanobot/pkg/bus"
	"github.com/dotsetgreg/nanobot/pkg/logger"
)

const defaultPollInterval = 2 * time.Second

// OnJobFunc runs an agent-turn payload and returns the agent's reply.
type OnJobFunc func(job *CronJob) (string, error)

// CronService owns the persistent job store and the single poll ticker that
// fires due jobs. All job edits go through the service.
type CronService struct {
	path         string
	bus          *bus.MessageBus
	pollInterval time.Duration
	onJob        OnJobFunc

	mu      sync.Mutex
	store   *CronStore
	corrupt bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewCronService(path string, b *bus.MessageBus) *CronService {
	store, corrupt := loadStore(path)
	return &CronService{
		path:         path,
		bus:          b,
		pollInterval: defaultPollInterval,
		store:        store,
		corrupt:      corrupt,
	}
}

// SetPollInterval overrides the ticker period. Must be called before Start.
func (s *CronService) SetPollInterval(d time.Duration) {
	if d > 0 {
		s.pollInterval = d
	}
}

// SetOnJob wires the agent-turn executor. Without it, agent-turn payloads are
// published as inbound messages for the agent loop to pick up.
func (s *CronService) SetOnJob(fn OnJobFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onJob = fn
}

func (s *CronService) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	jobCount := len(s.store.Jobs)
	s.mu.Unlock()

	logger.InfoCF("cron", "Scheduler started", map[string]interface{}{
		"jobs":          jobCount,
		"poll_interval": s.pollInterval.String(),
	})

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.fireDue(time.Now().UnixMilli())
			}
		}
	}()
}

func (s *CronService) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// AddJob creates and persists a new enabled job.
func (s *CronService) AddJob(name string, schedule CronSchedule, message string, deliver bool, channel, to string) (*CronJob, error) {
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("job message is required")
	}
	if err := validateSchedule(schedule); err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	job := &CronJob{
		ID:      "job-" + uuid.NewString(),
		Name:    strings.TrimSpace(name),
		Enabled: true,
		Schedule: schedule,
		Payload: CronPayload{
			Kind:    "agent_turn",
			Message: message,
			Deliver: deliver,
			Channel: channel,
			To:      to,
		},
		CreatedAtMS:    now,
		UpdatedAtMS:    now,
		DeleteAfterRun: schedule.Kind == "at",
	}
	next := nextRun(job, now)
	job.State.NextRunAtMS = next

	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Jobs = append(s.store.Jobs, job)
	if err := s.persistLocked(); err != nil {
		s.store.Jobs = s.store.Jobs[:len(s.store.Jobs)-1]
		return nil, err
	}
	return job, nil
}

// AddSystemEvent creates a job whose firing emits a bus event without
// invoking the model.
func (s *CronService) AddSystemEvent(name string, schedule CronSchedule, message, channel, to string) (*CronJob, error) {
	job, err := s.AddJob(name, schedule, message, true, channel, to)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	job.Payload.Kind = "system_event"
	job.UpdatedAtMS = time.Now().UnixMilli()
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return job, nil
}

func validateSchedule(schedule CronSchedule) error {
	switch schedule.Kind {
	case "at":
		if schedule.AtMS == nil || *schedule.AtMS <= 0 {
			return fmt.Errorf("schedule kind=at requires atMs")
		}
	case "every":
		if schedule.EveryMS == nil || *schedule.EveryMS <= 0 {
			return fmt.Errorf("schedule kind=every requires a positive everyMs")
		}
	case "cron":
		if !gronx.New().IsValid(schedule.Expr) {
			return fmt.Errorf("invalid cron expression %q", schedule.Expr)
		}
		if schedule.TZ != "" {
			if _, err := time.LoadLocation(schedule.TZ); err != nil {
				return fmt.Errorf("invalid timezone %q: %w", schedule.TZ, err)
			}
		}
	default:
		return fmt.Errorf("unknown schedule kind %q", schedule.Kind)
	}
	return nil
}

// nextRun computes the next firing time after nowMS, or nil for exhausted
// one-shot schedules.
func nextRun(job *CronJob, nowMS int64) *int64 {
	switch job.Schedule.Kind {
	case "at":
		if job.State.LastRunAtMS != nil {
			return nil
		}
		at := *job.Schedule.AtMS
		return &at
	case "every":
		every := *job.Schedule.EveryMS
		next := nowMS + every
		if job.State.NextRunAtMS != nil && *job.State.NextRunAtMS+every > next {
			next = *job.State.NextRunAtMS + every
		}
		return &next
	case "cron":
		loc := time.Local
		if job.Schedule.TZ != "" {
			if parsed, err := time.LoadLocation(job.Schedule.TZ); err == nil {
				loc = parsed
			}
		}
		ref := time.UnixMilli(nowMS).In(loc)
		tick, err := gronx.NextTickAfter(job.Schedule.Expr, ref, false)
		if err != nil {
			return nil
		}
		next := tick.UnixMilli()
		return &next
	default:
		return nil
	}
}

func (s *CronService) RemoveJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, job := range s.store.Jobs {
		if job.ID == id {
			s.store.Jobs = append(s.store.Jobs[:i], s.store.Jobs[i+1:]...)
			if err := s.persistLocked(); err != nil {
				logger.ErrorCF("cron", "Failed to persist job removal", map[string]interface{}{
					"job":   id,
					"error": err.Error(),
				})
			}
			return true
		}
	}
	return false
}

func (s *CronService) EnableJob(id string, enabled bool) *CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.store.Jobs {
		if job.ID != id {
			continue
		}
		job.Enabled = enabled
		job.UpdatedAtMS = time.Now().UnixMilli()
		if enabled && job.State.NextRunAtMS == nil {
			job.State.NextRunAtMS = nextRun(job, job.UpdatedAtMS)
		}
		if err := s.persistLocked(); err != nil {
			logger.ErrorCF("cron", "Failed to persist job update", map[string]interface{}{
				"job":   id,
				"error": err.Error(),
			})
		}
		return job
	}
	return nil
}

func (s *CronService) ListJobs(includeDisabled bool) []*CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]*CronJob, 0, len(s.store.Jobs))
	for _, job := range s.store.Jobs {
		if !includeDisabled && !job.Enabled {
			continue
		}
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAtMS < jobs[j].CreatedAtMS
	})
	return jobs
}

func (s *CronService) GetJob(id string) *CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.store.Jobs {
		if job.ID == id {
			return job
		}
	}
	return nil
}

// fireDue runs every due job. The next-run advance happens before dispatch so
// the same tick can never fire a job twice.
func (s *CronService) fireDue(nowMS int64) {
	s.mu.Lock()
	var due []*CronJob
	for _, job := range s.store.Jobs {
		if !job.Enabled || job.State.NextRunAtMS == nil {
			continue
		}
		if *job.State.NextRunAtMS > nowMS {
			continue
		}
		job.State.NextRunAtMS = nextRunAfterFire(job, nowMS)
		due = append(due, job)
	}
	if len(due) > 0 {
		if err := s.persistLocked(); err != nil {
			logger.ErrorCF("cron", "Failed to persist next-run advance", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		s.fire(job, nowMS)
	}
}

// nextRunAfterFire advances the schedule past the tick being fired.
func nextRunAfterFire(job *CronJob, nowMS int64) *int64 {
	switch job.Schedule.Kind {
	case "at":
		return nil
	case "every":
		every := *job.Schedule.EveryMS
		next := nowMS + every
		return &next
	default:
		return nextRun(job, nowMS)
	}
}

func (s *CronService) fire(job *CronJob, nowMS int64) {
	logger.InfoCF("cron", "Firing job", map[string]interface{}{
		"job":  job.ID,
		"name": job.Name,
		"kind": job.Payload.Kind,
	})

	err := s.dispatch(job)

	s.mu.Lock()
	defer s.mu.Unlock()

	last := nowMS
	job.State.LastRunAtMS = &last
	job.UpdatedAtMS = time.Now().UnixMilli()
	if err != nil {
		job.State.LastStatus = "error"
		job.State.LastError = err.Error()
		logger.ErrorCF("cron", "Job fire failed", map[string]interface{}{
			"job":   job.ID,
			"error": err.Error(),
		})
	} else {
		job.State.LastStatus = "ok"
		job.State.LastError = ""
	}

	if job.DeleteAfterRun && err == nil {
		for i, j := range s.store.Jobs {
			if j.ID == job.ID {
				s.store.Jobs = append(s.store.Jobs[:i], s.store.Jobs[i+1:]...)
				break
			}
		}
	}

	if persistErr := s.persistLocked(); persistErr != nil {
		logger.ErrorCF("cron", "Failed to persist job state", map[string]interface{}{
			"job":   job.ID,
			"error": persistErr.Error(),
		})
	}
}

func (s *CronService) dispatch(job *CronJob) error {
	switch job.Payload.Kind {
	case "system_event":
		if s.bus == nil {
			return fmt.Errorf("no bus configured for system event")
		}
		s.bus.PublishOutbound(bus.OutboundMessage{
			Channel: job.Payload.Channel,
			ChatID:  job.Payload.To,
			Content: job.Payload.Message,
		})
		return nil

	case "agent_turn":
		s.mu.Lock()
		onJob := s.onJob
		s.mu.Unlock()

		if onJob != nil {
			reply, err := onJob(job)
			if err != nil {
				return err
			}
			if job.Payload.Deliver && s.bus != nil && job.Payload.Channel != "" {
				s.bus.PublishOutbound(bus.OutboundMessage{
					Channel: job.Payload.Channel,
					ChatID:  job.Payload.To,
					Content: reply,
				})
			}
			return nil
		}

		if s.bus == nil {
			return fmt.Errorf("no bus configured for agent turn")
		}
		channel := job.Payload.Channel
		if channel == "" {
			channel = "cron"
		}
		s.bus.PublishInbound(bus.InboundMessage{
			Channel:  channel,
			SenderID: "cron",
			ChatID:   job.Payload.To,
			Content:  job.Payload.Message,
			Metadata: map[string]string{
				"cron_job_id": job.ID,
				"deliver":     fmt.Sprintf("%t", job.Payload.Deliver),
			},
		})
		return nil

	default:
		return fmt.Errorf("unknown payload kind %q", job.Payload.Kind)
	}
}

// persistLocked saves the store. A load-time corrupt file is never
// overwritten implicitly; the first explicit mutation replaces it.
func (s *CronService) persistLocked() error {
	if s.corrupt && len(s.store.Jobs) == 0 {
		return nil
	}
	s.corrupt = false
	return saveStore(s.path, s.store)
}

// JobCount reports the number of in-memory jobs.
func (s *CronService) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.store.Jobs)
}
