package cron

// CronSchedule is a variant: kind=at fires once at AtMS, kind=every fires on
// a fixed period, kind=cron follows a cron expression with an optional IANA
// timezone.
type CronSchedule struct {
	Kind    string `json:"kind"` // at | every | cron
	AtMS    *int64 `json:"atMs,omitempty"`
	EveryMS *int64 `json:"everyMs,omitempty"`
	Expr    string `json:"expr,omitempty"`
	TZ      string `json:"tz,omitempty"`
}

// CronPayload describes what firing the job does. kind=agent_turn feeds the
// message to the agent as if a user sent it; kind=system_event emits a bus
// event without involving the model.
type CronPayload struct {
	Kind    string `json:"kind"` // agent_turn | system_event
	Message string `json:"message"`
	Deliver bool   `json:"deliver,omitempty"`
	Channel string `json:"channel,omitempty"`
	To      string `json:"to,omitempty"`
}

// CronJobState is the mutable runtime state persisted with the job.
type CronJobState struct {
	NextRunAtMS *int64 `json:"nextRunAtMs,omitempty"`
	LastRunAtMS *int64 `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"` // ok | error
	LastError   string `json:"lastError,omitempty"`
}

type CronJob struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Enabled        bool         `json:"enabled"`
	Schedule       CronSchedule `json:"schedule"`
	Payload        CronPayload  `json:"payload"`
	State          CronJobState `json:"state"`
	CreatedAtMS    int64        `json:"createdAtMs"`
	UpdatedAtMS    int64        `json:"updatedAtMs"`
	DeleteAfterRun bool         `json:"deleteAfterRun,omitempty"`
}

// CronStore is the on-disk document shape of cron/jobs.json.
type CronStore struct {
	Version int        `json:"version"`
	Jobs    []*CronJob `json:"jobs"`
}
