package store

import (
	"context"
	"time"
)

// Workflow run statuses. A run is created running and transitions exactly
// once to completed or failed.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Workflow is an ordered sequence of steps. StepsJSON is the serialized
// []workflow.StepDefinition; the engine owns its schema.
type Workflow struct {
	ID        string
	OwnerID   string
	Name      string
	StepsJSON string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WorkflowRun records one execution of a workflow. StepsResultJSON is the
// serialized []workflow.StepResult, rewritten after every step.
type WorkflowRun struct {
	ID              string
	WorkflowID      string
	OwnerID         string
	Status          string
	StepsResultJSON string
	StartedAt       time.Time
	CompletedAt     *time.Time
	Error           string
}

// WorkflowStore persists workflows and their runs.
type WorkflowStore interface {
	Create(ctx context.Context, w *Workflow) error
	Update(ctx context.Context, w *Workflow) error
	Get(ctx context.Context, id string) (*Workflow, error)
	ListForUser(ctx context.Context, ownerID string) ([]*Workflow, error)
	ListActiveForUser(ctx context.Context, ownerID string) ([]*Workflow, error)
	Delete(ctx context.Context, ownerID, id string) error

	CreateRun(ctx context.Context, r *WorkflowRun) error
	UpdateRun(ctx context.Context, r *WorkflowRun) error
	GetRun(ctx context.Context, id string) (*WorkflowRun, error)
	ListRuns(ctx context.Context, workflowID string, limit int) ([]*WorkflowRun, error)
}

// Schedule binds a workflow to a cron expression in a named timezone.
// NextRunAt is persisted so a restarted daemon can detect missed ticks.
type Schedule struct {
	ID             string
	OwnerID        string
	WorkflowID     string
	CronExpression string
	Timezone       string
	IsActive       bool
	LastRunAt      *time.Time
	NextRunAt      *time.Time
}

// ScheduleStore persists schedules.
type ScheduleStore interface {
	Create(ctx context.Context, s *Schedule) error
	Get(ctx context.Context, id string) (*Schedule, error)
	ListActive(ctx context.Context) ([]*Schedule, error)
	ListForUser(ctx context.Context, ownerID string) ([]*Schedule, error)
	SetActive(ctx context.Context, id string, active bool) error
	// UpdateRunTimes atomically writes both run markers after a tick.
	UpdateRunTimes(ctx context.Context, id string, lastRunAt, nextRunAt *time.Time) error
	Delete(ctx context.Context, ownerID, id string) error
}
