package models

import (
	"time"

	"quickshow/src/types"

	"github.com/google/uuid"
)

const (
	WORKFLOW_RUN_PENDING   = "pending"
	WORKFLOW_RUN_RUNNING   = "running"
	WORKFLOW_RUN_SLEEPING  = "sleeping"
	WORKFLOW_RUN_COMPLETED = "completed"
	WORKFLOW_RUN_FAILED    = "failed"
)

// WorkflowRun is one durable invocation of a workflow function for one
// event delivery. Runs are safe to re-dispatch at any point before
// completion; completed steps are skipped via WorkflowStep rows.
type WorkflowRun struct {
	ID         uuid.UUID   `gorm:"primarykey;type:uuid" json:"id"`
	FunctionID string      `gorm:"index" json:"function_id"`
	EventName  string      `json:"event_name,omitempty"`
	Payload    types.JSONB `gorm:"type:jsonb" json:"payload,omitempty"`
	Status     string      `gorm:"default:'pending';index" json:"status"`
	Attempts   uint        `json:"attempts"`
	WakeAt     *time.Time  `json:"wake_at,omitempty"`
	LastError  *string     `json:"last_error,omitempty"`
	Result     types.JSONB `gorm:"type:jsonb" json:"result,omitempty"`

	types.Timestamps
}

// WorkflowStep memoizes the output of a completed step so retries of the
// surrounding run never re-execute it.
type WorkflowStep struct {
	ID          uint        `gorm:"primarykey" json:"id"`
	RunID       uuid.UUID   `gorm:"type:uuid;uniqueIndex:idx_run_step" json:"run_id"`
	StepID      string      `gorm:"uniqueIndex:idx_run_step" json:"step_id"`
	Output      types.JSONB `gorm:"type:jsonb" json:"output,omitempty"`
	CompletedAt time.Time   `json:"completed_at"`
}
