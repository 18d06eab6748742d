package api

import (
	"context"

	"ctfcore/internal/orchestrator"

	"github.com/hibiken/asynq"
)

// Lifecycle is the slice of the orchestrator the player routes need.
type Lifecycle interface {
	Provision(ctx context.Context, teamID, problemID int64) (*orchestrator.ProvisionResult, error)
	Teardown(ctx context.Context, teamID, problemID int64) error
	TeardownAllForTeam(ctx context.Context, teamID int64) error
}

// TaskEnqueuer is the slice of the asynq client the admin routes need.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type EnqueuedResponse struct {
	Status string `json:"status"`
	TaskID string `json:"task_id"`
}

type VisibilityRequest struct {
	Visible *bool `json:"visible" binding:"required"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}
