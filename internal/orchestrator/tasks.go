package orchestrator

import (
	"context"

	"github.com/hibiken/asynq"
)

// TaskReprovision is the queue task kicking off a bulk reset. The admin
// endpoint enqueues it and returns immediately; outcomes surface via
// logs, metrics and the event feed.
const TaskReprovision = "event:reprovision"

func NewReprovisionTask() *asynq.Task {
	return asynq.NewTask(TaskReprovision, nil, asynq.MaxRetry(0))
}

// HandleReprovision is the asynq handler for TaskReprovision.
func (o *Orchestrator) HandleReprovision(ctx context.Context, t *asynq.Task) error {
	return o.BulkReprovision(ctx)
}
