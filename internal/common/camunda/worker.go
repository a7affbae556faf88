// internal/common/camunda/worker.go
package camunda

import (
	"context"

	"merchant-onboarding/internal/common/logger"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

// JobHandler handles one activated job.
type JobHandler interface {
	Handle(client worker.JobClient, job entities.Job)
}

// JobWorker polls one job type and dispatches to a handler.
type JobWorker struct {
	worker   worker.JobWorker
	logger   logger.Logger
	taskType string
}

func NewWorker(
	client *Client,
	taskType string,
	maxJobsActive int,
	handler JobHandler,
	log logger.Logger,
) *JobWorker {
	jobWorker := client.zb.NewJobWorker().
		JobType(taskType).
		Handler(handler.Handle).
		MaxJobsActive(maxJobsActive).
		Open()

	return &JobWorker{
		worker:   jobWorker,
		logger:   log.WithFields(map[string]interface{}{"taskType": taskType}),
		taskType: taskType,
	}
}

func (w *JobWorker) TaskType() string {
	return w.taskType
}

// Stop closes the job stream and waits for in-flight jobs.
func (w *JobWorker) Stop(ctx context.Context) {
	w.logger.Info("stopping worker", nil)

	done := make(chan struct{})
	go func() {
		w.worker.Close()
		w.worker.AwaitClose()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("worker did not stop before deadline", nil)
	}
}
