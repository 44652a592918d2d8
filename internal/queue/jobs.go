package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// ImportTask is scheduled each time a file is uploaded or reprocessed.
	ImportTask = "catalog:import"

	maxRetry = 3
)

// ImportPayload is serialized into the task payload. Only the id travels;
// the worker loads everything else from the file row.
type ImportPayload struct {
	FileID string `json:"file_id"`
}

// NewImportTask builds the asynq task for one file.
func NewImportTask(fileID string) (*asynq.Task, error) {
	data, err := json.Marshal(ImportPayload{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(ImportTask, data, asynq.MaxRetry(maxRetry)), nil
}

// ParseImportPayload decodes a task payload.
func ParseImportPayload(task *asynq.Task) (ImportPayload, error) {
	var p ImportPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return p, fmt.Errorf("decode payload: %w", err)
	}
	if p.FileID == "" {
		return p, fmt.Errorf("decode payload: file_id is empty")
	}
	return p, nil
}

// Enqueuer is the subset of *asynq.Client the dispatcher uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Dispatcher schedules import runs on the asynq queue.
type Dispatcher struct {
	client Enqueuer
	queue  string
}

// NewDispatcher wraps an asynq client. An empty queue name uses asynq's default.
func NewDispatcher(client Enqueuer, queueName string) *Dispatcher {
	return &Dispatcher{client: client, queue: queueName}
}

// Dispatch enqueues an import task for fileID.
func (d *Dispatcher) Dispatch(ctx context.Context, fileID string) error {
	task, err := NewImportTask(fileID)
	if err != nil {
		return err
	}
	var opts []asynq.Option
	if d.queue != "" {
		opts = append(opts, asynq.Queue(d.queue))
	}
	if _, err := d.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue import task: %w", err)
	}
	return nil
}
