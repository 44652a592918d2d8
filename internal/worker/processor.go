package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/CatalogDrop/internal/model"
	"github.com/dharsanguruparan/CatalogDrop/internal/processing"
	"github.com/dharsanguruparan/CatalogDrop/internal/queue"
)

// Processor is plugged into the asynq worker loop.
type Processor struct {
	runner processing.Runner
	log    *zap.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(runner processing.Runner, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{runner: runner, log: log}
}

// Handler registers the import job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ImportTask, p.handleImport)
	return mux
}

// handleImport runs one import. A run that ends in the failed state is a
// finished job, not a task error: the outcome is already recorded on the
// file, and retrying would repeat the same failure. Only bookkeeping errors
// are returned so asynq retries them.
func (p *Processor) handleImport(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseImportPayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	state, err := p.runner.Run(ctx, payload.FileID)
	if errors.Is(err, model.ErrNotFound) {
		p.log.Warn("import for unknown file", zap.String("file_id", payload.FileID))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		p.log.Error("import bookkeeping failed", zap.String("file_id", payload.FileID), zap.Error(err))
		return err
	}
	p.log.Info("import task done",
		zap.String("file_id", payload.FileID),
		zap.String("status", string(state.Status())))
	return nil
}
