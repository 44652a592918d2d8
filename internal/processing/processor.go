// Package processing runs import jobs on a fixed set of goroutines fed by a
// buffered channel. It is the in-process Dispatcher used by the CLI; deployed
// services dispatch through the asynq queue instead.
package processing

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/CatalogDrop/internal/model"
)

const (
	// QueueFullMessage is recorded on files dropped because the buffer was full.
	QueueFullMessage = "processing queue full"
	// AbandonedMessage is recorded on files still buffered when the workers stop.
	AbandonedMessage = "processing stopped before the import ran"
)

// ErrClosed is returned by Dispatch after Close.
var ErrClosed = errors.New("processor closed")

// Runner executes one import run.
type Runner interface {
	Run(ctx context.Context, fileID string) (model.JobState, error)
}

// FileStore lets the processor fail files it cannot accept.
type FileStore interface {
	Get(ctx context.Context, id string) (*model.UploadedFile, error)
	UpdateJob(ctx context.Context, id string, state model.JobState) error
}

// Processor consumes file ids and runs their imports.
type Processor struct {
	runner  Runner
	files   FileStore
	log     *zap.Logger
	queue   chan string
	workers int

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New builds a Processor with queue capacity tied to worker count.
func New(runner Runner, files FileStore, workers int, log *zap.Logger) *Processor {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{
		runner:  runner,
		files:   files,
		log:     log,
		queue:   make(chan string, workers*4),
		workers: workers,
	}
}

// Start launches the workers. They exit when ctx is cancelled or, after
// Close, once the queue is drained.
func (p *Processor) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Dispatch queues a run without blocking. When the buffer is full the job is
// dropped and the file is marked failed so status polling reflects it.
func (p *Processor) Dispatch(ctx context.Context, fileID string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- fileID:
		return nil
	default:
	}
	p.log.Warn("processor queue full, dropping job", zap.String("file_id", fileID))
	return p.fail(ctx, fileID, QueueFullMessage)
}

// Enqueue queues a run, waiting for buffer space instead of dropping the job.
// It is for callers that produce a bounded batch and can afford to wait.
func (p *Processor) Enqueue(ctx context.Context, fileID string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- fileID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work and waits for the workers to stop. Runs still
// buffered at that point, because ctx was cancelled or Start never ran, are
// marked failed rather than left queued.
func (p *Processor) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
	for id := range p.queue {
		p.log.Warn("import never ran", zap.String("file_id", id))
		if err := p.fail(context.Background(), id, AbandonedMessage); err != nil {
			p.log.Error("fail abandoned import", zap.String("file_id", id), zap.Error(err))
		}
	}
}

func (p *Processor) fail(ctx context.Context, id, msg string) error {
	f, err := p.files.Get(ctx, id)
	if err != nil {
		return err
	}
	return p.files.UpdateJob(ctx, id, f.Job.Fail(time.Now(), msg, model.Results{}))
}

func (p *Processor) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-p.queue:
			if !ok {
				return
			}
			p.process(ctx, id)
		}
	}
}

func (p *Processor) process(ctx context.Context, id string) {
	state, err := p.runner.Run(ctx, id)
	if err != nil {
		p.log.Error("import run failed", zap.String("file_id", id), zap.Error(err))
		return
	}
	p.log.Debug("import run finished", zap.String("file_id", id), zap.String("status", string(state.Status())))
}
