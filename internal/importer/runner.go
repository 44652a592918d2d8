// Package importer runs one uploaded CSV file through parsing, validation,
// transformation and upsert, and drives the file's job state machine.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/zeebo/xxh3"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/CatalogDrop/internal/csvstream"
	"github.com/dharsanguruparan/CatalogDrop/internal/metrics"
	"github.com/dharsanguruparan/CatalogDrop/internal/model"
	"github.com/dharsanguruparan/CatalogDrop/internal/schema"
	"github.com/dharsanguruparan/CatalogDrop/internal/upsert"
)

// DefaultMaxRowErrors bounds how many row errors a run keeps.
const DefaultMaxRowErrors = 1000

// ErrNoValidRows fails a run in which no row was upserted.
var ErrNoValidRows = errors.New("no valid rows were processed from the CSV file")

// FileStore is the part of the uploaded-file table the runner needs.
type FileStore interface {
	Get(ctx context.Context, id string) (*model.UploadedFile, error)
	UpdateJob(ctx context.Context, id string, state model.JobState) error
}

// BlobOpener opens stored file content. A missing object is model.ErrNotFound.
type BlobOpener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Option customizes a Runner.
type Option func(*Runner)

// WithLogger sets the logger (default zap.NewNop).
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// WithMetrics records run metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithMapping replaces schema.ProductMapping.
func WithMapping(m schema.Mapping) Option {
	return func(r *Runner) { r.mapping = m }
}

// WithMaxRowErrors caps the stored row errors; Failed still counts all of them.
func WithMaxRowErrors(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxRowErrors = n
		}
	}
}

// WithParserOptions passes options to every csvstream.Reader the runner opens.
func WithParserOptions(opts ...csvstream.Option) Option {
	return func(r *Runner) { r.parserOpts = append(r.parserOpts, opts...) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// Runner executes import runs. It holds no per-run state, so one Runner may
// serve many concurrent runs for different files.
type Runner struct {
	files        FileStore
	blobs        BlobOpener
	engine       *upsert.Engine
	mapping      schema.Mapping
	log          *zap.Logger
	metrics      *metrics.Metrics
	maxRowErrors int
	parserOpts   []csvstream.Option
	now          func() time.Time
}

// New constructs a Runner over the given stores.
func New(files FileStore, blobs BlobOpener, products upsert.Store, opts ...Option) *Runner {
	r := &Runner{
		files:        files,
		blobs:        blobs,
		engine:       upsert.New(products),
		mapping:      schema.ProductMapping,
		log:          zap.NewNop(),
		maxRowErrors: DefaultMaxRowErrors,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes the file to a terminal state and returns that state. File
// level problems end in a failed state with a nil error; the error is
// reserved for bookkeeping failures such as an unknown file id or a state
// write that did not persist. Once started, the run ignores cancellation of
// ctx so the stored state never stays at processing because a caller left.
func (r *Runner) Run(ctx context.Context, fileID string) (model.JobState, error) {
	ctx = context.WithoutCancel(ctx)
	file, err := r.files.Get(ctx, fileID)
	if err != nil {
		return model.JobState{}, fmt.Errorf("load file %s: %w", fileID, err)
	}
	log := r.log.With(zap.String("file_id", file.ID), zap.String("filename", file.OriginalName))

	began := r.now()
	state := file.Job.Start(began)
	if err := r.files.UpdateJob(ctx, file.ID, state); err != nil {
		return state, fmt.Errorf("mark %s processing: %w", file.ID, err)
	}
	log.Info("import started")

	res, runErr := r.process(ctx, file, began, log)
	var final model.JobState
	if runErr != nil {
		final = state.Fail(r.now(), runErr.Error(), res)
	} else if final, err = state.Complete(r.now(), res); err != nil {
		return state, err
	}
	if err := r.files.UpdateJob(ctx, file.ID, final); err != nil {
		return final, fmt.Errorf("record %s %s: %w", file.ID, final.Status(), err)
	}

	took := r.now().Sub(began)
	r.metrics.RunFinished(string(final.Status()), took, map[string]int{
		"created":    res.Created,
		"updated":    res.Updated,
		"skipped":    res.Skipped,
		"superseded": res.Superseded,
		"failed":     res.Failed,
	})
	fields := []zap.Field{
		zap.String("status", string(final.Status())),
		zap.Int("processed", res.Processed),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("skipped", res.Skipped),
		zap.Int("superseded", res.Superseded),
		zap.Int("failed", res.Failed),
		zap.Duration("took", took),
	}
	if runErr != nil {
		log.Error("import failed", append(fields, zap.Error(runErr))...)
	} else {
		log.Info("import finished", fields...)
	}
	return final, nil
}

func (r *Runner) process(ctx context.Context, file *model.UploadedFile, at time.Time, log *zap.Logger) (model.Results, error) {
	var res model.Results
	if !file.IsCSV() {
		return res, fmt.Errorf("%w: media type %q, extension %q", model.ErrNotCSV, file.MediaType, file.Extension)
	}
	last, err := r.lastRows(ctx, file)
	if err != nil {
		return res, err
	}

	src, err := r.open(ctx, file)
	if err != nil {
		return res, err
	}
	defer src.Close()
	rd := csvstream.NewReader(src, r.parserOpts...)
	header, err := rd.Header()
	if err != nil {
		return res, fmt.Errorf("read header: %w", err)
	}
	if err := r.mapping.CheckHeader(header.Fields); err != nil {
		return res, err
	}
	binding := r.mapping.Bind(header.Fields)
	prov := provenance(file, at)

	for {
		row, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		var perr *csvstream.ParseError
		if errors.As(err, &perr) {
			r.rowFailed(&res, log, model.RowError{Row: perr.Line, Message: perr.Err.Error(), Data: []string{}})
			continue
		}
		if err != nil {
			return res, fmt.Errorf("read csv: %w", err)
		}

		p, err := binding.Transform(row.Fields)
		if err != nil {
			r.rowFailed(&res, log, model.RowError{Row: row.Line, Message: err.Error(), Data: row.Fields})
			continue
		}
		if line, ok := last[xxh3.HashString128(p.UniqueKey)]; ok && line != row.Line {
			res.Superseded++
			continue
		}
		outcome, err := r.engine.Upsert(ctx, p, prov)
		if err != nil {
			r.rowFailed(&res, log, model.RowError{Row: row.Line, Message: err.Error(), Data: row.Fields})
			continue
		}
		switch outcome {
		case upsert.Created:
			res.Created++
		case upsert.Updated:
			res.Updated++
		default:
			res.Skipped++
		}
		res.Processed++
	}

	if res.Processed == 0 {
		return res, ErrNoValidRows
	}
	return res, nil
}

// lastRows makes a first pass over the file and maps each natural key to the
// line of its last valid row, so that within one file the last row for a key
// wins. Keys are held as 128-bit digests to bound memory on large files.
func (r *Runner) lastRows(ctx context.Context, file *model.UploadedFile) (map[xxh3.Uint128]int, error) {
	src, err := r.open(ctx, file)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	rd := csvstream.NewReader(src, r.parserOpts...)
	header, err := rd.Header()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if err := r.mapping.CheckHeader(header.Fields); err != nil {
		return nil, err
	}
	binding := r.mapping.Bind(header.Fields)

	last := make(map[xxh3.Uint128]int)
	for {
		row, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return last, nil
		}
		var perr *csvstream.ParseError
		if errors.As(err, &perr) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if key := binding.Key(row.Fields); key != "" {
			last[xxh3.HashString128(key)] = row.Line
		}
	}
}

func (r *Runner) open(ctx context.Context, file *model.UploadedFile) (io.ReadCloser, error) {
	src, err := r.blobs.Open(ctx, file.ObjectKey)
	if errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("source file %s: %w", file.ObjectKey, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open source file: %w", err)
	}
	return src, nil
}

func (r *Runner) rowFailed(res *model.Results, log *zap.Logger, e model.RowError) {
	res.Failed++
	if len(res.Errors) >= r.maxRowErrors {
		res.ErrorsTruncated = true
		return
	}
	res.Errors = append(res.Errors, e)
	log.Warn("row failed", zap.Int("row", e.Row), zap.String("error", e.Message))
}

func provenance(file *model.UploadedFile, at time.Time) model.Provenance {
	at = at.UTC()
	return model.Provenance{
		OriginalFilename: file.OriginalName,
		LastImportedAt:   at,
		ImportMetadata: map[string]any{
			"imported_at":   at.Format(time.RFC3339),
			"filename":      file.OriginalName,
			"file_id":       file.ID,
			"import_method": "csv_upload",
		},
	}
}
