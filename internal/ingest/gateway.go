// Package ingest is the entry point for uploaded CSV content. Intake sanitizes
// and hashes the upload, deduplicates it by content hash, stores new content
// under a deterministic key and dispatches an import run.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/CatalogDrop/internal/csvstream"
	"github.com/dharsanguruparan/CatalogDrop/internal/metrics"
	"github.com/dharsanguruparan/CatalogDrop/internal/model"
	"github.com/dharsanguruparan/CatalogDrop/internal/schema"
)

// ErrDispatch is wrapped into errors returned when the file row exists but
// its import run could not be scheduled. The row stays queued.
var ErrDispatch = errors.New("dispatch import run")

// Upload is one file handed to Intake.
type Upload struct {
	Name        string
	ContentType string
	Body        io.Reader
	// Metadata is copied onto the file row, e.g. client address or user agent.
	Metadata map[string]string
}

// FileStore is the uploaded-file table. CreateOrGet must be backed by a
// uniqueness constraint on the content hash so concurrent intakes of the
// same content converge on one row.
type FileStore interface {
	FindByHash(ctx context.Context, hash string) (*model.UploadedFile, error)
	CreateOrGet(ctx context.Context, f *model.UploadedFile) (*model.UploadedFile, bool, error)
	Get(ctx context.Context, id string) (*model.UploadedFile, error)
	UpdateJob(ctx context.Context, id string, state model.JobState) error
	List(ctx context.Context, limit int) ([]*model.UploadedFile, error)
}

// BlobStore writes file content.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
}

// Dispatcher schedules an import run for a file id. Implementations return
// once the run is scheduled, not when it finishes.
type Dispatcher interface {
	Dispatch(ctx context.Context, fileID string) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, fileID string) error

// Dispatch calls f.
func (f DispatcherFunc) Dispatch(ctx context.Context, fileID string) error { return f(ctx, fileID) }

// Option customizes a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger (default zap.NewNop).
func WithLogger(l *zap.Logger) Option { return func(g *Gateway) { g.log = l } }

// WithMetrics records intake metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(g *Gateway) { g.metrics = m } }

// WithMapping sets the header table used by the intake pre-check.
func WithMapping(m schema.Mapping) Option { return func(g *Gateway) { g.mapping = m } }

// WithTempDir sets where uploads are spooled (default os.TempDir).
func WithTempDir(dir string) Option { return func(g *Gateway) { g.tempDir = dir } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(g *Gateway) { g.now = now } }

// Gateway implements intake, status and reprocess.
type Gateway struct {
	files    FileStore
	blobs    BlobStore
	dispatch Dispatcher
	mapping  schema.Mapping
	log      *zap.Logger
	metrics  *metrics.Metrics
	tempDir  string
	now      func() time.Time
}

// New constructs a Gateway.
func New(files FileStore, blobs BlobStore, d Dispatcher, opts ...Option) *Gateway {
	g := &Gateway{
		files:    files,
		blobs:    blobs,
		dispatch: d,
		mapping:  schema.ProductMapping,
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ObjectKey is the storage location for content with the given hex digest.
func ObjectKey(hash string) string {
	prefix := hash
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return "uploads/" + prefix + "/" + hash + ".csv"
}

// Intake stores an upload and schedules its import. Content is sanitized
// line by line before hashing, so uploads that differ only in encoding
// artifacts share one row. When the hash is already known the new bytes are
// discarded and the existing row is queued again.
//
// Errors before the row exists leave nothing behind. If only the dispatch
// fails, the row is returned together with an error wrapping ErrDispatch.
func (g *Gateway) Intake(ctx context.Context, up Upload) (*model.UploadedFile, error) {
	spool, err := g.spool(up.Body)
	if err != nil {
		g.metrics.Intake("rejected")
		return nil, err
	}
	defer spool.remove()

	if err := g.precheck(spool.f); err != nil {
		g.metrics.Intake("rejected")
		return nil, err
	}

	existing, err := g.files.FindByHash(ctx, spool.hash)
	switch {
	case err == nil:
		g.metrics.Intake("duplicate")
		g.log.Info("duplicate upload, reprocessing existing file",
			zap.String("file_id", existing.ID), zap.String("hash", spool.hash), zap.String("filename", up.Name))
		return g.requeue(ctx, existing)
	case !errors.Is(err, model.ErrNotFound):
		return nil, fmt.Errorf("lookup content hash: %w", err)
	}

	key := ObjectKey(spool.hash)
	if _, err := spool.f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind spool: %w", err)
	}
	if err := g.blobs.Put(ctx, key, spool.f, spool.size, "text/csv; charset=utf-8"); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	now := g.now().UTC()
	rec := &model.UploadedFile{
		ID:           uuid.NewString(),
		OriginalName: up.Name,
		ObjectKey:    key,
		Size:         spool.size,
		MediaType:    up.ContentType,
		Extension:    model.ExtensionOf(up.Name),
		ContentHash:  spool.hash,
		Metadata:     g.metadata(up, spool),
		Job:          model.Queued(now),
		UploadedAt:   now,
	}
	stored, created, err := g.files.CreateOrGet(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("create file record: %w", err)
	}
	if !created {
		// A concurrent intake of the same content won the insert.
		g.metrics.Intake("duplicate")
		return g.requeue(ctx, stored)
	}
	g.metrics.Intake("new")
	g.log.Info("upload stored",
		zap.String("file_id", stored.ID), zap.String("hash", spool.hash),
		zap.String("filename", up.Name), zap.Int64("size", spool.size))
	return stored, g.send(ctx, stored.ID)
}

// Reprocess queues a new run for an existing file. It never creates rows.
func (g *Gateway) Reprocess(ctx context.Context, id string) error {
	f, err := g.files.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load file %s: %w", id, err)
	}
	if !f.IsCSV() {
		return fmt.Errorf("reprocess %s: %w", id, model.ErrNotCSV)
	}
	_, err = g.requeue(ctx, f)
	return err
}

// Status returns the polling view of one file.
func (g *Gateway) Status(ctx context.Context, id string) (*StatusView, error) {
	f, err := g.files.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load file %s: %w", id, err)
	}
	v := NewStatusView(f)
	return &v, nil
}

// Recent lists the newest files, newest first.
func (g *Gateway) Recent(ctx context.Context, limit int) ([]StatusView, error) {
	files, err := g.files.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	out := make([]StatusView, 0, len(files))
	for _, f := range files {
		out = append(out, NewStatusView(f))
	}
	return out, nil
}

func (g *Gateway) requeue(ctx context.Context, f *model.UploadedFile) (*model.UploadedFile, error) {
	state := model.Queued(g.now())
	if err := g.files.UpdateJob(ctx, f.ID, state); err != nil {
		return nil, fmt.Errorf("queue file %s: %w", f.ID, err)
	}
	f.Job = state
	f.Processed = false
	return f, g.send(ctx, f.ID)
}

func (g *Gateway) send(ctx context.Context, id string) error {
	if err := g.dispatch.Dispatch(ctx, id); err != nil {
		g.log.Error("dispatch failed", zap.String("file_id", id), zap.Error(err))
		return fmt.Errorf("%w for %s: %w", ErrDispatch, id, err)
	}
	return nil
}

func (g *Gateway) precheck(f *os.File) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind spool: %w", err)
	}
	header, err := csvstream.ReadHeader(f)
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	return g.mapping.CheckHeader(header.Fields)
}

func (g *Gateway) metadata(up Upload, s *spooled) map[string]string {
	md := make(map[string]string, len(up.Metadata)+3)
	for k, v := range up.Metadata {
		md[k] = v
	}
	md["file_type"] = "csv_import"
	md["raw_size"] = strconv.FormatInt(s.rawSize, 10)
	md["line_count"] = strconv.Itoa(s.lines)
	return md
}
