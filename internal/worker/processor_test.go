package worker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/CatalogDrop/internal/importer"
	"github.com/dharsanguruparan/CatalogDrop/internal/model"
	"github.com/dharsanguruparan/CatalogDrop/internal/queue"
	"github.com/dharsanguruparan/CatalogDrop/internal/storage"
)

func TestHandlerRunsImport(t *testing.T) {
	ctx := context.Background()
	files := storage.NewMemoryFiles()
	blobs := storage.NewMemoryBlobs()
	products := storage.NewMemoryProducts()
	content := "UNIQUE_KEY,PRODUCT_TITLE\nK1,Tee\n"
	require.NoError(t, blobs.Put(ctx, "uploads/k.csv", strings.NewReader(content), int64(len(content)), "text/csv"))
	_, _, err := files.CreateOrGet(ctx, &model.UploadedFile{
		ID: "f1", ObjectKey: "uploads/k.csv", Extension: "csv", ContentHash: "h", Job: model.Queued(time.Now()),
	})
	require.NoError(t, err)

	mux := NewProcessor(importer.New(files, blobs, products), nil).Handler()
	task, err := queue.NewImportTask("f1")
	require.NoError(t, err)
	require.NoError(t, mux.ProcessTask(ctx, task))

	stored, err := files.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, stored.Job.Status())
	assert.Equal(t, 1, products.Len())
}

func TestHandlerFailedRunIsNotRetried(t *testing.T) {
	ctx := context.Background()
	files := storage.NewMemoryFiles()
	_, _, err := files.CreateOrGet(ctx, &model.UploadedFile{
		ID: "f1", ObjectKey: "uploads/missing.csv", Extension: "csv", ContentHash: "h",
	})
	require.NoError(t, err)

	mux := NewProcessor(importer.New(files, storage.NewMemoryBlobs(), storage.NewMemoryProducts()), nil).Handler()
	task, err := queue.NewImportTask("f1")
	require.NoError(t, err)
	require.NoError(t, mux.ProcessTask(ctx, task))

	stored, err := files.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, stored.Job.Status())
}

func TestHandlerSkipsRetryForUnknownFileAndBadPayload(t *testing.T) {
	mux := NewProcessor(importer.New(storage.NewMemoryFiles(), storage.NewMemoryBlobs(), storage.NewMemoryProducts()), nil).Handler()

	task, err := queue.NewImportTask("ghost")
	require.NoError(t, err)
	err = mux.ProcessTask(context.Background(), task)
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	err = mux.ProcessTask(context.Background(), asynq.NewTask(queue.ImportTask, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}
