package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/CatalogDrop/internal/ingest"
	"github.com/dharsanguruparan/CatalogDrop/internal/model"
)

func TestIngestMemoryRunsImportsInline(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CATALOGDROP_ENV_FILE", filepath.Join(dir, "missing.env"))
	t.Setenv("CATALOGDROP_LOG_LEVEL", "error")
	t.Setenv("CATALOGDROP_TEMP_DIR", dir)

	first := filepath.Join(dir, "a.csv")
	second := filepath.Join(dir, "b.csv")
	require.NoError(t, os.WriteFile(first, []byte("UNIQUE_KEY,PRODUCT_TITLE\nK1,Tee\nK2,Hoodie\n"), 0o600))
	require.NoError(t, os.WriteFile(second, []byte("UNIQUE_KEY,PRODUCT_TITLE\nK3,Cap\n"), 0o600))

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"ingest", "--memory", first, second})
	require.NoError(t, root.ExecuteContext(context.Background()))

	var views []ingest.StatusView
	require.NoError(t, json.Unmarshal(out.Bytes(), &views))
	require.Len(t, views, 2)
	assert.Equal(t, "a.csv", views[0].Filename)
	assert.Equal(t, model.StatusCompleted, views[0].Status)
	assert.Equal(t, 2, views[0].Results.Created)
	assert.Equal(t, "b.csv", views[1].Filename)
	assert.Equal(t, 1, views[1].Results.Created)
}

func TestIngestInlineBatchLargerThanPoolBuffer(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CATALOGDROP_ENV_FILE", filepath.Join(dir, "missing.env"))
	t.Setenv("CATALOGDROP_LOG_LEVEL", "error")
	t.Setenv("CATALOGDROP_TEMP_DIR", dir)
	t.Setenv("CATALOGDROP_WORKERS", "1")

	args := []string{"ingest", "--memory"}
	for i := 0; i < 12; i++ {
		path := filepath.Join(dir, fmt.Sprintf("batch-%02d.csv", i))
		content := fmt.Sprintf("UNIQUE_KEY,PRODUCT_TITLE\nK%d,Tee\n", i)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		args = append(args, path)
	}

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs(args)
	require.NoError(t, root.ExecuteContext(context.Background()))

	var views []ingest.StatusView
	require.NoError(t, json.Unmarshal(out.Bytes(), &views))
	require.Len(t, views, 12)
	for _, v := range views {
		assert.Equal(t, model.StatusCompleted, v.Status, v.Filename)
	}
}

func TestIngestRejectsMissingFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CATALOGDROP_ENV_FILE", filepath.Join(dir, "missing.env"))
	t.Setenv("CATALOGDROP_LOG_LEVEL", "error")

	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"ingest", "--memory", filepath.Join(dir, "nope.csv")})
	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunCommandsCoverBinaries(t *testing.T) {
	root := newRootCommand()
	run, _, err := root.Find([]string{"run"})
	require.NoError(t, err)
	var names []string
	for _, c := range run.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"api", "worker"}, names)
}
