package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/CatalogDrop/internal/api"
	"github.com/dharsanguruparan/CatalogDrop/internal/config"
	"github.com/dharsanguruparan/CatalogDrop/internal/importer"
	"github.com/dharsanguruparan/CatalogDrop/internal/ingest"
	"github.com/dharsanguruparan/CatalogDrop/internal/metrics"
	"github.com/dharsanguruparan/CatalogDrop/internal/model"
	"github.com/dharsanguruparan/CatalogDrop/internal/storage"
)

const catalog = "UNIQUE_KEY,PRODUCT_TITLE,STYLE#,PIECE_PRICE\nK1,Core Tee,PC54,3.99\nK2,Hoodie,PC78,19.99\n"

type fakePresigner struct{}

func (fakePresigner) PresignURL(_ context.Context, key, filename string, ttl time.Duration) (string, error) {
	return "https://blobs.test/" + key + "?name=" + filename + "&ttl=" + ttl.String(), nil
}

type harness struct {
	srv         *httptest.Server
	files       *storage.MemoryFiles
	products    *storage.MemoryProducts
	dispatchErr error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		files:    storage.NewMemoryFiles(),
		products: storage.NewMemoryProducts(),
	}
	blobs := storage.NewMemoryBlobs()
	runner := importer.New(h.files, blobs, h.products)
	gw := ingest.New(h.files, blobs, ingest.DispatcherFunc(func(ctx context.Context, id string) error {
		if h.dispatchErr != nil {
			return h.dispatchErr
		}
		_, err := runner.Run(ctx, id)
		return err
	}), ingest.WithTempDir(t.TempDir()))

	cfg := &config.Config{
		MaxFileSize:  512,
		AllowedTypes: []string{"text/csv", "text/plain", "application/vnd.ms-excel"},
		SignedURLTTL: 10 * time.Minute,
	}
	m := metrics.New(prometheus.NewRegistry())
	s := api.New(cfg, gw, h.files, h.products, fakePresigner{}, api.WithMetrics(m))
	h.srv = httptest.NewServer(s.Handler())
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) upload(t *testing.T, name, contentType, body string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "ignored"))
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="`+name+`"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = io.WriteString(part, body)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/imports", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("User-Agent", "catalog-test")
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (h *harness) do(t *testing.T, method, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, h.srv.URL+path, nil)
	require.NoError(t, err)
	resp, err := h.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestUploadThenPollStatus(t *testing.T) {
	h := newHarness(t)
	resp := h.upload(t, "catalog.csv", "text/csv", catalog)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	accepted := decode[ingest.StatusView](t, resp)
	require.NotEmpty(t, accepted.ID)

	resp = h.do(t, http.MethodGet, "/imports/"+accepted.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[ingest.StatusView](t, resp)
	assert.Equal(t, model.StatusCompleted, view.Status)
	assert.True(t, view.Processed)
	require.NotNil(t, view.Results)
	assert.Equal(t, 2, view.Results.Created)

	f, err := h.files.Get(context.Background(), accepted.ID)
	require.NoError(t, err)
	assert.Equal(t, "catalog-test", f.Metadata["user_agent"])
	assert.Equal(t, "127.0.0.1", f.Metadata["client_ip"])
}

func TestUploadAcceptsExcelMediaTypeForCSVName(t *testing.T) {
	h := newHarness(t)
	resp := h.upload(t, "catalog.csv", "application/vnd.ms-excel", catalog)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestUploadRejectsNonCSV(t *testing.T) {
	h := newHarness(t)
	resp := h.upload(t, "photo.png", "image/png", "not a csv")
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	recent, err := h.files.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestUploadRejectsMissingRequiredHeader(t *testing.T) {
	h := newHarness(t)
	resp := h.upload(t, "catalog.csv", "text/csv", "UNIQUE_KEY,STYLE#\nK1,PC54\n")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Contains(t, body["error"], "PRODUCT_TITLE")
}

func TestUploadRejectsUnterminatedQuoteInHeader(t *testing.T) {
	h := newHarness(t)
	resp := h.upload(t, "catalog.csv", "text/csv", "UNIQUE_KEY,\"PRODUCT_TITLE\nK1,Tee\n")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Contains(t, body["error"], "unterminated quoted field")

	recent, err := h.files.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	h := newHarness(t)
	big := catalog + strings.Repeat("K9,Filler,PC1,1.00\n", 40)
	resp := h.upload(t, "catalog.csv", "text/csv", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestUploadReportsDispatchFailure(t *testing.T) {
	h := newHarness(t)
	h.dispatchErr = errors.New("redis unavailable")
	resp := h.upload(t, "catalog.csv", "text/csv", catalog)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	require.NotEmpty(t, body["id"])

	f, err := h.files.Get(context.Background(), body["id"])
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, f.Job.Status())
}

func TestStatusUnknownImport(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/imports/nope").StatusCode)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodPost, "/imports/nope/reprocess").StatusCode)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/imports/nope/download-url").StatusCode)
}

func TestReprocessListAndDownload(t *testing.T) {
	h := newHarness(t)
	id := decode[ingest.StatusView](t, h.upload(t, "catalog.csv", "text/csv", catalog)).ID

	resp := h.do(t, http.MethodPost, "/imports/"+id+"/reprocess")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "queued", decode[map[string]string](t, resp)["status"])

	view := decode[ingest.StatusView](t, h.do(t, http.MethodGet, "/imports/"+id))
	require.NotNil(t, view.Results)
	assert.Equal(t, 2, view.Results.Skipped)

	resp = h.do(t, http.MethodGet, "/imports?limit=5")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]ingest.StatusView](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/imports?limit=zero").StatusCode)

	resp = h.do(t, http.MethodGet, "/imports/"+id+"/download-url")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	link := decode[map[string]any](t, resp)
	assert.Contains(t, link["url"], "uploads/")
	assert.Contains(t, link["url"], "name=catalog.csv")
	assert.EqualValues(t, 600, link["expiresIn"])
}

func TestProductStats(t *testing.T) {
	h := newHarness(t)
	h.upload(t, "catalog.csv", "text/csv", catalog)

	resp := h.do(t, http.MethodGet, "/products/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decode[model.ProductStats](t, resp)
	assert.EqualValues(t, 2, st.TotalProducts)
	assert.EqualValues(t, 2, st.RecentlyImported)
	assert.EqualValues(t, 2, st.UniqueStyles)
	assert.Equal(t, "19.99", st.MaxPrice.Decimal.StringFixed(2))
}

func TestHealthCORSAndMetrics(t *testing.T) {
	h := newHarness(t)
	resp := h.do(t, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	assert.Equal(t, http.StatusNoContent, h.do(t, http.MethodOptions, "/imports").StatusCode)

	resp = h.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `catalogdrop_http_requests_total{method="GET",route="GET /healthz",status="200"} 1`)
}
