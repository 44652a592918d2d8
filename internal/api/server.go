// Package api exposes the HTTP surface: CSV upload, import status polling,
// reprocess, download links and product statistics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/CatalogDrop/internal/config"
	"github.com/dharsanguruparan/CatalogDrop/internal/csvstream"
	"github.com/dharsanguruparan/CatalogDrop/internal/ingest"
	"github.com/dharsanguruparan/CatalogDrop/internal/metrics"
	"github.com/dharsanguruparan/CatalogDrop/internal/model"
	"github.com/dharsanguruparan/CatalogDrop/internal/schema"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	statsWindow      = 24 * time.Hour
)

// Gateway is the intake and status surface the handlers call into.
type Gateway interface {
	Intake(ctx context.Context, up ingest.Upload) (*model.UploadedFile, error)
	Reprocess(ctx context.Context, id string) error
	Status(ctx context.Context, id string) (*ingest.StatusView, error)
	Recent(ctx context.Context, limit int) ([]ingest.StatusView, error)
}

// FileGetter resolves a file row, used to find the stored object for a download.
type FileGetter interface {
	Get(ctx context.Context, id string) (*model.UploadedFile, error)
}

// StatsProvider aggregates the product table.
type StatsProvider interface {
	Stats(ctx context.Context, recent time.Duration) (model.ProductStats, error)
}

// Presigner issues time-limited download URLs for stored objects.
type Presigner interface {
	PresignURL(ctx context.Context, key, filename string, ttl time.Duration) (string, error)
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *zap.Logger) Option { return func(s *Server) { s.log = l } }

// WithMetrics records request metrics and serves /metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Server) { s.metrics = m } }

// Server exposes HTTP endpoints for uploads and import visibility.
type Server struct {
	cfg     *config.Config
	gateway Gateway
	files   FileGetter
	stats   StatsProvider
	presign Presigner
	log     *zap.Logger
	metrics *metrics.Metrics

	once    sync.Once
	handler http.Handler
	server  *http.Server
}

// New constructs a Server.
func New(cfg *config.Config, gw Gateway, files FileGetter, stats StatsProvider, presign Presigner, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		gateway: gw,
		files:   files,
		stats:   stats,
		presign: presign,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	s.once.Do(func() {
		mux := http.NewServeMux()
		s.route(mux, "GET /healthz", s.handleHealth)
		s.route(mux, "POST /imports", s.handleUpload)
		s.route(mux, "GET /imports", s.handleList)
		s.route(mux, "GET /imports/{id}", s.handleStatus)
		s.route(mux, "POST /imports/{id}/reprocess", s.handleReprocess)
		s.route(mux, "GET /imports/{id}/download-url", s.handleDownloadURL)
		s.route(mux, "GET /products/stats", s.handleStats)
		if s.metrics != nil {
			mux.Handle("GET /metrics", s.metrics.Handler())
		}
		s.handler = corsMiddleware(mux)
	})
	return s.handler
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.log.Info("api listening", zap.String("address", s.cfg.Address))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+1024)
	mr, err := r.MultipartReader()
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "expecting multipart form")
		return
	}
	part, err := nextFilePart(mr)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "missing file part")
		return
	}
	defer part.Close()

	name := part.FileName()
	if name == "" {
		name = "upload.csv"
	}
	contentType := part.Header.Get("Content-Type")
	if !s.acceptable(contentType, model.ExtensionOf(name)) {
		s.respondError(w, http.StatusUnsupportedMediaType, "only CSV files are supported")
		return
	}

	f, err := s.gateway.Intake(r.Context(), ingest.Upload{
		Name:        name,
		ContentType: contentType,
		Body:        &limitReader{r: part, remaining: s.cfg.MaxFileSize},
		Metadata: map[string]string{
			"client_ip":  clientIP(r),
			"user_agent": r.UserAgent(),
		},
	})
	var (
		tooLarge  *http.MaxBytesError
		headerErr *schema.HeaderError
		parseErr  *csvstream.ParseError
	)
	switch {
	case err == nil:
		s.respondJSON(w, http.StatusAccepted, ingest.NewStatusView(f))
	case errors.Is(err, errTooLarge), errors.As(err, &tooLarge):
		s.respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds limit (%d bytes)", s.cfg.MaxFileSize))
	case errors.As(err, &headerErr), errors.As(err, &parseErr), errors.Is(err, csvstream.ErrNoHeader):
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ingest.ErrDispatch) && f != nil:
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"id":    f.ID,
			"error": "file stored but the import could not be scheduled; retry with reprocess",
		})
	default:
		s.log.Error("intake failed", zap.String("filename", name), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to store file")
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}
	views, err := s.gateway.Recent(r.Context(), limit)
	if err != nil {
		s.log.Error("list imports", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to list imports")
		return
	}
	s.respondJSON(w, http.StatusOK, views)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	v, err := s.gateway.Status(r.Context(), id)
	if err != nil {
		s.lookupFailed(w, id, err)
		return
	}
	s.respondJSON(w, http.StatusOK, v)
}

func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.gateway.Reprocess(r.Context(), id)
	switch {
	case err == nil:
		s.respondJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": string(model.StatusQueued)})
	case errors.Is(err, model.ErrNotCSV):
		s.respondError(w, http.StatusConflict, "file is not a CSV import")
	case errors.Is(err, ingest.ErrDispatch):
		s.respondError(w, http.StatusServiceUnavailable, "import could not be scheduled")
	default:
		s.lookupFailed(w, id, err)
	}
}

func (s *Server) handleDownloadURL(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	f, err := s.files.Get(r.Context(), id)
	if err != nil {
		s.lookupFailed(w, id, err)
		return
	}
	url, err := s.presign.PresignURL(r.Context(), f.ObjectKey, f.OriginalName, s.cfg.SignedURLTTL)
	if err != nil {
		s.log.Error("presign download", zap.String("file_id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to generate url")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"url":       url,
		"expiresIn": int64(s.cfg.SignedURLTTL.Seconds()),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.stats.Stats(r.Context(), statsWindow)
	if err != nil {
		s.log.Error("product stats", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) lookupFailed(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, model.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "import not found")
		return
	}
	s.log.Error("load import", zap.String("file_id", id), zap.Error(err))
	s.respondError(w, http.StatusInternalServerError, "failed to load import")
}

// acceptable admits a .csv name outright; otherwise the media type must be
// both configured and CSV-shaped so the runner will accept the stored row.
func (s *Server) acceptable(contentType, ext string) bool {
	if ext == "csv" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	for _, allowed := range s.cfg.AllowedTypes {
		if strings.EqualFold(mt, allowed) {
			return model.IsCSV(mt, ext)
		}
	}
	return false
}

func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}

var errTooLarge = errors.New("upload exceeds size limit")

// limitReader fails instead of truncating once more than remaining bytes
// were read.
type limitReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, errTooLarge
	}
	return n, err
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Warn("encode response", zap.Error(err))
	}
}
