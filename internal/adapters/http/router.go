package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/medibot/internal/config"
	"github.com/kirillkom/medibot/internal/core/ports"
	"github.com/kirillkom/medibot/internal/observability/metrics"
)

const (
	serviceName     = "api"
	maxRequestBytes = 1 << 20
)

type Router struct {
	cfg       config.Config
	queryUC   ports.QueryService
	scheduler ports.IngestionScheduler
	runs      ports.IngestionRunReader
	metrics   *metrics.HTTPServerMetrics
}

// NewRouter wires the API. scheduler and runs may be nil, in which case the
// ingestion endpoints answer 503.
func NewRouter(
	cfg config.Config,
	queryUC ports.QueryService,
	scheduler ports.IngestionScheduler,
	runs ports.IngestionRunReader,
	httpMetrics *metrics.HTTPServerMetrics,
) *Router {
	if httpMetrics == nil {
		httpMetrics = metrics.NewHTTPServerMetrics(serviceName)
	}
	return &Router{
		cfg:       cfg,
		queryUC:   queryUC,
		scheduler: scheduler,
		runs:      runs,
		metrics:   httpMetrics,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", rt.root)
	mux.HandleFunc("/healthz", rt.healthz)
	mux.Handle("/metrics", rt.metrics.Handler())
	mux.HandleFunc("/chat", rt.chat)
	mux.HandleFunc("/v1/ingestions", rt.scheduleIngestion)
	mux.HandleFunc("/v1/ingestions/", rt.getIngestionByID)

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.cfg.APIBackpressureMaxInFlight, rt.cfg.APIBackpressureWait)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	handler = rt.metrics.Middleware(serviceName, handler)
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "backend is running")
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) chat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		Message *string `json:"message"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Message == nil || strings.TrimSpace(*req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}

	ctx := r.Context()
	if rt.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.cfg.QueryTimeout)
		defer cancel()
	}

	start := time.Now()
	answer, err := rt.queryUC.Answer(ctx, *req.Message)
	if err != nil {
		rt.writeError(w, r, "chat", err)
		return
	}
	rt.metrics.RecordRAGObservation(serviceName, "chat", len(answer.Sources), time.Since(start))

	writeJSON(w, http.StatusOK, map[string]string{"answer": answer.Text})
}

func (rt *Router) scheduleIngestion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if rt.scheduler == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "ingestion queue is not configured"})
		return
	}

	var req struct {
		Dir  string `json:"dir"`
		Glob string `json:"glob"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
	}
	if strings.TrimSpace(req.Dir) == "" {
		req.Dir = rt.cfg.CorpusDir
	}

	run, err := rt.scheduler.Schedule(r.Context(), req.Dir, req.Glob)
	if err != nil {
		rt.writeError(w, r, "schedule_ingestion", err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (rt *Router) getIngestionByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if rt.runs == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "ingestion runs are not configured"})
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/ingestions/")
	if id == "" || strings.Contains(id, "/") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "run id is required"})
		return
	}

	run, err := rt.runs.GetByID(r.Context(), id)
	if err != nil {
		rt.writeError(w, r, "get_ingestion", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"endpoint", endpoint,
			"status", status,
			"error", err,
		)
	}
	if endpoint == "chat" {
		rt.metrics.RecordRAGError(serviceName, endpoint, status)
	}
	writeJSON(w, status, map[string]string{"error": publicErrorMessage(status, err)})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	if decoder.More() {
		return errors.New("unexpected data after json body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
