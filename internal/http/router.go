// Package httpx adapts the schema registry, log ingestion and live feed onto
// HTTP. Routing is a thin layer; behavior lives in the service packages.
package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/schemalog/internal/apperr"
	"github.com/splax/schemalog/internal/config"
	"github.com/splax/schemalog/internal/domain"
	"github.com/splax/schemalog/internal/service/logs"
	"github.com/splax/schemalog/internal/service/schemas"
	"github.com/splax/schemalog/internal/ws"
)

const healthCheckTimeout = 2 * time.Second

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	schemas  schemas.Service
	logs     logs.Service
	hub      *ws.Hub
	upgrader websocket.Upgrader
	limiter  RateLimiter
	dbHealth func(context.Context) error

	writeLimit int
	readLimit  int
	rateWindow time.Duration

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, schemaSvc schemas.Service, logSvc logs.Service, hub *ws.Hub, limiter RateLimiter, cfg config.Config, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		logger:  logger,
		schemas: schemaSvc,
		logs:    logSvc,
		hub:     hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:    limiter,
		dbHealth:   dbHealth,
		writeLimit: cfg.RateLimitWrite,
		readLimit:  cfg.RateLimitRead,
		rateWindow: cfg.RateLimitWindow,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/schemas", r.audit(r.handleSchemas))
	r.mux.HandleFunc("/schemas/", r.audit(r.handleSchemaSubroutes))
	r.mux.HandleFunc("/logs", r.audit(r.handleCreateLog))
	r.mux.HandleFunc("/logs/", r.audit(r.handleLogSubroutes))
	r.mux.HandleFunc("/ws/logs", r.audit(r.handleLogsWS))
}

// allowRate applies a per-IP rate limit and writes the refusal when the
// budget is spent.
func (r *Router) allowRate(w http.ResponseWriter, req *http.Request, route string, limit int) bool {
	if limit <= 0 || r.limiter == nil {
		return true
	}
	decision := r.limiter.Allow(rateLimitKeyIP(req), limit, r.rateWindow)
	r.applyRateHeaders(w, limit, decision)
	if !decision.allowed {
		r.recordRateLimitHit(route, "ip")
		writeError(w, http.StatusTooManyRequests, "RateLimited", "rate limit exceeded")
		return false
	}
	return true
}

type schemaPayload struct {
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Description *string         `json:"description"`
	Definition  json.RawMessage `json:"schema_definition"`
}

func (r *Router) handleSchemas(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		if !r.allowRate(w, req, "/schemas", r.readLimit) {
			return
		}
		filter := domain.SchemaFilter{
			Name:    req.URL.Query().Get("name"),
			Version: req.URL.Query().Get("version"),
		}
		list, err := r.schemas.List(req.Context(), filter)
		if err != nil {
			r.logServiceError(req, err)
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"schemas": list})
	case http.MethodPost:
		if !r.allowRate(w, req, "/schemas", r.writeLimit) {
			return
		}
		var payload schemaPayload
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, apperr.KindBadRequest, "invalid JSON body")
			return
		}
		schema, err := r.schemas.Create(req.Context(), schemas.CreateInput{
			Name:        payload.Name,
			Version:     payload.Version,
			Description: payload.Description,
			Definition:  payload.Definition,
		})
		if err != nil {
			r.logServiceError(req, err)
			writeAppError(w, err)
			return
		}
		w.Header().Set("Location", "/schemas/"+schema.ID.String())
		writeJSON(w, http.StatusCreated, schema)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleSchemaSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/schemas/")
	parts := strings.Split(trimmed, "/")

	switch len(parts) {
	case 1:
		if parts[0] == "" {
			r.notFound(w)
			return
		}
		id, err := uuid.Parse(parts[0])
		if err != nil {
			writeError(w, http.StatusBadRequest, apperr.KindBadRequest, "malformed schema id")
			return
		}
		r.handleSchemaByID(w, req, id)
	case 2:
		r.handleSchemaByNameVersion(w, req, parts[0], parts[1])
	default:
		r.notFound(w)
	}
}

func (r *Router) handleSchemaByID(w http.ResponseWriter, req *http.Request, id uuid.UUID) {
	switch req.Method {
	case http.MethodGet:
		if !r.allowRate(w, req, "/schemas/:id", r.readLimit) {
			return
		}
		schema, err := r.schemas.GetByID(req.Context(), id)
		if err != nil {
			r.logServiceError(req, err)
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, schema)
	case http.MethodPut:
		if !r.allowRate(w, req, "/schemas/:id", r.writeLimit) {
			return
		}
		var payload schemaPayload
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, apperr.KindBadRequest, "invalid JSON body")
			return
		}
		schema, err := r.schemas.Update(req.Context(), id, schemas.CreateInput{
			Name:        payload.Name,
			Version:     payload.Version,
			Description: payload.Description,
			Definition:  payload.Definition,
		})
		if err != nil {
			r.logServiceError(req, err)
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, schema)
	case http.MethodDelete:
		if !r.allowRate(w, req, "/schemas/:id", r.writeLimit) {
			return
		}
		force, _ := strconv.ParseBool(req.URL.Query().Get("force"))
		deleted, err := r.schemas.Delete(req.Context(), id, force)
		if err != nil {
			r.logServiceError(req, err)
			writeAppError(w, err)
			return
		}
		if !deleted {
			writeError(w, http.StatusNotFound, apperr.KindNotFound, "schema with id '"+id.String()+"' not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleSchemaByNameVersion(w http.ResponseWriter, req *http.Request, name, version string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if !r.allowRate(w, req, "/schemas/:name/:version", r.readLimit) {
		return
	}
	if strings.TrimSpace(name) == "" || strings.TrimSpace(version) == "" {
		writeError(w, http.StatusBadRequest, apperr.KindValidation, "schema name or version cannot be empty")
		return
	}
	schema, err := r.schemas.GetByNameVersion(req.Context(), name, version)
	if err != nil {
		r.logServiceError(req, err)
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

func (r *Router) handleCreateLog(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if !r.allowRate(w, req, "/logs", r.writeLimit) {
		return
	}
	var payload struct {
		SchemaID string          `json:"schema_id"`
		LogData  json.RawMessage `json:"log_data"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, apperr.KindBadRequest, "invalid JSON body")
		return
	}
	schemaID, err := uuid.Parse(payload.SchemaID)
	if err != nil {
		writeError(w, http.StatusBadRequest, apperr.KindBadRequest, "malformed schema id")
		return
	}
	log, err := r.logs.Create(req.Context(), schemaID, payload.LogData)
	if err != nil {
		r.logServiceError(req, err)
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, log)
}

func (r *Router) handleLogSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/logs/")
	parts := strings.Split(trimmed, "/")

	if parts[0] == "schema" {
		switch len(parts) {
		case 2:
			r.handleListLogs(w, req, parts[1], logs.DefaultSchemaVersion)
		case 3:
			r.handleListLogs(w, req, parts[1], parts[2])
		default:
			r.notFound(w)
		}
		return
	}
	if len(parts) != 1 || parts[0] == "" {
		r.notFound(w)
		return
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, apperr.KindBadRequest, "malformed log id")
		return
	}
	r.handleLogByID(w, req, id)
}

func (r *Router) handleListLogs(w http.ResponseWriter, req *http.Request, name, version string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if !r.allowRate(w, req, "/logs/schema/:name", r.readLimit) {
		return
	}
	if strings.TrimSpace(name) == "" || strings.TrimSpace(version) == "" {
		writeError(w, http.StatusBadRequest, apperr.KindValidation, "schema name or version cannot be empty")
		return
	}
	filter, err := logs.TranslateQueryFilter(req.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, apperr.KindBadRequest, "unusable query filter")
		return
	}
	list, err := r.logs.ListBySchemaNameVersion(req.Context(), name, version, filter)
	if err != nil {
		r.logServiceError(req, err)
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": list})
}

func (r *Router) handleLogByID(w http.ResponseWriter, req *http.Request, id int64) {
	switch req.Method {
	case http.MethodGet:
		if !r.allowRate(w, req, "/logs/:id", r.readLimit) {
			return
		}
		log, err := r.logs.GetByID(req.Context(), id)
		if err != nil {
			r.logServiceError(req, err)
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, log)
	case http.MethodDelete:
		if !r.allowRate(w, req, "/logs/:id", r.writeLimit) {
			return
		}
		deleted, err := r.logs.Delete(req.Context(), id)
		if err != nil {
			r.logServiceError(req, err)
			writeAppError(w, err)
			return
		}
		if !deleted {
			writeError(w, http.StatusNotFound, apperr.KindNotFound, "log with id '"+strconv.FormatInt(id, 10)+"' not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		r.methodNotAllowed(w)
	}
}

// handleLogsWS upgrades to a websocket subscription. An optional schema_id
// query parameter narrows the feed; it must name an existing schema.
func (r *Router) handleLogsWS(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if !r.allowRate(w, req, "/ws/logs", r.readLimit) {
		return
	}

	schemaID := uuid.Nil
	if raw := req.URL.Query().Get("schema_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, apperr.KindBadRequest, "malformed schema id")
			return
		}
		if _, err := r.schemas.GetByID(req.Context(), parsed); err != nil {
			r.logServiceError(req, err)
			writeAppError(w, err)
			return
		}
		schemaID = parsed
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	sub := r.hub.Subscribe(schemaID)
	client := ws.NewClient(r.hub, sub, conn, r.logger)
	client.Run()
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"service":    "schemalog",
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

// logServiceError records failures that clients only see in generic form.
func (r *Router) logServiceError(req *http.Request, err error) {
	kind := apperr.KindOf(err)
	if kind != apperr.KindDatabase && kind != apperr.KindInternal {
		return
	}
	r.logger.Error("request failed", "method", req.Method, "path", req.URL.Path, "kind", string(kind), "error", err)
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, apperr.KindBadRequest, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, apperr.KindNotFound, "route not found")
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}

		r.recordRequestMetrics(req.Method, routeLabel(req.URL.Path), status, duration)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

// routeLabel collapses paths into low-cardinality metric labels.
func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/logs/schema/"):
		return "/logs/schema/:name"
	case strings.HasPrefix(path, "/logs/"):
		return "/logs/:id"
	case strings.HasPrefix(path, "/schemas/"):
		return "/schemas/:id"
	default:
		return path
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}
