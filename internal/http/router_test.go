package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/splax/schemalog/internal/config"
	"github.com/splax/schemalog/internal/domain"
	"github.com/splax/schemalog/internal/repository"
	"github.com/splax/schemalog/internal/service/logs"
	"github.com/splax/schemalog/internal/service/schemas"
	"github.com/splax/schemalog/internal/ws"
)

const requestSchema = `{
	"type": "object",
	"properties": {
		"level": {"type": "string"},
		"status": {"type": "integer"}
	},
	"required": ["level"]
}`

// memoryStore is an in-memory stand-in for the postgres repository, shared by
// both repository interfaces so foreign-key style checks can see each other.
type memoryStore struct {
	mu      sync.Mutex
	schemas map[uuid.UUID]domain.Schema
	logs    map[int64]domain.Log
	nextLog int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		schemas: make(map[uuid.UUID]domain.Schema),
		logs:    make(map[int64]domain.Log),
		nextLog: 1,
	}
}

func (m *memoryStore) CreateSchema(ctx context.Context, schema *domain.Schema) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.schemas {
		if existing.Name == schema.Name && existing.Version == schema.Version {
			return repository.ErrUniqueViolation
		}
	}
	m.schemas[schema.ID] = *schema
	return nil
}

func (m *memoryStore) UpdateSchema(ctx context.Context, schema *domain.Schema) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schemas[schema.ID]; !ok {
		return false, nil
	}
	m.schemas[schema.ID] = *schema
	return true, nil
}

func (m *memoryStore) DeleteSchema(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schemas[id]; !ok {
		return false, nil
	}
	for _, log := range m.logs {
		if log.SchemaID == id {
			return false, repository.ErrForeignKeyViolation
		}
	}
	delete(m.schemas, id)
	return true, nil
}

func (m *memoryStore) GetSchemaByID(ctx context.Context, id uuid.UUID) (*domain.Schema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if schema, ok := m.schemas[id]; ok {
		return &schema, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memoryStore) GetSchemaByNameVersion(ctx context.Context, name, version string) (*domain.Schema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, schema := range m.schemas {
		if schema.Name == name && schema.Version == version {
			return &schema, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memoryStore) ListSchemas(ctx context.Context, filter domain.SchemaFilter) ([]domain.Schema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Schema, 0)
	for _, schema := range m.schemas {
		if filter.Name != "" && schema.Name != filter.Name {
			continue
		}
		if filter.Version != "" && schema.Version != filter.Version {
			continue
		}
		out = append(out, schema)
	}
	return out, nil
}

func (m *memoryStore) CreateLog(ctx context.Context, log *domain.Log) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schemas[log.SchemaID]; !ok {
		return repository.ErrForeignKeyViolation
	}
	log.ID = m.nextLog
	m.nextLog++
	m.logs[log.ID] = *log
	return nil
}

func (m *memoryStore) GetLogByID(ctx context.Context, id int64) (*domain.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if log, ok := m.logs[id]; ok {
		return &log, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memoryStore) ListLogsBySchema(ctx context.Context, schemaID uuid.UUID, filter json.RawMessage) ([]domain.Log, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Log, 0)
	for _, log := range m.logs {
		if log.SchemaID != schemaID {
			continue
		}
		if filter != nil && !containsFilter(log.Data, filter) {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

func (m *memoryStore) DeleteLog(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.logs[id]; !ok {
		return false, nil
	}
	delete(m.logs, id)
	return true, nil
}

func (m *memoryStore) CountLogsBySchema(ctx context.Context, schemaID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, log := range m.logs {
		if log.SchemaID == schemaID {
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) DeleteLogsBySchema(ctx context.Context, schemaID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, log := range m.logs {
		if log.SchemaID == schemaID {
			delete(m.logs, id)
			n++
		}
	}
	return n, nil
}

// containsFilter mimics jsonb @> for flat documents.
func containsFilter(data, filter json.RawMessage) bool {
	var doc, want map[string]any
	if json.Unmarshal(data, &doc) != nil || json.Unmarshal(filter, &want) != nil {
		return false
	}
	for key, value := range want {
		if !reflect.DeepEqual(doc[key], value) {
			return false
		}
	}
	return true
}

type testEnv struct {
	server *httptest.Server
	store  *memoryStore
	hub    *ws.Hub
}

func newTestEnv(t *testing.T, cfg config.Config) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newMemoryStore()
	hub := ws.NewHub(log, 8)
	schemaSvc := schemas.New(store, store, log)
	logSvc := logs.New(store, schemaSvc, hub, log)

	if cfg.RateLimitWindow == 0 {
		cfg.RateLimitWindow = time.Minute
	}
	router := NewRouter(log, schemaSvc, logSvc, hub, nil, cfg, nil)
	server := httptest.NewServer(router)
	t.Cleanup(func() {
		server.Close()
		router.Close()
		hub.Close()
	})
	return &testEnv{server: server, store: store, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path string, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := e.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func (e *testEnv) createSchema(t *testing.T, name, version string) domain.Schema {
	t.Helper()
	payload, _ := json.Marshal(map[string]any{
		"name":              name,
		"version":           version,
		"schema_definition": json.RawMessage(requestSchema),
	})
	resp := e.do(t, http.MethodPost, "/schemas", string(payload))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create schema: unexpected status %d", resp.StatusCode)
	}
	return decodeBody[domain.Schema](t, resp)
}

func (e *testEnv) createLog(t *testing.T, schemaID uuid.UUID, data string) domain.Log {
	t.Helper()
	body := `{"schema_id": "` + schemaID.String() + `", "log_data": ` + data + `}`
	resp := e.do(t, http.MethodPost, "/logs", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create log: unexpected status %d", resp.StatusCode)
	}
	return decodeBody[domain.Log](t, resp)
}

func TestCreateSchemaReturnsLocation(t *testing.T) {
	env := newTestEnv(t, config.Config{})

	payload := `{"name": "requests", "version": "1.0.0", "schema_definition": ` + requestSchema + `}`
	resp := env.do(t, http.MethodPost, "/schemas", payload)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	created := decodeBody[domain.Schema](t, resp)
	if created.ID == uuid.Nil {
		t.Fatal("expected generated id")
	}
	if loc := resp.Header.Get("Location"); loc != "/schemas/"+created.ID.String() {
		t.Fatalf("unexpected Location header: %q", loc)
	}
}

func TestCreateSchemaRejectsInvalidBody(t *testing.T) {
	env := newTestEnv(t, config.Config{})

	resp := env.do(t, http.MethodPost, "/schemas", `{not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCreateSchemaReportsFieldErrors(t *testing.T) {
	env := newTestEnv(t, config.Config{})

	resp := env.do(t, http.MethodPost, "/schemas", `{"name": "", "version": "", "schema_definition": {"type": "object"}}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	body := decodeBody[errorBody](t, resp)
	if len(body.FieldErrors["name"]) == 0 || len(body.FieldErrors["version"]) == 0 {
		t.Fatalf("expected field errors, got %+v", body)
	}
}

func TestCreateSchemaDuplicateConflicts(t *testing.T) {
	env := newTestEnv(t, config.Config{})
	env.createSchema(t, "requests", "1.0.0")

	payload := `{"name": "requests", "version": "1.0.0", "schema_definition": ` + requestSchema + `}`
	resp := env.do(t, http.MethodPost, "/schemas", payload)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	body := decodeBody[errorBody](t, resp)
	if body.Error != "Conflict" {
		t.Fatalf("unexpected error kind: %q", body.Error)
	}
}

func TestListSchemasWrapsCollection(t *testing.T) {
	env := newTestEnv(t, config.Config{})
	env.createSchema(t, "requests", "1.0.0")
	env.createSchema(t, "requests", "2.0.0")
	env.createSchema(t, "audit", "1.0.0")

	resp := env.do(t, http.MethodGet, "/schemas?name=requests", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody[map[string][]domain.Schema](t, resp)
	if len(body["schemas"]) != 2 {
		t.Fatalf("expected 2 schemas under the collection key, got %+v", body)
	}
}

func TestGetSchemaMalformedIDIsBadRequest(t *testing.T) {
	env := newTestEnv(t, config.Config{})

	resp := env.do(t, http.MethodGet, "/schemas/not-a-uuid", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestGetSchemaUnknownIDIsNotFound(t *testing.T) {
	env := newTestEnv(t, config.Config{})

	resp := env.do(t, http.MethodGet, "/schemas/"+uuid.NewString(), "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	body := decodeBody[errorBody](t, resp)
	if body.Error != "NotFound" || body.Message == "" {
		t.Fatalf("unexpected error body: %+v", body)
	}
}

func TestGetSchemaByNameVersion(t *testing.T) {
	env := newTestEnv(t, config.Config{})
	created := env.createSchema(t, "requests", "1.0.0")

	resp := env.do(t, http.MethodGet, "/schemas/requests/1.0.0", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	got := decodeBody[domain.Schema](t, resp)
	if got.ID != created.ID {
		t.Fatalf("expected schema %s, got %s", created.ID, got.ID)
	}
}

func TestUpdateSchema(t *testing.T) {
	env := newTestEnv(t, config.Config{})
	created := env.createSchema(t, "requests", "1.0.0")

	payload := `{"name": "requests", "version": "1.1.0", "schema_definition": ` + requestSchema + `}`
	resp := env.do(t, http.MethodPut, "/schemas/"+created.ID.String(), payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	updated := decodeBody[domain.Schema](t, resp)
	if updated.Version != "1.1.0" {
		t.Fatalf("unexpected version: %q", updated.Version)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("created_at changed: %v != %v", updated.CreatedAt, created.CreatedAt)
	}
}

func TestDeleteSchemaGuardedByDependentLogs(t *testing.T) {
	env := newTestEnv(t, config.Config{})
	created := env.createSchema(t, "requests", "1.0.0")
	env.createLog(t, created.ID, `{"level": "info"}`)

	resp := env.do(t, http.MethodDelete, "/schemas/"+created.ID.String(), "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 without force, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodDelete, "/schemas/"+created.ID.String()+"?force=true", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 with force, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodDelete, "/schemas/"+created.ID.String(), "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestCreateLogValidatesAgainstSchema(t *testing.T) {
	env := newTestEnv(t, config.Config{})
	created := env.createSchema(t, "requests", "1.0.0")

	log := env.createLog(t, created.ID, `{"level": "error", "status": 500}`)
	if log.ID == 0 || log.SchemaID != created.ID {
		t.Fatalf("unexpected log: %+v", log)
	}

	resp := env.do(t, http.MethodPost, "/logs", `{"schema_id": "`+created.ID.String()+`", "log_data": {"status": 500}}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for violating data, got %d", resp.StatusCode)
	}
	body := decodeBody[errorBody](t, resp)
	if !strings.Contains(body.Message, "level") {
		t.Fatalf("violation message should name the offending field: %q", body.Message)
	}
}

func TestCreateLogMalformedSchemaID(t *testing.T) {
	env := newTestEnv(t, config.Config{})

	resp := env.do(t, http.MethodPost, "/logs", `{"schema_id": "nope", "log_data": {"level": "info"}}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestLogLifecycle(t *testing.T) {
	env := newTestEnv(t, config.Config{})
	created := env.createSchema(t, "requests", "1.0.0")
	log := env.createLog(t, created.ID, `{"level": "info"}`)

	resp := env.do(t, http.MethodGet, "/logs/"+itoa(log.ID), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodDelete, "/logs/"+itoa(log.ID), "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodDelete, "/logs/"+itoa(log.ID), "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for repeated delete, got %d", resp.StatusCode)
	}
}

func TestListLogsBySchemaNameWithQueryFilter(t *testing.T) {
	env := newTestEnv(t, config.Config{})
	created := env.createSchema(t, "requests", "1.0.0")
	env.createLog(t, created.ID, `{"level": "error", "status": 500}`)
	env.createLog(t, created.ID, `{"level": "info", "status": 200}`)

	// Version defaults to 1.0.0 when the path omits it.
	resp := env.do(t, http.MethodGet, "/logs/schema/requests?status=500", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody[map[string][]domain.Log](t, resp)
	list := body["logs"]
	if len(list) != 1 {
		t.Fatalf("expected the filter to match one log, got %d", len(list))
	}
	var data map[string]any
	if err := json.Unmarshal(list[0].Data, &data); err != nil {
		t.Fatalf("unmarshal log data: %v", err)
	}
	if data["level"] != "error" {
		t.Fatalf("filter matched the wrong log: %v", data)
	}
}

func TestListLogsUnknownSchemaIsNotFound(t *testing.T) {
	env := newTestEnv(t, config.Config{})

	resp := env.do(t, http.MethodGet, "/logs/schema/missing/1.0.0", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestWriteRateLimitEnforced(t *testing.T) {
	env := newTestEnv(t, config.Config{RateLimitWrite: 1, RateLimitWindow: time.Minute})
	env.createSchema(t, "requests", "1.0.0")

	payload := `{"name": "requests", "version": "2.0.0", "schema_definition": ` + requestSchema + `}`
	resp := env.do(t, http.MethodPost, "/schemas", payload)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once the write budget is spent, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-RateLimit-Limit") != "1" {
		t.Fatalf("expected rate limit headers, got %v", resp.Header)
	}
}

func TestHealthzReportsDatabaseState(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newMemoryStore()
	hub := ws.NewHub(log, 8)
	defer hub.Close()
	schemaSvc := schemas.New(store, store, log)
	logSvc := logs.New(store, schemaSvc, hub, log)

	dbErr := errors.New("connection refused")
	router := NewRouter(log, schemaSvc, logSvc, hub, nil, config.Config{RateLimitWindow: time.Minute}, func(ctx context.Context) error {
		return dbErr
	})
	defer router.Close()
	server := httptest.NewServer(router)
	defer server.Close()

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when the database is down, got %d", resp.StatusCode)
	}
	body := decodeBody[map[string]any](t, resp)
	if body["status"] != "degraded" {
		t.Fatalf("unexpected health payload: %v", body)
	}
}

func wsURL(server *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + path
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.LogEvent {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var event domain.LogEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	return event
}

func TestWebsocketStreamsLifecycleEvents(t *testing.T) {
	env := newTestEnv(t, config.Config{})
	created := env.createSchema(t, "requests", "1.0.0")

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(env.server, "/ws/logs"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	log := env.createLog(t, created.ID, `{"level": "warn"}`)

	event := readEvent(t, conn)
	if event.EventType != domain.EventCreated || event.ID != log.ID || event.SchemaID != created.ID {
		t.Fatalf("unexpected created event: %+v", event)
	}
	if event.LogData == nil || event.CreatedAt == nil {
		t.Fatalf("created event must carry payload and timestamp: %+v", event)
	}

	delResp := env.do(t, http.MethodDelete, "/logs/"+itoa(log.ID), "")
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete log: unexpected status %d", delResp.StatusCode)
	}

	event = readEvent(t, conn)
	if event.EventType != domain.EventDeleted || event.ID != log.ID || event.SchemaID != created.ID {
		t.Fatalf("unexpected deleted event: %+v", event)
	}
	if event.LogData != nil || event.CreatedAt != nil {
		t.Fatalf("deleted event must omit payload fields: %+v", event)
	}
}

func TestWebsocketSchemaFilterSuppressesOtherSchemas(t *testing.T) {
	env := newTestEnv(t, config.Config{})
	wanted := env.createSchema(t, "requests", "1.0.0")
	other := env.createSchema(t, "audit", "1.0.0")

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(env.server, "/ws/logs?schema_id="+wanted.ID.String()), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	env.createLog(t, other.ID, `{"level": "info"}`)
	match := env.createLog(t, wanted.ID, `{"level": "error"}`)

	event := readEvent(t, conn)
	if event.SchemaID != wanted.ID || event.ID != match.ID {
		t.Fatalf("filtered feed delivered the wrong event: %+v", event)
	}
}

func TestWebsocketRejectsUnknownSchemaFilter(t *testing.T) {
	env := newTestEnv(t, config.Config{})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(env.server, "/ws/logs?schema_id="+uuid.NewString()), nil)
	if err == nil {
		t.Fatal("expected handshake to fail for unknown schema filter")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 refusal, got %+v", resp)
	}
	resp.Body.Close()
}

func TestWebsocketRejectsMalformedSchemaFilter(t *testing.T) {
	env := newTestEnv(t, config.Config{})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(env.server, "/ws/logs?schema_id=nope"), nil)
	if err == nil {
		t.Fatal("expected handshake to fail for malformed schema filter")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 refusal, got %+v", resp)
	}
	resp.Body.Close()
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
