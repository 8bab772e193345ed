package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AditthyaSS/Flux/config"
	"github.com/AditthyaSS/Flux/engine"
	"github.com/AditthyaSS/Flux/log"
	"github.com/AditthyaSS/Flux/store"
	"github.com/AditthyaSS/Flux/types"
)

func setupRouter(t *testing.T, autoStart bool) (*gin.Engine, *engine.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.DownloadDir = t.TempDir()
	cfg.StateDir = t.TempDir()
	cfg.AutoStart = &autoStart

	reg, err := store.Open(filepath.Join(t.TempDir(), "flux.db"))
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })

	m, err := engine.NewManager(cfg, log.Nop(), reg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	return New(m, log.Nop()).Router(), m
}

// contentServer serves deterministic bytes with range support.
func contentServer(t *testing.T, size int) (*httptest.Server, []byte) {
	t.Helper()
	data := make([]byte, size)
	rand.New(rand.NewSource(7)).Read(data)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "file.bin", time.Unix(0, 0), bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)
	return srv, data
}

func do(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *strings.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	} else {
		rdr = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateTask(t *testing.T) {
	srv, _ := contentServer(t, 4<<10)
	router, _ := setupRouter(t, false)

	w := do(t, router, http.MethodPost, "/api/v1/tasks",
		`{"url":"`+srv.URL+`/file.bin"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}

	var task types.Task
	if err := json.Unmarshal(w.Body.Bytes(), &task); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if task.ID == "" || task.Status != types.StatusQueued {
		t.Fatalf("task = %+v", task)
	}
}

func TestCreateTask_InvalidURL(t *testing.T) {
	router, _ := setupRouter(t, false)

	w := do(t, router, http.MethodPost, "/api/v1/tasks", `{"url":"ftp://nope"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
	}

	w = do(t, router, http.MethodPost, "/api/v1/tasks", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing url", w.Code)
	}
}

func TestGetTask_NotFound(t *testing.T) {
	router, _ := setupRouter(t, false)
	w := do(t, router, http.MethodGet, "/api/v1/tasks/unknown", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestListTasks(t *testing.T) {
	srv, _ := contentServer(t, 4<<10)
	router, _ := setupRouter(t, false)

	w := do(t, router, http.MethodGet, "/api/v1/tasks", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var empty struct {
		Tasks []types.Task `json:"tasks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &empty); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if empty.Tasks == nil || len(empty.Tasks) != 0 {
		t.Fatalf("tasks = %+v, want empty array", empty.Tasks)
	}

	do(t, router, http.MethodPost, "/api/v1/tasks", `{"url":"`+srv.URL+`/a.bin"}`)
	do(t, router, http.MethodPost, "/api/v1/tasks", `{"url":"`+srv.URL+`/b.bin"}`)

	w = do(t, router, http.MethodGet, "/api/v1/tasks", "")
	var got struct {
		Tasks []types.Task `json:"tasks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got.Tasks) != 2 {
		t.Fatalf("len = %d, want 2", len(got.Tasks))
	}
}

func TestLifecycle_StartAndComplete(t *testing.T) {
	srv, _ := contentServer(t, 32<<10)
	router, m := setupRouter(t, false)

	w := do(t, router, http.MethodPost, "/api/v1/tasks",
		`{"url":"`+srv.URL+`/file.bin"}`)
	var task types.Task
	if err := json.Unmarshal(w.Body.Bytes(), &task); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	w = do(t, router, http.MethodPost, "/api/v1/tasks/"+task.ID+"/start", "")
	if w.Code != http.StatusOK {
		t.Fatalf("start status = %d: %s", w.Code, w.Body.String())
	}

	ctx, cancel := contextWithTimeout(t)
	defer cancel()
	if err := m.Wait(ctx, task.ID); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	w = do(t, router, http.MethodGet, "/api/v1/tasks/"+task.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var detail engine.TaskDetail
	if err := json.Unmarshal(w.Body.Bytes(), &detail); err != nil {
		t.Fatalf("unmarshal detail: %v", err)
	}
	if detail.Task.Status != types.StatusCompleted {
		t.Fatalf("task status = %s, want completed", detail.Task.Status)
	}
}

func TestDeleteTask(t *testing.T) {
	srv, _ := contentServer(t, 4<<10)
	router, _ := setupRouter(t, false)

	w := do(t, router, http.MethodPost, "/api/v1/tasks",
		`{"url":"`+srv.URL+`/file.bin"}`)
	var task types.Task
	if err := json.Unmarshal(w.Body.Bytes(), &task); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	w = do(t, router, http.MethodDelete, "/api/v1/tasks/"+task.ID+"?purge=true", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = do(t, router, http.MethodGet, "/api/v1/tasks/"+task.ID, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", w.Code)
	}
}

func TestGetDecisions_EmptyHistory(t *testing.T) {
	srv, _ := contentServer(t, 4<<10)
	router, _ := setupRouter(t, false)

	w := do(t, router, http.MethodPost, "/api/v1/tasks",
		`{"url":"`+srv.URL+`/file.bin"}`)
	var task types.Task
	if err := json.Unmarshal(w.Body.Bytes(), &task); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	w = do(t, router, http.MethodGet, "/api/v1/tasks/"+task.ID+"/decisions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got struct {
		Decisions []types.DecisionRecord `json:"decisions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Decisions == nil {
		t.Fatal("decisions should be an empty array, not null")
	}
}

func contextWithTimeout(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func TestHealth(t *testing.T) {
	router, _ := setupRouter(t, false)
	w := do(t, router, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), types.Version) {
		t.Fatalf("body = %s, want version", w.Body.String())
	}
}
