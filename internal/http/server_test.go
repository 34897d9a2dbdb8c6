package http

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/taskd/internal/config"
	"github.com/nextlevelbuilder/taskd/internal/engine"
	"github.com/nextlevelbuilder/taskd/internal/store"
)

type testPolicy struct{}

func (testPolicy) List() []string                  { return []string{"alice", "root"} }
func (testPolicy) Ensure(a string) (string, error) { return a, nil }
func (testPolicy) PosixSupported() bool            { return true }
func (testPolicy) Default() string                 { return "alice" }

type noopExecutor struct{}

func (noopExecutor) ExecuteTask(*store.Task, string) (string, bool) { return "ok", true }
func (noopExecutor) EvaluateCondition(string) bool                  { return false }

func newTestServer(t *testing.T, opts Options) (http.Handler, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "tasks.db"), testPolicy{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	eng := engine.New(st, noopExecutor{})
	srv := NewServer(st, eng, testPolicy{}, opts)
	return srv.Handler(), st
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

const sampleTask = `{
	"name": "backup",
	"account": "alice",
	"trigger_type": "schedule",
	"schedule_expression": "0 3 * * *",
	"script_body": "run-backup"
}`

func TestTaskCRUD(t *testing.T) {
	h, _ := newTestServer(t, Options{})

	rec := doJSON(t, h, "POST", "/api/tasks", sampleTask)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created store.Task
	decodeBody(t, rec, &created)
	if created.ID == 0 || created.Name != "backup" {
		t.Fatalf("created = %+v", created)
	}
	if created.NextRunAt == nil {
		t.Error("next_run_at not computed on create")
	}

	rec = doJSON(t, h, "GET", "/api/tasks", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list struct {
		Data []store.TaskWithResult `json:"data"`
	}
	decodeBody(t, rec, &list)
	if len(list.Data) != 1 || list.Data[0].LatestResult != nil {
		t.Errorf("list = %+v", list)
	}

	rec = doJSON(t, h, "PUT", "/api/tasks/1", `{"name": "backup-v2"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body.String())
	}
	var updated store.Task
	decodeBody(t, rec, &updated)
	if updated.Name != "backup-v2" {
		t.Errorf("name = %q after partial update", updated.Name)
	}
	if updated.ScheduleExpression == nil || *updated.ScheduleExpression != "0 3 * * *" {
		t.Error("partial update clobbered schedule_expression")
	}

	rec = doJSON(t, h, "DELETE", "/api/tasks/1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doJSON(t, h, "GET", "/api/tasks/1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", rec.Code)
	}
}

func TestTaskValidationAndBadIDs(t *testing.T) {
	h, _ := newTestServer(t, Options{})

	rec := doJSON(t, h, "POST", "/api/tasks", `{"name": "x", "account": "alice", "trigger_type": "schedule", "script_body": "y"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing cron = %d, want 400", rec.Code)
	}
	rec = doJSON(t, h, "POST", "/api/tasks", `{"name": "x", "trigger_type": "bogus"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad trigger = %d, want 400", rec.Code)
	}
	rec = doJSON(t, h, "GET", "/api/tasks/abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-integer id = %d, want 400", rec.Code)
	}
	rec = doJSON(t, h, "GET", "/api/tasks/99", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown id = %d, want 404", rec.Code)
	}
}

func TestRunTaskGuards(t *testing.T) {
	h, st := newTestServer(t, Options{})
	doJSON(t, h, "POST", "/api/tasks", sampleTask)

	// Running instance blocks a manual run with 409.
	rid, err := st.RecordResultStart(1, store.ReasonManual)
	if err != nil {
		t.Fatal(err)
	}
	rec := doJSON(t, h, "POST", "/api/tasks/1/run", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("run while running = %d, want 409", rec.Code)
	}
	if err := st.FinalizeResult(rid, store.StatusSuccess, ""); err != nil {
		t.Fatal(err)
	}

	// Unmet dependency blocks with 400.
	dependent := `{"name": "dep", "account": "alice", "trigger_type": "schedule",
		"schedule_expression": "0 4 * * *", "script_body": "z", "pre_task_ids": [99]}`
	doJSON(t, h, "POST", "/api/tasks", dependent)
	rec = doJSON(t, h, "POST", "/api/tasks/2/run", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("run with unmet deps = %d, want 400", rec.Code)
	}

	rec = doJSON(t, h, "POST", "/api/tasks/1/run", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("run = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]bool
	decodeBody(t, rec, &resp)
	if !resp["queued"] {
		t.Error("run response missing queued flag")
	}
}

func TestToggleTask(t *testing.T) {
	h, _ := newTestServer(t, Options{})
	doJSON(t, h, "POST", "/api/tasks", sampleTask)

	rec := doJSON(t, h, "POST", "/api/tasks/1/toggle", "")
	var task store.Task
	decodeBody(t, rec, &task)
	if task.IsActive {
		t.Error("empty toggle should flip active state off")
	}

	rec = doJSON(t, h, "POST", "/api/tasks/1/toggle", `{"is_active": true}`)
	decodeBody(t, rec, &task)
	if !task.IsActive {
		t.Error("explicit toggle on failed")
	}
}

func TestBatchTasks(t *testing.T) {
	h, st := newTestServer(t, Options{})
	doJSON(t, h, "POST", "/api/tasks", sampleTask)
	doJSON(t, h, "POST", "/api/tasks", strings.Replace(sampleTask, "backup", "mirror", 1))

	rec := doJSON(t, h, "POST", "/api/tasks/batch", `{"action": "disable", "task_ids": [1, 2, 1, 99]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("batch = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Action string             `json:"action"`
		Result map[string][]int64 `json:"result"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Result["updated"]) != 2 || len(resp.Result["missing"]) != 1 {
		t.Errorf("disable result = %v", resp.Result)
	}

	rec = doJSON(t, h, "POST", "/api/tasks/batch", `{"action": "disable", "task_ids": [1]}`)
	decodeBody(t, rec, &resp)
	if len(resp.Result["unchanged"]) != 1 {
		t.Errorf("second disable result = %v", resp.Result)
	}

	// Task 1 running, task 2 inactive but runnable.
	if _, err := st.RecordResultStart(1, store.ReasonManual); err != nil {
		t.Fatal(err)
	}
	rec = doJSON(t, h, "POST", "/api/tasks/batch", `{"action": "run", "task_ids": [1, 2]}`)
	decodeBody(t, rec, &resp)
	if len(resp.Result["running"]) != 1 || len(resp.Result["queued"]) != 1 {
		t.Errorf("run result = %v", resp.Result)
	}

	rec = doJSON(t, h, "POST", "/api/tasks/batch", `{"action": "purge", "task_ids": [1]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad action = %d, want 400", rec.Code)
	}
	rec = doJSON(t, h, "POST", "/api/tasks/batch", `{"action": "run", "task_ids": []}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty ids = %d, want 400", rec.Code)
	}
}

func TestResultsEndpoints(t *testing.T) {
	h, st := newTestServer(t, Options{})
	doJSON(t, h, "POST", "/api/tasks", sampleTask)
	for i := 0; i < 3; i++ {
		rid, err := st.RecordResultStart(1, store.ReasonSchedule)
		if err != nil {
			t.Fatal(err)
		}
		if err := st.FinalizeResult(rid, store.StatusSuccess, "ok"); err != nil {
			t.Fatal(err)
		}
	}

	rec := doJSON(t, h, "GET", "/api/tasks/1/results?limit=2", "")
	var page struct {
		Data []store.TaskResult `json:"data"`
	}
	decodeBody(t, rec, &page)
	if len(page.Data) != 2 {
		t.Errorf("limit=2 returned %d results", len(page.Data))
	}

	// Alias route serves the same listing.
	rec = doJSON(t, h, "GET", "/api/results/1", "")
	decodeBody(t, rec, &page)
	if len(page.Data) != 3 {
		t.Errorf("alias returned %d results", len(page.Data))
	}

	rec = doJSON(t, h, "DELETE", "/api/tasks/1/results", "")
	var deleted map[string]int64
	decodeBody(t, rec, &deleted)
	if deleted["deleted"] != 3 {
		t.Errorf("deleted = %d, want 3", deleted["deleted"])
	}
}

func TestTemplatesEndpoints(t *testing.T) {
	h, _ := newTestServer(t, Options{})

	rec := doJSON(t, h, "POST", "/api/templates", `{"name": "Disk Report", "script_body": "df -h"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create template = %d, body %s", rec.Code, rec.Body.String())
	}
	var tpl store.Template
	decodeBody(t, rec, &tpl)
	if tpl.Key != "disk_report" {
		t.Errorf("generated key = %q", tpl.Key)
	}

	rec = doJSON(t, h, "POST", "/api/templates/import",
		`{"cleanup": {"name": "Cleanup", "script_body": "rm -rf /tmp/scratch"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("import = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, "GET", "/api/templates/export", "")
	var mapping map[string]store.TemplateEntry
	decodeBody(t, rec, &mapping)
	if len(mapping) != 2 || mapping["cleanup"].ScriptBody != "rm -rf /tmp/scratch" {
		t.Errorf("export = %v", mapping)
	}

	rec = doJSON(t, h, "DELETE", "/api/templates/1", "")
	if rec.Code != http.StatusOK {
		t.Errorf("delete template = %d", rec.Code)
	}
}

func TestHealthAndAccounts(t *testing.T) {
	h, _ := newTestServer(t, Options{})

	rec := doJSON(t, h, "GET", "/api/health", "")
	var health struct {
		Time      string `json:"time"`
		TaskCount int    `json:"task_count"`
	}
	decodeBody(t, rec, &health)
	if _, err := time.Parse(time.RFC3339, health.Time); err != nil {
		t.Errorf("health time %q not RFC3339: %v", health.Time, err)
	}

	rec = doJSON(t, h, "GET", "/api/accounts", "")
	var accounts struct {
		Data []string       `json:"data"`
		Meta map[string]any `json:"meta"`
	}
	decodeBody(t, rec, &accounts)
	if len(accounts.Data) != 2 || accounts.Meta["default_account"] != "alice" {
		t.Errorf("accounts = %+v", accounts)
	}
}

func TestBasicAuth(t *testing.T) {
	authPath := filepath.Join(t.TempDir(), "auth.json")
	if err := os.WriteFile(authPath, []byte(`{"username": "admin", "password": "hunter2", "realm": "Ops"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	provider, err := config.NewAuthProvider(authPath)
	if err != nil {
		t.Fatal(err)
	}
	h, _ := newTestServer(t, Options{Auth: provider})

	rec := doJSON(t, h, "GET", "/api/health", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no credentials = %d, want 401", rec.Code)
	}
	if got := rec.Header().Get("WWW-Authenticate"); got != `Basic realm="Ops", charset="UTF-8"` {
		t.Errorf("challenge = %q", got)
	}

	req := httptest.NewRequest("GET", "/api/health", nil)
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:wrong")))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest("GET", "/api/health", nil)
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:hunter2")))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid credentials = %d, want 200", rec.Code)
	}
}

func TestBasePathMount(t *testing.T) {
	h, _ := newTestServer(t, Options{BasePath: "/scheduler/"})

	rec := doJSON(t, h, "GET", "/scheduler/api/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("mounted path = %d, want 200", rec.Code)
	}
	rec = doJSON(t, h, "GET", "/api/health", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unmounted path = %d, want 404", rec.Code)
	}
}

func TestStaticSPAFallback(t *testing.T) {
	staticRoot := t.TempDir()
	if err := os.WriteFile(filepath.Join(staticRoot, "index.html"), []byte("<html>ui</html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	h, _ := newTestServer(t, Options{StaticRoot: staticRoot})

	rec := doJSON(t, h, "GET", "/", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ui") {
		t.Errorf("index = %d %q", rec.Code, rec.Body.String())
	}

	// Extension-less client-side route falls back to the SPA shell.
	rec = doJSON(t, h, "GET", "/tasks/42/edit", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ui") {
		t.Errorf("spa fallback = %d %q", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, "GET", "/missing.js", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing asset = %d, want 404", rec.Code)
	}

	rec = doJSON(t, h, "GET", "/api/bogus", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown api route = %d, want 404", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	h, _ := newTestServer(t, Options{RateLimitRPM: 60})

	var limited bool
	for i := 0; i < 20; i++ {
		rec := doJSON(t, h, "GET", "/api/health", "")
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Error("burst of requests was never rate limited")
	}
}
