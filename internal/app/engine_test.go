package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sha1n/relic-search/internal/config"
)

const testSchema = `
name: tasks
metadata_fields: [status, project]
sources:
  Task:
    fields:
      - title: subject
      - content: description
      - status
      - project
permissions:
  default:
    project: [public]
  principals:
    admin: {}
`

const testTasks = `{"id": "T1", "subject": "Deploy pipeline", "description": "Run the <b>deploy</b> job nightly", "status": "Open", "project": "public"}
{"id": "T2", "subject": "Secret deploy", "description": "Deploy the hidden service", "status": "Open", "project": "internal"}
`

// newTestSettings writes a schema and a data file under a temp dir.
func newTestSettings(t *testing.T) *config.Settings {
	t.Helper()
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		t.Fatalf("Failed to create data dir: %v", err)
	}
	schemaFile := filepath.Join(dir, "schema.yaml")
	if err := os.WriteFile(schemaFile, []byte(testSchema), 0644); err != nil {
		t.Fatalf("Failed to write schema: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, "Task.jsonl"), []byte(testTasks), 0644); err != nil {
		t.Fatalf("Failed to write records: %v", err)
	}

	return &config.Settings{
		Transport: config.TransportSSE,
		Auth: config.AuthSettings{
			Type:  config.AuthTypeBasic,
			Basic: config.BasicAuthSettings{Username: "admin", Password: "secret"},
		},
		Search: config.SearchSettings{
			Enabled:             true,
			BaseDir:             filepath.Join(dir, "indexes"),
			SchemaFile:          schemaFile,
			DataDir:             dataDir,
			BatchSize:           10,
			MaxResults:          10,
			QueryTimeout:        5 * time.Second,
			CorrectionThreshold: 0.6,
			Workers:             1,
		},
	}
}

func TestOpenEngine_MissingSchema(t *testing.T) {
	settings := newTestSettings(t)
	settings.Search.SchemaFile = filepath.Join(t.TempDir(), "missing.yaml")

	if _, err := OpenEngine(settings); err == nil {
		t.Fatal("Expected error for missing schema file")
	}
}

func TestOpenEngine_EndToEnd(t *testing.T) {
	settings := newTestSettings(t)
	engine, err := OpenEngine(settings)
	if err != nil {
		t.Fatalf("OpenEngine failed: %v", err)
	}
	defer closeEngine(engine)

	if _, err := engine.BuildIndex(context.Background()); err != nil {
		t.Fatalf("BuildIndex failed: %v", err)
	}

	router := newTestRouter(t, engine, settings.Auth)

	// The basic user "admin" has no restrictions
	req := httptest.NewRequest("GET", "/api/search?q=deploy", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"source_id":"T1"`) || !strings.Contains(body, `"source_id":"T2"`) {
		t.Errorf("Expected both tasks for admin, got %s", body)
	}
	if strings.Contains(body, "<b>") {
		t.Errorf("Expected HTML to be stripped from content, got %s", body)
	}

	// Principals without an entry get the default predicate
	anonymous := httptest.NewRecorder()
	newTestRouter(t, engine, config.AuthSettings{}).ServeHTTP(anonymous, httptest.NewRequest("GET", "/api/search?q=deploy", nil))
	if anonymous.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", anonymous.Code)
	}
	if strings.Contains(anonymous.Body.String(), `"source_id":"T2"`) {
		t.Errorf("Expected internal task to be hidden, got %s", anonymous.Body.String())
	}
	if !strings.Contains(anonymous.Body.String(), `"source_id":"T1"`) {
		t.Errorf("Expected public task, got %s", anonymous.Body.String())
	}
}

func TestOpenEngine_Disabled(t *testing.T) {
	settings := newTestSettings(t)
	settings.Search.Enabled = false

	engine, err := OpenEngine(settings)
	if err != nil {
		t.Fatalf("OpenEngine failed: %v", err)
	}
	defer closeEngine(engine)

	built, err := engine.EnsureIndex(context.Background())
	if err != nil || built {
		t.Errorf("Expected EnsureIndex to be a no-op, got built=%v err=%v", built, err)
	}
	if engine.Status().Enabled {
		t.Error("Expected status to report search disabled")
	}
}
