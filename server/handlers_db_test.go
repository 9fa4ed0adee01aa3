package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hollowoak/ambassador-overlay/catalog"
	"github.com/hollowoak/ambassador-overlay/overlay"
	"github.com/hollowoak/ambassador-overlay/telemetry"
	"github.com/hollowoak/ambassador-overlay/testutil"
)

// Endpoint tests that need Postgres; skipped unless TEST_PG_DSN is set.

func newDBTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	database := testutil.SetupTestDB(t)
	telemetry.Init()

	ctx := context.Background()
	_, err := database.ExecContext(ctx, `
		INSERT INTO ambassadors (key, name, species, enabled)
		VALUES ('test-moss', 'Moss', 'Eastern box turtle', TRUE)
		ON CONFLICT (key) DO NOTHING`)
	if err != nil {
		t.Fatalf("seed ambassador: %v", err)
	}
	t.Cleanup(func() {
		_, _ = database.ExecContext(ctx, `DELETE FROM ambassadors WHERE key = 'test-moss'`)
	})

	cat := catalog.New(database, time.Minute)
	if err := cat.Refresh(ctx); err != nil {
		t.Fatalf("catalog refresh: %v", err)
	}

	ctrl := overlay.NewController(overlay.Options{DismissDelay: time.Minute, Resolver: cat})
	t.Cleanup(ctrl.Close)

	srv := httptest.NewServer(NewMux(ctx, database, ctrl, cat))
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthzEndpoint(t *testing.T) {
	srv := newDBTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", resp.StatusCode)
	}
}

func TestReadyzEndpoint(t *testing.T) {
	srv := newDBTestServer(t)

	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("get readyz: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status = %d, want 200", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ready" {
		t.Fatalf("status = %q, want ready", body["status"])
	}
}

func TestAmbassadorsEndpoints(t *testing.T) {
	srv := newDBTestServer(t)

	resp, err := http.Get(srv.URL + "/ambassadors")
	if err != nil {
		t.Fatalf("get ambassadors: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d, want 200", resp.StatusCode)
	}
	var list []catalog.Ambassador
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	found := false
	for _, a := range list {
		if a.Key == "test-moss" {
			found = true
		}
	}
	if !found {
		t.Fatal("seeded ambassador missing from list")
	}

	resp2, err := http.Get(srv.URL + "/ambassadors/test-moss")
	if err != nil {
		t.Fatalf("get ambassador: %v", err)
	}
	defer func() { _ = resp2.Body.Close() }()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", resp2.StatusCode)
	}
	var amb catalog.Ambassador
	if err := json.NewDecoder(resp2.Body).Decode(&amb); err != nil {
		t.Fatalf("decode ambassador: %v", err)
	}
	if amb.Name != "Moss" {
		t.Fatalf("name = %q, want Moss", amb.Name)
	}

	resp3, err := http.Get(srv.URL + "/ambassadors/not-a-real-key")
	if err != nil {
		t.Fatalf("get missing ambassador: %v", err)
	}
	defer func() { _ = resp3.Body.Close() }()
	if resp3.StatusCode != http.StatusNotFound {
		t.Fatalf("missing status = %d, want 404", resp3.StatusCode)
	}
}

func TestConfigEndpoint(t *testing.T) {
	database := testutil.SetupTestDB(t)
	t.Cleanup(func() {
		_, _ = database.ExecContext(context.Background(), `DELETE FROM kv WHERE key = 'cfg:COMMAND_PREFIX'`)
	})
	srv := newDBTestServer(t)

	// Write a safe key, then read it back.
	req, err := http.NewRequest(http.MethodPut, srv.URL+"/config",
		strings.NewReader(`{"COMMAND_PREFIX":"?","SECRET_KEY":"must-be-dropped"}`))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("put config: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("put status = %d, want 204", resp.StatusCode)
	}

	resp2, err := http.Get(srv.URL + "/config")
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	defer func() { _ = resp2.Body.Close() }()
	var cfg map[string]string
	if err := json.NewDecoder(resp2.Body).Decode(&cfg); err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if cfg["COMMAND_PREFIX"] != "?" {
		t.Fatalf("COMMAND_PREFIX = %q, want ?", cfg["COMMAND_PREFIX"])
	}
	if _, leaked := cfg["SECRET_KEY"]; leaked {
		t.Fatal("unsafe key must never round-trip through /config")
	}
}
