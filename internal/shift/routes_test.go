package shift

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danmuck/shiftctl/internal/migration"
	"github.com/danmuck/shiftctl/internal/testutil/testlog"
)

func serveJSON(t *testing.T, svc *Service, method, target string) (int, map[string]any) {
	t.Helper()
	engine := svc.buildRouter()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, nil)
	engine.ServeHTTP(rec, req)

	var body map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s %s: bad body %q: %v", method, target, rec.Body.String(), err)
		}
	}
	return rec.Code, body
}

func TestHealthEndpoint(t *testing.T) {
	testlog.Start(t)

	svc := newRunningService(t, migration.NewInitialState(20, time.Now().UTC()))
	code, body := serveJSON(t, svc, http.MethodGet, "/health")
	if code != http.StatusOK {
		t.Fatalf("status: got %d", code)
	}
	if body["status"] != "ok" || body["run"] != svc.cfg.RunID {
		t.Fatalf("body: %v", body)
	}
}

func TestReadyTracksPhase(t *testing.T) {
	testlog.Start(t)

	svc := newRunningService(t, migration.NewInitialState(20, time.Now().UTC()))
	code, body := serveJSON(t, svc, http.MethodGet, "/ready")
	if code != http.StatusServiceUnavailable || body["ready"] != false {
		t.Fatalf("initializing run must not be ready: %d %v", code, body)
	}

	state, version, _ := svc.store.Read(context.Background())
	state.Phase = migration.PhaseValidating
	if err := svc.store.CompareAndSwap(context.Background(), version, state); err != nil {
		t.Fatalf("swap: %v", err)
	}

	code, body = serveJSON(t, svc, http.MethodGet, "/ready")
	if code != http.StatusOK || body["ready"] != true {
		t.Fatalf("validating run must be ready: %d %v", code, body)
	}
}

func TestMigrationStatusEndpoint(t *testing.T) {
	testlog.Start(t)

	svc := newRunningService(t, migration.State{
		Phase:     migration.PhaseShifting,
		Current:   migration.TrafficWeight{Old: 60, New: 40},
		LastGood:  migration.TrafficWeight{Old: 80, New: 20},
		StepSize:  20,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	})

	code, body := serveJSON(t, svc, http.MethodGet, "/migration")
	if code != http.StatusOK {
		t.Fatalf("status: got %d", code)
	}
	if body["version"] != float64(1) {
		t.Fatalf("version: %v", body["version"])
	}
	state, ok := body["state"].(map[string]any)
	if !ok {
		t.Fatalf("state missing: %v", body)
	}
	if state["phase"] != "shifting" {
		t.Fatalf("phase: %v", state["phase"])
	}
}

func TestAbortEndpoint(t *testing.T) {
	testlog.Start(t)

	svc := newRunningService(t, migration.NewInitialState(20, time.Now().UTC()))
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.abortFunc = cancel

	code, body := serveJSON(t, svc, http.MethodPost, "/migration/abort")
	if code != http.StatusAccepted {
		t.Fatalf("status: got %d", code)
	}
	if body["aborting"] != true || body["first_request"] != true {
		t.Fatalf("body: %v", body)
	}

	code, body = serveJSON(t, svc, http.MethodPost, "/migration/abort")
	if code != http.StatusAccepted || body["first_request"] != false {
		t.Fatalf("repeat abort: %d %v", code, body)
	}
}

func TestAuditEndpoint(t *testing.T) {
	testlog.Start(t)

	svc := newRunningService(t, migration.NewInitialState(20, time.Now().UTC()))
	weight := migration.BaselineWeight()
	for i := 0; i < 4; i++ {
		svc.audit.Append(migration.PhaseValidating, weight, weight, nil, string(migration.VerdictHold))
	}

	code, body := serveJSON(t, svc, http.MethodGet, "/migration/audit?limit=2")
	if code != http.StatusOK {
		t.Fatalf("status: got %d", code)
	}
	events, ok := body["events"].([]any)
	if !ok || len(events) != 2 {
		t.Fatalf("events: %v", body["events"])
	}

	code, _ = serveJSON(t, svc, http.MethodGet, "/migration/audit?limit=zero")
	if code != http.StatusBadRequest {
		t.Fatalf("bad limit must 400, got %d", code)
	}
}
