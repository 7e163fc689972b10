package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/fogscale/workbench/lib/orchestrator"
	"github.com/fogscale/workbench/lib/orchestrator/allocator"
	"github.com/fogscale/workbench/lib/orchestrator/capacity"
	"github.com/fogscale/workbench/lib/orchestrator/clock"
	"github.com/fogscale/workbench/lib/orchestrator/cloud/loopback"
	"github.com/fogscale/workbench/lib/orchestrator/lifecycle"
	"github.com/fogscale/workbench/lib/orchestrator/liveness"
	"github.com/fogscale/workbench/lib/orchestrator/store/memstore"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(discard{})
	return l
}

func authAlways(userID string) AuthContext {
	return func(r *http.Request) (string, bool) { return userID, userID != "" }
}

func newTestService() (*Service, *memstore.Store, *loopback.Adapter) {
	ms := memstore.New()
	cloudAdapter := loopback.New(0, 10)
	clk := clock.NewFake(time.UnixMilli(1_000_000))
	log := quietLogger()
	capCtrl := capacity.New(ms, ms, cloudAdapter, 1, 10, log)
	alloc := allocator.New(ms, ms, cloudAdapter, capCtrl, clk, log)
	reactor := lifecycle.New(ms, ms, cloudAdapter, clk, log, 3, time.Millisecond)
	gw := liveness.New(ms, clk)

	svc := &Service{
		Allocator: alloc,
		Liveness:  gw,
		Lifecycle: reactor,
		WarmPool:  ms,
		Session:   ms,
		Cloud:     cloudAdapter,
		Cap:       capCtrl,
		Clock:     clk,
		Auth:      authAlways("alice"),
		Log:       log,
		StartedAt: clk.Now(),
	}
	return svc, ms, cloudAdapter
}

func TestMetricsEndpointReportsLiveGauges(t *testing.T) {
	svc, ms, cloudAdapter := newTestService()
	svc.Registry = prometheus.NewRegistry()
	cloudAdapter.AddInstance("i-1", "running", "1.2.3.4", nil)
	ms.Add(context.Background(), "i-1")
	cloudAdapter.SetDesiredCapacity(context.Background(), 1)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"workbench_warm_spares", "workbench_asg_desired_capacity", "workbench_active_users"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected metrics output to contain %q, got:\n%s", want, body)
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	svc, _, _ := newTestService()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestStatusEndpointListsInstances(t *testing.T) {
	svc, ms, cloudAdapter := newTestService()
	cloudAdapter.AddInstance("i-1", "running", "1.2.3.4", nil)
	ms.Add(context.Background(), "i-1")
	cloudAdapter.SetDesiredCapacity(context.Background(), 1)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Instances []struct {
			InstanceID string `json:"instanceId"`
			Owner      string `json:"owner"`
			State      string `json:"state"`
			InPool     bool   `json:"inPool"`
		} `json:"instances"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Instances) != 1 {
		t.Fatalf("expected one instance in the inspection view, got %d", len(body.Instances))
	}
	got := body.Instances[0]
	if got.InstanceID != "i-1" || got.Owner != "UNASSIGNED" || !got.InPool {
		t.Fatalf("unexpected instance view: %+v", got)
	}
}

func TestAllocateEndpointBindsWarmInstance(t *testing.T) {
	svc, ms, cloudAdapter := newTestService()
	cloudAdapter.AddInstance("i-1", "running", "1.2.3.4", nil)
	ms.Add(context.Background(), "i-1")

	req := httptest.NewRequest(http.MethodPost, "/machines/allocate", nil)
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["instanceId"] != "i-1" || body["publicUrl"] != "1.2.3.4" {
		t.Fatalf("unexpected allocate body: %v", body)
	}
}

func TestAllocateEndpointReturnsProcessingOnShortage(t *testing.T) {
	svc, _, _ := newTestService()

	req := httptest.NewRequest(http.MethodPost, "/machines/allocate", nil)
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
}

func TestAllocateEndpointRequiresAuth(t *testing.T) {
	svc, _, _ := newTestService()
	svc.Auth = authAlways("")

	req := httptest.NewRequest(http.MethodPost, "/machines/allocate", nil)
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMachineStatusNotFoundWhenNoWorkspace(t *testing.T) {
	svc, _, _ := newTestService()

	req := httptest.NewRequest(http.MethodGet, "/machines/status", nil)
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestPingEndpoint(t *testing.T) {
	svc, ms, _ := newTestService()
	ms.SetWorkspace(context.Background(), "alice", &orchestrator.WorkspaceRecord{
		UserID: "alice", InstanceID: "i-1", PublicEndpoint: "1.2.3.4",
		State: orchestrator.StateRunning, LastSeen: 1, Ts: 1,
	}, false)

	body, _ := json.Marshal(map[string]string{"instanceId": "i-1"})
	req := httptest.NewRequest(http.MethodPost, "/ping", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPingEndpointMalformedBodyIsBadRequest(t *testing.T) {
	svc, _, _ := newTestService()

	req := httptest.NewRequest(http.MethodPost, "/ping", bytes.NewReader([]byte("{")))
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPingEndpointUnknownInstance(t *testing.T) {
	svc, _, _ := newTestService()

	body, _ := json.Marshal(map[string]string{"instanceId": "i-ghost"})
	req := httptest.NewRequest(http.MethodPost, "/ping", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestLifecycleWebhookAcksImmediately(t *testing.T) {
	svc, _, cloudAdapter := newTestService()
	cloudAdapter.AddInstance("i-1", "running", "1.2.3.4", nil)

	body, _ := json.Marshal(map[string]string{"kind": "launch", "instanceId": "i-1"})
	req := httptest.NewRequest(http.MethodPost, "/webhook/lifecycle", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
