package liveness

import (
	"context"
	"testing"
	"time"

	"github.com/fogscale/workbench/lib/orchestrator"
	"github.com/fogscale/workbench/lib/orchestrator/clock"
	"github.com/fogscale/workbench/lib/orchestrator/store/memstore"
	"github.com/fogscale/workbench/lib/orchestrator/wberrors"
)

func TestPingAdvancesLastSeen(t *testing.T) {
	ms := memstore.New()
	clk := clock.NewFake(time.UnixMilli(1_000_000))
	ms.SetWorkspace(context.Background(), "alice", &orchestrator.WorkspaceRecord{
		UserID: "alice", InstanceID: "i-1", PublicEndpoint: "1.2.3.4",
		State: orchestrator.StateRunning, LastSeen: 0, Ts: 0,
	}, false)

	g := New(ms, clk)
	clk.Advance(5 * time.Second)
	if err := g.Ping(context.Background(), "i-1"); err != nil {
		t.Fatal(err)
	}

	rec, ok, err := ms.GetWorkspace(context.Background(), "alice")
	if err != nil || !ok {
		t.Fatal("expected alice's workspace to exist")
	}
	if rec.LastSeen != clk.Now().UnixMilli() {
		t.Fatalf("expected lastSeen=%d, got %d", clk.Now().UnixMilli(), rec.LastSeen)
	}
}

func TestPingUnknownInstanceIsNotFound(t *testing.T) {
	ms := memstore.New()
	clk := clock.NewFake(time.UnixMilli(1_000_000))
	g := New(ms, clk)

	err := g.Ping(context.Background(), "i-ghost")
	if !wberrors.Is(err, wberrors.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestPingIsIdempotent(t *testing.T) {
	ms := memstore.New()
	clk := clock.NewFake(time.UnixMilli(1_000_000))
	ms.SetWorkspace(context.Background(), "alice", &orchestrator.WorkspaceRecord{
		UserID: "alice", InstanceID: "i-1", PublicEndpoint: "1.2.3.4",
		State: orchestrator.StateRunning, LastSeen: 0, Ts: 0,
	}, false)
	g := New(ms, clk)

	if err := g.Ping(context.Background(), "i-1"); err != nil {
		t.Fatal(err)
	}
	first, _, _ := ms.GetWorkspace(context.Background(), "alice")

	if err := g.Ping(context.Background(), "i-1"); err != nil {
		t.Fatal(err)
	}
	second, _, _ := ms.GetWorkspace(context.Background(), "alice")

	if first.LastSeen != second.LastSeen {
		t.Fatalf("expected repeated pings at the same clock reading to be observationally identical, got %d vs %d",
			first.LastSeen, second.LastSeen)
	}
}
