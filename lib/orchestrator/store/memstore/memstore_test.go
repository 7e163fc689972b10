package memstore

import (
	"context"
	"testing"

	"github.com/fogscale/workbench/lib/orchestrator"
)

func TestWarmPoolPopIsExclusive(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.Add(ctx, "i-1")

	id, ok, err := s.Pop(ctx)
	if err != nil || !ok || id != "i-1" {
		t.Fatalf("expected to pop i-1, got %q ok=%v err=%v", id, ok, err)
	}
	_, ok, err = s.Pop(ctx)
	if err != nil || ok {
		t.Fatal("expected a second pop on an empty pool to return ok=false")
	}
}

func TestSetWorkspaceOnlyIfAbsentRejectsSecondWriter(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := &orchestrator.WorkspaceRecord{
		UserID: "alice", InstanceID: "i-1", State: orchestrator.StateRunning, LastSeen: 1, Ts: 1,
	}
	wrote, err := s.SetWorkspace(ctx, "alice", rec, true)
	if err != nil || !wrote {
		t.Fatalf("expected first conditional write to succeed, wrote=%v err=%v", wrote, err)
	}

	rec2 := &orchestrator.WorkspaceRecord{
		UserID: "alice", InstanceID: "i-2", State: orchestrator.StateRunning, LastSeen: 2, Ts: 2,
	}
	wrote, err = s.SetWorkspace(ctx, "alice", rec2, true)
	if err != nil || wrote {
		t.Fatalf("expected second conditional write to be rejected, wrote=%v err=%v", wrote, err)
	}

	got, ok, err := s.GetWorkspace(ctx, "alice")
	if err != nil || !ok || got.InstanceID != "i-1" {
		t.Fatalf("expected alice's record to remain bound to i-1, got %+v", got)
	}
}

func TestUpdatePingAdvancesLivenessIndex(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.SetWorkspace(ctx, "alice", &orchestrator.WorkspaceRecord{
		UserID: "alice", InstanceID: "i-1", State: orchestrator.StateRunning, LastSeen: 100, Ts: 100,
	}, false)

	if err := s.UpdatePing(ctx, "alice", 500); err != nil {
		t.Fatal(err)
	}

	idle, err := s.ListIdle(ctx, 400)
	if err != nil {
		t.Fatal(err)
	}
	if len(idle) != 0 {
		t.Fatalf("expected no idle users below cutoff 400 after a ping at 500, got %v", idle)
	}
	idle, err = s.ListIdle(ctx, 500)
	if err != nil {
		t.Fatal(err)
	}
	if len(idle) != 1 || idle[0] != "alice" {
		t.Fatalf("expected alice to be idle at the exact cutoff, got %v", idle)
	}
}

func TestCleanupRemovesAllTraces(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.SetWorkspace(ctx, "alice", &orchestrator.WorkspaceRecord{
		UserID: "alice", InstanceID: "i-1", State: orchestrator.StateRunning, LastSeen: 1, Ts: 1,
	}, false)

	if err := s.Cleanup(ctx, "alice", "i-1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.GetUserForInstance(ctx, "i-1"); ok {
		t.Fatal("expected the inst->user mapping to be gone after cleanup")
	}
	active, err := s.ActiveCount(ctx)
	if err != nil || active != 0 {
		t.Fatalf("expected active count 0 after cleanup, got %d err=%v", active, err)
	}
}

func TestGetWorkspaceReturnsACopyNotAnAlias(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.SetWorkspace(ctx, "alice", &orchestrator.WorkspaceRecord{
		UserID: "alice", InstanceID: "i-1", State: orchestrator.StateRunning, LastSeen: 1, Ts: 1,
	}, false)

	rec, _, _ := s.GetWorkspace(ctx, "alice")
	rec.InstanceID = "tampered"

	fresh, _, _ := s.GetWorkspace(ctx, "alice")
	if fresh.InstanceID != "i-1" {
		t.Fatalf("expected internal state to be unaffected by mutating a returned record, got %q", fresh.InstanceID)
	}
}
