package allocator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fogscale/workbench/lib/orchestrator"
	"github.com/fogscale/workbench/lib/orchestrator/clock"
	"github.com/fogscale/workbench/lib/orchestrator/cloud/loopback"
	"github.com/fogscale/workbench/lib/orchestrator/store/memstore"
	"github.com/fogscale/workbench/lib/orchestrator/wberrors"
)

type noopReconciler struct{ calls int }

func (n *noopReconciler) Reconcile(ctx context.Context) error {
	n.calls++
	return nil
}

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(noopWriter{})
	return l
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

func newFixture() (*Allocator, *memstore.Store, *loopback.Adapter, *noopReconciler) {
	ms := memstore.New()
	cloudAdapter := loopback.New(0, 5)
	recon := &noopReconciler{}
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	a := New(ms, ms, cloudAdapter, recon, clk, testLogger())
	return a, ms, cloudAdapter, recon
}

func TestAllocateHappyPath(t *testing.T) {
	a, ms, cloudAdapter, recon := newFixture()
	cloudAdapter.AddInstance("i-1", "running", "1.2.3.4", nil)
	if err := a.Pool.Add(context.Background(), "i-1"); err != nil {
		t.Fatal(err)
	}

	outcome, err := a.Allocate(context.Background(), "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Processing {
		t.Fatal("expected a bound outcome, not processing")
	}
	if outcome.Record.InstanceID != "i-1" || outcome.Record.PublicEndpoint != "1.2.3.4" {
		t.Fatalf("unexpected record: %+v", outcome.Record)
	}
	if !cloudAdapter.IsProtected("i-1") {
		t.Fatal("expected i-1 to be scale-in protected")
	}
	if inPool, _ := ms.InPool(context.Background(), "i-1"); inPool {
		t.Fatal("expected i-1 to have been removed from the warm pool")
	}
	if recon.calls != 1 {
		t.Fatalf("expected exactly one reconcile call, got %d", recon.calls)
	}
}

func TestAllocateIdempotentRepeat(t *testing.T) {
	a, ms, cloudAdapter, _ := newFixture()
	cloudAdapter.AddInstance("i-1", "running", "1.2.3.4", nil)
	ms.Add(context.Background(), "i-1")

	first, err := a.Allocate(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}

	second, err := a.Allocate(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if second.Record.InstanceID != first.Record.InstanceID {
		t.Fatalf("expected idempotent repeat to return the same instance, got %s vs %s",
			second.Record.InstanceID, first.Record.InstanceID)
	}
}

func TestAllocateWarmPoolEmptyReturnsProcessing(t *testing.T) {
	a, _, _, recon := newFixture()

	outcome, err := a.Allocate(context.Background(), "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Processing {
		t.Fatal("expected a processing outcome when the warm pool is empty")
	}
	if recon.calls != 1 {
		t.Fatalf("expected reconcile to run on a warm pool miss, got %d calls", recon.calls)
	}
}

func TestAllocateBadInstanceIsTerminatedNotReturned(t *testing.T) {
	a, ms, cloudAdapter, _ := newFixture()
	cloudAdapter.AddInstance("i-bad", "running", "", nil) // missing public endpoint
	ms.Add(context.Background(), "i-bad")

	_, err := a.Allocate(context.Background(), "dave")
	if !wberrors.Is(err, wberrors.BadInstance) {
		t.Fatalf("expected BadInstance, got %v", err)
	}
	if inPool, _ := ms.InPool(context.Background(), "i-bad"); inPool {
		t.Fatal("bad instance must not be returned to the warm pool")
	}
	if _, err := cloudAdapter.DescribeInstance(context.Background(), "i-bad"); !wberrors.Is(err, wberrors.NotFound) {
		t.Fatal("expected the bad instance to have been terminated")
	}
}

func TestAllocateConcurrentSameUserYieldsOneWinner(t *testing.T) {
	a, ms, cloudAdapter, _ := newFixture()
	const n = 5
	// Seed at least as many warm spares as concurrent callers so every
	// call claims an instance (none sees a warm-pool-exhaustion
	// "processing" outcome); the property under test is that exactly
	// one claim survives to a persisted record, not pool sizing.
	for i := 0; i < n; i++ {
		id := "i-" + string(rune('1'+i))
		cloudAdapter.AddInstance(id, "running", "10.0.0."+string(rune('1'+i)), nil)
		ms.Add(context.Background(), id)
	}
	var wg sync.WaitGroup
	results := make([]*orchestrator.AllocationOutcome, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = a.Allocate(context.Background(), "carol")
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("call %d returned error: %v", i, errs[i])
		}
		if results[i].Record == nil {
			t.Fatalf("call %d returned no record", i)
		}
		seen[results[i].Record.InstanceID] = true
	}
	if len(seen) != 1 {
		t.Fatalf("expected all concurrent calls for the same user to converge on one instance, saw %v", seen)
	}
}
