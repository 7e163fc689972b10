// Package reaper implements the Idle Reaper of §4.7: a fixed-interval
// loop that finds users past the idle threshold, terminates their
// instances, purges session state, and re-reconciles capacity.
// Grounded on arvados lib/dispatchcloud/scheduler/run.go's
// ticker-driven pass structure.
package reaper

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/fogscale/workbench/lib/orchestrator/clock"
	"github.com/fogscale/workbench/lib/orchestrator/cloud"
	"github.com/fogscale/workbench/lib/orchestrator/store"
)

// Reconciler matches allocator.Reconciler's shape; declared locally
// so this package has no dependency on package allocator or capacity.
type Reconciler interface {
	Reconcile(ctx context.Context) error
}

// Reaper runs periodic idle-workspace cleanup ticks.
type Reaper struct {
	Pool    store.WarmPool
	Session store.SessionStore
	Cloud   cloud.Adapter
	Cap     Reconciler
	Clock   clock.Clock
	Log     logrus.FieldLogger

	// IdleTimeoutMs and BatchSize implement §6's idleTimeoutMs config
	// and the batch bound the Open Questions section of DESIGN.md
	// resolves (default 25, spec left unspecified).
	IdleTimeoutMs int64
	BatchSize     int
}

func New(pool store.WarmPool, session store.SessionStore, cloudAdapter cloud.Adapter, cap Reconciler, clk clock.Clock, log logrus.FieldLogger, idleTimeoutMs int64, batchSize int) *Reaper {
	return &Reaper{
		Pool:          pool,
		Session:       session,
		Cloud:         cloudAdapter,
		Cap:           cap,
		Clock:         clk,
		Log:           log,
		IdleTimeoutMs: idleTimeoutMs,
		BatchSize:     batchSize,
	}
}

// RunTicker drives Tick on every tick of ticker until ctx is
// canceled. Grounded on the scheduler's own run loop: a ticker plus a
// select on ctx.Done so the loop exits cleanly on shutdown.
func (r *Reaper) RunTicker(ctx context.Context, ticker clock.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			r.Tick(ctx)
		}
	}
}

// Tick runs one pass of §4.7's three steps.
func (r *Reaper) Tick(ctx context.Context) {
	cutoff := r.Clock.Now().UnixMilli() - r.IdleTimeoutMs
	idle, err := r.Session.ListIdle(ctx, cutoff)
	if err != nil {
		r.Log.WithError(err).Error("reaper: failed to list idle users")
		return
	}
	if len(idle) > r.BatchSize {
		r.Log.WithField("Total", len(idle)).WithField("BatchSize", r.BatchSize).
			Warn("reaper: idle set exceeds batch size, remainder deferred to next tick")
		idle = idle[:r.BatchSize]
	}

	for _, userID := range idle {
		r.reapOne(ctx, userID)
	}

	if err := r.Cap.Reconcile(ctx); err != nil {
		r.Log.WithError(err).Warn("reaper: post-tick reconcile failed")
	}
}

func (r *Reaper) reapOne(ctx context.Context, userID string) {
	log := r.Log.WithField("UserID", userID)

	record, ok, err := r.Session.GetWorkspace(ctx, userID)
	if err != nil {
		log.WithError(err).Error("reaper: failed to load workspace")
		return
	}
	if !ok || !record.Running() {
		return
	}

	instanceID := record.InstanceID
	log = log.WithField("InstanceID", instanceID)

	if err := r.Pool.Remove(ctx, instanceID); err != nil {
		log.WithError(err).Warn("reaper: defensive pool removal failed")
	}
	if err := r.Cloud.TerminateInAsgDecrementing(ctx, instanceID); err != nil {
		log.WithError(err).Error("reaper: failed to terminate idle instance")
		return
	}
	if err := r.Session.Cleanup(ctx, userID, instanceID); err != nil {
		log.WithError(err).Error("reaper: failed to clean up session after termination")
	}
}
