// Package allocator implements the Allocator component of §4.4: a
// single allocation request is idempotency-checked, claims a warm
// spare, validates it, tags and protects it, persists the binding,
// and reconciles capacity -- unwinding via compensation on any
// failure past the claim. Grounded on arvados
// lib/dispatchcloud/worker/pool.go's claim-then-verify-then-register
// shape, generalized to this spec's warm-pool/session/cloud triad.
package allocator

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/fogscale/workbench/lib/orchestrator"
	"github.com/fogscale/workbench/lib/orchestrator/clock"
	"github.com/fogscale/workbench/lib/orchestrator/cloud"
	"github.com/fogscale/workbench/lib/orchestrator/store"
	"github.com/fogscale/workbench/lib/orchestrator/wberrors"
)

// Reconciler is the Capacity Controller's entry point, as consumed by
// the Allocator (step 2 shortage path, step 8 top-up). Declared here
// so this package does not depend on package capacity --
// capacity.Controller satisfies this with no adaptation.
type Reconciler interface {
	Reconcile(ctx context.Context) error
}

// Allocator implements the §4.4 protocol.
type Allocator struct {
	Pool    store.WarmPool
	Session store.SessionStore
	Cloud   cloud.Adapter
	Cap     Reconciler
	Clock   clock.Clock
	Log     logrus.FieldLogger
}

func New(pool store.WarmPool, session store.SessionStore, cloudAdapter cloud.Adapter, cap Reconciler, clk clock.Clock, log logrus.FieldLogger) *Allocator {
	return &Allocator{Pool: pool, Session: session, Cloud: cloudAdapter, Cap: cap, Clock: clk, Log: log}
}

// Allocate runs the full protocol for userID and returns either a
// bound record, a processing outcome (warm pool exhausted), or a
// classified error.
func (a *Allocator) Allocate(ctx context.Context, userID string) (*orchestrator.AllocationOutcome, error) {
	// Step 1: idempotency.
	existing, ok, err := a.Session.GetWorkspace(ctx, userID)
	if err != nil {
		return nil, err
	}
	if ok && existing.Running() && existing.PublicEndpoint != "" {
		return &orchestrator.AllocationOutcome{Record: existing}, nil
	}

	// Step 2: claim.
	instanceID, ok, err := a.Pool.Pop(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		if rerr := a.Cap.Reconcile(ctx); rerr != nil {
			a.Log.WithError(rerr).Warn("reconcile after warm pool miss failed")
		}
		return &orchestrator.AllocationOutcome{Processing: true}, nil
	}

	record, err := a.bindClaimed(ctx, userID, instanceID)
	if err != nil {
		if wberrors.Is(err, wberrors.Conflict) {
			// A concurrent caller for the same user won the
			// conditional persist; re-read its record per §4.4's
			// concurrency note and return that instead of an error.
			winner, ok, gerr := a.Session.GetWorkspace(ctx, userID)
			if gerr == nil && ok {
				return &orchestrator.AllocationOutcome{Record: winner}, nil
			}
		}
		return nil, err
	}

	// Step 8: reconcile (top up the pool for the next caller).
	if rerr := a.Cap.Reconcile(ctx); rerr != nil {
		a.Log.WithError(rerr).Warn("reconcile after allocation failed")
	}

	return &orchestrator.AllocationOutcome{Record: record}, nil
}

// bindClaimed runs steps 3-7 (and their compensation on failure) for
// an instance already popped from the warm pool.
func (a *Allocator) bindClaimed(ctx context.Context, userID, instanceID string) (*orchestrator.WorkspaceRecord, error) {
	log := a.Log.WithField("InstanceID", instanceID).WithField("UserID", userID)

	// Step 3: validate.
	desc, err := a.Cloud.DescribeInstance(ctx, instanceID)
	if err != nil || !desc.Ready() {
		log.WithError(err).Warn("claimed instance failed readiness validation")
		a.compensateBadInstance(ctx, instanceID, log)
		if err != nil {
			return nil, err
		}
		return nil, wberrors.Newf(wberrors.BadInstance, "instance %s not ready: state=%q endpoint=%q", instanceID, desc.State, desc.PublicEndpoint)
	}

	// Step 4: bind external side effects is delegated to collaborators
	// outside this module's scope (storage attach, proxy route); none
	// are invoked here.

	// Step 5: tag.
	if err := a.Cloud.SetTags(ctx, instanceID, map[string]string{
		orchestrator.TagOwner:     userID,
		orchestrator.TagWarmSpare: "false",
	}); err != nil {
		log.WithError(err).Warn("tag step failed, compensating")
		a.compensateReturnToPool(ctx, instanceID, log)
		return nil, err
	}

	// Step 6: protect.
	if _, err := a.Cloud.SetScaleInProtection(ctx, []string{instanceID}, true); err != nil {
		log.WithError(err).Warn("protect step failed, compensating")
		a.compensateReturnToPool(ctx, instanceID, log)
		return nil, err
	}

	// Step 7: persist, conditional on no existing RUNNING record.
	now := a.Clock.Now().UnixMilli()
	record := &orchestrator.WorkspaceRecord{
		UserID:         userID,
		InstanceID:     instanceID,
		PublicEndpoint: desc.PublicEndpoint,
		State:          orchestrator.StateRunning,
		LastSeen:       now,
		Ts:             now,
	}
	wrote, err := a.Session.SetWorkspace(ctx, userID, record, true)
	if err != nil {
		log.WithError(err).Warn("persist step failed, compensating")
		a.compensateReturnToPool(ctx, instanceID, log)
		return nil, err
	}
	if !wrote {
		log.Info("lost conditional persist race, compensating")
		a.compensateReturnToPool(ctx, instanceID, log)
		return nil, wberrors.New(wberrors.Conflict, "concurrent allocation already bound this user")
	}

	return record, nil
}

// compensateBadInstance implements step 10's bad-instance branch:
// terminate rather than return to the pool, so a failed boot does not
// loop back into circulation.
func (a *Allocator) compensateBadInstance(ctx context.Context, instanceID string, log logrus.FieldLogger) {
	if err := a.Cloud.TerminateInAsgDecrementing(ctx, instanceID); err != nil {
		log.WithError(err).Error("compensation: failed to terminate bad instance")
	}
}

// compensateReturnToPool implements step 10's normal branch: unwind
// protection and tags, then release the instance back to the warm
// pool. Each action is best-effort and independently logged, per §9's
// "flat list, not a stack of closures" compensation discipline.
func (a *Allocator) compensateReturnToPool(ctx context.Context, instanceID string, log logrus.FieldLogger) {
	if _, err := a.Cloud.SetScaleInProtection(ctx, []string{instanceID}, false); err != nil {
		log.WithError(err).Error("compensation: failed to remove scale-in protection")
	}
	if err := a.Cloud.SetTags(ctx, instanceID, map[string]string{
		orchestrator.TagOwner:     orchestrator.OwnerUnassigned,
		orchestrator.TagWarmSpare: "true",
	}); err != nil {
		log.WithError(err).Error("compensation: failed to re-tag as unassigned")
	}
	if err := a.Pool.Add(ctx, instanceID); err != nil {
		log.WithError(err).Error("compensation: failed to return instance to warm pool")
	}
}
