// Package lifecycle implements the Lifecycle Reactor of §4.6: handles
// asynchronous InstanceLaunch and InstanceTerminate events from the
// cloud provider. Grounded on arvados
// lib/dispatchcloud/worker/worker.go's boot-probe retry loop (poll
// with backoff, give up after N attempts without self-terminating).
package lifecycle

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fogscale/workbench/lib/orchestrator"
	"github.com/fogscale/workbench/lib/orchestrator/clock"
	"github.com/fogscale/workbench/lib/orchestrator/cloud"
	"github.com/fogscale/workbench/lib/orchestrator/store"
)

// Reactor implements the two event handlers of §4.6. The HTTP layer
// is responsible for acknowledging the provider's webhook before
// OnLaunch's readiness poll completes, per §9's "ack before
// completing" note; OnLaunch itself does not return until the poll is
// done, so callers that must not block the webhook response dispatch
// it with `go`.
type Reactor struct {
	Pool    store.WarmPool
	Session store.SessionStore
	Cloud   cloud.Adapter
	Clock   clock.Clock
	Log     logrus.FieldLogger

	// MaxAttempts and BackoffBase configure the readiness poll
	// (§4.1/§6 readinessMaxAttempts, readinessBackoffMs). Default
	// 3 attempts, ~60s apart per §4.6.
	MaxAttempts int
	BackoffBase time.Duration
}

func New(pool store.WarmPool, session store.SessionStore, cloudAdapter cloud.Adapter, clk clock.Clock, log logrus.FieldLogger, maxAttempts int, backoffBase time.Duration) *Reactor {
	return &Reactor{
		Pool:        pool,
		Session:     session,
		Cloud:       cloudAdapter,
		Clock:       clk,
		Log:         log,
		MaxAttempts: maxAttempts,
		BackoffBase: backoffBase,
	}
}

// OnLaunch polls instanceID for readiness with linear backoff. On
// success it tags the instance UNASSIGNED/warm and adds it to the
// pool. On exhaustion it logs and returns without terminating --
// per §4.6, a truly dead instance is the ASG health check's problem,
// not this reactor's.
func (r *Reactor) OnLaunch(ctx context.Context, instanceID string) {
	log := r.Log.WithField("InstanceID", instanceID).WithField("Event", "InstanceLaunch")

	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		desc, err := r.Cloud.DescribeInstance(ctx, instanceID)
		if err != nil {
			log.WithError(err).WithField("Attempt", attempt).Warn("readiness poll: describe failed")
		} else if desc.Ready() {
			if err := r.markWarm(ctx, instanceID); err != nil {
				log.WithError(err).Error("failed to register ready instance in warm pool")
			} else {
				log.WithField("Attempts", attempt).Info("instance ready, added to warm pool")
			}
			return
		}

		if attempt == r.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			log.WithError(ctx.Err()).Warn("readiness poll canceled")
			return
		default:
			r.Clock.Sleep(r.BackoffBase * time.Duration(attempt))
		}
	}

	log.WithField("Attempts", r.MaxAttempts).Error("instance never became ready, giving up")
}

func (r *Reactor) markWarm(ctx context.Context, instanceID string) error {
	if err := r.Cloud.SetTags(ctx, instanceID, map[string]string{
		orchestrator.TagOwner:     orchestrator.OwnerUnassigned,
		orchestrator.TagWarmSpare: "true",
	}); err != nil {
		return err
	}
	return r.Pool.Add(ctx, instanceID)
}

// OnTerminate removes instanceID from the pool (idempotent) and, if
// it was bound to a user, cleans up that user's session. Always safe
// on an unknown instance.
func (r *Reactor) OnTerminate(ctx context.Context, instanceID string) {
	log := r.Log.WithField("InstanceID", instanceID).WithField("Event", "InstanceTerminate")

	if err := r.Pool.Remove(ctx, instanceID); err != nil {
		log.WithError(err).Warn("failed to remove instance from warm pool")
	}

	userID, ok, err := r.Session.GetUserForInstance(ctx, instanceID)
	if err != nil {
		log.WithError(err).Error("failed to resolve owning user")
		return
	}
	if !ok {
		return
	}
	if err := r.Session.Cleanup(ctx, userID, instanceID); err != nil {
		log.WithError(err).WithField("UserID", userID).Error("failed to clean up session for terminated instance")
	}
}
