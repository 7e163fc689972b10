// Package capacity implements the Capacity Controller of §4.5: a
// single reconcile() that drives the ASG's desired capacity toward
// active_users + warmSpareTarget (capped at maxInstances), protecting
// every active instance before any scale-down. Grounded on arvados
// lib/dispatchcloud/scheduler/sync.go's compare-desired-to-actual,
// act-on-the-delta reconciliation pass.
package capacity

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/fogscale/workbench/lib/orchestrator"
	"github.com/fogscale/workbench/lib/orchestrator/cloud"
	"github.com/fogscale/workbench/lib/orchestrator/store"
)

// Controller implements allocator.Reconciler and reaper.Reconciler --
// both just need a Reconcile(ctx) error, which this type's method
// satisfies without either package importing this one.
type Controller struct {
	Pool            store.WarmPool
	Session         store.SessionStore
	Cloud           cloud.Adapter
	WarmSpareTarget int
	MaxInstances    int
	Log             logrus.FieldLogger
}

func New(pool store.WarmPool, session store.SessionStore, cloudAdapter cloud.Adapter, warmSpareTarget, maxInstances int, log logrus.FieldLogger) *Controller {
	return &Controller{
		Pool:            pool,
		Session:         session,
		Cloud:           cloudAdapter,
		WarmSpareTarget: warmSpareTarget,
		MaxInstances:    maxInstances,
		Log:             log,
	}
}

// Reconcile is the single entry point described in §4.5.
func (c *Controller) Reconcile(ctx context.Context) error {
	asg, err := c.Cloud.DescribeAsg(ctx)
	if err != nil {
		return err
	}
	if err := c.repairPoolDrift(ctx, asg.InstanceIDs); err != nil {
		return err
	}

	active, err := c.Session.ActiveCount(ctx)
	if err != nil {
		return err
	}

	target := active + c.WarmSpareTarget
	if target > c.MaxInstances {
		target = c.MaxInstances
	}
	current := asg.DesiredCapacity

	log := c.Log.WithField("Active", active).WithField("Target", target).WithField("Current", current)

	switch {
	case target > current:
		log.Info("scaling up")
		return c.Cloud.SetDesiredCapacity(ctx, target)

	case target < current:
		poolSize, err := c.Pool.Size(ctx)
		if err != nil {
			return err
		}
		if poolSize <= c.WarmSpareTarget {
			// Surplus isn't sitting in warm spares -- nothing safe
			// to shed yet; leave desired capacity alone until the
			// pool actually carries the surplus.
			return nil
		}
		return c.safeScaleDown(ctx, asg.InstanceIDs, target, log)

	default:
		return nil
	}
}

// safeScaleDown implements §4.5's three-step safe scale-down: resolve
// active instances (Session Store authoritative, tags as self-healing
// fallback per §9), protect them, then lower desired capacity.
func (c *Controller) safeScaleDown(ctx context.Context, asgInstanceIDs []string, target int, log logrus.FieldLogger) error {
	activeIDs, err := c.resolveActiveInstances(ctx, asgInstanceIDs, log)
	if err != nil {
		return err
	}
	if len(activeIDs) > 0 {
		if _, err := c.Cloud.SetScaleInProtection(ctx, activeIDs, true); err != nil {
			return err
		}
	}
	log.WithField("ProtectedCount", len(activeIDs)).Info("scaling down")
	return c.Cloud.SetDesiredCapacity(ctx, target)
}

// repairPoolDrift cross-checks WarmPool membership against SessionStore
// ownership before every reconcile pass (§9's self-healing
// recommendation): an instance a session has claimed has no business
// still sitting in the warm pool (drift left behind by a crashed
// allocator before its conditional persist, or a claim that raced
// ahead of the pool removal), and an instance the ASG reports as an
// unassigned warm spare but that never made it into the pool (drift
// left behind by a crashed Lifecycle Reactor after tagging but before
// Pool.Add) belongs back in it. Grounded on
// lib/dispatchcloud/scheduler/sync.go's per-tick comparison of the
// container queue against the worker pool's actual state.
func (c *Controller) repairPoolDrift(ctx context.Context, asgInstanceIDs []string) error {
	for _, id := range asgInstanceIDs {
		_, claimed, err := c.Session.GetUserForInstance(ctx, id)
		if err != nil {
			return err
		}
		inPool, err := c.Pool.InPool(ctx, id)
		if err != nil {
			return err
		}

		switch {
		case claimed && inPool:
			if err := c.Pool.Remove(ctx, id); err != nil {
				return err
			}
			c.Log.WithField("InstanceID", id).Warn("repaired warm pool drift: removed claimed instance still listed as a spare")

		case !claimed && !inPool:
			desc, err := c.Cloud.DescribeInstance(ctx, id)
			if err != nil {
				c.Log.WithError(err).WithField("InstanceID", id).Warn("could not describe instance while repairing pool drift")
				continue
			}
			if desc.Tags[orchestrator.TagOwner] == orchestrator.OwnerUnassigned && desc.Tags[orchestrator.TagWarmSpare] == "true" {
				if err := c.Pool.Add(ctx, id); err != nil {
					return err
				}
				c.Log.WithField("InstanceID", id).Warn("repaired warm pool drift: re-added orphaned warm spare")
			}
		}
	}
	return nil
}

// resolveActiveInstances prefers the Session Store's inverse mapping;
// an instance with no Session-side owner but an Owner tag that isn't
// UNASSIGNED is treated as active too, self-healing the case where
// the mapping was lost but the tag survived (§4.5 step 1, §9 "external
// tagging as a weak source of truth" used only as a fallback, never as
// a primary source).
func (c *Controller) resolveActiveInstances(ctx context.Context, instanceIDs []string, log logrus.FieldLogger) ([]string, error) {
	var active []string
	for _, id := range instanceIDs {
		if _, ok, err := c.Session.GetUserForInstance(ctx, id); err != nil {
			return nil, err
		} else if ok {
			active = append(active, id)
			continue
		}
		desc, err := c.Cloud.DescribeInstance(ctx, id)
		if err != nil {
			log.WithError(err).WithField("InstanceID", id).Warn("could not describe instance while resolving active set")
			continue
		}
		if owner := desc.Tags[orchestrator.TagOwner]; owner != "" && owner != orchestrator.OwnerUnassigned {
			active = append(active, id)
		}
	}
	return active, nil
}
