// Package cloud abstracts the cloud provider operations the
// orchestrator needs (§4.1): describing and tagging a single
// instance, describing and resizing the auto-scaling group, setting
// per-instance scale-in protection, and terminating an instance while
// decrementing the ASG's desired capacity. It plays the same role the
// teacher repo's lib/cloud.InstanceSet plays for arvados's dispatcher,
// but the unit of control here is the ASG's desired capacity rather
// than direct instance creation -- this orchestrator never calls
// "create instance" itself; the ASG does that.
package cloud

import (
	"context"

	"github.com/fogscale/workbench/lib/orchestrator"
)

// Adapter is the thin, stateless abstraction every concrete cloud
// driver (awsasg, loopback) implements. Every method must be safe to
// call concurrently from multiple goroutines without external
// serialization -- the adapter itself holds no allocation-scoped
// state.
type Adapter interface {
	// DescribeInstance returns the instance's current state, public
	// endpoint (if any), and tags. Returns a wberrors NotFound-kind
	// error if the instance is gone.
	DescribeInstance(ctx context.Context, instanceID string) (*orchestrator.InstanceDescription, error)

	// SetTags overwrites/adds the given tags on the instance. Additive:
	// tags not named in the map are left untouched.
	SetTags(ctx context.Context, instanceID string, tags map[string]string) error

	// SetScaleInProtection batch-sets the scale-in-protected flag on
	// the given instances within the ASG. Returns per-id status;
	// a nil error with a false entry means that particular instance's
	// protection update failed (e.g. it is no longer in the ASG).
	SetScaleInProtection(ctx context.Context, instanceIDs []string, protected bool) (map[string]bool, error)

	// DescribeAsg returns the ASG's current desired/min/max capacity
	// and member instance IDs.
	DescribeAsg(ctx context.Context) (*orchestrator.AsgDescription, error)

	// SetDesiredCapacity asks the ASG to converge toward n. Idempotent
	// on the target value; does not wait for the ASG to settle.
	SetDesiredCapacity(ctx context.Context, n int) error

	// TerminateInAsgDecrementing terminates the instance and
	// atomically decrements the ASG's desired capacity by one, at the
	// cloud boundary, so the ASG does not immediately replace it.
	TerminateInAsgDecrementing(ctx context.Context, instanceID string) error
}
