// Package loopback is an in-memory cloud.Adapter used by tests in
// place of a live AWS account, mirroring the role the teacher repo's
// lib/cloud/loopback plays for arvados's dispatcher test suite: same
// interface, no network calls, deterministic behavior the tests can
// assert against.
package loopback

import (
	"context"
	"sync"

	"github.com/fogscale/workbench/lib/orchestrator"
	"github.com/fogscale/workbench/lib/orchestrator/wberrors"
)

type instance struct {
	state          string
	publicEndpoint string
	tags           map[string]string
	protected      bool
	inAsg          bool
}

// Adapter is a goroutine-safe, in-memory stand-in for a real cloud.Adapter.
type Adapter struct {
	mtx             sync.Mutex
	instances       map[string]*instance
	desiredCapacity int
	minSize         int
	maxSize         int
}

// New returns a loopback adapter with no instances and the given ASG
// bounds.
func New(minSize, maxSize int) *Adapter {
	return &Adapter{
		instances: make(map[string]*instance),
		minSize:   minSize,
		maxSize:   maxSize,
	}
}

// AddInstance seeds the loopback adapter with an instance already
// known to the ASG, as if launched before the test began.
func (a *Adapter) AddInstance(id, state, publicEndpoint string, tags map[string]string) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	cp := make(map[string]string, len(tags))
	for k, v := range tags {
		cp[k] = v
	}
	a.instances[id] = &instance{state: state, publicEndpoint: publicEndpoint, tags: cp, inAsg: true}
	if a.desiredCapacity < len(a.instances) {
		a.desiredCapacity = len(a.instances)
	}
}

// IsProtected reports whether the instance currently has scale-in
// protection set, for test assertions.
func (a *Adapter) IsProtected(id string) bool {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	if inst, ok := a.instances[id]; ok {
		return inst.protected
	}
	return false
}

// DesiredCapacity returns the adapter's current desired capacity, for
// test assertions.
func (a *Adapter) DesiredCapacity() int {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return a.desiredCapacity
}

func (a *Adapter) DescribeInstance(ctx context.Context, instanceID string) (*orchestrator.InstanceDescription, error) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	inst, ok := a.instances[instanceID]
	if !ok {
		return nil, wberrors.Newf(wberrors.NotFound, "instance %s not found", instanceID)
	}
	tags := make(map[string]string, len(inst.tags))
	for k, v := range inst.tags {
		tags[k] = v
	}
	return &orchestrator.InstanceDescription{
		InstanceID:     instanceID,
		State:          inst.state,
		PublicEndpoint: inst.publicEndpoint,
		Tags:           tags,
	}, nil
}

func (a *Adapter) SetTags(ctx context.Context, instanceID string, tags map[string]string) error {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	inst, ok := a.instances[instanceID]
	if !ok {
		return wberrors.Newf(wberrors.NotFound, "instance %s not found", instanceID)
	}
	if inst.tags == nil {
		inst.tags = make(map[string]string)
	}
	for k, v := range tags {
		inst.tags[k] = v
	}
	return nil
}

func (a *Adapter) SetScaleInProtection(ctx context.Context, instanceIDs []string, protected bool) (map[string]bool, error) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	result := make(map[string]bool, len(instanceIDs))
	for _, id := range instanceIDs {
		inst, ok := a.instances[id]
		if !ok {
			result[id] = false
			continue
		}
		inst.protected = protected
		result[id] = true
	}
	return result, nil
}

func (a *Adapter) DescribeAsg(ctx context.Context) (*orchestrator.AsgDescription, error) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	ids := make([]string, 0, len(a.instances))
	for id, inst := range a.instances {
		if inst.inAsg {
			ids = append(ids, id)
		}
	}
	return &orchestrator.AsgDescription{
		DesiredCapacity: a.desiredCapacity,
		MinSize:         a.minSize,
		MaxSize:         a.maxSize,
		InstanceIDs:     ids,
	}, nil
}

func (a *Adapter) SetDesiredCapacity(ctx context.Context, n int) error {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	a.desiredCapacity = n
	return nil
}

func (a *Adapter) TerminateInAsgDecrementing(ctx context.Context, instanceID string) error {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	if _, ok := a.instances[instanceID]; !ok {
		return wberrors.Newf(wberrors.NotFound, "instance %s not found", instanceID)
	}
	delete(a.instances, instanceID)
	if a.desiredCapacity > 0 {
		a.desiredCapacity--
	}
	return nil
}
