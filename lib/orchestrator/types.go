// Package orchestrator holds the data model shared by every package
// under lib/orchestrator: the per-user WorkspaceRecord, the cloud-side
// Instance view, and the state constants their lifecycles move
// through (§3, §4.9 of the spec).
package orchestrator

// WorkspaceState is the state of a per-user WorkspaceRecord.
type WorkspaceState string

const (
	StatePending WorkspaceState = "PENDING"
	StateRunning WorkspaceState = "RUNNING"
	StateStopped WorkspaceState = "STOPPED"
)

// Tag keys the orchestrator writes to cloud instances. Tags are
// advisory and racy with the Session Store -- see §9 "external
// tagging as a weak source of truth" -- so nothing here treats a tag
// as authoritative over the Session Store.
const (
	TagOwner     = "Owner"
	TagWarmSpare = "WarmSpare"
	TagManagedBy = "ManagedBy"

	OwnerUnassigned = "UNASSIGNED"
	ManagedByValue  = "workbench-orchestrator"
)

// WorkspaceRecord is the per-user record described in §3. JSON tags
// match the field names of the ws:<userId> hash in the State Store.
// The HTTP handlers build their own response bodies from it (where the
// endpoint is named publicUrl) rather than marshaling it directly.
type WorkspaceRecord struct {
	UserID         string         `json:"userId"`
	InstanceID     string         `json:"instanceId"`
	PublicEndpoint string         `json:"publicEndpoint"`
	CustomDomain   string         `json:"customDomain,omitempty"`
	State          WorkspaceState `json:"state"`
	LastSeen       int64          `json:"lastSeen"`
	Ts             int64          `json:"ts"`
}

// Running reports whether the record represents an active, bound
// workspace -- invariant 1 and 3 of §3 are both phrased in terms of
// this condition.
func (r *WorkspaceRecord) Running() bool {
	return r != nil && r.State == StateRunning && r.InstanceID != ""
}

// InstanceDescription is the Cloud Adapter's view of a single
// instance (§4.1 describeInstance).
type InstanceDescription struct {
	InstanceID     string
	State          string // cloud-provider-reported: pending|running|terminating|...
	PublicEndpoint string
	Tags           map[string]string
}

// Ready implements the readiness criterion from the GLOSSARY:
// state=running AND publicEndpoint non-empty.
func (d *InstanceDescription) Ready() bool {
	return d != nil && d.State == "running" && d.PublicEndpoint != ""
}

// AsgDescription is the Cloud Adapter's view of the auto-scaling
// group (§4.1 describeAsg).
type AsgDescription struct {
	DesiredCapacity int
	MinSize         int
	MaxSize         int
	InstanceIDs     []string
}

// AllocationOutcome distinguishes the three shapes an allocation
// request can resolve to (§4.4): bound, processing, or error. The
// caller (the HTTP service layer) maps this onto 200/202/5xx.
type AllocationOutcome struct {
	Record     *WorkspaceRecord
	Processing bool
}
