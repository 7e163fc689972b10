// Package store declares the State Store's two roles from the spec
// (§4.2, §4.3): a WarmPool of unassigned instance ids, and a
// SessionStore holding per-user WorkspaceRecords plus the inverse
// instance->user mapping and the LivenessIndex. Every multi-key
// mutation a concrete implementation exposes here must be atomic
// against the backing store -- see §9 "shared mutable state -> atomic
// multi-key transactions".
package store

import (
	"context"

	"github.com/fogscale/workbench/lib/orchestrator"
)

// WarmPool is the set of unassigned, ready instance ids (§4.2).
type WarmPool interface {
	// Pop atomically removes and returns one member, or ("", false)
	// if the pool is empty. Never returns the same instance to two
	// concurrent callers.
	Pop(ctx context.Context) (instanceID string, ok bool, err error)

	// Add idempotently inserts id into the pool.
	Add(ctx context.Context, instanceID string) error

	// Remove idempotently deletes id from the pool.
	Remove(ctx context.Context, instanceID string) error

	// Size returns the pool's current cardinality.
	Size(ctx context.Context) (int, error)

	// InPool reports whether instanceID is currently a member,
	// letting callers distinguish "claimed" from "orphaned" when
	// reconciling pool membership against SessionStore ownership.
	InPool(ctx context.Context, instanceID string) (bool, error)
}

// SessionStore is the per-user/per-instance record store and the
// liveness index (§4.3).
type SessionStore interface {
	// GetWorkspace returns the record for userID, or (nil, false) if
	// none exists.
	GetWorkspace(ctx context.Context, userID string) (*orchestrator.WorkspaceRecord, bool, error)

	// SetWorkspace persists record for userID, writes the inverse
	// inst->user mapping, and inserts userID into the LivenessIndex
	// with score record.LastSeen -- all in one atomic unit. If
	// onlyIfAbsent is true, the write only applies when no RUNNING
	// record currently exists for userID; wrote reports whether this
	// call's write applied. This is the conditional persist step 7 of
	// §4.4 needs to resolve concurrent allocations for the same user.
	SetWorkspace(ctx context.Context, userID string, record *orchestrator.WorkspaceRecord, onlyIfAbsent bool) (wrote bool, err error)

	// GetUserForInstance returns the owning userID for instanceID, or
	// ("", false) if the instance is unowned.
	GetUserForInstance(ctx context.Context, instanceID string) (userID string, ok bool, err error)

	// UpdatePing advances userID's lastSeen in both the hash and the
	// LivenessIndex atomically, and sets state=RUNNING. No-op (but
	// not an error) if userID has no workspace record.
	UpdatePing(ctx context.Context, userID string, now int64) error

	// ListIdle returns the userIDs whose LivenessIndex score is at or
	// below cutoffTimestamp, as of the call.
	ListIdle(ctx context.Context, cutoffTimestamp int64) ([]string, error)

	// ActiveCount returns the LivenessIndex's cardinality.
	ActiveCount(ctx context.Context) (int, error)

	// Cleanup atomically sets the workspace state=STOPPED, removes
	// userID from the LivenessIndex, and deletes the inst->user
	// mapping for instanceID, then deletes the workspace record.
	Cleanup(ctx context.Context, userID, instanceID string) error
}
