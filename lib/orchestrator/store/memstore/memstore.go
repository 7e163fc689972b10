// Package memstore is an in-memory store.WarmPool + store.SessionStore
// used by allocator/capacity/reaper/lifecycle tests in place of a live
// Redis instance, mirroring the role the teacher repo's
// lib/dispatchcloud/test stubs play for arvados's worker pool tests:
// same interface, a mutex instead of a network round trip. Pop and
// ListIdle return members in Go map iteration order, which is not
// defined.
package memstore

import (
	"context"
	"sync"

	"github.com/fogscale/workbench/lib/orchestrator"
)

// Store implements both store.WarmPool and store.SessionStore over a
// single mutex-guarded in-memory state. Construct one with New; the
// zero Store has nil maps and panics on its first write.
type Store struct {
	mtx sync.Mutex

	pool       map[string]bool
	workspaces map[string]*orchestrator.WorkspaceRecord // userID -> record
	instOwner  map[string]string                        // instanceID -> userID
	liveness   map[string]int64                         // userID -> lastSeen score
}

func New() *Store {
	return &Store{
		pool:       make(map[string]bool),
		workspaces: make(map[string]*orchestrator.WorkspaceRecord),
		instOwner:  make(map[string]string),
		liveness:   make(map[string]int64),
	}
}

// --- store.WarmPool ---

func (s *Store) Pop(ctx context.Context) (string, bool, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for id := range s.pool {
		delete(s.pool, id)
		return id, true, nil
	}
	return "", false, nil
}

func (s *Store) Add(ctx context.Context, instanceID string) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.pool[instanceID] = true
	return nil
}

func (s *Store) Remove(ctx context.Context, instanceID string) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	delete(s.pool, instanceID)
	return nil
}

func (s *Store) Size(ctx context.Context) (int, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return len(s.pool), nil
}

// InPool reports whether instanceID is currently in the pool.
func (s *Store) InPool(ctx context.Context, instanceID string) (bool, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.pool[instanceID], nil
}

// --- store.SessionStore ---

func (s *Store) GetWorkspace(ctx context.Context, userID string) (*orchestrator.WorkspaceRecord, bool, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	rec, ok := s.workspaces[userID]
	if !ok {
		return nil, false, nil
	}
	cp := *rec
	return &cp, true, nil
}

func (s *Store) SetWorkspace(ctx context.Context, userID string, record *orchestrator.WorkspaceRecord, onlyIfAbsent bool) (bool, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if onlyIfAbsent {
		if existing, ok := s.workspaces[userID]; ok && existing.State == orchestrator.StateRunning {
			return false, nil
		}
	}
	cp := *record
	cp.UserID = userID
	s.workspaces[userID] = &cp
	s.instOwner[record.InstanceID] = userID
	s.liveness[userID] = record.LastSeen
	return true, nil
}

func (s *Store) GetUserForInstance(ctx context.Context, instanceID string) (string, bool, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	userID, ok := s.instOwner[instanceID]
	return userID, ok, nil
}

func (s *Store) UpdatePing(ctx context.Context, userID string, now int64) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	rec, ok := s.workspaces[userID]
	if !ok {
		return nil
	}
	rec.LastSeen = now
	rec.State = orchestrator.StateRunning
	s.liveness[userID] = now
	return nil
}

func (s *Store) ListIdle(ctx context.Context, cutoffTimestamp int64) ([]string, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	var idle []string
	for userID, score := range s.liveness {
		if score <= cutoffTimestamp {
			idle = append(idle, userID)
		}
	}
	return idle, nil
}

func (s *Store) ActiveCount(ctx context.Context) (int, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return len(s.liveness), nil
}

func (s *Store) Cleanup(ctx context.Context, userID, instanceID string) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if rec, ok := s.workspaces[userID]; ok {
		rec.State = orchestrator.StateStopped
	}
	delete(s.liveness, userID)
	delete(s.instOwner, instanceID)
	delete(s.workspaces, userID)
	return nil
}
