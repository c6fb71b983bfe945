package graph

import (
	"context"
	"fmt"
	"sync"

	"github.com/casetrail/backend/pkg/ai"
	"github.com/casetrail/backend/pkg/common"
)

// SnapshotStore persists the full graph state of a case. LoadState returns
// (nil, nil) for a case without persisted state.
type SnapshotStore interface {
	LoadState(ctx context.Context, caseID string) (*common.CaseGraphState, error)
	SaveState(ctx context.Context, caseID string, state *common.CaseGraphState) error
}

// CaseLocker serializes case work across processes. fn runs while the lease
// for key is held.
type CaseLocker interface {
	WithLease(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Coordinator serializes all graph work per case while letting independent
// cases proceed in parallel. Every operation re-hydrates the in-memory
// graph from the SnapshotStore before acting, so several processes (API
// server, ingest worker) sharing one database stay consistent as long as
// they share the CaseLocker.
//
// Both SnapshotStore and CaseLocker are optional; without them the
// Coordinator runs purely in memory, which the tests rely on.
//
// A Coordinator should be created using NewCoordinator.
type Coordinator struct {
	store     *Store
	orch      *Orchestrator
	snapshots SnapshotStore
	locker    CaseLocker

	lock  sync.Mutex
	cases map[string]*sync.Mutex
}

// NewCoordinatorParams contains configuration for creating a new
// Coordinator. Snapshots and Locker may be nil.
type NewCoordinatorParams struct {
	Store     *Store
	Orch      *Orchestrator
	Snapshots SnapshotStore
	Locker    CaseLocker
}

// NewCoordinator creates a new Coordinator.
func NewCoordinator(params NewCoordinatorParams) *Coordinator {
	return &Coordinator{
		store:     params.Store,
		orch:      params.Orch,
		snapshots: params.Snapshots,
		locker:    params.Locker,

		cases: map[string]*sync.Mutex{},
	}
}

// caseMutex returns the per-case mutex, creating it on first use. Mutexes
// are never removed while a case exists; they are tiny and case churn is
// low.
func (c *Coordinator) caseMutex(caseID string) *sync.Mutex {
	c.lock.Lock()
	defer c.lock.Unlock()
	m, ok := c.cases[caseID]
	if !ok {
		m = &sync.Mutex{}
		c.cases[caseID] = m
	}
	return m
}

// withCase runs fn holding both the in-process mutex and, when configured,
// the cross-process lease for the case.
func (c *Coordinator) withCase(ctx context.Context, caseID string, fn func(ctx context.Context) error) error {
	m := c.caseMutex(caseID)
	m.Lock()
	defer m.Unlock()

	if c.locker == nil {
		return fn(ctx)
	}
	return c.locker.WithLease(ctx, caseID, fn)
}

// hydrate reloads the case graph from persisted state. Called at the start
// of every locked operation so this process never acts on a stale graph.
func (c *Coordinator) hydrate(ctx context.Context, caseID string) error {
	if c.snapshots == nil {
		return nil
	}
	state, err := c.snapshots.LoadState(ctx, caseID)
	if err != nil {
		return fmt.Errorf("loading graph state: %w", err)
	}
	if state == nil {
		c.store.Reset(caseID)
		return nil
	}
	c.store.Restore(caseID, state)
	return nil
}

func (c *Coordinator) persist(ctx context.Context, caseID string) error {
	if c.snapshots == nil {
		return nil
	}
	state := c.store.Export(caseID)
	if err := c.snapshots.SaveState(ctx, caseID, &state); err != nil {
		return fmt.Errorf("saving graph state: %w", err)
	}
	return nil
}

// Ingest processes one turn of text for a case. history carries the prior
// chat messages for the analysis reply and may be nil. Turns of the same
// case are strictly serialized; the graph and its persisted state only
// advance on success.
func (c *Coordinator) Ingest(ctx context.Context, caseID string, text string, history []ai.ChatMessage) (*IngestResult, error) {
	var result *IngestResult
	err := c.withCase(ctx, caseID, func(ctx context.Context) error {
		if err := c.hydrate(ctx, caseID); err != nil {
			return err
		}
		res, err := c.orch.Ingest(ctx, caseID, text, history)
		if err != nil {
			return err
		}
		if err := c.persist(ctx, caseID); err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Snapshot returns the current graph view of a case.
func (c *Coordinator) Snapshot(ctx context.Context, caseID string) (common.GraphSnapshot, error) {
	var snapshot common.GraphSnapshot
	err := c.withCase(ctx, caseID, func(ctx context.Context) error {
		if err := c.hydrate(ctx, caseID); err != nil {
			return err
		}
		snapshot = c.store.Snapshot(caseID)
		return nil
	})
	if err != nil {
		return common.GraphSnapshot{}, err
	}
	return snapshot, nil
}

// Clear resets a case's graph to empty, in memory and in the snapshot
// store. Clearing an already empty case is a no-op. The case itself and
// its message history survive.
func (c *Coordinator) Clear(ctx context.Context, caseID string) error {
	return c.withCase(ctx, caseID, func(ctx context.Context) error {
		c.store.Reset(caseID)
		return c.persist(ctx, caseID)
	})
}

// Remove drops a case's in-memory graph, for case deletion. Persisted rows
// are the caller's responsibility (they cascade with the case row).
func (c *Coordinator) Remove(ctx context.Context, caseID string) error {
	return c.withCase(ctx, caseID, func(ctx context.Context) error {
		c.store.Remove(caseID)
		return nil
	})
}
