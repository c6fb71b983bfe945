package graph

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/casetrail/backend/pkg/ai"
	"github.com/casetrail/backend/pkg/common"
)

type fakeSnapshotStore struct {
	lock    sync.Mutex
	states  map[string]*common.CaseGraphState
	loadErr error
	saveErr error
	saves   int
}

func newFakeSnapshotStore() *fakeSnapshotStore {
	return &fakeSnapshotStore{states: map[string]*common.CaseGraphState{}}
}

func (f *fakeSnapshotStore) LoadState(ctx context.Context, caseID string) (*common.CaseGraphState, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.states[caseID], nil
}

func (f *fakeSnapshotStore) SaveState(ctx context.Context, caseID string, state *common.CaseGraphState) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	f.states[caseID] = state
	return nil
}

// countingLocker fails the test when two lease holders overlap.
type countingLocker struct {
	t       *testing.T
	holders atomic.Int32
	keys    []string
	lock    sync.Mutex
}

func (l *countingLocker) WithLease(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if l.holders.Add(1) > 1 {
		l.t.Error("overlapping lease holders for one case")
	}
	defer l.holders.Add(-1)

	l.lock.Lock()
	l.keys = append(l.keys, key)
	l.lock.Unlock()

	return fn(ctx)
}

func newTestCoordinator(snapshots SnapshotStore, locker CaseLocker, client ai.CaseAIClient) (*Coordinator, *Store) {
	store := NewStore()
	orch := newTestOrchestrator(store, client, 1000)
	coord := NewCoordinator(NewCoordinatorParams{
		Store:     store,
		Orch:      orch,
		Snapshots: snapshots,
		Locker:    locker,
	})
	return coord, store
}

func TestCoordinatorPersistsAndRehydrates(t *testing.T) {
	snapshots := newFakeSnapshotStore()
	client := &mockAIClient{
		analysisReply: "noted",
		extractResponses: []extractResponse{
			{Entities: []CandidateEntity{{SurfaceText: "John Doe", Type: "Person"}}},
		},
	}
	coord, _ := newTestCoordinator(snapshots, nil, client)

	res, err := coord.Ingest(context.Background(), "case-1", "John Doe resurfaced.", nil)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !res.GraphUpdated {
		t.Error("expected a graph update")
	}
	if snapshots.saves != 1 {
		t.Errorf("saves = %d, want 1", snapshots.saves)
	}

	// a second process over the same snapshot store sees the entity
	other, _ := newTestCoordinator(snapshots, nil, &mockAIClient{})
	snap, err := other.Snapshot(context.Background(), "case-1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Nodes) != 1 || snap.Nodes[0].Label != "John Doe" {
		t.Errorf("rehydrated nodes = %+v, want John Doe", snap.Nodes)
	}
	if snap.Turn != 1 {
		t.Errorf("rehydrated turn = %d, want 1", snap.Turn)
	}
}

func TestCoordinatorClearPersistsEmptyState(t *testing.T) {
	snapshots := newFakeSnapshotStore()
	client := &mockAIClient{
		analysisReply: "noted",
		extractResponses: []extractResponse{
			{Entities: []CandidateEntity{{SurfaceText: "John Doe", Type: "Person"}}},
		},
	}
	coord, _ := newTestCoordinator(snapshots, nil, client)

	if _, err := coord.Ingest(context.Background(), "case-1", "John Doe resurfaced.", nil); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := coord.Clear(context.Background(), "case-1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	snap, err := coord.Snapshot(context.Background(), "case-1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Nodes) != 0 || snap.Turn != 0 {
		t.Errorf("graph not empty after clear: %d nodes, turn %d", len(snap.Nodes), snap.Turn)
	}

	// clearing twice is fine
	if err := coord.Clear(context.Background(), "case-1"); err != nil {
		t.Fatalf("second Clear: %v", err)
	}
}

func TestCoordinatorLoadFailureFailsTurn(t *testing.T) {
	snapshots := newFakeSnapshotStore()
	snapshots.loadErr = errors.New("connection refused")
	client := &mockAIClient{}
	coord, _ := newTestCoordinator(snapshots, nil, client)

	if _, err := coord.Ingest(context.Background(), "case-1", "John Doe resurfaced.", nil); err == nil {
		t.Fatal("expected error when state cannot be loaded")
	}
	if client.extractCalls != 0 {
		t.Error("extraction must not run when hydration fails")
	}
}

func TestCoordinatorPersistFailureIsRolledBackByRehydration(t *testing.T) {
	snapshots := newFakeSnapshotStore()
	snapshots.saveErr = errors.New("disk full")
	client := &mockAIClient{
		analysisReply: "noted",
		extractResponses: []extractResponse{
			{Entities: []CandidateEntity{{SurfaceText: "John Doe", Type: "Person"}}},
		},
	}
	coord, _ := newTestCoordinator(snapshots, nil, client)

	if _, err := coord.Ingest(context.Background(), "case-1", "John Doe resurfaced.", nil); err == nil {
		t.Fatal("expected error when state cannot be saved")
	}

	snapshots.saveErr = nil
	snap, err := coord.Snapshot(context.Background(), "case-1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Nodes) != 0 {
		t.Errorf("unpersisted turn leaked into view: %+v", snap.Nodes)
	}
}

func TestCoordinatorSerializesCaseWork(t *testing.T) {
	locker := &countingLocker{t: t}
	client := &mockAIClient{analysisReply: "noted"}
	coord, store := newTestCoordinator(nil, locker, client)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := coord.Ingest(context.Background(), "case-1", "Another sighting reported.", nil); err != nil {
				t.Errorf("Ingest: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := store.Turn("case-1"); got != 8 {
		t.Errorf("turn = %d, want 8 serialized turns", got)
	}
	if len(locker.keys) != 8 {
		t.Errorf("lease taken %d times, want 8", len(locker.keys))
	}
	for _, k := range locker.keys {
		if k != "case-1" {
			t.Errorf("lease key = %q, want case-1", k)
		}
	}
}

// gatedAIClient holds extraction calls whose prompt names blockOn until
// release is closed; every other prompt extracts its first word immediately.
type gatedAIClient struct {
	mockAIClient

	blockOn string
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedAIClient) GenerateCompletionWithFormat(ctx context.Context, name string, description string, prompt string, out any, opts ...ai.GenerateOption) error {
	if strings.Contains(prompt, g.blockOn) {
		g.once.Do(func() { close(g.started) })
		<-g.release
	}
	first := strings.Fields(prompt)[0]
	*(out.(*extractResponse)) = extractResponse{
		Entities: []CandidateEntity{{SurfaceText: first, Type: "Person"}},
	}
	return nil
}

// graphShape reduces a snapshot to an order- and ID-independent form so two
// runs can be compared despite freshly generated entity IDs.
func graphShape(snap common.GraphSnapshot) []string {
	shape := []string{}
	for _, n := range snap.Nodes {
		shape = append(shape, "node:"+n.Label+"/"+string(n.Type))
	}
	for _, e := range snap.Edges {
		shape = append(shape, "edge:"+e.Label)
	}
	sort.Strings(shape)
	return shape
}

func TestCoordinatorIngestsIndependentCasesConcurrently(t *testing.T) {
	client := &gatedAIClient{
		mockAIClient: mockAIClient{analysisReply: "noted"},
		blockOn:      "Adam",
		started:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	coord, store := newTestCoordinator(nil, nil, client)

	textA := "Adam was seen at the docks."
	textB := "Beth rented the warehouse."

	done := make(chan error, 1)
	go func() {
		_, err := coord.Ingest(context.Background(), "case-a", textA, nil)
		done <- err
	}()
	<-client.started

	// case A's extraction is in flight and its lock is held; case B must
	// still complete
	resB, err := coord.Ingest(context.Background(), "case-b", textB, nil)
	if err != nil {
		t.Fatalf("Ingest case-b: %v", err)
	}
	if resB.Turn != 1 {
		t.Errorf("case-b turn = %d, want 1", resB.Turn)
	}
	if store.Turn("case-a") != 0 {
		t.Error("case-a advanced before its extraction finished")
	}

	close(client.release)
	if err := <-done; err != nil {
		t.Fatalf("Ingest case-a: %v", err)
	}

	// each case ends up exactly as if it had run alone
	alone := func(caseID string, text string, label string) common.GraphSnapshot {
		c := &mockAIClient{
			analysisReply: "noted",
			extractResponses: []extractResponse{
				{Entities: []CandidateEntity{{SurfaceText: label, Type: "Person"}}},
			},
		}
		soloCoord, soloStore := newTestCoordinator(nil, nil, c)
		if _, err := soloCoord.Ingest(context.Background(), caseID, text, nil); err != nil {
			t.Fatalf("run-alone Ingest %s: %v", caseID, err)
		}
		return soloStore.Snapshot(caseID)
	}

	wantA := alone("case-a", textA, "Adam")
	wantB := alone("case-b", textB, "Beth")
	for _, tc := range []struct {
		caseID string
		want   common.GraphSnapshot
	}{
		{"case-a", wantA},
		{"case-b", wantB},
	} {
		got := store.Snapshot(tc.caseID)
		if got.Turn != tc.want.Turn {
			t.Errorf("%s turn = %d, want %d", tc.caseID, got.Turn, tc.want.Turn)
		}
		gotShape, wantShape := graphShape(got), graphShape(tc.want)
		if strings.Join(gotShape, ",") != strings.Join(wantShape, ",") {
			t.Errorf("%s graph = %v, want run-alone result %v", tc.caseID, gotShape, wantShape)
		}
	}
}
