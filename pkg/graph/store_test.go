package graph

import (
	"reflect"
	"testing"

	"github.com/casetrail/backend/pkg/common"
)

func TestSnapshotOfUnknownCaseIsEmpty(t *testing.T) {
	s := NewStore()

	snap := s.Snapshot("case-1")

	if snap.CaseID != "case-1" {
		t.Errorf("CaseID = %q, want %q", snap.CaseID, "case-1")
	}
	if snap.Turn != 0 {
		t.Errorf("Turn = %d, want 0", snap.Turn)
	}
	if len(snap.Nodes) != 0 || len(snap.Edges) != 0 {
		t.Errorf("expected empty graph, got %d nodes, %d edges", len(snap.Nodes), len(snap.Edges))
	}
}

func TestExportRestoreRoundTrip(t *testing.T) {
	s := NewStore()
	mustMerge(t, s, "case-1",
		[]CandidateEntity{
			{SurfaceText: "John Doe", Type: "Person"},
			{SurfaceText: "Warehouse 7", Type: "Location"},
		},
		[]CandidateRelationship{
			{SourceSurface: "John Doe", TargetSurface: "Warehouse 7", Label: "was seen at"},
		},
	)
	mustMerge(t, s, "case-1",
		[]CandidateEntity{{SurfaceText: "Mary", Type: "Person"}},
		[]CandidateRelationship{
			{SourceSurface: "Mary", TargetSurface: "John Doe", Label: "called"},
		},
	)

	exported := s.Export("case-1")

	restored := NewStore()
	restored.Restore("case-1", &exported)

	if got := restored.Export("case-1"); !reflect.DeepEqual(got, exported) {
		t.Errorf("round trip mismatch:\ngot  %+v\nwant %+v", got, exported)
	}
	if got := restored.Turn("case-1"); got != 2 {
		t.Errorf("Turn after restore = %d, want 2", got)
	}
}

func TestRestoreDropsDanglingRelationships(t *testing.T) {
	s := NewStore()
	state := common.CaseGraphState{
		Turn: 1,
		Entities: []common.Entity{
			{ID: "e1", Label: "John Doe", Type: common.EntityPerson, Aliases: []string{"john doe"}, FirstSeenTurn: 1, LastSeenTurn: 1},
		},
		Relationships: []common.Relationship{
			{ID: "r1", SourceID: "e1", TargetID: "missing", Label: "called", Occurrences: 1, FirstSeenTurn: 1, LastSeenTurn: 1},
			{ID: "r2", SourceID: "missing", TargetID: "e1", Label: "called", Occurrences: 1, FirstSeenTurn: 1, LastSeenTurn: 1},
		},
	}

	s.Restore("case-1", &state)

	snap := s.Snapshot("case-1")
	if len(snap.Nodes) != 1 {
		t.Fatalf("expected 1 node, got %d", len(snap.Nodes))
	}
	if len(snap.Edges) != 0 {
		t.Errorf("expected dangling edges to be dropped, got %d", len(snap.Edges))
	}
}

func TestResetIsIdempotent(t *testing.T) {
	s := NewStore()
	mustMerge(t, s, "case-1",
		[]CandidateEntity{{SurfaceText: "John Doe", Type: "Person"}}, nil)

	s.Reset("case-1")
	s.Reset("case-1")
	s.Reset("never-touched")

	for _, caseID := range []string{"case-1", "never-touched"} {
		snap := s.Snapshot(caseID)
		if snap.Turn != 0 || len(snap.Nodes) != 0 {
			t.Errorf("case %q not empty after reset: turn %d, %d nodes", caseID, snap.Turn, len(snap.Nodes))
		}
	}
}

func TestRemoveDropsCase(t *testing.T) {
	s := NewStore()
	mustMerge(t, s, "case-1",
		[]CandidateEntity{{SurfaceText: "John Doe", Type: "Person"}}, nil)

	s.Remove("case-1")

	if got := s.Turn("case-1"); got != 0 {
		t.Errorf("Turn after remove = %d, want 0", got)
	}
}

func TestEntityLabelsSorted(t *testing.T) {
	s := NewStore()
	mustMerge(t, s, "case-1",
		[]CandidateEntity{
			{SurfaceText: "Warehouse 7", Type: "Location"},
			{SurfaceText: "alpha storage", Type: "Organization"},
			{SurfaceText: "Mary", Type: "Person"},
		}, nil)

	want := []string{"alpha storage", "Mary", "Warehouse 7"}
	if got := s.EntityLabels("case-1"); !reflect.DeepEqual(got, want) {
		t.Errorf("EntityLabels = %v, want %v", got, want)
	}
	if got := s.EntityLabels("empty-case"); got != nil {
		t.Errorf("EntityLabels for untouched case = %v, want nil", got)
	}
}

func mustMerge(t *testing.T, s *Store, caseID string, ents []CandidateEntity, rels []CandidateRelationship) *Diff {
	t.Helper()
	diff, err := s.MergeTurn(caseID, ents, rels)
	if err != nil {
		t.Fatalf("MergeTurn: %v", err)
	}
	return diff
}
