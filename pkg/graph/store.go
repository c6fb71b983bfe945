package graph

import (
	"sort"
	"strings"
	"sync"

	"github.com/casetrail/backend/pkg/common"
	"github.com/casetrail/backend/pkg/logger"
)

// caseGraph is the in-memory working state of one case. All access goes
// through the Store's lock.
type caseGraph struct {
	turn          int
	entities      map[string]*common.Entity
	relationships map[string]*common.Relationship
	// aliases maps a normalized surface form to the IDs of every entity
	// carrying it. Multiple IDs per alias only occur across distinct types.
	aliases map[string][]string
}

func newCaseGraph() *caseGraph {
	return &caseGraph{
		entities:      map[string]*common.Entity{},
		relationships: map[string]*common.Relationship{},
		aliases:       map[string][]string{},
	}
}

// relKey identifies a relationship by its deduplication triple. The label is
// compared in normalized form so "Witnessed" and "witnessed " strengthen the
// same edge.
func relKey(sourceID string, targetID string, label string) string {
	return sourceID + "\x00" + targetID + "\x00" + common.NormalizeSurface(label)
}

func (g *caseGraph) indexAlias(norm string, entityID string) {
	for _, id := range g.aliases[norm] {
		if id == entityID {
			return
		}
	}
	g.aliases[norm] = append(g.aliases[norm], entityID)
}

// Store holds the case graphs of every case this process currently works on.
// It is safe for concurrent use; a graph is created empty on first access.
type Store struct {
	lock  sync.RWMutex
	cases map[string]*caseGraph
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		cases: map[string]*caseGraph{},
	}
}

func (s *Store) graphLocked(caseID string) *caseGraph {
	g, ok := s.cases[caseID]
	if !ok {
		g = newCaseGraph()
		s.cases[caseID] = g
	}
	return g
}

// Snapshot returns a point-in-time-consistent view of one case's graph,
// shaped for visualization. Nodes and edges are ordered by first appearance.
func (s *Store) Snapshot(caseID string) common.GraphSnapshot {
	s.lock.Lock()
	defer s.lock.Unlock()

	g := s.graphLocked(caseID)

	nodes := make([]common.GraphNode, 0, len(g.entities))
	for _, e := range g.entities {
		nodes = append(nodes, common.GraphNode{
			ID:    e.ID,
			Label: e.Label,
			Type:  e.Type,
			Color: e.Type.Color(),
		})
	}
	edges := make([]common.GraphEdge, 0, len(g.relationships))
	for _, r := range g.relationships {
		edges = append(edges, common.GraphEdge{
			Source:      r.SourceID,
			Target:      r.TargetID,
			Label:       r.Label,
			Occurrences: r.Occurrences,
		})
	}

	order := entityOrder(g)
	sort.Slice(nodes, func(i, j int) bool {
		a, b := order[nodes[i].ID], order[nodes[j].ID]
		if a.turn != b.turn {
			return a.turn < b.turn
		}
		return nodes[i].Label < nodes[j].Label
	})
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		if edges[i].Target != edges[j].Target {
			return edges[i].Target < edges[j].Target
		}
		return edges[i].Label < edges[j].Label
	})

	return common.GraphSnapshot{
		CaseID: caseID,
		Turn:   g.turn,
		Nodes:  nodes,
		Edges:  edges,
	}
}

type entityOrderKey struct {
	turn int
}

func entityOrder(g *caseGraph) map[string]entityOrderKey {
	order := make(map[string]entityOrderKey, len(g.entities))
	for id, e := range g.entities {
		order[id] = entityOrderKey{turn: e.FirstSeenTurn}
	}
	return order
}

// Export returns the full serializable state of one case's graph, including
// provenance counters, for persistence.
func (s *Store) Export(caseID string) common.CaseGraphState {
	s.lock.Lock()
	defer s.lock.Unlock()

	g := s.graphLocked(caseID)

	state := common.CaseGraphState{
		Turn:          g.turn,
		Entities:      make([]common.Entity, 0, len(g.entities)),
		Relationships: make([]common.Relationship, 0, len(g.relationships)),
	}
	for _, e := range g.entities {
		state.Entities = append(state.Entities, *e)
	}
	for _, r := range g.relationships {
		state.Relationships = append(state.Relationships, *r)
	}

	sort.Slice(state.Entities, func(i, j int) bool {
		a, b := state.Entities[i], state.Entities[j]
		if a.FirstSeenTurn != b.FirstSeenTurn {
			return a.FirstSeenTurn < b.FirstSeenTurn
		}
		return a.ID < b.ID
	})
	sort.Slice(state.Relationships, func(i, j int) bool {
		a, b := state.Relationships[i], state.Relationships[j]
		if a.FirstSeenTurn != b.FirstSeenTurn {
			return a.FirstSeenTurn < b.FirstSeenTurn
		}
		return a.ID < b.ID
	})

	return state
}

// Restore replaces one case's in-memory graph with a previously exported
// state. Relationships referencing entities missing from the state are
// dropped with a warning rather than poisoning the rebuilt graph.
func (s *Store) Restore(caseID string, state *common.CaseGraphState) {
	g := newCaseGraph()
	g.turn = state.Turn

	for i := range state.Entities {
		e := state.Entities[i]
		if e.ID == "" {
			continue
		}
		if len(e.Aliases) == 0 {
			e.Aliases = []string{common.NormalizeSurface(e.Label)}
		}
		stored := e
		g.entities[stored.ID] = &stored
		for _, a := range stored.Aliases {
			g.indexAlias(a, stored.ID)
		}
	}
	for i := range state.Relationships {
		r := state.Relationships[i]
		if _, ok := g.entities[r.SourceID]; !ok {
			logger.Warn("[GraphStore] Dropping relationship with missing source", "case_id", caseID, "relationship_id", r.ID)
			continue
		}
		if _, ok := g.entities[r.TargetID]; !ok {
			logger.Warn("[GraphStore] Dropping relationship with missing target", "case_id", caseID, "relationship_id", r.ID)
			continue
		}
		stored := r
		g.relationships[relKey(stored.SourceID, stored.TargetID, stored.Label)] = &stored
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	s.cases[caseID] = g
}

// Reset replaces one case's graph with an empty one. Resetting a case that
// was never touched is a no-op that leaves it empty either way.
func (s *Store) Reset(caseID string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.cases[caseID] = newCaseGraph()
}

// Remove drops one case's graph from memory entirely, for case deletion.
func (s *Store) Remove(caseID string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.cases, caseID)
}

// Turn returns the number of successfully merged turns for a case.
func (s *Store) Turn(caseID string) int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if g, ok := s.cases[caseID]; ok {
		return g.turn
	}
	return 0
}

// EntityLabels returns the canonical labels of every entity in a case,
// sorted case-insensitively. Used as extraction hints so the model reuses
// known names.
func (s *Store) EntityLabels(caseID string) []string {
	s.lock.RLock()
	defer s.lock.RUnlock()

	g, ok := s.cases[caseID]
	if !ok {
		return nil
	}
	labels := make([]string, 0, len(g.entities))
	for _, e := range g.entities {
		labels = append(labels, e.Label)
	}
	sort.Slice(labels, func(i, j int) bool {
		return strings.ToLower(labels[i]) < strings.ToLower(labels[j])
	})
	return labels
}
