package graph

import (
	"fmt"
	"strings"

	"github.com/casetrail/backend/pkg/common"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// CandidateEntity is one entity mention proposed by the extraction model,
// before resolution against the case graph.
type CandidateEntity struct {
	SurfaceText string `json:"surface_text"`
	Type        string `json:"type"`
}

// CandidateRelationship is one relationship proposed by the extraction
// model. Endpoints are surface forms and get resolved against the mentions
// of the same turn first, then against the pre-turn graph.
type CandidateRelationship struct {
	SourceSurface string `json:"source_surface"`
	TargetSurface string `json:"target_surface"`
	Label         string `json:"label"`
}

// Diff records what one merged turn changed in a case graph. Entities and
// relationships appear at most once per slice regardless of how often the
// turn mentioned them.
type Diff struct {
	AddedEntities             []common.Entity       `json:"added_entities"`
	UpdatedEntities           []common.Entity       `json:"updated_entities"`
	AddedRelationships        []common.Relationship `json:"added_relationships"`
	StrengthenedRelationships []common.Relationship `json:"strengthened_relationships"`
	DroppedRelationships      int                   `json:"dropped_relationships"`
	Warnings                  []string              `json:"warnings,omitempty"`
}

// Empty reports whether the turn changed nothing in the graph. Dropped
// candidates and warnings alone do not count as a change.
func (d *Diff) Empty() bool {
	return len(d.AddedEntities) == 0 &&
		len(d.UpdatedEntities) == 0 &&
		len(d.AddedRelationships) == 0 &&
		len(d.StrengthenedRelationships) == 0
}

// Summary renders the diff as one plain sentence, used when the analysis
// model is unavailable and for log lines.
func (d *Diff) Summary() string {
	if d.Empty() {
		return "No new information was added to the case graph."
	}

	parts := []string{}
	if n := len(d.AddedEntities); n > 0 {
		labels := make([]string, 0, n)
		for _, e := range d.AddedEntities {
			labels = append(labels, e.Label)
		}
		parts = append(parts, fmt.Sprintf("%d new %s (%s)", n, plural(n, "entity", "entities"), strings.Join(labels, ", ")))
	}
	if n := len(d.UpdatedEntities); n > 0 {
		parts = append(parts, fmt.Sprintf("%d updated %s", n, plural(n, "entity", "entities")))
	}
	if n := len(d.AddedRelationships); n > 0 {
		parts = append(parts, fmt.Sprintf("%d new %s", n, plural(n, "relationship", "relationships")))
	}
	if n := len(d.StrengthenedRelationships); n > 0 {
		parts = append(parts, fmt.Sprintf("%d strengthened %s", n, plural(n, "relationship", "relationships")))
	}
	summary := "Case graph updated: " + strings.Join(parts, ", ") + "."
	if d.DroppedRelationships > 0 {
		summary += fmt.Sprintf(" %d %s could not be resolved and %s dropped.",
			d.DroppedRelationships,
			plural(d.DroppedRelationships, "relationship", "relationships"),
			plural(d.DroppedRelationships, "was", "were"))
	}
	return summary
}

func plural(n int, one string, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// MergeTurn folds one turn's extraction output into a case graph as a
// single atomic step: either the whole candidate batch lands (advancing the
// turn counter) or, on error, the graph is untouched. Readers never observe
// a partially applied turn.
//
// IDs for the worst case of the batch are generated before the store lock
// is taken so the apply phase cannot fail halfway through.
func (s *Store) MergeTurn(
	caseID string,
	entities []CandidateEntity,
	relationships []CandidateRelationship,
) (*Diff, error) {
	idPool := make([]string, 0, len(entities)+len(relationships))
	for range len(entities) + len(relationships) {
		id, err := gonanoid.New()
		if err != nil {
			return nil, fmt.Errorf("generating ids for merge: %w", err)
		}
		idPool = append(idPool, id)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	g := s.graphLocked(caseID)
	return applyTurn(g, entities, relationships, idPool), nil
}

// applyTurn performs the in-place merge. It only operates on pre-validated
// inputs and pre-generated IDs, so it cannot fail. Must be called with the
// Store lock held.
func applyTurn(
	g *caseGraph,
	entities []CandidateEntity,
	relationships []CandidateRelationship,
	idPool []string,
) *Diff {
	turn := g.turn + 1
	diff := &Diff{}

	nextID := func() string {
		id := idPool[0]
		idPool = idPool[1:]
		return id
	}

	// mentions dedupes repeated (surface, type) mentions within the turn;
	// endpointHints lets relationship endpoints, which carry no type, reuse
	// the turn's resolutions by surface alone.
	mentions := map[string]string{}
	endpointHints := map[string]string{}
	added := map[string]bool{}
	updated := map[string]bool{}
	addedOrder := []string{}
	updatedOrder := []string{}

	markUpdated := func(id string) {
		if added[id] || updated[id] {
			return
		}
		updated[id] = true
		updatedOrder = append(updatedOrder, id)
	}

	for _, cand := range entities {
		surface := common.CleanLabel(cand.SurfaceText)
		if surface == "" {
			diff.Warnings = append(diff.Warnings, "entity candidate without surface text")
			continue
		}
		norm := common.NormalizeSurface(surface)
		proposed := common.ParseEntityType(cand.Type)
		mentionKey := norm + "\x00" + string(proposed)

		if id, ok := mentions[mentionKey]; ok {
			g.entities[id].LastSeenTurn = turn
			continue
		}

		res := resolveMention(g, surface, proposed)
		if !res.matched {
			e := &common.Entity{
				ID:            nextID(),
				Label:         surface,
				Type:          proposed,
				Aliases:       []string{norm},
				FirstSeenTurn: turn,
				LastSeenTurn:  turn,
			}
			g.entities[e.ID] = e
			g.indexAlias(norm, e.ID)
			added[e.ID] = true
			addedOrder = append(addedOrder, e.ID)
			mentions[mentionKey] = e.ID
			if _, ok := endpointHints[norm]; !ok {
				endpointHints[norm] = e.ID
			}
			continue
		}

		e := g.entities[res.entityID]
		e.LastSeenTurn = turn
		if res.fuzzy && !e.HasAlias(norm) {
			e.Aliases = append(e.Aliases, norm)
			g.indexAlias(norm, e.ID)
		}
		// a longer surface form supersedes the stored label ("John" becomes
		// "John Doe" once the full name appears)
		if len(norm) > len(common.NormalizeSurface(e.Label)) {
			e.Label = surface
		}
		if e.Type == common.EntityUnknown && proposed != common.EntityUnknown {
			e.Type = proposed
		}
		markUpdated(e.ID)
		mentions[mentionKey] = e.ID
		if _, ok := endpointHints[norm]; !ok {
			endpointHints[norm] = e.ID
		}
	}

	resolveEndpoint := func(surface string) (string, bool) {
		norm := common.NormalizeSurface(surface)
		if norm == "" {
			return "", false
		}
		if id, ok := endpointHints[norm]; ok {
			return id, true
		}
		res := resolveMention(g, surface, common.EntityUnknown)
		if !res.matched {
			return "", false
		}
		return res.entityID, true
	}

	addedRels := map[string]bool{}
	strengthenedRels := map[string]bool{}
	addedRelOrder := []string{}
	strengthenedRelOrder := []string{}

	for _, cand := range relationships {
		label := common.CleanLabel(cand.Label)
		if label == "" {
			diff.Warnings = append(diff.Warnings, "relationship candidate without label")
			continue
		}
		sourceID, ok := resolveEndpoint(cand.SourceSurface)
		if !ok {
			diff.DroppedRelationships++
			continue
		}
		targetID, ok := resolveEndpoint(cand.TargetSurface)
		if !ok {
			diff.DroppedRelationships++
			continue
		}

		key := relKey(sourceID, targetID, label)
		if r, ok := g.relationships[key]; ok {
			r.Occurrences++
			r.LastSeenTurn = turn
			if !addedRels[key] && !strengthenedRels[key] {
				strengthenedRels[key] = true
				strengthenedRelOrder = append(strengthenedRelOrder, key)
			}
			continue
		}

		r := &common.Relationship{
			ID:            nextID(),
			SourceID:      sourceID,
			TargetID:      targetID,
			Label:         label,
			Occurrences:   1,
			FirstSeenTurn: turn,
			LastSeenTurn:  turn,
		}
		g.relationships[key] = r
		addedRels[key] = true
		addedRelOrder = append(addedRelOrder, key)
	}

	for _, id := range addedOrder {
		diff.AddedEntities = append(diff.AddedEntities, *g.entities[id])
	}
	for _, id := range updatedOrder {
		diff.UpdatedEntities = append(diff.UpdatedEntities, *g.entities[id])
	}
	for _, key := range addedRelOrder {
		diff.AddedRelationships = append(diff.AddedRelationships, *g.relationships[key])
	}
	for _, key := range strengthenedRelOrder {
		diff.StrengthenedRelationships = append(diff.StrengthenedRelationships, *g.relationships[key])
	}

	g.turn = turn
	return diff
}
