package graph

import (
	"strings"

	"github.com/casetrail/backend/pkg/common"
)

// resolution is the outcome of matching one mention against the graph.
type resolution struct {
	entityID string
	matched  bool
	// fuzzy marks a partial-name match; the merge records the mention's
	// surface form as a new alias of the matched entity.
	fuzzy bool
}

// resolveMention matches a mention (surface text plus proposed type) against
// the existing entities of a case graph. Matching runs in two stages: an
// exact lookup over the normalized alias index, then a containment-based
// partial match restricted to fuzzy-matchable types. Both stages require
// type compatibility. Must be called with the Store lock held.
func resolveMention(g *caseGraph, surface string, proposed common.EntityType) resolution {
	norm := common.NormalizeSurface(surface)
	if norm == "" {
		return resolution{}
	}

	if id, ok := exactMatch(g, norm, proposed); ok {
		return resolution{entityID: id, matched: true}
	}
	if id, ok := fuzzyMatch(g, norm, proposed); ok {
		return resolution{entityID: id, matched: true, fuzzy: true}
	}
	return resolution{}
}

// exactMatch looks the normalized surface up in the alias index. When the
// same alias exists across multiple types (e.g. "paris" as both Person and
// Location) the type gate disambiguates; ties on type go to the most
// recently seen entity.
func exactMatch(g *caseGraph, norm string, proposed common.EntityType) (string, bool) {
	var best *common.Entity
	for _, id := range g.aliases[norm] {
		e, ok := g.entities[id]
		if !ok || !e.Type.Compatible(proposed) {
			continue
		}
		if best == nil || e.LastSeenTurn > best.LastSeenTurn {
			best = e
		}
	}
	if best == nil {
		return "", false
	}
	return best.ID, true
}

// fuzzyMatch looks for an entity of the same fuzzy-matchable type whose
// label or alias strictly contains, or is strictly contained in, the
// mention ("John" vs "John Doe"). Containment is token-prefix/suffix based
// on the normalized forms so "Rose" does not match "Primrose Hill". Ties go
// to the most recently seen entity.
func fuzzyMatch(g *caseGraph, norm string, proposed common.EntityType) (string, bool) {
	if !proposed.FuzzyMatchable() {
		return "", false
	}

	var best *common.Entity
	for _, e := range g.entities {
		if e.Type != proposed {
			continue
		}
		if !surfacesOverlap(g, e, norm) {
			continue
		}
		if best == nil || e.LastSeenTurn > best.LastSeenTurn {
			best = e
		}
	}
	if best == nil {
		return "", false
	}
	return best.ID, true
}

func surfacesOverlap(g *caseGraph, e *common.Entity, norm string) bool {
	if tokenContains(common.NormalizeSurface(e.Label), norm) {
		return true
	}
	for _, a := range e.Aliases {
		if tokenContains(a, norm) {
			return true
		}
	}
	return false
}

// tokenContains reports whether one normalized surface is a strict
// token-boundary substring or superstring of the other.
func tokenContains(a string, b string) bool {
	if a == b || a == "" || b == "" {
		return false
	}
	longer, shorter := a, b
	if len(shorter) > len(longer) {
		longer, shorter = shorter, longer
	}
	idx := strings.Index(longer, shorter)
	for idx >= 0 {
		startOK := idx == 0 || longer[idx-1] == ' '
		end := idx + len(shorter)
		endOK := end == len(longer) || longer[end] == ' '
		if startOK && endOK {
			return true
		}
		next := strings.Index(longer[idx+1:], shorter)
		if next < 0 {
			break
		}
		idx += 1 + next
	}
	return false
}
