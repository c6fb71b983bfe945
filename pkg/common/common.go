package common

import "strings"

// EntityType classifies an entity within a case graph. The set is closed:
// the resolver's type gating and the visualization colors both key off it,
// so new kinds of entities must be added here, not invented ad hoc.
type EntityType string

const (
	EntityPerson       EntityType = "Person"
	EntityLocation     EntityType = "Location"
	EntityObject       EntityType = "Object"
	EntityEvent        EntityType = "Event"
	EntityOrganization EntityType = "Organization"
	EntityUnknown      EntityType = "Unknown"
)

// ParseEntityType maps a free-form type string from the extraction model
// onto the closed EntityType set. Unrecognized values become EntityUnknown.
func ParseEntityType(s string) EntityType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "person":
		return EntityPerson
	case "location":
		return EntityLocation
	case "object":
		return EntityObject
	case "event":
		return EntityEvent
	case "organization", "organisation":
		return EntityOrganization
	default:
		return EntityUnknown
	}
}

// Color returns the display color used by the graph view for this type.
func (t EntityType) Color() string {
	switch t {
	case EntityPerson:
		return "#ff4b4b"
	case EntityLocation:
		return "#4b4bff"
	case EntityObject:
		return "#4bff4b"
	case EntityEvent:
		return "#ffff4b"
	case EntityOrganization:
		return "#ff4bff"
	default:
		return "#808080"
	}
}

// FuzzyMatchable reports whether partial-name matching applies to this type.
// Only named subjects (people, organizations, locations) are safe to match
// on substring containment; objects and events share too much vocabulary.
func (t EntityType) FuzzyMatchable() bool {
	switch t {
	case EntityPerson, EntityOrganization, EntityLocation:
		return true
	default:
		return false
	}
}

// Compatible reports whether a mention proposing type `proposed` may resolve
// to an entity of type t. Unknown on either side is compatible with anything;
// an Unknown entity matched by a concretely typed mention gets reclassified
// during the merge.
func (t EntityType) Compatible(proposed EntityType) bool {
	return t == proposed || proposed == EntityUnknown || t == EntityUnknown
}

// Entity is a node in a case graph: a person, location, object, event or
// organization the investigation has surfaced. The label is the display
// name and may be refined as more complete mentions arrive; aliases hold
// every normalized surface form that has resolved to this entity.
type Entity struct {
	ID            string     `json:"id"`
	Label         string     `json:"label"`
	Type          EntityType `json:"type"`
	Aliases       []string   `json:"aliases"`
	FirstSeenTurn int        `json:"first_seen_turn"`
	LastSeenTurn  int        `json:"last_seen_turn"`
}

// HasAlias reports whether the normalized surface form is already recorded.
func (e *Entity) HasAlias(norm string) bool {
	for _, a := range e.Aliases {
		if a == norm {
			return true
		}
	}
	return false
}

// Relationship is a directed edge between two entities of the same case.
// Re-asserting the same (source, target, label) triple across turns
// strengthens the edge instead of duplicating it.
type Relationship struct {
	ID            string `json:"id"`
	SourceID      string `json:"source_id"`
	TargetID      string `json:"target_id"`
	Label         string `json:"label"`
	Occurrences   int    `json:"occurrences"`
	FirstSeenTurn int    `json:"first_seen_turn"`
	LastSeenTurn  int    `json:"last_seen_turn"`
}

// CaseGraphState is the full serializable state of one case's graph,
// including provenance counters. It round-trips through the snapshot
// table so a graph can be rebuilt in memory byte-for-byte.
type CaseGraphState struct {
	Turn          int            `json:"turn"`
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
}

// GraphNode is the read-only node shape exported to visualization callers.
type GraphNode struct {
	ID    string     `json:"id"`
	Label string     `json:"label"`
	Type  EntityType `json:"type"`
	Color string     `json:"color"`
}

// GraphEdge is the read-only edge shape exported to visualization callers.
type GraphEdge struct {
	Source      string `json:"source"`
	Target      string `json:"target"`
	Label       string `json:"label"`
	Occurrences int    `json:"occurrences"`
}

// GraphSnapshot is a point-in-time-consistent view of one case's graph.
type GraphSnapshot struct {
	CaseID string      `json:"case_id"`
	Turn   int         `json:"turn"`
	Nodes  []GraphNode `json:"nodes"`
	Edges  []GraphEdge `json:"edges"`
}

// NormalizeSurface canonicalizes a surface string for matching: lowercase,
// trimmed, inner whitespace collapsed to single spaces.
func NormalizeSurface(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// CleanLabel collapses whitespace but preserves the original casing, for
// use as a display label.
func CleanLabel(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
