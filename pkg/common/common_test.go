package common

import "testing"

func TestParseEntityType(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want EntityType
	}{
		{name: "exact", in: "Person", want: EntityPerson},
		{name: "lowercase", in: "location", want: EntityLocation},
		{name: "uppercase", in: "ORGANIZATION", want: EntityOrganization},
		{name: "british spelling", in: "Organisation", want: EntityOrganization},
		{name: "padded", in: "  Event ", want: EntityEvent},
		{name: "object", in: "object", want: EntityObject},
		{name: "unrecognized", in: "Vehicle", want: EntityUnknown},
		{name: "empty", in: "", want: EntityUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseEntityType(tt.in); got != tt.want {
				t.Errorf("ParseEntityType(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestCompatible(t *testing.T) {
	if !EntityPerson.Compatible(EntityPerson) {
		t.Error("same type should be compatible")
	}
	if !EntityLocation.Compatible(EntityUnknown) {
		t.Error("Unknown proposal should be compatible with any type")
	}
	if !EntityUnknown.Compatible(EntityPerson) {
		t.Error("concrete proposal should be compatible with an Unknown entity")
	}
	if EntityPerson.Compatible(EntityLocation) {
		t.Error("Person should not be compatible with a Location proposal")
	}
}

func TestFuzzyMatchable(t *testing.T) {
	for _, typ := range []EntityType{EntityPerson, EntityOrganization, EntityLocation} {
		if !typ.FuzzyMatchable() {
			t.Errorf("%v should be fuzzy matchable", typ)
		}
	}
	for _, typ := range []EntityType{EntityObject, EntityEvent, EntityUnknown} {
		if typ.FuzzyMatchable() {
			t.Errorf("%v should not be fuzzy matchable", typ)
		}
	}
}

func TestNormalizeSurface(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"John Doe", "john doe"},
		{"  John   Doe ", "john doe"},
		{"WAREHOUSE\t7", "warehouse 7"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeSurface(tt.in); got != tt.want {
			t.Errorf("NormalizeSurface(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestColorFallsBackForUnknown(t *testing.T) {
	if EntityUnknown.Color() != "#808080" {
		t.Errorf("unexpected fallback color %q", EntityUnknown.Color())
	}
	if EntityPerson.Color() == EntityLocation.Color() {
		t.Error("distinct types should have distinct colors")
	}
}
