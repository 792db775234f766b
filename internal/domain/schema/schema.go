// Package schema defines the fixed, known relationship schema the engine
// operates over. This is deliberately not a general graph database: the set
// of collections and the references between them are compiled in, and the
// cascade order is derived from them once.
package schema

import "sort"

// Collection names.
const (
	Students   = "students"
	Lessons    = "lessons"
	Attendance = "attendance"
	Orchestras = "orchestras"
	Documents  = "documents"
	Payments   = "payments"
	Notes      = "notes"
)

// Relation describes one foreign-key reference between collections.
type Relation struct {
	// Collection holds the dependent records
	Collection string

	// Field is the foreign-key field on the dependent record
	Field string

	// Owner is the collection the field points into
	Owner string

	// Depth is the distance from the root entity. Deletion runs
	// deepest-first so no batch ever strands a dependent.
	Depth int

	// HardField/HardValue mark records as hard dependents when the named
	// field carries the given value (e.g. a scheduled lesson). Records of
	// a relation without HardField are always soft.
	HardField string
	HardValue string
}

// IsHard reports whether rec is a hard dependent under this relation.
func (rel Relation) IsHard(rec Record) bool {
	if rel.HardField == "" {
		return false
	}
	return rec.StringField(rel.HardField) == rel.HardValue
}

// Schema is the full relationship graph rooted at one entity collection.
type Schema struct {
	root      string
	relations []Relation
}

// Default returns the production schema: a student with lessons (and their
// attendance), orchestra memberships, documents, payments and notes.
func Default() *Schema {
	return &Schema{
		root: Students,
		relations: []Relation{
			{Collection: Attendance, Field: "lesson_id", Owner: Lessons, Depth: 2},
			{Collection: Lessons, Field: "student_id", Owner: Students, Depth: 1,
				HardField: "status", HardValue: "scheduled"},
			{Collection: Orchestras, Field: "student_id", Owner: Students, Depth: 1},
			{Collection: Documents, Field: "student_id", Owner: Students, Depth: 1},
			{Collection: Payments, Field: "student_id", Owner: Students, Depth: 1},
			{Collection: Notes, Field: "student_id", Owner: Students, Depth: 1},
		},
	}
}

// Root returns the root entity collection.
func (s *Schema) Root() string {
	return s.root
}

// Relations returns all relations of the schema.
func (s *Schema) Relations() []Relation {
	out := make([]Relation, len(s.relations))
	copy(out, s.relations)
	return out
}

// RelationsOf returns the relations whose owner is the given collection.
func (s *Schema) RelationsOf(owner string) []Relation {
	var out []Relation
	for _, rel := range s.relations {
		if rel.Owner == owner {
			out = append(out, rel)
		}
	}
	return out
}

// DeletionOrder returns relations sorted deepest-first. The order is stable
// so progress steps are reproducible across runs.
func (s *Schema) DeletionOrder() []Relation {
	out := s.Relations()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Depth > out[j].Depth
	})
	return out
}

// Collections returns every collection the schema knows about,
// root first, dependents in declaration order.
func (s *Schema) Collections() []string {
	out := []string{s.root}
	seen := map[string]bool{s.root: true}
	for _, rel := range s.relations {
		if !seen[rel.Collection] {
			out = append(out, rel.Collection)
			seen[rel.Collection] = true
		}
	}
	return out
}

// HasCollection reports whether name is part of the schema.
func (s *Schema) HasCollection(name string) bool {
	for _, c := range s.Collections() {
		if c == name {
			return true
		}
	}
	return false
}
