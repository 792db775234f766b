package schema

import (
	"fmt"

	"cantus/internal/core/id"
)

// EntityRef names the unit of deletion: one record in one collection.
type EntityRef struct {
	Type string `json:"entityType"`
	ID   id.ID  `json:"entityId"`
}

// StudentRef builds a reference to a student record.
func StudentRef(studentID id.ID) EntityRef {
	return EntityRef{Type: Students, ID: studentID}
}

// Key returns the stable registry key for the reference.
func (r EntityRef) Key() string {
	return r.Type + ":" + r.ID.String()
}

func (r EntityRef) String() string {
	return r.Key()
}

// Record is a schemaless row of one collection. Foreign keys are stored as
// UUID strings inside Fields.
type Record struct {
	ID     id.ID          `json:"id"`
	Fields map[string]any `json:"fields"`
}

// NewRecord creates a record with a fresh time-ordered ID.
func NewRecord(fields map[string]any) Record {
	if fields == nil {
		fields = make(map[string]any)
	}
	return Record{ID: id.New(), Fields: fields}
}

// StringField returns the field value rendered as a string, or "" when the
// field is absent or nil.
func (r Record) StringField(field string) string {
	v, ok := r.Fields[field]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Ref parses the named field as an entity ID.
func (r Record) Ref(field string) (id.ID, bool) {
	switch v := r.Fields[field].(type) {
	case id.ID:
		return v, true
	case string:
		parsed, err := id.Parse(v)
		if err != nil {
			return id.Nil(), false
		}
		return parsed, true
	}
	return id.Nil(), false
}

// Clone returns a deep-enough copy for snapshotting: the Fields map is
// copied, values are shared (they are treated as immutable).
func (r Record) Clone() Record {
	fields := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return Record{ID: r.ID, Fields: fields}
}
