package schema

import (
	"context"

	"cantus/internal/core/id"
)

// Store abstracts persistence for schema collections. The engine only ever
// needs these primitives; anything richer (search, list views) lives outside
// the core and goes through its own read path.
//
// Implementations: Postgres (production) and in-memory (tests, dev mode).
type Store interface {
	// Get returns the record, or an apperror NOT_FOUND.
	Get(ctx context.Context, collection string, recID id.ID) (Record, error)

	// Exists reports record presence without loading it.
	Exists(ctx context.Context, collection string, recID id.ID) (bool, error)

	// FindByField returns all records whose field equals the given UUID
	// string value.
	FindByField(ctx context.Context, collection, field, value string) ([]Record, error)

	// ListAll returns every record of a collection. Used by the orphan
	// scanner and the integrity validator.
	ListAll(ctx context.Context, collection string) ([]Record, error)

	// Count returns the number of records in a collection.
	Count(ctx context.Context, collection string) (int, error)

	// Insert writes records. Inserting an ID that already exists is an error.
	Insert(ctx context.Context, collection string, recs []Record) error

	// DeleteByIDs removes the given records, returning how many existed.
	DeleteByIDs(ctx context.Context, collection string, ids []id.ID) (int, error)

	// SetField updates one field of one record; nil clears it.
	SetField(ctx context.Context, collection string, recID id.ID, field string, value any) error
}
