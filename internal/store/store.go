// Package store provides namespaced document collections backed by an
// embedded Badger database. Each (package, record kind) pair maps to one
// logical collection; collections are created lazily on first insert and are
// discoverable by name.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no document matches a lookup.
var ErrNotFound = errors.New("store: document not found")

// Op is a filter comparison operator.
type Op int

const (
	// OpEq matches documents whose field equals the value.
	OpEq Op = iota
	// OpLt matches documents whose field is strictly less than the value.
	OpLt
	// OpGte matches documents whose field is greater than or equal to the value.
	OpGte
	// OpMissing matches documents where the field is absent or null.
	OpMissing
	// OpExists matches documents where the field is present and non-null.
	OpExists
)

// Cond is a single field condition.
type Cond struct {
	Field string
	Op    Op
	Value any
}

// Filter is a conjunction of conditions. An empty filter matches everything.
type Filter []Cond

// Eq matches field == value.
func Eq(field string, value any) Cond { return Cond{Field: field, Op: OpEq, Value: value} }

// Lt matches field < value.
func Lt(field string, value any) Cond { return Cond{Field: field, Op: OpLt, Value: value} }

// Gte matches field >= value.
func Gte(field string, value any) Cond { return Cond{Field: field, Op: OpGte, Value: value} }

// Missing matches documents without the field (or with it set to null).
func Missing(field string) Cond { return Cond{Field: field, Op: OpMissing} }

// Exists matches documents carrying a non-null value for the field.
func Exists(field string) Cond { return Cond{Field: field, Op: OpExists} }

// FindOptions controls ordering and result size for Find.
type FindOptions struct {
	SortField string
	Desc      bool
	Limit     int
}

// Mutation describes an atomic in-place document update. Set, Inc and Push
// are applied in that order; Transform, when non-nil, runs last against the
// decoded document and may rewrite any field.
type Mutation struct {
	Set       map[string]any
	Inc       map[string]int64
	Push      map[string]any
	Transform func(doc map[string]any) error
}

// Collection is one logical namespace of documents.
type Collection interface {
	// Name returns the collection name ("<package>_<kind>").
	Name() string
	// Insert appends a new document. The document must carry a non-empty
	// string "id" field once serialized.
	Insert(ctx context.Context, doc any) error
	// FindOne decodes the first document matching the filter into out.
	// Returns ErrNotFound when nothing matches.
	FindOne(ctx context.Context, f Filter, out any) error
	// Find decodes all matching documents into out, which must be a pointer
	// to a slice.
	Find(ctx context.Context, f Filter, opts FindOptions, out any) error
	// UpdateOne applies the mutation to the first matching document inside a
	// single transaction. Reports whether a document was updated.
	UpdateOne(ctx context.Context, f Filter, m Mutation) (bool, error)
	// Upsert applies the mutation to the first matching document, or inserts
	// doc when nothing matches, all inside a single transaction. Reports
	// whether the document was created.
	Upsert(ctx context.Context, f Filter, doc any, m Mutation) (bool, error)
	// Count returns the number of matching documents.
	Count(ctx context.Context, f Filter) (int64, error)
}

// Store is the top-level handle injected into every component.
type Store interface {
	// Collection returns the namespace for a package and record kind.
	Collection(pkg, kind string) Collection
	// CollectionNames lists every collection that has received at least one
	// insert.
	CollectionNames(ctx context.Context) ([]string, error)
	// Ping reports whether the store is usable.
	Ping(ctx context.Context) error
	// Close releases the underlying database.
	Close() error
}

// CollectionName builds the canonical namespace name for a package and kind.
func CollectionName(pkg, kind string) string { return pkg + "_" + kind }

// TimeLayout is the canonical encoding for instants written into documents by
// Transform mutations. It matches what encoding/json produces for time.Time.
const TimeLayout = time.RFC3339Nano

// TimeField reads a document field as an instant.
func TimeField(doc map[string]any, field string) (time.Time, bool) {
	return asTime(doc[field])
}

// asTime coerces a document or filter value into a time.Time when possible.
func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}
