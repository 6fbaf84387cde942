// Package docstore defines the interface to the authoritative remote document
// store: per-document reads, filtered collection queries, atomic multi-document
// commits and snapshot subscriptions. Adapters live in subpackages; everything
// above this package talks to the Store interface only.
package docstore

import (
	"context"
	"errors"
)

var (
	ErrNotFound      = errors.New("document does not exist")
	ErrEmptyCommit   = errors.New("commit contains no writes")
	ErrBadTransform  = errors.New("transform targets a non-set field")
	ErrStoreClosed   = errors.New("store is closed")
	ErrBadFilterOp   = errors.New("unsupported filter operator")
	ErrVersionClash  = errors.New("document version changed during commit")
	ErrTooManyWrites = errors.New("commit exceeds write limit")
)

// MaxCommitWrites bounds the number of documents a single commit may touch.
const MaxCommitWrites = 500

// Path locates a document inside a collection. Subcollections are flattened
// into the collection name, e.g. "chats/abc/messages".
type Path struct {
	Collection string
	ID         string
}

func (p Path) String() string {
	return p.Collection + "/" + p.ID
}

// Document is a snapshot of one stored document. Version increases on every
// committed write and backs optimistic concurrency in adapters.
type Document struct {
	Path    Path
	Fields  map[string]interface{}
	Version int64
}

// Op selects how a Write applies its fields.
type Op int

const (
	// OpSet replaces the whole document.
	OpSet Op = iota
	// OpMerge upserts only the listed fields, leaving others intact.
	OpMerge
	// OpDelete removes the document.
	OpDelete
)

// TransformKind selects a set-valued field transform.
type TransformKind int

const (
	// TransformUnion adds elements to a set field, skipping ones already present.
	TransformUnion TransformKind = iota
	// TransformRemove removes elements from a set field; absent elements are ignored.
	TransformRemove
)

// Transform mutates a set-valued field atomically inside a commit, without
// reading and rewriting the rest of the document. Field may address a map key
// with a dotted path ("reactions.🔥"). Union on a missing field creates it;
// Remove on a missing field is a no-op; removing the last element deletes the
// key so empty sets never linger.
type Transform struct {
	Field string
	Kind  TransformKind
	Elems []string
}

// Write is one document mutation inside a commit. Transforms are applied after
// Fields on the same document.
type Write struct {
	Path       Path
	Op         Op
	Fields     map[string]interface{}
	Transforms []Transform
}

// FilterOp is a query comparison operator.
type FilterOp string

const (
	FilterEq       FilterOp = "=="
	FilterContains FilterOp = "array-contains"
)

// Filter narrows a Query to documents whose field matches the value.
type Filter struct {
	Field string
	Op    FilterOp
	Value interface{}
}

// Event is delivered to subscribers whenever a committed write changes a
// document in the subscribed collection.
type Event struct {
	Path    Path
	Fields  map[string]interface{}
	Version int64
	Deleted bool
}

// Store is the remote document store boundary. Commit is atomic: either every
// write in the batch is applied or none is. Independent commits from different
// callers are not ordered relative to each other; transforms are the only
// cross-commit merge primitive.
type Store interface {
	Get(ctx context.Context, path Path) (Document, error)
	Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error)
	Commit(ctx context.Context, writes []Write) error
	Subscribe(ctx context.Context, collection string, fn func(Event)) (func(), error)
	Close()
}

// Union is shorthand for a set-union transform.
func Union(field string, elems ...string) Transform {
	return Transform{Field: field, Kind: TransformUnion, Elems: elems}
}

// Remove is shorthand for a set-removal transform.
func Remove(field string, elems ...string) Transform {
	return Transform{Field: field, Kind: TransformRemove, Elems: elems}
}
