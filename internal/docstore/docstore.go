// Package docstore adapts a document database to the narrow surface the
// rest of the system needs: path-addressed documents, filtered collection
// queries, chunked batch writes and optimistic read-modify-write
// transactions. No cross-collection joins, no server-side aggregation.
package docstore

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("docstore: document not found")

	// ErrIndexMissing means the store cannot serve an ordered/filtered query
	// without a composite index. Callers are expected to degrade: drop the
	// order clause and sort client-side.
	ErrIndexMissing = errors.New("docstore: composite index missing")
)

// MaxBatchOps is the per-commit operation ceiling. Batches larger than this
// are committed in chunks.
const MaxBatchOps = 400

// Fields is one document's field map. Nested maps model sub-objects.
type Fields = map[string]any

// Doc is a read snapshot of one document.
type Doc struct {
	Path       string
	Fields     Fields
	UpdateTime time.Time
}

func (d Doc) ID() string { return PathID(d.Path) }

// Exists reports whether the document was present at read time.
func (d Doc) Exists() bool { return d.Fields != nil }

// ServerTimestamp is a write sentinel resolved to the store's clock at
// commit time.
var ServerTimestamp = serverTimestamp{}

type serverTimestamp struct{}

// Increment returns a write sentinel that atomically adds n to a numeric
// field (missing fields count as 0).
func Increment(n float64) any { return incrementValue{n} }

type incrementValue struct{ n float64 }

// Delete sentinel removes a field on merge-set/update.
var DeleteField = deleteField{}

type deleteField struct{}

// Filter ops mirror the store's query operators.
const (
	OpEqual            = "=="
	OpIn               = "in"
	OpArrayContains    = "array-contains"
	OpArrayContainsAny = "array-contains-any"
)

// MaxInValues is the store's ceiling on "in" / "array-contains-any" value
// sets. Callers chunk larger sets.
const MaxInValues = 10

type Filter struct {
	Field string
	Op    string
	Value any
}

// Query addresses either one collection (Path = "users/u1/attempts") or a
// collection group (Group = true, Path = subcollection name).
type Query struct {
	Path    string
	Group   bool
	Filters []Filter
	OrderBy string
	Desc    bool
	Limit   int
}

func (q Query) Where(field, op string, value any) Query {
	q.Filters = append(q.Filters, Filter{Field: field, Op: op, Value: value})
	return q
}

func (q Query) Order(field string, desc bool) Query {
	q.OrderBy = field
	q.Desc = desc
	return q
}

func (q Query) Take(n int) Query {
	q.Limit = n
	return q
}

// Reader is the read surface shared by Store and Tx.
type Reader interface {
	Get(ctx context.Context, path string) (Doc, error)
	Query(ctx context.Context, q Query) ([]Doc, error)
}

// Writer is the write surface shared by Store, Tx and Batch.
type Writer interface {
	// Set creates or replaces a document. With merge, provided fields are
	// merged over the existing ones instead.
	Set(ctx context.Context, path string, fields Fields, merge bool) error
	// Update patches fields of an existing document; ErrNotFound if absent.
	// Dotted field paths address nested maps.
	Update(ctx context.Context, path string, fields Fields) error
	Delete(ctx context.Context, path string) error
}

// Tx is the view inside RunTransaction. Reads are consistent with the
// transaction; writes are buffered until commit.
type Tx interface {
	Reader
	Writer
}

// Batch accumulates writes and commits them in chunks of MaxBatchOps.
// Not transactional across chunks.
type Batch interface {
	Set(path string, fields Fields, merge bool)
	Update(path string, fields Fields)
	Delete(path string)
	Len() int
	Commit(ctx context.Context) error
}

// Store is the document database adapter.
type Store interface {
	Reader
	Writer
	Batch() Batch
	// RunTransaction runs fn with optimistic re-read-then-write semantics.
	// fn may be invoked multiple times on contention and must be pure.
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error
}

// CollectionOf returns the collection path of a document path.
func CollectionOf(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return ""
	}
	return path[:i]
}

// GroupOf returns the collection-group name (last collection segment).
func GroupOf(collection string) string {
	i := strings.LastIndexByte(collection, '/')
	if i < 0 {
		return collection
	}
	return collection[i+1:]
}

// PathID returns the final segment of a path.
func PathID(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return path
	}
	return path[i+1:]
}

// ValidDocPath reports whether path has an even, non-empty segment count
// ("coll/id" or "coll/id/sub/id2").
func ValidDocPath(path string) bool {
	if path == "" {
		return false
	}
	segs := strings.Split(path, "/")
	if len(segs)%2 != 0 {
		return false
	}
	for _, s := range segs {
		if s == "" {
			return false
		}
	}
	return true
}
