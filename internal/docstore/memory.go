package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and offline mode. It
// serves every query shape, so it never reports ErrIndexMissing.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*memDoc
	now  func() time.Time
}

type memDoc struct {
	fields  Fields
	version int64
	updated time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: map[string]*memDoc{}, now: time.Now}
}

// WithClock overrides the store clock (tests).
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

func (m *MemoryStore) Get(_ context.Context, path string) (Doc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(path)
}

func (m *MemoryStore) getLocked(path string) (Doc, error) {
	d, ok := m.docs[path]
	if !ok {
		return Doc{Path: path}, ErrNotFound
	}
	return Doc{Path: path, Fields: copyFields(d.fields), UpdateTime: d.updated}, nil
}

func (m *MemoryStore) Query(_ context.Context, q Query) ([]Doc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queryLocked(q)
}

func (m *MemoryStore) queryLocked(q Query) ([]Doc, error) {
	var out []Doc
	for path, d := range m.docs {
		if !pathInQuery(path, q) {
			continue
		}
		if !matchAll(d.fields, q.Filters) {
			continue
		}
		out = append(out, Doc{Path: path, Fields: copyFields(d.fields), UpdateTime: d.updated})
	}
	if q.OrderBy != "" {
		SortDocs(out, q.OrderBy, q.Desc)
	} else {
		SortDocs(out, "", false) // deterministic path order
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func pathInQuery(docPath string, q Query) bool {
	coll := CollectionOf(docPath)
	if q.Group {
		return GroupOf(coll) == q.Path
	}
	return coll == q.Path
}

func (m *MemoryStore) Set(_ context.Context, path string, fields Fields, merge bool) error {
	if !ValidDocPath(path) {
		return fmt.Errorf("docstore: invalid doc path %q", path)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(path, fields, merge)
	return nil
}

func (m *MemoryStore) setLocked(path string, fields Fields, merge bool) {
	now := m.now()
	prior, ok := m.docs[path]
	var base Fields
	if ok && merge {
		base = copyFields(prior.fields)
	}
	resolved := resolveSentinelsAgainst(base, fields, now)
	next := resolved
	if merge {
		next = mergeFields(base, resolved)
	}
	version := int64(1)
	if ok {
		version = prior.version + 1
	}
	m.docs[path] = &memDoc{fields: next, version: version, updated: now}
}

func (m *MemoryStore) Update(_ context.Context, path string, fields Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(path, fields)
}

func (m *MemoryStore) updateLocked(path string, fields Fields) error {
	prior, ok := m.docs[path]
	if !ok {
		return ErrNotFound
	}
	now := m.now()
	next := copyFields(prior.fields)
	for k, v := range fields {
		switch sv := v.(type) {
		case serverTimestamp:
			setFieldAt(next, k, now)
		case incrementValue:
			base := 0.0
			if cur, ok := FieldAt(next, k); ok {
				base, _ = AsFloat(cur)
			}
			setFieldAt(next, k, base+sv.n)
		default:
			setFieldAt(next, k, v)
		}
	}
	m.docs[path] = &memDoc{fields: next, version: prior.version + 1, updated: now}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, path)
	return nil
}

// resolveSentinelsAgainst handles Increment relative to the (merged) prior
// state; for plain Set the prior is nil and increments start at 0.
func resolveSentinelsAgainst(prior Fields, updates Fields, now time.Time) Fields {
	return resolveSentinels(prior, updates, now)
}

func copyFields(f Fields) Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		if m, ok := v.(map[string]any); ok {
			out[k] = copyFields(m)
			continue
		}
		if s, ok := v.([]any); ok {
			cp := make([]any, len(s))
			copy(cp, s)
			out[k] = cp
			continue
		}
		out[k] = v
	}
	return out
}

/* ---------------- batch ---------------- */

type batchOp struct {
	kind   string // set|merge|update|delete
	path   string
	fields Fields
}

type memBatch struct {
	store *MemoryStore
	ops   []batchOp
}

func (m *MemoryStore) Batch() Batch { return &memBatch{store: m} }

func (b *memBatch) Set(path string, fields Fields, merge bool) {
	kind := "set"
	if merge {
		kind = "merge"
	}
	b.ops = append(b.ops, batchOp{kind: kind, path: path, fields: fields})
}

func (b *memBatch) Update(path string, fields Fields) {
	b.ops = append(b.ops, batchOp{kind: "update", path: path, fields: fields})
}

func (b *memBatch) Delete(path string) {
	b.ops = append(b.ops, batchOp{kind: "delete", path: path})
}

func (b *memBatch) Len() int { return len(b.ops) }

// Commit applies ops in chunks of MaxBatchOps. Chunks are atomic with
// respect to concurrent readers; the batch as a whole is not.
func (b *memBatch) Commit(_ context.Context) error {
	for start := 0; start < len(b.ops); start += MaxBatchOps {
		end := start + MaxBatchOps
		if end > len(b.ops) {
			end = len(b.ops)
		}
		b.store.mu.Lock()
		for _, op := range b.ops[start:end] {
			switch op.kind {
			case "set":
				b.store.setLocked(op.path, op.fields, false)
			case "merge":
				b.store.setLocked(op.path, op.fields, true)
			case "update":
				if err := b.store.updateLocked(op.path, op.fields); err != nil {
					b.store.mu.Unlock()
					return err
				}
			case "delete":
				delete(b.store.docs, op.path)
			}
		}
		b.store.mu.Unlock()
	}
	b.ops = nil
	return nil
}

/* ---------------- transaction ---------------- */

const txMaxAttempts = 5

var errTxConflict = errors.New("docstore: transaction conflict")

type memTx struct {
	store *MemoryStore
	reads map[string]int64 // path -> version observed (0 = absent)
	ops   []batchOp
}

// RunTransaction retries fn on optimistic conflicts: reads record document
// versions, commit re-checks them under the write lock.
func (m *MemoryStore) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < txMaxAttempts; attempt++ {
		tx := &memTx{store: m, reads: map[string]int64{}}
		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.commit(); err != nil {
			if errors.Is(err, errTxConflict) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return lastErr
}

func (t *memTx) Get(_ context.Context, path string) (Doc, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	d, ok := t.store.docs[path]
	if !ok {
		t.reads[path] = 0
		return Doc{Path: path}, ErrNotFound
	}
	t.reads[path] = d.version
	return Doc{Path: path, Fields: copyFields(d.fields), UpdateTime: d.updated}, nil
}

func (t *memTx) Query(_ context.Context, q Query) ([]Doc, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	docs, err := t.store.queryLocked(q)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		t.reads[d.Path] = t.store.docs[d.Path].version
	}
	return docs, nil
}

func (t *memTx) Set(_ context.Context, path string, fields Fields, merge bool) error {
	if !ValidDocPath(path) {
		return fmt.Errorf("docstore: invalid doc path %q", path)
	}
	kind := "set"
	if merge {
		kind = "merge"
	}
	t.ops = append(t.ops, batchOp{kind: kind, path: path, fields: fields})
	return nil
}

func (t *memTx) Update(_ context.Context, path string, fields Fields) error {
	t.ops = append(t.ops, batchOp{kind: "update", path: path, fields: fields})
	return nil
}

func (t *memTx) Delete(_ context.Context, path string) error {
	t.ops = append(t.ops, batchOp{kind: "delete", path: path})
	return nil
}

func (t *memTx) commit() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for path, seen := range t.reads {
		cur, ok := t.store.docs[path]
		switch {
		case !ok && seen != 0:
			return errTxConflict
		case ok && cur.version != seen:
			return errTxConflict
		}
	}
	for _, op := range t.ops {
		switch op.kind {
		case "set":
			t.store.setLocked(op.path, op.fields, false)
		case "merge":
			t.store.setLocked(op.path, op.fields, true)
		case "update":
			if err := t.store.updateLocked(op.path, op.fields); err != nil {
				return err
			}
		case "delete":
			delete(t.store.docs, op.path)
		}
	}
	return nil
}

// DocCount reports the number of stored documents whose path starts with
// prefix (tests/diagnostics).
func (m *MemoryStore) DocCount(prefix string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for p := range m.docs {
		if strings.HasPrefix(p, prefix) {
			n++
		}
	}
	return n
}
