package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SQLStore persists documents as JSON rows in a single table (one row per
// document, keyed by path). Queries scan the collection and filter/sort
// client-side, matching the "no server-side aggregation" store model.
//
// Ordered queries that also filter need a composite index registered up
// front; without one the store reports ErrIndexMissing and the caller is
// expected to degrade.
type SQLStore struct {
	db      *sql.DB
	indexes map[string]struct{}
	now     func() time.Time
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, indexes: map[string]struct{}{}, now: time.Now}
}

// RegisterIndex declares a composite index for (collection group, filter
// field, order field) so ordered+filtered queries on it are allowed.
func (s *SQLStore) RegisterIndex(group, filterField, orderField string) {
	s.indexes[indexKey(group, filterField, orderField)] = struct{}{}
}

func indexKey(group, filterField, orderField string) string {
	return group + "|" + filterField + "|" + orderField
}

func (s *SQLStore) hasIndex(q Query) bool {
	group := q.Path
	if !q.Group {
		group = GroupOf(q.Path)
	}
	for _, f := range q.Filters {
		if _, ok := s.indexes[indexKey(group, f.Field, q.OrderBy)]; ok {
			return true
		}
	}
	return false
}

func (s *SQLStore) Get(ctx context.Context, path string) (Doc, error) {
	return getRow(ctx, s.db, path)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func getRow(ctx context.Context, q rowQuerier, path string) (Doc, error) {
	var data string
	var updated int64
	err := q.QueryRowContext(ctx, `SELECT data, updated_at FROM docs WHERE path=$1`, path).Scan(&data, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Doc{Path: path}, ErrNotFound
	}
	if err != nil {
		return Doc{}, err
	}
	fields := Fields{}
	if err := json.Unmarshal([]byte(data), &fields); err != nil {
		return Doc{}, fmt.Errorf("docstore: corrupt document %s: %w", path, err)
	}
	return Doc{Path: path, Fields: fields, UpdateTime: time.Unix(updated, 0)}, nil
}

func (s *SQLStore) Query(ctx context.Context, q Query) ([]Doc, error) {
	if q.OrderBy != "" && len(q.Filters) > 0 && !s.hasIndex(q) {
		return nil, fmt.Errorf("%w: %s order by %s", ErrIndexMissing, q.Path, q.OrderBy)
	}
	return queryRows(ctx, s.db, q)
}

func queryRows(ctx context.Context, qr rowQuerier, q Query) ([]Doc, error) {
	var rows *sql.Rows
	var err error
	if q.Group {
		rows, err = qr.QueryContext(ctx, `SELECT path, data, updated_at FROM docs WHERE group_name=$1`, q.Path)
	} else {
		rows, err = qr.QueryContext(ctx, `SELECT path, data, updated_at FROM docs WHERE collection=$1`, q.Path)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Doc
	for rows.Next() {
		var path, data string
		var updated int64
		if err := rows.Scan(&path, &data, &updated); err != nil {
			return nil, err
		}
		fields := Fields{}
		if err := json.Unmarshal([]byte(data), &fields); err != nil {
			return nil, fmt.Errorf("docstore: corrupt document %s: %w", path, err)
		}
		if !matchAll(fields, q.Filters) {
			continue
		}
		out = append(out, Doc{Path: path, Fields: fields, UpdateTime: time.Unix(updated, 0)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	SortDocs(out, q.OrderBy, q.Desc)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *SQLStore) Set(ctx context.Context, path string, fields Fields, merge bool) error {
	return s.writeTx(ctx, func(tx *sql.Tx) error {
		return writeSet(ctx, tx, path, fields, merge, s.now())
	})
}

func (s *SQLStore) Update(ctx context.Context, path string, fields Fields) error {
	return s.writeTx(ctx, func(tx *sql.Tx) error {
		return writeUpdate(ctx, tx, path, fields, s.now())
	})
}

func (s *SQLStore) Delete(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM docs WHERE path=$1`, path)
	return err
}

func (s *SQLStore) writeTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func writeSet(ctx context.Context, tx *sql.Tx, path string, fields Fields, merge bool, now time.Time) error {
	if !ValidDocPath(path) {
		return fmt.Errorf("docstore: invalid doc path %q", path)
	}
	var base Fields
	prior, err := getRow(ctx, tx, path)
	exists := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if exists && merge {
		base = prior.Fields
	}
	next := resolveSentinels(base, fields, now)
	if merge {
		next = mergeFields(base, next)
	}
	return upsertRow(ctx, tx, path, next, exists, now)
}

func writeUpdate(ctx context.Context, tx *sql.Tx, path string, fields Fields, now time.Time) error {
	prior, err := getRow(ctx, tx, path)
	if err != nil {
		return err
	}
	next := prior.Fields
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
	return upsertRow(ctx, tx, path, next, true, now)
}

func upsertRow(ctx context.Context, tx *sql.Tx, path string, fields Fields, exists bool, now time.Time) error {
	buf, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	coll := CollectionOf(path)
	if exists {
		_, err = tx.ExecContext(ctx,
			`UPDATE docs SET data=$1, version=version+1, updated_at=$2 WHERE path=$3`,
			string(buf), now.Unix(), path)
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO docs (path, collection, group_name, data, version, updated_at) VALUES ($1,$2,$3,$4,1,$5)`,
		path, coll, GroupOf(coll), string(buf), now.Unix())
	return err
}

/* ---------------- batch ---------------- */

type sqlBatch struct {
	store *SQLStore
	ops   []batchOp
}

func (s *SQLStore) Batch() Batch { return &sqlBatch{store: s} }

func (b *sqlBatch) Set(path string, fields Fields, merge bool) {
	kind := "set"
	if merge {
		kind = "merge"
	}
	b.ops = append(b.ops, batchOp{kind: kind, path: path, fields: fields})
}

func (b *sqlBatch) Update(path string, fields Fields) {
	b.ops = append(b.ops, batchOp{kind: "update", path: path, fields: fields})
}

func (b *sqlBatch) Delete(path string) {
	b.ops = append(b.ops, batchOp{kind: "delete", path: path})
}

func (b *sqlBatch) Len() int { return len(b.ops) }

func (b *sqlBatch) Commit(ctx context.Context) error {
	for start := 0; start < len(b.ops); start += MaxBatchOps {
		end := start + MaxBatchOps
		if end > len(b.ops) {
			end = len(b.ops)
		}
		chunk := b.ops[start:end]
		err := b.store.writeTx(ctx, func(tx *sql.Tx) error {
			now := b.store.now()
			for _, op := range chunk {
				var err error
				switch op.kind {
				case "set":
					err = writeSet(ctx, tx, op.path, op.fields, false, now)
				case "merge":
					err = writeSet(ctx, tx, op.path, op.fields, true, now)
				case "update":
					err = writeUpdate(ctx, tx, op.path, op.fields, now)
				case "delete":
					_, err = tx.ExecContext(ctx, `DELETE FROM docs WHERE path=$1`, op.path)
				}
				if err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	b.ops = nil
	return nil
}

/* ---------------- transaction ---------------- */

const sqlTxMaxAttempts = 3

type sqlTx struct {
	store *SQLStore
	tx    *sql.Tx
}

// RunTransaction wraps fn in a database transaction. Contention surfaces as
// a commit error; the loop retries a bounded number of times, which is safe
// because fn must be pure.
func (s *SQLStore) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < sqlTxMaxAttempts; attempt++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		wrapped := &sqlTx{store: s, tx: tx}
		if err := fn(wrapped); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

func (t *sqlTx) Get(ctx context.Context, path string) (Doc, error) {
	return getRow(ctx, t.tx, path)
}

func (t *sqlTx) Query(ctx context.Context, q Query) ([]Doc, error) {
	if q.OrderBy != "" && len(q.Filters) > 0 && !t.store.hasIndex(q) {
		return nil, fmt.Errorf("%w: %s order by %s", ErrIndexMissing, q.Path, q.OrderBy)
	}
	return queryRows(ctx, t.tx, q)
}

func (t *sqlTx) Set(ctx context.Context, path string, fields Fields, merge bool) error {
	return writeSet(ctx, t.tx, path, fields, merge, t.store.now())
}

func (t *sqlTx) Update(ctx context.Context, path string, fields Fields) error {
	return writeUpdate(ctx, t.tx, path, fields, t.store.now())
}

func (t *sqlTx) Delete(ctx context.Context, path string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM docs WHERE path=$1`, path)
	return err
}
