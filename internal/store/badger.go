package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Key layout:
//
//	d:<collection>:<id>  -> document JSON
//	c:<collection>       -> collection registry marker
const (
	docPrefix  = "d:"
	collPrefix = "c:"
)

// updateAttempts bounds the retry loop for optimistic transaction conflicts.
const updateAttempts = 16

// DB implements Store on top of an embedded Badger database.
type DB struct {
	db *badger.DB
}

// Open opens the database at dir. An empty dir selects the in-memory mode
// used by tests and local development.
func Open(dir string) (*DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &DB{db: db}, nil
}

// Collection returns the namespace handle for pkg and kind.
func (d *DB) Collection(pkg, kind string) Collection {
	return &collection{db: d.db, name: CollectionName(pkg, kind)}
}

// CollectionNames lists every collection created so far.
func (d *DB) CollectionNames(ctx context.Context) ([]string, error) {
	var names []string
	err := d.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(collPrefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			names = append(names, strings.TrimPrefix(string(it.Item().Key()), collPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Ping reports whether the database is still open.
func (d *DB) Ping(ctx context.Context) error {
	if d == nil || d.db == nil || d.db.IsClosed() {
		return errors.New("store closed")
	}
	return ctx.Err()
}

// Close shuts down the database.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

type collection struct {
	db   *badger.DB
	name string
}

func (c *collection) Name() string { return c.name }

func (c *collection) key(id string) []byte {
	return []byte(docPrefix + c.name + ":" + id)
}

func (c *collection) scanPrefix() []byte {
	return []byte(docPrefix + c.name + ":")
}

func (c *collection) Insert(ctx context.Context, doc any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	id, _ := fields["id"].(string)
	if id == "" {
		return errors.New("document missing id field")
	}
	return c.withRetry(func(txn *badger.Txn) error {
		if err := txn.Set(c.key(id), raw); err != nil {
			return err
		}
		// Lazy collection creation: register the name on first insert.
		return txn.Set([]byte(collPrefix+c.name), nil)
	})
}

func (c *collection) FindOne(ctx context.Context, f Filter, out any) error {
	var raw []byte
	err := c.db.View(func(txn *badger.Txn) error {
		return c.scan(ctx, txn, f, func(docRaw []byte, _ map[string]any) (bool, error) {
			raw = append([]byte(nil), docRaw...)
			return false, nil
		})
	})
	if err != nil {
		return err
	}
	if raw == nil {
		return ErrNotFound
	}
	return json.Unmarshal(raw, out)
}

func (c *collection) Find(ctx context.Context, f Filter, opts FindOptions, out any) error {
	type match struct {
		raw  []byte
		sort any
	}
	var matches []match
	err := c.db.View(func(txn *badger.Txn) error {
		return c.scan(ctx, txn, f, func(docRaw []byte, fields map[string]any) (bool, error) {
			m := match{raw: append([]byte(nil), docRaw...)}
			if opts.SortField != "" {
				m.sort = fields[opts.SortField]
			}
			matches = append(matches, m)
			return true, nil
		})
	})
	if err != nil {
		return err
	}
	if opts.SortField != "" {
		sort.SliceStable(matches, func(i, j int) bool {
			if opts.Desc {
				i, j = j, i
			}
			return lessValue(matches[i].sort, matches[j].sort)
		})
	}
	if opts.Limit > 0 && len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}
	// Assemble one JSON array from the stored documents and decode it into
	// the caller's typed slice.
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, m := range matches {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(m.raw)
	}
	buf.WriteByte(']')
	return json.Unmarshal(buf.Bytes(), out)
}

func (c *collection) UpdateOne(ctx context.Context, f Filter, m Mutation) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	updated := false
	err := c.withRetry(func(txn *badger.Txn) error {
		updated = false
		var key []byte
		var fields map[string]any
		err := c.scan(ctx, txn, f, func(docRaw []byte, decoded map[string]any) (bool, error) {
			fields = decoded
			return false, nil
		})
		if err != nil {
			return err
		}
		if fields == nil {
			return nil
		}
		id, _ := fields["id"].(string)
		key = c.key(id)
		if err := applyMutation(fields, m); err != nil {
			return err
		}
		raw, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("encode document: %w", err)
		}
		if err := txn.Set(key, raw); err != nil {
			return err
		}
		updated = true
		return nil
	})
	return updated, err
}

func (c *collection) Upsert(ctx context.Context, f Filter, doc any, m Mutation) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	insertRaw, err := json.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("encode document: %w", err)
	}
	var insertFields map[string]any
	if err := json.Unmarshal(insertRaw, &insertFields); err != nil {
		return false, fmt.Errorf("decode document: %w", err)
	}
	insertID, _ := insertFields["id"].(string)
	if insertID == "" {
		return false, errors.New("document missing id field")
	}
	created := false
	err = c.withRetry(func(txn *badger.Txn) error {
		created = false
		var fields map[string]any
		err := c.scan(ctx, txn, f, func(_ []byte, decoded map[string]any) (bool, error) {
			fields = decoded
			return false, nil
		})
		if err != nil {
			return err
		}
		if fields == nil {
			if err := txn.Set(c.key(insertID), insertRaw); err != nil {
				return err
			}
			if err := txn.Set([]byte(collPrefix+c.name), nil); err != nil {
				return err
			}
			created = true
			return nil
		}
		id, _ := fields["id"].(string)
		if err := applyMutation(fields, m); err != nil {
			return err
		}
		raw, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("encode document: %w", err)
		}
		return txn.Set(c.key(id), raw)
	})
	return created, err
}

func (c *collection) Count(ctx context.Context, f Filter) (int64, error) {
	var n int64
	err := c.db.View(func(txn *badger.Txn) error {
		return c.scan(ctx, txn, f, func([]byte, map[string]any) (bool, error) {
			n++
			return true, nil
		})
	})
	return n, err
}

// scan walks the collection and invokes visit for every document matching f.
// The visit callback returns false to stop early.
func (c *collection) scan(ctx context.Context, txn *badger.Txn, f Filter, visit func(raw []byte, fields map[string]any) (bool, error)) error {
	it := txn.NewIterator(badger.IteratorOptions{Prefix: c.scanPrefix(), PrefetchValues: true, PrefetchSize: 64})
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var cont bool
		err := it.Item().Value(func(val []byte) error {
			var fields map[string]any
			if err := json.Unmarshal(val, &fields); err != nil {
				return fmt.Errorf("decode document %s: %w", it.Item().Key(), err)
			}
			if !matches(fields, f) {
				cont = true
				return nil
			}
			var err error
			cont, err = visit(val, fields)
			return err
		})
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

// withRetry runs fn in an update transaction, retrying on optimistic
// conflicts so concurrent writers to the same document serialize instead of
// losing updates.
func (c *collection) withRetry(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < updateAttempts; attempt++ {
		err = c.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func matches(fields map[string]any, f Filter) bool {
	for _, cond := range f {
		val, present := fields[cond.Field]
		if val == nil {
			present = false
		}
		switch cond.Op {
		case OpMissing:
			if present {
				return false
			}
		case OpExists:
			if !present {
				return false
			}
		case OpEq:
			if !present || !equalValue(val, cond.Value) {
				return false
			}
		case OpLt:
			if !present || !lessValue(val, cond.Value) {
				return false
			}
		case OpGte:
			if !present || lessValue(val, cond.Value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func equalValue(a, b any) bool {
	if at, ok := asTime(a); ok {
		if bt, ok := asTime(b); ok {
			return at.Equal(bt)
		}
	}
	if an, ok := asNumber(a); ok {
		if bn, ok := asNumber(b); ok {
			return an == bn
		}
	}
	return a == b
}

func lessValue(a, b any) bool {
	if at, ok := asTime(a); ok {
		if bt, ok := asTime(b); ok {
			return at.Before(bt)
		}
	}
	if an, ok := asNumber(a); ok {
		if bn, ok := asNumber(b); ok {
			return an < bn
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as < bs
	}
	return false
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func applyMutation(fields map[string]any, m Mutation) error {
	for k, v := range m.Set {
		fields[k] = normalize(v)
	}
	for k, delta := range m.Inc {
		current, _ := asNumber(fields[k])
		fields[k] = current + float64(delta)
	}
	for k, v := range m.Push {
		arr, _ := fields[k].([]any)
		fields[k] = append(arr, normalize(v))
	}
	if m.Transform != nil {
		if err := m.Transform(fields); err != nil {
			return err
		}
	}
	return nil
}

// normalize round-trips a value through JSON so mutated fields carry the same
// representation as inserted ones.
func normalize(v any) any {
	switch v.(type) {
	case nil, string, bool, float64:
		return v
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
