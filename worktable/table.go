// Package worktable implements the table core: a generic, concurrent,
// single-table store over pagestore's row pages, cdcindex's ordered
// indexes, and lockmap's per-row locking, wired together the way the
// `worktable!` macro wires its generated code — but hand-written, since
// this repo has no code-generation façade.
package worktable

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pathscale/worktable/cdcindex"
	"github.com/pathscale/worktable/lockmap"
	"github.com/pathscale/worktable/pagestore"
)

// Config wires a Table's row codec, primary key handling, and storage.
// Every function field is required except Serialize and Deserialize, which
// default to encoding/json; PkGenerator, Registry, and Persistence are
// optional, and DataPages defaults to an in-memory store when left nil.
type Config[Row any, Pk comparable] struct {
	Name string

	// PkOf extracts the primary key already set on a row (the zero value
	// if the caller wants one generated).
	PkOf func(Row) Pk
	// WithPk returns a copy of row with its primary key set to pk — Go has
	// no generic struct-field setter, so the caller supplies this once.
	WithPk func(row Row, pk Pk) Row
	// PkLess orders the primary index; required so the primary key type
	// need not satisfy cmp.Ordered (composite keys rarely do).
	PkLess func(a, b Pk) bool

	// Serialize/Deserialize codec the row to bytes for the data page.
	// Both default to encoding/json when left nil, matching the teacher's
	// own use of encoding/json at every API boundary.
	Serialize   func(Row) ([]byte, error)
	Deserialize func([]byte) (Row, error)

	PkGenerator Generator[Pk]
	Registry    pagestore.EmptyLinksRegistry
	DataPages   *pagestore.DataPages
	Persistence PersistenceSink
}

// Table is the generic, concurrent single-table store: Row is the
// application's record type, Pk its primary key type.
type Table[Row any, Pk comparable] struct {
	name string

	dataPages   *pagestore.DataPages
	primary     *cdcindex.UniqueIndex[Pk]
	secondaries map[string]secondaryIndex[Row]
	// secondaryOrder is declaration order — both the order save_row tries
	// secondary indexes in, and the order persistence replays their events.
	secondaryOrder []string

	locks  *lockmap.LockMap[Pk]
	pkGen  Generator[Pk]
	pkOf   func(Row) Pk
	withPk func(Row, Pk) Row

	serialize   func(Row) ([]byte, error)
	deserialize func([]byte) (Row, error)

	persistence PersistenceSink

	// indexMu guards whole-table scans (SelectAll/SelectBy/Count) against
	// concurrent structural index changes, the coarse-grained counterpart
	// to locks' per-row granularity — named after the teacher's own
	// LockManager.IndexMu.
	indexMu sync.RWMutex

	mu        sync.Mutex
	corrupted bool
}

// New builds an empty Table from cfg.
func New[Row any, Pk comparable](cfg Config[Row, Pk]) (*Table[Row, Pk], error) {
	if cfg.PkOf == nil || cfg.WithPk == nil || cfg.PkLess == nil {
		return nil, fmt.Errorf("worktable: Config.PkOf, WithPk and PkLess are required")
	}
	serialize := cfg.Serialize
	if serialize == nil {
		serialize = func(row Row) ([]byte, error) { return json.Marshal(row) }
	}
	deserialize := cfg.Deserialize
	if deserialize == nil {
		deserialize = func(data []byte) (Row, error) {
			var row Row
			err := json.Unmarshal(data, &row)
			return row, err
		}
	}
	pkGen := cfg.PkGenerator
	if pkGen == nil {
		pkGen = NewNoneGenerator[Pk]()
	}

	dataPages := cfg.DataPages
	if dataPages == nil {
		registry := cfg.Registry
		if registry == nil {
			registry = pagestore.NewUnsized()
		}
		dp, err := pagestore.OpenMemory(registry)
		if err != nil {
			return nil, fmt.Errorf("worktable: open in-memory data pages: %w", err)
		}
		dataPages = dp
	}

	return &Table[Row, Pk]{
		name:        cfg.Name,
		dataPages:   dataPages,
		primary:     cdcindex.NewUniqueIndex(cfg.PkLess),
		secondaries: make(map[string]secondaryIndex[Row]),
		locks:       lockmap.NewLockMap[Pk](nil),
		pkGen:       pkGen,
		pkOf:        cfg.PkOf,
		withPk:      cfg.WithPk,
		serialize:   serialize,
		deserialize: deserialize,
		persistence: cfg.Persistence,
	}, nil
}

func (t *Table[Row, Pk]) isCorrupted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.corrupted
}

func (t *Table[Row, Pk]) markCorrupted() {
	t.mu.Lock()
	t.corrupted = true
	t.mu.Unlock()
}

// Insert assigns a primary key (if row carries the sentinel) and adds row
// to the primary index and every secondary index in declared order,
// rolling back everything already applied if any later index rejects the
// row — spec.md §4.5 / §4.6 "Cross-index rollback."
func (t *Table[Row, Pk]) Insert(ctx context.Context, row Row) (Pk, error) {
	var zero Pk
	if t.isCorrupted() {
		return zero, ErrCorruption
	}

	pk := t.pkOf(row)
	if t.pkGen.IsSentinel(pk) {
		pk = t.pkGen.Next()
		row = t.withPk(row, pk)
	}

	rowLock := t.locks.GetOrCreate(pk)
	if err := rowLock.Acquire(ctx, lockmap.PolicyWait); err != nil {
		return zero, err
	}
	defer rowLock.Release()

	data, err := t.serialize(row)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", ErrSerialize, err)
	}

	t.indexMu.Lock()
	defer t.indexMu.Unlock()

	link, err := t.dataPages.Insert(1, data)
	if err != nil {
		return zero, err
	}

	primaryEvents, err := t.primary.Insert(pk, link)
	if err != nil {
		_ = t.dataPages.Delete(link)
		return zero, fmt.Errorf("%w: pk %v", ErrAlreadyExists, pk)
	}

	secondaryEvents := make(map[string][]Event, len(t.secondaryOrder))
	for i, name := range t.secondaryOrder {
		events, err := t.secondaries[name].Insert(row, link)
		if err != nil {
			if rerr := t.rollbackInsert(pk, row, link, t.secondaryOrder[:i]); rerr != nil {
				t.markCorrupted()
				return zero, fmt.Errorf("%w: %v (original: %v)", ErrCorruption, rerr, err)
			}
			return zero, fmt.Errorf("%w: index %q: %v", ErrAlreadyExists, name, err)
		}
		secondaryEvents[name] = events
	}

	if t.persistence != nil {
		op := Op{
			Link:            link,
			Bytes:           data,
			PrimaryEvents:   eraseEvents(primaryEvents),
			SecondaryEvents: secondaryEvents,
			SecondaryOrder:  append([]string(nil), t.secondaryOrder...),
		}
		if err := t.persistence.Apply(op); err != nil {
			// Persistence failures never undo an in-memory-visible write
			// (spec.md §7): the mutation already succeeded, the table is
			// just dirty until the next successful persist().
			_ = err
		}
	}

	return pk, nil
}

// rollbackInsert undoes a partially applied insert: removes row from every
// index named in insertedAlready, then from the primary index, then frees
// the data page Link.
func (t *Table[Row, Pk]) rollbackInsert(pk Pk, row Row, link pagestore.Link, insertedAlready []string) error {
	for _, name := range insertedAlready {
		t.secondaries[name].Remove(row, link)
	}
	t.primary.Remove(pk, link)
	return t.dataPages.Delete(link)
}

// Select looks up pk via the primary index and deserializes its row.
func (t *Table[Row, Pk]) Select(ctx context.Context, pk Pk) (Row, error) {
	var zero Row
	t.indexMu.RLock()
	link, ok := t.primary.Lookup(pk)
	t.indexMu.RUnlock()
	if !ok {
		return zero, fmt.Errorf("%w: pk %v", ErrNotFound, pk)
	}
	data, err := t.dataPages.Select(link)
	if err != nil {
		return zero, err
	}
	row, err := t.deserialize(data)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", ErrDeserialize, err)
	}
	return row, nil
}

// UpdateByPk looks up pk, applies mutate to the deserialized row, and
// writes the result back — in place if its encoded size is unchanged, as a
// delete-then-reinsert-under-the-same-pk otherwise. Every secondary index
// whose extracted key (or whose Link) changed is rebound; the rest are
// left untouched. mutate must preserve pk — Table re-stamps it regardless.
func (t *Table[Row, Pk]) UpdateByPk(ctx context.Context, pk Pk, mutate func(Row) Row) error {
	if t.isCorrupted() {
		return ErrCorruption
	}

	rowLock := t.locks.GetOrCreate(pk)
	if err := rowLock.Acquire(ctx, lockmap.PolicyWait); err != nil {
		return err
	}
	defer rowLock.Release()

	t.indexMu.Lock()
	defer t.indexMu.Unlock()

	link, ok := t.primary.Lookup(pk)
	if !ok {
		return fmt.Errorf("%w: pk %v", ErrNotFound, pk)
	}

	oldData, err := t.dataPages.Select(link)
	if err != nil {
		return err
	}
	oldRow, err := t.deserialize(oldData)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeserialize, err)
	}

	newRow := t.withPk(mutate(oldRow), pk)
	newData, err := t.serialize(newRow)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialize, err)
	}

	newLink, err := t.dataPages.Update(link, 1, newData)
	if err != nil {
		return err
	}

	var primaryEvents []cdcindex.ChangeEvent[Pk]
	if newLink != link {
		primaryEvents = append(primaryEvents, t.primary.Remove(pk, link)...)
		inserted, err := t.primary.Insert(pk, newLink)
		if err != nil {
			t.markCorrupted()
			return fmt.Errorf("%w: rebind primary: %v", ErrCorruption, err)
		}
		primaryEvents = append(primaryEvents, inserted...)
	}

	secondaryEvents := make(map[string][]Event, len(t.secondaryOrder))
	for _, name := range t.secondaryOrder {
		events, err := t.secondaries[name].Rebind(oldRow, newRow, link, newLink)
		if err != nil {
			t.markCorrupted()
			return fmt.Errorf("%w: rebind index %q: %v", ErrCorruption, name, err)
		}
		secondaryEvents[name] = events
	}

	if t.persistence != nil {
		op := Op{
			Link:            newLink,
			Bytes:           newData,
			PrimaryEvents:   eraseEvents(primaryEvents),
			SecondaryEvents: secondaryEvents,
			SecondaryOrder:  append([]string(nil), t.secondaryOrder...),
		}
		// Persistence failures never undo an in-memory-visible write
		// (spec.md §7): the mutation already succeeded, the table is
		// just dirty until the next successful persist().
		_ = t.persistence.Apply(op)
	}
	return nil
}

// Delete removes pk from every index and tombstones its row.
func (t *Table[Row, Pk]) Delete(ctx context.Context, pk Pk) error {
	if t.isCorrupted() {
		return ErrCorruption
	}

	rowLock := t.locks.GetOrCreate(pk)
	if err := rowLock.Acquire(ctx, lockmap.PolicyWait); err != nil {
		return err
	}

	t.indexMu.Lock()
	defer t.indexMu.Unlock()

	link, ok := t.primary.Lookup(pk)
	if !ok {
		rowLock.Release()
		return fmt.Errorf("%w: pk %v", ErrNotFound, pk)
	}

	data, err := t.dataPages.Select(link)
	if err != nil {
		rowLock.Release()
		return err
	}
	row, err := t.deserialize(data)
	if err != nil {
		rowLock.Release()
		return fmt.Errorf("%w: %v", ErrDeserialize, err)
	}

	secondaryEvents := make(map[string][]Event, len(t.secondaryOrder))
	for _, name := range t.secondaryOrder {
		secondaryEvents[name] = t.secondaries[name].Remove(row, link)
	}
	primaryEvents := t.primary.Remove(pk, link)
	if err := t.dataPages.Delete(link); err != nil {
		t.markCorrupted()
		rowLock.Release()
		return fmt.Errorf("%w: %v", ErrCorruption, err)
	}

	if t.persistence != nil {
		op := Op{
			Link:            link,
			Deleted:         true,
			PrimaryEvents:   eraseEvents(primaryEvents),
			SecondaryEvents: secondaryEvents,
			SecondaryOrder:  append([]string(nil), t.secondaryOrder...),
		}
		_ = t.persistence.Apply(op)
	}

	rowLock.Release()
	t.locks.Remove(pk)
	return nil
}

// SelectAll materializes every live row in primary-key order and returns a
// query builder over it.
func (t *Table[Row, Pk]) SelectAll() *SelectQueryBuilder[Row] {
	t.indexMu.RLock()
	pairs := t.primary.All()
	rows := make([]Row, 0, len(pairs))
	for _, p := range pairs {
		data, err := t.dataPages.Select(p.Value)
		if err != nil {
			continue
		}
		row, err := t.deserialize(data)
		if err != nil {
			continue
		}
		rows = append(rows, row)
	}
	t.indexMu.RUnlock()
	return newSelectQueryBuilder(rows)
}

// SelectBy resolves key against the named secondary index and returns a
// query builder over the matching rows.
func (t *Table[Row, Pk]) SelectBy(idxName string, key any) (*SelectQueryBuilder[Row], error) {
	t.indexMu.RLock()
	defer t.indexMu.RUnlock()

	idx, ok := t.secondaries[idxName]
	if !ok {
		return nil, fmt.Errorf("worktable: no such index %q", idxName)
	}
	links := idx.Lookup(key)
	rows := make([]Row, 0, len(links))
	for _, link := range links {
		data, err := t.dataPages.Select(link)
		if err != nil {
			continue
		}
		row, err := t.deserialize(data)
		if err != nil {
			continue
		}
		rows = append(rows, row)
	}
	return newSelectQueryBuilder(rows), nil
}

// Count returns the number of live rows, counted by walking the primary
// index's leaf chain.
func (t *Table[Row, Pk]) Count() int {
	t.indexMu.RLock()
	defer t.indexMu.RUnlock()
	return t.primary.Len()
}

// CountBy returns how many rows the named secondary index has under key.
func (t *Table[Row, Pk]) CountBy(idxName string, key any) (int, error) {
	t.indexMu.RLock()
	defer t.indexMu.RUnlock()
	idx, ok := t.secondaries[idxName]
	if !ok {
		return 0, fmt.Errorf("worktable: no such index %q", idxName)
	}
	return len(idx.Lookup(key)), nil
}

// Name returns the table's configured name.
func (t *Table[Row, Pk]) Name() string { return t.name }

// LoadFromPairs rebuilds every in-memory index (primary and secondary) from
// the (Pk, Link) pairs a persisted primary SpaceIndex's All() returns after
// a PersistenceEngine.LoadFromFile call, per spec.md §4.8's recovery path.
// dataPages has no full-table scan — rows are addressed only by Link — so
// the persisted primary index's pairs are the only way to enumerate a
// table's rows after a restart; this is why recovery walks them instead of
// the data file directly. Call it once, immediately after New, before any
// other Table method runs concurrently: it does not take indexMu, since a
// fresh Table has no other caller yet.
func (t *Table[Row, Pk]) LoadFromPairs(pairs []cdcindex.Pair[Pk]) error {
	for _, p := range pairs {
		data, err := t.dataPages.Select(p.Value)
		if err != nil {
			return fmt.Errorf("worktable: load pk %v: %w", p.Key, err)
		}
		row, err := t.deserialize(data)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDeserialize, err)
		}

		if _, err := t.primary.Insert(p.Key, p.Value); err != nil {
			return fmt.Errorf("worktable: rebuild primary index: pk %v: %w", p.Key, err)
		}
		for _, name := range t.secondaryOrder {
			if _, err := t.secondaries[name].Insert(row, p.Value); err != nil {
				return fmt.Errorf("worktable: rebuild index %q: pk %v: %w", name, p.Key, err)
			}
		}
	}
	return nil
}
