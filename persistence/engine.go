package persistence

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pathscale/worktable/pagestore"
	"github.com/pathscale/worktable/worktable"
)

// Index is the type-erased contract a *SpaceIndex[K] exposes to Engine,
// which has no way to name K for a table's many differently-keyed indexes.
type Index interface {
	Name() string
	ApplyEvents([]worktable.Event) error
	HighWaterEventID() uint64
	WriteFile(path string) error
	LoadFile(path string) error
}

// Engine is spec.md §4.6/§4.8's PersistenceEngine: it owns the table's data
// file handle and one Index per worktable index (primary plus secondaries),
// and implements worktable.PersistenceSink so a Table forwards every
// committed Op to it directly. Row bytes persist through dataPages' own
// WAL unconditionally — the caller shares the same *pagestore.DataPages
// between its Table and its Engine, so Engine's job here is solely to keep
// the on-disk index pages and SpaceInfo headers in step with the CDC
// stream and to drive fsync cadence per SyncPolicy.
type Engine struct {
	mu sync.Mutex

	cfg       PersistenceConfig
	tableName string

	dataPages   *pagestore.DataPages
	primary     Index
	secondaries map[string]Index

	opsSinceSync int
}

// New creates an Engine over an already-open data file and a fresh set of
// empty indexes (the zero-history case — LoadFromFile is the recovery
// path). Callers register indexes with RegisterPrimary/RegisterSecondary
// before the first Apply. The table directory is created if it doesn't
// exist yet, since every index/SpaceInfo file Engine writes lives under it.
func New(cfg PersistenceConfig, tableName string, dataPages *pagestore.DataPages) *Engine {
	_ = cfg.EnsureDir()
	return &Engine{
		cfg:         cfg,
		tableName:   tableName,
		dataPages:   dataPages,
		secondaries: make(map[string]Index),
	}
}

func (e *Engine) RegisterPrimary(idx Index) { e.primary = idx }

func (e *Engine) RegisterSecondary(idx Index) {
	e.secondaries[idx.Name()] = idx
}

// Apply implements worktable.PersistenceSink: it replays op's CDC events
// into each index's on-disk pages, data first having already landed in
// dataPages via the Table's own Insert/Update/Delete call on the shared
// store, then drives the configured sync cadence.
func (e *Engine) Apply(op worktable.Op) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.primary != nil && len(op.PrimaryEvents) > 0 {
		if err := e.primary.ApplyEvents(op.PrimaryEvents); err != nil {
			return fmt.Errorf("persistence: engine %s: primary: %w", e.tableName, err)
		}
	}
	for _, name := range op.SecondaryOrder {
		events := op.SecondaryEvents[name]
		if len(events) == 0 {
			continue
		}
		idx, ok := e.secondaries[name]
		if !ok {
			return fmt.Errorf("persistence: engine %s: no registered index for %q", e.tableName, name)
		}
		if err := idx.ApplyEvents(events); err != nil {
			return fmt.Errorf("persistence: engine %s: index %s: %w", e.tableName, name, err)
		}
	}

	e.opsSinceSync++
	switch e.cfg.Sync {
	case SyncEveryOp:
		return e.flushLocked()
	case SyncBatched:
		if e.cfg.BatchSize > 0 && e.opsSinceSync >= e.cfg.BatchSize {
			return e.flushLocked()
		}
	}
	return nil
}

func (e *Engine) flushLocked() error {
	if err := e.dataPages.CommitWAL(); err != nil {
		return fmt.Errorf("persistence: engine %s: commit WAL: %w", e.tableName, err)
	}
	e.opsSinceSync = 0
	return nil
}

// Persist forces a durability checkpoint: the data file's WAL is
// checkpointed into place and every index's SpaceInfo header is rewritten
// atomically with its current high-water mark, so a restart can resume
// without replaying anything this call covers.
func (e *Engine) Persist() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.dataPages.Checkpoint(); err != nil {
		return fmt.Errorf("persistence: engine %s: checkpoint: %w", e.tableName, err)
	}

	if e.primary != nil {
		if err := e.persistIndexInfoLocked(e.primary); err != nil {
			return err
		}
	}
	for _, name := range sortedKeys(e.secondaries) {
		if err := e.persistIndexInfoLocked(e.secondaries[name]); err != nil {
			return err
		}
	}
	e.opsSinceSync = 0
	return nil
}

func (e *Engine) persistIndexInfoLocked(idx Index) error {
	if err := idx.WriteFile(e.cfg.IndexFilePath(e.tableName, idx.Name())); err != nil {
		return fmt.Errorf("persistence: engine %s: write index pages for %s: %w", e.tableName, idx.Name(), err)
	}

	si := newSpaceInfo(e.tableName)
	si.HighWater[idx.Name()] = idx.HighWaterEventID()
	path := e.cfg.SpaceInfoPath(e.tableName, idx.Name())
	if err := saveSpaceInfo(path, si); err != nil {
		return fmt.Errorf("persistence: engine %s: save space info for %s: %w", e.tableName, idx.Name(), err)
	}
	return nil
}

// LoadFromFile reloads every registered index's on-disk page image (and
// high-water mark) from the "{table}.idx" files a prior Persist wrote, per
// spec.md §4.8's recovery path. Call it once, after RegisterPrimary and
// RegisterSecondary but before the first Apply, on an Engine constructed
// over a data file pagestore.Open already recovered from its own WAL — a
// table that was never persisted simply has no "{table}.idx" files yet,
// which LoadFile treats as an empty index rather than an error, so this is
// always safe to call.
//
// Reloading an index's on-disk pages does not by itself repopulate a
// worktable.Table's in-memory primary/secondary trees — those are rebuilt
// by the caller from this index's All() pairs (see worktable.Table's
// LoadFromPairs), since Engine has no Row type to deserialize rows with.
func (e *Engine) LoadFromFile() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.primary != nil {
		if err := e.primary.LoadFile(e.cfg.IndexFilePath(e.tableName, e.primary.Name())); err != nil {
			return fmt.Errorf("persistence: engine %s: load primary index: %w", e.tableName, err)
		}
	}
	for _, name := range sortedKeys(e.secondaries) {
		idx := e.secondaries[name]
		if err := idx.LoadFile(e.cfg.IndexFilePath(e.tableName, name)); err != nil {
			return fmt.Errorf("persistence: engine %s: load index %s: %w", e.tableName, name, err)
		}
	}
	return nil
}

// WaitForOps blocks until every Apply already in flight has returned,
// spec.md §4.8/§6's C9 lifecycle operation (mirroring original_source's
// async wait_for_ops, called after persist() before a clean shutdown).
// Apply here runs synchronously under e.mu rather than through a
// background queue, so acquiring and releasing that same mutex is by
// itself sufficient proof nothing is still mid-flight.
func (e *Engine) WaitForOps() {
	e.mu.Lock()
	e.mu.Unlock()
}

// IndexesNeedingRebuild compares each registered index's on-disk high-water
// mark against the data file's own, per spec.md §4.8's recovery rule ("the
// data file is authoritative; an index behind it is rebuilt from scratch
// rather than partially replayed"). Engine has no Row/Pk type to replay
// rows with, so rebuilding itself is left to the caller (typically
// worktable.Table, which does know how to re-derive index entries from its
// rows) — this method only identifies which indexes need it.
func (e *Engine) IndexesNeedingRebuild(dataHighWater uint64) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var stale []string
	if e.primary != nil && e.primary.HighWaterEventID() < dataHighWater {
		stale = append(stale, e.primary.Name())
	}
	for _, name := range sortedKeys(e.secondaries) {
		if e.secondaries[name].HighWaterEventID() < dataHighWater {
			stale = append(stale, name)
		}
	}
	return stale
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dataPages.Close()
}

func sortedKeys(m map[string]Index) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
