package persistence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pathscale/worktable/pagestore"
	"github.com/pathscale/worktable/worktable"
)

// fakeIndex lets engine tests exercise Apply/Persist's dispatch logic
// without pulling in a full generic SpaceIndex[K] instantiation.
type fakeIndex struct {
	name       string
	applied    []worktable.Event
	highWater  uint64
	writtenTo  []string
	loadedFrom []string
}

func (f *fakeIndex) Name() string { return f.name }

func (f *fakeIndex) ApplyEvents(events []worktable.Event) error {
	f.applied = append(f.applied, events...)
	if n := len(events); n > 0 {
		f.highWater = events[n-1].ID
	}
	return nil
}

func (f *fakeIndex) HighWaterEventID() uint64 { return f.highWater }

func (f *fakeIndex) WriteFile(path string) error {
	f.writtenTo = append(f.writtenTo, path)
	return nil
}

func (f *fakeIndex) LoadFile(path string) error {
	f.loadedFrom = append(f.loadedFrom, path)
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeIndex, *fakeIndex) {
	t.Helper()
	dp, err := pagestore.OpenMemory(pagestore.NewUnsized())
	require.NoError(t, err)

	cfg := PersistenceConfig{DBDir: t.TempDir(), TableDir: "people"}
	e := New(cfg, "people", dp)

	primary := &fakeIndex{name: PrimaryIndexName}
	byName := &fakeIndex{name: "by_name"}
	e.RegisterPrimary(primary)
	e.RegisterSecondary(byName)
	return e, primary, byName
}

func TestEngineApplyDispatchesToRegisteredIndexes(t *testing.T) {
	e, primary, byName := newTestEngine(t)

	op := worktable.Op{
		PrimaryEvents: []worktable.Event{{ID: 1}},
		SecondaryEvents: map[string][]worktable.Event{
			"by_name": {{ID: 1}},
		},
		SecondaryOrder: []string{"by_name"},
	}

	require.NoError(t, e.Apply(op))
	require.Len(t, primary.applied, 1)
	require.Len(t, byName.applied, 1)
}

func TestEngineApplyUnregisteredSecondaryErrors(t *testing.T) {
	e, _, _ := newTestEngine(t)
	op := worktable.Op{
		SecondaryEvents: map[string][]worktable.Event{"by_age": {{ID: 1}}},
		SecondaryOrder:  []string{"by_age"},
	}
	require.Error(t, e.Apply(op))
}

func TestEngineSyncEveryOpFlushesImmediately(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.cfg.Sync = SyncEveryOp
	require.NoError(t, e.Apply(worktable.Op{PrimaryEvents: []worktable.Event{{ID: 1}}}))
	require.Zero(t, e.opsSinceSync)
}

func TestEngineSyncBatchedWaitsForBatchSize(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.cfg.Sync = SyncBatched
	e.cfg.BatchSize = 2

	require.NoError(t, e.Apply(worktable.Op{PrimaryEvents: []worktable.Event{{ID: 1}}}))
	require.Equal(t, 1, e.opsSinceSync)

	require.NoError(t, e.Apply(worktable.Op{PrimaryEvents: []worktable.Event{{ID: 2}}}))
	require.Zero(t, e.opsSinceSync)
}

func TestEnginePersistWritesSpaceInfoPerIndex(t *testing.T) {
	e, primary, byName := newTestEngine(t)
	primary.highWater = 5
	byName.highWater = 3

	require.NoError(t, e.Persist())

	si, err := loadSpaceInfo(e.cfg.SpaceInfoPath("people", PrimaryIndexName))
	require.NoError(t, err)
	require.EqualValues(t, 5, si.HighWater[PrimaryIndexName])

	si2, err := loadSpaceInfo(e.cfg.SpaceInfoPath("people", "by_name"))
	require.NoError(t, err)
	require.EqualValues(t, 3, si2.HighWater["by_name"])
}

func TestEnginePersistWritesIndexPagesBeforeSpaceInfo(t *testing.T) {
	e, primary, byName := newTestEngine(t)

	require.NoError(t, e.Persist())
	require.Equal(t, []string{e.cfg.IndexFilePath("people", PrimaryIndexName)}, primary.writtenTo)
	require.Equal(t, []string{e.cfg.IndexFilePath("people", "by_name")}, byName.writtenTo)
}

func TestEngineLoadFromFileLoadsEveryRegisteredIndex(t *testing.T) {
	e, primary, byName := newTestEngine(t)

	require.NoError(t, e.LoadFromFile())
	require.Equal(t, []string{e.cfg.IndexFilePath("people", PrimaryIndexName)}, primary.loadedFrom)
	require.Equal(t, []string{e.cfg.IndexFilePath("people", "by_name")}, byName.loadedFrom)
}

func TestEngineWaitForOpsReturnsAfterPendingApply(t *testing.T) {
	e, _, _ := newTestEngine(t)
	require.NoError(t, e.Apply(worktable.Op{PrimaryEvents: []worktable.Event{{ID: 1}}}))
	e.WaitForOps()
}

func TestEngineIndexesNeedingRebuild(t *testing.T) {
	e, primary, byName := newTestEngine(t)
	primary.highWater = 10
	byName.highWater = 4

	stale := e.IndexesNeedingRebuild(10)
	require.Equal(t, []string{"by_name"}, stale)
}

func TestPersistenceConfigFilePaths(t *testing.T) {
	cfg := PersistenceConfig{DBDir: "/db", TableDir: "people"}
	require.Equal(t, filepath.Join("/db", "people", "people.wt"), cfg.DataFilePath("people"))
	require.Equal(t, filepath.Join("/db", "people", "people.idx"), cfg.IndexFilePath("people", PrimaryIndexName))
	require.Equal(t, filepath.Join("/db", "people", "people.by_name.idx"), cfg.IndexFilePath("people", "by_name"))
}
