package persistence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pathscale/worktable/cdcindex"
)

func lessInt(a, b int) bool { return a < b }

func TestSpaceIndexReplaysTreeEvents(t *testing.T) {
	tree := cdcindex.NewTree[int](lessInt)
	si := NewSpaceIndex[int]("by_age", lessInt)

	for i := 0; i < cdcindex.DefaultNodeCapacity+10; i++ {
		events := tree.Insert(i, link(uint32(i)))
		for _, ev := range events {
			require.NoError(t, si.ApplyEvent(ev))
		}
	}

	require.Equal(t, tree.Len(), len(si.All()))
	for i, pair := range si.All() {
		require.Equal(t, i, pair.Key)
	}
}

func TestSpaceIndexRemoveAt(t *testing.T) {
	tree := cdcindex.NewTree[int](lessInt)
	si := NewSpaceIndex[int]("pk", lessInt)

	for _, k := range []int{1, 2, 3} {
		for _, ev := range tree.Insert(k, link(uint32(k))) {
			require.NoError(t, si.ApplyEvent(ev))
		}
	}

	for _, ev := range tree.Remove(2, link(2)) {
		require.NoError(t, si.ApplyEvent(ev))
	}

	require.Equal(t, []int{1, 3}, keysOf(si.All()))
}

func TestSpaceIndexRemoveNodeDropsBinding(t *testing.T) {
	tree := cdcindex.NewTree[int](lessInt)
	si := NewSpaceIndex[int]("pk", lessInt)

	for _, ev := range tree.Insert(1, link(1)) {
		require.NoError(t, si.ApplyEvent(ev))
	}
	for _, ev := range tree.Remove(1, link(1)) {
		require.NoError(t, si.ApplyEvent(ev))
	}

	require.Empty(t, si.All())
	require.Zero(t, si.toc.len())
}

func TestSpaceIndexIdempotentReplay(t *testing.T) {
	tree := cdcindex.NewTree[int](lessInt)
	si := NewSpaceIndex[int]("pk", lessInt)

	var events []cdcindex.ChangeEvent[int]
	events = append(events, tree.Insert(1, link(1))...)
	events = append(events, tree.Insert(2, link(2))...)

	for _, ev := range events {
		require.NoError(t, si.ApplyEvent(ev))
	}
	// Redeliver the same batch — every event is at or below the high-water
	// mark, so this must be a pure no-op.
	for _, ev := range events {
		require.NoError(t, si.ApplyEvent(ev))
	}

	require.Equal(t, []int{1, 2}, keysOf(si.All()))
}

func TestSpaceIndexSplitMatchesTree(t *testing.T) {
	tree := cdcindex.NewTree[int](lessInt)
	si := NewSpaceIndex[int]("pk", lessInt)

	for i := 0; i < cdcindex.DefaultNodeCapacity+1; i++ {
		for _, ev := range tree.Insert(i, link(uint32(i))) {
			require.NoError(t, si.ApplyEvent(ev))
		}
	}

	require.Len(t, si.pages, 2, "the node overflowed nodeCapacity exactly once, producing one split")
	require.Equal(t, keysOf(toAll(tree)), keysOf(si.All()))
}

func toAll(tree *cdcindex.Tree[int]) []cdcindex.Pair[int] {
	return tree.All()
}

// TestSpaceIndexMirrorsNonUniqueIndex exercises the Discriminated[K] path a
// non-unique secondary index actually uses on disk — cmd/example/main.go's
// by_kind index wires persistence.NewSpaceIndex[cdcindex.Discriminated[K]]
// exactly this way.
func TestSpaceIndexMirrorsNonUniqueIndex(t *testing.T) {
	less := cdcindex.NonUniqueLess(lessStr)
	idx := cdcindex.NewNonUniqueIndex[string](lessStr)
	si := NewSpaceIndex[cdcindex.Discriminated[string]]("by_kind", less)

	var mps []cdcindex.MultiPair[string]
	for i, kind := range []string{"oracle", "mysql", "oracle", "postgres"} {
		mp, events := idx.Insert(kind, link(uint32(i)))
		mps = append(mps, mp)
		for _, ev := range events {
			require.NoError(t, si.ApplyEvent(ev))
		}
	}

	require.Equal(t, idx.Len(), len(si.All()))

	for _, ev := range idx.Remove(mps[0]) {
		require.NoError(t, si.ApplyEvent(ev))
	}
	require.Equal(t, idx.Len(), len(si.All()))
}

func lessStr(a, b string) bool { return a < b }

// TestSpaceIndexWriteFileThenLoadFileRoundTrips is §4.6/§6's on-disk
// contract: a SpaceIndex's pages and table of contents survive a WriteFile
// into a fresh SpaceIndex via LoadFile with the same All() pairs and the
// same high-water mark, the property the CDC-replay byte-equal scenario
// depends on.
func TestSpaceIndexWriteFileThenLoadFileRoundTrips(t *testing.T) {
	tree := cdcindex.NewTree[int](lessInt)
	si := NewSpaceIndex[int]("pk", lessInt)

	for i := 0; i < cdcindex.DefaultNodeCapacity+10; i++ {
		for _, ev := range tree.Insert(i, link(uint32(i))) {
			require.NoError(t, si.ApplyEvent(ev))
		}
	}

	path := filepath.Join(t.TempDir(), "pk.idx")
	require.NoError(t, si.WriteFile(path))

	reloaded := NewSpaceIndex[int]("pk", lessInt)
	require.NoError(t, reloaded.LoadFile(path))

	require.Equal(t, si.HighWaterEventID(), reloaded.HighWaterEventID())
	require.Equal(t, si.All(), reloaded.All())
}

// TestSpaceIndexLoadFileMissingFileIsNotAnError grounds original_source's
// TestConcurrentWorkTable::load_from_file tolerance: calling LoadFile
// against a table directory that has never been persisted yet must leave a
// brand-new SpaceIndex empty rather than failing.
func TestSpaceIndexLoadFileMissingFileIsNotAnError(t *testing.T) {
	si := NewSpaceIndex[int]("pk", lessInt)
	path := filepath.Join(t.TempDir(), "does-not-exist.idx")
	require.NoError(t, si.LoadFile(path))
	require.Empty(t, si.All())
}
