package pagestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDataPagesInsertSelectDelete(t *testing.T) {
	dp, err := OpenMemory(NewUnsized())
	require.NoError(t, err)

	link, err := dp.Insert(1, []byte("hello worktable"))
	require.NoError(t, err)

	got, err := dp.Select(link)
	require.NoError(t, err)
	require.Equal(t, "hello worktable", string(got))

	require.NoError(t, dp.Delete(link))
	_, err = dp.Select(link)
	require.ErrorIs(t, err, ErrInvalidLink)
}

func TestDataPagesUpdateSameLength(t *testing.T) {
	dp, err := OpenMemory(NewSized())
	require.NoError(t, err)

	link, err := dp.Insert(1, []byte("abcdefgh"))
	require.NoError(t, err)

	newLink, err := dp.Update(link, 1, []byte("ABCDEFGH"))
	require.NoError(t, err)
	require.Equal(t, link, newLink)

	got, err := dp.Select(newLink)
	require.NoError(t, err)
	require.Equal(t, "ABCDEFGH", string(got))
}

func TestDataPagesUpdateDifferentLength(t *testing.T) {
	dp, err := OpenMemory(NewUnsized())
	require.NoError(t, err)

	link, err := dp.Insert(1, []byte("short"))
	require.NoError(t, err)

	newLink, err := dp.Update(link, 1, []byte("a much longer replacement value"))
	require.NoError(t, err)
	require.NotEqual(t, link, newLink)

	_, err = dp.Select(link)
	require.ErrorIs(t, err, ErrInvalidLink)

	got, err := dp.Select(newLink)
	require.NoError(t, err)
	require.Equal(t, "a much longer replacement value", string(got))
}

func TestDataPagesOverflowRow(t *testing.T) {
	dp, err := OpenMemory(NewUnsized())
	require.NoError(t, err)

	// Pseudo-random bytes give snappy nothing to compress, so the stored row
	// stays above maxInlineRecordSize and takes the overflow path.
	big := make([]byte, maxInlineRecordSize*3)
	x := uint32(1)
	for i := range big {
		x = x*1664525 + 1013904223
		big[i] = byte(x >> 24)
	}
	link, err := dp.Insert(1, big)
	require.NoError(t, err)

	got, err := dp.Select(link)
	require.NoError(t, err)
	require.Equal(t, big, got)
}

func TestDataPagesEmptyLinkReuse(t *testing.T) {
	dp, err := OpenMemory(NewSized())
	require.NoError(t, err)

	l1, err := dp.Insert(1, []byte("12345678"))
	require.NoError(t, err)
	require.NoError(t, dp.Delete(l1))

	before := dp.TotalPages()
	l2, err := dp.Insert(2, []byte("87654321"))
	require.NoError(t, err)
	require.Equal(t, before, dp.TotalPages(), "reusing a freed link must not grow the store")
	require.Equal(t, l1.PageID, l2.PageID)
	require.Equal(t, l1.Offset, l2.Offset)
}

func TestDataPagesPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table.wt")

	dp, err := Open(path, NewUnsized())
	require.NoError(t, err)
	link, err := dp.Insert(1, []byte("durable row"))
	require.NoError(t, err)
	require.NoError(t, dp.CommitWAL())
	require.NoError(t, dp.Close())

	dp2, err := Open(path, NewUnsized())
	require.NoError(t, err)
	defer dp2.Close()

	got, err := dp2.Select(link)
	require.NoError(t, err)
	require.Equal(t, "durable row", string(got))

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
}

func TestDataPagesRollbackTx(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tx.wt")
	dp, err := Open(path, NewUnsized())
	require.NoError(t, err)
	defer dp.Close()

	l1, err := dp.Insert(1, []byte("committed"))
	require.NoError(t, err)

	require.NoError(t, dp.BeginTx())
	_, err = dp.Insert(2, []byte("should vanish"))
	require.NoError(t, err)
	require.NoError(t, dp.RollbackTx())

	got, err := dp.Select(l1)
	require.NoError(t, err)
	require.Equal(t, "committed", string(got))
}
