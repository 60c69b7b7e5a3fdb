package persistence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pathscale/worktable/pagestore"
)

func TestSpaceInfoRoundTrip(t *testing.T) {
	si := newSpaceInfo("people")
	si.NextPageID = 7
	si.HighWater[PrimaryIndexName] = 42
	si.FreeLinks = []pagestore.Link{{PageID: 3, Offset: 0, Length: 16}}
	si.PkGeneratorState = 99

	path := filepath.Join(t.TempDir(), "people.idx.info")
	require.NoError(t, saveSpaceInfo(path, si))

	got, err := loadSpaceInfo(path)
	require.NoError(t, err)
	require.Equal(t, si, got)
}

func TestSpaceInfoRejectsBadMagic(t *testing.T) {
	si := newSpaceInfo("people")
	data, err := encodeSpaceInfo(si)
	require.NoError(t, err)

	data[0] ^= 0xFF // corrupt the magic
	_, err = decodeSpaceInfo(data)
	require.Error(t, err)
}
