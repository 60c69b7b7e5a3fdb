package persistence

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTableOfContentsBindGet(t *testing.T) {
	toc := newTableOfContents[int]()
	toc.bind(10, 1)
	toc.bind(20, 2)

	pageID, ok := toc.get(10)
	require.True(t, ok)
	require.EqualValues(t, 1, pageID)
	require.Equal(t, 2, toc.len())
}

func TestTableOfContentsRebindPreservesPageID(t *testing.T) {
	toc := newTableOfContents[int]()
	toc.bind(10, 1)

	toc.rebind(10, 15)

	_, ok := toc.get(10)
	require.False(t, ok)
	pageID, ok := toc.get(15)
	require.True(t, ok)
	require.EqualValues(t, 1, pageID)
}

func TestTableOfContentsUnbind(t *testing.T) {
	toc := newTableOfContents[int]()
	toc.bind(10, 1)
	toc.unbind(10)
	require.Zero(t, toc.len())
}
