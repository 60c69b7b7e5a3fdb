package pagestore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSizedRegistryLIFO(t *testing.T) {
	r := NewSized()
	_, ok := r.FindLinkWithLength(8)
	require.False(t, ok)

	l1 := Link{PageID: 1, Offset: 0, Length: 8}
	l2 := Link{PageID: 1, Offset: 16, Length: 8}
	r.AddEmptyLink(l1)
	r.AddEmptyLink(l2)

	got, ok := r.FindLinkWithLength(8)
	require.True(t, ok)
	require.Equal(t, l2, got)
}

func TestUnsizedRegistryBestFit(t *testing.T) {
	r := NewUnsized()
	small := Link{PageID: 1, Offset: 0, Length: 16}
	big := Link{PageID: 1, Offset: 64, Length: 128}
	r.AddEmptyLink(small)
	r.AddEmptyLink(big)

	got, ok := r.FindLinkWithLength(32)
	require.True(t, ok)
	require.Equal(t, big, got, "smallest link that still fits the requested size wins")

	got2, ok := r.FindLinkWithLength(16)
	require.True(t, ok)
	require.Equal(t, small, got2, "the too-small link for the 32-byte request remains available for a 16-byte one")
}

func TestUnsizedRegistryExactFit(t *testing.T) {
	r := NewUnsized()
	exact := Link{PageID: 2, Offset: 0, Length: 24}
	r.AddEmptyLink(exact)

	got, ok := r.FindLinkWithLength(24)
	require.True(t, ok)
	require.Equal(t, exact, got)

	_, ok = r.FindLinkWithLength(24)
	require.False(t, ok)
}
