package cdcindex

import (
	"fmt"

	"github.com/pathscale/worktable/pagestore"
)

// ErrDuplicateKey is returned by a UniqueIndex when Insert is given a key
// that already maps to a Link.
var ErrDuplicateKey = fmt.Errorf("cdcindex: duplicate key")

// UniqueIndex enforces one Link per key — the shape every primary key
// index and every `unique` secondary index uses.
type UniqueIndex[K comparable] struct {
	tree *Tree[K]
}

func NewUniqueIndex[K comparable](less func(a, b K) bool) *UniqueIndex[K] {
	return &UniqueIndex[K]{tree: NewTree[K](less)}
}

func (idx *UniqueIndex[K]) Insert(key K, link pagestore.Link) ([]ChangeEvent[K], error) {
	if len(idx.tree.Lookup(key)) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrDuplicateKey, key)
	}
	return idx.tree.Insert(key, link), nil
}

func (idx *UniqueIndex[K]) Remove(key K, link pagestore.Link) []ChangeEvent[K] {
	return idx.tree.Remove(key, link)
}

func (idx *UniqueIndex[K]) Lookup(key K) (pagestore.Link, bool) {
	links := idx.tree.Lookup(key)
	if len(links) == 0 {
		return pagestore.Link{}, false
	}
	return links[0], true
}

func (idx *UniqueIndex[K]) Range(min, max K, hasMin, hasMax bool, fn func(Pair[K]) bool) {
	idx.tree.Range(min, max, hasMin, hasMax, fn)
}

func (idx *UniqueIndex[K]) All() []Pair[K] { return idx.tree.All() }
func (idx *UniqueIndex[K]) Len() int       { return idx.tree.Len() }

// NonUniqueIndex lets many rows share a key (an ordinary, non-`unique`
// secondary index), disambiguating same-key entries with a random
// discriminator per spec.md §9 and original_source's multipair scheme.
type NonUniqueIndex[K comparable] struct {
	tree    *Tree[Discriminated[K]]
	keyLess func(a, b K) bool
}

func NewNonUniqueIndex[K comparable](keyLess func(a, b K) bool) *NonUniqueIndex[K] {
	return &NonUniqueIndex[K]{tree: NewTree[Discriminated[K]](NonUniqueLess(keyLess)), keyLess: keyLess}
}

// NonUniqueLess builds the (Key, Discriminator) ordering a NonUniqueIndex's
// tree sorts by, exported so a persistence layer mirroring a non-unique
// index's pages orders its own copy identically without reimplementing the
// tie-break rule.
func NonUniqueLess[K comparable](keyLess func(a, b K) bool) func(a, b Discriminated[K]) bool {
	return func(a, b Discriminated[K]) bool {
		if !equalKey(a.Key, b.Key, keyLess) {
			return keyLess(a.Key, b.Key)
		}
		return a.Discriminator < b.Discriminator
	}
}

func equalKey[K comparable](a, b K, less func(a, b K) bool) bool {
	return !less(a, b) && !less(b, a)
}

func (idx *NonUniqueIndex[K]) Insert(key K, link pagestore.Link) (MultiPair[K], []ChangeEvent[Discriminated[K]]) {
	mp := withDiscriminatorFrom(key, link, 0, func(d Discriminated[K]) bool {
		return len(idx.tree.Lookup(d)) > 0
	})
	events := idx.tree.Insert(Discriminated[K]{Key: mp.Key, Discriminator: mp.Discriminator}, link)
	return mp, events
}

func (idx *NonUniqueIndex[K]) Remove(mp MultiPair[K]) []ChangeEvent[Discriminated[K]] {
	return idx.tree.Remove(Discriminated[K]{Key: mp.Key, Discriminator: mp.Discriminator}, mp.Value)
}

// Lookup returns every Link stored under key, across every discriminator.
func (idx *NonUniqueIndex[K]) Lookup(key K) []pagestore.Link {
	var out []pagestore.Link
	idx.tree.Range(
		Discriminated[K]{Key: key, Discriminator: 0},
		Discriminated[K]{Key: key, Discriminator: ^uint64(0)},
		true, true,
		func(p Pair[Discriminated[K]]) bool {
			out = append(out, p.Value)
			return true
		},
	)
	return out
}

func (idx *NonUniqueIndex[K]) Len() int { return idx.tree.Len() }
