// Package cdcindex implements the ordered index that backs both the
// primary key and every secondary index of a table: an in-memory,
// generic B-tree that emits a Change-Data-Capture event stream for every
// structural mutation, so a persistence layer can replay exactly what
// happened without re-deriving it from before/after snapshots.
package cdcindex

import (
	"fmt"
	"math/rand"

	"github.com/pathscale/worktable/pagestore"
)

// Pair is a unique-index entry: one key maps to exactly one Link.
type Pair[K comparable] struct {
	Key   K
	Value pagestore.Link
}

// MultiPair is a non-unique-index entry: multiple rows can share Key, so a
// random Discriminator is folded in to keep map/tree storage addressable
// by a single comparable composite key, matching original_source's
// indexset::multipair scheme.
type MultiPair[K comparable] struct {
	Key           K
	Value         pagestore.Link
	Discriminator uint64
}

// Discriminated is the composite key a MultiPair actually sorts and
// compares by: (Key, Discriminator). Exported so a persistence layer can
// mirror a non-unique index's on-disk pages keyed the same way the
// in-memory tree is.
type Discriminated[K comparable] struct {
	Key           K
	Discriminator uint64
}

// withDiscriminatorFrom picks a Discriminator for key uniformly at random
// over the full uint64 range, matching original_source's
// `Pair::with_last_discriminator`, and retries on the (astronomically
// unlikely) event that the composite key already exists — see spec.md §9's
// design note on random discriminators. floor is kept in the signature to
// mirror the original's bounded-range variant; this index never needs a
// non-zero floor, so every call site passes 0.
func withDiscriminatorFrom[K comparable](key K, link pagestore.Link, floor uint64, exists func(Discriminated[K]) bool) MultiPair[K] {
	for {
		d := floor + rand.Uint64()
		if !exists(Discriminated[K]{Key: key, Discriminator: d}) {
			return MultiPair[K]{Key: key, Value: link, Discriminator: d}
		}
	}
}

func (p Pair[K]) String() string {
	return fmt.Sprintf("Pair{%v -> %s}", p.Key, p.Value)
}

func (p MultiPair[K]) String() string {
	return fmt.Sprintf("MultiPair{%v#%d -> %s}", p.Key, p.Discriminator, p.Value)
}
