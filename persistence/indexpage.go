package persistence

import "github.com/pathscale/worktable/cdcindex"

// indexPage is the in-memory mirror of spec.md §4.6's sized IndexPage body:
// node_id, an indirection vector `slots` giving logical (sorted) order over
// a storage array `indexValues`, so InsertAt/RemoveAt at a logical position
// only ever shift `slots`, never the (possibly large) Pair payloads
// themselves.
//
// current_index (spec.md's "next free storage index") isn't stored — it's
// derived from freeSlots, confirmed against original_source's
// process_insert_at_removed_place golden scenario: immediately after a
// RemoveAt, current_index equals the freed storage index; once that slot
// is reused by the next InsertAt, current_index advances to
// len(indexValues), exactly as if there were no gap.
type indexPage[K comparable] struct {
	nodeID      K
	indexValues []cdcindex.Pair[K]
	slots       []uint16
	freeSlots   []uint16 // LIFO of storage indices RemoveAt freed, reused by InsertAt
}

func newIndexPage[K comparable](nodeID K) *indexPage[K] {
	return &indexPage[K]{nodeID: nodeID}
}

// currentIndex returns the storage index the next InsertAt will use.
func (p *indexPage[K]) currentIndex() uint16 {
	if n := len(p.freeSlots); n > 0 {
		return p.freeSlots[n-1]
	}
	return uint16(len(p.indexValues))
}

// insertAt places pair at logical position index, reusing a freed storage
// slot if one exists.
func (p *indexPage[K]) insertAt(index int, pair cdcindex.Pair[K]) {
	storageIdx := p.currentIndex()
	if n := len(p.freeSlots); n > 0 {
		p.freeSlots = p.freeSlots[:n-1]
		p.indexValues[storageIdx] = pair
	} else {
		p.indexValues = append(p.indexValues, pair)
	}
	p.slots = append(p.slots, 0)
	copy(p.slots[index+1:], p.slots[index:])
	p.slots[index] = storageIdx
}

// removeAt drops the entry at logical position index, freeing its storage
// slot for reuse rather than compacting indexValues.
func (p *indexPage[K]) removeAt(index int) {
	storageIdx := p.slots[index]
	p.slots = append(p.slots[:index], p.slots[index+1:]...)
	p.freeSlots = append(p.freeSlots, storageIdx)
}

// ordered returns the page's entries in logical (sorted) order.
func (p *indexPage[K]) ordered() []cdcindex.Pair[K] {
	out := make([]cdcindex.Pair[K], len(p.slots))
	for i, s := range p.slots {
		out[i] = p.indexValues[s]
	}
	return out
}

func (p *indexPage[K]) len() int { return len(p.slots) }

// split carves off every entry at logical position >= splitIndex into a
// freshly allocated page, renumbering their storage indices contiguously —
// spec.md §4.6's SplitNode effect. The receiver keeps the lower half.
func (p *indexPage[K]) split(splitIndex int) *indexPage[K] {
	rightEntries := p.ordered()[splitIndex:]
	right := &indexPage[K]{
		indexValues: append([]cdcindex.Pair[K](nil), rightEntries...),
		slots:       make([]uint16, len(rightEntries)),
	}
	for i := range right.slots {
		right.slots[i] = uint16(i)
	}
	if n := len(rightEntries); n > 0 {
		right.nodeID = rightEntries[n-1].Key
	}

	leftEntries := p.ordered()[:splitIndex]
	p.indexValues = append([]cdcindex.Pair[K](nil), leftEntries...)
	p.slots = make([]uint16, len(leftEntries))
	for i := range p.slots {
		p.slots[i] = uint16(i)
	}
	p.freeSlots = nil
	if n := len(leftEntries); n > 0 {
		p.nodeID = leftEntries[n-1].Key
	}

	return right
}
