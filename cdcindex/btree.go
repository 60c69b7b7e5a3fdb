package cdcindex

import (
	"sort"
	"sync"

	"github.com/pathscale/worktable/pagestore"
)

// DefaultNodeCapacity bounds how many entries a leaf holds before a
// SplitNode event is emitted — the in-memory analogue of the teacher's
// maxLeafPayload byte budget, expressed as an entry count since this tree
// holds typed keys rather than raw page bytes.
const DefaultNodeCapacity = 128

type leaf[K comparable] struct {
	entries []Pair[K] // kept sorted ascending by Less
	next    *leaf[K]
}

func (l *leaf[K]) nodeID() K {
	return l.entries[len(l.entries)-1].Key
}

// Tree is an in-memory ordered index over comparable keys, structured as a
// chain of leaves (the teacher's btree.go leaf-chain, generalized off
// page-bound internal nodes onto a flat chain since an in-memory node
// needn't be page-sized — see DESIGN.md for why the multi-level internal
// node descent was traded for this). Every Insert/Remove returns the
// ChangeEvents spec.md §4.3 names, so a persistence layer can apply them
// to on-disk SpaceIndex pages without re-deriving the delta.
type Tree[K comparable] struct {
	mu           sync.Mutex
	less         func(a, b K) bool
	head         *leaf[K]
	nodeCapacity int
	nextEventID  uint64
}

// NewTree creates an empty tree ordered by less.
func NewTree[K comparable](less func(a, b K) bool) *Tree[K] {
	return &Tree[K]{less: less, nodeCapacity: DefaultNodeCapacity}
}

func (t *Tree[K]) event(kind EventKind) ChangeEvent[K] {
	t.nextEventID++
	return ChangeEvent[K]{ID: t.nextEventID, Kind: kind}
}

// findLeaf returns the leaf key should live in, and the leaf before it (nil
// if it's the head).
func (t *Tree[K]) findLeaf(key K) (prev, cur *leaf[K]) {
	cur = t.head
	for cur != nil && cur.next != nil && t.less(cur.nodeID(), key) {
		prev = cur
		cur = cur.next
	}
	return prev, cur
}

func (t *Tree[K]) insertPos(entries []Pair[K], key K) int {
	return sort.Search(len(entries), func(i int) bool { return !t.less(entries[i].Key, key) })
}

// Insert adds (key -> link) to the tree, returning the CDC events the
// mutation produced: a single CreateNode for the very first entry, a
// single InsertAt for an ordinary leaf insert, or an InsertAt immediately
// followed by a SplitNode when the leaf overflowed nodeCapacity.
func (t *Tree[K]) Insert(key K, link pagestore.Link) []ChangeEvent[K] {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry := Pair[K]{Key: key, Value: link}

	if t.head == nil {
		t.head = &leaf[K]{entries: []Pair[K]{entry}}
		ev := t.event(EventCreateNode)
		ev.NodeID = key
		ev.Entry = entry
		return []ChangeEvent[K]{ev}
	}

	_, node := t.findLeaf(key)
	oldID := node.nodeID()
	pos := t.insertPos(node.entries, key)
	node.entries = append(node.entries, Pair[K]{})
	copy(node.entries[pos+1:], node.entries[pos:])
	node.entries[pos] = entry

	insertEvent := t.event(EventInsertAt)
	insertEvent.OldNodeID = oldID
	insertEvent.NodeID = node.nodeID()
	insertEvent.Entry = entry
	events := []ChangeEvent[K]{insertEvent}

	if len(node.entries) > t.nodeCapacity {
		events = append(events, t.splitLeaf(node))
	}
	return events
}

func (t *Tree[K]) splitLeaf(node *leaf[K]) ChangeEvent[K] {
	mid := len(node.entries) / 2
	rightEntries := make([]Pair[K], len(node.entries)-mid)
	copy(rightEntries, node.entries[mid:])
	node.entries = node.entries[:mid:mid]

	right := &leaf[K]{entries: rightEntries, next: node.next}
	oldID := rightEntries[len(rightEntries)-1].Key // the node's identity before the split (it held everything)
	node.next = right

	ev := t.event(EventSplitNode)
	ev.OldNodeID = oldID
	ev.NodeID = node.nodeID()
	ev.NewNodeID = right.nodeID()
	return ev
}

// Remove deletes the first entry matching (key, link) — link disambiguates
// among multiple rows sharing the same key, as produced by a non-unique
// index's discriminated lookup. Returns the CDC events produced: a
// RemoveAt, or a RemoveNode instead when the leaf becomes empty.
func (t *Tree[K]) Remove(key K, link pagestore.Link) []ChangeEvent[K] {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, node := t.findLeaf(key)
	if node == nil {
		return nil
	}
	idx := -1
	for i, e := range node.entries {
		if e.Key == key && e.Value == link {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil
	}
	oldID := node.nodeID()
	removed := node.entries[idx]
	node.entries = append(node.entries[:idx], node.entries[idx+1:]...)

	if len(node.entries) == 0 {
		t.unlinkLeaf(node)
		ev := t.event(EventRemoveNode)
		ev.OldNodeID = oldID
		ev.Entry = removed
		return []ChangeEvent[K]{ev}
	}

	ev := t.event(EventRemoveAt)
	ev.OldNodeID = oldID
	ev.NodeID = node.nodeID()
	ev.Entry = removed
	return []ChangeEvent[K]{ev}
}

func (t *Tree[K]) unlinkLeaf(target *leaf[K]) {
	if t.head == target {
		t.head = target.next
		return
	}
	for cur := t.head; cur != nil; cur = cur.next {
		if cur.next == target {
			cur.next = target.next
			return
		}
	}
}

// Lookup returns every Link stored under key.
func (t *Tree[K]) Lookup(key K) []pagestore.Link {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, node := t.findLeaf(key)
	if node == nil {
		return nil
	}
	var out []pagestore.Link
	for cur := node; cur != nil; cur = cur.next {
		for _, e := range cur.entries {
			if e.Key == key {
				out = append(out, e.Value)
			} else if t.less(key, e.Key) {
				return out
			}
		}
	}
	return out
}

// Range calls fn for every entry with min <= Key <= max, in ascending
// order, stopping early if fn returns false. A zero-value bound (caller
// passes hasMin/hasMax=false) means unbounded on that side.
func (t *Tree[K]) Range(min, max K, hasMin, hasMax bool, fn func(Pair[K]) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var node *leaf[K]
	if hasMin {
		_, node = t.findLeaf(min)
	} else {
		node = t.head
	}
	for cur := node; cur != nil; cur = cur.next {
		for _, e := range cur.entries {
			if hasMin && t.less(e.Key, min) {
				continue
			}
			if hasMax && t.less(max, e.Key) {
				return
			}
			if !fn(e) {
				return
			}
		}
	}
}

// All returns every entry in ascending order — used by Count()/full scans.
func (t *Tree[K]) All() []Pair[K] {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Pair[K]
	for cur := t.head; cur != nil; cur = cur.next {
		out = append(out, cur.entries...)
	}
	return out
}

// Len returns the total number of entries across every leaf.
func (t *Tree[K]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for cur := t.head; cur != nil; cur = cur.next {
		n += len(cur.entries)
	}
	return n
}
