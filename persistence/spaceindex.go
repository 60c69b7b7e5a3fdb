package persistence

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/natefinch/atomic"

	"github.com/pathscale/worktable/cdcindex"
	"github.com/pathscale/worktable/worktable"
)

// SpaceIndex is the on-disk mirror of one cdcindex.Tree, rebuilt by replaying
// the ChangeEvent stream the tree emits on every Insert/Remove — spec.md
// §4.6/§4.8's SpaceIndex. It never talks to the in-memory tree directly; the
// only channel between them is the event log, so a crash can always recover
// by starting a fresh SpaceIndex and replaying from event_id 0.
type SpaceIndex[K comparable] struct {
	mu        sync.Mutex
	name      string
	less      func(a, b K) bool
	pages     map[uint32]*indexPage[K]
	toc       *tableOfContents[K]
	nextPage  uint32
	highWater uint64
}

// NewSpaceIndex creates an empty on-disk index mirror, name matching the
// worktable index it shadows ("__primary__" for the primary index, or a
// secondary index's registered name).
func NewSpaceIndex[K comparable](name string, less func(a, b K) bool) *SpaceIndex[K] {
	return &SpaceIndex[K]{
		name:     name,
		less:     less,
		pages:    make(map[uint32]*indexPage[K]),
		toc:      newTableOfContents[K](),
		nextPage: 1,
	}
}

func (s *SpaceIndex[K]) allocPage() uint32 {
	id := s.nextPage
	s.nextPage++
	return id
}

// ApplyEvent applies one cdcindex.ChangeEvent to the page mirror, per
// spec.md §4.6's event table. Idempotent: an event at or below the stored
// high-water mark is a no-op, so re-delivery during recovery is safe.
func (s *SpaceIndex[K]) ApplyEvent(ev cdcindex.ChangeEvent[K]) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.ID <= s.highWater {
		return nil
	}

	switch ev.Kind {
	case cdcindex.EventCreateNode:
		pageID := s.allocPage()
		page := newIndexPage[K](ev.NodeID)
		page.insertAt(0, ev.Entry)
		s.pages[pageID] = page
		s.toc.bind(ev.NodeID, pageID)

	case cdcindex.EventRemoveNode:
		pageID, ok := s.toc.get(ev.OldNodeID)
		if !ok {
			return fmt.Errorf("persistence: spaceindex %s: RemoveNode: unknown node %v", s.name, ev.OldNodeID)
		}
		delete(s.pages, pageID)
		s.toc.unbind(ev.OldNodeID)

	case cdcindex.EventInsertAt:
		pageID, ok := s.toc.get(ev.OldNodeID)
		if !ok {
			return fmt.Errorf("persistence: spaceindex %s: InsertAt: unknown node %v", s.name, ev.OldNodeID)
		}
		page := s.pages[pageID]
		pos := s.insertPos(page, ev.Entry.Key)
		page.insertAt(pos, ev.Entry)
		if ev.NodeID != ev.OldNodeID {
			s.toc.rebind(ev.OldNodeID, ev.NodeID)
		}

	case cdcindex.EventRemoveAt:
		pageID, ok := s.toc.get(ev.OldNodeID)
		if !ok {
			return fmt.Errorf("persistence: spaceindex %s: RemoveAt: unknown node %v", s.name, ev.OldNodeID)
		}
		page := s.pages[pageID]
		pos, ok := s.findEntry(page, ev.Entry)
		if !ok {
			return fmt.Errorf("persistence: spaceindex %s: RemoveAt: entry not found on node %v", s.name, ev.OldNodeID)
		}
		page.removeAt(pos)
		if ev.NodeID != ev.OldNodeID {
			s.toc.rebind(ev.OldNodeID, ev.NodeID)
		}

	case cdcindex.EventSplitNode:
		pageID, ok := s.toc.get(ev.OldNodeID)
		if !ok {
			return fmt.Errorf("persistence: spaceindex %s: SplitNode: unknown node %v", s.name, ev.OldNodeID)
		}
		left := s.pages[pageID]
		splitIdx := left.len() / 2
		right := left.split(splitIdx)

		newPageID := s.allocPage()
		s.pages[newPageID] = right

		s.toc.unbind(ev.OldNodeID)
		s.toc.bind(ev.NodeID, pageID)
		s.toc.bind(ev.NewNodeID, newPageID)

	default:
		return fmt.Errorf("persistence: spaceindex %s: unknown event kind %v", s.name, ev.Kind)
	}

	s.highWater = ev.ID
	return nil
}

func (s *SpaceIndex[K]) insertPos(page *indexPage[K], key K) int {
	entries := page.ordered()
	return sort.Search(len(entries), func(i int) bool { return !s.less(entries[i].Key, key) })
}

func (s *SpaceIndex[K]) findEntry(page *indexPage[K], target cdcindex.Pair[K]) (int, bool) {
	for i, e := range page.ordered() {
		if e.Key == target.Key && e.Value == target.Value {
			return i, true
		}
	}
	return -1, false
}

// HighWaterEventID returns the last applied event's ID, used both to decide
// whether recovery needs to replay further events and, compared against the
// data file's own high-water mark, whether this index needs a full rebuild
// per spec.md §4.8.
func (s *SpaceIndex[K]) HighWaterEventID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highWater
}

// All returns every entry across every page in ascending key order — used
// both by tests and by a full index rebuild.
func (s *SpaceIndex[K]) All() []cdcindex.Pair[K] {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pageIDs []uint32
	for id := range s.pages {
		pageIDs = append(pageIDs, id)
	}
	sort.Slice(pageIDs, func(i, j int) bool {
		return s.less(s.pages[pageIDs[i]].nodeID, s.pages[pageIDs[j]].nodeID)
	})
	var out []cdcindex.Pair[K]
	for _, id := range pageIDs {
		out = append(out, s.pages[id].ordered()...)
	}
	return out
}

// indexFileMagic identifies the gob-encoded page image this file's
// WriteFile/LoadFile write to a table's "{table}.idx" family (spec.md
// §4.6/§6's IndexPage bodies + Table of Contents, the part of an index's
// on-disk state that isn't just the SpaceInfo header spaceinfo.go covers).
var indexFileMagic = [4]byte{'W', 'T', 'I', 'X'}

// pageImage is indexPage's gob-encodable projection — indexPage's own
// fields are unexported, so this is what actually crosses the file
// boundary. PageID is carried alongside so Pages decodes back into the
// same map[uint32]*indexPage[K] keying ApplyEvent relies on.
type pageImage[K comparable] struct {
	PageID      uint32
	NodeID      K
	IndexValues []cdcindex.Pair[K]
	Slots       []uint16
	FreeSlots   []uint16
}

// tocEntry is one ToC binding, exported for the same reason pageImage is.
type tocEntry[K comparable] struct {
	Key    K
	PageID uint32
}

// spaceIndexImage is the whole of a SpaceIndex's on-disk state: every page
// plus the ToC that resolves a node's current identity to one, plus the
// bookkeeping (nextPage, highWater) needed to keep allocating and
// replaying correctly after a reload. Pages and TOC are stored as slices
// sorted by a stable key (page id, and this index's own `less`) rather
// than as Go maps, so the same logical state always gob-encodes to the
// same bytes — map iteration order is not guaranteed stable across runs.
type spaceIndexImage[K comparable] struct {
	Magic     [4]byte
	NextPage  uint32
	HighWater uint64
	TOC       []tocEntry[K]
	Pages     []pageImage[K]
}

// snapshotLocked projects the current page mirror into a deterministically
// ordered spaceIndexImage. Caller must hold s.mu.
func (s *SpaceIndex[K]) snapshotLocked() spaceIndexImage[K] {
	img := spaceIndexImage[K]{
		Magic:     indexFileMagic,
		NextPage:  s.nextPage,
		HighWater: s.highWater,
	}

	for key, pageID := range s.toc.all() {
		img.TOC = append(img.TOC, tocEntry[K]{Key: key, PageID: pageID})
	}
	sort.Slice(img.TOC, func(i, j int) bool { return s.less(img.TOC[i].Key, img.TOC[j].Key) })

	for id, p := range s.pages {
		img.Pages = append(img.Pages, pageImage[K]{
			PageID:      id,
			NodeID:      p.nodeID,
			IndexValues: append([]cdcindex.Pair[K](nil), p.indexValues...),
			Slots:       append([]uint16(nil), p.slots...),
			FreeSlots:   append([]uint16(nil), p.freeSlots...),
		})
	}
	sort.Slice(img.Pages, func(i, j int) bool { return img.Pages[i].PageID < img.Pages[j].PageID })

	return img
}

// WriteFile serializes every page this index currently holds, plus its ToC
// and bookkeeping, to path — the "{table}.idx"-family file spec.md §6
// names, rewritten atomically via natefinch/atomic the same way
// spaceinfo.go rewrites a SpaceInfo header.
func (s *SpaceIndex[K]) WriteFile(path string) error {
	s.mu.Lock()
	img := s.snapshotLocked()
	s.mu.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(img); err != nil {
		return fmt.Errorf("persistence: encode index pages for %s: %w", s.name, err)
	}
	return atomic.WriteFile(path, &buf)
}

// LoadFile replaces this index's in-memory page mirror with the image
// persisted at path by a prior WriteFile — the recovery counterpart,
// called before any ChangeEvent is replayed against a freshly constructed
// SpaceIndex. A missing file is not an error: it means this index was
// never persisted (a brand-new table), so the index starts empty exactly
// as NewSpaceIndex leaves it.
func (s *SpaceIndex[K]) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("persistence: read index pages for %s: %w", s.name, err)
	}

	var img spaceIndexImage[K]
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&img); err != nil {
		return fmt.Errorf("persistence: decode index pages for %s: %w", s.name, err)
	}
	if img.Magic != indexFileMagic {
		return fmt.Errorf("persistence: bad index file magic for %s", s.name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextPage = img.NextPage
	s.highWater = img.HighWater

	s.pages = make(map[uint32]*indexPage[K], len(img.Pages))
	for _, pi := range img.Pages {
		s.pages[pi.PageID] = &indexPage[K]{
			nodeID:      pi.NodeID,
			indexValues: pi.IndexValues,
			slots:       pi.Slots,
			freeSlots:   pi.FreeSlots,
		}
	}

	s.toc = newTableOfContents[K]()
	for _, e := range img.TOC {
		s.toc.bind(e.Key, e.PageID)
	}
	return nil
}

// EventToChangeEvent recovers a typed ChangeEvent[K] from one of worktable's
// type-erased Events. K must match the key type the originating cdcindex
// index actually used — Pk (or the table's declared key type) for a unique
// index, cdcindex.Discriminated[K'] for a non-unique one, since that's what
// eraseEvents boxed into the erased fields in the first place. Every field
// worktable erases is a concrete K value, never an untyped nil, so this
// only fails if the caller wires the wrong K to the wrong index.
func EventToChangeEvent[K comparable](ev worktable.Event) (cdcindex.ChangeEvent[K], error) {
	key, ok := ev.Key.(K)
	if !ok {
		return cdcindex.ChangeEvent[K]{}, fmt.Errorf("persistence: event key %v is not of the expected type", ev.Key)
	}
	old, _ := ev.OldNodeID.(K)
	node, _ := ev.NodeID.(K)
	newNode, _ := ev.NewNodeID.(K)
	return cdcindex.ChangeEvent[K]{
		ID:        ev.ID,
		Kind:      ev.Kind,
		OldNodeID: old,
		NodeID:    node,
		NewNodeID: newNode,
		Entry:     cdcindex.Pair[K]{Key: key, Value: ev.Link},
	}, nil
}

// Adapter erases K so the type-erased worktable.Event stream worktable.Table
// forwards can drive this SpaceIndex without persistence importing Row/Pk.
// fromErased recovers a typed ChangeEvent from worktable's erased fields —
// pass EventToChangeEvent[K] unless an index needs custom recovery logic.
func (s *SpaceIndex[K]) Adapter(fromErased func(worktable.Event) (cdcindex.ChangeEvent[K], error)) *indexAdapter[K] {
	return &indexAdapter[K]{index: s, fromErased: fromErased}
}

// indexAdapter implements Engine's Index interface (ApplyEvents)
// by type-asserting each erased worktable.Event back to ChangeEvent[K].
type indexAdapter[K comparable] struct {
	index      *SpaceIndex[K]
	fromErased func(worktable.Event) (cdcindex.ChangeEvent[K], error)
}

func (a *indexAdapter[K]) Name() string { return a.index.name }

func (a *indexAdapter[K]) ApplyEvents(events []worktable.Event) error {
	for _, erased := range events {
		ev, err := a.fromErased(erased)
		if err != nil {
			return fmt.Errorf("persistence: index %s: %w", a.index.name, err)
		}
		if err := a.index.ApplyEvent(ev); err != nil {
			return err
		}
	}
	return nil
}

func (a *indexAdapter[K]) HighWaterEventID() uint64 { return a.index.HighWaterEventID() }

func (a *indexAdapter[K]) WriteFile(path string) error { return a.index.WriteFile(path) }

func (a *indexAdapter[K]) LoadFile(path string) error { return a.index.LoadFile(path) }
