package pagestore

import (
	"sort"
	"sync"
)

// EmptyLinksRegistry tracks freed Links so DataPages can reuse the hole a
// deleted row left behind before falling back to appending to the tail page
// or allocating a new one. Two flavors, matching spec.md §4.2 and
// original_source's in_memory::empty_links_registry trait: Sized, for
// row types with one fixed on-disk size, and Unsized, for variable-length
// rows where a link must be chosen by best-fit length.
type EmptyLinksRegistry interface {
	AddEmptyLink(link Link)
	FindLinkWithLength(size uint32) (Link, bool)
}

// Sized is a lock-free-style stack of same-length free links: every push
// and pop is O(1) because any entry satisfies any request (the row type's
// encoded length never varies).
type Sized struct {
	mu    sync.Mutex
	links []Link
}

func NewSized() *Sized {
	return &Sized{}
}

func (s *Sized) AddEmptyLink(link Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links = append(s.links, link)
}

func (s *Sized) FindLinkWithLength(size uint32) (Link, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.links)
	if n == 0 {
		return Link{}, false
	}
	link := s.links[n-1]
	s.links = s.links[:n-1]
	return link, true
}

// Unsized is an ordered multimap keyed by link length, so a caller can ask
// for the smallest free link that is still >= the row's encoded size
// (best-fit), matching variable-length row allocation.
type Unsized struct {
	mu      sync.Mutex
	byLen   map[uint32][]Link
	lengths []uint32 // kept sorted ascending
}

func NewUnsized() *Unsized {
	return &Unsized{byLen: make(map[uint32][]Link)}
}

func (u *Unsized) AddEmptyLink(link Link) {
	u.mu.Lock()
	defer u.mu.Unlock()
	bucket, exists := u.byLen[link.Length]
	if !exists {
		idx := sort.Search(len(u.lengths), func(i int) bool { return u.lengths[i] >= link.Length })
		u.lengths = append(u.lengths, 0)
		copy(u.lengths[idx+1:], u.lengths[idx:])
		u.lengths[idx] = link.Length
	}
	u.byLen[link.Length] = append(bucket, link)
}

// FindLinkWithLength returns the smallest registered link whose Length is
// >= size, removing it from the registry. Returns false if no link is large
// enough for size.
func (u *Unsized) FindLinkWithLength(size uint32) (Link, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	idx := sort.Search(len(u.lengths), func(i int) bool { return u.lengths[i] >= size })
	if idx == len(u.lengths) {
		return Link{}, false
	}
	length := u.lengths[idx]
	bucket := u.byLen[length]
	link := bucket[len(bucket)-1]
	bucket = bucket[:len(bucket)-1]
	if len(bucket) == 0 {
		delete(u.byLen, length)
		u.lengths = append(u.lengths[:idx], u.lengths[idx+1:]...)
	} else {
		u.byLen[length] = bucket
	}
	return link, true
}
