package worktable

import (
	"fmt"

	"github.com/pathscale/worktable/cdcindex"
	"github.com/pathscale/worktable/pagestore"
)

// secondaryIndex type-erases a cdcindex index (unique or non-unique) over
// some key type K so a Table[Row, Pk] can hold many of them, each with its
// own key type, in one slice/map without Go generics infecting Table's own
// type parameters.
type secondaryIndex[Row any] interface {
	Name() string
	Insert(row Row, link pagestore.Link) ([]Event, error)
	Remove(row Row, link pagestore.Link) []Event
	// Rebind replaces row's old entry with its new one only if the indexed
	// key or the Link actually changed, matching spec.md §4.5's "secondary
	// indexes whose indexed columns changed receive a remove+insert event
	// pair."
	Rebind(oldRow, newRow Row, oldLink, newLink pagestore.Link) ([]Event, error)
	Lookup(key any) []pagestore.Link
	Len() int
}

type uniqueSecondaryIndex[Row any, K comparable] struct {
	name    string
	keyFunc func(Row) K
	idx     *cdcindex.UniqueIndex[K]
}

// NewUniqueSecondaryIndex builds a `unique` secondary index extracting its
// key from each row via keyFunc, ordered by less. Defined as a free
// function, not a Table method, since Go methods can't introduce their own
// type parameter (K) beyond the receiver's.
func NewUniqueSecondaryIndex[Row any, Pk comparable, K comparable](t *Table[Row, Pk], name string, keyFunc func(Row) K, less func(a, b K) bool) error {
	if _, exists := t.secondaries[name]; exists {
		return fmt.Errorf("worktable: index %q already registered", name)
	}
	si := &uniqueSecondaryIndex[Row, K]{name: name, keyFunc: keyFunc, idx: cdcindex.NewUniqueIndex(less)}
	t.secondaries[name] = si
	t.secondaryOrder = append(t.secondaryOrder, name)
	return nil
}

func (s *uniqueSecondaryIndex[Row, K]) Name() string { return s.name }

func (s *uniqueSecondaryIndex[Row, K]) Insert(row Row, link pagestore.Link) ([]Event, error) {
	events, err := s.idx.Insert(s.keyFunc(row), link)
	if err != nil {
		return nil, err
	}
	return eraseEvents(events), nil
}

func (s *uniqueSecondaryIndex[Row, K]) Remove(row Row, link pagestore.Link) []Event {
	return eraseEvents(s.idx.Remove(s.keyFunc(row), link))
}

func (s *uniqueSecondaryIndex[Row, K]) Rebind(oldRow, newRow Row, oldLink, newLink pagestore.Link) ([]Event, error) {
	oldKey, newKey := s.keyFunc(oldRow), s.keyFunc(newRow)
	if oldKey == newKey && oldLink == newLink {
		return nil, nil
	}
	removed := s.Remove(oldRow, oldLink)
	inserted, err := s.Insert(newRow, newLink)
	if err != nil {
		return removed, err
	}
	return append(removed, inserted...), nil
}

func (s *uniqueSecondaryIndex[Row, K]) Lookup(key any) []pagestore.Link {
	k, ok := key.(K)
	if !ok {
		return nil
	}
	if link, found := s.idx.Lookup(k); found {
		return []pagestore.Link{link}
	}
	return nil
}

func (s *uniqueSecondaryIndex[Row, K]) Len() int { return s.idx.Len() }

type nonUniqueSecondaryIndex[Row any, K comparable] struct {
	name    string
	keyFunc func(Row) K
	idx     *cdcindex.NonUniqueIndex[K]
	// entries tracks which MultiPair backs each (row, Link) pair currently in
	// the index, so Remove/Rebind can hand the exact discriminated entry
	// back to cdcindex without re-deriving it.
	entries map[pagestore.Link]cdcindex.MultiPair[K]
}

// NewNonUniqueSecondaryIndex builds an ordinary (non-`unique`) secondary
// index, disambiguating same-key rows with cdcindex's random discriminator.
func NewNonUniqueSecondaryIndex[Row any, Pk comparable, K comparable](t *Table[Row, Pk], name string, keyFunc func(Row) K, less func(a, b K) bool) error {
	if _, exists := t.secondaries[name]; exists {
		return fmt.Errorf("worktable: index %q already registered", name)
	}
	si := &nonUniqueSecondaryIndex[Row, K]{
		name:    name,
		keyFunc: keyFunc,
		idx:     cdcindex.NewNonUniqueIndex(less),
		entries: make(map[pagestore.Link]cdcindex.MultiPair[K]),
	}
	t.secondaries[name] = si
	t.secondaryOrder = append(t.secondaryOrder, name)
	return nil
}

func (s *nonUniqueSecondaryIndex[Row, K]) Name() string { return s.name }

func (s *nonUniqueSecondaryIndex[Row, K]) Insert(row Row, link pagestore.Link) ([]Event, error) {
	mp, events := s.idx.Insert(s.keyFunc(row), link)
	s.entries[link] = mp
	return eraseEvents(events), nil
}

func (s *nonUniqueSecondaryIndex[Row, K]) Remove(row Row, link pagestore.Link) []Event {
	mp, ok := s.entries[link]
	if !ok {
		return nil
	}
	delete(s.entries, link)
	return eraseEvents(s.idx.Remove(mp))
}

func (s *nonUniqueSecondaryIndex[Row, K]) Rebind(oldRow, newRow Row, oldLink, newLink pagestore.Link) ([]Event, error) {
	oldKey, newKey := s.keyFunc(oldRow), s.keyFunc(newRow)
	if oldKey == newKey && oldLink == newLink {
		return nil, nil
	}
	removed := s.Remove(oldRow, oldLink)
	inserted, err := s.Insert(newRow, newLink)
	if err != nil {
		return removed, err
	}
	return append(removed, inserted...), nil
}

func (s *nonUniqueSecondaryIndex[Row, K]) Lookup(key any) []pagestore.Link {
	k, ok := key.(K)
	if !ok {
		return nil
	}
	return s.idx.Lookup(k)
}

func (s *nonUniqueSecondaryIndex[Row, K]) Len() int { return s.idx.Len() }
