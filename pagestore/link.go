package pagestore

import "fmt"

// Link addresses a row's bytes inside a DataPages store: which page, at
// what byte offset within that page, and how long the (decompressed) row
// is. It is the unit every index entry and every lock key is keyed on.
type Link struct {
	PageID uint32
	Offset uint32
	Length uint32
}

func (l Link) String() string {
	return fmt.Sprintf("Link{page:%d,off:%d,len:%d}", l.PageID, l.Offset, l.Length)
}

// IsZero reports whether l is the zero Link.
func (l Link) IsZero() bool {
	return l.PageID == 0 && l.Offset == 0 && l.Length == 0
}
