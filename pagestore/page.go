// Package pagestore implements the fixed-size paged storage layer shared by
// data pages, index pages and the space-info page: Link/Page primitives,
// the DataPages allocator, and the two EmptyLinksRegistry flavors.
package pagestore

import (
	"encoding/binary"
)

// PageSize is the size of a page in bytes (4 KB), matching the teacher's
// default and spec.md's §3 Page definition.
const PageSize = 4096

// PageType identifies the five page kinds named in spec.md §3.
type PageType byte

const (
	PageSpaceInfo        PageType = 1
	PageIndexToC         PageType = 2
	PageIndexNode        PageType = 3
	PageUnsizedIndexNode PageType = 4
	PageData             PageType = 5
)

// GeneralHeader is the header common to every page (16 bytes). Layout:
//
//	[0]     Type        (PageType)
//	[1-4]   PageID       (uint32)
//	[5-8]   SpaceID      (uint32)
//	[9-10]  NumRecords   (uint16) — data pages only
//	[11-12] FreeOffset   (uint16) — first free byte in the page
//	[13-15] reserved
const PageHeaderSize = 16

// Page is a raw 4 KB page.
type Page struct {
	Data [PageSize]byte
}

// NewPage creates an empty page of the given kind.
func NewPage(ptype PageType, pageID, spaceID uint32) *Page {
	p := &Page{}
	p.Data[0] = byte(ptype)
	binary.LittleEndian.PutUint32(p.Data[1:5], pageID)
	binary.LittleEndian.PutUint32(p.Data[5:9], spaceID)
	binary.LittleEndian.PutUint16(p.Data[11:13], PageHeaderSize)
	return p
}

func (p *Page) Type() PageType { return PageType(p.Data[0]) }

func (p *Page) PageID() uint32 { return binary.LittleEndian.Uint32(p.Data[1:5]) }

func (p *Page) SpaceID() uint32 { return binary.LittleEndian.Uint32(p.Data[5:9]) }

func (p *Page) NumRecords() uint16 { return binary.LittleEndian.Uint16(p.Data[9:11]) }

func (p *Page) SetNumRecords(n uint16) { binary.LittleEndian.PutUint16(p.Data[9:11], n) }

func (p *Page) FreeOffset() uint16 { return binary.LittleEndian.Uint16(p.Data[11:13]) }

func (p *Page) SetFreeOffset(off uint16) { binary.LittleEndian.PutUint16(p.Data[11:13], off) }

// FreeSpace returns the number of unused bytes left in the page.
func (p *Page) FreeSpace() int {
	return PageSize - int(p.FreeOffset())
}

// Slot flags, carried over from the teacher's page format.
const (
	SlotFlagActive       byte = 0x00
	SlotFlagDeleted      byte = 0x01
	SlotFlagOverflow     byte = 0x02
	SlotFlagDelOverflow  byte = 0x03
	SlotFlagCompressed   byte = 0x04
	SlotFlagCompOverflow byte = 0x06
)

// OverflowSlotSize is the size of an overflow-pointer slot in a data page.
// Format: [generation:8][data_len=8:2][flags=0x02:1][total_len:4][first_overflow_page:4]
const OverflowSlotSize = 8 + 2 + 1 + 4 + 4

// overflowNextOffset is where an overflow page's own chaining pointer to
// the next overflow page lives, at the start of its data body.
const overflowNextOffset = PageHeaderSize

// OverflowDataCapacity is the raw byte capacity of one overflow page, net
// of its own chaining pointer.
const OverflowDataCapacity = PageSize - PageHeaderSize - 4

// NextOverflow returns the page ID this overflow page chains to, or 0.
func (p *Page) NextOverflow() uint32 {
	return binary.LittleEndian.Uint32(p.Data[overflowNextOffset:])
}

// SetNextOverflow sets this overflow page's chaining pointer.
func (p *Page) SetNextOverflow(id uint32) {
	binary.LittleEndian.PutUint32(p.Data[overflowNextOffset:], id)
}

// RecordSlotHeaderSize is the size of an inline record's slot header.
// Format: [generation:uint64][data_len:uint16][flags:byte][data...]
const RecordSlotHeaderSize = 8 + 2 + 1

// AppendRecord appends a row's bytes to the page at its current free offset,
// returning the byte offset the slot was written at (which becomes
// Link.Offset) and whether the page had room.
func (p *Page) AppendRecord(generation uint64, data []byte) (uint16, bool) {
	return p.AppendRecordWithFlag(generation, data, SlotFlagActive)
}

func (p *Page) AppendRecordWithFlag(generation uint64, data []byte, flag byte) (uint16, bool) {
	needed := RecordSlotHeaderSize + len(data)
	if p.FreeSpace() < needed {
		return 0, false
	}
	off := p.FreeOffset()
	binary.LittleEndian.PutUint64(p.Data[off:], generation)
	binary.LittleEndian.PutUint16(p.Data[off+8:], uint16(len(data)))
	p.Data[off+10] = flag
	copy(p.Data[off+11:], data)

	p.SetFreeOffset(off + uint16(needed))
	p.SetNumRecords(p.NumRecords() + 1)
	return off, true
}

// AppendOverflowPointer appends a slot pointing at an overflow page chain
// holding a row too large to fit inline.
func (p *Page) AppendOverflowPointer(generation uint64, totalLen uint32, firstOverflowPage uint32) (uint16, bool) {
	if p.FreeSpace() < OverflowSlotSize {
		return 0, false
	}
	off := p.FreeOffset()
	binary.LittleEndian.PutUint64(p.Data[off:], generation)
	binary.LittleEndian.PutUint16(p.Data[off+8:], 8)
	p.Data[off+10] = SlotFlagOverflow
	binary.LittleEndian.PutUint32(p.Data[off+11:], totalLen)
	binary.LittleEndian.PutUint32(p.Data[off+15:], firstOverflowPage)

	p.SetFreeOffset(off + OverflowSlotSize)
	p.SetNumRecords(p.NumRecords() + 1)
	return off, true
}

// WriteOverflowData writes raw bytes into an overflow page's body, after
// its own chaining pointer.
func (p *Page) WriteOverflowData(data []byte) {
	copy(p.Data[overflowNextOffset+4:], data)
}

// ReadOverflowData reads an overflow page's raw body, up to length bytes.
func (p *Page) ReadOverflowData(length int) []byte {
	if length > OverflowDataCapacity {
		length = OverflowDataCapacity
	}
	out := make([]byte, length)
	copy(out, p.Data[overflowNextOffset+4:])
	return out
}

// RecordSlot is a record as read back from a page scan.
type RecordSlot struct {
	Generation uint64
	Data       []byte
	Deleted    bool
	Overflow   bool
	Compressed bool
	Offset     uint16
}

// OverflowInfo extracts totalLen and firstOverflowPageID from an overflow slot.
func (s *RecordSlot) OverflowInfo() (totalLen uint32, firstPage uint32) {
	if len(s.Data) < 8 {
		return 0, 0
	}
	totalLen = binary.LittleEndian.Uint32(s.Data[0:4])
	firstPage = binary.LittleEndian.Uint32(s.Data[4:8])
	return
}

// ReadRecords scans every slot in the page, including deleted ones (callers
// filter on Deleted as needed).
func (p *Page) ReadRecords() []RecordSlot {
	slots := make([]RecordSlot, 0, p.NumRecords())
	off := uint16(PageHeaderSize)
	end := p.FreeOffset()

	for off < end {
		if off+RecordSlotHeaderSize > end {
			break
		}
		gen := binary.LittleEndian.Uint64(p.Data[off:])
		dlen := binary.LittleEndian.Uint16(p.Data[off+8:])
		flags := p.Data[off+10]

		dataStart := off + RecordSlotHeaderSize
		if int(dataStart)+int(dlen) > PageSize {
			break
		}
		dataCopy := make([]byte, dlen)
		copy(dataCopy, p.Data[dataStart:dataStart+dlen])

		slots = append(slots, RecordSlot{
			Generation: gen,
			Data:       dataCopy,
			Deleted:    flags == SlotFlagDeleted || flags == SlotFlagDelOverflow,
			Overflow:   flags == SlotFlagOverflow || flags == SlotFlagCompOverflow,
			Compressed: flags == SlotFlagCompressed || flags == SlotFlagCompOverflow,
			Offset:     off,
		})
		off = dataStart + dlen
	}
	return slots
}

// ReadSlotAt parses a single slot at a known offset, the fast path used by
// Link-addressed reads (Select/Update) instead of a full-page scan.
func (p *Page) ReadSlotAt(off uint16) RecordSlot {
	gen := binary.LittleEndian.Uint64(p.Data[off:])
	dlen := binary.LittleEndian.Uint16(p.Data[off+8:])
	flags := p.Data[off+10]
	dataStart := off + RecordSlotHeaderSize
	data := make([]byte, dlen)
	copy(data, p.Data[dataStart:dataStart+dlen])
	return RecordSlot{
		Generation: gen,
		Data:       data,
		Deleted:    flags == SlotFlagDeleted || flags == SlotFlagDelOverflow,
		Overflow:   flags == SlotFlagOverflow || flags == SlotFlagCompOverflow,
		Compressed: flags == SlotFlagCompressed || flags == SlotFlagCompOverflow,
		Offset:     off,
	}
}

// Reactivate rewrites the slot at off with newData and SlotFlagActive (or
// SlotFlagCompressed), reusing a hole a deleted same-length record left
// behind instead of appending to the tail of the page.
func (p *Page) Reactivate(off uint16, newData []byte, flag byte) bool {
	oldLen := binary.LittleEndian.Uint16(p.Data[off+8:])
	if uint16(len(newData)) != oldLen {
		return false
	}
	p.Data[off+10] = flag
	copy(p.Data[off+11:], newData)
	return true
}

// MarkDeleted marks the slot at the given offset as deleted, preserving the
// overflow bit so the overflow chain can still be freed.
func (p *Page) MarkDeleted(slotOffset uint16) {
	flag := p.Data[slotOffset+10]
	if flag == SlotFlagOverflow || flag == SlotFlagCompOverflow {
		p.Data[slotOffset+10] = SlotFlagDelOverflow
	} else {
		p.Data[slotOffset+10] = SlotFlagDeleted
	}
}

func (p *Page) SlotFlags(slotOffset uint16) byte {
	return p.Data[slotOffset+10]
}

func (p *Page) SlotDataLen(slotOffset uint16) uint16 {
	return binary.LittleEndian.Uint16(p.Data[slotOffset+8:])
}

// UpdateRecordInPlace overwrites a record's bytes when newData is exactly
// the same length as the existing slot; returns false otherwise so the
// caller falls back to delete+reinsert.
func (p *Page) UpdateRecordInPlace(slotOffset uint16, newData []byte) bool {
	oldLen := binary.LittleEndian.Uint16(p.Data[slotOffset+8:])
	if uint16(len(newData)) != oldLen {
		return false
	}
	copy(p.Data[slotOffset+RecordSlotHeaderSize:], newData)
	return true
}
