package pagestore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/klauspost/compress/snappy"
)

// ErrReadOnly is returned when a write operation is attempted on a
// read-only DataPages store.
var ErrReadOnly = errors.New("pagestore: store is read-only")

// maxInlineRecordSize bounds how large a row can be before it spills into
// chained overflow pages.
const maxInlineRecordSize = PageSize - PageHeaderSize - RecordSlotHeaderSize

// metaHeaderOffset is where DataPages' own bookkeeping starts on page 0,
// right after the shared GeneralHeader.
const metaHeaderOffset = PageHeaderSize

// DataPages is the paged, variable-length row allocator backing a table's
// data file (C2 in the component design): Insert/Select/Update/Delete, all
// addressed by Link. It owns the WAL, LRU cache and OS file lock the way
// the teacher's Pager does, generalized from a multi-collection document
// store down to the single row-stream a table's data file holds.
type DataPages struct {
	mu   sync.RWMutex
	file StorageFile
	path string
	wal  *WAL
	lock *fileLock

	totalPages uint32
	tailPageID uint32
	readOnly   bool

	cache    *lruCache
	registry EmptyLinksRegistry

	inTx       bool
	txUndoLog  map[uint32][PageSize]byte
	txNewPages map[uint32]bool
	txTotal    uint32
	txTail     uint32
}

// Open opens or creates the data file at path. registry governs how freed
// links are tracked for reuse — pass NewSized() for fixed-width rows or
// NewUnsized() for variable-width rows.
func Open(path string, registry EmptyLinksRegistry) (*DataPages, error) {
	return open(path, registry, false)
}

// OpenReadOnly opens an existing data file, rejecting every write.
func OpenReadOnly(path string, registry EmptyLinksRegistry) (*DataPages, error) {
	return open(path, registry, true)
}

func open(path string, registry EmptyLinksRegistry, readOnly bool) (*DataPages, error) {
	lock, err := lockFile(path)
	if err != nil {
		return nil, err
	}

	flags := os.O_RDWR | os.O_CREATE
	if readOnly {
		flags = os.O_RDONLY
	}
	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		lock.unlock()
		return nil, fmt.Errorf("pagestore: open %s: %w", path, err)
	}

	dp := &DataPages{
		file:     file,
		path:     path,
		lock:     lock,
		cache:    newLRUCache(1024),
		registry: registry,
		readOnly: readOnly,
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		lock.unlock()
		return nil, err
	}

	if info.Size() == 0 {
		if readOnly {
			file.Close()
			lock.unlock()
			return nil, errors.New("pagestore: cannot create store in read-only mode")
		}
		if err := dp.initMetaPage(); err != nil {
			file.Close()
			lock.unlock()
			return nil, err
		}
	} else if err := dp.loadMetaPage(); err != nil {
		file.Close()
		lock.unlock()
		return nil, err
	}

	if !readOnly {
		wal, err := OpenWAL(path)
		if err != nil {
			file.Close()
			lock.unlock()
			return nil, fmt.Errorf("pagestore: %w", err)
		}
		dp.wal = wal
		if err := dp.recoverFromWAL(); err != nil {
			wal.Close()
			file.Close()
			lock.unlock()
			return nil, fmt.Errorf("pagestore: recovery failed: %w", err)
		}
	}

	return dp, nil
}

// OpenMemory creates an entirely in-memory store (no file, no WAL), used by
// tests and by tables created without a persistence configuration.
func OpenMemory(registry EmptyLinksRegistry) (*DataPages, error) {
	dp := &DataPages{
		file:     NewMemFile(),
		path:     ":memory:",
		cache:    newLRUCache(1024),
		registry: registry,
	}
	if err := dp.initMetaPage(); err != nil {
		return nil, err
	}
	return dp, nil
}

func (dp *DataPages) Close() error {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if !dp.readOnly {
		if err := dp.flushMeta(); err != nil {
			return err
		}
		if err := dp.file.Sync(); err != nil {
			return err
		}
	}
	if dp.wal != nil {
		dp.wal.Truncate()
		dp.wal.Close()
	}
	err := dp.file.Close()
	if dp.lock != nil {
		dp.lock.unlock()
	}
	return err
}

func (dp *DataPages) IsReadOnly() bool { return dp.readOnly }

// ---------- page I/O ----------

func (dp *DataPages) ReadPage(pageID uint32) (*Page, error) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	return dp.readPageLocked(pageID)
}

func (dp *DataPages) readPageLocked(pageID uint32) (*Page, error) {
	if pageID >= dp.totalPages {
		return nil, fmt.Errorf("pagestore: page %d out of range (total=%d)", pageID, dp.totalPages)
	}
	if data, ok := dp.cache.get(pageID); ok {
		return &Page{Data: data}, nil
	}
	page := &Page{}
	if _, err := dp.file.ReadAt(page.Data[:], int64(pageID)*PageSize); err != nil {
		return nil, fmt.Errorf("pagestore: read page %d: %w", pageID, err)
	}
	dp.cache.put(pageID, page.Data)
	return page, nil
}

func (dp *DataPages) WritePage(page *Page) error {
	if dp.readOnly {
		return ErrReadOnly
	}
	dp.mu.Lock()
	defer dp.mu.Unlock()
	return dp.writePageLocked(page)
}

func (dp *DataPages) writePageLocked(page *Page) error {
	pid := page.PageID()
	if pid >= dp.totalPages {
		return fmt.Errorf("pagestore: page %d out of range (total=%d)", pid, dp.totalPages)
	}
	if dp.inTx {
		if _, exists := dp.txUndoLog[pid]; !exists && !dp.txNewPages[pid] {
			if old, err := dp.readPageLocked(pid); err == nil {
				dp.txUndoLog[pid] = old.Data
			}
		}
	}
	if dp.wal != nil {
		if _, err := dp.wal.LogPageWrite(pid, page.Data[:]); err != nil {
			return fmt.Errorf("pagestore: wal log: %w", err)
		}
	}
	_, err := dp.file.WriteAt(page.Data[:], int64(pid)*PageSize)
	if err == nil {
		dp.cache.put(pid, page.Data)
	}
	return err
}

func (dp *DataPages) AllocatePage(ptype PageType) (uint32, error) {
	if dp.readOnly {
		return 0, ErrReadOnly
	}
	dp.mu.Lock()
	defer dp.mu.Unlock()
	return dp.allocatePageLocked(ptype)
}

func (dp *DataPages) allocatePageLocked(ptype PageType) (uint32, error) {
	newID := dp.totalPages
	dp.totalPages++
	page := NewPage(ptype, newID, 0)
	if dp.inTx {
		dp.txNewPages[newID] = true
	}
	if err := dp.writePageLocked(page); err != nil {
		dp.totalPages--
		delete(dp.txNewPages, newID)
		return 0, fmt.Errorf("pagestore: allocate page: %w", err)
	}
	return newID, nil
}

// ---------- meta page (page 0): totalPages + tailPageID ----------

func (dp *DataPages) initMetaPage() error {
	dp.totalPages = 1
	dp.tailPageID = 0
	if err := dp.flushMeta(); err != nil {
		return err
	}
	tail, err := dp.allocatePageLocked(PageData)
	if err != nil {
		return err
	}
	dp.tailPageID = tail
	return dp.flushMeta()
}

func (dp *DataPages) flushMeta() error {
	page := NewPage(PageSpaceInfo, 0, 0)
	off := uint16(metaHeaderOffset)
	binary.LittleEndian.PutUint32(page.Data[off:], dp.totalPages)
	off += 4
	binary.LittleEndian.PutUint32(page.Data[off:], dp.tailPageID)
	if dp.wal != nil {
		if _, err := dp.wal.LogPageWrite(0, page.Data[:]); err != nil {
			return fmt.Errorf("pagestore: wal log meta: %w", err)
		}
	}
	_, err := dp.file.WriteAt(page.Data[:], 0)
	return err
}

func (dp *DataPages) loadMetaPage() error {
	page := &Page{}
	if _, err := dp.file.ReadAt(page.Data[:], 0); err != nil {
		return fmt.Errorf("pagestore: read meta page: %w", err)
	}
	if page.Type() != PageSpaceInfo {
		return errors.New("pagestore: page 0 is not a space-info page")
	}
	off := uint16(metaHeaderOffset)
	dp.totalPages = binary.LittleEndian.Uint32(page.Data[off:])
	off += 4
	dp.tailPageID = binary.LittleEndian.Uint32(page.Data[off:])
	return nil
}

// TotalPages reports how many pages the store currently spans.
func (dp *DataPages) TotalPages() uint32 {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	return dp.totalPages
}

// ---------- row operations ----------

// compressRecord snappy-compresses data, falling back to the original
// bytes (flagged Active) when compression doesn't shrink it.
func compressRecord(data []byte) ([]byte, byte) {
	compressed := snappy.Encode(nil, data)
	if len(compressed) < len(data) {
		return compressed, SlotFlagCompressed
	}
	return data, SlotFlagActive
}

// DecompressRecord reverses compressRecord for a slot read back off disk.
func DecompressRecord(slot *RecordSlot) ([]byte, error) {
	if !slot.Compressed {
		return slot.Data, nil
	}
	decoded, err := snappy.Decode(nil, slot.Data)
	if err != nil {
		return nil, fmt.Errorf("pagestore: snappy decode: %w", err)
	}
	return decoded, nil
}

// Insert stores data and returns the Link it can be read back at. Rows
// that don't fit inline (after compression) spill into a chained overflow
// page, matching the teacher's insertOverflowRecord.
func (dp *DataPages) Insert(generation uint64, data []byte) (Link, error) {
	if dp.readOnly {
		return Link{}, ErrReadOnly
	}
	dp.mu.Lock()
	defer dp.mu.Unlock()

	storeData, flag := compressRecord(data)
	if len(storeData) > maxInlineRecordSize {
		return dp.insertOverflowLocked(generation, data)
	}

	if dp.registry != nil {
		if link, ok := dp.registry.FindLinkWithLength(uint32(len(storeData))); ok {
			page, err := dp.readPageLocked(link.PageID)
			if err != nil {
				return Link{}, err
			}
			if page.Reactivate(uint16(link.Offset), storeData, flag) {
				if err := dp.writePageLocked(page); err != nil {
					return Link{}, err
				}
				return Link{PageID: link.PageID, Offset: link.Offset, Length: uint32(len(data))}, nil
			}
		}
	}

	page, err := dp.readPageLocked(dp.tailPageID)
	if err != nil {
		return Link{}, err
	}
	if off, ok := page.AppendRecordWithFlag(generation, storeData, flag); ok {
		if err := dp.writePageLocked(page); err != nil {
			return Link{}, err
		}
		return Link{PageID: dp.tailPageID, Offset: uint32(off), Length: uint32(len(data))}, nil
	}

	newID, err := dp.allocatePageLocked(PageData)
	if err != nil {
		return Link{}, err
	}
	dp.tailPageID = newID
	newPage, err := dp.readPageLocked(newID)
	if err != nil {
		return Link{}, err
	}
	off, ok := newPage.AppendRecordWithFlag(generation, storeData, flag)
	if !ok {
		return Link{}, fmt.Errorf("pagestore: row too large for a single page: %w", ErrNotEnoughSpace)
	}
	if err := dp.writePageLocked(newPage); err != nil {
		return Link{}, err
	}
	if err := dp.flushMeta(); err != nil {
		return Link{}, err
	}
	return Link{PageID: newID, Offset: uint32(off), Length: uint32(len(data))}, nil
}

func (dp *DataPages) insertOverflowLocked(generation uint64, data []byte) (Link, error) {
	totalLen := uint32(len(data))

	var firstOverflowID uint32
	var prevOverflow *Page
	offset := 0
	for offset < len(data) {
		ovID, err := dp.allocatePageLocked(PageData)
		if err != nil {
			return Link{}, err
		}
		if firstOverflowID == 0 {
			firstOverflowID = ovID
		}
		if prevOverflow != nil {
			prevOverflow.SetNextOverflow(ovID)
			if err := dp.writePageLocked(prevOverflow); err != nil {
				return Link{}, err
			}
		}
		ovPage, err := dp.readPageLocked(ovID)
		if err != nil {
			return Link{}, err
		}
		end := offset + OverflowDataCapacity
		if end > len(data) {
			end = len(data)
		}
		ovPage.WriteOverflowData(data[offset:end])
		offset = end
		prevOverflow = ovPage
	}
	if prevOverflow != nil {
		if err := dp.writePageLocked(prevOverflow); err != nil {
			return Link{}, err
		}
	}

	page, err := dp.readPageLocked(dp.tailPageID)
	if err != nil {
		return Link{}, err
	}
	if off, ok := page.AppendOverflowPointer(generation, totalLen, firstOverflowID); ok {
		if err := dp.writePageLocked(page); err != nil {
			return Link{}, err
		}
		return Link{PageID: dp.tailPageID, Offset: uint32(off), Length: totalLen}, nil
	}

	newID, err := dp.allocatePageLocked(PageData)
	if err != nil {
		return Link{}, err
	}
	dp.tailPageID = newID
	newPage, err := dp.readPageLocked(newID)
	if err != nil {
		return Link{}, err
	}
	off, ok := newPage.AppendOverflowPointer(generation, totalLen, firstOverflowID)
	if !ok {
		return Link{}, fmt.Errorf("pagestore: cannot write overflow pointer: %w", ErrNotEnoughSpace)
	}
	if err := dp.writePageLocked(newPage); err != nil {
		return Link{}, err
	}
	if err := dp.flushMeta(); err != nil {
		return Link{}, err
	}
	return Link{PageID: newID, Offset: uint32(off), Length: totalLen}, nil
}

// Select reads the bytes addressed by link back out.
func (dp *DataPages) Select(link Link) ([]byte, error) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if link.PageID >= dp.totalPages {
		return nil, fmt.Errorf("pagestore: select %s: %w", link, ErrInvalidLink)
	}
	page, err := dp.readPageLocked(link.PageID)
	if err != nil {
		return nil, fmt.Errorf("pagestore: select %s: %w", link, err)
	}
	if link.Offset < uint32(PageHeaderSize) || link.Offset >= uint32(page.FreeOffset()) {
		return nil, fmt.Errorf("pagestore: select %s: %w", link, ErrInvalidLink)
	}
	slot := page.ReadSlotAt(uint16(link.Offset))
	if slot.Deleted {
		return nil, fmt.Errorf("pagestore: select %s: %w", link, ErrInvalidLink)
	}
	if slot.Overflow {
		totalLen, firstPage := slot.OverflowInfo()
		return dp.readOverflowChainLocked(totalLen, firstPage)
	}
	return DecompressRecord(&slot)
}

func (dp *DataPages) readOverflowChainLocked(totalLen uint32, firstPageID uint32) ([]byte, error) {
	result := make([]byte, 0, totalLen)
	remaining := int(totalLen)
	pageID := firstPageID
	for pageID != 0 && remaining > 0 {
		page, err := dp.readPageLocked(pageID)
		if err != nil {
			return nil, err
		}
		chunk := remaining
		if chunk > OverflowDataCapacity {
			chunk = OverflowDataCapacity
		}
		result = append(result, page.ReadOverflowData(chunk)...)
		remaining -= chunk
		pageID = page.NextOverflow()
	}
	return result, nil
}

// Update overwrites the row at link with newData, updating it in place
// when the (compressed) size matches and otherwise deleting the old slot
// and reinserting — in which case the returned Link differs from the input
// and callers (WorkTable's indexes) must rebind to it.
func (dp *DataPages) Update(link Link, generation uint64, newData []byte) (Link, error) {
	if dp.readOnly {
		return Link{}, ErrReadOnly
	}
	dp.mu.Lock()
	storeData, flag := compressRecord(newData)

	page, err := dp.readPageLocked(link.PageID)
	if err != nil {
		dp.mu.Unlock()
		return Link{}, err
	}
	if page.UpdateRecordInPlace(uint16(link.Offset), storeData) {
		page.Data[link.Offset+10] = flag
		if err := dp.writePageLocked(page); err != nil {
			dp.mu.Unlock()
			return Link{}, err
		}
		dp.mu.Unlock()
		return Link{PageID: link.PageID, Offset: link.Offset, Length: uint32(len(newData))}, nil
	}

	oldSlot := page.ReadSlotAt(uint16(link.Offset))
	page.MarkDeleted(uint16(link.Offset))
	if err := dp.writePageLocked(page); err != nil {
		dp.mu.Unlock()
		return Link{}, err
	}
	dp.mu.Unlock()

	if dp.registry != nil {
		dp.registry.AddEmptyLink(Link{PageID: link.PageID, Offset: link.Offset, Length: uint32(len(oldSlot.Data))})
	}
	return dp.Insert(generation, newData)
}

// Delete tombstones the row at link and offers its slot back to the
// EmptyLinksRegistry for reuse.
func (dp *DataPages) Delete(link Link) error {
	if dp.readOnly {
		return ErrReadOnly
	}
	dp.mu.Lock()
	page, err := dp.readPageLocked(link.PageID)
	if err != nil {
		dp.mu.Unlock()
		return err
	}
	slot := page.ReadSlotAt(uint16(link.Offset))
	page.MarkDeleted(uint16(link.Offset))
	err = dp.writePageLocked(page)
	dp.mu.Unlock()
	if err != nil {
		return err
	}
	if slot.Overflow {
		_, firstPage := slot.OverflowInfo()
		return dp.freeOverflowChain(firstPage)
	}
	if dp.registry != nil {
		dp.registry.AddEmptyLink(Link{PageID: link.PageID, Offset: link.Offset, Length: uint32(len(slot.Data))})
	}
	return nil
}

func (dp *DataPages) freeOverflowChain(firstPageID uint32) error {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	pageID := firstPageID
	for pageID != 0 {
		page, err := dp.readPageLocked(pageID)
		if err != nil {
			return err
		}
		next := page.NextOverflow()
		page.SetNextOverflow(0)
		if err := dp.writePageLocked(page); err != nil {
			return err
		}
		pageID = next
	}
	return nil
}

// ---------- transactions (before-image undo log) ----------

func (dp *DataPages) BeginTx() error {
	if dp.readOnly {
		return ErrReadOnly
	}
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if dp.inTx {
		return fmt.Errorf("pagestore: transaction already active")
	}
	dp.inTx = true
	dp.txUndoLog = make(map[uint32][PageSize]byte)
	dp.txNewPages = make(map[uint32]bool)
	dp.txTotal = dp.totalPages
	dp.txTail = dp.tailPageID
	return nil
}

func (dp *DataPages) CommitTx() error {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if !dp.inTx {
		return fmt.Errorf("pagestore: no active transaction")
	}
	if err := dp.flushMeta(); err != nil {
		return err
	}
	if dp.wal != nil {
		if err := dp.wal.Commit(); err != nil {
			return err
		}
	}
	dp.clearTx()
	return nil
}

func (dp *DataPages) RollbackTx() error {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if !dp.inTx {
		return fmt.Errorf("pagestore: no active transaction")
	}
	for pid, data := range dp.txUndoLog {
		d := data
		if _, err := dp.file.WriteAt(d[:], int64(pid)*PageSize); err != nil {
			return fmt.Errorf("pagestore: rollback write page %d: %w", pid, err)
		}
	}
	dp.totalPages = dp.txTotal
	dp.tailPageID = dp.txTail
	if err := dp.flushMeta(); err != nil {
		return err
	}
	if err := dp.file.Sync(); err != nil {
		return err
	}
	dp.cache.clear()
	if dp.wal != nil {
		dp.wal.Truncate()
	}
	dp.clearTx()
	return nil
}

func (dp *DataPages) clearTx() {
	dp.txUndoLog = nil
	dp.txNewPages = nil
	dp.inTx = false
}

func (dp *DataPages) InTx() bool {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	return dp.inTx
}

// ---------- WAL / cache diagnostics ----------

func (dp *DataPages) CommitWAL() error {
	if dp.wal == nil {
		return nil
	}
	dp.mu.RLock()
	inTx := dp.inTx
	dp.mu.RUnlock()
	if inTx {
		return nil
	}
	return dp.wal.Commit()
}

func (dp *DataPages) Checkpoint() error {
	if dp.wal == nil {
		return nil
	}
	dp.mu.Lock()
	defer dp.mu.Unlock()
	records := dp.wal.CommittedPageWrites()
	for _, rec := range records {
		if len(rec.Data) != PageSize {
			continue
		}
		for rec.PageID >= dp.totalPages {
			dp.totalPages = rec.PageID + 1
		}
		if _, err := dp.file.WriteAt(rec.Data, int64(rec.PageID)*PageSize); err != nil {
			return fmt.Errorf("pagestore: checkpoint write page %d: %w", rec.PageID, err)
		}
	}
	if err := dp.file.Sync(); err != nil {
		return fmt.Errorf("pagestore: checkpoint fsync: %w", err)
	}
	return dp.wal.Truncate()
}

func (dp *DataPages) recoverFromWAL() error {
	if dp.wal == nil {
		return nil
	}
	records := dp.wal.CommittedPageWrites()
	if len(records) == 0 {
		return nil
	}
	for _, rec := range records {
		if len(rec.Data) != PageSize {
			continue
		}
		for rec.PageID >= dp.totalPages {
			dp.totalPages = rec.PageID + 1
		}
		if _, err := dp.file.WriteAt(rec.Data, int64(rec.PageID)*PageSize); err != nil {
			return fmt.Errorf("recovery: write page %d: %w", rec.PageID, err)
		}
	}
	if err := dp.file.Sync(); err != nil {
		return fmt.Errorf("recovery: fsync: %w", err)
	}
	if err := dp.loadMetaPage(); err != nil {
		return fmt.Errorf("recovery: reload meta: %w", err)
	}
	return dp.wal.Truncate()
}

func (dp *DataPages) ClearCache() { dp.cache.clear() }

func (dp *DataPages) CacheStats() (hits, misses uint64, size, capacity int) {
	return dp.cache.stats()
}

func (dp *DataPages) CacheHitRate() float64 { return dp.cache.hitRate() }

func (dp *DataPages) WALPath() string {
	if dp.wal == nil {
		return ""
	}
	return dp.wal.path
}
