package record

import (
	"fmt"
	"sync"

	flushmanager "github.com/sushant-115/gojostore/core/write_engine/flush_manager"
	"github.com/sushant-115/gojostore/core/write_engine/memtable"
	pagemanager "github.com/sushant-115/gojostore/core/write_engine/page_manager"
	"go.uber.org/zap"
)

// FileHandle stores fixed-size records in the pages of one file, reached only through the buffer pool.
// Pages with at least one free slot form a singly linked list threaded through their headers,
// headed by FileHeader.FirstFreePageNo.
type FileHandle struct {
	bpm    *memtable.BufferPoolManager
	fileID pagemanager.FileID
	logger *zap.Logger

	mu  sync.Mutex // serializes record operations and guards hdr
	hdr FileHeader
}

// NewFileHandle wraps an open file whose header has already been loaded or created.
func NewFileHandle(bpm *memtable.BufferPoolManager, fileID pagemanager.FileID, hdr FileHeader, logger *zap.Logger) *FileHandle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileHandle{
		bpm:    bpm,
		fileID: fileID,
		logger: logger.With(zap.Int32("fileID", int32(fileID))),
		hdr:    hdr,
	}
}

func (fh *FileHandle) FileID() pagemanager.FileID { return fh.fileID }

// FileHeader returns a copy of the current in-memory header.
func (fh *FileHandle) FileHeader() FileHeader {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	return fh.hdr
}

// GetRecord copies the record at rid out of its page.
func (fh *FileHandle) GetRecord(rid Rid) (rec *Record, err error) {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	ph, err := fh.fetchRecordPageInternal(rid)
	if err != nil {
		return nil, err
	}
	defer releaseInto(ph, &err)

	if !bitmapIsSet(ph.bitmap(), rid.SlotNo) {
		return nil, fmt.Errorf("%w: rid %s", flushmanager.ErrRecordNotFound, rid)
	}
	rec = NewRecord(int(fh.hdr.RecordSize))
	copy(rec.Data, ph.slot(rid.SlotNo))
	return rec, nil
}

// InsertRecord stores data in the first free slot of the first page on the free list,
// creating a new page when the list is empty, and returns the record's address.
func (fh *FileHandle) InsertRecord(data []byte) (rid Rid, err error) {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	if err := fh.checkSizeInternal(data); err != nil {
		return Rid{}, err
	}
	ph, err := fh.createPageHandleInternal()
	if err != nil {
		return Rid{}, err
	}
	defer releaseInto(ph, &err)

	perPage := int(fh.hdr.NumRecordsPerPage)
	slotNo := bitmapFirstBit(false, ph.bitmap(), perPage)
	if slotNo == perPage {
		return Rid{}, fmt.Errorf("%w: page %d is on the free list but has no free slot", flushmanager.ErrInternal, ph.pageNo())
	}

	copy(ph.slot(slotNo), data)
	bitmapSet(ph.bitmap(), slotNo)
	ph.setNumRecords(ph.numRecords() + 1)
	ph.guard.MarkDirty()

	if ph.isFull() {
		fh.hdr.FirstFreePageNo = ph.nextFreePageNo()
		ph.setNextFreePageNo(NoPage)
	}
	return Rid{PageNo: ph.pageNo(), SlotNo: slotNo}, nil
}

// InsertRecordAt restores a record at a known address. The slot must be free.
// A page that fills up this way is taken off the free list before the record is written,
// so a failure while relinking the list leaves the page untouched.
func (fh *FileHandle) InsertRecordAt(rid Rid, data []byte) (err error) {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	if err := fh.checkSizeInternal(data); err != nil {
		return err
	}
	ph, err := fh.fetchRecordPageInternal(rid)
	if err != nil {
		return err
	}
	if bitmapIsSet(ph.bitmap(), rid.SlotNo) {
		_ = ph.release()
		return fmt.Errorf("%w: rid %s", flushmanager.ErrSlotOccupied, rid)
	}
	fills := ph.numRecords()+1 == int(fh.hdr.NumRecordsPerPage)
	if !fills || fh.hdr.FirstFreePageNo == rid.PageNo {
		defer releaseInto(ph, &err)
		fh.fillSlotInternal(ph, rid.SlotNo, data)
		if fills {
			fh.hdr.FirstFreePageNo = ph.nextFreePageNo()
			ph.setNextFreePageNo(NoPage)
		}
		return nil
	}

	// The page sits behind other free pages. Unpin it while the list is walked,
	// so the walk needs only one frame.
	next := ph.nextFreePageNo()
	if err := ph.release(); err != nil {
		return err
	}
	pred, err := fh.findFreePagePredecessorInternal(rid.PageNo)
	if err != nil {
		return err
	}
	if pred != NoPage {
		if err := fh.setNextFreePageNoInternal(pred, next); err != nil {
			return err
		}
	}
	ph, err = fh.fetchPageHandleInternal(rid.PageNo)
	if err != nil {
		if pred != NoPage {
			if relinkErr := fh.setNextFreePageNoInternal(pred, rid.PageNo); relinkErr != nil {
				fh.logger.Error("Failed to relink free page", zap.Int32("pageNo", int32(rid.PageNo)), zap.Error(relinkErr))
			}
		}
		return err
	}
	defer releaseInto(ph, &err)
	fh.fillSlotInternal(ph, rid.SlotNo, data)
	ph.setNextFreePageNo(NoPage)
	return nil
}

// DeleteRecord frees the slot at rid. A page that was full goes back to the head of the free list.
func (fh *FileHandle) DeleteRecord(rid Rid) (err error) {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	ph, err := fh.fetchRecordPageInternal(rid)
	if err != nil {
		return err
	}
	defer releaseInto(ph, &err)

	if !bitmapIsSet(ph.bitmap(), rid.SlotNo) {
		return fmt.Errorf("%w: rid %s", flushmanager.ErrRecordNotFound, rid)
	}
	wasFull := ph.isFull()
	bitmapReset(ph.bitmap(), rid.SlotNo)
	ph.setNumRecords(ph.numRecords() - 1)
	ph.guard.MarkDirty()

	if wasFull {
		fh.releasePageHandleInternal(ph)
	}
	return nil
}

// UpdateRecord overwrites the record at rid in place.
func (fh *FileHandle) UpdateRecord(rid Rid, data []byte) (err error) {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	if err := fh.checkSizeInternal(data); err != nil {
		return err
	}
	ph, err := fh.fetchRecordPageInternal(rid)
	if err != nil {
		return err
	}
	defer releaseInto(ph, &err)

	if !bitmapIsSet(ph.bitmap(), rid.SlotNo) {
		return fmt.Errorf("%w: rid %s", flushmanager.ErrRecordNotFound, rid)
	}
	copy(ph.slot(rid.SlotNo), data)
	ph.guard.MarkDirty()
	return nil
}

// IsRecord reports whether rid currently holds a record.
func (fh *FileHandle) IsRecord(rid Rid) (ok bool, err error) {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	ph, err := fh.fetchRecordPageInternal(rid)
	if err != nil {
		return false, err
	}
	defer releaseInto(ph, &err)
	return bitmapIsSet(ph.bitmap(), rid.SlotNo), nil
}

// Scan returns a scan positioned at the first record of the file.
func (fh *FileHandle) Scan() (*Scan, error) {
	return NewScan(fh)
}

// --- page handles ---

// releaseInto unpins the page and reports the unpin failure unless an earlier error is already set.
func releaseInto(ph *pageHandle, err *error) {
	if rerr := ph.release(); rerr != nil && *err == nil {
		*err = rerr
	}
}

// checkSizeInternal MUST be called with fh.mu locked.
func (fh *FileHandle) checkSizeInternal(data []byte) error {
	if len(data) != int(fh.hdr.RecordSize) {
		return fmt.Errorf("%w: got %d bytes, record size is %d", flushmanager.ErrRecordSize, len(data), fh.hdr.RecordSize)
	}
	return nil
}

// fetchRecordPageInternal validates the slot number and fetches the page of rid.
// This method MUST be called with fh.mu locked.
func (fh *FileHandle) fetchRecordPageInternal(rid Rid) (*pageHandle, error) {
	if rid.SlotNo < 0 || rid.SlotNo >= int(fh.hdr.NumRecordsPerPage) {
		return nil, fmt.Errorf("%w: rid %s, slot out of range", flushmanager.ErrRecordNotFound, rid)
	}
	return fh.fetchPageHandleInternal(rid.PageNo)
}

// fetchPageHandleInternal pins an existing page of the file. The caller must release it.
// This method MUST be called with fh.mu locked.
func (fh *FileHandle) fetchPageHandleInternal(pageNo pagemanager.PageNo) (*pageHandle, error) {
	if pageNo < 0 || int32(pageNo) >= fh.hdr.NumPages {
		return nil, fmt.Errorf("%w: page %d of file %d", flushmanager.ErrPageNotExist, pageNo, fh.fileID)
	}
	guard, err := fh.bpm.FetchPageGuard(pagemanager.PageID{FileID: fh.fileID, PageNo: pageNo})
	if err != nil {
		fh.logger.Error("Failed to fetch record page", zap.Int32("pageNo", int32(pageNo)), zap.Error(err))
		return nil, fmt.Errorf("%w: fetching page %d: %w", flushmanager.ErrInternal, pageNo, err)
	}
	return &pageHandle{guard: guard, hdr: &fh.hdr}, nil
}

// createNewPageHandleInternal appends an empty record page to the file. The caller must release it.
// This method MUST be called with fh.mu locked.
func (fh *FileHandle) createNewPageHandleInternal() (*pageHandle, error) {
	guard, err := fh.bpm.NewPageGuard(fh.fileID)
	if err != nil {
		fh.logger.Error("Failed to create record page", zap.Error(err))
		return nil, fmt.Errorf("%w: creating page: %w", flushmanager.ErrInternal, err)
	}
	ph := &pageHandle{guard: guard, hdr: &fh.hdr}
	if int32(ph.pageNo()) != fh.hdr.NumPages {
		_ = ph.release()
		return nil, fmt.Errorf("%w: allocated page %d but file has %d pages", flushmanager.ErrInternal, ph.pageNo(), fh.hdr.NumPages)
	}

	ph.setNextFreePageNo(NoPage)
	ph.setNumRecords(0)
	bitmapInit(ph.bitmap())
	guard.MarkDirty()
	fh.hdr.NumPages++
	fh.logger.Debug("Created record page", zap.Int32("pageNo", int32(ph.pageNo())))
	return ph, nil
}

// createPageHandleInternal returns a pinned page that has a free slot: the free-list head,
// or a brand-new page that becomes the head. The caller must release it.
// This method MUST be called with fh.mu locked.
func (fh *FileHandle) createPageHandleInternal() (*pageHandle, error) {
	if fh.hdr.FirstFreePageNo != NoPage {
		return fh.fetchPageHandleInternal(fh.hdr.FirstFreePageNo)
	}
	ph, err := fh.createNewPageHandleInternal()
	if err != nil {
		return nil, err
	}
	fh.hdr.FirstFreePageNo = ph.pageNo()
	return ph, nil
}

// releasePageHandleInternal pushes a page that just stopped being full onto the free list.
// This method MUST be called with fh.mu locked.
func (fh *FileHandle) releasePageHandleInternal(ph *pageHandle) {
	ph.setNextFreePageNo(fh.hdr.FirstFreePageNo)
	fh.hdr.FirstFreePageNo = ph.pageNo()
}

// fillSlotInternal writes data into a free slot and counts it.
// This method MUST be called with fh.mu locked.
func (fh *FileHandle) fillSlotInternal(ph *pageHandle, slotNo int, data []byte) {
	copy(ph.slot(slotNo), data)
	bitmapSet(ph.bitmap(), slotNo)
	ph.setNumRecords(ph.numRecords() + 1)
	ph.guard.MarkDirty()
}

// findFreePagePredecessorInternal returns the free page whose link points at target, or NoPage.
// Each page on the way is released before the next one is fetched.
// This method MUST be called with fh.mu locked.
func (fh *FileHandle) findFreePagePredecessorInternal(target pagemanager.PageNo) (pagemanager.PageNo, error) {
	cur := fh.hdr.FirstFreePageNo
	for steps := int32(0); cur != NoPage && steps < fh.hdr.NumPages; steps++ {
		ph, err := fh.fetchPageHandleInternal(cur)
		if err != nil {
			return NoPage, err
		}
		after := ph.nextFreePageNo()
		if err := ph.release(); err != nil {
			return NoPage, err
		}
		if after == target {
			return cur, nil
		}
		cur = after
	}
	return NoPage, nil
}

// setNextFreePageNoInternal rewrites the free-list link stored in one page.
// This method MUST be called with fh.mu locked.
func (fh *FileHandle) setNextFreePageNoInternal(pageNo, next pagemanager.PageNo) (err error) {
	ph, err := fh.fetchPageHandleInternal(pageNo)
	if err != nil {
		return err
	}
	defer releaseInto(ph, &err)
	ph.setNextFreePageNo(next)
	ph.guard.MarkDirty()
	return nil
}
