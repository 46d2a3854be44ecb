package memtable

import (
	"fmt"
	"sync"

	flushmanager "github.com/sushant-115/gojostore/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojostore/core/write_engine/page_manager"
	internaltelemetry "github.com/sushant-115/gojostore/internal/telemetry"
	"go.uber.org/zap"
)

// BufferPoolManager manages in-memory pages (frames) and interacts with the DiskManager.
// Frames come from the free list first and from the LRU replacer once the free list is empty.
// Every exported method runs entirely under bpm.mu.
type BufferPoolManager struct {
	diskManager *flushmanager.DiskManager
	replacer    *LRUReplacer
	logger      *zap.Logger
	metrics     *internaltelemetry.BufferPoolMetrics
	poolSize    int
	pageSize    int

	mu        sync.Mutex
	pages     []*pagemanager.Page            // Page frames
	pageTable map[pagemanager.PageID]FrameID // PageID to frame index
	freeList  []FrameID                      // Frames holding no page
}

// NewBufferPoolManager creates and initializes a new BufferPoolManager.
// logger and metrics may be nil.
func NewBufferPoolManager(poolSize int, diskManager *flushmanager.DiskManager, logger *zap.Logger, metrics *internaltelemetry.BufferPoolMetrics) (*BufferPoolManager, error) {
	if diskManager == nil {
		return nil, fmt.Errorf("NewBufferPoolManager: diskManager cannot be nil")
	}
	if poolSize <= 0 {
		return nil, fmt.Errorf("NewBufferPoolManager: pool size must be positive, got %d", poolSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	bpm := &BufferPoolManager{
		diskManager: diskManager,
		replacer:    NewLRUReplacer(poolSize),
		logger:      logger,
		metrics:     metrics,
		poolSize:    poolSize,
		pageSize:    diskManager.GetPageSize(),
		pages:       make([]*pagemanager.Page, poolSize),
		pageTable:   make(map[pagemanager.PageID]FrameID, poolSize),
		freeList:    make([]FrameID, 0, poolSize),
	}
	for i := 0; i < poolSize; i++ {
		bpm.pages[i] = pagemanager.NewPage(pagemanager.InvalidPageID, bpm.pageSize)
		bpm.freeList = append(bpm.freeList, FrameID(i))
	}
	logger.Info("BufferPoolManager initialized", zap.Int("poolSize", poolSize), zap.Int("pageSize", bpm.pageSize))
	return bpm, nil
}

// findVictimFrameInternal picks a frame to (re)use: the free list first, then the replacer.
// fromFreeList reports where the frame came from.
// This method MUST be called with bpm.mu locked.
func (bpm *BufferPoolManager) findVictimFrameInternal() (frameIdx FrameID, fromFreeList bool, err error) {
	if len(bpm.freeList) > 0 {
		frameIdx = bpm.freeList[0]
		bpm.freeList = bpm.freeList[1:]
		return frameIdx, true, nil
	}
	if frameIdx, ok := bpm.replacer.Victim(); ok {
		bpm.metrics.Eviction()
		return frameIdx, false, nil
	}
	return -1, false, flushmanager.ErrBufferPoolFull
}

// returnFrameInternal undoes findVictimFrameInternal when the frame could not be reused.
// This method MUST be called with bpm.mu locked.
func (bpm *BufferPoolManager) returnFrameInternal(frameIdx FrameID, fromFreeList bool) {
	if fromFreeList {
		bpm.freeList = append(bpm.freeList, frameIdx)
		return
	}
	bpm.replacer.Restore(frameIdx)
}

// evictInternal writes back the frame's current page if it is dirty and unmaps it.
// This method MUST be called with bpm.mu locked.
func (bpm *BufferPoolManager) evictInternal(frameIdx FrameID) error {
	victim := bpm.pages[frameIdx]
	oldID := victim.GetPageID()
	if !oldID.IsValid() {
		return nil
	}
	if victim.IsDirty() {
		bpm.logger.Debug("Writing back dirty victim page", zap.Stringer("pageID", oldID), zap.Int("frame", int(frameIdx)))
		if err := bpm.diskManager.WritePage(oldID.FileID, oldID.PageNo, victim.GetData()); err != nil {
			return fmt.Errorf("failed to flush dirty victim page %s: %w", oldID, err)
		}
		victim.SetDirty(false)
		bpm.metrics.WriteBack()
	}
	delete(bpm.pageTable, oldID)
	return nil
}

// installInternal maps pageID to frameIdx with a single pin.
// This method MUST be called with bpm.mu locked.
func (bpm *BufferPoolManager) installInternal(frameIdx FrameID, pageID pagemanager.PageID) *pagemanager.Page {
	page := bpm.pages[frameIdx]
	page.SetPageID(pageID)
	page.SetPinCount(1)
	page.SetDirty(false)
	bpm.pageTable[pageID] = frameIdx
	bpm.replacer.Pin(frameIdx)
	bpm.metrics.PinDelta(1)
	return page
}

// FetchPage retrieves a page from the buffer pool, reading it from disk if it is not resident.
// The returned page is pinned; the caller must call UnpinPage exactly once for it.
func (bpm *BufferPoolManager) FetchPage(pageID pagemanager.PageID) (*pagemanager.Page, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	// 1. Check if page is already in the buffer pool
	if frameIdx, ok := bpm.pageTable[pageID]; ok {
		page := bpm.pages[frameIdx]
		if page.GetPinCount() == 0 {
			bpm.metrics.PinDelta(1)
		}
		page.Pin()
		bpm.replacer.Pin(frameIdx)
		bpm.metrics.Hit()
		bpm.logger.Debug("Page found in buffer pool", zap.Stringer("pageID", pageID), zap.Int("frame", int(frameIdx)), zap.Uint32("pinCount", page.GetPinCount()))
		return page, nil
	}
	bpm.metrics.Miss()

	// 2. Page not in pool, find a victim frame to replace
	frameIdx, fromFreeList, err := bpm.findVictimFrameInternal()
	if err != nil {
		bpm.logger.Warn("No frame available for page", zap.Stringer("pageID", pageID), zap.Error(err))
		return nil, err
	}

	// 3. Write back and unmap whatever the frame held
	if err := bpm.evictInternal(frameIdx); err != nil {
		bpm.returnFrameInternal(frameIdx, fromFreeList)
		bpm.logger.Error("Victim write-back failed", zap.Stringer("pageID", pageID), zap.Error(err))
		return nil, err
	}

	// 4. Load new page data from disk
	page := bpm.pages[frameIdx]
	page.Reset()
	if err := bpm.diskManager.ReadPage(pageID.FileID, pageID.PageNo, page.GetData()); err != nil {
		// The frame no longer holds anything, so it goes back to the free list.
		page.Reset()
		bpm.freeList = append(bpm.freeList, frameIdx)
		bpm.logger.Error("Failed to read page from disk", zap.Stringer("pageID", pageID), zap.Error(err))
		return nil, fmt.Errorf("failed to read page %s from disk: %w", pageID, err)
	}

	bpm.installInternal(frameIdx, pageID)
	bpm.logger.Debug("Page loaded into frame", zap.Stringer("pageID", pageID), zap.Int("frame", int(frameIdx)))
	return page, nil
}

// UnpinPage gives back one pin on the page and ORs isDirty into its dirty flag.
// Unpinning a page that is not resident or not pinned is rejected.
func (bpm *BufferPoolManager) UnpinPage(pageID pagemanager.PageID, isDirty bool) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameIdx, ok := bpm.pageTable[pageID]
	if !ok {
		return fmt.Errorf("%w: page %s not found to unpin", flushmanager.ErrPageNotFound, pageID)
	}
	page := bpm.pages[frameIdx]
	if page.GetPinCount() == 0 {
		bpm.logger.Warn("Attempted to unpin page with pin count 0", zap.Stringer("pageID", pageID))
		return fmt.Errorf("%w: cannot unpin page %s with pin count 0", flushmanager.ErrPageNotPinned, pageID)
	}
	page.Unpin()
	if page.GetPinCount() == 0 {
		bpm.replacer.Unpin(frameIdx)
		bpm.metrics.PinDelta(-1)
	}
	if isDirty {
		page.SetDirty(true)
	}
	return nil
}

// FlushPage writes a resident page to disk whether or not it is dirty or pinned.
func (bpm *BufferPoolManager) FlushPage(pageID pagemanager.PageID) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameIdx, ok := bpm.pageTable[pageID]
	if !ok {
		return fmt.Errorf("%w: page %s not found to flush", flushmanager.ErrPageNotFound, pageID)
	}
	page := bpm.pages[frameIdx]
	if err := bpm.diskManager.WritePage(pageID.FileID, pageID.PageNo, page.GetData()); err != nil {
		bpm.logger.Error("Failed to flush page", zap.Stringer("pageID", pageID), zap.Error(err))
		return err
	}
	page.SetDirty(false)
	bpm.metrics.Flush(1)
	return nil
}

// NewPage allocates the next page number of fileID and places a zeroed, pinned frame for it in the pool.
// No page number is consumed when no frame is available.
func (bpm *BufferPoolManager) NewPage(fileID pagemanager.FileID) (*pagemanager.Page, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	// 1. Find a frame for the new page
	frameIdx, fromFreeList, err := bpm.findVictimFrameInternal()
	if err != nil {
		bpm.logger.Warn("No frame available for new page", zap.Int32("fileID", int32(fileID)), zap.Error(err))
		return nil, err
	}

	// 2. Write back and unmap whatever the frame held
	if err := bpm.evictInternal(frameIdx); err != nil {
		bpm.returnFrameInternal(frameIdx, fromFreeList)
		return nil, err
	}

	// 3. Allocate a new page number on disk
	pageNo, err := bpm.diskManager.AllocatePage(fileID)
	if err != nil {
		bpm.pages[frameIdx].Reset()
		bpm.freeList = append(bpm.freeList, frameIdx)
		return nil, fmt.Errorf("failed to allocate page in file %d: %w", fileID, err)
	}
	newID := pagemanager.PageID{FileID: fileID, PageNo: pageNo}

	// 4. Reset and install the new page
	bpm.pages[frameIdx].Reset()
	page := bpm.installInternal(frameIdx, newID)
	bpm.logger.Debug("New page placed in frame", zap.Stringer("pageID", newID), zap.Int("frame", int(frameIdx)))
	return page, nil
}

// DeletePage drops a page from the pool and returns its frame to the free list.
// Deleting a page that is not resident succeeds; deleting a pinned page does not.
func (bpm *BufferPoolManager) DeletePage(pageID pagemanager.PageID) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameIdx, ok := bpm.pageTable[pageID]
	if !ok {
		return nil
	}
	page := bpm.pages[frameIdx]
	if page.GetPinCount() > 0 {
		return fmt.Errorf("%w: page %s has pin count %d", flushmanager.ErrPagePinned, pageID, page.GetPinCount())
	}
	if page.IsDirty() {
		if err := bpm.diskManager.WritePage(pageID.FileID, pageID.PageNo, page.GetData()); err != nil {
			return fmt.Errorf("failed to flush page %s before delete: %w", pageID, err)
		}
	}
	delete(bpm.pageTable, pageID)
	bpm.replacer.Pin(frameIdx) // drop it from eviction candidacy
	page.Reset()
	bpm.freeList = append(bpm.freeList, frameIdx)
	bpm.diskManager.DeallocatePage(pageID.PageNo)
	bpm.logger.Debug("Deleted page from buffer pool", zap.Stringer("pageID", pageID), zap.Int("frame", int(frameIdx)))
	return nil
}

// FlushAllPages writes every resident page of fileID to disk and marks it clean.
// Pages stay resident and keep their pins.
func (bpm *BufferPoolManager) FlushAllPages(fileID pagemanager.FileID) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	var firstErr error
	flushed := 0
	for pageID, frameIdx := range bpm.pageTable {
		if pageID.FileID != fileID {
			continue
		}
		page := bpm.pages[frameIdx]
		if err := bpm.diskManager.WritePage(pageID.FileID, pageID.PageNo, page.GetData()); err != nil {
			bpm.logger.Error("Failed to flush page during FlushAllPages", zap.Stringer("pageID", pageID), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		page.SetDirty(false)
		flushed++
	}
	bpm.metrics.Flush(flushed)
	bpm.logger.Debug("Finished FlushAllPages", zap.Int32("fileID", int32(fileID)), zap.Int("pages", flushed))
	return firstErr
}

// --- Guards ---

// FetchPageGuard is FetchPage wrapped in a guard whose Release performs the unpin.
func (bpm *BufferPoolManager) FetchPageGuard(pageID pagemanager.PageID) (*pagemanager.PageGuard, error) {
	page, err := bpm.FetchPage(pageID)
	if err != nil {
		return nil, err
	}
	return pagemanager.NewPageGuard(bpm, page), nil
}

// NewPageGuard is NewPage wrapped in a guard whose Release performs the unpin.
func (bpm *BufferPoolManager) NewPageGuard(fileID pagemanager.FileID) (*pagemanager.PageGuard, error) {
	page, err := bpm.NewPage(fileID)
	if err != nil {
		return nil, err
	}
	return pagemanager.NewPageGuard(bpm, page), nil
}

// --- Introspection ---

func (bpm *BufferPoolManager) GetPageSize() int { return bpm.pageSize }
func (bpm *BufferPoolManager) GetPoolSize() int { return bpm.poolSize }

func (bpm *BufferPoolManager) GetDiskManager() *flushmanager.DiskManager { return bpm.diskManager }

// IsResident reports whether pageID currently occupies a frame.
func (bpm *BufferPoolManager) IsResident(pageID pagemanager.PageID) bool {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	_, ok := bpm.pageTable[pageID]
	return ok
}

// GetPinCount returns the pin count of a resident page.
func (bpm *BufferPoolManager) GetPinCount(pageID pagemanager.PageID) (uint32, bool) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	frameIdx, ok := bpm.pageTable[pageID]
	if !ok {
		return 0, false
	}
	return bpm.pages[frameIdx].GetPinCount(), true
}

// PinnedFrames counts frames with a non-zero pin count.
func (bpm *BufferPoolManager) PinnedFrames() int {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	n := 0
	for _, page := range bpm.pages {
		if page.GetPinCount() > 0 {
			n++
		}
	}
	return n
}

// Stats is a point-in-time view of the frame table.
type Stats struct {
	PoolSize   int
	Resident   int
	Pinned     int
	Dirty      int
	FreeFrames int
	Evictable  int
}

func (bpm *BufferPoolManager) Stats() Stats {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	s := Stats{
		PoolSize:   bpm.poolSize,
		Resident:   len(bpm.pageTable),
		FreeFrames: len(bpm.freeList),
		Evictable:  bpm.replacer.Size(),
	}
	for _, page := range bpm.pages {
		if page.GetPinCount() > 0 {
			s.Pinned++
		}
		if page.IsDirty() {
			s.Dirty++
		}
	}
	return s
}
