package record

import (
	"encoding/binary"

	pagemanager "github.com/sushant-115/gojostore/core/write_engine/page_manager"
)

// pageHandle interprets a pinned page as a record page:
// [next_free_page_no int32][num_records int32][bitmap][slot 0][slot 1]...
type pageHandle struct {
	guard *pagemanager.PageGuard
	hdr   *FileHeader
}

func (ph *pageHandle) pageNo() pagemanager.PageNo { return ph.guard.PageID().PageNo }

func (ph *pageHandle) nextFreePageNo() pagemanager.PageNo {
	return pagemanager.PageNo(int32(binary.LittleEndian.Uint32(ph.guard.Data()[offsetNextFreePageNo:])))
}

func (ph *pageHandle) setNextFreePageNo(pageNo pagemanager.PageNo) {
	binary.LittleEndian.PutUint32(ph.guard.Data()[offsetNextFreePageNo:], uint32(int32(pageNo)))
}

func (ph *pageHandle) numRecords() int {
	return int(int32(binary.LittleEndian.Uint32(ph.guard.Data()[offsetNumRecords:])))
}

func (ph *pageHandle) setNumRecords(n int) {
	binary.LittleEndian.PutUint32(ph.guard.Data()[offsetNumRecords:], uint32(int32(n)))
}

func (ph *pageHandle) bitmap() []byte {
	return ph.guard.Data()[pageHeaderSize : pageHeaderSize+int(ph.hdr.BitmapSize)]
}

// slot returns the record bytes of slotNo, bounds-checked by the slice expression.
func (ph *pageHandle) slot(slotNo int) []byte {
	size := int(ph.hdr.RecordSize)
	start := pageHeaderSize + int(ph.hdr.BitmapSize) + slotNo*size
	return ph.guard.Data()[start : start+size]
}

func (ph *pageHandle) isFull() bool {
	return ph.numRecords() == int(ph.hdr.NumRecordsPerPage)
}

func (ph *pageHandle) release() error { return ph.guard.Release() }
