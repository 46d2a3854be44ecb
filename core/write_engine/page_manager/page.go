package pagemanager

import "fmt"

// --- Page Management ---

// FileID identifies an open file inside the DiskManager (the equivalent of a file descriptor).
type FileID int32

// PageNo is the dense, per-file page number. Page 0 is the first page of a file.
type PageNo int32

const (
	InvalidFileID FileID = -1
	InvalidPageNo PageNo = -1
)

// PageID represents a unique identifier for a page on disk: the file it lives in and its number there.
type PageID struct {
	FileID FileID
	PageNo PageNo
}

// InvalidPageID marks a frame that holds no page.
var InvalidPageID = PageID{FileID: InvalidFileID, PageNo: InvalidPageNo}

func (id PageID) IsValid() bool { return id.PageNo != InvalidPageNo }

func (id PageID) String() string {
	return fmt.Sprintf("(%d,%d)", id.FileID, id.PageNo)
}

// Page represents an in-memory frame holding a copy of a disk page.
// Its metadata is owned by the BufferPoolManager and must only be changed under the pool's lock.
type Page struct {
	id       PageID
	data     []byte
	pinCount uint32
	isDirty  bool
}

// NewPage creates a new Page instance.
func NewPage(id PageID, size int) *Page {
	return &Page{
		id:   id,
		data: make([]byte, size),
	}
}

// Reset clears the frame metadata and zeroes its data.
func (p *Page) Reset() {
	p.id = InvalidPageID
	p.pinCount = 0
	p.isDirty = false
	p.ResetMemory()
}

// ResetMemory zeroes the page bytes only.
func (p *Page) ResetMemory() {
	clear(p.data)
}

func (p *Page) GetData() []byte             { return p.data }
func (p *Page) GetPageID() PageID           { return p.id }
func (p *Page) SetPageID(id PageID)         { p.id = id }
func (p *Page) IsDirty() bool               { return p.isDirty }
func (p *Page) SetDirty(dirty bool)         { p.isDirty = dirty }
func (p *Page) Pin()                        { p.pinCount++ }
func (p *Page) GetPinCount() uint32         { return p.pinCount }
func (p *Page) SetPinCount(pinCount uint32) { p.pinCount = pinCount }
func (p *Page) Unpin() {
	if p.pinCount > 0 {
		p.pinCount--
	}
}
