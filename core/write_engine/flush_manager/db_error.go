package flushmanager

import "errors"

// --- Error Definitions ---

var (
	// Resource exhaustion.
	ErrBufferPoolFull = errors.New("buffer pool is full and no pages can be evicted")

	// Not found.
	ErrPageNotFound   = errors.New("page not found in buffer pool")
	ErrPageNotExist   = errors.New("page does not exist")
	ErrRecordNotFound = errors.New("record not found")
	ErrFileNotFound   = errors.New("file not found")
	ErrFileNotOpen    = errors.New("file not open")

	// Conflicts.
	ErrPageNotPinned = errors.New("page is not pinned")
	ErrPagePinned    = errors.New("page is pinned and cannot be deleted")
	ErrSlotOccupied  = errors.New("record slot already occupied")
	ErrFileNotClosed = errors.New("file is still open")
	ErrFileExists    = errors.New("file already exists")

	// Faults.
	ErrIO                  = errors.New("i/o error")
	ErrInternal            = errors.New("internal error")
	ErrRecordSize          = errors.New("record size mismatch")
	ErrLogOffsetOutOfRange = errors.New("log offset beyond end of log")
	ErrInvalidFileHeader   = errors.New("invalid record file header")
)
