package record

import (
	"bytes"
	"encoding/binary"
	"fmt"

	flushmanager "github.com/sushant-115/gojostore/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojostore/core/write_engine/page_manager"
)

const (
	// FileHeaderMagic identifies a persisted record file header.
	FileHeaderMagic   uint32 = 0x524D4648 // "RMFH"
	fileHeaderVersion uint32 = 1

	// pageHeaderSize is next_free_page_no (int32) followed by num_records (int32).
	pageHeaderSize       = 8
	offsetNextFreePageNo = 0
	offsetNumRecords     = 4
)

// FileHeader describes the layout and free-space state of one record file.
// It lives in memory while the file is open; Manager persists it on close.
type FileHeader struct {
	RecordSize        int32
	NumRecordsPerPage int32
	BitmapSize        int32
	NumPages          int32
	FirstFreePageNo   pagemanager.PageNo
}

// NewFileHeader computes the fixed page layout for records of recordSize bytes:
// the largest slot count n with header + ceil(n/8) + n*recordSize <= pageSize.
func NewFileHeader(recordSize, pageSize int) (FileHeader, error) {
	if recordSize <= 0 {
		return FileHeader{}, fmt.Errorf("%w: record size must be positive, got %d", flushmanager.ErrRecordSize, recordSize)
	}
	avail := pageSize - pageHeaderSize
	n := avail * 8 / (recordSize*8 + 1)
	for n > 0 && pageHeaderSize+(n+7)/8+n*recordSize > pageSize {
		n--
	}
	if n <= 0 {
		return FileHeader{}, fmt.Errorf("%w: record size %d does not fit a %d byte page", flushmanager.ErrRecordSize, recordSize, pageSize)
	}
	return FileHeader{
		RecordSize:        int32(recordSize),
		NumRecordsPerPage: int32(n),
		BitmapSize:        int32((n + 7) / 8),
		NumPages:          0,
		FirstFreePageNo:   NoPage,
	}, nil
}

// persistedFileHeader is the fixed-size on-disk form of FileHeader.
type persistedFileHeader struct {
	Magic             uint32
	Version           uint32
	RecordSize        int32
	NumRecordsPerPage int32
	BitmapSize        int32
	NumPages          int32
	FirstFreePageNo   int32
}

func (h FileHeader) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	p := persistedFileHeader{
		Magic:             FileHeaderMagic,
		Version:           fileHeaderVersion,
		RecordSize:        h.RecordSize,
		NumRecordsPerPage: h.NumRecordsPerPage,
		BitmapSize:        h.BitmapSize,
		NumPages:          h.NumPages,
		FirstFreePageNo:   int32(h.FirstFreePageNo),
	}
	if err := binary.Write(buf, binary.LittleEndian, &p); err != nil {
		return nil, fmt.Errorf("serializing file header: %w", err)
	}
	return buf.Bytes(), nil
}

func (h *FileHeader) UnmarshalBinary(data []byte) error {
	var p persistedFileHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &p); err != nil {
		return fmt.Errorf("%w: %v", flushmanager.ErrInvalidFileHeader, err)
	}
	if p.Magic != FileHeaderMagic {
		return fmt.Errorf("%w: bad magic 0x%x", flushmanager.ErrInvalidFileHeader, p.Magic)
	}
	if p.Version != fileHeaderVersion {
		return fmt.Errorf("%w: unsupported version %d", flushmanager.ErrInvalidFileHeader, p.Version)
	}
	if p.RecordSize <= 0 || p.NumRecordsPerPage <= 0 || p.BitmapSize != (p.NumRecordsPerPage+7)/8 || p.NumPages < 0 {
		return fmt.Errorf("%w: inconsistent layout", flushmanager.ErrInvalidFileHeader)
	}
	*h = FileHeader{
		RecordSize:        p.RecordSize,
		NumRecordsPerPage: p.NumRecordsPerPage,
		BitmapSize:        p.BitmapSize,
		NumPages:          p.NumPages,
		FirstFreePageNo:   pagemanager.PageNo(p.FirstFreePageNo),
	}
	return nil
}

// checkPageSize rejects a header whose page layout does not fit pages of pageSize bytes,
// such as a file created under a larger page size.
func (h FileHeader) checkPageSize(pageSize int) error {
	need := pageHeaderSize + int(h.BitmapSize) + int(h.NumRecordsPerPage)*int(h.RecordSize)
	if need > pageSize {
		return fmt.Errorf("%w: layout needs %d byte pages, disk manager uses %d", flushmanager.ErrInvalidFileHeader, need, pageSize)
	}
	if h.FirstFreePageNo != NoPage && (h.FirstFreePageNo < 0 || int32(h.FirstFreePageNo) >= h.NumPages) {
		return fmt.Errorf("%w: free list head %d outside %d pages", flushmanager.ErrInvalidFileHeader, h.FirstFreePageNo, h.NumPages)
	}
	return nil
}
