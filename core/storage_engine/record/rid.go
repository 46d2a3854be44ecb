package record

import (
	"fmt"

	pagemanager "github.com/sushant-115/gojostore/core/write_engine/page_manager"
)

// NoPage terminates the free-page list and marks the end of a scan.
const NoPage pagemanager.PageNo = -1

// FirstRecordPage is the first page of a record file that holds records.
const FirstRecordPage pagemanager.PageNo = 0

// Rid is the durable (page number, slot number) address of a record.
type Rid struct {
	PageNo pagemanager.PageNo
	SlotNo int
}

func (r Rid) String() string {
	return fmt.Sprintf("{%d, %d}", r.PageNo, r.SlotNo)
}

// Record is a copy of one record's bytes.
type Record struct {
	Data []byte
	Size int
}

func NewRecord(size int) *Record {
	return &Record{Data: make([]byte, size), Size: size}
}
