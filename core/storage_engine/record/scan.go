package record

// Scan walks the occupied slots of a FileHandle in (page, slot) order.
// It pins one page at a time and only for the duration of a step; it never modifies data.
type Scan struct {
	fh  *FileHandle
	rid Rid
}

// NewScan creates a scan positioned at the first record, or at the end if the file is empty.
func NewScan(fh *FileHandle) (*Scan, error) {
	s := &Scan{fh: fh, rid: Rid{PageNo: FirstRecordPage, SlotNo: -1}}
	if err := s.Next(); err != nil {
		return nil, err
	}
	return s, nil
}

// Next moves to the next occupied slot after the current position.
func (s *Scan) Next() error {
	if s.IsEnd() {
		return nil
	}
	fh := s.fh
	fh.mu.Lock()
	defer fh.mu.Unlock()

	perPage := int(fh.hdr.NumRecordsPerPage)
	for int32(s.rid.PageNo) < fh.hdr.NumPages {
		ph, err := fh.fetchPageHandleInternal(s.rid.PageNo)
		if err != nil {
			return err
		}
		next := bitmapNextBit(true, ph.bitmap(), perPage, s.rid.SlotNo+1)
		if err := ph.release(); err != nil {
			return err
		}
		if next < perPage {
			s.rid.SlotNo = next
			return nil
		}
		s.rid.PageNo++
		s.rid.SlotNo = -1
	}
	s.rid = Rid{PageNo: NoPage, SlotNo: -1}
	return nil
}

// IsEnd reports whether the scan has run past the last record.
func (s *Scan) IsEnd() bool { return s.rid.PageNo == NoPage }

// Rid returns the current position.
func (s *Scan) Rid() Rid { return s.rid }
