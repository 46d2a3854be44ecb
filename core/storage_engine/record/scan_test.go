package record

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func scanAll(t *testing.T, fh *FileHandle) []Rid {
	t.Helper()
	scan, err := fh.Scan()
	require.NoError(t, err)
	var rids []Rid
	for ; !scan.IsEnd(); require.NoError(t, scan.Next()) {
		rids = append(rids, scan.Rid())
	}
	return rids
}

func TestScanEmptyFile(t *testing.T) {
	env := setupRecordFile(t, 2)
	scan, err := env.fh.Scan()
	require.NoError(t, err)
	require.True(t, scan.IsEnd())
	require.Equal(t, Rid{PageNo: NoPage, SlotNo: -1}, scan.Rid())
	require.NoError(t, scan.Next(), "advancing past the end is a no-op")
	require.True(t, scan.IsEnd())
}

func TestScanVisitsRecordsInOrder(t *testing.T) {
	env := setupRecordFile(t, 2)
	fh := env.fh
	rids := insertN(t, fh, 3*testPerPage+2)

	// Empty page 1 entirely and punch holes elsewhere.
	deleted := make(map[Rid]bool)
	for _, rid := range rids {
		if rid.PageNo == 1 || rid.SlotNo%4 == 1 {
			require.NoError(t, fh.DeleteRecord(rid))
			deleted[rid] = true
		}
	}

	var want []Rid
	for _, rid := range rids {
		if !deleted[rid] {
			want = append(want, rid)
		}
	}
	got := scanAll(t, fh)
	require.Equal(t, want, got)

	for _, rid := range got {
		rec, err := fh.GetRecord(rid)
		require.NoError(t, err)
		require.Len(t, rec.Data, testRecordSize)
	}
	require.Zero(t, env.bpm.PinnedFrames(), "a scan holds no pins between steps")
}

func TestScanSkipsLeadingEmptyPages(t *testing.T) {
	env := setupRecordFile(t, 2)
	fh := env.fh
	rids := insertN(t, fh, testPerPage+1)
	for _, rid := range rids[:testPerPage] {
		require.NoError(t, fh.DeleteRecord(rid))
	}
	require.Equal(t, []Rid{{PageNo: 1, SlotNo: 0}}, scanAll(t, fh))
}
