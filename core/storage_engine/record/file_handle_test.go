package record

import (
	"encoding/binary"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	flushmanager "github.com/sushant-115/gojostore/core/write_engine/flush_manager"
	"github.com/sushant-115/gojostore/core/write_engine/memtable"
	pagemanager "github.com/sushant-115/gojostore/core/write_engine/page_manager"
	"go.uber.org/zap"
)

const (
	testPageSize   = 128
	testRecordSize = 8
	testPerPage    = 14 // NewFileHeader(8, 128)
)

type recordEnv struct {
	dm   *flushmanager.DiskManager
	bpm  *memtable.BufferPoolManager
	rm   *Manager
	fh   *FileHandle
	dir  string
	path string
}

func setupRecordFile(t *testing.T, poolSize int) *recordEnv {
	t.Helper()
	dir := t.TempDir()
	logger := zap.NewNop()

	dm, err := flushmanager.NewDiskManager(testPageSize, filepath.Join(dir, "db.log"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })
	bpm, err := memtable.NewBufferPoolManager(poolSize, dm, logger, nil)
	require.NoError(t, err)

	rm := NewManager(dm, bpm, logger)
	path := filepath.Join(dir, "records.db")
	require.NoError(t, rm.CreateFile(path, testRecordSize))
	fh, err := rm.OpenFile(path)
	require.NoError(t, err)
	return &recordEnv{dm: dm, bpm: bpm, rm: rm, fh: fh, dir: dir, path: path}
}

func pageNoOf(n int32) pagemanager.PageNo { return pagemanager.PageNo(n) }

func recordOf(v uint64) []byte {
	b := make([]byte, testRecordSize)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func insertN(t *testing.T, fh *FileHandle, n int) []Rid {
	t.Helper()
	rids := make([]Rid, 0, n)
	for i := 0; i < n; i++ {
		rid, err := fh.InsertRecord(recordOf(uint64(i)))
		require.NoError(t, err)
		rids = append(rids, rid)
	}
	return rids
}

// requirePageInvariants checks every page of the file: num_records matches the bitmap,
// and a page is on the free list exactly when it has a free slot.
func requirePageInvariants(t *testing.T, fh *FileHandle) {
	t.Helper()
	fh.mu.Lock()
	defer fh.mu.Unlock()

	onList := make(map[int32]bool)
	for cur := fh.hdr.FirstFreePageNo; cur != NoPage; {
		require.False(t, onList[int32(cur)], "free list has a cycle at page %d", cur)
		onList[int32(cur)] = true
		ph, err := fh.fetchPageHandleInternal(cur)
		require.NoError(t, err)
		cur = ph.nextFreePageNo()
		require.NoError(t, ph.release())
	}

	perPage := int(fh.hdr.NumRecordsPerPage)
	for pageNo := int32(0); pageNo < fh.hdr.NumPages; pageNo++ {
		ph, err := fh.fetchPageHandleInternal(pageNoOf(pageNo))
		require.NoError(t, err)
		n := ph.numRecords()
		require.Equal(t, bitmapCount(ph.bitmap(), perPage), n, "page %d", pageNo)
		require.Equal(t, n < perPage, onList[pageNo], "page %d with %d records", pageNo, n)
		require.NoError(t, ph.release())
	}
}

func TestInsertGetUpdateDelete(t *testing.T) {
	env := setupRecordFile(t, 4)
	fh := env.fh

	rid, err := fh.InsertRecord(recordOf(42))
	require.NoError(t, err)
	require.Equal(t, Rid{PageNo: 0, SlotNo: 0}, rid)

	rec, err := fh.GetRecord(rid)
	require.NoError(t, err)
	require.Equal(t, recordOf(42), rec.Data)
	require.Equal(t, testRecordSize, rec.Size)

	require.NoError(t, fh.UpdateRecord(rid, recordOf(43)))
	rec, err = fh.GetRecord(rid)
	require.NoError(t, err)
	require.Equal(t, recordOf(43), rec.Data)

	ok, err := fh.IsRecord(rid)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, fh.DeleteRecord(rid))
	ok, err = fh.IsRecord(rid)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = fh.GetRecord(rid)
	require.ErrorIs(t, err, flushmanager.ErrRecordNotFound)
	require.ErrorIs(t, fh.DeleteRecord(rid), flushmanager.ErrRecordNotFound)
	require.ErrorIs(t, fh.UpdateRecord(rid, recordOf(1)), flushmanager.ErrRecordNotFound)

	require.Zero(t, env.bpm.PinnedFrames(), "every operation gives its pins back")
}

func TestRecordAddressing(t *testing.T) {
	env := setupRecordFile(t, 4)
	fh := env.fh
	insertN(t, fh, 3)

	_, err := fh.GetRecord(Rid{PageNo: 0, SlotNo: testPerPage})
	require.ErrorIs(t, err, flushmanager.ErrRecordNotFound)
	_, err = fh.GetRecord(Rid{PageNo: 0, SlotNo: -1})
	require.ErrorIs(t, err, flushmanager.ErrRecordNotFound)
	_, err = fh.GetRecord(Rid{PageNo: 1, SlotNo: 0})
	require.ErrorIs(t, err, flushmanager.ErrPageNotExist)
	_, err = fh.GetRecord(Rid{PageNo: NoPage, SlotNo: 0})
	require.ErrorIs(t, err, flushmanager.ErrPageNotExist)

	_, err = fh.InsertRecord([]byte("short"))
	require.ErrorIs(t, err, flushmanager.ErrRecordSize)
	require.ErrorIs(t, fh.UpdateRecord(Rid{PageNo: 0, SlotNo: 0}, make([]byte, 9)), flushmanager.ErrRecordSize)
	require.Zero(t, env.bpm.PinnedFrames())
}

func TestInsertFillsPagesInOrder(t *testing.T) {
	env := setupRecordFile(t, 4)
	fh := env.fh

	rids := insertN(t, fh, 2*testPerPage+1)
	for i, rid := range rids {
		require.Equal(t, Rid{PageNo: pageNoOf(int32(i / testPerPage)), SlotNo: i % testPerPage}, rid)
	}
	hdr := fh.FileHeader()
	require.Equal(t, int32(3), hdr.NumPages)
	require.Equal(t, pageNoOf(2), hdr.FirstFreePageNo, "full pages leave the free list")
	requirePageInvariants(t, fh)
}

func TestDeleteFromFullPageReusesSlot(t *testing.T) {
	env := setupRecordFile(t, 4)
	fh := env.fh

	// Page 0 full, page 1 partially filled and at the head of the free list.
	insertN(t, fh, testPerPage+3)
	require.Equal(t, pageNoOf(1), fh.FileHeader().FirstFreePageNo)

	victim := Rid{PageNo: 0, SlotNo: 5}
	require.NoError(t, fh.DeleteRecord(victim))
	require.Equal(t, pageNoOf(0), fh.FileHeader().FirstFreePageNo, "a page that stops being full becomes the head")
	requirePageInvariants(t, fh)

	rid, err := fh.InsertRecord(recordOf(999))
	require.NoError(t, err)
	require.Equal(t, victim, rid)
	require.Equal(t, int32(2), fh.FileHeader().NumPages, "no new page was needed")
	require.Equal(t, pageNoOf(1), fh.FileHeader().FirstFreePageNo)
	requirePageInvariants(t, fh)
}

func TestInsertRecordAt(t *testing.T) {
	env := setupRecordFile(t, 4)
	fh := env.fh
	rids := insertN(t, fh, 2*testPerPage)
	require.Equal(t, NoPage, fh.FileHeader().FirstFreePageNo)

	require.ErrorIs(t, fh.InsertRecordAt(rids[0], recordOf(7)), flushmanager.ErrSlotOccupied)

	// Free list becomes page 1 -> page 0.
	require.NoError(t, fh.DeleteRecord(Rid{PageNo: 0, SlotNo: 0}))
	require.NoError(t, fh.DeleteRecord(Rid{PageNo: 1, SlotNo: 0}))
	require.Equal(t, pageNoOf(1), fh.FileHeader().FirstFreePageNo)

	// Refilling page 0 from the middle of the list must unlink it.
	require.NoError(t, fh.InsertRecordAt(Rid{PageNo: 0, SlotNo: 0}, recordOf(100)))
	requirePageInvariants(t, fh)
	require.Equal(t, pageNoOf(1), fh.FileHeader().FirstFreePageNo)

	rec, err := fh.GetRecord(Rid{PageNo: 0, SlotNo: 0})
	require.NoError(t, err)
	require.Equal(t, recordOf(100), rec.Data)

	// Refilling the head works too.
	require.NoError(t, fh.InsertRecordAt(Rid{PageNo: 1, SlotNo: 0}, recordOf(101)))
	require.Equal(t, NoPage, fh.FileHeader().FirstFreePageNo)
	requirePageInvariants(t, fh)

	require.ErrorIs(t, fh.InsertRecordAt(Rid{PageNo: 5, SlotNo: 0}, recordOf(1)), flushmanager.ErrPageNotExist)
	require.Zero(t, env.bpm.PinnedFrames())
}

func TestRidsStayValidUnderEviction(t *testing.T) {
	// Two frames for many pages: every page is evicted and re-read several times.
	env := setupRecordFile(t, 2)
	fh := env.fh

	const n = 10 * testPerPage
	rids := insertN(t, fh, n)
	for i := 0; i < n; i += 3 {
		require.NoError(t, fh.UpdateRecord(rids[i], recordOf(uint64(i)+1_000_000)))
	}
	for i, rid := range rids {
		want := uint64(i)
		if i%3 == 0 {
			want += 1_000_000
		}
		rec, err := fh.GetRecord(rid)
		require.NoError(t, err)
		require.Equal(t, recordOf(want), rec.Data, "rid %s", rid)
	}
	require.Zero(t, env.bpm.PinnedFrames())
	requirePageInvariants(t, fh)
}

func TestRandomWorkloadKeepsInvariants(t *testing.T) {
	env := setupRecordFile(t, 3)
	fh := env.fh
	rng := rand.New(rand.NewSource(1))

	live := make(map[Rid]uint64)
	var order []Rid
	for step := 0; step < 2000; step++ {
		if len(order) == 0 || rng.Intn(3) != 0 {
			v := rng.Uint64()
			rid, err := fh.InsertRecord(recordOf(v))
			require.NoError(t, err)
			_, taken := live[rid]
			require.False(t, taken, "rid %s handed out twice", rid)
			live[rid] = v
			order = append(order, rid)
			continue
		}
		i := rng.Intn(len(order))
		rid := order[i]
		order[i] = order[len(order)-1]
		order = order[:len(order)-1]
		require.NoError(t, fh.DeleteRecord(rid))
		delete(live, rid)
	}
	requirePageInvariants(t, fh)

	for rid, v := range live {
		rec, err := fh.GetRecord(rid)
		require.NoError(t, err)
		require.Equal(t, recordOf(v), rec.Data)
	}
	require.Zero(t, env.bpm.PinnedFrames())
}

func TestPoolExhaustionSurfacesAsInternalError(t *testing.T) {
	env := setupRecordFile(t, 1)
	fh := env.fh
	insertN(t, fh, testPerPage)

	// Hold the only frame so the next page cannot be brought in.
	held := pagemanager.PageID{FileID: fh.FileID(), PageNo: 0}
	_, err := env.bpm.FetchPage(held)
	require.NoError(t, err)

	_, err = fh.InsertRecord(recordOf(1))
	require.ErrorIs(t, err, flushmanager.ErrInternal)
	require.ErrorIs(t, err, flushmanager.ErrBufferPoolFull)
	require.Equal(t, int32(1), fh.FileHeader().NumPages)

	require.NoError(t, env.bpm.UnpinPage(held, false))
	rid, err := fh.InsertRecord(recordOf(1))
	require.NoError(t, err)
	require.Equal(t, Rid{PageNo: 1, SlotNo: 0}, rid)
	requirePageInvariants(t, fh)
}

func TestInsertRecordAtWithSingleFrame(t *testing.T) {
	env := setupRecordFile(t, 1)
	fh := env.fh
	insertN(t, fh, 2*testPerPage)

	// Free list becomes page 1 -> page 0.
	require.NoError(t, fh.DeleteRecord(Rid{PageNo: 0, SlotNo: 0}))
	require.NoError(t, fh.DeleteRecord(Rid{PageNo: 1, SlotNo: 0}))
	require.Equal(t, pageNoOf(1), fh.FileHeader().FirstFreePageNo)

	// Unlinking page 0 touches page 1 as well; one frame is enough.
	require.NoError(t, fh.InsertRecordAt(Rid{PageNo: 0, SlotNo: 0}, recordOf(100)))
	require.Zero(t, env.bpm.PinnedFrames())
	require.Equal(t, pageNoOf(1), fh.FileHeader().FirstFreePageNo)
	requirePageInvariants(t, fh)

	rid, err := fh.InsertRecord(recordOf(101))
	require.NoError(t, err)
	require.Equal(t, Rid{PageNo: 1, SlotNo: 0}, rid)
	rid, err = fh.InsertRecord(recordOf(102))
	require.NoError(t, err)
	require.Equal(t, Rid{PageNo: 2, SlotNo: 0}, rid)
	requirePageInvariants(t, fh)
}

func TestFailedInsertRecordAtLeavesPageUnchanged(t *testing.T) {
	env := setupRecordFile(t, 1)
	fh := env.fh
	insertN(t, fh, 2*testPerPage)
	require.NoError(t, fh.DeleteRecord(Rid{PageNo: 0, SlotNo: 0}))
	require.NoError(t, fh.DeleteRecord(Rid{PageNo: 1, SlotNo: 0}))
	before := fh.FileHeader()

	held := pagemanager.PageID{FileID: fh.FileID(), PageNo: 1}
	_, err := env.bpm.FetchPage(held)
	require.NoError(t, err)
	err = fh.InsertRecordAt(Rid{PageNo: 0, SlotNo: 0}, recordOf(100))
	require.ErrorIs(t, err, flushmanager.ErrBufferPoolFull)
	require.NoError(t, env.bpm.UnpinPage(held, false))

	require.Equal(t, before, fh.FileHeader())
	ok, err := fh.IsRecord(Rid{PageNo: 0, SlotNo: 0})
	require.NoError(t, err)
	require.False(t, ok)
	requirePageInvariants(t, fh)

	rid, err := fh.InsertRecord(recordOf(101))
	require.NoError(t, err)
	require.Equal(t, Rid{PageNo: 1, SlotNo: 0}, rid)
	rid, err = fh.InsertRecord(recordOf(102))
	require.NoError(t, err)
	require.Equal(t, Rid{PageNo: 0, SlotNo: 0}, rid)
	requirePageInvariants(t, fh)
}

func TestInsertAfterDeletingEverythingReusesPages(t *testing.T) {
	env := setupRecordFile(t, 2)
	fh := env.fh
	rids := insertN(t, fh, 3*testPerPage)
	for _, rid := range rids {
		require.NoError(t, fh.DeleteRecord(rid))
	}
	requirePageInvariants(t, fh)
	numPages := fh.FileHeader().NumPages
	require.Empty(t, scanAll(t, fh))

	rid, err := fh.InsertRecord(recordOf(1))
	require.NoError(t, err)
	require.Equal(t, numPages, fh.FileHeader().NumPages)
	require.Contains(t, rids, rid)
	requirePageInvariants(t, fh)
}
