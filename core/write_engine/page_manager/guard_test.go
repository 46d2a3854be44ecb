package pagemanager

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingPool struct {
	calls []bool
	err   error
}

func (p *recordingPool) UnpinPage(pageID PageID, isDirty bool) error {
	p.calls = append(p.calls, isDirty)
	return p.err
}

func TestPageGuardUnpinsExactlyOnce(t *testing.T) {
	pool := &recordingPool{}
	page := NewPage(PageID{FileID: 1, PageNo: 4}, 16)
	guard := NewPageGuard(pool, page)

	require.Equal(t, PageID{FileID: 1, PageNo: 4}, guard.PageID())
	require.Len(t, guard.Data(), 16)
	require.False(t, guard.Released())

	guard.MarkDirty()
	require.NoError(t, guard.Release())
	require.NoError(t, guard.Release())
	require.True(t, guard.Released())
	require.Equal(t, []bool{true}, pool.calls)
}

func TestPageGuardReportsUnpinError(t *testing.T) {
	pool := &recordingPool{err: errors.New("boom")}
	guard := NewPageGuard(pool, NewPage(PageID{FileID: 0, PageNo: 0}, 8))

	require.EqualError(t, guard.Release(), "boom")
	require.Equal(t, []bool{false}, pool.calls)
}

func TestPageReset(t *testing.T) {
	page := NewPage(PageID{FileID: 2, PageNo: 3}, 8)
	page.Pin()
	page.SetDirty(true)
	copy(page.GetData(), "abcdefgh")

	page.Reset()
	require.Equal(t, InvalidPageID, page.GetPageID())
	require.False(t, page.GetPageID().IsValid())
	require.Zero(t, page.GetPinCount())
	require.False(t, page.IsDirty())
	require.Equal(t, make([]byte, 8), page.GetData())

	page.Unpin()
	require.Zero(t, page.GetPinCount(), "unpin never goes below zero")
	require.Equal(t, "(2,3)", PageID{FileID: 2, PageNo: 3}.String())
}
