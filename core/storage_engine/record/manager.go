package record

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/sushant-115/gojostore/core/storage_engine/common"
	flushmanager "github.com/sushant-115/gojostore/core/write_engine/flush_manager"
	"github.com/sushant-115/gojostore/core/write_engine/memtable"
	pagemanager "github.com/sushant-115/gojostore/core/write_engine/page_manager"
	"go.uber.org/zap"
)

// HeaderFileSuffix names the sidecar file that holds a record file's FileHeader.
const HeaderFileSuffix = ".hdr"

// Manager creates, opens and closes record files, persisting their headers between sessions.
type Manager struct {
	dm     *flushmanager.DiskManager
	bpm    *memtable.BufferPoolManager
	logger *zap.Logger
}

func NewManager(dm *flushmanager.DiskManager, bpm *memtable.BufferPoolManager, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{dm: dm, bpm: bpm, logger: logger}
}

func headerPath(path string) string { return path + HeaderFileSuffix }

// CreateFile creates an empty record file for records of recordSize bytes.
func (m *Manager) CreateFile(path string, recordSize int) error {
	hdr, err := NewFileHeader(recordSize, m.dm.GetPageSize())
	if err != nil {
		return err
	}
	if err := m.dm.CreateFile(path); err != nil {
		return err
	}
	if err := writeHeader(path, hdr); err != nil {
		_ = m.dm.DestroyFile(path)
		return err
	}
	m.logger.Info("Created record file", zap.String("path", path), zap.Int32("recordSize", hdr.RecordSize), zap.Int32("recordsPerPage", hdr.NumRecordsPerPage))
	return nil
}

// OpenFile loads the header of path and returns a handle over it.
func (m *Manager) OpenFile(path string) (*FileHandle, error) {
	hdr, err := readHeader(path)
	if err != nil {
		return nil, err
	}
	if err := hdr.checkPageSize(m.dm.GetPageSize()); err != nil {
		m.logger.Error("Rejected record file header", zap.String("path", path), zap.Error(err))
		return nil, err
	}
	fileID, err := m.dm.OpenFile(path)
	if err != nil {
		return nil, err
	}
	if err := m.dm.SetNextPageNo(fileID, pagemanager.PageNo(hdr.NumPages)); err != nil {
		_ = m.dm.CloseFile(fileID)
		return nil, err
	}
	m.logger.Info("Opened record file", zap.String("path", path), zap.Int32("fileID", int32(fileID)), zap.Int32("numPages", hdr.NumPages))
	return NewFileHandle(m.bpm, fileID, hdr, m.logger), nil
}

// CloseFile flushes the file's pages, drops them from the pool, saves the header and closes the file.
// It fails if any page of the file is still pinned.
func (m *Manager) CloseFile(fh *FileHandle) error {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	path, err := m.dm.GetFileName(fh.fileID)
	if err != nil {
		return err
	}
	if err := m.bpm.FlushAllPages(fh.fileID); err != nil {
		return err
	}
	for pageNo := int32(0); pageNo < fh.hdr.NumPages; pageNo++ {
		if err := m.bpm.DeletePage(pagemanager.PageID{FileID: fh.fileID, PageNo: pagemanager.PageNo(pageNo)}); err != nil {
			return err
		}
	}
	if err := writeHeader(path, fh.hdr); err != nil {
		return err
	}
	if err := m.dm.CloseFile(fh.fileID); err != nil {
		return err
	}
	m.logger.Info("Closed record file", zap.String("path", path), zap.Int32("numPages", fh.hdr.NumPages))
	return nil
}

// DestroyFile removes a closed record file and its header.
func (m *Manager) DestroyFile(path string) error {
	if err := m.dm.DestroyFile(path); err != nil {
		return err
	}
	if err := os.Remove(headerPath(path)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: removing header of %s: %v", flushmanager.ErrIO, path, err)
	}
	return nil
}

// BackupFile writes a consistent copy of an open record file to dstPath (plus its header),
// throttled to rateBytesPerSec (0 = unlimited). It returns the sha256 of the copied data file.
func (m *Manager) BackupFile(ctx context.Context, fh *FileHandle, dstPath string, rateBytesPerSec int64) (string, error) {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	path, err := m.dm.GetFileName(fh.fileID)
	if err != nil {
		return "", err
	}
	if err := m.bpm.FlushAllPages(fh.fileID); err != nil {
		return "", err
	}
	if err := m.dm.Sync(); err != nil {
		return "", err
	}
	sum, err := common.CopyThrottled(ctx, path, dstPath, rateBytesPerSec)
	if err != nil {
		return "", fmt.Errorf("%w: backing up %s: %v", flushmanager.ErrIO, path, err)
	}
	if err := writeHeader(dstPath, fh.hdr); err != nil {
		return "", err
	}
	checksum := hex.EncodeToString(sum)
	m.logger.Info("Backed up record file", zap.String("src", path), zap.String("dst", dstPath), zap.String("sha256", checksum))
	return checksum, nil
}

func writeHeader(path string, hdr FileHeader) error {
	data, err := hdr.MarshalBinary()
	if err != nil {
		return err
	}
	if err := os.WriteFile(headerPath(path), data, 0644); err != nil {
		return fmt.Errorf("%w: writing header of %s: %v", flushmanager.ErrIO, path, err)
	}
	return nil
}

func readHeader(path string) (FileHeader, error) {
	var hdr FileHeader
	data, err := os.ReadFile(headerPath(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return hdr, fmt.Errorf("%w: header of %s", flushmanager.ErrFileNotFound, path)
		}
		return hdr, fmt.Errorf("%w: reading header of %s: %v", flushmanager.ErrIO, path, err)
	}
	if err := hdr.UnmarshalBinary(data); err != nil {
		return hdr, err
	}
	return hdr, nil
}
