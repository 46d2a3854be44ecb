package flushmanager

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	pagemanager "github.com/sushant-115/gojostore/core/write_engine/page_manager"
	"go.uber.org/zap"
)

// --- DiskManager ---

const (
	DefaultPageSize    = 4096
	DefaultLogFileName = "db.log"
)

type openFile struct {
	path       string
	file       *os.File
	nextPageNo atomic.Int32
}

// DiskManager performs raw page I/O on a set of open files and owns the single shared log file.
// It never caches anything; all caching is done by the BufferPoolManager above it.
type DiskManager struct {
	pageSize int
	logPath  string
	logger   *zap.Logger

	mu         sync.Mutex
	files      map[pagemanager.FileID]*openFile
	pathToFile map[string]pagemanager.FileID
	nextFileID pagemanager.FileID

	logMu   sync.Mutex
	logFile *os.File
}

// NewDiskManager creates a DiskManager whose log file lives at logPath.
// logPath is not opened until the log is first read or written.
func NewDiskManager(pageSize int, logPath string, logger *zap.Logger) (*DiskManager, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive, got %d", pageSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if logPath == "" {
		logPath = DefaultLogFileName
	}
	return &DiskManager{
		pageSize:   pageSize,
		logPath:    logPath,
		logger:     logger,
		files:      make(map[pagemanager.FileID]*openFile),
		pathToFile: make(map[string]pagemanager.FileID),
	}, nil
}

func (dm *DiskManager) GetPageSize() int { return dm.pageSize }

func (dm *DiskManager) GetLogPath() string { return dm.logPath }

func (dm *DiskManager) lookup(fileID pagemanager.FileID) (*openFile, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	of, ok := dm.files[fileID]
	if !ok {
		return nil, fmt.Errorf("%w: file id %d", ErrFileNotOpen, fileID)
	}
	return of, nil
}

// ReadPage reads len(buf) bytes of page pageNo into buf. Anything short of a full read is an I/O fault.
func (dm *DiskManager) ReadPage(fileID pagemanager.FileID, pageNo pagemanager.PageNo, buf []byte) error {
	of, err := dm.lookup(fileID)
	if err != nil {
		return err
	}
	offset := int64(pageNo) * int64(dm.pageSize)
	n, err := of.file.ReadAt(buf, offset)
	if n != len(buf) {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("%w: short read for page %d of %s at offset %d, expected %d, got %d: %v",
			ErrIO, pageNo, of.path, offset, len(buf), n, err)
	}
	return nil
}

// WritePage writes buf at page pageNo's offset.
func (dm *DiskManager) WritePage(fileID pagemanager.FileID, pageNo pagemanager.PageNo, buf []byte) error {
	of, err := dm.lookup(fileID)
	if err != nil {
		return err
	}
	offset := int64(pageNo) * int64(dm.pageSize)
	n, err := of.file.WriteAt(buf, offset)
	if err != nil || n != len(buf) {
		return fmt.Errorf("%w: writing page %d of %s at offset %d, wrote %d of %d: %v",
			ErrIO, pageNo, of.path, offset, n, len(buf), err)
	}
	return nil
}

// AllocatePage hands out the next page number of the file. Numbers are never reused.
func (dm *DiskManager) AllocatePage(fileID pagemanager.FileID) (pagemanager.PageNo, error) {
	of, err := dm.lookup(fileID)
	if err != nil {
		return pagemanager.InvalidPageNo, err
	}
	return pagemanager.PageNo(of.nextPageNo.Add(1) - 1), nil
}

// DeallocatePage is a placeholder; page numbers are not recycled.
func (dm *DiskManager) DeallocatePage(pageNo pagemanager.PageNo) {}

// SetNextPageNo sets the number AllocatePage returns next, used when reopening a file with known page count.
func (dm *DiskManager) SetNextPageNo(fileID pagemanager.FileID, pageNo pagemanager.PageNo) error {
	of, err := dm.lookup(fileID)
	if err != nil {
		return err
	}
	of.nextPageNo.Store(int32(pageNo))
	return nil
}

func (dm *DiskManager) NextPageNo(fileID pagemanager.FileID) (pagemanager.PageNo, error) {
	of, err := dm.lookup(fileID)
	if err != nil {
		return pagemanager.InvalidPageNo, err
	}
	return pagemanager.PageNo(of.nextPageNo.Load()), nil
}

// --- Files and directories ---

func (dm *DiskManager) IsFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

func (dm *DiskManager) IsDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

func (dm *DiskManager) CreateDir(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("%w: creating directory %s: %v", ErrIO, path, err)
	}
	return nil
}

func (dm *DiskManager) DestroyDir(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("%w: removing directory %s: %v", ErrIO, path, err)
	}
	return nil
}

// CreateFile creates an empty file. It refuses to touch an existing one.
func (dm *DiskManager) CreateFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrFileExists, path)
		}
		return fmt.Errorf("%w: creating file %s: %v", ErrIO, path, err)
	}
	dm.logger.Debug("Created file", zap.String("path", path))
	return f.Close()
}

// DestroyFile removes a closed file from disk.
func (dm *DiskManager) DestroyFile(path string) error {
	dm.mu.Lock()
	_, open := dm.pathToFile[filepath.Clean(path)]
	dm.mu.Unlock()
	if open {
		return fmt.Errorf("%w: %s", ErrFileNotClosed, path)
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return fmt.Errorf("%w: removing file %s: %v", ErrIO, path, err)
	}
	dm.logger.Debug("Destroyed file", zap.String("path", path))
	return nil
}

// OpenFile opens an existing file for page I/O. A path can be open at most once.
// The page allocation counter of a freshly opened file starts at 0.
func (dm *DiskManager) OpenFile(path string) (pagemanager.FileID, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.openFileInternal(path)
}

// openFileInternal MUST be called with dm.mu locked.
func (dm *DiskManager) openFileInternal(path string) (pagemanager.FileID, error) {
	key := filepath.Clean(path)
	if _, ok := dm.pathToFile[key]; ok {
		return pagemanager.InvalidFileID, fmt.Errorf("%w: %s", ErrFileNotClosed, path)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return pagemanager.InvalidFileID, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return pagemanager.InvalidFileID, fmt.Errorf("%w: opening file %s: %v", ErrIO, path, err)
	}
	fileID := dm.nextFileID
	dm.nextFileID++
	dm.files[fileID] = &openFile{path: key, file: f}
	dm.pathToFile[key] = fileID
	dm.logger.Debug("Opened file", zap.String("path", path), zap.Int32("fileID", int32(fileID)))
	return fileID, nil
}

// CloseFile closes an open file and forgets its handle.
func (dm *DiskManager) CloseFile(fileID pagemanager.FileID) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	of, ok := dm.files[fileID]
	if !ok {
		return fmt.Errorf("%w: file id %d", ErrFileNotOpen, fileID)
	}
	delete(dm.files, fileID)
	delete(dm.pathToFile, of.path)
	if err := of.file.Close(); err != nil {
		return fmt.Errorf("%w: closing file %s: %v", ErrIO, of.path, err)
	}
	dm.logger.Debug("Closed file", zap.String("path", of.path), zap.Int32("fileID", int32(fileID)))
	return nil
}

// GetFileSize returns the size of the file at path, or -1 if it cannot be stat'ed.
func (dm *DiskManager) GetFileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return -1
	}
	return fi.Size()
}

func (dm *DiskManager) GetFileName(fileID pagemanager.FileID) (string, error) {
	of, err := dm.lookup(fileID)
	if err != nil {
		return "", err
	}
	return of.path, nil
}

// GetFileID returns the handle of path, opening the file if it is not open yet.
func (dm *DiskManager) GetFileID(path string) (pagemanager.FileID, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if fileID, ok := dm.pathToFile[filepath.Clean(path)]; ok {
		return fileID, nil
	}
	return dm.openFileInternal(path)
}

// --- Log I/O ---

// openLogInternal MUST be called with dm.logMu locked.
func (dm *DiskManager) openLogInternal() error {
	if dm.logFile != nil {
		return nil
	}
	f, err := os.OpenFile(dm.logPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("%w: opening log file %s: %v", ErrIO, dm.logPath, err)
	}
	dm.logFile = f
	dm.logger.Info("Opened log file", zap.String("path", dm.logPath))
	return nil
}

// WriteLog appends data at the current end of the log.
func (dm *DiskManager) WriteLog(data []byte) error {
	dm.logMu.Lock()
	defer dm.logMu.Unlock()
	if err := dm.openLogInternal(); err != nil {
		return err
	}
	end, err := dm.logFile.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("%w: seeking log end: %v", ErrIO, err)
	}
	n, err := dm.logFile.WriteAt(data, end)
	if err != nil || n != len(data) {
		return fmt.Errorf("%w: appending %d bytes to log, wrote %d: %v", ErrIO, len(data), n, err)
	}
	return nil
}

// ReadLog reads up to len(buf) bytes of the log starting at offset.
// It returns -1 if offset lies beyond the end of the log and 0 if there is nothing to read.
func (dm *DiskManager) ReadLog(buf []byte, offset int64) (int, error) {
	dm.logMu.Lock()
	defer dm.logMu.Unlock()
	if err := dm.openLogInternal(); err != nil {
		return 0, err
	}
	fi, err := dm.logFile.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat log file: %v", ErrIO, err)
	}
	size := fi.Size()
	if offset > size {
		return -1, fmt.Errorf("%w: offset %d, log size %d", ErrLogOffsetOutOfRange, offset, size)
	}
	toRead := min(int64(len(buf)), size-offset)
	if toRead == 0 {
		return 0, nil
	}
	n, err := dm.logFile.ReadAt(buf[:toRead], offset)
	if int64(n) != toRead {
		return n, fmt.Errorf("%w: short log read at offset %d, expected %d, got %d: %v", ErrIO, offset, toRead, n, err)
	}
	return n, nil
}

// --- Lifecycle ---

// Sync flushes every open file and the log to stable storage.
func (dm *DiskManager) Sync() error {
	dm.mu.Lock()
	var firstErr error
	for _, of := range dm.files {
		if err := of.file.Sync(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: syncing %s: %v", ErrIO, of.path, err)
		}
	}
	dm.mu.Unlock()

	dm.logMu.Lock()
	defer dm.logMu.Unlock()
	if dm.logFile != nil {
		if err := dm.logFile.Sync(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: syncing log: %v", ErrIO, err)
		}
	}
	return firstErr
}

// Close closes every open file and the log.
func (dm *DiskManager) Close() error {
	dm.mu.Lock()
	var firstErr error
	for fileID, of := range dm.files {
		if err := of.file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: closing %s: %v", ErrIO, of.path, err)
		}
		delete(dm.files, fileID)
		delete(dm.pathToFile, of.path)
	}
	dm.mu.Unlock()

	dm.logMu.Lock()
	defer dm.logMu.Unlock()
	if dm.logFile != nil {
		if err := dm.logFile.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: closing log: %v", ErrIO, err)
		}
		dm.logFile = nil
	}
	return firstErr
}
