package wal

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	flushmanager "github.com/sushant-115/gojostore/core/write_engine/flush_manager"
	"go.uber.org/zap"
)

// LSN is the byte offset of a piece of data in the log stream.
type LSN int64

const (
	DefaultBufferSize    = 64 * 1024
	DefaultFlushInterval = 100 * time.Millisecond
)

// LogManager buffers appends to the shared log byte stream and writes them out through the DiskManager.
// It knows nothing about record formats; callers append and read raw bytes.
type LogManager struct {
	diskManager *flushmanager.DiskManager
	logger      *zap.Logger

	mu         sync.Mutex     // Protects buffer, nextLSN and flushedLSN
	buffer     *bytes.Buffer  // Appended bytes not yet handed to the DiskManager
	bufferSize int            // Flush threshold of the in-memory buffer
	nextLSN    LSN            // Offset the next appended byte will have
	flushedLSN LSN            // Every byte below this offset is in the log file
	stopChan   chan struct{}  // Signals the flusher goroutine to stop
	wg         sync.WaitGroup // WaitGroup for flusher goroutine
	closed     bool
}

// NewLogManager creates a LogManager positioned at the current end of the DiskManager's log
// and starts a background goroutine that flushes the buffer every flushInterval.
func NewLogManager(diskManager *flushmanager.DiskManager, bufferSize int, flushInterval time.Duration, logger *zap.Logger) (*LogManager, error) {
	if diskManager == nil {
		return nil, fmt.Errorf("NewLogManager: diskManager cannot be nil")
	}
	if bufferSize <= 0 {
		return nil, fmt.Errorf("log buffer size must be positive")
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	logPath := diskManager.GetLogPath()
	end := diskManager.GetFileSize(logPath)
	if end < 0 {
		end = 0
	}

	lm := &LogManager{
		diskManager: diskManager,
		logger:      logger,
		buffer:      bytes.NewBuffer(make([]byte, 0, bufferSize)),
		bufferSize:  bufferSize,
		nextLSN:     LSN(end),
		flushedLSN:  LSN(end),
		stopChan:    make(chan struct{}),
	}

	lm.wg.Add(1)
	go lm.flusher(flushInterval)

	logger.Info("LogManager initialized", zap.String("path", logPath), zap.Int64("endLSN", end))
	return lm, nil
}

// Append buffers data and returns the offset it will occupy in the log.
func (lm *LogManager) Append(data []byte) (LSN, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.closed {
		return 0, fmt.Errorf("%w: log manager is closed", flushmanager.ErrIO)
	}

	if lm.buffer.Len()+len(data) > lm.bufferSize {
		if err := lm.flushInternal(); err != nil {
			return 0, err
		}
	}
	lsn := lm.nextLSN
	lm.buffer.Write(data)
	lm.nextLSN += LSN(len(data))
	return lsn, nil
}

// Flush hands every buffered byte to the DiskManager.
func (lm *LogManager) Flush() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.flushInternal()
}

// flushInternal MUST be called with lm.mu locked.
func (lm *LogManager) flushInternal() error {
	if lm.buffer.Len() == 0 {
		return nil
	}
	if err := lm.diskManager.WriteLog(lm.buffer.Bytes()); err != nil {
		lm.logger.Error("Failed to flush log buffer", zap.Int("bytes", lm.buffer.Len()), zap.Error(err))
		return err
	}
	lm.flushedLSN += LSN(lm.buffer.Len())
	lm.buffer.Reset()
	return nil
}

// ReadAt reads log bytes starting at lsn, flushing first so buffered appends are visible.
// It follows DiskManager.ReadLog: -1 past the end of the log, 0 at the end.
func (lm *LogManager) ReadAt(buf []byte, lsn LSN) (int, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if err := lm.flushInternal(); err != nil {
		return 0, err
	}
	return lm.diskManager.ReadLog(buf, int64(lsn))
}

func (lm *LogManager) GetNextLSN() LSN {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.nextLSN
}

func (lm *LogManager) GetFlushedLSN() LSN {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.flushedLSN
}

func (lm *LogManager) flusher(interval time.Duration) {
	defer lm.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-lm.stopChan:
			return
		case <-ticker.C:
			lm.mu.Lock()
			if err := lm.flushInternal(); err != nil {
				lm.logger.Error("Periodic log flush failed", zap.Error(err))
			}
			lm.mu.Unlock()
		}
	}
}

// Close stops the flusher and writes out whatever is still buffered.
func (lm *LogManager) Close() error {
	lm.mu.Lock()
	if lm.closed {
		lm.mu.Unlock()
		return nil
	}
	lm.closed = true
	lm.mu.Unlock()

	close(lm.stopChan)
	lm.wg.Wait()

	lm.mu.Lock()
	defer lm.mu.Unlock()
	if err := lm.flushInternal(); err != nil {
		return err
	}
	lm.logger.Info("LogManager closed", zap.Int64("flushedLSN", int64(lm.flushedLSN)))
	return nil
}
