package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sushant-115/gojostore/config"
	"github.com/sushant-115/gojostore/core/storage_engine/record"
	flushmanager "github.com/sushant-115/gojostore/core/write_engine/flush_manager"
	"github.com/sushant-115/gojostore/core/write_engine/memtable"
	pagemanager "github.com/sushant-115/gojostore/core/write_engine/page_manager"
	"github.com/sushant-115/gojostore/core/write_engine/wal"
	internaltelemetry "github.com/sushant-115/gojostore/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var errExit = errors.New("exit requested")

// shell owns one storage stack and executes commands against it.
type shell struct {
	cfg       config.StorageConfig
	sessionID string
	logger    *zap.Logger
	tracer    trace.Tracer

	dm    *flushmanager.DiskManager
	bpm   *memtable.BufferPoolManager
	lm    *wal.LogManager
	files *record.Manager
	open  map[string]*record.FileHandle
}

func newShell(cfg config.StorageConfig, logger *zap.Logger, tracer trace.Tracer, meter metric.Meter) (*shell, error) {
	sessionID := uuid.New().String()
	logger = logger.With(zap.String("session", sessionID))

	dm, err := flushmanager.NewDiskManager(cfg.PageSize, filepath.Join(cfg.DataDir, cfg.LogFileName), logger)
	if err != nil {
		return nil, err
	}
	if err := dm.CreateDir(cfg.DataDir); err != nil {
		return nil, err
	}
	metrics, err := internaltelemetry.NewBufferPoolMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer pool metrics: %w", err)
	}
	bpm, err := memtable.NewBufferPoolManager(cfg.PoolSize, dm, logger, metrics)
	if err != nil {
		return nil, err
	}
	lm, err := wal.NewLogManager(dm, cfg.LogBufferSize, cfg.LogFlushInterval, logger)
	if err != nil {
		return nil, err
	}
	return &shell{
		cfg:       cfg,
		sessionID: sessionID,
		logger:    logger,
		tracer:    tracer,
		dm:        dm,
		bpm:       bpm,
		lm:        lm,
		files:     record.NewManager(dm, bpm, logger),
		open:      make(map[string]*record.FileHandle),
	}, nil
}

// close closes every open record file, then the log and the disk manager.
func (s *shell) close() error {
	var errs []error
	for name, fh := range s.open {
		if err := s.files.CloseFile(fh); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
		}
		delete(s.open, name)
	}
	if err := s.lm.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.dm.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *shell) path(name string) string { return filepath.Join(s.cfg.DataDir, name) }

func (s *shell) handle(name string) (*record.FileHandle, error) {
	fh, ok := s.open[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not open", flushmanager.ErrFileNotOpen, name)
	}
	return fh, nil
}

// journal appends a line describing a completed mutation to the log.
func (s *shell) journal(args []string) {
	if _, err := s.lm.Append([]byte(strings.Join(args, " ") + "\n")); err != nil {
		s.logger.Warn("Failed to journal command", zap.Strings("args", args), zap.Error(err))
	}
}

// execute runs one command inside its own span.
func (s *shell) execute(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return nil
	}
	command := strings.ToLower(args[0])
	ctx, span := s.tracer.Start(ctx, "cli."+command, trace.WithAttributes(
		attribute.String("gojostore.command", command),
		attribute.String("gojostore.session", s.sessionID),
	))
	defer span.End()

	err := s.dispatch(ctx, command, args, out)
	if err != nil && !errors.Is(err, errExit) {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		s.logger.Debug("Command failed", zap.String("command", command), zap.Error(err))
		return err
	}
	span.SetStatus(otelcodes.Ok, "")
	return err
}

func (s *shell) dispatch(ctx context.Context, command string, args []string, out io.Writer) error {
	switch command {
	case "create":
		if len(args) != 3 {
			return errors.New("usage: create <file> <record_size>")
		}
		size, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("bad record size %q: %w", args[2], err)
		}
		if err := s.files.CreateFile(s.path(args[1]), size); err != nil {
			return err
		}
		s.journal(args)
		fmt.Fprintf(out, "created %s\n", args[1])

	case "open":
		if len(args) != 2 {
			return errors.New("usage: open <file>")
		}
		if _, ok := s.open[args[1]]; ok {
			return fmt.Errorf("%w: %s", flushmanager.ErrFileNotClosed, args[1])
		}
		fh, err := s.files.OpenFile(s.path(args[1]))
		if err != nil {
			return err
		}
		s.open[args[1]] = fh
		hdr := fh.FileHeader()
		fmt.Fprintf(out, "opened %s: record size %d, %d per page, %d pages\n", args[1], hdr.RecordSize, hdr.NumRecordsPerPage, hdr.NumPages)

	case "close":
		if len(args) != 2 {
			return errors.New("usage: close <file>")
		}
		fh, err := s.handle(args[1])
		if err != nil {
			return err
		}
		if err := s.files.CloseFile(fh); err != nil {
			return err
		}
		delete(s.open, args[1])
		fmt.Fprintf(out, "closed %s\n", args[1])

	case "destroy":
		if len(args) != 2 {
			return errors.New("usage: destroy <file>")
		}
		if err := s.files.DestroyFile(s.path(args[1])); err != nil {
			return err
		}
		s.journal(args)
		fmt.Fprintf(out, "destroyed %s\n", args[1])

	case "insert":
		if len(args) < 3 {
			return errors.New("usage: insert <file> <value>")
		}
		fh, err := s.handle(args[1])
		if err != nil {
			return err
		}
		data, err := encodeValue(fh, strings.Join(args[2:], " "))
		if err != nil {
			return err
		}
		rid, err := fh.InsertRecord(data)
		if err != nil {
			return err
		}
		s.journal(append([]string{"insert", args[1], rid.String()}, args[2:]...))
		fmt.Fprintf(out, "inserted at %s\n", rid)

	case "get":
		fh, rid, err := s.fileAndRid(args, 4, "usage: get <file> <page> <slot>")
		if err != nil {
			return err
		}
		rec, err := fh.GetRecord(rid)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: %s\n", rid, decodeValue(rec.Data))

	case "update":
		if len(args) < 5 {
			return errors.New("usage: update <file> <page> <slot> <value>")
		}
		fh, rid, err := s.fileAndRid(args[:4], 4, "")
		if err != nil {
			return err
		}
		data, err := encodeValue(fh, strings.Join(args[4:], " "))
		if err != nil {
			return err
		}
		if err := fh.UpdateRecord(rid, data); err != nil {
			return err
		}
		s.journal(args)
		fmt.Fprintf(out, "updated %s\n", rid)

	case "delete":
		fh, rid, err := s.fileAndRid(args, 4, "usage: delete <file> <page> <slot>")
		if err != nil {
			return err
		}
		if err := fh.DeleteRecord(rid); err != nil {
			return err
		}
		s.journal(args)
		fmt.Fprintf(out, "deleted %s\n", rid)

	case "scan":
		if len(args) != 2 {
			return errors.New("usage: scan <file>")
		}
		fh, err := s.handle(args[1])
		if err != nil {
			return err
		}
		scan, err := fh.Scan()
		if err != nil {
			return err
		}
		count := 0
		for !scan.IsEnd() {
			rec, err := fh.GetRecord(scan.Rid())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: %s\n", scan.Rid(), decodeValue(rec.Data))
			count++
			if err := scan.Next(); err != nil {
				return err
			}
		}
		fmt.Fprintf(out, "%d records\n", count)

	case "flush":
		if len(args) != 2 {
			return errors.New("usage: flush <file>")
		}
		fh, err := s.handle(args[1])
		if err != nil {
			return err
		}
		if err := s.bpm.FlushAllPages(fh.FileID()); err != nil {
			return err
		}
		fmt.Fprintf(out, "flushed %s\n", args[1])

	case "backup":
		if len(args) != 3 {
			return errors.New("usage: backup <file> <destination>")
		}
		fh, err := s.handle(args[1])
		if err != nil {
			return err
		}
		sum, err := s.files.BackupFile(ctx, fh, s.path(args[2]), s.cfg.BackupRateBytes)
		if err != nil {
			return err
		}
		s.journal(args)
		fmt.Fprintf(out, "backed up %s to %s (sha256 %s)\n", args[1], args[2], sum)

	case "stats":
		st := s.bpm.Stats()
		fmt.Fprintf(out, "pool %d, resident %d, pinned %d, dirty %d, free %d, evictable %d\n",
			st.PoolSize, st.Resident, st.Pinned, st.Dirty, st.FreeFrames, st.Evictable)
		fmt.Fprintf(out, "log next lsn %d, flushed lsn %d\n", s.lm.GetNextLSN(), s.lm.GetFlushedLSN())

	case "journal":
		return s.printJournal(out)

	case "help":
		fmt.Fprint(out, helpText)

	case "exit", "quit":
		return errExit

	default:
		return fmt.Errorf("unknown command %q, type 'help' for a list of commands", command)
	}
	return nil
}

func (s *shell) fileAndRid(args []string, want int, usage string) (*record.FileHandle, record.Rid, error) {
	if len(args) != want {
		return nil, record.Rid{}, errors.New(usage)
	}
	fh, err := s.handle(args[1])
	if err != nil {
		return nil, record.Rid{}, err
	}
	pageNo, err := strconv.ParseInt(args[2], 10, 32)
	if err != nil {
		return nil, record.Rid{}, fmt.Errorf("bad page number %q: %w", args[2], err)
	}
	slotNo, err := strconv.Atoi(args[3])
	if err != nil {
		return nil, record.Rid{}, fmt.Errorf("bad slot number %q: %w", args[3], err)
	}
	return fh, record.Rid{PageNo: pagemanager.PageNo(pageNo), SlotNo: slotNo}, nil
}

func (s *shell) printJournal(out io.Writer) error {
	buf := make([]byte, 4096)
	var lsn wal.LSN
	for {
		n, err := s.lm.ReadAt(buf, lsn)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if _, err := out.Write(buf[:n]); err != nil {
			return err
		}
		lsn += wal.LSN(n)
	}
}

// encodeValue zero-pads value to the file's record size.
func encodeValue(fh *record.FileHandle, value string) ([]byte, error) {
	size := int(fh.FileHeader().RecordSize)
	if len(value) > size {
		return nil, fmt.Errorf("%w: value is %d bytes, record size is %d", flushmanager.ErrRecordSize, len(value), size)
	}
	data := make([]byte, size)
	copy(data, value)
	return data, nil
}

func decodeValue(data []byte) string {
	return string(bytes.TrimRight(data, "\x00"))
}

const helpText = `Commands:
  create <file> <record_size>
  open <file>
  close <file>
  destroy <file>
  insert <file> <value>
  get <file> <page> <slot>
  update <file> <page> <slot> <value>
  delete <file> <page> <slot>
  scan <file>
  flush <file>
  backup <file> <destination>
  stats
  journal
  help
  exit / quit
`
