package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sushant-115/gojostore/config"
	flushmanager "github.com/sushant-115/gojostore/core/write_engine/flush_manager"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

func setupShell(t *testing.T) (*shell, *tracetest.SpanRecorder) {
	t.Helper()
	cfg := config.Default().Storage
	cfg.DataDir = t.TempDir()
	cfg.PageSize = 128
	cfg.PoolSize = 2

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	mp := sdkmetric.NewMeterProvider()

	sh, err := newShell(cfg, zap.NewNop(), tp.Tracer("shell-test"), mp.Meter("shell-test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sh.close() })
	return sh, recorder
}

func run(t *testing.T, sh *shell, line string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := sh.execute(context.Background(), strings.Fields(line), &out)
	return out.String(), err
}

func mustRun(t *testing.T, sh *shell, line string) string {
	t.Helper()
	out, err := run(t, sh, line)
	require.NoError(t, err, line)
	return out
}

func TestShellRecordLifecycle(t *testing.T) {
	sh, _ := setupShell(t)

	mustRun(t, sh, "create people 16")
	require.Contains(t, mustRun(t, sh, "open people"), "record size 16")
	require.Equal(t, "inserted at {0, 0}\n", mustRun(t, sh, "insert people alice"))
	require.Equal(t, "inserted at {0, 1}\n", mustRun(t, sh, "insert people bob smith"))
	require.Equal(t, "{0, 1}: bob smith\n", mustRun(t, sh, "get people 0 1"))

	mustRun(t, sh, "update people 0 0 carol")
	mustRun(t, sh, "delete people 0 1")
	require.Equal(t, "{0, 0}: carol\n1 records\n", mustRun(t, sh, "scan people"))

	_, err := run(t, sh, "get people 0 1")
	require.ErrorIs(t, err, flushmanager.ErrRecordNotFound)
	_, err = run(t, sh, "insert people this-value-is-longer-than-16")
	require.ErrorIs(t, err, flushmanager.ErrRecordSize)

	mustRun(t, sh, "close people")
	_, err = run(t, sh, "scan people")
	require.ErrorIs(t, err, flushmanager.ErrFileNotOpen)

	mustRun(t, sh, "open people")
	require.Equal(t, "{0, 0}: carol\n1 records\n", mustRun(t, sh, "scan people"))
}

func TestShellBackupAndStats(t *testing.T) {
	sh, _ := setupShell(t)
	mustRun(t, sh, "create t 8")
	mustRun(t, sh, "open t")
	for i := 0; i < 20; i++ {
		mustRun(t, sh, "insert t v")
	}
	require.Contains(t, mustRun(t, sh, "backup t t.bak"), "sha256")
	mustRun(t, sh, "open t.bak")
	require.Contains(t, mustRun(t, sh, "scan t.bak"), "20 records")

	stats := mustRun(t, sh, "stats")
	require.Contains(t, stats, "pool 2,")
	require.Contains(t, stats, "pinned 0,")
}

func TestShellJournal(t *testing.T) {
	sh, _ := setupShell(t)
	mustRun(t, sh, "create j 8")
	mustRun(t, sh, "open j")
	mustRun(t, sh, "insert j x")
	mustRun(t, sh, "delete j 0 0")

	journal := mustRun(t, sh, "journal")
	require.Equal(t, "create j 8\ninsert j {0, 0} x\ndelete j 0 0\n", journal)
}

func TestShellSpans(t *testing.T) {
	sh, recorder := setupShell(t)
	mustRun(t, sh, "stats")
	_, err := run(t, sh, "frobnicate")
	require.Error(t, err)
	_, err = run(t, sh, "exit")
	require.ErrorIs(t, err, errExit)

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	require.Equal(t, "cli.stats", spans[0].Name())
	require.Equal(t, codes.Ok, spans[0].Status().Code)
	require.Equal(t, "cli.frobnicate", spans[1].Name())
	require.Equal(t, codes.Error, spans[1].Status().Code)
	require.Equal(t, "cli.exit", spans[2].Name())
}

func TestShellUsageErrors(t *testing.T) {
	sh, _ := setupShell(t)
	for _, line := range []string{"create x", "create x big", "open", "get x 0", "update x 0 0", "get nope 0 0"} {
		_, err := run(t, sh, line)
		require.Error(t, err, line)
	}
	out, err := run(t, sh, "")
	require.NoError(t, err)
	require.Empty(t, out)
	require.Contains(t, mustRun(t, sh, "help"), "backup <file> <destination>")
}
