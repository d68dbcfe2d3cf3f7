package server

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dreamware/yesqueldb/internal/coid"
	"github.com/dreamware/yesqueldb/internal/rpcchan"
	"github.com/dreamware/yesqueldb/internal/value"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		n++
	}
	return n
}

func TestDiskLogSimpleModeFsyncsEachAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.log")
	dl, err := OpenDiskLog(path, true, time.Hour)
	require.NoError(t, err)

	rec := diskLogRecord{
		TS: coid.Zero,
		Writes: map[coid.COID][]rpcchan.Mutation{
			testCOID(): {{Kind: rpcchan.MutAdd, Cell: value.NewLeafCell(1, value.NewBlob([]byte("x")))}},
		},
	}
	require.NoError(t, dl.Append(rec))
	assert.Equal(t, 1, countLines(t, path))

	require.NoError(t, dl.Close())
}

func TestDiskLogGroupedModeFlushesOnTicker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.log")
	dl, err := OpenDiskLog(path, false, 10*time.Millisecond)
	require.NoError(t, err)
	defer dl.Close()

	rec := diskLogRecord{
		Writes: map[coid.COID][]rpcchan.Mutation{
			testCOID(): {{Kind: rpcchan.MutAdd, Cell: value.NewLeafCell(1, value.NewBlob([]byte("x")))}},
		},
	}
	require.NoError(t, dl.Append(rec))
	assert.Equal(t, 1, countLines(t, path))
}

func TestDiskLogCloseFlushesPendingBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.log")
	dl, err := OpenDiskLog(path, false, time.Hour)
	require.NoError(t, err)

	rec := diskLogRecord{
		Writes: map[coid.COID][]rpcchan.Mutation{
			testCOID(): {{Kind: rpcchan.MutDelRange, Lo: 0, Hi: 10}},
		},
	}
	go func() { _ = dl.Append(rec) }()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, dl.Close())
	assert.Equal(t, 1, countLines(t, path))
}

func TestServerInstallAppendsToDiskLogWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig("s1")
	cfg.DiskLogEnabled = true
	cfg.DiskLogSimple = true
	cfg.DiskLogFile = filepath.Join(dir, "kv.log")

	s := New(cfg, coid.NewClock(), func() (uint32, error) { return 1, nil }, zerolog.Nop())
	s.Start()
	defer s.Stop()

	co := testCOID()
	require.NoError(t, s.install(s.clock.Now(), map[coid.COID][]rpcchan.Mutation{
		co: {{Kind: rpcchan.MutAdd, Cell: value.NewLeafCell(1, value.NewBlob([]byte("x")))}},
	}))

	assert.Equal(t, 1, countLines(t, cfg.DiskLogFile))
}
