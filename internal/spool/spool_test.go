package spool

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/weewx-zbxsender/bridge/internal/models"
)

func entry(key string, attempts int) models.Entry {
	return models.Entry{
		Sample:   models.Sample{Host: "weewx-host", Key: key, Value: "1.5", Clock: 1_700_000_000},
		Attempts: attempts,
	}
}

func newTestSpool(t *testing.T, maxMB int) *Spool {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "spool"), maxMB, zaptest.NewLogger(t))
	require.NoError(t, err)
	tick := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time {
		tick = tick.Add(time.Millisecond)
		return tick
	}
	return s
}

func requireStored(t *testing.T, s *Spool, entries []models.Entry) {
	t.Helper()
	discarded, err := s.Store(entries)
	require.NoError(t, err)
	require.Empty(t, discarded)
}

func TestStoreRestoreRoundTripInOrder(t *testing.T) {
	s := newTestSpool(t, 10)

	requireStored(t, s, []models.Entry{entry("weewx_a", 0), entry("weewx_b", 2)})
	requireStored(t, s, []models.Entry{entry("weewx_c", 1)})
	assert.Equal(t, 2, s.Count())

	got, err := s.Restore()
	require.NoError(t, err)
	assert.Equal(t, []models.Entry{entry("weewx_a", 0), entry("weewx_b", 2), entry("weewx_c", 1)}, got)
	assert.Equal(t, 0, s.Count())
}

func TestStoreIgnoresEmpty(t *testing.T) {
	s := newTestSpool(t, 10)
	requireStored(t, s, nil)
	assert.Equal(t, 0, s.Count())
}

func TestRestoreRemovesCorruptedFiles(t *testing.T) {
	s := newTestSpool(t, 10)
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "00000000T000000.000000000.json"), []byte("{not json"), 0640))
	requireStored(t, s, []models.Entry{entry("weewx_a", 0)})

	got, err := s.Restore()
	require.NoError(t, err)
	assert.Equal(t, []models.Entry{entry("weewx_a", 0)}, got)
	assert.Equal(t, 0, s.Count())
}

func TestStoreDropsOldestWhenFull(t *testing.T) {
	s := newTestSpool(t, 1)

	big := make([]models.Entry, 0, 6000)
	for i := 0; i < 6000; i++ {
		big = append(big, entry("weewx_outTemp_with_a_long_key_name", i))
	}
	discarded, err := s.Store(big)
	require.NoError(t, err)
	assert.Empty(t, discarded)

	discarded, err = s.Store(big)
	require.NoError(t, err)
	assert.Equal(t, big, discarded, "entries of the dropped file are returned")
	assert.Equal(t, 1, s.Count(), "oldest file should have been dropped to stay under the cap")
}
