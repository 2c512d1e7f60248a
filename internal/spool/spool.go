// Package spool keeps undelivered samples on disk across restarts.
// At shutdown the forwarder writes whatever it could not deliver as a
// timestamped JSON file; at startup the files are read back in order and
// fed into the buffer again. The total spool size is capped and the oldest
// files are dropped first.
package spool

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/weewx-zbxsender/bridge/internal/models"
)

const fileExt = ".json"

// Spool stores entry slices as one JSON file each in a directory.
type Spool struct {
	dir      string
	maxBytes int64
	logger   *zap.Logger
	mu       sync.Mutex
	now      func() time.Time
}

// New creates a spool in dir, creating the directory when missing.
// maxSizeMB <= 0 disables the size cap.
func New(dir string, maxSizeMB int, logger *zap.Logger) (*Spool, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	return &Spool{
		dir:      dir,
		maxBytes: int64(maxSizeMB) * 1024 * 1024,
		logger:   logger.Named("spool"),
		now:      time.Now,
	}, nil
}

// Store writes entries to a new spool file. Oldest files are removed first
// when the spool is over its size cap; their entries are returned so the
// caller can account for them.
func (s *Spool) Store(entries []models.Entry) ([]models.Entry, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("marshal spool entries: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var discarded []models.Entry
	for s.maxBytes > 0 && s.sizeBytes()+int64(len(data)) > s.maxBytes {
		old, ok := s.dropOldest()
		if !ok {
			break
		}
		discarded = append(discarded, old...)
	}

	name := s.now().UTC().Format("20060102T150405.000000000") + fileExt
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0640); err != nil {
		return discarded, err
	}
	return discarded, nil
}

// Restore reads every spool file in chronological order, removes it, and
// returns the concatenated entries. Unreadable files are logged and
// removed.
func (s *Spool) Restore() ([]models.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.files()
	if err != nil {
		return nil, err
	}

	var out []models.Entry
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("Failed to read spool file",
				zap.String("file", path),
				zap.Error(err))
			continue
		}

		var entries []models.Entry
		if err := json.Unmarshal(data, &entries); err != nil {
			s.logger.Warn("Failed to parse spool file, removing corrupted file",
				zap.String("file", path),
				zap.Error(err))
			os.Remove(path)
			continue
		}

		out = append(out, entries...)
		os.Remove(path)
	}
	return out, nil
}

// Count returns the number of spool files.
func (s *Spool) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	files, err := s.files()
	if err != nil {
		return 0
	}
	return len(files)
}

// files lists spool files sorted by name, which sorts by write time.
// Must be called with s.mu held.
func (s *Spool) files() ([]string, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range dirEntries {
		if e.IsDir() || filepath.Ext(e.Name()) != fileExt {
			continue
		}
		out = append(out, filepath.Join(s.dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// sizeBytes returns the total size of the spool files.
// Must be called with s.mu held.
func (s *Spool) sizeBytes() int64 {
	files, err := s.files()
	if err != nil {
		return 0
	}
	var total int64
	for _, f := range files {
		if info, err := os.Stat(f); err == nil {
			total += info.Size()
		}
	}
	return total
}

// dropOldest removes the oldest spool file and returns its entries. ok is
// false when no file could be removed. Must be called with s.mu held.
func (s *Spool) dropOldest() (entries []models.Entry, ok bool) {
	files, err := s.files()
	if err != nil || len(files) == 0 {
		return nil, false
	}
	oldest := files[0]
	if data, err := os.ReadFile(oldest); err == nil {
		if err := json.Unmarshal(data, &entries); err != nil {
			s.logger.Warn("Dropping unreadable spool file", zap.String("file", oldest), zap.Error(err))
		}
	}
	s.logger.Warn("Spool full, dropping oldest file",
		zap.String("file", oldest),
		zap.Int("samples", len(entries)))
	if err := os.Remove(oldest); err != nil {
		s.logger.Warn("Failed to remove oldest spool file",
			zap.String("file", oldest),
			zap.Error(err))
		return nil, false
	}
	return entries, true
}
