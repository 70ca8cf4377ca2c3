// Package persistence provides crash-safe, self-healing JSON storage for
// the signal engine's four independent state domains (pending signals,
// scheduled signals, partial-close levels, active positions).
//
// Writes are atomic: serialize to JSON, write to "{path}.tmp", fsync, then
// rename over the final path. Since rename is atomic on the same
// filesystem, a crash between the write and the rename leaves the previous
// final file untouched (grounded on the temp-file-then-rename pattern in
// chidi150c-coinbase/trader.go's saveStateFrom/loadState).
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handle is a memoized persistence endpoint for one entity directory. One
// Handle instance is cached per directory for the process lifetime; it is
// only ever used by the single component that owns that directory, so no
// external locking is required beyond the Handle's own mutex.
type Handle struct {
	logger *zap.Logger
	dir    string

	initOnce sync.Once
	initErr  error

	mu sync.RWMutex
}

// NewHandle creates a Handle rooted at dir. The directory is created lazily
// on first use, not here, so constructing a Handle never touches disk.
func NewHandle(logger *zap.Logger, dir string) *Handle {
	return &Handle{logger: logger.Named("persistence"), dir: dir}
}

// ensureInit runs the self-healing validation pass exactly once: every file
// under dir is parsed as JSON, and any file that fails to parse is deleted
// with bounded retry to tolerate transient file-locking races.
func (h *Handle) ensureInit() error {
	h.initOnce.Do(func() {
		h.initErr = h.healDirectory()
	})
	return h.initErr
}

func (h *Handle) healDirectory() error {
	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return fmt.Errorf("persistence: create dir %s: %w", h.dir, err)
	}

	entries, err := os.ReadDir(h.dir)
	if err != nil {
		return fmt.Errorf("persistence: read dir %s: %w", h.dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if filepath.Ext(name) == ".tmp" {
			// A crash left an orphaned temp file behind; it was never
			// renamed in, so it never became a final value. Safe to drop.
			_ = os.Remove(filepath.Join(h.dir, name))
			continue
		}
		path := filepath.Join(h.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var probe any
		if json.Unmarshal(data, &probe) != nil {
			h.deleteCorrupt(path)
		}
	}

	return nil
}

// deleteCorrupt removes a file that failed JSON validation, retrying up to
// 5 times with 1-second spacing to tolerate Windows file-locking races.
func (h *Handle) deleteCorrupt(path string) {
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		if err = os.Remove(path); err == nil {
			h.logger.Warn("removed corrupt persisted file", zap.String("path", path))
			return
		}
		time.Sleep(time.Second)
	}
	h.logger.Error("failed to remove corrupt persisted file", zap.String("path", path), zap.Error(err))
}

// Write atomically serializes value to JSON and stores it under key.
func (h *Handle) Write(key string, value any) error {
	if err := h.ensureInit(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := json.MarshalIndent(value, "", " ")
	if err != nil {
		return fmt.Errorf("persistence: marshal %s: %w", key, err)
	}

	final := h.path(key)
	tmp := final + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("persistence: open temp %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("persistence: write temp %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("persistence: fsync temp %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("persistence: close temp %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("persistence: rename %s -> %s: %w", tmp, final, err)
	}
	return nil
}

// Read loads the value stored under key into out. It reports (false, nil)
// if no value has been persisted for key.
func (h *Handle) Read(key string, out any) (bool, error) {
	if err := h.ensureInit(); err != nil {
		return false, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := os.ReadFile(h.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("persistence: read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("persistence: unmarshal %s: %w", key, err)
	}
	return true, nil
}

// Delete removes the persisted value for key, if any.
func (h *Handle) Delete(key string) error {
	if err := h.ensureInit(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	err := os.Remove(h.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("persistence: delete %s: %w", key, err)
	}
	return nil
}

// Keys lists every entity key currently persisted under this handle, after
// the self-healing pass has dropped anything corrupt.
func (h *Handle) Keys() ([]string, error) {
	if err := h.ensureInit(); err != nil {
		return nil, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	entries, err := os.ReadDir(h.dir)
	if err != nil {
		return nil, fmt.Errorf("persistence: read dir %s: %w", h.dir, err)
	}
	var keys []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) == ".tmp" {
			continue
		}
		keys = append(keys, keyFromFilename(entry.Name()))
	}
	return keys, nil
}

func (h *Handle) path(key string) string {
	return filepath.Join(h.dir, key+".json")
}

func keyFromFilename(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}
