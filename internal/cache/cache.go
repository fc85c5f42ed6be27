// Package cache persists which source files have already been linked into
// the library, keyed by absolute source path. Each record remembers enough
// ownership detail (sport, season, episode) for metadata diffs to invalidate
// exactly the files they affect.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"playdeck/internal/metadata"
)

const processedFilename = "processed-files.json"

// Record describes one processed source file.
type Record struct {
	MtimeNS     int64  `json:"mtime_ns"`
	Size        int64  `json:"size"`
	Checksum    string `json:"checksum,omitempty"`
	Destination string `json:"destination,omitempty"`
	SportID     string `json:"sport_id,omitempty"`
	SeasonKey   string `json:"season_key,omitempty"`
	EpisodeKey  string `json:"episode_key,omitempty"`
}

// ProcessedFileCache is the on-disk ledger of processed files. Safe for
// concurrent use.
type ProcessedFileCache struct {
	path string
	log  zerolog.Logger

	mu      sync.Mutex
	records map[string]Record
	dirty   bool
}

// NewProcessedFileCache loads the ledger from cacheDir/state. A missing or
// unreadable file starts an empty cache; malformed entries are skipped so one
// bad record cannot poison the rest.
func NewProcessedFileCache(cacheDir string, log zerolog.Logger) *ProcessedFileCache {
	c := &ProcessedFileCache{
		path:    filepath.Join(cacheDir, "state", processedFilename),
		log:     log,
		records: make(map[string]Record),
	}
	c.load()
	return c
}

func (c *ProcessedFileCache) load() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.log.Warn().Err(err).Str("path", c.path).Msg("failed to load processed cache")
		}
		return
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(data, &payload); err != nil {
		c.log.Warn().Err(err).Str("path", c.path).Msg("ignoring malformed processed cache")
		return
	}

	for source, raw := range payload {
		var record Record
		if err := json.Unmarshal(raw, &record); err != nil {
			c.log.Debug().Str("source", source).Msg("skipping malformed cache entry")
			continue
		}
		c.records[source] = record
	}
}

// IsProcessed reports whether the source file is unchanged since it was
// recorded and, when a destination is known, whether that destination still
// exists.
func (c *ProcessedFileCache) IsProcessed(sourcePath string) bool {
	c.mu.Lock()
	record, ok := c.records[sourcePath]
	c.mu.Unlock()
	if !ok {
		return false
	}

	info, err := os.Stat(sourcePath)
	if err != nil {
		return false
	}
	if info.ModTime().UnixNano() != record.MtimeNS || info.Size() != record.Size {
		return false
	}

	if record.Destination != "" {
		if _, err := os.Stat(record.Destination); err != nil {
			return false
		}
	}
	return true
}

// MarkProcessed records the source file with its current stat signature. The
// caller fills the ownership fields; MtimeNS and Size are taken from disk.
func (c *ProcessedFileCache) MarkProcessed(sourcePath string, record Record) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		c.log.Debug().Str("source", sourcePath).Msg("source missing when marking processed")
		return
	}
	record.MtimeNS = info.ModTime().UnixNano()
	record.Size = info.Size()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[sourcePath] = record
	c.dirty = true
}

// Checksum returns the stored checksum for a source path, if any.
func (c *ProcessedFileCache) Checksum(sourcePath string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.records[sourcePath].Checksum
}

// Snapshot returns a copy of every record keyed by source path.
func (c *ProcessedFileCache) Snapshot() map[string]Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Record, len(c.records))
	for source, record := range c.records {
		out[source] = record
	}
	return out
}

// PruneMissingSources drops records whose source file no longer exists.
func (c *ProcessedFileCache) PruneMissingSources() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for source := range c.records {
		if _, err := os.Stat(source); err != nil {
			delete(c.records, source)
			c.dirty = true
		}
	}
}

// Clear empties the ledger.
func (c *ProcessedFileCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.records) > 0 {
		c.records = make(map[string]Record)
		c.dirty = true
	}
}

// RemoveByMetadataChanges drops every record invalidated by the given
// per-sport metadata diffs and returns the removed records so the caller can
// clean up their destinations. Records without a sport id predate ownership
// tracking and are dropped whenever any change arrives. A record without a
// season key is dropped on any season or episode change for its sport; a
// record without an episode key is dropped when its season has episode
// changes.
func (c *ProcessedFileCache) RemoveByMetadataChanges(changes map[string]metadata.ChangeResult) map[string]Record {
	if len(changes) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := make(map[string]Record)
	drop := func(source string, record Record) {
		removed[source] = record
		delete(c.records, source)
	}

	for source, record := range c.records {
		if record.SportID == "" {
			drop(source, record)
			continue
		}

		change, ok := changes[record.SportID]
		if !ok {
			continue
		}

		if change.InvalidateAll {
			drop(source, record)
			continue
		}

		if record.SeasonKey == "" {
			if len(change.ChangedSeasons) > 0 || len(change.ChangedEpisodes) > 0 {
				drop(source, record)
			}
			continue
		}

		if change.ChangedSeasons[record.SeasonKey] {
			drop(source, record)
			continue
		}

		episodes := change.ChangedEpisodes[record.SeasonKey]
		if len(episodes) > 0 && (record.EpisodeKey == "" || episodes[record.EpisodeKey]) {
			drop(source, record)
		}
	}

	if len(removed) > 0 {
		c.dirty = true
	}
	return removed
}

// Save writes the ledger atomically when it changed since the last save.
func (c *ProcessedFileCache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	data, err := json.MarshalIndent(c.records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode processed cache: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write processed cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replace processed cache: %w", err)
	}
	c.dirty = false
	return nil
}
