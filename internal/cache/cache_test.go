package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"playdeck/internal/metadata"
)

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestIsProcessedLifecycle(t *testing.T) {
	dir := t.TempDir()
	source := writeSource(t, dir, "01.fp1.mkv", "payload")
	destination := writeSource(t, dir, "linked.mkv", "payload")

	c := NewProcessedFileCache(dir, zerolog.Nop())
	if c.IsProcessed(source) {
		t.Error("unrecorded file reported as processed")
	}

	c.MarkProcessed(source, Record{
		Destination: destination,
		SportID:     "formula1",
		SeasonKey:   "01",
		EpisodeKey:  "title:Free Practice 1",
	})
	if !c.IsProcessed(source) {
		t.Fatal("recorded file not reported as processed")
	}

	// A rewritten source invalidates the record.
	if err := os.WriteFile(source, []byte("different payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	if c.IsProcessed(source) {
		t.Error("changed source still reported as processed")
	}

	c.MarkProcessed(source, Record{Destination: destination})
	if err := os.Remove(destination); err != nil {
		t.Fatal(err)
	}
	if c.IsProcessed(source) {
		t.Error("missing destination still reported as processed")
	}
}

func TestMarkProcessedMissingSource(t *testing.T) {
	dir := t.TempDir()
	c := NewProcessedFileCache(dir, zerolog.Nop())

	c.MarkProcessed(filepath.Join(dir, "vanished.mkv"), Record{SportID: "formula1"})
	if len(c.Snapshot()) != 0 {
		t.Error("missing source must not be recorded")
	}
}

func TestPruneMissingSources(t *testing.T) {
	dir := t.TempDir()
	kept := writeSource(t, dir, "kept.mkv", "a")
	gone := writeSource(t, dir, "gone.mkv", "b")

	c := NewProcessedFileCache(dir, zerolog.Nop())
	c.MarkProcessed(kept, Record{SportID: "formula1"})
	c.MarkProcessed(gone, Record{SportID: "formula1"})

	if err := os.Remove(gone); err != nil {
		t.Fatal(err)
	}
	c.PruneMissingSources()

	snapshot := c.Snapshot()
	if _, ok := snapshot[kept]; !ok {
		t.Error("existing source pruned")
	}
	if _, ok := snapshot[gone]; ok {
		t.Error("missing source not pruned")
	}
}

func TestRemoveByMetadataChanges(t *testing.T) {
	changes := map[string]metadata.ChangeResult{
		"formula1": {
			Updated:         true,
			ChangedSeasons:  map[string]bool{"03": true},
			ChangedEpisodes: map[string]map[string]bool{"05": {"title:Race": true}},
		},
		"motogp": {
			Updated:       true,
			InvalidateAll: true,
		},
	}

	tests := []struct {
		name    string
		record  Record
		removed bool
	}{
		{"legacy without sport id", Record{SeasonKey: "03"}, true},
		{"sport not in changes", Record{SportID: "cycling", SeasonKey: "03"}, false},
		{"invalidate all", Record{SportID: "motogp", SeasonKey: "99", EpisodeKey: "title:Race"}, true},
		{"no season key with changes", Record{SportID: "formula1"}, true},
		{"changed season", Record{SportID: "formula1", SeasonKey: "03", EpisodeKey: "title:Race"}, true},
		{"untouched season", Record{SportID: "formula1", SeasonKey: "04", EpisodeKey: "title:Race"}, false},
		{"changed episode", Record{SportID: "formula1", SeasonKey: "05", EpisodeKey: "title:Race"}, true},
		{"other episode in changed season", Record{SportID: "formula1", SeasonKey: "05", EpisodeKey: "title:Quali"}, false},
		{"no episode key in changed season", Record{SportID: "formula1", SeasonKey: "05"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			source := writeSource(t, dir, "file.mkv", "payload")

			c := NewProcessedFileCache(dir, zerolog.Nop())
			c.MarkProcessed(source, tt.record)

			removed := c.RemoveByMetadataChanges(changes)
			if _, ok := removed[source]; ok != tt.removed {
				t.Errorf("removed = %v, want %v", ok, tt.removed)
			}
			if _, ok := c.Snapshot()[source]; ok == tt.removed {
				t.Errorf("record retained = %v, want %v", ok, !tt.removed)
			}
		})
	}
}

func TestRemoveByMetadataChangesReturnsDestinations(t *testing.T) {
	dir := t.TempDir()
	source := writeSource(t, dir, "file.mkv", "payload")

	c := NewProcessedFileCache(dir, zerolog.Nop())
	c.MarkProcessed(source, Record{
		SportID:     "formula1",
		SeasonKey:   "03",
		Destination: "/library/Formula 1/03/race.mkv",
	})

	removed := c.RemoveByMetadataChanges(map[string]metadata.ChangeResult{
		"formula1": {Updated: true, ChangedSeasons: map[string]bool{"03": true}},
	})
	record, ok := removed[source]
	if !ok {
		t.Fatal("record not removed")
	}
	if record.Destination != "/library/Formula 1/03/race.mkv" {
		t.Errorf("destination = %q", record.Destination)
	}
}

func TestRemoveByMetadataChangesEmpty(t *testing.T) {
	dir := t.TempDir()
	source := writeSource(t, dir, "file.mkv", "payload")

	c := NewProcessedFileCache(dir, zerolog.Nop())
	c.MarkProcessed(source, Record{})

	if removed := c.RemoveByMetadataChanges(nil); len(removed) != 0 {
		t.Errorf("no changes must remove nothing, got %d", len(removed))
	}
	if _, ok := c.Snapshot()[source]; !ok {
		t.Error("record dropped without changes")
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	source := writeSource(t, dir, "file.mkv", "payload")

	c := NewProcessedFileCache(dir, zerolog.Nop())
	c.MarkProcessed(source, Record{
		SportID:    "formula1",
		SeasonKey:  "01",
		EpisodeKey: "id:ep1",
		Checksum:   "deadbeef",
	})
	if err := c.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded := NewProcessedFileCache(dir, zerolog.Nop())
	record, ok := reloaded.Snapshot()[source]
	if !ok {
		t.Fatal("record lost across reload")
	}
	if record.SportID != "formula1" || record.SeasonKey != "01" || record.EpisodeKey != "id:ep1" {
		t.Errorf("record = %+v", record)
	}
	if reloaded.Checksum(source) != "deadbeef" {
		t.Errorf("checksum = %q", reloaded.Checksum(source))
	}
	if !reloaded.IsProcessed(source) {
		t.Error("reloaded record not reported as processed")
	}
}

func TestCorruptCacheStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state")
	if err := os.MkdirAll(statePath, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(statePath, "processed-files.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := NewProcessedFileCache(dir, zerolog.Nop())
	if len(c.Snapshot()) != 0 {
		t.Error("corrupt cache must start empty")
	}
}

func TestClear(t *testing.T) {
	dir := t.TempDir()
	source := writeSource(t, dir, "file.mkv", "payload")

	c := NewProcessedFileCache(dir, zerolog.Nop())
	c.MarkProcessed(source, Record{SportID: "formula1"})
	c.Clear()
	if len(c.Snapshot()) != 0 {
		t.Error("clear left records behind")
	}
}
