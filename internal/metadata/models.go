// Package metadata loads remote YAML catalogs, normalizes them into
// Show/Season/Episode structures, and fingerprints them so downstream caches
// can be invalidated at season/episode granularity.
package metadata

import (
	"fmt"
	"strings"
	"time"
)

// Show is one sport's full catalog for a run. Loaded fresh each run and
// treated as immutable afterward.
type Show struct {
	Key     string
	Title   string
	Summary string
	Seasons []Season
	// Raw keeps the original mapping for fingerprinting and template
	// substitution.
	Raw map[string]any
}

// Season is one season (a championship year, a tour, a split) of a show.
type Season struct {
	Key       string
	Title     string
	Summary   string
	SortTitle string
	// Index is the 1-based position after numeric-aware sorting.
	Index    int
	Episodes []Episode
	// DisplayNumber is the season number presented in destination paths.
	DisplayNumber *int
	// RoundNumber is the number release filenames refer to, which can differ
	// from DisplayNumber when overrides renumber a season.
	RoundNumber *int
	Raw         map[string]any
}

// Episode is a single session or event within a season.
type Episode struct {
	Title               string
	Summary             string
	OriginallyAvailable time.Time
	// Index is the 1-based document-order position within the season.
	Index int
	// DisplayNumber is an explicit episode number when the catalog carries one.
	DisplayNumber *int
	Aliases       []string
	Raw           map[string]any
}

// identityFields are tried in order when deriving a stable episode identity.
var identityFields = [...]string{"id", "guid", "episode_id", "uuid"}

// IdentityKey derives the stable key used to attribute cached files and
// fingerprint hashes to this episode. Catalog-supplied identifiers win;
// otherwise the display number, then the title, then the document index.
func (e *Episode) IdentityKey() string {
	for _, field := range identityFields {
		value, ok := e.Raw[field]
		if !ok || value == nil {
			continue
		}
		text := strings.TrimSpace(fmt.Sprint(value))
		if text != "" {
			return field + ":" + text
		}
	}
	if e.DisplayNumber != nil {
		return fmt.Sprintf("display:%d", *e.DisplayNumber)
	}
	if e.Title != "" {
		return "title:" + e.Title
	}
	return fmt.Sprintf("index:%d", e.Index)
}

// EpisodeNumber returns the number used for destination templating: the
// explicit display number when present, the document index otherwise.
func (e *Episode) EpisodeNumber() int {
	if e.DisplayNumber != nil {
		return *e.DisplayNumber
	}
	return e.Index
}

// SeasonNumber returns the number used for destination templating.
func (s *Season) SeasonNumber() int {
	if s.DisplayNumber != nil {
		return *s.DisplayNumber
	}
	return s.Index
}
