package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
)

// Fingerprint is the tri-level hash of one show's normalized catalog: a
// whole-show digest, one hash per season (season-level fields only, episodes
// excluded), and one hash per episode keyed by episode identity. The split
// lets a single episode edit invalidate a single cached file instead of the
// whole sport.
type Fingerprint struct {
	Digest   string                       `json:"digest"`
	Seasons  map[string]string            `json:"seasons,omitempty"`
	Episodes map[string]map[string]string `json:"episodes,omitempty"`
}

// ChangeResult reports what changed between the stored fingerprint and a
// freshly computed one.
type ChangeResult struct {
	// Updated reports whether the stored fingerprint was replaced.
	Updated bool
	// InvalidateAll means per-season deltas cannot be trusted and every
	// cached entry for the sport must be dropped.
	InvalidateAll bool
	// ChangedSeasons holds season keys whose own hash changed or that
	// disappeared from the catalog.
	ChangedSeasons map[string]bool
	// ChangedEpisodes holds, per season key, the episode identity keys whose
	// hash changed or disappeared. Seasons listed in ChangedSeasons never
	// appear here.
	ChangedEpisodes map[string]map[string]bool
}

// HasChanges reports whether any cached state is implicated.
func (r ChangeResult) HasChanges() bool {
	return r.InvalidateAll || len(r.ChangedSeasons) > 0 || len(r.ChangedEpisodes) > 0
}

// Compute builds the fingerprint for a normalized show. Season overrides are
// folded into the season hashes because renumbering a season moves its
// destinations even when the catalog text is untouched.
func Compute(show *Show, overrides map[string]SeasonOverride) (*Fingerprint, error) {
	fp := &Fingerprint{
		Seasons:  make(map[string]string, len(show.Seasons)),
		Episodes: make(map[string]map[string]string, len(show.Seasons)),
	}

	digestPayload := map[string]any{
		"key":     show.Key,
		"title":   show.Title,
		"summary": show.Summary,
		"seasons": map[string]any{},
	}
	seasonsPayload := digestPayload["seasons"].(map[string]any)

	for i := range show.Seasons {
		season := &show.Seasons[i]

		episodeHashes := make(map[string]string, len(season.Episodes))
		for j := range season.Episodes {
			episode := &season.Episodes[j]
			hash, err := hashValue(episode.Raw)
			if err != nil {
				return nil, fmt.Errorf("episode %q: %w", episode.Title, err)
			}
			episodeHashes[episode.IdentityKey()] = hash
		}

		// Strip the episode list so the season hash tracks only
		// season-level edits; episode edits surface through the episode map.
		seasonFields := make(map[string]any, len(season.Raw))
		for key, value := range season.Raw {
			if key == "episodes" {
				continue
			}
			seasonFields[key] = value
		}
		seasonHash, err := hashValue(map[string]any{
			"fields":   seasonFields,
			"override": overrides[season.Title],
		})
		if err != nil {
			return nil, fmt.Errorf("season %q: %w", season.Key, err)
		}

		fp.Seasons[season.Key] = seasonHash
		fp.Episodes[season.Key] = episodeHashes
		seasonsPayload[season.Key] = map[string]any{
			"hash":     seasonHash,
			"episodes": episodeHashes,
		}
	}

	digest, err := hashValue(digestPayload)
	if err != nil {
		return nil, err
	}
	fp.Digest = digest
	return fp, nil
}

// hashValue hashes the canonical JSON encoding of a value. encoding/json
// sorts map keys, which keeps the hash stable across runs.
func hashValue(value any) (string, error) {
	encoded, err := json.Marshal(canonicalize(value))
	if err != nil {
		return "", fmt.Errorf("encode for hashing: %w", err)
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(encoded)), nil
}

// canonicalize rewrites a decoded YAML tree into a JSON-encodable one.
func canonicalize(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = canonicalize(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[fmt.Sprint(key)] = canonicalize(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = canonicalize(item)
		}
		return out
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		return v
	}
}

// Store persists fingerprints as one JSON document keyed by sport id. Loaded
// once at startup, written once at end-of-run.
type Store struct {
	path string
	log  zerolog.Logger

	mu      sync.Mutex
	records map[string]*Fingerprint
	dirty   bool
}

// NewStore loads the fingerprint store at path. Corrupt or unreadable state
// logs a warning and starts empty rather than failing the run.
func NewStore(path string, log zerolog.Logger) *Store {
	s := &Store{
		path:    path,
		log:     log,
		records: make(map[string]*Fingerprint),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("failed to read fingerprint store, starting empty")
		}
		return s
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("corrupt fingerprint store, starting empty")
		return s
	}

	for sportID, message := range raw {
		fp, err := decodeFingerprint(message)
		if err != nil {
			log.Warn().Err(err).Str("sport", sportID).Msg("dropping unreadable fingerprint record")
			continue
		}
		s.records[sportID] = fp
	}
	return s
}

// decodeFingerprint accepts both the current record shape and the legacy
// format where the value is a bare digest string.
func decodeFingerprint(message json.RawMessage) (*Fingerprint, error) {
	var digest string
	if err := json.Unmarshal(message, &digest); err == nil {
		return &Fingerprint{Digest: digest}, nil
	}
	var fp Fingerprint
	if err := json.Unmarshal(message, &fp); err != nil {
		return nil, err
	}
	return &fp, nil
}

// Update diffs next against the stored fingerprint for sportID, replaces the
// stored record when anything changed, and reports exactly which seasons and
// episodes a caller must invalidate.
func (s *Store) Update(sportID string, next *Fingerprint) ChangeResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	prior, ok := s.records[sportID]
	if !ok {
		s.records[sportID] = next
		s.dirty = true
		return ChangeResult{Updated: true}
	}

	if prior.Digest == next.Digest {
		// Same content. Persist the richer shape silently so a legacy record
		// upgrades without signaling a change.
		s.records[sportID] = next
		s.dirty = true
		return ChangeResult{Updated: false}
	}

	priorLegacy := len(prior.Seasons) == 0 && len(prior.Episodes) == 0
	episodeUpgrade := len(prior.Episodes) == 0 && len(next.Episodes) > 0
	if priorLegacy || episodeUpgrade {
		// The baseline cannot support a trustworthy per-season diff.
		s.records[sportID] = next
		s.dirty = true
		return ChangeResult{Updated: true, InvalidateAll: true}
	}

	result := ChangeResult{
		Updated:         true,
		ChangedSeasons:  make(map[string]bool),
		ChangedEpisodes: make(map[string]map[string]bool),
	}

	for seasonKey, priorHash := range prior.Seasons {
		nextHash, exists := next.Seasons[seasonKey]
		if !exists || nextHash != priorHash {
			result.ChangedSeasons[seasonKey] = true
		}
	}

	for seasonKey, priorEpisodes := range prior.Episodes {
		if result.ChangedSeasons[seasonKey] {
			continue
		}
		nextEpisodes, exists := next.Episodes[seasonKey]
		if !exists {
			result.ChangedSeasons[seasonKey] = true
			continue
		}
		for episodeKey, priorHash := range priorEpisodes {
			nextHash, exists := nextEpisodes[episodeKey]
			if !exists || nextHash != priorHash {
				if result.ChangedEpisodes[seasonKey] == nil {
					result.ChangedEpisodes[seasonKey] = make(map[string]bool)
				}
				result.ChangedEpisodes[seasonKey][episodeKey] = true
			}
		}
	}

	s.records[sportID] = next
	s.dirty = true
	return result
}

// Remove drops the stored fingerprint for sportID, if any.
func (s *Store) Remove(sportID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[sportID]; ok {
		delete(s.records, sportID)
		s.dirty = true
	}
}

// Clear drops every stored fingerprint.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) > 0 {
		s.records = make(map[string]*Fingerprint)
		s.dirty = true
	}
}

// Save writes the store back to disk if anything changed since load.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}

	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode fingerprint store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create fingerprint store dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write fingerprint store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace fingerprint store: %w", err)
	}
	s.dirty = false
	return nil
}
