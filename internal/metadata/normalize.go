package metadata

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SeasonOverride renumbers a season whose catalog key does not match how
// release groups refer to it.
type SeasonOverride struct {
	// Round is the number release filenames carry for this season.
	Round *int `yaml:"round"`
	// SeasonNumber is the number used in destination paths.
	SeasonNumber *int `yaml:"season_number"`
}

// Source describes where and how one sport's catalog is fetched and
// normalized.
type Source struct {
	URL             string                    `yaml:"url"`
	Headers         map[string]string         `yaml:"headers"`
	TTLHours        int                       `yaml:"ttl_hours"`
	ShowKey         string                    `yaml:"show_key"`
	SeasonOverrides map[string]SeasonOverride `yaml:"season_overrides"`
}

// Normalizer turns a raw catalog document into a Show.
type Normalizer struct {
	source Source
}

func NewNormalizer(source Source) *Normalizer {
	return &Normalizer{source: source}
}

var leadingDigitsRegex = regexp.MustCompile(`^(\d+)`)

// Show extracts and normalizes the configured show from a decoded catalog
// document. Catalogs either nest shows under a top-level "metadata" mapping
// or are that mapping themselves.
func (n *Normalizer) Show(raw map[string]any) (*Show, error) {
	catalog := raw
	if nested, ok := asMap(raw["metadata"]); ok {
		catalog = nested
	}

	var key string
	var showRaw map[string]any
	if n.source.ShowKey != "" {
		key = n.source.ShowKey
		nested, ok := asMap(catalog[key])
		if !ok || len(nested) == 0 {
			return nil, fmt.Errorf("show key %q not found in catalog", key)
		}
		showRaw = nested
	} else {
		if len(catalog) != 1 {
			return nil, fmt.Errorf("catalog contains %d shows; set show_key to pick one", len(catalog))
		}
		for k, v := range catalog {
			key = k
			nested, ok := asMap(v)
			if !ok {
				return nil, fmt.Errorf("show %q is not a mapping", k)
			}
			showRaw = nested
		}
	}

	seasons, err := n.parseSeasons(showRaw["seasons"])
	if err != nil {
		return nil, fmt.Errorf("show %q: %w", key, err)
	}

	return &Show{
		Key:     key,
		Title:   stringOr(showRaw["title"], key),
		Summary: stringOr(showRaw["summary"], ""),
		Seasons: seasons,
		Raw:     showRaw,
	}, nil
}

type keyedValue struct {
	key   string
	value any
}

func (n *Normalizer) parseSeasons(raw any) ([]Season, error) {
	items, err := keyedValues(raw, true)
	if err != nil {
		return nil, fmt.Errorf("seasons: %w", err)
	}

	seasons := make([]Season, 0, len(items))
	for i, item := range items {
		seasonRaw, ok := asMap(item.value)
		if !ok {
			// Some catalogs supply the episode list directly under the key.
			if list, isList := item.value.([]any); isList {
				seasonRaw = map[string]any{"episodes": list}
			} else if item.value == nil {
				seasonRaw = map[string]any{}
			} else {
				return nil, fmt.Errorf("season %q has unexpected structure", item.key)
			}
		}

		title := stringOr(seasonRaw["title"], item.key)
		sortTitle := stringOr(seasonRaw["sort_title"], "")
		if sortTitle == "" {
			sortTitle = stringOr(seasonRaw["slug"], "")
		}

		episodes, err := parseEpisodes(seasonRaw["episodes"])
		if err != nil {
			return nil, fmt.Errorf("season %q: %w", item.key, err)
		}

		season := Season{
			Key:       item.key,
			Title:     title,
			Summary:   stringOr(seasonRaw["summary"], ""),
			SortTitle: sortTitle,
			Index:     i + 1,
			Episodes:  episodes,
			Raw:       seasonRaw,
		}

		override := n.source.SeasonOverrides[title]
		if override.Round != nil {
			season.RoundNumber = override.Round
		} else {
			season.RoundNumber = firstInt(
				roundFromSortTitle(sortTitle),
				intFromString(item.key),
				roundFromTitle(title),
			)
		}
		if override.SeasonNumber != nil {
			season.DisplayNumber = override.SeasonNumber
		} else {
			season.DisplayNumber = season.RoundNumber
		}

		seasons = append(seasons, season)
	}
	return seasons, nil
}

func parseEpisodes(raw any) ([]Episode, error) {
	if raw == nil {
		return nil, nil
	}
	items, err := keyedValues(raw, true)
	if err != nil {
		return nil, fmt.Errorf("episodes: %w", err)
	}

	episodes := make([]Episode, 0, len(items))
	for i, item := range items {
		episodeRaw, ok := asMap(item.value)
		if !ok {
			if item.value == nil {
				episodeRaw = map[string]any{}
			} else {
				return nil, fmt.Errorf("episode %q has unexpected structure", item.key)
			}
		}

		title := stringOr(episodeRaw["title"], "")
		if title == "" {
			title = stringOr(episodeRaw["name"], "")
		}
		if title == "" {
			title = fmt.Sprintf("Episode %d", i+1)
		}

		episodes = append(episodes, Episode{
			Title:               title,
			Summary:             stringOr(episodeRaw["summary"], ""),
			OriginallyAvailable: parseOriginallyAvailable(episodeRaw["originally_available"]),
			Index:               i + 1,
			DisplayNumber:       intValue(episodeRaw["episode_number"]),
			Aliases:             stringList(episodeRaw["aliases"]),
			Raw:                 episodeRaw,
		})
	}
	return episodes, nil
}

// keyedValues flattens a mapping or list into key/value pairs. Mappings are
// sorted with numeric-aware key ordering so "2" comes before "10"; lists keep
// document order.
func keyedValues(raw any, sortMaps bool) ([]keyedValue, error) {
	switch v := raw.(type) {
	case map[string]any:
		items := make([]keyedValue, 0, len(v))
		for key, value := range v {
			items = append(items, keyedValue{key: key, value: value})
		}
		if sortMaps {
			sort.Slice(items, func(a, b int) bool {
				return numericSortKey(items[a].key) < numericSortKey(items[b].key)
			})
		}
		return items, nil
	case map[any]any:
		items := make([]keyedValue, 0, len(v))
		for key, value := range v {
			items = append(items, keyedValue{key: fmt.Sprint(key), value: value})
		}
		if sortMaps {
			sort.Slice(items, func(a, b int) bool {
				return numericSortKey(items[a].key) < numericSortKey(items[b].key)
			})
		}
		return items, nil
	case []any:
		items := make([]keyedValue, 0, len(v))
		for i, value := range v {
			items = append(items, keyedValue{key: strconv.Itoa(i), value: value})
		}
		return items, nil
	default:
		return nil, fmt.Errorf("expected mapping or list, got %T", raw)
	}
}

// numericSortKey orders fully or partially numeric keys before plain strings,
// padding the numeric part so lexical comparison matches numeric order.
func numericSortKey(key string) string {
	if n, err := strconv.Atoi(key); err == nil {
		return fmt.Sprintf("0%06d", n)
	}
	if prefix := leadingDigitsRegex.FindString(key); prefix != "" {
		n, _ := strconv.Atoi(prefix)
		return fmt.Sprintf("0%06d-%s", n, key)
	}
	return "1" + key
}

// roundFromSortTitle reads a round number from sort titles shaped like
// "03_bahrain".
func roundFromSortTitle(sortTitle string) *int {
	if sortTitle == "" {
		return nil
	}
	prefix, _, _ := strings.Cut(sortTitle, "_")
	return intFromString(prefix)
}

// roundFromTitle reads the first all-digit word of a title, tolerating a
// leading "#".
func roundFromTitle(title string) *int {
	for _, chunk := range strings.Fields(title) {
		if n := intFromString(strings.Trim(chunk, "#")); n != nil {
			return n
		}
	}
	return nil
}

func parseOriginallyAvailable(value any) time.Time {
	switch v := value.(type) {
	case nil:
		return time.Time{}
	case time.Time:
		return v
	default:
		text, _, _ := strings.Cut(strings.TrimSpace(fmt.Sprint(v)), " ")
		parsed, err := time.Parse("2006-01-02", text)
		if err != nil {
			return time.Time{}
		}
		return parsed
	}
}

func firstInt(candidates ...*int) *int {
	for _, c := range candidates {
		if c != nil {
			return c
		}
	}
	return nil
}

func intFromString(s string) *int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &n
}

func intValue(value any) *int {
	switch v := value.(type) {
	case nil:
		return nil
	case int:
		n := v
		return &n
	case int64:
		n := int(v)
		return &n
	case float64:
		n := int(v)
		return &n
	case string:
		return intFromString(v)
	default:
		return nil
	}
}

func stringOr(value any, fallback string) string {
	switch v := value.(type) {
	case nil:
		return fallback
	case string:
		if v == "" {
			return fallback
		}
		return v
	default:
		return fmt.Sprint(v)
	}
}

func stringList(value any) []string {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if item == nil {
				continue
			}
			out = append(out, fmt.Sprint(item))
		}
		return out
	case []string:
		return v
	default:
		return nil
	}
}

func asMap(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case map[string]any:
		return v, true
	case map[any]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[fmt.Sprint(key)] = item
		}
		return out, true
	default:
		return nil, false
	}
}
