package matcher

import (
	"sort"
	"strconv"
	"strings"

	"playdeck/internal/config"
	"playdeck/internal/metadata"
	"playdeck/internal/normalize"
)

// selectSeason dispatches on the selector mode. A nil return means the
// pattern matched but no season could be attributed; the caller records the
// diagnostic.
func (m *Matcher) selectSeason(show *metadata.Show, selector config.SeasonSelector, caps *captures) *metadata.Season {
	switch selector.Mode {
	case "sequential":
		return selectSeasonSequential(show, selector, caps)
	case "round":
		return selectSeasonRound(show, selector, caps)
	case "key":
		return selectSeasonKey(show, selector, caps)
	case "title":
		return selectSeasonTitle(show, selector, caps)
	default:
		m.log.Warn().Str("mode", selector.Mode).Msg("unknown season selector mode")
		return nil
	}
}

func selectSeasonSequential(show *metadata.Show, selector config.SeasonSelector, caps *captures) *metadata.Season {
	group := selector.Group
	if group == "" {
		group = "season"
	}
	value, ok := caps.get(group)
	if !ok {
		return nil
	}
	index, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return nil
	}
	for i := range show.Seasons {
		if show.Seasons[i].Index == index {
			return &show.Seasons[i]
		}
	}
	return nil
}

func selectSeasonRound(show *metadata.Show, selector config.SeasonSelector, caps *captures) *metadata.Season {
	group := selector.Group
	if group == "" {
		group = "round"
	}
	value, ok := caps.get(group)
	if !ok {
		return nil
	}
	round, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return nil
	}
	round += selector.Offset

	for i := range show.Seasons {
		season := &show.Seasons[i]
		if season.RoundNumber != nil && *season.RoundNumber == round {
			return season
		}
		if season.DisplayNumber != nil && *season.DisplayNumber == round {
			return season
		}
	}
	// Positional fallback for catalogs whose seasons carry no numeric signal.
	if round > 0 && round <= len(show.Seasons) {
		return &show.Seasons[round-1]
	}
	return nil
}

func selectSeasonKey(show *metadata.Show, selector config.SeasonSelector, caps *captures) *metadata.Season {
	group := selector.Group
	if group == "" {
		group = "season"
	}
	key, ok := caps.get(group)
	if !ok {
		return nil
	}
	for i := range show.Seasons {
		if show.Seasons[i].Key == key {
			return &show.Seasons[i]
		}
	}
	if mapped, ok := selector.Mapping[key]; ok && mapped != 0 {
		for i := range show.Seasons {
			if show.Seasons[i].Index == mapped {
				return &show.Seasons[i]
			}
		}
	}
	return nil
}

func selectSeasonTitle(show *metadata.Show, selector config.SeasonSelector, caps *captures) *metadata.Season {
	group := selector.Group
	if group == "" {
		group = "season"
	}
	title, ok := caps.get(group)
	if !ok || title == "" {
		return nil
	}

	// Alias redirection: exact key first, then normalized key comparison.
	if len(selector.Aliases) > 0 {
		target, found := selector.Aliases[title]
		if !found {
			normalizedTitle := normalize.Token(title)
			for _, aliasKey := range sortedKeys(selector.Aliases) {
				if normalize.Token(aliasKey) == normalizedTitle {
					target = selector.Aliases[aliasKey]
					found = true
					break
				}
			}
		}
		if found && target != "" {
			title = target
		}
	}

	normalized := normalize.Token(title)
	for i := range show.Seasons {
		if normalize.Token(show.Seasons[i].Title) == normalized {
			return &show.Seasons[i]
		}
	}
	if normalized != "" {
		for i := range show.Seasons {
			seasonNormalized := normalize.Token(show.Seasons[i].Title)
			if strings.Contains(seasonNormalized, normalized) || strings.Contains(normalized, seasonNormalized) {
				return &show.Seasons[i]
			}
		}
	}
	if desired, ok := selector.Mapping[title]; ok && desired != 0 {
		for i := range show.Seasons {
			season := &show.Seasons[i]
			if season.RoundNumber != nil && *season.RoundNumber == desired {
				return season
			}
			if season.DisplayNumber != nil && *season.DisplayNumber == desired {
				return season
			}
		}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
