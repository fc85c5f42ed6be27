package matcher

import (
	"regexp"
	"sort"
	"strings"

	"playdeck/internal/config"
	"playdeck/internal/fuzzy"
	"playdeck/internal/metadata"
	"playdeck/internal/normalize"
)

// noiseTokens are broadcaster and release tags that pollute session captures
// ("fp1.f1live" should still resolve to Free Practice 1).
var noiseTokens = []string{
	"f1live",
	"f1tv",
	"f1kids",
	"sky",
	"intl",
	"international",
	"proper",
	"verum",
}

var (
	variantSplitRegex = regexp.MustCompile(`[\s._-]+`)
	trailingPartRegex = regexp.MustCompile(`part\d+$`)
	embeddedPartRegex = regexp.MustCompile(`part\d+`)
)

func stripNoise(normalized string) string {
	result := normalized
	for _, token := range noiseTokens {
		result = strings.ReplaceAll(result, token, "")
	}
	return result
}

// buildSessionLookup maps every normalized episode title and alias of a
// season to the canonical episode title, then fills remaining gaps from the
// pattern's session aliases. Episode-derived entries always win.
func buildSessionLookup(pattern *config.Pattern, season *metadata.Season) map[string]string {
	lookup := make(map[string]string)
	for i := range season.Episodes {
		episode := &season.Episodes[i]
		lookup[normalize.Token(episode.Title)] = episode.Title
		for _, alias := range episode.Aliases {
			lookup[normalize.Token(alias)] = episode.Title
		}
	}
	for _, canonical := range sortedAliasKeys(pattern.SessionAliases) {
		normalized := normalize.Token(canonical)
		if _, exists := lookup[normalized]; !exists {
			lookup[normalized] = canonical
		}
		for _, alias := range pattern.SessionAliases[canonical] {
			key := normalize.Token(alias)
			if _, exists := lookup[key]; !exists {
				lookup[key] = canonical
			}
		}
	}
	return lookup
}

func sortedAliasKeys(aliases map[string][]string) []string {
	keys := make([]string, 0, len(aliases))
	for key := range aliases {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// resolveSessionLookup finds the canonical session for a normalized token:
// exact hit first, then the best fuzzy candidate above the acceptance floor.
func (m *Matcher) resolveSessionLookup(lookup map[string]string, token string) string {
	if direct, ok := lookup[token]; ok && direct != "" {
		return direct
	}
	if len(token) < 4 {
		return ""
	}

	keys := make([]string, 0, len(lookup))
	for key := range lookup {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	bestKey := ""
	bestScore := 0.0
	for _, candidate := range keys {
		if len(candidate) < 4 {
			continue
		}
		if !fuzzy.TokensClose(candidate, token, m.scorer, m.thresholds) {
			continue
		}
		score := m.scorer.Similarity(candidate, token)
		if m.scorer.Precise() && m.scorer.WithinDistance(candidate, token, 1) && score < m.thresholds.Similarity {
			score = m.thresholds.Similarity
		}
		if score > bestScore {
			bestKey = candidate
			bestScore = score
		}
	}

	if bestKey != "" && bestScore >= m.thresholds.Accept {
		return lookup[bestKey]
	}
	return ""
}

func (m *Matcher) tokensMatch(candidate, target string) bool {
	if candidate == "" || target == "" {
		return false
	}
	if candidate == target {
		return true
	}
	if strings.HasPrefix(candidate, target) || strings.HasPrefix(target, candidate) {
		return true
	}
	return fuzzy.TokensClose(candidate, target, m.scorer, m.thresholds)
}

type lookupAttempt struct {
	label      string
	value      string
	normalized string
}

// selectEpisode resolves the captured session value, or a fallback derived
// from the other captures, to an episode of the season. It returns the
// episode (nil when unresolved), the lookup attempts as trace records, and
// the attempted token descriptions for diagnostics.
func (m *Matcher) selectEpisode(pattern *config.Pattern, season *metadata.Season, lookup map[string]string, caps *captures) (*metadata.Episode, []TraceLookup, []string) {
	group := pattern.EpisodeSelector.Group
	raw, hasRaw := caps.get(group)
	if !hasRaw {
		if pattern.EpisodeSelector.AllowFallbackToTitle {
			raw = fallbackFromLookupKeys(lookup, caps)
		}
		if raw == "" {
			return nil, nil, nil
		}
	}

	normalized := stripNoise(normalize.Token(raw))
	withoutPart := ""
	if strings.Contains(normalized, "part") {
		cleaned := embeddedPartRegex.ReplaceAllString(trailingPartRegex.ReplaceAllString(normalized, ""), "")
		withoutPart = strings.TrimSpace(cleaned)
	}

	var attempts []lookupAttempt
	seen := make(map[string]bool)

	addLookup := func(label, value string) {
		if value == "" {
			return
		}
		var variants []string
		pushVariant := func(candidate string) {
			if candidate == "" {
				return
			}
			for _, existing := range variants {
				if existing == candidate {
					return
				}
			}
			variants = append(variants, candidate)
		}

		pushVariant(value)
		words := splitNonEmpty(value)
		if len(words) > 0 {
			pushVariant(strings.Join(words, " "))
			var kept []string
			for _, word := range words {
				if stripNoise(normalize.Token(word)) != "" {
					kept = append(kept, word)
				}
			}
			pushVariant(strings.Join(kept, " "))
			for i := 1; i < len(words); i++ {
				pushVariant(strings.Join(words[i:], " "))
			}
		}

		for _, variant := range variants {
			normalizedVariant := stripNoise(normalize.Token(variant))
			if normalizedVariant == "" || seen[normalizedVariant] {
				continue
			}
			seen[normalizedVariant] = true
			attempts = append(attempts, lookupAttempt{label: label, value: variant, normalized: normalizedVariant})
		}
	}

	addLookup("session", raw)

	if withoutPart != "" && !seen[withoutPart] {
		seen[withoutPart] = true
		attempts = append(attempts, lookupAttempt{label: "session_without_part", value: raw, normalized: withoutPart})
	}

	for _, name := range caps.order {
		if name == group {
			continue
		}
		addLookup(name, caps.values[name])
	}

	away, _ := caps.get("away")
	home, _ := caps.get("home")
	if away != "" && home != "" {
		separators := []string{}
		if sep, ok := caps.get("separator"); ok && sep != "" {
			separators = append(separators, sep)
		}
		separators = append(separators, "at", "vs", "v", "@")
		seenSeparators := make(map[string]bool)
		for _, sep := range separators {
			key := normalize.Token(sep)
			if seenSeparators[key] {
				continue
			}
			seenSeparators[key] = true
			addLookup("away_home", away+"."+sep+"."+home)
			addLookup("away_home", away+" "+sep+" "+home)
			addLookup("home_away", home+"."+sep+"."+away)
			addLookup("home_away", home+" "+sep+" "+away)
		}
	}

	if venue, ok := caps.get("venue"); ok && venue != "" {
		addLookup("venue+session", venue+" "+raw)
		addLookup("session+venue", raw+" "+venue)
	}

	// Longer normalized tokens are more specific; try them first.
	sort.SliceStable(attempts, func(a, b int) bool {
		return len(attempts[a].normalized) > len(attempts[b].normalized)
	})

	lookups := make([]TraceLookup, 0, len(attempts))
	attempted := make([]string, 0, len(attempts))
	for _, attempt := range attempts {
		lookups = append(lookups, TraceLookup{Label: attempt.label, Value: attempt.value, Normalized: attempt.normalized})
	}

	for _, attempt := range attempts {
		attempted = append(attempted, attempt.label+":"+attempt.value)

		canonical := m.resolveSessionLookup(lookup, attempt.normalized)
		canonicalToken := normalize.Token(canonical)

		var candidateTokens []string
		if canonicalToken != "" {
			candidateTokens = append(candidateTokens, canonicalToken)
		}
		candidateTokens = append(candidateTokens, attempt.normalized)

		for _, token := range candidateTokens {
			if token == "" {
				continue
			}
			if canonicalToken != "" && token == canonicalToken {
				for i := range season.Episodes {
					if normalize.Token(season.Episodes[i].Title) == canonicalToken {
						return &season.Episodes[i], lookups, attempted
					}
				}
			}
			if episode := m.findEpisodeForToken(season, token); episode != nil {
				return episode, lookups, attempted
			}
		}
	}

	return nil, lookups, attempted
}

func (m *Matcher) findEpisodeForToken(season *metadata.Season, token string) *metadata.Episode {
	for i := range season.Episodes {
		episode := &season.Episodes[i]
		if m.tokensMatch(normalize.Token(episode.Title), token) {
			return episode
		}
		for _, alias := range episode.Aliases {
			if m.tokensMatch(normalize.Token(alias), token) {
				return episode
			}
		}
	}
	return nil
}

// fallbackFromLookupKeys scans the session lookup keys, longest first, for
// one contained in the normalized concatenation of every captured value.
func fallbackFromLookupKeys(lookup map[string]string, caps *captures) string {
	haystack := normalize.Token(caps.joined())
	if haystack == "" {
		return ""
	}
	keys := make([]string, 0, len(lookup))
	for key := range lookup {
		if key != "" {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(a, b int) bool {
		if len(keys[a]) != len(keys[b]) {
			return len(keys[a]) > len(keys[b])
		}
		return keys[a] < keys[b]
	})
	for _, key := range keys {
		if strings.Contains(haystack, key) {
			return key
		}
	}
	return ""
}

func splitNonEmpty(value string) []string {
	var words []string
	for _, word := range variantSplitRegex.Split(value, -1) {
		if word != "" {
			words = append(words, word)
		}
	}
	return words
}
