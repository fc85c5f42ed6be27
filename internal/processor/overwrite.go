package processor

import (
	"path/filepath"
	"regexp"
	"strings"

	"playdeck/internal/matcher"
	"playdeck/internal/normalize"
)

var (
	partMarkerRegex   = regexp.MustCompile(`\bpart[\s._-]*\d+\b`)
	stageMarkerRegex  = regexp.MustCompile(`\bstage[\s._-]*\d+\b`)
	roundMarkerRegex  = regexp.MustCompile(`\b(?:heat|round|leg|match|session)[\s._-]*\d+\b`)
	abbrevMarkerRegex = regexp.MustCompile(`(?:^|[\s._-])(?:qf|sf|q|fp|sp)[\s._-]*\d+\b`)
	spelledWordRegex  = regexp.MustCompile(`\b(?:one|two|three|four|five|six|seven|eight|nine|ten|first|second|third|fourth|fifth|sixth|seventh|eighth|ninth|tenth)\b`)
)

// shouldOverwriteExisting decides whether a new release may replace a file
// already at the destination. Repacks, propers, and 2160p upgrades always
// win. Otherwise the captured session label must be more specific than the
// episode's plainest known name, so "Race.Part2" replaces a bare "Race" but
// a second bare "Race" does not.
func (p *Processor) shouldOverwriteExisting(sourcePath string, match *matcher.Match, context map[string]any) bool {
	sourceName := strings.ToLower(filepath.Base(sourcePath))
	for _, keyword := range []string{"repack", "proper", "2160p"} {
		if strings.Contains(sourceName, keyword) {
			return true
		}
	}

	sessionRaw, _ := context["session"].(string)
	sessionRaw = strings.TrimSpace(sessionRaw)
	if sessionRaw == "" {
		return false
	}

	sessionScore := specificityScore(sessionRaw)
	if sessionScore == 0 {
		return false
	}

	sessionToken := normalize.Token(sessionRaw)
	minBaseline := -1
	for _, alias := range aliasCandidates(match) {
		if normalize.Token(alias) == sessionToken {
			continue
		}
		score := specificityScore(alias)
		if minBaseline < 0 || score < minBaseline {
			minBaseline = score
		}
	}
	if minBaseline < 0 {
		return false
	}
	return sessionScore > minBaseline
}

// aliasCandidates collects every known name for the matched episode: its
// title, its catalog aliases, and the pattern's session aliases for it.
func aliasCandidates(match *matcher.Match) []string {
	var candidates []string
	canonical := match.Episode.Title
	if canonical != "" {
		candidates = append(candidates, canonical)
	}
	candidates = append(candidates, match.Episode.Aliases...)

	sessionAliases := match.Pattern.SessionAliases
	if aliases, ok := sessionAliases[canonical]; ok {
		candidates = append(candidates, aliases...)
	} else if canonical != "" {
		canonicalToken := normalize.Token(canonical)
		for key, aliases := range sessionAliases {
			if normalize.Token(key) == canonicalToken {
				candidates = append(candidates, aliases...)
				break
			}
		}
	}

	seen := make(map[string]bool, len(candidates))
	unique := candidates[:0]
	for _, value := range candidates {
		if value == "" || seen[value] {
			continue
		}
		seen[value] = true
		unique = append(unique, value)
	}
	return unique
}

// specificityScore rates how much identifying detail a session label
// carries. Digits and separators dominate; numbered markers and spelled-out
// ordinals add a little.
func specificityScore(value string) int {
	if value == "" {
		return 0
	}
	lower := strings.ToLower(value)

	score := 0
	for _, ch := range value {
		if ch >= '0' && ch <= '9' {
			score += 2
		}
	}
	score += strings.Count(lower, ".") + strings.Count(lower, "-") + strings.Count(lower, "_")

	if partMarkerRegex.MatchString(lower) {
		score += 2
	}
	if stageMarkerRegex.MatchString(lower) {
		score++
	}
	if roundMarkerRegex.MatchString(lower) {
		score++
	}
	if abbrevMarkerRegex.MatchString(lower) {
		score++
	}
	words := spelledWordRegex.FindAllString(lower, -1)
	seen := make(map[string]bool, len(words))
	for _, word := range words {
		if !seen[word] {
			seen[word] = true
			score++
		}
	}
	return score
}
