package matcher

import (
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"playdeck/internal/config"
	"playdeck/internal/fuzzy"
	"playdeck/internal/metadata"
)

func intPtr(n int) *int { return &n }

func testShow() *metadata.Show {
	return &metadata.Show{
		Key:   "formula1",
		Title: "Formula 1",
		Seasons: []metadata.Season{
			{
				Key:           "01",
				Title:         "01 Bahrain Grand Prix",
				Index:         1,
				RoundNumber:   intPtr(1),
				DisplayNumber: intPtr(1),
				Episodes: []metadata.Episode{
					{Title: "Free Practice 1", Aliases: []string{"FP1"}, Index: 1},
					{Title: "Qualifying", Aliases: []string{"Quali"}, Index: 2},
					{Title: "Race", Index: 3},
				},
			},
			{
				Key:           "02",
				Title:         "02 Saudi Arabian Grand Prix",
				Index:         2,
				RoundNumber:   intPtr(2),
				DisplayNumber: intPtr(2),
				Episodes: []metadata.Episode{
					{Title: "Free Practice 1", Aliases: []string{"FP1"}, Index: 1},
					{Title: "Race", Index: 2},
				},
			},
		},
	}
}

func testSport(patterns ...config.Pattern) *config.Sport {
	return &config.Sport{
		ID:       "formula1",
		Name:     "Formula 1",
		Enabled:  true,
		Patterns: patterns,
	}
}

func roundSessionPattern(priority int) config.Pattern {
	return config.Pattern{
		Regex:           `(?P<round>\d+)[._-]+(?P<session>[a-z0-9]+)`,
		SeasonSelector:  config.SeasonSelector{Mode: "round", Group: "round"},
		EpisodeSelector: config.EpisodeSelector{Group: "session", AllowFallbackToTitle: true},
		Priority:        priority,
	}
}

func newTestMatcher(t *testing.T) *Matcher {
	t.Helper()
	return New(fuzzy.EditDistanceScorer{}, fuzzy.DefaultThresholds(), zerolog.Nop())
}

func mustCompile(t *testing.T, sport *config.Sport) []CompiledPattern {
	t.Helper()
	patterns, err := CompilePatterns(sport)
	if err != nil {
		t.Fatalf("CompilePatterns: %v", err)
	}
	return patterns
}

func TestMatchRoundAndAlias(t *testing.T) {
	sport := testSport(roundSessionPattern(50))
	m := newTestMatcher(t)
	patterns := mustCompile(t, sport)
	show := testShow()

	outcome := m.Match("01.fp1.release.mkv", sport, show, patterns)
	if outcome.Match == nil {
		t.Fatalf("no match; diagnostics: %+v", outcome.Diagnostics)
	}
	if outcome.Match.Season.Key != "01" {
		t.Errorf("season = %q, want 01", outcome.Match.Season.Key)
	}
	if outcome.Match.Episode.Title != "Free Practice 1" {
		t.Errorf("episode = %q, want Free Practice 1", outcome.Match.Episode.Title)
	}
	if outcome.Trace.Status != "matched" {
		t.Errorf("trace status = %q", outcome.Trace.Status)
	}
}

func TestMatchAliasAndTitleAgree(t *testing.T) {
	sport := testSport(roundSessionPattern(50))
	m := newTestMatcher(t)
	patterns := mustCompile(t, sport)
	show := testShow()

	viaAlias := m.Match("01.fp1.mkv", sport, show, patterns)
	viaTitle := m.Match("01.free.practice.1.mkv", sport, show, patterns)

	if viaAlias.Match == nil || viaTitle.Match == nil {
		t.Fatalf("alias=%v title=%v", viaAlias.Match, viaTitle.Match)
	}
	if viaAlias.Match.Episode != viaTitle.Match.Episode {
		t.Errorf("alias and title resolved to different episodes: %q vs %q",
			viaAlias.Match.Episode.Title, viaTitle.Match.Episode.Title)
	}
}

func TestMatchTransposedSession(t *testing.T) {
	sport := testSport(roundSessionPattern(50))
	m := newTestMatcher(t)
	patterns := mustCompile(t, sport)

	outcome := m.Match("01.qaulifying.mkv", sport, testShow(), patterns)
	if outcome.Match == nil {
		t.Fatalf("transposed session did not resolve; diagnostics: %+v", outcome.Diagnostics)
	}
	if outcome.Match.Episode.Title != "Qualifying" {
		t.Errorf("episode = %q, want Qualifying", outcome.Match.Episode.Title)
	}
}

func TestMatchUnknownRound(t *testing.T) {
	sport := testSport(roundSessionPattern(50))
	m := newTestMatcher(t)
	patterns := mustCompile(t, sport)

	outcome := m.Match("99.fp1.release.mkv", sport, testShow(), patterns)
	if outcome.Match != nil {
		t.Fatalf("unexpected match: %+v", outcome.Match)
	}
	found := false
	for _, diag := range outcome.Diagnostics {
		if diag.Severity == SeverityWarning && strings.Contains(diag.Message, "season not resolved") {
			found = true
		}
	}
	if !found {
		t.Errorf("missing season-not-resolved warning: %+v", outcome.Diagnostics)
	}
	if outcome.Trace.Status != "unresolved" {
		t.Errorf("trace status = %q, want unresolved", outcome.Trace.Status)
	}
}

func TestMatchAllowUnmatchedDowngradesSeverity(t *testing.T) {
	sport := testSport(roundSessionPattern(50))
	sport.AllowUnmatched = true
	m := newTestMatcher(t)
	patterns := mustCompile(t, sport)

	outcome := m.Match("99.fp1.release.mkv", sport, testShow(), patterns)
	for _, diag := range outcome.Diagnostics {
		if diag.Severity == SeverityWarning {
			t.Errorf("allow_unmatched sport must not warn: %+v", diag)
		}
	}
}

func TestMatchPriorityOrdering(t *testing.T) {
	// Both patterns match and resolve; the list is priority-sorted so the
	// priority-10 pattern must supply the result.
	specific := config.Pattern{
		Regex:           `(?P<round>\d+)[._-]+(?P<session>quali)`,
		Description:     "specific",
		SeasonSelector:  config.SeasonSelector{Mode: "round", Group: "round"},
		EpisodeSelector: config.EpisodeSelector{Group: "session", AllowFallbackToTitle: true},
		Priority:        10,
	}
	generic := roundSessionPattern(50)
	generic.Description = "generic"

	sport := testSport(specific, generic)
	m := newTestMatcher(t)
	patterns := mustCompile(t, sport)

	outcome := m.Match("01.quali.race.mkv", sport, testShow(), patterns)
	if outcome.Match == nil {
		t.Fatalf("no match; diagnostics: %+v", outcome.Diagnostics)
	}
	if outcome.Match.Pattern.Description != "specific" {
		t.Errorf("pattern = %q, want specific", outcome.Match.Pattern.Description)
	}
	if outcome.Match.Episode.Title != "Qualifying" {
		t.Errorf("episode = %q, want Qualifying", outcome.Match.Episode.Title)
	}
}

func TestMatchNoiseTokensStripped(t *testing.T) {
	pattern := config.Pattern{
		Regex:           `(?P<round>\d+)\.(?P<session>[a-z0-9.]+?)\.mkv`,
		SeasonSelector:  config.SeasonSelector{Mode: "round", Group: "round"},
		EpisodeSelector: config.EpisodeSelector{Group: "session", AllowFallbackToTitle: true},
		Priority:        50,
	}
	sport := testSport(pattern)
	m := newTestMatcher(t)
	patterns := mustCompile(t, sport)

	outcome := m.Match("01.race.sky.mkv", sport, testShow(), patterns)
	if outcome.Match == nil {
		t.Fatalf("no match; diagnostics: %+v", outcome.Diagnostics)
	}
	if outcome.Match.Episode.Title != "Race" {
		t.Errorf("episode = %q, want Race", outcome.Match.Episode.Title)
	}
}

func TestMatchPartSuffixStripped(t *testing.T) {
	pattern := config.Pattern{
		Regex:           `(?P<round>\d+)\.(?P<session>[a-z0-9.]+?)\.mkv`,
		SeasonSelector:  config.SeasonSelector{Mode: "round", Group: "round"},
		EpisodeSelector: config.EpisodeSelector{Group: "session", AllowFallbackToTitle: true},
		Priority:        50,
	}
	sport := testSport(pattern)
	m := newTestMatcher(t)
	patterns := mustCompile(t, sport)

	outcome := m.Match("01.qualifying.part2.mkv", sport, testShow(), patterns)
	if outcome.Match == nil {
		t.Fatalf("no match; diagnostics: %+v", outcome.Diagnostics)
	}
	if outcome.Match.Episode.Title != "Qualifying" {
		t.Errorf("episode = %q, want Qualifying", outcome.Match.Episode.Title)
	}
}

func TestMatchAwayHomeCombinations(t *testing.T) {
	show := &metadata.Show{
		Key:   "nfl",
		Title: "NFL",
		Seasons: []metadata.Season{
			{
				Key:         "2024",
				Title:       "2024 Season",
				Index:       1,
				RoundNumber: intPtr(2024),
				Episodes: []metadata.Episode{
					{Title: "Bears vs Lions", Index: 1},
					{Title: "Packers vs Vikings", Index: 2},
				},
			},
		},
	}
	pattern := config.Pattern{
		Regex:           `(?P<round>\d{4})\.(?P<away>[a-z]+)\.(?P<separator>at|vs|v)\.(?P<home>[a-z]+)\.(?P<session>[a-z0-9]+)`,
		SeasonSelector:  config.SeasonSelector{Mode: "round", Group: "round"},
		EpisodeSelector: config.EpisodeSelector{Group: "session", AllowFallbackToTitle: true},
		Priority:        50,
	}
	sport := testSport(pattern)
	m := newTestMatcher(t)
	patterns := mustCompile(t, sport)

	// The session capture lands on the quality tag, so resolution has to come
	// from the away/home combinations. The filename lists lions at bears; the
	// catalog titles the matchup home-first.
	outcome := m.Match("2024.lions.at.bears.720p.mkv", sport, show, patterns)
	if outcome.Match == nil {
		t.Fatalf("no match; diagnostics: %+v", outcome.Diagnostics)
	}
	if outcome.Match.Episode.Title != "Bears vs Lions" {
		t.Errorf("episode = %q, want Bears vs Lions", outcome.Match.Episode.Title)
	}
}

func TestMatchFallbackToTitle(t *testing.T) {
	pattern := config.Pattern{
		Regex:           `(?P<round>\d+)[._-]+(?P<rest>.+)\.mkv`,
		SeasonSelector:  config.SeasonSelector{Mode: "round", Group: "round"},
		EpisodeSelector: config.EpisodeSelector{Group: "session", AllowFallbackToTitle: true},
		Priority:        50,
	}
	sport := testSport(pattern)
	m := newTestMatcher(t)
	patterns := mustCompile(t, sport)

	outcome := m.Match("01.free.practice.1.1080p.mkv", sport, testShow(), patterns)
	if outcome.Match == nil {
		t.Fatalf("fallback did not resolve; diagnostics: %+v", outcome.Diagnostics)
	}
	if outcome.Match.Episode.Title != "Free Practice 1" {
		t.Errorf("episode = %q, want Free Practice 1", outcome.Match.Episode.Title)
	}
}

func TestMatchPatternSessionAliasesFillGaps(t *testing.T) {
	pattern := roundSessionPattern(50)
	pattern.SessionAliases = map[string][]string{
		"Race": {"grandprix"},
		// An alias colliding with an episode title must not shadow it.
		"Free Practice 1": {"quali"},
	}
	sport := testSport(pattern)
	m := newTestMatcher(t)
	patterns := mustCompile(t, sport)
	show := testShow()

	viaPatternAlias := m.Match("01.grandprix.mkv", sport, show, patterns)
	if viaPatternAlias.Match == nil || viaPatternAlias.Match.Episode.Title != "Race" {
		t.Fatalf("pattern alias failed: %+v", viaPatternAlias.Match)
	}

	// "quali" is already an episode alias for Qualifying; episode entries win.
	viaEpisodeAlias := m.Match("01.quali.mkv", sport, show, patterns)
	if viaEpisodeAlias.Match == nil || viaEpisodeAlias.Match.Episode.Title != "Qualifying" {
		t.Fatalf("episode alias shadowed: %+v", viaEpisodeAlias.Match)
	}
}

func TestMatchDeterministic(t *testing.T) {
	sport := testSport(roundSessionPattern(50))
	m := newTestMatcher(t)
	patterns := mustCompile(t, sport)
	show := testShow()

	first := m.Match("01.fp1.release.mkv", sport, show, patterns)
	second := m.Match("01.fp1.release.mkv", sport, show, patterns)

	if first.Match.Episode != second.Match.Episode {
		t.Error("episodes differ between identical calls")
	}
	if !reflect.DeepEqual(first.Diagnostics, second.Diagnostics) {
		t.Error("diagnostics differ between identical calls")
	}
	if !reflect.DeepEqual(first.Trace, second.Trace) {
		t.Error("traces differ between identical calls")
	}
}

func TestMatchNoPatterns(t *testing.T) {
	sport := testSport()
	m := newTestMatcher(t)

	outcome := m.Match("01.fp1.mkv", sport, testShow(), nil)
	if outcome.Match != nil {
		t.Fatal("match without patterns")
	}
	if outcome.Trace.Status != "no-match" {
		t.Errorf("trace status = %q, want no-match", outcome.Trace.Status)
	}
}

func TestSelectSeasonRoundPositionalFallback(t *testing.T) {
	show := &metadata.Show{
		Key: "cycling",
		Seasons: []metadata.Season{
			{Key: "opening", Title: "Opening Weekend", Index: 1},
			{Key: "cobbles", Title: "Cobbled Classics", Index: 2},
		},
	}
	m := newTestMatcher(t)
	caps := &captures{values: map[string]string{"round": "2"}, order: []string{"round"}}

	season := m.selectSeason(show, config.SeasonSelector{Mode: "round", Group: "round"}, caps)
	if season == nil || season.Key != "cobbles" {
		t.Fatalf("positional fallback season = %v", season)
	}

	caps = &captures{values: map[string]string{"round": "3"}, order: []string{"round"}}
	if season := m.selectSeason(show, config.SeasonSelector{Mode: "round", Group: "round"}, caps); season != nil {
		t.Errorf("out-of-range round resolved to %q", season.Key)
	}
}

func TestSelectSeasonModes(t *testing.T) {
	m := newTestMatcher(t)
	show := testShow()

	tests := []struct {
		name     string
		selector config.SeasonSelector
		caps     map[string]string
		expected string // season key, "" for nil
	}{
		{"round exact", config.SeasonSelector{Mode: "round", Group: "round"}, map[string]string{"round": "2"}, "02"},
		{"round offset", config.SeasonSelector{Mode: "round", Group: "round", Offset: 1}, map[string]string{"round": "1"}, "02"},
		{"round unknown", config.SeasonSelector{Mode: "round", Group: "round"}, map[string]string{"round": "9"}, ""},
		{"sequential", config.SeasonSelector{Mode: "sequential", Group: "season"}, map[string]string{"season": "2"}, "02"},
		{"key exact", config.SeasonSelector{Mode: "key", Group: "season"}, map[string]string{"season": "01"}, "01"},
		{"key mapping", config.SeasonSelector{Mode: "key", Group: "season", Mapping: map[string]int{"saudi": 2}}, map[string]string{"season": "saudi"}, "02"},
		{"title exact", config.SeasonSelector{Mode: "title", Group: "season"}, map[string]string{"season": "01 Bahrain Grand Prix"}, "01"},
		{"title substring", config.SeasonSelector{Mode: "title", Group: "season"}, map[string]string{"season": "bahrain grand prix"}, "01"},
		{"title alias", config.SeasonSelector{Mode: "title", Group: "season", Aliases: map[string]string{"sakhir": "01 Bahrain Grand Prix"}}, map[string]string{"season": "Sakhir"}, "01"},
		{"title mapping", config.SeasonSelector{Mode: "title", Group: "season", Mapping: map[string]int{"jeddah": 2}}, map[string]string{"season": "jeddah"}, "02"},
		{"unknown mode", config.SeasonSelector{Mode: "mystery", Group: "season"}, map[string]string{"season": "01"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caps := &captures{values: tt.caps}
			for name := range tt.caps {
				caps.order = append(caps.order, name)
			}
			season := m.selectSeason(show, tt.selector, caps)
			if tt.expected == "" {
				if season != nil {
					t.Errorf("season = %q, want none", season.Key)
				}
				return
			}
			if season == nil || season.Key != tt.expected {
				t.Errorf("season = %v, want key %q", season, tt.expected)
			}
		})
	}
}
