// Package matcher classifies release filenames against a sport's
// priority-ordered patterns and resolves the captures to a concrete season
// and episode of the sport's catalog. Resolution failures are never fatal;
// they surface as diagnostics on the returned outcome.
package matcher

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"playdeck/internal/config"
	"playdeck/internal/fuzzy"
	"playdeck/internal/metadata"
	"playdeck/internal/normalize"
)

// Severity grades a diagnostic.
type Severity string

const (
	SeverityIgnored Severity = "ignored"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Diagnostic is one human-readable resolution note.
type Diagnostic struct {
	Severity Severity
	Message  string
}

// Match is a successful classification.
type Match struct {
	Season  *metadata.Season
	Episode *metadata.Episode
	Pattern *config.Pattern
	Groups  map[string]string
}

// Outcome is the full result of matching one filename: the match when one
// exists, every diagnostic gathered along the way, and a trace of each
// pattern attempt for offline debugging.
type Outcome struct {
	Match       *Match
	Diagnostics []Diagnostic
	Trace       Trace
}

// Trace records what happened for one filename across all patterns.
type Trace struct {
	Filename        string         `json:"filename"`
	Status          string         `json:"status"`
	MatchedPatterns int            `json:"matched_patterns"`
	Attempts        []TraceAttempt `json:"attempts"`
	Messages        []TraceMessage `json:"messages,omitempty"`
	Result          *TraceResult   `json:"result,omitempty"`
}

type TraceAttempt struct {
	Pattern string            `json:"pattern"`
	Regex   string            `json:"regex"`
	Status  string            `json:"status"`
	Groups  map[string]string `json:"groups,omitempty"`
	Message string            `json:"message,omitempty"`
	Lookups []TraceLookup     `json:"lookups,omitempty"`
}

type TraceLookup struct {
	Label      string `json:"label"`
	Value      string `json:"value"`
	Normalized string `json:"normalized"`
}

type TraceMessage struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

type TraceResult struct {
	SeasonTitle  string `json:"season_title"`
	EpisodeTitle string `json:"episode_title"`
	Pattern      string `json:"pattern"`
}

// CompiledPattern pairs a pattern with its compiled case-insensitive regex.
type CompiledPattern struct {
	Config *config.Pattern
	Regex  *regexp.Regexp
}

// CompilePatterns compiles a sport's patterns once up front. A regex that
// does not compile is a configuration error, not a per-file condition.
func CompilePatterns(sport *config.Sport) ([]CompiledPattern, error) {
	compiled := make([]CompiledPattern, 0, len(sport.Patterns))
	for i := range sport.Patterns {
		pattern := &sport.Patterns[i]
		re, err := regexp.Compile("(?i)" + pattern.Regex)
		if err != nil {
			return nil, fmt.Errorf("sport %q: compile pattern %q: %w", sport.ID, pattern.Regex, err)
		}
		compiled = append(compiled, CompiledPattern{Config: pattern, Regex: re})
	}
	return compiled, nil
}

// captures holds the non-empty named groups of one regex match, keeping the
// group order of the pattern so downstream lookups are deterministic.
type captures struct {
	values map[string]string
	order  []string
}

func (c *captures) get(name string) (string, bool) {
	value, ok := c.values[name]
	return value, ok
}

// joined concatenates every captured value in group order.
func (c *captures) joined() string {
	parts := make([]string, 0, len(c.order))
	for _, name := range c.order {
		parts = append(parts, c.values[name])
	}
	return strings.Join(parts, " ")
}

func (c *captures) summary() string {
	if len(c.values) == 0 {
		return "none"
	}
	names := make([]string, 0, len(c.values))
	for name := range c.values {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%q", name, c.values[name]))
	}
	return strings.Join(parts, ", ")
}

func extractCaptures(re *regexp.Regexp, filename string) *captures {
	indexes := re.FindStringSubmatchIndex(filename)
	if indexes == nil {
		return nil
	}
	caps := &captures{values: make(map[string]string)}
	for i, name := range re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		start, end := indexes[2*i], indexes[2*i+1]
		if start < 0 {
			continue
		}
		if _, exists := caps.values[name]; !exists {
			caps.order = append(caps.order, name)
		}
		caps.values[name] = filename[start:end]
	}
	return caps
}

// Matcher resolves filenames for one run. It holds the similarity backend
// and cutoffs but no per-file state.
type Matcher struct {
	scorer     fuzzy.Scorer
	thresholds fuzzy.Thresholds
	log        zerolog.Logger
}

func New(scorer fuzzy.Scorer, thresholds fuzzy.Thresholds, log zerolog.Logger) *Matcher {
	return &Matcher{scorer: scorer, thresholds: thresholds, log: log}
}

// Match classifies one filename (basename only) against the sport's
// patterns in priority order. The first pattern whose season and episode
// both resolve wins.
func (m *Matcher) Match(filename string, sport *config.Sport, show *metadata.Show, patterns []CompiledPattern) Outcome {
	outcome := Outcome{Trace: Trace{Filename: filename, Status: "no-match"}}
	severity := SeverityWarning
	if sport.AllowUnmatched {
		severity = SeverityIgnored
	}

	record := func(sev Severity, message string) {
		outcome.Diagnostics = append(outcome.Diagnostics, Diagnostic{Severity: sev, Message: message})
		outcome.Trace.Messages = append(outcome.Trace.Messages, TraceMessage{Severity: sev, Message: message})
	}

	var failed []string
	for i := range patterns {
		pattern := &patterns[i]
		descriptor := pattern.Config.Description
		if descriptor == "" {
			descriptor = pattern.Config.Regex
		}

		caps := extractCaptures(pattern.Regex, filename)
		if caps == nil {
			outcome.Trace.Attempts = append(outcome.Trace.Attempts, TraceAttempt{
				Pattern: descriptor,
				Regex:   pattern.Config.Regex,
				Status:  "regex-no-match",
			})
			continue
		}
		outcome.Trace.MatchedPatterns++

		season := m.selectSeason(show, pattern.Config.SeasonSelector, caps)
		if season == nil {
			selector := pattern.Config.SeasonSelector
			selectorGroup := selector.Group
			if selectorGroup == "" {
				selectorGroup = selector.Mode
			}
			value, _ := caps.get(selectorGroup)
			message := fmt.Sprintf(
				"%s: season not resolved (selector mode=%q, group=%q, value=%q, groups=%s)",
				descriptor, selector.Mode, selectorGroup, value, caps.summary(),
			)
			m.log.Debug().Str("file", filename).Str("regex", pattern.Config.Regex).Msg("season not resolved")
			failed = append(failed, message)
			record(severity, message)
			outcome.Trace.Attempts = append(outcome.Trace.Attempts, TraceAttempt{
				Pattern: descriptor,
				Regex:   pattern.Config.Regex,
				Status:  "season-unresolved",
				Groups:  caps.values,
				Message: message,
			})
			continue
		}

		lookup := buildSessionLookup(pattern.Config, season)
		episode, lookups, attempted := m.selectEpisode(pattern.Config, season, lookup, caps)
		if episode == nil {
			selector := pattern.Config.EpisodeSelector
			raw, _ := caps.get(selector.Group)
			message := fmt.Sprintf(
				"%s: episode not resolved (group=%q, raw_value=%q, normalized=%q, season=%q, candidates=%s, groups=%s%s)",
				descriptor, selector.Group, raw, normalize.Token(raw),
				season.Title, summarizeEpisodes(season), caps.summary(), summarizeAttempts(attempted),
			)
			m.log.Debug().
				Str("file", filename).
				Str("season", season.Title).
				Str("regex", pattern.Config.Regex).
				Msg("episode not resolved")
			failed = append(failed, message)
			record(severity, message)
			outcome.Trace.Attempts = append(outcome.Trace.Attempts, TraceAttempt{
				Pattern: descriptor,
				Regex:   pattern.Config.Regex,
				Status:  "episode-unresolved",
				Groups:  caps.values,
				Message: message,
				Lookups: lookups,
			})
			continue
		}

		outcome.Trace.Attempts = append(outcome.Trace.Attempts, TraceAttempt{
			Pattern: descriptor,
			Regex:   pattern.Config.Regex,
			Status:  "matched",
			Groups:  caps.values,
			Lookups: lookups,
		})
		outcome.Trace.Status = "matched"
		outcome.Trace.Result = &TraceResult{
			SeasonTitle:  season.Title,
			EpisodeTitle: episode.Title,
			Pattern:      descriptor,
		}
		outcome.Match = &Match{
			Season:  season,
			Episode: episode,
			Pattern: pattern.Config,
			Groups:  caps.values,
		}
		return outcome
	}

	if len(failed) > 0 {
		message := fmt.Sprintf(
			"matched %d pattern(s) but could not resolve: %s",
			outcome.Trace.MatchedPatterns, strings.Join(failed, "; "),
		)
		record(severity, message)
		outcome.Trace.Status = "unresolved"
	} else {
		record(SeverityIgnored, "did not match any configured patterns")
	}
	return outcome
}

func summarizeEpisodes(season *metadata.Season) string {
	const limit = 5
	titles := make([]string, 0, limit+1)
	for i := range season.Episodes {
		if i == limit {
			titles = append(titles, "...")
			break
		}
		titles = append(titles, season.Episodes[i].Title)
	}
	if len(titles) == 0 {
		return "none"
	}
	return strings.Join(titles, ", ")
}

func summarizeAttempts(attempted []string) string {
	if len(attempted) == 0 {
		return ""
	}
	const limit = 5
	display := attempted
	if len(display) > limit {
		display = append(append([]string{}, display[:limit]...), "...")
	}
	return ", attempted=" + strings.Join(display, "; ")
}
