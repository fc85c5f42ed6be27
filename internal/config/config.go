// Package config loads the YAML configuration: global settings, named
// pattern sets, and per-sport definitions with variant expansion. Regex
// token problems are fatal here so a broken pattern never silently drops out
// of a run.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"playdeck/internal/fuzzy"
	"playdeck/internal/metadata"
)

//go:embed pattern_sets.yaml
var builtinPatternSetsYAML []byte

var defaultSourceExtensions = []string{".mkv", ".mp4", ".ts", ".m4v", ".avi"}

// Config is the fully resolved configuration for a run.
type Config struct {
	Settings Settings
	Sports   []Sport
}

// EnabledSports returns the sports that participate in processing.
func (c *Config) EnabledSports() []Sport {
	enabled := make([]Sport, 0, len(c.Sports))
	for _, sport := range c.Sports {
		if sport.Enabled {
			enabled = append(enabled, sport)
		}
	}
	return enabled
}

// Settings holds the global knobs shared by every sport.
type Settings struct {
	SourceDir      string
	DestinationDir string
	CacheDir       string
	TraceDir       string
	DryRun         bool
	SkipExisting   bool
	PollInterval   time.Duration
	LinkMode       string
	LogLevel       string
	Destination    DestinationTemplates
	Matching       MatchingSettings
	Notifications  NotificationSettings
	Watcher        WatcherSettings
}

// MatchingSettings selects the similarity backend and its cutoffs.
type MatchingSettings struct {
	Scorer     string
	Thresholds fuzzy.Thresholds
}

// DestinationTemplates are the path templates for linked files.
type DestinationTemplates struct {
	Root      string
	SeasonDir string
	Episode   string
}

// NotificationTarget is one webhook destination for processed-file events.
type NotificationTarget struct {
	Type     string            `yaml:"type"`
	URL      string            `yaml:"url"`
	Username string            `yaml:"username"`
	Headers  map[string]string `yaml:"headers"`
}

type NotificationSettings struct {
	Targets []NotificationTarget
}

// WatcherSettings configures the filesystem watch mode.
type WatcherSettings struct {
	Enabled   bool
	Paths     []string
	Include   []string
	Ignore    []string
	Debounce  time.Duration
	Reconcile time.Duration
}

// Sport is one fully resolved sport: its catalog source and its
// priority-ordered patterns.
type Sport struct {
	ID               string
	Name             string
	Enabled          bool
	Metadata         metadata.Source
	Patterns         []Pattern
	Destination      DestinationTemplates
	SourceGlobs      []string
	SourceExtensions []string
	LinkMode         string
	AllowUnmatched   bool
}

// SeasonSelector decides how a pattern's captures resolve to a season.
type SeasonSelector struct {
	Mode    string
	Group   string
	Offset  int
	Mapping map[string]int
	Aliases map[string]string
}

// EpisodeSelector decides which capture group names the session.
type EpisodeSelector struct {
	Group                string
	AllowFallbackToTitle bool
}

// Pattern is one filename pattern with its fully expanded regex.
type Pattern struct {
	Regex                   string
	Description             string
	SeasonSelector          SeasonSelector
	EpisodeSelector         EpisodeSelector
	SessionAliases          map[string][]string
	FilenameTemplate        string
	SeasonDirTemplate       string
	DestinationRootTemplate string
	Priority                int
}

// Wire shapes. Pointer fields distinguish "absent" from zero values so
// defaults only fill genuinely missing settings.

type settingsSpec struct {
	SourceDir      string            `yaml:"source_dir"`
	DestinationDir string            `yaml:"destination_dir"`
	CacheDir       string            `yaml:"cache_dir"`
	TraceDir       string            `yaml:"trace_dir"`
	DryRun         bool              `yaml:"dry_run"`
	SkipExisting   *bool             `yaml:"skip_existing"`
	PollInterval   int               `yaml:"poll_interval"`
	LinkMode       string            `yaml:"link_mode"`
	LogLevel       string            `yaml:"log_level"`
	Destination    destinationSpec   `yaml:"destination"`
	Matching       matchingSpec      `yaml:"matching"`
	Notifications  notificationsSpec `yaml:"notifications"`
	Watcher        watcherSpec       `yaml:"file_watcher"`
}

type destinationSpec struct {
	Root      string `yaml:"root_template"`
	SeasonDir string `yaml:"season_dir_template"`
	Episode   string `yaml:"episode_template"`
}

type matchingSpec struct {
	Scorer     string   `yaml:"scorer"`
	Accept     *float64 `yaml:"accept"`
	Sequence   *float64 `yaml:"sequence"`
	Similarity *float64 `yaml:"similarity"`
}

type notificationsSpec struct {
	Targets []NotificationTarget `yaml:"targets"`
}

type watcherSpec struct {
	Enabled          bool     `yaml:"enabled"`
	Paths            []string `yaml:"paths"`
	Include          []string `yaml:"include"`
	Ignore           []string `yaml:"ignore"`
	DebounceSeconds  *float64 `yaml:"debounce_seconds"`
	ReconcileSeconds *int     `yaml:"reconcile_interval"`
}

type sportSpec struct {
	ID               string           `yaml:"id"`
	Name             string           `yaml:"name"`
	Enabled          *bool            `yaml:"enabled"`
	Metadata         *metadata.Source `yaml:"metadata"`
	PatternSets      []string         `yaml:"pattern_sets"`
	FilePatterns     []patternSpec    `yaml:"file_patterns"`
	Destination      *destinationSpec `yaml:"destination"`
	SourceGlobs      []string         `yaml:"source_globs"`
	SourceExtensions []string         `yaml:"source_extensions"`
	LinkMode         string           `yaml:"link_mode"`
	AllowUnmatched   bool             `yaml:"allow_unmatched"`
}

type patternSpec struct {
	Regex           string              `yaml:"regex"`
	Description     string              `yaml:"description"`
	SeasonSelector  seasonSelectorSpec  `yaml:"season_selector"`
	EpisodeSelector episodeSelectorSpec `yaml:"episode_selector"`
	SessionAliases  map[string][]string `yaml:"session_aliases"`
	FilenameTmpl    string              `yaml:"filename_template"`
	SeasonDirTmpl   string              `yaml:"season_dir_template"`
	DestRootTmpl    string              `yaml:"destination_root_template"`
	Priority        *int                `yaml:"priority"`
}

type seasonSelectorSpec struct {
	Mode    string            `yaml:"mode"`
	Group   string            `yaml:"group"`
	Offset  int               `yaml:"offset"`
	Mapping map[string]int    `yaml:"mapping"`
	Aliases map[string]string `yaml:"aliases"`
}

type episodeSelectorSpec struct {
	Group                string `yaml:"group"`
	AllowFallbackToTitle *bool  `yaml:"allow_fallback_to_title"`
}

type builtinSpec struct {
	RegexTokens map[string]string      `yaml:"regex_tokens"`
	PatternSets map[string][]yaml.Node `yaml:"pattern_sets"`
}

type documentSpec struct {
	Settings    yaml.Node              `yaml:"settings"`
	RegexTokens map[string]string      `yaml:"regex_tokens"`
	PatternSets map[string][]yaml.Node `yaml:"pattern_sets"`
	Sports      []yaml.Node            `yaml:"sports"`
}

// Load reads, expands, and validates the configuration at path. Environment
// variables in the file are expanded before parsing.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse([]byte(os.ExpandEnv(string(raw))))
}

// Parse builds a Config from raw YAML bytes.
func Parse(raw []byte) (*Config, error) {
	var doc documentSpec
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	var builtin builtinSpec
	if err := yaml.Unmarshal(builtinPatternSetsYAML, &builtin); err != nil {
		return nil, fmt.Errorf("parse builtin pattern sets: %w", err)
	}

	tokens := make(map[string]string, len(builtin.RegexTokens)+len(doc.RegexTokens))
	for name, fragment := range builtin.RegexTokens {
		tokens[name] = fragment
	}
	for name, fragment := range doc.RegexTokens {
		tokens[name] = fragment
	}
	expander := NewTokenExpander(tokens)

	patternSets := make(map[string][]yaml.Node, len(builtin.PatternSets)+len(doc.PatternSets))
	for name, patterns := range builtin.PatternSets {
		patternSets[name] = patterns
	}
	for name, patterns := range doc.PatternSets {
		patternSets[name] = patterns
	}

	settings, err := buildSettings(doc.Settings)
	if err != nil {
		return nil, err
	}

	var sports []Sport
	seen := make(map[string]bool)
	for _, sportNode := range doc.Sports {
		var generic map[string]any
		if err := sportNode.Decode(&generic); err != nil {
			return nil, fmt.Errorf("parse sport entry: %w", err)
		}
		for _, variant := range expandVariants(generic) {
			sport, err := buildSport(variant, settings, patternSets, expander)
			if err != nil {
				return nil, err
			}
			if seen[sport.ID] {
				return nil, fmt.Errorf("duplicate sport id %q", sport.ID)
			}
			seen[sport.ID] = true
			sports = append(sports, sport)
		}
	}

	return &Config{Settings: settings, Sports: sports}, nil
}

func buildSettings(node yaml.Node) (Settings, error) {
	var spec settingsSpec
	if node.Kind != 0 {
		if err := node.Decode(&spec); err != nil {
			return Settings{}, fmt.Errorf("parse settings: %w", err)
		}
	}

	settings := Settings{
		SourceDir:      stringDefault(spec.SourceDir, "/data/source"),
		DestinationDir: stringDefault(spec.DestinationDir, "/data/destination"),
		CacheDir:       stringDefault(spec.CacheDir, "/data/cache"),
		TraceDir:       spec.TraceDir,
		DryRun:         spec.DryRun,
		SkipExisting:   boolDefault(spec.SkipExisting, true),
		PollInterval:   time.Duration(spec.PollInterval) * time.Second,
		LinkMode:       stringDefault(spec.LinkMode, "hardlink"),
		LogLevel:       stringDefault(spec.LogLevel, "info"),
		Destination:    buildDestination(spec.Destination, defaultDestination()),
		Notifications:  NotificationSettings{Targets: spec.Notifications.Targets},
	}

	if err := validateLinkMode(settings.LinkMode); err != nil {
		return Settings{}, err
	}

	thresholds := fuzzy.DefaultThresholds()
	if spec.Matching.Accept != nil {
		thresholds.Accept = *spec.Matching.Accept
	}
	if spec.Matching.Sequence != nil {
		thresholds.Sequence = *spec.Matching.Sequence
	}
	if spec.Matching.Similarity != nil {
		thresholds.Similarity = *spec.Matching.Similarity
	}
	settings.Matching = MatchingSettings{Scorer: spec.Matching.Scorer, Thresholds: thresholds}
	if _, err := fuzzy.NewScorer(settings.Matching.Scorer); err != nil {
		return Settings{}, err
	}

	debounce := 5.0
	if spec.Watcher.DebounceSeconds != nil {
		debounce = *spec.Watcher.DebounceSeconds
	}
	if debounce < 0 {
		return Settings{}, fmt.Errorf("file_watcher.debounce_seconds must not be negative")
	}
	reconcile := 900
	if spec.Watcher.ReconcileSeconds != nil {
		reconcile = *spec.Watcher.ReconcileSeconds
	}
	if reconcile < 0 {
		return Settings{}, fmt.Errorf("file_watcher.reconcile_interval must not be negative")
	}
	settings.Watcher = WatcherSettings{
		Enabled:   spec.Watcher.Enabled,
		Paths:     spec.Watcher.Paths,
		Include:   spec.Watcher.Include,
		Ignore:    spec.Watcher.Ignore,
		Debounce:  time.Duration(debounce * float64(time.Second)),
		Reconcile: time.Duration(reconcile) * time.Second,
	}

	return settings, nil
}

func buildSport(generic map[string]any, settings Settings, patternSets map[string][]yaml.Node, expander *TokenExpander) (Sport, error) {
	var spec sportSpec
	if err := decodeInto(generic, &spec); err != nil {
		return Sport{}, fmt.Errorf("parse sport %q: %w", fmt.Sprint(generic["id"]), err)
	}
	if spec.ID == "" {
		return Sport{}, fmt.Errorf("sport entry is missing an id")
	}
	if spec.Metadata == nil || spec.Metadata.URL == "" {
		return Sport{}, fmt.Errorf("sport %q is missing its metadata url", spec.ID)
	}

	var patternNodes []yaml.Node
	for _, setName := range spec.PatternSets {
		patterns, ok := patternSets[setName]
		if !ok {
			return Sport{}, fmt.Errorf("sport %q references unknown pattern set %q", spec.ID, setName)
		}
		patternNodes = append(patternNodes, patterns...)
	}

	var specs []patternSpec
	for _, node := range patternNodes {
		var ps patternSpec
		if err := node.Decode(&ps); err != nil {
			return Sport{}, fmt.Errorf("sport %q: parse pattern: %w", spec.ID, err)
		}
		specs = append(specs, ps)
	}
	specs = append(specs, spec.FilePatterns...)

	patterns := make([]Pattern, 0, len(specs))
	seenRegex := make(map[string]bool, len(specs))
	for _, ps := range specs {
		pattern, err := buildPattern(ps, expander)
		if err != nil {
			return Sport{}, fmt.Errorf("sport %q: %w", spec.ID, err)
		}
		if seenRegex[pattern.Regex] {
			continue
		}
		seenRegex[pattern.Regex] = true
		patterns = append(patterns, pattern)
	}
	sort.SliceStable(patterns, func(a, b int) bool {
		return patterns[a].Priority < patterns[b].Priority
	})

	linkMode := stringDefault(spec.LinkMode, settings.LinkMode)
	if err := validateLinkMode(linkMode); err != nil {
		return Sport{}, fmt.Errorf("sport %q: %w", spec.ID, err)
	}

	destination := settings.Destination
	if spec.Destination != nil {
		destination = buildDestination(*spec.Destination, settings.Destination)
	}

	extensions := spec.SourceExtensions
	if len(extensions) == 0 {
		extensions = defaultSourceExtensions
	}

	return Sport{
		ID:               spec.ID,
		Name:             stringDefault(spec.Name, spec.ID),
		Enabled:          boolDefault(spec.Enabled, true),
		Metadata:         *spec.Metadata,
		Patterns:         patterns,
		Destination:      destination,
		SourceGlobs:      spec.SourceGlobs,
		SourceExtensions: extensions,
		LinkMode:         linkMode,
		AllowUnmatched:   spec.AllowUnmatched,
	}, nil
}

func buildPattern(spec patternSpec, expander *TokenExpander) (Pattern, error) {
	if spec.Regex == "" {
		return Pattern{}, fmt.Errorf("pattern %q has no regex", spec.Description)
	}
	expanded, err := expander.ExpandPattern(spec.Regex)
	if err != nil {
		return Pattern{}, err
	}

	priority := 100
	if spec.Priority != nil {
		priority = *spec.Priority
	}

	return Pattern{
		Regex:       expanded,
		Description: spec.Description,
		SeasonSelector: SeasonSelector{
			Mode:    stringDefault(spec.SeasonSelector.Mode, "round"),
			Group:   spec.SeasonSelector.Group,
			Offset:  spec.SeasonSelector.Offset,
			Mapping: spec.SeasonSelector.Mapping,
			Aliases: spec.SeasonSelector.Aliases,
		},
		EpisodeSelector: EpisodeSelector{
			Group:                stringDefault(spec.EpisodeSelector.Group, "session"),
			AllowFallbackToTitle: boolDefault(spec.EpisodeSelector.AllowFallbackToTitle, true),
		},
		SessionAliases:          spec.SessionAliases,
		FilenameTemplate:        spec.FilenameTmpl,
		SeasonDirTemplate:       spec.SeasonDirTmpl,
		DestinationRootTemplate: spec.DestRootTmpl,
		Priority:                priority,
	}, nil
}

// expandVariants multiplies a sport entry carrying a `variants:` list into
// one entry per variant, deep-merging each variant over the base.
func expandVariants(sport map[string]any) []map[string]any {
	variantsRaw, ok := sport["variants"].([]any)
	if !ok || len(variantsRaw) == 0 {
		return []map[string]any{sport}
	}

	base := make(map[string]any, len(sport))
	for key, value := range sport {
		if key != "variants" {
			base[key] = value
		}
	}
	baseID, _ := base["id"].(string)
	baseName, _ := base["name"].(string)
	if baseName == "" {
		baseName = baseID
	}

	expanded := make([]map[string]any, 0, len(variantsRaw))
	for _, raw := range variantsRaw {
		variant, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		overlay := make(map[string]any, len(variant))
		for key, value := range variant {
			if key != "id_suffix" && key != "year" {
				overlay[key] = value
			}
		}
		combined := deepMerge(deepCopy(base), overlay)

		suffix := variant["id_suffix"]
		if suffix == nil {
			suffix = variant["year"]
		}
		if id, ok := variant["id"].(string); ok && id != "" {
			combined["id"] = id
		} else if suffix != nil {
			combined["id"] = fmt.Sprintf("%s_%v", baseID, suffix)
		}

		if name, ok := combined["name"].(string); !ok || name == "" {
			if year := variant["year"]; year != nil {
				combined["name"] = fmt.Sprintf("%s %v", baseName, year)
			} else if suffix != nil {
				combined["name"] = fmt.Sprintf("%s %v", baseName, suffix)
			} else {
				combined["name"] = baseName
			}
		}

		delete(combined, "variants")
		expanded = append(expanded, combined)
	}
	return expanded
}

func deepMerge(target, overlay map[string]any) map[string]any {
	for key, value := range overlay {
		if overlayMap, ok := value.(map[string]any); ok {
			if existing, ok := target[key].(map[string]any); ok {
				target[key] = deepMerge(existing, overlayMap)
				continue
			}
		}
		target[key] = deepCopyValue(value)
	}
	return target
}

func deepCopy(source map[string]any) map[string]any {
	out := make(map[string]any, len(source))
	for key, value := range source {
		out[key] = deepCopyValue(value)
	}
	return out
}

func deepCopyValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return deepCopy(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}

func decodeInto(value any, target any) error {
	data, err := yaml.Marshal(value)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, target)
}

func buildDestination(spec destinationSpec, defaults DestinationTemplates) DestinationTemplates {
	return DestinationTemplates{
		Root:      stringDefault(spec.Root, defaults.Root),
		SeasonDir: stringDefault(spec.SeasonDir, defaults.SeasonDir),
		Episode:   stringDefault(spec.Episode, defaults.Episode),
	}
}

func defaultDestination() DestinationTemplates {
	return DestinationTemplates{
		Root:      "{show_title}",
		SeasonDir: "{season_number:02d} {season_title}",
		Episode:   "{show_title} - S{season_number:02d}E{episode_number:02d} - {episode_title}.{extension}",
	}
}

func validateLinkMode(mode string) error {
	switch mode {
	case "hardlink", "copy", "symlink":
		return nil
	default:
		return fmt.Errorf("unknown link_mode %q (want hardlink, copy or symlink)", mode)
	}
}

func stringDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func boolDefault(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}
