// Package processor drives a full classification run: load catalogs, diff
// their fingerprints, invalidate stale cache entries, then walk the source
// tree and link every file the matcher can attribute to an episode.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"playdeck/internal/cache"
	"playdeck/internal/config"
	"playdeck/internal/fuzzy"
	"playdeck/internal/matcher"
	"playdeck/internal/metadata"
	"playdeck/internal/normalize"
	"playdeck/internal/notify"
)

var (
	sampleNameRegex = regexp.MustCompile(`(?:^|[^a-z0-9])sample(?:[^a-z0-9]|$)`)
	showYearRegex   = regexp.MustCompile(`\d{4}`)
)

// Processor owns the per-run state: caches, the catalog loader, the matcher,
// and the notification fan-out.
type Processor struct {
	cfg          *config.Config
	log          zerolog.Logger
	processed    *cache.ProcessedFileCache
	fingerprints *metadata.Store
	loader       *metadata.Loader
	matcher      *matcher.Matcher
	notifier     *notify.Service

	// Destinations of records invalidated by a metadata change this run,
	// removed once their source is relinked or confirmed gone.
	staleDestinations map[string]string
	staleRecords      map[string]cache.Record
}

func New(cfg *config.Config, log zerolog.Logger) (*Processor, error) {
	scorer, err := fuzzy.NewScorer(cfg.Settings.Matching.Scorer)
	if err != nil {
		return nil, err
	}

	settings := cfg.Settings
	if !settings.DryRun {
		for _, dir := range []string{settings.DestinationDir, settings.CacheDir} {
			if dir == "" {
				continue
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create %s: %w", dir, err)
			}
		}
	}

	return &Processor{
		cfg:          cfg,
		log:          log,
		processed:    cache.NewProcessedFileCache(settings.CacheDir, log),
		fingerprints: metadata.NewStore(filepath.Join(settings.CacheDir, "state", "metadata-fingerprints.json"), log),
		loader:       metadata.NewLoader(settings.CacheDir, settings.DryRun, log),
		matcher:      matcher.New(scorer, settings.Matching.Thresholds, log),
		notifier:     notify.NewService(settings.Notifications.Targets, log),
	}, nil
}

// ClearProcessedCache forgets every processed-file record so the next run
// relinks everything.
func (p *Processor) ClearProcessedCache() error {
	if p.cfg.Settings.DryRun {
		p.log.Debug().Msg("dry run, skipping processed cache clear")
		return nil
	}
	p.processed.Clear()
	return p.processed.Save()
}

type sportRuntime struct {
	sport      *config.Sport
	show       *metadata.Show
	patterns   []matcher.CompiledPattern
	extensions map[string]bool
}

// loadSports fetches every enabled sport's catalog in parallel, compiles its
// patterns, and records fingerprint changes. A sport that fails to load or
// compile is skipped for this run; the others proceed.
func (p *Processor) loadSports(ctx context.Context) ([]sportRuntime, map[string]metadata.ChangeResult) {
	changes := make(map[string]metadata.ChangeResult)
	enabled := p.cfg.EnabledSports()
	if len(enabled) == 0 {
		return nil, changes
	}

	sources := make(map[string]metadata.Source, len(enabled))
	for _, sport := range enabled {
		sources[sport.ID] = sport.Metadata
	}
	results := p.loader.LoadShows(ctx, sources)

	runtimes := make([]sportRuntime, 0, len(enabled))
	for i := range enabled {
		sport := &enabled[i]
		result := results[sport.ID]
		if result.Err != nil {
			p.log.Error().Err(result.Err).Str("sport", sport.ID).Msg("failed to load catalog")
			continue
		}

		patterns, err := matcher.CompilePatterns(sport)
		if err != nil {
			p.log.Error().Err(err).Str("sport", sport.ID).Msg("failed to compile patterns")
			continue
		}

		extensions := make(map[string]bool, len(sport.SourceExtensions))
		for _, ext := range sport.SourceExtensions {
			extensions[strings.ToLower(ext)] = true
		}

		fingerprint, err := metadata.Compute(result.Show, sport.Metadata.SeasonOverrides)
		if err != nil {
			p.log.Warn().Err(err).Str("sport", sport.ID).Msg("failed to compute catalog fingerprint")
		} else {
			change := p.fingerprints.Update(sport.ID, fingerprint)
			if change.Updated {
				changes[sport.ID] = change
			}
		}

		runtimes = append(runtimes, sportRuntime{
			sport:      sport,
			show:       result.Show,
			patterns:   patterns,
			extensions: extensions,
		})
	}
	return runtimes, changes
}

// RunOnce performs a complete pass over the source tree.
func (p *Processor) RunOnce(ctx context.Context) *Stats {
	p.processed.PruneMissingSources()
	runtimes, changes := p.loadSports(ctx)

	p.staleDestinations = make(map[string]string)
	p.staleRecords = make(map[string]cache.Record)
	if len(changes) > 0 {
		labels := make([]string, 0, len(changes))
		for sportID := range changes {
			labels = append(labels, sportID)
		}
		p.log.Info().Strs("sports", labels).Msg("catalog metadata updated")

		removed := p.processed.RemoveByMetadataChanges(changes)
		for source, record := range removed {
			p.staleRecords[source] = record
			if record.Destination != "" {
				p.staleDestinations[source] = record.Destination
			}
		}
	}

	stats := &Stats{}
	defer func() {
		if p.cfg.Settings.DryRun {
			return
		}
		if err := p.processed.Save(); err != nil {
			p.log.Error().Err(err).Msg("failed to save processed cache")
		}
		if err := p.fingerprints.Save(); err != nil {
			p.log.Error().Err(err).Msg("failed to save fingerprint store")
		}
	}()

	sourceFiles := p.gatherSourceFiles(stats)
	pending := sourceFiles[:0]
	skippedByCache := 0
	for _, path := range sourceFiles {
		if p.processed.IsProcessed(path) {
			skippedByCache++
			continue
		}
		pending = append(pending, path)
	}
	p.log.Debug().
		Int("candidates", len(pending)).
		Int("cached", skippedByCache).
		Msg("discovered source files")

	for _, path := range pending {
		if ctx.Err() != nil {
			break
		}
		handled, diagnostics := p.processFile(ctx, path, runtimes, stats)
		if handled {
			continue
		}
		if sampleNameRegex.MatchString(strings.ToLower(filepath.Base(path))) {
			stats.RegisterSuppressedSample()
			continue
		}
		stats.RegisterIgnored(formatIgnoredDetail(path, diagnostics))
	}

	if stats.HasActivity() {
		p.log.Info().
			Int("processed", stats.Processed).
			Int("skipped", stats.Skipped).
			Int("ignored", stats.Ignored).
			Msg("run summary")
	}
	for _, detail := range stats.Errors {
		p.log.Error().Msg(detail)
	}
	return stats
}

func (p *Processor) gatherSourceFiles(stats *Stats) []string {
	root := p.cfg.Settings.SourceDir
	if _, err := os.Stat(root); err != nil {
		p.log.Warn().Str("path", root).Msg("source directory missing")
		stats.RegisterWarning(fmt.Sprintf("source directory missing: %s", root))
		return nil
	}

	var files []string
	walkErr := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			p.log.Warn().Err(err).Str("path", path).Msg("source walk error")
			return nil
		}
		if entry.IsDir() {
			return nil
		}
		if entry.Type()&fs.ModeSymlink != 0 {
			p.log.Debug().Str("source", path).Msg("skipping symlinked source")
			return nil
		}
		name := entry.Name()
		// macOS resource forks.
		if strings.HasPrefix(name, "._") && len(name) > 2 {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if walkErr != nil {
		stats.RegisterWarning(fmt.Sprintf("source walk failed: %v", walkErr))
	}
	return files
}

type taggedDiagnostic struct {
	severity matcher.Severity
	message  string
}

// processFile offers the file to every sport accepting its extension, in
// configuration order, and handles the first resolved match.
func (p *Processor) processFile(ctx context.Context, sourcePath string, runtimes []sportRuntime, stats *Stats) (bool, []taggedDiagnostic) {
	suffix := strings.ToLower(filepath.Ext(sourcePath))
	basename := filepath.Base(sourcePath)

	var candidates []*sportRuntime
	for i := range runtimes {
		if runtimes[i].extensions[suffix] {
			candidates = append(candidates, &runtimes[i])
		}
	}
	if len(candidates) == 0 {
		return false, []taggedDiagnostic{{
			severity: matcher.SeverityIgnored,
			message:  fmt.Sprintf("no configured sport accepts extension %q", suffix),
		}}
	}

	var collected []taggedDiagnostic
	for _, runtime := range candidates {
		if !matchesGlobs(basename, runtime.sport.SourceGlobs) {
			collected = append(collected, taggedDiagnostic{
				severity: matcher.SeverityIgnored,
				message:  fmt.Sprintf("%s: excluded by source globs %v", runtime.sport.ID, runtime.sport.SourceGlobs),
			})
			continue
		}

		outcome := p.matcher.Match(basename, runtime.sport, runtime.show, runtime.patterns)
		if outcome.Match == nil {
			for _, diag := range outcome.Diagnostics {
				collected = append(collected, taggedDiagnostic{
					severity: diag.Severity,
					message:  fmt.Sprintf("%s: %s", runtime.sport.ID, diag.Message),
				})
				switch diag.Severity {
				case matcher.SeverityWarning:
					stats.RegisterWarning(fmt.Sprintf("%s: %s: %s", basename, runtime.sport.ID, diag.Message))
				case matcher.SeverityError:
					stats.RegisterError(fmt.Sprintf("%s: %s: %s", basename, runtime.sport.ID, diag.Message))
				}
			}
			p.persistTrace(runtime, sourcePath, outcome, "")
			continue
		}

		match := outcome.Match
		context := p.buildContext(runtime, sourcePath, match)
		destination, err := p.buildDestination(runtime, match.Pattern, context)
		if err != nil {
			message := fmt.Sprintf("%s: unsafe destination for %s: %v", runtime.sport.ID, basename, err)
			p.log.Error().Str("source", sourcePath).Str("sport", runtime.sport.ID).Err(err).Msg("unsafe destination")
			stats.RegisterSkipped(message, true)
			p.persistTrace(runtime, sourcePath, outcome, "")
			return false, []taggedDiagnostic{{severity: matcher.SeverityError, message: message}}
		}

		event := p.handleMatch(runtime, sourcePath, destination, match, context, stats)
		if tracePath := p.persistTrace(runtime, sourcePath, outcome, destination); tracePath != "" {
			event.TracePath = tracePath
		}
		p.notifier.Notify(ctx, event)
		return true, nil
	}
	return false, collected
}

func matchesGlobs(basename string, globs []string) bool {
	if len(globs) == 0 {
		return true
	}
	for _, glob := range globs {
		if ok, err := filepath.Match(glob, basename); err == nil && ok {
			return true
		}
	}
	return false
}

// handleMatch links one resolved file and returns the notification event
// describing what happened.
func (p *Processor) handleMatch(runtime *sportRuntime, sourcePath, destination string, match *matcher.Match, context map[string]any, stats *Stats) notify.Event {
	settings := p.cfg.Settings
	linkMode := runtime.sport.LinkMode
	if linkMode == "" {
		linkMode = settings.LinkMode
	}

	oldDestination := p.staleDestinations[sourcePath]
	staleRecord, hasStale := p.staleRecords[sourcePath]

	checksum, err := fileChecksum(sourcePath)
	if err != nil {
		p.log.Debug().Err(err).Str("source", sourcePath).Msg("failed to hash source")
	}
	storedChecksum := p.processed.Checksum(sourcePath)
	previousChecksum := storedChecksum
	if previousChecksum == "" && hasStale {
		previousChecksum = staleRecord.Checksum
	}
	previouslySeen := storedChecksum != "" || hasStale
	contentChanged := previouslySeen && checksum != "" && previousChecksum != "" && checksum != previousChecksum

	eventType := "new"
	if previouslySeen {
		eventType = "refresh"
		if contentChanged {
			eventType = "changed"
		}
	}

	record := cache.Record{
		Checksum:    checksum,
		Destination: destination,
		SportID:     runtime.sport.ID,
		SeasonKey:   seasonCacheKey(match.Season),
		EpisodeKey:  match.Episode.IdentityKey(),
	}

	event := notify.Event{
		SportID:     runtime.sport.ID,
		SportName:   runtime.sport.Name,
		ShowTitle:   runtime.show.Title,
		Season:      match.Season.Title,
		Session:     sessionLabel(match),
		Episode:     match.Episode.Title,
		Summary:     match.Episode.Summary,
		Destination: p.relativeDestination(destination),
		Source:      filepath.Base(sourcePath),
		Action:      "link",
		LinkMode:    linkMode,
		EventType:   eventType,
		Timestamp:   time.Now().UTC(),
	}

	replaceExisting := false
	if _, statErr := os.Lstat(destination); statErr == nil && settings.SkipExisting {
		if p.shouldOverwriteExisting(sourcePath, match, context) {
			replaceExisting = true
		} else {
			p.log.Debug().Str("destination", destination).Str("source", sourcePath).Msg("skipping existing destination")
			p.cleanupOldDestination(sourcePath, oldDestination, destination)
			message := fmt.Sprintf("destination exists: %s (source %s)", destination, sourcePath)
			stats.RegisterSkipped(message, false)
			if !settings.DryRun {
				p.processed.MarkProcessed(sourcePath, record)
			}
			event.Action = "skipped"
			event.SkipReason = message
			event.EventType = "skipped"
			return event
		}
	}

	if replaceExisting && !settings.DryRun {
		if err := os.Remove(destination); err != nil {
			message := fmt.Sprintf("failed to replace destination %s: %v", destination, err)
			p.log.Error().Err(err).Str("destination", destination).Msg("failed to remove destination")
			stats.RegisterSkipped(message, true)
			event.Action = "error"
			event.SkipReason = message
			event.EventType = "error"
			return event
		}
	}

	p.log.Info().
		Str("sport", runtime.sport.ID).
		Str("season", match.Season.Title).
		Str("episode", match.Episode.Title).
		Str("destination", event.Destination).
		Str("source", event.Source).
		Bool("replace", replaceExisting).
		Msg("processed")

	if settings.DryRun {
		stats.RegisterProcessed()
		event.Action = "dry-run"
		event.EventType = "dry-run"
		event.Replaced = replaceExisting
		return event
	}

	result := linkFile(sourcePath, destination, linkMode)
	if result.Created {
		stats.RegisterProcessed()
		p.processed.MarkProcessed(sourcePath, record)
		p.cleanupOldDestination(sourcePath, oldDestination, destination)
		event.Action = linkMode
		event.Replaced = replaceExisting
		return event
	}

	message := fmt.Sprintf("failed to link %s -> %s: %s", sourcePath, destination, result.Reason)
	stats.RegisterSkipped(message, false)
	if result.Reason == "destination-exists" {
		p.processed.MarkProcessed(sourcePath, record)
		p.cleanupOldDestination(sourcePath, oldDestination, destination)
		event.Action = "skipped"
		event.SkipReason = message
		event.EventType = "skipped"
		return event
	}
	event.Action = "error"
	event.SkipReason = message
	event.EventType = "error"
	return event
}

// cleanupOldDestination removes a destination invalidated by a metadata
// change once its source has been relinked elsewhere.
func (p *Processor) cleanupOldDestination(sourcePath, oldDestination, newDestination string) {
	delete(p.staleRecords, sourcePath)
	defer delete(p.staleDestinations, sourcePath)

	if oldDestination == "" || oldDestination == newDestination {
		return
	}
	info, err := os.Lstat(oldDestination)
	if err != nil || info.IsDir() {
		return
	}
	if p.cfg.Settings.DryRun {
		p.log.Debug().Str("destination", oldDestination).Msg("dry run, would remove obsolete destination")
		return
	}
	if err := os.Remove(oldDestination); err != nil {
		p.log.Warn().Err(err).Str("destination", oldDestination).Msg("failed to remove obsolete destination")
		return
	}
	p.log.Info().
		Str("removed", p.relativeDestination(oldDestination)).
		Str("replaced_with", p.relativeDestination(newDestination)).
		Msg("removed obsolete destination")
}

func (p *Processor) buildContext(runtime *sportRuntime, sourcePath string, match *matcher.Match) map[string]any {
	show := runtime.show
	season := match.Season
	episode := match.Episode

	context := make(map[string]any, len(match.Groups)+24)
	for name, value := range match.Groups {
		context[name] = value
	}

	suffix := filepath.Ext(sourcePath)
	basename := filepath.Base(sourcePath)

	context["sport_id"] = runtime.sport.ID
	context["sport_name"] = runtime.sport.Name
	context["show_id"] = show.Key
	context["show_key"] = show.Key
	context["show_title"] = show.Title
	context["season_key"] = season.Key
	context["season_title"] = season.Title
	context["season_index"] = season.Index
	context["season_number"] = season.SeasonNumber()
	context["season_round"] = seasonRound(season)
	context["season_sort_title"] = firstNonEmpty(season.SortTitle, season.Title)
	context["season_slug"] = normalize.Slugify(season.Title, "-")
	context["episode_title"] = episode.Title
	context["episode_index"] = episode.Index
	context["episode_number"] = episode.EpisodeNumber()
	context["episode_summary"] = episode.Summary
	context["episode_slug"] = normalize.Slugify(episode.Title, "-")
	originallyAvailable := ""
	if !episode.OriginallyAvailable.IsZero() {
		originallyAvailable = episode.OriginallyAvailable.Format("2006-01-02")
	}
	context["episode_originally_available"] = originallyAvailable
	context["originally_available"] = originallyAvailable
	context["extension"] = strings.TrimPrefix(suffix, ".")
	context["suffix"] = suffix
	context["source_filename"] = basename
	context["source_stem"] = strings.TrimSuffix(basename, suffix)
	if rel, err := filepath.Rel(p.cfg.Settings.SourceDir, sourcePath); err == nil {
		context["relative_source"] = rel
	}
	if year := showYearRegex.FindString(show.Title); year != "" {
		context["season_year"] = year
	}
	return context
}

// buildDestination renders the template chain (pattern override, sport
// override, global default), sanitizes each component, and refuses any path
// that escapes the destination root.
func (p *Processor) buildDestination(runtime *sportRuntime, pattern *config.Pattern, context map[string]any) (string, error) {
	settings := p.cfg.Settings
	sport := runtime.sport

	rootTemplate := firstNonEmpty(pattern.DestinationRootTemplate, sport.Destination.Root, settings.Destination.Root)
	seasonTemplate := firstNonEmpty(pattern.SeasonDirTemplate, sport.Destination.SeasonDir, settings.Destination.SeasonDir)
	episodeTemplate := firstNonEmpty(pattern.FilenameTemplate, sport.Destination.Episode, settings.Destination.Episode)

	destination := filepath.Join(
		settings.DestinationDir,
		normalize.Component(renderTemplate(rootTemplate, context)),
		normalize.Component(renderTemplate(seasonTemplate, context)),
		normalize.Component(renderTemplate(episodeTemplate, context)),
	)

	base, err := filepath.Abs(settings.DestinationDir)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.Abs(destination)
	if err != nil {
		return "", err
	}
	if resolved != base && !strings.HasPrefix(resolved, base+string(os.PathSeparator)) {
		return "", fmt.Errorf("destination %s escapes %s", resolved, base)
	}
	return destination, nil
}

func (p *Processor) relativeDestination(destination string) string {
	rel, err := filepath.Rel(p.cfg.Settings.DestinationDir, destination)
	if err != nil || strings.HasPrefix(rel, "..") {
		return destination
	}
	return rel
}

// persistTrace writes the per-file match trace as JSON when tracing is
// configured. Returns the trace path, or empty when disabled or failed.
func (p *Processor) persistTrace(runtime *sportRuntime, sourcePath string, outcome matcher.Outcome, destination string) string {
	traceDir := p.cfg.Settings.TraceDir
	if traceDir == "" {
		return ""
	}
	if err := os.MkdirAll(traceDir, 0o755); err != nil {
		p.log.Debug().Err(err).Str("path", traceDir).Msg("failed to create trace dir")
		return ""
	}

	key := sourcePath + "|" + runtime.sport.ID
	tracePath := filepath.Join(traceDir, fmt.Sprintf("%016x.json", xxhash.Sum64String(key)))

	document := map[string]any{
		"source":     sourcePath,
		"sport_id":   runtime.sport.ID,
		"sport_name": runtime.sport.Name,
		"trace":      outcome.Trace,
	}
	if destination != "" {
		document["destination"] = destination
	}

	data, err := json.MarshalIndent(document, "", "  ")
	if err != nil {
		return ""
	}
	if err := os.WriteFile(tracePath, data, 0o644); err != nil {
		p.log.Debug().Err(err).Str("path", tracePath).Msg("failed to write trace")
		return ""
	}
	return tracePath
}

func sessionLabel(match *matcher.Match) string {
	if session, ok := match.Groups["session"]; ok && session != "" {
		return session
	}
	return match.Episode.Title
}

func seasonCacheKey(season *metadata.Season) string {
	if season.Key != "" {
		return season.Key
	}
	if season.DisplayNumber != nil {
		return fmt.Sprintf("display:%d", *season.DisplayNumber)
	}
	return fmt.Sprintf("index:%d", season.Index)
}

func seasonRound(season *metadata.Season) int {
	if season.RoundNumber != nil {
		return *season.RoundNumber
	}
	if season.DisplayNumber != nil {
		return *season.DisplayNumber
	}
	return season.Index
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

func formatIgnoredDetail(sourcePath string, diagnostics []taggedDiagnostic) string {
	basename := filepath.Base(sourcePath)
	if len(diagnostics) == 0 {
		return fmt.Sprintf("%s: ignored with no diagnostics", basename)
	}
	seen := make(map[string]bool)
	parts := make([]string, 0, len(diagnostics))
	for _, diag := range diagnostics {
		text := fmt.Sprintf("[%s] %s", strings.ToUpper(string(diag.severity)), diag.message)
		if seen[text] {
			continue
		}
		seen[text] = true
		parts = append(parts, text)
	}
	return fmt.Sprintf("%s: %s", basename, strings.Join(parts, "; "))
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}
