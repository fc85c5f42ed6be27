package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	defaultTTLHours  = 6
	fetchTimeout     = 30 * time.Second
	fetchAttempts    = 3
	fetchRetryDelay  = 2 * time.Second
	maxLoaderWorkers = 8
)

// Loader fetches catalog documents over HTTP with a TTL file cache, or reads
// them straight from disk when the source is a local path.
type Loader struct {
	client   *http.Client
	cacheDir string
	dryRun   bool
	log      zerolog.Logger
}

func NewLoader(cacheDir string, dryRun bool, log zerolog.Logger) *Loader {
	return &Loader{
		client:   &http.Client{Timeout: fetchTimeout},
		cacheDir: cacheDir,
		dryRun:   dryRun,
		log:      log,
	}
}

// Show fetches and normalizes one sport's catalog.
func (l *Loader) Show(ctx context.Context, source Source) (*Show, error) {
	raw, err := l.Fetch(ctx, source)
	if err != nil {
		return nil, err
	}
	return NewNormalizer(source).Show(raw)
}

// Fetch returns the decoded catalog document for a source, consulting the
// TTL cache first for remote URLs.
func (l *Loader) Fetch(ctx context.Context, source Source) (map[string]any, error) {
	if !strings.Contains(source.URL, "://") {
		return l.readLocal(source.URL)
	}

	cacheFile := l.cachePath(source.URL)
	if cached := l.readCache(cacheFile, source.TTLHours); cached != nil {
		l.log.Debug().Str("url", source.URL).Msg("using cached catalog")
		return cached, nil
	}

	l.log.Info().Str("url", source.URL).Msg("fetching catalog")
	var body []byte
	err := retry.Do(
		func() error {
			var fetchErr error
			body, fetchErr = l.fetchOnce(ctx, source)
			return fetchErr
		},
		retry.Attempts(fetchAttempts),
		retry.Delay(fetchRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", source.URL, err)
	}

	content, err := decodeCatalog(body)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", source.URL, err)
	}

	if l.dryRun {
		l.log.Debug().Str("url", source.URL).Msg("dry run, skipping catalog cache write")
	} else if err := l.writeCache(cacheFile, content); err != nil {
		l.log.Warn().Err(err).Str("url", source.URL).Msg("failed to cache catalog")
	}
	return content, nil
}

func (l *Loader) fetchOnce(ctx context.Context, source Source) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.URL, nil)
	if err != nil {
		return nil, err
	}
	for key, value := range source.Headers {
		req.Header.Set(key, value)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func (l *Loader) readLocal(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	content, err := decodeCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return content, nil
}

func decodeCatalog(data []byte) (map[string]any, error) {
	var content map[string]any
	if err := yaml.Unmarshal(data, &content); err != nil {
		return nil, err
	}
	if content == nil {
		return nil, fmt.Errorf("catalog document is empty")
	}
	return content, nil
}

func (l *Loader) cachePath(url string) string {
	return filepath.Join(l.cacheDir, "metadata", fmt.Sprintf("%016x.json", xxhash.Sum64String(url)))
}

type cachePayload struct {
	FetchedAt time.Time      `json:"fetched_at"`
	Content   map[string]any `json:"content"`
}

func (l *Loader) readCache(path string, ttlHours int) map[string]any {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var payload cachePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		l.log.Warn().Err(err).Str("path", path).Msg("unreadable catalog cache entry")
		return nil
	}
	if ttlHours <= 0 {
		ttlHours = defaultTTLHours
	}
	if time.Since(payload.FetchedAt) > time.Duration(ttlHours)*time.Hour {
		return nil
	}
	return payload.Content
}

func (l *Loader) writeCache(path string, content map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(map[string]any{
		"fetched_at": time.Now().UTC(),
		"content":    canonicalize(content),
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ShowResult is one sport's outcome from a parallel load.
type ShowResult struct {
	Show *Show
	Err  error
}

// LoadShows fetches every enabled sport's catalog concurrently with a
// bounded worker pool. One sport failing never aborts the others.
func (l *Loader) LoadShows(ctx context.Context, sources map[string]Source) map[string]ShowResult {
	results := make(map[string]ShowResult, len(sources))
	if len(sources) == 0 {
		return results
	}

	workers := len(sources)
	if workers > maxLoaderWorkers {
		workers = maxLoaderWorkers
	}

	jobs := make(chan string, len(sources))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sportID := range jobs {
				show, err := l.Show(ctx, sources[sportID])
				mu.Lock()
				results[sportID] = ShowResult{Show: show, Err: err}
				mu.Unlock()
			}
		}()
	}

	for sportID := range sources {
		jobs <- sportID
	}
	close(jobs)
	wg.Wait()

	return results
}
