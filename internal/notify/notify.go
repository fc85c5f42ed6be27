// Package notify pushes processing events to configured webhook targets.
// Delivery is best effort; a failing target logs a warning and never stops
// the run.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog"

	"playdeck/internal/config"
)

// Event describes one processed, skipped, or failed file.
type Event struct {
	SportID     string
	SportName   string
	ShowTitle   string
	Season      string
	Session     string
	Episode     string
	Summary     string
	Destination string
	Source      string
	Action      string // link, skipped, error, dry-run
	LinkMode    string
	Replaced    bool
	SkipReason  string
	TracePath   string
	EventType   string // new, changed, refresh, skipped, error, dry-run
	Timestamp   time.Time
}

// Target delivers one event to an external service.
type Target interface {
	Name() string
	Send(ctx context.Context, event Event) error
}

const (
	sendTimeout  = 10 * time.Second
	sendAttempts = 5

	colorDefault = 0x5865F2
	colorError   = 0xED4245
	colorSkipped = 0xFEE75C
	colorDryRun  = 0x95A5A6
)

// Service fans events out to every configured target.
type Service struct {
	targets []Target
	log     zerolog.Logger
}

// NewService builds targets from configuration, skipping entries with an
// unknown type or a missing URL.
func NewService(targets []config.NotificationTarget, log zerolog.Logger) *Service {
	client := &http.Client{Timeout: sendTimeout}
	service := &Service{log: log}

	for _, target := range targets {
		url := strings.TrimSpace(target.URL)
		if url == "" {
			log.Warn().Str("type", target.Type).Msg("skipping notification target without url")
			continue
		}
		switch strings.ToLower(target.Type) {
		case "discord":
			service.targets = append(service.targets, &discordTarget{client: client, url: url, username: target.Username})
		case "slack":
			service.targets = append(service.targets, &slackTarget{client: client, url: url})
		case "webhook":
			service.targets = append(service.targets, &webhookTarget{client: client, url: url, headers: target.Headers})
		default:
			log.Warn().Str("type", target.Type).Msg("unknown notification target type")
		}
	}
	return service
}

// Enabled reports whether any target is configured.
func (s *Service) Enabled() bool {
	return s != nil && len(s.targets) > 0
}

// Notify delivers the event to every target. Only new files, content
// changes, and failures are worth a push; refreshes and routine skips stay
// in the log.
func (s *Service) Notify(ctx context.Context, event Event) {
	if !s.Enabled() {
		return
	}
	switch event.EventType {
	case "new", "changed", "error":
	default:
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	for _, target := range s.targets {
		if err := target.Send(ctx, event); err != nil {
			s.log.Warn().Err(err).Str("target", target.Name()).Msg("notification delivery failed")
		}
	}
}

type discordTarget struct {
	client   *http.Client
	url      string
	username string
}

func (d *discordTarget) Name() string { return "discord" }

func (d *discordTarget) Send(ctx context.Context, event Event) error {
	embed := map[string]any{
		"title":     trim(fmt.Sprintf("%s - %s", event.ShowTitle, event.Session), 256),
		"color":     embedColor(event.Action),
		"timestamp": event.Timestamp.Format(time.RFC3339),
		"fields":    discordFields(event),
		"footer":    map[string]any{"text": "playdeck"},
	}
	if event.Summary != "" {
		embed["description"] = trim(event.Summary, 2048)
	}
	payload := map[string]any{
		"content": trim(renderContent(event), 2000),
		"embeds":  []any{embed},
	}
	if d.username != "" {
		payload["username"] = d.username
	}
	return postJSON(ctx, d.client, d.url, nil, payload)
}

func discordFields(event Event) []map[string]any {
	fields := []map[string]any{
		embedField("Sport", event.SportName, true),
		embedField("Season", event.Season, true),
		embedField("Session", event.Session, true),
		embedField("Episode", event.Episode, true),
		embedField("Action", actionLabel(event), true),
		embedField("Destination", "`"+event.Destination+"`", false),
		embedField("Source", "`"+event.Source+"`", false),
	}
	if event.SkipReason != "" {
		fields = append(fields, embedField("Reason", event.SkipReason, false))
	}
	if event.TracePath != "" {
		fields = append(fields, embedField("Trace", event.TracePath, false))
	}
	out := fields[:0]
	for _, field := range fields {
		if field != nil {
			out = append(out, field)
		}
	}
	return out
}

func embedField(name, value string, inline bool) map[string]any {
	value = trim(value, 1024)
	if value == "" || value == "``" {
		return nil
	}
	return map[string]any{"name": trim(name, 256), "value": value, "inline": inline}
}

type slackTarget struct {
	client *http.Client
	url    string
}

func (s *slackTarget) Name() string { return "slack" }

func (s *slackTarget) Send(ctx context.Context, event Event) error {
	return postJSON(ctx, s.client, s.url, nil, map[string]any{"text": renderContent(event)})
}

type webhookTarget struct {
	client  *http.Client
	url     string
	headers map[string]string
}

func (w *webhookTarget) Name() string { return "webhook" }

func (w *webhookTarget) Send(ctx context.Context, event Event) error {
	payload := map[string]any{
		"sport_id":    event.SportID,
		"sport_name":  event.SportName,
		"show_title":  event.ShowTitle,
		"season":      event.Season,
		"session":     event.Session,
		"episode":     event.Episode,
		"summary":     event.Summary,
		"destination": event.Destination,
		"source":      event.Source,
		"action":      event.Action,
		"link_mode":   event.LinkMode,
		"replaced":    event.Replaced,
		"skip_reason": event.SkipReason,
		"trace_path":  event.TracePath,
		"timestamp":   event.Timestamp.Format(time.RFC3339),
	}
	return postJSON(ctx, w.client, w.url, w.headers, payload)
}

// postJSON sends the payload, retrying when the service rate limits and
// honoring its Retry-After when present.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("Content-Type", "application/json")
			for key, value := range headers {
				req.Header.Set(key, value)
			}

			resp, err := client.Do(req)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			defer resp.Body.Close()
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

			if resp.StatusCode == http.StatusTooManyRequests {
				if wait := retryAfter(resp); wait > 0 {
					select {
					case <-time.After(wait):
					case <-ctx.Done():
						return retry.Unrecoverable(ctx.Err())
					}
				}
				return fmt.Errorf("rate limited by %s", url)
			}
			if resp.StatusCode >= 400 {
				return retry.Unrecoverable(fmt.Errorf("webhook responded with status %d", resp.StatusCode))
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(sendAttempts),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}

func retryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	seconds, err := strconv.ParseFloat(header, 64)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

func renderContent(event Event) string {
	base := fmt.Sprintf("%s: %s (%s)", event.SportName, event.Episode, event.Session)
	switch event.Action {
	case "error":
		if event.SkipReason != "" {
			return fmt.Sprintf("Failed %s - %s", base, event.SkipReason)
		}
		return "Failed " + base
	case "dry-run":
		return fmt.Sprintf("[Dry-Run] %s via %s", base, event.LinkMode)
	default:
		suffix := ""
		if event.Replaced {
			suffix = " (replaced existing)"
		}
		return fmt.Sprintf("%s %s via %s%s", base, event.Action, event.LinkMode, suffix)
	}
}

func actionLabel(event Event) string {
	label := fmt.Sprintf("%s (%s)", event.Action, event.LinkMode)
	if event.Replaced {
		label += " - replaced"
	}
	return label
}

// trim collapses surrounding whitespace and enforces the per-field length
// limits of the receiving services.
func trim(value string, limit int) string {
	stripped := strings.TrimSpace(value)
	runes := []rune(stripped)
	if len(runes) <= limit {
		return stripped
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}

func embedColor(action string) int {
	switch action {
	case "error":
		return colorError
	case "skipped":
		return colorSkipped
	case "dry-run":
		return colorDryRun
	default:
		return colorDefault
	}
}
