package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"playdeck/internal/config"
)

func sampleEvent() Event {
	return Event{
		SportID:     "formula1",
		SportName:   "Formula 1",
		ShowTitle:   "Formula 1",
		Season:      "01 Bahrain Grand Prix",
		Session:     "Race",
		Episode:     "Race",
		Destination: "/library/Formula 1/01/race.mkv",
		Source:      "/incoming/01.race.mkv",
		Action:      "link",
		LinkMode:    "hardlink",
		EventType:   "new",
		Timestamp:   time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestServiceDisabledWithoutTargets(t *testing.T) {
	service := NewService(nil, zerolog.Nop())
	if service.Enabled() {
		t.Error("service with no targets must be disabled")
	}
	// must not panic
	service.Notify(context.Background(), sampleEvent())
}

func TestServiceSkipsUnusableTargets(t *testing.T) {
	service := NewService([]config.NotificationTarget{
		{Type: "discord"},
		{Type: "carrier-pigeon", URL: "https://example.test"},
	}, zerolog.Nop())
	if service.Enabled() {
		t.Error("unusable targets must not enable the service")
	}
}

func TestDiscordPayload(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("invalid payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	service := NewService([]config.NotificationTarget{
		{Type: "discord", URL: server.URL, Username: "playdeck"},
	}, zerolog.Nop())
	service.Notify(context.Background(), sampleEvent())

	if payload == nil {
		t.Fatal("no request received")
	}
	if payload["username"] != "playdeck" {
		t.Errorf("username = %v", payload["username"])
	}
	embeds, ok := payload["embeds"].([]any)
	if !ok || len(embeds) != 1 {
		t.Fatalf("embeds = %v", payload["embeds"])
	}
	embed := embeds[0].(map[string]any)
	if embed["title"] != "Formula 1 - Race" {
		t.Errorf("embed title = %v", embed["title"])
	}
	if embed["color"] != float64(colorDefault) {
		t.Errorf("embed color = %v", embed["color"])
	}
}

func TestSlackContentForError(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &payload)
	}))
	defer server.Close()

	service := NewService([]config.NotificationTarget{{Type: "slack", URL: server.URL}}, zerolog.Nop())
	event := sampleEvent()
	event.Action = "error"
	event.EventType = "error"
	event.SkipReason = "destination unwritable"
	service.Notify(context.Background(), event)

	text, _ := payload["text"].(string)
	if text != "Failed Formula 1: Race (Race) - destination unwritable" {
		t.Errorf("text = %q", text)
	}
}

func TestWebhookHeadersApplied(t *testing.T) {
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
	}))
	defer server.Close()

	service := NewService([]config.NotificationTarget{{
		Type:    "webhook",
		URL:     server.URL,
		Headers: map[string]string{"Authorization": "Bearer token"},
	}}, zerolog.Nop())
	service.Notify(context.Background(), sampleEvent())

	if auth != "Bearer token" {
		t.Errorf("authorization header = %q", auth)
	}
}

func TestNotifyFiltersQuietEventTypes(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer server.Close()

	service := NewService([]config.NotificationTarget{{Type: "slack", URL: server.URL}}, zerolog.Nop())
	for _, eventType := range []string{"refresh", "skipped", "dry-run"} {
		event := sampleEvent()
		event.EventType = eventType
		service.Notify(context.Background(), event)
	}

	if requests != 0 {
		t.Errorf("quiet event types produced %d requests", requests)
	}
}

func TestPostJSONRetriesRateLimit(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("Retry-After", "0.01")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := &http.Client{Timeout: time.Second}
	if err := postJSON(context.Background(), client, server.URL, nil, map[string]any{"ok": true}); err != nil {
		t.Fatalf("postJSON: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestPostJSONStopsOnClientError(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := &http.Client{Timeout: time.Second}
	if err := postJSON(context.Background(), client, server.URL, nil, map[string]any{}); err == nil {
		t.Fatal("client error must surface")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on 4xx)", attempts)
	}
}

func TestTrim(t *testing.T) {
	if got := trim("  hello  ", 10); got != "hello" {
		t.Errorf("trim = %q", got)
	}
	if got := trim("abcdefghij", 5); got != "ab..." {
		t.Errorf("trim = %q", got)
	}
	if got := trim("abcdef", 2); got != "ab" {
		t.Errorf("trim = %q", got)
	}
}
