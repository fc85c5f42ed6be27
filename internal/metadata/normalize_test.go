package metadata

import (
	"testing"

	"gopkg.in/yaml.v3"
)

const catalogDoc = `
metadata:
  formula1:
    title: Formula 1
    seasons:
      "2":
        title: "2 Saudi Arabian Grand Prix"
        sort_title: 02_saudi
        episodes:
          - title: Free Practice 1
            aliases: FP1
          - title: Qualifying
            aliases: [Quali, Qualy]
            episode_number: 4
      "10":
        title: "10 British Grand Prix"
        episodes:
          - title: Race
            id: gb-race
            originally_available: "2024-07-07"
`

func decodeCatalogDoc(t *testing.T) map[string]any {
	t.Helper()
	var raw map[string]any
	if err := yaml.Unmarshal([]byte(catalogDoc), &raw); err != nil {
		t.Fatalf("unmarshal catalog: %v", err)
	}
	return raw
}

func TestNormalizerShow(t *testing.T) {
	normalizer := NewNormalizer(Source{ShowKey: "formula1"})
	show, err := normalizer.Show(decodeCatalogDoc(t))
	if err != nil {
		t.Fatalf("Show: %v", err)
	}

	if show.Key != "formula1" || show.Title != "Formula 1" {
		t.Errorf("show = %q/%q, want formula1/Formula 1", show.Key, show.Title)
	}
	if len(show.Seasons) != 2 {
		t.Fatalf("got %d seasons, want 2", len(show.Seasons))
	}

	// numeric-aware ordering: "2" sorts before "10"
	if show.Seasons[0].Key != "2" || show.Seasons[1].Key != "10" {
		t.Errorf("season order = %q, %q; want 2, 10", show.Seasons[0].Key, show.Seasons[1].Key)
	}

	saudi := show.Seasons[0]
	if saudi.RoundNumber == nil || *saudi.RoundNumber != 2 {
		t.Errorf("saudi round = %v, want 2 (from sort_title prefix)", saudi.RoundNumber)
	}
	if len(saudi.Episodes) != 2 {
		t.Fatalf("got %d episodes, want 2", len(saudi.Episodes))
	}

	fp1 := saudi.Episodes[0]
	if fp1.Title != "Free Practice 1" || len(fp1.Aliases) != 1 || fp1.Aliases[0] != "FP1" {
		t.Errorf("scalar alias not promoted to list: %+v", fp1)
	}
	if fp1.Index != 1 {
		t.Errorf("fp1 index = %d, want 1", fp1.Index)
	}

	quali := saudi.Episodes[1]
	if quali.DisplayNumber == nil || *quali.DisplayNumber != 4 {
		t.Errorf("quali display number = %v, want 4", quali.DisplayNumber)
	}
	if quali.EpisodeNumber() != 4 {
		t.Errorf("quali EpisodeNumber() = %d, want 4", quali.EpisodeNumber())
	}

	britain := show.Seasons[1]
	if britain.RoundNumber == nil || *britain.RoundNumber != 10 {
		t.Errorf("britain round = %v, want 10 (from key)", britain.RoundNumber)
	}
	race := britain.Episodes[0]
	if race.OriginallyAvailable.IsZero() {
		t.Error("originally_available not parsed")
	}
	if got := race.IdentityKey(); got != "id:gb-race" {
		t.Errorf("identity key = %q, want id:gb-race", got)
	}
}

func TestNormalizerSeasonOverrides(t *testing.T) {
	round, display := 99, 3
	normalizer := NewNormalizer(Source{
		ShowKey: "formula1",
		SeasonOverrides: map[string]SeasonOverride{
			"2 Saudi Arabian Grand Prix": {Round: &round, SeasonNumber: &display},
		},
	})

	show, err := normalizer.Show(decodeCatalogDoc(t))
	if err != nil {
		t.Fatalf("Show: %v", err)
	}

	saudi := show.Seasons[0]
	if saudi.RoundNumber == nil || *saudi.RoundNumber != 99 {
		t.Errorf("override round = %v, want 99", saudi.RoundNumber)
	}
	if saudi.DisplayNumber == nil || *saudi.DisplayNumber != 3 {
		t.Errorf("override display = %v, want 3", saudi.DisplayNumber)
	}
}

func TestNormalizerSingleShowWithoutKey(t *testing.T) {
	var raw map[string]any
	doc := `
formula1:
  title: Formula 1
  seasons: {}
`
	if err := yaml.Unmarshal([]byte(doc), &raw); err != nil {
		t.Fatal(err)
	}

	show, err := NewNormalizer(Source{}).Show(raw)
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	if show.Key != "formula1" {
		t.Errorf("show key = %q, want formula1", show.Key)
	}
}

func TestNormalizerMissingShowKey(t *testing.T) {
	if _, err := NewNormalizer(Source{ShowKey: "motogp"}).Show(decodeCatalogDoc(t)); err == nil {
		t.Error("missing show key must error")
	}
}

func TestEpisodeIdentityKeyFallbacks(t *testing.T) {
	display := 5
	tests := []struct {
		name     string
		episode  Episode
		expected string
	}{
		{"guid wins", Episode{Title: "Race", Raw: map[string]any{"guid": "g-1"}}, "guid:g-1"},
		{"display fallback", Episode{Title: "Race", DisplayNumber: &display}, "display:5"},
		{"title fallback", Episode{Title: "Race", Index: 2}, "title:Race"},
		{"index fallback", Episode{Index: 2}, "index:2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.episode.IdentityKey(); got != tt.expected {
				t.Errorf("IdentityKey() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestRoundFromTitle(t *testing.T) {
	tests := []struct {
		title    string
		expected int
		ok       bool
	}{
		{"10 British Grand Prix", 10, true},
		{"#3 Monaco", 3, true},
		{"Monaco Grand Prix", 0, false},
	}

	for _, tt := range tests {
		got := roundFromTitle(tt.title)
		if tt.ok {
			if got == nil || *got != tt.expected {
				t.Errorf("roundFromTitle(%q) = %v, want %d", tt.title, got, tt.expected)
			}
		} else if got != nil {
			t.Errorf("roundFromTitle(%q) = %v, want nil", tt.title, got)
		}
	}
}
