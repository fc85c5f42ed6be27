package config

import (
	"errors"
	"strings"
	"testing"
)

func TestExpandPattern(t *testing.T) {
	expander := NewTokenExpander(map[string]string{
		"sep":     `[._\- ]+`,
		"round":   `\d{1,2}`,
		"session": `[a-z0-9]+`,
		"header":  `^(?P<round><round>)<sep>`,
	})

	tests := []struct {
		name     string
		pattern  string
		expected string
	}{
		{
			"simple token",
			`(?P<round>\d+)<sep>(?P<session><session>)`,
			`(?P<round>\d+)[._\- ]+(?P<session>[a-z0-9]+)`,
		},
		{
			"nested token",
			`<header>(?P<session><session>)`,
			`^(?P<round>\d{1,2})[._\- ]+(?P<session>[a-z0-9]+)`,
		},
		{
			"no placeholders",
			`(?P<round>\d+)\.(?P<session>\w+)`,
			`(?P<round>\d+)\.(?P<session>\w+)`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expanded, err := expander.ExpandPattern(tt.pattern)
			if err != nil {
				t.Fatalf("ExpandPattern: %v", err)
			}
			if expanded != tt.expected {
				t.Errorf("ExpandPattern(%q) = %q, want %q", tt.pattern, expanded, tt.expected)
			}

			again, err := expander.ExpandPattern(expanded)
			if err != nil {
				t.Fatalf("second expansion: %v", err)
			}
			if again != expanded {
				t.Errorf("expansion not idempotent: %q became %q", expanded, again)
			}
		})
	}
}

func TestExpandPatternNamedGroupsNotPlaceholders(t *testing.T) {
	expander := NewTokenExpander(map[string]string{"session": `[a-z]+`})

	// A group whose name collides with a token must survive untouched.
	expanded, err := expander.ExpandPattern(`(?P<session>\w+)`)
	if err != nil {
		t.Fatalf("ExpandPattern: %v", err)
	}
	if expanded != `(?P<session>\w+)` {
		t.Errorf("named group rewritten: %q", expanded)
	}
}

func TestExpandPatternCycle(t *testing.T) {
	expander := NewTokenExpander(map[string]string{
		"a": `x<b>`,
		"b": `y<c>`,
		"c": `z<a>`,
	})

	_, err := expander.ExpandPattern(`<a>`)
	var cycle *TokenCycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("expected TokenCycleError, got %v", err)
	}
	chain := strings.Join(cycle.Chain, " -> ")
	if chain != "a -> b -> c -> a" {
		t.Errorf("cycle chain = %q, want a -> b -> c -> a", chain)
	}
}

func TestExpandPatternSelfCycle(t *testing.T) {
	expander := NewTokenExpander(map[string]string{"a": `<a>+`})

	var cycle *TokenCycleError
	if _, err := expander.ExpandPattern(`<a>`); !errors.As(err, &cycle) {
		t.Fatalf("expected TokenCycleError, got %v", err)
	}
}

func TestExpandPatternUnknownToken(t *testing.T) {
	expander := NewTokenExpander(map[string]string{"sep": `[._]`})

	_, err := expander.ExpandPattern(`(?P<round>\d+)<nope>`)
	var unknown *UnknownTokenError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownTokenError, got %v", err)
	}
	if unknown.Token != "nope" {
		t.Errorf("token = %q, want nope", unknown.Token)
	}
	if !strings.Contains(unknown.Error(), `(?P<round>\d+)<nope>`) {
		t.Errorf("error must name the pattern text: %v", unknown)
	}
}

func TestResolveMemoized(t *testing.T) {
	expander := NewTokenExpander(map[string]string{
		"inner": `\d+`,
		"outer": `<inner>-<inner>`,
	})

	first, err := expander.Resolve("outer")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if first != `\d+-\d+` {
		t.Errorf("Resolve(outer) = %q", first)
	}
	second, err := expander.Resolve("outer")
	if err != nil || second != first {
		t.Errorf("memoized resolve differs: %q vs %q (%v)", first, second, err)
	}
}
