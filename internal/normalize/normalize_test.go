package normalize

import "testing"

func TestToken(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Free Practice 1", "freepractice1"},
		{"free.practice_1", "freepractice1"},
		{"Qualifying", "qualifying"},
		{"FP1", "fp1"},
		{"Sprint-Shootout!", "sprintshootout"},
		{"", ""},
		{"...", ""},
	}

	for _, tt := range tests {
		result := Token(tt.input)
		if result != tt.expected {
			t.Errorf("Token(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Bahrain Grand Prix", "bahrain-grand-prix"},
		{"Free Practice 1", "free-practice-1"},
		{"Monaco!!", "monaco"},
		{"", "item"},
		{"---", "item"},
	}

	for _, tt := range tests {
		result := Slugify(tt.input, "-")
		if result != tt.expected {
			t.Errorf("Slugify(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestComponent(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"01 Bahrain Grand Prix", "01 Bahrain Grand Prix"},
		{"Race: Part 1", "Race_ Part 1"},
		{"../escape", ".._escape"},
		{"..", "untitled"},
		{"", "untitled"},
		{"  trimmed  ", "trimmed"},
	}

	for _, tt := range tests {
		result := Component(tt.input)
		if result != tt.expected {
			t.Errorf("Component(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
