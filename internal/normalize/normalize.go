package normalize

import (
	"regexp"
	"strings"
)

// Pre-compiled regexes for performance optimization
var (
	nonAlnumRegex       = regexp.MustCompile(`[^a-z0-9]+`)
	wordSplitRegex      = regexp.MustCompile(`[^a-z0-9]+`)
	collapseRepeatRegex = regexp.MustCompile(`_+`)
)

// Token lowercases a value and strips every non-alphanumeric character,
// producing the comparison form used throughout season/episode matching.
// "Free Practice 1" and "free.practice_1" both normalize to "freepractice1".
func Token(value string) string {
	lowered := strings.ToLower(value)
	return nonAlnumRegex.ReplaceAllString(lowered, "")
}

// Slugify converts a value into a filesystem/URL friendly slug,
// joining the lowercase alphanumeric words with the separator.
func Slugify(value, separator string) string {
	words := []string{}
	for _, word := range wordSplitRegex.Split(strings.ToLower(value), -1) {
		if word != "" {
			words = append(words, word)
		}
	}
	if len(words) == 0 {
		if token := Token(value); token != "" {
			return token
		}
		return "item"
	}
	return strings.Join(words, separator)
}

// Characters allowed verbatim in destination path components.
const safeComponentChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_. ()[]"

// Component sanitizes a single destination path component, replacing unsafe
// characters with underscores. Empty or dot-only results become "untitled" so
// a hostile episode title can never produce a path traversal component.
func Component(component string) string {
	component = strings.TrimSpace(component)
	if component == "" {
		return "untitled"
	}

	var b strings.Builder
	b.Grow(len(component))
	for _, ch := range component {
		if strings.ContainsRune(safeComponentChars, ch) {
			b.WriteRune(ch)
		} else {
			b.WriteRune('_')
		}
	}

	cleaned := collapseRepeatRegex.ReplaceAllString(b.String(), "_")
	cleaned = strings.Trim(cleaned, "_")
	if cleaned == "" || cleaned == "." || cleaned == ".." {
		return "untitled"
	}
	return cleaned
}
