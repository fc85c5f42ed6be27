// Package fuzzy provides the edit-distance and similarity primitives used to
// tolerate typos and abbreviations in release filenames when resolving them
// against canonical session names.
package fuzzy

import (
	"fmt"

	lfuzzy "github.com/lithammer/fuzzysearch/fuzzy"
)

// Thresholds carries the acceptance cutoffs for the fuzzy matching paths.
// The defaults mirror long-observed behavior against real release names;
// they are configuration, not constants, because no single cutoff is right
// for every catalog.
type Thresholds struct {
	// Accept is the floor for the best-scoring candidate of a session lookup.
	Accept float64 `yaml:"accept"`
	// Sequence is the acceptance ratio when only the sequence scorer is active.
	Sequence float64 `yaml:"sequence"`
	// Similarity is the normalized-similarity acceptance for the edit-distance scorer.
	Similarity float64 `yaml:"similarity"`
}

// DefaultThresholds returns the standard cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Accept:     0.85,
		Sequence:   0.90,
		Similarity: 0.92,
	}
}

// Scorer computes string similarity. Two implementations exist: the
// edit-distance scorer (transposition-aware, the default) and the sequence
// scorer, a coarser ratio kept as a degraded fallback. The scorer is chosen
// once at startup and injected into the matcher.
type Scorer interface {
	Name() string
	// Similarity returns a normalized similarity in [0, 1].
	Similarity(a, b string) float64
	// WithinDistance reports whether the edit distance between a and b,
	// counting adjacent transpositions as single edits, is at most max.
	// The sequence scorer always reports false.
	WithinDistance(a, b string, max int) bool
	// Precise reports whether distance-based shortcuts are trustworthy.
	Precise() bool
}

// NewScorer returns the scorer for the configured kind. An empty kind selects
// the edit-distance scorer.
func NewScorer(kind string) (Scorer, error) {
	switch kind {
	case "", "edit-distance":
		return EditDistanceScorer{}, nil
	case "sequence":
		return SequenceScorer{}, nil
	default:
		return nil, fmt.Errorf("unknown fuzzy scorer %q (want edit-distance or sequence)", kind)
	}
}

// EditDistanceScorer scores with normalized Levenshtein similarity and
// supports bounded Damerau-Levenshtein distance checks.
type EditDistanceScorer struct{}

func (EditDistanceScorer) Name() string { return "edit-distance" }

func (EditDistanceScorer) Precise() bool { return true }

func (EditDistanceScorer) Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 1.0
	}
	distance := lfuzzy.LevenshteinDistance(a, b)
	return (float64(longest) - float64(distance)) / float64(longest)
}

func (EditDistanceScorer) WithinDistance(a, b string, max int) bool {
	return osaDistance(a, b, max) <= max
}

// SequenceScorer is the fallback similarity backend: a longest-common-
// subsequence ratio. Transposition and distance shortcuts are unavailable
// in this mode; acceptance runs solely on the ratio. This is a documented
// degradation, not a bug.
type SequenceScorer struct{}

func (SequenceScorer) Name() string { return "sequence" }

func (SequenceScorer) Precise() bool { return false }

func (SequenceScorer) Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	total := len(a) + len(b)
	if total == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	return 2.0 * float64(lcsLength(a, b)) / float64(total)
}

func (SequenceScorer) WithinDistance(a, b string, max int) bool {
	return false
}

// AdjacentTransposition reports whether a and b differ in exactly two
// positions whose characters are swapped ("qaulifying" vs "qualifying").
// Both strings must have equal length.
func AdjacentTransposition(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	first, second := -1, -1
	for i := 0; i < len(a); i++ {
		if a[i] == b[i] {
			continue
		}
		if first == -1 {
			first = i
		} else if second == -1 {
			second = i
		} else {
			return false
		}
	}
	if first == -1 || second == -1 {
		return false
	}
	return a[first] == b[second] && a[second] == b[first]
}

// TokensClose reports whether a candidate token is close enough to a target
// to be treated as the same session name. Both tokens must be at least four
// characters, within one character in length, and share a first character;
// then either an adjacent transposition, an edit distance of at most one, or
// a similarity above the configured cutoff accepts the pair.
func TokensClose(candidate, target string, scorer Scorer, th Thresholds) bool {
	if len(candidate) < 4 || len(target) < 4 {
		return false
	}
	diff := len(candidate) - len(target)
	if diff < -1 || diff > 1 {
		return false
	}
	if candidate[0] != target[0] {
		return false
	}

	if AdjacentTransposition(candidate, target) {
		return true
	}

	if scorer.Precise() {
		if scorer.WithinDistance(candidate, target, 1) {
			return true
		}
		return scorer.Similarity(candidate, target) >= th.Similarity
	}

	return scorer.Similarity(candidate, target) >= th.Sequence
}

// osaDistance computes the optimal string alignment distance (Levenshtein
// plus adjacent transpositions) with an early exit once every cell of a row
// exceeds max.
func osaDistance(a, b string, max int) int {
	la, lb := len(a), len(b)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}
	if la-lb > max || lb-la > max {
		return max + 1
	}

	prev2 := make([]int, lb+1)
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}

	for i := 1; i <= la; i++ {
		curr[0] = i
		rowMin := curr[0]
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			d := prev[j] + 1
			if ins := curr[j-1] + 1; ins < d {
				d = ins
			}
			if sub := prev[j-1] + cost; sub < d {
				d = sub
			}
			if i > 1 && j > 1 && a[i-1] == b[j-2] && a[i-2] == b[j-1] {
				if tr := prev2[j-2] + 1; tr < d {
					d = tr
				}
			}
			curr[j] = d
			if d < rowMin {
				rowMin = d
			}
		}
		if rowMin > max {
			return max + 1
		}
		prev2, prev, curr = prev, curr, prev2
	}

	return prev[lb]
}

// lcsLength computes the longest-common-subsequence length.
func lcsLength(a, b string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
