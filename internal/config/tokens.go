package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// placeholderRegex finds <name> references inside pattern fragments. The
// first alternative swallows regex named-group syntax, (?P<name> and (?<name>,
// so a capture group is never mistaken for a placeholder.
var placeholderRegex = regexp.MustCompile(`\(\?P?<[A-Za-z][A-Za-z0-9_]*>|<([A-Za-z][A-Za-z0-9_]*)>`)

// TokenCycleError reports a regex token that references itself, directly or
// through other tokens.
type TokenCycleError struct {
	Chain []string
}

func (e *TokenCycleError) Error() string {
	return fmt.Sprintf("cyclic regex token reference: %s", strings.Join(e.Chain, " -> "))
}

// UnknownTokenError reports a reference to a token that was never defined.
type UnknownTokenError struct {
	Token   string
	Pattern string
}

func (e *UnknownTokenError) Error() string {
	if e.Pattern != "" {
		return fmt.Sprintf("unknown regex token <%s> in pattern %q", e.Token, e.Pattern)
	}
	return fmt.Sprintf("unknown regex token <%s>", e.Token)
}

// TokenExpander resolves named regex fragments that may reference each other
// through <name> placeholders. An expander is built once during config
// loading and handed to whatever needs pattern expansion.
type TokenExpander struct {
	fragments map[string]string
	resolved  map[string]string
}

func NewTokenExpander(fragments map[string]string) *TokenExpander {
	return &TokenExpander{
		fragments: fragments,
		resolved:  make(map[string]string, len(fragments)),
	}
}

// Resolve returns the fully expanded fragment for a token name. Results are
// memoized; cycles and unknown references fail with typed errors.
func (e *TokenExpander) Resolve(name string) (string, error) {
	return e.resolve(name, nil)
}

func (e *TokenExpander) resolve(name string, stack []string) (string, error) {
	if expanded, ok := e.resolved[name]; ok {
		return expanded, nil
	}
	for _, seen := range stack {
		if seen == name {
			return "", &TokenCycleError{Chain: append(append([]string{}, stack...), name)}
		}
	}

	fragment, ok := e.fragments[name]
	if !ok {
		return "", &UnknownTokenError{Token: name}
	}

	expanded, err := e.expand(fragment, append(stack, name))
	if err != nil {
		return "", err
	}
	e.resolved[name] = expanded
	return expanded, nil
}

// ExpandPattern replaces every <name> placeholder in a pattern with its
// resolved fragment. Patterns without placeholders pass through unchanged,
// so expanding an already expanded pattern is a no-op.
func (e *TokenExpander) ExpandPattern(pattern string) (string, error) {
	expanded, err := e.expand(pattern, nil)
	if err != nil {
		var unknown *UnknownTokenError
		if errors.As(err, &unknown) && unknown.Pattern == "" {
			return "", &UnknownTokenError{Token: unknown.Token, Pattern: pattern}
		}
		return "", err
	}
	return expanded, nil
}

func (e *TokenExpander) expand(text string, stack []string) (string, error) {
	var firstErr error
	expanded := placeholderRegex.ReplaceAllStringFunc(text, func(match string) string {
		if firstErr != nil {
			return match
		}
		groups := placeholderRegex.FindStringSubmatch(match)
		if groups[1] == "" {
			// Named-group syntax, not a placeholder.
			return match
		}
		resolved, err := e.resolve(groups[1], stack)
		if err != nil {
			firstErr = err
			return match
		}
		return resolved
	})
	if firstErr != nil {
		return "", firstErr
	}
	return expanded, nil
}
