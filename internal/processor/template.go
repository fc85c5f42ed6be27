package processor

import (
	"fmt"
	"regexp"
	"strconv"
)

var (
	templatePlaceholderRegex = regexp.MustCompile(`\{(\w+)(?::([^{}]+))?\}`)
	zeroPadSpecRegex         = regexp.MustCompile(`^0(\d+)d$`)
)

// renderTemplate substitutes {name} placeholders from the context. A
// placeholder without a context value is left verbatim so a broken template
// produces a visibly wrong path instead of silently collapsing components.
// Integer values support zero-padded width specs like {season_number:02d}.
func renderTemplate(template string, context map[string]any) string {
	return templatePlaceholderRegex.ReplaceAllStringFunc(template, func(match string) string {
		groups := templatePlaceholderRegex.FindStringSubmatch(match)
		value, ok := context[groups[1]]
		if !ok {
			return match
		}
		if spec := groups[2]; spec != "" {
			if number, ok := intFromAny(value); ok {
				if pad := zeroPadSpecRegex.FindStringSubmatch(spec); pad != nil {
					width, _ := strconv.Atoi(pad[1])
					return fmt.Sprintf("%0*d", width, number)
				}
				if spec == "d" {
					return strconv.Itoa(number)
				}
			}
			return match
		}
		return fmt.Sprint(value)
	})
}

func intFromAny(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
