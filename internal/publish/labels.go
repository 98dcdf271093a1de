package publish

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	labelCharsRe = regexp.MustCompile(`[^a-z0-9-]+`)
	dashRunRe    = regexp.MustCompile(`-{2,}`)
)

// sanitizeLabel maps arbitrary tag text onto the label alphabet (lowercase
// a-z0-9 and single dashes). Placeholder angle brackets are unwrapped, so
// "<proto>" becomes "proto". Returns "" when nothing survives.
func sanitizeLabel(tag string) string {
	s := strings.ToLower(strings.TrimSpace(tag))
	if len(s) >= 2 && strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">") {
		s = s[1 : len(s)-1]
	}
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, " ", "-")
	s = labelCharsRe.ReplaceAllString(s, "-")
	s = dashRunRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// ExtractTagLabels reads the tags front-matter field (a list or a comma
// separated string) and returns sanitized labels, order preserved and
// duplicates removed.
func ExtractTagLabels(fm map[string]any) []string {
	raw, ok := fm["tags"]
	if !ok || raw == nil {
		return nil
	}

	var parts []string
	switch v := raw.(type) {
	case string:
		parts = strings.Split(v, ",")
	case []any:
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
	default:
		parts = []string{fmt.Sprint(v)}
	}

	var out []string
	seen := map[string]struct{}{}
	for _, part := range parts {
		label := sanitizeLabel(part)
		if label == "" {
			continue
		}
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, label)
	}
	return out
}
