// Package parser extracts YAML front matter and titles from Markdown
// documents.
package parser

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	frontMatterRe = regexp.MustCompile(`(?s)^---\s*\n(.*?)\n---\s*\n`)
	headingH1Re   = regexp.MustCompile(`(?m)^#\s+(.+)$`)
)

// SplitFrontMatter separates a leading YAML front-matter block (between
// --- delimiter lines at the very start of the document) from the Markdown
// body. Returns the decoded mapping and the body exactly as it followed the
// block. A document without a well-delimited block comes back unchanged with
// a nil mapping. A well-delimited block that fails to decode, or decodes to
// something other than a mapping, degrades to an empty mapping; the block
// is still consumed. Never returns an error.
func SplitFrontMatter(data []byte) (map[string]any, string) {
	m := frontMatterRe.FindSubmatchIndex(data)
	if m == nil {
		return nil, string(data)
	}
	body := string(data[m[1]:])

	var fm map[string]any
	if err := yaml.Unmarshal(data[m[2]:m[3]], &fm); err != nil {
		return map[string]any{}, body
	}
	if fm == nil {
		fm = map[string]any{}
	}
	return fm, body
}

// GuessTitle derives a human title for a document: the front-matter "title"
// value if present, otherwise the first H1 heading in the body, otherwise
// the fallback.
func GuessTitle(data []byte, fallback string) string {
	fm, body := SplitFrontMatter(data)
	if t := StringField(fm, "title"); t != "" {
		return t
	}
	if m := headingH1Re.FindStringSubmatch(body); m != nil {
		return strings.TrimSpace(m[1])
	}
	return fallback
}

// StringField returns the trimmed string form of a front-matter value.
// Dates decoded by YAML as time.Time render as YYYY-MM-DD; absent and nil
// values render as "".
func StringField(fm map[string]any, key string) string {
	if fm == nil {
		return ""
	}
	v, ok := fm[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case time.Time:
		return t.Format("2006-01-02")
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
