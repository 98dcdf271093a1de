package converter

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	fenceRe   = regexp.MustCompile("^\\s*(```|~~~)")
	headingRe = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*$`)

	// Manual numbering prefixes stripped from heading text: "1.", "2)",
	// "1.2", "1.2.3." and similar.
	headingNumRe = regexp.MustCompile(`^\s*(?:\d+\)|\d+\.(?:\d+(?:\.\d+)*)?\.?|\d+(?:\.\d+)+)\s+(.*)$`)

	taskItemRe = regexp.MustCompile(`(?m)^(\s*[-*+]\s*)\[\s*([xX ])\s*\]\s+`)
)

// normalizeMarkdown reshapes the heading structure of a document before
// rendering: drops the first H1 (the page title lives in Confluence, not in
// the body), promotes the remaining headings one level, strips manual
// numbering prefixes and optionally re-numbers headings in text. Lines
// inside code fences are passed through untouched.
func (c *Converter) normalizeMarkdown(body string) string {
	if !c.opts.StripTitleH1 && !c.opts.PromoteHeadings &&
		!c.opts.StripHeadingNumbers && !c.opts.HeadingNumberingInText {
		return body
	}

	var out strings.Builder
	out.Grow(len(body))

	inFence := false
	removedTitle := false
	var n1, n2, n3 int

	for _, line := range splitLinesKeepEnds(body) {
		core, nl := splitLineEnding(line)

		if fenceRe.MatchString(core) {
			inFence = !inFence
			out.WriteString(core)
			out.WriteString(nl)
			continue
		}

		if !inFence {
			if m := headingRe.FindStringSubmatch(core); m != nil {
				level := len(m[1])
				text := m[2]

				if level == 1 && c.opts.StripTitleH1 && !removedTitle {
					removedTitle = true
					continue
				}
				if c.opts.PromoteHeadings && level > 1 {
					level--
				}
				text = c.stripNumberPrefix(text)

				if c.opts.HeadingNumberingInText && level <= 3 && level <= c.opts.HeadingNumberingMaxLevel {
					var prefix string
					switch level {
					case 1:
						n1++
						n2, n3 = 0, 0
						prefix = fmt.Sprintf("%d. ", n1)
					case 2:
						if n1 == 0 {
							n1 = 1
						}
						n2++
						n3 = 0
						prefix = fmt.Sprintf("%d.%d. ", n1, n2)
					default:
						if n1 == 0 {
							n1 = 1
						}
						if n2 == 0 {
							n2 = 1
						}
						n3++
						prefix = fmt.Sprintf("%d.%d.%d. ", n1, n2, n3)
					}
					if !strings.HasPrefix(text, prefix) {
						text = prefix + text
					}
				}

				core = strings.Repeat("#", level) + " " + text
			}
		}

		out.WriteString(core)
		out.WriteString(nl)
	}
	return out.String()
}

func (c *Converter) stripNumberPrefix(text string) string {
	if !c.opts.StripHeadingNumbers {
		return text
	}
	if m := headingNumRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}

// taskListFallback replaces task list markers with unicode glyphs when the
// tasklist extension is disabled, keeping the list readable on the page.
func taskListFallback(body string) string {
	return taskItemRe.ReplaceAllStringFunc(body, func(match string) string {
		m := taskItemRe.FindStringSubmatch(match)
		glyph := "☐"
		if strings.ToLower(m[2]) == "x" {
			glyph = "☑"
		}
		return m[1] + glyph + " "
	})
}

// splitLinesKeepEnds splits body into lines, each keeping its trailing
// newline so the document can be reassembled byte for byte.
func splitLinesKeepEnds(body string) []string {
	if body == "" {
		return nil
	}
	lines := strings.SplitAfter(body, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func splitLineEnding(line string) (core, nl string) {
	core = line
	if strings.HasSuffix(core, "\n") {
		core, nl = core[:len(core)-1], "\n"
		if strings.HasSuffix(core, "\r") {
			core, nl = core[:len(core)-1], "\r\n"
		}
	}
	return core, nl
}
