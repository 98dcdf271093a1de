package converter

import (
	"regexp"
	"strconv"
	"strings"

	"md2conf/internal/parser"
)

// spacerParagraph separates the metadata panel from the TOC macro.
const spacerParagraph = "<p><br/></p>"

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

	jiraKeyRe = regexp.MustCompile(`\b([A-Z][A-Z0-9]+-\d+)\b`)
)

func escapeText(s string) string { return textEscaper.Replace(s) }
func escapeAttr(s string) string { return attrEscaper.Replace(s) }

// cdataEscape splits any "]]>" sequence so the wrapped text survives as
// literal CDATA content.
func cdataEscape(s string) string {
	return strings.ReplaceAll(s, "]]>", "]]]]><![CDATA[>")
}

// metadataPanel renders the details macro with owner, creation date and
// tracker task rows taken from front matter. Returns "" when none of the
// fields are present.
func metadataPanel(fm map[string]any) string {
	owner := parser.StringField(fm, "owner")
	created := parser.StringField(fm, "creation_date")
	task := parser.StringField(fm, "task")
	if owner == "" && created == "" && task == "" {
		return ""
	}

	var rows strings.Builder
	if owner != "" {
		rows.WriteString(`<tr><th>Owner</th><td><ac:link><ri:user ri:username="`)
		rows.WriteString(escapeAttr(owner))
		rows.WriteString(`" /></ac:link></td></tr>`)
	}
	if created != "" {
		rows.WriteString(`<tr><th>Creation date</th><td><time datetime="`)
		rows.WriteString(escapeAttr(created))
		rows.WriteString(`">`)
		rows.WriteString(escapeText(created))
		rows.WriteString(`</time></td></tr>`)
	}
	if task != "" {
		rows.WriteString(`<tr><th>Task</th><td>`)
		rows.WriteString(jiraMacro(task))
		rows.WriteString(`</td></tr>`)
	}

	return `<ac:structured-macro ac:name="details"><ac:rich-text-body><table><tbody>` +
		rows.String() +
		`</tbody></table></ac:rich-text-body></ac:structured-macro>`
}

// jiraMacro links a tracker task. A bare issue key ("ABC-123", possibly
// embedded in a URL) uses the key parameter so Confluence shows live issue
// status; anything else is passed as a URL.
func jiraMacro(task string) string {
	if m := jiraKeyRe.FindStringSubmatch(task); m != nil {
		return `<ac:structured-macro ac:name="jira"><ac:parameter ac:name="key">` +
			escapeText(m[1]) + `</ac:parameter></ac:structured-macro>`
	}
	return `<ac:structured-macro ac:name="jira"><ac:parameter ac:name="url">` +
		escapeText(task) + `</ac:parameter></ac:structured-macro>`
}

// tocMacro renders the toc macro folded into a collapsed expand block so a
// long TOC does not push the content below the fold.
func (c *Converter) tocMacro() string {
	var b strings.Builder
	b.WriteString(`<ac:structured-macro ac:name="expand">`)
	b.WriteString(`<ac:parameter ac:name="title">Contents</ac:parameter>`)
	b.WriteString(`<ac:parameter ac:name="expanded">false</ac:parameter>`)
	b.WriteString(`<ac:rich-text-body>`)
	b.WriteString(`<ac:structured-macro ac:name="toc">`)
	tocParam(&b, "minLevel", strconv.Itoa(c.opts.TOCMinLevel))
	tocParam(&b, "maxLevel", strconv.Itoa(c.opts.TOCMaxLevel))
	tocParam(&b, "outline", strconv.FormatBool(c.opts.TOCOutline))
	tocParam(&b, "type", c.opts.TOCType)
	tocParam(&b, "style", c.opts.TOCStyle)
	b.WriteString(`</ac:structured-macro>`)
	b.WriteString(`</ac:rich-text-body>`)
	b.WriteString(`</ac:structured-macro>`)
	return b.String()
}

func tocParam(b *strings.Builder, name, value string) {
	b.WriteString(`<ac:parameter ac:name="`)
	b.WriteString(name)
	b.WriteString(`">`)
	b.WriteString(escapeText(value))
	b.WriteString(`</ac:parameter>`)
}

// wrapWithNumberingCSS scopes the rendered fragment in a container div and
// prepends an html macro with counter based CSS so headings get visual
// section numbers without touching the text. Requires the html macro to be
// enabled on the Confluence instance.
func (c *Converter) wrapWithNumberingCSS(fragment string) string {
	lines := []string{
		`.md-content { counter-reset: h1; }`,
		`.md-content h1 { counter-reset: h2; counter-increment: h1; }`,
		`.md-content h1::before { content: counter(h1) ". "; }`,
	}
	if c.opts.HeadingNumberingMaxLevel >= 2 {
		lines = append(lines,
			`.md-content h2 { counter-reset: h3; counter-increment: h2; }`,
			`.md-content h2::before { content: counter(h1) "." counter(h2) " "; }`,
		)
	}
	if c.opts.HeadingNumberingMaxLevel >= 3 {
		lines = append(lines,
			`.md-content h3 { counter-increment: h3; }`,
			`.md-content h3::before { content: counter(h1) "." counter(h2) "." counter(h3) " "; }`,
		)
	}
	css := "<style>\n" + strings.Join(lines, "\n") + "\n</style>"

	return `<ac:structured-macro ac:name="html"><ac:plain-text-body><![CDATA[` +
		cdataEscape(css) +
		`]]></ac:plain-text-body></ac:structured-macro>` +
		`<div class="md-content">` + fragment + `</div>`
}
