// Package converter renders Markdown documents into Confluence storage
// format: XHTML fragments carrying Confluence macros for code blocks,
// images, tables of contents and page metadata.
package converter

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/util"

	"md2conf/internal/checksum"
	"md2conf/internal/parser"
)

// LinkResolver rewrites a link href. ok reports whether the link was
// resolved; unresolved internal document links keep their original href and
// are marked for a later pass.
type LinkResolver func(href, currentPath string) (string, bool)

// ImageRefKind selects how an image source is referenced remotely.
type ImageRefKind int

const (
	// ImageAttachment references an attachment of the current page by
	// filename.
	ImageAttachment ImageRefKind = iota
	// ImageURL references an external URL.
	ImageURL
)

// ImageRef is the outcome of resolving an image source.
type ImageRef struct {
	Kind  ImageRefKind
	Value string
}

// ImageResolver decides how an image source maps to a remote reference.
type ImageResolver func(src, currentPath string) ImageRef

// Options configures a Converter. Zero values for numeric and string fields
// fall back to the usual defaults in New; boolean toggles default off.
type Options struct {
	LinkResolver  LinkResolver
	ImageResolver ImageResolver

	// Table of contents injection.
	InjectTOC   bool
	TOCMinLevel int    // default 1
	TOCMaxLevel int    // default 3
	TOCType     string // default "list"
	TOCStyle    string // default "none": no bullets or numbering
	TOCOutline  bool   // section numbers inside the TOC itself

	// Heading structure normalization.
	StripTitleH1        bool // first H1 becomes the page title, removed from body
	PromoteHeadings     bool // H2→H1, H3→H2, ...
	StripHeadingNumbers bool // remove manual "1.", "1.1", "1)" prefixes

	// Heading numbering. In-text numbering rewrites the heading text during
	// normalization; CSS numbering is visual only and needs the html macro
	// enabled on the Confluence side. Both may be requested at once.
	HeadingNumberingInText   bool
	HeadingNumberingCSS      bool
	HeadingNumberingMaxLevel int // default 3, clamped to 1..6

	// Code block macro parameters.
	CodeTheme       string // default "Default"
	CodeLineNumbers bool

	// Markdown extensions to enable, by registry name. nil enables the
	// full default set.
	Extensions []string
}

// Result is the outcome of one conversion.
type Result struct {
	Storage     string
	FrontMatter map[string]any
	Attachments []string // referenced attachment filenames, sorted
	Checksum    string   // sha256 of the final fragment
}

var extensionRegistry = map[string]goldmark.Extender{
	"table":         extension.Table,
	"strikethrough": extension.Strikethrough,
	"tasklist":      extension.TaskList,
	"footnote":      extension.Footnote,
	"linkify":       extension.Linkify,
}

func defaultExtensions() []string {
	return []string{"table", "strikethrough", "tasklist", "footnote", "linkify"}
}

// Converter converts Markdown to Confluence storage format. A Converter is
// immutable after New and safe to reuse across documents.
type Converter struct {
	opts Options
}

// New creates a Converter, filling in defaults for unset option fields.
func New(opts Options) *Converter {
	if opts.TOCMinLevel == 0 {
		opts.TOCMinLevel = 1
	}
	if opts.TOCMaxLevel == 0 {
		opts.TOCMaxLevel = 3
	}
	if opts.TOCType == "" {
		opts.TOCType = "list"
	}
	if opts.TOCStyle == "" {
		opts.TOCStyle = "none"
	}
	if opts.HeadingNumberingMaxLevel == 0 {
		opts.HeadingNumberingMaxLevel = 3
	}
	if opts.HeadingNumberingMaxLevel < 1 {
		opts.HeadingNumberingMaxLevel = 1
	}
	if opts.HeadingNumberingMaxLevel > 6 {
		opts.HeadingNumberingMaxLevel = 6
	}
	if opts.CodeTheme == "" {
		opts.CodeTheme = "Default"
	}
	if opts.Extensions == nil {
		opts.Extensions = defaultExtensions()
	}
	return &Converter{opts: opts}
}

// Convert renders one Markdown document. currentPath is the repository
// relative path of the document, passed to the resolver strategies; it may
// be empty when the document has no tree position (ad-hoc conversion).
func (c *Converter) Convert(src []byte, currentPath string) (*Result, error) {
	fm, body := parser.SplitFrontMatter(src)

	body = c.normalizeMarkdown(body)
	if !c.hasTaskList() {
		body = taskListFallback(body)
	}

	rend := &storageRenderer{
		conv:        c,
		currentPath: currentPath,
		attachments: map[string]struct{}{},
	}
	var buf bytes.Buffer
	if err := c.engine(rend).Convert([]byte(body), &buf); err != nil {
		return nil, fmt.Errorf("converter: render markdown: %w", err)
	}
	storage := buf.String()

	// In-text heading numbering was already applied during normalization;
	// nothing may re-number here.
	if c.opts.HeadingNumberingCSS {
		storage = c.wrapWithNumberingCSS(storage)
	}

	// The metadata panel sits at the very top; the TOC follows it after a
	// spacer paragraph, or opens the document when no panel exists.
	panel := metadataPanel(fm)
	switch {
	case panel != "" && c.opts.InjectTOC:
		storage = panel + spacerParagraph + c.tocMacro() + storage
	case panel != "":
		storage = panel + storage
	case c.opts.InjectTOC:
		storage = c.tocMacro() + storage
	}

	storage = strings.TrimSpace(storage)

	atts := make([]string, 0, len(rend.attachments))
	for name := range rend.attachments {
		atts = append(atts, name)
	}
	sort.Strings(atts)

	return &Result{
		Storage:     storage,
		FrontMatter: fm,
		Attachments: atts,
		Checksum:    checksum.Sum([]byte(storage)),
	}, nil
}

// engine assembles a goldmark instance bound to one conversion. The custom
// node renderer carries per-call state (attachments, current path), so the
// engine is rebuilt per document.
func (c *Converter) engine(r *storageRenderer) goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(c.extenders()...),
		goldmark.WithRendererOptions(
			html.WithXHTML(),
			renderer.WithNodeRenderers(util.Prioritized(r, 100)),
		),
	)
}

func (c *Converter) extenders() []goldmark.Extender {
	var out []goldmark.Extender
	for _, name := range c.opts.Extensions {
		if ext, ok := extensionRegistry[name]; ok {
			out = append(out, ext)
		}
	}
	return out
}

func (c *Converter) hasTaskList() bool {
	for _, name := range c.opts.Extensions {
		if name == "tasklist" {
			return true
		}
	}
	return false
}

func (c *Converter) resolveImage(src, currentPath string) ImageRef {
	if c.opts.ImageResolver != nil {
		return c.opts.ImageResolver(src, currentPath)
	}
	// Default strategy: absolute http(s) sources stay external, everything
	// else becomes a same-page attachment.
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return ImageRef{Kind: ImageURL, Value: src}
	}
	return ImageRef{Kind: ImageAttachment, Value: src}
}
