package converter

import (
	"bytes"
	"path"
	"strconv"
	"strings"

	"github.com/yuin/goldmark/ast"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

// storageRenderer overrides the default HTML rendering for the node kinds
// that map to Confluence specific markup. One instance serves exactly one
// conversion: it accumulates the attachment set and carries the current
// document path for the resolver strategies.
type storageRenderer struct {
	conv        *Converter
	currentPath string
	attachments map[string]struct{}
}

func (r *storageRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindFencedCodeBlock, r.renderFencedCodeBlock)
	reg.Register(ast.KindCodeBlock, r.renderCodeBlock)
	reg.Register(ast.KindImage, r.renderImage)
	reg.Register(ast.KindLink, r.renderLink)
	reg.Register(ast.KindHTMLBlock, r.renderHTMLBlock)
	reg.Register(ast.KindRawHTML, r.renderRawHTML)
	reg.Register(east.KindTaskCheckBox, r.renderTaskCheckBox)
}

func (r *storageRenderer) renderFencedCodeBlock(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.FencedCodeBlock)
	lang := ""
	if l := n.Language(source); l != nil {
		lang = string(l)
	}
	r.writeCodeMacro(w, lang, blockText(n, source))
	return ast.WalkContinue, nil
}

func (r *storageRenderer) renderCodeBlock(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	r.writeCodeMacro(w, "", blockText(node, source))
	return ast.WalkContinue, nil
}

func (r *storageRenderer) writeCodeMacro(w util.BufWriter, lang, code string) {
	_, _ = w.WriteString(`<ac:structured-macro ac:name="code">`)
	if lang != "" {
		_, _ = w.WriteString(`<ac:parameter ac:name="language">` + escapeText(lang) + `</ac:parameter>`)
	}
	_, _ = w.WriteString(`<ac:parameter ac:name="theme">` + escapeText(r.conv.opts.CodeTheme) + `</ac:parameter>`)
	_, _ = w.WriteString(`<ac:parameter ac:name="linenumbers">` + strconv.FormatBool(r.conv.opts.CodeLineNumbers) + `</ac:parameter>`)
	_, _ = w.WriteString(`<ac:plain-text-body><![CDATA[` + cdataEscape(code) + `]]></ac:plain-text-body></ac:structured-macro>` + "\n")
}

func (r *storageRenderer) renderImage(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.Image)
	src := strings.TrimSpace(string(n.Destination))
	if src == "" {
		// An image without a source renders to nothing.
		return ast.WalkSkipChildren, nil
	}
	ref := r.conv.resolveImage(src, r.currentPath)

	_, _ = w.WriteString(`<ac:image`)
	if alt := strings.TrimSpace(string(n.Text(source))); alt != "" {
		_, _ = w.WriteString(` ac:alt="` + escapeAttr(alt) + `"`)
	}
	_, _ = w.WriteString(`>`)
	switch ref.Kind {
	case ImageURL:
		_, _ = w.WriteString(`<ri:url ri:value="` + escapeAttr(ref.Value) + `" />`)
	default:
		filename := path.Base(ref.Value)
		r.attachments[filename] = struct{}{}
		_, _ = w.WriteString(`<ri:attachment ri:filename="` + escapeAttr(filename) + `" />`)
	}
	_, _ = w.WriteString(`</ac:image>`)
	return ast.WalkSkipChildren, nil
}

func (r *storageRenderer) renderLink(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	n := node.(*ast.Link)
	if !entering {
		_, _ = w.WriteString(`</a>`)
		return ast.WalkContinue, nil
	}

	href := strings.TrimSpace(string(n.Destination))
	visible := href
	resolved := false
	if href != "" && r.conv.opts.LinkResolver != nil {
		if v, ok := r.conv.opts.LinkResolver(href, r.currentPath); ok && v != "" {
			visible = v
			resolved = true
		}
	}

	_, _ = w.WriteString(`<a href="` + escapeAttr(visible) + `"`)
	if n.Title != nil {
		_, _ = w.WriteString(` title="` + escapeAttr(string(n.Title)) + `"`)
	}
	if !resolved && isInternalDocHref(href) {
		// Unresolved document links keep the original target in a data
		// attribute so a later pass can rewrite them once the page exists.
		_, _ = w.WriteString(` data-source-href="` + escapeAttr(href) + `"`)
	}
	_, _ = w.WriteString(`>`)
	return ast.WalkContinue, nil
}

// isInternalDocHref reports whether href points at a Markdown document in
// the source tree, making it a candidate for the resolution pass.
func isInternalDocHref(href string) bool {
	l := strings.ToLower(href)
	return strings.HasSuffix(l, ".md") || strings.Contains(l, ".md#")
}

// renderHTMLBlock writes raw HTML as escaped literal text. Storage format
// is strict XHTML and does not accept arbitrary tags.
func (r *storageRenderer) renderHTMLBlock(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.HTMLBlock)
	_, _ = w.WriteString(escapeText(blockText(n, source)))
	if n.HasClosure() {
		_, _ = w.WriteString(escapeText(string(n.ClosureLine.Value(source))))
	}
	return ast.WalkContinue, nil
}

func (r *storageRenderer) renderRawHTML(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.RawHTML)
	for i := 0; i < n.Segments.Len(); i++ {
		seg := n.Segments.At(i)
		_, _ = w.WriteString(escapeText(string(seg.Value(source))))
	}
	return ast.WalkSkipChildren, nil
}

func (r *storageRenderer) renderTaskCheckBox(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*east.TaskCheckBox)
	if n.IsChecked {
		_, _ = w.WriteString("☑ ")
	} else {
		_, _ = w.WriteString("☐ ")
	}
	return ast.WalkContinue, nil
}

// blockText joins the source lines of a block node.
func blockText(n ast.Node, source []byte) string {
	var b bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(source))
	}
	return b.String()
}
