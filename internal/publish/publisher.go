package publish

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"sort"
	"strings"
	"unicode"

	"md2conf/internal/converter"
	"md2conf/internal/models"
	"md2conf/internal/parser"
	"md2conf/internal/source"
)

// childrenMacro appended to every directory page so it lists its
// descendants without manual upkeep.
const childrenMacro = `<ac:structured-macro ac:name="children"><ac:parameter ac:name="sort">title</ac:parameter></ac:structured-macro>`

// indexFileNames are probed in order for a directory's own body.
var indexFileNames = []string{"_index.md", "README.md", "readme.md"}

// Params configures a Publisher.
type Params struct {
	BaseURL string // remote base address; only its path ends up in content
	Space   string
	RootID  string // page id hosting the whole managed tree
	DocsDir string // local documents root, default "docs"

	// DomainTitles is the allowlist of top-level directories to publish,
	// mapped to their page titles (empty value means a humanized name).
	DomainTitles map[string]string
	// SectionTitles overrides section directory titles.
	SectionTitles map[string]string

	// Converter carries the rendering options. Resolver fields are
	// ignored: the publisher installs its own per pass.
	Converter converter.Options
	Reconcile ReconcileConfig
}

// Publisher drives a publish run: bootstrap discovery, skeleton build,
// document selection and the two rendering passes. Runs sequentially; the
// session indexes double as the ordering contract between passes.
type Publisher struct {
	client Client
	src    source.Provider
	rec    *Reconciler
	log    *slog.Logger
	params Params
}

func New(client Client, src source.Provider, params Params, log *slog.Logger) *Publisher {
	if params.DocsDir == "" {
		params.DocsDir = "docs"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{
		client: client,
		src:    src,
		rec:    NewReconciler(client, params.Space, params.RootID, params.Reconcile, log),
		log:    log,
		params: params,
	}
}

// newConverter builds the pass converter. The second pass closes the link
// resolver over the session's path index.
func (p *Publisher) newConverter(s *Session, withLinks bool) *converter.Converter {
	opts := p.params.Converter
	opts.LinkResolver = nil
	if withLinks {
		opts.LinkResolver = func(href, currentPath string) (string, bool) {
			return ResolveLink(p.params.BaseURL, s.PathToPage, href, currentPath)
		}
	}
	return converter.New(opts)
}

// Bootstrap discovers every managed page under the root and fills the
// session indexes: key→page from the source property, path→page for file
// keys, and the legacy label index. When a page carries both identity
// schemes the legacy label is retired on the spot, and deprecated visible
// classification labels are swept from every discovered page.
func (p *Publisher) Bootstrap(ctx context.Context, s *Session) error {
	cql := fmt.Sprintf(`ancestor=%s and type=page and label="%s"`, p.params.RootID, p.rec.cfg.ManagedLabel)
	err := p.client.SearchCQL(ctx, cql, "metadata.labels,ancestors", func(page models.Page) error {
		key := p.pageKey(ctx, page.ID)
		if key != "" {
			s.KeyToPage[key] = page.ID
			if pth, ok := strings.CutPrefix(key, "file:"); ok {
				s.PathToPage[normPosix(pth)] = page.ID
			}
		}
		for _, l := range page.Labels {
			if !strings.HasPrefix(l, legacyLabelPrefix) {
				continue
			}
			if key != "" && p.rec.cfg.MigrateSrcLabels {
				// Both identity schemes on one page: retire the label.
				p.rec.dropLabel(ctx, page.ID, l)
				continue
			}
			s.LabelToPage[l] = page.ID
		}
		if p.rec.cfg.MigrateDocLabels {
			for _, l := range legacyDocLabels {
				if slices.Contains(page.Labels, l) {
					p.rec.dropLabel(ctx, page.ID, l)
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish: bootstrap: %w", err)
	}
	p.log.Info("bootstrap complete",
		"keys", len(s.KeyToPage), "paths", len(s.PathToPage), "legacy", len(s.LabelToPage))
	return nil
}

// pageKey reads the source key from the page property, falling back to the
// older property name. Unreadable or absent properties yield "".
func (p *Publisher) pageKey(ctx context.Context, id string) string {
	for _, propKey := range []string{PropertyKey, LegacyPropertyKey} {
		prop, err := p.client.GetProperty(ctx, id, propKey)
		if err != nil || prop == nil {
			continue
		}
		if key, ok := prop.Value["key"].(string); ok && key != "" {
			return key
		}
	}
	return ""
}

// sectionKey identifies a section page by its directory names.
type sectionKey struct {
	domain, section string
}

// EnsureSkeleton creates or updates the domain and section pages and
// returns the section index. Only domains listed in DomainTitles take
// part; everything else on disk is ignored.
func (p *Publisher) EnsureSkeleton(ctx context.Context, s *Session) (map[sectionKey]string, error) {
	sections := map[sectionKey]string{}

	domains, err := p.src.ListDirs(p.params.DocsDir)
	if err != nil {
		return nil, fmt.Errorf("publish: list domains: %w", err)
	}
	sort.Strings(domains)

	for _, domain := range domains {
		domainTitle, ok := p.params.DomainTitles[domain]
		if !ok {
			continue
		}
		if domainTitle == "" {
			domainTitle = humanize(domain)
		}
		domainDir := path.Join(p.params.DocsDir, domain)
		domainID, err := p.ensureDirPage(ctx, s, domainDir, domainTitle, domainTitle, p.params.RootID, []string{"dir"})
		if err != nil {
			return nil, err
		}

		subs, err := p.src.ListDirs(domainDir)
		if err != nil {
			return nil, fmt.Errorf("publish: list sections of %s: %w", domain, err)
		}
		sort.Strings(subs)
		for _, section := range subs {
			sectionTitle := p.params.SectionTitles[section]
			if sectionTitle == "" {
				sectionTitle = humanize(section)
			}
			sectionDir := path.Join(domainDir, section)
			sectionID, err := p.ensureDirPage(ctx, s, sectionDir,
				domainTitle+" · "+sectionTitle, sectionTitle, domainID, []string{"dir", "section"})
			if err != nil {
				return nil, err
			}
			sections[sectionKey{domain, section}] = sectionID
		}
	}
	return sections, nil
}

// ensureDirPage publishes one directory page: the rendered index document
// when one exists, a placeholder line otherwise, always followed by the
// children macro. The placeholder shows rawTitle, the component title
// without any domain prefix.
func (p *Publisher) ensureDirPage(ctx context.Context, s *Session, dir, title, rawTitle, parentID string, metaLabels []string) (string, error) {
	body, indexPath, err := p.dirBody(s, dir, rawTitle)
	if err != nil {
		return "", err
	}
	id, err := p.rec.EnsurePage(ctx, s, EnsureRequest{
		Key:             "dir:" + normPosix(dir),
		Title:           title,
		ParentID:        parentID,
		Storage:         body,
		MetaLabels:      metaLabels,
		CollisionPrefix: "DOCS",
	})
	if err != nil {
		return "", err
	}
	if indexPath != "" {
		s.PathToPage[indexPath] = id
	}
	return id, nil
}

func (p *Publisher) dirBody(s *Session, dir, rawTitle string) (body, indexPath string, err error) {
	conv := p.newConverter(s, false)
	for _, name := range indexFileNames {
		pth := path.Join(dir, name)
		data, err := p.src.Read(pth)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return "", "", fmt.Errorf("publish: read %s: %w", pth, err)
		}
		res, err := conv.Convert(data, pth)
		if err != nil {
			return "", "", fmt.Errorf("publish: convert %s: %w", pth, err)
		}
		return res.Storage + childrenMacro, normPosix(pth), nil
	}
	return "<p>" + html.EscapeString(rawTitle) + "</p>" + childrenMacro, "", nil
}

// entry is one document scheduled for publishing.
type entry struct {
	path     string // normalized repository-relative path
	key      string
	parentID string
	prefix   string // collision prefix, the domain title
	oldPath  string // renames only
	oldKey   string
}

// collectEntries selects the documents to publish: the whole tree, or only
// the files named by the change list. Files outside a known domain/section
// pair are silently skipped; index files never publish as leaves.
func (p *Publisher) collectEntries(sections map[sectionKey]string, changes []Change) ([]entry, error) {
	var paths []string
	renamedFrom := map[string]string{}

	if changes == nil {
		all, err := p.src.ListFiles(p.params.DocsDir)
		if err != nil {
			return nil, fmt.Errorf("publish: list documents: %w", err)
		}
		paths = all
	} else {
		for _, ch := range changes {
			switch ch.Op {
			case OpDeleted:
				// Parsed but never applied: no remote deletion.
				continue
			case OpRenamed:
				paths = append(paths, ch.NewPath)
				renamedFrom[normPosix(ch.NewPath)] = normPosix(ch.Path)
			default:
				paths = append(paths, ch.Path)
			}
		}
	}
	sort.Strings(paths)

	var out []entry
	seen := map[string]struct{}{}
	for _, raw := range paths {
		pth := normPosix(raw)
		if _, dup := seen[pth]; dup {
			continue
		}
		seen[pth] = struct{}{}
		if isIndexFile(pth) {
			continue
		}
		e, ok := p.entryFor(pth, sections)
		if !ok {
			continue
		}
		if old, renamed := renamedFrom[pth]; renamed {
			e.oldPath = old
			e.oldKey = "file:" + old
		}
		out = append(out, e)
	}
	return out, nil
}

func (p *Publisher) entryFor(pth string, sections map[sectionKey]string) (entry, bool) {
	root := normPosix(p.params.DocsDir)
	rel, ok := strings.CutPrefix(pth, root+"/")
	if !ok {
		return entry{}, false
	}
	parts := strings.Split(rel, "/")
	if len(parts) < 3 {
		// A leaf needs at least domain/section/file.
		return entry{}, false
	}
	domain, section := parts[0], parts[1]
	parentID, ok := sections[sectionKey{domain, section}]
	if !ok {
		return entry{}, false
	}
	prefix := p.params.DomainTitles[domain]
	if prefix == "" {
		prefix = humanize(domain)
	}
	return entry{
		path:     pth,
		key:      "file:" + pth,
		parentID: parentID,
		prefix:   prefix,
	}, true
}

func isIndexFile(pth string) bool {
	base := strings.ToLower(path.Base(pth))
	return base == "_index.md" || base == "readme.md"
}

// publishEntry renders and reconciles one document. A rename pre-claims
// the old page id under the new key so the write updates the existing page
// and overwrites its stored key instead of creating an orphan twin.
func (p *Publisher) publishEntry(ctx context.Context, s *Session, conv *converter.Converter, e entry) error {
	data, err := p.src.Read(e.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			p.log.Warn("document missing, skipped", "path", e.path)
			return nil
		}
		return fmt.Errorf("publish: read %s: %w", e.path, err)
	}

	if e.oldKey != "" {
		if id, ok := s.KeyToPage[e.oldKey]; ok {
			if _, claimed := s.KeyToPage[e.key]; !claimed {
				s.KeyToPage[e.key] = id
			}
		}
	}

	res, err := conv.Convert(data, e.path)
	if err != nil {
		return fmt.Errorf("publish: convert %s: %w", e.path, err)
	}

	id, err := p.rec.EnsurePage(ctx, s, EnsureRequest{
		Key:             e.key,
		Title:           parser.GuessTitle(data, stemTitle(e.path)),
		ParentID:        e.parentID,
		Storage:         res.Storage,
		MetaLabels:      []string{"md"},
		PageLabels:      ExtractTagLabels(res.FrontMatter),
		CollisionPrefix: e.prefix,
	})
	if err != nil {
		return err
	}

	// A change list may name the same path on both sides of a rename; such
	// an entry must not unmap what was just written.
	s.PathToPage[e.path] = id
	if e.oldPath != "" && e.oldPath != e.path {
		delete(s.PathToPage, e.oldPath)
	}
	if e.oldKey != "" && e.oldKey != e.key {
		if old, ok := s.KeyToPage[e.oldKey]; ok && old == id {
			delete(s.KeyToPage, e.oldKey)
		}
	}
	p.log.Debug("published document", "path", e.path, "page", id, "checksum", res.Checksum)
	return nil
}

// PublishAll publishes the tree, or only the documents named by changes
// when non-nil. passes selects a single plain pass or the full two-pass
// run whose second pass rewrites cross-document links.
func (p *Publisher) PublishAll(ctx context.Context, s *Session, passes int, changes []Change) error {
	if err := p.Bootstrap(ctx, s); err != nil {
		return err
	}
	sections, err := p.EnsureSkeleton(ctx, s)
	if err != nil {
		return err
	}
	entries, err := p.collectEntries(sections, changes)
	if err != nil {
		return err
	}
	p.log.Info("publishing documents", "count", len(entries), "passes", passes)

	plain := p.newConverter(s, false)
	for _, e := range entries {
		if err := p.publishEntry(ctx, s, plain, e); err != nil {
			return err
		}
	}
	if passes < 2 {
		return nil
	}

	// Pass 2 re-renders against the now-complete path index. Renames were
	// already retargeted in pass 1.
	linked := p.newConverter(s, true)
	for i := range entries {
		entries[i].oldKey, entries[i].oldPath = "", ""
		if err := p.publishEntry(ctx, s, linked, entries[i]); err != nil {
			return err
		}
	}
	return nil
}

// PublishFile publishes a single document plus the skeleton it hangs off.
// Cross-document links resolve only against pages already known from
// bootstrap, since no tree-wide first pass runs here.
func (p *Publisher) PublishFile(ctx context.Context, s *Session, mdPath string, passes int) error {
	if err := p.Bootstrap(ctx, s); err != nil {
		return err
	}
	sections, err := p.EnsureSkeleton(ctx, s)
	if err != nil {
		return err
	}
	e, ok := p.entryFor(normPosix(mdPath), sections)
	if !ok {
		return fmt.Errorf("publish: %s is not under a known domain/section", mdPath)
	}
	// Unlike a change-list entry, an explicitly named document must exist.
	if _, err := p.src.Read(e.path); err != nil {
		return fmt.Errorf("publish: read %s: %w", e.path, err)
	}
	return p.publishEntry(ctx, s, p.newConverter(s, passes >= 2), e)
}

// CleanupManaged lists every managed page under the root; with del set it
// also deletes them, deepest first so parents never vanish before their
// children.
func (p *Publisher) CleanupManaged(ctx context.Context, del bool) ([]models.Page, error) {
	cql := fmt.Sprintf(`ancestor=%s and type=page and label="%s"`, p.params.RootID, p.rec.cfg.ManagedLabel)
	var pages []models.Page
	err := p.client.SearchCQL(ctx, cql, "ancestors", func(page models.Page) error {
		pages = append(pages, page)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("publish: cleanup search: %w", err)
	}
	if !del {
		return pages, nil
	}
	sort.SliceStable(pages, func(i, j int) bool {
		return len(pages[i].Ancestors) > len(pages[j].Ancestors)
	})
	for _, page := range pages {
		if err := p.client.DeletePage(ctx, page.ID); err != nil {
			return nil, err
		}
		p.log.Info("deleted managed page", "id", page.ID, "title", page.Title)
	}
	return pages, nil
}

// stemTitle derives the fallback title from the filename.
func stemTitle(pth string) string {
	base := path.Base(pth)
	return strings.TrimSuffix(base, path.Ext(base))
}

// humanize turns a directory name into a title: underscores and dashes
// become spaces, first letter upper-cased.
func humanize(name string) string {
	out := strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(name))
	if out == "" {
		return name
	}
	r := []rune(out)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
