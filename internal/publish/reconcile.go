package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"md2conf/internal/apperr"
	"md2conf/internal/checksum"
	"md2conf/internal/models"
)

// Session carries the mutable identity indexes shared by bootstrap, the
// reconciler and the two publish passes. One publish run owns one Session;
// the maps are not safe for concurrent use.
type Session struct {
	KeyToPage   map[string]string // source key → page id
	PathToPage  map[string]string // document path → page id, feeds link resolution
	LabelToPage map[string]string // legacy src-* label → page id
}

func NewSession() *Session {
	return &Session{
		KeyToPage:   map[string]string{},
		PathToPage:  map[string]string{},
		LabelToPage: map[string]string{},
	}
}

// ReconcileConfig tunes identity resolution.
type ReconcileConfig struct {
	// ManagedLabel marks pages owned by the publisher; empty selects
	// DefaultManagedLabel.
	ManagedLabel string
	// AdoptByTitle lets the reconciler claim an existing same-title page
	// under the root instead of creating a duplicate.
	AdoptByTitle bool
	// MigrateSrcLabels removes the deprecated src-* identity labels from
	// pages also reachable through the source property. The legacy label
	// lookup itself is always on.
	MigrateSrcLabels bool
	// MigrateDocLabels removes deprecated visible classification labels
	// after each write.
	MigrateDocLabels bool
}

// Reconciler maps one desired (key, title, parent, body) tuple onto exactly
// one remote page: update when the key is known under any identity scheme,
// adopt an existing page by title when allowed, create otherwise.
type Reconciler struct {
	client Client
	log    *slog.Logger

	space  string
	rootID string
	cfg    ReconcileConfig
}

func NewReconciler(client Client, space, rootID string, cfg ReconcileConfig, log *slog.Logger) *Reconciler {
	if cfg.ManagedLabel == "" {
		cfg.ManagedLabel = DefaultManagedLabel
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{client: client, log: log, space: space, rootID: rootID, cfg: cfg}
}

// EnsureRequest describes one desired page.
type EnsureRequest struct {
	Key      string
	Title    string
	ParentID string
	Storage  string

	// MetaLabels classify the source entity ("md", "dir", "section"); they
	// are stored inside the hidden property, not as visible labels.
	MetaLabels []string
	// PageLabels are visible labels added to the page (document tags).
	PageLabels []string
	// CollisionPrefix forms the "<prefix> · <title>" fallback candidate
	// when the bare title is taken.
	CollisionPrefix string
}

// legacyLabelFor derives the deprecated identity label for a key.
func legacyLabelFor(key string) string {
	return legacyLabelPrefix + checksum.SHA1(key)[:12]
}

// titleCandidates returns the ordered candidate titles for a page: the bare
// title, a prefixed variant, and a hash-suffixed variant that cannot
// collide across distinct keys.
func titleCandidates(key, title, prefix string) []string {
	candidates := []string{title}
	if prefix != "" && !strings.HasPrefix(title, prefix) {
		candidates = append(candidates, prefix+" · "+title)
	}
	candidates = append(candidates, fmt.Sprintf("%s [%s]", title, checksum.SHA1(key)[:6]))

	seen := make(map[string]struct{}, len(candidates))
	out := candidates[:0]
	for _, c := range candidates {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// EnsurePage finds or creates the remote page for req.Key and brings its
// title, parent, body, labels and source property up to date. Repeated
// calls with the same key settle on the same page id.
func (r *Reconciler) EnsurePage(ctx context.Context, s *Session, req EnsureRequest) (string, error) {
	candidates := titleCandidates(req.Key, req.Title, req.CollisionPrefix)
	legacy := legacyLabelFor(req.Key)

	// Key already indexed: found by bootstrap or written earlier this run.
	if id, ok := s.KeyToPage[req.Key]; ok {
		usedTitle, err := r.tryUpdate(ctx, id, req, candidates)
		if err != nil {
			return "", err
		}
		return id, r.finishWrite(ctx, s, id, usedTitle, req)
	}

	// Legacy label index. The lookup always runs; only the one-way label
	// cleanup is gated.
	if id, ok := s.LabelToPage[legacy]; ok {
		usedTitle, err := r.tryUpdate(ctx, id, req, candidates)
		if err != nil {
			return "", err
		}
		if r.cfg.MigrateSrcLabels {
			r.dropLabel(ctx, id, legacy)
		}
		delete(s.LabelToPage, legacy)
		return id, r.finishWrite(ctx, s, id, usedTitle, req)
	}

	// Adoption of a pre-existing page by exact title under the root.
	if r.cfg.AdoptByTitle {
		id, err := r.findAdoptable(ctx, candidates[0])
		if err != nil {
			return "", err
		}
		if id != "" {
			usedTitle, err := r.tryUpdate(ctx, id, req, candidates)
			if err != nil {
				return "", err
			}
			r.dropLabel(ctx, id, legacy)
			return id, r.finishWrite(ctx, s, id, usedTitle, req)
		}
	}

	id, usedTitle, err := r.tryCreate(ctx, req, candidates)
	if err != nil {
		return "", err
	}
	return id, r.finishWrite(ctx, s, id, usedTitle, req)
}

// tryUpdate updates the page under each candidate title until one does not
// collide. Returns the title that stuck.
func (r *Reconciler) tryUpdate(ctx context.Context, id string, req EnsureRequest, candidates []string) (string, error) {
	var lastErr error
	for _, title := range candidates {
		err := r.client.UpdatePage(ctx, id, r.space, req.ParentID, title, req.Storage)
		if err == nil {
			return title, nil
		}
		if !errors.Is(err, apperr.ErrTitleExists) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("publish: title candidates exhausted for %q: %w", req.Key, lastErr)
}

// tryCreate creates the page, falling back through candidate titles. With
// adoption enabled a colliding occupant is additionally offered for
// adoption before the next candidate is tried; with adoption off the
// occupant is never touched.
func (r *Reconciler) tryCreate(ctx context.Context, req EnsureRequest, candidates []string) (string, string, error) {
	var lastErr error
	for _, title := range candidates {
		id, err := r.client.CreatePage(ctx, r.space, req.ParentID, title, req.Storage)
		if err == nil {
			return id, title, nil
		}
		if !errors.Is(err, apperr.ErrTitleExists) {
			return "", "", err
		}
		lastErr = err

		if !r.cfg.AdoptByTitle {
			continue
		}
		adoptID, aerr := r.findAdoptable(ctx, title)
		if aerr != nil {
			return "", "", aerr
		}
		if adoptID != "" {
			usedTitle, uerr := r.tryUpdate(ctx, adoptID, req, []string{title})
			if uerr == nil {
				return adoptID, usedTitle, nil
			}
			if !errors.Is(uerr, apperr.ErrTitleExists) {
				return "", "", uerr
			}
			lastErr = uerr
		}
	}
	return "", "", fmt.Errorf("publish: title candidates exhausted for %q: %w", req.Key, lastErr)
}

// findAdoptable looks for an existing page with this exact title under the
// configured root. Returns "" when there is none.
func (r *Reconciler) findAdoptable(ctx context.Context, title string) (string, error) {
	p, err := r.client.FindPageByTitle(ctx, r.space, title, "ancestors,metadata.labels")
	if err != nil {
		return "", err
	}
	if p == nil {
		return "", nil
	}
	for _, anc := range p.Ancestors {
		if anc == r.rootID {
			return p.ID, nil
		}
	}
	return "", nil
}

// dropLabel removes a label best-effort: cosmetic cleanup must never fail
// the publish.
func (r *Reconciler) dropLabel(ctx context.Context, id, label string) {
	if err := r.client.DeleteLabel(ctx, id, label); err != nil {
		r.log.Debug("label cleanup failed", "page", id, "label", label, "error", err)
	}
}

// finishWrite records the key in the session and applies the write side
// effects: the managed marker plus visible labels, the source property
// under both names, and removal of deprecated classification labels.
func (r *Reconciler) finishWrite(ctx context.Context, s *Session, id, usedTitle string, req EnsureRequest) error {
	s.KeyToPage[req.Key] = id

	labels := append([]string{r.cfg.ManagedLabel}, req.PageLabels...)
	if err := r.client.AddLabels(ctx, id, labels); err != nil {
		return err
	}

	meta := models.SourceMeta{
		Key:        req.Key,
		Title:      usedTitle,
		SrcHash:    checksum.SHA1(req.Key)[:12],
		MetaLabels: normalizeMetaLabels(req.MetaLabels),
	}
	if err := r.client.PutProperty(ctx, id, PropertyKey, meta); err != nil {
		return err
	}
	if err := r.client.PutProperty(ctx, id, LegacyPropertyKey, meta); err != nil {
		return err
	}

	if r.cfg.MigrateDocLabels {
		for _, l := range legacyDocLabels {
			r.dropLabel(ctx, id, l)
		}
	}
	return nil
}

func normalizeMetaLabels(in []string) []string {
	out := make([]string, 0, len(in))
	for _, l := range in {
		l = strings.ToLower(strings.TrimSpace(l))
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}
