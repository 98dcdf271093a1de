package publish

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"md2conf/internal/apperr"
	"md2conf/internal/checksum"
)

func newTestReconciler(f *fakeStore, cfg ReconcileConfig) *Reconciler {
	return NewReconciler(f, "DOC", "1", cfg, discardLogger())
}

func TestTitleCandidates(t *testing.T) {
	got := titleCandidates("file:docs/a/b.md", "Design", "Core")
	if len(got) != 3 {
		t.Fatalf("candidates = %v, want 3", got)
	}
	if got[0] != "Design" {
		t.Errorf("first = %q, want bare title", got[0])
	}
	if got[1] != "Core · Design" {
		t.Errorf("second = %q, want prefixed", got[1])
	}
	wantSuffix := " [" + checksum.SHA1("file:docs/a/b.md")[:6] + "]"
	if !strings.HasSuffix(got[2], wantSuffix) {
		t.Errorf("third = %q, want hash suffix %q", got[2], wantSuffix)
	}

	// A title already carrying the prefix skips the prefixed candidate.
	got = titleCandidates("file:docs/a/b.md", "Core · Design", "Core")
	if len(got) != 2 {
		t.Errorf("prefixed title candidates = %v, want 2", got)
	}

	// Same input, same sequence.
	again := titleCandidates("file:docs/a/b.md", "Design", "Core")
	for i := range again {
		if again[i] != titleCandidates("file:docs/a/b.md", "Design", "Core")[i] {
			t.Fatalf("candidate order not deterministic")
		}
	}
}

func TestEnsurePageCreates(t *testing.T) {
	f := newFakeStore()
	r := newTestReconciler(f, ReconcileConfig{})
	s := NewSession()

	id, err := r.EnsurePage(context.Background(), s, EnsureRequest{
		Key:        "file:docs/core/api/design.md",
		Title:      "Design",
		ParentID:   "1",
		Storage:    "<p>x</p>",
		MetaLabels: []string{"MD "},
		PageLabels: []string{"proto"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, ok := f.pages[id]
	if !ok {
		t.Fatalf("page %s not created", id)
	}
	if p.title != "Design" {
		t.Errorf("title = %q, want bare title", p.title)
	}
	for _, want := range []string{DefaultManagedLabel, "proto"} {
		found := false
		for _, l := range p.labels {
			if l == want {
				found = true
			}
		}
		if !found {
			t.Errorf("label %q missing, have %v", want, p.labels)
		}
	}
	for _, propKey := range []string{PropertyKey, LegacyPropertyKey} {
		prop := p.props[propKey]
		if prop == nil {
			t.Fatalf("property %s not written", propKey)
		}
		if prop.Value["key"] != "file:docs/core/api/design.md" {
			t.Errorf("%s key = %v", propKey, prop.Value["key"])
		}
		if prop.Value["src_hash"] != checksum.SHA1("file:docs/core/api/design.md")[:12] {
			t.Errorf("%s src_hash = %v", propKey, prop.Value["src_hash"])
		}
		meta, _ := prop.Value["meta_labels"].([]any)
		if len(meta) != 1 || meta[0] != "md" {
			t.Errorf("%s meta_labels = %v, want [md]", propKey, prop.Value["meta_labels"])
		}
	}
	if s.KeyToPage["file:docs/core/api/design.md"] != id {
		t.Errorf("session key index not updated")
	}
}

func TestEnsurePageUpdatesKnownKey(t *testing.T) {
	f := newFakeStore()
	f.seedPage("50", "Old Title", "1")
	r := newTestReconciler(f, ReconcileConfig{})
	s := NewSession()
	s.KeyToPage["dir:docs/core"] = "50"

	id, err := r.EnsurePage(context.Background(), s, EnsureRequest{
		Key: "dir:docs/core", Title: "Core", ParentID: "1", Storage: "<p/>",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "50" {
		t.Errorf("id = %q, want 50", id)
	}
	if len(f.created) != 0 {
		t.Errorf("created = %v, want none", f.created)
	}
	if f.pages["50"].title != "Core" {
		t.Errorf("title = %q, want Core", f.pages["50"].title)
	}
	if f.updated["50"] != 1 {
		t.Errorf("updates = %d, want 1", f.updated["50"])
	}
}

func TestEnsurePageMigratesLegacyLabel(t *testing.T) {
	key := "file:docs/core/api/design.md"
	legacy := legacyLabelFor(key)

	f := newFakeStore()
	f.seedPage("60", "Design", "1", legacy)
	r := newTestReconciler(f, ReconcileConfig{MigrateSrcLabels: true})
	s := NewSession()
	s.LabelToPage[legacy] = "60"

	id, err := r.EnsurePage(context.Background(), s, EnsureRequest{
		Key: key, Title: "Design", ParentID: "1", Storage: "<p/>",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "60" {
		t.Errorf("id = %q, want legacy-labeled page 60", id)
	}
	if len(f.created) != 0 {
		t.Errorf("created = %v, want none", f.created)
	}
	found := false
	for _, d := range f.deletedLabels {
		if d == "60:"+legacy {
			found = true
		}
	}
	if !found {
		t.Errorf("legacy label not deleted: %v", f.deletedLabels)
	}
	if _, ok := s.LabelToPage[legacy]; ok {
		t.Errorf("legacy index entry not removed")
	}
	if s.KeyToPage[key] != "60" {
		t.Errorf("key not installed in primary index")
	}
}

func TestEnsurePageLegacyLookupWithMigrationOff(t *testing.T) {
	key := "file:docs/core/api/design.md"
	legacy := legacyLabelFor(key)

	f := newFakeStore()
	f.seedPage("70", "Old Title", "1", legacy)
	r := newTestReconciler(f, ReconcileConfig{})
	s := NewSession()
	s.LabelToPage[legacy] = "70"

	id, err := r.EnsurePage(context.Background(), s, EnsureRequest{
		Key: key, Title: "New Title", ParentID: "1", Storage: "<p/>",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "70" {
		t.Errorf("id = %q, want legacy-labeled page 70", id)
	}
	if len(f.pages) != 1 {
		t.Errorf("pages = %d, want the one legacy page", len(f.pages))
	}
	if len(f.created) != 0 {
		t.Errorf("created = %v, want none", f.created)
	}
	// Migration off means the label stays on the page.
	kept := false
	for _, l := range f.pages["70"].labels {
		if l == legacy {
			kept = true
		}
	}
	if !kept {
		t.Errorf("legacy label removed with migration off: %v", f.pages["70"].labels)
	}
	for _, d := range f.deletedLabels {
		if d == "70:"+legacy {
			t.Errorf("legacy label delete attempted with migration off")
		}
	}
	if s.KeyToPage[key] != "70" {
		t.Errorf("key not installed in primary index")
	}
}

func TestEnsurePageAdoptsByTitle(t *testing.T) {
	f := newFakeStore()
	f.seedPage("70", "Guide", "1")
	r := newTestReconciler(f, ReconcileConfig{AdoptByTitle: true})
	s := NewSession()

	id, err := r.EnsurePage(context.Background(), s, EnsureRequest{
		Key: "file:docs/core/api/guide.md", Title: "Guide", ParentID: "1", Storage: "<p/>",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "70" {
		t.Errorf("id = %q, want adopted page 70", id)
	}
	if len(f.created) != 0 {
		t.Errorf("created = %v, want none", f.created)
	}
	if f.pages["70"].props[PropertyKey] == nil {
		t.Errorf("adopted page did not receive source property")
	}
}

func TestEnsurePageDoesNotAdoptOutsideRoot(t *testing.T) {
	f := newFakeStore()
	// Same title, but parented outside the managed root.
	f.seedPage("80", "Guide", "999")
	r := newTestReconciler(f, ReconcileConfig{AdoptByTitle: true})
	s := NewSession()

	id, err := r.EnsurePage(context.Background(), s, EnsureRequest{
		Key: "file:docs/core/api/guide.md", Title: "Guide", ParentID: "1", Storage: "<p/>",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "80" {
		t.Fatalf("adopted a page outside the root")
	}
	// The bare title is taken, so the created page carries the hash suffix.
	if !strings.HasPrefix(f.pages[id].title, "Guide [") {
		t.Errorf("title = %q, want hash-suffixed variant", f.pages[id].title)
	}
}

func TestEnsurePageCollisionFallsBackToPrefix(t *testing.T) {
	f := newFakeStore()
	f.seedPage("90", "Design", "999")
	r := newTestReconciler(f, ReconcileConfig{})
	s := NewSession()

	id, err := r.EnsurePage(context.Background(), s, EnsureRequest{
		Key: "file:docs/core/api/design.md", Title: "Design", ParentID: "1",
		Storage: "<p/>", CollisionPrefix: "Core",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.pages[id].title != "Core · Design" {
		t.Errorf("title = %q, want prefixed candidate", f.pages[id].title)
	}
}

func TestEnsurePageCreateCollisionHonorsAdoptionGate(t *testing.T) {
	f := newFakeStore()
	// The occupant sits under the managed root, so it would be adoptable.
	f.seedPage("80", "Design", "1").storage = "<p>theirs</p>"
	r := newTestReconciler(f, ReconcileConfig{AdoptByTitle: false})
	s := NewSession()

	id, err := r.EnsurePage(context.Background(), s, EnsureRequest{
		Key: "file:docs/core/api/design.md", Title: "Design", ParentID: "1",
		Storage: "<p>ours</p>", CollisionPrefix: "Core",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "80" {
		t.Fatalf("adopted page 80 with adoption disabled")
	}
	if f.pages["80"].storage != "<p>theirs</p>" {
		t.Errorf("occupant body overwritten: %q", f.pages["80"].storage)
	}
	if f.updated["80"] != 0 {
		t.Errorf("occupant updated %d times, want untouched", f.updated["80"])
	}
	if f.pages[id].title != "Core · Design" {
		t.Errorf("title = %q, want prefixed candidate", f.pages[id].title)
	}
}

func TestEnsurePageCreateCollisionAdoptsUnderRoot(t *testing.T) {
	f := newFakeStore()
	// The bare title is taken outside the root, the prefixed one inside.
	f.seedPage("300", "Design", "999")
	f.seedPage("301", "Core · Design", "1")
	r := newTestReconciler(f, ReconcileConfig{AdoptByTitle: true})
	s := NewSession()

	id, err := r.EnsurePage(context.Background(), s, EnsureRequest{
		Key: "file:docs/core/api/design.md", Title: "Design", ParentID: "1",
		Storage: "<p>ours</p>", CollisionPrefix: "Core",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "301" {
		t.Errorf("id = %q, want the page under the root", id)
	}
	if len(f.created) != 0 {
		t.Errorf("created = %v, want none", f.created)
	}
	if f.pages["301"].storage != "<p>ours</p>" {
		t.Errorf("adopted page body not updated: %q", f.pages["301"].storage)
	}
}

func TestEnsurePageUpdateCollisionWalksCandidates(t *testing.T) {
	f := newFakeStore()
	f.seedPage("95", "Design", "999") // owns the bare title
	f.seedPage("96", "Stale", "1")
	r := newTestReconciler(f, ReconcileConfig{})
	s := NewSession()
	s.KeyToPage["file:docs/core/api/design.md"] = "96"

	id, err := r.EnsurePage(context.Background(), s, EnsureRequest{
		Key: "file:docs/core/api/design.md", Title: "Design", ParentID: "1",
		Storage: "<p/>", CollisionPrefix: "Core",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "96" {
		t.Errorf("id = %q, want indexed page 96", id)
	}
	if f.pages["96"].title != "Core · Design" {
		t.Errorf("title = %q, want prefixed candidate", f.pages["96"].title)
	}
}

func TestEnsurePageCandidatesExhausted(t *testing.T) {
	key := "file:docs/core/api/design.md"
	f := newFakeStore()
	// Occupy every candidate title outside the root so nothing is
	// adoptable and nothing is writable.
	for i, title := range titleCandidates(key, "Design", "Core") {
		f.seedPage("20"+strconv.Itoa(i), title, "999")
	}
	r := newTestReconciler(f, ReconcileConfig{})
	s := NewSession()

	_, err := r.EnsurePage(context.Background(), s, EnsureRequest{
		Key: key, Title: "Design", ParentID: "1", Storage: "<p/>", CollisionPrefix: "Core",
	})
	if !errors.Is(err, apperr.ErrTitleExists) {
		t.Fatalf("err = %v, want wrapped ErrTitleExists", err)
	}
}

func TestEnsurePageIdempotent(t *testing.T) {
	f := newFakeStore()
	r := newTestReconciler(f, ReconcileConfig{})
	s := NewSession()
	req := EnsureRequest{Key: "file:docs/a/b/x.md", Title: "X", ParentID: "1", Storage: "<p/>"}

	first, err := r.EnsurePage(context.Background(), s, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := r.EnsurePage(context.Background(), s, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Errorf("ids differ: %s vs %s", first, second)
	}
	if len(f.pages) != 1 {
		t.Errorf("pages = %d, want 1", len(f.pages))
	}
}

func TestEnsurePagePropagatesNonCollisionErrors(t *testing.T) {
	f := newFakeStore()
	r := newTestReconciler(f, ReconcileConfig{})
	s := NewSession()
	// The index points at a page that no longer exists; the resulting
	// update failure is not a collision and must surface.
	s.KeyToPage["file:docs/a/b/x.md"] = "404"

	_, err := r.EnsurePage(context.Background(), s, EnsureRequest{
		Key: "file:docs/a/b/x.md", Title: "X", ParentID: "1", Storage: "<p/>",
	})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestEnsurePageRemovesDeprecatedDocLabels(t *testing.T) {
	f := newFakeStore()
	f.seedPage("55", "X", "1", "md", "dir")
	r := newTestReconciler(f, ReconcileConfig{MigrateDocLabels: true})
	s := NewSession()
	s.KeyToPage["file:docs/a/b/x.md"] = "55"

	if _, err := r.EnsurePage(context.Background(), s, EnsureRequest{
		Key: "file:docs/a/b/x.md", Title: "X", ParentID: "1", Storage: "<p/>",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, l := range f.pages["55"].labels {
		if l == "md" || l == "dir" || l == "section" {
			t.Errorf("deprecated label %q still present: %v", l, f.pages["55"].labels)
		}
	}
}
