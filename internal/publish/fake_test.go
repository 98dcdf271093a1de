package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"strings"

	"md2conf/internal/apperr"
	"md2conf/internal/models"
)

// fakeStore is an in-memory Client that mimics the remote store's
// behavior: sequential id assignment, page version counters, global title
// uniqueness and property versioning.
type fakeStore struct {
	nextID int
	pages  map[string]*fakePage

	created       []string       // titles in creation order
	updated       map[string]int // page id → update count
	deleted       []string       // page ids in deletion order
	deletedLabels []string       // "id:label" per delete attempt
}

type fakePage struct {
	id       string
	title    string
	parentID string
	version  int
	storage  string
	labels   []string
	props    map[string]*models.Property
}

var _ Client = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		nextID:  1000,
		pages:   map[string]*fakePage{},
		updated: map[string]int{},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedPage installs a pre-existing page, bypassing collision checks.
func (f *fakeStore) seedPage(id, title, parentID string, labels ...string) *fakePage {
	p := &fakePage{
		id:       id,
		title:    title,
		parentID: parentID,
		version:  1,
		labels:   labels,
		props:    map[string]*models.Property{},
	}
	f.pages[id] = p
	return p
}

func (f *fakeStore) byTitle(title string) *fakePage {
	for _, p := range f.pages {
		if p.title == title {
			return p
		}
	}
	return nil
}

// ancestorsOf rebuilds the root-first ancestor chain by walking parent ids.
// Unknown parents (the configured root page) still appear in the chain.
func (f *fakeStore) ancestorsOf(p *fakePage) []string {
	var chain []string
	cur := p.parentID
	for cur != "" {
		chain = append([]string{cur}, chain...)
		parent, ok := f.pages[cur]
		if !ok {
			break
		}
		cur = parent.parentID
	}
	return chain
}

func (f *fakeStore) toModel(p *fakePage) models.Page {
	return models.Page{
		ID:        p.id,
		Title:     p.title,
		ParentID:  p.parentID,
		Version:   p.version,
		Labels:    append([]string(nil), p.labels...),
		Ancestors: f.ancestorsOf(p),
	}
}

func (f *fakeStore) CreatePage(_ context.Context, _, parentID, title, storage string) (string, error) {
	if f.byTitle(title) != nil {
		return "", fmt.Errorf("fake: create %q: %w", title, apperr.ErrTitleExists)
	}
	f.nextID++
	id := strconv.Itoa(f.nextID)
	f.pages[id] = &fakePage{
		id:       id,
		title:    title,
		parentID: parentID,
		version:  1,
		storage:  storage,
		props:    map[string]*models.Property{},
	}
	f.created = append(f.created, title)
	return id, nil
}

func (f *fakeStore) UpdatePage(_ context.Context, id, _, parentID, title, storage string) error {
	p, ok := f.pages[id]
	if !ok {
		return fmt.Errorf("fake: update %s: %w", id, apperr.ErrNotFound)
	}
	if other := f.byTitle(title); other != nil && other.id != id {
		return fmt.Errorf("fake: update %s title %q: %w", id, title, apperr.ErrTitleExists)
	}
	p.title, p.parentID, p.storage = title, parentID, storage
	p.version++
	f.updated[id]++
	return nil
}

func (f *fakeStore) FindPageByTitle(_ context.Context, _, title, _ string) (*models.Page, error) {
	p := f.byTitle(title)
	if p == nil {
		return nil, nil
	}
	mp := f.toModel(p)
	return &mp, nil
}

func (f *fakeStore) SearchCQL(_ context.Context, cql, _ string, fn func(models.Page) error) error {
	root, label := parseFakeCQL(cql)

	ids := make([]string, 0, len(f.pages))
	for id := range f.pages {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		p := f.pages[id]
		if label != "" && !slices.Contains(p.labels, label) {
			continue
		}
		if root != "" && !slices.Contains(f.ancestorsOf(p), root) {
			continue
		}
		if err := fn(f.toModel(p)); err != nil {
			return err
		}
	}
	return nil
}

func parseFakeCQL(cql string) (root, label string) {
	for _, part := range strings.Split(cql, " and ") {
		part = strings.TrimSpace(part)
		if v, ok := strings.CutPrefix(part, "ancestor="); ok {
			root = v
		}
		if v, ok := strings.CutPrefix(part, "label="); ok {
			label = strings.Trim(v, `"`)
		}
	}
	return root, label
}

func (f *fakeStore) GetProperty(_ context.Context, id, key string) (*models.Property, error) {
	p, ok := f.pages[id]
	if !ok {
		return nil, fmt.Errorf("fake: page %s: %w", id, apperr.ErrNotFound)
	}
	prop, ok := p.props[key]
	if !ok {
		return nil, nil
	}
	return prop, nil
}

func (f *fakeStore) PutProperty(_ context.Context, id, key string, value any) error {
	p, ok := f.pages[id]
	if !ok {
		return fmt.Errorf("fake: page %s: %w", id, apperr.ErrNotFound)
	}
	// Round-trip through JSON like the wire does, so struct values read
	// back as generic maps.
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	ver := 1
	if old, ok := p.props[key]; ok {
		ver = old.Version + 1
	}
	p.props[key] = &models.Property{Key: key, Value: m, Version: ver}
	return nil
}

func (f *fakeStore) AddLabels(_ context.Context, id string, labels []string) error {
	p, ok := f.pages[id]
	if !ok {
		return fmt.Errorf("fake: page %s: %w", id, apperr.ErrNotFound)
	}
	for _, l := range labels {
		l = strings.ToLower(strings.TrimSpace(l))
		if l == "" || slices.Contains(p.labels, l) {
			continue
		}
		p.labels = append(p.labels, l)
	}
	return nil
}

func (f *fakeStore) DeleteLabel(_ context.Context, id, label string) error {
	f.deletedLabels = append(f.deletedLabels, id+":"+label)
	p, ok := f.pages[id]
	if !ok {
		return nil
	}
	for i, l := range p.labels {
		if l == label {
			p.labels = append(p.labels[:i], p.labels[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeStore) DeletePage(_ context.Context, id string) error {
	if _, ok := f.pages[id]; !ok {
		return fmt.Errorf("fake: page %s: %w", id, apperr.ErrNotFound)
	}
	delete(f.pages, id)
	f.deleted = append(f.deleted, id)
	return nil
}
