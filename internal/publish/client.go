// Package publish maps a local Markdown tree onto a remote Confluence page
// tree: it discovers previously published pages, builds the directory
// skeleton, and reconciles every document onto exactly one page across two
// rendering passes.
package publish

import (
	"context"

	"md2conf/internal/models"
)

const (
	// PropertyKey is the content property holding the source metadata on
	// every managed page.
	PropertyKey = "md2conf_source"
	// LegacyPropertyKey is the older property name, still written and read
	// as a fallback during bootstrap.
	LegacyPropertyKey = "source"

	// DefaultManagedLabel marks every page owned by the publisher.
	DefaultManagedLabel = "managed-docs"

	// legacyLabelPrefix prefixes the deprecated hash-derived identity
	// labels ("src-" + sha1(key)[:12]).
	legacyLabelPrefix = "src-"
)

// legacyDocLabels are deprecated visible classification labels, superseded
// by meta_labels inside the source property.
var legacyDocLabels = []string{"md", "dir", "section"}

// Client is the remote store surface the publisher depends on. Implemented
// by confluence.Client; tests substitute an in-memory fake.
type Client interface {
	CreatePage(ctx context.Context, space, parentID, title, storage string) (string, error)
	UpdatePage(ctx context.Context, id, space, parentID, title, storage string) error
	FindPageByTitle(ctx context.Context, space, title, expand string) (*models.Page, error)
	SearchCQL(ctx context.Context, cql, expand string, fn func(models.Page) error) error
	GetProperty(ctx context.Context, id, key string) (*models.Property, error)
	PutProperty(ctx context.Context, id, key string, value any) error
	AddLabels(ctx context.Context, id string, labels []string) error
	DeleteLabel(ctx context.Context, id, label string) error
	DeletePage(ctx context.Context, id string) error
}
