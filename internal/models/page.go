// Package models defines the domain types shared between the Confluence
// client and the publisher.
package models

// Page is a flattened view of a remote Confluence page: identity, position
// in the tree, version counter, and the label/ancestor metadata the
// publisher cares about.
type Page struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	ParentID  string   `json:"parent_id,omitempty"`
	Version   int      `json:"version"`
	Labels    []string `json:"labels,omitempty"`
	Ancestors []string `json:"ancestors,omitempty"`
}

// Property is a hidden content property attached to a page. Properties are
// versioned independently of the page body.
type Property struct {
	Key     string         `json:"key"`
	Value   map[string]any `json:"value"`
	Version int            `json:"version"`
}

// SourceMeta is the value stored in the source-metadata property. It is the
// single source of truth linking a remote page back to the local entity
// that produced it.
type SourceMeta struct {
	Key        string   `json:"key"`
	Title      string   `json:"title"`
	SrcHash    string   `json:"src_hash"`
	MetaLabels []string `json:"meta_labels"`
}
