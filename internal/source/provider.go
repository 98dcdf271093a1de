// Package source provides read-only access to the local documentation tree.
package source

// Provider is the interface the publisher uses to walk and read the
// documentation tree. Implementations return slash-separated paths relative
// to the tree root.
type Provider interface {
	// ListDirs returns the names of the immediate subdirectories of dir
	// (relative to the tree root), sorted.
	ListDirs(dir string) ([]string, error)
	// ListFiles returns the root-relative paths of every .md file under
	// dir, sorted.
	ListFiles(dir string) ([]string, error)
	// Read returns the raw bytes of the file at path (relative to the
	// tree root).
	Read(path string) ([]byte, error)
}
