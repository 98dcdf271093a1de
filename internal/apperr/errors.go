// Package apperr defines sentinel errors shared across the publisher.
package apperr

import "errors"

var (
	// ErrNotFound marks a remote page or property that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTitleExists marks a create or update rejected because another
	// page already holds the requested title. The reconciler reacts by
	// moving to the next title candidate.
	ErrTitleExists = errors.New("title already exists")
)
