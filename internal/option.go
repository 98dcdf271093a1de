package internal

import "md2conf/internal/publish"

// Option is a functional option for configuring a command run.
type Option func(*application)

type application struct {
	config  *Config
	token   string
	passes  int
	file    string
	changes []publish.Change
	del     bool
}

// WithConfig sets the loaded configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithToken sets the API token used for remote calls.
func WithToken(token string) Option {
	return func(a *application) {
		a.token = token
	}
}

// WithPass sets how many conversion passes to run: 1 converts without
// cross-document links, 2 adds the link-resolving pass.
func WithPass(n int) Option {
	return func(a *application) {
		if n >= 1 {
			a.passes = n
		}
	}
}

// WithFile restricts publishing to a single document path.
func WithFile(path string) Option {
	return func(a *application) {
		a.file = path
	}
}

// WithChangeList restricts publishing to the given parsed changes.
func WithChangeList(changes []publish.Change) Option {
	return func(a *application) {
		a.changes = changes
	}
}

// WithDelete enables page deletion during cleanup.
func WithDelete(del bool) Option {
	return func(a *application) {
		a.del = del
	}
}
