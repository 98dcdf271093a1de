// Package internal wires configuration, the remote client and the publisher
// into runnable commands.
package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"md2conf/internal/confluence"
	"md2conf/internal/publish"
	"md2conf/internal/source"
)

// Run publishes the configured document tree, or a single document when one
// was selected with WithFile.
func Run(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)

	pub, logger, err := app.publisher()
	if err != nil {
		return err
	}

	logger.Info("configuration loaded",
		slog.String("base_url", app.config.BaseURL),
		slog.String("space", app.config.Space),
		slog.String("root_id", app.config.DocsRootID),
		slog.String("docs_dir", app.config.DocsDir),
		slog.Int("passes", app.passes))

	session := publish.NewSession()
	if app.file != "" {
		return pub.PublishFile(ctx, session, app.file, app.passes)
	}
	return pub.PublishAll(ctx, session, app.passes, app.changes)
}

// Cleanup lists every page carrying the managed label, deleting them when
// requested with WithDelete.
func Cleanup(ctx context.Context, opts ...Option) error {
	app := newApplication(opts)

	pub, logger, err := app.publisher()
	if err != nil {
		return err
	}

	pages, err := pub.CleanupManaged(ctx, app.del)
	if err != nil {
		return err
	}
	if !app.del {
		for _, page := range pages {
			logger.Info("managed page",
				slog.String("id", page.ID),
				slog.String("title", page.Title))
		}
	}
	logger.Info("cleanup finished",
		slog.Int("pages", len(pages)),
		slog.Bool("deleted", app.del))
	return nil
}

func newApplication(opts []Option) *application {
	app := &application{passes: 2}
	for _, opt := range opts {
		opt(app)
	}
	return app
}

// publisher builds the shared runtime: JSON logger, REST client, source
// tree rooted at the working directory, and the publisher on top of them.
func (a *application) publisher() (*publish.Publisher, *slog.Logger, error) {
	if a.config == nil {
		return nil, nil, fmt.Errorf("config is required")
	}
	if a.token == "" {
		return nil, nil, fmt.Errorf("API token is required, set CONF_TOKEN")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: a.config.LogLevel,
	}))
	slog.SetDefault(logger)

	client := confluence.NewClient(a.config.BaseURL, a.token)
	src, err := source.NewFS(".")
	if err != nil {
		return nil, nil, fmt.Errorf("init source tree: %w", err)
	}
	return publish.New(client, src, a.config.PublishParams(), logger), logger, nil
}
