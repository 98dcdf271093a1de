package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"md2conf/internal"
	"md2conf/internal/publish"
	pkgconfig "md2conf/pkg/config"
)

func loadOptions(cmd *cli.Command) ([]internal.Option, *internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(cmd.String("config"), cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config: %w", err)
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithToken(os.Getenv("CONF_TOKEN")),
	}
	return opts, cfg, nil
}

func runPublish(ctx context.Context, cmd *cli.Command) error {
	opts, cfg, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	opts = append(opts, internal.WithPass(int(cmd.Int("pass"))))

	if pathsFile := cmd.String("paths-file"); pathsFile != "" {
		data, err := os.ReadFile(pathsFile)
		if err != nil {
			return fmt.Errorf("read change list: %w", err)
		}
		// An explicitly empty change list publishes nothing, unlike the
		// absent flag which publishes the whole tree.
		changes := publish.ParseChangeList(string(data), cfg.DocsDir)
		if changes == nil {
			changes = []publish.Change{}
		}
		opts = append(opts, internal.WithChangeList(changes))
	}

	return internal.Run(ctx, opts...)
}

func runFile(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("usage: md2conf file <path/to/document.md>")
	}

	opts, _, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	opts = append(opts,
		internal.WithPass(int(cmd.Int("pass"))),
		internal.WithFile(path),
	)
	return internal.Run(ctx, opts...)
}

func runCleanup(ctx context.Context, cmd *cli.Command) error {
	opts, _, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	opts = append(opts, internal.WithDelete(cmd.Bool("delete") && !cmd.Bool("list-only")))
	return internal.Cleanup(ctx, opts...)
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "config",
		Aliases:     []string{"c"},
		Usage:       "Path to config file",
		DefaultText: "publish.yml",
		Value:       "publish.yml",
		Sources:     cli.EnvVars("MD2CONF_CONFIG"),
	}
}

func passFlag() cli.Flag {
	return &cli.IntFlag{
		Name:  "pass",
		Usage: "Conversion passes: 1 skips cross-document link resolution",
		Value: 2,
	}
}

func main() {
	cmd := &cli.Command{
		Name:  "md2conf",
		Usage: "Publish a Markdown documentation tree to Confluence with stable page identity and resolved cross-links",
		Commands: []*cli.Command{
			{
				Name:   "publish",
				Usage:  "Publish the whole tree, or only the documents named in a change list",
				Action: runPublish,
				Flags: []cli.Flag{
					configFlag(),
					passFlag(),
					&cli.StringFlag{
						Name:  "paths-file",
						Usage: "Change list restricting the publish to the named documents",
					},
				},
			},
			{
				Name:      "file",
				Usage:     "Publish a single document",
				ArgsUsage: "<path>",
				Action:    runFile,
				Flags: []cli.Flag{
					configFlag(),
					passFlag(),
				},
			},
			{
				Name:   "cleanup",
				Usage:  "List pages carrying the managed label, optionally deleting them",
				Action: runCleanup,
				Flags: []cli.Flag{
					configFlag(),
					&cli.BoolFlag{
						Name:  "delete",
						Usage: "Delete the listed pages, children first",
					},
					&cli.BoolFlag{
						Name:  "list-only",
						Usage: "Only list pages, never delete",
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
