package internal

import (
	"log/slog"
	"os"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"md2conf/internal/converter"
	"md2conf/internal/publish"
)

// Config represents the publisher configuration.
type Config struct {
	LogLevel        slog.Level        `yaml:"log_level"`
	BaseURL         string            `yaml:"base_url"`
	Space           string            `yaml:"space"`
	DocsRootID      string            `yaml:"docs_root_id"`
	DocsDir         string            `yaml:"docs_dir"`
	DomainTitleMap  map[string]string `yaml:"domain_title_map"`
	SectionTitleMap map[string]string `yaml:"section_title_map"`
	Options         OptionsConfig     `yaml:"options"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.Space, validation.Required),
		validation.Field(&c.DocsRootID, validation.Required, is.Digit),
		validation.Field(&c.DocsDir, validation.Required),
	); err != nil {
		return err
	}
	return c.Options.Validate()
}

// ApplyEnv overrides file values with CONF_* environment variables when set.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("CONF_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("CONF_SPACE"); v != "" {
		c.Space = v
	}
	if v := os.Getenv("CONF_DOCS_ROOT_ID"); v != "" {
		c.DocsRootID = v
	}
}

// OptionsConfig tunes conversion and reconciliation behavior.
type OptionsConfig struct {
	ManagedLabel             string `yaml:"managed_label"`
	TOC                      bool   `yaml:"toc"`
	TOCMin                   int    `yaml:"toc_min"`
	TOCMax                   int    `yaml:"toc_max"`
	TOCStyle                 string `yaml:"toc_style"`
	TOCOutline               bool   `yaml:"toc_outline"`
	HeadingNumbering         bool   `yaml:"heading_numbering"`
	HeadingNumberingMaxLevel int    `yaml:"heading_numbering_max_level"`
	HeadingNumberingCSS      bool   `yaml:"heading_numbering_css"`
	CodeTheme                string `yaml:"code_theme"`
	CodeLineNumbers          bool   `yaml:"code_linenumbers"`
	MigrateLegacySrcLabels   bool   `yaml:"migrate_legacy_src_labels"`
	MigrateLegacyDocLabels   bool   `yaml:"migrate_legacy_doc_labels"`
	AdoptByTitle             bool   `yaml:"adopt_existing_by_title_under_root"`
}

// Validate validates the options.
func (c *OptionsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.TOCMin, validation.Min(1), validation.Max(7)),
		validation.Field(&c.TOCMax, validation.Min(1), validation.Max(7)),
		validation.Field(&c.HeadingNumberingMaxLevel, validation.Min(1), validation.Max(6)),
		validation.Field(&c.TOCStyle, validation.In("none", "disc", "circle", "square")),
	)
}

// ConverterOptions maps the configuration onto converter options. Title
// stripping and heading promotion are fixed pipeline behavior, not tunables.
func (c *Config) ConverterOptions() converter.Options {
	o := c.Options
	return converter.Options{
		InjectTOC:                o.TOC,
		TOCMinLevel:              o.TOCMin,
		TOCMaxLevel:              o.TOCMax,
		TOCStyle:                 o.TOCStyle,
		TOCOutline:               o.TOCOutline,
		StripTitleH1:             true,
		PromoteHeadings:          true,
		StripHeadingNumbers:      o.HeadingNumbering || o.HeadingNumberingCSS,
		HeadingNumberingInText:   o.HeadingNumbering,
		HeadingNumberingCSS:      o.HeadingNumberingCSS,
		HeadingNumberingMaxLevel: o.HeadingNumberingMaxLevel,
		CodeTheme:                o.CodeTheme,
		CodeLineNumbers:          o.CodeLineNumbers,
	}
}

// ReconcileConfig maps the configuration onto reconciliation settings.
func (c *Config) ReconcileConfig() publish.ReconcileConfig {
	return publish.ReconcileConfig{
		ManagedLabel:     c.Options.ManagedLabel,
		AdoptByTitle:     c.Options.AdoptByTitle,
		MigrateSrcLabels: c.Options.MigrateLegacySrcLabels,
		MigrateDocLabels: c.Options.MigrateLegacyDocLabels,
	}
}

// PublishParams assembles the publisher parameters from the configuration.
func (c *Config) PublishParams() publish.Params {
	return publish.Params{
		BaseURL:       c.BaseURL,
		Space:         c.Space,
		RootID:        c.DocsRootID,
		DocsDir:       c.DocsDir,
		DomainTitles:  c.DomainTitleMap,
		SectionTitles: c.SectionTitleMap,
		Converter:     c.ConverterOptions(),
		Reconcile:     c.ReconcileConfig(),
	}
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		LogLevel: slog.LevelInfo,
		BaseURL:  "http://localhost:8090",
		Space:    "DOC",
		DocsDir:  "docs",
		Options: OptionsConfig{
			ManagedLabel:             publish.DefaultManagedLabel,
			TOC:                      true,
			TOCMin:                   1,
			TOCMax:                   3,
			TOCStyle:                 "none",
			HeadingNumbering:         true,
			HeadingNumberingMaxLevel: 3,
			CodeTheme:                "Default",
			CodeLineNumbers:          true,
			MigrateLegacySrcLabels:   true,
			MigrateLegacyDocLabels:   true,
			AdoptByTitle:             true,
		},
	}
}
