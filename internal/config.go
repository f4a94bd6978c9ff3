package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/spacetraveling/internal/normalize"
	"github.com/starford/spacetraveling/internal/paths"
)

// Config represents the application configuration.
type Config struct {
	App        ApplicationConfig `yaml:"app"`
	Repository RepositoryConfig  `yaml:"repository"`
	Listing    ListingConfig     `yaml:"listing"`
	Paths      PathsConfig       `yaml:"paths"`
	Locale     string            `yaml:"locale"`
	Snapshot   SnapshotConfig    `yaml:"snapshot"`
	Build      BuildConfig       `yaml:"build"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Repository.Validate(); err != nil {
		return fmt.Errorf("repository: %w", err)
	}
	if err := c.Listing.Validate(); err != nil {
		return fmt.Errorf("listing: %w", err)
	}
	if err := c.Paths.Validate(); err != nil {
		return fmt.Errorf("paths: %w", err)
	}
	if err := validation.Validate(c.Locale, validation.Required); err != nil {
		return fmt.Errorf("locale: %w", err)
	}
	if err := c.Snapshot.Validate(); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	return c.Build.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// RepositoryConfig points at the headless CMS repository.
type RepositoryConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	AccessToken  string        `yaml:"access_token"`
	DocumentType string        `yaml:"document_type"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	Orderings    string        `yaml:"orderings"`
}

// Validate validates the repository configuration.
func (c *RepositoryConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Endpoint, validation.Required, is.URL),
		validation.Field(&c.DocumentType, validation.Required),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxRetries, validation.Min(0), validation.Max(10)),
	)
}

// ListingConfig controls the listing page and "load more".
type ListingConfig struct {
	PageSize    int           `yaml:"page_size"`
	Incremental bool          `yaml:"incremental"`
	SessionTTL  time.Duration `yaml:"session_ttl"`
	MaxSessions int           `yaml:"max_sessions"`
}

// Validate validates the listing configuration.
func (c *ListingConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.PageSize, validation.Required, validation.Min(1), validation.Max(100)),
		validation.Field(&c.SessionTTL, validation.Required),
		validation.Field(&c.MaxSessions, validation.Required, validation.Min(1)),
	)
}

// PathsConfig controls which detail pages are pre-rendered and how the
// others are served.
type PathsConfig struct {
	PageSize         int           `yaml:"page_size"`
	Fallback         string        `yaml:"fallback"`
	FallbackWait     time.Duration `yaml:"fallback_wait"`
	Revalidate       time.Duration `yaml:"revalidate"`
	BuildConcurrency int           `yaml:"build_concurrency"`
}

// Validate validates the paths configuration.
func (c *PathsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.PageSize, validation.Required, validation.Min(1), validation.Max(100)),
		validation.Field(&c.Fallback, validation.Required,
			validation.In(string(paths.FallbackTrue), string(paths.FallbackBlocking), string(paths.FallbackFalse))),
		validation.Field(&c.FallbackWait, validation.Min(time.Duration(0))),
		validation.Field(&c.Revalidate, validation.Required),
		validation.Field(&c.BuildConcurrency, validation.Required, validation.Min(1), validation.Max(32)),
	)
}

// Policy returns the runtime fallback policy.
func (c *PathsConfig) Policy() paths.FallbackPolicy {
	return paths.FallbackPolicy{
		Mode:       paths.FallbackMode(c.Fallback),
		Wait:       c.FallbackWait,
		Revalidate: c.Revalidate,
	}
}

// SnapshotConfig holds the SQLite snapshot database path.
type SnapshotConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the snapshot configuration.
func (c *SnapshotConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// BuildConfig controls the static build.
type BuildConfig struct {
	OutputDir string `yaml:"output_dir"`
	// OnStart runs a build when serve starts without a snapshot.
	OnStart bool `yaml:"on_start"`
}

// Validate validates the build configuration.
func (c *BuildConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.OutputDir, validation.Required),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 3000,
			},
		},
		Repository: RepositoryConfig{
			DocumentType: "posts",
			Timeout:      10 * time.Second,
			MaxRetries:   3,
			Orderings:    "[document.first_publication_date desc]",
		},
		Listing: ListingConfig{
			PageSize:    10,
			Incremental: true,
			SessionTTL:  30 * time.Minute,
			MaxSessions: 1024,
		},
		Paths: PathsConfig{
			PageSize:         1,
			Fallback:         string(paths.FallbackTrue),
			FallbackWait:     2 * time.Second,
			Revalidate:       paths.DefaultRevalidate,
			BuildConcurrency: 4,
		},
		Locale: normalize.DefaultLocale,
		Snapshot: SnapshotConfig{
			Path: "./spacetraveling.db",
		},
		Build: BuildConfig{
			OutputDir: "./out",
			OnStart:   true,
		},
	}
}
