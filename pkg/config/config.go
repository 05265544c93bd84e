// Package config loads partsmith settings from an HCL file.
//
// Example:
//
//	compile_timeout = "5s"
//	debounce        = "300ms"
//	history_limit   = 200
//	mesh_cells      = 96
//
//	log {
//	  level  = "debug"
//	  format = "json"
//	}
//
//	generation {
//	  url     = "https://example.com/api/generate"
//	  timeout = "60s"
//	}
//
//	storage {
//	  dir = "./models"
//	}
package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/chazu/partsmith/pkg/ctxlog"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// Config is the resolved configuration.
type Config struct {
	CompileTimeout time.Duration
	Debounce       time.Duration
	HistoryLimit   int
	MeshCells      int

	LogLevel  string
	LogFormat string

	GenerationURL     string
	GenerationTimeout time.Duration
	GenerationToken   string

	StorageDir string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		CompileTimeout:    5 * time.Second,
		Debounce:          300 * time.Millisecond,
		HistoryLimit:      200,
		MeshCells:         96,
		LogLevel:          "info",
		LogFormat:         "text",
		GenerationTimeout: 60 * time.Second,
		StorageDir:        "models",
	}
}

type fileRoot struct {
	CompileTimeout *string     `hcl:"compile_timeout,optional"`
	Debounce       *string     `hcl:"debounce,optional"`
	HistoryLimit   *int        `hcl:"history_limit,optional"`
	MeshCells      *int        `hcl:"mesh_cells,optional"`
	Log            *logBlock   `hcl:"log,block"`
	Generation     *genBlock   `hcl:"generation,block"`
	Storage        *storeBlock `hcl:"storage,block"`
}

type logBlock struct {
	Level  *string `hcl:"level,optional"`
	Format *string `hcl:"format,optional"`
}

type genBlock struct {
	URL     *string `hcl:"url,optional"`
	Timeout *string `hcl:"timeout,optional"`
	Token   *string `hcl:"token,optional"`
}

type storeBlock struct {
	Dir *string `hcl:"dir,optional"`
}

// Load reads path and overlays it on Default. An empty path returns the
// defaults.
func Load(ctx context.Context, path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(src, path)
	if err != nil {
		return Config{}, err
	}
	ctxlog.FromContext(ctx).Debug("config loaded", "path", path)
	return cfg, nil
}

// Parse decodes HCL source; filename is used in diagnostics only.
func Parse(src []byte, filename string) (Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return Config{}, fmt.Errorf("failed to parse config %s: %s", filename, diags.Error())
	}
	var root fileRoot
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return Config{}, fmt.Errorf("failed to decode config %s: %s", filename, diags.Error())
	}

	cfg := Default()
	var errs []error
	duration := func(dst *time.Duration, name string, v *string) {
		if v == nil {
			return
		}
		d, err := time.ParseDuration(*v)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", name, *v))
			return
		}
		*dst = d
	}
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}

	duration(&cfg.CompileTimeout, "compile_timeout", root.CompileTimeout)
	duration(&cfg.Debounce, "debounce", root.Debounce)
	if root.HistoryLimit != nil {
		cfg.HistoryLimit = *root.HistoryLimit
	}
	if root.MeshCells != nil {
		cfg.MeshCells = *root.MeshCells
	}
	if root.Log != nil {
		set(&cfg.LogLevel, root.Log.Level)
		set(&cfg.LogFormat, root.Log.Format)
	}
	if root.Generation != nil {
		set(&cfg.GenerationURL, root.Generation.URL)
		set(&cfg.GenerationToken, root.Generation.Token)
		duration(&cfg.GenerationTimeout, "generation.timeout", root.Generation.Timeout)
	}
	if root.Storage != nil {
		set(&cfg.StorageDir, root.Storage.Dir)
	}
	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config %s: %w", filename, errs[0])
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", filename, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.HistoryLimit < 0 {
		return fmt.Errorf("history_limit must be >= 0, got %d", c.HistoryLimit)
	}
	if c.MeshCells < 8 {
		return fmt.Errorf("mesh_cells must be >= 8, got %d", c.MeshCells)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log format must be text or json, got %q", c.LogFormat)
	}
	return nil
}
