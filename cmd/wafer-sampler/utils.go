package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/metrolab/wafersample/pkg/config"
	"github.com/metrolab/wafersample/pkg/logging"
	"github.com/metrolab/wafersample/pkg/schematic"
	"github.com/metrolab/wafersample/pkg/schematic/parser"
	"github.com/metrolab/wafersample/pkg/strategy"
	"github.com/metrolab/wafersample/pkg/wafer"
)

// loadConfig loads the configuration from file, auto-generating if needed
func loadConfig() (*config.Config, error) {
	// Determine config file path
	configPath := cfgFile
	if configPath == "" {
		configPath = "config.yaml"
	}

	// Check if config exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if cfgFile == "" {
			// No explicit config requested, run on defaults
			return config.DefaultConfig(), nil
		}

		// Auto-generate default config at the requested path
		fmt.Printf("Config file not found, creating default configuration at: %s\n", configPath)
		cfg := config.DefaultConfig()
		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	// Load existing configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// newLogger builds the structured logger from config, honoring --verbose
func newLogger(cfg *config.Config) *logging.Logger {
	level := logging.Level(cfg.Logging.Level)
	if verbose {
		level = logging.LevelDebug
	}
	return logging.New(logging.Config{
		Level:  level,
		Format: logging.Format(cfg.Logging.Format),
		Output: os.Stderr,
	})
}

// loadStrategyFile reads a strategy definition from a YAML or JSON file.
func loadStrategyFile(path string) (*strategy.Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading strategy file: %w", err)
	}

	var def strategy.Definition
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(raw, &def); err != nil {
			return nil, fmt.Errorf("parsing strategy JSON: %w", err)
		}
	default:
		if err := yaml.Unmarshal(raw, &def); err != nil {
			return nil, fmt.Errorf("parsing strategy YAML: %w", err)
		}
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// parseSchematicFile parses a schematic file and synthesizes its wafer map.
func parseSchematicFile(ctx context.Context, p *parser.Parser, path string, hints parser.Hints) (*schematic.SchematicData, *wafer.Map, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading schematic file: %w", err)
	}

	data, err := p.Parse(ctx, filepath.Base(path), raw, hints)
	if err != nil {
		return nil, nil, err
	}

	wm, _, err := data.ToWaferMap()
	if err != nil {
		return nil, nil, err
	}
	return data, wm, nil
}

// printJSON writes v to stdout as indented JSON
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
