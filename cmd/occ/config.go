package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/occ/internal/compiler"
)

// fileConfig is the on-disk configuration. Every field is optional; zero
// values fall back to the built-in capacities.
type fileConfig struct {
	Backend        string `yaml:"backend"`
	Symbols        int    `yaml:"symbols"`
	MacroBytes     int    `yaml:"macro_bytes"`
	TextBytes      int    `yaml:"text_bytes"`
	DataBytes      int    `yaml:"data_bytes"`
	MaxDepth       int    `yaml:"max_depth"`
	MaxMacroExpand int    `yaml:"max_macro_expand"`
}

func loadConfig(path string) (compiler.Config, error) {
	var cfg compiler.Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Backend = fc.Backend
	cfg.SymbolCap = fc.Symbols
	cfg.MacroCap = fc.MacroBytes
	cfg.TextCap = fc.TextBytes
	cfg.DataCap = fc.DataBytes
	cfg.MaxDepth = fc.MaxDepth
	cfg.MaxMacroExpand = fc.MaxMacroExpand
	return cfg, nil
}
