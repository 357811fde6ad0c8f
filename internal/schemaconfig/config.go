package schemaconfig

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// ── TOML schema mapping file ───────────────────────────────
// One namespace maps to one target table. Each column is a small
// declarative transform: a source field path (dot-separated, defaulting
// to the column name) plus a named coercion applied to whatever value is
// found at that path.

// Coercion is the set of named value conversions a column may request.
type Coercion string

const (
	CoerceString      Coercion = "string"
	CoerceInt         Coercion = "int"
	CoerceFloat       Coercion = "float"
	CoerceBool        Coercion = "bool"
	CoerceTimestamp   Coercion = "timestamp"
	CoerceObjectIDHex Coercion = "objectid-hex"
)

var validCoercions = map[Coercion]bool{
	CoerceString:      true,
	CoerceInt:         true,
	CoerceFloat:       true,
	CoerceBool:        true,
	CoerceTimestamp:   true,
	CoerceObjectIDHex: true,
}

// Config is the decoded schema-mapping file.
type Config struct {
	Target     TargetConfig      `toml:"target"`
	Namespaces []NamespaceConfig `toml:"namespace"`
}

// TargetConfig describes the destination SQL database.
type TargetConfig struct {
	Driver string `toml:"driver"` // "postgres" | "mysql"
	DSN    string `toml:"dsn"`
}

// NamespaceConfig maps one source namespace to one target table.
type NamespaceConfig struct {
	NS         string         `toml:"ns"`
	Table      string         `toml:"table"`
	PrimaryKey string         `toml:"primary_key"`
	Columns    []ColumnConfig `toml:"columns"`
}

// ColumnConfig is one column's declarative transform: where to read the
// value from in the source document, and how to coerce it.
type ColumnConfig struct {
	Name string   `toml:"name"`
	Path string   `toml:"path"` // dot-separated; defaults to Name
	Type Coercion `toml:"type"` // defaults to "string"
}

// Load decodes a schema-mapping file from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema config %s: %w", path, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("decode schema config %s: %w", path, err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("schema config %s: %w", path, err)
	}

	return &cfg, nil
}

// applyDefaults fills in a column's path (from its name) and type
// (string) when the config leaves them blank, so a TOML entry can be as
// short as `{ name = "id" }`.
func (c *Config) applyDefaults() {
	for ni := range c.Namespaces {
		cols := c.Namespaces[ni].Columns
		for ci := range cols {
			if cols[ci].Path == "" {
				cols[ci].Path = cols[ci].Name
			}
			if cols[ci].Type == "" {
				cols[ci].Type = CoerceString
			}
		}
	}
}

func (c *Config) validate() error {
	if c.Target.Driver == "" {
		return fmt.Errorf("target.driver is required")
	}
	if c.Target.DSN == "" {
		return fmt.Errorf("target.dsn is required")
	}
	seen := map[string]bool{}
	for _, ns := range c.Namespaces {
		if ns.NS == "" {
			return fmt.Errorf("namespace entry missing ns")
		}
		if seen[ns.NS] {
			return fmt.Errorf("namespace %s configured more than once", ns.NS)
		}
		seen[ns.NS] = true
		if ns.Table == "" {
			return fmt.Errorf("namespace %s missing table", ns.NS)
		}
		if ns.PrimaryKey == "" {
			return fmt.Errorf("namespace %s missing primary_key", ns.NS)
		}
		if len(ns.Columns) == 0 {
			return fmt.Errorf("namespace %s has no columns", ns.NS)
		}
		hasPK := false
		for _, col := range ns.Columns {
			if col.Name == "" {
				return fmt.Errorf("namespace %s has a column with no name", ns.NS)
			}
			if !validCoercions[col.Type] {
				return fmt.Errorf("namespace %s column %s has unknown type %q", ns.NS, col.Name, col.Type)
			}
			if col.Name == ns.PrimaryKey {
				hasPK = true
			}
		}
		if !hasPK {
			return fmt.Errorf("namespace %s primary_key %q is not among its columns", ns.NS, ns.PrimaryKey)
		}
	}
	return nil
}
