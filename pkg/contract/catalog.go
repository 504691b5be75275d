// Package contract holds the single source-of-truth schema catalog and the
// sentinel that validates the execution engine against it. The catalog is
// the only place identifiers come from: the planner validates against it and
// SafeSQL templates substitute identifiers out of it, never out of user text.
package contract

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/cklose2000/eventlake/pkg/events"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Column describes one column of a catalog object.
type Column struct {
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type" json:"type"`
}

// TableDef describes the landing table or the projection with typed columns.
type TableDef struct {
	Name    string   `yaml:"name" json:"name"`
	Columns []Column `yaml:"columns" json:"columns"`
}

// SourceDef is a whitelisted query source.
type SourceDef struct {
	Name       string   `yaml:"name" json:"name"`
	Type       string   `yaml:"type" json:"type"`
	Schema     string   `yaml:"schema" json:"schema"`
	SampleData bool     `yaml:"sample_data" json:"sample_data,omitempty"`
	Columns    []string `yaml:"columns" json:"columns"`
}

// HasColumn reports whether the source declares the column (case-insensitive).
func (s *SourceDef) HasColumn(name string) bool {
	for _, c := range s.Columns {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// Catalog is the parsed schema contract.
type Catalog struct {
	Version      string      `yaml:"version"`
	Database     string      `yaml:"database"`
	LandingTable TableDef    `yaml:"landing_table"`
	Projection   TableDef    `yaml:"projection"`
	Sources      []SourceDef `yaml:"sources"`
	Templates    []string    `yaml:"templates"`

	hash string
}

// Load parses the embedded catalog and computes its contract hash.
func Load() (*Catalog, error) {
	return Parse(catalogYAML)
}

// Parse reads a catalog document. Exposed for tests that need a drifted or
// reduced catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if c.Version == "" {
		return nil, fmt.Errorf("catalog has no version")
	}
	if c.LandingTable.Name == "" || len(c.LandingTable.Columns) == 0 {
		return nil, fmt.Errorf("catalog has no landing table definition")
	}

	canonical, err := events.CanonicalJSON(map[string]any{
		"version": c.Version, "database": c.Database,
		"landing": c.LandingTable, "projection": c.Projection,
		"sources": c.Sources, "templates": c.Templates,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize catalog: %w", err)
	}
	sum := sha256.Sum256(canonical)
	c.hash = hex.EncodeToString(sum[:])
	return &c, nil
}

// Hash returns the contract hash: a stable digest of the whole catalog.
func (c *Catalog) Hash() string { return c.hash }

// Source resolves a whitelisted source by name (case-insensitive, with or
// without schema qualifier).
func (c *Catalog) Source(name string) (*SourceDef, bool) {
	for i := range c.Sources {
		s := &c.Sources[i]
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
		// Allow the bare object name when unambiguous within its schema.
		if idx := strings.LastIndex(s.Name, "."); idx >= 0 && strings.EqualFold(s.Name[idx+1:], name) {
			return s, true
		}
	}
	return nil, false
}

// HasTemplate reports whether the SafeSQL template is registered.
func (c *Catalog) HasTemplate(name string) bool {
	for _, t := range c.Templates {
		if strings.EqualFold(t, name) {
			return true
		}
	}
	return false
}

// SourceNames returns all whitelisted source names.
func (c *Catalog) SourceNames() []string {
	names := make([]string, len(c.Sources))
	for i, s := range c.Sources {
		names[i] = s.Name
	}
	return names
}
