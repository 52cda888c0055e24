package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Column is one column of a table or view as reported by the backend.
// Name is the canonical case reported by the backend.
type Column struct {
	Name            string `json:"name"`
	Type            string `json:"type"`
	Nullable        bool   `json:"nullable"`
	RequiresQuoting bool   `json:"requires_quoting"`
}

// TableSchema is an ordered list of columns for one table.
type TableSchema struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Column returns the column with the given name (case-insensitive), if any.
func (t *TableSchema) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

// DerivedHint documents a known derived expression for a table.
type DerivedHint struct {
	Concept    string `json:"concept"`
	Expression string `json:"expression"`
	Note       string `json:"note,omitempty"`
}

// Relationship is one foreign-key edge between two tables.
type Relationship struct {
	FromTable  string `json:"from_table"`
	FromColumn string `json:"from_column"`
	ToTable    string `json:"to_table"`
	ToColumn   string `json:"to_column"`
}

// SchemaSnapshot is the read-only view of a backend's schema shared across
// tickets. Mutation happens only through the schema fetcher.
type SchemaSnapshot struct {
	DatabaseKind DatabaseKind             `json:"database_kind"`
	Tables       map[string]*TableSchema  `json:"tables"`
	Views        map[string]*TableSchema  `json:"views,omitempty"`
	DerivedHints map[string][]DerivedHint `json:"derived_hints,omitempty"`
	Samples      map[string][][]string    `json:"samples,omitempty"`
	Relations    []Relationship           `json:"relationships,omitempty"`
}

// Table returns the table or view with the given name (case-insensitive).
func (s *SchemaSnapshot) Table(name string) (*TableSchema, bool) {
	for n, t := range s.Tables {
		if strings.EqualFold(n, name) {
			return t, true
		}
	}
	for n, v := range s.Views {
		if strings.EqualFold(n, name) {
			return v, true
		}
	}
	return nil, false
}

// TableNames returns all table names sorted for deterministic iteration.
func (s *SchemaSnapshot) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for n := range s.Tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// HasIdentifier reports whether name is a table, view, or column anywhere in
// the snapshot (case-insensitive).
func (s *SchemaSnapshot) HasIdentifier(name string) bool {
	if _, ok := s.Table(name); ok {
		return true
	}
	for _, t := range s.Tables {
		if _, ok := t.Column(name); ok {
			return true
		}
	}
	for _, v := range s.Views {
		if _, ok := v.Column(name); ok {
			return true
		}
	}
	return false
}

// Fingerprint returns a stable hash of the snapshot's structure. Two
// snapshots with identical table/column/type sets produce the same value
// regardless of map iteration order.
func (s *SchemaSnapshot) Fingerprint() string {
	var parts []string
	for name, t := range s.Tables {
		for _, c := range t.Columns {
			parts = append(parts, fmt.Sprintf("%s.%s:%s", strings.ToUpper(name), strings.ToUpper(c.Name), strings.ToUpper(c.Type)))
		}
	}
	sort.Strings(parts)
	sum := sha256.Sum256([]byte(string(s.DatabaseKind) + "|" + strings.Join(parts, ",")))
	return hex.EncodeToString(sum[:])
}

// ComputeRequiresQuoting reports whether an identifier needs quoting: any
// casing that differs from its upper-case form, or any character outside
// [A-Za-z0-9_].
func ComputeRequiresQuoting(name string) bool {
	if name != strings.ToUpper(name) {
		return true
	}
	for _, r := range name {
		ok := (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
		if !ok {
			return true
		}
	}
	return false
}
