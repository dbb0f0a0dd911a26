package compiler

import (
	"maps"
	"slices"
)

// MatchAll is the template of a condition that matches every document.
// Resolve returns an empty filter for it without parsing anything.
const MatchAll = "<match-all>"

// CompiledCondition is a filter template plus the placeholders it contains.
// It is immutable and safe for concurrent resolution.
type CompiledCondition struct {
	template        string
	placeholders    PlaceholderMap
	storeAttributes []string
	source          string
}

// Template returns the filter template text.
func (c *CompiledCondition) Template() string {
	return c.template
}

// Placeholders returns a copy of the placeholder map.
func (c *CompiledCondition) Placeholders() PlaceholderMap {
	return maps.Clone(c.placeholders)
}

// IsMatchAll reports whether the condition matches every document.
func (c *CompiledCondition) IsMatchAll() bool {
	return c.template == MatchAll
}

// StoreAttributes returns the stored fields the condition reads, in first-use order.
func (c *CompiledCondition) StoreAttributes() []string {
	return slices.Clone(c.storeAttributes)
}

// Parameters returns the runtime attribute names Resolve needs.
func (c *CompiledCondition) Parameters() []string {
	return c.placeholders.Attributes()
}

func (c *CompiledCondition) String() string {
	if c.source == "" {
		return c.template
	}

	return c.source
}

// SortKey orders query results by an output column.
type SortKey struct {
	Column     string `json:"column"`
	Descending bool   `json:"descending,omitempty"`
}

// CompiledSelection is a projection template plus the having, order, limit
// and offset of a query. Limit and offset are nil when absent.
type CompiledSelection struct {
	projection   string
	placeholders PlaceholderMap
	outputs      []string
	stored       []string
	includeID    bool
	having       *CompiledCondition
	order        []SortKey
	limit        *int64
	offset       *int64
}

func (s *CompiledSelection) Template() string { return s.projection }

func (s *CompiledSelection) Placeholders() PlaceholderMap { return maps.Clone(s.placeholders) }

// Outputs returns the output column names in declaration order.
func (s *CompiledSelection) Outputs() []string { return slices.Clone(s.outputs) }

// Shadows reports whether output column name hides the stored attribute of
// the same name behind a different expression.
func (s *CompiledSelection) Shadows(name string) bool {
	return slices.Contains(s.outputs, name) && !slices.Contains(s.stored, name)
}

func (s *CompiledSelection) IncludeID() bool { return s.includeID }

// Having returns the post-projection filter, or nil.
func (s *CompiledSelection) Having() *CompiledCondition { return s.having }

func (s *CompiledSelection) Order() []SortKey { return slices.Clone(s.order) }

func (s *CompiledSelection) Limit() *int64 { return s.limit }

func (s *CompiledSelection) Offset() *int64 { return s.offset }

// CompiledUpdateSet is the template of an update's set clause.
type CompiledUpdateSet struct {
	template     string
	placeholders PlaceholderMap
	columns      []string
}

func (u *CompiledUpdateSet) Template() string { return u.template }

func (u *CompiledUpdateSet) Placeholders() PlaceholderMap { return maps.Clone(u.placeholders) }

// Columns returns the assigned columns in declaration order.
func (u *CompiledUpdateSet) Columns() []string { return slices.Clone(u.columns) }
