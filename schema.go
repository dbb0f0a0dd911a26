package snapmongo

import (
	"fmt"
	"slices"
	"strings"
)

// AttributeType is the semantic type of a table or stream attribute.
type AttributeType string

const (
	TypeString AttributeType = "string"
	TypeInt    AttributeType = "int"
	TypeLong   AttributeType = "long"
	TypeFloat  AttributeType = "float"
	TypeDouble AttributeType = "double"
	TypeBool   AttributeType = "bool"
	TypeObject AttributeType = "object"
)

// IsStringLike reports whether values of this type are rendered as quoted text.
func (t AttributeType) IsStringLike() bool {
	return t == TypeString
}

// IsNumeric reports whether values of this type are rendered as bare numbers.
func (t AttributeType) IsNumeric() bool {
	switch t {
	case TypeInt, TypeLong, TypeFloat, TypeDouble:
		return true
	default:
		return false
	}
}

// Valid reports whether t is one of the known attribute types.
func (t AttributeType) Valid() bool {
	switch t {
	case TypeString, TypeInt, TypeLong, TypeFloat, TypeDouble, TypeBool, TypeObject:
		return true
	default:
		return false
	}
}

// Attribute is a single named, typed column of a table.
type Attribute struct {
	Name string        `json:"name" yaml:"name"` // Attribute name (document field name)
	Type AttributeType `json:"type" yaml:"type"` // Semantic type
}

// IndexAnnotation describes one (possibly compound) secondary index.
// Each element is "field", "field:1" or "field:-1". The last element may be an
// index option document such as {"unique":true}.
type IndexAnnotation struct {
	Fields []string `json:"fields" yaml:"fields"`
}

// OptionDocument returns the trailing option document, if present.
func (a IndexAnnotation) OptionDocument() (string, bool) {
	if len(a.Fields) == 0 {
		return "", false
	}

	last := strings.TrimSpace(a.Fields[len(a.Fields)-1])
	if strings.HasPrefix(last, "{") {
		return last, true
	}

	return "", false
}

// KeyElements returns the field[:order] elements without the option document.
func (a IndexAnnotation) KeyElements() []string {
	if _, ok := a.OptionDocument(); ok {
		return a.Fields[:len(a.Fields)-1]
	}

	return a.Fields
}

// TableDefinition is the schema the host engine hands over at table initialization.
type TableDefinition struct {
	Name       string            `json:"name" yaml:"name"`                                  // Table name
	Collection string            `json:"collection,omitempty" yaml:"collection,omitempty"`  // Collection override (optional)
	Attributes []Attribute       `json:"attributes" yaml:"attributes"`                      // Ordered attributes
	PrimaryKey []string          `json:"primaryKey,omitempty" yaml:"primary_key,omitempty"` // Primary key attributes (optional)
	Indexes    []IndexAnnotation `json:"indexes,omitempty" yaml:"indexes,omitempty"`        // Secondary indexes (optional)
}

// CollectionName returns the collection the table is persisted as.
func (d *TableDefinition) CollectionName() string {
	if d.Collection != "" {
		return d.Collection
	}

	return d.Name
}

// AttributeNames returns attribute names in declaration order.
func (d *TableDefinition) AttributeNames() []string {
	names := make([]string, len(d.Attributes))
	for i, attr := range d.Attributes {
		names[i] = attr.Name
	}

	return names
}

// Attribute looks up an attribute by name.
func (d *TableDefinition) Attribute(name string) (Attribute, bool) {
	for _, attr := range d.Attributes {
		if attr.Name == name {
			return attr, true
		}
	}

	return Attribute{}, false
}

// Validate checks the definition for errors that must abort initialization.
func (d *TableDefinition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: table name is required", ErrInvalidTableDefinition)
	}

	if len(d.Attributes) == 0 {
		return fmt.Errorf("%w: table '%s' has no attributes", ErrInvalidTableDefinition, d.Name)
	}

	seen := make(map[string]bool, len(d.Attributes))
	for _, attr := range d.Attributes {
		if strings.TrimSpace(attr.Name) == "" {
			return fmt.Errorf("%w: table '%s' has an attribute without a name", ErrInvalidTableDefinition, d.Name)
		}

		if seen[attr.Name] {
			return fmt.Errorf("%w: table '%s' declares attribute '%s' twice", ErrInvalidTableDefinition, d.Name, attr.Name)
		}

		seen[attr.Name] = true

		if !attr.Type.Valid() {
			return fmt.Errorf("%w: attribute '%s' has unknown type '%s'", ErrInvalidTableDefinition, attr.Name, attr.Type)
		}
	}

	names := d.AttributeNames()
	for _, key := range d.PrimaryKey {
		if !slices.Contains(names, key) {
			return fmt.Errorf("%w: primary key '%s' is not an attribute of table '%s'", ErrUnknownAttribute, key, d.Name)
		}
	}

	return nil
}

// MapRecord maps a positional record onto attribute names. Values beyond the
// attribute list are ignored; missing trailing values are left out.
func (d *TableDefinition) MapRecord(record []any) map[string]any {
	values := make(map[string]any, len(d.Attributes))
	for i, attr := range d.Attributes {
		if i >= len(record) {
			break
		}

		values[attr.Name] = record[i]
	}

	return values
}
