package compiler

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/shibukawa/snapmongo"
	"github.com/shibukawa/snapmongo/expr"
)

// OutputColumn is one entry of a select list.
type OutputColumn struct {
	Name string
	Expr expr.Node
}

// SelectionRequest describes a query's select list and its modifiers.
type SelectionRequest struct {
	Columns   []OutputColumn
	Having    expr.Node // Evaluated against output columns (optional)
	OrderBy   []SortKey
	Limit     *int64
	Offset    *int64
	IncludeID bool
}

// SetAssignment is one column of an update's set clause.
type SetAssignment struct {
	Column string
	Expr   expr.Node
}

// CompileSelection compiles a select list into a projection document template.
// The store identity field is suppressed unless IncludeID is set.
func CompileSelection(req SelectionRequest, table *snapmongo.TableDefinition) (*CompiledSelection, error) {
	if len(req.Columns) == 0 {
		return nil, fmt.Errorf("%w: selection has no output columns", snapmongo.ErrUnsupportedExpression)
	}

	if req.Limit != nil && *req.Limit < 0 {
		return nil, fmt.Errorf("%w: negative limit %d", snapmongo.ErrUnsupportedExpression, *req.Limit)
	}

	if req.Offset != nil && *req.Offset < 0 {
		return nil, fmt.Errorf("%w: negative offset %d", snapmongo.ErrUnsupportedExpression, *req.Offset)
	}

	c := newFragmentCompiler(newNamespace(), attributeNames(table))

	var b strings.Builder

	b.WriteString("{")

	if !req.IncludeID {
		b.WriteString(`"_id":0`)
	}

	outputs := make([]string, 0, len(req.Columns))
	var stored []string

	for i, column := range req.Columns {
		if column.Name == "" || strings.HasPrefix(column.Name, "$") || strings.Contains(column.Name, ".") {
			return nil, fmt.Errorf("%w: invalid output column name %q", snapmongo.ErrUnsupportedExpression, column.Name)
		}

		if slices.Contains(outputs, column.Name) {
			return nil, fmt.Errorf("%w: duplicate output column %q", snapmongo.ErrUnsupportedExpression, column.Name)
		}

		text, err := c.compile(column.Expr)
		if err != nil {
			return nil, fmt.Errorf("output column %q: %w", column.Name, err)
		}

		if i > 0 || !req.IncludeID {
			b.WriteString(",")
		}

		if err := writeField(&b, column.Name, text); err != nil {
			return nil, err
		}

		outputs = append(outputs, column.Name)

		if v, ok := column.Expr.(expr.StoreVariable); ok && v.Attribute == column.Name {
			stored = append(stored, column.Name)
		}
	}

	b.WriteString("}")

	var having *CompiledCondition
	if req.Having != nil {
		// Having runs after the projection, so it may name output columns as well as attributes
		visible := append(slices.Clone(outputs), attributeNames(table)...)
		if table == nil {
			visible = nil
		}

		var err error

		having, err = compileCondition(req.Having, visible)
		if err != nil {
			return nil, fmt.Errorf("having: %w", err)
		}
	}

	for _, key := range req.OrderBy {
		if !slices.Contains(outputs, key.Column) {
			return nil, fmt.Errorf("%w: order by '%s' is not an output column", snapmongo.ErrUnknownAttribute, key.Column)
		}
	}

	return &CompiledSelection{
		projection:   b.String(),
		placeholders: c.placeholders,
		outputs:      outputs,
		stored:       stored,
		includeID:    req.IncludeID,
		having:       having,
		order:        slices.Clone(req.OrderBy),
		limit:        req.Limit,
		offset:       req.Offset,
	}, nil
}

// CompileUpdateSet compiles an update's set clause. Each assignment becomes
// one field of the resulting document.
func CompileUpdateSet(assignments []SetAssignment, table *snapmongo.TableDefinition) (*CompiledUpdateSet, error) {
	if len(assignments) == 0 {
		return nil, fmt.Errorf("%w: update has no set clause", snapmongo.ErrUnsupportedExpression)
	}

	attributes := attributeNames(table)
	c := newFragmentCompiler(newNamespace(), attributes)

	var b strings.Builder

	b.WriteString("{")

	columns := make([]string, 0, len(assignments))
	for i, assignment := range assignments {
		if attributes != nil && !slices.Contains(attributes, assignment.Column) {
			return nil, fmt.Errorf("%w: set column '%s'", snapmongo.ErrUnknownAttribute, assignment.Column)
		}

		if slices.Contains(columns, assignment.Column) {
			return nil, fmt.Errorf("%w: column %q assigned twice", snapmongo.ErrUnsupportedExpression, assignment.Column)
		}

		text, err := c.compile(assignment.Expr)
		if err != nil {
			return nil, fmt.Errorf("set column %q: %w", assignment.Column, err)
		}

		if i > 0 {
			b.WriteString(",")
		}

		if err := writeField(&b, assignment.Column, text); err != nil {
			return nil, err
		}

		columns = append(columns, assignment.Column)
	}

	b.WriteString("}")

	return &CompiledUpdateSet{
		template:     b.String(),
		placeholders: c.placeholders,
		columns:      columns,
	}, nil
}

// AssignStreamAttributes builds the common "set every listed column from the
// stream attribute of the same name" clause.
func AssignStreamAttributes(table *snapmongo.TableDefinition, columns ...string) ([]SetAssignment, error) {
	assignments := make([]SetAssignment, 0, len(columns))
	for _, column := range columns {
		attr, ok := table.Attribute(column)
		if !ok {
			return nil, fmt.Errorf("%w: '%s'", snapmongo.ErrUnknownAttribute, column)
		}

		assignments = append(assignments, SetAssignment{
			Column: column,
			Expr:   expr.StreamVariable{ID: column, Attribute: column, Type: attr.Type},
		})
	}

	return assignments, nil
}

func writeField(b *strings.Builder, name, fragment string) error {
	key, err := json.Marshal(name)
	if err != nil {
		return err
	}

	b.Write(key)
	b.WriteString(":")
	b.WriteString(fragment)

	return nil
}
