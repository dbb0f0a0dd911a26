package main

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/fatih/color"
	"github.com/goccy/go-yaml"

	"github.com/shibukawa/snapmongo"
	"github.com/shibukawa/snapmongo/compiler"
	"github.com/shibukawa/snapmongo/expr"
	"github.com/shibukawa/snapmongo/store"
)

// InsertCmd represents the insert command
type InsertCmd struct {
	Table   string        `short:"t" required:"" help:"Table name from the configuration"`
	File    string        `short:"f" required:"" help:"JSON or YAML file with a list of rows" type:"existingfile"`
	Upsert  bool          `long:"upsert" help:"Update rows whose primary key exists and insert the rest"`
	Timeout time.Duration `long:"timeout" help:"Write timeout" default:"60s"`
}

// Run executes the insert command
func (cmd *InsertCmd) Run(ctx *Context) error {
	data, err := os.ReadFile(cmd.File)
	if err != nil {
		return fmt.Errorf("failed to read rows file: %w", err)
	}

	env, err := loadEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	table, err := env.openTable(cmd.Table)
	if err != nil {
		return err
	}

	runCtx, cancel := withTimeout(ctx.background(), cmd.Timeout)
	defer cancel()

	defer table.Close(runCtx)

	records, err := decodeRows(data, table.Definition())
	if err != nil {
		return err
	}

	if cmd.Upsert {
		err = upsertRecords(runCtx, table, records)
	} else {
		err = table.Add(runCtx, records)
	}

	if err != nil {
		return err
	}

	if !ctx.Quiet {
		color.New(color.FgGreen).Fprintf(ctx.Stdout, "%d row(s) written to %s\n", len(records), cmd.Table)
	}

	if ctx.Verbose {
		return env.printMetrics(ctx.Stderr)
	}

	return nil
}

// decodeRows reads a list of rows. A row is either a positional list in
// attribute order or a map keyed by attribute name. Missing trailing values
// are stored as null.
func decodeRows(data []byte, def *snapmongo.TableDefinition) ([][]any, error) {
	var rows []any
	if err := yaml.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRowsFile, err)
	}

	records := make([][]any, 0, len(rows))

	for i, row := range rows {
		var values []any

		switch r := row.(type) {
		case []any:
			if len(r) > len(def.Attributes) {
				return nil, fmt.Errorf("%w: row %d has %d values for %d attributes", ErrInvalidRowsFile, i, len(r), len(def.Attributes))
			}

			values = make([]any, len(def.Attributes))
			copy(values, r)
		case map[string]any:
			values = make([]any, len(def.Attributes))

			for name, value := range r {
				index := slices.IndexFunc(def.Attributes, func(a snapmongo.Attribute) bool { return a.Name == name })
				if index < 0 {
					return nil, fmt.Errorf("%w: row %d: '%s'", snapmongo.ErrUnknownAttribute, i, name)
				}

				values[index] = value
			}
		default:
			return nil, fmt.Errorf("%w: row %d is a %T", ErrInvalidRowsFile, i, row)
		}

		record := make([]any, len(values))
		for j, value := range values {
			record[j] = coerceValue(value, def.Attributes[j].Type)
		}

		records = append(records, record)
	}

	return records, nil
}

// coerceValue gives decoded numbers the width of their attribute type.
func coerceValue(v any, typ snapmongo.AttributeType) any {
	v = normalizeNumber(v)

	switch typ {
	case snapmongo.TypeDouble, snapmongo.TypeFloat:
		if n, ok := v.(int64); ok {
			return float64(n)
		}
	case snapmongo.TypeInt:
		if n, ok := v.(int64); ok && n >= -1<<31 && n <= 1<<31-1 {
			return int32(n)
		}
	}

	return v
}

// upsertRecords matches rows on the primary key and sets every other attribute.
func upsertRecords(ctx context.Context, table *store.Table, records [][]any) error {
	def := table.Definition()
	if len(def.PrimaryKey) == 0 {
		return fmt.Errorf("%w: table '%s' has no primary key to upsert on", snapmongo.ErrInvalidTableDefinition, def.Name)
	}

	var where expr.Node

	for _, key := range def.PrimaryKey {
		attr, _ := def.Attribute(key)
		match := expr.Compare{
			Op:    expr.Equal,
			Left:  expr.StoreVariable{Attribute: key, Type: attr.Type},
			Right: expr.StreamVariable{ID: key, Attribute: key, Type: attr.Type},
		}

		if where == nil {
			where = match
		} else {
			where = expr.And{Left: where, Right: match}
		}
	}

	cond, err := table.CompileCondition(where)
	if err != nil {
		return err
	}

	var columns []string

	for _, name := range def.AttributeNames() {
		if !slices.Contains(def.PrimaryKey, name) {
			columns = append(columns, name)
		}
	}

	if len(columns) == 0 {
		return table.Add(ctx, records)
	}

	assignments, err := compiler.AssignStreamAttributes(def, columns...)
	if err != nil {
		return err
	}

	set, err := table.CompileUpdateSet(assignments)
	if err != nil {
		return err
	}

	rows := make([]store.UpdateRow, len(records))
	for i, record := range records {
		values := def.MapRecord(record)
		rows[i] = store.UpdateRow{Condition: values, Values: values, Record: record}
	}

	return table.UpdateOrAdd(ctx, cond, set, rows)
}
