package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/goccy/go-yaml"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shibukawa/snapmongo"
	"github.com/shibukawa/snapmongo/compiler"
	"github.com/shibukawa/snapmongo/expr"
	"github.com/shibukawa/snapmongo/logging"
	"github.com/shibukawa/snapmongo/store"
)

// environment holds the configuration, logger and metrics shared by the
// commands that talk to the store.
type environment struct {
	config   *snapmongo.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *store.Metrics
	close    func()
}

func loadEnvironment(ctx *Context) (*environment, error) {
	config, err := snapmongo.LoadConfig(ctx.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logCfg := config.Logging

	switch {
	case ctx.Verbose:
		logCfg.Level = "debug"
	case ctx.Quiet:
		logCfg.Level = "error"
	}

	logger, closeLogger := logging.SetupLogger(logCfg, ctx.Stderr)
	registry := prometheus.NewRegistry()

	return &environment{
		config:   config,
		logger:   logger,
		registry: registry,
		metrics:  store.NewMetrics(registry, config.Metrics.Namespace),
		close:    closeLogger,
	}, nil
}

func (e *environment) openTable(name string) (*store.Table, error) {
	return store.OpenTable(e.config, name, store.WithLogger(e.logger), store.WithMetrics(e.metrics))
}

// printMetrics writes every non-zero counter of the registry as one line.
func (e *environment) printMetrics(w io.Writer) error {
	families, err := e.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	for _, family := range families {
		for _, metric := range family.GetMetric() {
			value := metric.GetCounter().GetValue()
			if value == 0 {
				continue
			}

			labels := make([]string, 0, len(metric.GetLabel()))
			for _, label := range metric.GetLabel() {
				labels = append(labels, label.GetName()+"="+label.GetValue())
			}

			fmt.Fprintf(w, "%s{%s} %g\n", family.GetName(), strings.Join(labels, ","), value)
		}
	}

	return nil
}

func withTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}

	return context.WithTimeout(parent, d)
}

// TableOptions selects a table and describes the stream its expressions may reference.
type TableOptions struct {
	Table  string   `short:"t" required:"" help:"Table name from the configuration"`
	Where  string   `short:"w" help:"Condition in CEL syntax (default: match everything)"`
	Stream []string `short:"s" sep:"none" help:"Stream attribute (NAME:TYPE)"`
}

func (o *TableOptions) celOptions(def *snapmongo.TableDefinition) (expr.CELOptions, error) {
	streams, err := parseStreams(o.Stream)
	if err != nil {
		return expr.CELOptions{}, err
	}

	return expr.CELOptions{Table: def, StreamAttributes: streams}, nil
}

// SelectionOptions describes an aggregation query on top of TableOptions.
type SelectionOptions struct {
	Select []string `sep:"none" help:"Output column (NAME=EXPRESSION)"`
	Having string   `help:"Condition on output columns in CEL syntax"`
	Order  []string `sep:"none" help:"Sort key (COLUMN or COLUMN:desc)"`
	Limit  int64    `help:"Maximum number of rows (negative for no limit)" default:"-1"`
	Offset int64    `help:"Number of rows to skip"`
	ID     bool     `name:"id" help:"Keep the document identity in the output"`
}

func (o *SelectionOptions) request(def *snapmongo.TableDefinition, opts expr.CELOptions) (compiler.SelectionRequest, error) {
	columns, err := parseSelections(o.Select, opts)
	if err != nil {
		return compiler.SelectionRequest{}, err
	}

	order, err := parseOrder(o.Order)
	if err != nil {
		return compiler.SelectionRequest{}, err
	}

	req := compiler.SelectionRequest{
		Columns:   columns,
		OrderBy:   order,
		IncludeID: o.ID,
	}

	if o.Limit >= 0 {
		limit := o.Limit
		req.Limit = &limit
	}

	if o.Offset > 0 {
		offset := o.Offset
		req.Offset = &offset
	}

	if o.Having != "" {
		opts.Table = havingScope(def, columns)

		req.Having, err = expr.ParseCEL(o.Having, opts)
		if err != nil {
			return compiler.SelectionRequest{}, fmt.Errorf("having: %w", err)
		}
	}

	return req, nil
}

// havingScope extends the table with the output columns so having expressions
// can name them.
func havingScope(def *snapmongo.TableDefinition, columns []compiler.OutputColumn) *snapmongo.TableDefinition {
	scope := *def
	scope.Attributes = slices.Clone(def.Attributes)

	for _, column := range columns {
		if _, ok := def.Attribute(column.Name); !ok {
			scope.Attributes = append(scope.Attributes, snapmongo.Attribute{Name: column.Name, Type: snapmongo.TypeObject})
		}
	}

	return &scope
}

// parseParams parses NAME=VALUE pairs. Values are read as YAML scalars, so
// 42 is a number, true a boolean and "42" a string.
func parseParams(values []string) (map[string]any, error) {
	params := make(map[string]any, len(values))

	for _, value := range values {
		name, text, ok := strings.Cut(value, "=")
		name = strings.TrimSpace(name)

		if !ok || name == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidParam, value)
		}

		var parsed any
		if err := yaml.Unmarshal([]byte(text), &parsed); err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidParam, value, err)
		}

		params[name] = normalizeNumber(parsed)
	}

	return params, nil
}

// normalizeNumber folds the unsigned integers the YAML decoder produces into int64.
func normalizeNumber(v any) any {
	switch n := v.(type) {
	case uint64:
		if n <= 1<<63-1 {
			return int64(n)
		}
	case int:
		return int64(n)
	}

	return v
}

func parseStreams(values []string) ([]snapmongo.Attribute, error) {
	attributes := make([]snapmongo.Attribute, 0, len(values))

	for _, value := range values {
		name, typ, ok := strings.Cut(value, ":")
		name = strings.TrimSpace(name)
		attrType := snapmongo.AttributeType(strings.ToLower(strings.TrimSpace(typ)))

		if !ok || name == "" || !attrType.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStream, value)
		}

		attributes = append(attributes, snapmongo.Attribute{Name: name, Type: attrType})
	}

	return attributes, nil
}

func parseSelections(values []string, opts expr.CELOptions) ([]compiler.OutputColumn, error) {
	columns := make([]compiler.OutputColumn, 0, len(values))

	for _, value := range values {
		name, text, ok := strings.Cut(value, "=")
		name = strings.TrimSpace(name)

		if !ok || name == "" || strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSelect, value)
		}

		node, err := expr.ParseCEL(text, opts)
		if err != nil {
			return nil, fmt.Errorf("select %s: %w", name, err)
		}

		columns = append(columns, compiler.OutputColumn{Name: name, Expr: node})
	}

	return columns, nil
}

func parseOrder(values []string) ([]compiler.SortKey, error) {
	keys := make([]compiler.SortKey, 0, len(values))

	for _, value := range values {
		column, direction, _ := strings.Cut(value, ":")
		column = strings.TrimSpace(column)

		if column == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidOrder, value)
		}

		key := compiler.SortKey{Column: column}

		switch strings.ToLower(strings.TrimSpace(direction)) {
		case "", "asc":
		case "desc":
			key.Descending = true
		default:
			return nil, fmt.Errorf("%w: %q", ErrInvalidOrder, value)
		}

		keys = append(keys, key)
	}

	return keys, nil
}

// printPlaceholders lists the tokens of a template with the attribute they stand for.
func printPlaceholders(w io.Writer, placeholders compiler.PlaceholderMap) {
	tokens := placeholders.Tokens()
	if len(tokens) == 0 {
		return
	}

	for _, token := range tokens {
		ph := placeholders[token]
		fmt.Fprintf(w, "  %s -> %s (%s)\n", color.CyanString(token), ph.Attribute, ph.Type)
	}
}
