package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-yaml"
	"go.mongodb.org/mongo-driver/bson"
)

// OutputFormat represents the format of query results
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatCSV   OutputFormat = "csv"
	FormatYAML  OutputFormat = "yaml"
)

// QueryResult holds the rows a command read from a table
type QueryResult struct {
	Columns  []string
	Rows     [][]any
	Duration time.Duration
}

// Formatter formats query results
type Formatter struct {
	Output OutputFormat
}

// NewFormatter creates a new result formatter
func NewFormatter(format string) (*Formatter, error) {
	f := OutputFormat(strings.ToLower(format))

	switch f {
	case FormatTable, FormatJSON, FormatCSV, FormatYAML:
		return &Formatter{Output: f}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// Format formats query results according to the configured format
func (f *Formatter) Format(result *QueryResult, output io.Writer) error {
	switch f.Output {
	case FormatJSON:
		return f.formatAsJSON(result, output)
	case FormatCSV:
		return f.formatAsCSV(result, output)
	case FormatYAML:
		return f.formatAsYAML(result, output)
	default:
		return f.formatAsTable(result, output)
	}
}

// formatAsTable aligns the rows in columns with a row count footer
func (f *Formatter) formatAsTable(result *QueryResult, output io.Writer) error {
	if len(result.Rows) == 0 {
		_, err := fmt.Fprintln(output, "No results")
		return err
	}

	w := tabwriter.NewWriter(output, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, strings.Join(result.Columns, "\t"))

	for _, row := range result.Rows {
		values := make([]string, len(row))
		for i, val := range row {
			values[i] = formatValue(val)
		}

		fmt.Fprintln(w, strings.Join(values, "\t"))
	}

	if err := w.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(output, "(%d rows, %v)\n", len(result.Rows), result.Duration.Round(time.Millisecond))

	return err
}

func (f *Formatter) formatAsJSON(result *QueryResult, output io.Writer) error {
	jsonResult := map[string]any{
		"data":     rowsToMaps(result.Columns, result.Rows),
		"count":    len(result.Rows),
		"duration": result.Duration.String(),
	}

	encoder := json.NewEncoder(output)
	encoder.SetIndent("", "  ")

	return encoder.Encode(jsonResult)
}

func (f *Formatter) formatAsCSV(result *QueryResult, output io.Writer) error {
	writer := csv.NewWriter(output)

	if err := writer.Write(result.Columns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, row := range result.Rows {
		values := make([]string, len(row))
		for i, val := range row {
			values[i] = formatValue(val)
		}

		if err := writer.Write(values); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()

	return writer.Error()
}

func (f *Formatter) formatAsYAML(result *QueryResult, output io.Writer) error {
	yamlResult := map[string]any{
		"data":     rowsToMaps(result.Columns, result.Rows),
		"count":    len(result.Rows),
		"duration": result.Duration.String(),
	}

	data, err := yaml.Marshal(yamlResult)
	if err != nil {
		return fmt.Errorf("failed to marshal results to YAML: %w", err)
	}

	_, err = output.Write(data)

	return err
}

// rowsToMaps converts positional rows to column maps. Nested documents are
// turned into plain maps and slices so every encoder can handle them.
func rowsToMaps(columns []string, rows [][]any) []map[string]any {
	result := make([]map[string]any, 0, len(rows))

	for _, row := range rows {
		rowMap := make(map[string]any, len(columns))

		for i, col := range columns {
			if i < len(row) {
				rowMap[col] = plainValue(row[i])
			}
		}

		result = append(result, rowMap)
	}

	return result
}

func plainValue(val any) any {
	switch v := val.(type) {
	case bson.M:
		m := make(map[string]any, len(v))
		for key, item := range v {
			m[key] = plainValue(item)
		}

		return m
	case bson.D:
		m := make(map[string]any, len(v))
		for _, e := range v {
			m[e.Key] = plainValue(e.Value)
		}

		return m
	case bson.A:
		items := make([]any, len(v))
		for i, item := range v {
			items[i] = plainValue(item)
		}

		return items
	default:
		return val
	}
}

// formatValue formats a value as a string
func formatValue(val any) string {
	switch v := val.(type) {
	case nil:
		return "NULL"
	case string:
		return v
	case bool:
		return fmt.Sprintf("%t", v)
	case bson.M, bson.D, bson.A:
		data, err := bson.MarshalExtJSON(bson.M{"v": v}, false, false)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}

		// strip the {"v": wrapper that lets arrays through the document encoder
		text := string(data)

		return text[len(`{"v":`) : len(text)-1]
	default:
		return fmt.Sprintf("%v", v)
	}
}
