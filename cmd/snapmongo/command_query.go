package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"

	"github.com/shibukawa/snapmongo/expr"
	"github.com/shibukawa/snapmongo/store"
)

// QueryCmd represents the query command
type QueryCmd struct {
	TableOptions
	SelectionOptions

	Param   []string      `short:"p" sep:"none" help:"Runtime parameter (NAME=VALUE)"`
	Format  string        `long:"format" help:"Output format (table, json, csv, yaml)" default:"table"`
	Timeout time.Duration `long:"timeout" help:"Query timeout" default:"30s"`
	Exists  bool          `long:"exists" help:"Only report whether a matching document exists"`
}

// Run executes the query command
func (cmd *QueryCmd) Run(ctx *Context) error {
	formatter, err := NewFormatter(cmd.Format)
	if err != nil {
		return err
	}

	params, err := parseParams(cmd.Param)
	if err != nil {
		return err
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

	opts, err := cmd.celOptions(table.Definition())
	if err != nil {
		return err
	}

	where, err := expr.ParseCEL(cmd.Where, opts)
	if err != nil {
		return fmt.Errorf("where: %w", err)
	}

	cond, err := table.CompileCondition(where)
	if err != nil {
		return err
	}

	start := time.Now()

	if cmd.Exists {
		found, err := table.Contains(runCtx, cond, params)
		if err != nil {
			return err
		}

		fmt.Fprintln(ctx.Stdout, found)

		return cmd.report(ctx, env)
	}

	var rows *store.RowIterator

	if len(cmd.Select) == 0 {
		rows, err = table.Find(runCtx, cond, params)
	} else {
		req, rerr := cmd.request(table.Definition(), opts)
		if rerr != nil {
			return rerr
		}

		sel, cerr := table.CompileSelection(req)
		if cerr != nil {
			return cerr
		}

		rows, err = table.Query(runCtx, cond, sel, params)
	}

	if err != nil {
		return err
	}

	result := &QueryResult{Columns: rows.Columns()}

	result.Rows, err = rows.All(runCtx)
	if err != nil {
		return err
	}

	result.Duration = time.Since(start)

	if err := formatter.Format(result, ctx.Stdout); err != nil {
		return err
	}

	return cmd.report(ctx, env)
}

func (cmd *QueryCmd) report(ctx *Context, env *environment) error {
	if !ctx.Verbose {
		return nil
	}

	color.New(color.FgBlue).Fprintln(ctx.Stderr, "metrics:")

	return env.printMetrics(ctx.Stderr)
}
