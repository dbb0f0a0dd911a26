package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/shibukawa/snapmongo/compiler"
	"github.com/shibukawa/snapmongo/expr"
)

// CompileCmd represents the compile command
type CompileCmd struct {
	TableOptions
	SelectionOptions

	Param []string `short:"p" sep:"none" help:"Runtime parameter (NAME=VALUE); prints the resolved filter or pipeline"`
}

// Run executes the compile command
func (cmd *CompileCmd) Run(ctx *Context) error {
	env, err := loadEnvironment(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	table, err := env.openTable(cmd.Table)
	if err != nil {
		return err
	}
	defer table.Close(ctx.background())

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

	printTemplate(ctx.Stdout, "condition", cond.Template(), cond.Placeholders())

	var sel *compiler.CompiledSelection

	if len(cmd.Select) > 0 {
		req, err := cmd.request(table.Definition(), opts)
		if err != nil {
			return err
		}

		sel, err = table.CompileSelection(req)
		if err != nil {
			return err
		}

		printTemplate(ctx.Stdout, "projection", sel.Template(), sel.Placeholders())

		if having := sel.Having(); having != nil {
			printTemplate(ctx.Stdout, "having", having.Template(), having.Placeholders())
		}
	}

	if len(cmd.Param) == 0 {
		return nil
	}

	params, err := parseParams(cmd.Param)
	if err != nil {
		return err
	}

	if sel == nil {
		filter, err := compiler.Resolve(cond, params)
		if err != nil {
			return err
		}

		return printDocument(ctx.Stdout, "filter", filter)
	}

	pipeline, err := table.QueryPipeline(cond, sel, params)
	if err != nil {
		return err
	}

	for _, stage := range pipeline {
		if err := printDocument(ctx.Stdout, "stage", stage); err != nil {
			return err
		}
	}

	return nil
}

func printTemplate(w io.Writer, label, template string, placeholders compiler.PlaceholderMap) {
	fmt.Fprintf(w, "%s: %s\n", color.GreenString(label), template)
	printPlaceholders(w, placeholders)
}

func printDocument(w io.Writer, label string, doc bson.D) error {
	data, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return fmt.Errorf("failed to render %s: %w", label, err)
	}

	fmt.Fprintf(w, "%s: %s\n", color.YellowString(label), data)

	return nil
}
