package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
)

// IndexesCmd represents the indexes command
type IndexesCmd struct {
	Table   string        `short:"t" required:"" help:"Table name from the configuration"`
	Check   bool          `short:"c" help:"Connect and compare with the indexes of the collection (exit 1 on drift)"`
	Timeout time.Duration `long:"timeout" help:"Connection timeout" default:"30s"`
}

// Run executes the indexes command
func (cmd *IndexesCmd) Run(ctx *Context) error {
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

	for _, spec := range table.ExpectedIndexes() {
		fmt.Fprintf(ctx.Stdout, "%s %s\n", color.GreenString(spec.Name()), spec)
	}

	if !cmd.Check {
		return nil
	}

	drifts, err := table.CheckIndexes(runCtx)
	if err != nil {
		return err
	}

	if len(drifts) == 0 {
		if !ctx.Quiet {
			color.New(color.FgGreen).Fprintln(ctx.Stdout, "indexes match")
		}

		return nil
	}

	for _, drift := range drifts {
		color.New(color.FgRed).Fprintln(ctx.Stdout, drift.String())
	}

	return fmt.Errorf("%w: %d index(es)", ErrIndexDrift, len(drifts))
}
