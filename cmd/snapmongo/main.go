package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/alecthomas/kong"
)

// Context represents the global context for commands
type Context struct {
	Config  string
	Verbose bool
	Quiet   bool
	Stdout  io.Writer
	Stderr  io.Writer

	base context.Context
}

// background returns the context commands run under; it is canceled on interrupt.
func (c *Context) background() context.Context {
	if c.base == nil {
		return context.Background()
	}

	return c.base
}

// CLI represents the command-line interface
var CLI struct {
	Config  string     `help:"Configuration file path" default:"snapmongo.yaml"`
	Verbose bool       `help:"Enable verbose output" short:"v"`
	Quiet   bool       `help:"Suppress output" short:"q"`
	Compile CompileCmd `cmd:"" help:"Compile a condition and selection and print the templates"`
	Indexes IndexesCmd `cmd:"" help:"Compare expected indexes with the collection"`
	Query   QueryCmd   `cmd:"" help:"Find or aggregate rows of a table"`
	Insert  InsertCmd  `cmd:"" help:"Insert rows from a JSON or YAML file"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// VersionCmd represents the version command
type VersionCmd struct{}

// Run executes the version command
func (cmd *VersionCmd) Run(ctx *Context) error {
	fmt.Fprintln(ctx.Stdout, "snapmongo v0.1.0")
	return nil
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("snapmongo"),
		kong.Description("Compile stream conditions into MongoDB queries and run them against configured tables."),
	)

	base, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	appCtx := &Context{
		Config:  CLI.Config,
		Verbose: CLI.Verbose,
		Quiet:   CLI.Quiet,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		base:    base,
	}

	err := ctx.Run(appCtx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(exitCode(err))
	}
}
