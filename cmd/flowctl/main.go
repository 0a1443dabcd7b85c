// Command flowctl runs and inspects workflow executions from the command
// line: execute a workflow JSON file end to end, resume a paused or failed
// run from its persisted checkpoint, or inspect what a run store holds.
//
// Usage:
//
//	flowctl run --workflow wf.json --input "hello" --provider anthropic --model claude-sonnet-4-20250514
//	flowctl resume --workflow wf.json --run-id abc123 --store sqlite --store-db ./flowctl.db
//	flowctl inspect --run-id abc123 --store sqlite --store-db ./flowctl.db
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
)

// CLI defines the command-line interface.
type CLI struct {
	Run     RunCmd     `cmd:"" help:"Execute a workflow JSON file."`
	Resume  ResumeCmd  `cmd:"" help:"Resume a previously persisted run."`
	Inspect InspectCmd `cmd:"" help:"Show the latest persisted state of a run."`
	Version VersionCmd `cmd:"" help:"Show version information."`

	Store    string `help:"Run store backend: memory, sqlite." default:"memory" enum:"memory,sqlite"`
	StoreDB  string `name:"store-db" help:"SQLite database path (required when --store=sqlite)." type:"path"`
	LogLevel string `name:"log-level" help:"Log level for execution events (debug, info, warn, error)." default:"info"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(_ *CLI) error {
	fmt.Println("flowctl (dev build)")
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("flowctl"),
		kong.Description("Run, resume and inspect workflow executions."),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	if err != nil {
		fmt.Fprintln(os.Stderr, "flowctl:", err)
		os.Exit(1)
	}
}
