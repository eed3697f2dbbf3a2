// Command liveconn-log views and summarizes liveconn protocol log files.
//
// Log files are written by liveconn-peer and liveconn-probe when run
// with the -protocol-log flag.
//
// Usage:
//
//	liveconn-log <command> [flags] <file.llog>
//
// Commands:
//
//	view     View log file in human-readable format
//	stats    Show per-connection heartbeat and liveness statistics
//	export   Export log file to JSON lines or CSV
//
// Examples:
//
//	# Show only liveness failures
//	liveconn-log view -layer liveness probe.llog
//
//	# Show incoming heartbeats of one connection
//	liveconn-log view -category control -direction in -conn-id 3f2a probe.llog
//
//	# Summarize heartbeat gaps
//	liveconn-log stats probe.llog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/liveconn/liveconn-go/cmd/liveconn-log/commands"
)

const usage = `liveconn-log - liveconn Protocol Log Analyzer

Usage:
  liveconn-log <command> [flags] <file.llog>

Commands:
  view     View log file in human-readable format
  stats    Show per-connection heartbeat and liveness statistics
  export   Export log file to JSON lines or CSV

Use "liveconn-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "view":
		runView(args)
	case "stats":
		runStats(args)
	case "export":
		runExport(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

// newFlagSet creates a flag set with the shared filter flags.
func newFlagSet(name, summary string) (*flag.FlagSet, *commands.FilterOptions) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "liveconn-log %s - %s\n\nUsage:\n  liveconn-log %s [flags] <file.llog>\n\nFlags:\n",
			name, summary, name)
		fs.PrintDefaults()
	}

	opts := &commands.FilterOptions{}
	fs.StringVar(&opts.ConnID, "conn-id", "", "Filter by connection ID")
	fs.StringVar(&opts.TimeStart, "time-start", "", "Filter by start time (RFC3339)")
	fs.StringVar(&opts.TimeEnd, "time-end", "", "Filter by end time (RFC3339)")
	fs.StringVar(&opts.Layer, "layer", "", "Filter by layer (transport, wire, liveness)")
	fs.StringVar(&opts.Direction, "direction", "", "Filter by direction (in, out)")
	fs.StringVar(&opts.Category, "category", "", "Filter by category (message, control, state, error)")
	return fs, opts
}

// parse parses args and returns the log path and filter, exiting on error.
func parse(fs *flag.FlagSet, opts *commands.FilterOptions, args []string) (string, commands.ViewOptions) {
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: log file path required")
		fs.Usage()
		os.Exit(1)
	}

	filter, err := opts.Build()
	if err != nil {
		fail(err)
	}
	return fs.Arg(0), commands.ViewOptions{Filter: filter}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func runView(args []string) {
	fs, opts := newFlagSet("view", "View log file in human-readable format")
	hexData := fs.Bool("hex", false, "Print frame bytes")

	path, view := parse(fs, opts, args)
	view.HexData = *hexData

	if err := commands.RunView(path, view, os.Stdout); err != nil {
		fail(err)
	}
}

func runStats(args []string) {
	fs, opts := newFlagSet("stats", "Show per-connection heartbeat and liveness statistics")

	path, view := parse(fs, opts, args)
	if err := commands.RunStats(path, view.Filter, os.Stdout); err != nil {
		fail(err)
	}
}

func runExport(args []string) {
	fs, opts := newFlagSet("export", "Export log file to JSON lines or CSV")
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")

	path, view := parse(fs, opts, args)

	w := os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			fail(fmt.Errorf("failed to create output file: %w", err))
		}
		defer f.Close()
		w = f
	}

	if err := commands.RunExport(path, view.Filter, *format, w); err != nil {
		fail(err)
	}
}
