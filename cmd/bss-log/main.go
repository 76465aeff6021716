// Command bss-log views and analyzes protocol capture files.
//
// Capture files are written by bss-control with -protocol-log (or the
// log.protocol_file setting) and hold CBOR-encoded events.
//
// Usage:
//
//	bss-log <command> [flags] <file.blog>
//
// Commands:
//
//	view     View events in human-readable format
//	export   Export events as JSONL or CSV
//	filter   Copy matching events to a new capture file
//	stats    Show statistics about the capture
//
// Examples:
//
//	# View traffic for one device
//	bss-log view -device foh-amp capture.blog
//
//	# Show only ACK/NAK bytes
//	bss-log view -category control capture.blog
//
//	# Export to CSV
//	bss-log export -format csv capture.blog > capture.csv
//
//	# Keep one connection
//	bss-log filter -conn-id 0a1b2c3d-... -o one.blog capture.blog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/buzzspeakerhire/bss-control-app/cmd/bss-log/commands"
)

const usage = `bss-log - protocol capture analyzer

Usage:
  bss-log <command> [flags] <file.blog>

Commands:
  view     View events in human-readable format
  export   Export events as JSONL or CSV
  filter   Copy matching events to a new capture file
  stats    Show statistics about the capture

Use "bss-log <command> -help" for more information about a command.
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
	case "export":
		runExport(args)
	case "filter":
		runFilter(args)
	case "stats":
		runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
}

// filterFlags registers the shared filter flags on fs.
func filterFlags(fs *flag.FlagSet) *commands.FilterOptions {
	opts := &commands.FilterOptions{}
	fs.StringVar(&opts.DeviceID, "device", "", "Filter by device id")
	fs.StringVar(&opts.ConnID, "conn-id", "", "Filter by connection id")
	fs.StringVar(&opts.Layer, "layer", "", "Filter by layer (transport, wire, session)")
	fs.StringVar(&opts.Direction, "direction", "", "Filter by direction (in, out)")
	fs.StringVar(&opts.Category, "category", "", "Filter by category (message, control, state, error)")
	fs.StringVar(&opts.TimeStart, "time-start", "", "Only events at or after this RFC3339 time")
	fs.StringVar(&opts.TimeEnd, "time-end", "", "Only events before this RFC3339 time")
	return opts
}

// parseArgs parses args and returns the capture file path.
func parseArgs(fs *flag.FlagSet, args []string) string {
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: log file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func runView(args []string) {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	opts := filterFlags(fs)
	path := parseArgs(fs, args)

	filter, err := opts.Build()
	if err != nil {
		fatal(err)
	}
	if err := commands.RunView(path, filter, os.Stdout); err != nil {
		fatal(err)
	}
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default stdout)")
	opts := filterFlags(fs)
	path := parseArgs(fs, args)

	filter, err := opts.Build()
	if err != nil {
		fatal(err)
	}

	w := os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			fatal(fmt.Errorf("failed to create output file: %w", err))
		}
		defer f.Close()
		w = f
	}
	if err := commands.RunExport(path, *format, filter, w); err != nil {
		fatal(err)
	}
}

func runFilter(args []string) {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)
	output := fs.String("o", "", "Output capture file (required)")
	opts := filterFlags(fs)
	path := parseArgs(fs, args)

	if *output == "" {
		fmt.Fprintln(os.Stderr, "Error: -o output file required")
		os.Exit(1)
	}
	filter, err := opts.Build()
	if err != nil {
		fatal(err)
	}
	n, err := commands.RunFilter(path, *output, filter)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("Filtered %d events to %s\n", n, *output)
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	path := parseArgs(fs, args)
	if err := commands.RunStats(path, os.Stdout); err != nil {
		fatal(err)
	}
}
