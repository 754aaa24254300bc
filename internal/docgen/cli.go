package docgen

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RenderCLIMarkdown writes a CLI reference by walking a cobra command
// tree depth-first. Hidden commands are skipped. Each visible command
// gets an H2 section with its synopsis, examples, a local flags table,
// and a subcommands table linking to child sections.
func RenderCLIMarkdown(w io.Writer, root *cobra.Command) error {
	p := &printer{w: w}
	p.printf("# CLI Reference\n\n")
	p.printf("> **Auto-generated** — do not edit. Run `go run ./cmd/genschema` to regenerate.\n\n")

	if flags := visibleFlags(root.PersistentFlags()); len(flags) > 0 {
		p.printf("## Global Flags\n\n")
		p.flagTable(flags)
	}

	var visit func(cmd *cobra.Command)
	visit = func(cmd *cobra.Command) {
		p.command(cmd)
		for _, child := range cmd.Commands() {
			if child.Hidden {
				continue
			}
			visit(child)
		}
	}
	visit(root)
	return p.err
}

// WriteCLIMarkdown renders the CLI reference to path via a temp file
// rename so a failed run never truncates an existing document.
func WriteCLIMarkdown(path string, root *cobra.Command) error {
	return writeAtomic(path, ".gencli-md-*", func(w io.Writer) error {
		return RenderCLIMarkdown(w, root)
	})
}

// printer accumulates the first write error so render code stays free
// of per-line error plumbing.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

// command renders one H2 command section.
func (p *printer) command(cmd *cobra.Command) {
	p.printf("## %s\n\n", cmd.CommandPath())

	desc := cmd.Long
	if desc == "" {
		desc = cmd.Short
	}
	if desc != "" {
		p.printf("%s\n\n", strings.TrimSpace(desc))
	}

	p.printf("```\n%s\n```\n\n", cmd.UseLine())

	if cmd.Example != "" {
		p.printf("**Example:**\n\n```\n%s\n```\n\n", strings.TrimSpace(cmd.Example))
	}

	if flags := visibleFlags(cmd.LocalNonPersistentFlags()); len(flags) > 0 {
		p.flagTable(flags)
	}
	p.subcommandTable(cmd)
}

// flagTable writes the markdown table for a set of flags.
func (p *printer) flagTable(flags []*pflag.Flag) {
	p.printf("| Flag | Type | Default | Description |\n")
	p.printf("|------|------|---------|-------------|\n")
	for _, f := range flags {
		name := "`--" + f.Name + "`"
		if f.Shorthand != "" {
			name = "`-" + f.Shorthand + "`, `--" + f.Name + "`"
		}
		defVal := ""
		if !zeroDefault(f) {
			defVal = "`" + f.DefValue + "`"
		}
		desc := strings.ReplaceAll(f.Usage, "|", "\\|")
		p.printf("| %s | %s | %s | %s |\n", name, f.Value.Type(), defVal, desc)
	}
	p.printf("\n")
}

// subcommandTable links each visible child to its section anchor.
func (p *printer) subcommandTable(cmd *cobra.Command) {
	var children []*cobra.Command
	for _, c := range cmd.Commands() {
		if !c.Hidden {
			children = append(children, c)
		}
	}
	if len(children) == 0 {
		return
	}

	p.printf("| Subcommand | Description |\n")
	p.printf("|------------|-------------|\n")
	for _, c := range children {
		anchor := strings.ToLower(strings.ReplaceAll(c.CommandPath(), " ", "-"))
		p.printf("| [%s](#%s) | %s |\n", c.CommandPath(), anchor, c.Short)
	}
	p.printf("\n")
}

// visibleFlags collects the non-hidden flags of a set in definition order.
func visibleFlags(fs *pflag.FlagSet) []*pflag.Flag {
	var flags []*pflag.Flag
	fs.VisitAll(func(f *pflag.Flag) {
		if !f.Hidden {
			flags = append(flags, f)
		}
	})
	return flags
}

// zeroDefault reports whether a flag's default is the zero value for
// its type, in which case the Default column stays empty.
func zeroDefault(f *pflag.Flag) bool {
	switch f.Value.Type() {
	case "bool":
		return f.DefValue == "false"
	case "int", "int32", "int64", "uint", "uint32", "uint64", "float32", "float64":
		return f.DefValue == "0"
	case "string":
		return f.DefValue == ""
	case "stringSlice", "stringArray":
		return f.DefValue == "[]"
	default:
		return f.DefValue == ""
	}
}
