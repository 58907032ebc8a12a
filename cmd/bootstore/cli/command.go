// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
)

// Command is one node of the bootstore command tree.
type Command struct {
	// Name is the word typed to select this command.
	Name string

	// Summary is the one-line listing in the parent's help.
	Summary string

	// Description replaces Summary at the top of the command's own
	// help.
	Description string

	// Usage overrides the synthesized usage line.
	Usage string

	Examples []Example

	// Flags builds a fresh flag set. It is called on every parse, so
	// it must bind its variables anew each time. Nil means no flags.
	Flags func() *pflag.FlagSet

	// Subcommands are selected by the first positional argument. A
	// command with both Subcommands and Run falls back to Run when
	// nothing matches.
	Subcommands []*Command

	// Run receives the positional arguments left after flag parsing.
	Run func(ctx context.Context, args []string) error

	// HelpOutput receives help text. Subcommands inherit it; the
	// default is stderr.
	HelpOutput io.Writer

	parent *Command
}

// Example is one entry in the Examples section of help.
type Example struct {
	Description string
	Command     string
}

// Execute selects a subcommand or parses flags and calls Run.
func (c *Command) Execute(ctx context.Context, args []string) error {
	if len(args) > 0 && isHelpFlag(args[0]) {
		c.PrintHelp(c.helpOutput())
		return nil
	}

	if len(c.Subcommands) > 0 {
		if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
			sub := c.lookup(args[0])
			if sub == nil {
				return c.unknownCommand(args[0])
			}
			sub.parent = c
			return sub.Execute(ctx, args[1:])
		}
		if c.Run == nil {
			c.PrintHelp(c.helpOutput())
			if len(args) == 0 {
				return errors.New("subcommand required")
			}
			return fmt.Errorf("subcommand required (got flag %q)", args[0])
		}
	}

	args, help, err := c.parseFlags(args)
	if err != nil {
		return err
	}
	if help {
		c.PrintHelp(c.helpOutput())
		return nil
	}

	if c.Run == nil {
		c.PrintHelp(c.helpOutput())
		return fmt.Errorf("no action defined for %q", c.fullName())
	}
	return c.Run(ctx, args)
}

func (c *Command) lookup(name string) *Command {
	for _, sub := range c.Subcommands {
		if sub.Name == name {
			return sub
		}
	}
	return nil
}

func (c *Command) unknownCommand(name string) error {
	if suggestion := suggestCommand(name, c.Subcommands); suggestion != "" {
		return c.usageError(fmt.Sprintf("unknown command %q (did you mean %q?)", name, suggestion))
	}
	return c.usageError(fmt.Sprintf("unknown command %q", name))
}

// parseFlags returns the positional arguments, or help=true when the
// arguments asked for help.
func (c *Command) parseFlags(args []string) (positional []string, help bool, err error) {
	if c.Flags == nil {
		return args, false, nil
	}
	flagSet := c.Flags()
	flagSet.SetOutput(io.Discard)
	err = flagSet.Parse(args)
	switch {
	case err == nil:
		return flagSet.Args(), false, nil
	case errors.Is(err, pflag.ErrHelp):
		return nil, true, nil
	}

	message := err.Error()
	if strings.Contains(message, "unknown flag") || strings.Contains(message, "unknown shorthand flag") {
		// The failed parse may have consumed flag state; suggest from a
		// fresh set.
		if suggestion := suggestFlag(args, c.Flags()); suggestion != "" {
			message = fmt.Sprintf("%s (did you mean %s?)", message, suggestion)
		}
	}
	return nil, false, c.usageError(message)
}

func (c *Command) usageError(message string) error {
	return fmt.Errorf("%s\n\nRun '%s --help' for usage.", message, c.fullName())
}

// PrintHelp writes the command's help to w.
func (c *Command) PrintHelp(w io.Writer) {
	heading := c.Description
	if heading == "" {
		heading = c.Summary
	}
	if heading != "" {
		fmt.Fprintf(w, "%s\n\n", heading)
	}

	fmt.Fprintf(w, "Usage:\n  %s\n", c.usageLine())
	c.writeCommands(w)
	if c.Flags != nil {
		if usages := c.Flags().FlagUsages(); usages != "" {
			fmt.Fprintf(w, "\nFlags:\n%s", usages)
		}
	}
	c.writeExamples(w)

	if len(c.Subcommands) > 0 {
		fmt.Fprintf(w, "\nRun '%s <command> --help' for more information on a command.\n", c.fullName())
	}
}

func (c *Command) usageLine() string {
	switch {
	case c.Usage != "":
		return c.Usage
	case len(c.Subcommands) > 0:
		return c.fullName() + " <command> [flags]"
	default:
		return c.fullName() + " [flags]"
	}
}

func (c *Command) writeCommands(w io.Writer) {
	if len(c.Subcommands) == 0 {
		return
	}
	fmt.Fprintf(w, "\nCommands:\n")
	table := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
	for _, sub := range c.Subcommands {
		fmt.Fprintf(table, "  %s\t%s\n", sub.Name, sub.Summary)
	}
	table.Flush()
}

func (c *Command) writeExamples(w io.Writer) {
	if len(c.Examples) == 0 {
		return
	}
	fmt.Fprintf(w, "\nExamples:\n")
	for _, example := range c.Examples {
		if example.Description == "" {
			fmt.Fprintf(w, "  %s\n", example.Command)
			continue
		}
		fmt.Fprintf(w, "  # %s\n  %s\n\n", example.Description, example.Command)
	}
}

// fullName is the command path from the root, e.g. "bootstore serve".
func (c *Command) fullName() string {
	if c.parent == nil {
		return c.Name
	}
	return c.parent.fullName() + " " + c.Name
}

func (c *Command) helpOutput() io.Writer {
	for command := c; command != nil; command = command.parent {
		if command.HelpOutput != nil {
			return command.HelpOutput
		}
	}
	return os.Stderr
}

func isHelpFlag(arg string) bool {
	switch arg {
	case "-h", "--help", "help":
		return true
	}
	return false
}
