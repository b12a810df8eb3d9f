package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags shared by every subcommand.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed --format values.
var ValidFormats = []string{"text", "json"}

// NewRootCommand builds the duro CLI: a thin operational wrapper over
// internal/runtime for bootstrapping schema, publishing signals, running
// queries, and hosting the drain loop as a long-lived process.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

// Execute runs the CLI to completion and returns the process exit code. Any
// error a subcommand returns is printed through the same OutputFormatter
// its Success/SuccessWithTrace calls use, so --format json produces a
// structured CLIResponse error instead of a bare Go error string.
func Execute() int {
	opts := &RootOptions{}
	cmd := newRootCommand(opts)

	if err := cmd.Execute(); err != nil {
		formatterFor(cmd, opts).Error(ErrorCode(err), err.Error(), nil)
		return GetExitCode(err)
	}
	return ExitSuccess
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "duro",
		Short: "duro - a durable, transactional signal-driven FSM runtime",
		Long: "duro persists entities and the signals that drive their state\n" +
			"machines in a relational store, and applies them one at a time,\n" +
			"inside transactions, from a single-worker drain loop.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewSignalCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// formatterFor builds an OutputFormatter for cmd from opts, writing to
// cmd's configured out/err streams.
func formatterFor(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
