package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

const (
	exitOK     = 0
	exitError  = 1
	exitFailed = 2
)

// usageError makes execute print the usage text and exit 1.
type usageError struct {
	msg string
}

func (e usageError) Error() string {
	return e.msg
}

// app carries the streams and outcome of one command invocation.
type app struct {
	stdout   io.Writer
	stderr   io.Writer
	exitCode int
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nvmrun [-c <concurrency>] <script file>",
		Short: "Contract execution harness",
		Long: `nvmrun - Run smart-contract scripts in isolated runtime instances.

Run mode executes the script once per concurrency unit, each unit with its
own runtime and its own local and global storage sessions. Trace mode
prints the script with instruction counter calls injected, without
running it.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageError{fmt.Sprintf("expected 1 script file, got %d", len(args))}
			}
			return nil
		},
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          a.run,
	}

	addRunFlags(cmd)
	cmd.SetHelpFunc(func(c *cobra.Command, _ []string) {
		a.exitCode = exitError
		printUsage(a.stdout, c)
	})
	cmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err.Error()}
	})
	return cmd
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("concurrency", "c", "1", "Number of concurrent execution units")
	cmd.Flags().BoolP("trace", "t", false, "Inject tracer code into the script and print it")
	cmd.Flags().String("config", "", "TOML configuration file")
	cmd.Flags().String("runtime", "", "Runtime: lua, wasm (default: auto-detect)")
	cmd.Flags().String("state-engine", "", "Chain state engine: memory, bolt, badger")
	cmd.Flags().String("state", "", "Chain state path (bolt file or badger directory)")
	cmd.Flags().String("genesis", "", "YAML file seeding the chain state")
	cmd.Flags().Duration("timeout", 0, "Per-unit execution timeout (0 = none)")
	cmd.Flags().Uint64("instruction-limit", 0, "Fail units reporting more instructions (0 = none)")
	cmd.Flags().Bool("strict", false, "Exit 2 when any unit fails")
	cmd.Flags().String("log-level", "", "Harness log level: debug, info, warn, error")
}

func printUsage(w io.Writer, cmd *cobra.Command) {
	name := cmd.Name()
	fmt.Fprintf(w, "%s [-c <concurrency>] <script file>\n", name)
	fmt.Fprintf(w, "%s -t <script file>\n", name)
	fmt.Fprintf(w, "\t inject tracer code into file.\n\n")
	fmt.Fprintf(w, "Flags:\n%s", cmd.Flags().FlagUsages())
}

// execute runs the command line and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)

	var uerr usageError
	switch {
	case err == nil:
		return a.exitCode
	case errors.As(err, &uerr):
		printUsage(stdout, cmd)
		return exitError
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
}
