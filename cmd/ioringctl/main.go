// Command ioringctl is a small interactive client over the ioring
// engine: it exercises SETUP, ENTER, REGISTER and PROBE from the
// command line instead of from a Go program, for manual poking at the
// ring without writing a throwaway test.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ioringctl",
		Short: "Inspect and drive an in-process ioring engine",
		Long: `ioringctl is a command-line harness around the ioring package: it sets up a
ring, submits work against it, registers fixed buffers/files, and probes
which operations the engine currently supports - all from one process,
since there is no persistent kernel-side ring to attach to.`,
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
	}

	rootCmd.AddCommand(
		newSetupCommand(),
		newEnterCommand(),
		newRegisterCommand(),
		newProbeCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
