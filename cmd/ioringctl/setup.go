package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ringcore/ioring"
)

func newSetupCommand() *cobra.Command {
	var entries uint32

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Create a ring and report its negotiated parameters",
		Long: `setup mirrors io_uring_setup: it builds a ring with the requested number of
submission queue entries, registers the demo operation handlers, and prints
back what the engine actually gave you (entries are rounded up to a power
of two).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := ioring.New(entries)
			if err != nil {
				return fmt.Errorf("setup: %w", err)
			}
			defer r.Close()

			registerDemoHandlers(r)

			fmt.Fprintf(cmd.OutOrStdout(), "sq_entries=%d sq_space=%d cq_ready=%d\n",
				r.SQEntries(), r.SQSpace(), r.CQReady())
			return nil
		},
	}

	cmd.Flags().Uint32VarP(&entries, "entries", "e", 64, "submission queue entries")
	return cmd
}
