package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ringcore/ioring"
)

func newEnterCommand() *cobra.Command {
	var entries uint32
	var nops uint32

	cmd := &cobra.Command{
		Use:   "enter",
		Short: "Submit a batch of NOPs and wait for their completions",
		Long: `enter mirrors io_uring_enter: it stages nops NOP submissions, flushes them
with SubmitAndWait, then drains and prints every completion it sees.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := ioring.New(entries)
			if err != nil {
				return fmt.Errorf("enter: %w", err)
			}
			defer r.Close()

			registerDemoHandlers(r)

			for i := uint32(0); i < nops; i++ {
				if err := r.PrepNop(uint64(i + 1)); err != nil {
					return fmt.Errorf("enter: %w", err)
				}
			}

			minComplete := uint32(1)
			if nops == 0 {
				minComplete = 0
			}
			submitted, err := r.SubmitAndWait(minComplete)
			if err != nil {
				return fmt.Errorf("enter: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "submitted=%d\n", submitted)

			for _, cqe := range r.DrainCQEs() {
				fmt.Fprintf(cmd.OutOrStdout(), "cqe user_data=%d res=%d flags=%d\n",
					cqe.UserData, cqe.Res, cqe.Flags)
			}
			return nil
		},
	}

	cmd.Flags().Uint32VarP(&entries, "entries", "e", 64, "submission queue entries")
	cmd.Flags().Uint32VarP(&nops, "nops", "n", 4, "number of NOPs to submit")
	return cmd
}
