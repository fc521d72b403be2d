package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ringcore/ioring"
)

func newProbeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Report which opcodes and features the engine currently supports",
		Long: `probe mirrors io_uring_register(IORING_REGISTER_PROBE, ...): it registers
the demo operation handlers and prints which opcodes they cover, plus the
ring-level feature flags.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := ioring.New(64)
			if err != nil {
				return fmt.Errorf("probe: %w", err)
			}
			defer r.Close()

			registerDemoHandlers(r)

			p := r.Probe()
			ops := []struct {
				name string
				op   ioring.Op
			}{
				{"NOP", ioring.OpNop},
				{"READ", ioring.OpRead},
				{"WRITE", ioring.OpWrite},
				{"FSYNC", ioring.OpFsync},
				{"CLOSE", ioring.OpClose},
				{"ACCEPT", ioring.OpAccept},
				{"CONNECT", ioring.OpConnect},
				{"SEND", ioring.OpSend},
				{"RECV", ioring.OpRecv},
				{"POLL_ADD", ioring.OpPollAdd},
				{"TIMEOUT", ioring.OpTimeout},
			}
			for _, o := range ops {
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s supported=%v\n", o.name, p.SupportsOp(o.op))
			}

			fmt.Fprintf(cmd.OutOrStdout(), "no_drop=%v ext_arg=%v native_workers=%v\n",
				r.HasNoDrop(), r.HasExtArg(), r.HasNativeWorkers())
			return nil
		},
	}

	return cmd
}
