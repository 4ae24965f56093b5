package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/companion-pipeline/internal/artifact"
)

var (
	sweepEvery  time.Duration
	sweepDaemon bool
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired stage artifacts and vault entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()
		t, err := openTrail(ctx)
		if err != nil {
			return err
		}
		defer t.Close()

		s := artifact.NewSweeper(t.artifacts, t.vault, logger)
		every := sweepEvery
		if sweepDaemon && every <= 0 {
			every = cfg.Artifacts.SweepInterval
		}
		if every <= 0 {
			res, err := s.SweepOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d artifacts, %d vault entries\n", res.Artifacts, res.VaultEntries)
			return nil
		}
		if err := s.Run(ctx, every); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().DurationVar(&sweepEvery, "every", 0, "Keep sweeping at this interval (0 = once)")
	sweepCmd.Flags().BoolVar(&sweepDaemon, "daemon", false, "Keep sweeping at artifacts.sweep_interval")
}
