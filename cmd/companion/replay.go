package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/companion-pipeline/internal/pipeline"
	"github.com/danielpatrickdp/companion-pipeline/internal/replay"
	"github.com/danielpatrickdp/companion-pipeline/internal/runctx"
)

var (
	replayRecent  int
	replayMode    string
	replayRerun   bool
	replayStopAt  string
	replayFixture string
	replayJSON    bool
)

var replayCmd = &cobra.Command{
	Use:   "replay [run-id]",
	Short: "Plan a recorded debug run again and diff against the recorded plan",
	Long: `replay loads the sealed INGRESS input of a debug run, rebuilds the run
input and plans it again. A diff means planning is no longer deterministic
for that input. With --rerun the whole pipeline runs again in debug mode.
With --fixture the plans pinned by a fixture file are checked instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()
		out := cmd.OutOrStdout()

		c, err := pipeline.Build(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer c.Close()
		defer c.Pipeline.WaitForBackground()

		if replayFixture != "" {
			f, err := replay.LoadFixture(replayFixture)
			if err != nil {
				return err
			}
			mismatches := f.Check(ctx, c.Planner)
			for _, m := range mismatches {
				fmt.Fprintln(out, m)
			}
			if len(mismatches) > 0 {
				return fmt.Errorf("%d fixture mismatches", len(mismatches))
			}
			fmt.Fprintf(out, "%d cases ok\n", len(f.Cases))
			return nil
		}

		r := replay.New(c.Artifacts, c.Vault, c.Planner, runctx.Mode(replayMode), logger)
		if len(args) == 0 {
			results, s, err := r.Recent(ctx, replayRecent)
			if err != nil {
				return err
			}
			if replayJSON {
				return printJSON(out, map[string]any{"summary": s, "results": results})
			}
			for _, res := range results {
				writeResult(cmd, res)
			}
			fmt.Fprintf(out, "total %d  identical %d  diverged %d  skipped %d  failed %d\n",
				s.Total, s.Identical, s.Diverged, s.Skipped, s.Failed)
			if s.Diverged > 0 {
				return fmt.Errorf("%d runs diverged", s.Diverged)
			}
			return nil
		}

		if replayRerun {
			o, err := r.Rerun(ctx, c.Pipeline, args[0], replayStopAt)
			if err != nil {
				return err
			}
			return printJSON(out, o)
		}

		res, err := r.Run(ctx, args[0])
		if err != nil {
			return err
		}
		if replayJSON {
			return printJSON(out, res)
		}
		writeResult(cmd, res)
		if !res.Identical() {
			return fmt.Errorf("run %s diverged", res.RunID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().IntVar(&replayRecent, "recent", 20, "Without a run id, replay this many recent runs")
	replayCmd.Flags().StringVar(&replayMode, "mode", string(runctx.ModeProd), "Mode the replayed plan runs in")
	replayCmd.Flags().BoolVar(&replayRerun, "rerun", false, "Run the whole pipeline again in debug mode")
	replayCmd.Flags().StringVar(&replayStopAt, "stop-at", "", "With --rerun, halt after this stage")
	replayCmd.Flags().StringVar(&replayFixture, "fixture", "", "Check a plan fixture file instead of recorded runs")
	replayCmd.Flags().BoolVar(&replayJSON, "json", false, "Output as JSON")
}

func writeResult(cmd *cobra.Command, res replay.Result) {
	out := cmd.OutOrStdout()
	if res.Replayed.Tier == "" {
		fmt.Fprintf(out, "%s  failed\n", res.RunID)
		return
	}
	status := "identical"
	if !res.Identical() {
		status = "DIVERGED"
	}
	fmt.Fprintf(out, "%s  %-9s  tier=%s mode=%s needs=%v\n",
		res.RunID, status, res.Replayed.Tier, res.Replayed.Response.Mode, res.Replayed.Retrieval.Needs)
	if res.Diff != "" {
		fmt.Fprintln(out, res.Diff)
	}
}
