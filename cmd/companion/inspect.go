package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/companion-pipeline/internal/artifact"
)

var (
	inspectLast    int
	inspectStage   string
	inspectDecrypt bool
	inspectJSON    bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [run-id]",
	Short: "List recent runs, or the stage artifacts of one run",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()
		t, err := openTrail(ctx)
		if err != nil {
			return err
		}
		defer t.Close()
		out := cmd.OutOrStdout()

		if len(args) == 0 {
			runs, err := t.artifacts.Runs(ctx, inspectLast)
			if err != nil {
				return err
			}
			if inspectJSON {
				return printJSON(out, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "no runs found")
				return nil
			}
			fmt.Fprintf(out, "%-36s  %-5s  %-6s  %-12s  %s\n", "RUN", "MODE", "STAGES", "USER", "STARTED")
			for _, r := range runs {
				fmt.Fprintf(out, "%-36s  %-5s  %6d  %-12s  %s\n", r.RunID, r.Mode, r.Stages, r.UserID, r.StartedAt)
			}
			return nil
		}

		runID := args[0]
		if inspectStage == "" {
			arts, err := t.artifacts.List(ctx, runID)
			if err != nil {
				return err
			}
			if len(arts) == 0 {
				return fmt.Errorf("run %s: %w", runID, artifact.ErrNotFound)
			}
			if inspectJSON {
				return printJSON(out, arts)
			}
			writeArtifacts(out, arts)
			return nil
		}

		stage, ok := artifact.ParseStage(inspectStage)
		if !ok {
			return fmt.Errorf("unknown stage %q", inspectStage)
		}
		a, err := t.artifacts.Get(ctx, runID, stage)
		if err != nil {
			return err
		}
		view := stageView{Artifact: a}
		if inspectDecrypt {
			if a.VaultRef == "" {
				return fmt.Errorf("%s/%s has no vault content (prod run or redacted-only stage)", runID, stage)
			}
			var content json.RawMessage
			if err := t.vault.Get(ctx, a.VaultRef, &content); err != nil {
				return fmt.Errorf("open %s: %w", a.VaultRef, err)
			}
			view.Content = content
		}
		return printJSON(out, view)
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().IntVar(&inspectLast, "last", 20, "Show N most recent runs")
	inspectCmd.Flags().StringVar(&inspectStage, "stage", "", "Show one stage in full")
	inspectCmd.Flags().BoolVar(&inspectDecrypt, "decrypt", false, "Include the sealed vault content of --stage")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Output as JSON instead of a table")
}

// stageView is one stage with its optional decrypted content.
type stageView struct {
	Artifact artifact.Raw    `json:"artifact"`
	Content  json.RawMessage `json:"content,omitempty"`
}

func writeArtifacts(w io.Writer, arts []artifact.Raw) {
	first := arts[0]
	fmt.Fprintf(w, "run %s  trace %s  mode %s  pipeline %s\n\n", first.RunID, first.TraceID, first.Mode, first.PipelineVersion)
	for _, a := range arts {
		sealed := ""
		if a.VaultRef != "" {
			sealed = "  [vault]"
		}
		fmt.Fprintf(w, "  %-18s %5dms  %s%s\n", a.Stage, a.DurationMS, a.Summary, sealed)
	}
}
