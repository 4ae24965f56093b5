package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/companion-pipeline/internal/artifact"
	"github.com/danielpatrickdp/companion-pipeline/internal/pipeline"
	"github.com/danielpatrickdp/companion-pipeline/internal/runctx"
)

var (
	runUser       string
	runMode       string
	runStopAt     string
	runEntrypoint string
	runJSON       bool
	runTrace      bool
)

var runCmd = &cobra.Command{
	Use:   "run [message]",
	Short: "Answer one message, or start an interactive session when none is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := runctx.Mode(runMode)
		if mode != runctx.ModeProd && mode != runctx.ModeDebug {
			return fmt.Errorf("unknown mode %q (prod|debug)", runMode)
		}
		if runStopAt != "" {
			if _, ok := artifact.ParseStage(runStopAt); !ok {
				return fmt.Errorf("unknown stage %q", runStopAt)
			}
		}

		ctx, stop := signalContext()
		defer stop()
		c, err := pipeline.Build(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer c.Close()
		defer c.Pipeline.WaitForBackground()

		s := &session{c: c, out: cmd.OutOrStdout(), mode: mode}
		if len(args) == 1 {
			return s.turn(ctx, args[0])
		}
		return s.repl(ctx, cmd.InOrStdin())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runUser, "user", "u", "local", "User id")
	runCmd.Flags().StringVarP(&runMode, "mode", "m", string(runctx.ModeProd), "Run mode: prod or debug")
	runCmd.Flags().StringVar(&runStopAt, "stop-at", "", "Halt after this stage (INGRESS, CANDIDATES, RANK_BUDGET, ...)")
	runCmd.Flags().StringVar(&runEntrypoint, "entrypoint", string(runctx.EntrypointChat), "chat, group_chat or session_start")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the full outcome as JSON")
	runCmd.Flags().BoolVar(&runTrace, "trace", false, "Print one line per stage")
}

// #region session

// session keeps the conversation history across REPL turns.
type session struct {
	c       *pipeline.Components
	out     io.Writer
	mode    runctx.Mode
	history []runctx.ConversationTurn
}

func (s *session) repl(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(s.out, "Companion ready. Type a message (or 'quit' to exit):")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		msg := strings.TrimSpace(scanner.Text())
		if msg == "" {
			continue
		}
		if msg == "quit" || msg == "exit" {
			return nil
		}
		if err := s.turn(ctx, msg); err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (s *session) turn(ctx context.Context, msg string) error {
	in := runctx.Input{
		UserID:         runUser,
		Message:        msg,
		Mode:           s.mode,
		StopAtStage:    runStopAt,
		Entrypoint:     runctx.Entrypoint(runEntrypoint),
		History:        s.history,
		IsFirstMessage: len(s.history) == 0,
		App:            runctx.AppMeta{Platform: "cli"},
	}
	if err := pipeline.LoadAIContext(ctx, s.c.DB, &in, cfg.Pipeline.MemoryStrengthFloor); err != nil {
		logger.Warn("ai_context.load_failed", zap.Error(err))
	}

	out, err := s.c.Pipeline.Run(ctx, runctx.New(in, runctx.WithLogger(logger)))
	if err != nil {
		return err
	}
	if runJSON {
		return printJSON(s.out, out)
	}

	if out.StoppedAt != "" {
		fmt.Fprintf(s.out, "[stopped after %s]\n", out.StoppedAt)
	} else {
		fmt.Fprintf(s.out, "\n%s\n\n", out.Text())
	}
	if runTrace || out.StoppedAt != "" {
		for _, a := range out.Artifacts {
			fmt.Fprintf(s.out, "  %-18s %5dms  %s\n", a.Stage, a.DurationMS, a.Summary)
		}
	}
	fmt.Fprintf(s.out, "[run %s]\n", out.RunID)

	if text := out.Text(); text != "" {
		now := time.Now().UTC()
		s.history = append(s.history,
			runctx.ConversationTurn{Role: "user", Content: msg, At: now},
			runctx.ConversationTurn{Role: "assistant", Content: text, At: now})
	}
	return nil
}

// #endregion session
