package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/companion-pipeline/internal/artifact"
	"github.com/danielpatrickdp/companion-pipeline/internal/config"
	"github.com/danielpatrickdp/companion-pipeline/internal/logging"
	"github.com/danielpatrickdp/companion-pipeline/internal/pipeline"
	"github.com/danielpatrickdp/companion-pipeline/internal/store"
	"github.com/danielpatrickdp/companion-pipeline/internal/vault"
)

// #region root

var (
	configPath string
	verbose    bool

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "companion",
	Short: "Retrieval and generation pipeline for the Bible companion",
	Long: `companion plans, retrieves, assembles and answers one message at a time.
Every stage is written to an inspectable trace. Debug runs also seal their
full content in an encrypted vault so they can be inspected and replayed.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
		level := cfg.LogLevel
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(cfg.Env, level)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute runs the root command. Called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("COMPANION_CONFIG"), "YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// #endregion root

// #region helpers

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// trail is the persistence side of the pipeline, opened without any
// provider clients.
type trail struct {
	db        *store.DB
	artifacts *artifact.Store
	vault     *vault.Store
}

func openTrail(ctx context.Context) (*trail, error) {
	db, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	v, err := pipeline.OpenVault(cfg, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &trail{
		db:        db,
		artifacts: artifact.NewStore(db, artifact.Retention{Debug: cfg.Artifacts.DebugTTL, Prod: cfg.Artifacts.ProdTTL}),
		vault:     v,
	}, nil
}

func (t *trail) Close() error { return t.db.Close() }

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// #endregion helpers
