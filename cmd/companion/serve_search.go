package main

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/danielpatrickdp/companion-pipeline/internal/pipeline"
	"github.com/danielpatrickdp/companion-pipeline/internal/search"
	"github.com/danielpatrickdp/companion-pipeline/internal/store"
)

var serveAddr string

var serveSearchCmd = &cobra.Command{
	Use:   "serve-search",
	Short: "Serve similarity search over gRPC from the local store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()
		db, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		embedder, err := pipeline.NewEmbedder(ctx, cfg)
		if err != nil {
			return err
		}

		lis, err := net.Listen("tcp", serveAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", serveAddr, err)
		}
		srv := grpc.NewServer()
		search.RegisterSearchServer(srv, search.NewLocal(db, embedder))
		go func() {
			<-ctx.Done()
			srv.GracefulStop()
		}()
		logger.Info("search.serving", zap.String("addr", lis.Addr().String()))
		return srv.Serve(lis)
	},
}

func init() {
	rootCmd.AddCommand(serveSearchCmd)
	serveSearchCmd.Flags().StringVar(&serveAddr, "addr", "localhost:50051", "Listen address")
}
