package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ginjaninja78/collection-aggregator/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the upload API",
	Long: `Start the HTTP server used by the collections dashboard.

  POST /api/upload   aggregate an uploaded report (?accounts=false to omit detail)
  GET  /health       liveness
  GET  /metrics      Prometheus metrics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		engine, err := newEngine(cfg.Engine)
		if err != nil {
			return err
		}

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		srv := server.New(engine, server.Options{
			MaxUploadBytes:  int64(cfg.Server.MaxUploadMB) << 20,
			IncludeAccounts: cfg.Engine.IncludeAccounts,
		}, zap.L().Named("server"))

		return srv.ListenAndServe(ctx, fmt.Sprintf(":%d", port))
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (default from server.port)")
}
