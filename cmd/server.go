package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/vaultsearch/internal/anomaly"
	"github.com/ziadkadry99/vaultsearch/internal/audit"
	"github.com/ziadkadry99/vaultsearch/internal/ingest"
	"github.com/ziadkadry99/vaultsearch/internal/records"
	"github.com/ziadkadry99/vaultsearch/internal/search"
	"github.com/ziadkadry99/vaultsearch/internal/server"
)

var serverPort int

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the vaultsearch HTTP API",
	Long: `Starts the REST API for search, ingestion, ledger verification and
anomaly reporting. Every /api request must name its actor in the X-Actor
header.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = serverPort
		}

		a, err := openApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()

		queue := ingest.NewQueue(a.db, a.ingester, a.chain, cfg.Ingest.Workers, cfg.Ingest.QueueSize, a.logger)
		defer queue.Close()

		srv := server.New(server.Config{
			Port:           cfg.Server.Port,
			AllowAll:       cfg.Server.AllowAllOrigins,
			RequestTimeout: cfg.Server.RequestTimeout,
		}, a.logger)

		registerAllRoutes(srv, a, queue)

		// Graceful shutdown.
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go func() {
			<-ctx.Done()
			a.logger.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		a.logger.Info("vaultsearch starting",
			"version", Version,
			"port", cfg.Server.Port,
			"database", a.db.Path(),
		)
		return srv.Start()
	},
}

// registerAllRoutes wires up all feature routes.
func registerAllRoutes(srv *server.Server, a *app, queue *ingest.Queue) {
	r := srv.Router()

	// Search, record views and benchmark
	search.RegisterRoutes(r, a.search)

	// Integrity chain and audit log
	audit.RegisterRoutes(r, a.chain, a.auditStore)

	// Anomaly report and risk reset
	anomaly.RegisterRoutes(r, a.scorer, a.classifier, a.chain)

	// Ingestion, jobs, re-index, record deletion
	ingest.RegisterRoutes(r, a.ingester, queue, a.reindexer)

	// Raw ciphertext dump and stats
	records.RegisterRoutes(r, a.records)
}

func init() {
	serverCmd.Flags().IntVar(&serverPort, "port", 8080, "Port to listen on (overrides server.port)")
	rootCmd.AddCommand(serverCmd)
}
