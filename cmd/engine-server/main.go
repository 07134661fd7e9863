// Command engine-server runs the engine as a long-lived service: Arrow IPC
// ingest, gRPC and HTTP APIs, Prometheus metrics and periodic dispatch
// rounds.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/VanDung-dev/Blockless-Engine/config"
	"go.uber.org/zap"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		workers     = flag.Int("workers", 0, "Number of workers (overrides config)")
		ingestAddr  = flag.String("ingest", "", "Arrow ingest listen address (overrides config)")
		grpcAddr    = flag.String("grpc", "", "gRPC listen address (overrides config)")
		httpAddr    = flag.String("http", "", "HTTP API listen address (overrides config)")
		metricsAddr = flag.String("metrics", "", "Metrics listen address (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	override(&cfg.Server.IngestAddr, *ingestAddr)
	override(&cfg.Server.GRPCAddr, *grpcAddr)
	override(&cfg.Server.HTTPAddr, *httpAddr)
	override(&cfg.Server.MetricsAddr, *metricsAddr)

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := newServer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build server", zap.Error(err))
	}
	if err := srv.Start(); err != nil {
		srv.Shutdown(context.Background())
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	srv.Run(ctx)

	logger.Info("Shutting down server...")
	srv.Shutdown(context.Background())
	logger.Info("Server stopped.")
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
