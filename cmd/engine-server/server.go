package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/VanDung-dev/Blockless-Engine/api"
	"github.com/VanDung-dev/Blockless-Engine/config"
	"github.com/VanDung-dev/Blockless-Engine/engine"
	"github.com/VanDung-dev/Blockless-Engine/notify"
	"github.com/VanDung-dev/Blockless-Engine/registry"
	"github.com/VanDung-dev/Blockless-Engine/sandbox"
	"github.com/VanDung-dev/Blockless-Engine/sandbox/guest"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// server owns every long-lived component of the service.
type server struct {
	cfg    config.Config
	logger *zap.Logger

	metrics   *api.Metrics
	module    *sandbox.Module
	scheduler *engine.Scheduler
	manager   *registry.Manager
	notifier  *notify.Notifier
	zmqSink   *notify.ZmqSink
	rdb       *redis.Client

	ingest        *api.IngestServer
	grpc          *api.GRPCServer
	http          *api.HTTPServer
	metricsServer *api.MetricsServer
}

func newServer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*server, error) {
	s := &server{
		cfg:     cfg,
		logger:  logger,
		metrics: api.NewMetrics("blockless"),
	}

	binary := guest.Module
	if cfg.Sandbox.ModulePath != "" {
		data, err := os.ReadFile(cfg.Sandbox.ModulePath)
		if err != nil {
			return nil, fmt.Errorf("read module: %w", err)
		}
		binary = data
	}
	module, err := sandbox.Load(ctx, binary,
		sandbox.WithLogger(logger),
		sandbox.WithMemoryLimitPages(cfg.Sandbox.MemoryLimitPages),
		sandbox.WithMemoryExport(cfg.Sandbox.MemoryExport),
	)
	if err != nil {
		return nil, err
	}
	s.module = module

	sandboxExec := engine.NewSandboxExecutor(api.InstrumentInvoker(module, s.metrics), logger, nil)
	s.scheduler = engine.NewScheduler(cfg.Workers,
		engine.WithName("engine-server"),
		engine.WithLogger(logger),
		engine.WithObserver(s.metrics),
		engine.WithExecutor(engine.Route(sandboxExec, engine.LogExecutor{Logger: logger})),
	)

	store, err := s.newStore(ctx)
	if err != nil {
		s.Shutdown(ctx)
		return nil, err
	}

	opts := []registry.ManagerOption{registry.WithManagerLogger(logger)}
	if sink, err := s.newSink(); err != nil {
		s.Shutdown(ctx)
		return nil, err
	} else if sink != nil {
		s.notifier = notify.New(sink,
			notify.WithLogger(logger),
			notify.WithQueueSize(cfg.Notify.QueueSize),
			notify.WithRetry(cfg.Notify.Attempts, cfg.Notify.RetryInitial, cfg.Notify.RetryMax),
		)
		opts = append(opts, registry.WithNotifier(s.notifier))
	}
	s.manager = registry.NewManager(store, s.scheduler, opts...)

	if cfg.Server.IngestAddr != "" {
		auth := api.NewAuthenticator(api.AuthConfig{Enabled: cfg.Auth.Enabled, Token: cfg.Auth.Token})
		if auth.IsEnabled() && cfg.Auth.Token == "" {
			logger.Info("Generated ingest auth token", zap.String("token", auth.GetToken()))
		}
		s.ingest = api.NewIngestServer(
			api.NewIngestHandler(s.scheduler, s.metrics, logger),
			api.WithAuthenticator(auth),
			api.WithIngestLogger(logger),
		)
	}
	if cfg.Server.GRPCAddr != "" {
		s.grpc = api.NewGRPCServer(s.scheduler, s.metrics, logger)
	}
	if cfg.Server.HTTPAddr != "" {
		s.http = api.NewHTTPServer(cfg.Server.HTTPAddr, api.NewHTTPAPI(s.manager, s.scheduler, logger).Router())
	}
	if cfg.Server.MetricsAddr != "" {
		s.metricsServer = api.NewMetricsServer(cfg.Server.MetricsAddr, s.metrics)
	}
	return s, nil
}

func (s *server) newStore(ctx context.Context) (registry.Store, error) {
	if s.cfg.Registry.Backend != "redis" {
		return registry.NewMemoryStore(), nil
	}

	s.rdb = redis.NewClient(&redis.Options{
		Addr: s.cfg.Registry.RedisAddr,
		DB:   s.cfg.Registry.RedisDB,
	})
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis %s: %w", s.cfg.Registry.RedisAddr, err)
	}
	return registry.NewRedisStore(s.rdb, s.cfg.Registry.Prefix), nil
}

func (s *server) newSink() (notify.Sink, error) {
	var sinks notify.MultiSink
	if s.cfg.Notify.BaseURL != "" {
		client := notify.NewClient(s.cfg.Notify.BaseURL, notify.WithTimeout(s.cfg.Notify.Timeout))
		sinks = append(sinks, notify.HTTPSink{Client: client, Endpoint: s.cfg.Notify.Endpoint})
	}
	if s.cfg.Notify.ZmqEndpoint != "" {
		zs, err := notify.NewZmqSink(s.cfg.Notify.ZmqEndpoint)
		if err != nil {
			return nil, err
		}
		s.zmqSink = zs
		sinks = append(sinks, zs)
	}

	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}

// Start opens every configured listener.
func (s *server) Start() error {
	if s.ingest != nil {
		if err := s.ingest.StartAsync(s.cfg.Server.IngestAddr); err != nil {
			return err
		}
	}
	if s.grpc != nil {
		if err := s.grpc.StartAsync(s.cfg.Server.GRPCAddr); err != nil {
			return err
		}
	}
	if s.http != nil {
		if err := s.http.StartAsync(); err != nil {
			return fmt.Errorf("http: %w", err)
		}
		s.logger.Info("HTTP API listening", zap.String("address", s.http.Addr().String()))
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.StartAsync(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		s.logger.Info("Metrics listening", zap.String("address", s.metricsServer.Addr().String()))
	}
	return nil
}

// Run dispatches a round on every tick until ctx is done.
func (s *server) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Server.DispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.scheduler.Queue().Len() == 0 {
				continue
			}
			report := s.scheduler.DispatchRound(ctx)
			s.logger.Info("Dispatch round finished",
				zap.String("round", report.ID),
				zap.Int("executed", report.Executed()),
				zap.Int("failed", report.Failed()),
			)
		}
	}
}

// Shutdown stops listeners, drains notifications and releases resources.
// It is safe to call on a partially built server.
func (s *server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if s.ingest != nil {
		s.ingest.Stop()
	}
	if s.grpc != nil {
		s.grpc.Stop()
	}
	if s.http != nil && s.http.Addr() != nil {
		_ = s.http.Stop(ctx)
	}
	if s.metricsServer != nil && s.metricsServer.Addr() != nil {
		_ = s.metricsServer.Stop(ctx)
	}
	if s.notifier != nil {
		if err := s.notifier.Close(ctx); err != nil {
			s.logger.Warn("Notifications still pending at exit", zap.Error(err))
		}
	}
	if s.zmqSink != nil {
		_ = s.zmqSink.Close()
	}
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
	if s.module != nil {
		_ = s.module.Close(ctx)
	}
}
