package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/repohealth/orchestrator/internal/analyzer"
	"github.com/repohealth/orchestrator/internal/batch"
	"github.com/repohealth/orchestrator/internal/core"
	"github.com/repohealth/orchestrator/internal/executor"
	"github.com/repohealth/orchestrator/internal/health"
	"github.com/repohealth/orchestrator/internal/metrics"
	"github.com/repohealth/orchestrator/internal/notify"
	"github.com/repohealth/orchestrator/internal/queue"
	"github.com/repohealth/orchestrator/internal/scheduler"
	"github.com/repohealth/orchestrator/internal/server"
	"github.com/repohealth/orchestrator/internal/store"
	"github.com/repohealth/orchestrator/internal/worker"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := server.LoadConfig()

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		slog.Error("invalid timezone", "tz", cfg.Timezone, "error", err)
		os.Exit(1)
	}

	analyzerURL := os.Getenv("ANALYZER_URL")
	if analyzerURL == "" {
		slog.Error("refusing to start without an analysis pipeline", "hint", "set ANALYZER_URL")
		os.Exit(1)
	}

	// Connect to NATS
	nc, err := nats.Connect(cfg.NatsURL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		slog.Error("failed to connect to NATS", "url", cfg.NatsURL, "error", err)
		os.Exit(1)
	}
	defer nc.Close()
	slog.Info("connected to NATS", "url", cfg.NatsURL)

	js, err := jetstream.New(nc)
	if err != nil {
		slog.Error("failed to create JetStream context", "error", err)
		os.Exit(1)
	}

	setupCtx, cancelSetup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelSetup()
	if err := queue.SetupJetStream(setupCtx, js); err != nil {
		slog.Error("failed to set up JetStream resources", "error", err)
		os.Exit(1)
	}
	if err := store.SetupBuckets(setupCtx, js); err != nil {
		slog.Error("failed to set up KV buckets", "error", err)
		os.Exit(1)
	}

	st, err := store.New(setupCtx, js)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	q, err := queue.New(setupCtx, js)
	if err != nil {
		slog.Error("failed to open task queue", "error", err)
		os.Exit(1)
	}

	// Optional Redis-backed health cache
	var cache *health.Cache
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(setupCtx).Err(); err != nil {
			slog.Error("failed to connect to Redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		cache = health.NewCache(client, 4*time.Hour)
		slog.Info("health cache enabled", "addr", cfg.RedisAddr)
	} else {
		slog.Warn("REDIS_ADDR not set, health statuses served from KV only")
	}

	metrics.Init(core.Version, "nats")

	policy := core.DefaultRetryPolicy()
	policy.MaxRetries = cfg.MaxRetries

	exec := executor.New(st, analyzer.NewRemote(analyzerURL), cache, policy, queue.HardTimeLimit)
	driver := batch.New(st, q, exec, cfg.BatchPacing)
	broker := notify.NewBroker(nc)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	pool := worker.NewPool(q, st, exec, driver, broker)
	go pool.Run(workerCtx)

	schedCfg := scheduler.Config{
		Location:           loc,
		WeeklySpec:         cfg.WeeklySpec,
		ResumeSpec:         cfg.ResumeSpec,
		SweepSpec:          cfg.SweepSpec,
		HealthSpec:         cfg.HealthSpec,
		ReanalysisInterval: cfg.ReanalysisInterval,
		PromoteInterval:    cfg.PromoteInterval,
		ReapInterval:       cfg.ReapInterval,
	}
	sched := scheduler.New(st, q, cache, schedCfg)
	if err := sched.Start(); err != nil {
		slog.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	// HTTP server
	router := server.NewRouter(st, sched, cache)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	go func() {
		slog.Info("orchestrator listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// gRPC health server
	grpcServer := grpc.NewServer()
	healthSrv := grpchealth.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("repohealth.v1.Orchestrator", healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)
	go func() {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			slog.Error("failed to listen for gRPC", "port", cfg.GRPCPort, "error", err)
			os.Exit(1)
		}
		slog.Info("gRPC health server listening", "port", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			slog.Error("gRPC server error", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	sched.Stop()
	stopWorkers()
	grpcServer.GracefulStop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("orchestrator stopped")
}
