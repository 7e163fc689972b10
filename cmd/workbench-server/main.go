// Command workbench-server is the orchestrator's process entry
// point: it loads configuration, builds the Redis-backed State Store
// and the AWS-backed Cloud Adapter, wires them into the Allocator,
// Capacity Controller, Lifecycle Reactor, Idle Reaper, and Liveness
// Gateway, and serves the HTTP surface while the reaper runs on its
// own ticker. Grounded on arvados lib/dispatchcloud/cmd.go's
// config-to-handler wiring and lib/service's signal-driven shutdown,
// generalized from arvados's cluster-config object to this module's
// flag/env Config.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/fogscale/workbench/lib/ctxlog"
	"github.com/fogscale/workbench/lib/orchestrator/allocator"
	"github.com/fogscale/workbench/lib/orchestrator/capacity"
	"github.com/fogscale/workbench/lib/orchestrator/clock"
	"github.com/fogscale/workbench/lib/orchestrator/cloud/awsasg"
	"github.com/fogscale/workbench/lib/orchestrator/config"
	"github.com/fogscale/workbench/lib/orchestrator/lifecycle"
	"github.com/fogscale/workbench/lib/orchestrator/liveness"
	"github.com/fogscale/workbench/lib/orchestrator/reaper"
	"github.com/fogscale/workbench/lib/orchestrator/service"
	"github.com/fogscale/workbench/lib/orchestrator/store/redisstore"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logrus.WithError(err).Error("failed to parse configuration")
		return 1
	}

	if err := ctxlog.SetLevel(cfg.LogLevel); err != nil {
		logrus.WithError(err).Error("invalid log level")
		return 1
	}
	if err := ctxlog.SetFormat(cfg.LogFormat); err != nil {
		logrus.WithError(err).Error("invalid log format")
		return 1
	}
	logger := ctxlog.FromContext(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	sessionStore := redisstore.New(rdb)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		logger.WithError(err).Error("failed to load AWS configuration")
		return 2
	}
	cloudAdapter := awsasg.New(ec2.NewFromConfig(awsCfg), autoscaling.NewFromConfig(awsCfg), cfg.ASGName, logger)

	clk := clock.Real()
	registry := prometheus.NewRegistry()

	capController := capacity.New(sessionStore, sessionStore, cloudAdapter, cfg.WarmSpareTarget, cfg.MaxInstances, logger)
	alloc := allocator.New(sessionStore, sessionStore, cloudAdapter, capController, clk, logger)
	lifecycleReactor := lifecycle.New(sessionStore, sessionStore, cloudAdapter, clk, logger,
		cfg.ReadinessMaxAttempts, cfg.ReadinessBackoff())
	idleReaper := reaper.New(sessionStore, sessionStore, cloudAdapter, capController, clk, logger,
		cfg.IdleTimeoutMs, cfg.ReapBatchSize)
	livenessGateway := liveness.New(sessionStore, clk)

	svc := &service.Service{
		Allocator: alloc,
		Liveness:  livenessGateway,
		Lifecycle: lifecycleReactor,
		WarmPool:  sessionStore,
		Session:   sessionStore,
		Cloud:     cloudAdapter,
		Cap:       capController,
		Clock:     clk,
		Auth:      userIDFromHeader,
		Registry:  registry,
		Log:       logger,
		StartedAt: clk.Now(),
	}

	go idleReaper.RunTicker(ctx, clk.NewTicker(cfg.CleanupInterval()))

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: svc.Handler(),
	}
	go func() {
		logger.WithField("Addr", cfg.ListenAddr).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("http server exited")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("graceful shutdown did not complete cleanly")
	}
	return 0
}

// userIDFromHeader resolves the authenticated user from an
// X-Workbench-User-Id header. Real authentication and identity
// resolution is an external collaborator per §1's scope note; this is
// the seam where that collaborator's middleware would populate the
// header before requests reach this handler.
func userIDFromHeader(r *http.Request) (string, bool) {
	userID := r.Header.Get("X-Workbench-User-Id")
	return userID, userID != ""
}
