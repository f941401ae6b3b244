package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mwaller89/accounthub/internal/config"
	"github.com/mwaller89/accounthub/internal/mail"
	"github.com/mwaller89/accounthub/internal/observability"
	"github.com/mwaller89/accounthub/internal/queue"
	"github.com/mwaller89/accounthub/internal/queue/redisclient"
	"github.com/mwaller89/accounthub/internal/queue/worker"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()

	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, "accounthub-worker", cfg.OTLPEndpoint)

	if err != nil {
		log.Warn("tracing disabled", "err", err)
	} else {
		defer func() {
			cctx, cancel := config.WithTimeout(5 * time.Second)
			defer cancel()
			_ = shutdownTracer(cctx)
		}()
	}

	rdb := redisclient.New(redisclient.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	defer rdb.Close()

	if err := rdb.Ping(ctx); err != nil {
		log.Error("redis connect failed", "err", err)
		os.Exit(1)
	}

	hostname, _ := os.Hostname()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	prom := observability.NewProm(reg)

	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WorkerMetricsPort),
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", "err", err)
		}
	}()

	defer func() {
		cctx, cancel := config.WithTimeout(2 * time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(cctx)
	}()

	w := worker.New(worker.Config{
		WorkerID:      hostname,
		Concurrency:   4,
		PollTimeout:   2 * time.Second,
		ShutdownGrace: 10 * time.Second,
	}, queue.New(rdb.Raw()), mail.NewLogMailer(cfg.FrontendURL, log), log).WithProm(prom)

	log.Info("mail worker starting", "worker_id", hostname)

	if err := w.Run(ctx); err != nil {
		log.Error("worker stopped with error", "err", err)
		os.Exit(1)
	}

	log.Info("mail worker stopped")
}
