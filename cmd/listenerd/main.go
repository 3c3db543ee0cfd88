// Command listenerd runs the listener service: it drains client requests
// from the queue, executes them against the database, and publishes the
// responses.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/guildhall-net/guildhall/pkg/config"
	"github.com/guildhall-net/guildhall/pkg/consumer"
	"github.com/guildhall-net/guildhall/pkg/router"
	"github.com/guildhall-net/guildhall/pkg/store"
	"github.com/guildhall-net/guildhall/pkg/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("Invalid configuration", zap.Error(err))
	}

	logger := newLogger(cfg.Debug)
	defer func() { _ = logger.Sync() }()

	db := store.Open(cfg.DatabaseDSN, logger)
	defer db.Close()

	mq := transport.NewAMQP(transport.AMQPConfig{
		URL:          cfg.AMQPURL,
		Exchange:     cfg.Exchange,
		ConsumeQueue: cfg.ToListener,
		PublishKey:   cfg.FromListener,
	}, logger)
	defer func() { _ = mq.Close() }()

	registry := prometheus.NewRegistry()
	metrics := consumer.NewMetrics(registry)
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, registry, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := router.New(db, consumer.CountPublishes(mq, metrics), logger)
	c := consumer.New(mq, db, r, cfg.ReconnectBackoff, metrics, logger)

	logger.Info("Listener starting",
		zap.String("consume_queue", cfg.ToListener),
		zap.String("publish_key", cfg.FromListener),
	)
	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("Listener stopped", zap.Error(err))
	}
	logger.Info("Listener shut down")
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("Metrics endpoint failed", zap.Error(err))
	}
}

func newLogger(debug bool) *zap.Logger {
	if debug {
		logger, err := zap.NewDevelopment()
		if err != nil {
			panic(err)
		}
		return logger
	}
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	return logger
}
