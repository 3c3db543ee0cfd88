// Command socketd runs the socket edge: it serves websocket clients and the
// static bundle, forwards requests onto the queue, and pumps responses back
// to the right connections.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/guildhall-net/guildhall/pkg/config"
	"github.com/guildhall-net/guildhall/pkg/fanout"
	"github.com/guildhall-net/guildhall/pkg/sockets"
	"github.com/guildhall-net/guildhall/pkg/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("Invalid configuration", zap.Error(err))
	}

	logger := newLogger(cfg.Debug)
	defer func() { _ = logger.Sync() }()

	// The edge's transport consumes responses and publishes requests, the
	// mirror image of the listener's binding.
	mq := transport.NewAMQP(transport.AMQPConfig{
		URL:          cfg.AMQPURL,
		Exchange:     cfg.Exchange,
		ConsumeQueue: cfg.FromListener,
		PublishKey:   cfg.ToListener,
	}, logger)
	defer func() { _ = mq.Close() }()

	if err := mq.Connect(); err != nil {
		logger.Fatal("Broker connection failed", zap.Error(err))
	}

	registry := fanout.NewRegistry(logger)
	server := sockets.NewServer(registry, mq, cfg.PublicPath, cfg.InboundRate, prometheus.DefaultRegisterer, logger)
	pump := sockets.NewPump(mq, registry, cfg.ReconnectBackoff, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server.Handler(),
	}
	go func() {
		logger.Info("Socket edge listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	if err := pump.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Response pump stopped", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	logger.Info("Socket edge shut down")
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
