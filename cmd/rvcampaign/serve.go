package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"rvcampaign/internal/campaign/controller"
	"rvcampaign/internal/campaign/repository"
	commonmw "rvcampaign/internal/common/http/middleware"
	"rvcampaign/internal/common/mq"
	appErr "rvcampaign/pkg/errors"
	"rvcampaign/pkg/utils/logger"
	"rvcampaign/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve campaign status over HTTP",
	Long: `Serve exposes the live status of campaigns kept in redis, the recorded
history kept in MySQL and Prometheus metrics. With Kafka configured it also
consumes campaign-finished events so campaigns run on other hosts show up.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := appCfg

	in, err := openInfra(ctx, cfg)
	if err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "connect infrastructure")
	}
	defer in.close()
	if in.statusRepo == nil && in.history == nil {
		return appErr.ConfigError(appErr.ConfigInvalid, "serve needs redis or database configured")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	consumeErr := make(chan error, 1)
	if len(cfg.Kafka.Brokers) > 0 && in.statusRepo != nil {
		consumer, err := mq.NewKafkaConsumer(cfg.Kafka)
		if err != nil {
			return appErr.Wrapf(err, appErr.ServiceUnavailable, "init kafka consumer")
		}
		defer func() {
			_ = consumer.Close()
		}()
		go func() {
			logger.Info(ctx, "consuming campaign events", zap.String("topic", cfg.Kafka.Topic))
			consumeErr <- consumer.Consume(ctx, repository.StatusEventHandler(in.statusRepo))
		}()
	}

	httpServer := buildHTTPServer(cfg.Server, in, reg)
	listener, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "listen on %s", cfg.Server.Addr)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "status server started", zap.String("addr", cfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = appErr.Wrapf(err, appErr.ServiceUnavailable, "http server stopped")
		}
	case err := <-consumeErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			serveErr = appErr.Wrapf(err, appErr.ServiceUnavailable, "event consumer stopped")
		}
	case <-ctx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	shutdownCtx, cancel := withTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	return serveErr
}

func buildHTTPServer(cfg ServerConfig, in *infra, reg *prometheus.Registry) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api := router.Group("/api/v1")
	controller.NewCampaignController(in.statusRepo, in.history).Register(api)
	router.NoRoute(func(c *gin.Context) {
		response.NotFound(c, "no route for "+c.Request.URL.Path)
	})

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
