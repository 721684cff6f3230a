package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/example/cellscan/internal/classifier"
	"github.com/example/cellscan/internal/config"
	"github.com/example/cellscan/internal/handlers"
	"github.com/example/cellscan/internal/logging"
	"github.com/example/cellscan/internal/preview"
	"github.com/example/cellscan/internal/session"
	"github.com/example/cellscan/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	previews := initPreviewStore(ctx, cfg, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := usecase.NewMetrics(registry)

	client := classifier.NewHTTPClient(cfg.ClassifierURL, cfg.ClassifierTimeout, logger)
	sessions := session.NewManager(func(id string) *usecase.ImageUpload {
		opts := usecase.Options{BenignLabel: cfg.BenignLabel, SessionID: id}
		return usecase.NewImageUpload(client, previews, metrics, logging.WithSession(logger, id), opts)
	}, cfg.SessionTTL, metrics, logger)

	sessionsDone := make(chan struct{})
	go func() {
		defer close(sessionsDone)
		sessions.Run(ctx)
	}()

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))
	r.MaxMultipartMemory = cfg.MaxUploadSize

	handlers.RegisterRoutes(r, handlers.Dependencies{
		Sessions:      sessions,
		Previews:      previews,
		Metrics:       metrics,
		Gatherer:      registry,
		Theme:         cfg.Theme,
		MaxUploadSize: cfg.MaxUploadSize,
		Logger:        logger,
	})

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("upload service listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("classifier_url", cfg.ClassifierURL),
		zap.Bool("redis_previews", cfg.RedisAddr != ""),
	)
	if err := serveHTTPServer(server, cfg.ShutdownTimeout, logger); err != nil {
		logger.Error("server failed", zap.Error(err))
	}

	stop()
	<-sessionsDone
}

func initPreviewStore(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) preview.Store {
	if cfg.RedisAddr == "" {
		return preview.NewMemoryStore()
	}
	redisCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client := initRedis(redisCtx, cfg.RedisAddr, zapLogger)
	return preview.NewRedisStore(preview.NewRedisCache(client), cfg.PreviewTTL, zapLogger)
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err), zap.String("addr", addr))
	}
	return client
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	httpLogger := logger.Named("access")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/health" {
			return
		}
		httpLogger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
