// cmd/relay-server/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"captcha-relay/internal/common/config"
	"captcha-relay/internal/common/database"
	"captcha-relay/internal/common/logger"
	"captcha-relay/internal/common/observability"
	verifytoken "captcha-relay/internal/relay/verify-token"
	"captcha-relay/internal/server"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

// awaitStop blocks until a signal arrives or the server exits on its own. The
// latter is always a failure, so the returned error is non-nil in that case.
func awaitStop(sigCh <-chan os.Signal, serveErr <-chan error, log *zap.Logger) error {
	select {
	case sig := <-sigCh:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))
		return nil
	case err := <-serveErr:
		if err == nil {
			err = fmt.Errorf("http server stopped without a shutdown signal")
		}
		return err
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logger.New("info", "console")
		boot.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.NewWithOptions(logger.Options{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Output:  cfg.Logging.Output,
		Service: cfg.App.Name,
	})
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	zapLog.Info("Starting captcha relay",
		zap.String("version", cfg.App.Version),
		zap.String("provider", cfg.Upstream.Provider),
		zap.Strings("allowedOrigins", cfg.Server.AllowedOrigins),
		zap.Bool("rateLimit", cfg.RateLimitActive()),
	)

	obs, err := observability.New(observability.Options{
		ServiceName:    cfg.App.Name,
		TracingEnabled: cfg.Tracing.Enabled,
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		SampleRatio:    cfg.Tracing.SampleRatio,
	})
	if err != nil {
		zapLog.Fatal("observability init failed", zap.Error(err))
	}

	// --- Redis (optional) ---
	var redis *database.RedisClient
	if cfg.RedisEnabled() {
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			zapLog.Fatal("invalid redis configuration", zap.Error(err))
		}
		defer redis.Close()

		err = retryWithBackoff(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redis.Ping(ctx)
		}, 5, time.Second, zapLog, "Redis connection")
		if err != nil {
			// The limiter fails open, so the relay still serves without Redis.
			zapLog.Warn("redis unavailable, rate limiting degraded", zap.Error(err))
		} else {
			zapLog.Info("Redis connected successfully")
		}
	}

	verifyHandler, err := verifytoken.NewHandler(verifytoken.HandlerOptions{
		AppConfig:     cfg,
		Logger:        log,
		Observability: obs,
	})
	if err != nil {
		zapLog.Fatal("verify-token handler init failed", zap.Error(err))
	}

	router, err := server.NewRouter(server.RouterOptions{
		Config:        cfg,
		Logger:        log,
		VerifyHandler: verifyHandler,
		Redis:         redis,
	})
	if err != nil {
		zapLog.Fatal("router init failed", zap.Error(err))
	}

	srv := server.New(cfg, router, log)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	serveFailure := awaitStop(sigCh, serveErr, zapLog)

	if err := srv.Shutdown(context.Background()); err != nil {
		zapLog.Error("http shutdown failed", zap.Error(err))
	}
	if err := obs.Shutdown(context.Background()); err != nil {
		zapLog.Warn("observability shutdown failed", zap.Error(err))
	}

	if serveFailure != nil {
		zapLog.Fatal("Captcha relay stopped unexpectedly", zap.Error(serveFailure))
	}
	zapLog.Info("Captcha relay stopped")
}
