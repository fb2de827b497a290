package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"techfolks/internal/common/cache"
	"techfolks/internal/common/db"
	commonmw "techfolks/internal/common/http/middleware"
	"techfolks/internal/common/mq"
	"techfolks/internal/common/sourcestore"
	"techfolks/internal/common/storage"
	judgerepo "techfolks/internal/judge/repository"
	"techfolks/internal/notify"
	"techfolks/internal/submission/controller"
	submissionrepo "techfolks/internal/submission/repository"
	"techfolks/internal/submission/service"
	"techfolks/pkg/utils/logger"
)

const defaultConfigPath = "configs/submit_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	mqClient, err := mq.NewKafkaQueue(appCfg.Kafka)
	if err != nil {
		logger.Error(context.Background(), "init kafka failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mqClient.Close()
	}()

	objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		logger.Error(context.Background(), "init minio failed", zap.Error(err))
		return
	}
	sources, err := sourcestore.New(objStorage, appCfg.Submit.SourceBucket)
	if err != nil {
		logger.Error(context.Background(), "init source store failed", zap.Error(err))
		return
	}

	submissionService := service.NewSubmissionService(service.Config{
		Repo:               submissionrepo.New(mysqlDB),
		StatusCache:        judgerepo.NewStatusCache(redisCache),
		Cache:              redisCache,
		Queue:              mqClient,
		Sources:            sources,
		JudgeTopic:         appCfg.Submit.JudgeTopic,
		MaxSourceBytes:     appCfg.Submit.MaxSourceBytes,
		Languages:          appCfg.Submit.Languages,
		RateLimitPerMinute: appCfg.Submit.RateLimitPerMinute,
	})
	subscriber := notify.NewRedisSubscriber(redisCache.Client())

	httpServer := buildHTTPServer(appCfg.Server, submissionService, subscriber)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "submit http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
}

func buildHTTPServer(cfg ServerConfig, svc *service.SubmissionService, subscriber notify.Subscriber) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	api := router.Group("/api/v1", commonmw.AuthMiddleware(cfg.JWTSecret))
	controller.NewSubmissionController(svc, subscriber).RegisterRoutes(api)

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
