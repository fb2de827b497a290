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
	"techfolks/internal/judge/controller"
	"techfolks/internal/judge/executor"
	"techfolks/internal/judge/repository"
	"techfolks/internal/judge/service"
	"techfolks/internal/notify"
	"techfolks/pkg/utils/logger"
)

const defaultConfigPath = "configs/judge_worker.yaml"

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
	sources, err := sourcestore.New(objStorage, appCfg.Judge.SourceBucket)
	if err != nil {
		logger.Error(context.Background(), "init source store failed", zap.Error(err))
		return
	}

	var backend executor.Backend
	if appCfg.Judge.Backend == "mock" {
		backend = executor.NewMockBackend()
	} else {
		backend = executor.NewHTTPBackend(appCfg.Judge.HTTPBackend)
	}

	notifier := notify.NewRedisNotifier(redisCache.Client())
	defer func() {
		_ = notifier.Close()
	}()

	resultStore := repository.NewResultStore(mysqlDB)
	statusCache := repository.NewStatusCache(redisCache)

	judgeService := service.NewJudgeService(service.Config{
		Store:                resultStore,
		TestCases:            repository.NewTestCaseRepository(mysqlDB, redisCache),
		StatusCache:          statusCache,
		Backend:              backend,
		Notifier:             notifier,
		Sources:              sources,
		Scoring:              appCfg.Judge.Scoring,
		DefaultTimeLimitMs:   appCfg.Judge.DefaultTimeLimitMs,
		DefaultMemoryLimitKb: appCfg.Judge.DefaultMemoryLimitKb,
	})

	opts := &mq.SubscribeOptions{
		ConsumerGroup:   appCfg.Consumer.Group,
		Concurrency:     appCfg.Consumer.Concurrency,
		MaxAttempts:     appCfg.Consumer.MaxAttempts,
		RetryDelay:      appCfg.Consumer.RetryDelay,
		DeadLetterTopic: appCfg.Consumer.DeadLetterTopic,
	}
	if err := mqClient.Subscribe(context.Background(), appCfg.Consumer.Topic, judgeService.HandleMessage, opts); err != nil {
		logger.Error(context.Background(), "subscribe judge topic failed", zap.Error(err))
		return
	}
	if err := mqClient.Start(); err != nil {
		logger.Error(context.Background(), "start kafka consumer failed", zap.Error(err))
		return
	}
	logger.Info(context.Background(), "judge worker started",
		zap.String("topic", appCfg.Consumer.Topic),
		zap.String("group", appCfg.Consumer.Group),
		zap.Int("concurrency", appCfg.Consumer.Concurrency),
		zap.String("backend", appCfg.Judge.Backend))

	httpServer := buildHTTPServer(appCfg.Server, resultStore, statusCache)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "judge http server started", zap.String("addr", appCfg.Server.Addr))
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
		logger.Info(context.Background(), "shutdown signal received, draining in-flight jobs")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		_ = mqClient.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn(context.Background(), "shutdown timeout reached, exiting")
	}
}

func buildHTTPServer(cfg ServerConfig, store repository.ResultStore, statusCache *repository.StatusCache) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	controller.NewJudgeController(store, statusCache).RegisterRoutes(router)

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
