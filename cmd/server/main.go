package main

import (
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"spportal/internal/database"
	"spportal/internal/registry"
	"spportal/internal/router"
	"spportal/internal/services"
	"spportal/internal/tenantdb"
	"spportal/pkg/config"
	"spportal/pkg/logger"

	"github.com/gin-gonic/gin"
)

func main() {
	// 加载配置
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	if err := logger.Initialize(cfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	appLogger := logger.GetLogger()
	appLogger.Info("Starting Supplier Portal...")

	// 初始化门户数据库
	if err := database.Initialize(cfg); err != nil {
		appLogger.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		// 关闭门户数据库连接
		if err := database.Close(); err != nil {
			appLogger.Error("Failed to close database:", err)
		}
		// 关闭Redis连接
		if err := database.CloseRedisQueue(); err != nil {
			appLogger.Error("Failed to close Redis:", err)
		}
	}()

	// 执行门户数据库迁移
	if err := database.Migrate(); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	// 加载租户目录（启动时一次，之后不可变）
	reg, err := registry.LoadFromFile(&cfg.Catalog)
	if err != nil {
		appLogger.Fatalf("Failed to load tenant catalog: %v", err)
	}
	appLogger.Infof("Tenant catalog loaded: %d tenants, serving environment %q",
		reg.Count(), cfg.Catalog.Environment)

	// 租户连接池（惰性建连，进程退出时统一关闭）
	pool := tenantdb.NewManager(reg, tenantdb.Options{
		MaxOpenConns: cfg.Sync.MaxOpenConns,
		MaxIdleConns: cfg.Sync.MaxIdleConns,
	})
	defer pool.Close()

	// 构造服务
	redisQueue := database.GetRedisQueue()
	if err := redisQueue.Ping(); err != nil {
		appLogger.Fatalf("Failed to connect Redis: %v", err)
	}

	searchService := services.NewSearchService(pool, cfg.Catalog.Environment,
		time.Duration(cfg.Sync.ProbeTimeout)*time.Second, cfg.Sync.Concurrency)
	mappingService := services.NewMappingService(database.GetDB()).
		WithCache(redisQueue.GetClient(), cfg.Redis.Prefix, time.Duration(cfg.Sync.CacheTTL)*time.Second)
	syncService := services.NewSyncService(database.GetDB(), searchService, mappingService)
	resolverService := services.NewResolverService(pool, mappingService)

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	// 启动异步同步任务消费者
	syncWorker := services.NewSyncWorker(redisQueue, syncService)
	syncWorker.Start()
	defer syncWorker.Stop()

	// 启动映射复核调度器（间隔为0时不启动）
	syncScheduler := services.NewSyncScheduler(syncService, cfg.Sync.RevalidateInterval,
		time.Duration(cfg.Sync.RevalidateWindow)*time.Hour)
	if err := syncScheduler.Start(); err != nil {
		appLogger.Errorf("Failed to start sync scheduler: %v", err)
		// 不影响主服务启动
	}
	defer syncScheduler.Stop()

	// 设置路由
	r := router.SetupRouter(&router.Deps{
		Registry:        reg,
		Pool:            pool,
		SyncService:     syncService,
		MappingService:  mappingService,
		ResolverService: resolverService,
		Queue:           redisQueue,
	})

	// 启动服务器
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	appLogger.Infof("Server started on port %s", cfg.Server.Port)

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	if err := server.Close(); err != nil {
		appLogger.Error("Server forced to shutdown:", err)
	}
	appLogger.Info("Server exited")
}
