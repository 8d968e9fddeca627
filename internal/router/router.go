package router

import (
	"regexp"
	"strings"
	"time"

	"spportal/internal/handlers"
	"spportal/internal/middleware"
	"spportal/internal/registry"
	"spportal/internal/services"
	"spportal/internal/tenantdb"
	"spportal/pkg/queue"
	"spportal/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// Deps 路由依赖
// 服务对象在main中构造（租户目录与连接池只初始化一次），这里只负责挂路由
type Deps struct {
	Registry        *registry.Registry
	Pool            *tenantdb.Manager
	SyncService     *services.SyncService
	MappingService  *services.MappingService
	ResolverService *services.ResolverService
	Queue           *queue.RedisQueue
}

// 税号：8-20位大写字母或数字（绑定前会归一化，这里容忍小写）
var taxIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{8,20}$`)

// SetupRouter 设置路由
func SetupRouter(deps *Deps) *gin.Engine {
	registerValidators()

	router := gin.New()

	// 中间件
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.SetupCORS())

	registerRoutes(router, deps)
	return router
}

// registerValidators 注册自定义绑定规则
func registerValidators() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("taxid", func(fl validator.FieldLevel) bool {
			return taxIDPattern.MatchString(strings.TrimSpace(fl.Field().String()))
		})
	}
}

// 注册所有路由
func registerRoutes(router *gin.Engine, deps *Deps) {

	auth := middleware.NewAuthMiddleware()

	// API路由组
	api := router.Group("/api/v1")
	{
		// 健康检查接口
		api.GET("/health", healthCheck)
		api.GET("/ping", ping)

		// 租户目录与诊断（管理接口）
		tenantHandler := handlers.NewTenantHandler(deps.Registry, deps.Pool)
		tenants := api.Group("/tenants")
		tenants.Use(auth.RequireSession(), auth.RequireAdmin())
		{
			tenants.GET("", tenantHandler.GetAll)
			tenants.GET("/:code", tenantHandler.GetByCode)
			tenants.GET("/:code/health", tenantHandler.Health)
		}

		// 自动同步
		syncHandler := handlers.NewSyncHandler(deps.SyncService, deps.Queue)
		sync := api.Group("/sync")
		{
			sync.POST("", auth.RequireSession(), syncHandler.SyncNow)
			sync.POST("/async", auth.RequireSession(), syncHandler.SyncAsync)
			sync.GET("/jobs/:id", auth.RequireSession(), syncHandler.JobStatus)

			// 同步审计日志（管理接口）
			sync.GET("/logs", auth.RequireSession(), auth.RequireAdmin(), syncHandler.GetLogs)
		}

		// 供应商映射
		mappingHandler := handlers.NewMappingHandler(deps.MappingService)
		mappings := api.Group("/mappings")
		{
			mappings.GET("", auth.RequireSession(), mappingHandler.GetMy)
			mappings.POST("/:tenant/deactivate", auth.RequireSession(), mappingHandler.Deactivate)
		}

		// 门户自助接口（解析热路径 + 租户库透传）
		profileHandler := handlers.NewProfileHandler(deps.ResolverService)
		portal := api.Group("/portal")
		{
			portal.GET("/profile", auth.RequireSession(), profileHandler.GetProfile)
		}
	}

	// WebSocket路由（token经查询参数校验，不走认证中间件）
	wsHandler := handlers.NewWebSocketHandler()
	router.GET("/ws/sync/:id", wsHandler.SyncProgress)
}

func healthCheck(c *gin.Context) {
	data := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now(),
		"service":   "SPPORTAL",
		"version":   "1.0.0",
	}
	response.Success(c, data)
}

func ping(c *gin.Context) {
	response.SuccessWithMessage(c, "pong", nil)
}
