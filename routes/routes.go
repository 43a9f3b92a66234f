package routes

import (
	"rentlock-http-service/config"
	"rentlock-http-service/controllers"
	_ "rentlock-http-service/docs"
	"rentlock-http-service/middleware"
	"rentlock-http-service/services/container"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/gorm"
)

// SetupRouter 初始化并返回配置好的路由和服务容器
func SetupRouter(db *gorm.DB, cfg *config.Config) (*gin.Engine, *container.ServiceContainer) {
	// 初始化 Gin
	r := gin.Default()

	// 添加 CORS 中间件
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, Accept, Origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})
	// 设置正确的Content-Type，确保UTF-8编码
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json; charset=utf-8")
		c.Next()
	})
	// 创建服务容器
	serviceContainer := container.NewServiceContainer(db, cfg, nil)
	// 初始化中间件
	middleware.InitAuthMiddleware(cfg)
	// 添加 Swagger 文档路由
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 注册路由
	registerRoutes(r, serviceContainer)
	return r, serviceContainer
}

// registerRoutes 配置所有API路由
func registerRoutes(
	r *gin.Engine,
	container *container.ServiceContainer,
) {
	// API 路由根路径
	api := r.Group("/api")
	// 注册公共路由
	registerPublicRoutes(api, container)
	// 注册需要认证的路由
	registerAuthenticatedRoutes(api, container)
}

// registerPublicRoutes 注册公共路由
func registerPublicRoutes(
	api *gin.RouterGroup,
	container *container.ServiceContainer,
) {
	// 健康检查
	api.GET("/ping", controllers.NewHealthCheckController().Ping)

	// 认证路由
	api.POST("/auth/login", controllers.HandleJWTFunc(container, "login"))

	// 预订平台Webhook入口，带IP限流防御重试风暴
	api.POST("/webhooks/reservations",
		middleware.RateLimitByIP(50, 100),
		controllers.HandleWebhookFunc(container, "ingest"))
}

// registerAuthenticatedRoutes 注册需要认证的路由
func registerAuthenticatedRoutes(
	api *gin.RouterGroup,
	container *container.ServiceContainer,
) {
	// 添加认证中间件
	auth := api.Group("/admin")
	auth.Use(middleware.AuthenticateAdmin())

	// 房源路由
	auth.Group("/accommodations").GET("", controllers.HandleAccommodationFunc(container, "getAccommodations"))
	auth.Group("/accommodations").GET("/:id", controllers.HandleAccommodationFunc(container, "getAccommodationByID"))
	auth.Group("/accommodations").POST("", controllers.HandleAccommodationFunc(container, "createAccommodation"))
	auth.Group("/accommodations").PUT("/:id", controllers.HandleAccommodationFunc(container, "updateAccommodation"))
	// 房源与门锁绑定
	auth.Group("/accommodations").POST("/:id/lock", controllers.HandleAccommodationFunc(container, "mapLock"))
	auth.Group("/accommodations").DELETE("/:id/lock", controllers.HandleAccommodationFunc(container, "unmapLock"))

	// 门锁路由
	auth.Group("/locks").GET("", controllers.HandleLockFunc(container, "getLocks"))
	auth.Group("/locks").GET("/:id", controllers.HandleLockFunc(container, "getLockByID"))
	auth.Group("/locks").POST("", controllers.HandleLockFunc(container, "createLock"))
	auth.Group("/locks").PUT("/:id", controllers.HandleLockFunc(container, "updateLock"))
	auth.Group("/locks").DELETE("/:id", controllers.HandleLockFunc(container, "deleteLock"))
	auth.Group("/locks").GET("/:id/credentials", controllers.HandleLockFunc(container, "getLockCredentials"))

	// 预订路由
	auth.Group("/reservations").GET("", controllers.HandleReservationFunc(container, "getReservations"))
	auth.Group("/reservations").GET("/:id", controllers.HandleReservationFunc(container, "getReservationByID"))
	auth.Group("/reservations").GET("/:id/credentials", controllers.HandleReservationFunc(container, "getReservationCredentials"))
	auth.Group("/reservations").POST("/:id/no-show", controllers.HandleReservationFunc(container, "markNoShow"))
	auth.Group("/reservations").POST("/:id/revoke", controllers.HandleReservationFunc(container, "forceRevoke"))

	// 对账与调度器观测路由
	auth.Group("/reconciliation").GET("/status", controllers.HandleReconciliationFunc(container, "getStatus"))
	auth.Group("/reconciliation").POST("/run", controllers.HandleReconciliationFunc(container, "runNow"))
	auth.Group("/scheduler").GET("/jobs", controllers.HandleReconciliationFunc(container, "getPendingJobs"))
	auth.Group("/scheduler").GET("/dead-letters", controllers.HandleReconciliationFunc(container, "getDeadLetters"))
}
