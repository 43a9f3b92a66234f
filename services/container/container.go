package container

import (
	"context"
	"log"
	"sync"
	"time"

	"rentlock-http-service/config"
	"rentlock-http-service/services"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// ServiceContainer 管理所有服务的依赖注入
type ServiceContainer struct {
	db     *gorm.DB
	config *config.Config
	redis  *redis.Client

	// 基础服务
	jwtService   services.InterfaceJWTService
	redisService services.InterfaceRedisService

	// 外部协作方
	lockGatewayService services.InterfaceLockGatewayService
	bookingFeedService services.InterfaceBookingFeedService

	// 核心引擎
	lifecycleService  services.InterfaceLifecycleService
	schedulerService  *services.SchedulerService
	reconcilerService *services.ReconcilerService
	webhookService    services.InterfaceWebhookService

	// 业务服务
	accommodationService services.InterfaceAccommodationService
	lockService          services.InterfaceLockService
	reservationService   services.InterfaceReservationService
	adminService         services.InterfaceAdminService

	mu sync.RWMutex
}

// NewServiceContainer 创建新的服务容器
func NewServiceContainer(db *gorm.DB, cfg *config.Config, redisClient *redis.Client) *ServiceContainer {
	if db == nil {
		panic("数据库连接为空")
	}

	if cfg == nil {
		panic("配置为空")
	}

	// 测试Redis连接
	if redisClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Printf("Redis连接测试失败: %v，将不使用Redis缓存", err)
		}
	}

	container := &ServiceContainer{
		db:     db,
		config: cfg,
		redis:  redisClient,
	}
	container.initializeServices()
	return container
}

// initializeServices 初始化所有服务
func (c *ServiceContainer) initializeServices() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clock := services.NewRealClock()

	// 初始化基础服务
	c.jwtService = services.NewJWTService(c.config)
	c.redisService = services.NewRedisService(c.config)

	// 初始化外部协作方客户端
	c.lockGatewayService = services.NewLockGatewayService(c.config)
	c.bookingFeedService = services.NewBookingFeedService(c.config)

	// 连接MQTT门锁网关
	if err := c.lockGatewayService.Connect(); err != nil {
		log.Printf("门锁网关连接失败: %v", err)
	}

	// 初始化核心引擎：引擎 → 调度器 → 对账，共享同一命令入口
	c.lifecycleService = services.NewLifecycleService(c.db, c.config, clock)
	c.schedulerService = services.NewSchedulerService(c.db, c.config, clock, c.lockGatewayService, c.lifecycleService)
	c.reconcilerService = services.NewReconcilerService(c.db, c.config, clock, c.bookingFeedService, c.lifecycleService, c.schedulerService, c.redisService)
	c.webhookService = services.NewWebhookService(c.db, c.config, c.lifecycleService, c.schedulerService, c.redisService)

	// 初始化业务服务
	c.accommodationService = services.NewAccommodationService(c.db, c.config, c.lifecycleService, c.schedulerService, clock)
	c.lockService = services.NewLockService(c.db, c.config)
	c.reservationService = services.NewReservationService(c.db, c.config, c.lifecycleService, c.schedulerService)
	c.adminService = services.NewAdminService(c.db, c.config)
}

// StartBackground 启动调度器工作协程和周期对账
func (c *ServiceContainer) StartBackground() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	c.schedulerService.Start()
	c.reconcilerService.Start()
}

// StopBackground 停止后台协程
func (c *ServiceContainer) StopBackground() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	c.reconcilerService.Stop()
	c.schedulerService.Stop()
	c.lockGatewayService.Disconnect()
}

// GetService 获取指定名称的服务
func (c *ServiceContainer) GetService(name string) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch name {
	case "config":
		return c.config
	case "db":
		return c.db
	case "jwt":
		return c.jwtService
	case "redis":
		return c.redisService
	case "lock_gateway":
		return c.lockGatewayService
	case "booking_feed":
		return c.bookingFeedService
	case "lifecycle":
		return c.lifecycleService
	case "scheduler":
		return c.schedulerService
	case "reconciler":
		return c.reconcilerService
	case "webhook":
		return c.webhookService
	case "accommodation":
		return c.accommodationService
	case "lock":
		return c.lockService
	case "reservation":
		return c.reservationService
	case "admin":
		return c.adminService
	default:
		return nil
	}
}

// GetDB 获取数据库连接
func (c *ServiceContainer) GetDB() *gorm.DB {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.db
}
