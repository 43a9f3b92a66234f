package services

import (
	"context"
	"encoding/json"
	"time"

	"rentlock-http-service/config"

	"github.com/go-redis/redis/v8"
)

// InterfaceRedisService 定义Redis缓存服务接口
type InterfaceRedisService interface {
	Set(key string, value interface{}, expiration time.Duration) error
	Get(key string, dest interface{}) error
	Delete(key string) error
	IsWebhookSeen(eventID string) (bool, error)
	MarkWebhookSeen(eventID string, ttl time.Duration) (bool, error)
	CacheReconcileStatus(status interface{}) error
	GetReconcileStatus(dest interface{}) error
	GetClient() *redis.Client
}

// RedisService handles Redis operations
type RedisService struct {
	Client *redis.Client
	Ctx    context.Context
}

// NewRedisService creates a new Redis service
func NewRedisService(cfg *config.Config) InterfaceRedisService {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.GetRedisAddr(),
		Password: "", // No password set
		DB:       cfg.RedisDB,
	})

	ctx := context.Background()

	return &RedisService{
		Client: client,
		Ctx:    ctx,
	}
}

// Set sets a key-value pair in Redis with expiration
func (s *RedisService) Set(key string, value interface{}, expiration time.Duration) error {
	jsonValue, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return s.Client.Set(s.Ctx, key, jsonValue, expiration).Err()
}

// Get gets a value from Redis by key
func (s *RedisService) Get(key string, dest interface{}) error {
	val, err := s.Client.Get(s.Ctx, key).Result()
	if err != nil {
		return err
	}

	return json.Unmarshal([]byte(val), dest)
}

// Delete deletes a key from Redis
func (s *RedisService) Delete(key string) error {
	return s.Client.Del(s.Ctx, key).Err()
}

// IsWebhookSeen 查询事件ID是否已登记。只作为去重的快速路径提示，
// 权威判定在webhook_events表的唯一约束。
func (s *RedisService) IsWebhookSeen(eventID string) (bool, error) {
	n, err := s.Client.Exists(s.Ctx, "webhook_seen:"+eventID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkWebhookSeen 以SETNX方式登记事件ID，返回false表示事件已出现过。
// 只在事件成功落库后调用，落库失败的事件不得进入快速路径。
func (s *RedisService) MarkWebhookSeen(eventID string, ttl time.Duration) (bool, error) {
	key := "webhook_seen:" + eventID
	return s.Client.SetNX(s.Ctx, key, 1, ttl).Result()
}

// CacheReconcileStatus 缓存最近一次对账运行的状态
func (s *RedisService) CacheReconcileStatus(status interface{}) error {
	return s.Set("reconcile:last_run", status, 0)
}

// GetReconcileStatus 获取最近一次对账运行的状态
func (s *RedisService) GetReconcileStatus(dest interface{}) error {
	return s.Get("reconcile:last_run", dest)
}

// GetClient 返回底层Redis客户端（限流中间件使用）
func (s *RedisService) GetClient() *redis.Client {
	return s.Client
}
