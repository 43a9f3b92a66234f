package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"rentlock-http-service/config"
	"rentlock-http-service/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB 创建一个独立的内存数据库
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		// 与生产配置一致，唯一约束冲突翻译为gorm.ErrDuplicatedKey
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}

	err = db.AutoMigrate(
		&models.Admin{},
		&models.Accommodation{},
		&models.Lock{},
		&models.AccommodationLockMapping{},
		&models.Reservation{},
		&models.Credential{},
		&models.WebhookEvent{},
		&models.ReconciliationLog{},
	)
	if err != nil {
		t.Fatalf("迁移测试数据库失败: %v", err)
	}
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		SchedulerTick:       time.Second,
		SchedulerWorkers:    1,
		JobMaxAttempts:      3,
		JobBackoffBase:      time.Minute,
		ReconcileInterval:   30 * time.Minute,
		ReconcileWindowPast: 7 * 24 * time.Hour,
		ReconcileWindowNext: 90 * 24 * time.Hour,
		PinLength:           6,
	}
}

// fakeClock 可手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// setPinCall 记录一次下发调用
type setPinCall struct {
	DeviceID string
	Pin      string
}

// fakeGateway 记录调用并按配置返回错误的门锁网关
type fakeGateway struct {
	mu         sync.Mutex
	setCalls   []setPinCall
	clearCalls []string
	setErr     error
	clearErr   error
}

func (g *fakeGateway) Connect() error { return nil }
func (g *fakeGateway) Disconnect()    {}

func (g *fakeGateway) SetPin(deviceID, pin string, validFrom, validTo time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.setErr != nil {
		return g.setErr
	}
	g.setCalls = append(g.setCalls, setPinCall{DeviceID: deviceID, Pin: pin})
	return nil
}

func (g *fakeGateway) ClearPin(deviceID string, credentialRef string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.clearErr != nil {
		return g.clearErr
	}
	g.clearCalls = append(g.clearCalls, deviceID)
	return nil
}

func (g *fakeGateway) failSet(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.setErr = err
}

func (g *fakeGateway) failClear(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clearErr = err
}

func (g *fakeGateway) setPinCalls() []setPinCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]setPinCall, len(g.setCalls))
	copy(out, g.setCalls)
	return out
}

func (g *fakeGateway) clearPinCalls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.clearCalls))
	copy(out, g.clearCalls)
	return out
}

// fakeRedis 内存实现的缓存，用于Webhook去重快速路径和对账状态缓存
type fakeRedis struct {
	mu   sync.Mutex
	data map[string][]byte
	seen map[string]bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string][]byte), seen: make(map[string]bool)}
}

func (r *fakeRedis) Set(key string, value interface{}, expiration time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[key] = b
	return nil
}

func (r *fakeRedis) Get(key string, dest interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.data[key]
	if !ok {
		return errors.New("缓存未命中")
	}
	return json.Unmarshal(b, dest)
}

func (r *fakeRedis) Delete(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, key)
	return nil
}

func (r *fakeRedis) IsWebhookSeen(eventID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen[eventID], nil
}

func (r *fakeRedis) MarkWebhookSeen(eventID string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen[eventID] {
		return false, nil
	}
	r.seen[eventID] = true
	return true, nil
}

func (r *fakeRedis) CacheReconcileStatus(status interface{}) error {
	return r.Set("reconcile:last_run", status, 0)
}

func (r *fakeRedis) GetReconcileStatus(dest interface{}) error {
	return r.Get("reconcile:last_run", dest)
}

func (r *fakeRedis) GetClient() *redis.Client { return nil }

// fakeFeed 按房源返回固定数据的预订平台Feed
type fakeFeed struct {
	data   map[string][]FeedReservation
	errFor map[string]error
}

func (f *fakeFeed) FetchReservations(ctx context.Context, accommodationExternalID string, from, to time.Time) ([]FeedReservation, error) {
	if err := f.errFor[accommodationExternalID]; err != nil {
		return nil, err
	}
	return f.data[accommodationExternalID], nil
}

// seedMappedAccommodation 创建一个绑定了门锁的活跃房源
func seedMappedAccommodation(t *testing.T, db *gorm.DB, externalID string) (*models.Accommodation, *models.Lock) {
	t.Helper()

	accommodation := models.Accommodation{
		ExternalID: externalID,
		Name:       "测试房源" + externalID,
		Status:     models.AccommodationStatusActive,
	}
	if err := db.Create(&accommodation).Error; err != nil {
		t.Fatalf("创建房源失败: %v", err)
	}

	lock := models.Lock{
		Vendor:   models.LockVendorGeneric,
		DeviceID: "device-" + externalID,
	}
	if err := db.Create(&lock).Error; err != nil {
		t.Fatalf("创建门锁失败: %v", err)
	}

	mapping := models.AccommodationLockMapping{
		AccommodationID: accommodation.ID,
		LockID:          lock.ID,
	}
	if err := db.Create(&mapping).Error; err != nil {
		t.Fatalf("创建锁绑定失败: %v", err)
	}

	return &accommodation, &lock
}

// seedUnmappedAccommodation 创建一个未绑定门锁的房源
func seedUnmappedAccommodation(t *testing.T, db *gorm.DB, externalID string) *models.Accommodation {
	t.Helper()

	accommodation := models.Accommodation{
		ExternalID: externalID,
		Name:       "测试房源" + externalID,
		Status:     models.AccommodationStatusActive,
	}
	if err := db.Create(&accommodation).Error; err != nil {
		t.Fatalf("创建房源失败: %v", err)
	}
	return &accommodation
}

// findActions 按类型过滤意图
func findActions(actions []Action, actionType ActionType) []Action {
	var out []Action
	for _, a := range actions {
		if a.Type == actionType {
			out = append(out, a)
		}
	}
	return out
}
