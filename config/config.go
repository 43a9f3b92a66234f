package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	config     *Config
	configOnce sync.Once
)

// Config stores all configuration of the application
type Config struct {
	// Environment type
	EnvType string

	// Database
	DBHost          string
	DBUser          string
	DBPassword      string
	DBName          string
	DBPort          string
	DBMigrationMode string // 数据库迁移模式: "auto"(默认), "alter"(修改), "drop"(删除重建)

	// Server
	ServerPort string

	// Redis
	RedisHost string
	RedisPort string
	RedisDB   int

	// MQTT 门锁网关
	MQTTBrokerURL  string
	MQTTClientID   string
	MQTTUsername   string
	MQTTPassword   string
	MQTTAckTimeout time.Duration // 等待设备确认的超时时间

	// 上游预订平台
	BookingFeedBaseURL string
	BookingFeedAPIKey  string
	BookingFeedTimeout time.Duration

	// Scheduler
	SchedulerTick    time.Duration // 工作协程轮询到期任务的间隔
	SchedulerWorkers int
	JobMaxAttempts   int
	JobBackoffBase   time.Duration

	// Reconciler
	ReconcileInterval   time.Duration
	ReconcileWindowPast time.Duration // 对账回看窗口
	ReconcileWindowNext time.Duration // 对账前瞻窗口

	// Credential
	PinLength int // 默认PIN位数，可被门锁厂商约束覆盖

	// JWT Authentication
	JWTSecretKey string

	// Admin
	DefaultAdminPassword string
}

// LoadConfig loads config from environment variables based on ENV_TYPE
func LoadConfig() *Config {
	// Get environment type (default to LOCAL if not set)
	envType := getEnv("ENV_TYPE", "LOCAL")
	prefix := ""

	// Set prefix based on environment type
	if strings.ToUpper(envType) == "LOCAL" {
		prefix = "LOCAL_"
	} else if strings.ToUpper(envType) == "SERVER" {
		prefix = "SERVER_"
	} else {
		fmt.Printf("Warning: Unknown ENV_TYPE '%s', defaulting to LOCAL environment\n", envType)
		prefix = "LOCAL_"
		envType = "LOCAL"
	}

	fmt.Printf("Loading configuration for environment: %s\n", envType)

	return &Config{
		// Environment type
		EnvType: envType,

		// Database config - use environment-specific variables if available
		DBHost:          getEnv(prefix+"DB_HOST", getEnv("DB_HOST", "localhost")),
		DBUser:          getEnv(prefix+"DB_USER", getEnv("DB_USER", "root")),
		DBPassword:      getEnv(prefix+"DB_PASSWORD", getEnv("DB_PASSWORD", "")),
		DBName:          getEnv(prefix+"DB_NAME", getEnv("DB_NAME", "rentlock_db")),
		DBPort:          getEnv(prefix+"DB_PORT", getEnv("DB_PORT", "3306")),
		DBMigrationMode: getEnv(prefix+"DB_MIGRATION_MODE", getEnv("DB_MIGRATION_MODE", "alter")),

		// Server config
		ServerPort: getEnv(prefix+"SERVER_PORT", getEnv("SERVER_PORT", "8080")),

		// Redis config
		RedisHost: getEnv(prefix+"REDIS_HOST", getEnv("REDIS_HOST", "localhost")),
		RedisPort: getEnv(prefix+"REDIS_PORT", getEnv("REDIS_PORT", "6379")),
		RedisDB:   getEnvAsInt("REDIS_DB", 0),

		// MQTT config
		MQTTBrokerURL:  getEnv("MQTT_BROKER_URL", "tcp://localhost:1883"),
		MQTTClientID:   getEnv("MQTT_CLIENT_ID", "rentlock-http-service"),
		MQTTUsername:   getEnv("MQTT_USERNAME", ""),
		MQTTPassword:   getEnv("MQTT_PASSWORD", ""),
		MQTTAckTimeout: getEnvAsDuration("MQTT_ACK_TIMEOUT", 10*time.Second),

		// Booking feed config
		BookingFeedBaseURL: getEnv("BOOKING_FEED_BASE_URL", "http://localhost:9090"),
		BookingFeedAPIKey:  getEnv("BOOKING_FEED_API_KEY", ""),
		BookingFeedTimeout: getEnvAsDuration("BOOKING_FEED_TIMEOUT", 15*time.Second),

		// Scheduler config
		SchedulerTick:    getEnvAsDuration("SCHEDULER_TICK", 5*time.Second),
		SchedulerWorkers: getEnvAsInt("SCHEDULER_WORKERS", 2),
		JobMaxAttempts:   getEnvAsInt("JOB_MAX_ATTEMPTS", 5),
		JobBackoffBase:   getEnvAsDuration("JOB_BACKOFF_BASE", 30*time.Second),

		// Reconciler config
		ReconcileInterval:   getEnvAsDuration("RECONCILE_INTERVAL", 30*time.Minute),
		ReconcileWindowPast: getEnvAsDuration("RECONCILE_WINDOW_PAST", 7*24*time.Hour),
		ReconcileWindowNext: getEnvAsDuration("RECONCILE_WINDOW_NEXT", 90*24*time.Hour),

		// Credential config
		PinLength: getEnvAsInt("PIN_LENGTH", 6),

		// JWT Config
		JWTSecretKey: getEnv("JWT_SECRET_KEY", "rentlock-secret-key-change-in-production"),

		// Admin Config
		DefaultAdminPassword: getEnv("DEFAULT_ADMIN_PASSWORD", "admin123"),
	}
}

// GetConfig returns the application configuration as a singleton
func GetConfig() *Config {
	configOnce.Do(func() {
		config = LoadConfig()
	})
	return config
}

// GetDSN returns the database connection string
func (c *Config) GetDSN() string {
	return c.DBUser + ":" + c.DBPassword + "@tcp(" + c.DBHost + ":" + c.DBPort + ")/" + c.DBName + "?charset=utf8mb4&parseTime=True&loc=Local&allowNativePasswords=true&multiStatements=true"
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}

// Helper function to get environment variable with default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// Helper function to get environment variable as integer with default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variable as duration with default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
