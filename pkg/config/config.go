package config

import (
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig `mapstructure:"jwt"`
	Log      LogConfig
	Redis    RedisConfig
	Catalog  CatalogConfig
	Sync     SyncConfig
	Admin    AdminConfig
	CORS     CORSConfig
}

type ServerConfig struct {
	Port string
	Mode string
}

// DatabaseConfig 共享门户库（跨租户映射与同步日志的唯一归属库）
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type JWTConfig struct {
	SecretKey     string `mapstructure:"secret_key"`     // 门户会话令牌密钥（令牌由外部身份层签发）
	TokenDuration string `mapstructure:"token_duration"` // 令牌有效期，如 "24h"
}

type LogConfig struct {
	Level      string
	FilePath   string
	MaxSize    int    // MB
	MaxBackups int    // 保留的备份文件数
	MaxAge     int    // 保留天数
	Compress   bool   // 是否压缩
	Format     string // json 或 text
}

type RedisConfig struct {
	Host     string // Redis主机地址
	Port     int    // Redis端口
	Password string // Redis密码
	DB       int    // Redis数据库编号
	Prefix   string // 键前缀
}

// CatalogConfig 租户目录配置
// 目录文件在进程启动时加载一次，之后不可变
type CatalogConfig struct {
	File          string // 租户目录JSON文件路径
	EncryptionKey string // 目录中数据库密码的解密密钥（32字节用于AES-256）
	ProdRange     string // 生产环境租户编码区间，如 "01-08"
	TestRange     string // 测试环境租户编码区间，如 "09-10"
	Environment   string // 本实例服务的环境：production 或 test
}

// SyncConfig 自动同步（发现）相关参数
type SyncConfig struct {
	ProbeTimeout       int // 单租户探测超时（秒）
	Concurrency        int // 探测并发上限
	MaxOpenConns       int // 每个租户连接池的最大连接数
	MaxIdleConns       int // 每个租户连接池的最大空闲连接数
	CacheTTL           int // 映射解析缓存TTL（秒）
	RevalidateInterval int // 定时复核间隔（分钟），0表示关闭
	RevalidateWindow   int // 复核回溯窗口（小时）
}

// AdminConfig 管理接口访问配置
type AdminConfig struct {
	KeyHash string // 管理密钥的bcrypt哈希
}

type CORSConfig struct {
	AllowOrigins     []string // 允许的源
	AllowMethods     []string // 允许的HTTP方法
	AllowHeaders     []string // 允许的请求头
	ExposeHeaders    []string // 暴露的响应头
	AllowCredentials bool     // 是否允许携带凭证
	MaxAge           int      // 预检请求缓存时间（小时）
}

// 全局配置实例和同步锁
var (
	globalConfig *Config
	once         sync.Once
)

func GetConfig() *Config {
	once.Do(func() {
		var err error
		globalConfig, err = LoadConfig()
		if err != nil {
			// 如果加载失败，可以panic或使用默认配置
			panic("Failed to load config: " + err.Error())
		}
	})
	return globalConfig
}

// 获取环境变量，如果不存在则使用默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// 获取环境变量转换为int
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// 获取环境变量转换为bool
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true"
	}
	return defaultValue
}

// 获取环境变量转换为字符串数组（逗号分隔）
func getEnvAsStringArray(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultValue
}

func LoadConfig() (*Config, error) {
	err := godotenv.Load()
	if err != nil {
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Mode: getEnv("SERVER_MODE", "debug"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "supplier_portal"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			SecretKey:     getEnv("JWT_SECRET_KEY", "default-secret-change-me"),
			TokenDuration: getEnv("JWT_TOKEN_DURATION", "24h"),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			FilePath:   getEnv("LOG_FILE_PATH", "logs/app.log"),
			MaxSize:    getEnvAsInt("LOG_MAX_SIZE", 100),
			MaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 7),
			MaxAge:     getEnvAsInt("LOG_MAX_AGE", 30),
			Compress:   getEnvAsBool("LOG_COMPRESS", true),
			Format:     getEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Prefix:   getEnv("REDIS_PREFIX", "spportal"),
		},
		Catalog: CatalogConfig{
			File:          getEnv("CATALOG_FILE", "config/tenants.json"),
			EncryptionKey: getEnv("CATALOG_ENCRYPTION_KEY", "spportal-catalog-encrypt-key-32b"),
			ProdRange:     getEnv("CATALOG_PROD_RANGE", "01-08"),
			TestRange:     getEnv("CATALOG_TEST_RANGE", "09-10"),
			Environment:   getEnv("TENANT_ENV", "production"),
		},
		Sync: SyncConfig{
			ProbeTimeout:       getEnvAsInt("SYNC_PROBE_TIMEOUT", 10),
			Concurrency:        getEnvAsInt("SYNC_CONCURRENCY", 4),
			MaxOpenConns:       getEnvAsInt("TENANT_DB_MAX_OPEN", 10),
			MaxIdleConns:       getEnvAsInt("TENANT_DB_MAX_IDLE", 5),
			CacheTTL:           getEnvAsInt("RESOLVE_CACHE_TTL", 60),
			RevalidateInterval: getEnvAsInt("SYNC_REVALIDATE_INTERVAL", 0),
			RevalidateWindow:   getEnvAsInt("SYNC_REVALIDATE_WINDOW", 72),
		},
		Admin: AdminConfig{
			KeyHash: getEnv("ADMIN_KEY_HASH", ""),
		},
		CORS: CORSConfig{
			AllowOrigins:     getEnvAsStringArray("CORS_ALLOW_ORIGINS", []string{"*"}),
			AllowMethods:     getEnvAsStringArray("CORS_ALLOW_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"}),
			AllowHeaders:     getEnvAsStringArray("CORS_ALLOW_HEADERS", []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Requested-With", "X-Admin-Key"}),
			ExposeHeaders:    getEnvAsStringArray("CORS_EXPOSE_HEADERS", []string{"Content-Length", "Content-Type"}),
			AllowCredentials: getEnvAsBool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           getEnvAsInt("CORS_MAX_AGE", 12),
		},
	}

	return config, nil
}
