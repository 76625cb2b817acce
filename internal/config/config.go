package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"storesync_v1/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "STORESYNC"
	EnvLocal  = "local"
	EnvProd   = "prod"
)

// Config 进程级配置
// 店铺级配置 (字段映射、API 地址、令牌) 存在 store_configs 表，不在这里
type Config struct {
	Env    string
	DB     DBConfig
	Server ServerConfig
	Log    logger.Config
	Auth   AuthConfig
	Sync   SyncConfig
	Cron   CronConfig
}

type DBConfig struct {
	DSN          string
	MaxIdleConns int
	MaxOpenConns int
}

type ServerConfig struct {
	Addr string
}

type AuthConfig struct {
	JWTSecret string
	// TokenKey 加密远端访问令牌的密钥，32 字节原文或 64 位十六进制
	TokenKey string
}

type SyncConfig struct {
	BatchSize         int
	RetryAttempts     int
	RetryDelay        time.Duration
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	Concurrency       int           // 同时处理的店铺数
	TriggerCooldown   time.Duration // 手动触发冷却
	CacheTTL          time.Duration
	// CustomerConsent 订单附带订阅同意状态
	CustomerConsent bool
}

type CronConfig struct {
	Enabled    bool
	Product    string
	Category   string
	Membership string
	Order      string
	Retry      string
}

// Load 读取 .env + 环境变量 (+ 可选配置文件)
// envFile 为空或不存在时忽略
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("加载 .env 失败: %w", err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", EnvLocal)

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_idle_conns", 10)
	v.SetDefault("db.max_open_conns", 100)

	v.SetDefault("server.addr", ":8080")

	d := logger.DefaultConfig()
	v.SetDefault("log.level", d.Level)
	v.SetDefault("log.format", d.Format)
	v.SetDefault("log.output", d.Output)
	v.SetDefault("log.file", d.FilePath)
	v.SetDefault("log.max_size", d.MaxSize)
	v.SetDefault("log.max_backups", d.MaxBackups)
	v.SetDefault("log.max_age", d.MaxAge)
	v.SetDefault("log.compress", d.Compress)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_key", "")

	v.SetDefault("sync.batch_size", 50)
	v.SetDefault("sync.retry_attempts", 3)
	v.SetDefault("sync.retry_delay", time.Second)
	v.SetDefault("sync.request_timeout", 20*time.Second)
	v.SetDefault("sync.requests_per_second", 0)
	v.SetDefault("sync.concurrency", 3)
	v.SetDefault("sync.trigger_cooldown", 5*time.Minute)
	v.SetDefault("sync.cache_ttl", 10*time.Minute)
	v.SetDefault("sync.customer_consent", false)

	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.product", "0 */5 * * * *")
	v.SetDefault("cron.category", "0 */10 * * * *")
	v.SetDefault("cron.membership", "30 */5 * * * *")
	v.SetDefault("cron.order", "0 */2 * * * *")
	v.SetDefault("cron.retry", "0 0 * * * *")
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Env: v.GetString("env"),
		DB: DBConfig{
			DSN:          v.GetString("db.dsn"),
			MaxIdleConns: v.GetInt("db.max_idle_conns"),
			MaxOpenConns: v.GetInt("db.max_open_conns"),
		},
		Server: ServerConfig{Addr: v.GetString("server.addr")},
		Log: logger.Config{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Output:     v.GetString("log.output"),
			FilePath:   v.GetString("log.file"),
			MaxSize:    v.GetInt("log.max_size"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAge:     v.GetInt("log.max_age"),
			Compress:   v.GetBool("log.compress"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("auth.jwt_secret"),
			TokenKey:  v.GetString("auth.token_key"),
		},
		Sync: SyncConfig{
			BatchSize:         v.GetInt("sync.batch_size"),
			RetryAttempts:     v.GetInt("sync.retry_attempts"),
			RetryDelay:        v.GetDuration("sync.retry_delay"),
			RequestTimeout:    v.GetDuration("sync.request_timeout"),
			RequestsPerSecond: v.GetFloat64("sync.requests_per_second"),
			Concurrency:       v.GetInt("sync.concurrency"),
			TriggerCooldown:   v.GetDuration("sync.trigger_cooldown"),
			CacheTTL:          v.GetDuration("sync.cache_ttl"),
			CustomerConsent:   v.GetBool("sync.customer_consent"),
		},
		Cron: CronConfig{
			Enabled:    v.GetBool("cron.enabled"),
			Product:    v.GetString("cron.product"),
			Category:   v.GetString("cron.category"),
			Membership: v.GetString("cron.membership"),
			Order:      v.GetString("cron.order"),
			Retry:      v.GetString("cron.retry"),
		},
	}
	return cfg, cfg.Validate()
}

// Validate 基本校验
func (c *Config) Validate() error {
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size 必须大于 0")
	}
	if c.Sync.RetryAttempts <= 0 {
		return fmt.Errorf("sync.retry_attempts 必须大于 0")
	}
	if c.Sync.Concurrency <= 0 {
		c.Sync.Concurrency = 1
	}
	if c.Env == EnvProd && c.Auth.JWTSecret == "" {
		return fmt.Errorf("生产环境必须配置 auth.jwt_secret")
	}
	return nil
}
