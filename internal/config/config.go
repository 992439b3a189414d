// Package config provides configuration loading, defaults, and validation.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// 数据库驱动常量
const (
	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	CORS      CORSConfig      `mapstructure:"cors" yaml:"cors"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Redis     RedisConfig     `mapstructure:"redis" yaml:"redis"`
	DeepSeek  DeepSeekConfig  `mapstructure:"deepseek" yaml:"deepseek"`
	Pool      PoolConfig      `mapstructure:"pool" yaml:"pool"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
	APIKeyAuth APIKeyAuthCacheConfig `mapstructure:"api_key_auth_cache" yaml:"api_key_auth_cache"`
	Admin     AdminConfig     `mapstructure:"admin" yaml:"admin"`
	Timezone  string          `mapstructure:"timezone" yaml:"timezone"`
}

type ServerConfig struct {
	Host              string `mapstructure:"host" yaml:"host"`
	Port              int    `mapstructure:"port" yaml:"port"`
	Mode              string `mapstructure:"mode" yaml:"mode"` // gin mode: debug/release/test
	ReadHeaderTimeout int    `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	IdleTimeout       int    `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

type LogConfig struct {
	Level           string            `mapstructure:"level" yaml:"level"`
	Format          string            `mapstructure:"format" yaml:"format"`
	ServiceName     string            `mapstructure:"service_name" yaml:"service_name"`
	Environment     string            `mapstructure:"env" yaml:"env"`
	Caller          bool              `mapstructure:"caller" yaml:"caller"`
	StacktraceLevel string            `mapstructure:"stacktrace_level" yaml:"stacktrace_level"`
	Output          LogOutputConfig   `mapstructure:"output" yaml:"output"`
	Rotation        LogRotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

type LogOutputConfig struct {
	ToStdout bool   `mapstructure:"to_stdout" yaml:"to_stdout"`
	ToFile   bool   `mapstructure:"to_file" yaml:"to_file"`
	FilePath string `mapstructure:"file_path" yaml:"file_path"`
}

type LogRotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
	LocalTime  bool `mapstructure:"local_time" yaml:"local_time"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials" yaml:"allow_credentials"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // sqlite 或 postgres
	DSN    string `mapstructure:"dsn" yaml:"dsn"`       // postgres 连接串
	Path   string `mapstructure:"path" yaml:"path"`     // sqlite 文件路径
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

type DeepSeekConfig struct {
	BaseURL            string `mapstructure:"base_url" yaml:"base_url"`
	ProxyURL           string `mapstructure:"proxy_url" yaml:"proxy_url"`
	MaxRetryCount      int    `mapstructure:"max_retry_count" yaml:"max_retry_count"`
	RetryDelayMS       int    `mapstructure:"retry_delay_ms" yaml:"retry_delay_ms"`
	AccessTokenExpires int    `mapstructure:"access_token_expires" yaml:"access_token_expires"` // 秒
	TimeoutSeconds     int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	Impersonate        bool   `mapstructure:"impersonate" yaml:"impersonate"` // 是否模拟 Chrome TLS 指纹
}

type PoolConfig struct {
	SessionTimeout        int `mapstructure:"session_timeout" yaml:"session_timeout"`                 // 秒
	AcquireTimeout        int `mapstructure:"acquire_timeout" yaml:"acquire_timeout"`                 // 秒
	SweepIntervalSeconds  int `mapstructure:"sweep_interval_seconds" yaml:"sweep_interval_seconds"`   // 秒
	LockPruneIntervalSecs int `mapstructure:"lock_prune_interval_secs" yaml:"lock_prune_interval_secs"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

type APIKeyAuthCacheConfig struct {
	L1Size             int  `mapstructure:"l1_size" yaml:"l1_size"`
	L1TTLSeconds       int  `mapstructure:"l1_ttl_seconds" yaml:"l1_ttl_seconds"`
	NegativeTTLSeconds int  `mapstructure:"negative_ttl_seconds" yaml:"negative_ttl_seconds"`
	Singleflight       bool `mapstructure:"singleflight" yaml:"singleflight"`
}

type AdminConfig struct {
	Username        string `mapstructure:"username" yaml:"username"`
	PasswordBcrypt  string `mapstructure:"password_bcrypt" yaml:"password_bcrypt"`
	JWTSecret       string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	TokenTTLMinutes int    `mapstructure:"token_ttl_minutes" yaml:"token_ttl_minutes"`
	TotpSecret      string `mapstructure:"totp_secret" yaml:"totp_secret"` // 为空时关闭二步验证
}

// Address 返回 HTTP 监听地址
func (c *ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *DeepSeekConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c *DeepSeekConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMS) * time.Millisecond
}

func (c *DeepSeekConfig) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenExpires) * time.Second
}

func (c *PoolConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTimeout) * time.Second
}

func (c *PoolConfig) AcquireBudget() time.Duration {
	return time.Duration(c.AcquireTimeout) * time.Second
}

func (c *AdminConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLMinutes) * time.Minute
}

// Load 读取配置文件与环境变量并返回校验后的配置。
// 查找顺序：$DATA_DIR、当前目录、./config、/etc/ds2api。
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	if dataDir := strings.TrimSpace(os.Getenv("DATA_DIR")); dataDir != "" {
		viper.AddConfigPath(dataDir)
	}
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/ds2api")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// 没有配置文件时使用默认值 + 环境变量
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8000)
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("server.read_header_timeout", 30)
	viper.SetDefault("server.idle_timeout", 120)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.service_name", "ds2api")
	viper.SetDefault("log.env", "production")
	viper.SetDefault("log.caller", true)
	viper.SetDefault("log.stacktrace_level", "error")
	viper.SetDefault("log.output.to_stdout", true)
	viper.SetDefault("log.output.to_file", false)
	viper.SetDefault("log.rotation.max_size_mb", 100)
	viper.SetDefault("log.rotation.max_backups", 10)
	viper.SetDefault("log.rotation.max_age_days", 7)
	viper.SetDefault("log.rotation.compress", true)
	viper.SetDefault("log.rotation.local_time", true)

	viper.SetDefault("cors.allowed_origins", []string{"*"})
	viper.SetDefault("cors.allow_credentials", false)

	viper.SetDefault("database.driver", DatabaseDriverSQLite)
	viper.SetDefault("database.path", "./data/ds2api.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "127.0.0.1:6379")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("deepseek.base_url", "https://chat.deepseek.com")
	viper.SetDefault("deepseek.max_retry_count", 3)
	viper.SetDefault("deepseek.retry_delay_ms", 5000)
	viper.SetDefault("deepseek.access_token_expires", 3600)
	viper.SetDefault("deepseek.timeout_seconds", 120)
	viper.SetDefault("deepseek.impersonate", true)

	viper.SetDefault("pool.session_timeout", 3600)
	viper.SetDefault("pool.acquire_timeout", 30)
	viper.SetDefault("pool.sweep_interval_seconds", 300)
	viper.SetDefault("pool.lock_prune_interval_secs", 600)

	viper.SetDefault("rate_limit.enabled", false)
	viper.SetDefault("rate_limit.requests_per_minute", 60)

	viper.SetDefault("api_key_auth_cache.l1_size", 4096)
	viper.SetDefault("api_key_auth_cache.l1_ttl_seconds", 30)
	viper.SetDefault("api_key_auth_cache.negative_ttl_seconds", 5)
	viper.SetDefault("api_key_auth_cache.singleflight", true)

	viper.SetDefault("admin.username", "admin")
	viper.SetDefault("admin.token_ttl_minutes", 720)

	viper.SetDefault("timezone", "UTC")
}

// Validate 校验配置的完整性与取值范围
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}

	switch c.Database.Driver {
	case DatabaseDriverSQLite:
		if strings.TrimSpace(c.Database.Path) == "" {
			return fmt.Errorf("database.path is required for sqlite driver")
		}
	case DatabaseDriverPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database.dsn is required for postgres driver")
		}
	default:
		return fmt.Errorf("unsupported database.driver: %s", c.Database.Driver)
	}

	if !strings.HasPrefix(c.DeepSeek.BaseURL, "http://") && !strings.HasPrefix(c.DeepSeek.BaseURL, "https://") {
		return fmt.Errorf("deepseek.base_url must be an http(s) URL: %s", c.DeepSeek.BaseURL)
	}
	if c.DeepSeek.MaxRetryCount < 0 {
		return fmt.Errorf("deepseek.max_retry_count must be >= 0")
	}
	if c.DeepSeek.AccessTokenExpires <= 0 {
		return fmt.Errorf("deepseek.access_token_expires must be > 0")
	}

	if c.Pool.SessionTimeout <= 0 {
		return fmt.Errorf("pool.session_timeout must be > 0")
	}
	if c.Pool.AcquireTimeout <= 0 {
		return fmt.Errorf("pool.acquire_timeout must be > 0")
	}

	if c.RateLimit.Enabled {
		if !c.Redis.Enabled {
			return fmt.Errorf("rate_limit.enabled requires redis.enabled")
		}
		if c.RateLimit.RequestsPerMinute <= 0 {
			return fmt.Errorf("rate_limit.requests_per_minute must be > 0")
		}
	}

	if strings.TrimSpace(c.Admin.JWTSecret) == "" {
		return fmt.Errorf("admin.jwt_secret is required")
	}
	if strings.TrimSpace(c.Admin.PasswordBcrypt) == "" {
		return fmt.Errorf("admin.password_bcrypt is required")
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// WriteExample 将当前配置序列化为 yaml 写入指定路径，供运维生成配置模板。
func (c *Config) WriteExample(path string) error {
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config example: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write config example: %w", err)
	}
	return nil
}
