package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// DBConfig 数据库配置
type DBConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	Name        string `yaml:"name"`
	AutoMigrate bool   `yaml:"auto_migrate"`
	// SlowQueryMs 慢查询阈值（毫秒），0 表示使用默认值
	SlowQueryMs int `yaml:"slow_query_ms"`
}

// MQConfig RabbitMQ 配置
type MQConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port string `yaml:"port"`
	// HealthPort 仅 worker 使用：/healthz /readyz /metrics
	HealthPort string `yaml:"health_port"`
	// StreamKeepAliveSeconds SSE 心跳间隔
	StreamKeepAliveSeconds int `yaml:"stream_keepalive_seconds"`
}

// StreamKeepAlive returns the SSE ping interval, 25s when unset.
func (s ServerConfig) StreamKeepAlive() time.Duration {
	if s.StreamKeepAliveSeconds <= 0 {
		return 25 * time.Second
	}
	return time.Duration(s.StreamKeepAliveSeconds) * time.Second
}

// EncryptionConfig holds the field encryption secret. PreviousSecrets are only
// used to decrypt values written before a key rotation.
type EncryptionConfig struct {
	Secret          string   `yaml:"secret"`
	PreviousSecrets []string `yaml:"previous_secrets"`
}

// QueueConfig 任务队列配置
type QueueConfig struct {
	Prefix         string `yaml:"prefix"`
	Concurrency    int    `yaml:"concurrency"`
	PollIntervalMs int    `yaml:"poll_interval_ms"`
	LeaseSeconds   int    `yaml:"lease_seconds"`
	Attempts       int    `yaml:"attempts"`
	BackoffMs      int    `yaml:"backoff_ms"`
}

// PollInterval returns the configured poll interval or a 1s default.
func (q QueueConfig) PollInterval() time.Duration {
	if q.PollIntervalMs <= 0 {
		return time.Second
	}
	return time.Duration(q.PollIntervalMs) * time.Millisecond
}

// Lease returns the configured job lease or a 5 minute default.
func (q QueueConfig) Lease() time.Duration {
	if q.LeaseSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(q.LeaseSeconds) * time.Second
}

// PubSubConfig 发布订阅配置，driver: redis | amqp
type PubSubConfig struct {
	Driver string `yaml:"driver"`
}

// PushConfig Expo 推送网关配置
type PushConfig struct {
	Endpoint    string `yaml:"endpoint"`
	AccessToken string `yaml:"access_token"`
	TimeoutMs   int    `yaml:"timeout_ms"`
}

// Timeout returns the per-request push timeout, 5s when unset.
func (p PushConfig) Timeout() time.Duration {
	if p.TimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(p.TimeoutMs) * time.Millisecond
}

// OverrideDBFromEnv 从环境变量覆盖数据库配置
func OverrideDBFromEnv(cfg *DBConfig) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.Name = name
	}
}

// OverrideMQFromEnv 从环境变量覆盖MQ配置
func OverrideMQFromEnv(cfg *MQConfig) {
	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.URL = url
	}
}

// OverrideRedisFromEnv 从环境变量覆盖Redis配置
func OverrideRedisFromEnv(cfg *RedisConfig) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}
}

// OverrideJWTFromEnv 从环境变量覆盖JWT配置
func OverrideJWTFromEnv(cfg *JWTConfig) {
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Secret = secret
	}
}

// OverrideServerFromEnv 从环境变量覆盖服务器配置
func OverrideServerFromEnv(cfg *ServerConfig) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
}

// OverrideEncryptionFromEnv 从环境变量覆盖加密密钥
func OverrideEncryptionFromEnv(cfg *EncryptionConfig) {
	if secret := os.Getenv("ENCRYPTION_KEY"); secret != "" {
		cfg.Secret = secret
	}
	if prev := os.Getenv("ENCRYPTION_PREVIOUS_KEYS"); prev != "" {
		cfg.PreviousSecrets = nil
		for _, s := range strings.Split(prev, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.PreviousSecrets = append(cfg.PreviousSecrets, s)
			}
		}
	}
}

// OverridePubSubFromEnv 从环境变量覆盖 pub/sub driver
func OverridePubSubFromEnv(cfg *PubSubConfig) {
	if driver := os.Getenv("PUBSUB_DRIVER"); driver != "" {
		cfg.Driver = driver
	}
}

// OverridePushFromEnv 从环境变量覆盖推送配置
func OverridePushFromEnv(cfg *PushConfig) {
	if token := os.Getenv("EXPO_ACCESS_TOKEN"); token != "" {
		cfg.AccessToken = token
	}
}
