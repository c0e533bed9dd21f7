package config

import (
	"errors"
	"fmt"
	"time"

	"duotime/pkg/config"
)

// MinSecretLength is the shortest accepted encryption secret.
const MinSecretLength = 32

// Config is shared by cmd/server and cmd/worker.
type Config struct {
	DB           config.DBConfig         `yaml:"db"`
	Redis        config.RedisConfig      `yaml:"redis"`
	MQ           config.MQConfig         `yaml:"mq"`
	Encryption   config.EncryptionConfig `yaml:"encryption"`
	JWT          config.JWTConfig        `yaml:"jwt"`
	Server       config.ServerConfig     `yaml:"server"`
	Queue        config.QueueConfig      `yaml:"queue"`
	PubSub       config.PubSubConfig     `yaml:"pubsub"`
	Push         config.PushConfig       `yaml:"push"`
	Notification NotificationConfig      `yaml:"notification"`
}

// NotificationConfig 通知相关配置
type NotificationConfig struct {
	// DedupTTLSeconds 任务去重 key 的过期时间
	DedupTTLSeconds int `yaml:"dedup_ttl_seconds"`
	// UnreadCacheTTLSeconds 未读数缓存过期时间
	UnreadCacheTTLSeconds int `yaml:"unread_cache_ttl_seconds"`
}

func (n NotificationConfig) DedupTTL() time.Duration {
	if n.DedupTTLSeconds <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(n.DedupTTLSeconds) * time.Second
}

func (n NotificationConfig) UnreadCacheTTL() time.Duration {
	if n.UnreadCacheTTLSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(n.UnreadCacheTTLSeconds) * time.Second
}

// Load reads config/base.yaml, the CONFIG_ENV overlay and secrets, then
// applies environment overrides.
func Load() (*Config, error) {
	env := config.GetConfigEnv()
	dir := config.GetEnv("CONFIG_DIR", "config")
	return LoadFrom(env, dir)
}

func LoadFrom(env, dir string) (*Config, error) {
	var cfg Config
	if err := config.Decode(env, dir, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 环境变量覆盖（优先级最高）
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideEncryptionFromEnv(&cfg.Encryption)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverridePubSubFromEnv(&cfg.PubSub)
	config.OverridePushFromEnv(&cfg.Push)

	return &cfg, nil
}

// Validate rejects configs a process must not start with.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Encryption.Secret) < MinSecretLength {
		errs = append(errs, fmt.Errorf("encryption.secret must be at least %d characters", MinSecretLength))
	}
	for i, s := range c.Encryption.PreviousSecrets {
		if len(s) < MinSecretLength {
			errs = append(errs, fmt.Errorf("encryption.previous_secrets[%d] must be at least %d characters", i, MinSecretLength))
		}
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	}
	switch c.PubSub.Driver {
	case "", "redis", "amqp":
	default:
		errs = append(errs, fmt.Errorf("unknown pubsub.driver %q", c.PubSub.Driver))
	}
	return errors.Join(errs...)
}
