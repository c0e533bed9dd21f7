package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const base = `
db:
  host: localhost
  port: 5432
encryption:
  secret: "${DUOTIME_TEST_ENC}"
jwt:
  secret: dev-jwt
pubsub:
  driver: redis
notification:
  dedup_ttl_seconds: 60
`

func TestLoadFrom_AppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.yaml"), []byte(base), 0o600))
	t.Setenv("DUOTIME_TEST_ENC", "0123456789abcdef0123456789abcdef")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("PUBSUB_DRIVER", "amqp")

	cfg, err := LoadFrom("local", dir)
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.DB.Host)
	assert.Equal(t, 5432, cfg.DB.Port)
	assert.Equal(t, "amqp", cfg.PubSub.Driver)
	assert.Equal(t, time.Minute, cfg.Notification.DedupTTL())
	assert.Equal(t, 10*time.Minute, cfg.Notification.UnreadCacheTTL())
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := &Config{}
		c.Encryption.Secret = "0123456789abcdef0123456789abcdef"
		c.JWT.Secret = "jwt"
		return c
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "short secret", mutate: func(c *Config) { c.Encryption.Secret = "short" }, errMsg: "encryption.secret"},
		{name: "short previous secret", mutate: func(c *Config) { c.Encryption.PreviousSecrets = []string{"old"} }, errMsg: "previous_secrets[0]"},
		{name: "missing jwt", mutate: func(c *Config) { c.JWT.Secret = "" }, errMsg: "jwt.secret"},
		{name: "bad driver", mutate: func(c *Config) { c.PubSub.Driver = "kafka" }, errMsg: "pubsub.driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}
