package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
version: "1"
mode: release
database:
  host: db
  user: libris
  dbname: libris
auth:
  jwt_secret: from-yaml
kafka:
  brokers: ["k1:9092"]
reconcile:
  interval: 5m
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, ModeRelease, cfg.Mode)
	assert.Equal(t, 3306, cfg.DB.Port)
	assert.Equal(t, "Asia/Manila", cfg.Library.TimeZone)
	assert.Equal(t, "console", cfg.Mail.Provider)
	assert.Equal(t, "library.audit", cfg.Kafka.AuditTopic)
	assert.Equal(t, 5*time.Minute, cfg.Reconcile.Interval)
	assert.Equal(t, 100, cfg.Reconcile.BatchSize)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, ModeRelease, cfg.Rollbar.Environment)
}

func TestApplyEnv_OverridesSecrets(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	env := map[string]string{
		"LIBRIS_JWT_SECRET":    "from-env",
		"LIBRIS_KAFKA_BROKERS": "a:9092,b:9092",
		"LIBRIS_DB_MIGRATE":    "true",
	}
	cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.DB.Migrate)
}

func TestValidate(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	cfg.Mode = "staging"
	assert.Error(t, cfg.Validate())

	cfg.Mode = ModeDev
	cfg.Mail.Provider = "sendgrid"
	assert.Error(t, cfg.Validate())
}

func TestTLSFiles(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	_, _, ok := cfg.TLSFiles()
	assert.False(t, ok)

	cfg.Certificate = Certs{Cert: "server.crt", Key: "server.key"}
	cert, key, ok := cfg.TLSFiles()
	assert.True(t, ok)
	assert.Equal(t, "config/tls/release/server.crt", cert)
	assert.Equal(t, "config/tls/release/server.key", key)
}
