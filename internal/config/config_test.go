package config

import (
	"testing"
	"time"

	"wisefido-drowsiness/internal/telemetry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	// 验证默认值
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "drowsiness", cfg.Database.Database)
	assert.False(t, cfg.Database.Migrate)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "drowsiness", cfg.Redis.KeyPrefix)
	assert.Equal(t, 2*time.Second, cfg.Redis.Timeout)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)

	assert.Equal(t, 0.15, cfg.Drowsiness.ClosedEyeRatio)
	assert.Equal(t, 0.35, cfg.Drowsiness.MaxOpenRatio)
	assert.Equal(t, 2*time.Second, cfg.Drowsiness.AlertDuration)
	assert.Equal(t, 10*time.Second, cfg.Drowsiness.FlushInterval)
	assert.Equal(t, time.Second, cfg.Drowsiness.SamplingPeriod)
	assert.Equal(t, 3600, cfg.Drowsiness.BufferCapacity)
	assert.Equal(t, telemetry.OverflowDropOldest, cfg.Drowsiness.OverflowPolicy)
	assert.Equal(t, 3, cfg.Drowsiness.FlushAttempts)
	assert.Equal(t, 3, cfg.Drowsiness.FailureAlertThreshold)

	assert.Equal(t, SourceSynthetic, cfg.Source.Mode)
	assert.NotZero(t, cfg.Source.Seed)
	assert.Equal(t, time.Duration(0), cfg.Run.SessionDuration)
	assert.Equal(t, 120*time.Second, cfg.Run.BatchDuration)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("DB_HOST", "test-host")
	t.Setenv("DB_NAME", "test-db")
	t.Setenv("DB_MIGRATE", "true")
	t.Setenv("REDIS_ADDR", "test-redis:6380")
	t.Setenv("DROWSY_ALERT_DURATION", "3s")
	t.Setenv("DROWSY_FLUSH_INTERVAL", "5s")
	t.Setenv("DROWSY_OVERFLOW_POLICY", "halt-sampling")
	t.Setenv("SOURCE_MODE", "mqtt")
	t.Setenv("SOURCE_SEED", "42")
	t.Setenv("DRIVER_BIRTH_DATE", "1985-06-15")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "test-host", cfg.Database.Host)
	assert.Equal(t, "test-db", cfg.Database.Database)
	assert.True(t, cfg.Database.Migrate)
	assert.Equal(t, "test-redis:6380", cfg.Redis.Addr)
	assert.Equal(t, 3*time.Second, cfg.Drowsiness.AlertDuration)
	assert.Equal(t, 5*time.Second, cfg.Drowsiness.FlushInterval)
	assert.Equal(t, telemetry.OverflowHaltSampling, cfg.Drowsiness.OverflowPolicy)
	assert.Equal(t, SourceMQTT, cfg.Source.Mode)
	assert.Equal(t, int64(42), cfg.Source.Seed)
	assert.Equal(t, "debug", cfg.Log.Level)

	birth, err := cfg.BirthDate()
	require.NoError(t, err)
	assert.Equal(t, time.Date(1985, 6, 15, 0, 0, 0, 0, time.UTC), *birth)
}

func TestLoad_InvalidNumber(t *testing.T) {
	t.Setenv("DROWSY_BUFFER_CAPACITY", "lots")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_InvalidSharedBlock(t *testing.T) {
	tests := []struct {
		key string
		val string
	}{
		{"DB_PORT", "postgres"},
		{"DB_MIGRATE", "yes please"},
		{"REDIS_DB", "first"},
		{"MQTT_QOS", "7"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"non-positive flush interval", map[string]string{"DROWSY_FLUSH_INTERVAL": "0s"}},
		{"negative alert duration", map[string]string{"DROWSY_ALERT_DURATION": "-1s"}},
		{"max open below closed", map[string]string{"DROWSY_MAX_OPEN_RATIO": "0.1"}},
		{"unknown policy", map[string]string{"DROWSY_OVERFLOW_POLICY": "drop-newest"}},
		{"unknown source", map[string]string{"SOURCE_MODE": "camera"}},
		{"bad birth date", map[string]string{"DRIVER_BIRTH_DATE": "15/06/1985"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load()
			require.NoError(t, err)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestGetEnv(t *testing.T) {
	assert.Equal(t, "default-value", getEnv("DROWSY_TEST_KEY", "default-value"))

	t.Setenv("DROWSY_TEST_KEY", "test-value")
	assert.Equal(t, "test-value", getEnv("DROWSY_TEST_KEY", "default-value"))
}
