package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhr/workerauth/internal/hash"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET_KEY", testSecret)
	t.Setenv("OTP_HASH_SECRET", "pepper")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.OTP.Expiry)
	assert.Equal(t, 5, cfg.OTP.MaxAttempts)
	assert.Equal(t, BackendMemory, cfg.OTP.Store)
	assert.Equal(t, HashHMACSHA256, cfg.OTP.HashAlgorithm)
	assert.Equal(t, SMSProviderLog, cfg.SMS.Provider)
	assert.False(t, cfg.OTP.ExposeCode)
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.UsesRedis())
	assert.False(t, cfg.UsesPostgres())
	assert.False(t, cfg.UsesDynamoDB())
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("APP_ENV", "development")
	t.Setenv("OTP_STORE", BackendRedis)
	t.Setenv("OTP_EXPIRY", "2m")
	t.Setenv("OTP_MAX_ATTEMPTS", "3")
	t.Setenv("OTP_EXPOSE_CODE", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, cfg.OTP.Expiry)
	assert.Equal(t, 3, cfg.OTP.MaxAttempts)
	assert.True(t, cfg.OTP.ExposeCode)
	assert.False(t, cfg.IsProduction())
	assert.True(t, cfg.UsesRedis())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSAllowedOrigins)
}

func TestLoadHashAlgorithms(t *testing.T) {
	for _, algorithm := range []string{hash.AlgorithmHMACSHA256, hash.AlgorithmBLAKE2b} {
		t.Run(algorithm, func(t *testing.T) {
			setRequired(t)
			t.Setenv("OTP_HASH_ALGORITHM", algorithm)

			cfg, err := Load()
			require.NoError(t, err)

			_, err = hash.New(cfg.OTP.HashAlgorithm, cfg.OTP.HashSecret)
			assert.NoError(t, err)
		})
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing jwt secret", env: map[string]string{"JWT_SECRET_KEY": ""}},
		{name: "short jwt secret", env: map[string]string{"JWT_SECRET_KEY": "short"}},
		{name: "missing hash secret", env: map[string]string{"OTP_HASH_SECRET": ""}},
		{name: "unknown store", env: map[string]string{"OTP_STORE": "mongo"}},
		{name: "unknown hash", env: map[string]string{"OTP_HASH_ALGORITHM": "md5"}},
		{name: "zero attempts", env: map[string]string{"OTP_MAX_ATTEMPTS": "0"}},
		{name: "expose code in production", env: map[string]string{"OTP_EXPOSE_CODE": "true"}},
		{name: "postgres without dsn", env: map[string]string{"USER_DIRECTORY": BackendPostgres}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			assert.Error(t, err)
		})
	}
}
